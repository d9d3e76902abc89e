package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"escrow/database"
	"escrow/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// LedgerRepository implements the LedgerRepository interface
type LedgerRepository struct {
	q queryable
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(db *database.DB) *LedgerRepository {
	return &LedgerRepository{q: db.Pool}
}

// newLedgerRepositoryWithTx creates a new ledger repository with a transaction
func newLedgerRepositoryWithTx(tx queryable) *LedgerRepository {
	return &LedgerRepository{q: tx}
}

// Append inserts a new ledger entry. The unique (account_id, external_ref)
// index makes replays of the same external event fail with
// ErrDuplicateExternalRef instead of double-applying.
func (r *LedgerRepository) Append(ctx context.Context, entry *models.LedgerEntry) error {
	query := `
		INSERT INTO ledger_entries (account_id, sub_ledger_ref, amount, currency, kind, external_ref, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`

	err := r.q.QueryRow(ctx, query,
		entry.AccountID,
		entry.SubLedgerRef,
		entry.Amount,
		entry.Currency,
		entry.Kind,
		entry.ExternalRef,
		entry.Status,
	).Scan(&entry.ID, &entry.CreatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("external ref %q on account %s: %w", entry.ExternalRef, entry.AccountID, models.ErrDuplicateExternalRef)
	}
	if err != nil {
		return fmt.Errorf("failed to append ledger entry for account %s: %w", entry.AccountID, err)
	}

	return nil
}

// GetByID retrieves an entry scoped to an account
func (r *LedgerRepository) GetByID(ctx context.Context, accountID string, id int64) (*models.LedgerEntry, error) {
	query := `
		SELECT id, account_id, sub_ledger_ref, amount, currency, kind, external_ref, status, reversed_by, created_at
		FROM ledger_entries
		WHERE account_id = $1 AND id = $2
	`

	var entry models.LedgerEntry
	err := r.q.QueryRow(ctx, query, accountID, id).Scan(
		&entry.ID,
		&entry.AccountID,
		&entry.SubLedgerRef,
		&entry.Amount,
		&entry.Currency,
		&entry.Kind,
		&entry.ExternalRef,
		&entry.Status,
		&entry.ReversedBy,
		&entry.CreatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entry %d for account %s: %w", id, accountID, err)
	}

	return &entry, nil
}

// MarkSettled flips a pending entry to settled
func (r *LedgerRepository) MarkSettled(ctx context.Context, accountID string, id int64) error {
	query := `
		UPDATE ledger_entries
		SET status = 'settled'
		WHERE account_id = $1 AND id = $2 AND status = 'pending'
	`

	result, err := r.q.Exec(ctx, query, accountID, id)
	if err != nil {
		return fmt.Errorf("failed to settle ledger entry %d: %w", id, err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("ledger entry %d is not pending: %w", id, models.ErrInvalidTransition)
	}

	return nil
}

// MarkReversed flips a settled entry to reversed, recording the reversal
// entry that superseded it. Settled entries are immutable otherwise.
func (r *LedgerRepository) MarkReversed(ctx context.Context, accountID string, id int64, reversalID int64) error {
	query := `
		UPDATE ledger_entries
		SET status = 'reversed', reversed_by = $1
		WHERE account_id = $2 AND id = $3 AND status = 'settled'
	`

	result, err := r.q.Exec(ctx, query, reversalID, accountID, id)
	if err != nil {
		return fmt.Errorf("failed to reverse ledger entry %d: %w", id, err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("ledger entry %d is not settled: %w", id, models.ErrInvalidTransition)
	}

	return nil
}

// Balance reads the running-total cache for the account
func (r *LedgerRepository) Balance(ctx context.Context, accountID string) (int64, error) {
	var balance int64
	err := r.q.QueryRow(ctx, `SELECT balance FROM account_balances WHERE account_id = $1`, accountID).Scan(&balance)

	if err == pgx.ErrNoRows {
		return 0, fmt.Errorf("account %s: %w", accountID, models.ErrAccountNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read balance for account %s: %w", accountID, err)
	}

	return balance, nil
}

// FoldBalance recomputes the balance as a pure fold over settled entries.
// Reversed originals stay in the fold; their settled REVERSAL entries carry
// the negation. Only pending entries are excluded.
func (r *LedgerRepository) FoldBalance(ctx context.Context, accountID string) (int64, error) {
	var balance int64
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM ledger_entries
		WHERE account_id = $1 AND status IN ('settled', 'reversed')
	`

	if err := r.q.QueryRow(ctx, query, accountID).Scan(&balance); err != nil {
		return 0, fmt.Errorf("failed to fold balance for account %s: %w", accountID, err)
	}

	return balance, nil
}

// ApplyToBalance moves the running-total cache by delta. Must run in the
// same transaction as the entry write that caused it.
func (r *LedgerRepository) ApplyToBalance(ctx context.Context, accountID string, delta int64) error {
	query := `
		UPDATE account_balances
		SET balance = balance + $1, updated_at = NOW()
		WHERE account_id = $2
	`

	result, err := r.q.Exec(ctx, query, delta, accountID)
	if err != nil {
		return fmt.Errorf("failed to apply %d to balance of account %s: %w", delta, accountID, err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("account %s: %w", accountID, models.ErrAccountNotFound)
	}

	return nil
}

// EntriesSince returns entries with id > cursor in insertion order
func (r *LedgerRepository) EntriesSince(ctx context.Context, accountID string, cursor int64, limit int) ([]*models.LedgerEntry, error) {
	query := `
		SELECT id, account_id, sub_ledger_ref, amount, currency, kind, external_ref, status, reversed_by, created_at
		FROM ledger_entries
		WHERE account_id = $1 AND id > $2
		ORDER BY id
		LIMIT $3
	`

	rows, err := r.q.Query(ctx, query, accountID, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entries for account %s: %w", accountID, err)
	}
	defer rows.Close()

	var entries []*models.LedgerEntry
	for rows.Next() {
		var entry models.LedgerEntry
		err := rows.Scan(
			&entry.ID,
			&entry.AccountID,
			&entry.SubLedgerRef,
			&entry.Amount,
			&entry.Currency,
			&entry.Kind,
			&entry.ExternalRef,
			&entry.Status,
			&entry.ReversedBy,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ledger entries: %w", err)
	}

	return entries, nil
}

// HasSettledDistributionSince reports whether any settled DISTRIBUTION entry
// exists for the account within the settlement-lag window
func (r *LedgerRepository) HasSettledDistributionSince(ctx context.Context, accountID string, since time.Time) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM ledger_entries
			WHERE account_id = $1 AND kind = 'distribution' AND status = 'settled' AND created_at >= $2
		)
	`

	if err := r.q.QueryRow(ctx, query, accountID, since).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check recent distributions for account %s: %w", accountID, err)
	}

	return exists, nil
}
