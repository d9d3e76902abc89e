package repository

import (
	"context"
	"fmt"
	"time"

	"escrow/database"
	"escrow/models"
	"github.com/jackc/pgx/v5"
)

// AccountRepository implements the AccountRepository interface
type AccountRepository struct {
	q queryable
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(db *database.DB) *AccountRepository {
	return &AccountRepository{q: db.Pool}
}

// newAccountRepositoryWithTx creates a new account repository with a transaction
func newAccountRepositoryWithTx(tx queryable) *AccountRepository {
	return &AccountRepository{q: tx}
}

// Create creates a new master account together with its zero balance row
func (r *AccountRepository) Create(ctx context.Context, account *models.MasterAccount) error {
	query := `
		INSERT INTO master_accounts (id, type, owner_id, owner_kind, currency, status, risk_level, goal_amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`

	err := r.q.QueryRow(ctx, query,
		account.ID,
		account.Type,
		account.OwnerID,
		account.OwnerKind,
		account.Currency,
		account.Status,
		account.RiskLevel,
		account.GoalAmount,
	).Scan(&account.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create account %s: %w", account.ID, err)
	}

	// Seed the running-total cache in the same transaction
	_, err = r.q.Exec(ctx, `INSERT INTO account_balances (account_id, balance) VALUES ($1, 0)`, account.ID)
	if err != nil {
		return fmt.Errorf("failed to seed balance for account %s: %w", account.ID, err)
	}

	return nil
}

// GetByID retrieves an account by id
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*models.MasterAccount, error) {
	query := `
		SELECT id, type, owner_id, owner_kind, currency, status, risk_level, goal_amount, created_at, closed_at
		FROM master_accounts
		WHERE id = $1
	`

	var account models.MasterAccount
	err := r.q.QueryRow(ctx, query, id).Scan(
		&account.ID,
		&account.Type,
		&account.OwnerID,
		&account.OwnerKind,
		&account.Currency,
		&account.Status,
		&account.RiskLevel,
		&account.GoalAmount,
		&account.CreatedAt,
		&account.ClosedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account %s: %w", id, err)
	}

	return &account, nil
}

// TransitionStatus moves the account from one status to another atomically.
// The WHERE clause on the expected status backs the service-level state
// machine even under concurrent writers.
func (r *AccountRepository) TransitionStatus(ctx context.Context, id string, from, to models.AccountStatus, closedAt *time.Time) error {
	query := `
		UPDATE master_accounts
		SET status = $1, closed_at = COALESCE($2, closed_at)
		WHERE id = $3 AND status = $4
	`

	result, err := r.q.Exec(ctx, query, to, closedAt, id, from)
	if err != nil {
		return fmt.Errorf("failed to transition account %s from %s to %s: %w", id, from, to, err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("account %s is not %s: %w", id, from, models.ErrInvalidTransition)
	}

	return nil
}

// UpdateRiskLevel records the externally supplied risk level
func (r *AccountRepository) UpdateRiskLevel(ctx context.Context, id string, level models.RiskLevel) error {
	result, err := r.q.Exec(ctx, `UPDATE master_accounts SET risk_level = $1 WHERE id = $2`, level, id)
	if err != nil {
		return fmt.Errorf("failed to update risk level for account %s: %w", id, err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("account %s: %w", id, models.ErrAccountNotFound)
	}

	return nil
}
