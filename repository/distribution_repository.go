package repository

import (
	"context"
	"fmt"
	"time"

	"escrow/database"
	"escrow/models"
	"github.com/jackc/pgx/v5"
)

// DistributionRepository implements the DistributionRepository interface
type DistributionRepository struct {
	q queryable
}

// NewDistributionRepository creates a new distribution repository
func NewDistributionRepository(db *database.DB) *DistributionRepository {
	return &DistributionRepository{q: db.Pool}
}

// newDistributionRepositoryWithTx creates a new distribution repository with a transaction
func newDistributionRepositoryWithTx(tx queryable) *DistributionRepository {
	return &DistributionRepository{q: tx}
}

// Create creates a new distribution request
func (r *DistributionRepository) Create(ctx context.Context, d *models.DistributionRequest) error {
	query := `
		INSERT INTO distribution_requests (account_id, amount, payee_ref, status, reason)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, requested_at, updated_at
	`

	err := r.q.QueryRow(ctx, query,
		d.AccountID,
		d.Amount,
		d.PayeeRef,
		d.Status,
		d.Reason,
	).Scan(&d.ID, &d.RequestedAt, &d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create distribution request for account %s: %w", d.AccountID, err)
	}

	return nil
}

// GetByID retrieves a distribution request by id
func (r *DistributionRepository) GetByID(ctx context.Context, id int64) (*models.DistributionRequest, error) {
	query := `
		SELECT id, account_id, amount, payee_ref, status, reason, approved_by, attempts, ledger_entry_id, requested_at, updated_at
		FROM distribution_requests
		WHERE id = $1
	`

	var d models.DistributionRequest
	err := r.q.QueryRow(ctx, query, id).Scan(
		&d.ID,
		&d.AccountID,
		&d.Amount,
		&d.PayeeRef,
		&d.Status,
		&d.Reason,
		&d.ApprovedBy,
		&d.Attempts,
		&d.LedgerEntryID,
		&d.RequestedAt,
		&d.UpdatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get distribution request %d: %w", id, err)
	}

	return &d, nil
}

// TransitionStatus moves the request between states atomically
func (r *DistributionRepository) TransitionStatus(ctx context.Context, id int64, from, to models.DistributionStatus) error {
	query := `
		UPDATE distribution_requests
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`

	result, err := r.q.Exec(ctx, query, to, id, from)
	if err != nil {
		return fmt.Errorf("failed to transition distribution %d from %s to %s: %w", id, from, to, err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("distribution %d is not %s: %w", id, from, models.ErrInvalidTransition)
	}

	return nil
}

// SetApproved transitions pending_approval to approved and records the approver
func (r *DistributionRepository) SetApproved(ctx context.Context, id int64, approverRef string) error {
	query := `
		UPDATE distribution_requests
		SET status = 'approved', approved_by = $1, updated_at = NOW()
		WHERE id = $2 AND status = 'pending_approval'
	`

	result, err := r.q.Exec(ctx, query, approverRef, id)
	if err != nil {
		return fmt.Errorf("failed to approve distribution %d: %w", id, err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("distribution %d is not pending approval: %w", id, models.ErrInvalidTransition)
	}

	return nil
}

// SetSettled transitions executing to settled and links the DISTRIBUTION
// ledger entry written in the same transaction
func (r *DistributionRepository) SetSettled(ctx context.Context, id int64, ledgerEntryID int64) error {
	query := `
		UPDATE distribution_requests
		SET status = 'settled', ledger_entry_id = $1, updated_at = NOW()
		WHERE id = $2 AND status = 'executing'
	`

	result, err := r.q.Exec(ctx, query, ledgerEntryID, id)
	if err != nil {
		return fmt.Errorf("failed to settle distribution %d: %w", id, err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("distribution %d is not executing: %w", id, models.ErrInvalidTransition)
	}

	return nil
}

// IncrementAttempts bumps the execution attempt counter
func (r *DistributionRepository) IncrementAttempts(ctx context.Context, id int64) error {
	_, err := r.q.Exec(ctx, `UPDATE distribution_requests SET attempts = attempts + 1, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to increment attempts for distribution %d: %w", id, err)
	}
	return nil
}

// SumInFlight returns the total amount of pending_approval, approved and
// executing requests for the account. This is the reserved portion of the
// balance for the over-commit check.
func (r *DistributionRepository) SumInFlight(ctx context.Context, accountID string) (int64, error) {
	var sum int64
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM distribution_requests
		WHERE account_id = $1 AND status IN ('pending_approval', 'approved', 'executing')
	`

	if err := r.q.QueryRow(ctx, query, accountID).Scan(&sum); err != nil {
		return 0, fmt.Errorf("failed to sum in-flight distributions for account %s: %w", accountID, err)
	}

	return sum, nil
}

// CountInFlight returns the number of in-flight requests for the account
func (r *DistributionRepository) CountInFlight(ctx context.Context, accountID string) (int, error) {
	var count int
	query := `
		SELECT COUNT(*)
		FROM distribution_requests
		WHERE account_id = $1 AND status IN ('pending_approval', 'approved', 'executing')
	`

	if err := r.q.QueryRow(ctx, query, accountID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count in-flight distributions for account %s: %w", accountID, err)
	}

	return count, nil
}

// ListByAccountAndStatus returns requests for an account in a given state
func (r *DistributionRepository) ListByAccountAndStatus(ctx context.Context, accountID string, status models.DistributionStatus) ([]*models.DistributionRequest, error) {
	query := `
		SELECT id, account_id, amount, payee_ref, status, reason, approved_by, attempts, ledger_entry_id, requested_at, updated_at
		FROM distribution_requests
		WHERE account_id = $1 AND status = $2
		ORDER BY requested_at
	`

	rows, err := r.q.Query(ctx, query, accountID, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list distributions for account %s: %w", accountID, err)
	}
	defer rows.Close()

	return scanDistributions(rows)
}

// ListStaleExecuting returns executing requests last updated before the deadline
func (r *DistributionRepository) ListStaleExecuting(ctx context.Context, olderThan time.Time) ([]*models.DistributionRequest, error) {
	query := `
		SELECT id, account_id, amount, payee_ref, status, reason, approved_by, attempts, ledger_entry_id, requested_at, updated_at
		FROM distribution_requests
		WHERE status = 'executing' AND updated_at < $1
		ORDER BY updated_at
	`

	rows, err := r.q.Query(ctx, query, olderThan)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale executing distributions: %w", err)
	}
	defer rows.Close()

	return scanDistributions(rows)
}

func scanDistributions(rows pgx.Rows) ([]*models.DistributionRequest, error) {
	var requests []*models.DistributionRequest
	for rows.Next() {
		var d models.DistributionRequest
		err := rows.Scan(
			&d.ID,
			&d.AccountID,
			&d.Amount,
			&d.PayeeRef,
			&d.Status,
			&d.Reason,
			&d.ApprovedBy,
			&d.Attempts,
			&d.LedgerEntryID,
			&d.RequestedAt,
			&d.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan distribution request: %w", err)
		}
		requests = append(requests, &d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate distribution requests: %w", err)
	}

	return requests, nil
}
