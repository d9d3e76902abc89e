package repository

import (
	"context"
	"fmt"

	"escrow/database"
	"escrow/models"
	"github.com/jackc/pgx/v5"
)

// ReconciliationRepository implements the ReconciliationRepository interface
type ReconciliationRepository struct {
	q queryable
}

// NewReconciliationRepository creates a new reconciliation repository
func NewReconciliationRepository(db *database.DB) *ReconciliationRepository {
	return &ReconciliationRepository{q: db.Pool}
}

// newReconciliationRepositoryWithTx creates a new reconciliation repository with a transaction
func newReconciliationRepositoryWithTx(tx queryable) *ReconciliationRepository {
	return &ReconciliationRepository{q: tx}
}

// CreateRun records a reconciliation run
func (r *ReconciliationRepository) CreateRun(ctx context.Context, run *models.ReconciliationRun) error {
	query := `
		INSERT INTO reconciliation_runs (account_id, system_balance, external_balance, variance, status, as_of)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, run_at
	`

	err := r.q.QueryRow(ctx, query,
		run.AccountID,
		run.SystemBalance,
		run.ExternalBalance,
		run.Variance,
		run.Status,
		run.AsOf,
	).Scan(&run.ID, &run.RunAt)
	if err != nil {
		return fmt.Errorf("failed to create reconciliation run for account %s: %w", run.AccountID, err)
	}

	return nil
}

// LatestRun returns the run with the newest as_of for the account
func (r *ReconciliationRepository) LatestRun(ctx context.Context, accountID string) (*models.ReconciliationRun, error) {
	query := `
		SELECT id, account_id, system_balance, external_balance, variance, status, as_of, run_at
		FROM reconciliation_runs
		WHERE account_id = $1
		ORDER BY as_of DESC
		LIMIT 1
	`

	var run models.ReconciliationRun
	err := r.q.QueryRow(ctx, query, accountID).Scan(
		&run.ID,
		&run.AccountID,
		&run.SystemBalance,
		&run.ExternalBalance,
		&run.Variance,
		&run.Status,
		&run.AsOf,
		&run.RunAt,
	)

	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest reconciliation run for account %s: %w", accountID, err)
	}

	return &run, nil
}

// CreateDiscrepancy opens a new discrepancy
func (r *ReconciliationRepository) CreateDiscrepancy(ctx context.Context, d *models.Discrepancy) error {
	query := `
		INSERT INTO discrepancies (reconciliation_run_id, account_id, amount, description, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	err := r.q.QueryRow(ctx, query,
		d.ReconciliationRunID,
		d.AccountID,
		d.Amount,
		d.Description,
		d.Status,
	).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create discrepancy for run %d: %w", d.ReconciliationRunID, err)
	}

	return nil
}

// GetDiscrepancy retrieves a discrepancy by id
func (r *ReconciliationRepository) GetDiscrepancy(ctx context.Context, id int64) (*models.Discrepancy, error) {
	query := `
		SELECT id, reconciliation_run_id, account_id, amount, description, status, resolution_note, resolved_at, created_at
		FROM discrepancies
		WHERE id = $1
	`

	var d models.Discrepancy
	err := r.q.QueryRow(ctx, query, id).Scan(
		&d.ID,
		&d.ReconciliationRunID,
		&d.AccountID,
		&d.Amount,
		&d.Description,
		&d.Status,
		&d.ResolutionNote,
		&d.ResolvedAt,
		&d.CreatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get discrepancy %d: %w", id, err)
	}

	return &d, nil
}

// TransitionDiscrepancy moves a discrepancy between states atomically
func (r *ReconciliationRepository) TransitionDiscrepancy(ctx context.Context, id int64, from, to models.DiscrepancyStatus) error {
	query := `
		UPDATE discrepancies
		SET status = $1
		WHERE id = $2 AND status = $3
	`

	result, err := r.q.Exec(ctx, query, to, id, from)
	if err != nil {
		return fmt.Errorf("failed to transition discrepancy %d from %s to %s: %w", id, from, to, err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("discrepancy %d is not %s: %w", id, from, models.ErrInvalidTransition)
	}

	return nil
}

// ResolveDiscrepancy closes a discrepancy from open or pending with a note
func (r *ReconciliationRepository) ResolveDiscrepancy(ctx context.Context, id int64, note string) error {
	query := `
		UPDATE discrepancies
		SET status = 'resolved', resolution_note = $1, resolved_at = NOW()
		WHERE id = $2 AND status IN ('open', 'pending')
	`

	result, err := r.q.Exec(ctx, query, note, id)
	if err != nil {
		return fmt.Errorf("failed to resolve discrepancy %d: %w", id, err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("discrepancy %d is not open or pending: %w", id, models.ErrInvalidTransition)
	}

	return nil
}

// CountBlockingByAccount counts open and pending discrepancies blocking close
func (r *ReconciliationRepository) CountBlockingByAccount(ctx context.Context, accountID string) (int, error) {
	var count int
	query := `
		SELECT COUNT(*)
		FROM discrepancies
		WHERE account_id = $1 AND status IN ('open', 'pending')
	`

	if err := r.q.QueryRow(ctx, query, accountID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count blocking discrepancies for account %s: %w", accountID, err)
	}

	return count, nil
}

// ListDiscrepanciesByRun returns the discrepancies opened by a run
func (r *ReconciliationRepository) ListDiscrepanciesByRun(ctx context.Context, runID int64) ([]*models.Discrepancy, error) {
	query := `
		SELECT id, reconciliation_run_id, account_id, amount, description, status, resolution_note, resolved_at, created_at
		FROM discrepancies
		WHERE reconciliation_run_id = $1
		ORDER BY id
	`

	rows, err := r.q.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list discrepancies for run %d: %w", runID, err)
	}
	defer rows.Close()

	var discrepancies []*models.Discrepancy
	for rows.Next() {
		var d models.Discrepancy
		err := rows.Scan(
			&d.ID,
			&d.ReconciliationRunID,
			&d.AccountID,
			&d.Amount,
			&d.Description,
			&d.Status,
			&d.ResolutionNote,
			&d.ResolvedAt,
			&d.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan discrepancy: %w", err)
		}
		discrepancies = append(discrepancies, &d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate discrepancies: %w", err)
	}

	return discrepancies, nil
}
