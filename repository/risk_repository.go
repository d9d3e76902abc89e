package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"escrow/database"
	"escrow/models"
	"github.com/jackc/pgx/v5"
)

// RiskRepository implements the RiskRepository interface
type RiskRepository struct {
	q queryable
}

// NewRiskRepository creates a new risk signal repository
func NewRiskRepository(db *database.DB) *RiskRepository {
	return &RiskRepository{q: db.Pool}
}

// newRiskRepositoryWithTx creates a new risk signal repository with a transaction
func newRiskRepositoryWithTx(tx queryable) *RiskRepository {
	return &RiskRepository{q: tx}
}

// Upsert stores the latest signal for an account
func (r *RiskRepository) Upsert(ctx context.Context, signal *models.RiskSignal) error {
	flagsJSON, err := json.Marshal(signal.Flags)
	if err != nil {
		return fmt.Errorf("failed to marshal risk flags: %w", err)
	}

	query := `
		INSERT INTO risk_signals (account_id, risk_level, flags, sar_required, received_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account_id) DO UPDATE
		SET risk_level = EXCLUDED.risk_level,
		    flags = EXCLUDED.flags,
		    sar_required = EXCLUDED.sar_required,
		    received_at = EXCLUDED.received_at
	`

	_, err = r.q.Exec(ctx, query,
		signal.AccountID,
		signal.RiskLevel,
		flagsJSON,
		signal.SARRequired,
		signal.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert risk signal for account %s: %w", signal.AccountID, err)
	}

	return nil
}

// GetLatest returns the latest signal for an account
func (r *RiskRepository) GetLatest(ctx context.Context, accountID string) (*models.RiskSignal, error) {
	query := `
		SELECT account_id, risk_level, flags, sar_required, received_at
		FROM risk_signals
		WHERE account_id = $1
	`

	var signal models.RiskSignal
	var flagsJSON []byte

	err := r.q.QueryRow(ctx, query, accountID).Scan(
		&signal.AccountID,
		&signal.RiskLevel,
		&flagsJSON,
		&signal.SARRequired,
		&signal.ReceivedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get risk signal for account %s: %w", accountID, err)
	}

	if len(flagsJSON) > 0 {
		if err := json.Unmarshal(flagsJSON, &signal.Flags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal risk flags: %w", err)
		}
	}

	return &signal, nil
}
