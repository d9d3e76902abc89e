package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"escrow/database"
	"escrow/models"
)

// AuditRepository implements the AuditRepository interface
type AuditRepository struct {
	q queryable
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *database.DB) *AuditRepository {
	return &AuditRepository{q: db.Pool}
}

// newAuditRepositoryWithTx creates a new audit repository with a transaction
func newAuditRepositoryWithTx(tx queryable) *AuditRepository {
	return &AuditRepository{q: tx}
}

// Record appends an audit entry
func (r *AuditRepository) Record(ctx context.Context, entry *models.AuditEntry) error {
	detailJSON, err := json.Marshal(entry.Detail)
	if err != nil {
		return fmt.Errorf("failed to marshal audit detail: %w", err)
	}

	query := `
		INSERT INTO audit_entries (entity_type, entity_id, action, actor_ref, detail)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	err = r.q.QueryRow(ctx, query,
		entry.EntityType,
		entry.EntityID,
		entry.Action,
		entry.ActorRef,
		detailJSON,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record audit entry for %s %s: %w", entry.EntityType, entry.EntityID, err)
	}

	return nil
}

// ListByEntity returns all entries for an entity in causal (insertion) order
func (r *AuditRepository) ListByEntity(ctx context.Context, entityType models.AuditEntityType, entityID string) ([]*models.AuditEntry, error) {
	query := `
		SELECT id, entity_type, entity_id, action, actor_ref, detail, created_at
		FROM audit_entries
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY id
	`

	rows, err := r.q.Query(ctx, query, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries for %s %s: %w", entityType, entityID, err)
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		var entry models.AuditEntry
		var detailJSON []byte

		err := rows.Scan(
			&entry.ID,
			&entry.EntityType,
			&entry.EntityID,
			&entry.Action,
			&entry.ActorRef,
			&detailJSON,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}

		if len(detailJSON) > 0 {
			if err := json.Unmarshal(detailJSON, &entry.Detail); err != nil {
				return nil, fmt.Errorf("failed to unmarshal audit detail: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit entries: %w", err)
	}

	return entries, nil
}
