package service

import (
	"context"
	"fmt"

	"escrow/events"
	"escrow/models"
	log "github.com/sirupsen/logrus"
)

// recordAudit appends an audit entry inside the current unit of work. Every
// mutation in the system goes through here exactly once per mutated entity.
func recordAudit(ctx context.Context, uow UnitOfWork, entry *models.AuditEntry) error {
	if err := uow.AuditRepository().Record(ctx, entry); err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}

// recordBalanceChange audits a settled ledger movement and queues the
// balance change event for emission after commit. This is the single exit
// point for everything that moves an account balance.
func recordBalanceChange(ctx context.Context, uow UnitOfWork, entry *models.LedgerEntry, actorRef string, before, after int64) error {
	err := recordAudit(ctx, uow, &models.AuditEntry{
		EntityType: models.AuditEntityLedgerEntry,
		EntityID:   fmt.Sprintf("%d", entry.ID),
		Action:     "balance_applied",
		ActorRef:   actorRef,
		Detail: map[string]any{
			"account_id":     entry.AccountID,
			"kind":           entry.Kind,
			"amount":         entry.Amount,
			"external_ref":   entry.ExternalRef,
			"balance_before": before,
			"balance_after":  after,
		},
	})
	if err != nil {
		return err
	}

	uow.EventBus().Publish(events.BalanceChangeEvent{
		AccountID:     entry.AccountID,
		EntryID:       entry.ID,
		EntryKind:     entry.Kind,
		ChangeAmount:  entry.Amount,
		BalanceBefore: before,
		BalanceAfter:  after,
	})

	return nil
}

// auditDenied records a failed attempt in its own small transaction, since
// the guarded transaction rolled back. What was attempted is never lost,
// even when the attempt fails. Best effort: a failure here is logged, not
// propagated over the original error.
func auditDenied(ctx context.Context, factory UnitOfWorkFactory, entityType models.AuditEntityType, entityID, action, actorRef string, cause error) {
	uow := factory.Create()
	if err := uow.Begin(ctx); err != nil {
		log.WithError(err).Warn("Failed to begin transaction for denial audit")
		return
	}
	defer uow.Rollback()

	err := uow.AuditRepository().Record(ctx, &models.AuditEntry{
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		ActorRef:   actorRef,
		Detail:     map[string]any{"error": cause.Error()},
	})
	if err != nil {
		log.WithError(err).Warn("Failed to record denial audit entry")
		return
	}

	if err := uow.Commit(); err != nil {
		log.WithError(err).Warn("Failed to commit denial audit entry")
	}
}
