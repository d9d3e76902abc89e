package service

import (
	"context"
	"fmt"
	"time"

	"escrow/events"
	"escrow/models"
	log "github.com/sirupsen/logrus"
)

type reconciliationService struct {
	uowFactory      UnitOfWorkFactory
	locks           *AccountLocks
	reviewThreshold int64
	lagWindow       time.Duration
}

// NewReconciliationService creates a new reconciliation service
func NewReconciliationService(uowFactory UnitOfWorkFactory, locks *AccountLocks, reviewThreshold int64, lagWindow time.Duration) ReconciliationService {
	return &reconciliationService{
		uowFactory:      uowFactory,
		locks:           locks,
		reviewThreshold: reviewThreshold,
		lagWindow:       lagWindow,
	}
}

// Run reconciles one settlement snapshot against the derived balance.
// Variance is signed, external minus system. A snapshot older than the
// latest recorded run is rejected so that delayed feed deliveries can never
// rewind reconciliation state.
func (s *reconciliationService) Run(ctx context.Context, snapshot models.SettlementSnapshot) (*models.ReconciliationRun, error) {
	if snapshot.AccountID == "" {
		return nil, fmt.Errorf("snapshot account id cannot be empty")
	}
	if snapshot.AsOf.IsZero() {
		return nil, fmt.Errorf("snapshot as-of timestamp cannot be zero")
	}

	unlock := s.locks.Lock(snapshot.AccountID)
	defer unlock()

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	account, err := uow.AccountRepository().GetByID(ctx, snapshot.AccountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("account %s: %w", snapshot.AccountID, models.ErrAccountNotFound)
	}

	latest, err := uow.ReconciliationRepository().LatestRun(ctx, snapshot.AccountID)
	if err != nil {
		return nil, err
	}
	if latest != nil && !snapshot.AsOf.After(latest.AsOf) {
		log.WithFields(log.Fields{
			"accountID":  snapshot.AccountID,
			"snapshotAt": snapshot.AsOf,
			"latestAt":   latest.AsOf,
		}).Warn("Rejecting out-of-order settlement snapshot")
		return nil, fmt.Errorf("snapshot as of %s is not after latest run as of %s: %w",
			snapshot.AsOf.Format(time.RFC3339), latest.AsOf.Format(time.RFC3339), models.ErrStaleSnapshot)
	}

	systemBalance, err := uow.LedgerRepository().Balance(ctx, snapshot.AccountID)
	if err != nil {
		return nil, err
	}

	variance := snapshot.ExternalBalance - systemBalance

	var status models.ReconciliationStatus
	switch {
	case variance == 0:
		status = models.ReconciliationStatusCleared
	case abs(variance) <= s.reviewThreshold:
		status = models.ReconciliationStatusReview
	default:
		status = models.ReconciliationStatusVariance
	}

	run := &models.ReconciliationRun{
		AccountID:       snapshot.AccountID,
		SystemBalance:   systemBalance,
		ExternalBalance: snapshot.ExternalBalance,
		Variance:        variance,
		Status:          status,
		AsOf:            snapshot.AsOf,
	}
	if err := uow.ReconciliationRepository().CreateRun(ctx, run); err != nil {
		return nil, err
	}

	err = recordAudit(ctx, uow, &models.AuditEntry{
		EntityType: models.AuditEntityReconRun,
		EntityID:   fmt.Sprintf("%d", run.ID),
		Action:     "reconciliation_completed",
		ActorRef:   models.ActorReconciler,
		Detail: map[string]any{
			"account_id":       run.AccountID,
			"system_balance":   run.SystemBalance,
			"external_balance": run.ExternalBalance,
			"variance":         run.Variance,
			"status":           run.Status,
		},
	})
	if err != nil {
		return nil, err
	}

	uow.EventBus().Publish(events.ReconciliationCompletedEvent{
		RunID:     run.ID,
		AccountID: run.AccountID,
		Variance:  run.Variance,
		Status:    run.Status,
	})

	if status == models.ReconciliationStatusVariance {
		description, err := s.describeVariance(ctx, uow, snapshot.AccountID, variance)
		if err != nil {
			return nil, err
		}

		discrepancy := &models.Discrepancy{
			ReconciliationRunID: run.ID,
			AccountID:           run.AccountID,
			Amount:              abs(variance),
			Description:         description,
			Status:              models.DiscrepancyStatusOpen,
		}
		if err := uow.ReconciliationRepository().CreateDiscrepancy(ctx, discrepancy); err != nil {
			return nil, err
		}

		err = recordAudit(ctx, uow, &models.AuditEntry{
			EntityType: models.AuditEntityDiscrepancy,
			EntityID:   fmt.Sprintf("%d", discrepancy.ID),
			Action:     "discrepancy_opened",
			ActorRef:   models.ActorReconciler,
			Detail: map[string]any{
				"account_id":  discrepancy.AccountID,
				"run_id":      run.ID,
				"amount":      discrepancy.Amount,
				"description": discrepancy.Description,
			},
		})
		if err != nil {
			return nil, err
		}

		uow.EventBus().Publish(events.DiscrepancyOpenedEvent{
			DiscrepancyID: discrepancy.ID,
			RunID:         run.ID,
			AccountID:     discrepancy.AccountID,
			Amount:        discrepancy.Amount,
			Description:   discrepancy.Description,
		})

		log.WithFields(log.Fields{
			"accountID":     run.AccountID,
			"runID":         run.ID,
			"discrepancyID": discrepancy.ID,
			"variance":      variance,
		}).Warn("Reconciliation variance, discrepancy opened")
	}

	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return run, nil
}

// MarkPending moves a discrepancy from open to pending
func (s *reconciliationService) MarkPending(ctx context.Context, discrepancyID int64, actorRef string) error {
	return s.transitionDiscrepancy(ctx, discrepancyID, actorRef, "discrepancy_pending",
		[]models.DiscrepancyStatus{models.DiscrepancyStatusOpen}, models.DiscrepancyStatusPending)
}

// Escalate moves a discrepancy from open or pending to escalated
func (s *reconciliationService) Escalate(ctx context.Context, discrepancyID int64, actorRef string) error {
	return s.transitionDiscrepancy(ctx, discrepancyID, actorRef, "discrepancy_escalated",
		[]models.DiscrepancyStatus{models.DiscrepancyStatusOpen, models.DiscrepancyStatusPending}, models.DiscrepancyStatusEscalated)
}

// Resolve closes a discrepancy with a resolution note. A discrepancy is only
// ever closed through here; later clean runs never auto-close it.
func (s *reconciliationService) Resolve(ctx context.Context, discrepancyID int64, actorRef, note string) error {
	if note == "" {
		return fmt.Errorf("resolution note cannot be empty")
	}

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	discrepancy, err := uow.ReconciliationRepository().GetDiscrepancy(ctx, discrepancyID)
	if err != nil {
		return err
	}
	if discrepancy == nil {
		return fmt.Errorf("discrepancy %d not found", discrepancyID)
	}
	if !discrepancy.IsActionable() {
		return fmt.Errorf("discrepancy %d is %s: %w", discrepancyID, discrepancy.Status, models.ErrInvalidTransition)
	}

	if err := uow.ReconciliationRepository().ResolveDiscrepancy(ctx, discrepancyID, note); err != nil {
		return err
	}

	err = recordAudit(ctx, uow, &models.AuditEntry{
		EntityType: models.AuditEntityDiscrepancy,
		EntityID:   fmt.Sprintf("%d", discrepancyID),
		Action:     "discrepancy_resolved",
		ActorRef:   actorRef,
		Detail: map[string]any{
			"account_id":      discrepancy.AccountID,
			"old_status":      discrepancy.Status,
			"resolution_note": note,
		},
	})
	if err != nil {
		return err
	}

	if err := uow.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.WithFields(log.Fields{
		"discrepancyID": discrepancyID,
		"accountID":     discrepancy.AccountID,
		"actor":         actorRef,
	}).Info("Discrepancy resolved")

	return nil
}

// describeVariance classifies a variance for the opened discrepancy. A
// surplus on the external side with a recently settled distribution usually
// means the rail reported funds the settlement feed has not caught up with.
func (s *reconciliationService) describeVariance(ctx context.Context, uow UnitOfWork, accountID string, variance int64) (string, error) {
	if variance > 0 {
		since := time.Now().UTC().Add(-s.lagWindow)
		recent, err := uow.LedgerRepository().HasSettledDistributionSince(ctx, accountID, since)
		if err != nil {
			return "", err
		}
		if recent {
			return "released funds not yet settled", nil
		}
		return "unexplained credit", nil
	}
	return "unexplained debit", nil
}

func (s *reconciliationService) transitionDiscrepancy(ctx context.Context, discrepancyID int64, actorRef, action string, from []models.DiscrepancyStatus, to models.DiscrepancyStatus) error {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	discrepancy, err := uow.ReconciliationRepository().GetDiscrepancy(ctx, discrepancyID)
	if err != nil {
		return err
	}
	if discrepancy == nil {
		return fmt.Errorf("discrepancy %d not found", discrepancyID)
	}

	allowed := false
	for _, status := range from {
		if discrepancy.Status == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("discrepancy %d is %s: %w", discrepancyID, discrepancy.Status, models.ErrInvalidTransition)
	}

	if err := uow.ReconciliationRepository().TransitionDiscrepancy(ctx, discrepancyID, discrepancy.Status, to); err != nil {
		return err
	}

	err = recordAudit(ctx, uow, &models.AuditEntry{
		EntityType: models.AuditEntityDiscrepancy,
		EntityID:   fmt.Sprintf("%d", discrepancyID),
		Action:     action,
		ActorRef:   actorRef,
		Detail: map[string]any{
			"account_id": discrepancy.AccountID,
			"old_status": discrepancy.Status,
			"new_status": to,
		},
	})
	if err != nil {
		return err
	}

	if err := uow.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
