package service

import (
	"context"
	"fmt"
	"time"

	"escrow/events"
	"escrow/models"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

type registryService struct {
	uowFactory UnitOfWorkFactory
	locks      *AccountLocks
	riskGate   RiskGate
}

// NewRegistryService creates a new registry service
func NewRegistryService(uowFactory UnitOfWorkFactory, locks *AccountLocks, riskGate RiskGate) RegistryService {
	return &registryService{
		uowFactory: uowFactory,
		locks:      locks,
		riskGate:   riskGate,
	}
}

// CreateAccount creates a new master account. New accounts always start
// active with LOW risk: a freshly minted id cannot have prior signals.
func (s *registryService) CreateAccount(ctx context.Context, acct NewAccount) (*models.MasterAccount, error) {
	switch acct.Type {
	case models.AccountTypeFundraiser, models.AccountTypeGroup, models.AccountTypeEvent:
	default:
		return nil, fmt.Errorf("unknown account type %q", acct.Type)
	}
	switch acct.OwnerKind {
	case models.OwnerKindUser, models.OwnerKindBusiness, models.OwnerKindOrganization:
	default:
		return nil, fmt.Errorf("unknown owner kind %q", acct.OwnerKind)
	}
	if acct.OwnerID == "" {
		return nil, fmt.Errorf("owner id cannot be empty")
	}
	if acct.Currency == "" {
		return nil, fmt.Errorf("currency cannot be empty")
	}
	if acct.GoalAmount != nil && *acct.GoalAmount <= 0 {
		return nil, fmt.Errorf("goal amount must be positive")
	}

	account := &models.MasterAccount{
		ID:         uuid.NewString(),
		Type:       acct.Type,
		OwnerID:    acct.OwnerID,
		OwnerKind:  acct.OwnerKind,
		Currency:   acct.Currency,
		Status:     models.AccountStatusActive,
		RiskLevel:  models.RiskLevelLow,
		GoalAmount: acct.GoalAmount,
	}

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	if err := uow.AccountRepository().Create(ctx, account); err != nil {
		return nil, err
	}

	err := recordAudit(ctx, uow, &models.AuditEntry{
		EntityType: models.AuditEntityAccount,
		EntityID:   account.ID,
		Action:     "account_created",
		ActorRef:   acct.ActorRef,
		Detail: map[string]any{
			"type":       account.Type,
			"owner_id":   account.OwnerID,
			"owner_kind": account.OwnerKind,
			"currency":   account.Currency,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.WithFields(log.Fields{
		"accountID": account.ID,
		"type":      account.Type,
		"ownerID":   account.OwnerID,
	}).Info("Master account created")

	return account, nil
}

// GetAccount retrieves an account by id
func (s *registryService) GetAccount(ctx context.Context, id string) (*models.MasterAccount, error) {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	account, err := uow.AccountRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("account %s: %w", id, models.ErrAccountNotFound)
	}
	return account, nil
}

// Freeze transitions active to frozen
func (s *registryService) Freeze(ctx context.Context, accountID, actorRef, reason string) error {
	unlock := s.locks.Lock(accountID)
	defer unlock()

	return s.transition(ctx, accountID, models.AccountStatusActive, models.AccountStatusFrozen, actorRef, reason, "account_frozen")
}

// Unfreeze transitions frozen to active, but only if the risk gate permits:
// an account frozen by a blocking signal stays frozen until the signal clears.
func (s *registryService) Unfreeze(ctx context.Context, accountID, actorRef, reason string) error {
	decision, err := s.riskGate.Evaluate(ctx, accountID)
	if err != nil {
		return fmt.Errorf("failed to evaluate risk gate: %w", err)
	}
	if !decision.Permitted {
		err := fmt.Errorf("%s: %w", decision.Reason, models.ErrRiskBlocked)
		auditDenied(ctx, s.uowFactory, models.AuditEntityAccount, accountID, "account_unfreeze_denied", actorRef, err)
		return err
	}

	unlock := s.locks.Lock(accountID)
	defer unlock()

	return s.transition(ctx, accountID, models.AccountStatusFrozen, models.AccountStatusActive, actorRef, reason, "account_unfrozen")
}

// Close transitions active or frozen to closed. An account with in-flight
// distributions or unresolved discrepancies cannot be closed. Closed is
// terminal.
func (s *registryService) Close(ctx context.Context, accountID, actorRef, reason string) error {
	unlock := s.locks.Lock(accountID)
	defer unlock()

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	account, err := uow.AccountRepository().GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if account == nil {
		return fmt.Errorf("account %s: %w", accountID, models.ErrAccountNotFound)
	}
	if account.IsClosed() {
		return fmt.Errorf("account %s: %w", accountID, models.ErrAccountClosed)
	}

	inFlight, err := uow.DistributionRepository().CountInFlight(ctx, accountID)
	if err != nil {
		return err
	}
	blocking, err := uow.ReconciliationRepository().CountBlockingByAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if inFlight > 0 || blocking > 0 {
		uow.Rollback()
		err := fmt.Errorf("account %s has %d in-flight distributions and %d unresolved discrepancies: %w",
			accountID, inFlight, blocking, models.ErrBlockedByOpenObligations)
		auditDenied(ctx, s.uowFactory, models.AuditEntityAccount, accountID, "account_close_denied", actorRef, err)
		return err
	}

	now := time.Now().UTC()
	oldStatus := account.Status
	if err := uow.AccountRepository().TransitionStatus(ctx, accountID, oldStatus, models.AccountStatusClosed, &now); err != nil {
		return err
	}

	err = recordAudit(ctx, uow, &models.AuditEntry{
		EntityType: models.AuditEntityAccount,
		EntityID:   accountID,
		Action:     "account_closed",
		ActorRef:   actorRef,
		Detail: map[string]any{
			"old_status": oldStatus,
			"reason":     reason,
		},
	})
	if err != nil {
		return err
	}

	uow.EventBus().Publish(events.AccountStatusChangeEvent{
		AccountID: accountID,
		OldStatus: oldStatus,
		NewStatus: models.AccountStatusClosed,
		ActorRef:  actorRef,
		Reason:    reason,
	})

	if err := uow.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.WithFields(log.Fields{
		"accountID": accountID,
		"actor":     actorRef,
	}).Info("Master account closed")

	return nil
}

// ApplyRiskSignal stores an externally supplied signal, updates the account's
// risk level, and auto-freezes the account when the signal is blocking.
func (s *registryService) ApplyRiskSignal(ctx context.Context, signal models.RiskSignal) error {
	if signal.AccountID == "" {
		return fmt.Errorf("risk signal account id cannot be empty")
	}
	if signal.ReceivedAt.IsZero() {
		signal.ReceivedAt = time.Now().UTC()
	}

	unlock := s.locks.Lock(signal.AccountID)
	defer unlock()

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	account, err := uow.AccountRepository().GetByID(ctx, signal.AccountID)
	if err != nil {
		return err
	}
	if account == nil {
		return fmt.Errorf("account %s: %w", signal.AccountID, models.ErrAccountNotFound)
	}

	if err := uow.RiskRepository().Upsert(ctx, &signal); err != nil {
		return err
	}

	if err := uow.AccountRepository().UpdateRiskLevel(ctx, signal.AccountID, signal.RiskLevel); err != nil {
		return err
	}

	err = recordAudit(ctx, uow, &models.AuditEntry{
		EntityType: models.AuditEntityAccount,
		EntityID:   signal.AccountID,
		Action:     "risk_signal_applied",
		ActorRef:   models.ActorRiskGate,
		Detail: map[string]any{
			"risk_level":   signal.RiskLevel,
			"flags":        signal.Flags,
			"sar_required": signal.SARRequired,
		},
	})
	if err != nil {
		return err
	}

	// A blocking signal freezes an active account immediately. Frozen and
	// closed accounts are left as they are.
	if signal.Blocking() && account.Status == models.AccountStatusActive {
		if err := uow.AccountRepository().TransitionStatus(ctx, signal.AccountID, models.AccountStatusActive, models.AccountStatusFrozen, nil); err != nil {
			return err
		}

		err = recordAudit(ctx, uow, &models.AuditEntry{
			EntityType: models.AuditEntityAccount,
			EntityID:   signal.AccountID,
			Action:     "account_frozen",
			ActorRef:   models.ActorRiskGate,
			Detail: map[string]any{
				"old_status":   models.AccountStatusActive,
				"risk_level":   signal.RiskLevel,
				"sar_required": signal.SARRequired,
			},
		})
		if err != nil {
			return err
		}

		uow.EventBus().Publish(events.AccountStatusChangeEvent{
			AccountID: signal.AccountID,
			OldStatus: models.AccountStatusActive,
			NewStatus: models.AccountStatusFrozen,
			ActorRef:  models.ActorRiskGate,
			Reason:    "blocking risk signal",
		})

		log.WithFields(log.Fields{
			"accountID":   signal.AccountID,
			"riskLevel":   signal.RiskLevel,
			"sarRequired": signal.SARRequired,
		}).Warn("Account auto-frozen by blocking risk signal")
	}

	if err := uow.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// transition performs a guarded status change with its audit entry and event.
// Caller holds the account lock.
func (s *registryService) transition(ctx context.Context, accountID string, from, to models.AccountStatus, actorRef, reason, action string) error {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	account, err := uow.AccountRepository().GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if account == nil {
		return fmt.Errorf("account %s: %w", accountID, models.ErrAccountNotFound)
	}
	if account.IsClosed() {
		return fmt.Errorf("account %s: %w", accountID, models.ErrAccountClosed)
	}
	if account.Status != from {
		return fmt.Errorf("account %s is %s, not %s: %w", accountID, account.Status, from, models.ErrInvalidTransition)
	}

	if err := uow.AccountRepository().TransitionStatus(ctx, accountID, from, to, nil); err != nil {
		return err
	}

	err = recordAudit(ctx, uow, &models.AuditEntry{
		EntityType: models.AuditEntityAccount,
		EntityID:   accountID,
		Action:     action,
		ActorRef:   actorRef,
		Detail: map[string]any{
			"old_status": from,
			"new_status": to,
			"reason":     reason,
		},
	})
	if err != nil {
		return err
	}

	uow.EventBus().Publish(events.AccountStatusChangeEvent{
		AccountID: accountID,
		OldStatus: from,
		NewStatus: to,
		ActorRef:  actorRef,
		Reason:    reason,
	})

	if err := uow.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
