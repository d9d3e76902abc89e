package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"escrow/events"
	"escrow/models"
	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
)

type distributionService struct {
	uowFactory  UnitOfWorkFactory
	locks       *AccountLocks
	riskGate    RiskGate
	rail        PayoutRail
	maxRetries  uint64
	retryBase   time.Duration
	execTimeout time.Duration
}

// NewDistributionService creates a new distribution service
func NewDistributionService(uowFactory UnitOfWorkFactory, locks *AccountLocks, riskGate RiskGate, rail PayoutRail, maxRetries uint64, retryBase, execTimeout time.Duration) DistributionService {
	return &distributionService{
		uowFactory:  uowFactory,
		locks:       locks,
		riskGate:    riskGate,
		rail:        rail,
		maxRetries:  maxRetries,
		retryBase:   retryBase,
		execTimeout: execTimeout,
	}
}

// Request creates a pending_approval payout request. The over-commit check
// reserves against balance minus everything already in flight, so concurrent
// requests can never jointly exceed the balance. A denied request leaves no
// distribution row behind, only a denial audit entry.
func (s *distributionService) Request(ctx context.Context, accountID string, amount int64, payeeRef, actorRef, reason string) (*models.DistributionRequest, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("distribution amount must be positive")
	}
	if payeeRef == "" {
		return nil, fmt.Errorf("payee ref cannot be empty")
	}

	unlock := s.locks.Lock(accountID)
	defer unlock()

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	account, err := uow.AccountRepository().GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("account %s: %w", accountID, models.ErrAccountNotFound)
	}
	if account.IsClosed() {
		return nil, fmt.Errorf("account %s: %w", accountID, models.ErrAccountClosed)
	}
	if account.Status == models.AccountStatusFrozen {
		return nil, fmt.Errorf("account %s: %w", accountID, models.ErrAccountFrozen)
	}

	balance, err := uow.LedgerRepository().Balance(ctx, accountID)
	if err != nil {
		return nil, err
	}
	inFlight, err := uow.DistributionRepository().SumInFlight(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if amount > balance-inFlight {
		uow.Rollback()
		err := fmt.Errorf("requested %d exceeds available %d (balance %d, in flight %d): %w",
			amount, balance-inFlight, balance, inFlight, models.ErrInsufficientFunds)
		auditDenied(ctx, s.uowFactory, models.AuditEntityAccount, accountID, "distribution_request_denied", actorRef, err)
		return nil, err
	}

	request := &models.DistributionRequest{
		AccountID: accountID,
		Amount:    amount,
		PayeeRef:  payeeRef,
		Status:    models.DistributionStatusPendingApproval,
		Reason:    reason,
	}
	if err := uow.DistributionRepository().Create(ctx, request); err != nil {
		return nil, err
	}

	err = recordAudit(ctx, uow, &models.AuditEntry{
		EntityType: models.AuditEntityDistribution,
		EntityID:   fmt.Sprintf("%d", request.ID),
		Action:     "distribution_requested",
		ActorRef:   actorRef,
		Detail: map[string]any{
			"account_id": accountID,
			"amount":     amount,
			"payee_ref":  payeeRef,
			"reason":     reason,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.WithFields(log.Fields{
		"distributionID": request.ID,
		"accountID":      accountID,
		"amount":         amount,
	}).Info("Distribution requested")

	return request, nil
}

// Approve transitions pending_approval to approved if the account is active
// and the risk gate permits.
func (s *distributionService) Approve(ctx context.Context, id int64, approverRef string) error {
	request, err := s.getRequest(ctx, id)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(request.AccountID)
	defer unlock()

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	request, err = uow.DistributionRepository().GetByID(ctx, id)
	if err != nil {
		return err
	}
	if request == nil {
		return fmt.Errorf("distribution %d not found", id)
	}
	if request.Status != models.DistributionStatusPendingApproval {
		return fmt.Errorf("distribution %d is %s: %w", id, request.Status, models.ErrInvalidTransition)
	}

	account, err := uow.AccountRepository().GetByID(ctx, request.AccountID)
	if err != nil {
		return err
	}
	if account.IsClosed() {
		return fmt.Errorf("account %s: %w", request.AccountID, models.ErrAccountClosed)
	}
	if account.Status == models.AccountStatusFrozen {
		return fmt.Errorf("account %s: %w", request.AccountID, models.ErrAccountFrozen)
	}

	decision, err := s.riskGate.Evaluate(ctx, request.AccountID)
	if err != nil {
		return fmt.Errorf("failed to evaluate risk gate: %w", err)
	}
	if !decision.Permitted {
		uow.Rollback()
		err := fmt.Errorf("%s: %w", decision.Reason, models.ErrRiskBlocked)
		auditDenied(ctx, s.uowFactory, models.AuditEntityDistribution, fmt.Sprintf("%d", id), "distribution_approve_denied", approverRef, err)
		return err
	}

	if err := uow.DistributionRepository().SetApproved(ctx, id, approverRef); err != nil {
		return err
	}

	err = recordAudit(ctx, uow, &models.AuditEntry{
		EntityType: models.AuditEntityDistribution,
		EntityID:   fmt.Sprintf("%d", id),
		Action:     "distribution_approved",
		ActorRef:   approverRef,
		Detail: map[string]any{
			"account_id": request.AccountID,
			"amount":     request.Amount,
		},
	})
	if err != nil {
		return err
	}

	uow.EventBus().Publish(events.DistributionStateChangeEvent{
		DistributionID: id,
		AccountID:      request.AccountID,
		OldStatus:      models.DistributionStatusPendingApproval,
		NewStatus:      models.DistributionStatusApproved,
		Amount:         request.Amount,
	})

	if err := uow.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Reject rejects a request from pending_approval or approved. An executing
// request can no longer be rejected; its terminal outcome is awaited.
func (s *distributionService) Reject(ctx context.Context, id int64, actorRef, reason string) error {
	request, err := s.getRequest(ctx, id)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(request.AccountID)
	defer unlock()

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	request, err = uow.DistributionRepository().GetByID(ctx, id)
	if err != nil {
		return err
	}
	if request == nil {
		return fmt.Errorf("distribution %d not found", id)
	}
	if !request.CanBeRejected() {
		return fmt.Errorf("distribution %d is %s: %w", id, request.Status, models.ErrInvalidTransition)
	}

	oldStatus := request.Status
	if err := uow.DistributionRepository().TransitionStatus(ctx, id, oldStatus, models.DistributionStatusRejected); err != nil {
		return err
	}

	err = recordAudit(ctx, uow, &models.AuditEntry{
		EntityType: models.AuditEntityDistribution,
		EntityID:   fmt.Sprintf("%d", id),
		Action:     "distribution_rejected",
		ActorRef:   actorRef,
		Detail: map[string]any{
			"account_id": request.AccountID,
			"old_status": oldStatus,
			"reason":     reason,
		},
	})
	if err != nil {
		return err
	}

	uow.EventBus().Publish(events.DistributionStateChangeEvent{
		DistributionID: id,
		AccountID:      request.AccountID,
		OldStatus:      oldStatus,
		NewStatus:      models.DistributionStatusRejected,
		Amount:         request.Amount,
	})

	if err := uow.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Execute drives an approved request through executing to settled or failed.
// The transition to executing commits before the rail is called, and the rail
// call runs with the account lock released, so a slow external rail never
// blocks the account or holds a database transaction open.
func (s *distributionService) Execute(ctx context.Context, id int64) error {
	request, err := s.getRequest(ctx, id)
	if err != nil {
		return err
	}

	// Phase 1: approved -> executing, committed under the account lock.
	if err := s.markExecuting(ctx, request); err != nil {
		return err
	}

	currency, err := s.accountCurrency(ctx, request.AccountID)
	if err != nil {
		return err
	}

	// Phase 2: call the rail, lock released. The idempotency key makes the
	// call safe to repeat if we crash between phases.
	railErr := s.callRail(ctx, request, currency)

	// Phase 3: terminal transition under the lock again.
	if railErr != nil {
		if err := s.markFailed(ctx, request, railErr); err != nil {
			return err
		}
		return fmt.Errorf("payout rail failed for distribution %d: %w", id, railErr)
	}

	return s.markSettled(ctx, request)
}

// FailStaleExecutions fails executing requests whose last update is older
// than the deadline. A crash between the executing commit and the terminal
// commit leaves a request stranded; the sweeper reaps it for manual review.
func (s *distributionService) FailStaleExecutions(ctx context.Context, olderThan time.Duration) (int, error) {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}

	deadline := time.Now().UTC().Add(-olderThan)
	stale, err := uow.DistributionRepository().ListStaleExecuting(ctx, deadline)
	uow.Rollback()
	if err != nil {
		return 0, err
	}

	failed := 0
	for _, request := range stale {
		err := func() error {
			unlock := s.locks.Lock(request.AccountID)
			defer unlock()

			uow := s.uowFactory.Create()
			if err := uow.Begin(ctx); err != nil {
				return fmt.Errorf("failed to begin transaction: %w", err)
			}
			defer uow.Rollback()

			err := uow.DistributionRepository().TransitionStatus(ctx, request.ID, models.DistributionStatusExecuting, models.DistributionStatusFailed)
			if err != nil {
				// Already settled or failed by a racing executor.
				if errors.Is(err, models.ErrInvalidTransition) {
					return nil
				}
				return err
			}

			err = recordAudit(ctx, uow, &models.AuditEntry{
				EntityType: models.AuditEntityDistribution,
				EntityID:   fmt.Sprintf("%d", request.ID),
				Action:     "distribution_failed",
				ActorRef:   models.ActorSweeper,
				Detail: map[string]any{
					"account_id": request.AccountID,
					"cause":      "execution timed out",
				},
			})
			if err != nil {
				return err
			}

			uow.EventBus().Publish(events.DistributionStateChangeEvent{
				DistributionID: request.ID,
				AccountID:      request.AccountID,
				OldStatus:      models.DistributionStatusExecuting,
				NewStatus:      models.DistributionStatusFailed,
				Amount:         request.Amount,
			})

			if err := uow.Commit(); err != nil {
				return fmt.Errorf("failed to commit transaction: %w", err)
			}

			failed++
			log.WithFields(log.Fields{
				"distributionID": request.ID,
				"accountID":      request.AccountID,
			}).Warn("Stale executing distribution failed by sweeper")
			return nil
		}()
		if err != nil {
			return failed, err
		}
	}

	return failed, nil
}

func (s *distributionService) accountCurrency(ctx context.Context, accountID string) (string, error) {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	account, err := uow.AccountRepository().GetByID(ctx, accountID)
	if err != nil {
		return "", err
	}
	if account == nil {
		return "", fmt.Errorf("account %s: %w", accountID, models.ErrAccountNotFound)
	}
	return account.Currency, nil
}

func (s *distributionService) getRequest(ctx context.Context, id int64) (*models.DistributionRequest, error) {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	request, err := uow.DistributionRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if request == nil {
		return nil, fmt.Errorf("distribution %d not found", id)
	}
	return request, nil
}

func (s *distributionService) markExecuting(ctx context.Context, request *models.DistributionRequest) error {
	unlock := s.locks.Lock(request.AccountID)
	defer unlock()

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	err := uow.DistributionRepository().TransitionStatus(ctx, request.ID, models.DistributionStatusApproved, models.DistributionStatusExecuting)
	if err != nil {
		return err
	}

	err = recordAudit(ctx, uow, &models.AuditEntry{
		EntityType: models.AuditEntityDistribution,
		EntityID:   fmt.Sprintf("%d", request.ID),
		Action:     "distribution_executing",
		ActorRef:   models.ActorExecutor,
		Detail: map[string]any{
			"account_id": request.AccountID,
			"amount":     request.Amount,
		},
	})
	if err != nil {
		return err
	}

	uow.EventBus().Publish(events.DistributionStateChangeEvent{
		DistributionID: request.ID,
		AccountID:      request.AccountID,
		OldStatus:      models.DistributionStatusApproved,
		NewStatus:      models.DistributionStatusExecuting,
		Amount:         request.Amount,
	})

	if err := uow.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// callRail invokes the payout rail with exponential backoff. A validation
// rejection (ErrPayoutRejected) is permanent; everything else is retried up
// to the configured limit. Each attempt gets its own timeout and bumps the
// attempt counter in its own small transaction.
func (s *distributionService) callRail(ctx context.Context, request *models.DistributionRequest, currency string) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.retryBase

	operation := func() error {
		attemptUow := s.uowFactory.Create()
		if err := attemptUow.Begin(ctx); err == nil {
			if err := attemptUow.DistributionRepository().IncrementAttempts(ctx, request.ID); err != nil {
				log.WithError(err).WithField("distributionID", request.ID).Warn("Failed to increment attempt counter")
			}
			if err := attemptUow.Commit(); err != nil {
				log.WithError(err).WithField("distributionID", request.ID).Warn("Failed to commit attempt counter")
			}
		}
		attemptUow.Rollback()

		attemptCtx, cancel := context.WithTimeout(ctx, s.execTimeout)
		defer cancel()

		err := s.rail.Execute(attemptCtx, PayoutRequest{
			PayeeRef:       request.PayeeRef,
			Amount:         request.Amount,
			Currency:       currency,
			IdempotencyKey: request.IdempotencyKey(),
		})
		if err != nil {
			if errors.Is(err, models.ErrPayoutRejected) {
				return backoff.Permanent(err)
			}
			log.WithError(err).WithField("distributionID", request.ID).Warn("Payout rail attempt failed, will retry")
			return err
		}
		return nil
	}

	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, s.maxRetries), ctx))
}

func (s *distributionService) markFailed(ctx context.Context, request *models.DistributionRequest, cause error) error {
	unlock := s.locks.Lock(request.AccountID)
	defer unlock()

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	err := uow.DistributionRepository().TransitionStatus(ctx, request.ID, models.DistributionStatusExecuting, models.DistributionStatusFailed)
	if err != nil {
		return err
	}

	err = recordAudit(ctx, uow, &models.AuditEntry{
		EntityType: models.AuditEntityDistribution,
		EntityID:   fmt.Sprintf("%d", request.ID),
		Action:     "distribution_failed",
		ActorRef:   models.ActorExecutor,
		Detail: map[string]any{
			"account_id": request.AccountID,
			"cause":      cause.Error(),
		},
	})
	if err != nil {
		return err
	}

	uow.EventBus().Publish(events.DistributionStateChangeEvent{
		DistributionID: request.ID,
		AccountID:      request.AccountID,
		OldStatus:      models.DistributionStatusExecuting,
		NewStatus:      models.DistributionStatusFailed,
		Amount:         request.Amount,
	})

	if err := uow.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.WithFields(log.Fields{
		"distributionID": request.ID,
		"accountID":      request.AccountID,
	}).Error("Distribution failed")

	return nil
}

// markSettled writes the DISTRIBUTION ledger entry, applies it to the
// balance, and settles the request, all in one transaction. The entry's
// external ref is the idempotency key, so a replayed settlement hits the
// unique constraint instead of double-applying.
func (s *distributionService) markSettled(ctx context.Context, request *models.DistributionRequest) error {
	unlock := s.locks.Lock(request.AccountID)
	defer unlock()

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	account, err := uow.AccountRepository().GetByID(ctx, request.AccountID)
	if err != nil {
		return err
	}
	if account == nil {
		return fmt.Errorf("account %s: %w", request.AccountID, models.ErrAccountNotFound)
	}

	entry := &models.LedgerEntry{
		AccountID:   request.AccountID,
		Amount:      -request.Amount,
		Currency:    account.Currency,
		Kind:        models.EntryKindDistribution,
		ExternalRef: request.IdempotencyKey(),
		Status:      models.EntryStatusSettled,
	}
	if err := uow.LedgerRepository().Append(ctx, entry); err != nil {
		return err
	}

	before, err := uow.LedgerRepository().Balance(ctx, request.AccountID)
	if err != nil {
		return err
	}
	if err := uow.LedgerRepository().ApplyToBalance(ctx, request.AccountID, entry.Amount); err != nil {
		return err
	}

	if err := uow.DistributionRepository().SetSettled(ctx, request.ID, entry.ID); err != nil {
		return err
	}

	if err := recordBalanceChange(ctx, uow, entry, models.ActorExecutor, before, before+entry.Amount); err != nil {
		return err
	}

	err = recordAudit(ctx, uow, &models.AuditEntry{
		EntityType: models.AuditEntityDistribution,
		EntityID:   fmt.Sprintf("%d", request.ID),
		Action:     "distribution_settled",
		ActorRef:   models.ActorExecutor,
		Detail: map[string]any{
			"account_id":      request.AccountID,
			"amount":          request.Amount,
			"ledger_entry_id": entry.ID,
		},
	})
	if err != nil {
		return err
	}

	uow.EventBus().Publish(events.DistributionStateChangeEvent{
		DistributionID: request.ID,
		AccountID:      request.AccountID,
		OldStatus:      models.DistributionStatusExecuting,
		NewStatus:      models.DistributionStatusSettled,
		Amount:         request.Amount,
	})

	if err := uow.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.WithFields(log.Fields{
		"distributionID": request.ID,
		"accountID":      request.AccountID,
		"amount":         request.Amount,
	}).Info("Distribution settled")

	return nil
}
