package service

import (
	"context"
	"fmt"

	"escrow/models"
)

type ledgerService struct {
	uowFactory UnitOfWorkFactory
	locks      *AccountLocks
}

// NewLedgerService creates a new ledger service
func NewLedgerService(uowFactory UnitOfWorkFactory, locks *AccountLocks) LedgerService {
	return &ledgerService{
		uowFactory: uowFactory,
		locks:      locks,
	}
}

// Append is the single write path for all balance changes.
func (s *ledgerService) Append(ctx context.Context, accountID string, e NewEntry) (*models.LedgerEntry, error) {
	// Validate inputs
	if e.Amount == 0 {
		return nil, fmt.Errorf("entry amount must be non-zero")
	}
	if e.ExternalRef == "" {
		return nil, fmt.Errorf("entry external ref cannot be empty")
	}
	switch e.Kind {
	case models.EntryKindContribution, models.EntryKindDistribution, models.EntryKindAdjustment, models.EntryKindReversal:
	default:
		return nil, fmt.Errorf("unknown entry kind %q", e.Kind)
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
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if account == nil {
		return nil, fmt.Errorf("account %s: %w", accountID, models.ErrAccountNotFound)
	}
	if account.IsClosed() {
		return nil, fmt.Errorf("account %s: %w", accountID, models.ErrAccountClosed)
	}
	if e.Currency != account.Currency {
		return nil, fmt.Errorf("entry currency %s does not match account currency %s", e.Currency, account.Currency)
	}

	status := models.EntryStatusPending
	if e.Settled {
		status = models.EntryStatusSettled
	}

	entry := &models.LedgerEntry{
		AccountID:    accountID,
		SubLedgerRef: e.SubLedgerRef,
		Amount:       e.Amount,
		Currency:     e.Currency,
		Kind:         e.Kind,
		ExternalRef:  e.ExternalRef,
		Status:       status,
	}

	if err := uow.LedgerRepository().Append(ctx, entry); err != nil {
		return nil, err
	}

	if e.Settled {
		before, err := uow.LedgerRepository().Balance(ctx, accountID)
		if err != nil {
			return nil, err
		}
		if err := uow.LedgerRepository().ApplyToBalance(ctx, accountID, entry.Amount); err != nil {
			return nil, err
		}
		if err := recordBalanceChange(ctx, uow, entry, e.ActorRef, before, before+entry.Amount); err != nil {
			return nil, err
		}
	} else {
		err := recordAudit(ctx, uow, &models.AuditEntry{
			EntityType: models.AuditEntityLedgerEntry,
			EntityID:   fmt.Sprintf("%d", entry.ID),
			Action:     "entry_appended",
			ActorRef:   e.ActorRef,
			Detail: map[string]any{
				"account_id":   accountID,
				"kind":         entry.Kind,
				"amount":       entry.Amount,
				"external_ref": entry.ExternalRef,
			},
		})
		if err != nil {
			return nil, err
		}
	}

	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return entry, nil
}

// Settle flips a pending entry to settled, applying it to the balance.
func (s *ledgerService) Settle(ctx context.Context, accountID string, entryID int64, actorRef string) (*models.LedgerEntry, error) {
	unlock := s.locks.Lock(accountID)
	defer unlock()

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	account, err := uow.AccountRepository().GetByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if account == nil {
		return nil, fmt.Errorf("account %s: %w", accountID, models.ErrAccountNotFound)
	}
	if account.IsClosed() {
		return nil, fmt.Errorf("account %s: %w", accountID, models.ErrAccountClosed)
	}

	entry, err := uow.LedgerRepository().GetByID(ctx, accountID, entryID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, fmt.Errorf("entry %d on account %s: %w", entryID, accountID, models.ErrEntryNotFound)
	}

	if err := uow.LedgerRepository().MarkSettled(ctx, accountID, entryID); err != nil {
		return nil, err
	}
	entry.Status = models.EntryStatusSettled

	before, err := uow.LedgerRepository().Balance(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if err := uow.LedgerRepository().ApplyToBalance(ctx, accountID, entry.Amount); err != nil {
		return nil, err
	}
	if err := recordBalanceChange(ctx, uow, entry, actorRef, before, before+entry.Amount); err != nil {
		return nil, err
	}

	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return entry, nil
}

// Reverse appends a REVERSAL entry negating a settled entry and marks the
// original reversed. Correction is always by reversal, never by mutation.
func (s *ledgerService) Reverse(ctx context.Context, accountID string, entryID int64, actorRef, reason string) (*models.LedgerEntry, error) {
	if reason == "" {
		return nil, fmt.Errorf("reversal reason cannot be empty")
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
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if account == nil {
		return nil, fmt.Errorf("account %s: %w", accountID, models.ErrAccountNotFound)
	}
	if account.IsClosed() {
		return nil, fmt.Errorf("account %s: %w", accountID, models.ErrAccountClosed)
	}

	original, err := uow.LedgerRepository().GetByID(ctx, accountID, entryID)
	if err != nil {
		return nil, err
	}
	if original == nil {
		return nil, fmt.Errorf("entry %d on account %s: %w", entryID, accountID, models.ErrEntryNotFound)
	}
	if original.Status != models.EntryStatusSettled {
		return nil, fmt.Errorf("entry %d is not settled: %w", entryID, models.ErrInvalidTransition)
	}

	reversal := &models.LedgerEntry{
		AccountID:    accountID,
		SubLedgerRef: original.SubLedgerRef,
		Amount:       -original.Amount,
		Currency:     original.Currency,
		Kind:         models.EntryKindReversal,
		ExternalRef:  fmt.Sprintf("rev-%d", original.ID),
		Status:       models.EntryStatusSettled,
	}
	if err := uow.LedgerRepository().Append(ctx, reversal); err != nil {
		return nil, err
	}

	if err := uow.LedgerRepository().MarkReversed(ctx, accountID, original.ID, reversal.ID); err != nil {
		return nil, err
	}

	before, err := uow.LedgerRepository().Balance(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if err := uow.LedgerRepository().ApplyToBalance(ctx, accountID, reversal.Amount); err != nil {
		return nil, err
	}
	if err := recordBalanceChange(ctx, uow, reversal, actorRef, before, before+reversal.Amount); err != nil {
		return nil, err
	}

	err = recordAudit(ctx, uow, &models.AuditEntry{
		EntityType: models.AuditEntityLedgerEntry,
		EntityID:   fmt.Sprintf("%d", original.ID),
		Action:     "entry_reversed",
		ActorRef:   actorRef,
		Detail: map[string]any{
			"account_id":  accountID,
			"reversal_id": reversal.ID,
			"reason":      reason,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return reversal, nil
}

// Balance returns the derived balance for the account
func (s *ledgerService) Balance(ctx context.Context, accountID string) (int64, error) {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	return uow.LedgerRepository().Balance(ctx, accountID)
}

// EntriesSince pages entries by id cursor
func (s *ledgerService) EntriesSince(ctx context.Context, accountID string, cursor int64, limit int) ([]*models.LedgerEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	return uow.LedgerRepository().EntriesSince(ctx, accountID, cursor, limit)
}
