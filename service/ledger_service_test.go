package service

import (
	"context"
	"testing"

	"escrow/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func newLedgerTestMocks() (*MockUnitOfWork, *MockUnitOfWorkFactory, *MockAccountRepository, *MockLedgerRepository, *MockAuditRepository) {
	mockUoW := new(MockUnitOfWork)
	mockFactory := new(MockUnitOfWorkFactory)
	mockAccountRepo := new(MockAccountRepository)
	mockLedgerRepo := new(MockLedgerRepository)
	mockAuditRepo := new(MockAuditRepository)

	mockUoW.SetRepositories(mockAccountRepo, mockLedgerRepo, nil, nil, nil, mockAuditRepo)
	mockFactory.On("Create").Return(mockUoW)

	return mockUoW, mockFactory, mockAccountRepo, mockLedgerRepo, mockAuditRepo
}

func activeAccount(id string) *models.MasterAccount {
	return &models.MasterAccount{
		ID:        id,
		Type:      models.AccountTypeFundraiser,
		OwnerID:   "owner-1",
		OwnerKind: models.OwnerKindUser,
		Currency:  "KES",
		Status:    models.AccountStatusActive,
		RiskLevel: models.RiskLevelLow,
	}
}

func TestLedgerService_Append_SettledAppliesBalance(t *testing.T) {
	ctx := context.Background()
	mockUoW, mockFactory, mockAccountRepo, mockLedgerRepo, mockAuditRepo := newLedgerTestMocks()

	service := NewLedgerService(mockFactory, NewAccountLocks())

	account := activeAccount("acct-1")

	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Commit").Return(nil)
	mockUoW.On("Rollback").Return(nil)

	mockAccountRepo.On("GetByID", ctx, "acct-1").Return(account, nil)
	mockLedgerRepo.On("Append", ctx, mock.MatchedBy(func(e *models.LedgerEntry) bool {
		return e.AccountID == "acct-1" &&
			e.Amount == 5000 &&
			e.Kind == models.EntryKindContribution &&
			e.ExternalRef == "mpesa-tx-991" &&
			e.Status == models.EntryStatusSettled
	})).Return(nil).Run(func(args mock.Arguments) {
		args.Get(1).(*models.LedgerEntry).ID = 42
	})
	mockLedgerRepo.On("Balance", ctx, "acct-1").Return(int64(5000), nil)
	mockLedgerRepo.On("ApplyToBalance", ctx, "acct-1", int64(5000)).Return(nil)
	mockAuditRepo.On("Record", ctx, mock.MatchedBy(func(a *models.AuditEntry) bool {
		return a.EntityType == models.AuditEntityLedgerEntry &&
			a.EntityID == "42" &&
			a.Action == "balance_applied" &&
			a.ActorRef == "ops:alice"
	})).Return(nil)

	entry, err := service.Append(ctx, "acct-1", NewEntry{
		Amount:      5000,
		Currency:    "KES",
		Kind:        models.EntryKindContribution,
		ExternalRef: "mpesa-tx-991",
		Settled:     true,
		ActorRef:    "ops:alice",
	})

	assert.NoError(t, err)
	assert.Equal(t, int64(42), entry.ID)
	assert.Equal(t, models.EntryStatusSettled, entry.Status)

	mockLedgerRepo.AssertExpectations(t)
	mockAuditRepo.AssertExpectations(t)
}

func TestLedgerService_Append_PendingDoesNotTouchBalance(t *testing.T) {
	ctx := context.Background()
	mockUoW, mockFactory, mockAccountRepo, mockLedgerRepo, mockAuditRepo := newLedgerTestMocks()

	service := NewLedgerService(mockFactory, NewAccountLocks())

	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Commit").Return(nil)
	mockUoW.On("Rollback").Return(nil)

	mockAccountRepo.On("GetByID", ctx, "acct-1").Return(activeAccount("acct-1"), nil)
	mockLedgerRepo.On("Append", ctx, mock.MatchedBy(func(e *models.LedgerEntry) bool {
		return e.Status == models.EntryStatusPending
	})).Return(nil)
	mockAuditRepo.On("Record", ctx, mock.MatchedBy(func(a *models.AuditEntry) bool {
		return a.Action == "entry_appended"
	})).Return(nil)

	_, err := service.Append(ctx, "acct-1", NewEntry{
		Amount:      7000,
		Currency:    "KES",
		Kind:        models.EntryKindContribution,
		ExternalRef: "card-tx-5",
		ActorRef:    "ops:alice",
	})

	assert.NoError(t, err)
	mockLedgerRepo.AssertNotCalled(t, "ApplyToBalance", mock.Anything, mock.Anything, mock.Anything)
}

func TestLedgerService_Append_DuplicateExternalRef(t *testing.T) {
	ctx := context.Background()
	mockUoW, mockFactory, mockAccountRepo, mockLedgerRepo, _ := newLedgerTestMocks()

	service := NewLedgerService(mockFactory, NewAccountLocks())

	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Rollback").Return(nil)

	mockAccountRepo.On("GetByID", ctx, "acct-1").Return(activeAccount("acct-1"), nil)
	mockLedgerRepo.On("Append", ctx, mock.Anything).Return(models.ErrDuplicateExternalRef)

	_, err := service.Append(ctx, "acct-1", NewEntry{
		Amount:      5000,
		Currency:    "KES",
		Kind:        models.EntryKindContribution,
		ExternalRef: "mpesa-tx-991",
		Settled:     true,
		ActorRef:    "ops:alice",
	})

	assert.ErrorIs(t, err, models.ErrDuplicateExternalRef)
	mockUoW.AssertNotCalled(t, "Commit")
}

func TestLedgerService_Append_ClosedAccount(t *testing.T) {
	ctx := context.Background()
	mockUoW, mockFactory, mockAccountRepo, mockLedgerRepo, _ := newLedgerTestMocks()

	service := NewLedgerService(mockFactory, NewAccountLocks())

	closed := activeAccount("acct-1")
	closed.Status = models.AccountStatusClosed

	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Rollback").Return(nil)

	mockAccountRepo.On("GetByID", ctx, "acct-1").Return(closed, nil)

	_, err := service.Append(ctx, "acct-1", NewEntry{
		Amount:      5000,
		Currency:    "KES",
		Kind:        models.EntryKindContribution,
		ExternalRef: "mpesa-tx-991",
		Settled:     true,
		ActorRef:    "ops:alice",
	})

	assert.ErrorIs(t, err, models.ErrAccountClosed)
	mockLedgerRepo.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
}

func TestLedgerService_Append_CurrencyMismatch(t *testing.T) {
	ctx := context.Background()
	mockUoW, mockFactory, mockAccountRepo, mockLedgerRepo, _ := newLedgerTestMocks()

	service := NewLedgerService(mockFactory, NewAccountLocks())

	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Rollback").Return(nil)

	mockAccountRepo.On("GetByID", ctx, "acct-1").Return(activeAccount("acct-1"), nil)

	_, err := service.Append(ctx, "acct-1", NewEntry{
		Amount:      5000,
		Currency:    "USD",
		Kind:        models.EntryKindContribution,
		ExternalRef: "wire-1",
		Settled:     true,
		ActorRef:    "ops:alice",
	})

	assert.Error(t, err)
	mockLedgerRepo.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
}

func TestLedgerService_Reverse_NegatesOriginal(t *testing.T) {
	ctx := context.Background()
	mockUoW, mockFactory, mockAccountRepo, mockLedgerRepo, mockAuditRepo := newLedgerTestMocks()

	service := NewLedgerService(mockFactory, NewAccountLocks())

	original := &models.LedgerEntry{
		ID:          42,
		AccountID:   "acct-1",
		Amount:      5000,
		Currency:    "KES",
		Kind:        models.EntryKindContribution,
		ExternalRef: "mpesa-tx-991",
		Status:      models.EntryStatusSettled,
	}

	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Commit").Return(nil)
	mockUoW.On("Rollback").Return(nil)

	mockAccountRepo.On("GetByID", ctx, "acct-1").Return(activeAccount("acct-1"), nil)
	mockLedgerRepo.On("GetByID", ctx, "acct-1", int64(42)).Return(original, nil)
	mockLedgerRepo.On("Append", ctx, mock.MatchedBy(func(e *models.LedgerEntry) bool {
		return e.Amount == -5000 &&
			e.Kind == models.EntryKindReversal &&
			e.ExternalRef == "rev-42" &&
			e.Status == models.EntryStatusSettled
	})).Return(nil).Run(func(args mock.Arguments) {
		args.Get(1).(*models.LedgerEntry).ID = 43
	})
	mockLedgerRepo.On("MarkReversed", ctx, "acct-1", int64(42), int64(43)).Return(nil)
	mockLedgerRepo.On("Balance", ctx, "acct-1").Return(int64(5000), nil)
	mockLedgerRepo.On("ApplyToBalance", ctx, "acct-1", int64(-5000)).Return(nil)
	mockAuditRepo.On("Record", ctx, mock.Anything).Return(nil)

	reversal, err := service.Reverse(ctx, "acct-1", 42, "ops:alice", "double capture")

	assert.NoError(t, err)
	assert.Equal(t, int64(-5000), reversal.Amount)
	assert.Equal(t, models.EntryKindReversal, reversal.Kind)

	mockLedgerRepo.AssertExpectations(t)
}

func TestLedgerService_Reverse_PendingEntryRejected(t *testing.T) {
	ctx := context.Background()
	mockUoW, mockFactory, mockAccountRepo, mockLedgerRepo, _ := newLedgerTestMocks()

	service := NewLedgerService(mockFactory, NewAccountLocks())

	pending := &models.LedgerEntry{
		ID:        42,
		AccountID: "acct-1",
		Amount:    5000,
		Status:    models.EntryStatusPending,
	}

	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Rollback").Return(nil)

	mockAccountRepo.On("GetByID", ctx, "acct-1").Return(activeAccount("acct-1"), nil)
	mockLedgerRepo.On("GetByID", ctx, "acct-1", int64(42)).Return(pending, nil)

	_, err := service.Reverse(ctx, "acct-1", 42, "ops:alice", "mistake")

	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	mockLedgerRepo.AssertNotCalled(t, "MarkReversed", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
