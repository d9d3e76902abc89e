package service

import (
	"context"
	"testing"
	"time"

	"escrow/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func newRegistryTestMocks() (*MockUnitOfWork, *MockUnitOfWorkFactory, *MockAccountRepository, *MockDistributionRepository, *MockReconciliationRepository, *MockRiskRepository, *MockAuditRepository) {
	mockUoW := new(MockUnitOfWork)
	mockFactory := new(MockUnitOfWorkFactory)
	mockAccountRepo := new(MockAccountRepository)
	mockDistributionRepo := new(MockDistributionRepository)
	mockReconRepo := new(MockReconciliationRepository)
	mockRiskRepo := new(MockRiskRepository)
	mockAuditRepo := new(MockAuditRepository)

	mockUoW.SetRepositories(mockAccountRepo, nil, mockDistributionRepo, mockReconRepo, mockRiskRepo, mockAuditRepo)
	mockFactory.On("Create").Return(mockUoW)

	return mockUoW, mockFactory, mockAccountRepo, mockDistributionRepo, mockReconRepo, mockRiskRepo, mockAuditRepo
}

func permissiveGate() *MockRiskGate {
	gate := new(MockRiskGate)
	gate.On("Evaluate", mock.Anything, mock.Anything).Return(models.RiskDecision{Permitted: true}, nil)
	return gate
}

func TestRegistryService_CreateAccount_StartsActive(t *testing.T) {
	ctx := context.Background()
	mockUoW, mockFactory, mockAccountRepo, _, _, _, mockAuditRepo := newRegistryTestMocks()

	service := NewRegistryService(mockFactory, NewAccountLocks(), permissiveGate())

	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Commit").Return(nil)
	mockUoW.On("Rollback").Return(nil)

	mockAccountRepo.On("Create", ctx, mock.MatchedBy(func(a *models.MasterAccount) bool {
		return a.ID != "" &&
			a.Status == models.AccountStatusActive &&
			a.RiskLevel == models.RiskLevelLow &&
			a.Currency == "KES"
	})).Return(nil)
	mockAuditRepo.On("Record", ctx, mock.MatchedBy(func(a *models.AuditEntry) bool {
		return a.EntityType == models.AuditEntityAccount && a.Action == "account_created"
	})).Return(nil)

	account, err := service.CreateAccount(ctx, NewAccount{
		Type:      models.AccountTypeFundraiser,
		OwnerID:   "owner-1",
		OwnerKind: models.OwnerKindUser,
		Currency:  "KES",
		ActorRef:  "ops:alice",
	})

	assert.NoError(t, err)
	assert.Equal(t, models.AccountStatusActive, account.Status)

	mockAccountRepo.AssertExpectations(t)
	mockAuditRepo.AssertExpectations(t)
}

func TestRegistryService_ApplyRiskSignal_HighRiskAutoFreezes(t *testing.T) {
	ctx := context.Background()
	mockUoW, mockFactory, mockAccountRepo, _, _, mockRiskRepo, mockAuditRepo := newRegistryTestMocks()

	service := NewRegistryService(mockFactory, NewAccountLocks(), permissiveGate())

	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Commit").Return(nil)
	mockUoW.On("Rollback").Return(nil)

	mockAccountRepo.On("GetByID", ctx, "acct-1").Return(activeAccount("acct-1"), nil)
	mockRiskRepo.On("Upsert", ctx, mock.Anything).Return(nil)
	mockAccountRepo.On("UpdateRiskLevel", ctx, "acct-1", models.RiskLevelHigh).Return(nil)
	mockAccountRepo.On("TransitionStatus", ctx, "acct-1", models.AccountStatusActive, models.AccountStatusFrozen, (*time.Time)(nil)).Return(nil)

	// Both the signal application and the freeze are audited, with the
	// freeze attributed to the risk gate actor.
	mockAuditRepo.On("Record", ctx, mock.MatchedBy(func(a *models.AuditEntry) bool {
		return a.Action == "risk_signal_applied" && a.ActorRef == models.ActorRiskGate
	})).Return(nil)
	mockAuditRepo.On("Record", ctx, mock.MatchedBy(func(a *models.AuditEntry) bool {
		return a.Action == "account_frozen" && a.ActorRef == models.ActorRiskGate
	})).Return(nil)

	err := service.ApplyRiskSignal(ctx, models.RiskSignal{
		AccountID: "acct-1",
		RiskLevel: models.RiskLevelHigh,
	})

	assert.NoError(t, err)
	mockAccountRepo.AssertExpectations(t)
	mockAuditRepo.AssertExpectations(t)
}

func TestRegistryService_ApplyRiskSignal_SARFreezesEvenAtMediumLevel(t *testing.T) {
	ctx := context.Background()
	mockUoW, mockFactory, mockAccountRepo, _, _, mockRiskRepo, mockAuditRepo := newRegistryTestMocks()

	service := NewRegistryService(mockFactory, NewAccountLocks(), permissiveGate())

	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Commit").Return(nil)
	mockUoW.On("Rollback").Return(nil)

	mockAccountRepo.On("GetByID", ctx, "acct-1").Return(activeAccount("acct-1"), nil)
	mockRiskRepo.On("Upsert", ctx, mock.Anything).Return(nil)
	mockAccountRepo.On("UpdateRiskLevel", ctx, "acct-1", models.RiskLevelMedium).Return(nil)
	mockAccountRepo.On("TransitionStatus", ctx, "acct-1", models.AccountStatusActive, models.AccountStatusFrozen, (*time.Time)(nil)).Return(nil)
	mockAuditRepo.On("Record", ctx, mock.Anything).Return(nil)

	err := service.ApplyRiskSignal(ctx, models.RiskSignal{
		AccountID:   "acct-1",
		RiskLevel:   models.RiskLevelMedium,
		SARRequired: true,
	})

	assert.NoError(t, err)
	mockAccountRepo.AssertExpectations(t)
}

func TestRegistryService_ApplyRiskSignal_LowRiskDoesNotFreeze(t *testing.T) {
	ctx := context.Background()
	mockUoW, mockFactory, mockAccountRepo, _, _, mockRiskRepo, mockAuditRepo := newRegistryTestMocks()

	service := NewRegistryService(mockFactory, NewAccountLocks(), permissiveGate())

	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Commit").Return(nil)
	mockUoW.On("Rollback").Return(nil)

	mockAccountRepo.On("GetByID", ctx, "acct-1").Return(activeAccount("acct-1"), nil)
	mockRiskRepo.On("Upsert", ctx, mock.Anything).Return(nil)
	mockAccountRepo.On("UpdateRiskLevel", ctx, "acct-1", models.RiskLevelLow).Return(nil)
	mockAuditRepo.On("Record", ctx, mock.Anything).Return(nil)

	err := service.ApplyRiskSignal(ctx, models.RiskSignal{
		AccountID: "acct-1",
		RiskLevel: models.RiskLevelLow,
	})

	assert.NoError(t, err)
	mockAccountRepo.AssertNotCalled(t, "TransitionStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRegistryService_Close_BlockedByOpenDiscrepancy(t *testing.T) {
	ctx := context.Background()
	mockUoW, mockFactory, mockAccountRepo, mockDistributionRepo, mockReconRepo, _, mockAuditRepo := newRegistryTestMocks()

	service := NewRegistryService(mockFactory, NewAccountLocks(), permissiveGate())

	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Commit").Return(nil)
	mockUoW.On("Rollback").Return(nil)

	mockAccountRepo.On("GetByID", ctx, "acct-1").Return(activeAccount("acct-1"), nil)
	mockDistributionRepo.On("CountInFlight", ctx, "acct-1").Return(0, nil)
	mockReconRepo.On("CountBlockingByAccount", ctx, "acct-1").Return(1, nil)

	// Denied attempt is still audited, in its own transaction
	mockAuditRepo.On("Record", ctx, mock.MatchedBy(func(a *models.AuditEntry) bool {
		return a.Action == "account_close_denied"
	})).Return(nil)

	err := service.Close(ctx, "acct-1", "ops:alice", "fundraiser finished")

	assert.ErrorIs(t, err, models.ErrBlockedByOpenObligations)
	mockAccountRepo.AssertNotCalled(t, "TransitionStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	mockAuditRepo.AssertExpectations(t)
}

func TestRegistryService_Close_SucceedsWhenObligationsClear(t *testing.T) {
	ctx := context.Background()
	mockUoW, mockFactory, mockAccountRepo, mockDistributionRepo, mockReconRepo, _, mockAuditRepo := newRegistryTestMocks()

	service := NewRegistryService(mockFactory, NewAccountLocks(), permissiveGate())

	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Commit").Return(nil)
	mockUoW.On("Rollback").Return(nil)

	mockAccountRepo.On("GetByID", ctx, "acct-1").Return(activeAccount("acct-1"), nil)
	mockDistributionRepo.On("CountInFlight", ctx, "acct-1").Return(0, nil)
	mockReconRepo.On("CountBlockingByAccount", ctx, "acct-1").Return(0, nil)
	mockAccountRepo.On("TransitionStatus", ctx, "acct-1", models.AccountStatusActive, models.AccountStatusClosed, mock.AnythingOfType("*time.Time")).Return(nil)
	mockAuditRepo.On("Record", ctx, mock.MatchedBy(func(a *models.AuditEntry) bool {
		return a.Action == "account_closed"
	})).Return(nil)

	err := service.Close(ctx, "acct-1", "ops:alice", "fundraiser finished")

	assert.NoError(t, err)
	mockAccountRepo.AssertExpectations(t)
}

func TestRegistryService_Close_ClosedIsTerminal(t *testing.T) {
	ctx := context.Background()
	mockUoW, mockFactory, mockAccountRepo, _, _, _, _ := newRegistryTestMocks()

	service := NewRegistryService(mockFactory, NewAccountLocks(), permissiveGate())

	closed := activeAccount("acct-1")
	closed.Status = models.AccountStatusClosed

	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Rollback").Return(nil)

	mockAccountRepo.On("GetByID", ctx, "acct-1").Return(closed, nil)

	err := service.Close(ctx, "acct-1", "ops:alice", "again")
	assert.ErrorIs(t, err, models.ErrAccountClosed)

	err = service.Freeze(ctx, "acct-1", "ops:alice", "try freeze")
	assert.ErrorIs(t, err, models.ErrAccountClosed)
}

func TestRegistryService_Unfreeze_BlockedByRiskGate(t *testing.T) {
	ctx := context.Background()
	mockUoW, mockFactory, mockAccountRepo, _, _, _, mockAuditRepo := newRegistryTestMocks()

	gate := new(MockRiskGate)
	gate.On("Evaluate", mock.Anything, "acct-1").Return(models.RiskDecision{Permitted: false, Reason: "risk level high"}, nil)

	service := NewRegistryService(mockFactory, NewAccountLocks(), gate)

	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Commit").Return(nil)
	mockUoW.On("Rollback").Return(nil)

	mockAuditRepo.On("Record", ctx, mock.MatchedBy(func(a *models.AuditEntry) bool {
		return a.Action == "account_unfreeze_denied"
	})).Return(nil)

	err := service.Unfreeze(ctx, "acct-1", "ops:alice", "owner request")

	assert.ErrorIs(t, err, models.ErrRiskBlocked)
	mockAccountRepo.AssertNotCalled(t, "TransitionStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	mockAuditRepo.AssertExpectations(t)
}

func TestRegistryService_Unfreeze_PermittedTransitions(t *testing.T) {
	ctx := context.Background()
	mockUoW, mockFactory, mockAccountRepo, _, _, _, mockAuditRepo := newRegistryTestMocks()

	service := NewRegistryService(mockFactory, NewAccountLocks(), permissiveGate())

	frozen := activeAccount("acct-1")
	frozen.Status = models.AccountStatusFrozen

	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Commit").Return(nil)
	mockUoW.On("Rollback").Return(nil)

	mockAccountRepo.On("GetByID", ctx, "acct-1").Return(frozen, nil)
	mockAccountRepo.On("TransitionStatus", ctx, "acct-1", models.AccountStatusFrozen, models.AccountStatusActive, (*time.Time)(nil)).Return(nil)
	mockAuditRepo.On("Record", ctx, mock.MatchedBy(func(a *models.AuditEntry) bool {
		return a.Action == "account_unfrozen"
	})).Return(nil)

	err := service.Unfreeze(ctx, "acct-1", "ops:alice", "signal cleared")

	assert.NoError(t, err)
	mockAccountRepo.AssertExpectations(t)
}
