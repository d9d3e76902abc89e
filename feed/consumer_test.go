package feed

import (
	"context"
	"fmt"
	"testing"
	"time"

	"escrow/models"
	"escrow/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockRegistryService struct {
	mock.Mock
}

func (m *mockRegistryService) CreateAccount(ctx context.Context, acct service.NewAccount) (*models.MasterAccount, error) {
	args := m.Called(ctx, acct)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.MasterAccount), args.Error(1)
}

func (m *mockRegistryService) GetAccount(ctx context.Context, id string) (*models.MasterAccount, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.MasterAccount), args.Error(1)
}

func (m *mockRegistryService) Freeze(ctx context.Context, accountID, actorRef, reason string) error {
	args := m.Called(ctx, accountID, actorRef, reason)
	return args.Error(0)
}

func (m *mockRegistryService) Unfreeze(ctx context.Context, accountID, actorRef, reason string) error {
	args := m.Called(ctx, accountID, actorRef, reason)
	return args.Error(0)
}

func (m *mockRegistryService) Close(ctx context.Context, accountID, actorRef, reason string) error {
	args := m.Called(ctx, accountID, actorRef, reason)
	return args.Error(0)
}

func (m *mockRegistryService) ApplyRiskSignal(ctx context.Context, signal models.RiskSignal) error {
	args := m.Called(ctx, signal)
	return args.Error(0)
}

type mockReconciliationService struct {
	mock.Mock
}

func (m *mockReconciliationService) Run(ctx context.Context, snapshot models.SettlementSnapshot) (*models.ReconciliationRun, error) {
	args := m.Called(ctx, snapshot)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ReconciliationRun), args.Error(1)
}

func (m *mockReconciliationService) MarkPending(ctx context.Context, discrepancyID int64, actorRef string) error {
	args := m.Called(ctx, discrepancyID, actorRef)
	return args.Error(0)
}

func (m *mockReconciliationService) Escalate(ctx context.Context, discrepancyID int64, actorRef string) error {
	args := m.Called(ctx, discrepancyID, actorRef)
	return args.Error(0)
}

func (m *mockReconciliationService) Resolve(ctx context.Context, discrepancyID int64, actorRef, note string) error {
	args := m.Called(ctx, discrepancyID, actorRef, note)
	return args.Error(0)
}

func TestConsumer_HandleRiskSignal(t *testing.T) {
	registry := new(mockRegistryService)
	consumer := &Consumer{registry: registry}

	registry.On("ApplyRiskSignal", mock.Anything, mock.MatchedBy(func(s models.RiskSignal) bool {
		return s.AccountID == "acct-1" &&
			s.RiskLevel == models.RiskLevelHigh &&
			s.SARRequired
	})).Return(nil)

	msg := []byte(`{"accountId":"acct-1","riskLevel":"high","flags":["structuring"],"sarRequired":true,"receivedAt":"2026-03-14T06:00:00Z"}`)

	err := consumer.handleRiskSignal(msg)

	assert.NoError(t, err)
	registry.AssertExpectations(t)
}

func TestConsumer_HandleRiskSignal_MalformedDropped(t *testing.T) {
	registry := new(mockRegistryService)
	consumer := &Consumer{registry: registry}

	err := consumer.handleRiskSignal([]byte(`{not json`))

	assert.NoError(t, err)
	registry.AssertNotCalled(t, "ApplyRiskSignal", mock.Anything, mock.Anything)
}

func TestConsumer_HandleRiskSignal_UnknownAccountDropped(t *testing.T) {
	registry := new(mockRegistryService)
	consumer := &Consumer{registry: registry}

	registry.On("ApplyRiskSignal", mock.Anything, mock.Anything).
		Return(fmt.Errorf("account acct-x: %w", models.ErrAccountNotFound))

	err := consumer.handleRiskSignal([]byte(`{"accountId":"acct-x","riskLevel":"low"}`))

	// Acked, not redelivered
	assert.NoError(t, err)
}

func TestConsumer_HandleSettlementSnapshot(t *testing.T) {
	reconciliation := new(mockReconciliationService)
	consumer := &Consumer{reconciliation: reconciliation}

	asOf := time.Date(2026, 3, 14, 6, 0, 0, 0, time.UTC)
	reconciliation.On("Run", mock.Anything, mock.MatchedBy(func(s models.SettlementSnapshot) bool {
		return s.AccountID == "acct-1" &&
			s.ExternalBalance == 42200000 &&
			s.AsOf.Equal(asOf)
	})).Return(&models.ReconciliationRun{ID: 11, Variance: -300000, Status: models.ReconciliationStatusVariance}, nil)

	msg := []byte(`{"accountId":"acct-1","externalBalance":42200000,"asOf":"2026-03-14T06:00:00Z"}`)

	err := consumer.handleSettlementSnapshot(msg)

	assert.NoError(t, err)
	reconciliation.AssertExpectations(t)
}

func TestConsumer_HandleSettlementSnapshot_StaleDropped(t *testing.T) {
	reconciliation := new(mockReconciliationService)
	consumer := &Consumer{reconciliation: reconciliation}

	reconciliation.On("Run", mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("snapshot out of order: %w", models.ErrStaleSnapshot))

	msg := []byte(`{"accountId":"acct-1","externalBalance":100,"asOf":"2026-03-01T00:00:00Z"}`)

	err := consumer.handleSettlementSnapshot(msg)

	assert.NoError(t, err)
}

func TestConsumer_HandleSettlementSnapshot_TransientErrorRedelivered(t *testing.T) {
	reconciliation := new(mockReconciliationService)
	consumer := &Consumer{reconciliation: reconciliation}

	reconciliation.On("Run", mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("database unavailable"))

	msg := []byte(`{"accountId":"acct-1","externalBalance":100,"asOf":"2026-03-14T00:00:00Z"}`)

	err := consumer.handleSettlementSnapshot(msg)

	assert.Error(t, err)
}
