package service

import (
	"context"
	"time"

	"escrow/events"
	"escrow/models"

	"github.com/stretchr/testify/mock"
)

// MockAccountRepository is a mock implementation of AccountRepository
type MockAccountRepository struct {
	mock.Mock
}

func (m *MockAccountRepository) Create(ctx context.Context, account *models.MasterAccount) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *MockAccountRepository) GetByID(ctx context.Context, id string) (*models.MasterAccount, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.MasterAccount), args.Error(1)
}

func (m *MockAccountRepository) TransitionStatus(ctx context.Context, id string, from, to models.AccountStatus, closedAt *time.Time) error {
	args := m.Called(ctx, id, from, to, closedAt)
	return args.Error(0)
}

func (m *MockAccountRepository) UpdateRiskLevel(ctx context.Context, id string, level models.RiskLevel) error {
	args := m.Called(ctx, id, level)
	return args.Error(0)
}

// MockLedgerRepository is a mock implementation of LedgerRepository
type MockLedgerRepository struct {
	mock.Mock
}

func (m *MockLedgerRepository) Append(ctx context.Context, entry *models.LedgerEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockLedgerRepository) GetByID(ctx context.Context, accountID string, id int64) (*models.LedgerEntry, error) {
	args := m.Called(ctx, accountID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.LedgerEntry), args.Error(1)
}

func (m *MockLedgerRepository) MarkSettled(ctx context.Context, accountID string, id int64) error {
	args := m.Called(ctx, accountID, id)
	return args.Error(0)
}

func (m *MockLedgerRepository) MarkReversed(ctx context.Context, accountID string, id int64, reversalID int64) error {
	args := m.Called(ctx, accountID, id, reversalID)
	return args.Error(0)
}

func (m *MockLedgerRepository) Balance(ctx context.Context, accountID string) (int64, error) {
	args := m.Called(ctx, accountID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockLedgerRepository) FoldBalance(ctx context.Context, accountID string) (int64, error) {
	args := m.Called(ctx, accountID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockLedgerRepository) ApplyToBalance(ctx context.Context, accountID string, delta int64) error {
	args := m.Called(ctx, accountID, delta)
	return args.Error(0)
}

func (m *MockLedgerRepository) EntriesSince(ctx context.Context, accountID string, cursor int64, limit int) ([]*models.LedgerEntry, error) {
	args := m.Called(ctx, accountID, cursor, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.LedgerEntry), args.Error(1)
}

func (m *MockLedgerRepository) HasSettledDistributionSince(ctx context.Context, accountID string, since time.Time) (bool, error) {
	args := m.Called(ctx, accountID, since)
	return args.Bool(0), args.Error(1)
}

// MockDistributionRepository is a mock implementation of DistributionRepository
type MockDistributionRepository struct {
	mock.Mock
}

func (m *MockDistributionRepository) Create(ctx context.Context, d *models.DistributionRequest) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

func (m *MockDistributionRepository) GetByID(ctx context.Context, id int64) (*models.DistributionRequest, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.DistributionRequest), args.Error(1)
}

func (m *MockDistributionRepository) TransitionStatus(ctx context.Context, id int64, from, to models.DistributionStatus) error {
	args := m.Called(ctx, id, from, to)
	return args.Error(0)
}

func (m *MockDistributionRepository) SetApproved(ctx context.Context, id int64, approverRef string) error {
	args := m.Called(ctx, id, approverRef)
	return args.Error(0)
}

func (m *MockDistributionRepository) SetSettled(ctx context.Context, id int64, ledgerEntryID int64) error {
	args := m.Called(ctx, id, ledgerEntryID)
	return args.Error(0)
}

func (m *MockDistributionRepository) IncrementAttempts(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockDistributionRepository) SumInFlight(ctx context.Context, accountID string) (int64, error) {
	args := m.Called(ctx, accountID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDistributionRepository) CountInFlight(ctx context.Context, accountID string) (int, error) {
	args := m.Called(ctx, accountID)
	return args.Int(0), args.Error(1)
}

func (m *MockDistributionRepository) ListByAccountAndStatus(ctx context.Context, accountID string, status models.DistributionStatus) ([]*models.DistributionRequest, error) {
	args := m.Called(ctx, accountID, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.DistributionRequest), args.Error(1)
}

func (m *MockDistributionRepository) ListStaleExecuting(ctx context.Context, olderThan time.Time) ([]*models.DistributionRequest, error) {
	args := m.Called(ctx, olderThan)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.DistributionRequest), args.Error(1)
}

// MockReconciliationRepository is a mock implementation of ReconciliationRepository
type MockReconciliationRepository struct {
	mock.Mock
}

func (m *MockReconciliationRepository) CreateRun(ctx context.Context, run *models.ReconciliationRun) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *MockReconciliationRepository) LatestRun(ctx context.Context, accountID string) (*models.ReconciliationRun, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ReconciliationRun), args.Error(1)
}

func (m *MockReconciliationRepository) CreateDiscrepancy(ctx context.Context, d *models.Discrepancy) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

func (m *MockReconciliationRepository) GetDiscrepancy(ctx context.Context, id int64) (*models.Discrepancy, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Discrepancy), args.Error(1)
}

func (m *MockReconciliationRepository) TransitionDiscrepancy(ctx context.Context, id int64, from, to models.DiscrepancyStatus) error {
	args := m.Called(ctx, id, from, to)
	return args.Error(0)
}

func (m *MockReconciliationRepository) ResolveDiscrepancy(ctx context.Context, id int64, note string) error {
	args := m.Called(ctx, id, note)
	return args.Error(0)
}

func (m *MockReconciliationRepository) CountBlockingByAccount(ctx context.Context, accountID string) (int, error) {
	args := m.Called(ctx, accountID)
	return args.Int(0), args.Error(1)
}

func (m *MockReconciliationRepository) ListDiscrepanciesByRun(ctx context.Context, runID int64) ([]*models.Discrepancy, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Discrepancy), args.Error(1)
}

// MockRiskRepository is a mock implementation of RiskRepository
type MockRiskRepository struct {
	mock.Mock
}

func (m *MockRiskRepository) Upsert(ctx context.Context, signal *models.RiskSignal) error {
	args := m.Called(ctx, signal)
	return args.Error(0)
}

func (m *MockRiskRepository) GetLatest(ctx context.Context, accountID string) (*models.RiskSignal, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RiskSignal), args.Error(1)
}

// MockAuditRepository is a mock implementation of AuditRepository
type MockAuditRepository struct {
	mock.Mock
}

func (m *MockAuditRepository) Record(ctx context.Context, entry *models.AuditEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockAuditRepository) ListByEntity(ctx context.Context, entityType models.AuditEntityType, entityID string) ([]*models.AuditEntry, error) {
	args := m.Called(ctx, entityType, entityID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.AuditEntry), args.Error(1)
}

// MockEventPublisher is a mock implementation of EventPublisher for testing
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(event events.Event) {
	m.Called(event)
}

// CapturingPublisher collects published events for assertions without
// requiring expectations on every publish.
type CapturingPublisher struct {
	Events []events.Event
}

func (p *CapturingPublisher) Publish(event events.Event) {
	p.Events = append(p.Events, event)
}

// MockPayoutRail is a mock implementation of PayoutRail
type MockPayoutRail struct {
	mock.Mock
}

func (m *MockPayoutRail) Execute(ctx context.Context, req PayoutRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

// MockRiskGate is a mock implementation of RiskGate
type MockRiskGate struct {
	mock.Mock
}

func (m *MockRiskGate) Evaluate(ctx context.Context, accountID string) (models.RiskDecision, error) {
	args := m.Called(ctx, accountID)
	return args.Get(0).(models.RiskDecision), args.Error(1)
}

// MockUnitOfWork is a mock implementation of UnitOfWork. Repositories are
// injected with SetRepositories; Begin/Commit/Rollback go through mock
// expectations.
type MockUnitOfWork struct {
	mock.Mock
	accountRepo      AccountRepository
	ledgerRepo       LedgerRepository
	distributionRepo DistributionRepository
	reconRepo        ReconciliationRepository
	riskRepo         RiskRepository
	auditRepo        AuditRepository
	eventBus         EventPublisher
}

// SetRepositories configures which repositories the unit of work hands out.
// Nil is allowed for repositories the test never touches. The event bus
// defaults to a capturing publisher.
func (m *MockUnitOfWork) SetRepositories(
	accountRepo AccountRepository,
	ledgerRepo LedgerRepository,
	distributionRepo DistributionRepository,
	reconRepo ReconciliationRepository,
	riskRepo RiskRepository,
	auditRepo AuditRepository,
) {
	m.accountRepo = accountRepo
	m.ledgerRepo = ledgerRepo
	m.distributionRepo = distributionRepo
	m.reconRepo = reconRepo
	m.riskRepo = riskRepo
	m.auditRepo = auditRepo
	if m.eventBus == nil {
		m.eventBus = &CapturingPublisher{}
	}
}

// SetEventBus overrides the default capturing publisher
func (m *MockUnitOfWork) SetEventBus(bus EventPublisher) {
	m.eventBus = bus
}

func (m *MockUnitOfWork) Begin(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockUnitOfWork) Commit() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockUnitOfWork) Rollback() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockUnitOfWork) AccountRepository() AccountRepository {
	return m.accountRepo
}

func (m *MockUnitOfWork) LedgerRepository() LedgerRepository {
	return m.ledgerRepo
}

func (m *MockUnitOfWork) DistributionRepository() DistributionRepository {
	return m.distributionRepo
}

func (m *MockUnitOfWork) ReconciliationRepository() ReconciliationRepository {
	return m.reconRepo
}

func (m *MockUnitOfWork) RiskRepository() RiskRepository {
	return m.riskRepo
}

func (m *MockUnitOfWork) AuditRepository() AuditRepository {
	return m.auditRepo
}

func (m *MockUnitOfWork) EventBus() EventPublisher {
	if m.eventBus == nil {
		m.eventBus = &CapturingPublisher{}
	}
	return m.eventBus
}

// MockUnitOfWorkFactory is a mock implementation of UnitOfWorkFactory
type MockUnitOfWorkFactory struct {
	mock.Mock
}

func (m *MockUnitOfWorkFactory) Create() UnitOfWork {
	args := m.Called()
	return args.Get(0).(UnitOfWork)
}
