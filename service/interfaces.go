package service

import (
	"context"
	"time"

	"escrow/events"
	"escrow/models"
)

// AccountRepository defines the interface for master account data access
type AccountRepository interface {
	// Create creates a new master account together with its zero balance row
	Create(ctx context.Context, account *models.MasterAccount) error

	// GetByID retrieves an account by id, nil when not found
	GetByID(ctx context.Context, id string) (*models.MasterAccount, error)

	// TransitionStatus moves the account from one status to another
	// atomically, failing with ErrInvalidTransition if the account is no
	// longer in the expected status
	TransitionStatus(ctx context.Context, id string, from, to models.AccountStatus, closedAt *time.Time) error

	// UpdateRiskLevel records the externally supplied risk level
	UpdateRiskLevel(ctx context.Context, id string, level models.RiskLevel) error
}

// LedgerRepository defines the interface for the append-only ledger
type LedgerRepository interface {
	// Append inserts a new entry, failing with ErrDuplicateExternalRef if
	// the (account, externalRef) pair already exists
	Append(ctx context.Context, entry *models.LedgerEntry) error

	// GetByID retrieves an entry scoped to an account, nil when not found
	GetByID(ctx context.Context, accountID string, id int64) (*models.LedgerEntry, error)

	// MarkSettled flips a pending entry to settled
	MarkSettled(ctx context.Context, accountID string, id int64) error

	// MarkReversed flips a settled entry to reversed, recording the
	// reversal entry that superseded it
	MarkReversed(ctx context.Context, accountID string, id int64, reversalID int64) error

	// Balance reads the running-total cache for the account
	Balance(ctx context.Context, accountID string) (int64, error)

	// FoldBalance recomputes the balance as a pure fold over settled and
	// reversed entries, bypassing the cache
	FoldBalance(ctx context.Context, accountID string) (int64, error)

	// ApplyToBalance moves the running-total cache by delta, within the
	// same transaction as the entry write that caused it
	ApplyToBalance(ctx context.Context, accountID string, delta int64) error

	// EntriesSince returns entries with id > cursor in insertion order
	EntriesSince(ctx context.Context, accountID string, cursor int64, limit int) ([]*models.LedgerEntry, error)

	// HasSettledDistributionSince reports whether any settled DISTRIBUTION
	// entry exists within the settlement-lag window
	HasSettledDistributionSince(ctx context.Context, accountID string, since time.Time) (bool, error)
}

// DistributionRepository defines the interface for payout request data access
type DistributionRepository interface {
	// Create creates a new distribution request
	Create(ctx context.Context, d *models.DistributionRequest) error

	// GetByID retrieves a request by id, nil when not found
	GetByID(ctx context.Context, id int64) (*models.DistributionRequest, error)

	// TransitionStatus moves the request between states atomically, failing
	// with ErrInvalidTransition if it is no longer in the expected state
	TransitionStatus(ctx context.Context, id int64, from, to models.DistributionStatus) error

	// SetApproved transitions pending_approval to approved and records the
	// approver
	SetApproved(ctx context.Context, id int64, approverRef string) error

	// SetSettled transitions executing to settled and links the
	// DISTRIBUTION ledger entry written in the same transaction
	SetSettled(ctx context.Context, id int64, ledgerEntryID int64) error

	// IncrementAttempts bumps the execution attempt counter
	IncrementAttempts(ctx context.Context, id int64) error

	// SumInFlight returns the total amount of pending_approval, approved
	// and executing requests for the account
	SumInFlight(ctx context.Context, accountID string) (int64, error)

	// CountInFlight returns the number of in-flight requests for the account
	CountInFlight(ctx context.Context, accountID string) (int, error)

	// ListByAccountAndStatus returns requests for an account in a given state
	ListByAccountAndStatus(ctx context.Context, accountID string, status models.DistributionStatus) ([]*models.DistributionRequest, error)

	// ListStaleExecuting returns executing requests last updated before the
	// given deadline
	ListStaleExecuting(ctx context.Context, olderThan time.Time) ([]*models.DistributionRequest, error)
}

// ReconciliationRepository defines the interface for runs and discrepancies
type ReconciliationRepository interface {
	// CreateRun records a reconciliation run
	CreateRun(ctx context.Context, run *models.ReconciliationRun) error

	// LatestRun returns the run with the newest as_of for the account, nil
	// when none exists
	LatestRun(ctx context.Context, accountID string) (*models.ReconciliationRun, error)

	// CreateDiscrepancy opens a new discrepancy
	CreateDiscrepancy(ctx context.Context, d *models.Discrepancy) error

	// GetDiscrepancy retrieves a discrepancy by id, nil when not found
	GetDiscrepancy(ctx context.Context, id int64) (*models.Discrepancy, error)

	// TransitionDiscrepancy moves a discrepancy between states atomically,
	// failing with ErrInvalidTransition if it left the expected state
	TransitionDiscrepancy(ctx context.Context, id int64, from, to models.DiscrepancyStatus) error

	// ResolveDiscrepancy closes a discrepancy from open or pending with a
	// resolution note
	ResolveDiscrepancy(ctx context.Context, id int64, note string) error

	// CountBlockingByAccount counts open and pending discrepancies that
	// block closing the account
	CountBlockingByAccount(ctx context.Context, accountID string) (int, error)

	// ListDiscrepanciesByRun returns the discrepancies opened by a run
	ListDiscrepanciesByRun(ctx context.Context, runID int64) ([]*models.Discrepancy, error)
}

// RiskRepository defines the interface for externally supplied risk signals
type RiskRepository interface {
	// Upsert stores the latest signal for an account
	Upsert(ctx context.Context, signal *models.RiskSignal) error

	// GetLatest returns the latest signal for an account, nil when none has
	// been received
	GetLatest(ctx context.Context, accountID string) (*models.RiskSignal, error)
}

// AuditRepository defines the interface for the append-only audit trail
type AuditRepository interface {
	// Record appends an audit entry
	Record(ctx context.Context, entry *models.AuditEntry) error

	// ListByEntity returns all entries for an entity in causal order
	ListByEntity(ctx context.Context, entityType models.AuditEntityType, entityID string) ([]*models.AuditEntry, error)
}

// LedgerService defines the single write path for all balance changes
type LedgerService interface {
	// Append appends a new ledger entry for the account
	Append(ctx context.Context, accountID string, entry NewEntry) (*models.LedgerEntry, error)

	// Settle flips a pending entry to settled, applying it to the balance
	Settle(ctx context.Context, accountID string, entryID int64, actorRef string) (*models.LedgerEntry, error)

	// Reverse appends a REVERSAL entry negating a settled entry and marks
	// the original reversed
	Reverse(ctx context.Context, accountID string, entryID int64, actorRef, reason string) (*models.LedgerEntry, error)

	// Balance returns the derived balance for the account
	Balance(ctx context.Context, accountID string) (int64, error)

	// EntriesSince pages entries by id cursor
	EntriesSince(ctx context.Context, accountID string, cursor int64, limit int) ([]*models.LedgerEntry, error)
}

// NewEntry carries the caller-supplied fields of a ledger append
type NewEntry struct {
	SubLedgerRef *string
	Amount       int64
	Currency     string
	Kind         models.EntryKind
	ExternalRef  string
	Settled      bool
	ActorRef     string
}

// NewAccount carries the caller-supplied fields of account creation
type NewAccount struct {
	Type       models.AccountType
	OwnerID    string
	OwnerKind  models.OwnerKind
	Currency   string
	GoalAmount *int64
	ActorRef   string
}

// RegistryService defines the master account state machine operations
type RegistryService interface {
	// CreateAccount creates a new master account
	CreateAccount(ctx context.Context, acct NewAccount) (*models.MasterAccount, error)

	// GetAccount retrieves an account by id
	GetAccount(ctx context.Context, id string) (*models.MasterAccount, error)

	// Freeze transitions active to frozen
	Freeze(ctx context.Context, accountID, actorRef, reason string) error

	// Unfreeze transitions frozen to active if the risk gate permits
	Unfreeze(ctx context.Context, accountID, actorRef, reason string) error

	// Close transitions active or frozen to closed if no open obligations
	// remain. Closed is terminal.
	Close(ctx context.Context, accountID, actorRef, reason string) error

	// ApplyRiskSignal stores an externally supplied signal and auto-freezes
	// the account when the signal is blocking
	ApplyRiskSignal(ctx context.Context, signal models.RiskSignal) error
}

// DistributionService defines the payout workflow operations
type DistributionService interface {
	// Request creates a pending_approval payout request after the
	// over-commit check
	Request(ctx context.Context, accountID string, amount int64, payeeRef, actorRef, reason string) (*models.DistributionRequest, error)

	// Approve transitions pending_approval to approved if the account is
	// active and the risk gate permits
	Approve(ctx context.Context, id int64, approverRef string) error

	// Reject rejects a request from pending_approval or approved
	Reject(ctx context.Context, id int64, actorRef, reason string) error

	// Execute drives approved through executing to settled or failed,
	// calling the payout rail outside the account lock
	Execute(ctx context.Context, id int64) error

	// FailStaleExecutions fails executing requests stuck past the deadline
	FailStaleExecutions(ctx context.Context, olderThan time.Duration) (int, error)
}

// ReconciliationService defines reconciliation runs and discrepancy handling
type ReconciliationService interface {
	// Run reconciles one settlement snapshot against the derived balance
	Run(ctx context.Context, snapshot models.SettlementSnapshot) (*models.ReconciliationRun, error)

	// MarkPending moves a discrepancy from open to pending
	MarkPending(ctx context.Context, discrepancyID int64, actorRef string) error

	// Escalate moves a discrepancy from open or pending to escalated
	Escalate(ctx context.Context, discrepancyID int64, actorRef string) error

	// Resolve closes a discrepancy with a non-empty resolution note
	Resolve(ctx context.Context, discrepancyID int64, actorRef, note string) error
}

// RiskGate decides whether money may move for an account, from the latest
// externally supplied risk signal only
type RiskGate interface {
	// Evaluate returns the current decision for the account. Results are
	// cached no longer than a short TTL since risk state changes
	// asynchronously.
	Evaluate(ctx context.Context, accountID string) (models.RiskDecision, error)
}

// PayoutRequest carries the fields sent to the external payout rail
type PayoutRequest struct {
	PayeeRef       string
	Amount         int64
	Currency       string
	IdempotencyKey string
}

// PayoutRail is the external collaborator executing distributions. A
// validation rejection is reported by wrapping models.ErrPayoutRejected; any
// other error is treated as transient.
type PayoutRail interface {
	Execute(ctx context.Context, req PayoutRequest) error
}

// EventPublisher defines the interface for publishing events
type EventPublisher interface {
	Publish(event events.Event)
}

// UnitOfWork defines the interface for transactional repository operations
type UnitOfWork interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) error

	// Commit commits the transaction and flushes pending events
	Commit() error

	// Rollback rolls back the transaction and discards pending events
	Rollback() error

	// Repository getters
	AccountRepository() AccountRepository
	LedgerRepository() LedgerRepository
	DistributionRepository() DistributionRepository
	ReconciliationRepository() ReconciliationRepository
	RiskRepository() RiskRepository
	AuditRepository() AuditRepository
	EventBus() EventPublisher
}

// UnitOfWorkFactory defines the interface for creating UnitOfWork instances
type UnitOfWorkFactory interface {
	// Create creates a new UnitOfWork instance
	Create() UnitOfWork
}
