package events

import (
	"context"
	"sync"

	"escrow/models"
	log "github.com/sirupsen/logrus"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventTypeBalanceChange           EventType = "balance_change"
	EventTypeAccountStatusChange     EventType = "account_status_change"
	EventTypeDistributionStateChange EventType = "distribution_state_change"
	EventTypeReconciliationCompleted EventType = "reconciliation_completed"
	EventTypeDiscrepancyOpened       EventType = "discrepancy_opened"
)

// Event is the base interface for all events
type Event interface {
	Type() EventType
}

// BalanceChangeEvent represents a settled ledger movement on an account
type BalanceChangeEvent struct {
	AccountID     string
	EntryID       int64
	EntryKind     models.EntryKind
	ChangeAmount  int64
	BalanceBefore int64
	BalanceAfter  int64
}

func (e BalanceChangeEvent) Type() EventType {
	return EventTypeBalanceChange
}

// AccountStatusChangeEvent represents a master account lifecycle transition
type AccountStatusChangeEvent struct {
	AccountID string
	OldStatus models.AccountStatus
	NewStatus models.AccountStatus
	ActorRef  string
	Reason    string
}

func (e AccountStatusChangeEvent) Type() EventType {
	return EventTypeAccountStatusChange
}

// DistributionStateChangeEvent represents a payout request state transition
type DistributionStateChangeEvent struct {
	DistributionID int64
	AccountID      string
	OldStatus      models.DistributionStatus
	NewStatus      models.DistributionStatus
	Amount         int64
}

func (e DistributionStateChangeEvent) Type() EventType {
	return EventTypeDistributionStateChange
}

// ReconciliationCompletedEvent represents a finished reconciliation run
type ReconciliationCompletedEvent struct {
	RunID     int64
	AccountID string
	Variance  int64
	Status    models.ReconciliationStatus
}

func (e ReconciliationCompletedEvent) Type() EventType {
	return EventTypeReconciliationCompleted
}

// DiscrepancyOpenedEvent represents a newly opened discrepancy
type DiscrepancyOpenedEvent struct {
	DiscrepancyID int64
	RunID         int64
	AccountID     string
	Amount        int64
	Description   string
}

func (e DiscrepancyOpenedEvent) Type() EventType {
	return EventTypeDiscrepancyOpened
}

// Handler is a function that handles events
type Handler func(ctx context.Context, event Event)

// Bus manages event subscriptions and dispatching
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe adds a handler for a specific event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)

	log.WithFields(log.Fields{
		"eventType":    eventType,
		"handlerCount": len(b.handlers[eventType]),
	}).Debug("Subscribed handler to event type")
}

// Emit publishes an event to all registered handlers
func (b *Bus) Emit(ctx context.Context, event Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[event.Type()]))
	copy(handlers, b.handlers[event.Type()])
	b.mu.RUnlock()

	// Call handlers asynchronously to avoid blocking the publisher
	for _, handler := range handlers {
		go func(h Handler) {
			defer func() {
				if r := recover(); r != nil {
					log.WithFields(log.Fields{
						"eventType": event.Type(),
						"panic":     r,
					}).Error("Event handler panicked")
				}
			}()
			h(ctx, event)
		}(handler)
	}
}

// TransactionalBus holds pending events coupled to a unit of work and
// flushes them to the underlying bus only after the database commit.
type TransactionalBus struct {
	real    *Bus
	pending []Event
}

func NewTransactionalBus(real *Bus) *TransactionalBus {
	return &TransactionalBus{real: real}
}

func (b *TransactionalBus) Publish(e Event) {
	b.pending = append(b.pending, e)
}

// Flush emits all pending events. Called after a successful commit.
func (b *TransactionalBus) Flush(ctx context.Context) error {
	// Events are emitted on a background context: their processing is
	// independent of the (possibly expired) transaction context.
	eventCtx := context.Background()

	for _, ev := range b.pending {
		b.real.Emit(eventCtx, ev)
	}
	b.pending = nil
	return nil
}

// Discard drops pending events. Called after a rollback.
func (b *TransactionalBus) Discard() {
	b.pending = nil
}
