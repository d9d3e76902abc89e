package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"escrow/models"

	"github.com/stretchr/testify/assert"
)

// TestEventDelivery tests the complete flow from TransactionalBus to main Bus
func TestEventDelivery(t *testing.T) {
	mainBus := NewBus()
	transactionalBus := NewTransactionalBus(mainBus)

	eventReceived := make(chan BalanceChangeEvent, 1)
	var wg sync.WaitGroup
	wg.Add(1)

	mainBus.Subscribe(EventTypeBalanceChange, func(ctx context.Context, event Event) {
		defer wg.Done()
		if balanceEvent, ok := event.(BalanceChangeEvent); ok {
			select {
			case eventReceived <- balanceEvent:
			case <-time.After(1 * time.Second):
				t.Error("Timeout sending event to channel")
			}
		} else {
			t.Errorf("Expected BalanceChangeEvent, got %T", event)
		}
	})

	testEvent := BalanceChangeEvent{
		AccountID:     "acct-1",
		EntryID:       7,
		EntryKind:     models.EntryKindContribution,
		ChangeAmount:  500,
		BalanceBefore: 1000,
		BalanceAfter:  1500,
	}

	// Publish to the transactional bus, then flush as a commit would
	transactionalBus.Publish(testEvent)
	err := transactionalBus.Flush(context.Background())
	assert.NoError(t, err)

	wg.Wait()

	received := <-eventReceived
	assert.Equal(t, testEvent, received)
}

// TestEventDiscard verifies rollback discards pending events
func TestEventDiscard(t *testing.T) {
	mainBus := NewBus()
	transactionalBus := NewTransactionalBus(mainBus)

	delivered := make(chan struct{}, 1)
	mainBus.Subscribe(EventTypeDiscrepancyOpened, func(ctx context.Context, event Event) {
		delivered <- struct{}{}
	})

	transactionalBus.Publish(DiscrepancyOpenedEvent{
		DiscrepancyID: 1,
		AccountID:     "acct-1",
		Amount:        300000,
	})
	transactionalBus.Discard()

	err := transactionalBus.Flush(context.Background())
	assert.NoError(t, err)

	select {
	case <-delivered:
		t.Fatal("discarded event was delivered")
	case <-time.After(100 * time.Millisecond):
	}
}
