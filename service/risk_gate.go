package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"escrow/models"
)

type cachedDecision struct {
	decision models.RiskDecision
	at       time.Time
}

type riskGate struct {
	uowFactory UnitOfWorkFactory
	ttl        time.Duration

	mu    sync.Mutex
	cache map[string]cachedDecision
}

// NewRiskGate creates a risk gate backed by the stored risk signals. The
// cache TTL bounds how long a stale decision can outlive a newly arrived
// signal; it should stay well under a second in production.
func NewRiskGate(uowFactory UnitOfWorkFactory, ttl time.Duration) RiskGate {
	return &riskGate{
		uowFactory: uowFactory,
		ttl:        ttl,
		cache:      make(map[string]cachedDecision),
	}
}

// Evaluate returns the current decision for the account. The gate holds no
// opinion of its own: with no signal on record the account is permitted, and
// only a blocking signal (HIGH level or a SAR obligation) denies it.
func (g *riskGate) Evaluate(ctx context.Context, accountID string) (models.RiskDecision, error) {
	g.mu.Lock()
	cached, ok := g.cache[accountID]
	g.mu.Unlock()
	if ok && time.Since(cached.at) < g.ttl {
		return cached.decision, nil
	}

	uow := g.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return models.RiskDecision{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	signal, err := uow.RiskRepository().GetLatest(ctx, accountID)
	if err != nil {
		return models.RiskDecision{}, err
	}

	decision := models.RiskDecision{Permitted: true}
	if signal != nil && signal.Blocking() {
		reasons := []string{}
		if signal.RiskLevel == models.RiskLevelHigh {
			reasons = append(reasons, "risk level high")
		}
		if signal.SARRequired {
			reasons = append(reasons, "SAR filing required")
		}
		decision = models.RiskDecision{
			Permitted: false,
			Reason:    strings.Join(reasons, ", "),
		}
	}

	g.mu.Lock()
	g.cache[accountID] = cachedDecision{decision: decision, at: time.Now()}
	g.mu.Unlock()

	return decision, nil
}
