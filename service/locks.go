package service

import (
	"sync"
)

// AccountLocks provides per-account mutual exclusion. All balance-affecting
// operations for one account serialize on its lock; operations on different
// accounts never contend. The database's conditional updates back these
// locks, but the lock is what lets a slow external payout call run with the
// account released (see DistributionService.Execute).
type AccountLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewAccountLocks creates an empty lock table
func NewAccountLocks() *AccountLocks {
	return &AccountLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the lock for an account and returns its unlock function
func (l *AccountLocks) Lock(accountID string) func() {
	l.mu.Lock()
	m, ok := l.locks[accountID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[accountID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
