package models

import (
	"time"
)

// EntryKind represents the type of balance-affecting ledger entry
type EntryKind string

const (
	EntryKindContribution EntryKind = "contribution"
	EntryKindDistribution EntryKind = "distribution"
	EntryKindAdjustment   EntryKind = "adjustment"
	EntryKindReversal     EntryKind = "reversal"
)

// EntryStatus represents the settlement state of a ledger entry
type EntryStatus string

const (
	EntryStatusPending  EntryStatus = "pending"
	EntryStatusSettled  EntryStatus = "settled"
	EntryStatusReversed EntryStatus = "reversed"
)

// LedgerEntry represents a single append-only, signed balance change on a
// master account. Amounts are integers in minor currency units. ExternalRef
// is the idempotency key from the originating payment rail and is unique
// per account.
type LedgerEntry struct {
	ID           int64       `db:"id"`
	AccountID    string      `db:"account_id"`
	SubLedgerRef *string     `db:"sub_ledger_ref"`
	Amount       int64       `db:"amount"`
	Currency     string      `db:"currency"`
	Kind         EntryKind   `db:"kind"`
	ExternalRef  string      `db:"external_ref"`
	Status       EntryStatus `db:"status"`
	ReversedBy   *int64      `db:"reversed_by"`
	CreatedAt    time.Time   `db:"created_at"`
}

// CountsTowardBalance reports whether the entry's signed amount is part of
// the derived account balance. A reversed entry still counts: the correction
// is carried by its settled REVERSAL entry, never by mutating the original.
func (e *LedgerEntry) CountsTowardBalance() bool {
	return e.Status == EntryStatusSettled || e.Status == EntryStatusReversed
}
