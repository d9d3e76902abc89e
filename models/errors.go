package models

import (
	"errors"
)

// Invariant violations are first-class sentinel errors. Callers are expected
// to test them with errors.Is; services wrap them with context via %w.
var (
	// ErrAccountNotFound indicates the referenced master account does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountClosed indicates an operation was attempted on a closed
	// account. Closed is terminal: no entries, transitions or distributions
	// are accepted.
	ErrAccountClosed = errors.New("account is closed")

	// ErrAccountFrozen indicates an operation requiring an active account was
	// attempted while the account is frozen.
	ErrAccountFrozen = errors.New("account is frozen")

	// ErrInvalidTransition indicates a state transition not named in the
	// state machine.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInsufficientFunds indicates a distribution request exceeding the
	// account balance minus in-flight distributions.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDuplicateExternalRef indicates a replay of an external event already
	// applied to the account ledger.
	ErrDuplicateExternalRef = errors.New("duplicate external ref")

	// ErrBlockedByOpenObligations indicates an account close attempt while
	// in-flight distributions or unresolved discrepancies exist.
	ErrBlockedByOpenObligations = errors.New("blocked by open obligations")

	// ErrRiskBlocked indicates the risk gate denied the operation.
	ErrRiskBlocked = errors.New("blocked by risk gate")

	// ErrStaleSnapshot indicates a settlement snapshot older than the last
	// processed one for the account.
	ErrStaleSnapshot = errors.New("stale settlement snapshot")

	// ErrEntryNotFound indicates the referenced ledger entry does not exist
	// on the account.
	ErrEntryNotFound = errors.New("ledger entry not found")

	// ErrPayoutRejected indicates the payout rail rejected the distribution
	// for a validation reason. Never retried.
	ErrPayoutRejected = errors.New("payout rejected by rail")
)
