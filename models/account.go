package models

import (
	"time"
)

// AccountType represents the kind of pooled escrow account
type AccountType string

const (
	AccountTypeFundraiser AccountType = "fundraiser"
	AccountTypeGroup      AccountType = "group"
	AccountTypeEvent      AccountType = "event"
)

// AccountStatus represents the lifecycle state of a master account
type AccountStatus string

const (
	AccountStatusActive AccountStatus = "active"
	AccountStatusFrozen AccountStatus = "frozen"
	AccountStatusClosed AccountStatus = "closed"
)

// OwnerKind represents what kind of entity owns a master account
type OwnerKind string

const (
	OwnerKindUser         OwnerKind = "user"
	OwnerKindBusiness     OwnerKind = "business"
	OwnerKindOrganization OwnerKind = "organization"
)

// RiskLevel represents the externally supplied risk classification
type RiskLevel string

const (
	RiskLevelLow    RiskLevel = "low"
	RiskLevelMedium RiskLevel = "medium"
	RiskLevelHigh   RiskLevel = "high"
)

// MasterAccount represents a pooled escrow account holding funds on behalf
// of many contributors pending distribution. Balance is never stored here;
// it is derived from the ledger.
type MasterAccount struct {
	ID         string        `db:"id"`
	Type       AccountType   `db:"type"`
	OwnerID    string        `db:"owner_id"`
	OwnerKind  OwnerKind     `db:"owner_kind"`
	Currency   string        `db:"currency"`
	Status     AccountStatus `db:"status"`
	RiskLevel  RiskLevel     `db:"risk_level"`
	GoalAmount *int64        `db:"goal_amount"`
	CreatedAt  time.Time     `db:"created_at"`
	ClosedAt   *time.Time    `db:"closed_at"`
}

// IsClosed reports whether the account has reached its terminal state.
func (a *MasterAccount) IsClosed() bool {
	return a.Status == AccountStatusClosed
}

// CanTransitionTo checks whether the named status transition exists in the
// account state machine. Guards (risk gate, open obligations) are enforced
// by the registry service, not here.
func (a *MasterAccount) CanTransitionTo(target AccountStatus) bool {
	switch a.Status {
	case AccountStatusActive:
		return target == AccountStatusFrozen || target == AccountStatusClosed
	case AccountStatusFrozen:
		return target == AccountStatusActive || target == AccountStatusClosed
	default:
		return false
	}
}
