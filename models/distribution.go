package models

import (
	"fmt"
	"time"
)

// DistributionStatus represents the state of a payout request
type DistributionStatus string

const (
	DistributionStatusPendingApproval DistributionStatus = "pending_approval"
	DistributionStatusApproved        DistributionStatus = "approved"
	DistributionStatusExecuting       DistributionStatus = "executing"
	DistributionStatusSettled         DistributionStatus = "settled"
	DistributionStatusFailed          DistributionStatus = "failed"
	DistributionStatusRejected        DistributionStatus = "rejected"
)

// InFlightDistributionStatuses are the states whose amounts count against the
// account balance for the over-commit check.
var InFlightDistributionStatuses = []DistributionStatus{
	DistributionStatusPendingApproval,
	DistributionStatusApproved,
	DistributionStatusExecuting,
}

// DistributionRequest represents a payout from a master account balance to an
// external payee.
type DistributionRequest struct {
	ID            int64              `db:"id"`
	AccountID     string             `db:"account_id"`
	Amount        int64              `db:"amount"`
	PayeeRef      string             `db:"payee_ref"`
	Status        DistributionStatus `db:"status"`
	Reason        string             `db:"reason"`
	ApprovedBy    *string            `db:"approved_by"`
	Attempts      int                `db:"attempts"`
	LedgerEntryID *int64             `db:"ledger_entry_id"`
	RequestedAt   time.Time          `db:"requested_at"`
	UpdatedAt     time.Time          `db:"updated_at"`
}

// IdempotencyKey returns the stable key passed to the payout rail. It doubles
// as the external_ref of the DISTRIBUTION ledger entry written on settlement,
// so a replayed execution can never double-apply.
func (d *DistributionRequest) IdempotencyKey() string {
	return fmt.Sprintf("dist-%d", d.ID)
}

// IsInFlight reports whether the request still counts against the account
// balance.
func (d *DistributionRequest) IsInFlight() bool {
	switch d.Status {
	case DistributionStatusPendingApproval, DistributionStatusApproved, DistributionStatusExecuting:
		return true
	}
	return false
}

// CanBeRejected reports whether rejection is still offered. Once executing,
// only the terminal outcome is awaited.
func (d *DistributionRequest) CanBeRejected() bool {
	return d.Status == DistributionStatusPendingApproval || d.Status == DistributionStatusApproved
}
