package models

import (
	"time"
)

// AuditEntityType identifies which part of the model an audit entry refers to
type AuditEntityType string

const (
	AuditEntityAccount      AuditEntityType = "master_account"
	AuditEntityLedgerEntry  AuditEntityType = "ledger_entry"
	AuditEntityDistribution AuditEntityType = "distribution_request"
	AuditEntityDiscrepancy  AuditEntityType = "discrepancy"
	AuditEntityReconRun     AuditEntityType = "reconciliation_run"
)

// ActorRiskGate is the actor recorded for transitions triggered automatically
// by risk signal evaluation rather than a human operator.
const ActorRiskGate = "system:risk-gate"

// ActorSweeper is the actor recorded for transitions made by the stale
// execution sweeper.
const ActorSweeper = "system:execution-sweeper"

// ActorExecutor is the actor recorded for transitions made by the
// distribution executor while driving an approved request to its terminal
// state.
const ActorExecutor = "system:distribution-executor"

// ActorReconciler is the actor recorded for reconciliation runs and the
// discrepancies they open.
const ActorReconciler = "system:reconciler"

// AuditEntry represents one state-changing operation anywhere in the model.
// Entries are append-only and causally ordered by their serial id; every
// mutation writes exactly one entry in the same transaction.
type AuditEntry struct {
	ID         int64           `db:"id"`
	EntityType AuditEntityType `db:"entity_type"`
	EntityID   string          `db:"entity_id"`
	Action     string          `db:"action"`
	ActorRef   string          `db:"actor_ref"`
	Detail     map[string]any  `db:"detail"`
	CreatedAt  time.Time       `db:"created_at"`
}
