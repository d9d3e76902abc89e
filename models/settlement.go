package models

import (
	"time"
)

// SettlementSnapshot is one externally reported balance from the bank or
// payment-processor feed. Snapshots may arrive out of order; the
// reconciliation engine keys on AsOf and refuses stale ones.
type SettlementSnapshot struct {
	AccountID       string    `json:"accountId"`
	ExternalBalance int64     `json:"externalBalance"`
	AsOf            time.Time `json:"asOf"`
}
