package models

import (
	"time"
)

// RiskSignal is the latest externally supplied risk assessment for an
// account. The engine performs no detection of its own; this is the sole
// source of truth for the risk gate.
type RiskSignal struct {
	AccountID   string    `db:"account_id"`
	RiskLevel   RiskLevel `db:"risk_level"`
	Flags       []string  `db:"flags"`
	SARRequired bool      `db:"sar_required"`
	ReceivedAt  time.Time `db:"received_at"`
}

// Blocking reports whether the signal forbids money movement: a HIGH risk
// level, or any flag carrying a SAR filing obligation.
func (s *RiskSignal) Blocking() bool {
	return s.RiskLevel == RiskLevelHigh || s.SARRequired
}

// RiskDecision is the risk gate's answer for one account at one instant.
type RiskDecision struct {
	Permitted bool
	Reason    string
}
