package domain

import (
	"time"

	"github.com/google/uuid"
)

// IncentiveRule maps a qualifying event type to a credit amount.
type IncentiveRule struct {
	ID          string `toml:"id" json:"id"`
	EventType   string `toml:"event_type" json:"event_type"`
	Amount      int64  `toml:"amount" json:"amount"`
	Multiplier  int64  `toml:"multiplier" json:"multiplier"`
	SingleShot  bool   `toml:"single_shot" json:"single_shot"`
	DailyCap    int64  `toml:"daily_cap" json:"daily_cap"` // 0 means only the global cap applies
	CreditsOnly bool   `toml:"platform_credit_only" json:"platform_credit_only"`
	Qualifies   bool   `toml:"qualifies" json:"qualifies"`
	Description string `toml:"description" json:"description,omitempty"`
}

// Reward returns the base amount scaled by the multiplier.
func (r IncentiveRule) Reward() int64 {
	if r.Multiplier <= 0 {
		return r.Amount
	}
	return r.Amount * r.Multiplier
}

// IncentiveDistribution records one rule firing for one user.
type IncentiveDistribution struct {
	ID            uuid.UUID      `db:"id" json:"id"`
	UserID        int64          `db:"user_id" json:"user_id"`
	RuleID        string         `db:"rule_id" json:"rule_id"`
	Amount        int64          `db:"amount" json:"amount"`
	SingleShot    bool           `db:"single_shot" json:"single_shot"`
	CorrelationID string         `db:"correlation_id" json:"correlation_id"`
	Context       map[string]any `db:"context" json:"context,omitempty"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
}

// DistributionResult is returned by the rule engine for each fired event.
type DistributionResult struct {
	RuleID        string     `json:"rule_id"`
	Requested     int64      `json:"requested"`
	Credited      int64      `json:"credited"`
	Clamped       bool       `json:"clamped"`
	CorrelationID string     `json:"correlation_id"`
	EntryID       *uuid.UUID `json:"entry_id,omitempty"`
	Duplicate     bool       `json:"duplicate"`
}
