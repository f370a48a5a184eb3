package config

import (
	"fmt"

	"tola_ledger/internal/domain"

	"github.com/BurntSushi/toml"
)

// RuleSet is the incentive rule table, keyed by event type.
type RuleSet struct {
	Rules []domain.IncentiveRule `toml:"rule"`
}

// DefaultRules returns the built-in rule table.
func DefaultRules() *RuleSet {
	return &RuleSet{Rules: []domain.IncentiveRule{
		{ID: "subscription_signup", EventType: "signup", Amount: 500, Multiplier: 1, SingleShot: true,
			CreditsOnly: true, Qualifies: true, Description: "New subscription sign-up bonus"},
		{ID: "artwork_upload", EventType: "artwork_upload", Amount: 100, Multiplier: 1, DailyCap: 1000,
			Qualifies: true, Description: "Artwork upload reward"},
		{ID: "first_sale", EventType: "first_sale", Amount: 1000, Multiplier: 1, SingleShot: true,
			Qualifies: true, Description: "First artwork sale bonus"},
		{ID: "community_engagement", EventType: "community_engagement", Amount: 50, Multiplier: 1, DailyCap: 250,
			Description: "Community engagement reward"},
		{ID: "exhibition_participation", EventType: "exhibition_participation", Amount: 200, Multiplier: 1, DailyCap: 600,
			Description: "Exhibition participation reward"},
	}}
}

// LoadRules decodes a TOML file of [[rule]] tables.
func LoadRules(path string) (*RuleSet, error) {
	var rs RuleSet
	if _, err := toml.DecodeFile(path, &rs); err != nil {
		return nil, fmt.Errorf("load rules %s: %w", path, err)
	}
	if err := rs.Validate(); err != nil {
		return nil, fmt.Errorf("load rules %s: %w", path, err)
	}
	return &rs, nil
}

// Validate checks ids and event types are unique and amounts positive.
func (rs *RuleSet) Validate() error {
	ids := make(map[string]bool)
	events := make(map[string]bool)
	for _, r := range rs.Rules {
		if r.ID == "" || r.EventType == "" {
			return fmt.Errorf("rule needs id and event_type: %+v", r)
		}
		if r.Amount <= 0 {
			return fmt.Errorf("rule %s: amount must be positive", r.ID)
		}
		if r.DailyCap < 0 || r.Multiplier < 0 {
			return fmt.Errorf("rule %s: daily_cap and multiplier must not be negative", r.ID)
		}
		if ids[r.ID] {
			return fmt.Errorf("duplicate rule id %s", r.ID)
		}
		if events[r.EventType] {
			return fmt.Errorf("duplicate event type %s", r.EventType)
		}
		ids[r.ID] = true
		events[r.EventType] = true
	}
	return nil
}
