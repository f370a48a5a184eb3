package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"tola_ledger/internal/domain"

	"github.com/shopspring/decimal"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("STORE_DRIVER", "memory")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if cfg.Milestone.Threshold != 1000 {
		t.Fatalf("threshold = %d", cfg.Milestone.Threshold)
	}
	if cfg.Conversion.MinAmount != 10 || cfg.Conversion.MaxAmount != 10000 {
		t.Fatalf("bounds = [%d, %d]", cfg.Conversion.MinAmount, cfg.Conversion.MaxAmount)
	}
	if !cfg.Conversion.FeeRate.Equal(decimal.RequireFromString("0.01")) {
		t.Fatalf("fee rate = %s", cfg.Conversion.FeeRate)
	}
	if cfg.Settlement.Timeout != 30*time.Second {
		t.Fatalf("timeout = %s", cfg.Settlement.Timeout)
	}
	if len(cfg.Incentive.Rules.Rules) != 5 {
		t.Fatalf("expected 5 default rules, got %d", len(cfg.Incentive.Rules.Rules))
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("MILESTONE_THRESHOLD", "5")
	t.Setenv("CONVERSION_FEE_RATE", "0.025")
	t.Setenv("DAILY_ISSUE_CAP", "300")
	t.Setenv("ADMIN_CHAT_ID", "-100123")
	t.Setenv("ADMIN_IDS", "11, 22")
	t.Setenv("API_RATE_LIMIT", "7")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if cfg.Milestone.Threshold != 5 || cfg.Incentive.DailyCap != 300 || cfg.AdminChatID != -100123 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if !cfg.Conversion.FeeRate.Equal(decimal.RequireFromString("0.025")) {
		t.Fatalf("fee rate = %s", cfg.Conversion.FeeRate)
	}
	if len(cfg.AdminIDs) != 2 || cfg.AdminIDs[0] != 11 || cfg.AdminIDs[1] != 22 {
		t.Fatalf("admin ids = %v", cfg.AdminIDs)
	}
	if cfg.APIRateLimit != 7 {
		t.Fatalf("api rate limit = %d", cfg.APIRateLimit)
	}
}

func TestFromEnvRequiresDatabaseForPostgres(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")
	if _, err := FromEnv(); err == nil {
		t.Fatal("expected error without DATABASE_URL")
	}
}

func TestLoadRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.toml")
	data := `
[[rule]]
id = "signup"
event_type = "signup"
amount = 250
single_shot = true
platform_credit_only = true
qualifies = true

[[rule]]
id = "upload"
event_type = "artwork_upload"
amount = 40
multiplier = 2
daily_cap = 400
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	rs, err := LoadRules(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	byEvent := make(map[string]domain.IncentiveRule)
	for _, r := range rs.Rules {
		byEvent[r.EventType] = r
	}
	if r := byEvent["signup"]; !r.SingleShot || !r.CreditsOnly || !r.Qualifies || r.Amount != 250 {
		t.Fatalf("signup rule decoded wrong: %+v", r)
	}
	if r := byEvent["artwork_upload"]; r.Reward() != 80 || r.DailyCap != 400 {
		t.Fatalf("upload rule decoded wrong: %+v", r)
	}
}

func TestLoadRulesRejectsDuplicates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.toml")
	data := `
[[rule]]
id = "a"
event_type = "signup"
amount = 1

[[rule]]
id = "b"
event_type = "signup"
amount = 1
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadRules(path); err == nil {
		t.Fatal("expected duplicate event type error")
	}
}
