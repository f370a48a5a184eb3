package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"tola_ledger/internal/config"
	"tola_ledger/internal/domain"
	"tola_ledger/internal/repository/memory"
	"tola_ledger/internal/settlement"

	"github.com/shopspring/decimal"
)

const testDest = "0:83dfd552e63729b472fcbcc8c45ebcc6691702558b68ec7527e1ba403a0f31a8"

type fixture struct {
	store       *memory.Store
	ledger      *LedgerService
	limiter     *RateLimiter
	milestone   *MilestoneService
	incentives  *IncentiveService
	conversions *ConversionService
	accounting  *AccountingService
	notified    *countingNotifier
}

type fixtureOpts struct {
	threshold  int64
	issueCap   int64
	convertCap int64
	settler    settlement.Settler
	timeout    time.Duration
	refund     bool
}

func newFixture(t *testing.T, o fixtureOpts) *fixture {
	t.Helper()
	if o.threshold == 0 {
		o.threshold = 1000
	}
	if o.issueCap == 0 {
		o.issueCap = 1000
	}
	if o.convertCap == 0 {
		o.convertCap = 10000
	}
	if o.settler == nil {
		o.settler = settlement.NewSimulated(0, 0)
	}
	if o.timeout == 0 {
		o.timeout = time.Second
	}

	store := memory.New()
	rules := config.DefaultRules().Rules

	f := &fixture{store: store, notified: &countingNotifier{}}
	f.ledger = NewLedgerService(store)
	f.limiter = NewRateLimiter(store, o.issueCap, o.convertCap)
	f.milestone = NewMilestoneService(store, store, QualifyingRuleIDs(rules), o.threshold)
	f.milestone.AddNotifier(f.notified)
	if _, err := f.milestone.Init(context.Background()); err != nil {
		t.Fatalf("init milestone: %v", err)
	}
	f.incentives = NewIncentiveService(rules, f.ledger, f.limiter, store, f.milestone)
	f.conversions = NewConversionService(ConversionPolicy{
		MinAmount:            10,
		MaxAmount:            10000,
		FeeRate:              decimal.RequireFromString("0.01"),
		ExchangeRate:         decimal.NewFromInt(1),
		Currency:             "USDC",
		SettleTimeout:        o.timeout,
		RefundLimitOnFailure: o.refund,
	}, f.ledger, store, store, f.limiter, f.milestone, o.settler)
	f.accounting = NewAccountingService(store)
	return f
}

func (f *fixture) enable(t *testing.T) {
	t.Helper()
	st, err := f.milestone.State(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.milestone.CheckAndMaybeEnable(context.Background(), st.Threshold); err != nil {
		t.Fatalf("enable: %v", err)
	}
}

func (f *fixture) balances(t *testing.T, userID int64) domain.Balances {
	t.Helper()
	b, err := f.ledger.GetBalance(context.Background(), userID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return b
}

type countingNotifier struct {
	mu     sync.Mutex
	calls  int
	failed []domain.ConversionRequest
}

func (n *countingNotifier) OnConversionEnabled(context.Context, domain.MilestoneState) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	return nil
}

func (n *countingNotifier) OnConversionFailed(_ context.Context, req domain.ConversionRequest) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, req)
	return nil
}

func (n *countingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls
}
