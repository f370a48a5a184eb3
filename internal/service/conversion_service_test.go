package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tola_ledger/internal/domain"
	"tola_ledger/internal/settlement"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func failingSettler() settlement.Settler {
	return settlement.Func(func(context.Context, settlement.Request) (settlement.Receipt, error) {
		return settlement.Receipt{}, settlement.ErrRejected
	})
}

func TestConversionDisabledUntilMilestone(t *testing.T) {
	f := newFixture(t, fixtureOpts{threshold: 1000})
	ctx := context.Background()

	if _, err := f.ledger.Credit(ctx, 1, 500, domain.CategoryIssue, "seed"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.milestone.CheckAndMaybeEnable(ctx, 999); err != nil {
		t.Fatal(err)
	}
	if _, err := f.conversions.RequestConversion(ctx, 1, 100, testDest); !errors.Is(err, domain.ErrConversionDisabled) {
		t.Fatalf("expected disabled, got %v", err)
	}

	if _, err := f.milestone.CheckAndMaybeEnable(ctx, 1000); err != nil {
		t.Fatal(err)
	}
	req, err := f.conversions.RequestConversion(ctx, 1, 100, testDest)
	if err != nil {
		t.Fatalf("after milestone: %v", err)
	}
	if req.Status != domain.ConversionStatusCompleted {
		t.Fatalf("status = %s", req.Status)
	}
}

func TestConversionValidation(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.enable(t)
	ctx := context.Background()

	if _, err := f.ledger.CreditRestricted(ctx, 1, 50, domain.CategoryIssue, "seed"); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name   string
		amount int64
		dest   string
		want   error
	}{
		{"below minimum", 5, testDest, domain.ErrBelowMinimum},
		{"above maximum", 10001, testDest, domain.ErrAboveMaximum},
		{"bad destination", 20, "garbage", domain.ErrInvalidDestination},
		{"no destination bound", 20, "", domain.ErrInvalidDestination},
		{"insufficient credit", 100, testDest, domain.ErrInsufficientCredit},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.conversions.RequestConversion(ctx, 1, tc.amount, tc.dest); !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}

	if b := f.balances(t, 1); b.PlatformCredits != 50 || b.Balance != 0 {
		t.Fatalf("rejections changed the wallet: %+v", b)
	}
	if rem, _ := f.limiter.RemainingConvert(ctx, 1); rem != 10000 {
		t.Fatalf("rejections consumed allowance: %d", rem)
	}
}

func TestConversionSettles(t *testing.T) {
	sim := settlement.NewSimulated(0, 0)
	f := newFixture(t, fixtureOpts{settler: sim})
	f.enable(t)
	ctx := context.Background()

	if _, err := f.ledger.Credit(ctx, 1, 250, domain.CategoryIssue, "seed"); err != nil {
		t.Fatal(err)
	}

	req, err := f.conversions.RequestConversion(ctx, 1, 100, testDest)
	if err != nil {
		t.Fatal(err)
	}
	if !req.Fee.Equal(decimal.NewFromInt(1)) || !req.Net.Equal(decimal.NewFromInt(99)) {
		t.Fatalf("fee %s net %s", req.Fee, req.Net)
	}
	if req.Status != domain.ConversionStatusCompleted || req.SettlementRef == "" {
		t.Fatalf("request %+v", req)
	}
	if b := f.balances(t, 1); b.Balance != 150 {
		t.Fatalf("balance = %d, want 150", b.Balance)
	}

	settle, err := f.ledger.EntryByCorrelation(ctx, req.SettleCorrelation())
	if err != nil {
		t.Fatal(err)
	}
	if settle.Status != domain.EntryStatusCompleted || settle.Amount != 0 {
		t.Fatalf("settle entry %+v", settle)
	}

	stored, err := f.conversions.GetConversion(ctx, 1, req.ID)
	if err != nil || stored.Status != domain.ConversionStatusCompleted {
		t.Fatalf("stored %+v %v", stored, err)
	}
	if _, err := f.conversions.GetConversion(ctx, 2, req.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("other user read the request: %v", err)
	}
	if rem, _ := f.limiter.RemainingConvert(ctx, 1); rem != 9900 {
		t.Fatalf("remaining = %d", rem)
	}
}

func TestConversionTimeoutReverses(t *testing.T) {
	f := newFixture(t, fixtureOpts{settler: settlement.NewSimulated(0, time.Second), timeout: 20 * time.Millisecond})
	f.enable(t)
	ctx := context.Background()

	if _, err := f.ledger.Credit(ctx, 1, 30, domain.CategoryIssue, "seed"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ledger.CreditRestricted(ctx, 1, 100, domain.CategoryIssue, "seed-credits"); err != nil {
		t.Fatal(err)
	}
	before := f.balances(t, 1)

	req, err := f.conversions.RequestConversion(ctx, 1, 100, testDest)
	if !errors.Is(err, domain.ErrSettlementFailed) {
		t.Fatalf("expected settlement failure, got %v", err)
	}
	if req == nil || req.Status != domain.ConversionStatusFailed {
		t.Fatalf("request %+v", req)
	}
	if after := f.balances(t, 1); after != before {
		t.Fatalf("balances %+v, want %+v", after, before)
	}

	stored, err := f.store.GetConversion(ctx, req.ID)
	if err != nil || stored.Status != domain.ConversionStatusFailed || stored.FailureReason == "" {
		t.Fatalf("stored %+v %v", stored, err)
	}
	rev, err := f.ledger.EntryByCorrelation(ctx, req.ReversalCorrelation())
	if err != nil || rev.Amount != 100 || rev.RestrictedAmount != 70 {
		t.Fatalf("reversal %+v %v", rev, err)
	}
}

func TestConversionCancelledAfterDebitReverses(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	settler := settlement.Func(func(sctx context.Context, _ settlement.Request) (settlement.Receipt, error) {
		cancel()
		<-sctx.Done()
		return settlement.Receipt{}, sctx.Err()
	})
	f := newFixture(t, fixtureOpts{settler: settler})
	f.enable(t)

	if _, err := f.ledger.Credit(context.Background(), 1, 100, domain.CategoryIssue, "seed"); err != nil {
		t.Fatal(err)
	}

	req, err := f.conversions.RequestConversion(ctx, 1, 100, testDest)
	if !errors.Is(err, domain.ErrSettlementFailed) {
		t.Fatalf("expected settlement failure, got %v", err)
	}
	if b := f.balances(t, 1); b.Balance != 100 {
		t.Fatalf("balance = %d", b.Balance)
	}
	stored, _ := f.store.GetConversion(context.Background(), req.ID)
	if stored.Status != domain.ConversionStatusFailed {
		t.Fatalf("status = %s", stored.Status)
	}
}

func TestFailedSettlementKeepsSlotByDefault(t *testing.T) {
	f := newFixture(t, fixtureOpts{settler: failingSettler(), convertCap: 150})
	f.conversions.AddAlerter(f.notified)
	f.enable(t)
	ctx := context.Background()

	if _, err := f.ledger.Credit(ctx, 1, 1000, domain.CategoryIssue, "seed"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.conversions.RequestConversion(ctx, 1, 100, testDest); !errors.Is(err, domain.ErrSettlementFailed) {
		t.Fatalf("first: %v", err)
	}
	if rem, _ := f.limiter.RemainingConvert(ctx, 1); rem != 50 {
		t.Fatalf("remaining = %d", rem)
	}
	if _, err := f.conversions.RequestConversion(ctx, 1, 100, testDest); !errors.Is(err, domain.ErrDailyLimitReached) {
		t.Fatalf("second: %v", err)
	}
	if b := f.balances(t, 1); b.Balance != 1000 {
		t.Fatalf("balance = %d", b.Balance)
	}
	if len(f.notified.failed) != 1 {
		t.Fatalf("alerts = %d", len(f.notified.failed))
	}
}

func TestFailedSettlementRefundsSlotWhenConfigured(t *testing.T) {
	f := newFixture(t, fixtureOpts{settler: failingSettler(), convertCap: 150, refund: true})
	f.enable(t)
	ctx := context.Background()

	if _, err := f.ledger.Credit(ctx, 1, 1000, domain.CategoryIssue, "seed"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.conversions.RequestConversion(ctx, 1, 100, testDest); !errors.Is(err, domain.ErrSettlementFailed) {
		t.Fatalf("first: %v", err)
	}
	if rem, _ := f.limiter.RemainingConvert(ctx, 1); rem != 150 {
		t.Fatalf("remaining = %d", rem)
	}
}

func TestConcurrentConversionsNeverOverdraw(t *testing.T) {
	f := newFixture(t, fixtureOpts{convertCap: 100000})
	f.enable(t)
	ctx := context.Background()

	if _, err := f.ledger.Credit(ctx, 1, 1000, domain.CategoryIssue, "seed"); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.conversions.RequestConversion(ctx, 1, 100, testDest)
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			} else if !errors.Is(err, domain.ErrInsufficientCredit) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 10 {
		t.Fatalf("completed %d conversions", ok)
	}
	if b := f.balances(t, 1); b.Balance != 0 {
		t.Fatalf("balance = %d", b.Balance)
	}
}

func TestDestinationFallsBackToBoundWallet(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.enable(t)
	ctx := context.Background()

	if _, err := f.ledger.Credit(ctx, 1, 100, domain.CategoryIssue, "seed"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ledger.ConnectExternalWallet(ctx, 1, testDest); err != nil {
		t.Fatal(err)
	}
	req, err := f.conversions.RequestConversion(ctx, 1, 50, "")
	if err != nil {
		t.Fatal(err)
	}
	if req.Destination != testDest {
		t.Fatalf("destination = %q", req.Destination)
	}
}

func TestRecoverPending(t *testing.T) {
	sim := settlement.NewSimulated(0, 0)
	f := newFixture(t, fixtureOpts{settler: sim})
	f.enable(t)
	ctx := context.Background()

	if _, err := f.ledger.Credit(ctx, 1, 500, domain.CategoryIssue, "seed"); err != nil {
		t.Fatal(err)
	}

	old := time.Now().UTC().Add(-time.Hour)
	debited := &domain.ConversionRequest{
		ID: uuid.New(), UserID: 1, Amount: 200, Fee: decimal.NewFromInt(2), Net: decimal.NewFromInt(198),
		Payout: decimal.NewFromInt(198), Currency: "USDC", Destination: testDest,
		Status: domain.ConversionStatusPending, CreatedAt: old,
	}
	notDebited := &domain.ConversionRequest{
		ID: uuid.New(), UserID: 1, Amount: 50, Fee: decimal.Zero, Net: decimal.NewFromInt(50),
		Payout: decimal.NewFromInt(50), Currency: "USDC", Destination: testDest,
		Status: domain.ConversionStatusPending, CreatedAt: old,
	}
	for _, r := range []*domain.ConversionRequest{debited, notDebited} {
		if err := f.store.CreateConversion(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := f.ledger.Debit(ctx, 1, 200, domain.CategoryConvertDebit, debited.DebitCorrelation(), true); err != nil {
		t.Fatal(err)
	}

	stats, err := f.conversions.RecoverPending(ctx, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Scanned != 2 || stats.Completed != 1 || stats.Failed != 1 || stats.Errors != 0 {
		t.Fatalf("stats %+v", stats)
	}

	got, _ := f.store.GetConversion(ctx, debited.ID)
	if got.Status != domain.ConversionStatusCompleted || got.SettlementRef == "" {
		t.Fatalf("debited request %+v", got)
	}
	got, _ = f.store.GetConversion(ctx, notDebited.ID)
	if got.Status != domain.ConversionStatusFailed {
		t.Fatalf("undebited request %+v", got)
	}
	if b := f.balances(t, 1); b.Balance != 300 {
		t.Fatalf("balance = %d", b.Balance)
	}
}

func TestRecoverPendingSkipsInFlight(t *testing.T) {
	f := newFixture(t, fixtureOpts{timeout: time.Minute})
	f.enable(t)
	ctx := context.Background()

	if got := f.conversions.MinRecoveryAge(); got != 2*time.Minute {
		t.Fatalf("min recovery age = %v", got)
	}

	inFlight := &domain.ConversionRequest{
		ID: uuid.New(), UserID: 1, Amount: 50, Fee: decimal.Zero, Net: decimal.NewFromInt(50),
		Payout: decimal.NewFromInt(50), Currency: "USDC", Destination: testDest,
		Status: domain.ConversionStatusPending, CreatedAt: time.Now().UTC().Add(-90 * time.Second),
	}
	if err := f.store.CreateConversion(ctx, inFlight); err != nil {
		t.Fatal(err)
	}

	for _, olderThan := range []time.Duration{0, time.Second, time.Minute} {
		stats, err := f.conversions.RecoverPending(ctx, olderThan)
		if err != nil {
			t.Fatal(err)
		}
		if stats.Scanned != 0 {
			t.Fatalf("olderThan=%v touched an in-flight request: %+v", olderThan, stats)
		}
	}
	got, _ := f.store.GetConversion(ctx, inFlight.ID)
	if got.Status != domain.ConversionStatusPending {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestConversionStatusAndHistory(t *testing.T) {
	f := newFixture(t, fixtureOpts{threshold: 5})
	ctx := context.Background()

	if _, err := f.incentives.FireEvent(ctx, 1, "signup", nil); err != nil {
		t.Fatal(err)
	}
	view, err := f.conversions.Status(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if view.Enabled || view.Participants != 1 || view.Threshold != 5 || view.Convertible != 0 {
		t.Fatalf("view before %+v", view)
	}

	f.enable(t)
	for i := 0; i < 3; i++ {
		if _, err := f.conversions.RequestConversion(ctx, 1, 100, testDest); err != nil {
			t.Fatal(err)
		}
	}
	view, err = f.conversions.Status(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !view.Enabled || view.Convertible != 200 || view.DailyRemaining != 9700 {
		t.Fatalf("view after %+v", view)
	}

	page, err := f.conversions.History(ctx, 1, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 3 || len(page.Items) != 2 {
		t.Fatalf("page %+v", page)
	}
	page, _ = f.conversions.History(ctx, 1, 2, 2)
	if len(page.Items) != 1 {
		t.Fatalf("second page %+v", page)
	}
}
