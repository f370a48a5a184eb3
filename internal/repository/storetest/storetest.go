// Package storetest holds behaviour tests every repository.Store must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"tola_ledger/internal/domain"
	"tola_ledger/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Factory returns a fresh, empty store.
type Factory func(t *testing.T) repository.Store

// RunRateLimit exercises a standalone rate limit window backend.
func RunRateLimit(t *testing.T, newRepo func(t *testing.T) repository.RateLimitRepository) {
	t.Run("RateLimitWindows", func(t *testing.T) { testWindows(t, newRepo(t)) })
}

// Run executes the whole suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("ApplyEntriesMovesBuckets", func(t *testing.T) { testApplyEntries(t, newStore(t)) })
	t.Run("DuplicateCorrelation", func(t *testing.T) { testDuplicateCorrelation(t, newStore(t)) })
	t.Run("InsufficientBalanceLeavesWallet", func(t *testing.T) { testInsufficient(t, newStore(t)) })
	t.Run("InactiveWallet", func(t *testing.T) { testInactive(t, newStore(t)) })
	t.Run("PendingEntryFinalize", func(t *testing.T) { testFinalize(t, newStore(t)) })
	t.Run("ConcurrentCredits", func(t *testing.T) { testConcurrentCredits(t, newStore(t)) })
	t.Run("ReplayWallet", func(t *testing.T) { testReplayWallet(t, newStore(t)) })
	t.Run("ReplayDuringCredits", func(t *testing.T) { testReplayDuringCredits(t, newStore(t)) })
	t.Run("Distributions", func(t *testing.T) { testDistributions(t, newStore(t)) })
	t.Run("Conversions", func(t *testing.T) { testConversions(t, newStore(t)) })
	t.Run("RateLimitWindows", func(t *testing.T) { testWindows(t, newStore(t)) })
	t.Run("Milestone", func(t *testing.T) { testMilestone(t, newStore(t)) })
	t.Run("Reports", func(t *testing.T) { testReports(t, newStore(t)) })
}

func wallet(t *testing.T, s repository.Store, userID int64) *domain.Wallet {
	t.Helper()
	w, err := s.GetWallet(context.Background(), userID)
	if err != nil {
		t.Fatalf("get wallet %d: %v", userID, err)
	}
	return w
}

func testApplyEntries(t *testing.T, s repository.Store) {
	ctx := context.Background()
	if _, err := s.GetWallet(ctx, 1); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := s.ApplyEntries(ctx, domain.NewEntry(1, 500, 500, domain.CategoryIssue, "c-1")); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := s.ApplyEntries(ctx, domain.NewEntry(1, 100, 0, domain.CategoryIssue, "c-2")); err != nil {
		t.Fatalf("apply: %v", err)
	}
	w := wallet(t, s, 1)
	if w.Balance != 100 || w.PlatformCredits != 500 {
		t.Fatalf("got balance=%d credits=%d", w.Balance, w.PlatformCredits)
	}
	if err := s.ApplyEntries(ctx, domain.NewEntry(1, -150, -50, domain.CategoryConvertDebit, "c-3")); err != nil {
		t.Fatalf("debit: %v", err)
	}
	w = wallet(t, s, 1)
	if w.Balance != 0 || w.PlatformCredits != 450 {
		t.Fatalf("after debit balance=%d credits=%d", w.Balance, w.PlatformCredits)
	}
	entries, err := s.ListEntriesByUser(ctx, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	e, err := s.GetEntryByCorrelation(ctx, "c-3")
	if err != nil {
		t.Fatalf("by correlation: %v", err)
	}
	if e.Amount != -150 || e.RestrictedAmount != -50 || e.Category != domain.CategoryConvertDebit {
		t.Fatalf("unexpected entry %+v", e)
	}
}

func testDuplicateCorrelation(t *testing.T, s repository.Store) {
	ctx := context.Background()
	if err := s.ApplyEntries(ctx, domain.NewEntry(2, 10, 0, domain.CategoryIssue, "dup")); err != nil {
		t.Fatalf("apply: %v", err)
	}
	err := s.ApplyEntries(ctx, domain.NewEntry(2, 10, 0, domain.CategoryIssue, "dup"))
	if !errors.Is(err, domain.ErrDuplicateCorrelation) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	if w := wallet(t, s, 2); w.Balance != 10 {
		t.Fatalf("duplicate moved balance: %d", w.Balance)
	}
}

func testInsufficient(t *testing.T, s repository.Store) {
	ctx := context.Background()
	if err := s.ApplyEntries(ctx, domain.NewEntry(3, 50, 0, domain.CategoryIssue, "in-1")); err != nil {
		t.Fatalf("apply: %v", err)
	}
	// second leg is invalid so the whole batch must be rejected
	err := s.ApplyEntries(ctx,
		domain.NewEntry(4, 20, 0, domain.CategoryTransfer, "in-2"),
		domain.NewEntry(3, -100, 0, domain.CategoryTransfer, "in-3"),
	)
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient, got %v", err)
	}
	if w := wallet(t, s, 3); w.Balance != 50 {
		t.Fatalf("balance changed to %d", w.Balance)
	}
	if _, err := s.GetEntryByCorrelation(ctx, "in-2"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("partial batch visible: %v", err)
	}
}

func testInactive(t *testing.T, s repository.Store) {
	ctx := context.Background()
	if _, err := s.EnsureWallet(ctx, 5); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := s.SetWalletStatus(ctx, 5, domain.WalletStatusInactive); err != nil {
		t.Fatalf("status: %v", err)
	}
	err := s.ApplyEntries(ctx, domain.NewEntry(5, 10, 0, domain.CategoryIssue, "ia-1"))
	if !errors.Is(err, domain.ErrWalletInactive) {
		t.Fatalf("expected inactive, got %v", err)
	}
	w, err := s.BindAddress(ctx, 5, "0:abc")
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	if w.Address != "0:abc" || w.Status != domain.WalletStatusInactive {
		t.Fatalf("unexpected wallet %+v", w)
	}
}

func testFinalize(t *testing.T, s repository.Store) {
	ctx := context.Background()
	e := domain.NewEntry(6, 0, 0, domain.CategoryConvertSettle, "settle-1")
	e.Status = domain.EntryStatusPending
	if err := s.ApplyEntries(ctx, e); err != nil {
		t.Fatalf("apply pending: %v", err)
	}
	if err := s.FinalizeEntry(ctx, e.ID, domain.EntryStatusCompleted); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	got, err := s.GetEntryByCorrelation(ctx, "settle-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.EntryStatusCompleted {
		t.Fatalf("status %s", got.Status)
	}
	if err := s.FinalizeEntry(ctx, e.ID, domain.EntryStatusFailed); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("completed entry must be immutable, got %v", err)
	}
}

func testConcurrentCredits(t *testing.T, s repository.Store) {
	ctx := context.Background()
	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.ApplyEntries(ctx, domain.NewEntry(7, 5, 0, domain.CategoryIssue, uuid.NewString()))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent apply: %v", err)
		}
	}
	if w := wallet(t, s, 7); w.Balance != 5*n {
		t.Fatalf("lost update: balance=%d", w.Balance)
	}
}

func testReplayWallet(t *testing.T, s repository.Store) {
	ctx := context.Background()
	if _, err := s.ReplayWallet(ctx, 3); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if err := s.ApplyEntries(ctx, domain.NewEntry(3, 90, 20, domain.CategoryIssue, "r-1")); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := s.ApplyEntries(ctx, domain.NewEntry(3, -30, 0, domain.CategoryConvertDebit, "r-2")); err != nil {
		t.Fatalf("apply: %v", err)
	}
	pending := domain.NewEntry(3, 0, 0, domain.CategoryConvertSettle, "r-3")
	pending.Status = domain.EntryStatusPending
	if err := s.ApplyEntries(ctx, pending); err != nil {
		t.Fatalf("apply pending: %v", err)
	}

	res, err := s.ReplayWallet(ctx, 3)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	want := domain.Balances{Balance: 40, PlatformCredits: 20}
	if res.Repaired || res.Entries != 2 || res.Stored != want || res.Replayed != want {
		t.Fatalf("replay %+v", res)
	}
	if w := wallet(t, s, 3); w.Balance != 40 || w.PlatformCredits != 20 {
		t.Fatalf("replay changed a consistent wallet: %+v", w)
	}
}

// Replays racing credits must never write back a stale sum.
func testReplayDuringCredits(t *testing.T, s repository.Store) {
	ctx := context.Background()
	const n = 20
	if err := s.ApplyEntries(ctx, domain.NewEntry(8, 100, 0, domain.CategoryIssue, "seed")); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2*n)
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			errs <- s.ApplyEntries(ctx, domain.NewEntry(8, 70, 0, domain.CategoryIssue, uuid.NewString()))
		}()
		go func() {
			defer wg.Done()
			res, err := s.ReplayWallet(ctx, 8)
			if err == nil && res.Repaired {
				err = fmt.Errorf("repaired consistent wallet: %+v", res)
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent replay: %v", err)
		}
	}
	if w := wallet(t, s, 8); w.Balance != 100+70*n {
		t.Fatalf("balance=%d, want %d", w.Balance, 100+70*n)
	}
}

func testDistributions(t *testing.T, s repository.Store) {
	ctx := context.Background()
	d := &domain.IncentiveDistribution{UserID: 8, RuleID: "signup", Amount: 500, SingleShot: true, CorrelationID: "d-1",
		Context: map[string]any{"source": "test"}}
	if err := s.CreateDistribution(ctx, d); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := s.CreateDistribution(ctx, &domain.IncentiveDistribution{UserID: 8, RuleID: "signup", Amount: 500, SingleShot: true, CorrelationID: "d-2"})
	if !errors.Is(err, domain.ErrAlreadyClaimed) {
		t.Fatalf("expected already claimed, got %v", err)
	}
	for i, corr := range []string{"d-3", "d-4"} {
		if err := s.CreateDistribution(ctx, &domain.IncentiveDistribution{UserID: int64(8 + i), RuleID: "upload", Amount: 100, CorrelationID: corr}); err != nil {
			t.Fatalf("create repeatable: %v", err)
		}
	}
	err = s.CreateDistribution(ctx, &domain.IncentiveDistribution{UserID: 8, RuleID: "upload", Amount: 100, CorrelationID: "d-3"})
	if !errors.Is(err, domain.ErrDuplicateCorrelation) {
		t.Fatalf("expected duplicate correlation, got %v", err)
	}
	ok, err := s.HasDistribution(ctx, 8, "signup")
	if err != nil || !ok {
		t.Fatalf("has distribution: %v %v", ok, err)
	}
	recent, err := s.ListRecentDistributions(ctx, 8, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 recent, got %d", len(recent))
	}
	got, err := s.GetDistributionByCorrelation(ctx, "d-1")
	if err != nil {
		t.Fatalf("by correlation: %v", err)
	}
	if got.Context["source"] != "test" {
		t.Fatalf("context lost: %+v", got.Context)
	}
	n, err := s.CountParticipants(ctx, []string{"signup", "upload"})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 participants, got %d", n)
	}
	n, _ = s.CountParticipants(ctx, []string{"signup"})
	if n != 1 {
		t.Fatalf("expected 1 participant, got %d", n)
	}
}

func testConversions(t *testing.T, s repository.Store) {
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		r := &domain.ConversionRequest{
			ID:          uuid.New(),
			UserID:      10,
			Amount:      100,
			Fee:         decimal.NewFromInt(1),
			Net:         decimal.NewFromInt(99),
			Payout:      decimal.RequireFromString("99.5"),
			Currency:    "USDC",
			Destination: "0:dest",
			Status:      domain.ConversionStatusPending,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.CreateConversion(ctx, r); err != nil {
			t.Fatalf("create: %v", err)
		}
		ids = append(ids, r.ID)
	}
	done := &domain.ConversionRequest{ID: ids[0], Status: domain.ConversionStatusCompleted, SettlementRef: "tx-1"}
	if err := s.FinishConversion(ctx, done); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if err := s.FinishConversion(ctx, &domain.ConversionRequest{ID: ids[0], Status: domain.ConversionStatusFailed}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("terminal request must not change, got %v", err)
	}
	got, err := s.GetConversion(ctx, ids[0])
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.ConversionStatusCompleted || got.SettlementRef != "tx-1" || !got.Payout.Equal(decimal.RequireFromString("99.5")) {
		t.Fatalf("unexpected conversion %+v", got)
	}
	page, total, err := s.ListConversionsByUser(ctx, 10, 2, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 3 || len(page) != 2 || page[0].ID != ids[2] {
		t.Fatalf("bad page total=%d len=%d", total, len(page))
	}
	pending, err := s.ListPendingConversions(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != ids[1] {
		t.Fatalf("expected 2 pending oldest first, got %d", len(pending))
	}
	between, err := s.ListConversionsBetween(ctx, base, base.Add(90*time.Second))
	if err != nil {
		t.Fatalf("between: %v", err)
	}
	if len(between) != 2 {
		t.Fatalf("expected 2 in range, got %d", len(between))
	}
}

func testWindows(t *testing.T, s repository.RateLimitRepository) {
	ctx := context.Background()
	got, err := s.Reserve(ctx, 11, domain.LimitDailyIssue, "2026-10-19", 700, 1000, true)
	if err != nil || got != 700 {
		t.Fatalf("reserve: %d %v", got, err)
	}
	got, err = s.Reserve(ctx, 11, domain.LimitDailyIssue, "2026-10-19", 500, 1000, true)
	if err != nil || got != 300 {
		t.Fatalf("clamped reserve: %d %v", got, err)
	}
	if _, err := s.Reserve(ctx, 11, domain.LimitDailyIssue, "2026-10-19", 1, 1000, true); !errors.Is(err, domain.ErrDailyLimitReached) {
		t.Fatalf("expected limit, got %v", err)
	}
	// a new day is a new window
	if got, err := s.Reserve(ctx, 11, domain.LimitDailyIssue, "2026-10-20", 10, 1000, true); err != nil || got != 10 {
		t.Fatalf("rollover: %d %v", got, err)
	}
	if _, err := s.Reserve(ctx, 11, domain.LimitDailyConvert, "2026-10-19", 600, 500, false); !errors.Is(err, domain.ErrDailyLimitReached) {
		t.Fatalf("expected reject, got %v", err)
	}
	if err := s.Release(ctx, 11, domain.LimitDailyIssue, "2026-10-19", 200); err != nil {
		t.Fatalf("release: %v", err)
	}
	w, err := s.GetWindow(ctx, 11, domain.LimitDailyIssue, "2026-10-19", 1000)
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	if w.Used != 800 || w.Remaining() != 200 {
		t.Fatalf("unexpected window %+v", w)
	}
	empty, err := s.GetWindow(ctx, 12, domain.LimitDailyConvert, "2026-10-19", 50)
	if err != nil || empty.Used != 0 || empty.Remaining() != 50 {
		t.Fatalf("empty window %+v %v", empty, err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var total int64
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g, err := s.Reserve(ctx, 13, domain.LimitDailyIssue, "2026-10-19", 100, 1000, true)
			if err == nil {
				mu.Lock()
				total += g
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if total != 1000 {
		t.Fatalf("concurrent reservations granted %d, want 1000", total)
	}
}

func testMilestone(t *testing.T, s repository.Store) {
	ctx := context.Background()
	m, err := s.InitMilestone(ctx, 3)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if m.Enabled() || m.Threshold != 3 {
		t.Fatalf("unexpected initial state %+v", m)
	}
	// re-init keeps the existing row
	if m, _ := s.InitMilestone(ctx, 99); m.Threshold != 3 {
		t.Fatalf("threshold overwritten: %d", m.Threshold)
	}
	var wg sync.WaitGroup
	wins := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.EnableMilestone(ctx, 3, time.Now())
			if err != nil {
				t.Errorf("enable: %v", err)
			}
			wins <- ok
		}()
	}
	wg.Wait()
	close(wins)
	count := 0
	for ok := range wins {
		if ok {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one transition, got %d", count)
	}
	m, err = s.GetMilestone(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !m.Enabled() || m.ObservedCount != 3 || m.EnabledAt == nil {
		t.Fatalf("unexpected state %+v", m)
	}
}

func testReports(t *testing.T, s repository.Store) {
	ctx := context.Background()
	if _, err := s.GetReport(ctx, domain.ReportDaily, "2026-10-19"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	r := &domain.Report{
		Type:        domain.ReportDaily,
		Period:      "2026-10-19",
		Totals:      domain.ReportTotals{IssuedAmount: 10, FeesCollected: decimal.NewFromInt(1), PayoutTotal: decimal.Zero},
		RuleTotals:  []domain.RuleTotal{{RuleID: "signup", Amount: 10, Count: 1, Users: 1}},
		GeneratedAt: time.Now().UTC(),
	}
	if err := s.SaveReport(ctx, r); err != nil {
		t.Fatalf("save: %v", err)
	}
	r2 := *r
	r2.Totals.IssuedAmount = 20
	if err := s.SaveReport(ctx, &r2); err != nil {
		t.Fatalf("replace: %v", err)
	}
	got, err := s.GetReport(ctx, domain.ReportDaily, "2026-10-19")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Totals.IssuedAmount != 20 || len(got.RuleTotals) != 1 {
		t.Fatalf("unexpected report %+v", got)
	}
	list, err := s.ListReports(ctx, domain.ReportDaily, 10)
	if err != nil || len(list) != 1 {
		t.Fatalf("list: %d %v", len(list), err)
	}
}
