package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"tola_ledger/internal/domain"
	"tola_ledger/internal/settlement"

	"github.com/shopspring/decimal"
)

func TestGenerateDailyReport(t *testing.T) {
	calls := 0
	flaky := settlement.Func(func(ctx context.Context, req settlement.Request) (settlement.Receipt, error) {
		calls++
		if calls == 2 {
			return settlement.Receipt{}, settlement.ErrRejected
		}
		return settlement.Receipt{Reference: "tx-" + req.IdempotencyKey}, nil
	})
	f := newFixture(t, fixtureOpts{settler: flaky})
	ctx := context.Background()

	for user := int64(1); user <= 3; user++ {
		if _, err := f.incentives.FireEvent(ctx, user, "signup", nil); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := f.incentives.FireEvent(ctx, 1, "artwork_upload", map[string]any{EventNonceKey: "a"}); err != nil {
		t.Fatal(err)
	}
	f.enable(t)
	if _, err := f.ledger.Transfer(ctx, 1, 3, 40, "gift"); err != nil {
		t.Fatal(err)
	}

	if _, err := f.conversions.RequestConversion(ctx, 1, 100, testDest); err != nil {
		t.Fatal(err)
	}
	if _, err := f.conversions.RequestConversion(ctx, 2, 100, testDest); !errors.Is(err, domain.ErrSettlementFailed) {
		t.Fatalf("second conversion: %v", err)
	}

	period := domain.DayPeriod(time.Now())
	rep, err := f.accounting.GenerateReport(ctx, domain.ReportDaily, period)
	if err != nil {
		t.Fatal(err)
	}

	tot := rep.Totals
	if tot.IssuedAmount != 1600 || tot.IssuedCount != 4 || tot.DistinctEarners != 3 {
		t.Fatalf("issuance totals %+v", tot)
	}
	if tot.ConvertedAmount != 100 || tot.ConvertedCount != 1 || tot.DistinctConverters != 1 || tot.FailedConversions != 1 {
		t.Fatalf("conversion totals %+v", tot)
	}
	if !tot.FeesCollected.Equal(decimal.NewFromInt(1)) || !tot.PayoutTotal.Equal(decimal.NewFromInt(99)) {
		t.Fatalf("fees %s payout %s", tot.FeesCollected, tot.PayoutTotal)
	}
	if tot.ReversedAmount != 100 || tot.TransferVolume != 40 {
		t.Fatalf("reversed %d transfer %d", tot.ReversedAmount, tot.TransferVolume)
	}
	if !rep.Reconciled {
		t.Fatal("report should reconcile")
	}
	if len(rep.RuleTotals) != 2 || rep.RuleTotals[0].RuleID != "artwork_upload" || rep.RuleTotals[1].Users != 3 {
		t.Fatalf("rule totals %+v", rep.RuleTotals)
	}

	// regenerating replaces rather than adds
	again, err := f.accounting.GenerateReport(ctx, domain.ReportDaily, period)
	if err != nil {
		t.Fatal(err)
	}
	if again.Totals.IssuedAmount != tot.IssuedAmount {
		t.Fatalf("regeneration changed totals: %d", again.Totals.IssuedAmount)
	}
	stored, err := f.accounting.GetReport(ctx, domain.ReportDaily, period)
	if err != nil || stored.Totals.IssuedAmount != 1600 {
		t.Fatalf("stored %+v %v", stored, err)
	}
	list, _ := f.accounting.ListReports(ctx, domain.ReportDaily, 10)
	if len(list) != 1 {
		t.Fatalf("reports = %d", len(list))
	}

	monthly, err := f.accounting.GenerateReport(ctx, domain.ReportMonthly, time.Now().UTC().Format("2006-01"))
	if err != nil || monthly.Totals.IssuedAmount != 1600 {
		t.Fatalf("monthly %+v %v", monthly, err)
	}
}

func TestReportExcludesPendingAndFailedEntries(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	if _, err := f.ledger.Credit(ctx, 1, 100, domain.CategoryIssue, "issue:1:x"); err != nil {
		t.Fatal(err)
	}
	pending, err := f.ledger.OpenPending(ctx, 1, domain.CategoryConvertSettle, "conv:x:settle", nil)
	if err != nil {
		t.Fatal(err)
	}
	failed, err := f.ledger.OpenPending(ctx, 1, domain.CategoryConvertSettle, "conv:y:settle", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.ledger.Finalize(ctx, failed, domain.EntryStatusFailed); err != nil {
		t.Fatal(err)
	}
	_ = pending

	rep, err := f.accounting.GenerateReport(ctx, domain.ReportDaily, domain.DayPeriod(time.Now()))
	if err != nil {
		t.Fatal(err)
	}
	if rep.Totals.LedgerEntries != 1 || rep.Totals.IssuedAmount != 100 {
		t.Fatalf("totals %+v", rep.Totals)
	}
	// credit without a distribution row
	if rep.Reconciled {
		t.Fatal("unmatched credit reported as reconciled")
	}
}

func TestReportPeriods(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	if _, err := f.accounting.GenerateReport(ctx, domain.ReportDaily, "2024-13-01"); !errors.Is(err, domain.ErrInvalidPeriod) {
		t.Fatalf("bad day: %v", err)
	}
	if _, err := f.accounting.GenerateReport(ctx, "weekly", "2024-01"); !errors.Is(err, domain.ErrInvalidPeriod) {
		t.Fatalf("bad type: %v", err)
	}
	if _, err := f.accounting.GetReport(ctx, domain.ReportDaily, "2020-01-01"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing report: %v", err)
	}

	rep, err := f.accounting.GenerateReport(ctx, domain.ReportDaily, "2020-01-01")
	if err != nil {
		t.Fatal(err)
	}
	if rep.Totals.IssuedAmount != 0 || !rep.Reconciled {
		t.Fatalf("empty period %+v", rep)
	}

	ref := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	if got := PreviousPeriod(domain.ReportDaily, ref); got != "2024-02-29" {
		t.Fatalf("previous day = %s", got)
	}
	if got := PreviousPeriod(domain.ReportMonthly, ref); got != "2024-02" {
		t.Fatalf("previous month = %s", got)
	}
}
