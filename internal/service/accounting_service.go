package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"tola_ledger/internal/domain"
	"tola_ledger/internal/logger"
	"tola_ledger/internal/metrics"
	"tola_ledger/internal/repository"

	"github.com/shopspring/decimal"
)

// AccountingStore is what report generation reads and writes.
type AccountingStore interface {
	ListEntriesBetween(ctx context.Context, from, to time.Time) ([]domain.LedgerEntry, error)
	ListDistributionsBetween(ctx context.Context, from, to time.Time) ([]domain.IncentiveDistribution, error)
	ListConversionsBetween(ctx context.Context, from, to time.Time) ([]domain.ConversionRequest, error)
	repository.ReportRepository
}

// AccountingService builds period reports from the ledger.
type AccountingService struct {
	store AccountingStore
	now   func() time.Time
	log   *slog.Logger
}

func NewAccountingService(store AccountingStore) *AccountingService {
	return &AccountingService{store: store, now: time.Now, log: logger.Component("accounting")}
}

// GenerateReport aggregates one period and stores the snapshot, replacing
// any earlier report for the same period. The report is built in memory
// and written in a single save.
func (s *AccountingService) GenerateReport(ctx context.Context, typ domain.ReportType, period string) (*domain.Report, error) {
	from, to, err := domain.PeriodBounds(typ, period)
	if err != nil {
		return nil, err
	}

	entries, err := s.store.ListEntriesBetween(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}
	dists, err := s.store.ListDistributionsBetween(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("load distributions: %w", err)
	}
	convs, err := s.store.ListConversionsBetween(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("load conversions: %w", err)
	}

	rep := &domain.Report{Type: typ, Period: period, GeneratedAt: s.now().UTC()}
	t := &rep.Totals
	t.FeesCollected = decimal.Zero
	t.PayoutTotal = decimal.Zero

	earners := make(map[int64]struct{})
	for i := range entries {
		e := &entries[i]
		if e.Status != domain.EntryStatusCompleted {
			continue
		}
		t.LedgerEntries++
		switch e.Category {
		case domain.CategoryIssue:
			t.IssuedAmount += e.Amount
			t.IssuedCount++
			earners[e.UserID] = struct{}{}
		case domain.CategoryConvertReversal:
			t.ReversedAmount += e.Amount
		case domain.CategoryTransfer:
			if e.Amount > 0 {
				t.TransferVolume += e.Amount
			}
		}
	}
	t.DistinctEarners = int64(len(earners))

	converters := make(map[int64]struct{})
	for i := range convs {
		c := &convs[i]
		switch c.Status {
		case domain.ConversionStatusCompleted:
			t.ConvertedAmount += c.Amount
			t.ConvertedCount++
			t.FeesCollected = t.FeesCollected.Add(c.Fee)
			t.PayoutTotal = t.PayoutTotal.Add(c.Payout)
			converters[c.UserID] = struct{}{}
		case domain.ConversionStatusFailed:
			t.FailedConversions++
		}
	}
	t.DistinctConverters = int64(len(converters))

	type ruleAgg struct {
		total domain.RuleTotal
		users map[int64]struct{}
	}
	byRule := make(map[string]*ruleAgg)
	var distributed int64
	for i := range dists {
		d := &dists[i]
		agg, ok := byRule[d.RuleID]
		if !ok {
			agg = &ruleAgg{total: domain.RuleTotal{RuleID: d.RuleID}, users: make(map[int64]struct{})}
			byRule[d.RuleID] = agg
		}
		agg.total.Amount += d.Amount
		agg.total.Count++
		agg.users[d.UserID] = struct{}{}
		distributed += d.Amount
	}
	t.DistributionCount = int64(len(dists))

	rep.RuleTotals = make([]domain.RuleTotal, 0, len(byRule))
	for _, agg := range byRule {
		agg.total.Users = int64(len(agg.users))
		rep.RuleTotals = append(rep.RuleTotals, agg.total)
	}
	sort.Slice(rep.RuleTotals, func(i, j int) bool { return rep.RuleTotals[i].RuleID < rep.RuleTotals[j].RuleID })

	rep.Reconciled = distributed == t.IssuedAmount && t.DistributionCount == t.IssuedCount
	if !rep.Reconciled {
		s.log.Warn("report does not reconcile", "type", typ, "period", period,
			"issued", t.IssuedAmount, "distributed", distributed)
	}

	if err := s.store.SaveReport(ctx, rep); err != nil {
		return nil, fmt.Errorf("save report: %w", err)
	}
	metrics.ReportsGenerated.WithLabelValues(string(typ)).Inc()
	s.log.Info("report generated", "type", typ, "period", period,
		"issued", t.IssuedAmount, "converted", t.ConvertedAmount, "entries", t.LedgerEntries)
	return rep, nil
}

// GetReport returns domain.ErrNotFound for periods never generated.
func (s *AccountingService) GetReport(ctx context.Context, typ domain.ReportType, period string) (*domain.Report, error) {
	if _, _, err := domain.PeriodBounds(typ, period); err != nil {
		return nil, err
	}
	return s.store.GetReport(ctx, typ, period)
}

func (s *AccountingService) ListReports(ctx context.Context, typ domain.ReportType, limit int) ([]domain.Report, error) {
	if limit <= 0 || limit > 366 {
		limit = 30
	}
	return s.store.ListReports(ctx, typ, limit)
}

// PreviousPeriod returns the key of the period before the one containing t.
func PreviousPeriod(typ domain.ReportType, t time.Time) string {
	t = t.UTC()
	if typ == domain.ReportMonthly {
		first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
		return first.AddDate(0, -1, 0).Format("2006-01")
	}
	return t.AddDate(0, 0, -1).Format("2006-01-02")
}
