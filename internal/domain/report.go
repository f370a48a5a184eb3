package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ReportType is the aggregation granularity.
type ReportType string

const (
	ReportDaily   ReportType = "daily"
	ReportMonthly ReportType = "monthly"
)

// Report is an immutable snapshot of aggregated totals for one period.
type Report struct {
	Type       ReportType   `json:"type"`
	Period     string       `json:"period"`
	Totals     ReportTotals `json:"totals"`
	RuleTotals []RuleTotal  `json:"rule_totals"`
	// Reconciled is false when issued ledger credits and distribution rows
	// disagree for the period.
	Reconciled  bool      `json:"reconciled"`
	GeneratedAt time.Time `json:"generated_at"`
}

// ReportTotals are the headline numbers of a report.
type ReportTotals struct {
	IssuedAmount       int64           `json:"issued_amount"`
	IssuedCount        int64           `json:"issued_count"`
	ConvertedAmount    int64           `json:"converted_amount"`
	ConvertedCount     int64           `json:"converted_count"`
	ReversedAmount     int64           `json:"reversed_amount"`
	FailedConversions  int64           `json:"failed_conversions"`
	TransferVolume     int64           `json:"transfer_volume"`
	FeesCollected      decimal.Decimal `json:"fees_collected"`
	PayoutTotal        decimal.Decimal `json:"payout_total"`
	LedgerEntries      int64           `json:"ledger_entries"`
	DistinctEarners    int64           `json:"distinct_earners"`
	DistinctConverters int64           `json:"distinct_converters"`
	DistributionCount  int64           `json:"distribution_count"`
}

// RuleTotal is the per-rule issuance breakdown.
type RuleTotal struct {
	RuleID string `json:"rule_id"`
	Amount int64  `json:"amount"`
	Count  int64  `json:"count"`
	Users  int64  `json:"users"`
}

// PeriodBounds parses a period key and returns its [from, to) UTC range.
func PeriodBounds(typ ReportType, period string) (time.Time, time.Time, error) {
	switch typ {
	case ReportDaily:
		from, err := time.Parse("2006-01-02", period)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, period)
		}
		return from, from.AddDate(0, 0, 1), nil
	case ReportMonthly:
		from, err := time.Parse("2006-01", period)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, period)
		}
		return from, from.AddDate(0, 1, 0), nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("%w: unknown report type %q", ErrInvalidPeriod, typ)
	}
}
