package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	LedgerEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tola_ledger_entries_total",
			Help: "Completed ledger entries by category",
		},
		[]string{"category"},
	)
	LedgerRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tola_ledger_rejected_total",
			Help: "Ledger operations rejected by reason",
		},
		[]string{"reason"},
	)
	IncentiveEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tola_incentive_events_total",
			Help: "Qualifying events processed by rule and outcome",
		},
		[]string{"rule", "outcome"},
	)
	IncentiveCredited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tola_incentive_credited_total",
			Help: "TOLA credited by incentive rule",
		},
		[]string{"rule"},
	)
	Conversions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tola_conversions_total",
			Help: "Conversion requests by outcome",
		},
		[]string{"outcome"},
	)
	SettlementDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tola_settlement_duration_seconds",
			Help:    "Latency of settlement calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
	MilestoneEnabled = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tola_milestone_enabled",
			Help: "1 once conversion has been enabled by the participant milestone",
		},
	)
	MilestoneParticipants = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tola_milestone_participants",
			Help: "Last observed qualified participant count",
		},
	)
	RateLimitHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tola_rate_limit_hits_total",
			Help: "Daily window clamps and rejections",
		},
		[]string{"limit_type", "result"},
	)
	ReportsGenerated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tola_reports_generated_total",
			Help: "Reports generated by type",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(LedgerEntries)
	prometheus.MustRegister(LedgerRejected)
	prometheus.MustRegister(IncentiveEvents)
	prometheus.MustRegister(IncentiveCredited)
	prometheus.MustRegister(Conversions)
	prometheus.MustRegister(SettlementDuration)
	prometheus.MustRegister(MilestoneEnabled)
	prometheus.MustRegister(MilestoneParticipants)
	prometheus.MustRegister(RateLimitHits)
	prometheus.MustRegister(ReportsGenerated)
}
