// Package repository defines one storage interface per ledger entity and the
// PostgreSQL implementation of them. Embedded and in-memory implementations
// live in the sqlite and memory subpackages.
package repository

import (
	"context"
	"time"

	"tola_ledger/internal/domain"

	"github.com/google/uuid"
)

type WalletRepository interface {
	// GetWallet returns domain.ErrNotFound when the user has no wallet.
	GetWallet(ctx context.Context, userID int64) (*domain.Wallet, error)
	EnsureWallet(ctx context.Context, userID int64) (*domain.Wallet, error)
	BindAddress(ctx context.Context, userID int64, address string) (*domain.Wallet, error)
	SetWalletStatus(ctx context.Context, userID int64, status domain.WalletStatus) error
	// ReplayWallet recomputes the balances from completed entries and, when
	// they disagree with the wallet row, overwrites the row. Reading the log
	// and writing the repair happen under the same wallet lock, so no credit
	// can land in between.
	ReplayWallet(ctx context.Context, userID int64) (*domain.WalletReplay, error)
}

type LedgerRepository interface {
	// ApplyEntries appends entries and applies every completed one to its
	// wallet in a single atomic unit. Missing wallets are created. The whole
	// batch fails with domain.ErrDuplicateCorrelation if a completed entry
	// with the same correlation id exists, with domain.ErrInsufficientBalance
	// if any bucket would go negative and with domain.ErrWalletInactive for
	// deactivated wallets.
	ApplyEntries(ctx context.Context, entries ...*domain.LedgerEntry) error
	// FinalizeEntry moves a pending zero-amount entry to completed or failed.
	FinalizeEntry(ctx context.Context, id uuid.UUID, status domain.EntryStatus) error
	// GetEntryByCorrelation prefers the completed entry when several share the id.
	GetEntryByCorrelation(ctx context.Context, correlationID string) (*domain.LedgerEntry, error)
	ListEntriesByUser(ctx context.Context, userID int64) ([]domain.LedgerEntry, error)
	ListEntriesBetween(ctx context.Context, from, to time.Time) ([]domain.LedgerEntry, error)
}

type DistributionRepository interface {
	// CreateDistribution fails with domain.ErrAlreadyClaimed when a
	// single-shot row for (user, rule) exists and with
	// domain.ErrDuplicateCorrelation when the correlation id was recorded.
	CreateDistribution(ctx context.Context, d *domain.IncentiveDistribution) error
	HasDistribution(ctx context.Context, userID int64, ruleID string) (bool, error)
	GetDistributionByCorrelation(ctx context.Context, correlationID string) (*domain.IncentiveDistribution, error)
	ListRecentDistributions(ctx context.Context, userID int64, limit int) ([]domain.IncentiveDistribution, error)
	ListDistributionsBetween(ctx context.Context, from, to time.Time) ([]domain.IncentiveDistribution, error)
	// CountParticipants counts distinct users with a distribution for any of ruleIDs.
	CountParticipants(ctx context.Context, ruleIDs []string) (int64, error)
}

type ConversionRepository interface {
	CreateConversion(ctx context.Context, r *domain.ConversionRequest) error
	// FinishConversion writes the terminal status of a pending request.
	// It returns domain.ErrNotFound if the request is not pending.
	FinishConversion(ctx context.Context, r *domain.ConversionRequest) error
	GetConversion(ctx context.Context, id uuid.UUID) (*domain.ConversionRequest, error)
	ListConversionsByUser(ctx context.Context, userID int64, limit, offset int) ([]domain.ConversionRequest, int, error)
	ListPendingConversions(ctx context.Context, before time.Time) ([]domain.ConversionRequest, error)
	ListConversionsBetween(ctx context.Context, from, to time.Time) ([]domain.ConversionRequest, error)
}

type RateLimitRepository interface {
	// Reserve atomically consumes up to amount from the window. With clamp
	// the grant is reduced to what is left; without it the whole amount must
	// fit. A zero grant returns domain.ErrDailyLimitReached.
	Reserve(ctx context.Context, userID int64, limitType, period string, amount, limit int64, clamp bool) (int64, error)
	// Release gives back a previous grant. Usage never drops below zero.
	Release(ctx context.Context, userID int64, limitType, period string, amount int64) error
	GetWindow(ctx context.Context, userID int64, limitType, period string, limit int64) (domain.RateLimitWindow, error)
}

type MilestoneRepository interface {
	// InitMilestone creates the singleton in the disabled state if missing.
	InitMilestone(ctx context.Context, threshold int64) (*domain.MilestoneState, error)
	GetMilestone(ctx context.Context) (*domain.MilestoneState, error)
	// EnableMilestone performs the disabled to enabled transition and
	// reports whether this call was the one that made it.
	EnableMilestone(ctx context.Context, observed int64, at time.Time) (bool, error)
}

type ReportRepository interface {
	// SaveReport replaces any report for the same (type, period) atomically.
	SaveReport(ctx context.Context, r *domain.Report) error
	GetReport(ctx context.Context, typ domain.ReportType, period string) (*domain.Report, error)
	ListReports(ctx context.Context, typ domain.ReportType, limit int) ([]domain.Report, error)
}

// Store is the full persisted state layout.
type Store interface {
	WalletRepository
	LedgerRepository
	DistributionRepository
	ConversionRepository
	RateLimitRepository
	MilestoneRepository
	ReportRepository

	Ping(ctx context.Context) error
	Close() error
}
