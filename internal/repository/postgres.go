package repository

import (
	"context"
	"errors"
	"fmt"

	"tola_ledger/internal/domain"
	"tola_ledger/internal/migrations"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store on PostgreSQL. Per-wallet serialisation comes
// from SELECT ... FOR UPDATE row locks taken in user id order.
type PGStore struct {
	db *pgxpool.Pool

	*WalletRepo
	*LedgerRepo
	*DistributionRepo
	*ConversionRepo
	*RateLimitRepo
	*MilestoneRepo
	*ReportRepo
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{
		db:               db,
		WalletRepo:       NewWalletRepo(db),
		LedgerRepo:       NewLedgerRepo(db),
		DistributionRepo: NewDistributionRepo(db),
		ConversionRepo:   NewConversionRepo(db),
		RateLimitRepo:    NewRateLimitRepo(db),
		MilestoneRepo:    NewMilestoneRepo(db),
		ReportRepo:       NewReportRepo(db),
	}
}

func (s *PGStore) Ping(ctx context.Context) error { return s.db.Ping(ctx) }

func (s *PGStore) Close() error {
	s.db.Close()
	return nil
}

// Migrate applies every embedded schema file. The files are idempotent.
func (s *PGStore) Migrate(ctx context.Context) ([]string, error) {
	all, err := migrations.All()
	if err != nil {
		return nil, fmt.Errorf("load migrations: %w", err)
	}
	var applied []string
	for _, m := range all {
		if _, err := s.db.Exec(ctx, m.SQL); err != nil {
			return applied, fmt.Errorf("apply %s: %w", m.Name, err)
		}
		applied = append(applied, m.Name)
	}
	return applied, nil
}

// uniqueViolation returns the violated constraint name for SQLSTATE 23505.
func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName, true
	}
	return "", false
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
