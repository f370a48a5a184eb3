package repository

import (
	"context"
	"time"

	"tola_ledger/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type DistributionRepo struct {
	db *pgxpool.Pool
}

func NewDistributionRepo(db *pgxpool.Pool) *DistributionRepo {
	return &DistributionRepo{db: db}
}

const distributionColumns = `id, user_id, rule_id, amount, single_shot, correlation_id, context, created_at`

func (r *DistributionRepo) CreateDistribution(ctx context.Context, d *domain.IncentiveDistribution) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO incentive_distributions (`+distributionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, d.ID, d.UserID, d.RuleID, d.Amount, d.SingleShot, d.CorrelationID, d.Context, d.CreatedAt)
	if err != nil {
		if constraint, ok := uniqueViolation(err); ok {
			if constraint == "incentive_distributions_single_shot" {
				return domain.ErrAlreadyClaimed
			}
			return domain.ErrDuplicateCorrelation
		}
		return err
	}
	return nil
}

func (r *DistributionRepo) HasDistribution(ctx context.Context, userID int64, ruleID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM incentive_distributions WHERE user_id = $1 AND rule_id = $2)
	`, userID, ruleID).Scan(&exists)
	return exists, err
}

func (r *DistributionRepo) GetDistributionByCorrelation(ctx context.Context, correlationID string) (*domain.IncentiveDistribution, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+distributionColumns+` FROM incentive_distributions WHERE correlation_id = $1
	`, correlationID)
	d, err := scanDistribution(row)
	if err != nil {
		return nil, notFound(err)
	}
	return d, nil
}

func (r *DistributionRepo) ListRecentDistributions(ctx context.Context, userID int64, limit int) ([]domain.IncentiveDistribution, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+distributionColumns+` FROM incentive_distributions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDistributions(rows)
}

func (r *DistributionRepo) ListDistributionsBetween(ctx context.Context, from, to time.Time) ([]domain.IncentiveDistribution, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+distributionColumns+` FROM incentive_distributions
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at ASC
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDistributions(rows)
}

func (r *DistributionRepo) CountParticipants(ctx context.Context, ruleIDs []string) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(DISTINCT user_id) FROM incentive_distributions WHERE rule_id = ANY($1)
	`, ruleIDs).Scan(&n)
	return n, err
}

func scanDistribution(row pgx.Row) (*domain.IncentiveDistribution, error) {
	var d domain.IncentiveDistribution
	if err := row.Scan(&d.ID, &d.UserID, &d.RuleID, &d.Amount, &d.SingleShot, &d.CorrelationID, &d.Context, &d.CreatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

func scanDistributions(rows pgx.Rows) ([]domain.IncentiveDistribution, error) {
	var out []domain.IncentiveDistribution
	for rows.Next() {
		d, err := scanDistribution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}
