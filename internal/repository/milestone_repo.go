package repository

import (
	"context"
	"time"

	"tola_ledger/internal/domain"

	"github.com/jackc/pgx/v5/pgxpool"
)

type MilestoneRepo struct {
	db *pgxpool.Pool
}

func NewMilestoneRepo(db *pgxpool.Pool) *MilestoneRepo {
	return &MilestoneRepo{db: db}
}

func (r *MilestoneRepo) InitMilestone(ctx context.Context, threshold int64) (*domain.MilestoneState, error) {
	_, err := r.db.Exec(ctx, `
		INSERT INTO milestone_state (id, status, threshold) VALUES (1, 'disabled', $1)
		ON CONFLICT (id) DO NOTHING
	`, threshold)
	if err != nil {
		return nil, err
	}
	return r.GetMilestone(ctx)
}

func (r *MilestoneRepo) GetMilestone(ctx context.Context) (*domain.MilestoneState, error) {
	var m domain.MilestoneState
	err := r.db.QueryRow(ctx, `
		SELECT status, threshold, observed_count, enabled_at FROM milestone_state WHERE id = 1
	`).Scan(&m.Status, &m.Threshold, &m.ObservedCount, &m.EnabledAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

// EnableMilestone is a conditional update; only one caller sees RowsAffected 1.
func (r *MilestoneRepo) EnableMilestone(ctx context.Context, observed int64, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE milestone_state
		SET status = 'enabled', observed_count = $1, enabled_at = $2
		WHERE id = 1 AND status = 'disabled'
	`, observed, at.UTC())
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := r.GetMilestone(ctx); err != nil {
		return false, err
	}
	return false, nil
}
