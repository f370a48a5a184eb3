package repository

import (
	"context"
	"errors"

	"tola_ledger/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RateLimitRepo stores one row per (user, limit type, day).
type RateLimitRepo struct {
	db *pgxpool.Pool
}

func NewRateLimitRepo(db *pgxpool.Pool) *RateLimitRepo {
	return &RateLimitRepo{db: db}
}

func (r *RateLimitRepo) Reserve(ctx context.Context, userID int64, limitType, period string, amount, limit int64, clamp bool) (int64, error) {
	if amount <= 0 {
		return 0, domain.ErrInvalidAmount
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO rate_limit_windows (user_id, limit_type, period, used, cap)
		VALUES ($1, $2, $3, 0, $4)
		ON CONFLICT (user_id, limit_type, period) DO NOTHING
	`, userID, limitType, period, limit)
	if err != nil {
		return 0, err
	}

	var used int64
	err = tx.QueryRow(ctx, `
		SELECT used FROM rate_limit_windows
		WHERE user_id = $1 AND limit_type = $2 AND period = $3
		FOR UPDATE
	`, userID, limitType, period).Scan(&used)
	if err != nil {
		return 0, err
	}

	w := domain.RateLimitWindow{Used: used, Cap: limit}
	granted := amount
	if granted > w.Remaining() {
		if !clamp {
			return 0, domain.ErrDailyLimitReached
		}
		granted = w.Remaining()
	}
	if granted <= 0 {
		return 0, domain.ErrDailyLimitReached
	}

	_, err = tx.Exec(ctx, `
		UPDATE rate_limit_windows SET used = used + $4, cap = $5
		WHERE user_id = $1 AND limit_type = $2 AND period = $3
	`, userID, limitType, period, granted, limit)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return granted, nil
}

func (r *RateLimitRepo) Release(ctx context.Context, userID int64, limitType, period string, amount int64) error {
	if amount <= 0 {
		return nil
	}
	_, err := r.db.Exec(ctx, `
		UPDATE rate_limit_windows SET used = GREATEST(used - $4, 0)
		WHERE user_id = $1 AND limit_type = $2 AND period = $3
	`, userID, limitType, period, amount)
	return err
}

func (r *RateLimitRepo) GetWindow(ctx context.Context, userID int64, limitType, period string, limit int64) (domain.RateLimitWindow, error) {
	w := domain.RateLimitWindow{UserID: userID, LimitType: limitType, Period: period, Cap: limit}
	err := r.db.QueryRow(ctx, `
		SELECT used FROM rate_limit_windows
		WHERE user_id = $1 AND limit_type = $2 AND period = $3
	`, userID, limitType, period).Scan(&w.Used)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return w, err
	}
	return w, nil
}
