package repository

import (
	"context"
	"time"

	"tola_ledger/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ConversionRepo struct {
	db *pgxpool.Pool
}

func NewConversionRepo(db *pgxpool.Pool) *ConversionRepo {
	return &ConversionRepo{db: db}
}

const conversionColumns = `id, user_id, amount, fee::text, net::text, payout::text, currency, destination,
	status, settlement_ref, failure_reason, created_at, updated_at`

func (r *ConversionRepo) CreateConversion(ctx context.Context, c *domain.ConversionRequest) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.UpdatedAt = c.CreatedAt
	_, err := r.db.Exec(ctx, `
		INSERT INTO conversion_requests
			(id, user_id, amount, fee, net, payout, currency, destination, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7, $8, $9, $10, $10)
	`, c.ID, c.UserID, c.Amount, c.Fee.String(), c.Net.String(), c.Payout.String(), c.Currency, c.Destination, c.Status, c.CreatedAt)
	return err
}

func (r *ConversionRepo) FinishConversion(ctx context.Context, c *domain.ConversionRequest) error {
	err := r.db.QueryRow(ctx, `
		UPDATE conversion_requests
		SET status = $2, settlement_ref = $3, failure_reason = $4, updated_at = now()
		WHERE id = $1 AND status = 'pending'
		RETURNING updated_at
	`, c.ID, c.Status, c.SettlementRef, c.FailureReason).Scan(&c.UpdatedAt)
	return notFound(err)
}

func (r *ConversionRepo) GetConversion(ctx context.Context, id uuid.UUID) (*domain.ConversionRequest, error) {
	row := r.db.QueryRow(ctx, `SELECT `+conversionColumns+` FROM conversion_requests WHERE id = $1`, id)
	c, err := scanConversion(row)
	if err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

func (r *ConversionRepo) ListConversionsByUser(ctx context.Context, userID int64, limit, offset int) ([]domain.ConversionRequest, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM conversion_requests WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+conversionColumns+` FROM conversion_requests
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items, err := scanConversions(rows)
	return items, total, err
}

func (r *ConversionRepo) ListPendingConversions(ctx context.Context, before time.Time) ([]domain.ConversionRequest, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+conversionColumns+` FROM conversion_requests
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at ASC
	`, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanConversions(rows)
}

func (r *ConversionRepo) ListConversionsBetween(ctx context.Context, from, to time.Time) ([]domain.ConversionRequest, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+conversionColumns+` FROM conversion_requests
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at ASC
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanConversions(rows)
}

func scanConversion(row pgx.Row) (*domain.ConversionRequest, error) {
	var c domain.ConversionRequest
	var fee, net, payout string
	err := row.Scan(&c.ID, &c.UserID, &c.Amount, &fee, &net, &payout, &c.Currency, &c.Destination,
		&c.Status, &c.SettlementRef, &c.FailureReason, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if c.Fee, err = parseDecimal(fee); err != nil {
		return nil, err
	}
	if c.Net, err = parseDecimal(net); err != nil {
		return nil, err
	}
	if c.Payout, err = parseDecimal(payout); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanConversions(rows pgx.Rows) ([]domain.ConversionRequest, error) {
	var out []domain.ConversionRequest
	for rows.Next() {
		c, err := scanConversion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}
