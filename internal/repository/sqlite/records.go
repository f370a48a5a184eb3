package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"tola_ledger/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ---------- distributions ----------

const distributionColumns = `id, user_id, rule_id, amount, single_shot, correlation_id, context, created_at`

func (s *Store) CreateDistribution(ctx context.Context, d *domain.IncentiveDistribution) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	payload, err := encodeJSON(d.Context)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO incentive_distributions (`+distributionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID.String(), d.UserID, d.RuleID, d.Amount, d.SingleShot, d.CorrelationID, payload, formatTime(d.CreatedAt))
	if isUnique(err) {
		if strings.Contains(err.Error(), "correlation_id") {
			return domain.ErrDuplicateCorrelation
		}
		return domain.ErrAlreadyClaimed
	}
	return err
}

func (s *Store) HasDistribution(ctx context.Context, userID int64, ruleID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM incentive_distributions WHERE user_id = ? AND rule_id = ?
	`, userID, ruleID).Scan(&n)
	return n > 0, err
}

func scanDistribution(row scanner) (*domain.IncentiveDistribution, error) {
	var d domain.IncentiveDistribution
	var id, created string
	var payload sql.NullString
	err := row.Scan(&id, &d.UserID, &d.RuleID, &d.Amount, &d.SingleShot, &d.CorrelationID, &payload, &created)
	if err != nil {
		return nil, err
	}
	if d.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if d.Context, err = decodeJSON(payload); err != nil {
		return nil, err
	}
	if d.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) GetDistributionByCorrelation(ctx context.Context, correlationID string) (*domain.IncentiveDistribution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+distributionColumns+` FROM incentive_distributions WHERE correlation_id = ?`, correlationID)
	d, err := scanDistribution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return d, err
}

func (s *Store) listDistributions(ctx context.Context, query string, args ...any) ([]domain.IncentiveDistribution, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
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

func (s *Store) ListRecentDistributions(ctx context.Context, userID int64, limit int) ([]domain.IncentiveDistribution, error) {
	return s.listDistributions(ctx, `
		SELECT `+distributionColumns+` FROM incentive_distributions
		WHERE user_id = ? ORDER BY created_at DESC LIMIT ?
	`, userID, limit)
}

func (s *Store) ListDistributionsBetween(ctx context.Context, from, to time.Time) ([]domain.IncentiveDistribution, error) {
	return s.listDistributions(ctx, `
		SELECT `+distributionColumns+` FROM incentive_distributions
		WHERE created_at >= ? AND created_at < ? ORDER BY created_at ASC
	`, formatTime(from), formatTime(to))
}

func (s *Store) CountParticipants(ctx context.Context, ruleIDs []string) (int64, error) {
	if len(ruleIDs) == 0 {
		return 0, nil
	}
	args := make([]any, len(ruleIDs))
	for i, id := range ruleIDs {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ruleIDs)), ",")
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT user_id) FROM incentive_distributions WHERE rule_id IN (`+placeholders+`)
	`, args...).Scan(&n)
	return n, err
}

// ---------- conversions ----------

const conversionColumns = `id, user_id, amount, fee, net, payout, currency, destination,
	status, settlement_ref, failure_reason, created_at, updated_at`

func (s *Store) CreateConversion(ctx context.Context, r *domain.ConversionRequest) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	r.UpdatedAt = r.CreatedAt
	_, err := s.db.ExecContext(ctx, `INSERT INTO conversion_requests (`+conversionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(), r.UserID, r.Amount, r.Fee.String(), r.Net.String(), r.Payout.String(), r.Currency, r.Destination,
		r.Status, r.SettlementRef, r.FailureReason, formatTime(r.CreatedAt), formatTime(r.UpdatedAt))
	return err
}

func (s *Store) FinishConversion(ctx context.Context, r *domain.ConversionRequest) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversion_requests SET status = ?, settlement_ref = ?, failure_reason = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'
	`, r.Status, r.SettlementRef, r.FailureReason, formatTime(now), r.ID.String())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	r.UpdatedAt = now
	return nil
}

func scanConversion(row scanner) (*domain.ConversionRequest, error) {
	var r domain.ConversionRequest
	var id, fee, net, payout, created, updated string
	err := row.Scan(&id, &r.UserID, &r.Amount, &fee, &net, &payout, &r.Currency, &r.Destination,
		&r.Status, &r.SettlementRef, &r.FailureReason, &created, &updated)
	if err != nil {
		return nil, err
	}
	if r.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if r.Fee, err = decimal.NewFromString(fee); err != nil {
		return nil, err
	}
	if r.Net, err = decimal.NewFromString(net); err != nil {
		return nil, err
	}
	if r.Payout, err = decimal.NewFromString(payout); err != nil {
		return nil, err
	}
	if r.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) listConversions(ctx context.Context, query string, args ...any) ([]domain.ConversionRequest, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ConversionRequest
	for rows.Next() {
		r, err := scanConversion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *Store) GetConversion(ctx context.Context, id uuid.UUID) (*domain.ConversionRequest, error) {
	r, err := scanConversion(s.db.QueryRowContext(ctx, `SELECT `+conversionColumns+` FROM conversion_requests WHERE id = ?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return r, err
}

func (s *Store) ListConversionsByUser(ctx context.Context, userID int64, limit, offset int) ([]domain.ConversionRequest, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversion_requests WHERE user_id = ?`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}
	items, err := s.listConversions(ctx, `
		SELECT `+conversionColumns+` FROM conversion_requests
		WHERE user_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?
	`, userID, limit, offset)
	return items, total, err
}

func (s *Store) ListPendingConversions(ctx context.Context, before time.Time) ([]domain.ConversionRequest, error) {
	return s.listConversions(ctx, `
		SELECT `+conversionColumns+` FROM conversion_requests
		WHERE status = 'pending' AND created_at < ? ORDER BY created_at ASC
	`, formatTime(before))
}

func (s *Store) ListConversionsBetween(ctx context.Context, from, to time.Time) ([]domain.ConversionRequest, error) {
	return s.listConversions(ctx, `
		SELECT `+conversionColumns+` FROM conversion_requests
		WHERE created_at >= ? AND created_at < ? ORDER BY created_at ASC
	`, formatTime(from), formatTime(to))
}

// ---------- rate limit windows ----------

func (s *Store) Reserve(ctx context.Context, userID int64, limitType, period string, amount, limit int64, clamp bool) (int64, error) {
	if amount <= 0 {
		return 0, domain.ErrInvalidAmount
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO rate_limit_windows (user_id, limit_type, period, used, cap) VALUES (?, ?, ?, 0, ?)
		ON CONFLICT(user_id, limit_type, period) DO NOTHING
	`, userID, limitType, period, limit)
	if err != nil {
		return 0, err
	}
	w := domain.RateLimitWindow{Cap: limit}
	err = tx.QueryRowContext(ctx, `
		SELECT used FROM rate_limit_windows WHERE user_id = ? AND limit_type = ? AND period = ?
	`, userID, limitType, period).Scan(&w.Used)
	if err != nil {
		return 0, err
	}
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
	_, err = tx.ExecContext(ctx, `
		UPDATE rate_limit_windows SET used = used + ?, cap = ? WHERE user_id = ? AND limit_type = ? AND period = ?
	`, granted, limit, userID, limitType, period)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return granted, nil
}

func (s *Store) Release(ctx context.Context, userID int64, limitType, period string, amount int64) error {
	if amount <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE rate_limit_windows SET used = MAX(used - ?, 0) WHERE user_id = ? AND limit_type = ? AND period = ?
	`, amount, userID, limitType, period)
	return err
}

func (s *Store) GetWindow(ctx context.Context, userID int64, limitType, period string, limit int64) (domain.RateLimitWindow, error) {
	w := domain.RateLimitWindow{UserID: userID, LimitType: limitType, Period: period, Cap: limit}
	err := s.db.QueryRowContext(ctx, `
		SELECT used FROM rate_limit_windows WHERE user_id = ? AND limit_type = ? AND period = ?
	`, userID, limitType, period).Scan(&w.Used)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return w, err
	}
	return w, nil
}

// ---------- milestone ----------

func (s *Store) InitMilestone(ctx context.Context, threshold int64) (*domain.MilestoneState, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO milestone_state (id, status, threshold) VALUES (1, 'disabled', ?)
		ON CONFLICT(id) DO NOTHING
	`, threshold)
	if err != nil {
		return nil, err
	}
	return s.GetMilestone(ctx)
}

func (s *Store) GetMilestone(ctx context.Context) (*domain.MilestoneState, error) {
	var m domain.MilestoneState
	var enabledAt sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT status, threshold, observed_count, enabled_at FROM milestone_state WHERE id = 1
	`).Scan(&m.Status, &m.Threshold, &m.ObservedCount, &enabledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if enabledAt.Valid {
		t, err := parseTime(enabledAt.String)
		if err != nil {
			return nil, err
		}
		m.EnabledAt = &t
	}
	return &m, nil
}

func (s *Store) EnableMilestone(ctx context.Context, observed int64, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE milestone_state SET status = 'enabled', observed_count = ?, enabled_at = ?
		WHERE id = 1 AND status = 'disabled'
	`, observed, formatTime(at))
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return true, nil
	}
	if _, err := s.GetMilestone(ctx); err != nil {
		return false, err
	}
	return false, nil
}

// ---------- reports ----------

func (s *Store) SaveReport(ctx context.Context, r *domain.Report) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reports (type, period, data, generated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(type, period) DO UPDATE SET data = excluded.data, generated_at = excluded.generated_at
	`, r.Type, r.Period, string(data), formatTime(r.GeneratedAt))
	return err
}

func scanReport(row scanner) (*domain.Report, error) {
	var data string
	if err := row.Scan(&data); err != nil {
		return nil, err
	}
	var r domain.Report
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) GetReport(ctx context.Context, typ domain.ReportType, period string) (*domain.Report, error) {
	r, err := scanReport(s.db.QueryRowContext(ctx, `SELECT data FROM reports WHERE type = ? AND period = ?`, typ, period))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return r, err
}

func (s *Store) ListReports(ctx context.Context, typ domain.ReportType, limit int) ([]domain.Report, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM reports WHERE type = ? ORDER BY period DESC LIMIT ?`, typ, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}
