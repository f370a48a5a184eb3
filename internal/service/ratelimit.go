package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"tola_ledger/internal/domain"
	"tola_ledger/internal/logger"
	"tola_ledger/internal/metrics"
	"tola_ledger/internal/repository"
)

// IssueGrant is what ReserveIssue took from the daily windows. It is needed
// to give the allowance back if the credit does not land.
type IssueGrant struct {
	Period  string
	RuleID  string
	PerRule bool
	Granted int64
}

// RateLimiter enforces per-user daily caps on issuance and conversion.
// Reservations are atomic in the window store, so concurrent callers can
// never push a window past its cap.
type RateLimiter struct {
	windows    repository.RateLimitRepository
	issueCap   int64
	convertCap int64
	now        func() time.Time
	log        *slog.Logger
}

func NewRateLimiter(windows repository.RateLimitRepository, issueCap, convertCap int64) *RateLimiter {
	return &RateLimiter{
		windows:    windows,
		issueCap:   issueCap,
		convertCap: convertCap,
		now:        time.Now,
		log:        logger.Component("ratelimit"),
	}
}

// ReserveIssue takes up to amount from the rule window (when the rule has a
// cap) and then from the global issuance window. The grant is clamped to
// what both windows allow; a zero grant is ErrDailyLimitReached.
func (r *RateLimiter) ReserveIssue(ctx context.Context, userID int64, rule domain.IncentiveRule, amount int64) (IssueGrant, error) {
	g := IssueGrant{Period: domain.DayPeriod(r.now()), RuleID: rule.ID, PerRule: rule.DailyCap > 0}

	want := amount
	if g.PerRule {
		got, err := r.windows.Reserve(ctx, userID, domain.RuleLimitType(rule.ID), g.Period, amount, rule.DailyCap, true)
		if err != nil {
			r.hit(domain.RuleLimitType(rule.ID), err)
			return IssueGrant{}, err
		}
		want = got
	}

	got, err := r.windows.Reserve(ctx, userID, domain.LimitDailyIssue, g.Period, want, r.issueCap, true)
	if err != nil {
		if g.PerRule {
			r.release(ctx, userID, domain.RuleLimitType(rule.ID), g.Period, want)
		}
		r.hit(domain.LimitDailyIssue, err)
		return IssueGrant{}, err
	}
	if g.PerRule && got < want {
		r.release(ctx, userID, domain.RuleLimitType(rule.ID), g.Period, want-got)
	}
	if got < amount {
		metrics.RateLimitHits.WithLabelValues(domain.LimitDailyIssue, "clamped").Inc()
	}
	g.Granted = got
	return g, nil
}

// ReleaseIssue gives back amount of a previous grant.
func (r *RateLimiter) ReleaseIssue(ctx context.Context, userID int64, g IssueGrant, amount int64) {
	if amount <= 0 {
		return
	}
	r.release(ctx, userID, domain.LimitDailyIssue, g.Period, amount)
	if g.PerRule {
		r.release(ctx, userID, domain.RuleLimitType(g.RuleID), g.Period, amount)
	}
}

// ReserveConvert takes amount from today's conversion window. Conversions
// are never clamped: the whole amount fits or the call fails.
func (r *RateLimiter) ReserveConvert(ctx context.Context, userID, amount int64) (string, error) {
	period := domain.DayPeriod(r.now())
	if _, err := r.windows.Reserve(ctx, userID, domain.LimitDailyConvert, period, amount, r.convertCap, false); err != nil {
		r.hit(domain.LimitDailyConvert, err)
		return "", err
	}
	return period, nil
}

// ReleaseConvert refunds a conversion reservation made in period.
func (r *RateLimiter) ReleaseConvert(ctx context.Context, userID int64, period string, amount int64) {
	r.release(ctx, userID, domain.LimitDailyConvert, period, amount)
}

// RemainingIssue returns today's global issuance allowance.
func (r *RateLimiter) RemainingIssue(ctx context.Context, userID int64) (int64, error) {
	w, err := r.windows.GetWindow(ctx, userID, domain.LimitDailyIssue, domain.DayPeriod(r.now()), r.issueCap)
	if err != nil {
		return 0, err
	}
	return w.Remaining(), nil
}

// RemainingConvert returns today's conversion allowance.
func (r *RateLimiter) RemainingConvert(ctx context.Context, userID int64) (int64, error) {
	w, err := r.windows.GetWindow(ctx, userID, domain.LimitDailyConvert, domain.DayPeriod(r.now()), r.convertCap)
	if err != nil {
		return 0, err
	}
	return w.Remaining(), nil
}

func (r *RateLimiter) release(ctx context.Context, userID int64, limitType, period string, amount int64) {
	if err := r.windows.Release(context.WithoutCancel(ctx), userID, limitType, period, amount); err != nil {
		r.log.Error("failed to release rate limit allowance",
			"user_id", userID, "limit_type", limitType, "period", period, "amount", amount, "error", err)
	}
}

func (r *RateLimiter) hit(limitType string, err error) {
	if errors.Is(err, domain.ErrDailyLimitReached) {
		metrics.RateLimitHits.WithLabelValues(limitType, "rejected").Inc()
	}
}
