package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tola_ledger/internal/domain"
	"tola_ledger/internal/logger"
	"tola_ledger/internal/metrics"
	"tola_ledger/internal/repository"
	"tola_ledger/internal/settlement"
	"tola_ledger/internal/ton"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ConversionPolicy holds the conversion gate settings.
type ConversionPolicy struct {
	MinAmount     int64
	MaxAmount     int64
	FeeRate       decimal.Decimal
	ExchangeRate  decimal.Decimal
	Currency      string
	SettleTimeout time.Duration
	// RefundLimitOnFailure gives the daily conversion allowance back when
	// settlement fails. Off by default: a failed attempt still uses the slot.
	RefundLimitOnFailure bool
}

// ConversionService validates, debits and settles conversion requests.
//
// Once the debit has committed the request is no longer cancelable: caller
// cancellation, settlement errors and timeouts all end in a compensating
// reversal, and everything after the debit runs on a context detached from
// the caller.
type ConversionService struct {
	policy    ConversionPolicy
	ledger    *LedgerService
	wallets   repository.WalletRepository
	convs     repository.ConversionRepository
	limiter   *RateLimiter
	milestone *MilestoneService
	settler   settlement.Settler
	alerters  []ConversionAlerter
	publisher Publisher
	locks     *keyedMutex
	now       func() time.Time
	log       *slog.Logger
}

func NewConversionService(policy ConversionPolicy, ledger *LedgerService, wallets repository.WalletRepository,
	convs repository.ConversionRepository, limiter *RateLimiter, milestone *MilestoneService, settler settlement.Settler) *ConversionService {
	if policy.SettleTimeout <= 0 {
		policy.SettleTimeout = ton.DefaultPayoutTimeout
	}
	if policy.ExchangeRate.IsZero() {
		policy.ExchangeRate = decimal.NewFromInt(1)
	}
	return &ConversionService{
		policy:    policy,
		ledger:    ledger,
		wallets:   wallets,
		convs:     convs,
		limiter:   limiter,
		milestone: milestone,
		settler:   settler,
		publisher: nopPublisher{},
		locks:     newKeyedMutex(),
		now:       time.Now,
		log:       logger.Component("conversion"),
	}
}

func (s *ConversionService) AddAlerter(a ConversionAlerter) {
	s.alerters = append(s.alerters, a)
}

func (s *ConversionService) SetPublisher(p Publisher) {
	if p != nil {
		s.publisher = p
	}
}

// Quote computes fee, net and payout for amount.
func (s *ConversionService) Quote(amount int64) domain.ConversionQuote {
	a := decimal.NewFromInt(amount)
	fee := a.Mul(s.policy.FeeRate)
	net := a.Sub(fee)
	return domain.ConversionQuote{
		Amount:   amount,
		Fee:      fee,
		Net:      net,
		Payout:   net.Mul(s.policy.ExchangeRate),
		Currency: s.policy.Currency,
	}
}

// RequestConversion runs the whole conversion flow for one request. A
// settlement failure returns the failed request together with an error
// wrapping domain.ErrSettlementFailed.
func (s *ConversionService) RequestConversion(ctx context.Context, userID, amount int64, destination string) (*domain.ConversionRequest, error) {
	if userID <= 0 {
		return nil, domain.ErrInvalidUser
	}

	enabled, err := s.milestone.IsEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("milestone state: %w", err)
	}
	if !enabled {
		s.reject("disabled")
		return nil, domain.ErrConversionDisabled
	}

	if amount < s.policy.MinAmount {
		s.reject("below_minimum")
		return nil, domain.ErrBelowMinimum
	}
	if s.policy.MaxAmount > 0 && amount > s.policy.MaxAmount {
		s.reject("above_maximum")
		return nil, domain.ErrAboveMaximum
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	w, err := s.wallets.GetWallet(ctx, userID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	if destination == "" && w != nil {
		destination = w.Address
	}
	dest, err := ton.NormalizeAddress(destination)
	if err != nil {
		s.reject("invalid_destination")
		return nil, domain.ErrInvalidDestination
	}

	if w != nil && w.Status == domain.WalletStatusInactive {
		s.reject("inactive")
		return nil, domain.ErrWalletInactive
	}
	if w == nil || w.Convertible(enabled) < amount {
		s.reject("insufficient_credit")
		return nil, domain.ErrInsufficientCredit
	}

	period, err := s.limiter.ReserveConvert(ctx, userID, amount)
	if err != nil {
		if errors.Is(err, domain.ErrDailyLimitReached) {
			s.reject("daily_limit")
			return nil, err
		}
		return nil, fmt.Errorf("reserve conversion: %w", err)
	}

	q := s.Quote(amount)
	now := s.now().UTC()
	req := &domain.ConversionRequest{
		ID:          uuid.New(),
		UserID:      userID,
		Amount:      amount,
		Fee:         q.Fee,
		Net:         q.Net,
		Payout:      q.Payout,
		Currency:    q.Currency,
		Destination: dest,
		Status:      domain.ConversionStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.convs.CreateConversion(ctx, req); err != nil {
		s.limiter.ReleaseConvert(ctx, userID, period, amount)
		return nil, fmt.Errorf("create conversion: %w", err)
	}

	debit, err := s.ledger.Debit(ctx, userID, amount, domain.CategoryConvertDebit, req.DebitCorrelation(), enabled)
	if err != nil {
		s.limiter.ReleaseConvert(ctx, userID, period, amount)
		req.Status = domain.ConversionStatusFailed
		req.FailureReason = "debit rejected: " + err.Error()
		s.finish(context.WithoutCancel(ctx), req)
		s.reject("debit_rejected")
		if errors.Is(err, domain.ErrInsufficientBalance) {
			return nil, domain.ErrInsufficientCredit
		}
		return nil, err
	}

	// Past this point the caller's cancellation only shortens settlement.
	bg := context.WithoutCancel(ctx)
	return s.settle(ctx, bg, req, debit, period)
}

func (s *ConversionService) settle(ctx, bg context.Context, req *domain.ConversionRequest, debit *domain.LedgerEntry, period string) (*domain.ConversionRequest, error) {
	settleEntry, err := s.openSettle(bg, req)
	if err != nil {
		return req, s.fail(bg, req, debit, period, err)
	}

	settleCtx, cancel := context.WithTimeout(ctx, s.policy.SettleTimeout)
	defer cancel()

	start := time.Now()
	receipt, err := s.settler.Settle(settleCtx, settlement.Request{
		Amount:         req.Payout,
		Currency:       req.Currency,
		Destination:    req.Destination,
		IdempotencyKey: req.IdempotencyKey(),
	})
	if err != nil {
		metrics.SettlementDuration.WithLabelValues("failed").Observe(time.Since(start).Seconds())
		if settleEntry.Status == domain.EntryStatusPending {
			if ferr := s.ledger.Finalize(bg, settleEntry, domain.EntryStatusFailed); ferr != nil {
				s.log.Error("failed to close settle entry", "conversion_id", req.ID, "error", ferr)
			}
		}
		return req, s.fail(bg, req, debit, period, err)
	}
	metrics.SettlementDuration.WithLabelValues("completed").Observe(time.Since(start).Seconds())

	if settleEntry.Status == domain.EntryStatusPending {
		if err := s.ledger.Finalize(bg, settleEntry, domain.EntryStatusCompleted); err != nil && !errors.Is(err, domain.ErrDuplicateCorrelation) {
			// paid out already; the request stays pending and recovery finishes it
			s.log.Error("failed to complete settle entry", "conversion_id", req.ID, "error", err)
			return req, err
		}
	}

	req.Status = domain.ConversionStatusCompleted
	req.SettlementRef = receipt.Reference
	if err := s.finish(bg, req); err != nil {
		return req, err
	}
	metrics.Conversions.WithLabelValues("completed").Inc()
	s.log.Info("conversion completed", "conversion_id", req.ID, "user_id", req.UserID,
		"amount", req.Amount, "payout", req.Payout.String(), "ref", receipt.Reference)
	s.publisher.Publish(req.UserID, EventConversion, req)
	return req, nil
}

func (s *ConversionService) openSettle(ctx context.Context, req *domain.ConversionRequest) (*domain.LedgerEntry, error) {
	if e, err := s.ledger.EntryByCorrelation(ctx, req.SettleCorrelation()); err == nil && e.Status != domain.EntryStatusFailed {
		return e, nil
	}
	return s.ledger.OpenPending(ctx, req.UserID, domain.CategoryConvertSettle, req.SettleCorrelation(), map[string]any{
		"conversion_id":   req.ID.String(),
		"idempotency_key": req.IdempotencyKey(),
	})
}

// fail reverses the debit and marks the request failed. If the reversal
// itself cannot be written the request is left pending for RecoverPending.
func (s *ConversionService) fail(ctx context.Context, req *domain.ConversionRequest, debit *domain.LedgerEntry, period string, cause error) error {
	if _, err := s.ledger.Reverse(ctx, debit, req.ReversalCorrelation()); err != nil && !errors.Is(err, domain.ErrDuplicateCorrelation) {
		s.log.Error("reversal failed, conversion left pending", "conversion_id", req.ID, "user_id", req.UserID, "error", err)
		metrics.Conversions.WithLabelValues("stuck").Inc()
		return fmt.Errorf("reverse conversion %s: %w", req.ID, err)
	}

	if s.policy.RefundLimitOnFailure && period != "" {
		s.limiter.ReleaseConvert(ctx, req.UserID, period, req.Amount)
	}

	req.Status = domain.ConversionStatusFailed
	req.FailureReason = cause.Error()
	if err := s.finish(ctx, req); err != nil {
		return err
	}
	metrics.Conversions.WithLabelValues("reversed").Inc()
	s.log.Warn("conversion failed and reversed", "conversion_id", req.ID, "user_id", req.UserID,
		"amount", req.Amount, "reason", req.FailureReason)

	for _, a := range s.alerters {
		if err := a.OnConversionFailed(ctx, *req); err != nil {
			s.log.Error("conversion alerter failed", "error", err)
		}
	}
	s.publisher.Publish(req.UserID, EventConversion, req)
	return fmt.Errorf("%w: %v", domain.ErrSettlementFailed, cause)
}

func (s *ConversionService) finish(ctx context.Context, req *domain.ConversionRequest) error {
	req.UpdatedAt = s.now().UTC()
	if err := s.convs.FinishConversion(ctx, req); err != nil {
		s.log.Error("failed to store conversion outcome", "conversion_id", req.ID, "status", req.Status, "error", err)
		return fmt.Errorf("finish conversion %s: %w", req.ID, err)
	}
	return nil
}

// RecoveryStats summarises a RecoverPending pass.
type RecoveryStats struct {
	Scanned   int `json:"scanned"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Errors    int `json:"errors"`
}

// MinRecoveryAge is the youngest a pending request may be before recovery
// touches it. Anything younger may still be in flight in another process.
func (s *ConversionService) MinRecoveryAge() time.Duration {
	return 2 * s.policy.SettleTimeout
}

// RecoverPending finishes requests left pending by a crash between the
// debit and the settlement outcome. Settlement is retried with the same
// idempotency key so an earlier payout is not repeated. olderThan is raised
// to MinRecoveryAge when smaller; zero means exactly that age.
func (s *ConversionService) RecoverPending(ctx context.Context, olderThan time.Duration) (RecoveryStats, error) {
	var stats RecoveryStats
	if floor := s.MinRecoveryAge(); olderThan < floor {
		olderThan = floor
	}
	pending, err := s.convs.ListPendingConversions(ctx, s.now().Add(-olderThan))
	if err != nil {
		return stats, err
	}

	for i := range pending {
		req := &pending[i]
		stats.Scanned++
		if err := s.recoverOne(ctx, req); err != nil && !errors.Is(err, domain.ErrSettlementFailed) {
			stats.Errors++
			s.log.Error("recovery failed", "conversion_id", req.ID, "error", err)
			continue
		}
		switch req.Status {
		case domain.ConversionStatusCompleted:
			stats.Completed++
		case domain.ConversionStatusFailed:
			stats.Failed++
		}
	}
	s.log.Info("pending conversions recovered", "scanned", stats.Scanned,
		"completed", stats.Completed, "failed", stats.Failed, "errors", stats.Errors)
	return stats, nil
}

func (s *ConversionService) recoverOne(ctx context.Context, req *domain.ConversionRequest) error {
	unlock := s.locks.Lock(req.UserID)
	defer unlock()

	debit, err := s.ledger.EntryByCorrelation(ctx, req.DebitCorrelation())
	if errors.Is(err, domain.ErrNotFound) || (err == nil && debit.Status != domain.EntryStatusCompleted) {
		// never debited: nothing to pay out or reverse
		s.limiter.ReleaseConvert(ctx, req.UserID, domain.DayPeriod(req.CreatedAt), req.Amount)
		req.Status = domain.ConversionStatusFailed
		req.FailureReason = "interrupted before debit"
		return s.finish(ctx, req)
	}
	if err != nil {
		return err
	}

	if rev, err := s.ledger.EntryByCorrelation(ctx, req.ReversalCorrelation()); err == nil && rev.Status == domain.EntryStatusCompleted {
		req.Status = domain.ConversionStatusFailed
		req.FailureReason = "reversed before restart"
		return s.finish(ctx, req)
	}

	_, err = s.settle(ctx, context.WithoutCancel(ctx), req, debit, domain.DayPeriod(req.CreatedAt))
	return err
}

// GetConversion returns one of the user's requests.
func (s *ConversionService) GetConversion(ctx context.Context, userID int64, id uuid.UUID) (*domain.ConversionRequest, error) {
	req, err := s.convs.GetConversion(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return req, nil
}

// History returns the user's requests newest first.
func (s *ConversionService) History(ctx context.Context, userID int64, page, perPage int) (*domain.ConversionPage, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	items, total, err := s.convs.ListConversionsByUser(ctx, userID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.ConversionRequest{}
	}
	return &domain.ConversionPage{Items: items, Total: total, Page: page, PerPage: perPage}, nil
}

// Status describes whether and how much the user can convert right now.
func (s *ConversionService) Status(ctx context.Context, userID int64) (*domain.ConversionStatusView, error) {
	st, err := s.milestone.State(ctx)
	if err != nil {
		return nil, err
	}
	participants := st.ObservedCount
	if !st.Enabled() {
		if participants, err = s.milestone.ParticipantCount(ctx); err != nil {
			return nil, err
		}
	}
	remaining, err := s.limiter.RemainingConvert(ctx, userID)
	if err != nil {
		return nil, err
	}

	view := &domain.ConversionStatusView{
		Enabled:        st.Enabled(),
		Participants:   participants,
		Threshold:      st.Threshold,
		MinAmount:      s.policy.MinAmount,
		MaxAmount:      s.policy.MaxAmount,
		FeeRate:        s.policy.FeeRate,
		ExchangeRate:   s.policy.ExchangeRate,
		Currency:       s.policy.Currency,
		DailyRemaining: remaining,
	}

	w, err := s.wallets.GetWallet(ctx, userID)
	switch {
	case err == nil:
		view.Convertible = w.Convertible(st.Enabled())
		view.HasExternalBound = w.Address != ""
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}
	return view, nil
}

func (s *ConversionService) reject(reason string) {
	metrics.Conversions.WithLabelValues("rejected_" + reason).Inc()
}
