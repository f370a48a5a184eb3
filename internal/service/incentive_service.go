package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"tola_ledger/internal/domain"
	"tola_ledger/internal/logger"
	"tola_ledger/internal/metrics"
	"tola_ledger/internal/repository"

	"github.com/google/uuid"
)

// EventNonceKey is the context field that makes a repeatable event
// idempotent across redeliveries.
const EventNonceKey = "event_id"

// IncentiveService turns qualifying events into credits.
type IncentiveService struct {
	rules     map[string]domain.IncentiveRule
	ledger    *LedgerService
	limiter   *RateLimiter
	dists     repository.DistributionRepository
	milestone *MilestoneService
	publisher Publisher
	locks     *keyedMutex
	log       *slog.Logger
}

func NewIncentiveService(rules []domain.IncentiveRule, ledger *LedgerService, limiter *RateLimiter,
	dists repository.DistributionRepository, milestone *MilestoneService) *IncentiveService {
	byEvent := make(map[string]domain.IncentiveRule, len(rules))
	for _, r := range rules {
		byEvent[r.EventType] = r
	}
	return &IncentiveService{
		rules:     byEvent,
		ledger:    ledger,
		limiter:   limiter,
		dists:     dists,
		milestone: milestone,
		publisher: nopPublisher{},
		locks:     newKeyedMutex(),
		log:       logger.Component("incentive"),
	}
}

func (s *IncentiveService) SetPublisher(p Publisher) {
	if p != nil {
		s.publisher = p
	}
}

// QualifyingRuleIDs returns the ids of rules that count toward the milestone.
func QualifyingRuleIDs(rules []domain.IncentiveRule) []string {
	var ids []string
	for _, r := range rules {
		if r.Qualifies {
			ids = append(ids, r.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

// Rules returns the configured rules ordered by id.
func (s *IncentiveService) Rules() []domain.IncentiveRule {
	out := make([]domain.IncentiveRule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CorrelationID derives the idempotency key of one rule firing. Single-shot
// rules use (user, rule) only, so concurrent duplicates collide in the ledger.
func CorrelationID(userID int64, rule domain.IncentiveRule, contextData map[string]any) string {
	base := fmt.Sprintf("issue:%d:%s", userID, rule.ID)
	if rule.SingleShot {
		return base
	}
	if v, ok := contextData[EventNonceKey]; ok && v != nil {
		if nonce := fmt.Sprint(v); nonce != "" {
			return base + ":" + nonce
		}
	}
	return base + ":" + uuid.NewString()
}

// FireEvent applies the rule configured for eventType to the user.
//
// AlreadyClaimed and DuplicateCorrelation come back together with a result
// flagged Duplicate; callers treat them as success. DailyLimitReached comes
// back with a zero-credit result.
func (s *IncentiveService) FireEvent(ctx context.Context, userID int64, eventType string, contextData map[string]any) (*domain.DistributionResult, error) {
	if userID <= 0 {
		return nil, domain.ErrInvalidUser
	}
	rule, ok := s.rules[eventType]
	if !ok {
		metrics.IncentiveEvents.WithLabelValues("unknown", "unknown_event").Inc()
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownEventType, eventType)
	}

	corr := CorrelationID(userID, rule, contextData)
	res := &domain.DistributionResult{RuleID: rule.ID, Requested: rule.Reward(), CorrelationID: corr}

	unlock := s.locks.Lock(userID)
	defer unlock()

	if rule.SingleShot {
		claimed, err := s.dists.HasDistribution(ctx, userID, rule.ID)
		if err != nil {
			return nil, fmt.Errorf("check distribution: %w", err)
		}
		if claimed {
			res.Duplicate = true
			s.outcome(rule, "already_claimed")
			return res, domain.ErrAlreadyClaimed
		}
	}

	if existing, err := s.ledger.EntryByCorrelation(ctx, corr); err == nil && existing.Status == domain.EntryStatusCompleted {
		return s.duplicate(ctx, rule, res, existing, contextData)
	} else if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("lookup correlation: %w", err)
	}

	grant, err := s.limiter.ReserveIssue(ctx, userID, rule, res.Requested)
	if err != nil {
		if errors.Is(err, domain.ErrDailyLimitReached) {
			s.outcome(rule, "limit_reached")
			return res, err
		}
		return nil, fmt.Errorf("reserve issuance: %w", err)
	}
	res.Credited = grant.Granted
	res.Clamped = grant.Granted < res.Requested

	var entry *domain.LedgerEntry
	if rule.CreditsOnly {
		entry, err = s.ledger.CreditRestricted(ctx, userID, grant.Granted, domain.CategoryIssue, corr)
	} else {
		entry, err = s.ledger.Credit(ctx, userID, grant.Granted, domain.CategoryIssue, corr)
	}
	if err != nil {
		s.limiter.ReleaseIssue(ctx, userID, grant, grant.Granted)
		if errors.Is(err, domain.ErrDuplicateCorrelation) {
			res.Credited, res.Clamped = 0, false
			if existing, lerr := s.ledger.EntryByCorrelation(ctx, corr); lerr == nil {
				return s.duplicate(ctx, rule, res, existing, contextData)
			}
			res.Duplicate = true
			return res, err
		}
		s.outcome(rule, "error")
		return nil, err
	}
	res.EntryID = &entry.ID

	dist := &domain.IncentiveDistribution{
		ID:            uuid.New(),
		UserID:        userID,
		RuleID:        rule.ID,
		Amount:        entry.Amount,
		SingleShot:    rule.SingleShot,
		CorrelationID: corr,
		Context:       contextData,
		CreatedAt:     entry.CreatedAt,
	}
	if err := s.dists.CreateDistribution(context.WithoutCancel(ctx), dist); err != nil && !domain.IsBenign(err) {
		// the credit is committed; a redelivery of the event rebuilds the row
		s.log.Error("failed to record distribution", "user_id", userID, "rule", rule.ID, "correlation_id", corr, "error", err)
		return res, fmt.Errorf("record distribution: %w", err)
	}

	s.outcome(rule, "credited")
	metrics.IncentiveCredited.WithLabelValues(rule.ID).Add(float64(res.Credited))
	s.log.Info("incentive credited", "user_id", userID, "rule", rule.ID, "amount", res.Credited, "clamped", res.Clamped)
	s.publisher.Publish(userID, EventDistribution, res)

	if rule.Qualifies && s.milestone != nil {
		if _, err := s.milestone.Refresh(context.WithoutCancel(ctx)); err != nil {
			s.log.Error("milestone refresh failed", "error", err)
		}
	}
	return res, nil
}

// duplicate handles a redelivered event whose credit already landed. If the
// distribution row is missing (crash after the credit) it is rebuilt.
func (s *IncentiveService) duplicate(ctx context.Context, rule domain.IncentiveRule, res *domain.DistributionResult,
	entry *domain.LedgerEntry, contextData map[string]any) (*domain.DistributionResult, error) {
	res.Duplicate = true
	res.EntryID = &entry.ID

	if _, err := s.dists.GetDistributionByCorrelation(ctx, res.CorrelationID); errors.Is(err, domain.ErrNotFound) {
		dist := &domain.IncentiveDistribution{
			ID:            uuid.New(),
			UserID:        entry.UserID,
			RuleID:        rule.ID,
			Amount:        entry.Amount,
			SingleShot:    rule.SingleShot,
			CorrelationID: res.CorrelationID,
			Context:       contextData,
			CreatedAt:     entry.CreatedAt,
		}
		if err := s.dists.CreateDistribution(ctx, dist); err != nil && !domain.IsBenign(err) {
			return nil, fmt.Errorf("rebuild distribution: %w", err)
		}
		s.log.Warn("rebuilt missing distribution", "user_id", entry.UserID, "rule", rule.ID, "correlation_id", res.CorrelationID)
		if rule.Qualifies && s.milestone != nil {
			if _, err := s.milestone.Refresh(ctx); err != nil {
				s.log.Error("milestone refresh failed", "error", err)
			}
		}
	} else if err != nil {
		return nil, fmt.Errorf("lookup distribution: %w", err)
	}

	s.outcome(rule, "duplicate")
	if rule.SingleShot {
		return res, domain.ErrAlreadyClaimed
	}
	return res, domain.ErrDuplicateCorrelation
}

// ListRecentDistributions returns the user's newest distributions.
func (s *IncentiveService) ListRecentDistributions(ctx context.Context, userID int64, limit int) ([]domain.IncentiveDistribution, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return s.dists.ListRecentDistributions(ctx, userID, limit)
}

// RemainingToday returns the user's global issuance allowance for today.
func (s *IncentiveService) RemainingToday(ctx context.Context, userID int64) (int64, error) {
	return s.limiter.RemainingIssue(ctx, userID)
}

func (s *IncentiveService) outcome(rule domain.IncentiveRule, outcome string) {
	metrics.IncentiveEvents.WithLabelValues(rule.ID, outcome).Inc()
}
