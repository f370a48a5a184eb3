package service

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"tola_ledger/internal/domain"
	"tola_ledger/internal/logger"
	"tola_ledger/internal/metrics"
	"tola_ledger/internal/repository"
)

// ParticipantCounter counts distinct users holding a distribution for any
// of the given rules.
type ParticipantCounter interface {
	CountParticipants(ctx context.Context, ruleIDs []string) (int64, error)
}

// MilestoneService owns the conversion gate. The disabled to enabled
// transition happens once in the store; the caller that wins it fires the
// notifiers.
type MilestoneService struct {
	repo       repository.MilestoneRepository
	counter    ParticipantCounter
	qualifying []string
	threshold  int64
	notifiers  []MilestoneNotifier
	publisher  Publisher
	enabled    atomic.Bool
	now        func() time.Time
	log        *slog.Logger
}

func NewMilestoneService(repo repository.MilestoneRepository, counter ParticipantCounter, qualifyingRules []string, threshold int64) *MilestoneService {
	return &MilestoneService{
		repo:       repo,
		counter:    counter,
		qualifying: qualifyingRules,
		threshold:  threshold,
		publisher:  nopPublisher{},
		now:        time.Now,
		log:        logger.Component("milestone"),
	}
}

// AddNotifier registers a collaborator for the one-time enable notification.
func (s *MilestoneService) AddNotifier(n MilestoneNotifier) {
	s.notifiers = append(s.notifiers, n)
}

func (s *MilestoneService) SetPublisher(p Publisher) {
	if p != nil {
		s.publisher = p
	}
}

// Init creates the singleton if it does not exist yet.
func (s *MilestoneService) Init(ctx context.Context) (*domain.MilestoneState, error) {
	st, err := s.repo.InitMilestone(ctx, s.threshold)
	if err != nil {
		return nil, err
	}
	if st.Enabled() {
		s.enabled.Store(true)
		metrics.MilestoneEnabled.Set(1)
	}
	return st, nil
}

// IsEnabled reports whether conversion is open. Only the enabled answer is
// cached since it can never change back.
func (s *MilestoneService) IsEnabled(ctx context.Context) (bool, error) {
	if s.enabled.Load() {
		return true, nil
	}
	st, err := s.repo.GetMilestone(ctx)
	if err != nil {
		return false, err
	}
	if st.Enabled() {
		s.enabled.Store(true)
	}
	return st.Enabled(), nil
}

func (s *MilestoneService) State(ctx context.Context) (*domain.MilestoneState, error) {
	return s.repo.GetMilestone(ctx)
}

// ParticipantCount returns the number of qualified participants right now.
func (s *MilestoneService) ParticipantCount(ctx context.Context) (int64, error) {
	if len(s.qualifying) == 0 {
		return 0, nil
	}
	return s.counter.CountParticipants(ctx, s.qualifying)
}

// CheckAndMaybeEnable enables conversion once count reaches the threshold.
// It returns true only for the call that performed the transition. Calls
// after the gate opened are no-ops.
func (s *MilestoneService) CheckAndMaybeEnable(ctx context.Context, count int64) (bool, error) {
	metrics.MilestoneParticipants.Set(float64(count))
	if s.enabled.Load() {
		return false, nil
	}

	st, err := s.repo.GetMilestone(ctx)
	if err != nil {
		return false, err
	}
	if st.Enabled() {
		s.enabled.Store(true)
		return false, nil
	}
	if count < st.Threshold {
		return false, nil
	}

	at := s.now().UTC()
	won, err := s.repo.EnableMilestone(ctx, count, at)
	if err != nil {
		return false, err
	}
	s.enabled.Store(true)
	metrics.MilestoneEnabled.Set(1)
	if !won {
		return false, nil
	}

	final := domain.MilestoneState{
		Status:        domain.MilestoneEnabled,
		Threshold:     st.Threshold,
		ObservedCount: count,
		EnabledAt:     &at,
	}
	s.log.Info("conversion enabled", "participants", count, "threshold", st.Threshold)
	s.notify(ctx, final)
	return true, nil
}

// Refresh recounts participants and runs CheckAndMaybeEnable.
func (s *MilestoneService) Refresh(ctx context.Context) (bool, error) {
	if s.enabled.Load() {
		return false, nil
	}
	count, err := s.ParticipantCount(ctx)
	if err != nil {
		return false, err
	}
	return s.CheckAndMaybeEnable(ctx, count)
}

func (s *MilestoneService) notify(ctx context.Context, st domain.MilestoneState) {
	ctx = context.WithoutCancel(ctx)
	for _, n := range s.notifiers {
		if err := n.OnConversionEnabled(ctx, st); err != nil {
			s.log.Error("milestone notifier failed", "error", err)
		}
	}
	s.publisher.Publish(0, EventConversionEnabled, st)
}
