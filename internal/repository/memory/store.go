// Package memory is an in-process Store used by tests and single-node runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"tola_ledger/internal/domain"
	"tola_ledger/internal/repository"

	"github.com/google/uuid"
)

var _ repository.Store = (*Store)(nil)

type windowKey struct {
	userID    int64
	limitType string
	period    string
}

type reportKey struct {
	typ    domain.ReportType
	period string
}

type Store struct {
	mu sync.RWMutex

	wallets       map[int64]*domain.Wallet
	entries       []*domain.LedgerEntry
	completedCorr map[string]int
	distributions []*domain.IncentiveDistribution
	distCorr      map[string]int
	claimed       map[claimKey]bool
	conversions   map[uuid.UUID]*domain.ConversionRequest
	windows       map[windowKey]*domain.RateLimitWindow
	milestone     *domain.MilestoneState
	reports       map[reportKey]*domain.Report
}

func New() *Store {
	return &Store{
		wallets:       make(map[int64]*domain.Wallet),
		completedCorr: make(map[string]int),
		distCorr:      make(map[string]int),
		claimed:       make(map[claimKey]bool),
		conversions:   make(map[uuid.UUID]*domain.ConversionRequest),
		windows:       make(map[windowKey]*domain.RateLimitWindow),
		reports:       make(map[reportKey]*domain.Report),
	}
}

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close() error               { return nil }

// ---------- wallets ----------

func (s *Store) GetWallet(_ context.Context, userID int64) (*domain.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (s *Store) EnsureWallet(_ context.Context, userID int64) (*domain.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.ensureWalletLocked(userID)
	return &cp, nil
}

func (s *Store) ensureWalletLocked(userID int64) *domain.Wallet {
	w, ok := s.wallets[userID]
	if !ok {
		now := time.Now().UTC()
		w = &domain.Wallet{UserID: userID, Status: domain.WalletStatusActive, CreatedAt: now, UpdatedAt: now}
		s.wallets[userID] = w
	}
	return w
}

func (s *Store) BindAddress(_ context.Context, userID int64, address string) (*domain.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.ensureWalletLocked(userID)
	if w.Address != address {
		w.Address = address
		w.UpdatedAt = time.Now().UTC()
	}
	cp := *w
	return &cp, nil
}

func (s *Store) SetWalletStatus(_ context.Context, userID int64, status domain.WalletStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[userID]
	if !ok {
		return domain.ErrNotFound
	}
	w.Status = status
	w.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) ReplayWallet(_ context.Context, userID int64) (*domain.WalletReplay, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}

	res := &domain.WalletReplay{
		UserID: userID,
		Stored: domain.Balances{Balance: w.Balance, PlatformCredits: w.PlatformCredits},
	}
	for _, e := range s.entries {
		if e.UserID != userID || !e.Moves() {
			continue
		}
		res.Entries++
		res.Replayed.Balance += e.BalanceDelta()
		res.Replayed.PlatformCredits += e.RestrictedAmount
	}
	if res.Replayed != res.Stored {
		w.Balance = res.Replayed.Balance
		w.PlatformCredits = res.Replayed.PlatformCredits
		w.UpdatedAt = time.Now().UTC()
		res.Repaired = true
	}
	return res, nil
}

// ---------- ledger ----------

func (s *Store) ApplyEntries(_ context.Context, entries ...*domain.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// validate the whole batch before touching anything
	seen := make(map[string]bool)
	next := make(map[int64]domain.Balances)
	for _, e := range entries {
		if e.Status == domain.EntryStatusCompleted && e.CorrelationID != "" {
			if _, dup := s.completedCorr[e.CorrelationID]; dup || seen[e.CorrelationID] {
				return domain.ErrDuplicateCorrelation
			}
			seen[e.CorrelationID] = true
		}
		if !e.Moves() {
			continue
		}
		b, ok := next[e.UserID]
		if !ok {
			if w, exists := s.wallets[e.UserID]; exists {
				if w.Status == domain.WalletStatusInactive {
					return domain.ErrWalletInactive
				}
				b = domain.Balances{Balance: w.Balance, PlatformCredits: w.PlatformCredits}
			}
		}
		b.Balance += e.BalanceDelta()
		b.PlatformCredits += e.RestrictedAmount
		if b.Balance < 0 || b.PlatformCredits < 0 {
			return domain.ErrInsufficientBalance
		}
		next[e.UserID] = b
	}

	now := time.Now().UTC()
	for userID, b := range next {
		w := s.ensureWalletLocked(userID)
		w.Balance = b.Balance
		w.PlatformCredits = b.PlatformCredits
		w.UpdatedAt = now
	}
	for _, e := range entries {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		cp := *e
		s.entries = append(s.entries, &cp)
		if e.Status == domain.EntryStatusCompleted && e.CorrelationID != "" {
			s.completedCorr[e.CorrelationID] = len(s.entries) - 1
		}
	}
	return nil
}

func (s *Store) FinalizeEntry(_ context.Context, id uuid.UUID, status domain.EntryStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.entries {
		if e.ID != id {
			continue
		}
		if e.Status != domain.EntryStatusPending || e.Amount != 0 {
			return domain.ErrNotFound
		}
		if status == domain.EntryStatusCompleted && e.CorrelationID != "" {
			if _, dup := s.completedCorr[e.CorrelationID]; dup {
				return domain.ErrDuplicateCorrelation
			}
			s.completedCorr[e.CorrelationID] = i
		}
		e.Status = status
		return nil
	}
	return domain.ErrNotFound
}

func (s *Store) GetEntryByCorrelation(_ context.Context, correlationID string) (*domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i, ok := s.completedCorr[correlationID]; ok {
		cp := *s.entries[i]
		return &cp, nil
	}
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].CorrelationID == correlationID {
			cp := *s.entries[i]
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Store) ListEntriesByUser(_ context.Context, userID int64) ([]domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.LedgerEntry
	for _, e := range s.entries {
		if e.UserID == userID {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (s *Store) ListEntriesBetween(_ context.Context, from, to time.Time) ([]domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.LedgerEntry
	for _, e := range s.entries {
		if inRange(e.CreatedAt, from, to) {
			out = append(out, *e)
		}
	}
	return out, nil
}

// ---------- distributions ----------

type claimKey struct {
	userID int64
	ruleID string
}

func (s *Store) CreateDistribution(_ context.Context, d *domain.IncentiveDistribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.CorrelationID != "" {
		if _, dup := s.distCorr[d.CorrelationID]; dup {
			return domain.ErrDuplicateCorrelation
		}
	}
	key := claimKey{d.UserID, d.RuleID}
	if d.SingleShot && s.claimed[key] {
		return domain.ErrAlreadyClaimed
	}
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	cp := *d
	s.distributions = append(s.distributions, &cp)
	if d.CorrelationID != "" {
		s.distCorr[d.CorrelationID] = len(s.distributions) - 1
	}
	s.claimed[key] = true
	return nil
}

func (s *Store) HasDistribution(_ context.Context, userID int64, ruleID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.claimed[claimKey{userID, ruleID}], nil
}

func (s *Store) GetDistributionByCorrelation(_ context.Context, correlationID string) (*domain.IncentiveDistribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.distCorr[correlationID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s.distributions[i]
	return &cp, nil
}

func (s *Store) ListRecentDistributions(_ context.Context, userID int64, limit int) ([]domain.IncentiveDistribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.IncentiveDistribution
	for i := len(s.distributions) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if s.distributions[i].UserID == userID {
			out = append(out, *s.distributions[i])
		}
	}
	return out, nil
}

func (s *Store) ListDistributionsBetween(_ context.Context, from, to time.Time) ([]domain.IncentiveDistribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.IncentiveDistribution
	for _, d := range s.distributions {
		if inRange(d.CreatedAt, from, to) {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (s *Store) CountParticipants(_ context.Context, ruleIDs []string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rules := make(map[string]bool, len(ruleIDs))
	for _, id := range ruleIDs {
		rules[id] = true
	}
	users := make(map[int64]struct{})
	for _, d := range s.distributions {
		if rules[d.RuleID] {
			users[d.UserID] = struct{}{}
		}
	}
	return int64(len(users)), nil
}

// ---------- conversions ----------

func (s *Store) CreateConversion(_ context.Context, r *domain.ConversionRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = r.CreatedAt
	cp := *r
	s.conversions[r.ID] = &cp
	return nil
}

func (s *Store) FinishConversion(_ context.Context, r *domain.ConversionRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.conversions[r.ID]
	if !ok || cur.Status != domain.ConversionStatusPending {
		return domain.ErrNotFound
	}
	cur.Status = r.Status
	cur.SettlementRef = r.SettlementRef
	cur.FailureReason = r.FailureReason
	cur.UpdatedAt = time.Now().UTC()
	r.UpdatedAt = cur.UpdatedAt
	return nil
}

func (s *Store) GetConversion(_ context.Context, id uuid.UUID) (*domain.ConversionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.conversions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *Store) sortedConversions(keep func(*domain.ConversionRequest) bool, newestFirst bool) []domain.ConversionRequest {
	var out []domain.ConversionRequest
	for _, r := range s.conversions {
		if keep(r) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if newestFirst {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *Store) ListConversionsByUser(_ context.Context, userID int64, limit, offset int) ([]domain.ConversionRequest, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.sortedConversions(func(r *domain.ConversionRequest) bool { return r.UserID == userID }, true)
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return all[offset:end], total, nil
}

func (s *Store) ListPendingConversions(_ context.Context, before time.Time) ([]domain.ConversionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedConversions(func(r *domain.ConversionRequest) bool {
		return r.Status == domain.ConversionStatusPending && r.CreatedAt.Before(before)
	}, false), nil
}

func (s *Store) ListConversionsBetween(_ context.Context, from, to time.Time) ([]domain.ConversionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedConversions(func(r *domain.ConversionRequest) bool {
		return inRange(r.CreatedAt, from, to)
	}, false), nil
}

// ---------- rate limit windows ----------

func (s *Store) Reserve(_ context.Context, userID int64, limitType, period string, amount, limit int64, clamp bool) (int64, error) {
	if amount <= 0 {
		return 0, domain.ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := windowKey{userID, limitType, period}
	w, ok := s.windows[k]
	if !ok {
		w = &domain.RateLimitWindow{UserID: userID, LimitType: limitType, Period: period}
		s.windows[k] = w
	}
	w.Cap = limit
	remaining := w.Remaining()
	granted := amount
	if granted > remaining {
		if !clamp {
			return 0, domain.ErrDailyLimitReached
		}
		granted = remaining
	}
	if granted <= 0 {
		return 0, domain.ErrDailyLimitReached
	}
	w.Used += granted
	return granted, nil
}

func (s *Store) Release(_ context.Context, userID int64, limitType, period string, amount int64) error {
	if amount <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[windowKey{userID, limitType, period}]
	if !ok {
		return nil
	}
	w.Used -= amount
	if w.Used < 0 {
		w.Used = 0
	}
	return nil
}

func (s *Store) GetWindow(_ context.Context, userID int64, limitType, period string, limit int64) (domain.RateLimitWindow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.windows[windowKey{userID, limitType, period}]
	if !ok {
		return domain.RateLimitWindow{UserID: userID, LimitType: limitType, Period: period, Cap: limit}, nil
	}
	cp := *w
	cp.Cap = limit
	return cp, nil
}

// ---------- milestone ----------

func (s *Store) InitMilestone(_ context.Context, threshold int64) (*domain.MilestoneState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.milestone == nil {
		s.milestone = &domain.MilestoneState{Status: domain.MilestoneDisabled, Threshold: threshold}
	}
	cp := *s.milestone
	return &cp, nil
}

func (s *Store) GetMilestone(_ context.Context) (*domain.MilestoneState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.milestone == nil {
		return nil, domain.ErrNotFound
	}
	cp := *s.milestone
	return &cp, nil
}

func (s *Store) EnableMilestone(_ context.Context, observed int64, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.milestone == nil {
		return false, domain.ErrNotFound
	}
	if s.milestone.Status == domain.MilestoneEnabled {
		return false, nil
	}
	at = at.UTC()
	s.milestone.Status = domain.MilestoneEnabled
	s.milestone.ObservedCount = observed
	s.milestone.EnabledAt = &at
	return true, nil
}

// ---------- reports ----------

func (s *Store) SaveReport(_ context.Context, r *domain.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	cp.RuleTotals = append([]domain.RuleTotal(nil), r.RuleTotals...)
	s.reports[reportKey{r.Type, r.Period}] = &cp
	return nil
}

func (s *Store) GetReport(_ context.Context, typ domain.ReportType, period string) (*domain.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[reportKey{typ, period}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *Store) ListReports(_ context.Context, typ domain.ReportType, limit int) ([]domain.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Report
	for k, r := range s.reports {
		if k.typ == typ {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period > out[j].Period })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func inRange(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}
