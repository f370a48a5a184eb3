package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"tola_ledger/internal/domain"
	"tola_ledger/internal/logger"
	"tola_ledger/internal/metrics"
	"tola_ledger/internal/repository"
	"tola_ledger/internal/ton"

	"github.com/google/uuid"
)

// LedgerStore is the part of the store the ledger service needs.
type LedgerStore interface {
	repository.WalletRepository
	repository.LedgerRepository
}

// LedgerService is the only writer of wallet balances. Every mutation of a
// wallet runs under that wallet's lock and lands through ApplyEntries, so the
// balance change and its log entry commit together.
type LedgerService struct {
	store LedgerStore
	locks *keyedMutex
	log   *slog.Logger
}

// NewLedgerService creates a new ledger service
func NewLedgerService(store LedgerStore) *LedgerService {
	return &LedgerService{
		store: store,
		locks: newKeyedMutex(),
		log:   logger.Component("ledger"),
	}
}

// Credit adds amount to the user's free balance.
func (s *LedgerService) Credit(ctx context.Context, userID, amount int64, category domain.EntryCategory, correlationID string) (*domain.LedgerEntry, error) {
	return s.credit(ctx, userID, amount, 0, category, correlationID)
}

// CreditRestricted adds amount to the user's platform credits.
func (s *LedgerService) CreditRestricted(ctx context.Context, userID, amount int64, category domain.EntryCategory, correlationID string) (*domain.LedgerEntry, error) {
	return s.credit(ctx, userID, amount, amount, category, correlationID)
}

func (s *LedgerService) credit(ctx context.Context, userID, amount, restricted int64, category domain.EntryCategory, correlationID string) (*domain.LedgerEntry, error) {
	if userID <= 0 {
		return nil, domain.ErrInvalidUser
	}
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	entry := domain.NewEntry(userID, amount, restricted, category, correlationID)
	if err := s.apply(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Debit removes amount from the wallet. The free balance is drawn first;
// platform credits are only touched when creditsUnlocked is set.
func (s *LedgerService) Debit(ctx context.Context, userID, amount int64, category domain.EntryCategory, correlationID string, creditsUnlocked bool) (*domain.LedgerEntry, error) {
	if userID <= 0 {
		return nil, domain.ErrInvalidUser
	}
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	w, err := s.store.GetWallet(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			metrics.LedgerRejected.WithLabelValues("insufficient").Inc()
			return nil, domain.ErrInsufficientBalance
		}
		return nil, err
	}
	if w.Status == domain.WalletStatusInactive {
		metrics.LedgerRejected.WithLabelValues("inactive").Inc()
		return nil, domain.ErrWalletInactive
	}
	if w.Convertible(creditsUnlocked) < amount {
		metrics.LedgerRejected.WithLabelValues("insufficient").Inc()
		return nil, domain.ErrInsufficientBalance
	}

	fromBalance := min(amount, w.Balance)
	restricted := amount - fromBalance

	entry := domain.NewEntry(userID, -amount, -restricted, category, correlationID)
	if err := s.apply(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Reverse undoes a debit by crediting back exactly the split it took.
func (s *LedgerService) Reverse(ctx context.Context, debit *domain.LedgerEntry, correlationID string) (*domain.LedgerEntry, error) {
	if debit == nil || debit.Amount >= 0 {
		return nil, domain.ErrInvalidAmount
	}

	unlock := s.locks.Lock(debit.UserID)
	defer unlock()

	entry := domain.NewEntry(debit.UserID, -debit.Amount, -debit.RestrictedAmount, domain.CategoryConvertReversal, correlationID)
	entry.Meta = map[string]any{"reverses": debit.ID.String()}
	if err := s.apply(ctx, entry); err != nil {
		return nil, err
	}
	s.log.Info("debit reversed", "user_id", debit.UserID, "amount", entry.Amount, "debit_id", debit.ID)
	return entry, nil
}

// Transfer moves free balance between two wallets in one atomic batch.
func (s *LedgerService) Transfer(ctx context.Context, fromUser, toUser, amount int64, transferID string) ([]*domain.LedgerEntry, error) {
	if fromUser <= 0 || toUser <= 0 || fromUser == toUser {
		return nil, domain.ErrInvalidUser
	}
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if transferID == "" {
		transferID = uuid.NewString()
	}

	unlock := s.locks.LockPair(fromUser, toUser)
	defer unlock()

	// transfer ids are chosen by the sender, so they are unique per sender only
	corr := fmt.Sprintf("xfer:%d:%s", fromUser, transferID)
	out := domain.NewEntry(fromUser, -amount, 0, domain.CategoryTransfer, corr+":out")
	in := domain.NewEntry(toUser, amount, 0, domain.CategoryTransfer, corr+":in")
	out.Meta = map[string]any{"to_user_id": toUser}
	in.Meta = map[string]any{"from_user_id": fromUser}

	if err := s.apply(ctx, out, in); err != nil {
		return nil, err
	}
	return []*domain.LedgerEntry{out, in}, nil
}

// OpenPending appends a zero-amount pending entry, used to track an
// outcome that is not known yet.
func (s *LedgerService) OpenPending(ctx context.Context, userID int64, category domain.EntryCategory, correlationID string, meta map[string]any) (*domain.LedgerEntry, error) {
	entry := domain.NewEntry(userID, 0, 0, category, correlationID)
	entry.Status = domain.EntryStatusPending
	entry.Meta = meta
	if err := s.store.ApplyEntries(ctx, entry); err != nil {
		return nil, fmt.Errorf("open pending entry: %w", err)
	}
	return entry, nil
}

// Finalize closes a pending entry.
func (s *LedgerService) Finalize(ctx context.Context, entry *domain.LedgerEntry, status domain.EntryStatus) error {
	if err := s.store.FinalizeEntry(ctx, entry.ID, status); err != nil {
		return fmt.Errorf("finalize entry %s: %w", entry.ID, err)
	}
	entry.Status = status
	if status == domain.EntryStatusCompleted {
		metrics.LedgerEntries.WithLabelValues(string(entry.Category)).Inc()
	}
	return nil
}

// EntryByCorrelation returns the entry recorded under correlationID.
func (s *LedgerService) EntryByCorrelation(ctx context.Context, correlationID string) (*domain.LedgerEntry, error) {
	return s.store.GetEntryByCorrelation(ctx, correlationID)
}

// GetBalance returns committed balances. Unknown users have zero balances.
func (s *LedgerService) GetBalance(ctx context.Context, userID int64) (domain.Balances, error) {
	w, err := s.store.GetWallet(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Balances{}, nil
		}
		return domain.Balances{}, err
	}
	return domain.Balances{Balance: w.Balance, PlatformCredits: w.PlatformCredits}, nil
}

// GetWallet returns the wallet, creating an empty one on first access.
func (s *LedgerService) GetWallet(ctx context.Context, userID int64) (*domain.Wallet, error) {
	if userID <= 0 {
		return nil, domain.ErrInvalidUser
	}
	return s.store.EnsureWallet(ctx, userID)
}

// History lists the user's ledger entries.
func (s *LedgerService) History(ctx context.Context, userID int64) ([]domain.LedgerEntry, error) {
	return s.store.ListEntriesByUser(ctx, userID)
}

// ConnectExternalWallet validates and binds the payout address.
func (s *LedgerService) ConnectExternalWallet(ctx context.Context, userID int64, address string) (*domain.Wallet, error) {
	if userID <= 0 {
		return nil, domain.ErrInvalidUser
	}
	raw, err := ton.NormalizeAddress(address)
	if err != nil {
		return nil, domain.ErrInvalidDestination
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	w, err := s.store.BindAddress(ctx, userID, raw)
	if err != nil {
		return nil, fmt.Errorf("bind address: %w", err)
	}
	s.log.Info("external wallet connected", "user_id", userID, "address", raw)
	return w, nil
}

// Deactivate freezes the wallet. Reads keep working.
func (s *LedgerService) Deactivate(ctx context.Context, userID int64) error {
	return s.setStatus(ctx, userID, domain.WalletStatusInactive)
}

func (s *LedgerService) Activate(ctx context.Context, userID int64) error {
	return s.setStatus(ctx, userID, domain.WalletStatusActive)
}

func (s *LedgerService) setStatus(ctx context.Context, userID int64, status domain.WalletStatus) error {
	unlock := s.locks.Lock(userID)
	defer unlock()

	if _, err := s.store.EnsureWallet(ctx, userID); err != nil {
		return err
	}
	if err := s.store.SetWalletStatus(ctx, userID, status); err != nil {
		return err
	}
	s.log.Info("wallet status changed", "user_id", userID, "status", status)
	return nil
}

// Replay recomputes balances from completed entries and repairs the wallet
// row when it disagrees with the log. The store does the read and the repair
// atomically, so this is safe while another process writes the same wallet.
func (s *LedgerService) Replay(ctx context.Context, userID int64) (*domain.WalletReplay, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	res, err := s.store.ReplayWallet(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("replay wallet %d: %w", userID, err)
	}
	if res.Repaired {
		s.log.Warn("wallet repaired from log", "user_id", userID,
			"stored_balance", res.Stored.Balance, "replayed_balance", res.Replayed.Balance,
			"stored_credits", res.Stored.PlatformCredits, "replayed_credits", res.Replayed.PlatformCredits)
	}
	return res, nil
}

func (s *LedgerService) apply(ctx context.Context, entries ...*domain.LedgerEntry) error {
	if err := s.store.ApplyEntries(ctx, entries...); err != nil {
		metrics.LedgerRejected.WithLabelValues(rejectReason(err)).Inc()
		if domain.IsBenign(err) {
			return err
		}
		return fmt.Errorf("apply %s: %w", entries[0].Category, err)
	}
	for _, e := range entries {
		metrics.LedgerEntries.WithLabelValues(string(e.Category)).Inc()
	}
	return nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrDuplicateCorrelation):
		return "duplicate"
	case errors.Is(err, domain.ErrInsufficientBalance):
		return "insufficient"
	case errors.Is(err, domain.ErrWalletInactive):
		return "inactive"
	default:
		return "storage"
	}
}
