package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"tola_ledger/internal/domain"

	"github.com/google/uuid"
)

const walletColumns = `user_id, address, balance, platform_credits, status, created_at, updated_at`

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func ensureWallet(ctx context.Context, q querier, userID int64) error {
	now := formatTime(time.Now())
	_, err := q.ExecContext(ctx, `
		INSERT INTO wallets (user_id, created_at, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO NOTHING
	`, userID, now, now)
	return err
}

func scanWallet(row scanner) (*domain.Wallet, error) {
	var w domain.Wallet
	var created, updated string
	err := row.Scan(&w.UserID, &w.Address, &w.Balance, &w.PlatformCredits, &w.Status, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if w.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if w.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *Store) GetWallet(ctx context.Context, userID int64) (*domain.Wallet, error) {
	return scanWallet(s.db.QueryRowContext(ctx, `SELECT `+walletColumns+` FROM wallets WHERE user_id = ?`, userID))
}

func (s *Store) EnsureWallet(ctx context.Context, userID int64) (*domain.Wallet, error) {
	if err := ensureWallet(ctx, s.db, userID); err != nil {
		return nil, err
	}
	return s.GetWallet(ctx, userID)
}

func (s *Store) BindAddress(ctx context.Context, userID int64, address string) (*domain.Wallet, error) {
	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wallets (user_id, address, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			address    = excluded.address,
			updated_at = CASE WHEN wallets.address = excluded.address THEN wallets.updated_at ELSE excluded.updated_at END
	`, userID, address, now, now)
	if err != nil {
		return nil, err
	}
	return s.GetWallet(ctx, userID)
}

func (s *Store) SetWalletStatus(ctx context.Context, userID int64, status domain.WalletStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE wallets SET status = ?, updated_at = ? WHERE user_id = ?`,
		status, formatTime(time.Now()), userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ReplayWallet runs in one transaction; the pool has a single connection so
// no other writer can interleave.
func (s *Store) ReplayWallet(ctx context.Context, userID int64) (*domain.WalletReplay, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	res := &domain.WalletReplay{UserID: userID}
	err = tx.QueryRowContext(ctx, `SELECT balance, platform_credits FROM wallets WHERE user_id = ?`, userID).
		Scan(&res.Stored.Balance, &res.Stored.PlatformCredits)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(amount - restricted_amount), 0), COALESCE(SUM(restricted_amount), 0)
		FROM ledger_entries
		WHERE user_id = ? AND status = ? AND amount <> 0
	`, userID, domain.EntryStatusCompleted).Scan(&res.Entries, &res.Replayed.Balance, &res.Replayed.PlatformCredits)
	if err != nil {
		return nil, err
	}

	if res.Replayed != res.Stored {
		_, err = tx.ExecContext(ctx, `
			UPDATE wallets SET balance = ?, platform_credits = ?, updated_at = ? WHERE user_id = ?
		`, res.Replayed.Balance, res.Replayed.PlatformCredits, formatTime(time.Now()), userID)
		if err != nil {
			return nil, err
		}
		res.Repaired = true
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return res, nil
}

// ---------- ledger ----------

const entryColumns = `id, user_id, amount, restricted_amount, category, correlation_id, status, meta, created_at`

func (s *Store) ApplyEntries(ctx context.Context, entries ...*domain.LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	deltas := make(map[int64]domain.Balances)
	for _, e := range entries {
		d := deltas[e.UserID]
		if e.Moves() {
			d.Balance += e.BalanceDelta()
			d.PlatformCredits += e.RestrictedAmount
		}
		deltas[e.UserID] = d
	}
	users := make([]int64, 0, len(deltas))
	for id := range deltas {
		users = append(users, id)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })

	now := time.Now().UTC()
	for _, userID := range users {
		if err := ensureWallet(ctx, tx, userID); err != nil {
			return err
		}
		d := deltas[userID]
		if d == (domain.Balances{}) {
			continue
		}
		var balance, credits int64
		var status domain.WalletStatus
		err := tx.QueryRowContext(ctx, `SELECT balance, platform_credits, status FROM wallets WHERE user_id = ?`, userID).
			Scan(&balance, &credits, &status)
		if err != nil {
			return err
		}
		if status == domain.WalletStatusInactive {
			return domain.ErrWalletInactive
		}
		if balance+d.Balance < 0 || credits+d.PlatformCredits < 0 {
			return domain.ErrInsufficientBalance
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE wallets SET balance = balance + ?, platform_credits = platform_credits + ?, updated_at = ?
			WHERE user_id = ?
		`, d.Balance, d.PlatformCredits, formatTime(now), userID)
		if err != nil {
			return err
		}
	}

	for _, e := range entries {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		meta, err := encodeJSON(e.Meta)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO ledger_entries (`+entryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID.String(), e.UserID, e.Amount, e.RestrictedAmount, e.Category, e.CorrelationID, e.Status, meta, formatTime(e.CreatedAt))
		if err != nil {
			if isUnique(err) {
				return domain.ErrDuplicateCorrelation
			}
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) FinalizeEntry(ctx context.Context, id uuid.UUID, status domain.EntryStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE ledger_entries SET status = ? WHERE id = ? AND status = 'pending' AND amount = 0
	`, status, id.String())
	if err != nil {
		if isUnique(err) {
			return domain.ErrDuplicateCorrelation
		}
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanEntry(row scanner) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	var id, created string
	var meta sql.NullString
	err := row.Scan(&id, &e.UserID, &e.Amount, &e.RestrictedAmount, &e.Category, &e.CorrelationID, &e.Status, &meta, &created)
	if err != nil {
		return nil, err
	}
	if e.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if e.Meta, err = decodeJSON(meta); err != nil {
		return nil, err
	}
	if e.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) GetEntryByCorrelation(ctx context.Context, correlationID string) (*domain.LedgerEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+entryColumns+` FROM ledger_entries WHERE correlation_id = ?
		ORDER BY (status = 'completed') DESC, created_at DESC LIMIT 1
	`, correlationID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return e, err
}

func (s *Store) listEntries(ctx context.Context, query string, args ...any) ([]domain.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (s *Store) ListEntriesByUser(ctx context.Context, userID int64) ([]domain.LedgerEntry, error) {
	return s.listEntries(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE user_id = ? ORDER BY created_at ASC`, userID)
}

func (s *Store) ListEntriesBetween(ctx context.Context, from, to time.Time) ([]domain.LedgerEntry, error) {
	return s.listEntries(ctx, `
		SELECT `+entryColumns+` FROM ledger_entries WHERE created_at >= ? AND created_at < ? ORDER BY created_at ASC
	`, formatTime(from), formatTime(to))
}
