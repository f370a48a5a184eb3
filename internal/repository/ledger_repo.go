package repository

import (
	"context"
	"sort"
	"time"

	"tola_ledger/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type LedgerRepo struct {
	db *pgxpool.Pool
}

func NewLedgerRepo(db *pgxpool.Pool) *LedgerRepo {
	return &LedgerRepo{db: db}
}

const entryColumns = `id, user_id, amount, restricted_amount, category, correlation_id, status, meta, created_at`

// ApplyEntries runs BEGIN / lock wallets / update / insert / COMMIT.
func (r *LedgerRepo) ApplyEntries(ctx context.Context, entries ...*domain.LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

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
	// fixed lock order so two transfers in opposite directions cannot deadlock
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })

	for _, userID := range users {
		if _, err := tx.Exec(ctx, `INSERT INTO wallets (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
			return err
		}
		var balance, credits int64
		var status domain.WalletStatus
		err := tx.QueryRow(ctx, `
			SELECT balance, platform_credits, status FROM wallets WHERE user_id = $1 FOR UPDATE
		`, userID).Scan(&balance, &credits, &status)
		if err != nil {
			return err
		}
		d := deltas[userID]
		if d == (domain.Balances{}) {
			continue
		}
		if status == domain.WalletStatusInactive {
			return domain.ErrWalletInactive
		}
		if balance+d.Balance < 0 || credits+d.PlatformCredits < 0 {
			return domain.ErrInsufficientBalance
		}
		_, err = tx.Exec(ctx, `
			UPDATE wallets
			SET balance = balance + $2, platform_credits = platform_credits + $3, updated_at = now()
			WHERE user_id = $1
		`, userID, d.Balance, d.PlatformCredits)
		if err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	for _, e := range entries {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO ledger_entries (`+entryColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, e.ID, e.UserID, e.Amount, e.RestrictedAmount, e.Category, e.CorrelationID, e.Status, e.Meta, e.CreatedAt)
		if err != nil {
			if _, ok := uniqueViolation(err); ok {
				return domain.ErrDuplicateCorrelation
			}
			return err
		}
	}

	return tx.Commit(ctx)
}

func (r *LedgerRepo) FinalizeEntry(ctx context.Context, id uuid.UUID, status domain.EntryStatus) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE ledger_entries SET status = $2
		WHERE id = $1 AND status = 'pending' AND amount = 0
	`, id, status)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return domain.ErrDuplicateCorrelation
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *LedgerRepo) GetEntryByCorrelation(ctx context.Context, correlationID string) (*domain.LedgerEntry, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE correlation_id = $1
		ORDER BY (status = 'completed') DESC, created_at DESC
		LIMIT 1
	`, correlationID)
	e, err := scanEntry(row)
	if err != nil {
		return nil, notFound(err)
	}
	return e, nil
}

func (r *LedgerRepo) ListEntriesByUser(ctx context.Context, userID int64) ([]domain.LedgerEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+entryColumns+` FROM ledger_entries WHERE user_id = $1 ORDER BY created_at ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (r *LedgerRepo) ListEntriesBetween(ctx context.Context, from, to time.Time) ([]domain.LedgerEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+entryColumns+` FROM ledger_entries
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at ASC
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntry(row pgx.Row) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	err := row.Scan(&e.ID, &e.UserID, &e.Amount, &e.RestrictedAmount, &e.Category, &e.CorrelationID, &e.Status, &e.Meta, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func scanEntries(rows pgx.Rows) ([]domain.LedgerEntry, error) {
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
