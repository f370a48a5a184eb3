package repository

import (
	"context"

	"tola_ledger/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type WalletRepo struct {
	db *pgxpool.Pool
}

func NewWalletRepo(db *pgxpool.Pool) *WalletRepo {
	return &WalletRepo{db: db}
}

const walletColumns = `user_id, address, balance, platform_credits, status, created_at, updated_at`

func (r *WalletRepo) GetWallet(ctx context.Context, userID int64) (*domain.Wallet, error) {
	row := r.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1`, userID)
	return scanWallet(row)
}

// EnsureWallet creates the wallet on first use.
func (r *WalletRepo) EnsureWallet(ctx context.Context, userID int64) (*domain.Wallet, error) {
	if _, err := r.db.Exec(ctx, `INSERT INTO wallets (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
		return nil, err
	}
	return r.GetWallet(ctx, userID)
}

// BindAddress binds or rebinds the external settlement address.
func (r *WalletRepo) BindAddress(ctx context.Context, userID int64, address string) (*domain.Wallet, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO wallets (user_id, address) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET address = EXCLUDED.address,
		    updated_at = CASE WHEN wallets.address = EXCLUDED.address THEN wallets.updated_at ELSE now() END
		RETURNING `+walletColumns, userID, address)
	return scanWallet(row)
}

func (r *WalletRepo) SetWalletStatus(ctx context.Context, userID int64, status domain.WalletStatus) error {
	tag, err := r.db.Exec(ctx, `UPDATE wallets SET status = $2, updated_at = now() WHERE user_id = $1`, userID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *WalletRepo) ReplayWallet(ctx context.Context, userID int64) (*domain.WalletReplay, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	res := &domain.WalletReplay{UserID: userID}
	err = tx.QueryRow(ctx, `
		SELECT balance, platform_credits FROM wallets WHERE user_id = $1 FOR UPDATE
	`, userID).Scan(&res.Stored.Balance, &res.Stored.PlatformCredits)
	if err != nil {
		return nil, notFound(err)
	}

	err = tx.QueryRow(ctx, `
		SELECT count(*), COALESCE(sum(amount - restricted_amount), 0), COALESCE(sum(restricted_amount), 0)
		FROM ledger_entries
		WHERE user_id = $1 AND status = 'completed' AND amount <> 0
	`, userID).Scan(&res.Entries, &res.Replayed.Balance, &res.Replayed.PlatformCredits)
	if err != nil {
		return nil, err
	}

	if res.Replayed != res.Stored {
		_, err = tx.Exec(ctx, `
			UPDATE wallets SET balance = $2, platform_credits = $3, updated_at = now()
			WHERE user_id = $1
		`, userID, res.Replayed.Balance, res.Replayed.PlatformCredits)
		if err != nil {
			return nil, err
		}
		res.Repaired = true
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return res, nil
}

func scanWallet(row pgx.Row) (*domain.Wallet, error) {
	var w domain.Wallet
	err := row.Scan(&w.UserID, &w.Address, &w.Balance, &w.PlatformCredits, &w.Status, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &w, nil
}
