package domain

import "time"

// WalletStatus is the lifecycle state of a wallet. Wallets are never deleted.
type WalletStatus string

const (
	WalletStatusActive   WalletStatus = "active"
	WalletStatusInactive WalletStatus = "inactive"
)

// Wallet holds a user's TOLA. Balance is freely transferable; PlatformCredits
// is restricted from conversion until the milestone opens the gate.
type Wallet struct {
	UserID          int64        `db:"user_id" json:"user_id"`
	Address         string       `db:"address" json:"address,omitempty"`
	Balance         int64        `db:"balance" json:"balance"`
	PlatformCredits int64        `db:"platform_credits" json:"platform_credits"`
	Status          WalletStatus `db:"status" json:"status"`
	CreatedAt       time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time    `db:"updated_at" json:"updated_at"`
}

// Total returns balance plus platform credits.
func (w *Wallet) Total() int64 {
	return w.Balance + w.PlatformCredits
}

// Convertible returns how much of the wallet may be debited for conversion.
func (w *Wallet) Convertible(creditsUnlocked bool) int64 {
	if creditsUnlocked {
		return w.Total()
	}
	return w.Balance
}

// Balances is a read-only view of a wallet's committed state.
type Balances struct {
	Balance         int64 `json:"balance"`
	PlatformCredits int64 `json:"platform_credits"`
}

// WalletReplay is the outcome of recomputing a wallet from its completed
// entries. Stored holds the balances found before any repair.
type WalletReplay struct {
	UserID   int64    `json:"user_id"`
	Entries  int      `json:"entries"`
	Stored   Balances `json:"stored"`
	Replayed Balances `json:"replayed"`
	Repaired bool     `json:"repaired"`
}
