package domain

import (
	"time"

	"github.com/google/uuid"
)

// EntryCategory classifies a ledger entry.
type EntryCategory string

const (
	CategoryIssue           EntryCategory = "issue"
	CategoryConvertDebit    EntryCategory = "convert-debit"
	CategoryConvertSettle   EntryCategory = "convert-settle"
	CategoryConvertReversal EntryCategory = "convert-reversal"
	CategoryTransfer        EntryCategory = "transfer"
)

// EntryStatus is the status of a ledger entry.
type EntryStatus string

const (
	EntryStatusPending   EntryStatus = "pending"
	EntryStatusCompleted EntryStatus = "completed"
	EntryStatusFailed    EntryStatus = "failed"
)

// LedgerEntry is one append-only row of the transaction log.
//
// Amount is signed. RestrictedAmount is the part of Amount applied to
// platform credits; Amount - RestrictedAmount is applied to the free balance.
// Only completed entries move balances.
type LedgerEntry struct {
	ID               uuid.UUID      `db:"id" json:"id"`
	UserID           int64          `db:"user_id" json:"user_id"`
	Amount           int64          `db:"amount" json:"amount"`
	RestrictedAmount int64          `db:"restricted_amount" json:"restricted_amount"`
	Category         EntryCategory  `db:"category" json:"category"`
	CorrelationID    string         `db:"correlation_id" json:"correlation_id"`
	Status           EntryStatus    `db:"status" json:"status"`
	Meta             map[string]any `db:"meta" json:"meta,omitempty"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
}

// BalanceDelta returns the change the entry applies to the free balance.
func (e *LedgerEntry) BalanceDelta() int64 {
	return e.Amount - e.RestrictedAmount
}

// Moves reports whether applying the entry changes wallet balances.
func (e *LedgerEntry) Moves() bool {
	return e.Status == EntryStatusCompleted && e.Amount != 0
}

// NewEntry builds a completed entry with a fresh id.
func NewEntry(userID, amount, restricted int64, category EntryCategory, correlationID string) *LedgerEntry {
	return &LedgerEntry{
		ID:               uuid.New(),
		UserID:           userID,
		Amount:           amount,
		RestrictedAmount: restricted,
		Category:         category,
		CorrelationID:    correlationID,
		Status:           EntryStatusCompleted,
		CreatedAt:        time.Now().UTC(),
	}
}
