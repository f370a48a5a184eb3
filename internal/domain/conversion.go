package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ConversionStatus is the status of a conversion request.
type ConversionStatus string

const (
	ConversionStatusPending   ConversionStatus = "pending"
	ConversionStatusCompleted ConversionStatus = "completed"
	ConversionStatusFailed    ConversionStatus = "failed"
)

// ConversionRequest converts TOLA into the settlement currency.
type ConversionRequest struct {
	ID            uuid.UUID        `db:"id" json:"id"`
	UserID        int64            `db:"user_id" json:"user_id"`
	Amount        int64            `db:"amount" json:"amount"`
	Fee           decimal.Decimal  `db:"fee" json:"fee"`
	Net           decimal.Decimal  `db:"net" json:"net"`
	Payout        decimal.Decimal  `db:"payout" json:"payout"`
	Currency      string           `db:"currency" json:"currency"`
	Destination   string           `db:"destination" json:"destination"`
	Status        ConversionStatus `db:"status" json:"status"`
	SettlementRef string           `db:"settlement_ref" json:"settlement_ref,omitempty"`
	FailureReason string           `db:"failure_reason" json:"failure_reason,omitempty"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time        `db:"updated_at" json:"updated_at"`
}

// Correlation ids of the ledger entries belonging to one conversion.
func (r *ConversionRequest) DebitCorrelation() string  { return "conv:" + r.ID.String() + ":debit" }
func (r *ConversionRequest) SettleCorrelation() string { return "conv:" + r.ID.String() + ":settle" }
func (r *ConversionRequest) ReversalCorrelation() string {
	return "conv:" + r.ID.String() + ":reversal"
}

// IdempotencyKey is passed to the settlement collaborator; retries reuse it.
func (r *ConversionRequest) IdempotencyKey() string { return "tola-conv-" + r.ID.String() }

// ConversionQuote holds fee math for a given amount.
type ConversionQuote struct {
	Amount   int64           `json:"amount"`
	Fee      decimal.Decimal `json:"fee"`
	Net      decimal.Decimal `json:"net"`
	Payout   decimal.Decimal `json:"payout"`
	Currency string          `json:"currency"`
}

// ConversionStatusView summarises a user's conversion eligibility.
type ConversionStatusView struct {
	Enabled          bool            `json:"enabled"`
	Participants     int64           `json:"participants"`
	Threshold        int64           `json:"threshold"`
	MinAmount        int64           `json:"min_amount"`
	MaxAmount        int64           `json:"max_amount"`
	FeeRate          decimal.Decimal `json:"fee_rate"`
	ExchangeRate     decimal.Decimal `json:"exchange_rate"`
	Currency         string          `json:"currency"`
	Convertible      int64           `json:"convertible"`
	DailyRemaining   int64           `json:"daily_remaining"`
	HasExternalBound bool            `json:"has_external_wallet"`
}

// ConversionPage is one page of a user's conversion history.
type ConversionPage struct {
	Items   []ConversionRequest `json:"items"`
	Total   int                 `json:"total"`
	Page    int                 `json:"page"`
	PerPage int                 `json:"per_page"`
}
