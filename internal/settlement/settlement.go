// Package settlement defines the external payout collaborator and a
// simulated implementation for development and tests.
package settlement

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrRejected is returned when the payout side refuses the transfer.
var ErrRejected = errors.New("settlement: rejected")

// Request is one payout. IdempotencyKey is stable across retries of the
// same conversion so a repeated call never pays twice.
type Request struct {
	Amount         decimal.Decimal
	Currency       string
	Destination    string
	IdempotencyKey string
}

// Receipt is returned for a successful payout.
type Receipt struct {
	Reference string
}

// Settler pays converted funds out to a destination address.
type Settler interface {
	Settle(ctx context.Context, req Request) (Receipt, error)
}

// Func adapts a function to Settler.
type Func func(ctx context.Context, req Request) (Receipt, error)

func (f Func) Settle(ctx context.Context, req Request) (Receipt, error) { return f(ctx, req) }
