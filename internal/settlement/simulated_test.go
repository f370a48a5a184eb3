package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestSimulatedIsIdempotent(t *testing.T) {
	s := NewSimulated(0, 0)
	req := Request{Amount: decimal.NewFromInt(99), Currency: "USDC", Destination: "0:abc", IdempotencyKey: "k1"}

	r1, err := s.Settle(context.Background(), req)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	r2, err := s.Settle(context.Background(), req)
	if err != nil {
		t.Fatalf("settle again: %v", err)
	}
	if r1.Reference == "" || r1.Reference != r2.Reference {
		t.Fatalf("references differ: %q %q", r1.Reference, r2.Reference)
	}
	if s.Calls() != 2 {
		t.Fatalf("calls = %d", s.Calls())
	}
}

func TestSimulatedFailureAndTimeout(t *testing.T) {
	failing := NewSimulated(1, 0)
	_, err := failing.Settle(context.Background(), Request{IdempotencyKey: "k"})
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}

	slow := NewSimulated(0, time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = slow.Settle(ctx, Request{IdempotencyKey: "k"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}
