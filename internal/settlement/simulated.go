package settlement

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

// Simulated settles by hashing the request into a fake transaction
// reference. It remembers idempotency keys, can inject failures at a given
// rate and can add latency to exercise timeouts.
type Simulated struct {
	FailRate float64
	Latency  time.Duration

	mu      sync.Mutex
	settled map[string]Receipt
	calls   int
}

func NewSimulated(failRate float64, latency time.Duration) *Simulated {
	return &Simulated{FailRate: failRate, Latency: latency, settled: make(map[string]Receipt)}
}

func (s *Simulated) Settle(ctx context.Context, req Request) (Receipt, error) {
	s.mu.Lock()
	s.calls++
	if r, ok := s.settled[req.IdempotencyKey]; ok {
		s.mu.Unlock()
		return r, nil
	}
	s.mu.Unlock()

	if s.Latency > 0 {
		t := time.NewTimer(s.Latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return Receipt{}, ctx.Err()
		case <-t.C:
		}
	}
	if s.FailRate > 0 && rand.Float64() < s.FailRate {
		return Receipt{}, fmt.Errorf("%w: simulated failure", ErrRejected)
	}

	sum := sha256.Sum256([]byte(req.IdempotencyKey + "|" + req.Destination + "|" + req.Amount.String() + "|" + req.Currency))
	r := Receipt{Reference: "0x" + hex.EncodeToString(sum[:])}

	s.mu.Lock()
	s.settled[req.IdempotencyKey] = r
	s.mu.Unlock()
	return r, nil
}

// Calls returns how many times Settle was invoked.
func (s *Simulated) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
