package memory

import (
	"context"
	"testing"

	"tola_ledger/internal/domain"
	"tola_ledger/internal/repository"
	"tola_ledger/internal/repository/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) repository.Store { return New() })
}

func TestReplayRepairsDrift(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.ApplyEntries(ctx, domain.NewEntry(1, 70, 0, domain.CategoryIssue, "a")); err != nil {
		t.Fatal(err)
	}
	if err := s.ApplyEntries(ctx, domain.NewEntry(1, 20, 20, domain.CategoryIssue, "b")); err != nil {
		t.Fatal(err)
	}
	s.wallets[1].Balance = 5
	s.wallets[1].PlatformCredits = 0

	res, err := s.ReplayWallet(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Repaired || res.Stored != (domain.Balances{Balance: 5}) ||
		res.Replayed != (domain.Balances{Balance: 70, PlatformCredits: 20}) {
		t.Fatalf("replay %+v", res)
	}
	w, _ := s.GetWallet(ctx, 1)
	if w.Balance != 70 || w.PlatformCredits != 20 {
		t.Fatalf("after repair %+v", w)
	}
}
