package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"tola_ledger/internal/domain"
	"tola_ledger/internal/repository"
	"tola_ledger/internal/repository/storetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) repository.Store { return newTestStore(t) })
}

func TestReopenKeepsState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.ApplyEntries(ctx, domain.NewEntry(1, 42, 0, domain.CategoryIssue, "persist")); err != nil {
		t.Fatalf("apply: %v", err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	w, err := s.GetWallet(ctx, 1)
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	if w.Balance != 42 {
		t.Fatalf("balance after reopen = %d", w.Balance)
	}
}

func TestReplayRepairsDrift(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.ApplyEntries(ctx, domain.NewEntry(1, 70, 0, domain.CategoryIssue, "a")); err != nil {
		t.Fatal(err)
	}
	if err := s.ApplyEntries(ctx, domain.NewEntry(1, 20, 20, domain.CategoryIssue, "b")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE wallets SET balance = 5, platform_credits = 0 WHERE user_id = 1`); err != nil {
		t.Fatal(err)
	}

	res, err := s.ReplayWallet(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Repaired || res.Entries != 2 || res.Replayed != (domain.Balances{Balance: 70, PlatformCredits: 20}) {
		t.Fatalf("replay %+v", res)
	}
	w, err := s.GetWallet(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if w.Balance != 70 || w.PlatformCredits != 20 {
		t.Fatalf("after repair %+v", w)
	}
}
