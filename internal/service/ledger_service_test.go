package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"tola_ledger/internal/domain"
)

func TestLedgerConservation(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	ops := []int64{500, -120, 75, -455, 30, 1000, -999}
	var want int64
	for i, amt := range ops {
		corr := fmt.Sprintf("op-%d", i)
		var err error
		if amt > 0 {
			_, err = f.ledger.Credit(ctx, 1, amt, domain.CategoryIssue, corr)
		} else {
			_, err = f.ledger.Debit(ctx, 1, -amt, domain.CategoryConvertDebit, corr, false)
		}
		if err != nil {
			t.Fatalf("op %d (%d): %v", i, amt, err)
		}
		want += amt
	}

	if _, err := f.ledger.Debit(ctx, 1, want+1, domain.CategoryConvertDebit, "too-much", false); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}

	b := f.balances(t, 1)
	if b.Balance != want || b.PlatformCredits != 0 {
		t.Fatalf("balance %+v, want %d", b, want)
	}

	res, err := f.ledger.Replay(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if res.Repaired || res.Replayed.Balance != want {
		t.Fatalf("replay %+v", res)
	}
}

func TestLedgerRejectsBadInput(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	if _, err := f.ledger.Credit(ctx, 1, 0, domain.CategoryIssue, "a"); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("zero credit: %v", err)
	}
	if _, err := f.ledger.Credit(ctx, 1, -5, domain.CategoryIssue, "a"); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("negative credit: %v", err)
	}
	if _, err := f.ledger.Debit(ctx, 1, 5, domain.CategoryConvertDebit, "a", false); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("debit of unknown wallet: %v", err)
	}
	if _, err := f.ledger.Credit(ctx, 0, 5, domain.CategoryIssue, "a"); !errors.Is(err, domain.ErrInvalidUser) {
		t.Fatalf("user 0: %v", err)
	}
}

func TestLedgerDuplicateCorrelation(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	if _, err := f.ledger.Credit(ctx, 1, 100, domain.CategoryIssue, "evt-1"); err != nil {
		t.Fatal(err)
	}
	_, err := f.ledger.Credit(ctx, 1, 100, domain.CategoryIssue, "evt-1")
	if !errors.Is(err, domain.ErrDuplicateCorrelation) || !domain.IsBenign(err) {
		t.Fatalf("expected benign duplicate, got %v", err)
	}
	if b := f.balances(t, 1); b.Balance != 100 {
		t.Fatalf("balance = %d", b.Balance)
	}
}

func TestLedgerRestrictedCredits(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	if _, err := f.ledger.Credit(ctx, 1, 30, domain.CategoryIssue, "free"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ledger.CreditRestricted(ctx, 1, 100, domain.CategoryIssue, "bonus"); err != nil {
		t.Fatal(err)
	}

	if _, err := f.ledger.Debit(ctx, 1, 50, domain.CategoryConvertDebit, "locked", false); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("restricted credits must not be debitable while locked: %v", err)
	}

	debit, err := f.ledger.Debit(ctx, 1, 50, domain.CategoryConvertDebit, "unlocked", true)
	if err != nil {
		t.Fatal(err)
	}
	if debit.Amount != -50 || debit.RestrictedAmount != -20 {
		t.Fatalf("split = %d/%d", debit.Amount, debit.RestrictedAmount)
	}
	if b := f.balances(t, 1); b.Balance != 0 || b.PlatformCredits != 80 {
		t.Fatalf("after debit %+v", b)
	}

	if _, err := f.ledger.Reverse(ctx, debit, "unlocked:reversal"); err != nil {
		t.Fatal(err)
	}
	if b := f.balances(t, 1); b.Balance != 30 || b.PlatformCredits != 100 {
		t.Fatalf("after reversal %+v", b)
	}
}

func TestLedgerConcurrentSameWallet(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	if _, err := f.ledger.Credit(ctx, 1, 1000, domain.CategoryIssue, "seed"); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	debited := 0
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, _ = f.ledger.Credit(ctx, 1, 10, domain.CategoryIssue, fmt.Sprintf("c-%d", i))
		}(i)
		go func(i int) {
			defer wg.Done()
			if _, err := f.ledger.Debit(ctx, 1, 30, domain.CategoryConvertDebit, fmt.Sprintf("d-%d", i), false); err == nil {
				mu.Lock()
				debited++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	b := f.balances(t, 1)
	want := int64(1000 + 50*10 - debited*30)
	if b.Balance != want || b.Balance < 0 {
		t.Fatalf("balance = %d, want %d", b.Balance, want)
	}
}

func TestLedgerTransfer(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	if _, err := f.ledger.Credit(ctx, 1, 100, domain.CategoryIssue, "seed"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ledger.Transfer(ctx, 1, 2, 150, "t1"); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("overdraft transfer: %v", err)
	}
	if _, err := f.ledger.Transfer(ctx, 1, 2, 60, "t2"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ledger.Transfer(ctx, 1, 2, 60, "t2"); !errors.Is(err, domain.ErrDuplicateCorrelation) {
		t.Fatalf("repeated transfer id: %v", err)
	}
	if _, err := f.ledger.Transfer(ctx, 1, 1, 10, "t3"); !errors.Is(err, domain.ErrInvalidUser) {
		t.Fatalf("self transfer: %v", err)
	}

	if a, b := f.balances(t, 1), f.balances(t, 2); a.Balance != 40 || b.Balance != 60 {
		t.Fatalf("balances %+v %+v", a, b)
	}

	// opposite directions at once must not deadlock
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, _ = f.ledger.Transfer(ctx, 1, 2, 1, fmt.Sprintf("ab-%d", i))
		}(i)
		go func(i int) {
			defer wg.Done()
			_, _ = f.ledger.Transfer(ctx, 2, 1, 1, fmt.Sprintf("ba-%d", i))
		}(i)
	}
	wg.Wait()
	if a, b := f.balances(t, 1), f.balances(t, 2); a.Balance+b.Balance != 100 {
		t.Fatalf("transfers leaked value: %+v %+v", a, b)
	}
}

func TestTransferIDsArePerSender(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	for _, u := range []int64{1, 3} {
		if _, err := f.ledger.Credit(ctx, u, 50, domain.CategoryIssue, fmt.Sprintf("seed-%d", u)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := f.ledger.Transfer(ctx, 1, 2, 10, "gift"); err != nil {
		t.Fatal(err)
	}
	entries, err := f.ledger.Transfer(ctx, 3, 2, 15, "gift")
	if err != nil {
		t.Fatalf("same id from another sender: %v", err)
	}
	if entries[0].CorrelationID != "xfer:3:gift:out" || entries[1].CorrelationID != "xfer:3:gift:in" {
		t.Fatalf("correlation ids %q %q", entries[0].CorrelationID, entries[1].CorrelationID)
	}
	if b := f.balances(t, 2); b.Balance != 25 {
		t.Fatalf("recipient balance %d", b.Balance)
	}
}

func TestLedgerDeactivate(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	if _, err := f.ledger.Credit(ctx, 1, 100, domain.CategoryIssue, "seed"); err != nil {
		t.Fatal(err)
	}
	if err := f.ledger.Deactivate(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ledger.Credit(ctx, 1, 5, domain.CategoryIssue, "x"); !errors.Is(err, domain.ErrWalletInactive) {
		t.Fatalf("credit on inactive wallet: %v", err)
	}
	if _, err := f.ledger.Debit(ctx, 1, 5, domain.CategoryConvertDebit, "y", false); !errors.Is(err, domain.ErrWalletInactive) {
		t.Fatalf("debit on inactive wallet: %v", err)
	}
	if b := f.balances(t, 1); b.Balance != 100 {
		t.Fatalf("reads must still work: %+v", b)
	}
	if err := f.ledger.Activate(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ledger.Credit(ctx, 1, 5, domain.CategoryIssue, "x"); err != nil {
		t.Fatalf("credit after activate: %v", err)
	}
}

func TestLedgerReplayKeepsConcurrentCredits(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	// a second service on the same store stands in for another process;
	// it shares no in-process locks with f.ledger
	other := NewLedgerService(f.store)

	if _, err := f.ledger.Credit(ctx, 1, 100, domain.CategoryIssue, "seed"); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			if _, err := other.Credit(ctx, 1, 70, domain.CategoryIssue, fmt.Sprintf("late-%d", i)); err != nil {
				t.Error(err)
			}
		}(i)
		go func() {
			defer wg.Done()
			res, err := f.ledger.Replay(ctx, 1)
			if err != nil {
				t.Error(err)
				return
			}
			if res.Repaired {
				t.Errorf("replay repaired a consistent wallet: %+v", res)
			}
		}()
	}
	wg.Wait()

	b := f.balances(t, 1)
	if b.Balance != 100+20*70 {
		t.Fatalf("balance %d, want %d", b.Balance, 100+20*70)
	}
	res, err := f.ledger.Replay(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if res.Repaired || res.Replayed.Balance != b.Balance || res.Entries != 21 {
		t.Fatalf("final replay %+v", res)
	}
}

func TestLedgerReplayUnknownWallet(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	if _, err := f.ledger.Replay(context.Background(), 99); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestConnectExternalWallet(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	if _, err := f.ledger.ConnectExternalWallet(ctx, 1, "not-an-address"); !errors.Is(err, domain.ErrInvalidDestination) {
		t.Fatalf("expected invalid destination, got %v", err)
	}
	w, err := f.ledger.ConnectExternalWallet(ctx, 1, testDest)
	if err != nil {
		t.Fatal(err)
	}
	if w.Address != testDest {
		t.Fatalf("address = %q", w.Address)
	}
}
