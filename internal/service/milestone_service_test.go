package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
)

func TestMilestoneTransitionsOnce(t *testing.T) {
	f := newFixture(t, fixtureOpts{threshold: 1000})
	ctx := context.Background()

	changed, err := f.milestone.CheckAndMaybeEnable(ctx, 999)
	if err != nil || changed {
		t.Fatalf("999: %v %v", changed, err)
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := f.milestone.CheckAndMaybeEnable(ctx, 1000); err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("transitions = %d", wins.Load())
	}
	if f.notified.count() != 1 {
		t.Fatalf("notifications = %d", f.notified.count())
	}

	// counts dropping later never close the gate
	if changed, _ := f.milestone.CheckAndMaybeEnable(ctx, 0); changed {
		t.Fatal("transitioned again")
	}
	st, err := f.milestone.State(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !st.Enabled() || st.ObservedCount != 1000 || st.EnabledAt == nil {
		t.Fatalf("state %+v", st)
	}
}

func TestMilestoneSurvivesRestart(t *testing.T) {
	f := newFixture(t, fixtureOpts{threshold: 2})
	ctx := context.Background()
	f.enable(t)

	// a fresh service over the same store sees the enabled state
	again := NewMilestoneService(f.store, f.store, []string{"subscription_signup"}, 5)
	st, err := again.Init(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !st.Enabled() || st.Threshold != 2 {
		t.Fatalf("state after restart %+v", st)
	}
	if on, _ := again.IsEnabled(ctx); !on {
		t.Fatal("gate closed after restart")
	}
}
