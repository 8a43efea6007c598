package engine

import (
	"context"
	"testing"
	"time"

	"bondengine/pkg/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const day = 24 * time.Hour

func TestApplyDecay(t *testing.T) {
	clock := &fakeClock{now: t0}
	e, _ := newTestEngine(t, memory.NewInMemoryStore(), WithClock(clock.Now))
	ctx := context.Background()

	snap := CounterSnapshot{TimeSpentSeconds: 3600, ReturnVisits: 5, HasPurchased: true, DaysActive: 5}
	env, err := e.ProcessMessage(ctx, "u1", "bonnie", "hi there", snap)
	require.NoError(t, err)
	require.InDelta(t, 43.5, env.BondScore, 1e-9)
	require.Equal(t, "friend", env.Tier.Name)

	// Galatea never decays, so its pair is left alone.
	_, err = e.ProcessMessage(ctx, "u1", "galatea", "hello", CounterSnapshot{})
	require.NoError(t, err)

	t.Run("within grace", func(t *testing.T) {
		n, err := e.ApplyDecay(ctx, t0.Add(2*day))
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("after grace", func(t *testing.T) {
		// Two days past the three day grace at 1.5 points a day.
		n, err := e.ApplyDecay(ctx, t0.Add(5*day))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		st, err := e.Snapshot(ctx, "u1", "bonnie")
		require.NoError(t, err)
		assert.InDelta(t, 40.5, st.Bond.BondScore, 1e-9)
		assert.InDelta(t, 3.0, st.Bond.DecayPenalty, 1e-9)
		assert.Equal(t, t0.Add(5*day), st.Bond.LastDecayAt)
	})

	t.Run("not charged twice", func(t *testing.T) {
		n, err := e.ApplyDecay(ctx, t0.Add(5*day))
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("messages recover", func(t *testing.T) {
		clock.Set(t0.Add(5 * day))
		env, err := e.ProcessMessage(ctx, "u1", "bonnie", "i'm back", snap)
		require.NoError(t, err)
		// 44 from counters minus 3 - 0.5 of penalty.
		assert.InDelta(t, 41.5, env.BondScore, 1e-9)
	})
}

func TestDecayNeverGoesNegative(t *testing.T) {
	clock := &fakeClock{now: t0}
	e, _ := newTestEngine(t, memory.NewInMemoryStore(), WithClock(clock.Now))
	ctx := context.Background()

	// 12.5 points: acquaintance, decaying at 1 point a day.
	_, err := e.ProcessMessage(ctx, "u1", "bonnie", "hi there", CounterSnapshot{ReturnVisits: 3, TimeSpentSeconds: 3600})
	require.NoError(t, err)

	_, err = e.ApplyDecay(ctx, t0.Add(200*day))
	require.NoError(t, err)

	st, err := e.Snapshot(ctx, "u1", "bonnie")
	require.NoError(t, err)
	assert.Zero(t, st.Bond.BondScore)
	assert.Equal(t, "stranger", st.Tier.Name)
	assert.InDelta(t, 12.5, st.Bond.DecayPenalty, 1e-9)
}

func TestRunDecayLoopStopsWithContext(t *testing.T) {
	e, _ := newTestEngine(t, memory.NewInMemoryStore())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		e.RunDecayLoop(ctx, 5*time.Millisecond)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("decay loop did not stop")
	}
}
