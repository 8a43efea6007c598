package engine

import (
	"context"
	"testing"
	"time"

	"bondengine/pkg/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotOfNewPair(t *testing.T) {
	e, _ := newTestEngine(t, memory.NewInMemoryStore())

	st, err := e.Snapshot(context.Background(), "u1", "bonnie")
	require.NoError(t, err)
	assert.Equal(t, "Bonnie", st.PersonaName)
	assert.Equal(t, "stranger", st.Tier.Name)
	assert.Zero(t, st.Progress)
	assert.Contains(t, st.Card, "stranger")
	assert.Contains(t, st.Card, "acquaintance")

	_, err = e.Snapshot(context.Background(), "u1", "nobody")
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestEndSessionRecordsLongestConversation(t *testing.T) {
	e, _ := newTestEngine(t, memory.NewInMemoryStore())
	ctx := context.Background()

	require.NoError(t, e.EndSession(ctx, "u1", "bonnie", 600))
	require.NoError(t, e.EndSession(ctx, "u1", "bonnie", 300))
	require.ErrorIs(t, e.EndSession(ctx, "u1", "bonnie", 0), ErrInvalidInput)

	st, err := e.Snapshot(ctx, "u1", "bonnie")
	require.NoError(t, err)
	assert.Equal(t, int64(600), st.Profile.Milestones.LongestConversationSeconds)
	assert.Equal(t, []int64{600, 300}, st.Profile.BehavioralInsights.SessionLengths)
	assert.Zero(t, st.Bond.BondScore)
}

func TestRecordPurchaseUpgrades(t *testing.T) {
	e, _ := newTestEngine(t, memory.NewInMemoryStore())
	events, cancel := e.Subscribe()
	defer cancel()
	ctx := context.Background()

	st, err := e.RecordPurchase(ctx, "u1", "bonnie", "voice", 4.99)
	require.NoError(t, err)
	assert.InDelta(t, 15.0, st.Bond.BondScore, 1e-9)
	assert.Equal(t, "acquaintance", st.Tier.Name)
	assert.InDelta(t, 4.99, st.Profile.BehavioralInsights.SpendingPatterns["voice"], 1e-9)
	_, ok := st.Profile.Milestones.Reached[memory.FirstPurchase]
	assert.True(t, ok)

	select {
	case ev := <-events:
		assert.Equal(t, "stranger", ev.FromTier.Name)
		assert.Equal(t, "acquaintance", ev.ToTier.Name)
		assert.Equal(t, "Hey, I think we're starting to get to know each other, sweetie! 🙂", ev.Message)
	case <-time.After(time.Second):
		t.Fatal("no tier upgrade received")
	}

	// A second purchase adds spending but no second bonus.
	st, err = e.RecordPurchase(ctx, "u1", "bonnie", "voice", 2)
	require.NoError(t, err)
	assert.InDelta(t, 15.0, st.Bond.BondScore, 1e-9)
	assert.InDelta(t, 6.99, st.Profile.BehavioralInsights.SpendingPatterns["voice"], 1e-9)

	_, err = e.RecordPurchase(ctx, "u1", "bonnie", "voice", -1)
	require.ErrorIs(t, err, ErrInvalidInput)
}
