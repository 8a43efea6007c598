package bot

import (
	"testing"
	"time"

	"bondengine/pkg/bond"
	"bondengine/pkg/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerSessions(t *testing.T) {
	key := memory.Key{UserID: "u1", PersonaID: "bonnie"}
	tr := newTracker(30 * time.Minute)
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	snap, ended := tr.touch(key, "c1", start)
	assert.Nil(t, ended)
	assert.Zero(t, snap.ReturnVisits)
	assert.Equal(t, 1, snap.DaysActive)
	assert.Zero(t, snap.TimeSpentSeconds)

	snap, ended = tr.touch(key, "c1", start.Add(10*time.Minute))
	assert.Nil(t, ended)
	assert.Equal(t, 600, snap.TimeSpentSeconds)

	// Back after lunch: a new visit on the same day.
	snap, ended = tr.touch(key, "c2", start.Add(2*time.Hour))
	require.NotNil(t, ended)
	assert.Equal(t, 10*time.Minute, ended.length)
	assert.Equal(t, key, ended.key)
	assert.Equal(t, 1, snap.ReturnVisits)
	assert.Equal(t, 1, snap.DaysActive)
	assert.Equal(t, 600, snap.TimeSpentSeconds)

	ch, ok := tr.channel(key)
	require.True(t, ok)
	assert.Equal(t, "c2", ch)

	snap, _ = tr.touch(key, "c2", start.Add(24*time.Hour))
	assert.Equal(t, 2, snap.ReturnVisits)
	assert.Equal(t, 2, snap.DaysActive)
}

func TestTrackerExpire(t *testing.T) {
	tr := newTracker(time.Minute)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	a := memory.Key{UserID: "a", PersonaID: "bonnie"}
	b := memory.Key{UserID: "b", PersonaID: "bonnie"}

	tr.touch(a, "c", now)
	tr.touch(a, "c", now.Add(30*time.Second))
	tr.touch(b, "c", now.Add(90*time.Second))

	ended := tr.expire(now.Add(2 * time.Minute))
	require.Len(t, ended, 1)
	assert.Equal(t, a, ended[0].key)
	assert.Equal(t, 30*time.Second, ended[0].length)

	assert.Empty(t, tr.expire(now.Add(2*time.Minute)))

	// Closed time still counts toward the total.
	snap, ended2 := tr.touch(a, "c", now.Add(time.Hour))
	assert.Nil(t, ended2)
	assert.Equal(t, 30, snap.TimeSpentSeconds)
	assert.Equal(t, 1, snap.ReturnVisits)
}

func TestTrackerSeed(t *testing.T) {
	key := memory.Key{UserID: "u1", PersonaID: "nova"}
	last := time.Date(2026, 2, 27, 20, 0, 0, 0, time.UTC)

	tr := newTracker(30 * time.Minute)
	assert.False(t, tr.known(key))
	tr.seed(key, bond.State{
		TotalInteractions: 12,
		ReturnVisits:      4,
		DaysActive:        3,
		TimeSpentSeconds:  1800,
		LastInteractionAt: last,
	})
	assert.True(t, tr.known(key))

	// Seeding twice keeps the first state.
	tr.seed(key, bond.State{})

	snap, ended := tr.touch(key, "c1", last.Add(48*time.Hour))
	assert.Nil(t, ended)
	assert.Equal(t, 5, snap.ReturnVisits)
	assert.Equal(t, 4, snap.DaysActive)
	assert.Equal(t, 1800, snap.TimeSpentSeconds)
}

func TestTrackerSeedNewPair(t *testing.T) {
	key := memory.Key{UserID: "u1", PersonaID: "nova"}
	tr := newTracker(30 * time.Minute)
	tr.seed(key, bond.State{})

	snap, _ := tr.touch(key, "c1", time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	assert.Zero(t, snap.ReturnVisits)
	assert.Equal(t, 1, snap.DaysActive)
}
