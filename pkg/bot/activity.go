package bot

import (
	"sync"
	"time"

	"bondengine/pkg/bond"
	"bondengine/pkg/engine"
	"bondengine/pkg/memory"
)

// pairActivity is what the host knows about a user's visits to one persona.
type pairActivity struct {
	channelID    string
	sessionStart time.Time
	lastSeen     time.Time
	closed       time.Duration
	visits       int
	days         int
	lastDay      string
}

// newPairActivity resumes from the totals the engine already holds, so a
// restart never reports less than before.
func newPairActivity(st bond.State) *pairActivity {
	a := &pairActivity{
		closed: time.Duration(st.TimeSpentSeconds) * time.Second,
		days:   st.DaysActive,
	}
	if st.TotalInteractions > 0 {
		a.visits = st.ReturnVisits + 1
		a.lastDay = dayOf(st.LastInteractionAt)
	}
	return a
}

func dayOf(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}

func (a *pairActivity) open() bool {
	return !a.sessionStart.IsZero()
}

func (a *pairActivity) closeSession() time.Duration {
	if !a.open() {
		return 0
	}
	d := a.lastSeen.Sub(a.sessionStart)
	a.closed += d
	a.sessionStart = time.Time{}
	return d
}

func (a *pairActivity) snapshot() engine.CounterSnapshot {
	spent := a.closed
	if a.open() {
		spent += a.lastSeen.Sub(a.sessionStart)
	}
	return engine.CounterSnapshot{
		TimeSpentSeconds: int(spent / time.Second),
		ReturnVisits:     max(a.visits-1, 0),
		DaysActive:       a.days,
	}
}

type endedSession struct {
	key    memory.Key
	length time.Duration
}

// tracker turns the stream of messages into the cumulative counters the
// engine scores on. A session ends after gap without messages.
type tracker struct {
	mu    sync.Mutex
	gap   time.Duration
	pairs map[memory.Key]*pairActivity
}

func newTracker(gap time.Duration) *tracker {
	return &tracker{gap: gap, pairs: make(map[memory.Key]*pairActivity)}
}

func (t *tracker) known(key memory.Key) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pairs[key]
	return ok
}

func (t *tracker) seed(key memory.Key, st bond.State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pairs[key]; !ok {
		t.pairs[key] = newPairActivity(st)
	}
}

// touch records a message at now. It returns the totals to report and the
// session it closed, if the user had been away longer than the gap.
func (t *tracker) touch(key memory.Key, channelID string, now time.Time) (engine.CounterSnapshot, *endedSession) {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, ok := t.pairs[key]
	if !ok {
		a = newPairActivity(bond.State{})
		t.pairs[key] = a
	}

	var ended *endedSession
	if a.open() && now.Sub(a.lastSeen) > t.gap {
		ended = &endedSession{key: key, length: a.closeSession()}
	}
	if !a.open() {
		a.sessionStart = now
		a.visits++
	}
	a.lastSeen = now
	a.channelID = channelID
	if d := dayOf(now); d != a.lastDay {
		a.days++
		a.lastDay = d
	}
	return a.snapshot(), ended
}

// expire closes every session idle for longer than the gap.
func (t *tracker) expire(now time.Time) []endedSession {
	t.mu.Lock()
	defer t.mu.Unlock()

	var ended []endedSession
	for key, a := range t.pairs {
		if a.open() && now.Sub(a.lastSeen) > t.gap {
			ended = append(ended, endedSession{key: key, length: a.closeSession()})
		}
	}
	return ended
}

// channel is where the user last talked to the persona.
func (t *tracker) channel(key memory.Key) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.pairs[key]
	if !ok || a.channelID == "" {
		return "", false
	}
	return a.channelID, true
}
