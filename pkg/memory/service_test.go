package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingStore wraps a Store and fails every Save while fail is set.
type failingStore struct {
	Store
	mu   sync.Mutex
	fail bool
}

var errSaveFailed = errors.New("save failed")

func (f *failingStore) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *failingStore) Save(ctx context.Context, rec *Record) error {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return errSaveFailed
	}
	return f.Store.Save(ctx, rec)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestService(t *testing.T, store Store) (*Service, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: t0}
	return NewService(store, nil, WithClock(clock.Now)), clock
}

func TestGetOrCreate_PersistsNewProfile(t *testing.T) {
	store := NewInMemoryStore()
	svc, _ := newTestService(t, store)
	ctx := context.Background()

	rec, err := svc.GetOrCreate(ctx, "u1", "bonnie")
	require.NoError(t, err)
	assert.Equal(t, "u1", rec.Profile.UserID)
	assert.Equal(t, t0, rec.Bond.CreatedAt)

	stored, err := store.Load(ctx, Key{UserID: "u1", PersonaID: "bonnie"})
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "bonnie", stored.Profile.PersonaID)
}

func TestRecordMilestone_Idempotent(t *testing.T) {
	svc, clock := newTestService(t, NewInMemoryStore())
	ctx := context.Background()

	require.NoError(t, svc.RecordMilestone(ctx, "u1", "bonnie", FirstCompliment))
	first := clock.Now().UnixMilli()
	clock.Advance(time.Hour)
	require.NoError(t, svc.RecordMilestone(ctx, "u1", "bonnie", FirstCompliment))

	rec, err := svc.GetOrCreate(ctx, "u1", "bonnie")
	require.NoError(t, err)
	assert.Equal(t, first, rec.Profile.Milestones.Reached[FirstCompliment])
}

func TestRecordPersonalDetail_RejectsEmpty(t *testing.T) {
	svc, _ := newTestService(t, NewInMemoryStore())
	err := svc.RecordPersonalDetail(context.Background(), "u1", "bonnie", "name", " ")
	assert.ErrorIs(t, err, ErrEmptyValue)
}

func TestAppendMessage_ThroughService(t *testing.T) {
	svc, _ := newTestService(t, NewInMemoryStore())
	ctx := context.Background()

	for i := 0; i < 205; i++ {
		require.NoError(t, svc.AppendMessage(ctx, "u1", "bonnie", Message{Text: "x", IsUser: true}))
	}
	rec, err := svc.GetOrCreate(ctx, "u1", "bonnie")
	require.NoError(t, err)
	assert.Len(t, rec.Profile.ConversationHistory, 200)
	assert.Equal(t, 205, rec.Profile.MessageCount)
	assert.Equal(t, t0.UnixMilli(), rec.Profile.ConversationHistory[0].TimestampMs)
}

func TestRecall_NoDetailsReturnsNotFound(t *testing.T) {
	svc, _ := newTestService(t, NewInMemoryStore())
	text, ok, err := svc.Recall(context.Background(), "u1", "bonnie", RecallPersonal)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, text)
}

func TestUpdate_FailedSaveLeavesNoTrace(t *testing.T) {
	store := &failingStore{Store: NewInMemoryStore()}
	svc, _ := newTestService(t, store)
	ctx := context.Background()

	require.NoError(t, svc.RecordPersonalDetail(ctx, "u1", "bonnie", "name", "Sam"))

	store.setFail(true)
	err := svc.RecordPersonalDetail(ctx, "u1", "bonnie", "name", "Alex")
	require.ErrorIs(t, err, errSaveFailed)

	store.setFail(false)
	rec, err := svc.GetOrCreate(ctx, "u1", "bonnie")
	require.NoError(t, err)
	assert.Equal(t, "Sam", rec.Profile.PersonalDetails.Fields[FieldName])
}

func TestUpdate_FnErrorLeavesNoTrace(t *testing.T) {
	svc, _ := newTestService(t, NewInMemoryStore())
	ctx := context.Background()
	boom := errors.New("boom")

	_, err := svc.Update(ctx, "u1", "bonnie", func(r *Record) error {
		r.Bond.BondScore = 99
		r.Profile.SetDetail("name", "Ghost")
		return boom
	})
	require.ErrorIs(t, err, boom)

	rec, err := svc.GetOrCreate(ctx, "u1", "bonnie")
	require.NoError(t, err)
	assert.Zero(t, rec.Bond.BondScore)
	assert.Empty(t, rec.Profile.PersonalDetails.Fields)
}

func TestUpdate_ReturnsCopy(t *testing.T) {
	svc, _ := newTestService(t, NewInMemoryStore())
	ctx := context.Background()

	rec, err := svc.Update(ctx, "u1", "bonnie", func(r *Record) error {
		r.Profile.SetDetail("name", "Sam")
		return nil
	})
	require.NoError(t, err)
	rec.Profile.SetDetail("name", "Mutated")

	again, err := svc.GetOrCreate(ctx, "u1", "bonnie")
	require.NoError(t, err)
	assert.Equal(t, "Sam", again.Profile.PersonalDetails.Fields[FieldName])
}

func TestUnload_KeepsPersistedCopy(t *testing.T) {
	svc, _ := newTestService(t, NewInMemoryStore())
	ctx := context.Background()

	require.NoError(t, svc.RecordPersonalDetail(ctx, "u1", "bonnie", "location", "Oslo"))
	assert.True(t, svc.Cached("u1", "bonnie"))

	svc.Unload("u1", "bonnie")
	assert.False(t, svc.Cached("u1", "bonnie"))

	rec, err := svc.GetOrCreate(ctx, "u1", "bonnie")
	require.NoError(t, err)
	assert.Equal(t, "Oslo", rec.Profile.PersonalDetails.Fields[FieldLocation])
}

func TestPairLocksAreReleased(t *testing.T) {
	svc, _ := newTestService(t, NewInMemoryStore())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, svc.AppendMessage(ctx, "u1", "bonnie", Message{Text: "hi", IsUser: true}))
		}()
	}
	wg.Wait()
	require.NoError(t, svc.AppendMessage(ctx, "u2", "nova", Message{Text: "hey", IsUser: true}))
	svc.Unload("u1", "bonnie")
	svc.Unload("u2", "nova")

	svc.mu.RLock()
	defer svc.mu.RUnlock()
	assert.Empty(t, svc.locks)

	rec, ok := svc.cache[Key{UserID: "u1", PersonaID: "bonnie"}]
	assert.False(t, ok)
	assert.Nil(t, rec)
}

func TestPairsAreIndependent(t *testing.T) {
	svc, _ := newTestService(t, NewInMemoryStore())
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, persona := range []string{"bonnie", "nova", "galatea"} {
		wg.Add(1)
		go func(persona string) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				assert.NoError(t, svc.AppendMessage(ctx, "u1", persona, Message{Text: persona, IsUser: true}))
			}
		}(persona)
	}
	wg.Wait()

	pairs, err := svc.Pairs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Key{{"u1", "bonnie"}, {"u1", "galatea"}, {"u1", "nova"}}, pairs)

	for _, persona := range []string{"bonnie", "nova", "galatea"} {
		rec, err := svc.GetOrCreate(ctx, "u1", persona)
		require.NoError(t, err)
		assert.Equal(t, 50, rec.Profile.MessageCount)
		for _, m := range rec.Profile.ConversationHistory {
			assert.Equal(t, persona, m.Text)
		}
	}
}
