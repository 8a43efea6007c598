package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"bondengine/pkg/bond"
	"bondengine/pkg/chance"

	"go.uber.org/zap"
)

// ErrEmptyValue is returned when a personal detail has no value.
var ErrEmptyValue = errors.New("memory: empty value")

// Limits bound the capped lists of a profile.
type Limits struct {
	History int
	Topics  int
}

// Service keeps profiles for every (user, persona) pair in front of a Store.
// All state is keyed by the pair; operations on one pair are serialized, while
// distinct pairs never share a lock.
type Service struct {
	store  Store
	logger *zap.Logger
	rand   chance.Source
	now    func() time.Time
	limits Limits

	mu    sync.RWMutex
	cache map[Key]*Record
	locks map[Key]*pairLock
}

type ServiceOption func(*Service)

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithRand sets the random source used by recall.
func WithRand(src chance.Source) ServiceOption {
	return func(s *Service) { s.rand = src }
}

// WithLimits overrides the default list bounds.
func WithLimits(l Limits) ServiceOption {
	return func(s *Service) {
		if l.History > 0 {
			s.limits.History = l.History
		}
		if l.Topics > 0 {
			s.limits.Topics = l.Topics
		}
	}
}

func NewService(store Store, logger *zap.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:  store,
		logger: logger,
		rand:   chance.New(0),
		now:    time.Now,
		limits: Limits{History: DefaultHistoryLimit, Topics: DefaultTopicLimit},
		cache:  make(map[Key]*Record),
		locks:  make(map[Key]*pairLock),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Limits returns the list bounds in effect.
func (s *Service) Limits() Limits {
	return s.limits
}

// pairLock serializes one pair. refs counts holders and waiters.
type pairLock struct {
	sync.Mutex
	refs int
}

// lock takes the pair's lock and returns the matching unlock. The entry is
// dropped from the map once nobody holds or waits for it.
func (s *Service) lock(key Key) (unlock func()) {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &pairLock{}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

// load returns the committed record for key, loading it from the store or
// creating it. The caller must hold the pair lock. created reports whether the
// record is new and still unsaved.
func (s *Service) load(ctx context.Context, key Key) (rec *Record, created bool, err error) {
	s.mu.RLock()
	rec = s.cache[key]
	s.mu.RUnlock()
	if rec != nil {
		return rec, false, nil
	}

	rec, err = s.store.Load(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load %s: %w", key, err)
	}
	if rec == nil {
		now := s.now()
		return &Record{Key: key, Profile: NewProfile(key.UserID, key.PersonaID, now), Bond: bond.NewState(now)}, true, nil
	}
	rec.Key = key
	s.commit(rec)
	return rec, false, nil
}

func (s *Service) commit(rec *Record) {
	s.mu.Lock()
	s.cache[rec.Key] = rec
	s.mu.Unlock()
}

// GetOrCreate returns a copy of the pair's record, creating and persisting an
// empty one on first contact.
func (s *Service) GetOrCreate(ctx context.Context, userID, personaID string) (*Record, error) {
	key := Key{UserID: userID, PersonaID: personaID}
	defer s.lock(key)()

	rec, created, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if created {
		if err := s.store.Save(ctx, rec); err != nil {
			return nil, fmt.Errorf("failed to save new profile %s: %w", key, err)
		}
		s.commit(rec)
		s.logger.Debug("created profile", zap.String("user_id", userID), zap.String("persona_id", personaID))
	}
	return rec.Clone(), nil
}

// Update applies fn to a working copy of the pair's record and saves it. The
// cached record only changes once Save succeeds, so a failed fn or save leaves
// no trace. The returned record is a copy of what was committed.
func (s *Service) Update(ctx context.Context, userID, personaID string, fn func(*Record) error) (*Record, error) {
	key := Key{UserID: userID, PersonaID: personaID}
	defer s.lock(key)()

	current, _, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}

	working := current.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	working.Key = key

	if err := s.store.Save(ctx, working); err != nil {
		return nil, fmt.Errorf("failed to save %s: %w", key, err)
	}
	s.commit(working)
	return working.Clone(), nil
}

// RecordPersonalDetail merges one disclosed detail into the profile.
func (s *Service) RecordPersonalDetail(ctx context.Context, userID, personaID, field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w for field %q", ErrEmptyValue, field)
	}
	_, err := s.Update(ctx, userID, personaID, func(r *Record) error {
		r.Profile.SetDetail(field, value)
		return nil
	})
	return err
}

// RecordEmotionalMoment appends a moment, stamping it with the current time
// when it has none.
func (s *Service) RecordEmotionalMoment(ctx context.Context, userID, personaID string, m EmotionalMoment) error {
	if m.TimestampMs == 0 {
		m.TimestampMs = s.now().UnixMilli()
	}
	_, err := s.Update(ctx, userID, personaID, func(r *Record) error {
		r.Profile.AddEmotionalMoment(m)
		return nil
	})
	return err
}

// RecordMilestone sets kind to now unless it is already set.
func (s *Service) RecordMilestone(ctx context.Context, userID, personaID, kind string) error {
	_, err := s.Update(ctx, userID, personaID, func(r *Record) error {
		r.Profile.MarkMilestone(kind, s.now())
		return nil
	})
	return err
}

// AppendMessage adds msg to the bounded history.
func (s *Service) AppendMessage(ctx context.Context, userID, personaID string, msg Message) error {
	if msg.TimestampMs == 0 {
		msg.TimestampMs = s.now().UnixMilli()
	}
	_, err := s.Update(ctx, userID, personaID, func(r *Record) error {
		r.Profile.AppendMessage(msg, s.limits.History)
		return nil
	})
	return err
}

// Recall returns a personalised sentence of the given kind, or false when the
// profile has nothing to offer for it.
func (s *Service) Recall(ctx context.Context, userID, personaID string, kind RecallKind) (string, bool, error) {
	rec, err := s.GetOrCreate(ctx, userID, personaID)
	if err != nil {
		return "", false, err
	}
	text, ok := rec.Profile.Recall(kind, s.RecallContext())
	return text, ok, nil
}

// RecallContext returns the clock and random source recall should use.
func (s *Service) RecallContext() RecallContext {
	return RecallContext{Now: s.now(), Rand: s.rand}
}

// Unload drops the cached copy of a pair. The persisted record is untouched.
func (s *Service) Unload(userID, personaID string) {
	key := Key{UserID: userID, PersonaID: personaID}
	defer s.lock(key)()

	s.mu.Lock()
	delete(s.cache, key)
	s.mu.Unlock()
}

// Cached reports whether a pair is held in memory.
func (s *Service) Cached(userID, personaID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.cache[Key{UserID: userID, PersonaID: personaID}]
	return ok
}

// Pairs lists every persisted pair.
func (s *Service) Pairs(ctx context.Context) ([]Key, error) {
	return s.store.Pairs(ctx)
}
