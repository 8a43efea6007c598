package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"bondengine/pkg/bond"
)

// Key identifies one (user, persona) pair.
type Key struct {
	UserID    string `json:"user_id"`
	PersonaID string `json:"persona_id"`
}

func (k Key) String() string {
	return k.UserID + ":" + k.PersonaID
}

// Record is the unit of persistence: a profile and its bond, saved together.
type Record struct {
	Key     Key        `json:"key"`
	Profile *Profile   `json:"profile"`
	Bond    bond.State `json:"bond"`
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	return &Record{Key: r.Key, Profile: r.Profile.Clone(), Bond: r.Bond}
}

// Store persists records. Load returns nil, nil for a pair never seen before.
type Store interface {
	Load(ctx context.Context, key Key) (*Record, error)
	Save(ctx context.Context, rec *Record) error
	Pairs(ctx context.Context) ([]Key, error)
}

// InMemoryStore keeps records as JSON so every Load returns an independent
// copy, the same as a real backend would.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[Key][]byte
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[Key][]byte)}
}

func (s *InMemoryStore) Load(ctx context.Context, key Key) (*Record, error) {
	s.mu.RLock()
	data, ok := s.records[key]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return decodeRecord(data)
}

func (s *InMemoryStore) Save(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record %s: %w", rec.Key, err)
	}
	s.mu.Lock()
	s.records[rec.Key] = data
	s.mu.Unlock()
	return nil
}

func (s *InMemoryStore) Pairs(ctx context.Context) ([]Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]Key, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	sortKeys(keys)
	return keys, nil
}

func decodeRecord(data []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	if rec.Profile == nil {
		rec.Profile = NewProfile(rec.Key.UserID, rec.Key.PersonaID, rec.Bond.CreatedAt)
	}
	rec.Profile.ensureMaps()
	return &rec, nil
}

func sortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].UserID != keys[j].UserID {
			return keys[i].UserID < keys[j].UserID
		}
		return keys[i].PersonaID < keys[j].PersonaID
	})
}
