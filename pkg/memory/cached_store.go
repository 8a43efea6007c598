package memory

import (
	"context"
	"sync"
	"time"

	"bondengine/pkg/cache"

	"go.uber.org/zap"
)

// CachedStore puts a Redis read-through, write-through cache in front of a Store.
// Cache failures never fail a call; the underlying store is the source of truth.
// A key whose cached copy could not be refreshed or dropped is read from the
// store by this process until a refresh succeeds.
type CachedStore struct {
	Store
	cache  *cache.Cache
	ttl    time.Duration
	logger *zap.Logger

	mu    sync.Mutex
	stale map[Key]struct{}
}

func NewCachedStore(store Store, c *cache.Cache) *CachedStore {
	return &CachedStore{
		Store:  store,
		cache:  c,
		ttl:    cache.ProfileTTL,
		logger: zap.NewNop(),
		stale:  make(map[Key]struct{}),
	}
}

func (c *CachedStore) WithLogger(logger *zap.Logger) *CachedStore {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// WithTTL sets how long a cached profile lives. Non-positive values are ignored.
func (c *CachedStore) WithTTL(ttl time.Duration) *CachedStore {
	if ttl > 0 {
		c.ttl = ttl
	}
	return c
}

func (c *CachedStore) key(k Key) string {
	return c.cache.Key("bond_profile", k.UserID, k.PersonaID)
}

func (c *CachedStore) Load(ctx context.Context, key Key) (*Record, error) {
	if !c.isStale(key) {
		var rec Record
		if err := c.cache.GetJSON(ctx, c.key(key), &rec); err == nil && rec.Profile != nil {
			rec.Key = key
			rec.Profile.ensureMaps()
			return &rec, nil
		}
	}

	loaded, err := c.Store.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	if loaded != nil {
		c.refresh(ctx, loaded)
	}
	return loaded, nil
}

// Save drops the cached copy before writing so a failed refresh afterwards
// cannot leave an older profile behind.
func (c *CachedStore) Save(ctx context.Context, rec *Record) error {
	if err := c.cache.Delete(ctx, c.key(rec.Key)); err != nil {
		c.markStale(rec.Key, err)
	}
	if err := c.Store.Save(ctx, rec); err != nil {
		return err
	}
	c.refresh(ctx, rec)
	return nil
}

func (c *CachedStore) refresh(ctx context.Context, rec *Record) {
	k := c.key(rec.Key)
	if err := c.cache.SetJSON(ctx, k, rec, c.ttl); err != nil {
		if delErr := c.cache.Delete(ctx, k); delErr != nil {
			c.markStale(rec.Key, err)
		}
		return
	}
	c.mu.Lock()
	delete(c.stale, rec.Key)
	c.mu.Unlock()
}

func (c *CachedStore) markStale(key Key, err error) {
	c.logger.Warn("failed to invalidate cached profile",
		zap.String("key", key.String()),
		zap.Error(err))
	c.mu.Lock()
	c.stale[key] = struct{}{}
	c.mu.Unlock()
}

func (c *CachedStore) isStale(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.stale[key]
	return ok
}
