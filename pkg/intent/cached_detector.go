package intent

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

type CachedDetector struct {
	detector Detector
	cache    *lru.Cache[string, Label]
	persona  string
}

// NewCachedDetector wraps detector with an LRU keyed by persona and utterance.
func NewCachedDetector(detector Detector, cacheSize int, persona string, logger *zap.Logger) *CachedDetector {
	if logger == nil {
		logger = zap.NewNop()
	}
	cache, err := lru.New[string, Label](cacheSize)
	if err != nil {
		// This should only happen if cacheSize <= 0
		logger.Warn("invalid intent cache size, using 1000", zap.Int("size", cacheSize), zap.Error(err))
		cache, _ = lru.New[string, Label](1000)
	}

	return &CachedDetector{
		detector: detector,
		cache:    cache,
		persona:  persona,
	}
}

func (c *CachedDetector) Detect(utterance string) (Label, error) {
	h := md5.New()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(utterance))))
	key := fmt.Sprintf("%s:%s", c.persona, hex.EncodeToString(h.Sum(nil)))

	if label, ok := c.cache.Get(key); ok {
		return label, nil
	}

	label, err := c.detector.Detect(utterance)
	if err != nil {
		return "", err
	}

	c.cache.Add(key, label)
	return label, nil
}

// Len returns the number of cached utterances.
func (c *CachedDetector) Len() int {
	return c.cache.Len()
}
