package ai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/sirupsen/logrus"
)

// PhraseCache wraps a Synthesizer and memoizes synthesized audio by
// text. Fixed phrases (greeting, fallback apology, quick responses)
// synthesize once per process.
type PhraseCache struct {
	mu      sync.RWMutex
	inner   Synthesizer
	logger  *logrus.Logger
	entries map[string]*SynthesisResult
}

// NewPhraseCache wraps a synthesizer with an in-memory phrase cache.
func NewPhraseCache(inner Synthesizer, logger *logrus.Logger) *PhraseCache {
	return &PhraseCache{
		inner:   inner,
		logger:  logger,
		entries: make(map[string]*SynthesisResult),
	}
}

// Name returns the wrapped provider name
func (c *PhraseCache) Name() string {
	return c.inner.Name()
}

// Initialize initializes the wrapped synthesizer
func (c *PhraseCache) Initialize() error {
	return c.inner.Initialize()
}

// Synthesize returns cached audio for a previously synthesized phrase
// or delegates to the wrapped synthesizer and caches the result.
func (c *PhraseCache) Synthesize(ctx context.Context, text string) (*SynthesisResult, error) {
	key := cacheKey(text)

	c.mu.RLock()
	cached, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		c.logger.WithField("chars", len(text)).Debug("Phrase cache hit")
		return cached, nil
	}

	result, err := c.inner.Synthesize(ctx, text)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = result
	c.mu.Unlock()
	return result, nil
}

// Warm synthesizes a set of phrases ahead of time. Failures are logged
// and skipped; a cold cache entry just synthesizes on first use.
func (c *PhraseCache) Warm(ctx context.Context, phrases []string) {
	for _, phrase := range phrases {
		if phrase == "" {
			continue
		}
		if _, err := c.Synthesize(ctx, phrase); err != nil {
			c.logger.WithError(err).WithField("chars", len(phrase)).Warn("Failed to warm phrase cache")
		}
	}
}

// Cached reports whether a phrase is already in the cache.
func (c *PhraseCache) Cached(text string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[cacheKey(text)]
	return ok
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
