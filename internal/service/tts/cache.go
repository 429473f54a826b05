package tts

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
	"lukechampine.com/blake3"

	"ai-call-presence-service/internal/observability/metrics"
	"ai-call-presence-service/internal/service/synth"
)

// DefaultCacheEntries bounds the number of cached clips.
const DefaultCacheEntries = 256

// Cache memoizes synthesized audio keyed by a blake3 digest of the voice
// namespace and the text. Repeated phrases ("Sure, ", "Okay. ") are common in
// replies and skip the round trip entirely. The least recently used clip is
// evicted first.
type Cache struct {
	next      synth.Fetcher
	namespace string
	clips     *lru.Cache[[32]byte, []byte]
	metrics   *metrics.Metrics
}

// NewCache wraps next. namespace separates voices and models sharing one cache.
func NewCache(next synth.Fetcher, namespace string, maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultCacheEntries
	}
	// lru.New only fails for a non-positive size.
	clips, _ := lru.New[[32]byte, []byte](maxEntries)
	return &Cache{
		next:      next,
		namespace: namespace,
		clips:     clips,
		metrics:   metrics.DefaultMetrics,
	}
}

func (c *Cache) key(text string) [32]byte {
	buf := make([]byte, 0, len(c.namespace)+1+len(text))
	buf = append(buf, c.namespace...)
	buf = append(buf, 0)
	buf = append(buf, text...)
	return blake3.Sum256(buf)
}

// Fetch returns cached audio or fetches and stores it. Failures and empty
// results are never cached.
func (c *Cache) Fetch(ctx context.Context, text string) ([]byte, error) {
	k := c.key(text)

	audio, ok := c.clips.Get(k)
	c.metrics.RecordTTSCache(ok)
	if ok {
		return audio, nil
	}

	audio, err := c.next.Fetch(ctx, text)
	if err != nil || len(audio) == 0 {
		return audio, err
	}
	c.clips.ContainsOrAdd(k, audio)
	return audio, nil
}

// Len returns the number of cached clips.
func (c *Cache) Len() int {
	return c.clips.Len()
}
