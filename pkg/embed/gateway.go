package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/agenttown/recall/pkg/errors"
	"github.com/agenttown/recall/pkg/log"
)

// Options configures the gateway.
type Options struct {
	// CacheEntries bounds the embedding cache; 0 disables caching
	CacheEntries int64

	// MaxAttempts bounds provider calls per Embed; minimum 1
	MaxAttempts int

	// BaseBackoff is the first retry delay, doubled per attempt
	BaseBackoff time.Duration
}

// DefaultOptions returns the default gateway options.
func DefaultOptions() Options {
	return Options{
		CacheEntries: 4096,
		MaxAttempts:  3,
		BaseBackoff:  200 * time.Millisecond,
	}
}

// Gateway fronts an Embedder with a bounded content-hash cache and
// retry with exponential backoff. The cache is advisory: a racing write
// and read on the same key at worst recompute the embedding.
type Gateway struct {
	embedder    Embedder
	cache       *ristretto.Cache
	maxAttempts int
	baseBackoff time.Duration
}

// NewGateway creates a gateway around the given embedder.
func NewGateway(embedder Embedder, opts Options) (*Gateway, error) {
	if embedder == nil {
		return nil, errors.Wrap(errors.ErrInvalidInput, "embedder cannot be nil")
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 200 * time.Millisecond
	}

	g := &Gateway{
		embedder:    embedder,
		maxAttempts: opts.MaxAttempts,
		baseBackoff: opts.BaseBackoff,
	}

	if opts.CacheEntries > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: opts.CacheEntries * 10,
			MaxCost:     opts.CacheEntries,
			BufferItems: 64,
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to create embedding cache")
		}
		g.cache = cache
	}

	return g, nil
}

// Dimensions returns the provider's embedding size.
func (g *Gateway) Dimensions() int {
	return g.embedder.Dimensions()
}

// Embed returns the embedding for text. Empty text (after trimming) is a
// caller error. Provider failures are retried with exponential backoff
// up to the configured attempt budget; exhaustion surfaces
// ErrEmbedderUnavailable so a memory write never silently vanishes.
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "text cannot be empty")
	}

	key := contentHash(text)
	if g.cache != nil {
		if cached, ok := g.cache.Get(key); ok {
			if vector, ok := cached.([]float32); ok {
				return vector, nil
			}
		}
	}

	vector, err := g.callWithRetry(ctx, text)
	if err != nil {
		return nil, err
	}

	if g.cache != nil {
		// Cost 1 per entry keeps MaxCost an entry count
		g.cache.Set(key, vector, 1)
	}

	return vector, nil
}

// EmbedBatch embeds multiple texts, serving cached entries and sending
// only the misses to the provider.
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	missing := make([]int, 0, len(texts))

	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, errors.Wrap(errors.ErrInvalidInput, "text %d cannot be empty", i)
		}
		if g.cache != nil {
			if cached, ok := g.cache.Get(contentHash(text)); ok {
				if vector, ok := cached.([]float32); ok {
					vectors[i] = vector
					continue
				}
			}
		}
		missing = append(missing, i)
	}

	if len(missing) == 0 {
		return vectors, nil
	}

	uncached := make([]string, len(missing))
	for i, idx := range missing {
		uncached[i] = texts[idx]
	}

	embedded, err := g.embedder.EmbedBatch(ctx, uncached)
	if err != nil {
		return nil, errors.Wrap(errors.ErrEmbedderUnavailable, "batch embedding failed")
	}
	if len(embedded) != len(uncached) {
		return nil, errors.Wrap(errors.ErrEmbedderUnavailable, "provider returned %d vectors for %d texts", len(embedded), len(uncached))
	}

	for i, idx := range missing {
		vectors[idx] = embedded[i]
		if g.cache != nil {
			g.cache.Set(contentHash(texts[idx]), embedded[i], 1)
		}
	}

	return vectors, nil
}

// callWithRetry calls the provider with bounded exponential backoff.
// Context cancellation stops the retry loop immediately; the caller's
// timeout is propagated, never replaced.
func (g *Gateway) callWithRetry(ctx context.Context, text string) ([]float32, error) {
	var lastErr error
	backoff := g.baseBackoff

	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		vector, err := g.embedder.Embed(ctx, text)
		if err == nil {
			return vector, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt == g.maxAttempts {
			break
		}

		log.WarnContext(ctx, "Embedding attempt failed, retrying",
			"attempt", attempt,
			"max_attempts", g.maxAttempts,
			"error", err)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
	}

	return nil, errors.Wrap(errors.ErrEmbedderUnavailable, "after %d attempts: %v", g.maxAttempts, lastErr)
}

// contentHash keys the cache by text content, not the text itself, so
// long memories don't bloat cache keys.
func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
