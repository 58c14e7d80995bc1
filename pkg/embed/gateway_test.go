package embed

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	recallerrors "github.com/agenttown/recall/pkg/errors"
)

// stubEmbedder counts calls and fails the first failUntil of them.
type stubEmbedder struct {
	calls     atomic.Int64
	failUntil int64
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	n := s.calls.Add(1)
	if n <= s.failUntil {
		return nil, errors.New("provider overloaded")
	}
	return []float32{float32(len(text)), 1, 0}, nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vector, err := s.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = vector
	}
	return vectors, nil
}

func (s *stubEmbedder) Dimensions() int { return 3 }

func TestNewGateway_NilEmbedder(t *testing.T) {
	_, err := NewGateway(nil, DefaultOptions())
	assert.ErrorIs(t, err, recallerrors.ErrInvalidInput)
}

func TestGateway_EmptyText(t *testing.T) {
	gw, err := NewGateway(&stubEmbedder{}, DefaultOptions())
	require.NoError(t, err)

	_, err = gw.Embed(context.Background(), "   ")
	assert.ErrorIs(t, err, recallerrors.ErrInvalidInput)

	_, err = gw.EmbedBatch(context.Background(), []string{"ok", ""})
	assert.ErrorIs(t, err, recallerrors.ErrInvalidInput)
}

func TestGateway_CacheHit(t *testing.T) {
	stub := &stubEmbedder{}
	gw, err := NewGateway(stub, DefaultOptions())
	require.NoError(t, err)

	ctx := context.Background()
	first, err := gw.Embed(ctx, "remember this")
	require.NoError(t, err)

	// Ristretto applies writes asynchronously; flush before the re-read.
	gw.cache.Wait()

	second, err := gw.Embed(ctx, "remember this")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), stub.calls.Load())
}

func TestGateway_CacheDisabled(t *testing.T) {
	stub := &stubEmbedder{}
	opts := DefaultOptions()
	opts.CacheEntries = 0
	gw, err := NewGateway(stub, opts)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = gw.Embed(ctx, "no cache")
	require.NoError(t, err)
	_, err = gw.Embed(ctx, "no cache")
	require.NoError(t, err)

	assert.Equal(t, int64(2), stub.calls.Load())
}

func TestGateway_RetryThenSuccess(t *testing.T) {
	stub := &stubEmbedder{failUntil: 2}
	gw, err := NewGateway(stub, Options{MaxAttempts: 3, BaseBackoff: time.Millisecond})
	require.NoError(t, err)

	vector, err := gw.Embed(context.Background(), "flaky provider")
	require.NoError(t, err)
	assert.Len(t, vector, 3)
	assert.Equal(t, int64(3), stub.calls.Load())
}

func TestGateway_RetryExhaustion(t *testing.T) {
	stub := &stubEmbedder{failUntil: 100}
	gw, err := NewGateway(stub, Options{MaxAttempts: 2, BaseBackoff: time.Millisecond})
	require.NoError(t, err)

	_, err = gw.Embed(context.Background(), "always down")
	assert.ErrorIs(t, err, recallerrors.ErrEmbedderUnavailable)
	assert.Equal(t, int64(2), stub.calls.Load())
}

func TestGateway_ContextCancelStopsRetry(t *testing.T) {
	stub := &stubEmbedder{failUntil: 100}
	gw, err := NewGateway(stub, Options{MaxAttempts: 5, BaseBackoff: 50 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = gw.Embed(ctx, "slow retries")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGateway_BatchServesCachedEntries(t *testing.T) {
	stub := &stubEmbedder{}
	gw, err := NewGateway(stub, DefaultOptions())
	require.NoError(t, err)

	ctx := context.Background()
	cached, err := gw.Embed(ctx, "seen before")
	require.NoError(t, err)
	gw.cache.Wait()

	vectors, err := gw.EmbedBatch(ctx, []string{"seen before", "brand new"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, cached, vectors[0])
	assert.Len(t, vectors[1], 3)

	// one call for the seed, one for the single batch miss
	assert.Equal(t, int64(2), stub.calls.Load())
}

func TestGateway_Dimensions(t *testing.T) {
	gw, err := NewGateway(&stubEmbedder{}, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 3, gw.Dimensions())
}
