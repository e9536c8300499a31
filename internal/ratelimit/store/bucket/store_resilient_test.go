package bucket

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emailissuer/internal/platform/logger"
	"emailissuer/internal/ratelimit/metrics"
	"emailissuer/internal/ratelimit/models"
	"emailissuer/pkg/platform/circuit"
)

// flakyStore fails while down is set and otherwise delegates to memory.
type flakyStore struct {
	*InMemoryBucketStore
	down  bool
	calls int
}

func (f *flakyStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error) {
	f.calls++
	if f.down {
		return nil, errors.New("connection refused")
	}
	return f.InMemoryBucketStore.Allow(ctx, key, limit, window)
}

func newResilient(t *testing.T) (*ResilientStore, *flakyStore, *InMemoryBucketStore, *metrics.Metrics) {
	t.Helper()
	primary := &flakyStore{InMemoryBucketStore: NewInMemoryBucketStore()}
	fallback := NewInMemoryBucketStore()
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	store := NewResilientStore(primary, fallback,
		WithBreaker(circuit.New("test", circuit.WithFailureThreshold(2), circuit.WithSuccessThreshold(2))),
		WithMetrics(m),
		WithLogger(logger.Discard()),
	)
	return store, primary, fallback, m
}

func TestResilientStore_PrimaryErrorBeforeThresholdSurfaces(t *testing.T) {
	store, primary, _, _ := newResilient(t)
	primary.down = true

	_, err := store.Allow(context.Background(), "rl:email:a", 3, time.Minute)
	require.Error(t, err)
}

func TestResilientStore_FallsBackWhenOpenAndRecovers(t *testing.T) {
	ctx := context.Background()
	store, primary, fallback, m := newResilient(t)
	primary.down = true

	_, _ = store.Allow(ctx, "rl:email:a", 3, time.Minute)
	result, err := store.Allow(ctx, "rl:email:a", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RateLimitBreakerOpen))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RateLimitFallbackTotal))

	count, err := store.Count(ctx, "rl:email:a", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "count is read from the fallback while open")

	primary.down = false
	// first success while open is still answered by the fallback
	_, err = store.Allow(ctx, "rl:email:a", 3, time.Minute)
	require.NoError(t, err)
	fallbackCount, _ := fallback.Count(ctx, "rl:email:a", time.Minute)
	assert.Equal(t, 2, fallbackCount)

	_, err = store.Allow(ctx, "rl:email:a", 3, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.RateLimitBreakerOpen))
}

func TestResilientStore_ResetClearsBoth(t *testing.T) {
	ctx := context.Background()
	store, primary, fallback, _ := newResilient(t)

	_, _ = primary.InMemoryBucketStore.Allow(ctx, "rl:verify:a", 3, time.Minute)
	_, _ = fallback.Allow(ctx, "rl:verify:a", 3, time.Minute)

	require.NoError(t, store.Reset(ctx, "rl:verify:a"))

	n, _ := primary.Count(ctx, "rl:verify:a", time.Minute)
	assert.Zero(t, n)
	n, _ = fallback.Count(ctx, "rl:verify:a", time.Minute)
	assert.Zero(t, n)
}
