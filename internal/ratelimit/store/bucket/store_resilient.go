package bucket

import (
	"context"
	"log/slog"
	"time"

	"emailissuer/internal/ratelimit/metrics"
	"emailissuer/internal/ratelimit/models"
	"emailissuer/internal/ratelimit/ports"
	"emailissuer/pkg/platform/circuit"
)

// ResilientStore fronts a shared primary store with a circuit breaker. While
// the breaker is open, checks are served by the in-process fallback.
type ResilientStore struct {
	primary  ports.BucketStore
	fallback ports.BucketStore
	breaker  *circuit.Breaker
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

type ResilientOption func(*ResilientStore)

func WithBreaker(b *circuit.Breaker) ResilientOption {
	return func(s *ResilientStore) { s.breaker = b }
}

func WithMetrics(m *metrics.Metrics) ResilientOption {
	return func(s *ResilientStore) { s.metrics = m }
}

func WithLogger(logger *slog.Logger) ResilientOption {
	return func(s *ResilientStore) { s.logger = logger }
}

func NewResilientStore(primary, fallback ports.BucketStore, opts ...ResilientOption) *ResilientStore {
	s := &ResilientStore{
		primary:  primary,
		fallback: fallback,
		breaker:  circuit.New("ratelimit-store"),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Allow asks the primary first, even while open, so recovery is observed.
func (s *ResilientStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error) {
	res, err := s.primary.Allow(ctx, key, limit, window)
	if err != nil {
		useFallback, change := s.breaker.RecordFailure()
		s.observe(ctx, change, err)
		if useFallback {
			if s.metrics != nil {
				s.metrics.IncFallback()
			}
			return s.fallback.Allow(ctx, key, limit, window)
		}
		return nil, err
	}

	usePrimary, change := s.breaker.RecordSuccess()
	s.observe(ctx, change, nil)
	if usePrimary {
		return res, nil
	}
	if s.metrics != nil {
		s.metrics.IncFallback()
	}
	return s.fallback.Allow(ctx, key, limit, window)
}

// Reset clears both stores so a released address is not held back by stale
// fallback counters.
func (s *ResilientStore) Reset(ctx context.Context, key string) error {
	_ = s.fallback.Reset(ctx, key)
	if err := s.primary.Reset(ctx, key); err != nil {
		s.logger.WarnContext(ctx, "rate limit reset failed on primary store", "error", err)
		return err
	}
	return nil
}

func (s *ResilientStore) Count(ctx context.Context, key string, window time.Duration) (int, error) {
	if s.breaker.IsOpen() {
		return s.fallback.Count(ctx, key, window)
	}
	return s.primary.Count(ctx, key, window)
}

func (s *ResilientStore) observe(ctx context.Context, change circuit.Change, err error) {
	switch {
	case change.Opened:
		s.logger.WarnContext(ctx, "rate limit store degraded, using in-memory fallback",
			"breaker", s.breaker.Name(), "error", err)
	case change.Closed:
		s.logger.InfoContext(ctx, "rate limit store recovered", "breaker", s.breaker.Name())
	default:
		return
	}
	if s.metrics != nil {
		s.metrics.SetBreakerOpen(change.Opened)
	}
}
