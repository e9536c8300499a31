package code

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"emailissuer/internal/mailverify/models"
	"emailissuer/pkg/platform/sentinel"
)

var findDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "emailissuer_code_lookup_duration_ms",
	Help:    "Latency of pending code lookups in milliseconds",
	Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
})

const (
	codeKeyPrefix     = "code:"
	verifiedKeyPrefix = "verified:"
)

// RedisStore keeps codes in Redis so any instance can verify a code another
// instance mailed. Expiry is delegated to key TTLs.
type RedisStore struct {
	client    redis.Cmdable
	namespace string
	clock     func() time.Time
}

type RedisOption func(*RedisStore)

// WithNamespace prefixes every key, e.g. "emailissuer:".
func WithNamespace(ns string) RedisOption {
	return func(s *RedisStore) { s.namespace = ns }
}

func WithRedisClock(clock func() time.Time) RedisOption {
	return func(s *RedisStore) { s.clock = clock }
}

func NewRedisStore(client redis.Cmdable, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type storedCode struct {
	Address   string `json:"address"`
	Code      string `json:"code"`
	IssuedAt  int64  `json:"issued_at"`
	ExpiresAt int64  `json:"expires_at"`
}

func (s *RedisStore) Save(ctx context.Context, code models.PendingCode) error {
	ttl := code.ExpiresAt.Sub(s.clock())
	if ttl <= 0 {
		return fmt.Errorf("save code: already expired")
	}
	payload, err := json.Marshal(storedCode{
		Address:   code.Address,
		Code:      code.Code,
		IssuedAt:  code.IssuedAt.Unix(),
		ExpiresAt: code.ExpiresAt.Unix(),
	})
	if err != nil {
		return fmt.Errorf("marshal code: %w", err)
	}
	return s.client.Set(ctx, s.codeKey(code.Address), payload, ttl).Err()
}

func (s *RedisStore) Find(ctx context.Context, address string) (*models.PendingCode, error) {
	start := time.Now()
	defer func() {
		findDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	raw, err := s.client.Get(ctx, s.codeKey(address)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get code: %w: %w", sentinel.ErrUnavailable, err)
	}

	var stored storedCode
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("unmarshal code: %w", err)
	}
	code := &models.PendingCode{
		Address:   stored.Address,
		Code:      stored.Code,
		IssuedAt:  time.Unix(stored.IssuedAt, 0),
		ExpiresAt: time.Unix(stored.ExpiresAt, 0),
	}
	if code.IsExpired(s.clock()) {
		return nil, sentinel.ErrExpired
	}
	return code, nil
}

func (s *RedisStore) Delete(ctx context.Context, address string) error {
	return s.client.Del(ctx, s.codeKey(address)).Err()
}

func (s *RedisStore) MarkVerified(ctx context.Context, address string, ttl time.Duration) error {
	return s.client.Set(ctx, s.verifiedKey(address), "1", ttl).Err()
}

func (s *RedisStore) IsVerified(ctx context.Context, address string) (bool, error) {
	n, err := s.client.Exists(ctx, s.verifiedKey(address)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisStore) ClearVerified(ctx context.Context, address string) error {
	return s.client.Del(ctx, s.verifiedKey(address)).Err()
}

func (s *RedisStore) codeKey(address string) string {
	return s.namespace + codeKeyPrefix + models.AddressKey(address)
}

func (s *RedisStore) verifiedKey(address string) string {
	return s.namespace + verifiedKeyPrefix + models.AddressKey(address)
}
