package throttle

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"emailissuer/internal/platform/logger"
	"emailissuer/internal/ratelimit/metrics"
)

func TestAllowRefills(t *testing.T) {
	th := New(1, 2)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, th.Allow(now))
	assert.True(t, th.Allow(now))
	assert.False(t, th.Allow(now))
	assert.True(t, th.Allow(now.Add(time.Second)))
}

func TestDisabled(t *testing.T) {
	now := time.Now()
	for _, th := range []*Throttle{New(0, 1), New(1, 1, WithDisabled(true))} {
		for range 5 {
			assert.True(t, th.Allow(now))
		}
	}
}

func TestMiddlewareRejectsWith429(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	th := New(0.001, 1, WithLogger(logger.Discard()), WithMetrics(m))
	handler := th.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/api/send", nil))
	assert.Equal(t, http.StatusNoContent, first.Code)

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/api/send", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "1", second.Header().Get("Retry-After"))
	assert.Contains(t, second.Body.String(), "error_ratelimit")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RateLimitThrottledTotal))
}
