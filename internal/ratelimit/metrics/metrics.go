package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"emailissuer/internal/ratelimit/models"
)

type Metrics struct {
	RateLimitDeniedTotal    *prometheus.CounterVec
	RateLimitFallbackTotal  prometheus.Counter
	RateLimitBreakerOpen    prometheus.Gauge
	RateLimitThrottledTotal prometheus.Counter
}

// New registers on the default registerer. Call it once per process.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RateLimitDeniedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "emailissuer_ratelimit_denied_total",
			Help: "Requests denied by a rate limit, by scope",
		}, []string{"scope"}),
		RateLimitFallbackTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "emailissuer_ratelimit_fallback_total",
			Help: "Rate limit checks served by the in-memory fallback store",
		}),
		RateLimitBreakerOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "emailissuer_ratelimit_breaker_open",
			Help: "1 while the rate limit store circuit breaker is open",
		}),
		RateLimitThrottledTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "emailissuer_ratelimit_throttled_total",
			Help: "Requests rejected by the global throttle",
		}),
	}
}

func (m *Metrics) IncDenied(scope models.Scope) {
	m.RateLimitDeniedTotal.WithLabelValues(string(scope)).Inc()
}

func (m *Metrics) IncFallback() {
	m.RateLimitFallbackTotal.Inc()
}

func (m *Metrics) SetBreakerOpen(open bool) {
	if open {
		m.RateLimitBreakerOpen.Set(1)
		return
	}
	m.RateLimitBreakerOpen.Set(0)
}

func (m *Metrics) IncThrottled() {
	m.RateLimitThrottledTotal.Inc()
}
