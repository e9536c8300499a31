// Package throttle caps the total request rate the API accepts, independent
// of who is asking. It protects the mailer and the store during bursts.
package throttle

import (
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"emailissuer/internal/ratelimit/metrics"
	dErrors "emailissuer/pkg/domain-errors"
	"emailissuer/pkg/enrollapi"
	"emailissuer/pkg/platform/httputil"
	"emailissuer/pkg/requestcontext"
)

type Throttle struct {
	limiter  *rate.Limiter
	logger   *slog.Logger
	metrics  *metrics.Metrics
	disabled bool
}

type Option func(*Throttle)

func WithLogger(logger *slog.Logger) Option {
	return func(t *Throttle) { t.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Throttle) { t.metrics = m }
}

// WithDisabled lets every request through.
func WithDisabled(disabled bool) Option {
	return func(t *Throttle) { t.disabled = disabled }
}

// New allows rps requests per second with the given burst. A non-positive
// rps disables the throttle.
func New(rps float64, burst int, opts ...Option) *Throttle {
	if burst <= 0 {
		burst = 1
	}
	t := &Throttle{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if rps <= 0 {
		t.disabled = true
	}
	return t
}

// Allow consumes one token at now.
func (t *Throttle) Allow(now time.Time) bool {
	if t.disabled {
		return true
	}
	return t.limiter.AllowN(now, 1)
}

func (t *Throttle) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		now := requestcontext.Now(ctx)
		if t.Allow(now) {
			next.ServeHTTP(w, r)
			return
		}
		if t.metrics != nil {
			t.metrics.IncThrottled()
		}
		t.logger.WarnContext(ctx, "global throttle rejected request",
			"path", r.URL.Path,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, dErrors.RateLimited(enrollapi.ErrRateLimit, now.Add(time.Second)))
	})
}
