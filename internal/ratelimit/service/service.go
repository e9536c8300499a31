package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"emailissuer/internal/ratelimit/metrics"
	"emailissuer/internal/ratelimit/models"
	"emailissuer/internal/ratelimit/ports"
	"emailissuer/pkg/email"
	"emailissuer/pkg/enrollapi"
	dErrors "emailissuer/pkg/domain-errors"
	"emailissuer/pkg/platform/audit"
	"emailissuer/pkg/requestcontext"
)

// Config holds the per-scope sliding window policies.
type Config struct {
	Email  models.Policy
	IP     models.Policy
	Verify models.Policy
}

func DefaultConfig() *Config {
	return &Config{
		Email:  models.Policy{Limit: 3, Window: 30 * time.Minute},
		IP:     models.Policy{Limit: 10, Window: 30 * time.Minute},
		Verify: models.Policy{Limit: 10, Window: 30 * time.Minute},
	}
}

// Service enforces the enrollment rate limits: code mails per address and per
// client IP, and verification attempts per address.
type Service struct {
	buckets        ports.BucketStore
	auditPublisher ports.AuditPublisher
	metrics        *metrics.Metrics
	logger         *slog.Logger
	config         *Config
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditPublisher(publisher ports.AuditPublisher) Option {
	return func(s *Service) { s.auditPublisher = publisher }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithConfig(cfg *Config) Option {
	return func(s *Service) {
		if cfg != nil {
			s.config = cfg
		}
	}
}

func New(buckets ports.BucketStore, opts ...Option) (*Service, error) {
	if buckets == nil {
		return nil, fmt.Errorf("buckets store is required")
	}
	svc := &Service{
		buckets: buckets,
		logger:  slog.Default(),
		config:  DefaultConfig(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// CheckSend records a code mail for address from ip. Both windows are charged;
// when either is exhausted the later of the two reset instants is returned as
// the retry time.
func (s *Service) CheckSend(ctx context.Context, address, ip string) error {
	var retryAt time.Time
	denied := false

	checks := []struct {
		scope  models.Scope
		id     string
		policy models.Policy
	}{
		{models.ScopeEmail, address, s.config.Email},
		{models.ScopeIP, ip, s.config.IP},
	}
	for _, c := range checks {
		result, err := s.allow(ctx, c.scope, c.id, c.policy, address)
		if err != nil {
			return err
		}
		if !result.Allowed {
			denied = true
			if result.ResetAt.After(retryAt) {
				retryAt = result.ResetAt
			}
		}
	}
	if denied {
		return dErrors.RateLimited(enrollapi.ErrRateLimit, retryAt)
	}
	return nil
}

// CheckVerify records one verification attempt for address.
func (s *Service) CheckVerify(ctx context.Context, address string) error {
	result, err := s.allow(ctx, models.ScopeVerify, address, s.config.Verify, address)
	if err != nil {
		return err
	}
	if !result.Allowed {
		return dErrors.RateLimited(enrollapi.ErrRateLimit, result.ResetAt)
	}
	return nil
}

// Release clears the per-address windows once an enrollment completed, so the
// user can enroll another wallet without waiting out the cooldown.
func (s *Service) Release(ctx context.Context, address string) error {
	for _, scope := range []models.Scope{models.ScopeEmail, models.ScopeVerify} {
		if err := s.buckets.Reset(ctx, models.Key(scope, address)); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to release rate limit")
		}
	}
	return nil
}

func (s *Service) allow(ctx context.Context, scope models.Scope, id string, policy models.Policy, address string) (*models.Result, error) {
	result, err := s.buckets.Allow(ctx, models.Key(scope, id), policy.Limit, policy.Window)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check rate limit")
	}
	if !result.Allowed {
		s.onDenied(ctx, scope, policy, address)
	}
	return result, nil
}

func (s *Service) onDenied(ctx context.Context, scope models.Scope, policy models.Policy, address string) {
	if s.metrics != nil {
		s.metrics.IncDenied(scope)
	}
	s.logger.InfoContext(ctx, "rate limit exceeded",
		"scope", string(scope),
		"subject", email.Mask(address),
		"limit", policy.Limit,
		"window_seconds", int(policy.Window.Seconds()),
		"request_id", requestcontext.RequestID(ctx),
	)
	if s.auditPublisher == nil {
		return
	}
	err := s.auditPublisher.Emit(ctx, audit.Event{
		Action:      string(audit.EventRateLimitExceeded),
		Subject:     email.Mask(address),
		SubjectHash: audit.HashSubject(address),
		IP:          requestcontext.ClientIP(ctx),
		Reason:      string(scope),
		RequestID:   requestcontext.RequestID(ctx),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to emit audit event", "error", err)
	}
}
