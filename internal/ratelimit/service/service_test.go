package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"emailissuer/internal/platform/logger"
	"emailissuer/internal/ratelimit/metrics"
	"emailissuer/internal/ratelimit/models"
	"emailissuer/internal/ratelimit/store/bucket"
	"emailissuer/pkg/enrollapi"
	dErrors "emailissuer/pkg/domain-errors"
	"emailissuer/pkg/platform/audit"
	"emailissuer/pkg/platform/audit/publisher"
	"emailissuer/pkg/platform/audit/store/memory"
	"emailissuer/pkg/requestcontext"
)

type ServiceSuite struct {
	suite.Suite
	now     time.Time
	store   *bucket.InMemoryBucketStore
	audits  *memory.InMemoryStore
	metrics *metrics.Metrics
	svc     *Service
	ctx     context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.now = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	s.store = bucket.NewInMemoryBucketStore(bucket.WithClock(func() time.Time { return s.now }))
	s.audits = memory.NewInMemoryStore()
	s.metrics = metrics.NewWithRegistry(prometheus.NewRegistry())

	var err error
	s.svc, err = New(s.store,
		WithLogger(logger.Discard()),
		WithAuditPublisher(publisher.NewPublisher(s.audits)),
		WithMetrics(s.metrics),
		WithConfig(&Config{
			Email:  models.Policy{Limit: 2, Window: 30 * time.Minute},
			IP:     models.Policy{Limit: 3, Window: 30 * time.Minute},
			Verify: models.Policy{Limit: 2, Window: 30 * time.Minute},
		}),
	)
	s.Require().NoError(err)
	s.ctx = requestcontext.WithClientMetadata(context.Background(), "198.51.100.7", "test")
}

func (s *ServiceSuite) TestNewRequiresStore() {
	_, err := New(nil)
	s.Error(err)
}

func (s *ServiceSuite) TestCheckSend() {
	s.Run("allows up to the address limit", func() {
		s.Require().NoError(s.svc.CheckSend(s.ctx, "alice@example.org", "198.51.100.7"))
		s.now = s.now.Add(time.Minute)
		s.Require().NoError(s.svc.CheckSend(s.ctx, "ALICE@example.org", "198.51.100.7"))
	})

	s.Run("denies the third mail and reports when the oldest expires", func() {
		s.now = s.now.Add(time.Minute)
		err := s.svc.CheckSend(s.ctx, "alice@example.org", "198.51.100.7")
		s.Require().Error(err)
		de := dErrors.As(err)
		s.Equal(dErrors.CodeRateLimited, de.Code)
		s.Equal(enrollapi.ErrRateLimit, de.WireCode)
		s.Equal(time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC), de.RetryAt)
	})

	s.Run("ip window counts across addresses", func() {
		// 3 mails already charged to the ip
		err := s.svc.CheckSend(s.ctx, "bob@example.org", "198.51.100.7")
		s.True(dErrors.Is(err, dErrors.CodeRateLimited))
	})

	s.Run("denials are audited and counted", func() {
		events, err := s.audits.ListBySubject(s.ctx, audit.HashSubject("alice@example.org"))
		s.Require().NoError(err)
		s.Require().NotEmpty(events)
		s.Equal(string(audit.EventRateLimitExceeded), events[0].Action)
		s.Equal("198.51.100.7", events[0].IP)
		s.Equal(float64(1), testutil.ToFloat64(s.metrics.RateLimitDeniedTotal.WithLabelValues("email")))
	})
}

func (s *ServiceSuite) TestCheckSendLaterResetWins() {
	// ip window filled early, address window later
	for _, addr := range []string{"a@example.org", "b@example.org", "c@example.org"} {
		s.Require().NoError(s.svc.CheckSend(s.ctx, addr, "203.0.113.1"))
	}
	s.now = s.now.Add(10 * time.Minute)
	s.Require().NoError(s.svc.CheckSend(s.ctx, "d@example.org", "203.0.113.2"))
	s.Require().NoError(s.svc.CheckSend(s.ctx, "d@example.org", "203.0.113.2"))

	err := s.svc.CheckSend(s.ctx, "d@example.org", "203.0.113.1")
	de := dErrors.As(err)
	s.Require().Equal(dErrors.CodeRateLimited, de.Code)
	s.Equal(time.Date(2026, 5, 1, 9, 40, 0, 0, time.UTC), de.RetryAt)
}

func (s *ServiceSuite) TestCheckVerifyAndRelease() {
	addr := "carol@example.org"
	s.Require().NoError(s.svc.CheckVerify(s.ctx, addr))
	s.Require().NoError(s.svc.CheckVerify(s.ctx, addr))
	s.True(dErrors.Is(s.svc.CheckVerify(s.ctx, addr), dErrors.CodeRateLimited))

	s.Require().NoError(s.svc.Release(s.ctx, addr))
	s.NoError(s.svc.CheckVerify(s.ctx, addr))
}

func (s *ServiceSuite) TestStoreFailureIsInternal() {
	svc, err := New(failingStore{}, WithLogger(logger.Discard()))
	s.Require().NoError(err)
	err = svc.CheckVerify(s.ctx, "dave@example.org")
	s.True(dErrors.Is(err, dErrors.CodeInternal))
	s.True(dErrors.Is(svc.Release(s.ctx, "dave@example.org"), dErrors.CodeInternal))
}

type failingStore struct{}

func (failingStore) Allow(context.Context, string, int, time.Duration) (*models.Result, error) {
	return nil, errors.New("store down")
}
func (failingStore) Reset(context.Context, string) error { return errors.New("store down") }
func (failingStore) Count(context.Context, string, time.Duration) (int, error) {
	return 0, errors.New("store down")
}
