package service_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"emailissuer/internal/mail"
	"emailissuer/internal/mailverify/metrics"
	"emailissuer/internal/mailverify/mocks"
	"emailissuer/internal/mailverify/models"
	"emailissuer/internal/mailverify/service"
	"emailissuer/internal/mailverify/store/code"
	"emailissuer/internal/platform/logger"
	dErrors "emailissuer/pkg/domain-errors"
	"emailissuer/pkg/enrollapi"
	"emailissuer/pkg/platform/audit"
	"emailissuer/pkg/requestcontext"
)

type ServiceSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	limiter *mocks.MockLimiter
	mailer  *mocks.MockMailer
	signer  *mocks.MockSessionSigner
	audit   *mocks.MockAuditPublisher
	codes   *code.InMemoryStore
	metrics *metrics.Metrics
	svc     *service.Service
	now     time.Time
	ctx     context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.limiter = mocks.NewMockLimiter(s.ctrl)
	s.mailer = mocks.NewMockMailer(s.ctrl)
	s.signer = mocks.NewMockSessionSigner(s.ctrl)
	s.audit = mocks.NewMockAuditPublisher(s.ctrl)
	s.now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	s.codes = code.NewInMemoryStore(code.WithClock(func() time.Time { return s.now }))
	s.metrics = metrics.NewWithRegistry(prometheus.NewRegistry())

	var err error
	s.svc, err = service.New(s.codes, s.limiter, s.mailer, s.signer,
		service.WithLogger(logger.Discard()),
		service.WithAuditPublisher(s.audit),
		service.WithMetrics(s.metrics),
		service.WithConfig(service.Config{
			BaseURL:     "https://enroll.example.org",
			SessionURL:  "https://wallet.example.org",
			AllowedTLDs: []string{"org", "nl"},
		}),
	)
	s.Require().NoError(err)

	ctx := requestcontext.WithTime(context.Background(), s.now)
	s.ctx = requestcontext.WithClientMetadata(ctx, "192.0.2.10", "test")
}

func (s *ServiceSuite) expectAudit(action audit.AuditEvent) {
	s.audit.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e audit.Event) error {
		s.Equal(string(action), e.Action)
		s.Equal("192.0.2.10", e.IP)
		s.NotContains(e.Subject, "alice")
		return nil
	})
}

// sendCode mails a code for alice and returns what the mailer saw.
func (s *ServiceSuite) sendCode() mail.CodeMessage {
	var sent mail.CodeMessage
	s.limiter.EXPECT().CheckSend(gomock.Any(), "alice@example.org", "192.0.2.10").Return(nil)
	s.mailer.EXPECT().SendCode(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, m mail.CodeMessage) error {
		sent = m
		return nil
	})
	s.expectAudit(audit.EventCodeRequested)

	s.Require().NoError(s.svc.Send(s.ctx, models.SendCommand{Address: " alice@Example.ORG ", Locale: "nl", IP: "192.0.2.10"}))
	return sent
}

func (s *ServiceSuite) TestNewRequiresCollaborators() {
	_, err := service.New(nil, s.limiter, s.mailer, s.signer)
	s.Error(err)
}

func (s *ServiceSuite) TestSend() {
	s.Run("mails a code with a deep link", func() {
		sent := s.sendCode()
		s.Equal("alice@example.org", sent.To)
		s.Equal("nl", sent.Locale)
		s.Len(sent.Code, 6)
		s.NotContains(sent.Code, "0")
		s.NotContains(sent.Code, "O")
		s.Equal(enrollapi.Link("https://enroll.example.org", "nl", "alice@example.org", sent.Code, s.now), sent.Link)
		s.Equal(s.now.Add(15*time.Minute), sent.ExpiresAt)
		s.Equal(float64(1), testutil.ToFloat64(s.metrics.CodesSent))

		pending, err := s.codes.Find(s.ctx, "alice@example.org")
		s.Require().NoError(err)
		s.Equal(sent.Code, pending.Code)
	})

	s.Run("unknown locale links to english", func() {
		s.limiter.EXPECT().CheckSend(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
		s.mailer.EXPECT().SendCode(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, m mail.CodeMessage) error {
			s.Equal("en", m.Locale)
			s.True(strings.Contains(m.Link, "/en/enroll#verify:"))
			return nil
		})
		s.audit.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil)
		s.Require().NoError(s.svc.Send(s.ctx, models.SendCommand{Address: "bob@example.nl", Locale: "fr"}))
	})
}

func (s *ServiceSuite) TestSendRejections() {
	cases := []struct {
		name    string
		address string
		code    dErrors.Code
		wire    string
	}{
		{"empty", "  ", dErrors.CodeBadRequest, enrollapi.ErrBadRequest},
		{"no at sign", "alice.example.org", dErrors.CodeAddressRejected, enrollapi.ErrEmailFormat},
		{"display name", "Alice <alice@example.org>", dErrors.CodeAddressRejected, enrollapi.ErrEmailFormat},
		{"tld not allowed", "alice@example.com", dErrors.CodeAddressRejected, enrollapi.ErrEmailDomain},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			err := s.svc.Send(s.ctx, models.SendCommand{Address: tc.address})
			de := dErrors.As(err)
			s.Equal(tc.code, de.Code)
			s.Equal(tc.wire, de.WireCode)
		})
	}
}

func (s *ServiceSuite) TestSendRateLimited() {
	limited := dErrors.RateLimited(enrollapi.ErrRateLimit, s.now.Add(10*time.Minute))
	s.limiter.EXPECT().CheckSend(gomock.Any(), gomock.Any(), gomock.Any()).Return(limited)

	err := s.svc.Send(s.ctx, models.SendCommand{Address: "alice@example.org"})
	s.Same(limited, dErrors.As(err))

	_, findErr := s.codes.Find(s.ctx, "alice@example.org")
	s.Error(findErr, "no code is stored when the limit denies")
}

func (s *ServiceSuite) TestSendMailFailure() {
	s.limiter.EXPECT().CheckSend(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	s.mailer.EXPECT().SendCode(gomock.Any(), gomock.Any()).Return(errors.New("dial tcp: refused"))
	s.expectAudit(audit.EventMailFailed)

	err := s.svc.Send(s.ctx, models.SendCommand{Address: "alice@example.org", Locale: "en"})
	de := dErrors.As(err)
	s.Equal(dErrors.CodeInternal, de.Code)
	s.Equal(enrollapi.ErrSendingEmail, de.WireCode)
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.MailFailures))

	_, findErr := s.codes.Find(s.ctx, "alice@example.org")
	s.Error(findErr)
}

func (s *ServiceSuite) TestVerify() {
	sent := s.sendCode()

	s.Run("wrong code", func() {
		s.limiter.EXPECT().CheckVerify(gomock.Any(), "alice@example.org").Return(nil)
		s.expectAudit(audit.EventVerificationFailed)
		_, err := s.svc.Verify(s.ctx, "alice@example.org", "ZZZZZZ")
		s.Equal(enrollapi.ErrTokenInvalid, dErrors.As(err).WireCode)
	})

	s.Run("lower-case code with surrounding space verifies", func() {
		s.limiter.EXPECT().CheckVerify(gomock.Any(), "alice@example.org").Return(nil)
		s.signer.EXPECT().Sign("alice@example.org").Return("signed.jwt", nil)
		s.expectAudit(audit.EventCodeVerified)

		res, err := s.svc.Verify(s.ctx, "alice@example.org", " "+strings.ToLower(sent.Code)+" ")
		s.Require().NoError(err)
		s.Equal("signed.jwt", res.JWT)
		s.Equal("https://wallet.example.org", res.SessionURL)

		verified, err := s.codes.IsVerified(s.ctx, "alice@example.org")
		s.Require().NoError(err)
		s.True(verified)
	})

	s.Run("code is single use", func() {
		s.limiter.EXPECT().CheckVerify(gomock.Any(), gomock.Any()).Return(nil)
		s.expectAudit(audit.EventVerificationFailed)
		_, err := s.svc.Verify(s.ctx, "alice@example.org", sent.Code)
		s.Equal(dErrors.CodeLinkExpired, dErrors.CodeOf(err))
	})
}

func (s *ServiceSuite) TestVerifyExpired() {
	sent := s.sendCode()
	s.now = s.now.Add(16 * time.Minute)

	s.limiter.EXPECT().CheckVerify(gomock.Any(), gomock.Any()).Return(nil)
	s.expectAudit(audit.EventVerificationFailed)
	_, err := s.svc.Verify(s.ctx, "alice@example.org", sent.Code)
	de := dErrors.As(err)
	s.Equal(dErrors.CodeLinkExpired, de.Code)
	s.Equal(enrollapi.ErrLinkExpired, de.WireCode)
}

func (s *ServiceSuite) TestVerifyBadRequestAndLimits() {
	_, err := s.svc.Verify(s.ctx, "", "ABC123")
	s.Equal(dErrors.CodeBadRequest, dErrors.CodeOf(err))
	_, err = s.svc.Verify(s.ctx, "alice@example.org", " ")
	s.Equal(dErrors.CodeBadRequest, dErrors.CodeOf(err))

	s.limiter.EXPECT().CheckVerify(gomock.Any(), gomock.Any()).Return(dErrors.RateLimited(enrollapi.ErrRateLimit, s.now))
	_, err = s.svc.Verify(s.ctx, "alice@example.org", "ABC123")
	s.Equal(dErrors.CodeRateLimited, dErrors.CodeOf(err))
}

func (s *ServiceSuite) TestDone() {
	s.Run("unverified address is ignored", func() {
		s.NoError(s.svc.Done(s.ctx, "alice@example.org"))
	})

	s.Run("verified address releases the cooldown once", func() {
		s.Require().NoError(s.codes.MarkVerified(s.ctx, "alice@example.org", time.Hour))
		s.limiter.EXPECT().Release(gomock.Any(), "alice@example.org").Return(nil)
		s.expectAudit(audit.EventEnrollmentCompleted)

		s.Require().NoError(s.svc.Done(s.ctx, "alice@example.org"))
		s.Equal(float64(1), testutil.ToFloat64(s.metrics.EnrollmentsCompleted))

		s.NoError(s.svc.Done(s.ctx, "alice@example.org"))
	})
}
