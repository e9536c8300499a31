package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"emailissuer/internal/mailverify/mocks"
	"emailissuer/internal/mailverify/models"
	"emailissuer/internal/platform/logger"
	dErrors "emailissuer/pkg/domain-errors"
	"emailissuer/pkg/enrollapi"
	"emailissuer/pkg/testutil"
)

type HandlerSuite struct {
	suite.Suite
	svc    *mocks.MockService
	router chi.Router
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.svc = mocks.NewMockService(ctrl)
	s.router = chi.NewRouter()
	New(s.svc, logger.Discard(),
		WithHealthCheck("redis", func(context.Context) error { return nil }),
	).Register(s.router)
}

func (s *HandlerSuite) TestSend() {
	s.Run("ok", func() {
		s.svc.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, cmd models.SendCommand) error {
			s.Equal("alice@example.org", cmd.Address)
			s.Equal("nl", cmd.Locale)
			s.Equal("203.0.113.5", cmd.IP)
			return nil
		})
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, enrollapi.PathSend,
			enrollapi.SendRequest{Address: "alice@example.org", Locale: "nl"})
		req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")

		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatusOK(s.T(), rr)
		testutil.AssertJSONContains(s.T(), rr, "message", enrollapi.MessageEmailSent)
		s.NotEmpty(rr.Header().Get("X-Request-ID"))
	})

	s.Run("unknown field is a bad request", func() {
		req := testutil.NewRequestWithBody(s.T(), http.MethodPost, enrollapi.PathSend, `{"email":"a@b.c"}`)
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, enrollapi.ErrBadRequest)
	})

	s.Run("rejected address", func() {
		s.svc.EXPECT().Send(gomock.Any(), gomock.Any()).Return(
			&dErrors.Error{Code: dErrors.CodeAddressRejected, WireCode: enrollapi.ErrEmailDomain, Message: "domain not accepted"})
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, enrollapi.PathSend, enrollapi.SendRequest{Address: "a@example.com"})
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, enrollapi.ErrEmailDomain)
	})

	s.Run("rate limited carries retry-after", func() {
		s.svc.EXPECT().Send(gomock.Any(), gomock.Any()).Return(
			dErrors.RateLimited(enrollapi.ErrRateLimit, time.Now().Add(90*time.Second)))
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, enrollapi.PathSend, enrollapi.SendRequest{Address: "a@example.org"})
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusTooManyRequests, enrollapi.ErrRateLimit)
		testutil.AssertRetryAfter(s.T(), rr, 89)
	})

	s.Run("mail failure hides details", func() {
		de := dErrors.Wrap(errors.New("smtp 421"), dErrors.CodeInternal, "failed to send email")
		de.WireCode = enrollapi.ErrSendingEmail
		s.svc.EXPECT().Send(gomock.Any(), gomock.Any()).Return(de)
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, enrollapi.PathSend, enrollapi.SendRequest{Address: "a@example.org"})
		rr := testutil.DoRequest(s.router, req)
		s.Equal(http.StatusInternalServerError, rr.Code)
		s.False(strings.Contains(rr.Body.String(), "smtp"))
		testutil.AssertErrorCode(s.T(), rr, enrollapi.ErrSendingEmail)
	})
}

func (s *HandlerSuite) TestVerify() {
	s.Run("ok", func() {
		s.svc.EXPECT().Verify(gomock.Any(), "alice@example.org", "K7PX2M").
			Return(&models.VerifyResult{JWT: "a.b.c", SessionURL: "https://wallet.example.org"}, nil)
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, enrollapi.PathVerify,
			enrollapi.VerifyRequest{Address: "alice@example.org", Token: "K7PX2M"})
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatusOK(s.T(), rr)
		resp := testutil.UnmarshalResponse[enrollapi.VerifyResponse](s.T(), rr)
		s.Equal("a.b.c", resp.JWT)
		s.Equal("https://wallet.example.org", resp.SessionURL)
	})

	s.Run("invalid token", func() {
		s.svc.EXPECT().Verify(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil,
			&dErrors.Error{Code: dErrors.CodeTokenInvalid, WireCode: enrollapi.ErrTokenInvalid})
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, enrollapi.PathVerify,
			enrollapi.VerifyRequest{Address: "alice@example.org", Token: "WRONG1"})
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, enrollapi.ErrTokenInvalid)
	})

	s.Run("trailing data is rejected", func() {
		req := testutil.NewRequestWithBody(s.T(), http.MethodPost, enrollapi.PathVerify,
			`{"address":"a@b.org","token":"X"}{"address":"c"}`)
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, enrollapi.ErrBadRequest)
	})
}

func (s *HandlerSuite) TestDoneAlwaysNoContent() {
	s.svc.EXPECT().Done(gomock.Any(), "alice@example.org").Return(nil)
	rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, enrollapi.PathDone,
		enrollapi.DoneRequest{Address: "alice@example.org"}))
	testutil.AssertStatus(s.T(), rr, http.StatusNoContent)

	s.svc.EXPECT().Done(gomock.Any(), gomock.Any()).Return(errors.New("redis down"))
	rr = testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, enrollapi.PathDone,
		enrollapi.DoneRequest{Address: "bob@example.org"}))
	testutil.AssertStatus(s.T(), rr, http.StatusNoContent)

	rr = testutil.DoRequest(s.router, testutil.NewRequestWithBody(s.T(), http.MethodPost, enrollapi.PathDone, "nope"))
	testutil.AssertStatus(s.T(), rr, http.StatusNoContent)
}

func (s *HandlerSuite) TestHealth() {
	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, enrollapi.PathHealth))
	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "redis", "ok")

	router := chi.NewRouter()
	New(s.svc, logger.Discard(),
		WithHealthCheck("redis", func(context.Context) error { return errors.New("dial") }),
	).Register(router)
	rr = testutil.DoRequest(router, testutil.NewRequest(s.T(), http.MethodGet, enrollapi.PathHealth))
	testutil.AssertStatus(s.T(), rr, http.StatusServiceUnavailable)
	testutil.AssertJSONContains(s.T(), rr, "status", "degraded")
}

func (s *HandlerSuite) TestThrottleGuardsMutatingRoutes() {
	router := chi.NewRouter()
	New(s.svc, logger.Discard(), WithThrottle(func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		})
	})).Register(router)

	rr := testutil.DoRequest(router, testutil.NewJSONRequest(s.T(), http.MethodPost, enrollapi.PathSend,
		enrollapi.SendRequest{Address: "a@example.org"}))
	testutil.AssertStatus(s.T(), rr, http.StatusTooManyRequests)

	rr = testutil.DoRequest(router, testutil.NewRequest(s.T(), http.MethodGet, enrollapi.PathHealth))
	testutil.AssertStatusOK(s.T(), rr)
}
