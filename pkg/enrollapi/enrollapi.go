// Package enrollapi is the wire contract between the enrollment client and
// the verification backend: paths, bodies and error strings.
package enrollapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	dErrors "emailissuer/pkg/domain-errors"
)

const (
	PathSend   = "/api/send"
	PathVerify = "/api/verify"
	PathDone   = "/api/done"
	PathHealth = "/api/health"
)

// SendRequest asks the backend to mail a code. It carries no token.
type SendRequest struct {
	Address string `json:"address"`
	Locale  string `json:"locale"`
}

// SendResponse acknowledges a sent mail.
type SendResponse struct {
	Message string `json:"message"`
}

// VerifyRequest submits the code from the mail or the deep link.
type VerifyRequest struct {
	Address string `json:"address"`
	Token   string `json:"token"`
}

// VerifyResponse describes the issuance session to start.
type VerifyResponse struct {
	JWT        string `json:"jwt"`
	SessionURL string `json:"sessionUrl"`
}

// DoneRequest tells the backend the attribute landed in the wallet.
type DoneRequest struct {
	Address string `json:"address"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// Wire error strings.
const (
	ErrRateLimit     = "error_ratelimit"
	ErrEmailFormat   = "error_email_format"
	ErrEmailDomain   = "error_email_domain"
	ErrTokenInvalid  = "error_token_invalid"
	ErrLinkExpired   = "error_link_expired"
	ErrCaptchaFailed = "error_captcha_failed"
	ErrSendingEmail  = "error_sending_email"
	ErrInternal      = "error_internal"
	ErrBadRequest    = "bad_request"
)

// MessageEmailSent is the SendResponse message on success.
const MessageEmailSent = "email_sent"

var wireKinds = map[string]dErrors.Code{
	ErrRateLimit:     dErrors.CodeRateLimited,
	ErrEmailFormat:   dErrors.CodeAddressRejected,
	ErrEmailDomain:   dErrors.CodeAddressRejected,
	ErrTokenInvalid:  dErrors.CodeTokenInvalid,
	ErrLinkExpired:   dErrors.CodeLinkExpired,
	ErrCaptchaFailed: dErrors.CodeBotCheckFailed,
	ErrSendingEmail:  dErrors.CodeInternal,
	ErrInternal:      dErrors.CodeInternal,
	ErrBadRequest:    dErrors.CodeInternal,
}

// KindOf maps a wire error string onto its error kind. Unknown strings are internal.
func KindOf(wire string) dErrors.Code {
	if code, ok := wireKinds[wire]; ok {
		return code
	}
	return dErrors.CodeInternal
}

// ErrorFromWire classifies a non-2xx reply. now is the instant the response
// arrived; a rate limit without a usable Retry-After has no RetryAt.
func ErrorFromWire(status int, body ErrorResponse, header http.Header, now time.Time) *dErrors.Error {
	wire := body.Error
	if wire == "" {
		if status == http.StatusTooManyRequests {
			wire = ErrRateLimit
		} else {
			wire = ErrInternal
		}
	}

	kind := KindOf(wire)
	if kind == dErrors.CodeRateLimited {
		var retryAt time.Time
		if secs, ok := ParseRetryAfter(header.Get("Retry-After")); ok {
			retryAt = now.Add(time.Duration(secs) * time.Second)
		}
		return dErrors.RateLimited(wire, retryAt)
	}

	msg := body.Description
	if msg == "" {
		msg = "request failed with status " + strconv.Itoa(status)
	}
	return &dErrors.Error{Code: kind, WireCode: wire, Message: msg}
}

// MaxRetryAfter caps the delay taken from a Retry-After header.
const MaxRetryAfter = 24 * time.Hour

// ParseRetryAfter reads a delay-seconds Retry-After value, capped at
// MaxRetryAfter.
func ParseRetryAfter(v string) (int, bool) {
	if v == "" {
		return 0, false
	}
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil || secs < 0 {
		if errors.Is(err, strconv.ErrRange) && !strings.HasPrefix(v, "-") {
			return int(MaxRetryAfter / time.Second), true
		}
		return 0, false
	}
	return int(min(secs, int64(MaxRetryAfter/time.Second))), true
}
