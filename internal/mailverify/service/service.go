package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	netmail "net/mail"
	"slices"
	"strings"
	"time"

	"emailissuer/internal/mail"
	"emailissuer/internal/mailverify/metrics"
	"emailissuer/internal/mailverify/models"
	"emailissuer/internal/mailverify/ports"
	"emailissuer/internal/messages"
	dErrors "emailissuer/pkg/domain-errors"
	"emailissuer/pkg/email"
	"emailissuer/pkg/enrollapi"
	"emailissuer/pkg/platform/audit"
	"emailissuer/pkg/platform/sentinel"
	"emailissuer/pkg/requestcontext"
)

// codeAlphabet leaves out characters that are easy to confuse (0/O, 1/I/L).
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

type Config struct {
	// BaseURL is the public origin of the enrollment pages.
	BaseURL string
	// SessionURL is the wallet server the client starts issuance on.
	SessionURL  string
	CodeLength  int
	CodeTTL     time.Duration
	VerifiedTTL time.Duration
	// AllowedTLDs restricts addresses to these top-level domains when set.
	AllowedTLDs []string
}

func DefaultConfig() Config {
	return Config{
		CodeLength:  6,
		CodeTTL:     15 * time.Minute,
		VerifiedTTL: time.Hour,
	}
}

// Service implements the send, verify and done steps of an enrollment.
type Service struct {
	codes   ports.CodeStore
	limiter ports.Limiter
	mailer  ports.Mailer
	signer  ports.SessionSigner
	audit   ports.AuditPublisher
	metrics *metrics.Metrics
	logger  *slog.Logger
	cfg     Config
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditPublisher(p ports.AuditPublisher) Option {
	return func(s *Service) { s.audit = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithConfig(cfg Config) Option {
	return func(s *Service) {
		def := DefaultConfig()
		if cfg.CodeLength <= 0 {
			cfg.CodeLength = def.CodeLength
		}
		if cfg.CodeTTL <= 0 {
			cfg.CodeTTL = def.CodeTTL
		}
		if cfg.VerifiedTTL <= 0 {
			cfg.VerifiedTTL = def.VerifiedTTL
		}
		s.cfg = cfg
	}
}

func New(codes ports.CodeStore, limiter ports.Limiter, mailer ports.Mailer, signer ports.SessionSigner, opts ...Option) (*Service, error) {
	if codes == nil || limiter == nil || mailer == nil || signer == nil {
		return nil, fmt.Errorf("code store, limiter, mailer and signer are required")
	}
	s := &Service{
		codes:   codes,
		limiter: limiter,
		mailer:  mailer,
		signer:  signer,
		logger:  slog.Default(),
		cfg:     DefaultConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Send validates the address, charges the send limits and mails a fresh code.
// Any earlier pending code for the address is replaced.
func (s *Service) Send(ctx context.Context, cmd models.SendCommand) error {
	address, err := s.validateAddress(cmd.Address)
	if err != nil {
		return err
	}
	if err := s.limiter.CheckSend(ctx, address, cmd.IP); err != nil {
		return err
	}

	code, err := generateCode(s.cfg.CodeLength)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate code")
	}
	now := requestcontext.Now(ctx)
	pending := models.PendingCode{
		Address:   address,
		Code:      code,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.CodeTTL),
	}
	if err := s.codes.Save(ctx, pending); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store code")
	}

	locale := linkLocale(cmd.Locale)
	msg := mail.CodeMessage{
		To:        address,
		Locale:    locale,
		Code:      code,
		Link:      enrollapi.Link(s.cfg.BaseURL, locale, address, code, now),
		ExpiresAt: pending.ExpiresAt,
	}
	if err := s.mailer.SendCode(ctx, msg); err != nil {
		_ = s.codes.Delete(ctx, address)
		if s.metrics != nil {
			s.metrics.IncrementMailFailures()
		}
		s.logger.ErrorContext(ctx, "failed to send code mail",
			"subject", email.Mask(address),
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		s.emit(ctx, audit.EventMailFailed, address, "")
		de := dErrors.Wrap(err, dErrors.CodeInternal, "failed to send email")
		de.WireCode = enrollapi.ErrSendingEmail
		return de
	}

	if s.metrics != nil {
		s.metrics.IncrementCodesSent()
	}
	s.emit(ctx, audit.EventCodeRequested, address, "")
	s.logger.InfoContext(ctx, "code mailed",
		"subject", email.Mask(address),
		"locale", locale,
		"request_id", requestcontext.RequestID(ctx),
	)
	return nil
}

// Verify checks token against the pending code for address. On success the
// code is consumed and a signed session request is returned.
func (s *Service) Verify(ctx context.Context, address, token string) (*models.VerifyResult, error) {
	address = email.Normalize(address)
	token = strings.ToUpper(strings.TrimSpace(token))
	if address == "" || token == "" {
		return nil, badRequest("address and token are required")
	}
	if err := s.limiter.CheckVerify(ctx, address); err != nil {
		return nil, err
	}

	pending, err := s.codes.Find(ctx, address)
	switch {
	case errors.Is(err, sentinel.ErrNotFound), errors.Is(err, sentinel.ErrExpired):
		s.verificationFailed(ctx, address, "expired")
		return nil, &dErrors.Error{Code: dErrors.CodeLinkExpired, WireCode: enrollapi.ErrLinkExpired, Message: "no pending code"}
	case err != nil:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load code")
	}

	if subtle.ConstantTimeCompare([]byte(token), []byte(pending.Code)) != 1 {
		s.verificationFailed(ctx, address, "mismatch")
		return nil, &dErrors.Error{Code: dErrors.CodeTokenInvalid, WireCode: enrollapi.ErrTokenInvalid, Message: "code does not match"}
	}

	if err := s.codes.Delete(ctx, address); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to consume code")
	}
	if err := s.codes.MarkVerified(ctx, address, s.cfg.VerifiedTTL); err != nil {
		s.logger.WarnContext(ctx, "failed to mark address verified", "error", err)
	}

	jwt, err := s.signer.Sign(pending.Address)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign session request")
	}

	if s.metrics != nil {
		s.metrics.IncrementVerifications("success")
	}
	s.emit(ctx, audit.EventCodeVerified, address, "")
	return &models.VerifyResult{JWT: jwt, SessionURL: s.cfg.SessionURL}, nil
}

// Done lifts the cooldown for an address that verified recently. Unknown or
// unverified addresses are ignored.
func (s *Service) Done(ctx context.Context, address string) error {
	address = email.Normalize(address)
	if address == "" {
		return nil
	}
	verified, err := s.codes.IsVerified(ctx, address)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check verified marker")
	}
	if !verified {
		return nil
	}
	if err := s.limiter.Release(ctx, address); err != nil {
		return err
	}
	if err := s.codes.ClearVerified(ctx, address); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to clear verified marker")
	}
	if s.metrics != nil {
		s.metrics.IncrementEnrollmentsCompleted()
	}
	s.emit(ctx, audit.EventEnrollmentCompleted, address, "")
	return nil
}

func (s *Service) validateAddress(raw string) (string, error) {
	address := email.Normalize(raw)
	if address == "" {
		return "", badRequest("address is required")
	}
	parsed, err := netmail.ParseAddress(address)
	if !email.IsValid(address) || err != nil || parsed.Address != address {
		return "", &dErrors.Error{Code: dErrors.CodeAddressRejected, WireCode: enrollapi.ErrEmailFormat, Message: "invalid email address"}
	}
	if len(s.cfg.AllowedTLDs) > 0 && !slices.Contains(s.cfg.AllowedTLDs, email.TopLevelDomain(address)) {
		return "", &dErrors.Error{Code: dErrors.CodeAddressRejected, WireCode: enrollapi.ErrEmailDomain, Message: "domain not accepted"}
	}
	return address, nil
}

func (s *Service) verificationFailed(ctx context.Context, address, reason string) {
	if s.metrics != nil {
		s.metrics.IncrementVerifications(reason)
	}
	s.emit(ctx, audit.EventVerificationFailed, address, reason)
}

func (s *Service) emit(ctx context.Context, action audit.AuditEvent, address, reason string) {
	if s.audit == nil {
		return
	}
	err := s.audit.Emit(ctx, audit.Event{
		Action:      string(action),
		Subject:     email.Mask(address),
		SubjectHash: audit.HashSubject(address),
		IP:          requestcontext.ClientIP(ctx),
		Reason:      reason,
		RequestID:   requestcontext.RequestID(ctx),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to emit audit event", "action", string(action), "error", err)
	}
}

func badRequest(msg string) *dErrors.Error {
	return &dErrors.Error{Code: dErrors.CodeBadRequest, WireCode: enrollapi.ErrBadRequest, Message: msg}
}

func linkLocale(locale string) string {
	if slices.Contains(messages.Locales(), locale) {
		return locale
	}
	return messages.DefaultLocale
}

func generateCode(length int) (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	var b strings.Builder
	b.Grow(length)
	for range length {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String(), nil
}
