// Package enrollment drives one user's attempt to attach an email address to
// their wallet: address entry, code request, code or link verification and
// the issuance handoff.
package enrollment

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"emailissuer/internal/issuance"
	dErrors "emailissuer/pkg/domain-errors"
	"emailissuer/pkg/email"
	"emailissuer/pkg/enrollapi"
)

var (
	// ErrBusy is returned while a network call for this machine is outstanding.
	ErrBusy = errors.New("enrollment: request already in flight")
	// ErrInvalidTransition is returned for an event the current status does not accept.
	ErrInvalidTransition = errors.New("enrollment: not allowed in current status")
	// ErrSuperseded is returned when a result arrives after Back or Restart
	// moved the machine on. The result is discarded.
	ErrSuperseded = errors.New("enrollment: result discarded")
)

// Message keys carried on transitions.
const (
	MessageEmailSent      = "email_sent"
	MessageVerifyingToken = "verifying_token"
	MessageAddSuccess     = "email_add_success"
	MessageAddCancel      = "email_add_cancel"
	MessageAddError       = "email_add_error"
)

// DefaultLinkMaxAge is how old a link may be before the user is warned.
const DefaultLinkMaxAge = 5 * time.Minute

// Machine is the enrollment state machine for one user session. All methods
// are safe for concurrent use; at most one network call is outstanding.
type Machine struct {
	mu sync.Mutex

	verifier   Verifier
	issuer     Issuer
	observers  []Observer
	logger     *slog.Logger
	clock      func() time.Time
	newID      func() uuid.UUID
	locale     string
	codeLength int
	linkMaxAge time.Duration

	status         Status
	attempt        *Attempt
	prefill        string
	// inFlight is set while a verifier or issuer call runs and cleared only
	// when that call returns, even if Back or Restart superseded it.
	inFlight       bool
	generation     uint64
	// codeSpent marks an attempt whose code already verified; it needs a
	// fresh code before it may verify again.
	codeSpent      bool
	cancelIssuance context.CancelCauseFunc
	pending        []Transition
}

type Option func(*Machine)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Machine) { m.logger = logger }
}

func WithClock(clock func() time.Time) Option {
	return func(m *Machine) { m.clock = clock }
}

func WithIDGenerator(fn func() uuid.UUID) Option {
	return func(m *Machine) { m.newID = fn }
}

// WithLocale sets the locale sent with code requests.
func WithLocale(locale string) Option {
	return func(m *Machine) { m.locale = locale }
}

func WithCodeLength(n int) Option {
	return func(m *Machine) {
		if n > 0 {
			m.codeLength = n
		}
	}
}

func WithLinkMaxAge(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.linkMaxAge = d
		}
	}
}

// WithObserver registers an observer for every transition.
func WithObserver(o Observer) Option {
	return func(m *Machine) { m.observers = append(m.observers, o) }
}

// New returns a machine in StatusEmpty.
func New(verifier Verifier, issuer Issuer, opts ...Option) *Machine {
	m := &Machine{
		verifier:   verifier,
		issuer:     issuer,
		logger:     slog.Default(),
		clock:      time.Now,
		newID:      uuid.New,
		locale:     "en",
		codeLength: DefaultCodeLength,
		linkMaxAge: DefaultLinkMaxAge,
		status:     StatusEmpty,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Status returns the current resting status.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Attempt returns a copy of the live attempt.
func (m *Machine) Attempt() (Attempt, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.attempt == nil {
		return Attempt{}, false
	}
	return *m.attempt, true
}

// Prefill is the address to offer when the user is back at StatusEmpty.
func (m *Machine) Prefill() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prefill
}

// Submit validates address and starts a fresh attempt. An invalid address
// leaves the machine in StatusEmpty and returns a validation error.
func (m *Machine) Submit(address string) error {
	m.mu.Lock()
	defer m.unlockAndNotify()

	if m.status != StatusEmpty {
		return ErrInvalidTransition
	}
	address = strings.TrimSpace(address)
	m.prefill = address
	if !email.IsValid(address) {
		err := &dErrors.Error{Code: dErrors.CodeValidation, WireCode: "error_email_invalid", Message: "invalid email address"}
		m.move(StatusEmpty, Transition{Err: err})
		return err
	}

	m.startAttempt(address)
	m.move(StatusSubmitted, Transition{})
	return nil
}

// RequestCode asks the backend to mail a code for the submitted address.
func (m *Machine) RequestCode(ctx context.Context) error {
	m.mu.Lock()
	if m.status != StatusSubmitted {
		m.unlockAndNotify()
		return ErrInvalidTransition
	}
	if m.inFlight {
		m.unlockAndNotify()
		return ErrBusy
	}
	m.inFlight = true
	gen := m.generation
	address, locale := m.attempt.Address, m.locale
	m.mu.Unlock()

	err := m.verifier.RequestCode(ctx, address, locale)

	m.mu.Lock()
	defer m.unlockAndNotify()
	m.inFlight = false
	if gen != m.generation {
		return ErrSuperseded
	}

	if err != nil {
		derr := dErrors.As(err)
		m.logger.WarnContext(ctx, "code request failed", "code", derr.Code, "wire_code", derr.WireCode, "attempt_id", m.attempt.ID)
		m.prefill = address
		t := failure(derr)
		m.move(StatusCodeRequestFailed, t)
		m.move(StatusEmpty, t)
		return derr
	}

	m.codeSpent = false
	m.move(StatusCodeRequested, Transition{MessageKey: MessageEmailSent})
	m.move(StatusAwaitingCode, Transition{MessageKey: MessageEmailSent})
	return nil
}

// EnterCode verifies a hand-typed code. A malformed code stays in
// StatusAwaitingCode with a validation error and no network call.
func (m *Machine) EnterCode(ctx context.Context, code string) error {
	m.mu.Lock()
	switch m.status {
	case StatusAwaitingCode:
	case StatusVerifying:
		m.unlockAndNotify()
		return ErrBusy
	default:
		m.unlockAndNotify()
		return ErrInvalidTransition
	}

	code = NormalizeCode(code)
	if !ValidCode(code, m.codeLength) {
		err := &dErrors.Error{Code: dErrors.CodeValidation, WireCode: "error_code_format", Message: "malformed code"}
		m.move(StatusAwaitingCode, Transition{Err: err})
		m.unlockAndNotify()
		return err
	}
	if m.inFlight {
		m.unlockAndNotify()
		return ErrBusy
	}
	return m.verifyAndIssue(ctx, code, nil)
}

// OpenLink verifies a deep link. A malformed link moves the machine to
// StatusError without any network call. An old link is verified anyway,
// with a link-expired warning on the transition.
func (m *Machine) OpenLink(ctx context.Context, raw string) error {
	m.mu.Lock()
	switch m.status {
	case StatusEmpty, StatusAwaitingCode:
	case StatusSubmitted:
		if m.inFlight {
			m.unlockAndNotify()
			return ErrBusy
		}
	case StatusVerifying:
		m.unlockAndNotify()
		return ErrBusy
	default:
		m.unlockAndNotify()
		return ErrInvalidTransition
	}

	link, err := ParseDeepLink(raw, m.codeLength)
	if err == nil && link.Address == "" {
		if m.attempt == nil {
			err = malformed("no address for bare code")
		} else {
			link.Address = m.attempt.Address
		}
	}
	if err != nil {
		m.generation++
		m.logger.WarnContext(ctx, "malformed verification link", "error", err)
		m.move(StatusError, Transition{Err: err, Destination: DestinationError})
		m.unlockAndNotify()
		return err
	}
	sameAttempt := m.attempt != nil && strings.EqualFold(m.attempt.Address, link.Address)
	if sameAttempt && m.codeSpent {
		m.unlockAndNotify()
		return ErrInvalidTransition
	}
	if m.inFlight {
		m.unlockAndNotify()
		return ErrBusy
	}

	if !sameAttempt {
		m.startAttempt(link.Address)
	}
	m.attempt.LinkIssuedAt = link.IssuedAt

	var warning error
	if !link.IssuedAt.IsZero() && m.clock().Sub(link.IssuedAt) > m.linkMaxAge {
		warning = &dErrors.Error{Code: dErrors.CodeLinkExpired, WireCode: enrollapi.ErrLinkExpired, Message: "verification link is older than allowed"}
	}
	return m.verifyAndIssue(ctx, link.Code, warning)
}

// verifyAndIssue runs Verifying through to a terminal issuance status. It is
// entered with m.mu held and releases it.
func (m *Machine) verifyAndIssue(ctx context.Context, code string, warning error) error {
	m.attempt.Code = code
	m.inFlight = true
	gen := m.generation
	address := m.attempt.Address
	m.move(StatusVerifying, Transition{Warning: warning, MessageKey: MessageVerifyingToken})
	m.unlockAndNotify()

	desc, err := m.verifier.VerifyToken(ctx, address, code)

	m.mu.Lock()
	if gen != m.generation {
		m.inFlight = false
		m.unlockAndNotify()
		return ErrSuperseded
	}
	if err != nil {
		derr := dErrors.As(err)
		m.logger.WarnContext(ctx, "code verification failed", "code", derr.Code, "wire_code", derr.WireCode, "attempt_id", m.attempt.ID)
		m.inFlight = false
		m.attempt.Code = ""
		t := failure(derr)
		m.move(StatusVerificationFailed, t)
		m.move(StatusAwaitingCode, t)
		m.unlockAndNotify()
		return derr
	}

	m.codeSpent = true
	issueCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	m.cancelIssuance = cancel
	m.move(StatusIssuancePending, Transition{})
	m.unlockAndNotify()

	out := m.issuer.Run(issueCtx, address, desc)

	m.mu.Lock()
	defer m.unlockAndNotify()
	m.inFlight = false
	if gen != m.generation {
		return ErrSuperseded
	}
	m.cancelIssuance = nil

	switch out.Result {
	case issuance.ResultSuccess:
		m.move(StatusIssuanceSucceeded, Transition{MessageKey: MessageAddSuccess, Destination: DestinationDone})
		return nil
	case issuance.ResultCancelled:
		err := out.AsError()
		m.move(StatusIssuanceCancelled, Transition{MessageKey: MessageAddCancel, Err: err})
		return err
	default:
		err := out.AsError()
		m.logger.WarnContext(ctx, "issuance failed", "reason", out.Reason, "attempt_id", m.attempt.ID)
		m.move(StatusIssuanceFailed, Transition{MessageKey: MessageAddError, Err: err})
		return err
	}
}

// Back returns to the previous resting status. The attempt is kept, its code
// cleared, and any outstanding result is discarded; a new call is refused
// with ErrBusy until the superseded one has returned. Backing out of
// StatusIssuancePending cancels the session and returns to StatusSubmitted,
// since the verified code is spent and a new one must be requested.
func (m *Machine) Back() error {
	m.mu.Lock()
	defer m.unlockAndNotify()

	var to Status
	switch m.status {
	case StatusSubmitted:
		to = StatusEmpty
		m.prefill = m.attempt.Address
	case StatusAwaitingCode:
		to = StatusSubmitted
	case StatusVerifying:
		to = StatusAwaitingCode
	case StatusIssuancePending:
		to = StatusSubmitted
		if m.cancelIssuance != nil {
			m.cancelIssuance(issuance.ErrCancelled)
			m.cancelIssuance = nil
		}
	default:
		return ErrInvalidTransition
	}

	m.generation++
	m.attempt.Code = ""
	m.move(to, Transition{})
	return nil
}

// Restart leaves a terminal status for StatusEmpty, keeping the address as a
// prefill only.
func (m *Machine) Restart() error {
	m.mu.Lock()
	defer m.unlockAndNotify()

	if !m.status.Terminal() {
		return ErrInvalidTransition
	}
	if m.attempt != nil {
		m.prefill = m.attempt.Address
	}
	m.generation++
	m.move(StatusEmpty, Transition{})
	m.attempt = nil
	return nil
}

// failure is the transition for a failed call. Internal errors also send the
// user to the generic error destination.
func failure(err *dErrors.Error) Transition {
	t := Transition{Err: err}
	if err.Code == dErrors.CodeInternal {
		t.Destination = DestinationError
	}
	return t
}

func (m *Machine) startAttempt(address string) {
	m.generation++
	m.codeSpent = false
	m.attempt = &Attempt{
		ID:        m.newID(),
		Address:   address,
		CreatedAt: m.clock(),
	}
}

// move records a transition. Callers hold m.mu.
func (m *Machine) move(to Status, t Transition) {
	t.From, t.To = m.status, to
	if m.attempt != nil {
		t.AttemptID = m.attempt.ID
		m.attempt.Status = to
	}
	m.status = to
	m.logger.Debug("enrollment transition", "from", t.From, "to", t.To, "attempt_id", t.AttemptID)
	m.pending = append(m.pending, t)
}

// unlockAndNotify releases m.mu and then delivers queued transitions.
func (m *Machine) unlockAndNotify() {
	queued := m.pending
	m.pending = nil
	observers := m.observers
	m.mu.Unlock()

	for _, t := range queued {
		for _, o := range observers {
			o(t)
		}
	}
}
