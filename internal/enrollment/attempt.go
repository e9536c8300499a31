package enrollment

import (
	"time"

	"github.com/google/uuid"
)

// Status is where an enrollment attempt stands.
type Status string

const (
	StatusEmpty              Status = "empty"
	StatusSubmitted          Status = "submitted"
	StatusCodeRequested      Status = "code_requested"
	StatusCodeRequestFailed  Status = "code_request_failed"
	StatusAwaitingCode       Status = "awaiting_code"
	StatusVerifying          Status = "verifying"
	StatusVerificationFailed Status = "verification_failed"
	StatusIssuancePending    Status = "issuance_pending"
	StatusIssuanceSucceeded  Status = "issuance_succeeded"
	StatusIssuanceCancelled  Status = "issuance_cancelled"
	StatusIssuanceFailed     Status = "issuance_failed"
	StatusError              Status = "error"
)

// Transient statuses are reported to observers and resolve immediately.
func (s Status) Transient() bool {
	switch s {
	case StatusCodeRequested, StatusCodeRequestFailed, StatusVerificationFailed:
		return true
	}
	return false
}

// Terminal statuses end the attempt; only Restart leaves them.
func (s Status) Terminal() bool {
	switch s {
	case StatusIssuanceSucceeded, StatusIssuanceCancelled, StatusIssuanceFailed, StatusError:
		return true
	}
	return false
}

// Attempt is one try at attaching one address. Only the Machine mutates it.
type Attempt struct {
	ID      uuid.UUID
	Address string
	// Code is normalized upper-case; empty until the user supplies one.
	Code         string
	Status       Status
	CreatedAt    time.Time
	LinkIssuedAt time.Time
}

// Destination is where the surrounding UI should navigate after a transition.
type Destination string

const (
	DestinationNone  Destination = ""
	DestinationDone  Destination = "done"
	DestinationError Destination = "error"
)

// Transition is delivered to observers for every status change, including
// self-transitions that carry a validation error or a warning.
type Transition struct {
	From      Status
	To        Status
	AttemptID uuid.UUID
	// MessageKey names an informational message (e.g. email_sent).
	MessageKey string
	// Err is the classified failure that caused the transition.
	Err error
	// Warning is advisory; the flow continues.
	Warning     error
	Destination Destination
}

// Observer receives transitions in order, outside the machine's lock.
type Observer func(Transition)
