package issuance

import (
	"fmt"

	dErrors "emailissuer/pkg/domain-errors"
)

// Descriptor is the verified-address proof returned by the backend. It is
// consumed exactly once by Handoff.Run.
type Descriptor struct {
	SessionURL string
	StartToken string
}

func (d Descriptor) valid() bool {
	return d.SessionURL != "" && d.StartToken != ""
}

// Result is the terminal result of an issuance session.
type Result int

const (
	ResultSuccess Result = iota + 1
	ResultCancelled
	ResultFailed
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultCancelled:
		return "cancelled"
	case ResultFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrCancelled marks a session the user aborted. It is never a failure.
var ErrCancelled = dErrors.New(dErrors.CodeIssuanceCancelled, "issuance cancelled")

// Outcome is exactly one of success, cancelled or failed(reason).
type Outcome struct {
	Result Result
	Reason string
	Err    error
}

func Success() Outcome   { return Outcome{Result: ResultSuccess} }
func Cancelled() Outcome { return Outcome{Result: ResultCancelled} }

// Failed builds a failure outcome; err may be nil.
func Failed(reason string, err error) Outcome {
	return Outcome{Result: ResultFailed, Reason: reason, Err: err}
}

// AsError returns nil for success, ErrCancelled for cancellation and an
// issuance_failed error otherwise.
func (o Outcome) AsError() error {
	switch o.Result {
	case ResultSuccess:
		return nil
	case ResultCancelled:
		return ErrCancelled
	default:
		reason := o.Reason
		if reason == "" {
			reason = "issuance failed"
		}
		if o.Err != nil {
			return dErrors.Wrap(o.Err, dErrors.CodeIssuanceFailed, reason)
		}
		return dErrors.New(dErrors.CodeIssuanceFailed, reason)
	}
}

func (o Outcome) String() string {
	if o.Result == ResultFailed && o.Reason != "" {
		return fmt.Sprintf("%s(%s)", o.Result, o.Reason)
	}
	return o.Result.String()
}
