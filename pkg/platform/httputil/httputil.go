// Package httputil holds the JSON response and request helpers shared by the
// HTTP handlers.
package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	dErrors "emailissuer/pkg/domain-errors"
)

// MaxBodyBytes caps request bodies accepted by DecodeJSON.
const MaxBodyBytes = 1 << 20

type errorBody struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps err onto a status and writes {"error": ...}. The error field
// is the wire code when the error carries one. Internal failures never leak
// their description.
func WriteError(w http.ResponseWriter, err error) {
	de := dErrors.As(err)
	status := StatusFor(de.Code)

	body := errorBody{Error: string(de.Code)}
	if de.WireCode != "" {
		body.Error = de.WireCode
	}
	if status != http.StatusInternalServerError {
		body.Description = de.Message
	}
	if de.Code == dErrors.CodeRateLimited && !de.RetryAt.IsZero() {
		w.Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds(time.Now(), de.RetryAt)))
	}
	WriteJSON(w, status, body)
}

// StatusFor returns the HTTP status for a domain code.
func StatusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeBadRequest,
		dErrors.CodeValidation,
		dErrors.CodeAddressRejected,
		dErrors.CodeTokenInvalid,
		dErrors.CodeLinkExpired,
		dErrors.CodeBotCheckFailed:
		return http.StatusBadRequest
	case dErrors.CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// RetryAfterSeconds rounds the wait up to whole seconds, at least one.
func RetryAfterSeconds(now, retryAt time.Time) int {
	secs := int(math.Ceil(retryAt.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// DecodeJSON strictly decodes a single JSON object from the request body into
// dst. Unknown fields, trailing data and oversized bodies are bad requests.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return dErrors.Wrap(err, dErrors.CodeBadRequest, "request body too large")
		}
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid JSON body")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return dErrors.New(dErrors.CodeBadRequest, "request body must contain a single JSON object")
	}
	return nil
}
