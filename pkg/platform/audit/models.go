package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// EventCategory decides retention and routing of an event.
type EventCategory string

const (
	// CategorySecurity covers abuse signals: limit violations and failed
	// verifications. These feed alerting.
	CategorySecurity EventCategory = "security"
	// CategoryOperations covers the routine enrollment flow.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted by the backend at each step of an enrollment. It never
// carries the raw address: Subject is masked, SubjectHash is stable.
type Event struct {
	ID          string
	Category    EventCategory
	Timestamp   time.Time
	Action      string
	Subject     string
	SubjectHash string
	IP          string
	Reason      string
	RequestID   string
}

type AuditEvent string

const (
	EventCodeRequested       AuditEvent = "code_requested"
	EventCodeVerified        AuditEvent = "code_verified"
	EventVerificationFailed  AuditEvent = "verification_failed"
	EventRateLimitExceeded   AuditEvent = "rate_limit_exceeded"
	EventEnrollmentCompleted AuditEvent = "enrollment_completed"
	EventMailFailed          AuditEvent = "mail_failed"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventVerificationFailed: CategorySecurity,
	EventRateLimitExceeded:  CategorySecurity,
	EventMailFailed:         CategorySecurity,

	EventCodeRequested:       CategoryOperations,
	EventCodeVerified:        CategoryOperations,
	EventEnrollmentCompleted: CategoryOperations,
}

// Category returns the category for e. Unknown events are operations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// HashSubject is the SHA-256 of the case-folded address, hex encoded. It is
// used as partition key and lookup key without storing the address.
func HashSubject(address string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(address))))
	return hex.EncodeToString(sum[:])
}
