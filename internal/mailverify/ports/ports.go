// Package ports defines the interfaces the mailverify module consumes.
package ports

import (
	"context"
	"time"

	"emailissuer/internal/mail"
	"emailissuer/internal/mailverify/models"
	"emailissuer/pkg/platform/audit"
)

//go:generate mockgen -source=ports.go -destination=../mocks/mocks.go -package=mocks

// CodeStore keeps pending codes and verified markers per address.
type CodeStore interface {
	// Save replaces any pending code for the address.
	Save(ctx context.Context, code models.PendingCode) error
	// Find returns sentinel.ErrNotFound or sentinel.ErrExpired when there is
	// no usable code.
	Find(ctx context.Context, address string) (*models.PendingCode, error)
	Delete(ctx context.Context, address string) error

	MarkVerified(ctx context.Context, address string, ttl time.Duration) error
	IsVerified(ctx context.Context, address string) (bool, error)
	ClearVerified(ctx context.Context, address string) error
}

// Limiter enforces the send and verify rate limits.
type Limiter interface {
	CheckSend(ctx context.Context, address, ip string) error
	CheckVerify(ctx context.Context, address string) error
	Release(ctx context.Context, address string) error
}

// Mailer renders and delivers the code mail.
type Mailer interface {
	SendCode(ctx context.Context, msg mail.CodeMessage) error
}

// SessionSigner signs the issuance session request for a verified address.
type SessionSigner interface {
	Sign(address string) (string, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}
