// Package ports defines the interfaces the ratelimit module consumes.
package ports

import (
	"context"
	"time"

	"emailissuer/internal/ratelimit/models"
	"emailissuer/pkg/platform/audit"
)

// BucketStore keeps sliding window counters.
type BucketStore interface {
	// Allow records one event for key if the window has room.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error)

	// Reset clears the counter for key.
	Reset(ctx context.Context, key string) error

	// Count returns the number of events currently in the window.
	Count(ctx context.Context, key string, window time.Duration) (int, error)
}

// AuditPublisher emits audit events for limit violations.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}
