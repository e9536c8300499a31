// Package logsink writes audit events to the structured log.
package logsink

import (
	"context"
	"log/slog"

	audit "emailissuer/pkg/platform/audit"
)

type Store struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Store {
	return &Store{logger: logger}
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	s.logger.InfoContext(ctx, "audit",
		"audit_id", event.ID,
		"category", string(event.Category),
		"action", event.Action,
		"subject", event.Subject,
		"ip", event.IP,
		"reason", event.Reason,
		"request_id", event.RequestID,
	)
	return nil
}
