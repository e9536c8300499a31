// Package issuance hands a verified address off to the wallet's issuance
// session and reports how that session ended.
package issuance

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Session is a started issuance session. Result delivers exactly one Outcome.
type Session interface {
	Result() <-chan Outcome
	Cancel()
}

// Launcher starts a session from a descriptor.
type Launcher interface {
	Launch(ctx context.Context, d Descriptor) (Session, error)
}

// Notifier is told when an attribute was issued.
type Notifier interface {
	NotifyDone(ctx context.Context, address string) error
}

// Handoff runs issuance sessions.
type Handoff struct {
	launcher      Launcher
	notifier      Notifier
	logger        *slog.Logger
	notifyTimeout time.Duration
	wg            sync.WaitGroup
}

type Option func(*Handoff)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handoff) { h.logger = logger }
}

// WithNotifyTimeout bounds the background completion notice.
func WithNotifyTimeout(d time.Duration) Option {
	return func(h *Handoff) {
		if d > 0 {
			h.notifyTimeout = d
		}
	}
}

// NewHandoff builds a Handoff. notifier may be nil.
func NewHandoff(launcher Launcher, notifier Notifier, opts ...Option) *Handoff {
	h := &Handoff{
		launcher:      launcher,
		notifier:      notifier,
		logger:        slog.Default(),
		notifyTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run launches the session and blocks until it ends or ctx is done. A context
// cancelled with cause ErrCancelled reports Cancelled; any other done context
// (deadline, shutdown) reports a failure. On success the backend is notified
// in the background.
func (h *Handoff) Run(ctx context.Context, address string, d Descriptor) Outcome {
	if !d.valid() {
		return Failed("incomplete session descriptor", nil)
	}

	sess, err := h.launcher.Launch(ctx, d)
	if err != nil {
		h.logger.WarnContext(ctx, "issuance session did not start", "error", err)
		return Failed("session start failed", err)
	}

	var out Outcome
	select {
	case o, ok := <-sess.Result():
		if !ok {
			out = Failed("session ended without a result", nil)
		} else {
			out = o
		}
	case <-ctx.Done():
		sess.Cancel()
		if errors.Is(context.Cause(ctx), ErrCancelled) {
			out = Cancelled()
		} else {
			out = Failed("session aborted", ctx.Err())
		}
	}

	h.logger.InfoContext(ctx, "issuance session finished", "outcome", out.String())
	if out.Result == ResultSuccess {
		h.notifyDone(address)
	}
	return out
}

func (h *Handoff) notifyDone(address string) {
	if h.notifier == nil {
		return
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), h.notifyTimeout)
		defer cancel()
		if err := h.notifier.NotifyDone(ctx, address); err != nil {
			h.logger.Warn("completion notice failed", "error", err)
		}
	}()
}

// Wait blocks until background completion notices have finished.
func (h *Handoff) Wait() {
	h.wg.Wait()
}
