package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	audit "emailissuer/pkg/platform/audit"
)

var ErrBufferFull = errors.New("audit buffer full")

// Store persists events. Sinks that cannot be queried only implement this.
type Store interface {
	Append(ctx context.Context, event audit.Event) error
}

// Lister is implemented by stores that can answer lookups by subject hash.
type Lister interface {
	ListBySubject(ctx context.Context, subjectHash string) ([]audit.Event, error)
}

// Publisher fills in event defaults and hands events to a Store, either
// inline or through a bounded buffer drained by one goroutine.
type Publisher struct {
	store  Store
	logger *slog.Logger
	clock  func() time.Time

	buffer chan audit.Event
	wg     sync.WaitGroup
	once   sync.Once
}

type Option func(*Publisher)

// WithAsyncBuffer enables async mode. Emit never blocks; when the buffer is
// full the event is dropped and ErrBufferFull returned.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		if size > 0 {
			p.buffer = make(chan audit.Event, size)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) { p.logger = logger }
}

func WithClock(clock func() time.Time) Option {
	return func(p *Publisher) { p.clock = clock }
}

func NewPublisher(store Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:  store,
		logger: slog.Default(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.buffer != nil {
		p.wg.Add(1)
		go p.drain()
	}
	return p
}

func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = p.clock()
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}

	if p.buffer == nil {
		return p.store.Append(ctx, event)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	select {
	case p.buffer <- event:
		return nil
	default:
		p.logger.WarnContext(ctx, "audit buffer full, dropping event", "action", event.Action)
		return ErrBufferFull
	}
}

// List returns the events recorded for a subject hash, if the store supports lookups.
func (p *Publisher) List(ctx context.Context, subjectHash string) ([]audit.Event, error) {
	lister, ok := p.store.(Lister)
	if !ok {
		return nil, errors.New("audit store does not support listing")
	}
	return lister.ListBySubject(ctx, subjectHash)
}

// Close stops accepting async events and waits until the buffer is drained.
func (p *Publisher) Close() {
	p.once.Do(func() {
		if p.buffer != nil {
			close(p.buffer)
			p.wg.Wait()
		}
	})
}

func (p *Publisher) drain() {
	defer p.wg.Done()
	for event := range p.buffer {
		// the request that produced the event may be long gone
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := p.store.Append(ctx, event); err != nil {
			p.logger.Error("failed to persist audit event",
				"action", event.Action,
				"request_id", event.RequestID,
				"error", err,
			)
		}
		cancel()
	}
}
