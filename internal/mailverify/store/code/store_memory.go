package code

import (
	"context"
	"sync"
	"time"

	"emailissuer/internal/mailverify/models"
	"emailissuer/pkg/platform/sentinel"
)

// InMemoryStore keeps codes in process memory. Suitable for a single instance.
type InMemoryStore struct {
	mu       sync.Mutex
	codes    map[string]models.PendingCode
	verified map[string]time.Time
	clock    func() time.Time
}

type MemoryOption func(*InMemoryStore)

func WithClock(clock func() time.Time) MemoryOption {
	return func(s *InMemoryStore) { s.clock = clock }
}

func NewInMemoryStore(opts ...MemoryOption) *InMemoryStore {
	s := &InMemoryStore{
		codes:    make(map[string]models.PendingCode),
		verified: make(map[string]time.Time),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemoryStore) Save(_ context.Context, code models.PendingCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[models.AddressKey(code.Address)] = code
	return nil
}

func (s *InMemoryStore) Find(_ context.Context, address string) (*models.PendingCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := models.AddressKey(address)
	code, ok := s.codes[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if code.IsExpired(s.clock()) {
		delete(s.codes, key)
		return nil, sentinel.ErrExpired
	}
	return &code, nil
}

func (s *InMemoryStore) Delete(_ context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.codes, models.AddressKey(address))
	return nil
}

func (s *InMemoryStore) MarkVerified(_ context.Context, address string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verified[models.AddressKey(address)] = s.clock().Add(ttl)
	return nil
}

func (s *InMemoryStore) IsVerified(_ context.Context, address string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := models.AddressKey(address)
	until, ok := s.verified[key]
	if !ok {
		return false, nil
	}
	if !s.clock().Before(until) {
		delete(s.verified, key)
		return false, nil
	}
	return true, nil
}

func (s *InMemoryStore) ClearVerified(_ context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.verified, models.AddressKey(address))
	return nil
}

// Sweep drops expired codes and markers. Returns the number removed.
func (s *InMemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	removed := 0
	for key, code := range s.codes {
		if code.IsExpired(now) {
			delete(s.codes, key)
			removed++
		}
	}
	for key, until := range s.verified {
		if !now.Before(until) {
			delete(s.verified, key)
			removed++
		}
	}
	return removed
}
