package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "emailissuer/pkg/platform/audit"
	"emailissuer/pkg/platform/audit/store/memory"
)

var subject = audit.HashSubject("Alice@Example.org")

func TestPublisher_SyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	err := pub.Emit(context.Background(), audit.Event{
		SubjectHash: subject,
		Action:      string(audit.EventCodeRequested),
	})
	require.NoError(t, err)

	events, err := pub.List(context.Background(), subject)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, string(audit.EventCodeRequested), events[0].Action)
	assert.Equal(t, audit.CategoryOperations, events[0].Category)
	assert.NotEmpty(t, events[0].ID)
}

func TestPublisher_AsyncDrainsOnClose(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(100))

	for range 10 {
		require.NoError(t, pub.Emit(context.Background(), audit.Event{
			SubjectHash: subject,
			Action:      string(audit.EventRateLimitExceeded),
		}))
	}

	pub.Close()
	pub.Close()

	events, err := store.ListBySubject(context.Background(), subject)
	require.NoError(t, err)
	assert.Len(t, events, 10, "all events should be drained on close")
	assert.Equal(t, audit.CategorySecurity, events[0].Category)
}

func TestPublisher_BufferFullDropsEvent(t *testing.T) {
	block := make(chan struct{})
	store := &blockingStore{release: block}
	pub := NewPublisher(store, WithAsyncBuffer(1))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		dropped int
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if errors.Is(pub.Emit(context.Background(), audit.Event{Action: "x"}), ErrBufferFull) {
				mu.Lock()
				dropped++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	close(block)
	pub.Close()

	assert.Positive(t, dropped)
}

func TestPublisher_CancelledContextInAsyncMode(t *testing.T) {
	pub := NewPublisher(memory.NewInMemoryStore(), WithAsyncBuffer(1))
	defer pub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, pub.Emit(ctx, audit.Event{Action: "x"}), context.Canceled)
}

func TestPublisher_Timestamps(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithClock(func() time.Time { return fixed }))
	defer pub.Close()

	custom := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, pub.Emit(context.Background(), audit.Event{SubjectHash: subject, Action: "a"}))
	require.NoError(t, pub.Emit(context.Background(), audit.Event{SubjectHash: subject, Action: "b", Timestamp: custom}))

	events, err := pub.List(context.Background(), subject)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, fixed, events[0].Timestamp)
	assert.Equal(t, custom, events[1].Timestamp)
}

func TestPublisher_ListUnsupported(t *testing.T) {
	pub := NewPublisher(&blockingStore{})
	_, err := pub.List(context.Background(), subject)
	assert.Error(t, err)
}

func TestHashSubjectFoldsCase(t *testing.T) {
	assert.Equal(t, audit.HashSubject("bob@example.org"), audit.HashSubject(" BOB@example.org"))
	assert.Len(t, audit.HashSubject("bob@example.org"), 64)
}

type blockingStore struct {
	release chan struct{}
}

func (b *blockingStore) Append(_ context.Context, _ audit.Event) error {
	if b.release != nil {
		<-b.release
	}
	return nil
}
