package bucket

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

const (
	testLimit  = 3
	testWindow = 30 * time.Minute
)

type InMemoryBucketStoreSuite struct {
	suite.Suite
	store *InMemoryBucketStore
	now   time.Time
	ctx   context.Context
}

func TestInMemoryBucketStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryBucketStoreSuite))
}

func (s *InMemoryBucketStoreSuite) SetupTest() {
	s.now = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s.store = NewInMemoryBucketStore(WithClock(func() time.Time { return s.now }))
	s.ctx = context.Background()
}

func (s *InMemoryBucketStoreSuite) advance(d time.Duration) { s.now = s.now.Add(d) }

func (s *InMemoryBucketStoreSuite) TestAllow() {
	s.Run("first request allowed", func() {
		result, err := s.store.Allow(s.ctx, "rl:email:first", testLimit, testWindow)
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(testLimit, result.Limit)
		s.Equal(testLimit-1, result.Remaining)
		s.Equal(s.now.Add(testWindow), result.ResetAt)
	})

	s.Run("request over limit denied until oldest event leaves the window", func() {
		start := s.now
		for range testLimit {
			result, err := s.store.Allow(s.ctx, "rl:email:over", testLimit, testWindow)
			s.Require().NoError(err)
			s.True(result.Allowed)
			s.advance(time.Minute)
		}

		result, err := s.store.Allow(s.ctx, "rl:email:over", testLimit, testWindow)
		s.Require().NoError(err)
		s.False(result.Allowed)
		s.Equal(0, result.Remaining)
		s.Equal(start.Add(testWindow), result.ResetAt)
		s.Equal(testWindow-3*time.Minute, result.RetryAfter(s.now))

		s.now = start.Add(testWindow)
		result, err = s.store.Allow(s.ctx, "rl:email:over", testLimit, testWindow)
		s.Require().NoError(err)
		s.True(result.Allowed)
	})

	s.Run("keys are independent", func() {
		for range testLimit {
			_, err := s.store.Allow(s.ctx, "rl:ip:a", testLimit, testWindow)
			s.Require().NoError(err)
		}
		result, err := s.store.Allow(s.ctx, "rl:ip:b", testLimit, testWindow)
		s.Require().NoError(err)
		s.True(result.Allowed)
	})
}

func (s *InMemoryBucketStoreSuite) TestResetAndCount() {
	key := "rl:verify:count"
	for range 2 {
		_, err := s.store.Allow(s.ctx, key, testLimit, testWindow)
		s.Require().NoError(err)
	}

	count, err := s.store.Count(s.ctx, key, testWindow)
	s.Require().NoError(err)
	s.Equal(2, count)

	s.Require().NoError(s.store.Reset(s.ctx, key))
	count, err = s.store.Count(s.ctx, key, testWindow)
	s.Require().NoError(err)
	s.Zero(count)

	count, err = s.store.Count(s.ctx, "rl:verify:missing", testWindow)
	s.Require().NoError(err)
	s.Zero(count)
}

func (s *InMemoryBucketStoreSuite) TestSweep() {
	_, err := s.store.Allow(s.ctx, "rl:email:stale", testLimit, testWindow)
	s.Require().NoError(err)
	s.advance(testWindow / 2)
	_, err = s.store.Allow(s.ctx, "rl:email:fresh", testLimit, testWindow)
	s.Require().NoError(err)

	s.advance(testWindow / 2)
	s.Equal(1, s.store.Sweep(testWindow))

	count, err := s.store.Count(s.ctx, "rl:email:fresh", testWindow)
	s.Require().NoError(err)
	s.Equal(1, count)
}

func (s *InMemoryBucketStoreSuite) TestConcurrentAllowNeverExceedsLimit() {
	const limit = 50
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range 200 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := s.store.Allow(s.ctx, "rl:ip:burst", limit, testWindow)
			if err == nil && result.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	s.Equal(limit, allowed)
}
