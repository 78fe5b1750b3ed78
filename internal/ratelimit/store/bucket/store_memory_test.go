package bucket

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

const (
	testLimit  = 5
	testWindow = time.Minute
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
	s.now = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	s.store = NewInMemoryBucketStore(WithClock(func() time.Time { return s.now }))
	s.ctx = context.Background()
}

func (s *InMemoryBucketStoreSuite) TestAllow() {
	s.Run("first request allowed", func() {
		result, err := s.store.Allow(s.ctx, "write:first", testLimit, testWindow)
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(testLimit, result.Limit)
		s.Equal(testLimit-1, result.Remaining)
	})

	s.Run("request over limit denied without being counted", func() {
		for range testLimit {
			result, err := s.store.Allow(s.ctx, "write:over", testLimit, testWindow)
			s.Require().NoError(err)
			s.True(result.Allowed)
		}
		result, err := s.store.Allow(s.ctx, "write:over", testLimit, testWindow)
		s.Require().NoError(err)
		s.False(result.Allowed)
		s.Zero(result.Remaining)
		s.Equal(s.now.Add(testWindow), result.ResetAt)
		s.Equal(60, result.RetryAfter(s.now))

		count, err := s.store.GetCurrentCount(s.ctx, "write:over")
		s.Require().NoError(err)
		s.Equal(testLimit, count)
	})

	s.Run("window slides", func() {
		for range testLimit {
			_, err := s.store.Allow(s.ctx, "write:slide", testLimit, testWindow)
			s.Require().NoError(err)
		}
		s.now = s.now.Add(testWindow)
		result, err := s.store.Allow(s.ctx, "write:slide", testLimit, testWindow)
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(testLimit-1, result.Remaining)
	})

	s.Run("keys are independent", func() {
		for range testLimit {
			_, err := s.store.Allow(s.ctx, "write:a", testLimit, testWindow)
			s.Require().NoError(err)
		}
		result, err := s.store.Allow(s.ctx, "write:b", testLimit, testWindow)
		s.Require().NoError(err)
		s.True(result.Allowed)
	})
}

func (s *InMemoryBucketStoreSuite) TestAllowNIsAllOrNothing() {
	result, err := s.store.AllowN(s.ctx, "write:bulk", 3, testLimit, testWindow)
	s.Require().NoError(err)
	s.True(result.Allowed)
	s.Equal(2, result.Remaining)

	result, err = s.store.AllowN(s.ctx, "write:bulk", 3, testLimit, testWindow)
	s.Require().NoError(err)
	s.False(result.Allowed)

	count, err := s.store.GetCurrentCount(s.ctx, "write:bulk")
	s.Require().NoError(err)
	s.Equal(3, count)
}

func (s *InMemoryBucketStoreSuite) TestRejectsNonPositiveCost() {
	for _, cost := range []int{0, -3} {
		_, err := s.store.AllowN(s.ctx, "write:empty", cost, testLimit, testWindow)
		s.ErrorIs(err, ErrInvalidCost)
	}
	s.Zero(s.store.Len())
}

func (s *InMemoryBucketStoreSuite) TestIdleKeysAreSwept() {
	for _, key := range []string{"read:ip:192.0.2.1", "read:ip:192.0.2.2", "read:ip:192.0.2.3"} {
		_, err := s.store.Allow(s.ctx, key, testLimit, testWindow)
		s.Require().NoError(err)
	}
	s.Equal(3, s.store.Len())

	s.now = s.now.Add(testWindow + time.Second)
	_, err := s.store.Allow(s.ctx, "read:ip:192.0.2.9", testLimit, testWindow)
	s.Require().NoError(err)
	s.Equal(1, s.store.Len(), "only the live key survives the sweep")

	s.Run("a denied first request leaves no bucket behind", func() {
		result, err := s.store.AllowN(s.ctx, "write:big", testLimit+1, testLimit, testWindow)
		s.Require().NoError(err)
		s.False(result.Allowed)
		s.Equal(1, s.store.Len())
	})
}

func (s *InMemoryBucketStoreSuite) TestReset() {
	for range testLimit {
		_, err := s.store.Allow(s.ctx, "write:reset", testLimit, testWindow)
		s.Require().NoError(err)
	}
	s.Require().NoError(s.store.Reset(s.ctx, "write:reset"))

	result, err := s.store.Allow(s.ctx, "write:reset", testLimit, testWindow)
	s.Require().NoError(err)
	s.True(result.Allowed)
}

func (s *InMemoryBucketStoreSuite) TestConcurrentCallersNeverExceedLimit() {
	const callers = 50
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := s.store.Allow(s.ctx, "write:race", testLimit, testWindow)
			s.NoError(err)
			if result.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	s.Equal(testLimit, allowed)
}
