package bucket

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
)

type RedisBucketStoreSuite struct {
	suite.Suite
	mr    *miniredis.Miniredis
	store *RedisBucketStore
	now   time.Time
	ctx   context.Context
}

func TestRedisBucketStoreSuite(t *testing.T) {
	suite.Run(t, new(RedisBucketStoreSuite))
}

func (s *RedisBucketStoreSuite) SetupTest() {
	s.mr = miniredis.RunT(s.T())
	client := redis.NewClient(&redis.Options{Addr: s.mr.Addr()})
	s.T().Cleanup(func() { _ = client.Close() })

	s.now = time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	s.store = NewRedisBucketStore(client)
	s.store.now = func() time.Time { return s.now }
	s.ctx = context.Background()
}

func (s *RedisBucketStoreSuite) TestAllowCountsWithinWindow() {
	for i := 1; i <= testLimit; i++ {
		result, err := s.store.Allow(s.ctx, "otp:10.0.0.1", testLimit, testWindow)
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(testLimit-i, result.Remaining)
		s.Equal(s.now.Add(testWindow), result.ResetAt)
	}

	result, err := s.store.Allow(s.ctx, "otp:10.0.0.1", testLimit, testWindow)
	s.Require().NoError(err)
	s.False(result.Allowed)
	s.Equal(0, result.Remaining)
	s.Equal(int(testWindow.Seconds()), result.RetryAfter)
}

func (s *RedisBucketStoreSuite) TestWindowExpiry() {
	for range testLimit + 1 {
		_, err := s.store.Allow(s.ctx, "otp:10.0.0.2", testLimit, testWindow)
		s.Require().NoError(err)
	}

	s.mr.FastForward(testWindow)

	result, err := s.store.Allow(s.ctx, "otp:10.0.0.2", testLimit, testWindow)
	s.Require().NoError(err)
	s.True(result.Allowed)
	s.Equal(testLimit-1, result.Remaining)
}

func (s *RedisBucketStoreSuite) TestKeysArePrefixedAndExpire() {
	_, err := s.store.Allow(s.ctx, "otp:10.0.0.3", testLimit, testWindow)
	s.Require().NoError(err)

	s.True(s.mr.Exists(redisKeyPrefix + "otp:10.0.0.3"))
	s.Equal(testWindow, s.mr.TTL(redisKeyPrefix+"otp:10.0.0.3"))
}

func (s *RedisBucketStoreSuite) TestReset() {
	for range testLimit + 1 {
		_, err := s.store.Allow(s.ctx, "otp:10.0.0.4", testLimit, testWindow)
		s.Require().NoError(err)
	}
	s.Require().NoError(s.store.Reset(s.ctx, "otp:10.0.0.4"))

	result, err := s.store.Allow(s.ctx, "otp:10.0.0.4", testLimit, testWindow)
	s.Require().NoError(err)
	s.True(result.Allowed)
}

func (s *RedisBucketStoreSuite) TestUnavailableRedisReturnsError() {
	s.mr.Close()

	_, err := s.store.Allow(s.ctx, "otp:10.0.0.5", testLimit, testWindow)
	s.Error(err)
}
