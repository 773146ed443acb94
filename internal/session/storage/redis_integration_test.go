//go:build integration

package storage_test

import (
	"context"
	"testing"
	"time"

	"guardian/internal/session/storage"
	"guardian/pkg/platform/sentinel"
	"guardian/pkg/testutil/containers"

	"github.com/stretchr/testify/suite"
)

type RedisStorageSuite struct {
	suite.Suite
	redis   *containers.RedisContainer
	storage *storage.Redis
}

func TestRedisStorageSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStorageSuite))
}

func (s *RedisStorageSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.storage = storage.NewRedis(s.redis.Client)
}

func (s *RedisStorageSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisStorageSuite) TestPutGetDelete() {
	ctx := context.Background()

	s.Run("missing key", func() {
		_, err := s.storage.Get(ctx, "guardian:session:current")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("stored bytes round trip", func() {
		s.Require().NoError(s.storage.Put(ctx, "k", []byte{1, 0, 2}, time.Minute))
		got, err := s.storage.Get(ctx, "k")
		s.Require().NoError(err)
		s.Equal([]byte{1, 0, 2}, got)

		ttl, err := s.redis.Client.TTL(ctx, "k").Result()
		s.Require().NoError(err)
		s.Greater(ttl, time.Duration(0))
	})

	s.Run("delete is idempotent", func() {
		s.Require().NoError(s.storage.Delete(ctx, "k"))
		s.Require().NoError(s.storage.Delete(ctx, "k"))
		_, err := s.storage.Get(ctx, "k")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *RedisStorageSuite) TestExpiry() {
	ctx := context.Background()
	s.Require().NoError(s.storage.Put(ctx, "short", []byte("x"), 50*time.Millisecond))
	s.Eventually(func() bool {
		_, err := s.storage.Get(ctx, "short")
		return err != nil
	}, 2*time.Second, 20*time.Millisecond)
}
