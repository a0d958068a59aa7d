//go:build integration

package cache_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/suite"

	"docflow/internal/consent/cache"
	id "docflow/pkg/domain"
	"docflow/pkg/testutil/containers"
)

type RedisCacheSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	cache *cache.Redis
}

func TestRedisCacheSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisCacheSuite))
}

func (s *RedisCacheSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	s.cache = cache.NewRedis(s.redis.Client, slog.New(slog.DiscardHandler))
}

func (s *RedisCacheSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisCacheSuite) TestSetGet() {
	ctx := context.Background()
	principalID := id.PrincipalID(id.New())

	_, ok := s.cache.Get(ctx, principalID)
	s.False(ok, "fresh cache misses")

	s.cache.Set(ctx, principalID, true)
	complete, ok := s.cache.Get(ctx, principalID)
	s.True(ok)
	s.True(complete)

	// Negative answers are cached too.
	other := id.PrincipalID(id.New())
	s.cache.Set(ctx, other, false)
	complete, ok = s.cache.Get(ctx, other)
	s.True(ok)
	s.False(complete)
}

func (s *RedisCacheSuite) TestInvalidatePrincipalDropsOneKey() {
	ctx := context.Background()
	accepted := id.PrincipalID(id.New())
	bystander := id.PrincipalID(id.New())

	s.cache.Set(ctx, accepted, false)
	s.cache.Set(ctx, bystander, true)

	s.cache.InvalidatePrincipal(ctx, accepted)

	_, ok := s.cache.Get(ctx, accepted)
	s.False(ok, "invalidated principal misses")

	complete, ok := s.cache.Get(ctx, bystander)
	s.True(ok, "other principals keep their answer")
	s.True(complete)
}

func (s *RedisCacheSuite) TestInvalidateAllOrphansEveryAnswer() {
	ctx := context.Background()
	first := id.PrincipalID(id.New())
	second := id.PrincipalID(id.New())

	s.cache.Set(ctx, first, true)
	s.cache.Set(ctx, second, true)

	s.Require().NoError(s.cache.InvalidateAll(ctx))

	_, ok := s.cache.Get(ctx, first)
	s.False(ok)
	_, ok = s.cache.Get(ctx, second)
	s.False(ok)

	// Writes under the new generation are readable again.
	s.cache.Set(ctx, first, false)
	complete, ok := s.cache.Get(ctx, first)
	s.True(ok)
	s.False(complete)
}
