//go:build integration

package containers

import (
	"context"
	"os"
	"testing"
	"time"

	"guardian/internal/platform/config"
	platformredis "guardian/internal/platform/redis"

	"github.com/redis/go-redis/v9"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

const defaultRedisImage = "redis:7-alpine"

// RedisContainer is a disposable Redis reached through the same client
// construction the CLI uses for GUARDIAN_REDIS_URL.
type RedisContainer struct {
	Container *tcredis.RedisContainer
	URL       string
	Client    *redis.Client
}

// NewRedisContainer starts Redis from GUARDIAN_TEST_REDIS_IMAGE, or
// redis:7-alpine when unset. Callers normally go through Manager.GetRedis.
func NewRedisContainer(t *testing.T) *RedisContainer {
	t.Helper()
	ctx := context.Background()

	image := os.Getenv("GUARDIAN_TEST_REDIS_IMAGE")
	if image == "" {
		image = defaultRedisImage
	}
	container, err := tcredis.Run(ctx, image)
	if err != nil {
		t.Fatalf("start redis %s: %v", image, err)
	}

	url, err := container.ConnectionString(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("redis connection string: %v", err)
	}

	client, err := platformredis.New(ctx, config.RedisConfig{
		URL:          url,
		PoolSize:     4,
		MinIdleConns: 1,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("connect redis: %v", err)
	}

	return &RedisContainer{
		Container: container,
		URL:       url,
		Client:    client.Client,
	}
}

// FlushAll empties every database. Suites call it from SetupTest.
func (r *RedisContainer) FlushAll(ctx context.Context) error {
	return r.Client.FlushAll(ctx).Err()
}
