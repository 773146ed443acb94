package redis

import (
	"context"
	"testing"
	"time"

	"guardian/internal/platform/config"
	"guardian/pkg/platform/sentinel"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	ctx := context.Background()

	t.Run("empty URL means redis is not configured", func(t *testing.T) {
		c, err := New(ctx, config.RedisConfig{})
		require.NoError(t, err)
		assert.Nil(t, c)
	})

	t.Run("malformed URL", func(t *testing.T) {
		_, err := New(ctx, config.RedisConfig{URL: "http://not-redis"})
		require.Error(t, err)
		assert.NotErrorIs(t, err, sentinel.ErrUnavailable)
	})

	t.Run("unreachable server is unavailable", func(t *testing.T) {
		_, err := New(ctx, config.RedisConfig{
			URL:         "redis://127.0.0.1:1/0",
			DialTimeout: 200 * time.Millisecond,
		})
		assert.ErrorIs(t, err, sentinel.ErrUnavailable)
	})
}
