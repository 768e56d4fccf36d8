//go:build integration

package containers

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

const redisImage = "redis:7-alpine"

// RedisContainer is a throwaway Redis for store tests.
type RedisContainer struct {
	Container *tcredis.RedisContainer
	URL       string
	Client    *redis.Client
}

// NewRedisContainer starts Redis with a connected client. Both are released
// when the test ends.
func NewRedisContainer(t *testing.T) *RedisContainer {
	t.Helper()
	ctx := t.Context()

	rc := &RedisContainer{}
	var err error
	rc.Container, err = tcredis.Run(ctx, redisImage)
	require.NoError(t, err, "start %s", redisImage)
	t.Cleanup(func() { _ = rc.Container.Terminate(context.Background()) })

	rc.URL, err = rc.Container.ConnectionString(ctx)
	require.NoError(t, err, "redis connection string")

	opts, err := redis.ParseURL(rc.URL)
	require.NoError(t, err, "parse %s", rc.URL)
	rc.Client = redis.NewClient(opts)
	t.Cleanup(func() { _ = rc.Client.Close() })

	require.NoError(t, rc.Client.Ping(ctx).Err(), "ping redis")
	return rc
}

// Flush empties the database between tests.
func (r *RedisContainer) Flush(ctx context.Context) error {
	return r.Client.FlushDB(ctx).Err()
}
