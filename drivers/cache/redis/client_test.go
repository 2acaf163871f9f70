package redis_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/goomon/persistlab"
	"github.com/goomon/persistlab/drivers/cache/redis"
)

func startRedis(ctx context.Context, t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skip integration in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("skip integration: cannot start redis container: %v", err)
	}
	t.Cleanup(func() {
		termCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = container.Terminate(termCtx)
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)
	return fmt.Sprintf("%s:%s", host, port.Port())
}

func TestRedisClient(t *testing.T) {
	ctx := context.Background()
	addr := startRedis(ctx, t)

	c, err := redis.NewClient(nil, &redis.Options{Addr: addr})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	_, err = c.GetModel(ctx, "lab:Post:1")
	require.ErrorIs(t, err, persistlab.ErrNotFound)

	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, c.SetModel(ctx, "lab:Post:1", map[string]interface{}{
		"id":         int64(1),
		"title":      "High-Performance Java Persistence",
		"created_on": created,
	}, time.Minute))
	require.NoError(t, c.SetModel(ctx, "lab:Post:2", map[string]interface{}{"id": int64(2)}, time.Minute))

	state, err := c.GetModel(ctx, "lab:Post:1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), state["id"])
	assert.Equal(t, "High-Performance Java Persistence", state["title"])
	assert.True(t, created.Equal(state["created_on"].(time.Time)))

	ok, err := c.AcquireLock(ctx, "lab:Post:1:lock", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = c.AcquireLock(ctx, "lab:Post:1:lock", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire must not block or succeed")
	require.NoError(t, c.ReleaseLock(ctx, "lab:Post:1:lock"))

	require.NoError(t, c.DeleteByPrefix(ctx, "lab:Post:"))
	_, err = c.GetModel(ctx, "lab:Post:2")
	require.ErrorIs(t, err, persistlab.ErrNotFound)

	stats := c.GetCacheStats(ctx)
	assert.Equal(t, 2, stats.Counters["GetModelMiss"])
	assert.Equal(t, 1, stats.Counters["GetModelHit"])
	assert.Equal(t, 2, stats.Counters["SetModel"])
}

func TestRedisClientExternalConnectionStaysOpen(t *testing.T) {
	ctx := context.Background()
	addr := startRedis(ctx, t)

	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	defer rdb.Close()

	c, err := redis.NewClient(rdb, nil)
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, rdb.Ping(ctx).Err())
}
