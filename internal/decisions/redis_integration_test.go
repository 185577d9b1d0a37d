//go:build integration

package decisions

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) *redis.Client {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = redisC.Terminate(ctx)
	})

	host, err := redisC.Host(ctx)
	require.NoError(t, err)
	port, err := redisC.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestRedisCacheRoundTrip(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()

	first := NewRedisCache(client, WithPrefix("test:"))
	entry := Entry{Outcome: OutcomeAccept, Source: "console:alice", DecidedAt: time.Now().UTC().Truncate(time.Second)}
	require.NoError(t, first.Put(ctx, PairKey("S1", "M1"), entry))

	// a second process sharing the server sees the decision
	second := NewRedisCache(client, WithPrefix("test:"))
	got, err := second.Get(ctx, PairKey("M1", "S1"))
	require.NoError(t, err)
	assert.Equal(t, entry.Outcome, got.Outcome)
	assert.Equal(t, entry.Source, got.Source)
	assert.True(t, entry.DecidedAt.Equal(got.DecidedAt))

	require.NoError(t, second.Delete(ctx, PairKey("S1", "M1")))
	_, err = first.Get(ctx, PairKey("S1", "M1"))
	assert.ErrorIs(t, err, ErrNotFound)

	other := NewRedisCache(client, WithPrefix("other:"))
	require.NoError(t, first.Put(ctx, StoreKey("S2"), Entry{Outcome: OutcomeNone}))
	_, err = other.Get(ctx, StoreKey("S2"))
	assert.ErrorIs(t, err, ErrNotFound, "prefixes isolate caches")
}
