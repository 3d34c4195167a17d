package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRedisAddr = "redis://localhost:6379"

func setupTestRedis(t *testing.T) redis.UniversalClient {
	t.Helper()
	client, err := NewRedisUniversalClient(testRedisAddr)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("redis not reachable at %s: %v", testRedisAddr, err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisCacheRoundTrip(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()
	c := NewRedisCache[cachedInstance](client, "osrelay-test", func(v cachedInstance) ([]byte, error) {
		return json.Marshal(v)
	}, func(raw []byte) (cachedInstance, error) {
		var v cachedInstance
		err := json.Unmarshal(raw, &v)
		return v, err
	})

	_, err := c.Get(ctx, "absent")
	assert.ErrorIs(t, err, ErrMiss)

	want := cachedInstance{InstanceID: "inst-1", TeamID: "team-1", Name: "one"}
	require.NoError(t, c.Set(ctx, "k", want, time.Minute))
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NoError(t, c.Delete(ctx, "k"))
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}
