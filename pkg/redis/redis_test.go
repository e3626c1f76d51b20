package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupAdapter(t *testing.T) (*miniredis.Miniredis, RedisAdapter) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewFromClient("app:", client)
}

func TestRedisAdapter_DelIfEqual(t *testing.T) {
	mr, r := setupAdapter(t)
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, "lock", []byte("token-a"), 0))
	assert.True(t, mr.Exists("app:lock"))

	deleted, err := r.DelIfEqual(ctx, "lock", []byte("token-b"))
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.True(t, mr.Exists("app:lock"))

	deleted, err = r.DelIfEqual(ctx, "lock", []byte("token-a"))
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.False(t, mr.Exists("app:lock"))

	deleted, err = r.DelIfEqual(ctx, "lock", []byte("token-a"))
	require.NoError(t, err)
	assert.False(t, deleted)
}
