package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-license/internal/auth"
)

func TestRedisBlacklist(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bl := auth.NewRedisBlacklist(rdb)
	ctx := context.Background()

	ok, err := bl.IsBlacklisted(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, bl.AddToBlacklist(ctx, "jti-1", time.Minute))
	ok, err = bl.IsBlacklisted(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(2 * time.Minute)
	ok, _ = bl.IsBlacklisted(ctx, "jti-1")
	assert.False(t, ok, "entry should expire with the token")
}

func TestRedisBlacklist_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bl := auth.NewRedisBlacklist(rdb)
	mr.Close()

	_, err := bl.IsBlacklisted(context.Background(), "jti-1")
	assert.Error(t, err)
}
