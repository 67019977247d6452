package repository

import (
	"context"
	"testing"
	"time"

	"syncqueue/internal/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisTokenRepository(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := redis.NewClient(&redis.Options{
		Addr: s.Addr(),
	})
	defer client.Close()

	repo := NewRedisTokenRepository(client, time.Hour)
	ctx := context.Background()

	t.Run("SetAndGetToken", func(t *testing.T) {
		require.NoError(t, repo.SetToken(ctx, "bearer", "abc", 0))

		got, err := repo.GetToken(ctx, "bearer")
		require.NoError(t, err)
		assert.Equal(t, "abc", got)
		assert.Equal(t, time.Hour, s.TTL(tokenKeyPrefix+"bearer"))
	})

	t.Run("GetMissingToken", func(t *testing.T) {
		got, err := repo.GetToken(ctx, "missing")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("TokenExpires", func(t *testing.T) {
		require.NoError(t, repo.SetToken(ctx, "user", "u1", time.Minute))
		s.FastForward(2 * time.Minute)

		got, err := repo.GetToken(ctx, "user")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("ClearToken", func(t *testing.T) {
		require.NoError(t, repo.SetToken(ctx, "gone", "x", 0))
		require.NoError(t, repo.ClearToken(ctx, "gone"))

		got, _ := repo.GetToken(ctx, "gone")
		assert.Empty(t, got)
	})

	t.Run("PingAndErrors", func(t *testing.T) {
		assert.NoError(t, Ping(ctx, client))

		s.SetError("server down")
		_, err := repo.GetToken(ctx, "bearer")
		assert.Error(t, err)
		assert.Error(t, repo.SetToken(ctx, "bearer", "x", 0))
		assert.Error(t, repo.ClearToken(ctx, "bearer"))
		s.SetError("")
	})
}

func TestRedisTokenRepository_NilClient(t *testing.T) {
	repo := NewRedisTokenRepository(nil, time.Hour)
	ctx := context.Background()

	_, err := repo.GetToken(ctx, "a")
	assert.Error(t, err)
	assert.Error(t, repo.SetToken(ctx, "a", "b", 0))
	assert.Error(t, repo.ClearToken(ctx, "a"))
	assert.NoError(t, Close(nil))
}

func TestNewRedisClient(t *testing.T) {
	s := miniredis.RunT(t)
	client := NewRedisClient(config.RedisConfig{Address: s.Addr(), PoolSize: 2})
	defer Close(client)

	assert.NoError(t, Ping(context.Background(), client))
}
