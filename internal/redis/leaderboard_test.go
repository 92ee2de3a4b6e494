package redis_test

import (
	"context"
	"testing"

	"github.com/quicktap/arena/internal/domain"
	arenaredis "github.com/quicktap/arena/internal/redis"
	"github.com/quicktap/arena/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRankCache(t *testing.T) {
	client := testutils.StartRedis(t)
	cache := arenaredis.NewRankCacheFromClient(client, testutils.Logger())
	ctx := context.Background()

	require.NoError(t, cache.Ping(ctx))

	t.Run("keeps the lower score", func(t *testing.T) {
		changed, err := cache.SetBestScore(ctx, domain.DifficultyNormal, "user-a", 300)
		require.NoError(t, err)
		assert.True(t, changed)

		changed, err = cache.SetBestScore(ctx, domain.DifficultyNormal, "user-a", 350)
		require.NoError(t, err)
		assert.False(t, changed, "a slower time never replaces the best")

		changed, err = cache.SetBestScore(ctx, domain.DifficultyNormal, "user-a", 250)
		require.NoError(t, err)
		assert.True(t, changed)

		_, best, err := cache.Rank(ctx, domain.DifficultyNormal, "user-a")
		require.NoError(t, err)
		assert.Equal(t, 250, best)
	})

	t.Run("rank counts strictly better users", func(t *testing.T) {
		for user, score := range map[string]int{"user-b": 200, "user-c": 250, "user-d": 400} {
			_, err := cache.SetBestScore(ctx, domain.DifficultyNormal, user, score)
			require.NoError(t, err)
		}

		tests := []struct {
			user     string
			wantRank int64
			wantBest int
		}{
			{user: "user-b", wantRank: 1, wantBest: 200},
			{user: "user-a", wantRank: 2, wantBest: 250},
			{user: "user-c", wantRank: 2, wantBest: 250},
			{user: "user-d", wantRank: 4, wantBest: 400},
		}
		for _, tt := range tests {
			rank, best, err := cache.Rank(ctx, domain.DifficultyNormal, tt.user)
			require.NoError(t, err)
			assert.Equal(t, tt.wantRank, rank, tt.user)
			assert.Equal(t, tt.wantBest, best, tt.user)
		}

		count, err := cache.Count(ctx, domain.DifficultyNormal)
		require.NoError(t, err)
		assert.EqualValues(t, 4, count)
	})

	t.Run("unknown user", func(t *testing.T) {
		_, _, err := cache.Rank(ctx, domain.DifficultyHard, "nobody")
		assert.ErrorIs(t, err, domain.ErrPlayerNotFound)
	})

	t.Run("replace swaps the whole board", func(t *testing.T) {
		require.NoError(t, cache.ReplaceScores(ctx, domain.DifficultyNormal, map[string]int{"user-z": 180}))

		count, err := cache.Count(ctx, domain.DifficultyNormal)
		require.NoError(t, err)
		assert.EqualValues(t, 1, count)

		_, _, err = cache.Rank(ctx, domain.DifficultyNormal, "user-a")
		assert.ErrorIs(t, err, domain.ErrPlayerNotFound)

		require.NoError(t, cache.ReplaceScores(ctx, domain.DifficultyNormal, nil))
		count, err = cache.Count(ctx, domain.DifficultyNormal)
		require.NoError(t, err)
		assert.Zero(t, count)
	})
}
