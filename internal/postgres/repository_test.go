package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/quicktap/arena/internal/domain"
	"github.com/quicktap/arena/internal/postgres"
	"github.com/quicktap/arena/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func submission(userID, username string, score int, difficulty domain.Difficulty) domain.ScoreSubmission {
	return domain.ScoreSubmission{
		UserID:     userID,
		Username:   username,
		Avatar:     "robot",
		Score:      score,
		Difficulty: difficulty,
	}
}

func TestRepository_Leaderboard(t *testing.T) {
	pool := testutils.StartPostgres(t)
	repo := postgres.NewRepositoryFromPool(pool, testutils.Logger())
	ctx := context.Background()
	require.NoError(t, repo.Ping(ctx))

	subs := []domain.ScoreSubmission{
		submission("user-aaaaaaaa", "alice", 320, domain.DifficultyNormal),
		submission("user-aaaaaaaa", "alice", 280, domain.DifficultyNormal),
		submission("user-bbbbbbbb", "bob", 250, domain.DifficultyNormal),
		submission("user-cccccccc", "carol", 280, domain.DifficultyNormal),
		submission("user-dddddddd", "dave", 150, domain.DifficultyHard),
	}
	for _, sub := range subs {
		res, err := repo.InsertScore(ctx, sub)
		require.NoError(t, err)
		assert.NotEmpty(t, res.ID)
		assert.False(t, res.CreatedAt.IsZero())
	}

	t.Run("top scores keep one best row per user", func(t *testing.T) {
		entries, err := repo.TopScores(ctx, domain.DifficultyNormal, 10)
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, "bob", entries[0].Username)
		assert.Equal(t, 250, entries[0].Score)
		assert.Equal(t, "alice", entries[1].Username, "equal scores go to the earlier submission")
		assert.Equal(t, 280, entries[1].Score)
		assert.Equal(t, "carol", entries[2].Username)

		entries, err = repo.TopScores(ctx, domain.DifficultyNormal, 1)
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("user rank", func(t *testing.T) {
		rank, err := repo.UserRank(ctx, domain.DifficultyNormal, "user-cccccccc")
		require.NoError(t, err)
		require.NotNil(t, rank.Rank)
		assert.EqualValues(t, 2, *rank.Rank)
		assert.Equal(t, 280, *rank.BestScore)

		rank, err = repo.UserRank(ctx, domain.DifficultyEasy, "user-cccccccc")
		require.NoError(t, err)
		assert.Nil(t, rank.Rank)
		assert.Nil(t, rank.BestScore)
	})

	t.Run("best scores", func(t *testing.T) {
		best, err := repo.BestScores(ctx, domain.DifficultyNormal)
		require.NoError(t, err)
		assert.Equal(t, map[string]int{
			"user-aaaaaaaa": 280,
			"user-bbbbbbbb": 250,
			"user-cccccccc": 280,
		}, best)
	})
}

func TestRepository_MatchHistory(t *testing.T) {
	pool := testutils.StartPostgres(t)
	repo := postgres.NewRepositoryFromPool(pool, testutils.Logger())
	ctx := context.Background()

	finished := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	result := func(finishedAt time.Time, opponent string) domain.MatchResult {
		return domain.MatchResult{
			ID:       uuid.NewString(),
			RoomCode: "123456",
			WinnerID: "user-aaaaaaaa",
			Players: []domain.MatchPlayer{
				{UserID: "user-aaaaaaaa", Username: "alice", Avatar: "robot", Wins: 2},
				{UserID: opponent, Username: "other", Avatar: "cat", Wins: 1},
			},
			RoundWinners: []string{"user-aaaaaaaa", opponent, "user-aaaaaaaa"},
			RoundsPlayed: 3,
			TotalRounds:  3,
			StartedAt:    finishedAt.Add(-time.Minute),
			FinishedAt:   finishedAt,
		}
	}

	older := result(finished, "user-bbbbbbbb")
	newer := result(finished.Add(time.Hour), "user-cccccccc")
	newer.Reason = domain.ReasonOpponentDisconnected

	inserted, err := repo.RecordMatches(ctx, []domain.MatchResult{older, newer})
	require.NoError(t, err)
	assert.EqualValues(t, 2, inserted)

	inserted, err = repo.RecordMatches(ctx, []domain.MatchResult{newer})
	require.NoError(t, err)
	assert.Zero(t, inserted, "redelivered results are skipped")

	matches, err := repo.RecentMatches(ctx, "user-aaaaaaaa", 10)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, newer.ID, matches[0].ID)
	assert.Equal(t, domain.ReasonOpponentDisconnected, matches[0].Reason)
	assert.Equal(t, newer.Players, matches[0].Players)
	assert.Equal(t, newer.RoundWinners, matches[0].RoundWinners)
	assert.True(t, newer.FinishedAt.Equal(matches[0].FinishedAt))

	matches, err = repo.RecentMatches(ctx, "user-bbbbbbbb", 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, older.ID, matches[0].ID)

	matches, err = repo.RecentMatches(ctx, "user-zzzzzzzz", 10)
	require.NoError(t, err)
	assert.Empty(t, matches)
}
