package service_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/quicktap/arena/internal/config"
	"github.com/quicktap/arena/internal/domain"
	"github.com/quicktap/arena/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("backend down")

type fakeStore struct {
	inserted  []domain.ScoreSubmission
	insertErr error
	lastLimit int
	rank      domain.RankResult
	rankCalls int
}

func (s *fakeStore) InsertScore(_ context.Context, sub domain.ScoreSubmission) (domain.SubmitResult, error) {
	if s.insertErr != nil {
		return domain.SubmitResult{}, s.insertErr
	}
	s.inserted = append(s.inserted, sub)
	return domain.SubmitResult{ID: "row-1", CreatedAt: time.Unix(1700000000, 0)}, nil
}

func (s *fakeStore) TopScores(_ context.Context, _ domain.Difficulty, limit int) ([]domain.LeaderboardEntry, error) {
	s.lastLimit = limit
	return []domain.LeaderboardEntry{{UserID: "user-00000001", Score: 210}}, nil
}

func (s *fakeStore) UserRank(_ context.Context, _ domain.Difficulty, _ string) (domain.RankResult, error) {
	s.rankCalls++
	return s.rank, nil
}

type fakeCache struct {
	best    map[string]int
	setErr  error
	rankErr error
}

func (c *fakeCache) SetBestScore(_ context.Context, _ domain.Difficulty, userID string, score int) (bool, error) {
	if c.setErr != nil {
		return false, c.setErr
	}
	if cur, ok := c.best[userID]; ok && cur <= score {
		return false, nil
	}
	c.best[userID] = score
	return true, nil
}

func (c *fakeCache) Rank(_ context.Context, _ domain.Difficulty, userID string) (int64, int, error) {
	if c.rankErr != nil {
		return 0, 0, c.rankErr
	}
	best, ok := c.best[userID]
	if !ok {
		return 0, 0, domain.ErrPlayerNotFound
	}
	var better int64
	for _, s := range c.best {
		if s < best {
			better++
		}
	}
	return better + 1, best, nil
}

func (c *fakeCache) Count(_ context.Context, _ domain.Difficulty) (int64, error) {
	return int64(len(c.best)), nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func limits() *config.LeaderboardConfig {
	return &config.LeaderboardConfig{DefaultLimit: 100, MaxLimit: 100}
}

func validSubmission(score int) domain.ScoreSubmission {
	return domain.ScoreSubmission{
		UserID:     "user-00000001",
		Username:   "player_1",
		Avatar:     "robot",
		Score:      score,
		Difficulty: domain.DifficultyNormal,
	}
}

func TestLeaderboardService_SubmitScore(t *testing.T) {
	store := &fakeStore{}
	cache := &fakeCache{best: map[string]int{}}
	svc := service.NewLeaderboardService(store, cache, limits(), discard())
	ctx := context.Background()

	res, err := svc.SubmitScore(ctx, validSubmission(300))
	require.NoError(t, err)
	assert.Equal(t, "row-1", res.ID)
	_, err = svc.SubmitScore(ctx, validSubmission(350))
	require.NoError(t, err)

	assert.Len(t, store.inserted, 2, "every attempt is stored")
	assert.Equal(t, 300, cache.best["user-00000001"], "cache keeps the best")

	_, err = svc.SubmitScore(ctx, validSubmission(50))
	assert.ErrorIs(t, err, domain.ErrInvalidScore)
	assert.Len(t, store.inserted, 2)
}

func TestLeaderboardService_SubmitScoreCacheFailureTolerated(t *testing.T) {
	store := &fakeStore{}
	svc := service.NewLeaderboardService(store, &fakeCache{setErr: errBackend}, limits(), discard())

	_, err := svc.SubmitScore(context.Background(), validSubmission(300))
	require.NoError(t, err)
	assert.Len(t, store.inserted, 1)
}

func TestLeaderboardService_SubmitScoreStoreFailure(t *testing.T) {
	cache := &fakeCache{best: map[string]int{}}
	svc := service.NewLeaderboardService(&fakeStore{insertErr: errBackend}, cache, limits(), discard())

	_, err := svc.SubmitScore(context.Background(), validSubmission(300))
	assert.ErrorIs(t, err, errBackend)
	assert.Empty(t, cache.best, "cache is never ahead of the database")
}

func TestLeaderboardService_TopScoresLimit(t *testing.T) {
	tests := []struct {
		limit int
		want  int
	}{
		{limit: 0, want: 100},
		{limit: -5, want: 1},
		{limit: 10, want: 10},
		{limit: 500, want: 100},
	}
	for _, tt := range tests {
		store := &fakeStore{}
		svc := service.NewLeaderboardService(store, nil, limits(), discard())
		_, err := svc.TopScores(context.Background(), "hard", tt.limit)
		require.NoError(t, err)
		assert.Equal(t, tt.want, store.lastLimit, "limit %d", tt.limit)
	}

	svc := service.NewLeaderboardService(&fakeStore{}, nil, limits(), discard())
	_, err := svc.TopScores(context.Background(), "insane", 10)
	assert.ErrorIs(t, err, domain.ErrInvalidDifficulty)
}

func TestLeaderboardService_UserRank(t *testing.T) {
	ctx := context.Background()

	t.Run("cache hit", func(t *testing.T) {
		store := &fakeStore{}
		cache := &fakeCache{best: map[string]int{"user-00000001": 250, "user-00000002": 200}}
		svc := service.NewLeaderboardService(store, cache, limits(), discard())

		res, err := svc.UserRank(ctx, "user-00000001", "normal")
		require.NoError(t, err)
		assert.EqualValues(t, 2, *res.Rank)
		assert.Equal(t, 250, *res.BestScore)
		assert.Zero(t, store.rankCalls)
	})

	t.Run("cache miss falls back", func(t *testing.T) {
		store := &fakeStore{rank: domain.NewRankResult(7, 410)}
		svc := service.NewLeaderboardService(store, &fakeCache{best: map[string]int{}}, limits(), discard())

		res, err := svc.UserRank(ctx, "user-00000001", "normal")
		require.NoError(t, err)
		assert.EqualValues(t, 7, *res.Rank)
		assert.Equal(t, 1, store.rankCalls)
	})

	t.Run("cache error falls back", func(t *testing.T) {
		store := &fakeStore{}
		svc := service.NewLeaderboardService(store, &fakeCache{rankErr: errBackend}, limits(), discard())

		res, err := svc.UserRank(ctx, "user-00000001", "easy")
		require.NoError(t, err)
		assert.Nil(t, res.Rank)
		assert.Nil(t, res.BestScore)
		assert.Equal(t, 1, store.rankCalls)
	})

	t.Run("bad difficulty", func(t *testing.T) {
		svc := service.NewLeaderboardService(&fakeStore{}, nil, limits(), discard())
		_, err := svc.UserRank(ctx, "user-00000001", "medium")
		assert.ErrorIs(t, err, domain.ErrInvalidDifficulty)
	})
}

func TestLeaderboardService_PlayerCounts(t *testing.T) {
	cache := &fakeCache{best: map[string]int{"a": 1, "b": 2}}
	svc := service.NewLeaderboardService(&fakeStore{}, cache, limits(), discard())

	counts, err := svc.PlayerCounts(context.Background())
	require.NoError(t, err)
	assert.Len(t, counts, 3)
	assert.EqualValues(t, 2, counts[domain.DifficultyEasy])

	counts, err = service.NewLeaderboardService(&fakeStore{}, nil, limits(), discard()).PlayerCounts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, counts)
}
