package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/quicktap/arena/internal/config"
	"github.com/quicktap/arena/internal/domain"
)

// ScoreStore is the durable leaderboard
type ScoreStore interface {
	InsertScore(ctx context.Context, sub domain.ScoreSubmission) (domain.SubmitResult, error)
	TopScores(ctx context.Context, difficulty domain.Difficulty, limit int) ([]domain.LeaderboardEntry, error)
	UserRank(ctx context.Context, difficulty domain.Difficulty, userID string) (domain.RankResult, error)
}

// RankCache answers rank queries without touching the database
type RankCache interface {
	SetBestScore(ctx context.Context, difficulty domain.Difficulty, userID string, score int) (bool, error)
	Rank(ctx context.Context, difficulty domain.Difficulty, userID string) (int64, int, error)
	Count(ctx context.Context, difficulty domain.Difficulty) (int64, error)
}

// LeaderboardService provides business logic for leaderboard operations
type LeaderboardService struct {
	store  ScoreStore
	cache  RankCache
	config *config.LeaderboardConfig
	logger *slog.Logger
}

// NewLeaderboardService creates a new leaderboard service. cache may be nil.
func NewLeaderboardService(store ScoreStore, cache RankCache, cfg *config.LeaderboardConfig, logger *slog.Logger) *LeaderboardService {
	return &LeaderboardService{
		store:  store,
		cache:  cache,
		config: cfg,
		logger: logger,
	}
}

// SubmitScore validates and stores a single-player result
func (s *LeaderboardService) SubmitScore(ctx context.Context, sub domain.ScoreSubmission) (domain.SubmitResult, error) {
	if err := sub.Validate(); err != nil {
		return domain.SubmitResult{}, err
	}

	result, err := s.store.InsertScore(ctx, sub)
	if err != nil {
		return domain.SubmitResult{}, fmt.Errorf("storing score: %w", err)
	}

	if s.cache != nil {
		// The sync worker repairs the cache if this write is lost
		if _, err := s.cache.SetBestScore(ctx, sub.Difficulty, sub.UserID, sub.Score); err != nil {
			s.logger.Warn("failed to update rank cache", "user_id", sub.UserID, "difficulty", sub.Difficulty, "error", err)
		}
	}

	s.logger.Debug("score submitted", "user_id", sub.UserID, "difficulty", sub.Difficulty, "score_ms", sub.Score)
	return result, nil
}

// TopScores returns the best score per user. A zero limit selects the default.
func (s *LeaderboardService) TopScores(ctx context.Context, difficulty string, limit int) ([]domain.LeaderboardEntry, error) {
	d, err := domain.ParseDifficulty(difficulty)
	if err != nil {
		return nil, err
	}

	entries, err := s.store.TopScores(ctx, d, clampLimit(s.config, limit))
	if err != nil {
		return nil, fmt.Errorf("getting top scores: %w", err)
	}
	return entries, nil
}

// UserRank returns a user's standing, from the cache when it knows the user
func (s *LeaderboardService) UserRank(ctx context.Context, userID, difficulty string) (domain.RankResult, error) {
	d, err := domain.ParseDifficulty(difficulty)
	if err != nil {
		return domain.RankResult{}, err
	}

	if s.cache != nil {
		rank, best, err := s.cache.Rank(ctx, d, userID)
		switch {
		case err == nil:
			return domain.NewRankResult(rank, best), nil
		case errors.Is(err, domain.ErrPlayerNotFound):
			s.logger.Debug("rank cache miss", "user_id", userID, "difficulty", d)
		default:
			s.logger.Warn("rank cache unavailable, using database", "error", err)
		}
	}

	result, err := s.store.UserRank(ctx, d, userID)
	if err != nil {
		return domain.RankResult{}, fmt.Errorf("getting user rank: %w", err)
	}
	return result, nil
}

// PlayerCounts returns how many users are ranked on each difficulty
func (s *LeaderboardService) PlayerCounts(ctx context.Context) (map[domain.Difficulty]int64, error) {
	counts := make(map[domain.Difficulty]int64, len(domain.Difficulties))
	if s.cache == nil {
		return counts, nil
	}
	for _, d := range domain.Difficulties {
		n, err := s.cache.Count(ctx, d)
		if err != nil {
			return nil, fmt.Errorf("counting %s players: %w", d, err)
		}
		counts[d] = n
	}
	return counts, nil
}

// clampLimit maps zero to the default and bounds the rest to [1, MaxLimit]
func clampLimit(cfg *config.LeaderboardConfig, limit int) int {
	switch {
	case limit == 0:
		limit = cfg.DefaultLimit
	case limit < 1:
		limit = 1
	}
	if limit > cfg.MaxLimit {
		limit = cfg.MaxLimit
	}
	return limit
}
