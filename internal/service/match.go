package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/quicktap/arena/internal/config"
	"github.com/quicktap/arena/internal/domain"
)

// MatchStore is the durable match history
type MatchStore interface {
	RecordMatches(ctx context.Context, results []domain.MatchResult) (int64, error)
	RecentMatches(ctx context.Context, userID string, limit int) ([]domain.MatchResult, error)
}

// MatchService records concluded matches and serves a user's history
type MatchService struct {
	store  MatchStore
	config *config.LeaderboardConfig
	logger *slog.Logger
}

// NewMatchService creates a match history service
func NewMatchService(store MatchStore, cfg *config.LeaderboardConfig, logger *slog.Logger) *MatchService {
	return &MatchService{
		store:  store,
		config: cfg,
		logger: logger,
	}
}

// Publish records a single result directly. Used when Kafka is disabled.
func (s *MatchService) Publish(ctx context.Context, result domain.MatchResult) error {
	return s.RecordBatch(ctx, []domain.MatchResult{result})
}

// RecordBatch stores results, skipping malformed ones. Recording is idempotent on result id.
func (s *MatchService) RecordBatch(ctx context.Context, results []domain.MatchResult) error {
	valid := make([]domain.MatchResult, 0, len(results))
	for _, r := range results {
		if !r.Valid() {
			s.logger.Warn("skipping malformed match result", "match_id", r.ID, "room_code", r.RoomCode)
			continue
		}
		valid = append(valid, r)
	}
	if len(valid) == 0 {
		return nil
	}

	inserted, err := s.store.RecordMatches(ctx, valid)
	if err != nil {
		return fmt.Errorf("recording matches: %w", err)
	}
	s.logger.Debug("match results recorded", "received", len(results), "inserted", inserted)
	return nil
}

// RecentMatches lists a user's latest matches. A zero limit selects the default.
func (s *MatchService) RecentMatches(ctx context.Context, userID string, limit int) ([]domain.MatchResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id required", domain.ErrInvalidRequest)
	}
	matches, err := s.store.RecentMatches(ctx, userID, clampLimit(s.config, limit))
	if err != nil {
		return nil, fmt.Errorf("getting recent matches: %w", err)
	}
	return matches, nil
}
