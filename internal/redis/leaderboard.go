package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/quicktap/arena/internal/config"
	"github.com/quicktap/arena/internal/domain"
	"github.com/redis/go-redis/v9"
)

// RankCache keeps each user's best reaction time per difficulty in a sorted set.
// Lower scores are better, so rank is one plus the number of strictly lower scores.
type RankCache struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRankCache connects to Redis
func NewRankCache(cfg *config.RedisConfig, logger *slog.Logger) (*RankCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewRankCacheFromClient(client, logger), nil
}

// NewRankCacheFromClient wraps an existing client
func NewRankCacheFromClient(client *redis.Client, logger *slog.Logger) *RankCache {
	return &RankCache{
		client: client,
		logger: logger,
	}
}

// Close closes the Redis connection
func (c *RankCache) Close() error {
	return c.client.Close()
}

// Ping checks the connection
func (c *RankCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// bestKey returns the sorted set holding best scores for a difficulty
func bestKey(difficulty domain.Difficulty) string {
	return fmt.Sprintf("leaderboard:%s:best", difficulty)
}

// SetBestScore stores score unless the user already has a lower one.
// It reports whether the stored best changed.
func (c *RankCache) SetBestScore(ctx context.Context, difficulty domain.Difficulty, userID string, score int) (bool, error) {
	changed, err := c.client.ZAddArgs(ctx, bestKey(difficulty), redis.ZAddArgs{
		LT:      true,
		Ch:      true,
		Members: []redis.Z{{Score: float64(score), Member: userID}},
	}).Result()
	if err != nil {
		return false, fmt.Errorf("setting best score: %w", err)
	}
	return changed > 0, nil
}

// Rank returns a user's rank and best score. It returns domain.ErrPlayerNotFound
// when the user has no cached score.
func (c *RankCache) Rank(ctx context.Context, difficulty domain.Difficulty, userID string) (int64, int, error) {
	key := bestKey(difficulty)
	best, err := c.client.ZScore(ctx, key, userID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, 0, domain.ErrPlayerNotFound
		}
		return 0, 0, fmt.Errorf("getting best score: %w", err)
	}

	better, err := c.client.ZCount(ctx, key, "-inf", "("+strconv.FormatFloat(best, 'f', -1, 64)).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("counting better scores: %w", err)
	}
	return better + 1, int(best), nil
}

// Count returns the number of users on a difficulty's board
func (c *RankCache) Count(ctx context.Context, difficulty domain.Difficulty) (int64, error) {
	count, err := c.client.ZCard(ctx, bestKey(difficulty)).Result()
	if err != nil {
		return 0, fmt.Errorf("getting count: %w", err)
	}
	return count, nil
}

// ReplaceScores atomically swaps a difficulty's set for the given best scores
func (c *RankCache) ReplaceScores(ctx context.Context, difficulty domain.Difficulty, best map[string]int) error {
	key := bestKey(difficulty)
	members := make([]redis.Z, 0, len(best))
	for userID, score := range best {
		members = append(members, redis.Z{Score: float64(score), Member: userID})
	}

	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(members) > 0 {
			pipe.ZAdd(ctx, key, members...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replacing scores: %w", err)
	}
	c.logger.Debug("rank cache rebuilt", "difficulty", difficulty, "users", len(members))
	return nil
}
