package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/quicktap/arena/internal/config"
	"github.com/quicktap/arena/internal/domain"
)

// Repository provides PostgreSQL-based data access
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return NewRepositoryFromPool(pool, logger), nil
}

// NewRepositoryFromPool wraps an existing pool
func NewRepositoryFromPool(pool *pgxpool.Pool, logger *slog.Logger) *Repository {
	return &Repository{
		pool:   pool,
		logger: logger,
	}
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Ping checks the connection
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// InsertScore stores one single-player result
func (r *Repository) InsertScore(ctx context.Context, sub domain.ScoreSubmission) (domain.SubmitResult, error) {
	query := `
		INSERT INTO leaderboard (id, user_id, username, avatar, score, difficulty)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id::text, created_at
	`
	var result domain.SubmitResult
	err := r.pool.QueryRow(ctx, query,
		uuid.NewString(),
		sub.UserID,
		sub.Username,
		sub.Avatar,
		sub.Score,
		string(sub.Difficulty),
	).Scan(&result.ID, &result.CreatedAt)
	if err != nil {
		return domain.SubmitResult{}, fmt.Errorf("inserting score: %w", err)
	}
	return result, nil
}

// TopScores returns each user's best score, fastest first. Ties go to the earlier submission.
func (r *Repository) TopScores(ctx context.Context, difficulty domain.Difficulty, limit int) ([]domain.LeaderboardEntry, error) {
	query := `
		SELECT id::text, user_id, username, avatar, score, created_at
		FROM (
			SELECT id, user_id, username, avatar, score, created_at,
				   ROW_NUMBER() OVER (PARTITION BY user_id ORDER BY score ASC, created_at ASC) AS rn
			FROM leaderboard
			WHERE difficulty = $1
		) ranked
		WHERE rn = 1
		ORDER BY score ASC, created_at ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, string(difficulty), limit)
	if err != nil {
		return nil, fmt.Errorf("getting top scores: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.LeaderboardEntry, 0, limit)
	for rows.Next() {
		var entry domain.LeaderboardEntry
		err := rows.Scan(&entry.ID, &entry.UserID, &entry.Username, &entry.Avatar, &entry.Score, &entry.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading top scores: %w", err)
	}
	return entries, nil
}

// UserRank returns a user's best score and rank, both nil when the user never submitted
func (r *Repository) UserRank(ctx context.Context, difficulty domain.Difficulty, userID string) (domain.RankResult, error) {
	var best *int
	err := r.pool.QueryRow(ctx,
		`SELECT MIN(score) FROM leaderboard WHERE user_id = $1 AND difficulty = $2`,
		userID, string(difficulty),
	).Scan(&best)
	if err != nil {
		return domain.RankResult{}, fmt.Errorf("getting best score: %w", err)
	}
	if best == nil {
		return domain.RankResult{}, nil
	}

	var rank int64
	err = r.pool.QueryRow(ctx, `
		SELECT COUNT(*) + 1
		FROM (
			SELECT user_id
			FROM leaderboard
			WHERE difficulty = $1
			GROUP BY user_id
			HAVING MIN(score) < $2
		) better
	`, string(difficulty), *best).Scan(&rank)
	if err != nil {
		return domain.RankResult{}, fmt.Errorf("getting rank: %w", err)
	}
	return domain.NewRankResult(rank, *best), nil
}

// BestScores returns every user's best score on a difficulty (for cache rebuilds)
func (r *Repository) BestScores(ctx context.Context, difficulty domain.Difficulty) (map[string]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, MIN(score) FROM leaderboard WHERE difficulty = $1 GROUP BY user_id`,
		string(difficulty),
	)
	if err != nil {
		return nil, fmt.Errorf("getting best scores: %w", err)
	}
	defer rows.Close()

	scores := make(map[string]int)
	for rows.Next() {
		var userID string
		var score int
		if err := rows.Scan(&userID, &score); err != nil {
			return nil, fmt.Errorf("scanning score: %w", err)
		}
		scores[userID] = score
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading best scores: %w", err)
	}
	return scores, nil
}

// RecordMatches stores concluded matches in one batch. Already recorded ids are skipped.
// It returns the number of new rows.
func (r *Repository) RecordMatches(ctx context.Context, results []domain.MatchResult) (int64, error) {
	if len(results) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO match_results (id, room_code, winner_id, reason, players, player_ids,
			round_winners, rounds_played, total_rounds, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`
	for _, m := range results {
		players, err := json.Marshal(m.Players)
		if err != nil {
			return 0, fmt.Errorf("marshaling players: %w", err)
		}
		roundWinners := m.RoundWinners
		if roundWinners == nil {
			roundWinners = []string{}
		}
		batch.Queue(query,
			m.ID,
			m.RoomCode,
			m.WinnerID,
			m.Reason,
			players,
			m.PlayerIDs(),
			roundWinners,
			m.RoundsPlayed,
			m.TotalRounds,
			m.StartedAt,
			m.FinishedAt,
		)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	var inserted int64
	for range results {
		tag, err := br.Exec()
		if err != nil {
			return inserted, fmt.Errorf("recording match results: %w", err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

// RecentMatches returns a user's latest matches, newest first
func (r *Repository) RecentMatches(ctx context.Context, userID string, limit int) ([]domain.MatchResult, error) {
	query := `
		SELECT id::text, room_code, winner_id, reason, players, round_winners,
			   rounds_played, total_rounds, started_at, finished_at
		FROM match_results
		WHERE $1 = ANY(player_ids)
		ORDER BY finished_at DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("getting recent matches: %w", err)
	}
	defer rows.Close()

	matches := make([]domain.MatchResult, 0, limit)
	for rows.Next() {
		var (
			m       domain.MatchResult
			players []byte
		)
		err := rows.Scan(&m.ID, &m.RoomCode, &m.WinnerID, &m.Reason, &players, &m.RoundWinners,
			&m.RoundsPlayed, &m.TotalRounds, &m.StartedAt, &m.FinishedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning match: %w", err)
		}
		if err := json.Unmarshal(players, &m.Players); err != nil {
			return nil, fmt.Errorf("decoding match players: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading recent matches: %w", err)
	}
	return matches, nil
}
