package domain

import (
	"fmt"
	"time"
)

// Difficulty selects one of the single-player leaderboards
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyNormal Difficulty = "normal"
	DifficultyHard   Difficulty = "hard"
)

// Difficulties lists every leaderboard in display order
var Difficulties = []Difficulty{DifficultyEasy, DifficultyNormal, DifficultyHard}

// Score bounds accepted by the leaderboard
const (
	MinLeaderboardScore = 100
	MaxLeaderboardScore = 10000
)

// ParseDifficulty validates a difficulty name
func ParseDifficulty(s string) (Difficulty, error) {
	for _, d := range Difficulties {
		if string(d) == s {
			return d, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDifficulty, s)
}

// ScoreSubmission represents a request to submit a score
type ScoreSubmission struct {
	UserID     string     `json:"user_id"`
	Username   string     `json:"username"`
	Avatar     string     `json:"avatar"`
	Score      int        `json:"score"`
	Difficulty Difficulty `json:"difficulty"`
}

// Validate checks every field of a submission
func (s ScoreSubmission) Validate() error {
	if _, err := ParseDifficulty(string(s.Difficulty)); err != nil {
		return err
	}
	if s.Score < MinLeaderboardScore || s.Score > MaxLeaderboardScore {
		return fmt.Errorf("%w: score must be between %d and %d", ErrInvalidScore, MinLeaderboardScore, MaxLeaderboardScore)
	}
	if err := validateIdentity(s.UserID, s.Username, s.Avatar); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

// SubmitResult is returned after a score is stored
type SubmitResult struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// LeaderboardEntry is a user's best score on one difficulty
type LeaderboardEntry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Avatar    string    `json:"avatar"`
	Score     int       `json:"score"`
	CreatedAt time.Time `json:"created_at"`
}

// RankResult is a user's standing; both fields are nil when the user has no score
type RankResult struct {
	Rank      *int64 `json:"rank"`
	BestScore *int   `json:"best_score"`
}

// NewRankResult builds a populated rank result
func NewRankResult(rank int64, best int) RankResult {
	return RankResult{Rank: &rank, BestScore: &best}
}
