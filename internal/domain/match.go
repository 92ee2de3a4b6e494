package domain

import "time"

// MatchPlayer is one participant's line in a match result
type MatchPlayer struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
	Wins     int    `json:"wins"`
}

// MatchResult is the durable record of a concluded match
type MatchResult struct {
	ID           string        `json:"id"`
	RoomCode     string        `json:"room_code"`
	WinnerID     string        `json:"winner_id"`
	Reason       string        `json:"reason,omitempty"`
	Players      []MatchPlayer `json:"players"`
	RoundWinners []string      `json:"round_winners"`
	RoundsPlayed int           `json:"rounds_played"`
	TotalRounds  int           `json:"total_rounds"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   time.Time     `json:"finished_at"`
}

// Valid reports whether the result carries enough to be recorded
func (m MatchResult) Valid() bool {
	return m.ID != "" && m.RoomCode != "" && m.WinnerID != "" && len(m.Players) > 0
}

// PlayerIDs returns the user ids of every participant
func (m MatchResult) PlayerIDs() []string {
	ids := make([]string, len(m.Players))
	for i, p := range m.Players {
		ids[i] = p.UserID
	}
	return ids
}
