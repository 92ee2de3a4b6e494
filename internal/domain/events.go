package domain

// Client to server events
const (
	EventCreateRoom     = "create_room"
	EventJoinRoom       = "join_room"
	EventPlayerReady    = "player_ready"
	EventScoreUpdate    = "score_update"
	EventPlayerFinished = "player_finished"
	EventLeaveRoom      = "leave_room"
	EventPing           = "ping"
)

// Server to client events
const (
	EventUpdateRoom          = "update_room"
	EventGameCountdownStart  = "game_countdown_start"
	EventGameStart           = "game_start"
	EventOpponentScore       = "opponent_score"
	EventPlayerFinishedEvent = "player_finished_event"
	EventRoundOver           = "round_over"
	EventGameOver            = "game_over"
	EventPlayerLeft          = "player_left"
	EventErrorMessage        = "error_message"
	EventAck                 = "ack"
	EventPong                = "pong"
)

// ReasonOpponentDisconnected marks a match won because the other player left
const ReasonOpponentDisconnected = "opponent_disconnected"

// ScoreNotice carries a single player's reaction time
type ScoreNotice struct {
	UserID string `json:"userId"`
	Score  int    `json:"score"`
}

// GameStart announces the go signal of a round
type GameStart struct {
	Round       int `json:"round"`
	TotalRounds int `json:"totalRounds"`
}

// RoundOver reports a resolved round when the match continues
type RoundOver struct {
	RoundNumber   int           `json:"roundNumber"`
	RoundWinnerID string        `json:"roundWinnerId"`
	RoundWinners  []string      `json:"roundWinners"`
	Scores        []ScoreNotice `json:"scores"`
}

// GameOver reports the end of a match
type GameOver struct {
	Result       []*Player `json:"result"`
	WinnerID     string    `json:"winnerId"`
	RoundWinners []string  `json:"roundWinners"`
	CurrentRound int       `json:"currentRound,omitempty"`
	TotalRounds  int       `json:"totalRounds,omitempty"`
	Reason       string    `json:"reason,omitempty"`
}

// PlayerLeft notifies the remaining player of a departure
type PlayerLeft struct {
	UserID string `json:"userId"`
}
