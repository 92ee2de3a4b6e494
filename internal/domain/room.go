package domain

import (
	"fmt"
	"time"
)

// MaxPlayers is the capacity of every room
const MaxPlayers = 2

// Status is the lifecycle phase of a room
type Status uint8

const (
	StatusLobby Status = iota
	StatusCountdown
	StatusPlaying
	StatusFinished
)

var statusNames = [...]string{
	StatusLobby:     "lobby",
	StatusCountdown: "countdown",
	StatusPlaying:   "playing",
	StatusFinished:  "finished",
}

// transitions lists every legal status change. playing -> playing is a round relaunch.
var transitions = map[Status][]Status{
	StatusLobby:     {StatusCountdown},
	StatusCountdown: {StatusPlaying, StatusFinished},
	StatusPlaying:   {StatusPlaying, StatusFinished},
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", s)
}

// MarshalText encodes the status as its lowercase name
func (s Status) MarshalText() ([]byte, error) {
	if int(s) >= len(statusNames) {
		return nil, fmt.Errorf("unknown status %d", s)
	}
	return []byte(statusNames[s]), nil
}

// UnmarshalText decodes a lowercase status name
func (s *Status) UnmarshalText(text []byte) error {
	for i, name := range statusNames {
		if name == string(text) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", text)
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// InMatch reports whether a departure in this status concludes the match
func (s Status) InMatch() bool {
	return s == StatusCountdown || s == StatusPlaying
}

// Room is a two-player best-of-N session addressed by a six digit code
type Room struct {
	Code         string     `json:"code"`
	Players      []*Player  `json:"players"`
	Status       Status     `json:"status"`
	CreatedAt    time.Time  `json:"createdAt"`
	StartTime    *time.Time `json:"startTime,omitempty"`
	CurrentRound int        `json:"currentRound"`
	TotalRounds  int        `json:"totalRounds"`
	RoundWinners []string   `json:"roundWinners"`

	// MatchStartedAt is set when the countdown begins
	MatchStartedAt time.Time `json:"-"`
	// Version increments on every lifecycle or membership change
	Version uint64 `json:"-"`
}

// NewRoom creates a lobby room holding its creator
func NewRoom(code string, creator *Player, totalRounds int, now time.Time) *Room {
	return &Room{
		Code:         code,
		Players:      []*Player{creator},
		Status:       StatusLobby,
		CreatedAt:    now,
		CurrentRound: 1,
		TotalRounds:  totalRounds,
		RoundWinners: []string{},
	}
}

// Transition moves the room to next and bumps its version
func (r *Room) Transition(next Status) error {
	if !r.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, r.Status, next)
	}
	r.Status = next
	r.Touch()
	return nil
}

// Touch marks a mutation that invalidates pending timers
func (r *Room) Touch() {
	r.Version++
}

// Player returns the player on the given connection
func (r *Room) Player(connectionID string) (*Player, bool) {
	for _, p := range r.Players {
		if p.ConnectionID == connectionID {
			return p, true
		}
	}
	return nil, false
}

// HasUser reports whether userID is already seated in the room
func (r *Room) HasUser(userID string) bool {
	for _, p := range r.Players {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// IsFull reports whether the room has no free seat
func (r *Room) IsFull() bool {
	return len(r.Players) >= MaxPlayers
}

// AllReady reports whether the room is full and every player is ready
func (r *Room) AllReady() bool {
	if !r.IsFull() {
		return false
	}
	for _, p := range r.Players {
		if !p.IsReady {
			return false
		}
	}
	return true
}

// AllFinished reports whether every present player has reported this round
func (r *Room) AllFinished() bool {
	if len(r.Players) == 0 {
		return false
	}
	for _, p := range r.Players {
		if !p.Finished {
			return false
		}
	}
	return true
}

// RoundLive reports whether a round's go signal has been sent and not yet resolved
func (r *Room) RoundLive() bool {
	return r.Status == StatusPlaying && r.StartTime != nil
}

// WinsNeeded is the number of round wins that settles the match
func (r *Room) WinsNeeded() int {
	return (r.TotalRounds + 1) / 2
}

// Wins counts the rounds userID has won
func (r *Room) Wins(userID string) int {
	n := 0
	for _, id := range r.RoundWinners {
		if id == userID {
			n++
		}
	}
	return n
}

// Snapshot returns a deep copy safe to hand to other goroutines
func (r *Room) Snapshot() *Room {
	cp := *r
	cp.Players = make([]*Player, len(r.Players))
	for i, p := range r.Players {
		pc := *p
		cp.Players[i] = &pc
	}
	cp.RoundWinners = append([]string{}, r.RoundWinners...)
	if r.StartTime != nil {
		t := *r.StartTime
		cp.StartTime = &t
	}
	return &cp
}
