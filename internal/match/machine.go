package match

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/quicktap/arena/internal/domain"
)

// Audience selects which players of a room receive an event
type Audience uint8

const (
	// ToRoom reaches every player currently seated.
	ToRoom Audience = iota
	// ToOthers reaches every player except ConnectionID.
	ToOthers
	// ToConnection reaches ConnectionID only.
	ToConnection
)

// Event is a server message produced by a transition
type Event struct {
	Name         string
	Data         any
	Audience     Audience
	ConnectionID string
}

// Step is everything a transition asks the coordinator to do
type Step struct {
	Events []Event
	// StartRoundAfter schedules the next go signal when non-zero
	StartRoundAfter time.Duration
	// Result is set when the match concluded
	Result *domain.MatchResult
}

func (s *Step) emit(name string, data any) {
	s.Events = append(s.Events, Event{Name: name, Data: data, Audience: ToRoom})
}

func (s *Step) emitOthers(except, name string, data any) {
	s.Events = append(s.Events, Event{Name: name, Data: data, Audience: ToOthers, ConnectionID: except})
}

// MachineRules are the match structure parameters
type MachineRules struct {
	TotalRounds    int
	CountdownDelay time.Duration
	RelaunchDelay  time.Duration
}

// DefaultMachineRules returns a best-of-three with three second pauses
func DefaultMachineRules() MachineRules {
	return MachineRules{
		TotalRounds:    3,
		CountdownDelay: 3 * time.Second,
		RelaunchDelay:  3 * time.Second,
	}
}

// Machine holds the room lifecycle transitions. Every method runs on the coordinator loop.
type Machine struct {
	rules MachineRules
	newID func() string
}

// NewMachine creates a state machine
func NewMachine(rules MachineRules) *Machine {
	return &Machine{rules: rules, newID: uuid.NewString}
}

// TotalRounds is the round count given to new rooms
func (m *Machine) TotalRounds() int {
	return m.rules.TotalRounds
}

// Joined announces a new seat to the whole room
func (m *Machine) Joined(room *domain.Room) Step {
	var step Step
	step.emit(domain.EventUpdateRoom, room.Snapshot())
	return step
}

// Ready marks a lobby player ready and starts the countdown once the room is unanimous
func (m *Machine) Ready(room *domain.Room, connectionID string, now time.Time) (Step, error) {
	var step Step
	if room.Status != domain.StatusLobby {
		return step, nil
	}
	player, ok := room.Player(connectionID)
	if !ok {
		return step, domain.ErrNotInRoom
	}
	if player.IsReady {
		return step, nil
	}

	player.IsReady = true
	room.Touch()
	step.emit(domain.EventUpdateRoom, room.Snapshot())

	if !room.AllReady() {
		return step, nil
	}
	if err := room.Transition(domain.StatusCountdown); err != nil {
		return step, err
	}
	room.MatchStartedAt = now
	step.emit(domain.EventGameCountdownStart, nil)
	step.StartRoundAfter = m.rules.CountdownDelay
	return step, nil
}

// StartRound sends the go signal for the current round
func (m *Machine) StartRound(room *domain.Room, now time.Time) (Step, error) {
	var step Step
	if room.Status == domain.StatusPlaying && room.StartTime != nil {
		return step, fmt.Errorf("%w: round %d already live", domain.ErrIllegalTransition, room.CurrentRound)
	}
	if err := room.Transition(domain.StatusPlaying); err != nil {
		return step, err
	}
	start := now
	room.StartTime = &start
	for _, p := range room.Players {
		p.ResetRound()
	}
	step.emit(domain.EventGameStart, domain.GameStart{Round: room.CurrentRound, TotalRounds: room.TotalRounds})
	return step, nil
}

// LiveScore relays an in-progress score to the opponent. It never touches the
// recorded score, which only Finish sets after validation.
func (m *Machine) LiveScore(room *domain.Room, player *domain.Player, score int) Step {
	var step Step
	if !room.RoundLive() || player.Finished {
		return step
	}
	step.emitOthers(player.ConnectionID, domain.EventOpponentScore, domain.ScoreNotice{UserID: player.UserID, Score: score})
	return step
}

// Finish records an accepted round score and resolves the round once everyone reported
func (m *Machine) Finish(room *domain.Room, player *domain.Player, score int, now time.Time) (Step, error) {
	var step Step
	player.Score = score
	player.Finished = true

	notice := domain.ScoreNotice{UserID: player.UserID, Score: score}
	step.emit(domain.EventPlayerFinishedEvent, notice)
	step.emitOthers(player.ConnectionID, domain.EventOpponentScore, notice)

	if !room.AllFinished() {
		return step, nil
	}
	err := m.resolveRound(room, now, &step)
	return step, err
}

// resolveRound awards the round to the lowest score. Equal scores go to the earlier joiner.
func (m *Machine) resolveRound(room *domain.Room, now time.Time, step *Step) error {
	ranked := append([]*domain.Player(nil), room.Players...)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score < ranked[j].Score })
	winner := ranked[0]

	room.RoundWinners = append(room.RoundWinners, winner.UserID)
	room.StartTime = nil
	room.Touch()

	for _, p := range room.Players {
		if room.Wins(p.UserID) >= room.WinsNeeded() {
			return m.finishMatch(room, domain.GameOver{
				WinnerID:     p.UserID,
				CurrentRound: room.CurrentRound,
				TotalRounds:  room.TotalRounds,
			}, nil, now, step)
		}
	}

	scores := make([]domain.ScoreNotice, len(room.Players))
	for i, p := range room.Players {
		scores[i] = domain.ScoreNotice{UserID: p.UserID, Score: p.Score}
	}
	step.emit(domain.EventRoundOver, domain.RoundOver{
		RoundNumber:   room.CurrentRound,
		RoundWinnerID: winner.UserID,
		RoundWinners:  append([]string{}, room.RoundWinners...),
		Scores:        scores,
	})

	room.CurrentRound++
	for _, p := range room.Players {
		p.ResetRound()
	}
	step.StartRoundAfter = m.rules.RelaunchDelay
	return nil
}

// Depart resolves a departure after the registry removed the player.
// The room still carries the status it had when the player left.
func (m *Machine) Depart(room *domain.Room, departed *domain.Player, now time.Time) (Step, error) {
	var step Step
	if len(room.Players) == 0 {
		return step, nil
	}

	step.emit(domain.EventPlayerLeft, domain.PlayerLeft{UserID: departed.UserID})

	switch {
	case room.Status.InMatch():
		err := m.finishMatch(room, domain.GameOver{
			WinnerID: room.Players[0].UserID,
			Reason:   domain.ReasonOpponentDisconnected,
		}, departed, now, &step)
		return step, err
	case room.Status == domain.StatusLobby:
		for _, p := range room.Players {
			p.IsReady = false
		}
		room.Touch()
		step.emit(domain.EventUpdateRoom, room.Snapshot())
	}
	return step, nil
}

// finishMatch moves the room to finished, emits game_over and attaches the result
func (m *Machine) finishMatch(room *domain.Room, over domain.GameOver, departed *domain.Player, now time.Time, step *Step) error {
	if err := room.Transition(domain.StatusFinished); err != nil {
		return err
	}
	room.StartTime = nil

	over.Result = room.Snapshot().Players
	over.RoundWinners = append([]string{}, room.RoundWinners...)
	step.emit(domain.EventGameOver, over)
	step.Result = m.buildResult(room, over.WinnerID, over.Reason, departed, now)
	return nil
}

func (m *Machine) buildResult(room *domain.Room, winnerID, reason string, departed *domain.Player, now time.Time) *domain.MatchResult {
	players := make([]domain.MatchPlayer, 0, domain.MaxPlayers)
	add := func(p *domain.Player) {
		players = append(players, domain.MatchPlayer{
			UserID:   p.UserID,
			Username: p.Username,
			Avatar:   p.Avatar,
			Wins:     room.Wins(p.UserID),
		})
	}
	for _, p := range room.Players {
		add(p)
	}
	if departed != nil {
		add(departed)
	}

	started := room.MatchStartedAt
	if started.IsZero() {
		started = room.CreatedAt
	}
	return &domain.MatchResult{
		ID:           m.newID(),
		RoomCode:     room.Code,
		WinnerID:     winnerID,
		Reason:       reason,
		Players:      players,
		RoundWinners: append([]string{}, room.RoundWinners...),
		RoundsPlayed: len(room.RoundWinners),
		TotalRounds:  room.TotalRounds,
		StartedAt:    started,
		FinishedAt:   now,
	}
}
