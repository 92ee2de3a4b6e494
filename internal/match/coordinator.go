package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quicktap/arena/internal/domain"
)

// Broadcaster delivers events to live connections. Send must not block.
type Broadcaster interface {
	Send(connectionID, event string, data any)
	// Disconnect flushes queued events and then closes the connection.
	Disconnect(connectionID string)
}

// ResultPublisher receives concluded matches
type ResultPublisher interface {
	Publish(ctx context.Context, result domain.MatchResult) error
}

// Scheduler runs f once after d
type Scheduler interface {
	AfterFunc(d time.Duration, f func())
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) { time.AfterFunc(d, f) }

// Stats is a point-in-time view of the coordinator
type Stats struct {
	RegistryStats
}

// Coordinator serialises every room mutation on a single goroutine
type Coordinator struct {
	registry  Registry
	machine   *Machine
	validator *Validator
	out       Broadcaster
	publisher ResultPublisher
	scheduler Scheduler
	now       func() time.Time
	logger    *slog.Logger

	publishTimeout time.Duration

	commands chan func()
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option customises a Coordinator
type Option func(*Coordinator)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithScheduler replaces time.AfterFunc
func WithScheduler(s Scheduler) Option {
	return func(c *Coordinator) { c.scheduler = s }
}

// WithResultPublisher sets where concluded matches are sent
func WithResultPublisher(p ResultPublisher) Option {
	return func(c *Coordinator) { c.publisher = p }
}

// WithRegistry replaces the in-memory registry
func WithRegistry(r Registry) Option {
	return func(c *Coordinator) { c.registry = r }
}

// NewCoordinator creates a coordinator. Run must be started before any request is made.
func NewCoordinator(machine *Machine, validator *Validator, out Broadcaster, logger *slog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		registry:       NewMemoryRegistry(nil),
		machine:        machine,
		validator:      validator,
		out:            out,
		scheduler:      realScheduler{},
		now:            time.Now,
		logger:         logger,
		publishTimeout: 10 * time.Second,
		commands:       make(chan func()),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run processes commands until ctx is cancelled or Stop is called.
// It returns once in-flight result publications have finished.
func (c *Coordinator) Run(ctx context.Context) {
	c.logger.Info("match coordinator started")
	defer func() {
		c.wg.Wait()
		c.logger.Info("match coordinator stopped")
	}()
	for {
		select {
		case <-ctx.Done():
			c.Stop()
			return
		case <-c.done:
			return
		case cmd := <-c.commands:
			cmd()
		}
	}
}

// Stop ends the loop. Pending and future requests fail with ErrCoordinatorStopped.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.done) })
}

// do runs fn on the loop and waits for it to finish
func (c *Coordinator) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	cmd := func() {
		defer close(finished)
		fn()
	}
	select {
	case c.commands <- cmd:
	case <-c.done:
		return domain.ErrCoordinatorStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

// post queues fn without waiting. Used by timers.
func (c *Coordinator) post(fn func()) {
	select {
	case c.commands <- fn:
	case <-c.done:
	}
}

// CreateRoom opens a lobby seating the caller and returns a snapshot
func (c *Coordinator) CreateRoom(ctx context.Context, connectionID string, profile domain.UserProfile) (*domain.Room, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	var (
		snapshot *domain.Room
		err      error
	)
	if doErr := c.do(ctx, func() {
		room, createErr := c.registry.CreateRoom(domain.NewPlayer(connectionID, profile), c.machine.TotalRounds(), c.now())
		if createErr != nil {
			err = createErr
			return
		}
		snapshot = room.Snapshot()
		c.logger.Info("room created", "room_code", room.Code, "user_id", profile.UserID, "connection_id", connectionID)
	}); doErr != nil {
		return nil, doErr
	}
	return snapshot, err
}

// JoinRoom seats the caller in an existing lobby
func (c *Coordinator) JoinRoom(ctx context.Context, connectionID, code string, profile domain.UserProfile) (*domain.Room, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	var (
		snapshot *domain.Room
		err      error
	)
	if doErr := c.do(ctx, func() {
		room, joinErr := c.registry.JoinRoom(code, domain.NewPlayer(connectionID, profile))
		if joinErr != nil {
			err = joinErr
			c.logger.Debug("join rejected", "room_code", code, "connection_id", connectionID, "error", joinErr)
			return
		}
		c.apply(room, c.machine.Joined(room))
		snapshot = room.Snapshot()
		c.logger.Info("player joined", "room_code", code, "user_id", profile.UserID, "connection_id", connectionID)
	}); doErr != nil {
		return nil, doErr
	}
	return snapshot, err
}

// Ready marks the caller ready in its lobby
func (c *Coordinator) Ready(ctx context.Context, connectionID, code string) error {
	return c.do(ctx, func() {
		room, ok := c.roomOf(connectionID, code)
		if !ok {
			return
		}
		step, err := c.machine.Ready(room, connectionID, c.now())
		if err != nil {
			c.logger.Error("ready transition failed", "room_code", room.Code, "error", err)
			return
		}
		c.apply(room, step)
	})
}

// ScoreUpdate relays a live score to the opponent
func (c *Coordinator) ScoreUpdate(ctx context.Context, connectionID, code string, score int) error {
	return c.do(ctx, func() {
		room, ok := c.roomOf(connectionID, code)
		if !ok {
			return
		}
		player, ok := room.Player(connectionID)
		if !ok {
			return
		}
		c.apply(room, c.machine.LiveScore(room, player, score))
	})
}

// Finish validates and records the caller's round score
func (c *Coordinator) Finish(ctx context.Context, connectionID, code string, score int) error {
	return c.do(ctx, func() {
		room, ok := c.roomOf(connectionID, code)
		if !ok || room.Status != domain.StatusPlaying {
			return
		}
		player, ok := room.Player(connectionID)
		if !ok {
			return
		}

		now := c.now()
		decision := c.validator.Validate(room, player, score, now)
		log := c.logger.With(
			"room_code", room.Code,
			"user_id", player.UserID,
			"connection_id", connectionID,
			"score_ms", score,
			"implied_lag_ms", decision.ImpliedLag.Milliseconds(),
		)

		switch decision.Verdict {
		case Drop:
			log.Debug("submission rate limited")
			return
		case Reject:
			log.Warn("submission rejected", "reason", decision.Reason)
			c.out.Send(connectionID, domain.EventErrorMessage, decision.Reason)
			c.out.Disconnect(connectionID)
			c.depart(connectionID)
			return
		}

		player.LastActionTime = now
		if decision.Suspicious {
			log.Warn("suspicious lag")
		}
		if !room.RoundLive() || player.Finished {
			log.Debug("submission outside live round ignored")
			return
		}

		step, err := c.machine.Finish(room, player, score, now)
		if err != nil {
			log.Error("finish transition failed", "error", err)
		}
		c.apply(room, step)
	})
}

// Leave handles an explicit leave or a transport disconnect. Unknown connections are a no-op.
func (c *Coordinator) Leave(ctx context.Context, connectionID string) error {
	return c.do(ctx, func() {
		c.depart(connectionID)
	})
}

// Room returns a snapshot of a live room
func (c *Coordinator) Room(ctx context.Context, code string) (*domain.Room, error) {
	var snapshot *domain.Room
	if err := c.do(ctx, func() {
		if room, ok := c.registry.Room(code); ok {
			snapshot = room.Snapshot()
		}
	}); err != nil {
		return nil, err
	}
	if snapshot == nil {
		return nil, fmt.Errorf("room %s: %w", code, domain.ErrRoomNotFound)
	}
	return snapshot, nil
}

// Stats reports live room counts
func (c *Coordinator) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := c.do(ctx, func() {
		stats = Stats{RegistryStats: c.registry.Stats()}
	})
	return stats, err
}

// roomOf resolves the caller's room. A code naming a different room is ignored.
func (c *Coordinator) roomOf(connectionID, code string) (*domain.Room, bool) {
	room, ok := c.registry.FindRoomByConnection(connectionID)
	if !ok {
		return nil, false
	}
	if code != "" && code != room.Code {
		c.logger.Debug("room code mismatch", "connection_id", connectionID, "room_code", room.Code, "claimed_code", code)
		return nil, false
	}
	return room, true
}

func (c *Coordinator) depart(connectionID string) {
	room, player, ok := c.registry.RemovePlayer(connectionID)
	if !ok {
		return
	}
	c.logger.Info("player left",
		"room_code", room.Code,
		"user_id", player.UserID,
		"connection_id", connectionID,
		"status", room.Status.String(),
		"remaining", len(room.Players),
	)
	step, err := c.machine.Depart(room, player, c.now())
	if err != nil {
		c.logger.Error("departure transition failed", "room_code", room.Code, "error", err)
	}
	c.apply(room, step)
}

// apply delivers a step's events in order, schedules its timer and publishes its result
func (c *Coordinator) apply(room *domain.Room, step Step) {
	for _, ev := range step.Events {
		c.deliver(room, ev)
	}
	if step.StartRoundAfter > 0 {
		c.scheduleRound(room.Code, room.Version, step.StartRoundAfter)
	}
	if step.Result != nil {
		c.publish(*step.Result)
	}
}

func (c *Coordinator) deliver(room *domain.Room, ev Event) {
	switch ev.Audience {
	case ToConnection:
		c.out.Send(ev.ConnectionID, ev.Name, ev.Data)
	default:
		for _, p := range room.Players {
			if ev.Audience == ToOthers && p.ConnectionID == ev.ConnectionID {
				continue
			}
			c.out.Send(p.ConnectionID, ev.Name, ev.Data)
		}
	}
}

// scheduleRound arms the next go signal. It is skipped if the room changed meanwhile.
func (c *Coordinator) scheduleRound(code string, version uint64, delay time.Duration) {
	c.scheduler.AfterFunc(delay, func() {
		c.post(func() {
			room, ok := c.registry.Room(code)
			if !ok || room.Version != version {
				c.logger.Debug("stale round timer ignored", "room_code", code)
				return
			}
			step, err := c.machine.StartRound(room, c.now())
			if err != nil {
				c.logger.Error("round start failed", "room_code", code, "error", err)
				return
			}
			c.logger.Info("round started", "room_code", code, "round", room.CurrentRound)
			c.apply(room, step)
		})
	})
}

func (c *Coordinator) publish(result domain.MatchResult) {
	c.logger.Info("match finished",
		"room_code", result.RoomCode,
		"winner_id", result.WinnerID,
		"reason", result.Reason,
		"rounds_played", result.RoundsPlayed,
	)
	if c.publisher == nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.publishTimeout)
		defer cancel()
		if err := c.publisher.Publish(ctx, result); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error("failed to publish match result", "room_code", result.RoomCode, "error", err)
		}
	}()
}
