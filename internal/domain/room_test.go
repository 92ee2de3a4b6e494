package domain_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/quicktap/arena/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRoom(t *testing.T) *domain.Room {
	t.Helper()
	p1 := domain.NewPlayer("conn-1", domain.UserProfile{UserID: "user-0001", Username: "alice", Avatar: "cat"})
	return domain.NewRoom("123456", p1, 3, time.Unix(1700000000, 0))
}

func TestStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to domain.Status
		want     bool
	}{
		{domain.StatusLobby, domain.StatusCountdown, true},
		{domain.StatusLobby, domain.StatusPlaying, false},
		{domain.StatusLobby, domain.StatusFinished, false},
		{domain.StatusCountdown, domain.StatusPlaying, true},
		{domain.StatusCountdown, domain.StatusFinished, true},
		{domain.StatusCountdown, domain.StatusLobby, false},
		{domain.StatusPlaying, domain.StatusPlaying, true},
		{domain.StatusPlaying, domain.StatusFinished, true},
		{domain.StatusPlaying, domain.StatusLobby, false},
		{domain.StatusFinished, domain.StatusLobby, false},
		{domain.StatusFinished, domain.StatusPlaying, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestRoom_TransitionBumpsVersion(t *testing.T) {
	room := newTestRoom(t)
	before := room.Version

	require.NoError(t, room.Transition(domain.StatusCountdown))
	assert.Equal(t, domain.StatusCountdown, room.Status)
	assert.Equal(t, before+1, room.Version)

	err := room.Transition(domain.StatusLobby)
	require.ErrorIs(t, err, domain.ErrIllegalTransition)
	assert.Equal(t, domain.StatusCountdown, room.Status)
	assert.Equal(t, before+1, room.Version)
}

func TestStatus_JSON(t *testing.T) {
	data, err := json.Marshal(domain.StatusCountdown)
	require.NoError(t, err)
	assert.JSONEq(t, `"countdown"`, string(data))

	var s domain.Status
	require.NoError(t, json.Unmarshal([]byte(`"finished"`), &s))
	assert.Equal(t, domain.StatusFinished, s)

	assert.Error(t, json.Unmarshal([]byte(`"paused"`), &s))
}

func TestRoom_WinsNeeded(t *testing.T) {
	room := newTestRoom(t)
	for rounds, want := range map[int]int{1: 1, 2: 1, 3: 2, 4: 2, 5: 3} {
		room.TotalRounds = rounds
		assert.Equal(t, want, room.WinsNeeded(), "total rounds %d", rounds)
	}
}

func TestRoom_ReadinessAndFinish(t *testing.T) {
	room := newTestRoom(t)
	room.Players[0].IsReady = true
	assert.False(t, room.AllReady(), "a single ready player is not a full room")

	p2 := domain.NewPlayer("conn-2", domain.UserProfile{UserID: "user-0002", Username: "bob", Avatar: "fox"})
	room.Players = append(room.Players, p2)
	assert.True(t, room.IsFull())
	assert.False(t, room.AllReady())

	p2.IsReady = true
	assert.True(t, room.AllReady())

	assert.False(t, room.AllFinished())
	room.Players[0].Finished = true
	p2.Finished = true
	assert.True(t, room.AllFinished())
}

func TestRoom_Wins(t *testing.T) {
	room := newTestRoom(t)
	room.RoundWinners = []string{"a", "b", "a"}
	assert.Equal(t, 2, room.Wins("a"))
	assert.Equal(t, 1, room.Wins("b"))
	assert.Equal(t, 0, room.Wins("c"))
}

func TestRoom_SnapshotIsDeep(t *testing.T) {
	room := newTestRoom(t)
	start := time.Unix(1700000010, 0)
	room.StartTime = &start
	room.RoundWinners = append(room.RoundWinners, "user-0001")

	snap := room.Snapshot()
	snap.Players[0].Score = 999
	snap.RoundWinners[0] = "someone-else"
	*snap.StartTime = time.Time{}

	assert.Equal(t, 0, room.Players[0].Score)
	assert.Equal(t, "user-0001", room.RoundWinners[0])
	assert.Equal(t, start, *room.StartTime)
}

func TestRoom_JSONShape(t *testing.T) {
	room := newTestRoom(t)
	data, err := json.Marshal(room)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "123456", decoded["code"])
	assert.Equal(t, "lobby", decoded["status"])
	assert.EqualValues(t, 1, decoded["currentRound"])
	assert.EqualValues(t, 3, decoded["totalRounds"])
	assert.NotContains(t, decoded, "startTime")
	assert.NotContains(t, decoded, "Version")

	players := decoded["players"].([]any)
	require.Len(t, players, 1)
	player := players[0].(map[string]any)
	assert.Equal(t, "user-0001", player["userId"])
	assert.Equal(t, false, player["isReady"])
}
