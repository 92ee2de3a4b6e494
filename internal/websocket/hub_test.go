package websocket_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/quicktap/arena/internal/domain"
	ws "github.com/quicktap/arena/internal/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	name  string
	conn  string
	code  string
	score int
}

type fakeDispatcher struct {
	mu      sync.Mutex
	calls   []call
	joinErr error
	left    chan string
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{left: make(chan string, 8)}
}

func (d *fakeDispatcher) record(c call) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, c)
}

func (d *fakeDispatcher) recorded(name string) []call {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []call
	for _, c := range d.calls {
		if c.name == name {
			out = append(out, c)
		}
	}
	return out
}

func (d *fakeDispatcher) CreateRoom(_ context.Context, conn string, profile domain.UserProfile) (*domain.Room, error) {
	d.record(call{name: "create", conn: conn})
	p := domain.NewPlayer(conn, profile)
	return domain.NewRoom("123456", p, 3, time.Now()), nil
}

func (d *fakeDispatcher) JoinRoom(_ context.Context, conn, code string, _ domain.UserProfile) (*domain.Room, error) {
	d.record(call{name: "join", conn: conn, code: code})
	return nil, d.joinErr
}

func (d *fakeDispatcher) Ready(_ context.Context, conn, code string) error {
	d.record(call{name: "ready", conn: conn, code: code})
	return nil
}

func (d *fakeDispatcher) ScoreUpdate(_ context.Context, conn, code string, score int) error {
	d.record(call{name: "score", conn: conn, code: code, score: score})
	return nil
}

func (d *fakeDispatcher) Finish(_ context.Context, conn, code string, score int) error {
	d.record(call{name: "finish", conn: conn, code: code, score: score})
	return nil
}

func (d *fakeDispatcher) Leave(_ context.Context, conn string) error {
	d.record(call{name: "leave", conn: conn})
	d.left <- conn
	return nil
}

type frame struct {
	Event string          `json:"event"`
	Ack   *int64          `json:"ack"`
	Data  json.RawMessage `json:"data"`
}

// peer reads frames, splitting coalesced messages
type peer struct {
	t       *testing.T
	conn    *gws.Conn
	pending []frame
}

func (p *peer) send(v string) {
	p.t.Helper()
	require.NoError(p.t, p.conn.WriteMessage(gws.TextMessage, []byte(v)))
}

func (p *peer) next() frame {
	p.t.Helper()
	for len(p.pending) == 0 {
		require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := p.conn.ReadMessage()
		require.NoError(p.t, err)
		for _, line := range bytes.Split(data, []byte{'\n'}) {
			var f frame
			require.NoError(p.t, json.Unmarshal(line, &f))
			p.pending = append(p.pending, f)
		}
	}
	f := p.pending[0]
	p.pending = p.pending[1:]
	return f
}

type ackData struct {
	Success bool         `json:"success"`
	Code    string       `json:"code"`
	Room    *domain.Room `json:"room"`
	Error   string       `json:"error"`
}

func (p *peer) ack(id int64) ackData {
	p.t.Helper()
	f := p.next()
	require.Equal(p.t, domain.EventAck, f.Event)
	require.NotNil(p.t, f.Ack)
	require.Equal(p.t, id, *f.Ack)
	var a ackData
	require.NoError(p.t, json.Unmarshal(f.Data, &a))
	return a
}

func newServer(t *testing.T, d ws.Dispatcher) (*ws.Hub, *httptest.Server) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := ws.NewHub(logger)
	go hub.Run()
	t.Cleanup(hub.Stop)

	srv := httptest.NewServer(ws.NewHandler(hub, d, ws.Options{SendBuffer: 16, AckTimeout: time.Second}, logger))
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server) *peer {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := gws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &peer{t: t, conn: conn}
}

const createFrame = `{"event":"create_room","ack":1,"data":{"userId":"user-00000001","username":"player_1","avatar":"robot"}}`

func TestHandler_CreateRoomAck(t *testing.T) {
	d := newFakeDispatcher()
	_, srv := newServer(t, d)
	p := dial(t, srv)

	p.send(createFrame)
	a := p.ack(1)
	assert.True(t, a.Success)
	assert.Equal(t, "123456", a.Code)
	require.NotNil(t, a.Room)
	assert.Equal(t, domain.StatusLobby, a.Room.Status)
	require.Len(t, a.Room.Players, 1)
	assert.Equal(t, "player_1", a.Room.Players[0].Username)

	calls := d.recorded("create")
	require.Len(t, calls, 1)
	assert.NotEmpty(t, calls[0].conn)
}

func TestHandler_JoinFailureAck(t *testing.T) {
	d := newFakeDispatcher()
	d.joinErr = fmt.Errorf("joining 123456: %w", domain.ErrRoomFull)
	_, srv := newServer(t, d)
	p := dial(t, srv)

	p.send(`{"event":"join_room","ack":7,"data":{"code":"123456","userProfile":{"userId":"user-00000002","username":"player_2","avatar":"cat"}}}`)
	a := p.ack(7)
	assert.False(t, a.Success)
	assert.Equal(t, "Room is full", a.Error)
	assert.Nil(t, a.Room)

	calls := d.recorded("join")
	require.Len(t, calls, 1)
	assert.Equal(t, "123456", calls[0].code)
}

func TestHandler_RequestDecoding(t *testing.T) {
	tests := []struct {
		name      string
		frame     string
		call      string
		wantCode  string
		wantScore int
	}{
		{name: "ready with bare code", frame: `{"event":"player_ready","ack":1,"data":"123456"}`, call: "ready", wantCode: "123456"},
		{name: "ready with object", frame: `{"event":"player_ready","ack":1,"data":{"code":"654321"}}`, call: "ready", wantCode: "654321"},
		{name: "finish truncates", frame: `{"event":"player_finished","ack":1,"data":{"code":"123456","score":250.6}}`, call: "finish", wantCode: "123456", wantScore: 250},
		{name: "fraction below minimum stays below", frame: `{"event":"player_finished","ack":1,"data":{"code":"123456","score":99.5}}`, call: "finish", wantCode: "123456", wantScore: 99},
		{name: "live score truncates", frame: `{"event":"score_update","ack":1,"data":{"code":"123456","score":99.4}}`, call: "score", wantCode: "123456", wantScore: 99},
		{name: "integer score", frame: `{"event":"player_finished","ack":1,"data":{"code":"123456","score":300}}`, call: "finish", wantCode: "123456", wantScore: 300},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newFakeDispatcher()
			_, srv := newServer(t, d)
			p := dial(t, srv)

			p.send(tt.frame)
			assert.True(t, p.ack(1).Success)

			calls := d.recorded(tt.call)
			require.Len(t, calls, 1)
			assert.Equal(t, tt.wantCode, calls[0].code)
			assert.Equal(t, tt.wantScore, calls[0].score)
		})
	}
}

func TestHandler_InvalidRequests(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{name: "unknown event", frame: `{"event":"teleport","ack":1}`},
		{name: "missing payload", frame: `{"event":"create_room","ack":1}`},
		{name: "score of wrong type", frame: `{"event":"player_finished","ack":1,"data":{"code":"123456","score":"fast"}}`},
		{name: "score out of range", frame: `{"event":"player_finished","ack":1,"data":{"code":"123456","score":1e12}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newFakeDispatcher()
			_, srv := newServer(t, d)
			p := dial(t, srv)

			p.send(tt.frame)
			a := p.ack(1)
			assert.False(t, a.Success)
			assert.Equal(t, "Invalid request", a.Error)
			assert.Empty(t, d.recorded("finish"))
		})
	}
}

func TestHandler_PingAfterMalformedFrame(t *testing.T) {
	_, srv := newServer(t, newFakeDispatcher())
	p := dial(t, srv)

	p.send(`not json`)
	p.send(`{"event":"ping"}`)
	assert.Equal(t, domain.EventPong, p.next().Event)
}

func TestHub_SendThenDisconnect(t *testing.T) {
	d := newFakeDispatcher()
	hub, srv := newServer(t, d)
	p := dial(t, srv)

	p.send(createFrame)
	p.ack(1)
	conn := d.recorded("create")[0].conn
	assert.Equal(t, 1, hub.ConnectionCount())

	hub.Send(conn, domain.EventErrorMessage, "CHEAT DETECTED: Impossible reaction time")
	hub.Disconnect(conn)
	hub.Send(conn, domain.EventUpdateRoom, nil)

	f := p.next()
	assert.Equal(t, domain.EventErrorMessage, f.Event)
	assert.JSONEq(t, `"CHEAT DETECTED: Impossible reaction time"`, string(f.Data))

	require.NoError(t, p.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := p.conn.ReadMessage()
	assert.True(t, gws.IsCloseError(err, gws.CloseNormalClosure), "got %v", err)

	select {
	case left := <-d.left:
		assert.Equal(t, conn, left)
	case <-time.After(2 * time.Second):
		t.Fatal("departure was not dispatched")
	}
	assert.Eventually(t, func() bool { return hub.ConnectionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_ClientCloseDispatchesLeave(t *testing.T) {
	d := newFakeDispatcher()
	hub, srv := newServer(t, d)
	p := dial(t, srv)

	p.send(createFrame)
	p.ack(1)
	conn := d.recorded("create")[0].conn

	require.NoError(t, p.conn.Close())

	select {
	case left := <-d.left:
		assert.Equal(t, conn, left)
	case <-time.After(2 * time.Second):
		t.Fatal("departure was not dispatched")
	}
	assert.Eventually(t, func() bool { return hub.ConnectionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_SendToUnknownConnection(t *testing.T) {
	hub := ws.NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.NotPanics(t, func() {
		hub.Send("nobody", domain.EventUpdateRoom, nil)
		hub.Disconnect("nobody")
	})
	assert.Zero(t, hub.ConnectionCount())
}
