package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/quicktap/arena/internal/domain"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period
	pingPeriod = (pongWait * 9) / 10

	// Scores beyond this are not reaction times
	maxWireScore = math.MaxInt32
)

var (
	errBufferFull   = errors.New("send buffer full")
	errClientClosed = errors.New("client closed")
)

// Dispatcher receives decoded client requests. The match coordinator implements it.
type Dispatcher interface {
	CreateRoom(ctx context.Context, connectionID string, profile domain.UserProfile) (*domain.Room, error)
	JoinRoom(ctx context.Context, connectionID, code string, profile domain.UserProfile) (*domain.Room, error)
	Ready(ctx context.Context, connectionID, code string) error
	ScoreUpdate(ctx context.Context, connectionID, code string, score int) error
	Finish(ctx context.Context, connectionID, code string, score int) error
	Leave(ctx context.Context, connectionID string) error
}

// Options holds per-connection limits
type Options struct {
	SendBuffer     int
	MaxMessageSize int64
	AckTimeout     time.Duration
	// AllowedOrigin is matched against the Origin header, "*" allows any
	AllowedOrigin string
}

// Client represents a WebSocket client connection
type Client struct {
	id         string
	hub        *Hub
	dispatcher Dispatcher
	conn       *websocket.Conn
	send       chan []byte
	opts       Options
	logger     *slog.Logger

	mu     sync.Mutex
	closed bool
}

// inbound is a frame sent by the client
type inbound struct {
	Event string          `json:"event"`
	Ack   *int64          `json:"ack,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type joinRequest struct {
	Code        string             `json:"code"`
	UserProfile domain.UserProfile `json:"userProfile"`
}

type scoreRequest struct {
	Code  string  `json:"code"`
	Score float64 `json:"score"`
}

// ackResult is the payload of an ack frame
type ackResult struct {
	Success bool         `json:"success"`
	Code    string       `json:"code,omitempty"`
	Room    *domain.Room `json:"room,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// NewClient creates a new WebSocket client
func NewClient(hub *Hub, dispatcher Dispatcher, conn *websocket.Conn, opts Options, logger *slog.Logger) *Client {
	id := uuid.New().String()
	return &Client{
		id:         id,
		hub:        hub,
		dispatcher: dispatcher,
		conn:       conn,
		send:       make(chan []byte, opts.SendBuffer),
		opts:       opts,
		logger:     logger.With("connection_id", id),
	}
}

// ID returns the connection id
func (c *Client) ID() string {
	return c.id
}

// enqueue hands a frame to the write pump without blocking
func (c *Client) enqueue(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClientClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errBufferFull
	}
}

// close lets the write pump flush what is queued and then close the connection
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump pumps messages from the WebSocket connection to the dispatcher
func (c *Client) readPump() {
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.AckTimeout)
		if err := c.dispatcher.Leave(ctx, c.id); err != nil && !errors.Is(err, domain.ErrCoordinatorStopped) {
			c.logger.Error("failed to release connection", "error", err)
		}
		cancel()
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.opts.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Error("websocket error", "error", err)
			}
			break
		}

		var msg inbound
		if err := json.Unmarshal(message, &msg); err != nil {
			c.logger.Warn("invalid message format", "error", err)
			continue
		}

		c.handleMessage(&msg)
	}
}

// handleMessage processes incoming client messages
func (c *Client) handleMessage(msg *inbound) {
	ctx, cancel := context.WithTimeout(c.hub.ctx, c.opts.AckTimeout)
	defer cancel()

	var (
		result ackResult
		err    error
	)
	switch msg.Event {
	case domain.EventCreateRoom:
		var profile domain.UserProfile
		if err = decode(msg.Data, &profile); err == nil {
			result.Room, err = c.dispatcher.CreateRoom(ctx, c.id, profile)
		}
		if result.Room != nil {
			result.Code = result.Room.Code
		}

	case domain.EventJoinRoom:
		var req joinRequest
		if err = decode(msg.Data, &req); err == nil {
			result.Room, err = c.dispatcher.JoinRoom(ctx, c.id, req.Code, req.UserProfile)
		}

	case domain.EventPlayerReady:
		var code string
		if code, err = decodeCode(msg.Data); err == nil {
			err = c.dispatcher.Ready(ctx, c.id, code)
		}

	case domain.EventScoreUpdate, domain.EventPlayerFinished:
		var (
			req   scoreRequest
			score int
		)
		if err = decode(msg.Data, &req); err == nil {
			score, err = toMillis(req.Score)
		}
		if err == nil && msg.Event == domain.EventScoreUpdate {
			err = c.dispatcher.ScoreUpdate(ctx, c.id, req.Code, score)
		} else if err == nil {
			err = c.dispatcher.Finish(ctx, c.id, req.Code, score)
		}

	case domain.EventLeaveRoom:
		err = c.dispatcher.Leave(ctx, c.id)

	case domain.EventPing:
		c.reply(domain.EventPong, nil, nil)
		return

	default:
		c.logger.Debug("unknown event", "event", msg.Event)
		err = domain.ErrInvalidRequest
	}

	if err != nil {
		if domain.IsClientError(err) {
			c.logger.Debug("request rejected", "event", msg.Event, "error", err)
		} else {
			c.logger.Error("request failed", "event", msg.Event, "error", err)
		}
		result = ackResult{Error: domain.ClientMessage(err)}
	} else {
		result.Success = true
	}
	if msg.Ack != nil {
		c.reply(domain.EventAck, msg.Ack, result)
	}
}

// reply queues a frame addressed to this connection only
func (c *Client) reply(event string, ack *int64, data any) {
	payload, err := json.Marshal(Message{Event: event, Ack: ack, Data: data, Timestamp: time.Now()})
	if err != nil {
		c.logger.Error("failed to marshal reply", "event", event, "error", err)
		return
	}
	if err := c.enqueue(payload); errors.Is(err, errBufferFull) {
		c.logger.Warn("client buffer full, disconnecting", "event", event)
		c.close()
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The connection was closed by the hub or the coordinator
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued messages to the current WebSocket message
			n := len(c.send)
			for i := 0; i < n; i++ {
				next, ok := <-c.send
				if !ok {
					break
				}
				w.Write([]byte{'\n'})
				w.Write(next)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: missing payload", domain.ErrInvalidRequest)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	return nil
}

// decodeCode accepts a bare room code or an object carrying one
func decodeCode(raw json.RawMessage) (string, error) {
	var code string
	if err := json.Unmarshal(raw, &code); err == nil {
		return code, nil
	}
	var wrapped struct {
		Code string `json:"code"`
	}
	if err := decode(raw, &wrapped); err != nil {
		return "", err
	}
	return wrapped.Code, nil
}

// toMillis floors a reported reaction time to whole milliseconds
func toMillis(score float64) (int, error) {
	if math.IsNaN(score) || score < -maxWireScore || score > maxWireScore {
		return 0, fmt.Errorf("%w: score out of range", domain.ErrInvalidRequest)
	}
	return int(math.Floor(score)), nil
}

// Handler upgrades HTTP requests and serves one connection each
type Handler struct {
	hub        *Hub
	dispatcher Dispatcher
	opts       Options
	upgrader   websocket.Upgrader
	logger     *slog.Logger
}

// NewHandler creates the /ws handler
func NewHandler(hub *Hub, dispatcher Dispatcher, opts Options, logger *slog.Logger) *Handler {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 4096
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = 5 * time.Second
	}
	return &Handler{
		hub:        hub,
		dispatcher: dispatcher,
		opts:       opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(opts.AllowedOrigin),
		},
		logger: logger,
	}
}

func originChecker(allowed string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return allowed == "" || allowed == "*" || origin == "" || origin == allowed
	}
}

// ServeHTTP handles WebSocket requests from peers
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(h.hub, h.dispatcher, conn, h.opts, h.logger)
	if !h.hub.Register(client) {
		conn.Close()
		return
	}

	// Start client goroutines
	go client.writePump()
	go client.readPump()

	h.logger.Debug("new websocket connection", "connection_id", client.id)
}
