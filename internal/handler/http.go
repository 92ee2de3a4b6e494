package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/quicktap/arena/internal/domain"
	"github.com/quicktap/arena/internal/match"
)

// Leaderboard serves the single-player boards
type Leaderboard interface {
	SubmitScore(ctx context.Context, sub domain.ScoreSubmission) (domain.SubmitResult, error)
	TopScores(ctx context.Context, difficulty string, limit int) ([]domain.LeaderboardEntry, error)
	UserRank(ctx context.Context, userID, difficulty string) (domain.RankResult, error)
	PlayerCounts(ctx context.Context) (map[domain.Difficulty]int64, error)
}

// MatchHistory serves recorded multiplayer matches
type MatchHistory interface {
	RecentMatches(ctx context.Context, userID string, limit int) ([]domain.MatchResult, error)
}

// RoomStats reports live rooms
type RoomStats interface {
	Stats(ctx context.Context) (match.Stats, error)
}

// ConnectionCounter reports open websocket connections
type ConnectionCounter interface {
	ConnectionCount() int
}

// Pinger is a backend checked by the readiness probe
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies are the collaborators the HTTP API is served from
type Dependencies struct {
	Leaderboard Leaderboard
	Matches     MatchHistory
	Rooms       RoomStats
	Connections ConnectionCounter
	WebSocket   http.Handler
	// Readiness names each backend /ready pings
	Readiness map[string]Pinger
}

// Handler provides HTTP handlers for the game API
type Handler struct {
	deps       Dependencies
	corsOrigin string
	logger     *slog.Logger
	now        func() time.Time
}

// NewHandler creates a new HTTP handler
func NewHandler(deps Dependencies, corsOrigin string, logger *slog.Logger) *Handler {
	if corsOrigin == "" {
		corsOrigin = "*"
	}
	return &Handler{
		deps:       deps,
		corsOrigin: corsOrigin,
		logger:     logger,
		now:        time.Now,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(h.corsMiddleware)

	r.Get("/ready", h.ReadyCheck)

	// Upgrades must not pass through the compressing writer
	if h.deps.WebSocket != nil {
		r.Handle("/ws", h.deps.WebSocket)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Compress(5))

		r.Get("/health", h.HealthCheck)
		r.Get("/stats", h.GetStats)

		r.Post("/scores", h.SubmitScore)
		r.Get("/leaderboard/{difficulty}", h.GetLeaderboard)

		r.Route("/user/{userId}", func(r chi.Router) {
			r.Get("/rank/{difficulty}", h.GetUserRank)
			r.Get("/matches", h.GetUserMatches)
		})
	})

	return r
}

// corsMiddleware adds CORS headers for the configured origin
func (h *Handler) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", h.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, X-Request-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("failed to write response", "error", err)
	}
}

func (h *Handler) writeSuccess(w http.ResponseWriter, data any) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// writeServiceError maps a service error onto a status code
func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case domain.IsClientError(err):
		h.writeError(w, http.StatusBadRequest, err)
	case domain.IsNotFoundError(err):
		h.writeError(w, http.StatusNotFound, err)
	default:
		h.logger.Error("request failed", "op", op, "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
	}
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{
		"status":    "ok",
		"timestamp": h.now().UTC().Format(time.RFC3339Nano),
	})
}

// ReadyCheck pings every backend and reports 503 when any is down
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.deps.Readiness))
	ready := true
	for name, p := range h.deps.Readiness {
		if err := p.Ping(ctx); err != nil {
			h.logger.Warn("readiness check failed", "backend", name, "error", err)
			checks[name] = "unavailable"
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	if !ready {
		h.writeJSON(w, http.StatusServiceUnavailable, APIResponse{
			Success: false,
			Data:    checks,
			Error:   "not ready",
		})
		return
	}
	h.writeSuccess(w, checks)
}

// submitRequest uses pointers so missing fields can be told apart from zero values
type submitRequest struct {
	UserID     *string `json:"user_id"`
	Username   *string `json:"username"`
	Avatar     *string `json:"avatar"`
	Score      *int    `json:"score"`
	Difficulty *string `json:"difficulty"`
}

func (req submitRequest) submission() (domain.ScoreSubmission, error) {
	if req.UserID == nil || req.Username == nil || req.Avatar == nil || req.Score == nil || req.Difficulty == nil {
		return domain.ScoreSubmission{}, fmt.Errorf("%w: missing required fields", domain.ErrInvalidRequest)
	}
	return domain.ScoreSubmission{
		UserID:     *req.UserID,
		Username:   *req.Username,
		Avatar:     *req.Avatar,
		Score:      *req.Score,
		Difficulty: domain.Difficulty(*req.Difficulty),
	}, nil
}

// SubmitScore handles score submission
func (h *Handler) SubmitScore(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// Non-integer scores and mistyped fields end up here
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}
	sub, err := req.submission()
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := h.deps.Leaderboard.SubmitScore(r.Context(), sub)
	if err != nil {
		h.writeServiceError(w, "submit_score", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    result,
	})
}

// GetLeaderboard returns the best score per user on one difficulty
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := h.deps.Leaderboard.TopScores(r.Context(), chi.URLParam(r, "difficulty"), queryLimit(r))
	if err != nil {
		h.writeServiceError(w, "get_leaderboard", err)
		return
	}
	if entries == nil {
		entries = []domain.LeaderboardEntry{}
	}
	h.writeSuccess(w, entries)
}

// GetUserRank returns a user's rank and best score
func (h *Handler) GetUserRank(w http.ResponseWriter, r *http.Request) {
	rank, err := h.deps.Leaderboard.UserRank(r.Context(), chi.URLParam(r, "userId"), chi.URLParam(r, "difficulty"))
	if err != nil {
		h.writeServiceError(w, "get_user_rank", err)
		return
	}
	h.writeSuccess(w, rank)
}

// GetUserMatches returns a user's most recent matches
func (h *Handler) GetUserMatches(w http.ResponseWriter, r *http.Request) {
	matches, err := h.deps.Matches.RecentMatches(r.Context(), chi.URLParam(r, "userId"), queryLimit(r))
	if err != nil {
		h.writeServiceError(w, "get_user_matches", err)
		return
	}
	if matches == nil {
		matches = []domain.MatchResult{}
	}
	h.writeSuccess(w, matches)
}

// statsResponse is the body of GET /api/stats
type statsResponse struct {
	match.Stats
	Connections int                         `json:"connections"`
	Leaderboard map[domain.Difficulty]int64 `json:"leaderboard_players,omitempty"`
}

// GetStats reports live rooms, open connections and ranked players
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.deps.Rooms.Stats(r.Context())
	if err != nil {
		h.writeServiceError(w, "get_stats", err)
		return
	}

	resp := statsResponse{Stats: rooms}
	if h.deps.Connections != nil {
		resp.Connections = h.deps.Connections.ConnectionCount()
	}
	if h.deps.Leaderboard != nil {
		counts, err := h.deps.Leaderboard.PlayerCounts(r.Context())
		if err != nil {
			h.logger.Warn("failed to count leaderboard players", "error", err)
		} else {
			resp.Leaderboard = counts
		}
	}

	h.writeSuccess(w, resp)
}

// queryLimit parses ?limit; anything absent or malformed selects the default
func queryLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 0
	}
	return limit
}
