package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/auth"
	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/leaderboard"
	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/model"
	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

type Leaderboards interface {
	Teams(ctx context.Context, limit, offset int) (leaderboard.Board, error)
	Users(ctx context.Context, limit, offset int) (leaderboard.Board, error)
}

type ScoresHandler struct {
	boards Leaderboards
	logger zerolog.Logger
}

func NewScoresHandler(b Leaderboards, logger zerolog.Logger) *ScoresHandler {
	return &ScoresHandler{
		boards: b,
		logger: logger.With().Str("component", "scores-handler").Logger(),
	}
}

func (h *ScoresHandler) RegisterRoutes(r chi.Router) {
	r.Get("/teams", h.teams)
	r.Get("/users", h.users)
}

func (h *ScoresHandler) teams(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, h.boards.Teams)
}

func (h *ScoresHandler) users(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, h.boards.Users)
}

func (h *ScoresHandler) serve(w http.ResponseWriter, r *http.Request, read func(context.Context, int, int) (leaderboard.Board, error)) {
	limit, offset, ok := pagination(r)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid limit or offset")
		return
	}

	board, err := read(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("Failed to read leaderboard")
		respondWithError(w, http.StatusServiceUnavailable, "Leaderboard unavailable")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"entries": board.Entries,
		"total":   board.Total,
		"limit":   limit,
		"offset":  offset,
	})
}

func pagination(r *http.Request) (limit, offset int, ok bool) {
	limit, offset = defaultPageSize, 0
	q := r.URL.Query()

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return 0, 0, false
		}
		limit = min(n, maxPageSize)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, 0, false
		}
		offset = n
	}
	return limit, offset, true
}

type HistoryHandler struct {
	history store.History
	logger  zerolog.Logger
}

func NewHistoryHandler(h store.History, logger zerolog.Logger) *HistoryHandler {
	return &HistoryHandler{
		history: h,
		logger:  logger.With().Str("component", "history-handler").Logger(),
	}
}

// ServeHTTP lists the caller's own submissions for a challenge, newest first.
func (h *HistoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r.Context())
	if claims == nil {
		respondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	challengeID := chi.URLParam(r, "id")
	subs, err := h.history.ListSubmissions(r.Context(), claims.UserID(), challengeID)
	if err != nil {
		h.logger.Error().Err(err).Str("challengeId", challengeID).Msg("Failed to list submissions")
		respondWithError(w, http.StatusServiceUnavailable, "History unavailable")
		return
	}
	if subs == nil {
		subs = []model.Submission{}
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"submissions": subs,
	})
}
