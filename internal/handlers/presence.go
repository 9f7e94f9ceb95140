package handlers

import (
	"context"
	"net/http"

	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/auth"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

type TeamPresence interface {
	TeamMembersOnline(ctx context.Context, teamID string) ([]string, error)
}

// TeamPresenceHandler lists the members of a team with a live connection.
// Participants may only look at their own team.
type TeamPresenceHandler struct {
	presence TeamPresence
	logger   zerolog.Logger
}

func NewTeamPresenceHandler(p TeamPresence, logger zerolog.Logger) *TeamPresenceHandler {
	return &TeamPresenceHandler{
		presence: p,
		logger:   logger.With().Str("component", "presence-handler").Logger(),
	}
}

func (h *TeamPresenceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r.Context())
	if claims == nil {
		respondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	teamID := chi.URLParam(r, "id")
	if teamID != claims.TeamID && !claims.IsAdmin() {
		respondWithError(w, http.StatusForbidden, "Not a member of this team")
		return
	}

	online, err := h.presence.TeamMembersOnline(r.Context(), teamID)
	if err != nil {
		h.logger.Error().Err(err).Str("teamId", teamID).Msg("Failed to read team presence")
		respondWithError(w, http.StatusServiceUnavailable, "Presence unavailable")
		return
	}
	if online == nil {
		online = []string{}
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"teamId":  teamID,
		"online":  online,
	})
}
