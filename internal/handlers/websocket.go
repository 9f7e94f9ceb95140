package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/auth"
	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/hub"
	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/presence"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketHandler upgrades authenticated observers and hands them to the hub.
type WebSocketHandler struct {
	hub      *hub.Hub
	presence *presence.Manager
	logger   zerolog.Logger
}

func NewWebSocketHandler(h *hub.Hub, p *presence.Manager, logger zerolog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:      h,
		presence: p,
		logger:   logger.With().Str("component", "ws-handler").Logger(),
	}
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r.Context())
	if claims == nil {
		respondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID := uuid.New().String()
	identity := hub.Identity{
		UserID:   claims.UserID(),
		Username: claims.Username,
		TeamID:   claims.TeamID,
		Role:     claims.Role,
	}

	client := hub.NewClient(clientID, identity, conn, h.hub, h.logger)
	h.hub.Register(client)

	if h.presence != nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 2*time.Second)
		if err := h.presence.SetOnline(ctx, identity.UserID, claims.Team()); err != nil {
			h.logger.Warn().Err(err).Str("userId", identity.UserID).Msg("Failed to record presence")
		}
		cancel()
	}

	h.logger.Info().
		Str("clientId", clientID).
		Str("userId", identity.UserID).
		Str("remoteAddr", r.RemoteAddr).
		Msg("WebSocket connection established")

	go client.WritePump()
	go client.ReadPump()
}

// PresenceOnDisconnect clears presence when the hub drops a client.
func PresenceOnDisconnect(p *presence.Manager, logger zerolog.Logger) func(*hub.Client) {
	return func(c *hub.Client) {
		var team *string
		if c.TeamID != "" {
			id := c.TeamID
			team = &id
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := p.SetOffline(ctx, c.UserID, team); err != nil {
			logger.Warn().Err(err).Str("userId", c.UserID).Msg("Failed to clear presence")
		}
	}
}
