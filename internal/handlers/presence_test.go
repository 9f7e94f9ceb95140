package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/auth"
	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/presence"
	redisclient "github.com/CDeX-Labs/CDeX-CTF-Core/internal/redis"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTeamPresence(t *testing.T) {
	mr := miniredis.RunT(t)
	c := redisclient.Wrap(redis.NewClient(&redis.Options{Addr: mr.Addr()}), nil, zerolog.Nop())
	t.Cleanup(func() { _ = c.Close() })

	mgr := presence.NewManager(c, "node-a", zerolog.Nop())
	ctx := context.Background()
	red := "red"
	require.NoError(t, mgr.SetOnline(ctx, "alice", &red))
	require.NoError(t, mgr.SetOnline(ctx, "bob", &red))
	require.NoError(t, mgr.SetOffline(ctx, "bob", &red))

	r := chi.NewRouter()
	r.Get("/teams/{id}/online", NewTeamPresenceHandler(mgr, zerolog.Nop()).ServeHTTP)

	get := func(claims *auth.Claims, team string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/teams/"+team+"/online", nil)
		if claims != nil {
			req = req.WithContext(auth.WithClaims(req.Context(), claims))
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	rec := get(&auth.Claims{Sub: "carol", TeamID: "red"}, "red")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		TeamID string   `json:"teamId"`
		Online []string `json:"online"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "red", body.TeamID)
	assert.Equal(t, []string{"alice"}, body.Online)

	assert.Equal(t, http.StatusForbidden, get(&auth.Claims{Sub: "eve", TeamID: "blue"}, "red").Code)
	assert.Equal(t, http.StatusOK, get(&auth.Claims{Sub: "root", Role: auth.RoleAdmin}, "red").Code)
	assert.Equal(t, http.StatusUnauthorized, get(nil, "red").Code)
}
