package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateToken(t *testing.T) {
	v := NewJWTValidator("secret")

	token, err := v.Sign(Claims{Sub: "u1", Username: "alice", TeamID: "red", Role: RoleAdmin}, time.Hour)
	require.NoError(t, err)

	claims, err := v.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID())
	assert.Equal(t, "red", *claims.Team())
	assert.True(t, claims.IsAdmin())
}

func TestValidateTokenFailures(t *testing.T) {
	v := NewJWTValidator("secret")

	expired, err := v.Sign(Claims{Sub: "u1"}, -time.Minute)
	require.NoError(t, err)
	_, err = v.ValidateToken(expired)
	assert.ErrorIs(t, err, ErrExpiredToken)

	other, err := NewJWTValidator("other").Sign(Claims{Sub: "u1"}, time.Hour)
	require.NoError(t, err)
	_, err = v.ValidateToken(other)
	assert.ErrorIs(t, err, ErrInvalidToken)

	anonymous, err := v.Sign(Claims{}, time.Hour)
	require.NoError(t, err)
	_, err = v.ValidateToken(anonymous)
	assert.ErrorIs(t, err, ErrInvalidClaims)
}

func TestMiddleware(t *testing.T) {
	v := NewJWTValidator("secret")
	m := metrics.NewWithRegistry(prometheus.NewRegistry())

	var seen *Claims
	h := AuthMiddleware(v, m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetUserFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := v.Sign(Claims{Sub: "u1"}, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "u1", seen.Sub)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuthFailures))
}
