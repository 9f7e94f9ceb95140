package unlock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSolves struct {
	solved map[string]bool
	err    error
}

func (f *fakeSolves) HasSolve(_ context.Context, userID, challengeID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.solved[userID+"/"+challengeID], nil
}

func strPtr(s string) *string { return &s }

func TestIsUnlocked(t *testing.T) {
	solves := &fakeSolves{solved: map[string]bool{"alice/A": true}}
	g := NewGraph(solves)
	ctx := context.Background()

	free := &model.Challenge{ID: "A"}
	ok, err := g.IsUnlocked(ctx, "bob", free)
	require.NoError(t, err)
	assert.True(t, ok, "challenge without prerequisite is always unlocked")

	gated := &model.Challenge{ID: "B", UnlockAfter: strPtr("A")}
	ok, err = g.IsUnlocked(ctx, "bob", gated)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = g.IsUnlocked(ctx, "alice", gated)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIsUnlockedSingleHop(t *testing.T) {
	// C requires B, B requires A. Solving B alone unlocks C.
	solves := &fakeSolves{solved: map[string]bool{"carol/B": true}}
	g := NewGraph(solves)

	c := &model.Challenge{ID: "C", UnlockAfter: strPtr("B")}
	ok, err := g.IsUnlocked(context.Background(), "carol", c)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIsUnlockedStoreError(t *testing.T) {
	g := NewGraph(&fakeSolves{err: errors.New("connection refused")})
	_, err := g.IsUnlocked(context.Background(), "bob", &model.Challenge{UnlockAfter: strPtr("A")})
	assert.Error(t, err)
}

func TestAvailable(t *testing.T) {
	now := time.Date(2025, 11, 25, 12, 0, 0, 0, time.UTC)
	before := now.Add(-time.Hour)
	after := now.Add(time.Hour)

	tests := []struct {
		name string
		ch   *model.Challenge
		want bool
	}{
		{"nil", nil, false},
		{"inactive", &model.Challenge{Active: false, Visible: true}, false},
		{"hidden", &model.Challenge{Active: true, Visible: false}, false},
		{"open", &model.Challenge{Active: true, Visible: true}, true},
		{"not started", &model.Challenge{Active: true, Visible: true, StartTime: &after}, false},
		{"ended", &model.Challenge{Active: true, Visible: true, EndTime: &before}, false},
		{"inside window", &model.Challenge{Active: true, Visible: true, StartTime: &before, EndTime: &after}, true},
		{"only start bound", &model.Challenge{Active: true, Visible: true, StartTime: &before}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Available(tt.ch, now))
		})
	}
}
