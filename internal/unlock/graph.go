package unlock

import (
	"context"
	"fmt"
	"time"

	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/model"
)

// SolveChecker answers whether a participant has solved a challenge.
type SolveChecker interface {
	HasSolve(ctx context.Context, userID, challengeID string) (bool, error)
}

// Graph evaluates challenge prerequisites. Only the immediate prerequisite is
// checked; ancestors further up the chain are not consulted.
type Graph struct {
	solves SolveChecker
}

func NewGraph(solves SolveChecker) *Graph {
	return &Graph{solves: solves}
}

func (g *Graph) IsUnlocked(ctx context.Context, userID string, ch *model.Challenge) (bool, error) {
	if ch.UnlockAfter == nil || *ch.UnlockAfter == "" {
		return true, nil
	}

	solved, err := g.solves.HasSolve(ctx, userID, *ch.UnlockAfter)
	if err != nil {
		return false, fmt.Errorf("failed to check prerequisite %s: %w", *ch.UnlockAfter, err)
	}
	return solved, nil
}

// Available reports whether ch is active, visible and inside its own time window.
func Available(ch *model.Challenge, now time.Time) bool {
	if ch == nil || !ch.Active || !ch.Visible {
		return false
	}
	if ch.StartTime != nil && now.Before(*ch.StartTime) {
		return false
	}
	if ch.EndTime != nil && now.After(*ch.EndTime) {
		return false
	}
	return true
}
