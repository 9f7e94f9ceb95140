package scoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/model"
	"github.com/rs/zerolog"
)

// Store is the data access the aggregator needs. Solve lists are returned in
// solve order, oldest first.
type Store interface {
	ListSolvesForUser(ctx context.Context, userID string) ([]model.ScoredSolve, error)
	ListSolvesForTeam(ctx context.Context, teamID string) ([]model.ScoredSolve, error)
	WriteUserAggregate(ctx context.Context, userID string, score, solveCount int, lastSolve *time.Time) error
	WriteTeamAggregate(ctx context.Context, teamID string, score, solveCount int, lastSolve *time.Time) error
}

// AtomicStore totals and writes an aggregate as one step under its own lock,
// so replicas sharing the store cannot interleave a read with a stale write.
type AtomicStore interface {
	RecomputeUserAggregate(ctx context.Context, userID string) (model.Aggregate, error)
	RecomputeTeamAggregate(ctx context.Context, teamID string) (model.Aggregate, error)
}

// Aggregator recomputes cached scores from the full solve history. It never
// increments: every call overwrites the aggregate with a fresh total. Recomputes
// of one aggregate are serialized, so the last write always comes from a read
// that saw every solve committed before it started.
type Aggregator struct {
	store  Store
	locks  sync.Map
	logger zerolog.Logger
}

func NewAggregator(store Store, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		store:  store,
		logger: logger.With().Str("component", "scoring").Logger(),
	}
}

func (a *Aggregator) lock(key string) func() {
	v, _ := a.locks.LoadOrStore(key, &sync.Mutex{})
	m := v.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

func (a *Aggregator) RecomputeParticipant(ctx context.Context, userID string) (model.Aggregate, error) {
	unlock := a.lock("user:" + userID)
	defer unlock()

	if atomic, ok := a.store.(AtomicStore); ok {
		agg, err := atomic.RecomputeUserAggregate(ctx, userID)
		if err != nil {
			return model.Aggregate{}, fmt.Errorf("failed to recompute user aggregate %s: %w", userID, err)
		}
		a.logRecompute("userId", agg)
		return agg, nil
	}

	solves, err := a.store.ListSolvesForUser(ctx, userID)
	if err != nil {
		return model.Aggregate{}, fmt.Errorf("failed to list solves for user %s: %w", userID, err)
	}

	agg := Summarize(model.AggregateUser, userID, solves)
	if err := a.store.WriteUserAggregate(ctx, userID, agg.Score, agg.SolveCount, agg.LastSolveTime); err != nil {
		return model.Aggregate{}, fmt.Errorf("failed to write user aggregate %s: %w", userID, err)
	}

	a.logRecompute("userId", agg)
	return agg, nil
}

func (a *Aggregator) RecomputeTeam(ctx context.Context, teamID string) (model.Aggregate, error) {
	unlock := a.lock("team:" + teamID)
	defer unlock()

	if atomic, ok := a.store.(AtomicStore); ok {
		agg, err := atomic.RecomputeTeamAggregate(ctx, teamID)
		if err != nil {
			return model.Aggregate{}, fmt.Errorf("failed to recompute team aggregate %s: %w", teamID, err)
		}
		a.logRecompute("teamId", agg)
		return agg, nil
	}

	solves, err := a.store.ListSolvesForTeam(ctx, teamID)
	if err != nil {
		return model.Aggregate{}, fmt.Errorf("failed to list solves for team %s: %w", teamID, err)
	}

	agg := Summarize(model.AggregateTeam, teamID, solves)
	if err := a.store.WriteTeamAggregate(ctx, teamID, agg.Score, agg.SolveCount, agg.LastSolveTime); err != nil {
		return model.Aggregate{}, fmt.Errorf("failed to write team aggregate %s: %w", teamID, err)
	}

	a.logRecompute("teamId", agg)
	return agg, nil
}

func (a *Aggregator) logRecompute(field string, agg model.Aggregate) {
	a.logger.Debug().
		Str(field, agg.ID).
		Int("score", agg.Score).
		Int("solveCount", agg.SolveCount).
		Msg("Score recomputed")
}

// Summarize totals a solve history. Points come from the joined challenge, and
// the last solve time is that of the final element, matching the store's order.
func Summarize(kind model.AggregateKind, id string, solves []model.ScoredSolve) model.Aggregate {
	agg := model.Aggregate{Kind: kind, ID: id, SolveCount: len(solves)}
	for _, s := range solves {
		agg.Score += s.ChallengePoints
	}
	if len(solves) > 0 {
		last := solves[len(solves)-1].SolvedAt
		agg.LastSolveTime = &last
	}
	return agg
}
