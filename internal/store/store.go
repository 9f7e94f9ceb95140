package store

import (
	"context"
	"errors"

	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/model"
	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/scoring"
)

var (
	ErrNotFound = errors.New("requested resource not found")
	ErrConflict = errors.New("resource conflict")
)

// SolveResult reports the outcome of InsertSolveIfFirst.
type SolveResult struct {
	// Inserted is false when a solve for the same participant and challenge already existed.
	Inserted bool
	// FirstBlood is true when no other solve for the challenge existed at insert time.
	FirstBlood bool
}

// AttemptResult reports the outcome of InsertSubmission.
type AttemptResult struct {
	// Recorded is false when the attempt cap was already met; nothing was written.
	Recorded bool
	// PriorAttempts is the number of attempts that existed before this one.
	PriorAttempts int
}

type Challenges interface {
	// GetChallenge returns nil, nil when the challenge does not exist.
	GetChallenge(ctx context.Context, id string) (*model.Challenge, error)
	IncrementSolveCount(ctx context.Context, id string) error
}

type Solves interface {
	HasSolve(ctx context.Context, userID, challengeID string) (bool, error)
	CountSubmissions(ctx context.Context, userID, challengeID string) (int, error)

	// InsertSubmission appends sub unless maxAttempts is set and already reached.
	// Counting and inserting are atomic per (user, challenge).
	InsertSubmission(ctx context.Context, sub *model.Submission, maxAttempts *int) (AttemptResult, error)

	// InsertSolveIfFirst records solve unless the participant already solved the
	// challenge, and decides first blood in the same indivisible step.
	InsertSolveIfFirst(ctx context.Context, solve *model.Solve) (SolveResult, error)
}

type History interface {
	ListSubmissions(ctx context.Context, userID, challengeID string) ([]model.Submission, error)
}

type Leaderboards interface {
	ListAggregates(ctx context.Context, kind model.AggregateKind) ([]model.Aggregate, error)
}

// Seeder loads reference rows owned by the administrative side, used for
// local competitions described in a file.
type Seeder interface {
	SeedChallenge(ctx context.Context, ch model.Challenge) error
	SeedTeam(ctx context.Context, t model.Team) error
	SeedParticipant(ctx context.Context, p model.Participant) error
}

// Store is everything the service needs from persistence.
type Store interface {
	Challenges
	Solves
	History
	Leaderboards
	scoring.Store
	Seeder
	Close() error
}
