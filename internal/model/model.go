package model

import "time"

type Challenge struct {
	ID            string
	Title         string
	Category      string
	Points        int
	Flag          string
	FlagRegex     string
	CaseSensitive bool
	Active        bool
	Visible       bool
	MaxAttempts   *int
	UnlockAfter   *string
	StartTime     *time.Time
	EndTime       *time.Time
	SolveCount    int
}

// Submission is one grading attempt. Never mutated after creation.
type Submission struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	TeamID      *string   `json:"teamId,omitempty"`
	ChallengeID string    `json:"challengeId"`
	Flag        string    `json:"submittedFlag"`
	Correct     bool      `json:"isCorrect"`
	Points      int       `json:"points"`
	IPAddress   string    `json:"-"`
	UserAgent   string    `json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Solve is the unique record that a participant answered a challenge.
// At most one exists per (UserID, ChallengeID).
type Solve struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	TeamID       *string   `json:"teamId,omitempty"`
	ChallengeID  string    `json:"challengeId"`
	SubmissionID string    `json:"submissionId"`
	Points       int       `json:"points"`
	FirstBlood   bool      `json:"isFirstBlood"`
	SolvedAt     time.Time `json:"solveTime"`
}

// ScoredSolve is a Solve joined with the current point value of its challenge.
type ScoredSolve struct {
	Solve
	ChallengePoints int
}

type AggregateKind string

const (
	AggregateUser AggregateKind = "user"
	AggregateTeam AggregateKind = "team"
)

// Aggregate is the materialized score of a user or team, recomputed from its solves.
type Aggregate struct {
	Kind          AggregateKind `json:"-"`
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	TeamID        *string       `json:"teamId,omitempty"`
	Score         int           `json:"score"`
	SolveCount    int           `json:"solveCount"`
	LastSolveTime *time.Time    `json:"lastSolveTime,omitempty"`
	Active        bool          `json:"-"`
}

type Participant struct {
	ID       string
	Username string
	TeamID   *string
	Active   bool
}

type Team struct {
	ID     string
	Name   string
	Active bool
}
