package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertSolveIfFirstConcurrent(t *testing.T) {
	s := New()
	s.PutChallenge(model.Challenge{ID: "c1", Points: 100, Active: true, Visible: true})

	const n = 32
	var wg sync.WaitGroup
	results := make(chan bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := s.InsertSolveIfFirst(context.Background(), &model.Solve{
				ID:          fmt.Sprintf("s%d", i),
				UserID:      fmt.Sprintf("u%d", i),
				ChallengeID: "c1",
			})
			assert.NoError(t, err)
			assert.True(t, res.Inserted)
			results <- res.FirstBlood
		}(i)
	}
	wg.Wait()
	close(results)

	firsts := 0
	for fb := range results {
		if fb {
			firsts++
		}
	}
	assert.Equal(t, 1, firsts)
	assert.Len(t, s.Solves(), n)
}

func TestInsertSolveIfFirstRejectsDuplicate(t *testing.T) {
	s := New()
	ctx := context.Background()

	res, err := s.InsertSolveIfFirst(ctx, &model.Solve{ID: "a", UserID: "u1", ChallengeID: "c1"})
	require.NoError(t, err)
	assert.True(t, res.Inserted)
	assert.True(t, res.FirstBlood)

	res, err = s.InsertSolveIfFirst(ctx, &model.Solve{ID: "b", UserID: "u1", ChallengeID: "c1"})
	require.NoError(t, err)
	assert.False(t, res.Inserted)
	assert.Len(t, s.Solves(), 1)

	ok, err := s.HasSolve(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestInsertSubmissionRespectsCap(t *testing.T) {
	s := New()
	ctx := context.Background()
	limit := 3

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.InsertSubmission(ctx, &model.Submission{
				ID:          fmt.Sprintf("sub%d", i),
				UserID:      "u1",
				ChallengeID: "c1",
			}, &limit)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	count, err := s.CountSubmissions(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, limit, count)

	res, err := s.InsertSubmission(ctx, &model.Submission{ID: "late", UserID: "u1", ChallengeID: "c1"}, &limit)
	require.NoError(t, err)
	assert.False(t, res.Recorded)
	assert.Equal(t, limit, res.PriorAttempts)
}

func TestListSubmissionsNewestFirst(t *testing.T) {
	s := New()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.InsertSubmission(ctx, &model.Submission{ID: fmt.Sprintf("sub%d", i), UserID: "u1", ChallengeID: "c1"}, nil)
		require.NoError(t, err)
	}

	subs, err := s.ListSubmissions(ctx, "u1", "c1")
	require.NoError(t, err)
	require.Len(t, subs, 3)
	assert.Equal(t, "sub2", subs[0].ID)
	assert.Equal(t, "sub0", subs[2].ID)
}

func TestListSolvesJoinsCurrentPoints(t *testing.T) {
	s := New()
	ctx := context.Background()
	team := "t1"
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	s.PutChallenge(model.Challenge{ID: "c1", Points: 100})
	s.PutChallenge(model.Challenge{ID: "c2", Points: 250})

	_, err := s.InsertSolveIfFirst(ctx, &model.Solve{ID: "a", UserID: "u1", TeamID: &team, ChallengeID: "c1", SolvedAt: base})
	require.NoError(t, err)
	_, err = s.InsertSolveIfFirst(ctx, &model.Solve{ID: "b", UserID: "u2", TeamID: &team, ChallengeID: "c2", SolvedAt: base.Add(time.Minute)})
	require.NoError(t, err)

	solves, err := s.ListSolvesForTeam(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, solves, 2)
	assert.Equal(t, 100, solves[0].ChallengePoints)
	assert.Equal(t, 250, solves[1].ChallengePoints)

	userSolves, err := s.ListSolvesForUser(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, userSolves, 1)
	assert.Equal(t, "c2", userSolves[0].ChallengeID)
}

func TestAggregatesAndActiveFilter(t *testing.T) {
	s := New()
	ctx := context.Background()

	s.PutParticipant(model.Participant{ID: "u1", Username: "alice", Active: true})
	s.PutParticipant(model.Participant{ID: "u2", Username: "banned", Active: false})
	s.PutTeam(model.Team{ID: "t1", Name: "red", Active: true})

	now := time.Now()
	require.NoError(t, s.WriteUserAggregate(ctx, "u1", 300, 2, &now))
	require.NoError(t, s.WriteTeamAggregate(ctx, "t1", 300, 2, &now))

	users, err := s.ListAggregates(ctx, model.AggregateUser)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "alice", users[0].Name)
	assert.Equal(t, 300, users[0].Score)

	teams, err := s.ListAggregates(ctx, model.AggregateTeam)
	require.NoError(t, err)
	require.Len(t, teams, 1)
	assert.Equal(t, "red", teams[0].Name)
}

func TestIncrementSolveCount(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.PutChallenge(model.Challenge{ID: "c1"})

	require.NoError(t, s.IncrementSolveCount(ctx, "c1"))
	require.NoError(t, s.IncrementSolveCount(ctx, "c1"))

	ch, err := s.GetChallenge(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, ch.SolveCount)

	missing, err := s.GetChallenge(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	assert.Error(t, s.IncrementSolveCount(ctx, "nope"))
}

func TestCancelledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.InsertSolveIfFirst(ctx, &model.Solve{ID: "a", UserID: "u1", ChallengeID: "c1"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, s.Solves())
}
