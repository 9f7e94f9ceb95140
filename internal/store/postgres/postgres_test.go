package postgres

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/model"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestStore connects to TEST_DATABASE_URL and resets the schema. Tests
// are skipped when it is not set.
func createTestStore(t *testing.T) *Store {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	require.NoError(t, Migrate(url, 0, zerolog.Nop()))

	ctx := context.Background()
	s, err := New(ctx, url, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	_, err = s.pool.Exec(ctx, `TRUNCATE solves, submissions, challenges, users, teams CASCADE`)
	require.NoError(t, err)
	return s
}

func insertSubmission(t *testing.T, s *Store, userID, challengeID string) string {
	t.Helper()
	sub := &model.Submission{
		ID:          uuid.New().String(),
		UserID:      userID,
		ChallengeID: challengeID,
		Flag:        "CTF{x}",
		Correct:     true,
		Points:      100,
	}
	res, err := s.InsertSubmission(context.Background(), sub, nil)
	require.NoError(t, err)
	require.True(t, res.Recorded)
	return sub.ID
}

func TestMigrateURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@localhost:5432/ctf", migrateURL("postgres://u:p@localhost:5432/ctf"))
	assert.Equal(t, "pgx5://localhost/ctf", migrateURL("postgresql://localhost/ctf"))
	assert.Equal(t, "pgx5://already", migrateURL("pgx5://already"))
}

func TestGetChallengeRoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	limit := 5
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.SeedChallenge(ctx, model.Challenge{
		ID: "c1", Title: "Warmup", Points: 100, Flag: "CTF{x}", FlagRegex: `^CTF\{.*\}$`,
		Active: true, Visible: true, MaxAttempts: &limit, StartTime: &start,
	}))

	ch, err := s.GetChallenge(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, ch)
	assert.Equal(t, `^CTF\{.*\}$`, ch.FlagRegex)
	require.NotNil(t, ch.MaxAttempts)
	assert.Equal(t, 5, *ch.MaxAttempts)
	assert.Nil(t, ch.UnlockAfter)
	assert.Nil(t, ch.EndTime)

	missing, err := s.GetChallenge(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestInsertSolveIfFirstSingleFirstBlood(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SeedChallenge(ctx, model.Challenge{ID: "c1", Title: "c1", Points: 100, Flag: "CTF{x}", Active: true, Visible: true}))

	const n = 10
	var wg sync.WaitGroup
	firsts := make(chan bool, n)
	for i := 0; i < n; i++ {
		user := fmt.Sprintf("u%d", i)
		subID := insertSubmission(t, s, user, "c1")
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.InsertSolveIfFirst(ctx, &model.Solve{
				ID: uuid.New().String(), UserID: user, ChallengeID: "c1", SubmissionID: subID, Points: 100,
			})
			assert.NoError(t, err)
			assert.True(t, res.Inserted)
			firsts <- res.FirstBlood
		}()
	}
	wg.Wait()
	close(firsts)

	count := 0
	for fb := range firsts {
		if fb {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestInsertSolveIfFirstDuplicate(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SeedChallenge(ctx, model.Challenge{ID: "c1", Title: "c1", Points: 100, Flag: "CTF{x}", Active: true, Visible: true}))

	subID := insertSubmission(t, s, "u1", "c1")
	res, err := s.InsertSolveIfFirst(ctx, &model.Solve{ID: uuid.New().String(), UserID: "u1", ChallengeID: "c1", SubmissionID: subID, Points: 100})
	require.NoError(t, err)
	assert.True(t, res.Inserted)

	res, err = s.InsertSolveIfFirst(ctx, &model.Solve{ID: uuid.New().String(), UserID: "u1", ChallengeID: "c1", SubmissionID: subID, Points: 100})
	require.NoError(t, err)
	assert.False(t, res.Inserted)

	solves, err := s.ListSolvesForUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, solves, 1)
	assert.Equal(t, 100, solves[0].ChallengePoints)
}

func TestInsertSubmissionCapUnderConcurrency(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SeedChallenge(ctx, model.Challenge{ID: "c1", Title: "c1", Points: 100, Flag: "CTF{x}", Active: true, Visible: true}))

	limit := 3
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.InsertSubmission(ctx, &model.Submission{
				ID: uuid.New().String(), UserID: "u1", ChallengeID: "c1", Flag: "wrong",
			}, &limit)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	n, err := s.CountSubmissions(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, limit, n)
}

func TestAggregatesUpsert(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SeedTeam(ctx, model.Team{ID: "t1", Name: "red", Active: true}))
	team := "t1"
	require.NoError(t, s.SeedParticipant(ctx, model.Participant{ID: "u1", Username: "alice", TeamID: &team, Active: true}))

	now := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, s.WriteUserAggregate(ctx, "u1", 300, 2, &now))
	require.NoError(t, s.WriteTeamAggregate(ctx, "t1", 300, 2, &now))
	require.NoError(t, s.WriteTeamAggregate(ctx, "t1", 300, 2, nil))

	users, err := s.ListAggregates(ctx, model.AggregateUser)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "alice", users[0].Name)
	assert.Equal(t, 300, users[0].Score)

	teams, err := s.ListAggregates(ctx, model.AggregateTeam)
	require.NoError(t, err)
	require.Len(t, teams, 1)
	require.NotNil(t, teams[0].LastSolveTime)
	assert.True(t, now.Equal(*teams[0].LastSolveTime))
}

func TestRecomputeAggregateConcurrentSolves(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SeedTeam(ctx, model.Team{ID: "t1", Name: "red", Active: true}))
	team := "t1"
	require.NoError(t, s.SeedParticipant(ctx, model.Participant{ID: "u1", Username: "alice", TeamID: &team, Active: true}))
	for i, points := range []int{100, 50, 25, 10} {
		id := fmt.Sprintf("c%d", i)
		require.NoError(t, s.SeedChallenge(ctx, model.Challenge{ID: id, Title: id, Points: points, Flag: "CTF{x}", Active: true, Visible: true}))
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("c%d", i)
		subID := insertSubmission(t, s, "u1", id)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.InsertSolveIfFirst(ctx, &model.Solve{
				ID: uuid.New().String(), UserID: "u1", TeamID: &team, ChallengeID: id, SubmissionID: subID,
			})
			assert.NoError(t, err)
			_, err = s.RecomputeUserAggregate(ctx, "u1")
			assert.NoError(t, err)
			_, err = s.RecomputeTeamAggregate(ctx, "t1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	users, err := s.ListAggregates(ctx, model.AggregateUser)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "alice", users[0].Name)
	assert.Equal(t, 185, users[0].Score)
	assert.Equal(t, 4, users[0].SolveCount)

	teams, err := s.ListAggregates(ctx, model.AggregateTeam)
	require.NoError(t, err)
	require.Len(t, teams, 1)
	assert.Equal(t, 185, teams[0].Score)
}
