package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/model"
	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/scoring"
	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Store is the durable store. Solve uniqueness and first blood are enforced by
// the schema as well as by the per-challenge row lock taken in
// InsertSolveIfFirst, so several service instances can share one database.
type Store struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

var _ store.Store = (*Store)(nil)

func New(ctx context.Context, databaseURL string, logger zerolog.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info().Str("host", cfg.ConnConfig.Host).Str("database", cfg.ConnConfig.Database).Msg("Connected to Postgres")

	return &Store{
		pool:   pool,
		logger: logger.With().Str("component", "postgres").Logger(),
	}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *Store) GetChallenge(ctx context.Context, id string) (*model.Challenge, error) {
	var ch model.Challenge
	err := s.pool.QueryRow(ctx, `
		SELECT id, title, category, points, flag, COALESCE(flag_regex, ''), case_sensitive,
		       is_active, is_visible, max_attempts, unlock_after, start_time, end_time, solve_count
		FROM challenges WHERE id = $1`, id).Scan(
		&ch.ID, &ch.Title, &ch.Category, &ch.Points, &ch.Flag, &ch.FlagRegex, &ch.CaseSensitive,
		&ch.Active, &ch.Visible, &ch.MaxAttempts, &ch.UnlockAfter, &ch.StartTime, &ch.EndTime, &ch.SolveCount,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get challenge %s: %w", id, err)
	}
	return &ch, nil
}

func (s *Store) IncrementSolveCount(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE challenges SET solve_count = solve_count + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to increment solve count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) HasSolve(ctx context.Context, userID, challengeID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM solves WHERE user_id = $1 AND challenge_id = $2)`,
		userID, challengeID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check solve: %w", err)
	}
	return exists, nil
}

func (s *Store) CountSubmissions(ctx context.Context, userID, challengeID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM submissions WHERE user_id = $1 AND challenge_id = $2`,
		userID, challengeID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count submissions: %w", err)
	}
	return n, nil
}

// InsertSubmission serializes attempts per (user, challenge) with a transaction
// scoped advisory lock, so the count and the insert cannot interleave with a
// concurrent attempt from the same participant.
func (s *Store) InsertSubmission(ctx context.Context, sub *model.Submission, maxAttempts *int) (store.AttemptResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return store.AttemptResult{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, sub.UserID+":"+sub.ChallengeID); err != nil {
		return store.AttemptResult{}, fmt.Errorf("failed to lock attempts: %w", err)
	}

	var prior int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM submissions WHERE user_id = $1 AND challenge_id = $2`,
		sub.UserID, sub.ChallengeID).Scan(&prior); err != nil {
		return store.AttemptResult{}, fmt.Errorf("failed to count submissions: %w", err)
	}

	if maxAttempts != nil && prior >= *maxAttempts {
		return store.AttemptResult{Recorded: false, PriorAttempts: prior}, nil
	}

	createdAt := sub.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO submissions (id, user_id, team_id, challenge_id, submitted_flag, is_correct, points, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		sub.ID, sub.UserID, sub.TeamID, sub.ChallengeID, sub.Flag, sub.Correct, sub.Points,
		sub.IPAddress, sub.UserAgent, createdAt)
	if err != nil {
		return store.AttemptResult{}, fmt.Errorf("failed to insert submission: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return store.AttemptResult{}, fmt.Errorf("failed to commit submission: %w", err)
	}
	return store.AttemptResult{Recorded: true, PriorAttempts: prior}, nil
}

// InsertSolveIfFirst locks the challenge row, so solves for one challenge are
// decided one at a time while other challenges proceed in parallel.
func (s *Store) InsertSolveIfFirst(ctx context.Context, solve *model.Solve) (store.SolveResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return store.SolveResult{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var locked string
	err = tx.QueryRow(ctx, `SELECT id FROM challenges WHERE id = $1 FOR UPDATE`, solve.ChallengeID).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.SolveResult{}, store.ErrNotFound
	}
	if err != nil {
		return store.SolveResult{}, fmt.Errorf("failed to lock challenge: %w", err)
	}

	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM solves WHERE user_id = $1 AND challenge_id = $2)`,
		solve.UserID, solve.ChallengeID).Scan(&exists); err != nil {
		return store.SolveResult{}, fmt.Errorf("failed to check solve: %w", err)
	}
	if exists {
		return store.SolveResult{Inserted: false}, nil
	}

	var others int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM solves WHERE challenge_id = $1`, solve.ChallengeID).Scan(&others); err != nil {
		return store.SolveResult{}, fmt.Errorf("failed to count solves: %w", err)
	}
	first := others == 0

	solvedAt := solve.SolvedAt
	if solvedAt.IsZero() {
		solvedAt = time.Now()
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO solves (id, user_id, team_id, challenge_id, submission_id, points, is_first_blood, solve_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		solve.ID, solve.UserID, solve.TeamID, solve.ChallengeID, solve.SubmissionID, solve.Points, first, solvedAt)
	if isUniqueViolation(err) {
		s.logger.Debug().Str("userId", solve.UserID).Str("challengeId", solve.ChallengeID).Msg("Solve insert lost race")
		return store.SolveResult{Inserted: false}, nil
	}
	if err != nil {
		return store.SolveResult{}, fmt.Errorf("failed to insert solve: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return store.SolveResult{Inserted: false}, nil
		}
		return store.SolveResult{}, fmt.Errorf("failed to commit solve: %w", err)
	}

	solve.FirstBlood = first
	solve.SolvedAt = solvedAt
	return store.SolveResult{Inserted: true, FirstBlood: first}, nil
}

func (s *Store) ListSubmissions(ctx context.Context, userID, challengeID string) ([]model.Submission, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, team_id, challenge_id, submitted_flag, is_correct, points, ip_address, user_agent, created_at
		FROM submissions
		WHERE user_id = $1 AND challenge_id = $2
		ORDER BY created_at DESC`, userID, challengeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	defer rows.Close()

	subs := []model.Submission{}
	for rows.Next() {
		var sub model.Submission
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.TeamID, &sub.ChallengeID, &sub.Flag, &sub.Correct,
			&sub.Points, &sub.IPAddress, &sub.UserAgent, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

const scoredSolveQuery = `
	SELECT s.id, s.user_id, s.team_id, s.challenge_id, s.submission_id, s.points, s.is_first_blood, s.solve_time, c.points
	FROM solves s
	JOIN challenges c ON c.id = s.challenge_id
	WHERE %s = $1
	ORDER BY s.solve_time ASC, s.id ASC`

func (s *Store) ListSolvesForUser(ctx context.Context, userID string) ([]model.ScoredSolve, error) {
	return s.listSolves(ctx, fmt.Sprintf(scoredSolveQuery, "s.user_id"), userID)
}

func (s *Store) ListSolvesForTeam(ctx context.Context, teamID string) ([]model.ScoredSolve, error) {
	return s.listSolves(ctx, fmt.Sprintf(scoredSolveQuery, "s.team_id"), teamID)
}

func (s *Store) listSolves(ctx context.Context, query, id string) ([]model.ScoredSolve, error) {
	rows, err := s.pool.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list solves: %w", err)
	}
	defer rows.Close()

	var out []model.ScoredSolve
	for rows.Next() {
		var sv model.ScoredSolve
		if err := rows.Scan(&sv.ID, &sv.UserID, &sv.TeamID, &sv.ChallengeID, &sv.SubmissionID,
			&sv.Points, &sv.FirstBlood, &sv.SolvedAt, &sv.ChallengePoints); err != nil {
			return nil, fmt.Errorf("failed to scan solve: %w", err)
		}
		out = append(out, sv)
	}
	return out, rows.Err()
}

func (s *Store) WriteUserAggregate(ctx context.Context, userID string, score, solveCount int, lastSolve *time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, username, score, solve_count, last_solve_time)
		VALUES ($1, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET score = EXCLUDED.score, solve_count = EXCLUDED.solve_count, last_solve_time = EXCLUDED.last_solve_time`,
		userID, score, solveCount, lastSolve)
	if err != nil {
		return fmt.Errorf("failed to write user aggregate: %w", err)
	}
	return nil
}

func (s *Store) WriteTeamAggregate(ctx context.Context, teamID string, score, solveCount int, lastSolve *time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO teams (id, name, score, solve_count, last_solve_time)
		VALUES ($1, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET score = EXCLUDED.score,
		    solve_count = EXCLUDED.solve_count,
		    last_solve_time = COALESCE(EXCLUDED.last_solve_time, teams.last_solve_time)`,
		teamID, score, solveCount, lastSolve)
	if err != nil {
		return fmt.Errorf("failed to write team aggregate: %w", err)
	}
	return nil
}

var _ scoring.AtomicStore = (*Store)(nil)

// RecomputeUserAggregate totals the user's solves and writes the result in one
// transaction. The advisory lock is taken before the totalling statement, so
// its snapshot includes every solve committed before the lock was granted.
func (s *Store) RecomputeUserAggregate(ctx context.Context, userID string) (model.Aggregate, error) {
	agg := model.Aggregate{Kind: model.AggregateUser, Active: true}
	err := s.recompute(ctx, "score:user:"+userID, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, `
			INSERT INTO users (id, username, score, solve_count, last_solve_time)
			SELECT $1, $1, COALESCE(SUM(c.points), 0), COUNT(s.id), MAX(s.solve_time)
			FROM solves s
			JOIN challenges c ON c.id = s.challenge_id
			WHERE s.user_id = $1
			ON CONFLICT (id) DO UPDATE
			SET score = EXCLUDED.score, solve_count = EXCLUDED.solve_count, last_solve_time = EXCLUDED.last_solve_time
			RETURNING id, username, team_id, score, solve_count, last_solve_time`, userID).
			Scan(&agg.ID, &agg.Name, &agg.TeamID, &agg.Score, &agg.SolveCount, &agg.LastSolveTime)
	})
	if err != nil {
		return model.Aggregate{}, fmt.Errorf("failed to recompute user aggregate: %w", err)
	}
	return agg, nil
}

func (s *Store) RecomputeTeamAggregate(ctx context.Context, teamID string) (model.Aggregate, error) {
	agg := model.Aggregate{Kind: model.AggregateTeam, Active: true}
	err := s.recompute(ctx, "score:team:"+teamID, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, `
			INSERT INTO teams (id, name, score, solve_count, last_solve_time)
			SELECT $1, $1, COALESCE(SUM(c.points), 0), COUNT(s.id), MAX(s.solve_time)
			FROM solves s
			JOIN challenges c ON c.id = s.challenge_id
			WHERE s.team_id = $1
			ON CONFLICT (id) DO UPDATE
			SET score = EXCLUDED.score,
			    solve_count = EXCLUDED.solve_count,
			    last_solve_time = COALESCE(EXCLUDED.last_solve_time, teams.last_solve_time)
			RETURNING id, name, score, solve_count, last_solve_time`, teamID).
			Scan(&agg.ID, &agg.Name, &agg.Score, &agg.SolveCount, &agg.LastSolveTime)
	})
	if err != nil {
		return model.Aggregate{}, fmt.Errorf("failed to recompute team aggregate: %w", err)
	}
	return agg, nil
}

func (s *Store) recompute(ctx context.Context, lockKey string, write func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey); err != nil {
		return fmt.Errorf("failed to lock aggregate: %w", err)
	}
	if err := write(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) ListAggregates(ctx context.Context, kind model.AggregateKind) ([]model.Aggregate, error) {
	query := `SELECT id, username, team_id, score, solve_count, last_solve_time FROM users WHERE is_active`
	if kind == model.AggregateTeam {
		query = `SELECT id, name, NULL::TEXT, score, solve_count, last_solve_time FROM teams WHERE is_active`
	}

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s aggregates: %w", kind, err)
	}
	defer rows.Close()

	var out []model.Aggregate
	for rows.Next() {
		agg := model.Aggregate{Kind: kind, Active: true}
		if err := rows.Scan(&agg.ID, &agg.Name, &agg.TeamID, &agg.Score, &agg.SolveCount, &agg.LastSolveTime); err != nil {
			return nil, fmt.Errorf("failed to scan aggregate: %w", err)
		}
		out = append(out, agg)
	}
	return out, rows.Err()
}

func (s *Store) SeedChallenge(ctx context.Context, ch model.Challenge) error {
	var regex *string
	if ch.FlagRegex != "" {
		regex = &ch.FlagRegex
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO challenges (id, title, category, points, flag, flag_regex, case_sensitive, is_active, is_visible,
		                        max_attempts, unlock_after, start_time, end_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE
		SET title = EXCLUDED.title, category = EXCLUDED.category, points = EXCLUDED.points, flag = EXCLUDED.flag,
		    flag_regex = EXCLUDED.flag_regex, case_sensitive = EXCLUDED.case_sensitive,
		    is_active = EXCLUDED.is_active, is_visible = EXCLUDED.is_visible, max_attempts = EXCLUDED.max_attempts,
		    unlock_after = EXCLUDED.unlock_after, start_time = EXCLUDED.start_time, end_time = EXCLUDED.end_time`,
		ch.ID, ch.Title, ch.Category, ch.Points, ch.Flag, regex, ch.CaseSensitive, ch.Active, ch.Visible,
		ch.MaxAttempts, ch.UnlockAfter, ch.StartTime, ch.EndTime)
	if err != nil {
		return fmt.Errorf("failed to seed challenge %s: %w", ch.ID, err)
	}
	return nil
}

func (s *Store) SeedTeam(ctx context.Context, t model.Team) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO teams (id, name, is_active) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, is_active = EXCLUDED.is_active`,
		t.ID, t.Name, t.Active)
	if err != nil {
		return fmt.Errorf("failed to seed team %s: %w", t.ID, err)
	}
	return nil
}

func (s *Store) SeedParticipant(ctx context.Context, p model.Participant) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, username, team_id, is_active) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username, team_id = EXCLUDED.team_id, is_active = EXCLUDED.is_active`,
		p.ID, p.Username, p.TeamID, p.Active)
	if err != nil {
		return fmt.Errorf("failed to seed user %s: %w", p.ID, err)
	}
	return nil
}
