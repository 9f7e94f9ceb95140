package submission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/broadcast"
	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/clock"
	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/grading"
	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/metrics"
	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/model"
	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/scoring"
	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/store"
	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/unlock"
	"github.com/CDeX-Labs/CDeX-CTF-Core/pkg/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	DefaultTimeout    = 10 * time.Second
	defaultAfterSolve = 5 * time.Second
)

var (
	// ErrTransient means the submission ran out of time and the caller may
	// retry. When the deadline hit the solve commit itself the solve may have
	// landed; the retry then reports already_solved and recomputes the scores.
	ErrTransient = errors.New("submission timed out")
	// ErrUnavailable means a dependency failed. The submission was not accepted.
	ErrUnavailable = errors.New("submission dependency unavailable")
)

type ChallengeReader interface {
	GetChallenge(ctx context.Context, id string) (*model.Challenge, error)
	IncrementSolveCount(ctx context.Context, id string) error
}

type SolveStore interface {
	unlock.SolveChecker
	CountSubmissions(ctx context.Context, userID, challengeID string) (int, error)
	InsertSubmission(ctx context.Context, sub *model.Submission, maxAttempts *int) (store.AttemptResult, error)
	InsertSolveIfFirst(ctx context.Context, solve *model.Solve) (store.SolveResult, error)
}

// LeaderboardNotifier is told whenever an aggregate of the given kind changed.
type LeaderboardNotifier interface {
	Invalidate(kind events.LeaderboardKind)
}

type Dependencies struct {
	Challenges  ChallengeReader
	Solves      SolveStore
	Scores      scoring.Store
	Publisher   broadcast.Publisher
	Leaderboard LeaderboardNotifier
	Clock       clock.Clock
	Schedule    clock.Schedule
	Metrics     *metrics.Metrics
	Logger      zerolog.Logger
}

type Config struct {
	// RequireTeam rejects participants without a team.
	RequireTeam bool
	// Timeout bounds one Submit call up to the solve insert.
	Timeout time.Duration
}

type Coordinator struct {
	challenges  ChallengeReader
	solves      SolveStore
	unlock      *unlock.Graph
	aggregator  *scoring.Aggregator
	publisher   broadcast.Publisher
	leaderboard LeaderboardNotifier
	clock       clock.Clock
	schedule    clock.Schedule
	metrics     *metrics.Metrics
	logger      zerolog.Logger
	cfg         Config

	// unsettled holds solves whose commit outcome a timed out call never saw.
	unsettled sync.Map
}

func NewCoordinator(deps Dependencies, cfg Config) *Coordinator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if deps.Clock == nil {
		deps.Clock = clock.System()
	}
	if deps.Schedule == nil {
		deps.Schedule = clock.NewStaticSchedule(clock.Window{})
	}

	return &Coordinator{
		challenges:  deps.Challenges,
		solves:      deps.Solves,
		unlock:      unlock.NewGraph(deps.Solves),
		aggregator:  scoring.NewAggregator(deps.Scores, deps.Logger),
		publisher:   deps.Publisher,
		leaderboard: deps.Leaderboard,
		clock:       deps.Clock,
		schedule:    deps.Schedule,
		metrics:     deps.Metrics,
		logger:      deps.Logger.With().Str("component", "submission").Logger(),
		cfg:         cfg,
	}
}

// Submit grades one flag end to end. Eligibility failures and wrong flags come
// back as a Rejected result with a nil error; a non-nil error is always
// ErrTransient or ErrUnavailable and means nothing was accepted.
func (c *Coordinator) Submit(ctx context.Context, req Request) (Result, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	res, err := c.submit(ctx, req)

	c.metrics.ObserveSubmission(time.Since(start).Seconds())
	switch {
	case err != nil:
		c.metrics.IncSubmission("error")
	case res.Status == StatusAccepted:
		c.metrics.IncSubmission("accepted")
	default:
		c.metrics.IncSubmission(string(res.Reason))
	}
	return res, err
}

func (c *Coordinator) submit(ctx context.Context, req Request) (Result, error) {
	ch, err := c.challenges.GetChallenge(ctx, req.ChallengeID)
	if err != nil {
		return Result{}, c.fault(err, "load challenge")
	}

	now := c.clock.Now()
	if ch == nil || !unlock.Available(ch, now) {
		return c.reject(req, ReasonChallengeUnavailable, nil), nil
	}

	if !c.schedule.Window().Contains(now) {
		return c.reject(req, ReasonCompetitionNotActive, nil), nil
	}

	if c.cfg.RequireTeam && !req.hasTeam() {
		return c.reject(req, ReasonTeamRequired, nil), nil
	}

	unlocked, err := c.unlock.IsUnlocked(ctx, req.UserID, ch)
	if err != nil {
		return Result{}, c.fault(err, "check unlock")
	}
	if !unlocked {
		return c.reject(req, ReasonChallengeLocked, nil), nil
	}

	solved, err := c.solves.HasSolve(ctx, req.UserID, ch.ID)
	if err != nil {
		return Result{}, c.fault(err, "check solve")
	}
	if solved {
		c.repair(ctx, req)
		return c.reject(req, ReasonAlreadySolved, nil), nil
	}

	if ch.MaxAttempts != nil {
		attempts, err := c.solves.CountSubmissions(ctx, req.UserID, ch.ID)
		if err != nil {
			return Result{}, c.fault(err, "count submissions")
		}
		if attempts >= *ch.MaxAttempts {
			return c.reject(req, ReasonAttemptLimitExceeded, remaining(ch.MaxAttempts, attempts)), nil
		}
	}

	correct := grading.Grade(ch, req.Flag)
	points := 0
	if correct {
		points = ch.Points
	}

	sub := &model.Submission{
		ID:          uuid.New().String(),
		UserID:      req.UserID,
		TeamID:      req.teamID(),
		ChallengeID: ch.ID,
		Flag:        req.Flag,
		Correct:     correct,
		Points:      points,
		IPAddress:   req.IPAddress,
		UserAgent:   req.UserAgent,
		CreatedAt:   now,
	}

	attempt, err := c.solves.InsertSubmission(ctx, sub, ch.MaxAttempts)
	if err != nil {
		return Result{}, c.fault(err, "insert submission")
	}
	if !attempt.Recorded {
		return c.reject(req, ReasonAttemptLimitExceeded, remaining(ch.MaxAttempts, attempt.PriorAttempts)), nil
	}
	left := remaining(ch.MaxAttempts, attempt.PriorAttempts+1)

	if !correct {
		res := c.reject(req, ReasonIncorrectFlag, left)
		res.SubmissionID = sub.ID
		return res, nil
	}

	if err := ctx.Err(); err != nil {
		return Result{}, c.fault(err, "before solve insert")
	}

	solve := &model.Solve{
		ID:           uuid.New().String(),
		UserID:       req.UserID,
		TeamID:       req.teamID(),
		ChallengeID:  ch.ID,
		SubmissionID: sub.ID,
		Points:       points,
		SolvedAt:     now,
	}

	inserted, err := c.solves.InsertSolveIfFirst(ctx, solve)
	if err != nil {
		if isTimeout(err) {
			// The commit may have landed. A retry finds the solve and repairs
			// the aggregates.
			c.logger.Warn().
				Err(err).
				Str("userId", req.UserID).
				Str("challengeId", ch.ID).
				Str("solveId", solve.ID).
				Msg("Solve commit outcome unknown")
			c.unsettled.Store(solveKey(req.UserID, ch.ID), struct{}{})
		}
		return Result{}, c.fault(err, "insert solve")
	}
	if !inserted.Inserted {
		c.repair(ctx, req)
		res := c.reject(req, ReasonAlreadySolved, nil)
		res.SubmissionID = sub.ID
		return res, nil
	}
	solve.FirstBlood = inserted.FirstBlood

	c.afterSolve(ctx, ch, req, solve)

	c.logger.Info().
		Str("userId", req.UserID).
		Str("challengeId", ch.ID).
		Int("points", points).
		Bool("firstBlood", solve.FirstBlood).
		Msg("Challenge solved")

	return Result{
		Status:            StatusAccepted,
		Points:            points,
		FirstBlood:        solve.FirstBlood,
		RemainingAttempts: left,
		SubmissionID:      sub.ID,
	}, nil
}

// afterSolve runs once the solve is durable. It must not be cut short by the
// caller's deadline, and none of its failures can undo the solve.
func (c *Coordinator) afterSolve(ctx context.Context, ch *model.Challenge, req Request, solve *model.Solve) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultAfterSolve)
	defer cancel()

	c.metrics.IncSolve(solve.FirstBlood)

	if err := c.challenges.IncrementSolveCount(ctx, ch.ID); err != nil {
		c.logger.Error().Err(err).Str("challengeId", ch.ID).Msg("Failed to increment solve count")
	}

	c.recompute(ctx, req.UserID, solve.TeamID, true)

	if c.publisher == nil {
		return
	}

	broadcast.AnnounceSolve(c.publisher, events.SolveAnnouncedEvent{
		ChallengeID:    ch.ID,
		ChallengeTitle: ch.Title,
		UserID:         req.UserID,
		Username:       req.Username,
		TeamID:         solve.TeamID,
		Points:         solve.Points,
		IsFirstBlood:   solve.FirstBlood,
		Timestamp:      solve.SolvedAt.UTC().Format(time.RFC3339),
	})

	if solve.FirstBlood {
		c.publisher.Publish(broadcast.Admin(), events.AdminNotificationEvent{
			Type:    "first_blood",
			Message: fmt.Sprintf("%s drew first blood on %s", displayName(req), ch.Title),
			Data: map[string]interface{}{
				"challengeId": ch.ID,
				"userId":      req.UserID,
				"points":      solve.Points,
			},
			Timestamp: solve.SolvedAt.UTC().Format(time.RFC3339),
		})
	}
}

// recompute refreshes the participant's aggregates and, when asked, drops the
// cached boards.
func (c *Coordinator) recompute(ctx context.Context, userID string, teamID *string, invalidate bool) {
	if _, err := c.aggregator.RecomputeParticipant(ctx, userID); err != nil {
		c.logger.Error().Err(err).Str("userId", userID).Msg("Failed to recompute user score")
	}
	if invalidate {
		c.invalidate(events.LeaderboardUsers)
	}

	if teamID != nil {
		if _, err := c.aggregator.RecomputeTeam(ctx, *teamID); err != nil {
			c.logger.Error().Err(err).Str("teamId", *teamID).Msg("Failed to recompute team score")
		}
		if invalidate {
			c.invalidate(events.LeaderboardTeams)
		}
	}
}

// repair recomputes the aggregates of a participant who already holds the
// solve, so a solve committed under a lost acknowledgement is still counted.
// Recomputing is idempotent. Boards are only dropped for a solve this
// instance saw time out, so plain duplicates stay silent.
func (c *Coordinator) repair(ctx context.Context, req Request) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultAfterSolve)
	defer cancel()

	_, unsettled := c.unsettled.LoadAndDelete(solveKey(req.UserID, req.ChallengeID))
	c.recompute(ctx, req.UserID, req.teamID(), unsettled)
	if unsettled {
		c.logger.Info().
			Str("userId", req.UserID).
			Str("challengeId", req.ChallengeID).
			Msg("Scores repaired after unknown solve commit")
	}
}

func solveKey(userID, challengeID string) string {
	return userID + "\x00" + challengeID
}

func (c *Coordinator) invalidate(kind events.LeaderboardKind) {
	if c.leaderboard != nil {
		c.leaderboard.Invalidate(kind)
	}
}

func (c *Coordinator) reject(req Request, reason Reason, left *int) Result {
	c.logger.Debug().
		Str("userId", req.UserID).
		Str("challengeId", req.ChallengeID).
		Str("reason", string(reason)).
		Msg("Submission rejected")

	return Result{
		Status:            StatusRejected,
		Reason:            reason,
		RemainingAttempts: left,
	}
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

func (c *Coordinator) fault(err error, op string) error {
	if isTimeout(err) {
		c.logger.Warn().Err(err).Str("op", op).Msg("Submission timed out")
		return fmt.Errorf("%w: %s: %w", ErrTransient, op, err)
	}
	c.logger.Error().Err(err).Str("op", op).Msg("Submission dependency failed")
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

func remaining(limit *int, used int) *int {
	if limit == nil {
		return nil
	}
	left := *limit - used
	if left < 0 {
		left = 0
	}
	return &left
}

func displayName(req Request) string {
	if strings.TrimSpace(req.Username) != "" {
		return req.Username
	}
	return req.UserID
}
