package memory

import (
	"context"
	"sync"
	"time"

	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/model"
	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/store"
)

// Store keeps all state in process. Solve decisions serialize per challenge and
// attempt caps per (user, challenge); nothing else contends beyond short map locks.
type Store struct {
	mu          sync.RWMutex
	challenges  map[string]model.Challenge
	users       map[string]*model.Aggregate
	teams       map[string]*model.Aggregate
	submissions map[string][]model.Submission
	solves      map[string]*model.Solve
	solveOrder  []*model.Solve
	perChall    map[string]int

	challengeLocks keyedMutex
	attemptLocks   keyedMutex
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		challenges:  make(map[string]model.Challenge),
		users:       make(map[string]*model.Aggregate),
		teams:       make(map[string]*model.Aggregate),
		submissions: make(map[string][]model.Submission),
		solves:      make(map[string]*model.Solve),
		perChall:    make(map[string]int),
	}
}

func pairKey(userID, challengeID string) string {
	return userID + "\x00" + challengeID
}

// PutChallenge creates or replaces a challenge.
func (s *Store) PutChallenge(ch model.Challenge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[ch.ID] = ch
}

func (s *Store) PutParticipant(p model.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()

	agg, ok := s.users[p.ID]
	if !ok {
		agg = &model.Aggregate{Kind: model.AggregateUser, ID: p.ID}
		s.users[p.ID] = agg
	}
	agg.Name = p.Username
	agg.TeamID = p.TeamID
	agg.Active = p.Active
}

func (s *Store) PutTeam(t model.Team) {
	s.mu.Lock()
	defer s.mu.Unlock()

	agg, ok := s.teams[t.ID]
	if !ok {
		agg = &model.Aggregate{Kind: model.AggregateTeam, ID: t.ID}
		s.teams[t.ID] = agg
	}
	agg.Name = t.Name
	agg.Active = t.Active
}

func (s *Store) SeedChallenge(_ context.Context, ch model.Challenge) error {
	s.PutChallenge(ch)
	return nil
}

func (s *Store) SeedTeam(_ context.Context, t model.Team) error {
	s.PutTeam(t)
	return nil
}

func (s *Store) SeedParticipant(_ context.Context, p model.Participant) error {
	s.PutParticipant(p)
	return nil
}

func (s *Store) GetChallenge(ctx context.Context, id string) (*model.Challenge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ch, ok := s.challenges[id]
	if !ok {
		return nil, nil
	}
	return &ch, nil
}

func (s *Store) IncrementSolveCount(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.challenges[id]
	if !ok {
		return store.ErrNotFound
	}
	ch.SolveCount++
	s.challenges[id] = ch
	return nil
}

func (s *Store) HasSolve(ctx context.Context, userID, challengeID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.solves[pairKey(userID, challengeID)]
	return ok, nil
}

func (s *Store) CountSubmissions(ctx context.Context, userID, challengeID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.submissions[pairKey(userID, challengeID)]), nil
}

func (s *Store) InsertSubmission(ctx context.Context, sub *model.Submission, maxAttempts *int) (store.AttemptResult, error) {
	key := pairKey(sub.UserID, sub.ChallengeID)
	unlock := s.attemptLocks.lock(key)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return store.AttemptResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prior := len(s.submissions[key])
	if maxAttempts != nil && prior >= *maxAttempts {
		return store.AttemptResult{Recorded: false, PriorAttempts: prior}, nil
	}
	s.submissions[key] = append(s.submissions[key], *sub)
	return store.AttemptResult{Recorded: true, PriorAttempts: prior}, nil
}

func (s *Store) InsertSolveIfFirst(ctx context.Context, solve *model.Solve) (store.SolveResult, error) {
	unlock := s.challengeLocks.lock(solve.ChallengeID)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return store.SolveResult{}, err
	}

	key := pairKey(solve.UserID, solve.ChallengeID)

	s.mu.RLock()
	_, exists := s.solves[key]
	first := s.perChall[solve.ChallengeID] == 0
	s.mu.RUnlock()

	if exists {
		return store.SolveResult{Inserted: false}, nil
	}

	stored := *solve
	stored.FirstBlood = first
	if stored.SolvedAt.IsZero() {
		stored.SolvedAt = time.Now()
	}

	s.mu.Lock()
	s.solves[key] = &stored
	s.solveOrder = append(s.solveOrder, &stored)
	s.perChall[solve.ChallengeID]++
	s.mu.Unlock()

	solve.FirstBlood = first
	solve.SolvedAt = stored.SolvedAt
	return store.SolveResult{Inserted: true, FirstBlood: first}, nil
}

func (s *Store) ListSubmissions(ctx context.Context, userID, challengeID string) ([]model.Submission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	subs := s.submissions[pairKey(userID, challengeID)]
	out := make([]model.Submission, 0, len(subs))
	for i := len(subs) - 1; i >= 0; i-- {
		out = append(out, subs[i])
	}
	return out, nil
}

func (s *Store) ListSolvesForUser(ctx context.Context, userID string) ([]model.ScoredSolve, error) {
	return s.listSolves(ctx, func(sv *model.Solve) bool { return sv.UserID == userID })
}

func (s *Store) ListSolvesForTeam(ctx context.Context, teamID string) ([]model.ScoredSolve, error) {
	return s.listSolves(ctx, func(sv *model.Solve) bool { return sv.TeamID != nil && *sv.TeamID == teamID })
}

func (s *Store) listSolves(ctx context.Context, match func(*model.Solve) bool) ([]model.ScoredSolve, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.ScoredSolve
	for _, sv := range s.solveOrder {
		if !match(sv) {
			continue
		}
		out = append(out, model.ScoredSolve{
			Solve:           *sv,
			ChallengePoints: s.challenges[sv.ChallengeID].Points,
		})
	}
	return out, nil
}

func (s *Store) WriteUserAggregate(ctx context.Context, userID string, score, solveCount int, lastSolve *time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	agg, ok := s.users[userID]
	if !ok {
		agg = &model.Aggregate{Kind: model.AggregateUser, ID: userID, Name: userID, Active: true}
		s.users[userID] = agg
	}
	agg.Score = score
	agg.SolveCount = solveCount
	agg.LastSolveTime = lastSolve
	return nil
}

func (s *Store) WriteTeamAggregate(ctx context.Context, teamID string, score, solveCount int, lastSolve *time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	agg, ok := s.teams[teamID]
	if !ok {
		agg = &model.Aggregate{Kind: model.AggregateTeam, ID: teamID, Name: teamID, Active: true}
		s.teams[teamID] = agg
	}
	agg.Score = score
	agg.SolveCount = solveCount
	if lastSolve != nil {
		agg.LastSolveTime = lastSolve
	}
	return nil
}

func (s *Store) ListAggregates(ctx context.Context, kind model.AggregateKind) ([]model.Aggregate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := s.users
	if kind == model.AggregateTeam {
		src = s.teams
	}

	out := make([]model.Aggregate, 0, len(src))
	for _, agg := range src {
		if agg.Active {
			out = append(out, *agg)
		}
	}
	return out, nil
}

// Aggregate returns the cached aggregate for a user or team.
func (s *Store) Aggregate(kind model.AggregateKind, id string) (model.Aggregate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := s.users
	if kind == model.AggregateTeam {
		src = s.teams
	}
	agg, ok := src[id]
	if !ok {
		return model.Aggregate{}, false
	}
	return *agg, true
}

// Solves returns every recorded solve in insertion order.
func (s *Store) Solves() []model.Solve {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Solve, 0, len(s.solveOrder))
	for _, sv := range s.solveOrder {
		out = append(out, *sv)
	}
	return out
}

func (s *Store) Close() error { return nil }

type keyedMutex struct {
	locks sync.Map
}

func (k *keyedMutex) lock(key string) func() {
	v, _ := k.locks.LoadOrStore(key, &sync.Mutex{})
	m := v.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}
