package leaderboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/model"
	redisclient "github.com/CDeX-Labs/CDeX-CTF-Core/internal/redis"
	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/scoring"
	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/store"
	"github.com/CDeX-Labs/CDeX-CTF-Core/pkg/events"
	"github.com/rs/zerolog"
)

const (
	DefaultCacheTTL = 30 * time.Second
	cacheKeyFmt     = "leaderboard:%s"
)

// Board is one page of a leaderboard plus the number of ranked entries.
type Board struct {
	Entries []scoring.Ranked `json:"entries"`
	Total   int              `json:"total"`
}

// Service serves ranked leaderboards. The full ordering is cached in redis
// until the next solve invalidates it; a nil cache reads the store every time.
type Service struct {
	store  store.Leaderboards
	cache  *redisclient.Client
	ttl    time.Duration
	logger zerolog.Logger
}

func NewService(s store.Leaderboards, cache *redisclient.Client, ttl time.Duration, logger zerolog.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Service{
		store:  s,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With().Str("component", "leaderboard").Logger(),
	}
}

func (s *Service) Teams(ctx context.Context, limit, offset int) (Board, error) {
	return s.board(ctx, events.LeaderboardTeams, limit, offset)
}

func (s *Service) Users(ctx context.Context, limit, offset int) (Board, error) {
	return s.board(ctx, events.LeaderboardUsers, limit, offset)
}

func (s *Service) board(ctx context.Context, kind events.LeaderboardKind, limit, offset int) (Board, error) {
	ordered, err := s.ordered(ctx, kind)
	if err != nil {
		return Board{}, err
	}
	return Board{
		Entries: scoring.Page(ordered, limit, offset),
		Total:   len(ordered),
	}, nil
}

func (s *Service) ordered(ctx context.Context, kind events.LeaderboardKind) ([]model.Aggregate, error) {
	key := cacheKey(kind)

	if s.cache != nil {
		raw, err := s.cache.Get(ctx, key)
		switch {
		case err == nil:
			var cached []model.Aggregate
			if err := json.Unmarshal([]byte(raw), &cached); err == nil {
				return cached, nil
			}
			s.logger.Warn().Str("key", key).Msg("Discarding unreadable leaderboard cache entry")
		case !errors.Is(err, redisclient.ErrNil):
			s.logger.Warn().Err(err).Str("key", key).Msg("Leaderboard cache read failed")
		}
	}

	aggKind := model.AggregateUser
	if kind == events.LeaderboardTeams {
		aggKind = model.AggregateTeam
	}

	all, err := s.store.ListAggregates(ctx, aggKind)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s aggregates: %w", aggKind, err)
	}

	var ordered []model.Aggregate
	if kind == events.LeaderboardTeams {
		ordered = scoring.RankTeams(all)
	} else {
		ordered = scoring.RankUsers(all)
	}

	if s.cache != nil {
		if data, err := json.Marshal(ordered); err == nil {
			if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
				s.logger.Warn().Err(err).Str("key", key).Msg("Leaderboard cache write failed")
			}
		}
	}

	return ordered, nil
}

// Drop removes the cached ordering for kind.
func (s *Service) Drop(ctx context.Context, kind events.LeaderboardKind) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Del(ctx, cacheKey(kind))
}

func cacheKey(kind events.LeaderboardKind) string {
	return fmt.Sprintf(cacheKeyFmt, kind)
}
