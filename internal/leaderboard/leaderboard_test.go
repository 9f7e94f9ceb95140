package leaderboard

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/broadcast"
	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/model"
	redisclient "github.com/CDeX-Labs/CDeX-CTF-Core/internal/redis"
	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/store/memory"
	"github.com/CDeX-Labs/CDeX-CTF-Core/pkg/events"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestRedis(t *testing.T) (*redisclient.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := redisclient.Wrap(redis.NewClient(&redis.Options{Addr: mr.Addr()}), nil, zerolog.Nop())
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func seed(t *testing.T) *memory.Store {
	t.Helper()
	s := memory.New()
	ctx := context.Background()

	early := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	late := early.Add(time.Hour)

	s.PutTeam(model.Team{ID: "t1", Name: "late", Active: true})
	s.PutTeam(model.Team{ID: "t2", Name: "early", Active: true})
	s.PutTeam(model.Team{ID: "t3", Name: "idle", Active: true})
	require.NoError(t, s.WriteTeamAggregate(ctx, "t1", 500, 3, &late))
	require.NoError(t, s.WriteTeamAggregate(ctx, "t2", 500, 5, &early))

	s.PutParticipant(model.Participant{ID: "u1", Username: "many", Active: true})
	s.PutParticipant(model.Participant{ID: "u2", Username: "few", Active: true})
	s.PutParticipant(model.Participant{ID: "u3", Username: "top", Active: true})
	require.NoError(t, s.WriteUserAggregate(ctx, "u1", 300, 3, &early))
	require.NoError(t, s.WriteUserAggregate(ctx, "u2", 300, 1, &late))
	require.NoError(t, s.WriteUserAggregate(ctx, "u3", 900, 4, &late))
	return s
}

func TestTeamsRankedByScoreThenEarliestSolve(t *testing.T) {
	svc := NewService(seed(t), nil, 0, zerolog.Nop())

	board, err := svc.Teams(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, board.Entries, 3)
	assert.Equal(t, 3, board.Total)

	assert.Equal(t, "early", board.Entries[0].Name)
	assert.Equal(t, 1, board.Entries[0].Rank)
	assert.Equal(t, "late", board.Entries[1].Name)
	assert.Equal(t, "idle", board.Entries[2].Name)
}

func TestUsersRankedByScoreThenFewerSolves(t *testing.T) {
	svc := NewService(seed(t), nil, 0, zerolog.Nop())

	board, err := svc.Users(context.Background(), 2, 1)
	require.NoError(t, err)
	require.Len(t, board.Entries, 2)

	assert.Equal(t, "few", board.Entries[0].Name)
	assert.Equal(t, 2, board.Entries[0].Rank)
	assert.Equal(t, "many", board.Entries[1].Name)
	assert.Equal(t, 3, board.Entries[1].Rank)
}

func TestCacheServesUntilDropped(t *testing.T) {
	s := seed(t)
	cache, mr := createTestRedis(t)
	svc := NewService(s, cache, time.Minute, zerolog.Nop())
	ctx := context.Background()

	_, err := svc.Users(ctx, 10, 0)
	require.NoError(t, err)
	assert.True(t, mr.Exists("leaderboard:user"))

	require.NoError(t, s.WriteUserAggregate(ctx, "u1", 5000, 4, nil))

	board, err := svc.Users(ctx, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, "top", board.Entries[0].Name)

	require.NoError(t, svc.Drop(ctx, events.LeaderboardUsers))
	assert.False(t, mr.Exists("leaderboard:user"))

	board, err = svc.Users(ctx, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, "many", board.Entries[0].Name)
}

type countingPublisher struct {
	mu   sync.Mutex
	seen []events.LeaderboardKind
}

func (p *countingPublisher) Publish(topic broadcast.Topic, ev events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if inv, ok := ev.(events.LeaderboardInvalidatedEvent); ok && topic == broadcast.Global() {
		p.seen = append(p.seen, inv.Kind)
	}
}

func (p *countingPublisher) kinds() []events.LeaderboardKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.LeaderboardKind(nil), p.seen...)
}

func TestNotifierCoalescesBursts(t *testing.T) {
	cache, mr := createTestRedis(t)
	svc := NewService(seed(t), cache, time.Minute, zerolog.Nop())
	pub := &countingPublisher{}
	n := NewNotifier(svc, pub, 30*time.Millisecond, zerolog.Nop())
	t.Cleanup(n.Stop)

	_, err := svc.Teams(context.Background(), 10, 0)
	require.NoError(t, err)
	require.True(t, mr.Exists("leaderboard:team"))

	for i := 0; i < 10; i++ {
		n.Invalidate(events.LeaderboardTeams)
	}
	n.Invalidate(events.LeaderboardUsers)

	assert.False(t, mr.Exists("leaderboard:team"))

	require.Eventually(t, func() bool { return len(pub.kinds()) == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.ElementsMatch(t, []events.LeaderboardKind{events.LeaderboardTeams, events.LeaderboardUsers}, pub.kinds())
}

func TestNotifierStopCancelsPending(t *testing.T) {
	pub := &countingPublisher{}
	n := NewNotifier(nil, pub, 20*time.Millisecond, zerolog.Nop())

	n.Invalidate(events.LeaderboardUsers)
	n.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, pub.kinds())
}

func TestNotifierDropsStaleRecacheBeforeAnnouncing(t *testing.T) {
	s := seed(t)
	cache, mr := createTestRedis(t)
	svc := NewService(s, cache, time.Minute, zerolog.Nop())
	pub := &countingPublisher{}
	n := NewNotifier(svc, pub, 100*time.Millisecond, zerolog.Nop())
	t.Cleanup(n.Stop)
	ctx := context.Background()

	n.Invalidate(events.LeaderboardUsers)
	assert.False(t, mr.Exists("leaderboard:user"))

	// A read that lands between the drop and the aggregate write caches the old order.
	_, err := svc.Users(ctx, 10, 0)
	require.NoError(t, err)
	require.True(t, mr.Exists("leaderboard:user"))
	require.NoError(t, s.WriteUserAggregate(ctx, "u1", 5000, 4, nil))

	require.Eventually(t, func() bool { return len(pub.kinds()) == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, mr.Exists("leaderboard:user"))

	board, err := svc.Users(ctx, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, "many", board.Entries[0].Name)
}
