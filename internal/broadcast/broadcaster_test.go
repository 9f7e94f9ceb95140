package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/metrics"
	"github.com/CDeX-Labs/CDeX-CTF-Core/pkg/events"
	"github.com/CDeX-Labs/CDeX-CTF-Core/pkg/protocol"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	topic Topic
	msg   *protocol.Message
}

type recordingSink struct {
	name  string
	mu    sync.Mutex
	got   []recorded
	err   error
	block chan struct{}
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Deliver(ctx context.Context, topic Topic, msg *protocol.Message) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, recorded{topic, msg})
	return s.err
}

func (s *recordingSink) snapshot() []recorded {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recorded(nil), s.got...)
}

func startBroadcaster(t *testing.T, queue int, m *metrics.Metrics, sinks ...Sink) *Broadcaster {
	t.Helper()
	b := New(queue, m, zerolog.Nop())
	for _, s := range sinks {
		b.AddSink(s)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return b
}

func TestTopicRoundTrip(t *testing.T) {
	for _, topic := range []Topic{Global(), Admin(), Team("t1"), Challenge("c1")} {
		parsed, ok := ParseTopic(topic.String())
		require.True(t, ok, topic.String())
		assert.Equal(t, topic, parsed)
	}

	assert.Equal(t, "challenge:c1", Challenge("c1").String())
	_, ok := ParseTopic("user:u1")
	assert.False(t, ok)
	_, ok = ParseTopic("team:")
	assert.False(t, ok)
}

func TestAnnounceSolveFansOutToThreeTopics(t *testing.T) {
	sink := &recordingSink{name: "rec"}
	b := startBroadcaster(t, 16, nil, sink)

	team := "red"
	b.AnnounceSolve(events.SolveAnnouncedEvent{
		ChallengeID:  "c1",
		UserID:       "alice",
		TeamID:       &team,
		Points:       100,
		IsFirstBlood: true,
	})

	require.Eventually(t, func() bool { return len(sink.snapshot()) == 3 }, time.Second, 5*time.Millisecond)

	byTopic := map[string]protocol.MessageType{}
	for _, r := range sink.snapshot() {
		byTopic[r.topic.String()] = r.msg.Type
	}
	assert.Equal(t, protocol.MsgChallengeSolved, byTopic["global"])
	assert.Equal(t, protocol.MsgChallengeUpdate, byTopic["challenge:c1"])
	assert.Equal(t, protocol.MsgTeamSolve, byTopic["team:red"])

	var payload events.SolveAnnouncedEvent
	require.NoError(t, sink.snapshot()[0].msg.DecodePayload(&payload))
	assert.True(t, payload.IsFirstBlood)
	assert.Equal(t, 100, payload.Points)
}

func TestAnnounceSolveWithoutTeam(t *testing.T) {
	sink := &recordingSink{name: "rec"}
	b := startBroadcaster(t, 16, nil, sink)

	b.AnnounceSolve(events.SolveAnnouncedEvent{ChallengeID: "c1", UserID: "solo"})

	require.Eventually(t, func() bool { return len(sink.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, sink.snapshot(), 2)
}

func TestPublishDoesNotBlockOnSlowSink(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	slow := &recordingSink{name: "slow", block: make(chan struct{})}
	fast := &recordingSink{name: "fast"}
	b := startBroadcaster(t, 2, m, slow, fast)
	t.Cleanup(func() { close(slow.block) })

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			b.SystemMessage(events.SeverityInfo, "hello")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow sink")
	}

	assert.Greater(t, testutil.ToFloat64(m.BroadcastDropped.WithLabelValues("slow")), 0.0)
	require.Eventually(t, func() bool { return len(fast.snapshot()) > 0 }, time.Second, 5*time.Millisecond)
}

func TestSinkErrorsAreSwallowed(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	failing := &recordingSink{name: "failing", err: errors.New("redis down")}
	b := startBroadcaster(t, 8, m, failing)

	b.CompetitionStatus(events.CompetitionRunning)
	b.InvalidateLeaderboard(events.LeaderboardTeams)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.BroadcastEvents.WithLabelValues("failing", "error")) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestNotifyAdminsUsesAdminTopic(t *testing.T) {
	sink := &recordingSink{name: "rec"}
	b := startBroadcaster(t, 8, nil, sink)

	b.NotifyAdmins(events.AdminNotificationEvent{Type: "first_blood", Message: "c1 solved"})

	require.Eventually(t, func() bool { return len(sink.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	got := sink.snapshot()[0]
	assert.Equal(t, Admin(), got.topic)
	assert.Equal(t, protocol.MsgAdminNotification, got.msg.Type)
}
