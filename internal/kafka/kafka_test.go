package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/broadcast"
	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/clock"
	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/metrics"
	"github.com/CDeX-Labs/CDeX-CTF-Core/pkg/events"
	"github.com/CDeX-Labs/CDeX-CTF-Core/pkg/protocol"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingAnnouncer struct {
	statuses []events.CompetitionStatus
	system   []events.SystemMessageEvent
	admin    []events.AdminNotificationEvent
}

func (r *recordingAnnouncer) CompetitionStatus(status events.CompetitionStatus) {
	r.statuses = append(r.statuses, status)
}

func (r *recordingAnnouncer) SystemMessage(severity events.Severity, message string) {
	r.system = append(r.system, events.SystemMessageEvent{Severity: severity, Message: message})
}

func (r *recordingAnnouncer) NotifyAdmins(ev events.AdminNotificationEvent) {
	r.admin = append(r.admin, ev)
}

func message(value string) kafka.Message {
	return kafka.Message{Value: []byte(value)}
}

func TestHandleCompetitionStatus(t *testing.T) {
	a := &recordingAnnouncer{}
	h := NewHandlers(a, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, h.HandleCompetitionStatus(ctx, message(`{"status":"paused"}`)))
	assert.Equal(t, []events.CompetitionStatus{events.CompetitionPaused}, a.statuses)

	assert.Error(t, h.HandleCompetitionStatus(ctx, message(`{"status":"exploded"}`)))
	assert.Error(t, h.HandleCompetitionStatus(ctx, message(`not json`)))
	assert.Len(t, a.statuses, 1)
}

func TestCompetitionStatusGatesSchedule(t *testing.T) {
	schedule := clock.NewStaticSchedule(clock.Window{})
	h := NewHandlers(&recordingAnnouncer{}, zerolog.Nop()).WithGate(clock.NewGate(schedule))
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, h.HandleCompetitionStatus(ctx, message(`{"status":"paused"}`)))
	assert.False(t, schedule.Window().Contains(now))

	require.NoError(t, h.HandleCompetitionStatus(ctx, message(`{"status":"running"}`)))
	assert.True(t, schedule.Window().Contains(now))

	require.NoError(t, h.HandleCompetitionStatus(ctx, message(`{"status":"ended"}`)))
	assert.False(t, schedule.Window().Contains(now))

	require.Error(t, h.HandleCompetitionStatus(ctx, message(`{"status":"exploded"}`)))
	assert.False(t, schedule.Window().Contains(now))
}

func TestHandleSystemMessage(t *testing.T) {
	a := &recordingAnnouncer{}
	h := NewHandlers(a, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, h.HandleSystemMessage(ctx, message(`{"message":"Hints unlocked"}`)))
	require.NoError(t, h.HandleSystemMessage(ctx, message(`{"type":"warning","message":"Ten minutes left"}`)))
	assert.Error(t, h.HandleSystemMessage(ctx, message(`{"type":"info"}`)))

	require.Len(t, a.system, 2)
	assert.Equal(t, events.SeverityInfo, a.system[0].Severity)
	assert.Equal(t, events.SeverityWarning, a.system[1].Severity)
	assert.Equal(t, "Ten minutes left", a.system[1].Message)
}

func TestHandleAdminNotification(t *testing.T) {
	a := &recordingAnnouncer{}
	h := NewHandlers(a, zerolog.Nop())

	require.NoError(t, h.HandleAdminNotification(context.Background(),
		message(`{"type":"challenge_reported","message":"web-1 is down","data":{"challengeId":"web-1"}}`)))

	require.Len(t, a.admin, 1)
	assert.Equal(t, "challenge_reported", a.admin[0].Type)
	assert.Equal(t, "web-1", a.admin[0].Data["challengeId"])
}

func TestConsumerHandleCountsOutcomes(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	c := &Consumer{handlers: map[string]EventHandler{}, metrics: m, logger: zerolog.Nop()}
	c.RegisterHandler("ok", func(context.Context, kafka.Message) error { return nil })
	c.RegisterHandler("bad", func(context.Context, kafka.Message) error { return errors.New("boom") })

	ctx := context.Background()
	c.handle(ctx, "ok", kafka.Message{})
	c.handle(ctx, "bad", kafka.Message{})
	c.handle(ctx, "missing", kafka.Message{})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.KafkaMessages.WithLabelValues("ok", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.KafkaMessages.WithLabelValues("bad", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.KafkaMessages.WithLabelValues("missing", "unhandled")))
}

type memoryWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *memoryWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *memoryWriter) Close() error { return nil }

func TestProducerDeliver(t *testing.T) {
	w := &memoryWriter{}
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	p := newProducer(w, "ctf.events", m, zerolog.Nop())

	msg, err := protocol.NewMessage(protocol.MsgSystemMessage, events.SystemMessageEvent{Message: "hi"})
	require.NoError(t, err)

	require.NoError(t, p.Deliver(context.Background(), broadcast.Challenge("web-1"), msg))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "challenge:web-1", string(w.msgs[0].Key))
	assert.Equal(t, "system_message", string(w.msgs[0].Headers[0].Value))

	var decoded protocol.Message
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, protocol.MsgSystemMessage, decoded.Type)

	w.err = errors.New("broker down")
	assert.Error(t, p.Deliver(context.Background(), broadcast.Global(), msg))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.KafkaMessages.WithLabelValues("ctf.events", "produced")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.KafkaMessages.WithLabelValues("ctf.events", "error")))
}
