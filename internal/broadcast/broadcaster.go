package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/metrics"
	"github.com/CDeX-Labs/CDeX-CTF-Core/pkg/events"
	"github.com/CDeX-Labs/CDeX-CTF-Core/pkg/protocol"
	"github.com/rs/zerolog"
)

const (
	DefaultQueueSize = 1024
	deliverTimeout   = 3 * time.Second
)

// Sink receives encoded events for a topic. Hub, Redis and Kafka each provide one.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, topic Topic, msg *protocol.Message) error
}

// Publisher is the publish side of the broadcaster, as seen by the code that
// produces events.
type Publisher interface {
	Publish(topic Topic, ev events.Event)
}

type delivery struct {
	topic Topic
	msg   *protocol.Message
}

type sinkWorker struct {
	sink  Sink
	queue chan delivery
}

// Broadcaster fans events out to every registered sink. Publish never blocks and
// never fails: each sink has its own bounded queue, and an event is dropped for a
// sink whose queue is full. Delivery is at most once with no retry.
type Broadcaster struct {
	workers   []*sinkWorker
	queueSize int
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	mu      sync.RWMutex
	running bool
	wg      sync.WaitGroup
}

func New(queueSize int, m *metrics.Metrics, logger zerolog.Logger) *Broadcaster {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Broadcaster{
		queueSize: queueSize,
		metrics:   m,
		logger:    logger.With().Str("component", "broadcaster").Logger(),
	}
}

// AddSink registers a sink. Sinks must be added before Run.
func (b *Broadcaster) AddSink(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		b.logger.Warn().Str("sink", s.Name()).Msg("Sink added after start, ignoring")
		return
	}
	b.workers = append(b.workers, &sinkWorker{
		sink:  s,
		queue: make(chan delivery, b.queueSize),
	})
}

// Run starts one dispatcher per sink and blocks until ctx is cancelled.
func (b *Broadcaster) Run(ctx context.Context) {
	b.mu.Lock()
	b.running = true
	workers := b.workers
	b.mu.Unlock()

	for _, w := range workers {
		b.wg.Add(1)
		go b.dispatch(ctx, w)
	}

	b.logger.Info().Int("sinks", len(workers)).Msg("Broadcaster started")
	<-ctx.Done()
	b.wg.Wait()
	b.logger.Info().Msg("Broadcaster stopped")
}

func (b *Broadcaster) dispatch(ctx context.Context, w *sinkWorker) {
	defer b.wg.Done()

	name := w.sink.Name()
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-w.queue:
			dctx, cancel := context.WithTimeout(ctx, deliverTimeout)
			err := w.sink.Deliver(dctx, d.topic, d.msg)
			cancel()

			if err != nil {
				b.metrics.IncBroadcast(name, "error")
				b.logger.Warn().
					Err(err).
					Str("sink", name).
					Str("topic", d.topic.String()).
					Str("type", string(d.msg.Type)).
					Msg("Failed to deliver event")
				continue
			}
			b.metrics.IncBroadcast(name, "ok")
		}
	}
}

// Publish encodes ev and queues it for every sink.
func (b *Broadcaster) Publish(topic Topic, ev events.Event) {
	msg, err := protocol.NewMessage(ev.MessageType(), ev)
	if err != nil {
		b.logger.Error().Err(err).Str("topic", topic.String()).Msg("Failed to encode event")
		return
	}
	b.PublishMessage(topic, msg)
}

// PublishMessage queues an already encoded message.
func (b *Broadcaster) PublishMessage(topic Topic, msg *protocol.Message) {
	b.mu.RLock()
	workers := b.workers
	b.mu.RUnlock()

	for _, w := range workers {
		select {
		case w.queue <- delivery{topic: topic, msg: msg}:
		default:
			b.metrics.IncBroadcastDropped(w.sink.Name())
			b.logger.Warn().
				Str("sink", w.sink.Name()).
				Str("topic", topic.String()).
				Msg("Sink queue full, dropping event")
		}
	}
}

// AnnounceSolve sends a solve to the global feed, the challenge's viewers and,
// when the solver has one, the solver's team.
func (b *Broadcaster) AnnounceSolve(ev events.SolveAnnouncedEvent) {
	AnnounceSolve(b, ev)
}

func AnnounceSolve(p Publisher, ev events.SolveAnnouncedEvent) {
	global := ev
	global.Variant = protocol.MsgChallengeSolved
	p.Publish(Global(), global)

	scoped := ev
	scoped.Variant = protocol.MsgChallengeUpdate
	p.Publish(Challenge(ev.ChallengeID), scoped)

	if ev.TeamID != nil && *ev.TeamID != "" {
		team := ev
		team.Variant = protocol.MsgTeamSolve
		p.Publish(Team(*ev.TeamID), team)
	}
}

func (b *Broadcaster) InvalidateLeaderboard(kind events.LeaderboardKind) {
	b.Publish(Global(), events.LeaderboardInvalidatedEvent{
		Kind:      kind,
		Timestamp: now(),
	})
}

func (b *Broadcaster) CompetitionStatus(status events.CompetitionStatus) {
	b.Publish(Global(), events.CompetitionStatusChangedEvent{
		Status:    status,
		Timestamp: now(),
	})
}

func (b *Broadcaster) SystemMessage(severity events.Severity, message string) {
	b.Publish(Global(), events.SystemMessageEvent{
		Severity:  severity,
		Message:   message,
		Timestamp: now(),
	})
}

func (b *Broadcaster) NotifyAdmins(ev events.AdminNotificationEvent) {
	if ev.Timestamp == "" {
		ev.Timestamp = now()
	}
	b.Publish(Admin(), ev)
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
