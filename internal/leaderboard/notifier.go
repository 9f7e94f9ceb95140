package leaderboard

import (
	"context"
	"sync"
	"time"

	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/broadcast"
	"github.com/CDeX-Labs/CDeX-CTF-Core/pkg/events"
	"github.com/rs/zerolog"
)

const (
	DefaultDebounce = 2 * time.Second
	dropTimeout     = 2 * time.Second
)

// Notifier reacts to aggregate changes. The cache entry is dropped right away
// and again when the debounce window closes, since a read racing the aggregate
// write can re-cache the old ordering in between. The leaderboard_update
// broadcast is coalesced to at most one per kind per debounce window and goes
// out after the second drop.
type Notifier struct {
	service   *Service
	publisher broadcast.Publisher
	debounce  time.Duration
	logger    zerolog.Logger

	mu      sync.Mutex
	pending map[events.LeaderboardKind]*time.Timer
	stopped bool
}

func NewNotifier(service *Service, publisher broadcast.Publisher, debounce time.Duration, logger zerolog.Logger) *Notifier {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Notifier{
		service:   service,
		publisher: publisher,
		debounce:  debounce,
		logger:    logger.With().Str("component", "leaderboard-notifier").Logger(),
		pending:   make(map[events.LeaderboardKind]*time.Timer),
	}
}

func (n *Notifier) Invalidate(kind events.LeaderboardKind) {
	n.drop(kind)

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.stopped {
		return
	}
	if _, ok := n.pending[kind]; ok {
		return
	}
	n.pending[kind] = time.AfterFunc(n.debounce, func() { n.flush(kind) })
}

func (n *Notifier) flush(kind events.LeaderboardKind) {
	n.mu.Lock()
	delete(n.pending, kind)
	stopped := n.stopped
	n.mu.Unlock()

	if stopped {
		return
	}

	n.drop(kind)
	if n.publisher == nil {
		return
	}

	n.publisher.Publish(broadcast.Global(), events.LeaderboardInvalidatedEvent{
		Kind:      kind,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	n.logger.Debug().Str("kind", string(kind)).Msg("Leaderboard update announced")
}

func (n *Notifier) drop(kind events.LeaderboardKind) {
	if n.service == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), dropTimeout)
	defer cancel()
	if err := n.service.Drop(ctx, kind); err != nil {
		n.logger.Warn().Err(err).Str("kind", string(kind)).Msg("Failed to drop leaderboard cache")
	}
}

// Stop cancels pending announcements.
func (n *Notifier) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.stopped = true
	for kind, t := range n.pending {
		t.Stop()
		delete(n.pending, kind)
	}
}
