package clock

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// System returns the wall clock.
func System() Clock { return systemClock{} }

// Window bounds the competition. A nil bound is open on that side. A closed
// window contains no instant at all.
type Window struct {
	Start  *time.Time
	End    *time.Time
	Closed bool
}

func (w Window) Contains(t time.Time) bool {
	if w.Closed {
		return false
	}
	if w.Start != nil && t.Before(*w.Start) {
		return false
	}
	if w.End != nil && t.After(*w.End) {
		return false
	}
	return true
}

// Schedule supplies the competition window; it may change while the process runs.
type Schedule interface {
	Window() Window
}

// StaticSchedule is a Schedule whose window can be replaced at runtime.
type StaticSchedule struct {
	mu     sync.RWMutex
	window Window
}

func NewStaticSchedule(w Window) *StaticSchedule {
	return &StaticSchedule{window: w}
}

func (s *StaticSchedule) Window() Window {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.window
}

func (s *StaticSchedule) Set(w Window) {
	s.mu.Lock()
	s.window = w
	s.mu.Unlock()
}

// Gate closes a StaticSchedule while the competition is paused or over, and
// reopens it to the window it was created with.
type Gate struct {
	schedule *StaticSchedule
	base     Window
}

func NewGate(s *StaticSchedule) *Gate {
	return &Gate{schedule: s, base: s.Window()}
}

func (g *Gate) Open() {
	g.schedule.Set(g.base)
}

func (g *Gate) Close() {
	w := g.base
	w.Closed = true
	g.schedule.Set(w)
}

// Fixed is a Clock frozen at a settable instant, used in tests.
type Fixed struct {
	mu  sync.Mutex
	now time.Time
}

func NewFixed(t time.Time) *Fixed { return &Fixed{now: t} }

func (f *Fixed) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fixed) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}
