package mining

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/mordris/ledgerwatch/internal/ledger"
)

// State of a mining session.
type State int

const (
	Idle State = iota
	Animating
	Settling
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Animating:
		return "animating"
	case Settling:
		return "settling"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Frame is one progress update shown while a session runs.
type Frame struct {
	SessionID   string
	Attempts    int
	Elapsed     time.Duration
	Progress    float64 // percent
	HashPreview string
	Final       bool
}

// Ticker drives the animation loop.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// NewTimeTicker returns a Ticker backed by time.Ticker.
func NewTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

// Session is one mining attempt. It is never persisted.
type Session struct {
	ID        string
	StartedAt time.Time

	ticker   Ticker
	stopOnce sync.Once
	stopped  chan struct{}
	done     chan struct{}

	mu       sync.Mutex
	state    State
	attempts int
	result   ledger.MineResult
	err      error
}

func newSession(id string, ticker Ticker) *Session {
	return &Session{
		ID:        id,
		StartedAt: time.Now(),
		ticker:    ticker,
		stopped:   make(chan struct{}),
		done:      make(chan struct{}),
		state:     Animating,
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Attempts returns the number of animation ticks so far.
func (s *Session) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Result returns the outcome of the mining call. Valid once Wait returns.
func (s *Session) Result() (ledger.MineResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, s.err
}

// Wait blocks until the session is Done.
func (s *Session) Wait() {
	<-s.done
}

// StopAnimation stops the tick loop. Safe to call any number of times.
func (s *Session) StopAnimation() {
	s.stopOnce.Do(func() {
		s.ticker.Stop()
		close(s.stopped)
	})
}

// tick advances the animation by one step.
func (s *Session) tick(now time.Time) Frame {
	s.mu.Lock()
	s.attempts++
	n := s.attempts
	s.mu.Unlock()
	return Frame{
		SessionID:   s.ID,
		Attempts:    n,
		Elapsed:     now.Sub(s.StartedAt),
		Progress:    min(95, float64(n%100)*0.95),
		HashPreview: randomHashPreview(),
	}
}

func randomHashPreview() string {
	return fmt.Sprintf("%010x", rand.Uint64N(1<<40))
}
