// Package mining runs a mining session: a cosmetic progress animation
// concurrent with the single remote mining call that does the real work.
package mining

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mordris/ledgerwatch/internal/ledger"
	"github.com/mordris/ledgerwatch/internal/notify"
	"github.com/mordris/ledgerwatch/pkg/errs"
)

// ErrSessionActive is returned when Start is called while a session is running.
var ErrSessionActive = errors.New("mining session already active")

// Miner performs the remote mining call.
type Miner interface {
	MineBlock(ctx context.Context, minerPublicKey string) (ledger.MineResult, error)
}

// ProgressView shows the animation of a running session.
type ProgressView interface {
	ShowProgress(f Frame)
	Dismiss(sessionID string)
}

// Options tunes the controller. A zero Tick selects 60ms.
type Options struct {
	Tick time.Duration
	// DisplayDelay is how long a mined block stays on screen. Zero dismisses
	// it at once; config.Load supplies the 1200ms default.
	DisplayDelay time.Duration
	NewTicker    func(time.Duration) Ticker
}

// Controller owns at most one Session at a time.
type Controller struct {
	miner    Miner
	view     ProgressView
	notifier notify.Notifier
	opts     Options

	mu      sync.Mutex
	session *Session
}

// NewController creates a Controller.
func NewController(miner Miner, view ProgressView, notifier notify.Notifier, opts Options) *Controller {
	if opts.Tick <= 0 {
		opts.Tick = 60 * time.Millisecond
	}
	if opts.DisplayDelay < 0 {
		opts.DisplayDelay = 0
	}
	if opts.NewTicker == nil {
		opts.NewTicker = NewTimeTicker
	}
	if notifier == nil {
		notifier = notify.Log{}
	}
	return &Controller{miner: miner, view: view, notifier: notifier, opts: opts}
}

// State returns the state of the active session, or Idle.
func (c *Controller) State() State {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return Idle
	}
	return s.State()
}

// Start begins a session mining pendingTxCount transactions for minerPublicKey.
//
// A blank miner key or an empty pending pool leaves the controller Idle without
// any network call.
func (c *Controller) Start(ctx context.Context, pendingTxCount int, minerPublicKey string) (*Session, error) {
	if strings.TrimSpace(minerPublicKey) == "" {
		err := errs.New(errs.InvalidInput, "mine-block",
			"Miner Reward Address (Public Key) is required and cannot be empty.")
		c.notifier.Notify(err.Message, true)
		return nil, err
	}
	if pendingTxCount <= 0 {
		err := errs.New(errs.NoPendingWork, "mine-block", "No pending transactions to mine.")
		c.notifier.Notify(err.Message, true)
		return nil, err
	}

	c.mu.Lock()
	if c.session != nil {
		c.mu.Unlock()
		return nil, ErrSessionActive
	}
	s := newSession(uuid.NewString(), c.opts.NewTicker(c.opts.Tick))
	c.session = s
	c.mu.Unlock()

	slog.Info("mining session started", "session", s.ID, "pending", pendingTxCount)
	c.view.ShowProgress(Frame{SessionID: s.ID})

	results := make(chan mineOutcome, 1)
	go func() {
		res, err := c.miner.MineBlock(ctx, minerPublicKey)
		results <- mineOutcome{res: res, err: err}
	}()
	go c.run(ctx, s, results)

	return s, nil
}

type mineOutcome struct {
	res ledger.MineResult
	err error
}

// run animates s until the mining call settles, then settles the session.
func (c *Controller) run(ctx context.Context, s *Session, results <-chan mineOutcome) {
	tickC, stopped := s.ticker.C(), s.stopped
	for {
		select {
		case now := <-tickC:
			c.view.ShowProgress(s.tick(now))
		case <-stopped:
			tickC, stopped = nil, nil
		case out := <-results:
			s.StopAnimation()
			c.settle(ctx, s, out)
			return
		}
	}
}

func (c *Controller) settle(ctx context.Context, s *Session, out mineOutcome) {
	s.setState(Settling)
	defer c.finish(s)

	if out.err == nil && out.res.Block == nil {
		msg := out.res.Message
		if msg == "" {
			msg = "Mining finished without a block."
		}
		out.err = errs.New(errs.Rejected, "mine-block", msg)
		c.notifier.Notify("Error mining block: "+msg, true)
	}

	s.mu.Lock()
	s.result, s.err = out.res, out.err
	s.mu.Unlock()

	if out.err != nil {
		slog.Warn("mining session failed", "session", s.ID, "err", out.err)
		c.view.Dismiss(s.ID)
		return
	}

	block := out.res.Block
	c.view.ShowProgress(Frame{
		SessionID:   s.ID,
		Attempts:    s.Attempts(),
		Elapsed:     time.Since(s.StartedAt),
		Progress:    100,
		HashPreview: block.HashPrefix(10),
		Final:       true,
	})

	timer := time.NewTimer(c.opts.DisplayDelay)
	select {
	case <-timer.C:
	case <-ctx.Done():
		timer.Stop()
	}

	c.view.Dismiss(s.ID)
	msg := out.res.Message
	if msg == "" {
		msg = fmt.Sprintf("Block #%d mined!", block.Index)
	}
	c.notifier.Notify(msg, false)
	slog.Info("block mined", "session", s.ID, "index", block.Index, "hash", block.Hash,
		"attempts", s.Attempts(), "duration", out.res.Duration)
}

// finish marks s Done and returns the controller to Idle.
func (c *Controller) finish(s *Session) {
	s.setState(Done)
	c.mu.Lock()
	if c.session == s {
		c.session = nil
	}
	c.mu.Unlock()
	close(s.done)
}
