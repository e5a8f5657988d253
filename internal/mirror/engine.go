// Package mirror keeps the local view of the ledger in step with the service.
//
// Push events from the event channel replace status and blocks; every accepted
// push triggers a pull of the directory and the active user's balance. All
// writes go through Engine, which publishes fully built snapshots.
package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/mordris/ledgerwatch/internal/notify"
	"github.com/mordris/ledgerwatch/internal/wallet"
	"github.com/mordris/ledgerwatch/pkg/errs"
	"github.com/mordris/ledgerwatch/pkg/models"
)

// Push events understood by the engine.
const (
	EventInitialState      = "initial_state"
	EventBlockchainUpdated = "blockchain_updated"
	// EventRequestUpdate asks the service to push its full state again.
	EventRequestUpdate = "request_update"
)

// ErrNotConnected is returned by RequestUpdate while the event channel is down.
var ErrNotConnected = errors.New("not connected to server")

// Source is the pull side: the ledger façade.
type Source interface {
	Directory(ctx context.Context) ([]models.DirectoryEntry, error)
	Balance(ctx context.Context, publicKey string) (float64, error)
}

// Identity exposes the active key pair, if any.
type Identity interface {
	Current() (wallet.KeyPair, bool)
}

// Emitter is the outbound side of the event channel.
type Emitter interface {
	Connected() bool
	Emit(event string, payload any) error
}

// Target receives every published snapshot.
// ShowLedger follows a push; ShowAccounts follows the directory refresh it triggered.
type Target interface {
	ShowLedger(s *models.Snapshot)
	ShowAccounts(s *models.Snapshot)
}

// Engine is the single writer of the mirrored snapshot.
type Engine struct {
	source   Source
	identity Identity
	notifier notify.Notifier
	target   Target

	emitter atomic.Pointer[Emitter]

	// mu serializes merges; readers use current without locking.
	mu      sync.Mutex
	current atomic.Pointer[models.Snapshot]
	// refreshes are numbered in issue order under mu; applied is the newest one merged
	issued  uint64
	applied uint64

	refreshes sync.WaitGroup
}

// New creates an Engine with an empty snapshot.
func New(source Source, identity Identity, target Target, notifier notify.Notifier) *Engine {
	if notifier == nil {
		notifier = notify.Log{}
	}
	e := &Engine{
		source:   source,
		identity: identity,
		notifier: notifier,
		target:   target,
	}
	e.current.Store(&models.Snapshot{OwnBalance: models.SentinelBalance(models.BalanceNoKeys)})
	return e
}

// SetEmitter attaches the outbound event channel.
func (e *Engine) SetEmitter(em Emitter) {
	e.emitter.Store(&em)
}

// Current returns the latest published snapshot. Never nil.
func (e *Engine) Current() *models.Snapshot {
	return e.current.Load()
}

// Wait blocks until every directory refresh started by a push has finished.
func (e *Engine) Wait() {
	e.refreshes.Wait()
}

type pushPayload struct {
	Status *models.Status  `json:"status"`
	Blocks *[]models.Block `json:"blocks"`
}

// OnServerEvent handles one push event from the service.
//
// A payload without both a status object and a blocks list is dropped with a
// MalformedPush error; the published snapshot is left unchanged.
func (e *Engine) OnServerEvent(ctx context.Context, name string, payload json.RawMessage) error {
	if name != EventInitialState && name != EventBlockchainUpdated {
		slog.Debug("ignoring server event", "event", name)
		return nil
	}

	var p pushPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.Status == nil || p.Blocks == nil {
		if err == nil {
			err = errors.New("payload lacks status or blocks")
		}
		slog.Warn("malformed push event dropped", "event", name, "err", err)
		if name == EventInitialState {
			e.notifier.Notify("Received incomplete initial state from server.", true)
		} else {
			e.notifier.Notify("Received incomplete update from server.", true)
		}
		return errs.Wrap(errs.MalformedPush, name, err)
	}

	blocks := *p.Blocks
	if blocks == nil {
		blocks = []models.Block{}
	}

	e.mu.Lock()
	prev := e.current.Load()
	if len(prev.Blocks) > 0 && !models.IsPrefixOf(prev.Blocks, blocks) {
		slog.Info("ledger reset detected", "previous_blocks", len(prev.Blocks), "blocks", len(blocks))
	}
	next := prev.WithLedger(*p.Status, blocks)
	e.current.Store(next)
	seq := e.nextRefresh()
	e.mu.Unlock()

	slog.Debug("push applied", "event", name, "generation", next.Generation, "blocks", len(blocks))

	switch {
	case p.Status.Message != "":
		e.notifier.Notify(p.Status.Message, false)
	case name == EventInitialState:
		e.notifier.Notify("Initial blockchain state received.", false)
	default:
		e.notifier.Notify("Blockchain has been updated!", false)
	}
	e.refreshes.Add(1)
	e.target.ShowLedger(next)

	go func() {
		defer e.refreshes.Done()
		if err := e.refresh(ctx, next.Generation, seq); err != nil {
			slog.Warn("directory refresh after push failed", "generation", next.Generation, "err", err)
		}
	}()
	return nil
}

// RefreshDirectory pulls the directory and the active user's balance and
// publishes them on top of the current snapshot.
func (e *Engine) RefreshDirectory(ctx context.Context) error {
	e.mu.Lock()
	generation := e.current.Load().Generation
	seq := e.nextRefresh()
	e.mu.Unlock()
	return e.refresh(ctx, generation, seq)
}

// nextRefresh numbers a new refresh. Callers hold mu.
func (e *Engine) nextRefresh() uint64 {
	e.issued++
	return e.issued
}

// refresh fetches directory and own balance independently; a failure of one
// does not cancel the other. The result is discarded when a refresh issued
// after it has already been applied.
func (e *Engine) refresh(ctx context.Context, generation, seq uint64) error {
	var (
		g         errgroup.Group
		directory []models.DirectoryEntry
		own       = models.SentinelBalance(models.BalanceNoKeys)
	)

	g.Go(func() error {
		d, err := e.source.Directory(ctx)
		if err != nil {
			return err
		}
		directory = d
		return nil
	})
	if kp, ok := e.identity.Current(); ok {
		g.Go(func() error {
			v, err := e.source.Balance(ctx, kp.PublicKey)
			if err != nil {
				slog.Warn("balance refresh failed", "err", err)
				own = models.SentinelBalance(models.BalanceError)
				return nil
			}
			own = models.NumericBalance(v)
			return nil
		})
	}
	dirErr := g.Wait()

	e.mu.Lock()
	cur := e.current.Load()
	if seq < e.applied {
		e.mu.Unlock()
		slog.Debug("stale directory refresh discarded", "generation", generation, "refresh", seq, "applied", e.applied)
		return nil
	}
	e.applied = seq
	if dirErr != nil {
		// keep the last good directory
		directory = cur.Directory
	}
	next := cur.WithAccounts(generation, directory, own)
	e.current.Store(next)
	e.mu.Unlock()

	e.target.ShowAccounts(next)
	return dirErr
}

// DefaultUpdateReason is sent when RequestUpdate is given no reason.
const DefaultUpdateReason = "Manual UI request"

// RequestUpdate asks the service to push its full state.
func (e *Engine) RequestUpdate(reason string) error {
	if reason == "" {
		reason = DefaultUpdateReason
	}
	var em Emitter
	if p := e.emitter.Load(); p != nil {
		em = *p
	}
	if em == nil || !em.Connected() {
		e.notifier.Notify("Cannot request update: Not connected to server.", true)
		return ErrNotConnected
	}
	slog.Info("requesting state update", "reason", reason)
	return em.Emit(EventRequestUpdate, map[string]string{"reason": reason})
}
