package cli

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/mordris/ledgerwatch/internal/listener"
	"github.com/mordris/ledgerwatch/internal/mining"
	"github.com/mordris/ledgerwatch/internal/mirror"
	"github.com/mordris/ledgerwatch/internal/render"
	"github.com/mordris/ledgerwatch/pkg/errs"
	"github.com/mordris/ledgerwatch/pkg/models"
)

const defaultConnectTimeout = 15 * time.Second

// firstPush closes ready on the first rendered ledger and accounts on the
// first rendered directory, forwarding everything to next.
type firstPush struct {
	readyOnce    sync.Once
	ready        chan struct{}
	accountsOnce sync.Once
	accounts     chan struct{}
	next         render.Target
}

func (f *firstPush) ShowLedger(s *models.Snapshot) {
	f.next.ShowLedger(s)
	f.readyOnce.Do(func() { close(f.ready) })
}

func (f *firstPush) ShowAccounts(s *models.Snapshot) {
	f.next.ShowAccounts(s)
	f.accountsOnce.Do(func() { close(f.accounts) })
}

// quiet renders nothing.
type quiet struct{}

func (quiet) ShowLedger(*models.Snapshot)   {}
func (quiet) ShowAccounts(*models.Snapshot) {}

// live is a mirror kept current by a listener running in the background.
type live struct {
	engine   *mirror.Engine
	listener *listener.Listener
	first    *firstPush

	cancel context.CancelFunc
	done   chan struct{}
	runErr error
}

// connect starts mirroring the service into target.
func (a *app) connect(ctx context.Context, target render.Target) (*live, error) {
	store, err := a.openWallet()
	if err != nil {
		return nil, err
	}

	first := &firstPush{ready: make(chan struct{}), accounts: make(chan struct{}), next: target}
	engine := mirror.New(a.ledger, store, first, a.console)
	lst := listener.New(listener.Config{
		URL:            a.cfg.LedgerWSURL,
		MaxRetries:     a.cfg.WSMaxRetries,
		ReconnectDelay: a.cfg.WSReconnectDelay,
	}, engine.OnServerEvent, a.console)
	engine.SetEmitter(lst)

	runCtx, cancel := context.WithCancel(ctx)
	l := &live{
		engine:   engine,
		listener: lst,
		first:    first,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go func() {
		defer close(l.done)
		l.runErr = lst.Run(runCtx)
	}()
	return l, nil
}

// awaitLedger blocks until the first ledger state has been rendered.
func (l *live) awaitLedger(ctx context.Context, timeout time.Duration) error {
	return l.await(ctx, l.first.ready, timeout, "Timed out waiting for the ledger state.")
}

// awaitAccounts blocks until the first directory refresh has been rendered.
func (l *live) awaitAccounts(ctx context.Context, timeout time.Duration) error {
	return l.await(ctx, l.first.accounts, timeout, "Timed out waiting for the user directory.")
}

func (l *live) await(ctx context.Context, ready <-chan struct{}, timeout time.Duration, timeoutMsg string) error {
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ready:
		return nil
	case <-l.done:
		return errs.Wrap(errs.TransportError, "connect", l.runErr)
	case <-timer.C:
		return errs.New(errs.TransportError, "connect", timeoutMsg)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stop disconnects and waits for in-flight directory refreshes. Refreshes are
// only started from the listener, so none can start once it has returned.
func (l *live) stop() {
	l.cancel()
	<-l.done
	l.engine.Wait()
}

func newStatusCmd(a *app) *cobra.Command {
	var (
		timeout time.Duration
		chain   bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Connect, print the ledger dashboard and directory, then exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a.console.Chain = chain
			l, err := a.connect(cmd.Context(), quiet{})
			if err != nil {
				return err
			}
			defer l.stop()

			if err := l.awaitLedger(cmd.Context(), timeout); err != nil {
				return err
			}
			if err := l.awaitAccounts(cmd.Context(), timeout); err != nil {
				return err
			}

			snap := l.engine.Current()
			a.console.ShowLedger(snap)
			a.console.ShowAccounts(snap)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", defaultConnectTimeout, "How long to wait for the ledger state")
	cmd.Flags().BoolVar(&chain, "chain", false, "Also print every block")
	return cmd
}

func newMineCmd(a *app) *cobra.Command {
	var (
		timeout time.Duration
		miner   string
	)
	cmd := &cobra.Command{
		Use:   "mine",
		Short: "Mine the pending transactions, rewarding the active key pair",
		Long: "mine connects to the service to learn how many transactions are pending,\n" +
			"then asks it to mine them while showing progress until the block settles.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			l, err := a.connect(ctx, quiet{})
			if err != nil {
				return err
			}
			defer l.stop()

			if err := l.awaitLedger(ctx, timeout); err != nil {
				return err
			}
			return a.mine(ctx, a.newMiningController(), l.engine.Current(), miner)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", defaultConnectTimeout, "How long to wait for the ledger state")
	cmd.Flags().StringVar(&miner, "miner", "", "Public key receiving the reward (default: the active key)")
	return cmd
}

func (a *app) newMiningController() *mining.Controller {
	return mining.NewController(a.ledger, a.console, a.console, mining.Options{
		Tick:         a.cfg.MiningTick,
		DisplayDelay: a.cfg.MiningDisplayDelay,
	})
}

// mine runs one mining session to completion.
func (a *app) mine(ctx context.Context, ctrl *mining.Controller, snap *models.Snapshot, miner string) error {
	if miner == "" {
		if kp, ok := a.wallet.Current(); ok {
			miner = kp.PublicKey
		}
	}

	session, err := ctrl.Start(ctx, snap.Status.PendingTxCount, miner)
	if err != nil {
		if errors.Is(err, mining.ErrSessionActive) {
			return fmt.Errorf("mine: %w", err)
		}
		return reported{err}
	}
	session.Wait()

	if _, err := session.Result(); err != nil {
		return reported{err}
	}
	return nil
}
