// Package cli wires the client together behind cobra commands, one per user intent.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mordris/ledgerwatch/internal/config"
	"github.com/mordris/ledgerwatch/internal/ledger"
	"github.com/mordris/ledgerwatch/internal/render"
	"github.com/mordris/ledgerwatch/internal/wallet"
	"github.com/mordris/ledgerwatch/pkg/errs"
	"github.com/mordris/ledgerwatch/pkg/rpc"
)

var errChainInvalid = errors.New("chain is invalid")

// reported marks an error the user has already been notified about.
type reported struct{ error }

func (r reported) Unwrap() error { return r.error }

// app is the state shared by every command of one invocation.
type app struct {
	ledgerURL  string
	wsURL      string
	walletPath string
	logLevel   string
	ephemeral  bool
	utc        bool

	cfg     *config.Config
	console *render.Console
	rpc     *rpc.HTTPClient
	ledger  *ledger.Client
	wallet  *wallet.Store
}

// Execute runs the command line against args and returns the command's error.
// Errors not yet shown to the user are printed to stderr.
func Execute(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	a := &app{}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if cerr := a.close(); cerr != nil {
		slog.Warn("failed to close wallet store", "err", cerr)
	}

	var shown reported
	if err != nil && !errors.As(err, &shown) {
		fmt.Fprintln(stderr, "Error:", errs.Message(err))
	}
	return err
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "ledgerwatch",
		Short: "Wallet and live mirror for a ledger service",
		Long: "ledgerwatch keeps a local key pair, signs and submits transfers, mines pending\n" +
			"transactions and mirrors the state of a ledger service in real time.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.ledgerURL, "ledger-url", "", "Ledger service URL (overrides LEDGER_URL)")
	flags.StringVar(&a.wsURL, "ws-url", "", "Push channel URL (overrides LEDGER_WS_URL)")
	flags.StringVar(&a.walletPath, "wallet", "", "Wallet store directory (overrides WALLET_PATH)")
	flags.StringVar(&a.logLevel, "log-level", "", "debug|info|warn|error (overrides LOG_LEVEL)")
	flags.BoolVar(&a.ephemeral, "ephemeral", false, "Keep keys in memory only")
	flags.BoolVar(&a.utc, "utc", false, "Show timestamps in UTC")

	root.AddCommand(
		newKeysCmd(a),
		newBalanceCmd(a),
		newDirectoryCmd(a),
		newSendCmd(a),
		newCreateCmd(a),
		newValidateCmd(a),
		newSaveCmd(a),
		newStatusCmd(a),
		newMineCmd(a),
		newWatchCmd(a),
		newMirrorCmd(a),
	)
	return root
}

// setup loads configuration, applies flag overrides and builds the shared clients.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if a.ledgerURL != "" {
		if cfg.LedgerWSURL == cfg.LedgerURL {
			cfg.LedgerWSURL = a.ledgerURL
		}
		cfg.LedgerURL = a.ledgerURL
	}
	if a.wsURL != "" {
		cfg.LedgerWSURL = a.wsURL
	}
	if a.walletPath != "" {
		cfg.WalletPath = a.walletPath
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	a.cfg = cfg

	setupLogging(cfg.LogLevel, cmd.ErrOrStderr())

	var loc *time.Location
	if a.utc {
		loc = time.UTC
	}
	a.console = render.NewConsole(cmd.OutOrStdout(), loc)

	a.rpc = rpc.NewHTTPWithOpts(rpc.Opts{
		BaseURL: cfg.LedgerURL,
		Timeout: cfg.RPCTimeout,
		RPS:     cfg.RPCRPS,
		Burst:   cfg.RPCBurst,
	})
	a.ledger = ledger.New(a.rpc, a.console)
	return nil
}

// openWallet opens the wallet store on first use and restores the saved identity.
func (a *app) openWallet() (*wallet.Store, error) {
	if a.wallet != nil {
		return a.wallet, nil
	}

	var (
		store *wallet.Store
		err   error
	)
	if a.ephemeral {
		store, err = wallet.OpenMemory(a.console)
	} else {
		store, err = wallet.Open(a.cfg.WalletPath, a.console)
	}
	if err != nil {
		return nil, err
	}

	// A corrupt record is reset and reported by Load; the session continues without keys.
	if _, err := store.Load(); err != nil {
		slog.Warn("stored keys discarded", "err", err)
	}
	a.wallet = store
	return store, nil
}

// close waits for background bonus requests and releases the wallet store.
func (a *app) close() error {
	if a.wallet == nil {
		return nil
	}
	a.wallet.WaitBonus()
	err := a.wallet.Close()
	a.wallet = nil
	return err
}

func setupLogging(level string, w io.Writer) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	if w == nil {
		w = os.Stderr
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
