package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mordris/ledgerwatch/internal/api"
	"github.com/mordris/ledgerwatch/internal/ledger"
	"github.com/mordris/ledgerwatch/internal/mining"
	"github.com/mordris/ledgerwatch/internal/publisher"
	"github.com/mordris/ledgerwatch/internal/render"
	"github.com/mordris/ledgerwatch/pkg/models"
)

const onboardingNotice = "Welcome! This client mirrors a demo ledger in real time. " +
	"Generate keys to get a welcome bonus, send coins to the users listed in the directory " +
	"and mine pending transactions to earn the reward. Type 'help' for commands."

const replHelp = `Commands:
  help                      show this help
  refresh [reason]          ask the server to push its full state
  status                    print the dashboard and directory
  chain                     print every block, newest first
  keys                      print the active public key
  generate                  generate a new key pair
  send <user|key> <amount>  sign and submit a transfer (user: directory number or name)
  mine [miner-key]          mine the pending transactions
  validate                  validate the chain
  save                      ask the server to persist the chain
  quit                      exit
`

func newWatchCmd(a *app) *cobra.Command {
	var (
		httpEnabled bool
		httpAddr    string
		redisURL    string
		noChain     bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Mirror the ledger live and accept commands on stdin",
		Long: "watch keeps a live mirror of the service, rendering every update to the terminal.\n" +
			"Optionally it serves the mirror over HTTP and publishes every snapshot to a Redis stream.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("http") {
				a.cfg.HTTPEnabled = httpEnabled
			}
			if httpAddr != "" {
				a.cfg.HTTPAddr = httpAddr
			}
			if redisURL != "" {
				a.cfg.RedisURL = redisURL
			}
			a.console.Chain = !noChain
			return a.watch(cmd)
		},
	}
	cmd.Flags().BoolVar(&httpEnabled, "http", false, "Serve the mirror as JSON over HTTP (overrides HTTP_ENABLED)")
	cmd.Flags().StringVar(&httpAddr, "http-addr", "", "HTTP listen address (overrides HTTP_ADDR)")
	cmd.Flags().StringVar(&redisURL, "redis-url", "", "Publish snapshots to this Redis (overrides REDIS_URL)")
	cmd.Flags().BoolVar(&noChain, "no-chain", false, "Only print the dashboard on updates")
	return cmd
}

func (a *app) watch(cmd *cobra.Command) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	targets := render.Fanout{a.console}

	if a.cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(a.cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		redisClient := redis.NewClient(redisOpts)
		defer redisClient.Close()

		pub, err := publisher.New(redisClient, a.cfg.SnapshotsTopic)
		if err != nil {
			return fmt.Errorf("create publisher: %w", err)
		}
		defer pub.Close()
		targets = append(targets, pub)
		logPublisherQueue(ctx, pub)
	}

	l, err := a.connect(ctx, targets)
	if err != nil {
		return err
	}
	defer l.stop()

	a.onboarding()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case <-l.done:
			if ctx.Err() != nil {
				return nil
			}
			return l.runErr
		case <-ctx.Done():
			return nil
		}
	})

	if a.cfg.HTTPEnabled {
		logger, err := zap.NewProduction()
		if err != nil {
			return fmt.Errorf("create http logger: %w", err)
		}
		defer func() { _ = logger.Sync() }()

		srv := api.NewServer(l.engine, logger, a.cfg.HTTPAddr)
		g.Go(func() error {
			return srv.Run(ctx)
		})
	}

	r := &repl{
		app:    a,
		live:   l,
		mining: a.newMiningController(),
		form:   &ledger.Transfer{},
		out:    cmd.OutOrStdout(),
		quit:   cancel,
	}
	go r.run(ctx, cmd.InOrStdin())

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// logPublisherQueue reports the stream a watch session publishes to and its backlog.
func logPublisherQueue(ctx context.Context, pub *publisher.Publisher) {
	length, err := pub.QueueLength(ctx)
	if err != nil {
		slog.Warn("publishing snapshots; stream length unavailable", "topic", pub.Topic(), "err", err)
		return
	}
	slog.Info("publishing snapshots", "topic", pub.Topic(), "queue_length", length)
}

// onboarding shows the welcome notice the first time this wallet is used.
func (a *app) onboarding() {
	seen, err := a.wallet.OnboardingSeen()
	if err != nil {
		slog.Warn("failed to read onboarding flag", "err", err)
		return
	}
	if seen {
		return
	}
	a.console.Notify(onboardingNotice, false)
	if err := a.wallet.MarkOnboardingSeen(); err != nil {
		slog.Warn("failed to store onboarding flag", "err", err)
	}
}

// repl reads one command per line and runs it against the live mirror.
type repl struct {
	app    *app
	live   *live
	mining *mining.Controller
	form   *ledger.Transfer
	out    io.Writer
	quit   context.CancelFunc
}

func (r *repl) run(ctx context.Context, in io.Reader) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if !r.exec(ctx, fields[0], fields[1:]) {
			r.quit()
			return
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("stdin read failed", "err", err)
	}
	// stdin closed: keep mirroring until interrupted
}

// exec runs one command. It returns false when the session should end.
func (r *repl) exec(ctx context.Context, name string, args []string) bool {
	a := r.app
	switch strings.ToLower(name) {
	case "help", "?":
		fmt.Fprint(r.out, replHelp)
	case "quit", "exit":
		return false
	case "refresh":
		_ = r.live.engine.RequestUpdate(strings.Join(args, " "))
	case "status":
		snap := r.live.engine.Current()
		render.WriteDashboard(r.out, snap.Status)
		a.console.ShowAccounts(snap)
	case "chain":
		render.WriteChain(r.out, r.live.engine.Current().Blocks, nil)
	case "keys":
		if kp, ok := a.wallet.Current(); ok {
			fmt.Fprintf(r.out, "Public key:\n%s\n", kp.PublicKey)
		} else {
			a.console.Notify("No keys loaded. Type 'generate' to create a key pair.", true)
		}
	case "generate":
		if _, err := a.wallet.Generate(ctx, a.ledger); err == nil {
			r.refreshAccounts(ctx)
		}
	case "send":
		r.send(ctx, args)
	case "mine":
		miner := strings.Join(args, " ")
		if miner == "" {
			if kp, ok := a.wallet.Current(); ok {
				miner = kp.PublicKey
			}
		}
		pending := r.live.engine.Current().Status.PendingTxCount
		if _, err := r.mining.Start(ctx, pending, miner); errors.Is(err, mining.ErrSessionActive) {
			a.console.Notify("Mining is already in progress.", true)
		}
	case "validate":
		_ = a.validate(ctx)
	case "save":
		_ = a.save(ctx)
	default:
		a.console.Notify(fmt.Sprintf("Unknown command %q. Type 'help' for commands.", name), true)
	}
	return true
}

func (r *repl) send(ctx context.Context, args []string) {
	a := r.app
	if len(args) != 2 {
		a.console.Notify("Usage: send <user|key> <amount>", true)
		return
	}
	kp, _ := a.wallet.Current()
	r.form.Sender = kp.PublicKey
	r.form.Recipient = resolveRecipient(args[0], r.live.engine.Current().Directory)
	r.form.Amount = args[1]
	_, _ = a.ledger.SubmitTransfer(ctx, kp, r.form)
}

// refreshAccounts re-reads the directory and balance after the identity changed.
func (r *repl) refreshAccounts(ctx context.Context) {
	refreshCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := r.live.engine.RefreshDirectory(refreshCtx); err != nil {
		slog.Warn("directory refresh failed", "err", err)
	}
}

// resolveRecipient maps a directory number (from 1) or a case-insensitive
// user name to that user's public key. Anything else is taken as a key.
func resolveRecipient(arg string, users []models.DirectoryEntry) string {
	if n, err := strconv.Atoi(arg); err == nil && n >= 1 && n <= len(users) {
		return users[n-1].PublicKey
	}
	for _, u := range users {
		first, _, _ := strings.Cut(u.Name, " ")
		if strings.EqualFold(u.Name, arg) || strings.EqualFold(first, arg) {
			return u.PublicKey
		}
	}
	return arg
}
