package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mordris/ledgerwatch/internal/worker"
)

func newMirrorCmd(a *app) *cobra.Command {
	var (
		redisURL      string
		group         string
		statsInterval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "mirror",
		Short: "Render the snapshots another client publishes to Redis",
		Long: "mirror follows the snapshot stream written by 'watch --redis-url' and renders it,\n" +
			"without opening its own connection to the ledger service.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if redisURL != "" {
				a.cfg.RedisURL = redisURL
			}
			if group != "" {
				a.cfg.ConsumerGroup = group
			}
			if a.cfg.RedisURL == "" {
				return errors.New("mirror needs a Redis URL (--redis-url or REDIS_URL)")
			}
			return a.mirror(cmd.Context(), statsInterval)
		},
	}
	cmd.Flags().StringVar(&redisURL, "redis-url", "", "Redis holding the snapshot stream (overrides REDIS_URL)")
	cmd.Flags().StringVar(&group, "group", "", "Consumer group (overrides CONSUMER_GROUP)")
	cmd.Flags().DurationVar(&statsInterval, "stats-interval", 0, "Log queue statistics at this interval (0 disables)")
	return cmd
}

func (a *app) mirror(ctx context.Context, statsInterval time.Duration) error {
	redisOpts, err := redis.ParseURL(a.cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	wrk, err := worker.New(worker.Config{
		RedisClient:   redisClient,
		Target:        a.console,
		Topic:         a.cfg.SnapshotsTopic,
		ConsumerGroup: a.cfg.ConsumerGroup,
	})
	if err != nil {
		return fmt.Errorf("create worker: %w", err)
	}
	defer wrk.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("starting snapshot mirror", "topic", a.cfg.SnapshotsTopic, "group", a.cfg.ConsumerGroup)
		return wrk.Run(gctx)
	})
	if statsInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(statsInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					wrk.LogQueueStats(gctx)
				}
			}
		})
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
