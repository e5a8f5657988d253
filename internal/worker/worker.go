// Package worker follows a snapshot stream published by another client and
// renders it locally.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/redis/go-redis/v9"

	"github.com/mordris/ledgerwatch/internal/publisher"
	"github.com/mordris/ledgerwatch/pkg/models"
)

// Target renders received snapshots.
type Target interface {
	ShowLedger(s *models.Snapshot)
	ShowAccounts(s *models.Snapshot)
}

// Config configures the worker.
type Config struct {
	RedisClient   redis.UniversalClient
	Subscriber    message.Subscriber // overrides the Redis subscriber when set
	Target        Target
	Topic         string
	ConsumerGroup string
}

// QueueStats holds queue statistics.
type QueueStats struct {
	StreamLength int64
	Pending      int64
	Consumers    int64
}

// Worker consumes snapshots from Redis Streams and renders them.
type Worker struct {
	router        *message.Router
	target        Target
	redisClient   redis.UniversalClient
	topic         string
	consumerGroup string

	// newest generation rendered per kind; older messages are skipped
	mu     sync.Mutex
	latest map[string]uint64
}

// New creates a new Worker.
func New(cfg Config) (*Worker, error) {
	logger := watermill.NewSlogLogger(nil)

	sub := cfg.Subscriber
	if sub == nil {
		var err error
		sub, err = redisstream.NewSubscriber(
			redisstream.SubscriberConfig{
				Client:        cfg.RedisClient,
				ConsumerGroup: cfg.ConsumerGroup,
			},
			logger,
		)
		if err != nil {
			return nil, err
		}
	}

	router, err := message.NewRouter(message.RouterConfig{}, logger)
	if err != nil {
		return nil, err
	}

	w := &Worker{
		router:        router,
		target:        cfg.Target,
		redisClient:   cfg.RedisClient,
		topic:         cfg.Topic,
		consumerGroup: cfg.ConsumerGroup,
		latest:        map[string]uint64{},
	}

	router.AddNoPublisherHandler(
		"render-snapshot",
		cfg.Topic,
		sub,
		w.handleSnapshot,
	)

	return w, nil
}

// handleSnapshot renders a single snapshot message.
func (w *Worker) handleSnapshot(msg *message.Message) error {
	msgUUID := msg.UUID
	kind := msg.Metadata.Get(publisher.MetaKind)

	var snap models.Snapshot
	if err := json.Unmarshal(msg.Payload, &snap); err != nil {
		slog.Warn("worker invalid payload",
			"msg_uuid", msgUUID,
			"len", len(msg.Payload),
			"err", err,
		)
		return nil // ack invalid messages to avoid infinite retry
	}

	generation := snap.Generation
	if kind == publisher.KindAccounts {
		generation = snap.AccountsGeneration
	}

	w.mu.Lock()
	if generation < w.latest[kind] {
		w.mu.Unlock()
		slog.Debug("worker skipping stale snapshot", "kind", kind, "generation", generation, "msg_uuid", msgUUID)
		return nil
	}
	w.latest[kind] = generation
	w.mu.Unlock()

	switch kind {
	case publisher.KindLedger:
		w.target.ShowLedger(&snap)
	case publisher.KindAccounts:
		w.target.ShowAccounts(&snap)
	default:
		slog.Warn("worker unknown snapshot kind", "kind", kind, "msg_uuid", msgUUID)
	}
	return nil
}

// Run starts the worker. It blocks until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	return w.router.Run(ctx)
}

// Running is closed once the worker is subscribed.
func (w *Worker) Running() chan struct{} {
	return w.router.Running()
}

// Close closes the worker.
func (w *Worker) Close() error {
	return w.router.Close()
}

// QueueStats returns current queue statistics.
func (w *Worker) QueueStats(ctx context.Context) (QueueStats, error) {
	var stats QueueStats
	if w.redisClient == nil {
		return stats, errors.New("queue stats need a redis client")
	}

	// Get stream length
	length, err := w.redisClient.XLen(ctx, w.topic).Result()
	if err != nil {
		return stats, err
	}
	stats.StreamLength = length

	// Get consumer group info
	groups, err := w.redisClient.XInfoGroups(ctx, w.topic).Result()
	if err != nil {
		// Stream might not exist yet
		return stats, nil
	}

	for _, g := range groups {
		if g.Name == w.consumerGroup {
			stats.Pending = g.Pending
			stats.Consumers = g.Consumers
			break
		}
	}

	return stats, nil
}

// LogQueueStats logs current queue statistics.
func (w *Worker) LogQueueStats(ctx context.Context) {
	stats, err := w.QueueStats(ctx)
	if err != nil {
		slog.Warn("worker queue stats error", "err", err)
		return
	}

	slog.Info("worker queue stats",
		"stream_length", stats.StreamLength,
		"pending", stats.Pending,
		"consumers", stats.Consumers,
	)
}
