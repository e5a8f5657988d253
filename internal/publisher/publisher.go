// Package publisher streams every mirrored snapshot to a Redis stream so
// other processes can follow the ledger without their own socket.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/redis/go-redis/v9"

	"github.com/mordris/ledgerwatch/pkg/models"
)

// Message metadata keys.
const (
	MetaKind       = "kind"
	MetaGeneration = "generation"
)

// Snapshot kinds, matching the render call that produced them.
const (
	KindLedger   = "ledger"
	KindAccounts = "accounts"
)

// Publisher publishes snapshots to Redis Streams. It is a render target.
type Publisher struct {
	pub         message.Publisher
	redisClient redis.UniversalClient
	topic       string
}

// New creates a new Publisher.
func New(redisClient redis.UniversalClient, topic string) (*Publisher, error) {
	logger := watermill.NewSlogLogger(nil)

	pub, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client: redisClient,
		},
		logger,
	)
	if err != nil {
		return nil, err
	}

	return &Publisher{
		pub:         pub,
		redisClient: redisClient,
		topic:       topic,
	}, nil
}

// NewWithPublisher wraps an existing watermill publisher. QueueLength is unavailable.
func NewWithPublisher(pub message.Publisher, topic string) *Publisher {
	return &Publisher{pub: pub, topic: topic}
}

// ShowLedger publishes a snapshot produced by a push event.
func (p *Publisher) ShowLedger(s *models.Snapshot) {
	_ = p.Publish(KindLedger, s)
}

// ShowAccounts publishes a snapshot produced by a directory refresh.
func (p *Publisher) ShowAccounts(s *models.Snapshot) {
	_ = p.Publish(KindAccounts, s)
}

// Publish encodes s as JSON and publishes it under kind.
func (p *Publisher) Publish(kind string, s *models.Snapshot) error {
	start := time.Now()

	payload, err := json.Marshal(s)
	if err != nil {
		slog.Error("snapshot encode failed", "kind", kind, "err", err)
		return err
	}

	msgUUID := watermill.NewUUID()
	msg := message.NewMessage(msgUUID, payload)
	msg.Metadata.Set(MetaKind, kind)
	msg.Metadata.Set(MetaGeneration, strconv.FormatUint(s.Generation, 10))

	err = p.pub.Publish(p.topic, msg)
	duration := time.Since(start)

	if err != nil {
		slog.Error("redis publish failed",
			"kind", kind,
			"generation", s.Generation,
			"msg_uuid", msgUUID,
			"duration_ms", duration.Milliseconds(),
			"err", err,
		)
		return err
	}

	slog.Debug("redis publish ok",
		"kind", kind,
		"generation", s.Generation,
		"msg_uuid", msgUUID,
		"duration_ms", duration.Milliseconds(),
	)
	return nil
}

// Close closes the publisher.
func (p *Publisher) Close() error {
	return p.pub.Close()
}

// QueueLength returns the number of messages in the Redis stream.
func (p *Publisher) QueueLength(ctx context.Context) (int64, error) {
	if p.redisClient == nil {
		return 0, errors.New("queue length needs a redis client")
	}
	return p.redisClient.XLen(ctx, p.topic).Result()
}

// Topic returns the Redis stream topic name.
func (p *Publisher) Topic() string {
	return p.topic
}
