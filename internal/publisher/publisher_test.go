package publisher

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mordris/ledgerwatch/pkg/models"
)

func TestShowLedgerPublishesSnapshot(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer pubSub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := pubSub.Subscribe(ctx, "snapshots")
	require.NoError(t, err)

	p := NewWithPublisher(pubSub, "snapshots")
	assert.Equal(t, "snapshots", p.Topic())

	snap := &models.Snapshot{
		Generation: 7,
		Status:     models.Status{BlockCount: 2},
		Blocks:     []models.Block{{Index: 0, Hash: "g"}, {Index: 1, Hash: "h1", PreviousHash: "g"}},
	}
	p.ShowLedger(snap)

	select {
	case msg := <-msgs:
		msg.Ack()
		assert.Equal(t, KindLedger, msg.Metadata.Get(MetaKind))
		assert.Equal(t, "7", msg.Metadata.Get(MetaGeneration))

		var got models.Snapshot
		require.NoError(t, json.Unmarshal(msg.Payload, &got))
		assert.Equal(t, snap.Blocks, got.Blocks)
		assert.Equal(t, snap.Status, got.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("no message published")
	}

	p.ShowAccounts(snap)
	select {
	case msg := <-msgs:
		msg.Ack()
		assert.Equal(t, KindAccounts, msg.Metadata.Get(MetaKind))
	case <-time.After(5 * time.Second):
		t.Fatal("no message published")
	}
}

func TestQueueLengthNeedsRedis(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	p := NewWithPublisher(pubSub, "snapshots")
	defer p.Close()

	_, err := p.QueueLength(context.Background())
	assert.Error(t, err)
}
