package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mordris/ledgerwatch/internal/publisher"
	"github.com/mordris/ledgerwatch/pkg/models"
)

type recordingTarget struct {
	mu       sync.Mutex
	ledger   []uint64
	accounts []uint64
	last     *models.Snapshot
}

func (r *recordingTarget) ShowLedger(s *models.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ledger = append(r.ledger, s.Generation)
	r.last = s
}

func (r *recordingTarget) ShowAccounts(s *models.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts = append(r.accounts, s.AccountsGeneration)
	r.last = s
}

func (r *recordingTarget) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ledger), len(r.accounts)
}

func startWorker(t *testing.T, target Target) *publisher.Publisher {
	t.Helper()
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})

	w, err := New(Config{Subscriber: pubSub, Target: target, Topic: "snapshots"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	select {
	case <-w.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not start")
	}
	return publisher.NewWithPublisher(pubSub, "snapshots")
}

func TestPublishedSnapshotsAreRendered(t *testing.T) {
	target := &recordingTarget{}
	pub := startWorker(t, target)

	snap := &models.Snapshot{
		Generation: 1,
		Status:     models.Status{BlockCount: 1, Difficulty: 2},
		Blocks:     []models.Block{{Index: 0, Hash: "g"}},
	}
	pub.ShowLedger(snap)
	accounts := *snap
	accounts.AccountsGeneration = 1
	accounts.Directory = []models.DirectoryEntry{{Name: "Alice Alpha", PublicKey: "PK-A", Balance: models.NumericBalance(5)}}
	pub.ShowAccounts(&accounts)

	require.Eventually(t, func() bool {
		l, a := target.counts()
		return l == 1 && a == 1
	}, 5*time.Second, 10*time.Millisecond)

	target.mu.Lock()
	defer target.mu.Unlock()
	assert.Equal(t, "Alice Alpha", target.last.Directory[0].Name)
	assert.Equal(t, 2, target.last.Status.Difficulty)
}

func TestHandleSnapshotSkipsStaleAndInvalid(t *testing.T) {
	target := &recordingTarget{}
	w := &Worker{target: target, latest: map[string]uint64{}}

	msg := func(kind, payload string) *message.Message {
		m := message.NewMessage(watermill.NewUUID(), []byte(payload))
		m.Metadata.Set(publisher.MetaKind, kind)
		return m
	}

	require.NoError(t, w.handleSnapshot(msg(publisher.KindLedger, `{"generation":3}`)))
	require.NoError(t, w.handleSnapshot(msg(publisher.KindLedger, `{"generation":2}`)))
	require.NoError(t, w.handleSnapshot(msg(publisher.KindLedger, `not json`)))
	require.NoError(t, w.handleSnapshot(msg(publisher.KindAccounts, `{"generation":3,"accounts_generation":1}`)))
	require.NoError(t, w.handleSnapshot(msg("other", `{"generation":9}`)))

	assert.Equal(t, []uint64{3}, target.ledger)
	assert.Equal(t, []uint64{1}, target.accounts)
}

func TestQueueStatsWithoutRedis(t *testing.T) {
	w := &Worker{latest: map[string]uint64{}}
	_, err := w.QueueStats(context.Background())
	assert.Error(t, err)
}
