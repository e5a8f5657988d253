package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectoryEntryBalanceSentinel(t *testing.T) {
	var entries []DirectoryEntry
	err := json.Unmarshal([]byte(`[
		{"name":"Alice Alpha","public_key_pem":"PK-A","balance":1000.5},
		{"name":"Bob Bravo","public_key_pem":"PK-B","balance":"Error"}
	]`), &entries)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.True(t, entries[0].Balance.IsNumeric())
	assert.Equal(t, 1000.5, entries[0].Balance.Value)
	assert.False(t, entries[1].Balance.IsNumeric())
	assert.Equal(t, BalanceError, entries[1].Balance.Sentinel)

	out, err := json.Marshal(entries[1].Balance)
	require.NoError(t, err)
	assert.JSONEq(t, `"Error"`, string(out))
}

func TestBalanceRejectsObjects(t *testing.T) {
	var b Balance
	assert.Error(t, json.Unmarshal([]byte(`{"v":1}`), &b))
}

func TestSnapshotWithLedgerCopies(t *testing.T) {
	base := &Snapshot{Generation: 4, Directory: []DirectoryEntry{{Name: "Alice"}}}
	next := base.WithLedger(Status{BlockCount: 2}, []Block{{Index: 0}, {Index: 1}})

	assert.Equal(t, uint64(4), base.Generation)
	assert.Equal(t, uint64(5), next.Generation)
	assert.Equal(t, 2, next.Status.BlockCount)
	assert.Len(t, next.Directory, 1, "accounts carried over")
	assert.Empty(t, base.Blocks)
}

func TestIsPrefixOf(t *testing.T) {
	a := []Block{{Index: 0, Hash: "00ab"}, {Index: 1, Hash: "00cd"}}
	b := append(append([]Block{}, a...), Block{Index: 2, Hash: "00ef"})

	assert.True(t, IsPrefixOf(nil, a))
	assert.True(t, IsPrefixOf(a, b))
	assert.False(t, IsPrefixOf(b, a))
	assert.False(t, IsPrefixOf(a, []Block{{Index: 0, Hash: "ffff"}, {Index: 1, Hash: "00cd"}}))
}

func TestIsSystemSender(t *testing.T) {
	assert.True(t, Transaction{SenderPublicKey: "welcome_faucet"}.IsSystem())
	assert.True(t, IsSystemSender("GENESIS_ALLOCATION"))
	assert.False(t, IsSystemSender("genesis_allocation"))
}
