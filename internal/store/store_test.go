package store

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baseingest/ingester/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	require.NoError(t, RunMigrations(dbPath, "../../migrations"))

	s, err := Open(context.Background(), dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleSnapshot(number uint64) types.BlockSnapshot {
	to := "0x00000000000000000000000000000000000ccc"
	return types.BlockSnapshot{
		Block: types.Block{Number: number, Hash: "0xblock", ParentHash: "0xparent", Timestamp: 100, GasUsed: 21000, GasLimit: 30000000},
		Transactions: []types.Transaction{
			{Hash: "0xtx1", BlockNumber: number, From: "0xfrom", To: &to, Value: big.NewInt(0), Type: types.TxTypeEIP1559, Kind: types.TxKindContractCall, GasUsed: 21000},
		},
		Receipts: []types.Receipt{
			{TxHash: "0xtx1", BlockNumber: number, Status: 1, GasUsed: 21000, LogCount: 1},
		},
		Logs: []types.Log{
			{TxHash: "0xtx1", BlockNumber: number, LogIndex: 0, Address: "0xtoken", Data: []byte{1, 2, 3}},
		},
		Metrics: types.BlockMetrics{BlockNumber: number, TxCount: 1, LogCount: 1, TotalGasUsed: 21000, AvgGasPerTx: 21000, TopContractsJSON: "[]", UniqueSenders: 1, UniqueRecipients: 1},
		EventCounts: []types.EventCount{
			{BlockNumber: number, Kind: types.LogKindOther, Count: 1},
		},
		Transfers: []types.TokenTransfer{
			{TxHash: "0xtx1", BlockNumber: number, LogIndex: 0, TokenAddr: "0xtoken", From: "0xfrom", To: to, Amount: big.NewInt(500)},
		},
	}
}

func TestCommitBlockIsIdempotentOnReplay(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	snapshot := sampleSnapshot(10)

	require.NoError(t, s.CommitBlock(ctx, snapshot))
	require.NoError(t, s.CommitBlock(ctx, snapshot))

	var logCount, transferCount int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM logs WHERE block_number = 10`).Scan(&logCount))
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM token_transfers WHERE block_number = 10`).Scan(&transferCount))
	assert.Equal(t, 1, logCount)
	assert.Equal(t, 1, transferCount)

	block, ok, err := s.BlockByNumber(ctx, 10)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "0xblock", block.Hash)
}

func TestRewindDeletesAtOrAboveAndPreservesPrefix(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CommitBlock(ctx, sampleSnapshot(10)))
	require.NoError(t, s.CommitBlock(ctx, sampleSnapshot(11)))
	require.NoError(t, s.CommitBlock(ctx, sampleSnapshot(12)))

	require.NoError(t, s.MarkReorged(ctx, 11))
	require.NoError(t, s.Rewind(ctx, 11))

	var count int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions WHERE block_number >= 11`).Scan(&count))
	assert.Equal(t, 0, count)

	kept, ok, err := s.BlockByNumber(ctx, 10)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, kept.Reorged)

	flagged, ok, err := s.BlockByNumber(ctx, 11)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, flagged.Reorged)
}

func TestCheckpointRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, ok, err := s.Checkpoint(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetCheckpoint(ctx, 42))
	n, ok, err := s.Checkpoint(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(42), n)

	require.NoError(t, s.SetCheckpoint(ctx, 43))
	n, ok, err = s.Checkpoint(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(43), n)
}

func TestPoolDexCacheUpsertAndLoad(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, ok, err := s.GetPoolDex(ctx, "0xpool")
	require.NoError(t, err)
	assert.False(t, ok)

	entry := types.PoolDexCache{PoolAddress: "0xpool", DexName: "Uniswap V2", FactoryAddress: "0xfactory"}
	require.NoError(t, s.UpsertPoolDex(ctx, entry))
	require.NoError(t, s.UpsertPoolDex(ctx, entry)) // duplicate probe result must be harmless

	got, ok, err := s.GetPoolDex(ctx, "0xpool")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Uniswap V2", got.DexName)

	all, err := s.AllPoolDex(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
