package reorg

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baseingest/ingester/internal/types"
)

type fakeStore struct {
	blocks       map[uint64]types.Block
	markedFrom   *uint64
	rewoundFrom  *uint64
	checkpoint   *uint64
}

func newFakeStore() *fakeStore {
	return &fakeStore{blocks: make(map[uint64]types.Block)}
}

func (s *fakeStore) BlockByNumber(_ context.Context, number uint64) (types.Block, bool, error) {
	b, ok := s.blocks[number]
	return b, ok, nil
}

func (s *fakeStore) MarkReorged(_ context.Context, from uint64) error {
	s.markedFrom = &from
	for n, b := range s.blocks {
		if n >= from {
			b.Reorged = true
			s.blocks[n] = b
		}
	}
	return nil
}

func (s *fakeStore) Rewind(_ context.Context, from uint64) error {
	s.rewoundFrom = &from
	return nil
}

func (s *fakeStore) SetCheckpoint(_ context.Context, n uint64) error {
	s.checkpoint = &n
	return nil
}

type fakeChain struct {
	blocks map[uint64]types.Block
}

func (c *fakeChain) BlockWithTxs(_ context.Context, number uint64) (types.Block, []types.Transaction, error) {
	return c.blocks[number], nil, nil
}

func TestCheckProceedsWhenNoPriorBlockStored(t *testing.T) {
	store := newFakeStore()
	chain := &fakeChain{blocks: map[uint64]types.Block{}}
	c := New(store, chain, 10)

	next, err := c.Check(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), next)
}

func TestCheckProceedsOnMatchingParentHash(t *testing.T) {
	store := newFakeStore()
	store.blocks[99] = types.Block{Number: 99, Hash: "0xaaa"}
	chain := &fakeChain{blocks: map[uint64]types.Block{100: {Number: 100, ParentHash: "0xAAA"}}}
	c := New(store, chain, 10)

	next, err := c.Check(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), next)
	assert.Nil(t, store.rewoundFrom)
}

func TestCheckRewindsOnParentHashMismatch(t *testing.T) {
	store := newFakeStore()
	store.blocks[99] = types.Block{Number: 99, Hash: "0xaaa"}
	chain := &fakeChain{blocks: map[uint64]types.Block{100: {Number: 100, ParentHash: "0xdifferent"}}}
	c := New(store, chain, 10)

	next, err := c.Check(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(90), next)
	require.NotNil(t, store.rewoundFrom)
	assert.Equal(t, uint64(90), *store.rewoundFrom)
	require.NotNil(t, store.markedFrom)
	assert.Equal(t, uint64(90), *store.markedFrom)
	require.NotNil(t, store.checkpoint)
	assert.Equal(t, uint64(89), *store.checkpoint)
}

func TestCheckDoesNotEscalateOnRepeatedMismatchAtRewoundPosition(t *testing.T) {
	store := newFakeStore()
	store.blocks[99] = types.Block{Number: 99, Hash: "0xaaa"}
	chain := &fakeChain{blocks: map[uint64]types.Block{100: {Number: 100, ParentHash: "0xdifferent"}}}
	c := New(store, chain, 10)

	rewoundTo, err := c.Check(context.Background(), 100)
	require.NoError(t, err)
	require.Equal(t, uint64(90), rewoundTo)

	// Simulate the store prefix the rewind left behind, then the remote
	// chain still disagreeing at the rewound-to position (reorg deeper
	// than the configured depth).
	store.blocks[89] = types.Block{Number: 89, Hash: "0xbbb"}
	chain.blocks[90] = types.Block{Number: 90, ParentHash: "0xstilldifferent"}

	next, err := c.Check(context.Background(), 90)
	require.NoError(t, err)
	assert.Equal(t, uint64(90), next, "proceeds on the inconsistent prefix instead of rewinding again")
}

func TestCheckSkipsProbeWhenPriorBlockAlreadyReorged(t *testing.T) {
	store := newFakeStore()
	store.blocks[99] = types.Block{Number: 99, Hash: "0xaaa", Reorged: true}
	chain := &fakeChain{blocks: map[uint64]types.Block{}}
	c := New(store, chain, 10)

	next, err := c.Check(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), next)
}
