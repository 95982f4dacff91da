package dexresolver

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baseingest/ingester/internal/types"
)

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]types.PoolDexCache
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]types.PoolDexCache)}
}

func (c *fakeCache) GetPoolDex(_ context.Context, pool string) (types.PoolDexCache, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[pool]
	return e, ok, nil
}

func (c *fakeCache) UpsertPoolDex(_ context.Context, entry types.PoolDexCache) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entry.PoolAddress] = entry
	return nil
}

func (c *fakeCache) AllPoolDex(_ context.Context) ([]types.PoolDexCache, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.PoolDexCache, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	return out, nil
}

type countingFactoryClient struct {
	mu      sync.Mutex
	calls   int
	result  []byte
	err     error
	release chan struct{} // if set, CallContract waits for it to close
}

func (c *countingFactoryClient) CallContract(_ context.Context, _ ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if c.release != nil {
		<-c.release
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.result, c.err
}

func (c *countingFactoryClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestLookupMissThenEnqueueThenHit(t *testing.T) {
	factory := common.HexToAddress("0x33128a8fc17869897dce68ed026d694621f6fdfd")
	factoryWord := make([]byte, 32)
	copy(factoryWord[12:], factory.Bytes())

	client := &countingFactoryClient{result: factoryWord}
	cache := newFakeCache()
	r := New(client, cache)

	pool := "0x00000000000000000000000000000000009999"
	name, ok := r.Lookup(context.Background(), pool)
	assert.False(t, ok)
	assert.Empty(t, name)

	v3Topic := crypto.Keccak256Hash([]byte("Swap(address,address,int256,int256,uint160,uint128,int24)")).Hex()
	r.Enqueue(context.Background(), pool, v3Topic)

	require.Eventually(t, func() bool {
		name, ok := r.Lookup(context.Background(), pool)
		return ok && name == "Uniswap V3"
	}, time.Second, 5*time.Millisecond)
}

func TestEnqueueDedupesConcurrentProbes(t *testing.T) {
	// The probe is held until all five enqueues are made, so the later four
	// find the pool still pending.
	client := &countingFactoryClient{err: assertErr{}, release: make(chan struct{})}
	cache := newFakeCache()
	r := New(client, cache)

	pool := "0x0000000000000000000000000000000000aaaa"
	for i := 0; i < 5; i++ {
		r.Enqueue(context.Background(), pool, "0xdeadbeef")
	}
	close(client.release)

	require.Eventually(t, func() bool {
		_, ok := r.Lookup(context.Background(), pool)
		return ok
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, client.callCount())
}

type assertErr struct{}

func (assertErr) Error() string { return "no factory method" }

func TestSignatureFallback(t *testing.T) {
	curveTopic := crypto.Keccak256Hash([]byte("TokenExchange(address,int128,uint256,int128,uint256)")).Hex()
	assert.Equal(t, "Curve", SignatureFallback(curveTopic))

	aeroTopic := crypto.Keccak256Hash([]byte("Swap(address,address,uint256,uint256,uint256,uint256,int24,uint256)")).Hex()
	assert.Equal(t, "Aerodrome CL", SignatureFallback(aeroTopic))

	assert.Equal(t, "Unknown DEX", SignatureFallback("0xdeadbeef"))
}

func TestLookupFallsBackToDurableCacheOnMemoryMiss(t *testing.T) {
	client := &countingFactoryClient{}
	cache := newFakeCache()
	pool := "0x00000000000000000000000000000000005555"
	require.NoError(t, cache.UpsertPoolDex(context.Background(), types.PoolDexCache{
		PoolAddress: pool,
		DexName:     "Uniswap V2",
	}))

	// A fresh resolver whose in-memory cache was never populated by LoadCache
	// must still resolve pools already persisted by a prior process run.
	r := New(client, cache)

	name, ok := r.Lookup(context.Background(), pool)
	require.True(t, ok)
	assert.Equal(t, "Uniswap V2", name)
	assert.Equal(t, 0, client.callCount())
}

func TestLoadCacheIsIdempotentAndPopulatesLookup(t *testing.T) {
	cache := newFakeCache()
	pool := "0x00000000000000000000000000000000006666"
	require.NoError(t, cache.UpsertPoolDex(context.Background(), types.PoolDexCache{
		PoolAddress: pool,
		DexName:     "Aerodrome V2",
	}))

	r := New(&countingFactoryClient{}, cache)
	require.NoError(t, r.LoadCache(context.Background()))
	require.NoError(t, r.LoadCache(context.Background()))

	name, ok := r.Lookup(context.Background(), pool)
	require.True(t, ok)
	assert.Equal(t, "Aerodrome V2", name)
}

func TestSingletonAndCuratedCurveResolveWithoutRPC(t *testing.T) {
	client := &countingFactoryClient{}
	r := New(client, newFakeCache())

	name, ok := r.Lookup(context.Background(), "0x498581fF718922c3f8e6A244956aF099B2652b2b")
	require.True(t, ok)
	assert.Equal(t, "Uniswap V4", name)

	name, ok = r.Lookup(context.Background(), "0xF6C5F01C7F3148891AD0E19DF3218A6AB6B331E4")
	require.True(t, ok)
	assert.Equal(t, "Curve", name)
	assert.Equal(t, 0, client.callCount())
}
