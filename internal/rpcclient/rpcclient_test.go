package rpcclient

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baseingest/ingester/internal/circuitbreaker"
	"github.com/baseingest/ingester/internal/retry"
)

type fakeBackend struct {
	mu sync.Mutex

	blockNumberErr               error
	blockNumberFailuresRemaining int32
	head                         uint64

	blockReceiptsCalls  int32
	blockReceiptsErr    error
	blockReceiptsResult []*ethtypes.Receipt

	receiptByHash    map[common.Hash]*ethtypes.Receipt
	receiptErr       error
	receiptCallCount int32
	maxConcurrent    int32
	inFlight         int32
}

func (f *fakeBackend) BlockNumber(ctx context.Context) (uint64, error) {
	if atomic.LoadInt32(&f.blockNumberFailuresRemaining) > 0 {
		atomic.AddInt32(&f.blockNumberFailuresRemaining, -1)
		return 0, errors.New("connection reset by peer")
	}
	if f.blockNumberErr != nil {
		return 0, f.blockNumberErr
	}
	return f.head, nil
}

func (f *fakeBackend) BlockByNumber(ctx context.Context, number *big.Int) (*ethtypes.Block, error) {
	return ethtypes.NewBlockWithHeader(&ethtypes.Header{Number: number}), nil
}

func (f *fakeBackend) BlockReceipts(ctx context.Context, blockNrOrHash rpc.BlockNumberOrHash) ([]*ethtypes.Receipt, error) {
	atomic.AddInt32(&f.blockReceiptsCalls, 1)
	if f.blockReceiptsErr != nil {
		return nil, f.blockReceiptsErr
	}
	return f.blockReceiptsResult, nil
}

func (f *fakeBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	cur := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		max := atomic.LoadInt32(&f.maxConcurrent)
		if cur <= max {
			break
		}
		if atomic.CompareAndSwapInt32(&f.maxConcurrent, max, cur) {
			break
		}
	}
	atomic.AddInt32(&f.receiptCallCount, 1)

	if f.receiptErr != nil {
		return nil, f.receiptErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.receiptByHash[txHash]
	if !ok {
		return nil, errors.New("not found")
	}
	return r, nil
}

func (f *fakeBackend) ChainID(ctx context.Context) (*big.Int, error) {
	return big.NewInt(8453), nil
}

func testFetcher(backend rpcBackend, concurrency int) *Fetcher {
	retryConfig := &retry.RetryConfig{MaxAttempts: 1}
	breaker := circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("test"))
	return newWithBackend(backend, retryConfig, breaker, concurrency)
}

func TestLatestHeadReturnsBackendValue(t *testing.T) {
	backend := &fakeBackend{head: 42}
	f := testFetcher(backend, 4)

	head, err := f.LatestHead(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), head)
}

func TestLatestHeadRetriesTransientFailuresThenSucceeds(t *testing.T) {
	backend := &fakeBackend{head: 42, blockNumberFailuresRemaining: 2}
	retryConfig := &retry.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	breaker := circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("test"))
	f := newWithBackend(backend, retryConfig, breaker, 4)

	head, err := f.LatestHead(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), head)
}

func TestBlockReceiptsFallsBackAndLatchesOnUnsupported(t *testing.T) {
	backend := &fakeBackend{
		blockReceiptsErr: errors.New("the method eth_getBlockReceipts does not exist/is not available"),
		receiptByHash:    map[common.Hash]*ethtypes.Receipt{},
	}
	f := testFetcher(backend, 4)

	hash := common.HexToHash("0x01")
	backend.receiptByHash[hash] = &ethtypes.Receipt{TxHash: hash, Status: 1}

	receipts, _, err := f.BlockReceipts(context.Background(), 100, []string{hash.Hex()})
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	assert.Equal(t, uint64(1), receipts[0].Status)
	assert.True(t, f.batchReceiptsUnsupported.Load())
	assert.Equal(t, int32(1), backend.blockReceiptsCalls)

	// A second call must not re-probe blockReceipts; the latch is permanent.
	_, _, err = f.BlockReceipts(context.Background(), 101, []string{hash.Hex()})
	require.NoError(t, err)
	assert.Equal(t, int32(1), backend.blockReceiptsCalls)
}

func TestBlockReceiptsUsesBatchWhenSupported(t *testing.T) {
	hash := common.HexToHash("0x02")
	backend := &fakeBackend{
		blockReceiptsResult: []*ethtypes.Receipt{{TxHash: hash, Status: 1}},
	}
	f := testFetcher(backend, 4)

	receipts, _, err := f.BlockReceipts(context.Background(), 5, []string{hash.Hex()})
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	assert.False(t, f.batchReceiptsUnsupported.Load())
	assert.Equal(t, int32(0), backend.receiptCallCount)
}

func TestReceiptsByHashBoundsConcurrency(t *testing.T) {
	backend := &fakeBackend{
		blockReceiptsErr: errors.New("method not found"),
		receiptByHash:    map[common.Hash]*ethtypes.Receipt{},
	}
	hashes := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		h := common.BigToHash(big.NewInt(int64(i + 1)))
		backend.receiptByHash[h] = &ethtypes.Receipt{TxHash: h, Status: 1}
		hashes = append(hashes, h.Hex())
	}

	f := testFetcher(backend, 3)
	receipts, _, err := f.BlockReceipts(context.Background(), 1, hashes)
	require.NoError(t, err)
	require.Len(t, receipts, 20)
	assert.LessOrEqual(t, int(atomic.LoadInt32(&backend.maxConcurrent)), 3)
	assert.True(t, f.batchReceiptsUnsupported.Load())
}
