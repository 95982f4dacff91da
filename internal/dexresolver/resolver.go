// Package dexresolver implements the Pool/DEX Resolver (§4.4): mapping a
// pool contract address to a DEX family name via singletons, a curated
// Curve set, an in-memory + durable cache, and an async factory-probe
// fallback that never blocks the block enricher's hot path.
package dexresolver

import (
	"context"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/baseingest/ingester/internal/logging"
	"github.com/baseingest/ingester/internal/types"
)

// Cache is the durable store dependency: the pool_dex_cache table (§3),
// used for both the lazy initial load and probe result persistence.
type Cache interface {
	GetPoolDex(ctx context.Context, poolAddress string) (types.PoolDexCache, bool, error)
	UpsertPoolDex(ctx context.Context, entry types.PoolDexCache) error
	AllPoolDex(ctx context.Context) ([]types.PoolDexCache, error)
}

// FactoryProber is the narrow on-chain read the resolver needs; satisfied
// by *ethclient.Client in production and a fake in tests. blockNumber is
// always passed as nil (latest) by the resolver.
type FactoryProber interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// singletons are known non-factory pools that resolve directly (§4.4.1).
var singletons = map[string]string{
	// Uniswap V4 PoolManager (Base mainnet).
	"0x498581ff718922c3f8e6a244956af099b2652b2b": "Uniswap V4",
}

// curatedCurvePools is the curated Curve pool address set (§4.4.2).
var curatedCurvePools = map[string]bool{
	"0xf6c5f01c7f3148891ad0e19df3218a6ab6b331e4": true,
}

// factoryToDex maps a known factory contract address to its DEX family
// name (§4.4.5).
var factoryToDex = map[string]string{
	"0x8909dc15e40173ff4699343b6eb8132c65e18ec6": "Uniswap V2",
	"0x33128a8fc17869897dce68ed026d694621f6fdfd": "Uniswap V3",
	"0x420dd381b31aef6683db6b902084cb0ffece40da": "Aerodrome V2",
	"0x5e7bb104d84c7cb9b682aac2f3d509f5f406809a": "Aerodrome CL",
}

var (
	factorySelector = crypto.Keccak256([]byte("factory()"))[:4]
)

// Resolver is the Pool/DEX Resolver.
type Resolver struct {
	client FactoryProber
	cache  Cache
	logger *logging.Logger

	mu        sync.RWMutex
	inMemory  map[string]string // pool address -> dex name
	loaded    bool

	pendingMu sync.Mutex
	pending   map[string]bool
}

// New builds a Resolver. The in-memory cache is empty until LoadCache runs.
func New(client FactoryProber, cache Cache) *Resolver {
	return &Resolver{
		client:   client,
		cache:    cache,
		logger:   logging.GetGlobalLogger().WithField("component", "dexresolver"),
		inMemory: make(map[string]string),
		pending:  make(map[string]bool),
	}
}

// LoadCache lazily loads the durable pool_dex_cache table into memory once
// (§4.4.3). Safe to call more than once; subsequent calls are no-ops.
func (r *Resolver) LoadCache(ctx context.Context) error {
	r.mu.Lock()
	if r.loaded {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	entries, err := r.cache.AllPoolDex(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range entries {
		r.inMemory[strings.ToLower(e.PoolAddress)] = e.DexName
	}
	r.loaded = true
	return nil
}

// Lookup is the hot path the block enricher calls (§4.4 "hot-path
// contract"). It never performs RPC. It consults singletons, the curated
// Curve set, and the in-memory cache first; on a miss it falls through to a
// synchronous per-address read of the durable pool_dex_cache table (§4.4
// step 4), since LoadCache's bulk load can race an Enqueue result written
// by a prior process run. A miss on all four returns ("", false); the
// caller should fall back to a signature-based name and call Enqueue to
// resolve it properly for future blocks.
func (r *Resolver) Lookup(ctx context.Context, poolAddress string) (string, bool) {
	pool := strings.ToLower(poolAddress)

	if name, ok := singletons[pool]; ok {
		return name, true
	}
	if curatedCurvePools[pool] {
		return "Curve", true
	}

	r.mu.RLock()
	name, ok := r.inMemory[pool]
	r.mu.RUnlock()
	if ok {
		return name, true
	}

	entry, found, err := r.cache.GetPoolDex(ctx, pool)
	if err != nil {
		r.logger.WithError(err).Warn("durable pool/dex read failed")
		return "", false
	}
	if !found {
		return "", false
	}

	r.mu.Lock()
	r.inMemory[pool] = entry.DexName
	r.mu.Unlock()
	return entry.DexName, true
}

// Enqueue fires a detached, deduplicated factory probe for poolAddress. The
// swapTopic0 is used for the signature-based fallback if factory() is
// unavailable (§4.4.5). Results populate both the in-memory and durable
// caches; duplicate concurrent probes for the same pool are suppressed by
// the pending-lookups map (§9).
func (r *Resolver) Enqueue(ctx context.Context, poolAddress, swapTopic0 string) {
	pool := strings.ToLower(poolAddress)

	r.pendingMu.Lock()
	if r.pending[pool] {
		r.pendingMu.Unlock()
		return
	}
	r.pending[pool] = true
	r.pendingMu.Unlock()

	probeID := uuid.New().String()
	go func() {
		defer func() {
			r.pendingMu.Lock()
			delete(r.pending, pool)
			r.pendingMu.Unlock()
		}()

		log := r.logger.WithFields(map[string]interface{}{
			"pool":    pool,
			"probeId": probeID,
		})
		log.Debug("starting async factory probe")

		probeCtx := context.Background()
		name, factory := r.probe(probeCtx, pool, swapTopic0)

		entry := types.PoolDexCache{PoolAddress: pool, DexName: name, FactoryAddress: factory}
		if err := r.cache.UpsertPoolDex(probeCtx, entry); err != nil {
			log.WithError(err).Warn("failed to persist pool/dex resolution")
			return
		}

		r.mu.Lock()
		r.inMemory[pool] = name
		r.mu.Unlock()

		log.WithField("dexName", name).Info("resolved pool to dex family")
	}()
}

// SignatureFallback implements §4.4.5's signature-based fallback for when
// factory() cannot be called at all (used both by probe and directly by
// the enricher when it needs an immediate name for a first-seen pool).
func SignatureFallback(swapTopic0 string) string {
	switch classifyTopicForFallback(swapTopic0) {
	case types.LogKindDexSwapCurve:
		return "Curve"
	case types.LogKindDexSwapAero:
		return "Aerodrome CL"
	default:
		return "Unknown DEX"
	}
}

// classifyTopicForFallback re-derives just the two signatures this fallback
// cares about by hashing them locally; it does not consult the registry or
// the classify package.
func classifyTopicForFallback(topic0 string) types.LogKind {
	topic0 = strings.ToLower(topic0)
	if topic0 == strings.ToLower(crypto.Keccak256Hash([]byte("TokenExchange(address,int128,uint256,int128,uint256)")).Hex()) {
		return types.LogKindDexSwapCurve
	}
	if topic0 == strings.ToLower(crypto.Keccak256Hash([]byte("Swap(address,address,uint256,uint256,uint256,uint256,int24,uint256)")).Hex()) {
		return types.LogKindDexSwapAero
	}
	return types.LogKindOther
}

// probe performs the on-chain factory() read and resolves the result
// through factoryToDex, falling back to SignatureFallback on any failure.
func (r *Resolver) probe(ctx context.Context, pool, swapTopic0 string) (dexName string, factoryAddress string) {
	addr := common.HexToAddress(pool)
	result, err := r.client.CallContract(ctx, ethereum.CallMsg{
		To:   &addr,
		Data: factorySelector,
	}, nil)
	if err != nil || len(result) < 32 {
		return SignatureFallback(swapTopic0), ""
	}

	factory := strings.ToLower(common.BytesToAddress(result[len(result)-20:]).Hex())
	if dex, ok := factoryToDex[factory]; ok {
		return dex, factory
	}
	prefix := factory
	if len(prefix) > 10 {
		prefix = prefix[:10]
	}
	return "Unknown(" + prefix + ")", factory
}
