// Package poller implements the Poller (§4.9): the single cooperative loop
// that drives block ingestion, delegating reorg detection, fetching, and
// enrichment to their respective components and committing each block's
// snapshot to the store gateway.
package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/baseingest/ingester/internal/enrich"
	"github.com/baseingest/ingester/internal/logging"
	"github.com/baseingest/ingester/internal/types"
)

// Store is the narrow store dependency the poller needs.
type Store interface {
	Checkpoint(ctx context.Context) (uint64, bool, error)
	SetCheckpoint(ctx context.Context, n uint64) error
	CommitBlock(ctx context.Context, snapshot types.BlockSnapshot) error
}

// ChainReader is the narrow RPC Fetcher dependency the poller needs.
type ChainReader interface {
	LatestHead(ctx context.Context) (uint64, error)
	BlockWithTxs(ctx context.Context, number uint64) (types.Block, []types.Transaction, error)
	BlockReceipts(ctx context.Context, number uint64, txHashes []string) ([]types.Receipt, []types.Log, error)
}

// ReorgController is the narrow Reorg Controller dependency.
type ReorgController interface {
	Check(ctx context.Context, next uint64) (uint64, error)
}

// Config configures a Poller (§6).
type Config struct {
	Store                  Store
	Chain                  ChainReader
	Reorg                  ReorgController
	Resolver               enrich.DexResolver
	PollInterval           time.Duration // POLL_INTERVAL_MS, default 2s
	SafetyBufferBlocks     uint64        // SAFETY_BUFFER_BLOCKS, default 3
	CatchupThresholdBlocks uint64        // CATCHUP_THRESHOLD_BLOCKS, default 5
}

// Status is the read-only health-counters view (§4.9).
type Status struct {
	LastProcessedBlock    uint64
	BlocksProcessedSession uint64
	BlocksBehind          uint64
	CatchingUp            bool
	ErrorCount            uint64
	UptimeSeconds         int64
	BlocksPerSec          float64
}

// Poller is the single cooperative ingestion loop.
type Poller struct {
	store    Store
	chain    ChainReader
	reorg    ReorgController
	resolver enrich.DexResolver

	pollInterval     time.Duration
	safetyBuffer     uint64
	catchupThreshold uint64

	logger *logging.Logger

	mu                     sync.RWMutex
	running                bool
	stopCh                 chan struct{}
	doneCh                 chan struct{}
	startTime              time.Time
	lastProcessedBlock     uint64
	blocksProcessedSession uint64
	blocksBehind           uint64
	catchingUp             bool
	errorCount             uint64
}

// New builds a Poller from cfg, applying §6's defaults for zero-valued
// fields.
func New(cfg Config) (*Poller, error) {
	if cfg.Store == nil || cfg.Chain == nil || cfg.Reorg == nil || cfg.Resolver == nil {
		return nil, fmt.Errorf("poller: store, chain, reorg, and resolver are required")
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	safetyBuffer := cfg.SafetyBufferBlocks
	if safetyBuffer == 0 {
		safetyBuffer = 3
	}
	catchupThreshold := cfg.CatchupThresholdBlocks
	if catchupThreshold == 0 {
		catchupThreshold = 5
	}

	return &Poller{
		store:            cfg.Store,
		chain:            cfg.Chain,
		reorg:            cfg.Reorg,
		resolver:         cfg.Resolver,
		pollInterval:     pollInterval,
		safetyBuffer:     safetyBuffer,
		catchupThreshold: catchupThreshold,
		logger:           logging.GetGlobalLogger().WithField("component", "poller"),
		stopCh:           make(chan struct{}),
		doneCh:           make(chan struct{}),
	}, nil
}

// Start runs the Init pseudostate (§4.9) and launches the poll loop.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("poller already running")
	}
	p.running = true
	p.mu.Unlock()

	checkpoint, ok, err := p.store.Checkpoint(ctx)
	if err != nil {
		return fmt.Errorf("poller: failed to load checkpoint: %w", err)
	}
	if !ok {
		head, err := p.chain.LatestHead(ctx)
		if err != nil {
			return fmt.Errorf("poller: failed to fetch head for cold start: %w", err)
		}
		seed := safeSub(head, p.safetyBuffer)
		if err := p.store.SetCheckpoint(ctx, seed); err != nil {
			return fmt.Errorf("poller: failed to seed checkpoint: %w", err)
		}
		checkpoint = seed
		p.logger.WithField("checkpoint", seed).Info("cold start: seeded checkpoint from head - safety buffer")
	} else {
		p.logger.WithField("checkpoint", checkpoint).Info("resuming from stored checkpoint")
	}

	p.mu.Lock()
	p.lastProcessedBlock = checkpoint
	p.startTime = time.Now()
	p.mu.Unlock()

	go p.pollLoop(ctx)
	return nil
}

// Stop signals Shutdown (§4.9): the flag is set, the in-flight block (if
// any) finishes, then the loop exits.
func (p *Poller) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return fmt.Errorf("poller is not running")
	}
	p.mu.Unlock()

	close(p.stopCh)

	select {
	case <-p.doneCh:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(30 * time.Second):
		return fmt.Errorf("poller: stop timed out")
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	return nil
}

func (p *Poller) pollLoop(ctx context.Context) {
	defer close(p.doneCh)

	var delay time.Duration
	for {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-p.stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}
		delay = p.tick(ctx)
	}
}

// tick runs one Idle/Catchup/Error decision (§4.9) and returns the delay
// before the next tick.
func (p *Poller) tick(ctx context.Context) time.Duration {
	head, err := p.chain.LatestHead(ctx)
	if err != nil {
		p.recordError(err, "latestHead")
		return 2 * p.pollInterval
	}

	next := p.getLastProcessed() + 1
	threshold := safeSub(head, p.safetyBuffer)

	if next > threshold {
		p.setCatchingUp(false, 0)
		return p.pollInterval
	}

	behind := threshold - (next - 1)
	catchingUp := behind > p.catchupThreshold
	p.setCatchingUp(catchingUp, behind)

	if err := p.processOne(ctx, next); err != nil {
		p.recordError(err, "processBlock")
		return 2 * p.pollInterval
	}

	if catchingUp {
		if p.getSessionCount()%20 == 0 {
			p.logCatchupProgress(behind)
		}
		return 0
	}
	return p.pollInterval
}

func (p *Poller) processOne(ctx context.Context, next uint64) error {
	target, err := p.reorg.Check(ctx, next)
	if err != nil {
		return fmt.Errorf("reorg check: %w", err)
	}

	block, txs, err := p.chain.BlockWithTxs(ctx, target)
	if err != nil {
		return fmt.Errorf("blockWithTxs(%d): %w", target, err)
	}

	txHashes := make([]string, len(txs))
	for i, tx := range txs {
		txHashes[i] = tx.Hash
	}

	receipts, logs, err := p.chain.BlockReceipts(ctx, target, txHashes)
	if err != nil {
		return fmt.Errorf("blockReceipts(%d): %w", target, err)
	}

	snapshot := enrich.Block(ctx, p.resolver, block, txs, receipts, logs)

	if err := p.store.CommitBlock(ctx, snapshot); err != nil {
		return fmt.Errorf("commitBlock(%d): %w", target, err)
	}
	if err := p.store.SetCheckpoint(ctx, target); err != nil {
		return fmt.Errorf("setCheckpoint(%d): %w", target, err)
	}

	p.recordProcessed(target)
	return nil
}

func (p *Poller) logCatchupProgress(behind uint64) {
	rate := p.blocksPerSec()
	eta := "unknown"
	if rate > 0 {
		eta = time.Duration(float64(behind)/rate*float64(time.Second)).Round(time.Second).String()
	}
	p.logger.WithFields(map[string]interface{}{
		"blocksBehind": behind,
		"blocksPerSec": rate,
		"eta":          eta,
	}).Info("catching up")
}

// Status returns a snapshot of the health counters (§4.9).
func (p *Poller) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()

	uptime := int64(0)
	if !p.startTime.IsZero() {
		uptime = int64(time.Since(p.startTime).Seconds())
	}

	return Status{
		LastProcessedBlock:     p.lastProcessedBlock,
		BlocksProcessedSession: p.blocksProcessedSession,
		BlocksBehind:           p.blocksBehind,
		CatchingUp:             p.catchingUp,
		ErrorCount:             p.errorCount,
		UptimeSeconds:          uptime,
		BlocksPerSec:           p.blocksPerSecLocked(),
	}
}

func (p *Poller) blocksPerSec() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.blocksPerSecLocked()
}

func (p *Poller) blocksPerSecLocked() float64 {
	if p.startTime.IsZero() {
		return 0
	}
	elapsed := time.Since(p.startTime).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(p.blocksProcessedSession) / elapsed
}

func (p *Poller) getLastProcessed() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastProcessedBlock
}

func (p *Poller) getSessionCount() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.blocksProcessedSession
}

func (p *Poller) recordProcessed(number uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastProcessedBlock = number
	p.blocksProcessedSession++
}

func (p *Poller) setCatchingUp(v bool, behind uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.catchingUp = v
	p.blocksBehind = behind
}

func (p *Poller) recordError(err error, op string) {
	p.mu.Lock()
	p.errorCount++
	p.mu.Unlock()
	p.logger.WithError(err).WithField("op", op).Warn("poller iteration failed, retrying after backoff")
}

func safeSub(a, b uint64) uint64 {
	if b >= a {
		return 0
	}
	return a - b
}
