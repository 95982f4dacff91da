// Package reorg implements the Reorg Controller (§4.8): a state machine
// run once per poller iteration, before a block is processed, to detect a
// chain reorganization and rewind the store to a consistent prefix.
package reorg

import (
	"context"
	"strings"

	"github.com/baseingest/ingester/internal/logging"
	"github.com/baseingest/ingester/internal/types"
)

// Store is the narrow store dependency the controller needs.
type Store interface {
	BlockByNumber(ctx context.Context, number uint64) (types.Block, bool, error)
	MarkReorged(ctx context.Context, from uint64) error
	Rewind(ctx context.Context, from uint64) error
	SetCheckpoint(ctx context.Context, n uint64) error
}

// ChainReader is the narrow RPC dependency: only the remote block's header
// fields (hash, parentHash) matter to the Probe state. The poller re-fetches
// the block (with transactions) separately when it actually processes it.
type ChainReader interface {
	BlockWithTxs(ctx context.Context, number uint64) (types.Block, []types.Transaction, error)
}

// Controller runs the Check/Probe/Rewind/Proceed state machine (§4.8). It is
// driven by a single poller goroutine and keeps no lock of its own (§5, §9).
type Controller struct {
	store       Store
	chain       ChainReader
	rewindDepth uint64
	logger      *logging.Logger

	// lastRewindTo tracks the block number a prior Rewind targeted. If the
	// very next Check for that same number mismatches again, the reorg is
	// deeper than rewindDepth; per §9's decision this does not escalate
	// further rewinds, it logs and proceeds on the locally inconsistent
	// prefix instead of rewinding indefinitely.
	lastRewindTo *uint64
}

// New builds a Controller. rewindDepth is REORG_REWIND_DEPTH (§6, default 10).
func New(store Store, chain ChainReader, rewindDepth uint64) *Controller {
	return &Controller{
		store:       store,
		chain:       chain,
		rewindDepth: rewindDepth,
		logger:      logging.GetGlobalLogger().WithField("component", "reorg"),
	}
}

// Check runs the state machine for `next` (checkpoint+1) and returns the
// block number the poller should actually process next.
func (c *Controller) Check(ctx context.Context, next uint64) (uint64, error) {
	if next == 0 {
		return next, nil
	}

	prev, ok, err := c.store.BlockByNumber(ctx, next-1)
	if err != nil {
		return 0, err
	}
	if !ok || prev.Reorged {
		return next, nil
	}

	return c.probe(ctx, next, prev)
}

func (c *Controller) probe(ctx context.Context, next uint64, prev types.Block) (uint64, error) {
	remote, _, err := c.chain.BlockWithTxs(ctx, next)
	if err != nil {
		return 0, err
	}

	if strings.EqualFold(remote.ParentHash, prev.Hash) {
		c.lastRewindTo = nil
		return next, nil
	}

	if c.lastRewindTo != nil && *c.lastRewindTo == next {
		c.logger.WithFields(map[string]interface{}{
			"block": next,
		}).Warn("chain continuity still broken after rewind; reorg exceeds configured depth, proceeding on inconsistent prefix")
		c.lastRewindTo = nil
		return next, nil
	}

	return c.rewind(ctx, next)
}

func (c *Controller) rewind(ctx context.Context, next uint64) (uint64, error) {
	var rewindTo uint64
	if next > c.rewindDepth {
		rewindTo = next - c.rewindDepth
	}

	c.logger.WithFields(map[string]interface{}{
		"detectedAt": next,
		"rewindTo":   rewindTo,
	}).Warn("chain reorg detected, rewinding store")

	if err := c.store.MarkReorged(ctx, rewindTo); err != nil {
		return 0, err
	}
	if err := c.store.Rewind(ctx, rewindTo); err != nil {
		return 0, err
	}

	var newCheckpoint uint64
	if rewindTo > 0 {
		newCheckpoint = rewindTo - 1
	}
	if err := c.store.SetCheckpoint(ctx, newCheckpoint); err != nil {
		return 0, err
	}

	c.lastRewindTo = &rewindTo
	return rewindTo, nil
}
