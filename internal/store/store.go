// Package store implements the Store Gateway (§4.7): the embedded
// relational store backing the ingestion pipeline. It owns the schema
// (applied via migrations before the poller starts), commits each block's
// enriched snapshot atomically, and serves the durable pool/DEX cache and
// reorg rewind operations.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"

	_ "github.com/mattn/go-sqlite3"

	"github.com/baseingest/ingester/internal/ingesterrors"
	"github.com/baseingest/ingester/internal/logging"
	"github.com/baseingest/ingester/internal/types"
)

// Store wraps a single SQLite connection in WAL mode. SQLite serializes
// writers regardless of connection count, so the pool is capped at one
// connection to avoid "database is locked" errors under concurrent access
// rather than to paper over a driver limitation.
type Store struct {
	db     *sql.DB
	logger *logging.Logger
}

// Open opens (creating if absent) the SQLite database at dbPath in WAL mode
// with foreign keys enforced.
func Open(ctx context.Context, dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, ingesterrors.StoreFailure("store.Open", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		return nil, ingesterrors.StoreFailure("store.Open", err)
	}

	return &Store{
		db:     db,
		logger: logging.GetGlobalLogger().WithField("component", "store"),
	}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// CommitBlock writes a block's full snapshot under a single transaction
// (§4.7). Primary-keyed tables use insert-or-replace semantics; append-like
// tables (logs and the enriched per-log rows) are replaced wholesale for
// the block's number so that re-processing the same block is idempotent.
func (s *Store) CommitBlock(ctx context.Context, snapshot types.BlockSnapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ingesterrors.StoreFailure("store.CommitBlock", err)
	}
	defer func() { _ = tx.Rollback() }()

	number := snapshot.Block.Number

	steps := []func() error{
		func() error { return commitBlockRow(ctx, tx, snapshot.Block) },
		func() error { return commitTransactions(ctx, tx, snapshot.Transactions) },
		func() error { return commitReceipts(ctx, tx, snapshot.Receipts) },
		func() error { return replaceLogs(ctx, tx, number, snapshot.Logs) },
		func() error { return commitMetrics(ctx, tx, snapshot.Metrics) },
		func() error { return replaceEventCounts(ctx, tx, number, snapshot.EventCounts) },
		func() error { return replaceTokenTransfers(ctx, tx, number, snapshot.Transfers) },
		func() error { return replaceNFTTransfers(ctx, tx, number, snapshot.NFTTransfers) },
		func() error { return replaceDexSwaps(ctx, tx, number, snapshot.Swaps) },
		func() error { return replaceDeployments(ctx, tx, number, snapshot.Deployments) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return ingesterrors.StoreFailure("store.CommitBlock", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return ingesterrors.StoreFailure("store.CommitBlock", err)
	}
	return nil
}

func commitBlockRow(ctx context.Context, tx *sql.Tx, b types.Block) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO blocks (number, hash, parent_hash, timestamp, gas_used, gas_limit, base_fee, reorged)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT(number) DO UPDATE SET
			hash = excluded.hash,
			parent_hash = excluded.parent_hash,
			timestamp = excluded.timestamp,
			gas_used = excluded.gas_used,
			gas_limit = excluded.gas_limit,
			base_fee = excluded.base_fee,
			reorged = excluded.reorged
	`, b.Number, b.Hash, b.ParentHash, b.Timestamp, b.GasUsed, b.GasLimit, bigToNullString(b.BaseFee), b.Reorged)
	return err
}

func commitTransactions(ctx context.Context, tx *sql.Tx, txs []types.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO transactions (hash, block_number, from_address, to_address, value, input, gas_price, gas_tip_cap, gas_fee_cap, gas_used, effective_gas_price, tx_type, kind)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT(hash) DO UPDATE SET
			block_number = excluded.block_number,
			from_address = excluded.from_address,
			to_address = excluded.to_address,
			value = excluded.value,
			input = excluded.input,
			gas_price = excluded.gas_price,
			gas_tip_cap = excluded.gas_tip_cap,
			gas_fee_cap = excluded.gas_fee_cap,
			gas_used = excluded.gas_used,
			effective_gas_price = excluded.effective_gas_price,
			tx_type = excluded.tx_type,
			kind = excluded.kind
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, t := range txs {
		if _, err := stmt.ExecContext(ctx,
			t.Hash, t.BlockNumber, t.From, t.To, bigToString(t.Value), t.Input,
			bigToNullString(t.GasPrice), bigToNullString(t.GasTipCap), bigToNullString(t.GasFeeCap),
			t.GasUsed, bigToNullString(t.EffectiveGasPrice), string(t.Type), string(t.Kind),
		); err != nil {
			return err
		}
	}
	return nil
}

func commitReceipts(ctx context.Context, tx *sql.Tx, receipts []types.Receipt) error {
	if len(receipts) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO receipts (tx_hash, block_number, status, gas_used, log_count, contract_address, effective_gas_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT(tx_hash) DO UPDATE SET
			block_number = excluded.block_number,
			status = excluded.status,
			gas_used = excluded.gas_used,
			log_count = excluded.log_count,
			contract_address = excluded.contract_address,
			effective_gas_price = excluded.effective_gas_price
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range receipts {
		if _, err := stmt.ExecContext(ctx,
			r.TxHash, r.BlockNumber, r.Status, r.GasUsed, r.LogCount, r.ContractAddress, bigToNullString(r.EffectiveGasPrice),
		); err != nil {
			return err
		}
	}
	return nil
}

func replaceLogs(ctx context.Context, tx *sql.Tx, blockNumber uint64, logs []types.Log) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM logs WHERE block_number = $1`, blockNumber); err != nil {
		return err
	}
	if len(logs) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO logs (tx_hash, block_number, log_index, address, topic0, topic1, topic2, topic3, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, l := range logs {
		if _, err := stmt.ExecContext(ctx,
			l.TxHash, l.BlockNumber, l.LogIndex, l.Address, l.Topic0, l.Topic1, l.Topic2, l.Topic3, l.Data,
		); err != nil {
			return err
		}
	}
	return nil
}

func commitMetrics(ctx context.Context, tx *sql.Tx, m types.BlockMetrics) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO block_metrics (block_number, tx_count, log_count, total_gas_used, avg_gas_per_tx, top_contracts_json, unique_senders, unique_recipients, avg_gas_price, avg_priority_fee)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT(block_number) DO UPDATE SET
			tx_count = excluded.tx_count,
			log_count = excluded.log_count,
			total_gas_used = excluded.total_gas_used,
			avg_gas_per_tx = excluded.avg_gas_per_tx,
			top_contracts_json = excluded.top_contracts_json,
			unique_senders = excluded.unique_senders,
			unique_recipients = excluded.unique_recipients,
			avg_gas_price = excluded.avg_gas_price,
			avg_priority_fee = excluded.avg_priority_fee
	`, m.BlockNumber, m.TxCount, m.LogCount, m.TotalGasUsed, m.AvgGasPerTx, m.TopContractsJSON,
		m.UniqueSenders, m.UniqueRecipients, bigToNullString(m.AvgGasPrice), bigToNullString(m.AvgPriorityFee))
	return err
}

func replaceEventCounts(ctx context.Context, tx *sql.Tx, blockNumber uint64, counts []types.EventCount) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM event_counts WHERE block_number = $1`, blockNumber); err != nil {
		return err
	}
	if len(counts) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO event_counts (block_number, kind, count) VALUES ($1, $2, $3)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range counts {
		if _, err := stmt.ExecContext(ctx, c.BlockNumber, string(c.Kind), c.Count); err != nil {
			return err
		}
	}
	return nil
}

func replaceTokenTransfers(ctx context.Context, tx *sql.Tx, blockNumber uint64, transfers []types.TokenTransfer) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM token_transfers WHERE block_number = $1`, blockNumber); err != nil {
		return err
	}
	if len(transfers) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO token_transfers (tx_hash, block_number, log_index, token_addr, from_address, to_address, amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, t := range transfers {
		if _, err := stmt.ExecContext(ctx, t.TxHash, t.BlockNumber, t.LogIndex, t.TokenAddr, t.From, t.To, bigToString(t.Amount)); err != nil {
			return err
		}
	}
	return nil
}

func replaceNFTTransfers(ctx context.Context, tx *sql.Tx, blockNumber uint64, transfers []types.NFTTransfer) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM nft_transfers WHERE block_number = $1`, blockNumber); err != nil {
		return err
	}
	if len(transfers) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO nft_transfers (tx_hash, block_number, log_index, token_addr, standard, from_address, to_address, token_id, amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, t := range transfers {
		if _, err := stmt.ExecContext(ctx, t.TxHash, t.BlockNumber, t.LogIndex, t.TokenAddr, t.Standard, t.From, t.To, bigToNullString(t.TokenID), bigToString(t.Amount)); err != nil {
			return err
		}
	}
	return nil
}

func replaceDexSwaps(ctx context.Context, tx *sql.Tx, blockNumber uint64, swaps []types.DexSwap) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM dex_swaps WHERE block_number = $1`, blockNumber); err != nil {
		return err
	}
	if len(swaps) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO dex_swaps (tx_hash, block_number, log_index, pool_addr, dex_name, sender, recipient, amount0_in, amount1_in, amount0_out, amount1_out)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, sw := range swaps {
		if _, err := stmt.ExecContext(ctx,
			sw.TxHash, sw.BlockNumber, sw.LogIndex, sw.PoolAddr, sw.DexName, sw.Sender, sw.Recipient,
			bigToNullString(sw.Amount0In), bigToNullString(sw.Amount1In), bigToNullString(sw.Amount0Out), bigToNullString(sw.Amount1Out),
		); err != nil {
			return err
		}
	}
	return nil
}

func replaceDeployments(ctx context.Context, tx *sql.Tx, blockNumber uint64, deployments []types.ContractDeployment) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM contract_deployments WHERE block_number = $1`, blockNumber); err != nil {
		return err
	}
	if len(deployments) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO contract_deployments (tx_hash, block_number, contract_address, deployer)
		VALUES ($1, $2, $3, $4)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, d := range deployments {
		if _, err := stmt.ExecContext(ctx, d.TxHash, d.BlockNumber, d.ContractAddress, d.Deployer); err != nil {
			return err
		}
	}
	return nil
}

// Checkpoint returns the single-row high-water mark (§3). The second
// return value is false if no checkpoint has been set yet.
func (s *Store) Checkpoint(ctx context.Context) (uint64, bool, error) {
	var n uint64
	err := s.db.QueryRowContext(ctx, `SELECT block_number FROM checkpoint WHERE id = 1`).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, ingesterrors.StoreFailure("store.Checkpoint", err)
	}
	return n, true, nil
}

// SetCheckpoint persists the new high-water mark.
func (s *Store) SetCheckpoint(ctx context.Context, n uint64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoint (id, block_number) VALUES (1, $1)
		ON CONFLICT(id) DO UPDATE SET block_number = excluded.block_number
	`, n)
	if err != nil {
		return ingesterrors.StoreFailure("store.SetCheckpoint", err)
	}
	return nil
}

// BlockByNumber fetches a stored block regardless of its reorged flag; the
// reorg controller inspects Reorged itself (§4.8 "Check" only cares about
// non-reorged blocks, so callers filter on that field).
func (s *Store) BlockByNumber(ctx context.Context, number uint64) (types.Block, bool, error) {
	var b types.Block
	var baseFee sql.NullString
	var reorged int
	err := s.db.QueryRowContext(ctx, `
		SELECT number, hash, parent_hash, timestamp, gas_used, gas_limit, base_fee, reorged
		FROM blocks WHERE number = $1
	`, number).Scan(&b.Number, &b.Hash, &b.ParentHash, &b.Timestamp, &b.GasUsed, &b.GasLimit, &baseFee, &reorged)
	if err == sql.ErrNoRows {
		return types.Block{}, false, nil
	}
	if err != nil {
		return types.Block{}, false, ingesterrors.StoreFailure("store.BlockByNumber", err)
	}
	b.BaseFee = nullStringToBig(baseFee)
	b.Reorged = reorged != 0
	return b, true, nil
}

// MarkReorged flags every block numbered from or above as reorged (§4.7,
// §4.8), without deleting them.
func (s *Store) MarkReorged(ctx context.Context, from uint64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE blocks SET reorged = 1 WHERE number >= $1`, from)
	if err != nil {
		return ingesterrors.StoreFailure("store.MarkReorged", err)
	}
	return nil
}

// rewindTables lists every table carrying a block_number column that must
// be purged on rewind, in an order that respects the foreign-key
// relationships declared in the schema (children before blocks).
var rewindTables = []string{
	"logs",
	"receipts",
	"transactions",
	"block_metrics",
	"event_counts",
	"token_transfers",
	"nft_transfers",
	"dex_swaps",
	"contract_deployments",
}

// Rewind deletes every row at or above block number from across the
// rewindable tables, within a single transaction (§4.7, §4.8). Blocks
// themselves are left in place; the caller flags them via MarkReorged.
func (s *Store) Rewind(ctx context.Context, from uint64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ingesterrors.StoreFailure("store.Rewind", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range rewindTables {
		query := fmt.Sprintf(`DELETE FROM %s WHERE block_number >= $1`, table)
		if _, err := tx.ExecContext(ctx, query, from); err != nil {
			return ingesterrors.StoreFailure("store.Rewind", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return ingesterrors.StoreFailure("store.Rewind", err)
	}
	return nil
}

// GetPoolDex implements dexresolver.Cache's durable read.
func (s *Store) GetPoolDex(ctx context.Context, poolAddress string) (types.PoolDexCache, bool, error) {
	var entry types.PoolDexCache
	err := s.db.QueryRowContext(ctx, `
		SELECT pool_address, dex_name, factory_address FROM pool_dex_cache WHERE pool_address = $1
	`, poolAddress).Scan(&entry.PoolAddress, &entry.DexName, &entry.FactoryAddress)
	if err == sql.ErrNoRows {
		return types.PoolDexCache{}, false, nil
	}
	if err != nil {
		return types.PoolDexCache{}, false, ingesterrors.StoreFailure("store.GetPoolDex", err)
	}
	return entry, true, nil
}

// UpsertPoolDex implements dexresolver.Cache's insert-or-replace write,
// used by factory-probe results (§4.4, §9: duplicate late-arriving probes
// must be harmless); the initial load reads through AllPoolDex instead.
func (s *Store) UpsertPoolDex(ctx context.Context, entry types.PoolDexCache) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pool_dex_cache (pool_address, dex_name, factory_address) VALUES ($1, $2, $3)
		ON CONFLICT(pool_address) DO UPDATE SET dex_name = excluded.dex_name, factory_address = excluded.factory_address
	`, entry.PoolAddress, entry.DexName, entry.FactoryAddress)
	if err != nil {
		return ingesterrors.StoreFailure("store.UpsertPoolDex", err)
	}
	return nil
}

// AllPoolDex implements dexresolver.Cache's lazy full-table load.
func (s *Store) AllPoolDex(ctx context.Context) ([]types.PoolDexCache, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT pool_address, dex_name, factory_address FROM pool_dex_cache`)
	if err != nil {
		return nil, ingesterrors.StoreFailure("store.AllPoolDex", err)
	}
	defer rows.Close()

	var out []types.PoolDexCache
	for rows.Next() {
		var entry types.PoolDexCache
		if err := rows.Scan(&entry.PoolAddress, &entry.DexName, &entry.FactoryAddress); err != nil {
			return nil, ingesterrors.StoreFailure("store.AllPoolDex", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, ingesterrors.StoreFailure("store.AllPoolDex", err)
	}
	return out, nil
}

// SeedContractLabels inserts the curated static labels (§3), ignoring rows
// that already exist so repeated startups are harmless.
func (s *Store) SeedContractLabels(ctx context.Context, labels []types.ContractLabel) error {
	if len(labels) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ingesterrors.StoreFailure("store.SeedContractLabels", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO contract_labels (address, name, category, protocol) VALUES ($1, $2, $3, $4)
		ON CONFLICT(address) DO NOTHING
	`)
	if err != nil {
		return ingesterrors.StoreFailure("store.SeedContractLabels", err)
	}
	defer stmt.Close()

	for _, l := range labels {
		if _, err := stmt.ExecContext(ctx, l.Address, l.Name, l.Category, l.Protocol); err != nil {
			return ingesterrors.StoreFailure("store.SeedContractLabels", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return ingesterrors.StoreFailure("store.SeedContractLabels", err)
	}
	return nil
}

func bigToString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func bigToNullString(v *big.Int) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: v.String(), Valid: true}
}

func nullStringToBig(s sql.NullString) *big.Int {
	if !s.Valid {
		return nil
	}
	v, ok := new(big.Int).SetString(s.String, 10)
	if !ok {
		return nil
	}
	return v
}
