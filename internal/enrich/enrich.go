// Package enrich implements the Block Enricher (§4.6): a pure reduction
// over a fetched block's transactions, receipts, and logs into the
// analytics and decoded rows the store gateway commits atomically.
package enrich

import (
	"context"
	"encoding/json"
	"math/big"
	"sort"

	"github.com/baseingest/ingester/internal/classify"
	"github.com/baseingest/ingester/internal/dexresolver"
	"github.com/baseingest/ingester/internal/types"
)

// DexResolver is the narrow synchronous-lookup + async-enqueue contract the
// enricher needs from the Pool/DEX Resolver (§4.4, §4.6).
type DexResolver interface {
	Lookup(ctx context.Context, poolAddress string) (string, bool)
	Enqueue(ctx context.Context, poolAddress, swapTopic0 string)
}

var dexSwapKinds = map[types.LogKind]bool{
	types.LogKindDexSwapV2:    true,
	types.LogKindDexSwapV3:    true,
	types.LogKindDexSwapAero:  true,
	types.LogKindDexSwapCurve: true,
}

// Block reduces one block's fetched data into a committable snapshot
// (§4.6). txs and receipts must share the same transaction set; logs are
// every log emitted across that block's receipts, in any order.
func Block(ctx context.Context, resolver DexResolver, block types.Block, txs []types.Transaction, receipts []types.Receipt, logs []types.Log) types.BlockSnapshot {
	receiptByHash := make(map[string]types.Receipt, len(receipts))
	for _, r := range receipts {
		receiptByHash[r.TxHash] = r
	}

	enrichedTxs := make([]types.Transaction, 0, len(txs))
	deployments := make([]types.ContractDeployment, 0)
	senders := make(map[string]struct{})
	recipients := make(map[string]struct{})

	var totalGasUsed uint64
	var gasPriceSum, gasPriceCount = new(big.Int), 0
	var priorityFeeSum, priorityFeeCount = new(big.Int), 0
	txKindCounts := make(map[types.TxKind]int)

	for _, tx := range txs {
		tx.Kind = classify.Transaction(tx)
		txKindCounts[tx.Kind]++
		if r, ok := receiptByHash[tx.Hash]; ok {
			tx.GasUsed = r.GasUsed
			tx.EffectiveGasPrice = r.EffectiveGasPrice

			if tx.Kind == types.TxKindContractCreation && r.ContractAddress != nil {
				deployments = append(deployments, types.ContractDeployment{
					TxHash:          tx.Hash,
					BlockNumber:     block.Number,
					ContractAddress: *r.ContractAddress,
					Deployer:        tx.From,
				})
			}
		}
		enrichedTxs = append(enrichedTxs, tx)

		senders[tx.From] = struct{}{}
		if tx.To != nil {
			recipients[*tx.To] = struct{}{}
		}

		totalGasUsed += tx.GasUsed
		if tx.EffectiveGasPrice != nil {
			gasPriceSum.Add(gasPriceSum, tx.EffectiveGasPrice)
			gasPriceCount++
		}
		if tx.GasTipCap != nil {
			priorityFeeSum.Add(priorityFeeSum, tx.GasTipCap)
			priorityFeeCount++
		}
	}

	contractLogCounts := make(map[string]int)
	eventCounts := make(map[types.LogKind]int)
	transfers := make([]types.TokenTransfer, 0)
	nftTransfers := make([]types.NFTTransfer, 0)
	swaps := make([]types.DexSwap, 0)

	for _, l := range logs {
		contractLogCounts[l.Address]++

		kind := classify.Log(l)
		eventCounts[kind]++

		switch kind {
		case types.LogKindERC20Transfer:
			if t, err := classify.DecodeERC20Transfer(l); err == nil {
				transfers = append(transfers, t)
			}
		case types.LogKindERC721Transfer:
			if t, err := classify.DecodeERC721Transfer(l); err == nil {
				nftTransfers = append(nftTransfers, t)
			}
		case types.LogKindERC1155Transfer:
			if t, err := classify.DecodeERC1155TransferSingle(l); err == nil {
				nftTransfers = append(nftTransfers, t)
			}
		}

		if dexSwapKinds[kind] {
			if swap, ok := decodeSwap(kind, l); ok {
				swap.DexName = resolveDexName(ctx, resolver, swap.PoolAddr, deref(l.Topic0))
				swaps = append(swaps, swap)
			}
		}
	}

	metrics := types.BlockMetrics{
		BlockNumber:      block.Number,
		TxCount:          len(enrichedTxs),
		LogCount:         len(logs),
		TotalGasUsed:     totalGasUsed,
		AvgGasPerTx:      avgUint64(totalGasUsed, len(enrichedTxs)),
		TopContractsJSON: topContractsJSON(contractLogCounts),
		UniqueSenders:    len(senders),
		UniqueRecipients: len(recipients),
		AvgGasPrice:      avgBigInt(gasPriceSum, gasPriceCount),
		AvgPriorityFee:   avgBigInt(priorityFeeSum, priorityFeeCount),
	}

	eventCountRows := make([]types.EventCount, 0, len(eventCounts)+len(txKindCounts))
	for kind, count := range eventCounts {
		eventCountRows = append(eventCountRows, types.EventCount{BlockNumber: block.Number, Kind: kind, Count: count})
	}
	// Classification totality (§8): event_counts must also carry the
	// per-block tx-kind tallies, not just log-kind tallies, so its sum
	// equals logCount plus the block's tx-kind counts.
	for kind, count := range txKindCounts {
		eventCountRows = append(eventCountRows, types.EventCount{BlockNumber: block.Number, Kind: types.LogKind(kind), Count: count})
	}

	return types.BlockSnapshot{
		Block:        block,
		Transactions: enrichedTxs,
		Receipts:     receipts,
		Logs:         logs,
		Metrics:      metrics,
		EventCounts:  eventCountRows,
		Transfers:    transfers,
		NFTTransfers: nftTransfers,
		Swaps:        swaps,
		Deployments:  deployments,
	}
}

// resolveDexName implements §4.4's hot-path contract: a synchronous,
// non-blocking cache lookup, falling back to the signature-based name and
// enqueueing an async probe on a miss so later blocks see the resolved
// name.
func resolveDexName(ctx context.Context, resolver DexResolver, poolAddr, swapTopic0 string) string {
	if name, ok := resolver.Lookup(ctx, poolAddr); ok {
		return name
	}
	resolver.Enqueue(ctx, poolAddr, swapTopic0)
	return dexresolver.SignatureFallback(swapTopic0)
}

func decodeSwap(kind types.LogKind, l types.Log) (types.DexSwap, bool) {
	var (
		swap types.DexSwap
		err  error
	)
	switch kind {
	case types.LogKindDexSwapV2:
		swap, err = classify.DecodeSwapV2(l)
	case types.LogKindDexSwapV3:
		swap, err = classify.DecodeSwapV3(l)
	case types.LogKindDexSwapAero:
		swap, err = classify.DecodeSwapAero(l)
	case types.LogKindDexSwapCurve:
		swap, err = classify.DecodeSwapCurve(l)
	default:
		return types.DexSwap{}, false
	}
	return swap, err == nil
}

// topContractsJSON extracts the top-10 emitting addresses by log count,
// breaking ties by ascending address so the result is deterministic
// regardless of map iteration order (§4.6).
func topContractsJSON(counts map[string]int) string {
	rows := make([]types.ContractLogCount, 0, len(counts))
	for addr, count := range counts {
		rows = append(rows, types.ContractLogCount{Address: addr, LogCount: count})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].LogCount != rows[j].LogCount {
			return rows[i].LogCount > rows[j].LogCount
		}
		return rows[i].Address < rows[j].Address
	})
	if len(rows) > 10 {
		rows = rows[:10]
	}
	encoded, err := json.Marshal(rows)
	if err != nil {
		return "[]"
	}
	return string(encoded)
}

func avgUint64(total uint64, count int) uint64 {
	if count == 0 {
		return 0
	}
	return total / uint64(count)
}

func avgBigInt(sum *big.Int, count int) *big.Int {
	if count == 0 {
		return nil
	}
	return new(big.Int).Div(sum, big.NewInt(int64(count)))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
