// Package classify implements the Classifier (§4.2) and the Log Decoder
// (§4.3): mapping raw transactions and logs to semantic kinds, and
// extracting typed records from the kinds that are decodable.
package classify

import (
	"github.com/baseingest/ingester/internal/registry"
	"github.com/baseingest/ingester/internal/types"
)

// Transaction classifies a transaction into exactly one TxKind (§4.2).
func Transaction(tx types.Transaction) types.TxKind {
	if tx.To == nil {
		return types.TxKindContractCreation
	}
	if tx.Value != nil && tx.Value.Sign() > 0 && len(tx.Input) == 0 {
		return types.TxKindEthTransfer
	}
	return types.TxKindContractCall
}

// Log classifies a log into exactly one LogKind using the registry plus
// the ERC-20/ERC-721 topic-count tie-break (§4.2). Any unknown topic0
// classifies as LogKindOther.
func Log(l types.Log) types.LogKind {
	if l.Topic0 == nil {
		return types.LogKindOther
	}
	kind, ok := registry.Get().Lookup(*l.Topic0)
	if !ok {
		return types.LogKindOther
	}
	if kind == types.LogKindERC20Transfer {
		if l.TopicCount() == 4 {
			return types.LogKindERC721Transfer
		}
		return types.LogKindERC20Transfer
	}
	return kind
}
