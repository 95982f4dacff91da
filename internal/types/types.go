// Package types defines the domain model for ingested chain data: blocks,
// transactions, receipts, logs, and the derived analytics rows produced by
// the block enricher.
package types

import "math/big"

// TxType tags the EIP-2718 envelope kind of a transaction.
type TxType string

const (
	TxTypeLegacy  TxType = "legacy"
	TxTypeEIP2930 TxType = "eip2930"
	TxTypeEIP1559 TxType = "eip1559"
)

// TxKind is the result of transaction classification (§4.2).
type TxKind string

const (
	TxKindContractCreation TxKind = "contract_creation"
	TxKindEthTransfer      TxKind = "eth_transfer"
	TxKindContractCall     TxKind = "contract_call"
)

// LogKind enumerates every semantic log classification produced by the
// classifier (§4.2). Unrecognized topic0 values classify as LogKindOther.
type LogKind string

const (
	LogKindERC20Transfer      LogKind = "erc20_transfer"
	LogKindERC721Transfer     LogKind = "erc721_transfer"
	LogKindERC1155Transfer    LogKind = "erc1155_transfer"
	LogKindDexSwapV2          LogKind = "dex_swap_v2"
	LogKindDexSwapV3          LogKind = "dex_swap_v3"
	LogKindDexSwapAero        LogKind = "dex_swap_aero"
	LogKindDexSwapCurve       LogKind = "dex_swap_curve"
	LogKindLiquidityAdd       LogKind = "liquidity_add"
	LogKindLiquidityRemove    LogKind = "liquidity_remove"
	LogKindLiquidityCollect   LogKind = "liquidity_collect"
	LogKindPoolSync           LogKind = "pool_sync"
	LogKindPoolCreated        LogKind = "pool_created"
	LogKindApproval           LogKind = "approval"
	LogKindWethWrap           LogKind = "weth_wrap"
	LogKindWethUnwrap         LogKind = "weth_unwrap"
	LogKindUserOperation      LogKind = "user_operation"
	LogKindFlashLoan          LogKind = "flash_loan"
	LogKindRewardClaim        LogKind = "reward_claim"
	LogKindGaugeDeposit       LogKind = "gauge_deposit"
	LogKindGaugeWithdraw      LogKind = "gauge_withdraw"
	LogKindVote               LogKind = "vote"
	LogKindOwnershipChange    LogKind = "ownership_change"
	LogKindContractUpgrade    LogKind = "contract_upgrade"
	LogKindBridgeSend         LogKind = "bridge_send"
	LogKindBridgeReceive      LogKind = "bridge_receive"
	LogKindLendingSupply      LogKind = "lending_supply"
	LogKindLendingWithdraw    LogKind = "lending_withdraw"
	LogKindLendingBorrow      LogKind = "lending_borrow"
	LogKindLendingRepay       LogKind = "lending_repay"
	LogKindLendingLiquidation LogKind = "lending_liquidation"
	LogKindOracleUpdate       LogKind = "oracle_update"
	LogKindMultisigExec       LogKind = "multisig_exec"
	LogKindProtocolFees       LogKind = "protocol_fees"
	LogKindGovernance         LogKind = "governance"
	LogKindStaking            LogKind = "staking"
	LogKindNFTPositionMint    LogKind = "nft_position_mint"
	LogKindNFTPositionBurn    LogKind = "nft_position_burn"
	LogKindOther              LogKind = "other"
)

// Block is the anchor entity (§3).
type Block struct {
	Number     uint64
	Hash       string
	ParentHash string
	Timestamp  int64
	GasUsed    uint64
	GasLimit   uint64
	BaseFee    *big.Int // nil when the block predates EIP-1559
	Reorged    bool
}

// Transaction is keyed by hash (§3).
type Transaction struct {
	Hash              string
	BlockNumber       uint64
	From              string
	To                *string // nil for contract creation
	Value             *big.Int
	Input             []byte
	GasPrice          *big.Int
	GasTipCap         *big.Int // nil unless EIP-1559
	GasFeeCap         *big.Int // nil unless EIP-1559
	GasUsed           uint64
	EffectiveGasPrice *big.Int
	Type              TxType
	Kind              TxKind
}

// Receipt is 1:1 with a transaction hash (§3).
type Receipt struct {
	TxHash            string
	BlockNumber       uint64
	Status            uint64
	GasUsed           uint64
	LogCount          int
	ContractAddress   *string // non-nil only for contract-creation transactions
	EffectiveGasPrice *big.Int
}

// Log is append-only and surrogate-keyed (§3).
type Log struct {
	TxHash      string
	BlockNumber uint64
	LogIndex    int
	Address     string
	Topic0      *string
	Topic1      *string
	Topic2      *string
	Topic3      *string
	Data        []byte
}

// TopicCount returns the number of non-nil topics, used by the classifier's
// ERC-20/ERC-721 tie-break rule.
func (l Log) TopicCount() int {
	n := 0
	for _, t := range []*string{l.Topic0, l.Topic1, l.Topic2, l.Topic3} {
		if t != nil {
			n++
		}
	}
	return n
}

// BlockMetrics aggregates per-block analytics (§3).
type BlockMetrics struct {
	BlockNumber      uint64
	TxCount          int
	LogCount         int
	TotalGasUsed     uint64
	AvgGasPerTx      uint64
	TopContractsJSON string // JSON-encoded []ContractLogCount, top 10
	UniqueSenders    int
	UniqueRecipients int
	AvgGasPrice      *big.Int
	AvgPriorityFee   *big.Int
}

// ContractLogCount is one entry of BlockMetrics.TopContractsJSON.
type ContractLogCount struct {
	Address  string `json:"address"`
	LogCount int    `json:"logCount"`
}

// EventCount is (blockNumber, eventKind) -> count (§3).
type EventCount struct {
	BlockNumber uint64
	Kind        LogKind
	Count       int
}

// TokenTransfer is an enriched ERC-20 transfer row (§3).
type TokenTransfer struct {
	TxHash      string
	BlockNumber uint64
	LogIndex    int
	TokenAddr   string
	From        string
	To          string
	Amount      *big.Int
}

// NFTTransfer is an enriched ERC-721/ERC-1155 transfer row (§3).
type NFTTransfer struct {
	TxHash      string
	BlockNumber uint64
	LogIndex    int
	TokenAddr   string
	Standard    string // "ERC721" or "ERC1155"
	From        string
	To          string
	TokenID     *big.Int
	Amount      *big.Int
}

// DexSwap is an enriched DEX swap row (§3).
type DexSwap struct {
	TxHash      string
	BlockNumber uint64
	LogIndex    int
	PoolAddr    string
	DexName     string
	Sender      string
	Recipient   string
	Amount0In   *big.Int
	Amount1In   *big.Int
	Amount0Out  *big.Int
	Amount1Out  *big.Int
}

// ContractDeployment is an enriched creation row (§3); it is tx-scoped, not
// log-scoped.
type ContractDeployment struct {
	TxHash          string
	BlockNumber     uint64
	ContractAddress string
	Deployer        string
}

// Checkpoint is the single-row high-water mark (§3).
type Checkpoint struct {
	BlockNumber uint64
}

// PoolDexCache is (poolAddress -> dexName) plus the resolving factory (§3).
type PoolDexCache struct {
	PoolAddress    string
	DexName        string
	FactoryAddress string
}

// ContractLabel is a static seed row (§3).
type ContractLabel struct {
	Address  string
	Name     string
	Category string
	Protocol string
}

// BlockSnapshot is everything the enricher produces for one block, and
// everything the store gateway commits atomically (§4.7).
type BlockSnapshot struct {
	Block        Block
	Transactions []Transaction
	Receipts     []Receipt
	Logs         []Log
	Metrics      BlockMetrics
	EventCounts  []EventCount
	Transfers    []TokenTransfer
	NFTTransfers []NFTTransfer
	Swaps        []DexSwap
	Deployments  []ContractDeployment
}
