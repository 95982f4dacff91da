// Package registry implements the Event Signature Registry (§4.1): a
// process-wide, immutable table mapping a canonical event's keccak-256
// topic0 hash to its semantic LogKind.
package registry

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/baseingest/ingester/internal/types"
)

// Registry is an immutable topic0 -> LogKind lookup table.
type Registry struct {
	byTopic0 map[string]types.LogKind
}

// Lookup returns the semantic kind for topic0 (case-insensitive hex), or
// (_, false) if topic0 is not a recognized canonical signature.
func (r *Registry) Lookup(topic0 string) (types.LogKind, bool) {
	kind, ok := r.byTopic0[strings.ToLower(topic0)]
	return kind, ok
}

var (
	once     sync.Once
	instance *Registry
)

// Get returns the process-wide Registry, building it on first use.
func Get() *Registry {
	once.Do(func() {
		instance = build()
	})
	return instance
}

// computedSignatures maps a canonical Solidity event signature string to
// its semantic kind. topic0 is keccak256 of the signature string, computed
// once at build time.
var computedSignatures = map[string]types.LogKind{
	// ERC-1155 (§4.2's enumerated transfer kinds; ERC-20/721 Transfer share
	// one signature and are disambiguated in the classifier by topic count).
	"TransferSingle(address,address,address,uint256,uint256)":   types.LogKindERC1155Transfer,
	"TransferBatch(address,address,address,uint256[],uint256[])": types.LogKindERC1155Transfer,
	"ApprovalForAll(address,address,bool)":                       types.LogKindApproval,

	// DEX swaps (§4.3): V2-style, V3/concentrated-liquidity (shared by
	// Uniswap V3 and Aerodrome Slipstream, which emit the identical
	// signature), ve(3,3)/solidly-style (distinct argument order from V2),
	// and Curve's TokenExchange.
	"Swap(address,uint256,uint256,uint256,uint256,address)":              types.LogKindDexSwapV2,
	"Swap(address,address,int256,int256,uint160,uint128,int24)":         types.LogKindDexSwapV3,
	"Swap(address,address,uint256,uint256,uint256,uint256,address)":     types.LogKindDexSwapAero,
	"TokenExchange(address,int128,uint256,int128,uint256)":              types.LogKindDexSwapCurve,

	// Liquidity lifecycle.
	"Mint(address,uint256,uint256)":                                     types.LogKindLiquidityAdd,
	"Mint(address,address,int24,int24,uint128,uint256,uint256)":         types.LogKindLiquidityAdd,
	"Burn(address,uint256,uint256,address)":                             types.LogKindLiquidityRemove,
	"Burn(address,int24,int24,uint128,uint256,uint256)":                 types.LogKindLiquidityRemove,
	"Collect(address,address,int24,int24,uint128,uint128)":              types.LogKindLiquidityCollect,
	"Sync(uint112,uint112)":                                             types.LogKindPoolSync,
	"PairCreated(address,address,address,uint256)":                      types.LogKindPoolCreated,
	"PoolCreated(address,address,uint24,int24,address)":                 types.LogKindPoolCreated,

	// WETH wrap/unwrap.
	"Deposit(address,uint256)":    types.LogKindWethWrap,
	"Withdrawal(address,uint256)": types.LogKindWethUnwrap,

	// ERC-4337 account abstraction.
	"UserOperationEvent(bytes32,address,address,uint256,bool,uint256,uint256)": types.LogKindUserOperation,

	// Lending (Aave V3 canonical shapes).
	"Supply(address,address,address,uint256,uint16)":                      types.LogKindLendingSupply,
	"Withdraw(address,address,address,uint256)":                           types.LogKindLendingWithdraw,
	"Borrow(address,address,address,uint256,uint8,uint256,uint16)":        types.LogKindLendingBorrow,
	"Repay(address,address,address,uint256,bool)":                        types.LogKindLendingRepay,
	"LiquidationCall(address,address,address,uint256,uint256,address,bool)": types.LogKindLendingLiquidation,
	"FlashLoan(address,address,address,uint256,uint8,uint256,uint16)":     types.LogKindFlashLoan,

	// OP-stack standard bridge (native fit for a Base L2 ingester).
	"ETHBridgeInitiated(address,address,uint256,bytes)": types.LogKindBridgeSend,
	"ETHBridgeFinalized(address,address,uint256,bytes)": types.LogKindBridgeReceive,

	// Governance, staking, rewards.
	"ProposalCreated(uint256,address,address[],uint256[],string[],bytes[],uint256,uint256,string)": types.LogKindGovernance,
	"VoteCast(address,uint256,uint8,uint256,string)":                                               types.LogKindVote,
	"Staked(address,uint256)":                                                                       types.LogKindStaking,
	"RewardPaid(address,uint256)":                                                                   types.LogKindRewardClaim,
	// Gauge deposit/withdraw use the deposit-for/claimer-address variant
	// some gauge factories emit, so they do not collide with WETH's own
	// Deposit(address,uint256)/Withdrawal(address,uint256) signatures.
	"Deposit(address,uint256,address)":  types.LogKindGaugeDeposit,
	"Withdraw(address,uint256,address)": types.LogKindGaugeWithdraw,

	// Administrative.
	"OwnershipTransferred(address,address)": types.LogKindOwnershipChange,
	"Upgraded(address)":                     types.LogKindContractUpgrade,
	"ExecutionSuccess(bytes32,uint256)":      types.LogKindMultisigExec,
	"AnswerUpdated(int256,uint256,uint256)":  types.LogKindOracleUpdate,
	"CollectProtocol(address,address,uint128,uint128)": types.LogKindProtocolFees,

	// Concentrated-liquidity NFT positions (Uniswap V3 NonfungiblePositionManager).
	"IncreaseLiquidity(uint256,uint128,uint256,uint256)": types.LogKindNFTPositionMint,
	"DecreaseLiquidity(uint256,uint128,uint256,uint256)": types.LogKindNFTPositionBurn,
}

// literalSignatures declares a small set of well-known topic0 hashes
// directly (§4.1), rather than by hashing a canonical signature string,
// since these two are recognized by hash in practice more often than by
// their source signature.
var literalSignatures = map[string]types.LogKind{
	"0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef": types.LogKindERC20Transfer,
	"0x8c5be1e5ebec7d5bd14f71427d1e84f3dd0314c0f7b2291e5b200ac8c7c3b925": types.LogKindApproval,
}

func build() *Registry {
	table := make(map[string]types.LogKind, len(computedSignatures)+len(literalSignatures))

	for sig, kind := range computedSignatures {
		hash := crypto.Keccak256Hash([]byte(sig))
		table[strings.ToLower(hash.Hex())] = kind
	}
	for hash, kind := range literalSignatures {
		table[strings.ToLower(hash)] = kind
	}

	return &Registry{byTopic0: table}
}
