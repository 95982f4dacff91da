package store

import "github.com/baseingest/ingester/internal/types"

// DefaultContractLabels is the curated seed table for contract_labels
// (§3): well-known Base mainnet contracts, seeded once at ingest startup
// via SeedContractLabels.
var DefaultContractLabels = []types.ContractLabel{
	{Address: "0x4200000000000000000000000000000000000006", Name: "WETH", Category: "token", Protocol: "base"},
	{Address: "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913", Name: "USDC", Category: "token", Protocol: "circle"},
	{Address: "0x8909dc15e40173ff4699343b6eb8132c65e18ec6", Name: "Uniswap V2 Factory", Category: "dex_factory", Protocol: "uniswap"},
	{Address: "0x33128a8fc17869897dce68ed026d694621f6fdfd", Name: "Uniswap V3 Factory", Category: "dex_factory", Protocol: "uniswap"},
	{Address: "0x420dd381b31aef6683db6b902084cb0ffece40da", Name: "Aerodrome V2 Factory", Category: "dex_factory", Protocol: "aerodrome"},
	{Address: "0x498581ff718922c3f8e6a244956af099b2652b2b", Name: "Uniswap V4 PoolManager", Category: "dex_singleton", Protocol: "uniswap"},
}
