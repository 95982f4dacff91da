package registry

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"

	"github.com/baseingest/ingester/internal/types"
)

func TestLookupIsCaseInsensitive(t *testing.T) {
	hash := crypto.Keccak256Hash([]byte("Withdrawal(address,uint256)")).Hex()

	kind, ok := Get().Lookup(strings.ToUpper(hash))
	assert.True(t, ok)
	assert.Equal(t, types.LogKindWethUnwrap, kind)

	kind, ok = Get().Lookup(strings.ToLower(hash))
	assert.True(t, ok)
	assert.Equal(t, types.LogKindWethUnwrap, kind)
}

func TestUnknownTopic0MissesLookup(t *testing.T) {
	_, ok := Get().Lookup("0xdeadbeef00000000000000000000000000000000000000000000000000000")
	assert.False(t, ok)
}

func TestLiteralTransferHashMatchesComputedForm(t *testing.T) {
	computed := crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)")).Hex()

	kind, ok := Get().Lookup(computed)
	assert.True(t, ok)
	assert.Equal(t, types.LogKindERC20Transfer, kind)
}

func TestDexSwapVariantsResolveToDistinctKinds(t *testing.T) {
	v2 := crypto.Keccak256Hash([]byte("Swap(address,uint256,uint256,uint256,uint256,address)")).Hex()
	v3 := crypto.Keccak256Hash([]byte("Swap(address,address,int256,int256,uint160,uint128,int24)")).Hex()
	aero := crypto.Keccak256Hash([]byte("Swap(address,address,uint256,uint256,uint256,uint256,address)")).Hex()
	curve := crypto.Keccak256Hash([]byte("TokenExchange(address,int128,uint256,int128,uint256)")).Hex()

	kind, ok := Get().Lookup(v2)
	assert.True(t, ok)
	assert.Equal(t, types.LogKindDexSwapV2, kind)

	kind, ok = Get().Lookup(v3)
	assert.True(t, ok)
	assert.Equal(t, types.LogKindDexSwapV3, kind)

	kind, ok = Get().Lookup(aero)
	assert.True(t, ok)
	assert.Equal(t, types.LogKindDexSwapAero, kind)

	kind, ok = Get().Lookup(curve)
	assert.True(t, ok)
	assert.Equal(t, types.LogKindDexSwapCurve, kind)
}

func TestGaugeSignaturesDoNotCollideWithWeth(t *testing.T) {
	wethDeposit := crypto.Keccak256Hash([]byte("Deposit(address,uint256)")).Hex()
	gaugeDeposit := crypto.Keccak256Hash([]byte("Deposit(address,uint256,address)")).Hex()

	assert.NotEqual(t, wethDeposit, gaugeDeposit)

	kind, ok := Get().Lookup(wethDeposit)
	assert.True(t, ok)
	assert.Equal(t, types.LogKindWethWrap, kind)

	kind, ok = Get().Lookup(gaugeDeposit)
	assert.True(t, ok)
	assert.Equal(t, types.LogKindGaugeDeposit, kind)
}
