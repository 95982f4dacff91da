package classify

import (
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baseingest/ingester/internal/types"
)

func wordFromBig(v *big.Int) []byte {
	b := v.Bytes()
	word := make([]byte, wordSize)
	copy(word[wordSize-len(b):], b)
	return word
}

func addrTopic(addr string) *string {
	padded := "0x" + hex.EncodeToString(make([]byte, 12)) + addr[2:]
	return &padded
}

func TestDecodeERC20TransferRoundTrip(t *testing.T) {
	from := "0x0000000000000000000000000000000000000001"
	to := "0x0000000000000000000000000000000000000002"
	amount := new(big.Int).SetUint64(123456789)

	l := logWithData("erc20token", from, to, nil, wordFromBig(amount))
	got, err := DecodeERC20Transfer(l)
	require.NoError(t, err)
	assert.Equal(t, from, got.From)
	assert.Equal(t, to, got.To)
	assert.Equal(t, 0, amount.Cmp(got.Amount))
}

func TestDecodeERC20TransferShortDataFails(t *testing.T) {
	from := "0x00000000000000000000000000000000000001"
	to := "0x00000000000000000000000000000000000002"
	l := logWithData("erc20token", from, to, nil, []byte{0x01, 0x02})
	_, err := DecodeERC20Transfer(l)
	assert.Error(t, err)
}

func TestDecodeERC721TransferRoundTrip(t *testing.T) {
	from := "0x00000000000000000000000000000000000001"
	to := "0x00000000000000000000000000000000000002"
	tokenID := big.NewInt(42)
	tokenIDHex := "0x" + hex.EncodeToString(wordFromBig(tokenID))

	l := logWithData("nft", from, to, &tokenIDHex, nil)
	got, err := DecodeERC721Transfer(l)
	require.NoError(t, err)
	assert.Equal(t, "ERC721", got.Standard)
	assert.Equal(t, 0, tokenID.Cmp(got.TokenID))
	assert.Equal(t, int64(1), got.Amount.Int64())
}

func logWithData(pool, t1, t2 string, topic3 *string, data []byte) types.Log {
	topic0 := "0xdeadbeef"
	return types.Log{
		Address: pool,
		Topic0:  &topic0,
		Topic1:  addrTopic(t1),
		Topic2:  addrTopic(t2),
		Topic3:  topic3,
		Data:    data,
	}
}

func TestDecodeSwapV3SignedAmounts(t *testing.T) {
	sender := "0x00000000000000000000000000000000000001"
	recipient := "0x00000000000000000000000000000000000002"

	negAmount0 := big.NewInt(-1000)
	posAmount1 := big.NewInt(500)

	data := append(twosComplementWord(negAmount0), wordFromBig(posAmount1)...)
	l := logWithData("pool", sender, recipient, nil, data)

	swap, err := DecodeSwapV3(l)
	require.NoError(t, err)
	assert.Equal(t, int64(0), swap.Amount0In.Int64())
	assert.Equal(t, int64(1000), swap.Amount0Out.Int64())
	assert.Equal(t, int64(500), swap.Amount1In.Int64())
	assert.Equal(t, int64(0), swap.Amount1Out.Int64())
}

func TestDecodeSwapV3AcceptsInt256Minimum(t *testing.T) {
	// A word with only the sign bit set is -2^255, the smallest valid int256
	// (range is -2^255..2^255-1). Its magnitude is exactly 2^255, not beyond
	// it, so it decodes rather than being rejected.
	signBit := new(big.Int).Lsh(big.NewInt(1), 255)
	word := signBit.Bytes()
	full := make([]byte, wordSize)
	copy(full[wordSize-len(word):], word)

	got, err := signedInt256(full)
	require.NoError(t, err)
	assert.Equal(t, 0, new(big.Int).Neg(signBit).Cmp(got))
}

func twosComplementWord(v *big.Int) []byte {
	if v.Sign() >= 0 {
		return wordFromBig(v)
	}
	modulus := new(big.Int).Lsh(big.NewInt(1), 256)
	unsigned := new(big.Int).Add(modulus, v)
	return wordFromBig(unsigned)
}

func TestDecodeSwapAeroRoundTrip(t *testing.T) {
	sender := "0x00000000000000000000000000000000000001"
	recipient := "0x00000000000000000000000000000000000002"

	data := append(wordFromBig(big.NewInt(100)), wordFromBig(big.NewInt(0))...)
	data = append(data, wordFromBig(big.NewInt(0))...)
	data = append(data, wordFromBig(big.NewInt(200))...)
	data = append(data, wordFromBig(big.NewInt(5))...) // tick, ignored
	data = append(data, wordFromBig(big.NewInt(0))...) // trailing field, ignored

	l := logWithData("pool", sender, recipient, nil, data)
	swap, err := DecodeSwapAero(l)
	require.NoError(t, err)
	assert.Equal(t, int64(100), swap.Amount0In.Int64())
	assert.Equal(t, int64(200), swap.Amount1Out.Int64())
}

func TestDecodeSwapCurveRoundTrip(t *testing.T) {
	buyer := "0x0000000000000000000000000000000000000001"

	data := append(wordFromBig(big.NewInt(0)), wordFromBig(big.NewInt(1000))...)
	data = append(data, wordFromBig(big.NewInt(1))...)
	data = append(data, wordFromBig(big.NewInt(2000))...)

	l := logWithData("curvepool", buyer, buyer, nil, data)
	swap, err := DecodeSwapCurve(l)
	require.NoError(t, err)
	assert.Equal(t, buyer, swap.Sender)
	assert.Equal(t, buyer, swap.Recipient)
	assert.Equal(t, int64(1000), swap.Amount0In.Int64())
	assert.Equal(t, int64(2000), swap.Amount1Out.Int64())
}

func TestSignedInt256PropertyRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	maxMagnitude := new(big.Int).Lsh(big.NewInt(1), 255)
	maxMagnitude.Sub(maxMagnitude, big.NewInt(1))

	properties.Property("two's-complement round-trips within int256 range", prop.ForAll(
		func(v int64) bool {
			value := big.NewInt(v)
			word := twosComplementWord(value)
			decoded, err := signedInt256(word)
			if err != nil {
				return false
			}
			return decoded.Cmp(value) == 0
		},
		gen.Int64(),
	))

	properties.TestingRun(t)
}
