package classify

import (
	"encoding/hex"
	"math/big"
	"strings"

	"github.com/baseingest/ingester/internal/ingesterrors"
	"github.com/baseingest/ingester/internal/types"
)

const wordSize = 32

// DecodeERC20Transfer implements §4.3's ERC-20 Transfer decoding:
// from = topics[1][-20:], to = topics[2][-20:], amount = uint256(data[0:32]).
func DecodeERC20Transfer(l types.Log) (types.TokenTransfer, error) {
	from, err := addressFromTopic(l.Topic1)
	if err != nil {
		return types.TokenTransfer{}, ingesterrors.DecodeFailure("DecodeERC20Transfer", "bad from topic: "+err.Error())
	}
	to, err := addressFromTopic(l.Topic2)
	if err != nil {
		return types.TokenTransfer{}, ingesterrors.DecodeFailure("DecodeERC20Transfer", "bad to topic: "+err.Error())
	}
	if len(l.Data) < wordSize {
		return types.TokenTransfer{}, ingesterrors.DecodeFailure("DecodeERC20Transfer", "short data")
	}
	amount := new(big.Int).SetBytes(l.Data[0:wordSize])

	return types.TokenTransfer{
		TxHash:      l.TxHash,
		BlockNumber: l.BlockNumber,
		LogIndex:    l.LogIndex,
		TokenAddr:   strings.ToLower(l.Address),
		From:        from,
		To:          to,
		Amount:      amount,
	}, nil
}

// DecodeERC721Transfer implements §4.3's ERC-721 Transfer decoding:
// from/to from topics, tokenId = uint256(topics[3]), amount = 1.
func DecodeERC721Transfer(l types.Log) (types.NFTTransfer, error) {
	from, err := addressFromTopic(l.Topic1)
	if err != nil {
		return types.NFTTransfer{}, ingesterrors.DecodeFailure("DecodeERC721Transfer", "bad from topic: "+err.Error())
	}
	to, err := addressFromTopic(l.Topic2)
	if err != nil {
		return types.NFTTransfer{}, ingesterrors.DecodeFailure("DecodeERC721Transfer", "bad to topic: "+err.Error())
	}
	if l.Topic3 == nil {
		return types.NFTTransfer{}, ingesterrors.DecodeFailure("DecodeERC721Transfer", "missing tokenId topic")
	}
	tokenID, err := uint256FromHex(*l.Topic3)
	if err != nil {
		return types.NFTTransfer{}, ingesterrors.DecodeFailure("DecodeERC721Transfer", "bad tokenId topic: "+err.Error())
	}

	return types.NFTTransfer{
		TxHash:      l.TxHash,
		BlockNumber: l.BlockNumber,
		LogIndex:    l.LogIndex,
		TokenAddr:   strings.ToLower(l.Address),
		Standard:    "ERC721",
		From:        from,
		To:          to,
		TokenID:     tokenID,
		Amount:      big.NewInt(1),
	}, nil
}

// DecodeERC1155TransferSingle implements §4.3's TransferSingle decoding:
// from = topics[2][-20:], to = topics[3][-20:],
// (tokenId, amount) = (uint256(data[0:32]), uint256(data[32:64])).
func DecodeERC1155TransferSingle(l types.Log) (types.NFTTransfer, error) {
	from, err := addressFromTopic(l.Topic2)
	if err != nil {
		return types.NFTTransfer{}, ingesterrors.DecodeFailure("DecodeERC1155TransferSingle", "bad from topic: "+err.Error())
	}
	to, err := addressFromTopic(l.Topic3)
	if err != nil {
		return types.NFTTransfer{}, ingesterrors.DecodeFailure("DecodeERC1155TransferSingle", "bad to topic: "+err.Error())
	}
	if len(l.Data) < 2*wordSize {
		return types.NFTTransfer{}, ingesterrors.DecodeFailure("DecodeERC1155TransferSingle", "short data")
	}
	tokenID := new(big.Int).SetBytes(l.Data[0:wordSize])
	amount := new(big.Int).SetBytes(l.Data[wordSize : 2*wordSize])

	return types.NFTTransfer{
		TxHash:      l.TxHash,
		BlockNumber: l.BlockNumber,
		LogIndex:    l.LogIndex,
		TokenAddr:   strings.ToLower(l.Address),
		Standard:    "ERC1155",
		From:        from,
		To:          to,
		TokenID:     tokenID,
		Amount:      amount,
	}, nil
}

// DecodeSwapV2 implements §4.3's V2 Swap decoding: topics[1]=sender,
// topics[2]=recipient; data = four packed uint256
// (amount0In, amount1In, amount0Out, amount1Out).
func DecodeSwapV2(l types.Log) (types.DexSwap, error) {
	sender, err := addressFromTopic(l.Topic1)
	if err != nil {
		return types.DexSwap{}, ingesterrors.DecodeFailure("DecodeSwapV2", "bad sender topic: "+err.Error())
	}
	recipient, err := addressFromTopic(l.Topic2)
	if err != nil {
		return types.DexSwap{}, ingesterrors.DecodeFailure("DecodeSwapV2", "bad recipient topic: "+err.Error())
	}
	if len(l.Data) < 4*wordSize {
		return types.DexSwap{}, ingesterrors.DecodeFailure("DecodeSwapV2", "short data")
	}

	return types.DexSwap{
		TxHash:      l.TxHash,
		BlockNumber: l.BlockNumber,
		LogIndex:    l.LogIndex,
		PoolAddr:    strings.ToLower(l.Address),
		Sender:      sender,
		Recipient:   recipient,
		Amount0In:   new(big.Int).SetBytes(l.Data[0*wordSize : 1*wordSize]),
		Amount1In:   new(big.Int).SetBytes(l.Data[1*wordSize : 2*wordSize]),
		Amount0Out:  new(big.Int).SetBytes(l.Data[2*wordSize : 3*wordSize]),
		Amount1Out:  new(big.Int).SetBytes(l.Data[3*wordSize : 4*wordSize]),
	}, nil
}

// DecodeSwapV3 implements §4.3's V3 Swap decoding: topics[1]=sender,
// topics[2]=recipient; data carries two signed int256 (amount0, amount1)
// then uint160 sqrtPrice, uint128 liquidity, int24 tick (the latter three
// are not persisted on DexSwap, only the signed amounts). Signed decoding
// uses two's-complement conversion at the declared width; magnitudes
// beyond 2^255 are rejected per §8's V3 signed-amount property (-2^255
// itself is accepted).
func DecodeSwapV3(l types.Log) (types.DexSwap, error) {
	sender, err := addressFromTopic(l.Topic1)
	if err != nil {
		return types.DexSwap{}, ingesterrors.DecodeFailure("DecodeSwapV3", "bad sender topic: "+err.Error())
	}
	recipient, err := addressFromTopic(l.Topic2)
	if err != nil {
		return types.DexSwap{}, ingesterrors.DecodeFailure("DecodeSwapV3", "bad recipient topic: "+err.Error())
	}
	if len(l.Data) < 2*wordSize {
		return types.DexSwap{}, ingesterrors.DecodeFailure("DecodeSwapV3", "short data")
	}

	amount0, err := signedInt256(l.Data[0*wordSize : 1*wordSize])
	if err != nil {
		return types.DexSwap{}, ingesterrors.DecodeFailure("DecodeSwapV3", "amount0: "+err.Error())
	}
	amount1, err := signedInt256(l.Data[1*wordSize : 2*wordSize])
	if err != nil {
		return types.DexSwap{}, ingesterrors.DecodeFailure("DecodeSwapV3", "amount1: "+err.Error())
	}

	swap := types.DexSwap{
		TxHash:      l.TxHash,
		BlockNumber: l.BlockNumber,
		LogIndex:    l.LogIndex,
		PoolAddr:    strings.ToLower(l.Address),
		Sender:      sender,
		Recipient:   recipient,
	}
	// V3 amounts are signed: negative means the pool paid that token out,
	// positive means the pool received it in. Store the magnitude on
	// whichever "in"/"out" slot matches its sign so the four unsigned
	// fields shared with V2 swaps keep a consistent in/out meaning.
	assignSigned(&swap.Amount0In, &swap.Amount0Out, amount0)
	assignSigned(&swap.Amount1In, &swap.Amount1Out, amount1)
	return swap, nil
}

// DecodeSwapAero decodes an Aerodrome/Velodrome concentrated-liquidity swap:
// topics[1]=sender, topics[2]=recipient; data leads with the same four
// packed uint256 amounts as a V2 swap, followed by tick and a trailing
// field this decoder does not persist.
func DecodeSwapAero(l types.Log) (types.DexSwap, error) {
	sender, err := addressFromTopic(l.Topic1)
	if err != nil {
		return types.DexSwap{}, ingesterrors.DecodeFailure("DecodeSwapAero", "bad sender topic: "+err.Error())
	}
	recipient, err := addressFromTopic(l.Topic2)
	if err != nil {
		return types.DexSwap{}, ingesterrors.DecodeFailure("DecodeSwapAero", "bad recipient topic: "+err.Error())
	}
	if len(l.Data) < 4*wordSize {
		return types.DexSwap{}, ingesterrors.DecodeFailure("DecodeSwapAero", "short data")
	}

	return types.DexSwap{
		TxHash:      l.TxHash,
		BlockNumber: l.BlockNumber,
		LogIndex:    l.LogIndex,
		PoolAddr:    strings.ToLower(l.Address),
		Sender:      sender,
		Recipient:   recipient,
		Amount0In:   new(big.Int).SetBytes(l.Data[0*wordSize : 1*wordSize]),
		Amount1In:   new(big.Int).SetBytes(l.Data[1*wordSize : 2*wordSize]),
		Amount0Out:  new(big.Int).SetBytes(l.Data[2*wordSize : 3*wordSize]),
		Amount1Out:  new(big.Int).SetBytes(l.Data[3*wordSize : 4*wordSize]),
	}, nil
}

// DecodeSwapCurve decodes a Curve TokenExchange event: topics[1]=buyer
// (Curve pools have no separate recipient, so sender and recipient are both
// the buyer); data carries sold_id, tokens_sold, bought_id, tokens_bought,
// each ABI-encoded as a 32-byte word (the two token-index fields are
// sign-extended int128s, decodable with the same two's-complement rule as
// int256). The token index selects which of the two amount slots the
// transferred quantity lands in; pools with more than two coins collapse
// any non-zero index onto the "token1" slot.
func DecodeSwapCurve(l types.Log) (types.DexSwap, error) {
	buyer, err := addressFromTopic(l.Topic1)
	if err != nil {
		return types.DexSwap{}, ingesterrors.DecodeFailure("DecodeSwapCurve", "bad buyer topic: "+err.Error())
	}
	if len(l.Data) < 4*wordSize {
		return types.DexSwap{}, ingesterrors.DecodeFailure("DecodeSwapCurve", "short data")
	}

	soldID, err := signedInt256(l.Data[0*wordSize : 1*wordSize])
	if err != nil {
		return types.DexSwap{}, ingesterrors.DecodeFailure("DecodeSwapCurve", "sold_id: "+err.Error())
	}
	tokensSold := new(big.Int).SetBytes(l.Data[1*wordSize : 2*wordSize])
	boughtID, err := signedInt256(l.Data[2*wordSize : 3*wordSize])
	if err != nil {
		return types.DexSwap{}, ingesterrors.DecodeFailure("DecodeSwapCurve", "bought_id: "+err.Error())
	}
	tokensBought := new(big.Int).SetBytes(l.Data[3*wordSize : 4*wordSize])

	swap := types.DexSwap{
		TxHash:      l.TxHash,
		BlockNumber: l.BlockNumber,
		LogIndex:    l.LogIndex,
		PoolAddr:    strings.ToLower(l.Address),
		Sender:      buyer,
		Recipient:   buyer,
		Amount0In:   big.NewInt(0),
		Amount1In:   big.NewInt(0),
		Amount0Out:  big.NewInt(0),
		Amount1Out:  big.NewInt(0),
	}
	if soldID.Sign() == 0 {
		swap.Amount0In = tokensSold
	} else {
		swap.Amount1In = tokensSold
	}
	if boughtID.Sign() == 0 {
		swap.Amount0Out = tokensBought
	} else {
		swap.Amount1Out = tokensBought
	}
	return swap, nil
}

func assignSigned(inField, outField **big.Int, v *big.Int) {
	if v.Sign() >= 0 {
		*inField = v
		*outField = big.NewInt(0)
	} else {
		*inField = big.NewInt(0)
		*outField = new(big.Int).Neg(v)
	}
}

// signedInt256 two's-complement-decodes a 32-byte big-endian word and
// rejects magnitudes beyond 2^255 (§8); -2^255 itself is accepted.
func signedInt256(word []byte) (*big.Int, error) {
	if len(word) != wordSize {
		return nil, ingesterrors.DecodeFailure("signedInt256", "word must be 32 bytes")
	}
	unsigned := new(big.Int).SetBytes(word)
	signBit := new(big.Int).Lsh(big.NewInt(1), 255)
	if unsigned.Cmp(signBit) >= 0 {
		// Negative: value = unsigned - 2^256
		modulus := new(big.Int).Lsh(big.NewInt(1), 256)
		signed := new(big.Int).Sub(unsigned, modulus)
		if new(big.Int).Abs(signed).Cmp(signBit) > 0 {
			return nil, ingesterrors.DecodeFailure("signedInt256", "magnitude exceeds 2^255")
		}
		return signed, nil
	}
	return unsigned, nil
}

func addressFromTopic(topic *string) (string, error) {
	if topic == nil {
		return "", ingesterrors.DecodeFailure("addressFromTopic", "missing topic")
	}
	raw, err := hexBytes(*topic)
	if err != nil {
		return "", err
	}
	if len(raw) < 20 {
		return "", ingesterrors.DecodeFailure("addressFromTopic", "topic shorter than an address")
	}
	return "0x" + hex.EncodeToString(raw[len(raw)-20:]), nil
}

func uint256FromHex(topic string) (*big.Int, error) {
	raw, err := hexBytes(topic)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(raw), nil
}

func hexBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	if len(s)%2 != 0 {
		s = "0" + s
	}
	return hex.DecodeString(s)
}
