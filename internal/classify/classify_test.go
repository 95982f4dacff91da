package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baseingest/ingester/internal/types"
)

func strp(s string) *string { return &s }

func TestTransactionClassification(t *testing.T) {
	to := "0x0000000000000000000000000000000000000001"

	creation := types.Transaction{To: nil}
	assert.Equal(t, types.TxKindContractCreation, Transaction(creation))

	transfer := types.Transaction{To: &to, Value: bigFromInt(1), Input: nil}
	assert.Equal(t, types.TxKindEthTransfer, Transaction(transfer))

	call := types.Transaction{To: &to, Value: bigFromInt(0), Input: []byte{0x01}}
	assert.Equal(t, types.TxKindContractCall, Transaction(call))

	callWithValue := types.Transaction{To: &to, Value: bigFromInt(5), Input: []byte{0x01}}
	assert.Equal(t, types.TxKindContractCall, Transaction(callWithValue))
}

func TestTransferTieBreak(t *testing.T) {
	topic0 := transferTopic0(t)
	from := strp("0x000000000000000000000000000000000000000000000000000000000000aa")
	to := strp("0x000000000000000000000000000000000000000000000000000000000000bb")
	tokenID := strp("0x0000000000000000000000000000000000000000000000000000000000002a")

	erc20 := types.Log{Topic0: &topic0, Topic1: from, Topic2: to}
	require.Equal(t, 3, erc20.TopicCount())
	assert.Equal(t, types.LogKindERC20Transfer, Log(erc20))

	erc721 := types.Log{Topic0: &topic0, Topic1: from, Topic2: to, Topic3: tokenID}
	require.Equal(t, 4, erc721.TopicCount())
	assert.Equal(t, types.LogKindERC721Transfer, Log(erc721))
}

func TestUnknownTopicClassifiesOther(t *testing.T) {
	unknown := strp("0x00000000000000000000000000000000000000000000000000000000000000")
	assert.Equal(t, types.LogKindOther, Log(types.Log{Topic0: unknown}))
}

func TestNilTopic0IsOther(t *testing.T) {
	assert.Equal(t, types.LogKindOther, Log(types.Log{}))
}
