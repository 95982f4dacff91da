package classify

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
)

func bigFromInt(v int64) *big.Int {
	return big.NewInt(v)
}

// transferTopic0 derives the real Transfer(address,address,uint256) topic0
// the same way the registry does, so tests never hand-copy a hash that
// could silently drift from the registry's own derivation.
func transferTopic0(t *testing.T) string {
	t.Helper()
	return crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)")).Hex()
}
