package enrich

import "math/big"

func bigInt(v int64) *big.Int {
	return new(big.Int).SetInt64(v)
}

func wordFromInt(v int64) []byte {
	word := make([]byte, 32)
	b := bigInt(v).Bytes()
	copy(word[32-len(b):], b)
	return word
}

func concatWords(words ...[]byte) []byte {
	out := make([]byte, 0, 32*len(words))
	for _, w := range words {
		out = append(out, w...)
	}
	return out
}
