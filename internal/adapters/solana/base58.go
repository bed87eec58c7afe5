package solana

import (
	"fmt"
	"math/big"
)

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

var base58Index = func() [128]int8 {
	var idx [128]int8
	for i := range idx {
		idx[i] = -1
	}
	for i, ch := range base58Alphabet {
		idx[ch] = int8(i)
	}
	return idx
}()

// decodeBase58 decodes Solana's key and signature encoding
func decodeBase58(s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("empty base58 string")
	}

	value := new(big.Int)
	radix := big.NewInt(58)
	for _, ch := range s {
		if ch >= 128 || base58Index[ch] < 0 {
			return nil, fmt.Errorf("invalid base58 character %q", ch)
		}
		value.Mul(value, radix)
		value.Add(value, big.NewInt(int64(base58Index[ch])))
	}

	decoded := value.Bytes()

	// leading '1' characters encode leading zero bytes
	leadingZeros := 0
	for _, ch := range s {
		if ch != '1' {
			break
		}
		leadingZeros++
	}

	out := make([]byte, leadingZeros+len(decoded))
	copy(out[leadingZeros:], decoded)
	return out, nil
}

// encodeBase58 encodes bytes in Solana's key and signature encoding
func encodeBase58(data []byte) string {
	value := new(big.Int).SetBytes(data)
	radix := big.NewInt(58)
	mod := new(big.Int)

	var out []byte
	for value.Sign() > 0 {
		value.DivMod(value, radix, mod)
		out = append(out, base58Alphabet[mod.Int64()])
	}
	for _, b := range data {
		if b != 0 {
			break
		}
		out = append(out, '1')
	}

	// reverse
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}
