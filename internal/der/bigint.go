// Package der implements the small subset of ASN.1 DER needed to emit
// ECDSA signatures, plus the big-endian integer conversions it relies on.
package der

import (
	"fmt"
	"math/big"
)

// IntFromBytes interprets b as a big-endian unsigned integer.
func IntFromBytes(b []byte) *big.Int {
	return new(big.Int).SetBytes(b)
}

// MinimalBytes returns the shortest big-endian encoding of x.
// Zero encodes as a single 0x00 byte.
func MinimalBytes(x *big.Int) []byte {
	if x.Sign() == 0 {
		return []byte{0x00}
	}
	return x.Bytes()
}

// FixedBytes returns x as exactly size big-endian bytes, left padded with zeros.
func FixedBytes(x *big.Int, size int) ([]byte, error) {
	if x.Sign() < 0 {
		return nil, fmt.Errorf("der: negative integer")
	}
	if (x.BitLen()+7)/8 > size {
		return nil, fmt.Errorf("der: integer needs %d bytes, width is %d", (x.BitLen()+7)/8, size)
	}
	return x.FillBytes(make([]byte, size)), nil
}
