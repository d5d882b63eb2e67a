package der

import (
	"fmt"
	"math/big"
)

const (
	TagInteger  = 0x02
	TagSequence = 0x30
)

// EncodeLength returns the DER length octets for n.
// Short form below 128, otherwise 0x80|k followed by k big-endian length bytes.
func EncodeLength(n int) []byte {
	if n < 0x80 {
		return []byte{byte(n)}
	}
	var octets []byte
	for v := n; v > 0; v >>= 8 {
		octets = append([]byte{byte(v)}, octets...)
	}
	return append([]byte{0x80 | byte(len(octets))}, octets...)
}

// EncodeTLV wraps content in a tag and length.
func EncodeTLV(tag byte, content []byte) []byte {
	length := EncodeLength(len(content))
	out := make([]byte, 0, 1+len(length)+len(content))
	out = append(out, tag)
	out = append(out, length...)
	return append(out, content...)
}

// EncodeInteger encodes a non-negative integer. A 0x00 byte is prepended
// when the high bit of the first content byte is set.
func EncodeInteger(x *big.Int) ([]byte, error) {
	if x == nil {
		return nil, fmt.Errorf("der: nil integer")
	}
	if x.Sign() < 0 {
		return nil, fmt.Errorf("der: negative integer not supported")
	}
	content := MinimalBytes(x)
	if content[0]&0x80 != 0 {
		content = append([]byte{0x00}, content...)
	}
	return EncodeTLV(TagInteger, content), nil
}

// EncodeSequence concatenates already encoded elements into a SEQUENCE.
func EncodeSequence(elements ...[]byte) []byte {
	var content []byte
	for _, e := range elements {
		content = append(content, e...)
	}
	return EncodeTLV(TagSequence, content)
}

// EncodeIntegerPair encodes SEQUENCE { INTEGER r, INTEGER s }, the
// ECDSA-Sig-Value structure.
func EncodeIntegerPair(r, s *big.Int) ([]byte, error) {
	er, err := EncodeInteger(r)
	if err != nil {
		return nil, fmt.Errorf("encode r: %w", err)
	}
	es, err := EncodeInteger(s)
	if err != nil {
		return nil, fmt.Errorf("encode s: %w", err)
	}
	return EncodeSequence(er, es), nil
}
