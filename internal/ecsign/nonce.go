package ecsign

import (
	"crypto/hmac"
	"crypto/sha256"
	"math/big"
)

// nonceGenerator is the HMAC_DRBG construction of RFC 6979 section 3.2,
// with optional additional input k' as allowed by section 3.6.
type nonceGenerator struct {
	q    *big.Int
	qlen int
	k    []byte
	v    []byte
}

func newNonceGenerator(q, x *big.Int, digest, extra []byte) *nonceGenerator {
	g := &nonceGenerator{
		q:    q,
		qlen: q.BitLen(),
		k:    make([]byte, sha256.Size),
		v:    make([]byte, sha256.Size),
	}
	for i := range g.v {
		g.v[i] = 0x01
	}

	rolen := (g.qlen + 7) / 8
	xOctets := x.FillBytes(make([]byte, rolen))
	hOctets := g.bits2octets(digest, rolen)

	g.k = g.mac(g.v, []byte{0x00}, xOctets, hOctets, extra)
	g.v = g.mac(g.v)
	g.k = g.mac(g.v, []byte{0x01}, xOctets, hOctets, extra)
	g.v = g.mac(g.v)
	return g
}

func (g *nonceGenerator) mac(parts ...[]byte) []byte {
	m := hmac.New(sha256.New, g.k)
	for _, p := range parts {
		m.Write(p)
	}
	return m.Sum(nil)
}

// next returns the next candidate k in [1, q-1]
func (g *nonceGenerator) next() *big.Int {
	for {
		var t []byte
		for len(t)*8 < g.qlen {
			g.v = g.mac(g.v)
			t = append(t, g.v...)
		}
		k := bits2int(t, g.qlen)
		if k.Sign() > 0 && k.Cmp(g.q) < 0 {
			return k
		}
		g.k = g.mac(g.v, []byte{0x00})
		g.v = g.mac(g.v)
	}
}

// reseed is applied after a candidate that produced r == 0 or s == 0
func (g *nonceGenerator) reseed() {
	g.k = g.mac(g.v, []byte{0x00})
	g.v = g.mac(g.v)
}

func (g *nonceGenerator) bits2octets(b []byte, rolen int) []byte {
	z := bits2int(b, g.qlen)
	if z.Cmp(g.q) >= 0 {
		z.Sub(z, g.q)
	}
	return z.FillBytes(make([]byte, rolen))
}

// bits2int keeps the leftmost qlen bits of b
func bits2int(b []byte, qlen int) *big.Int {
	z := new(big.Int).SetBytes(b)
	if blen := len(b) * 8; blen > qlen {
		z.Rsh(z, uint(blen-qlen))
	}
	return z
}
