// Package ecsign produces ECDSA P-256 signatures over SHA-256 from a raw
// private scalar, emitting the DER ECDSA-Sig-Value.
package ecsign

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"math/big"

	"github.com/ralt/provsign/internal/der"
	"github.com/ralt/provsign/internal/eckey"
)

// SeedSize is the amount of OS entropy mixed into every nonce
const SeedSize = 32

// Signer signs with hedged RFC 6979 nonces.
type Signer struct {
	// Rand supplies the per-signature seed. Defaults to crypto/rand.Reader.
	Rand io.Reader
}

// New returns a Signer reading its seed from crypto/rand
func New() *Signer {
	return &Signer{Rand: rand.Reader}
}

// Sign signs data with the package default signer
func Sign(data []byte, key *eckey.PrivateKey) ([]byte, error) {
	return New().Sign(data, key)
}

// Sign hashes data with SHA-256 and returns a DER encoded (r, s) pair.
func (s *Signer) Sign(data []byte, key *eckey.PrivateKey) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}

	reader := s.Rand
	if reader == nil {
		reader = rand.Reader
	}
	seed := make([]byte, SeedSize)
	if _, err := io.ReadFull(reader, seed); err != nil {
		return nil, fmt.Errorf("read nonce seed: %w", err)
	}

	digest := sha256.Sum256(data)
	r, sv, err := signDigest(digest[:], key, seed)
	if err != nil {
		return nil, err
	}
	return der.EncodeIntegerPair(r, sv)
}

func checkKey(key *eckey.PrivateKey) error {
	if key == nil || key.D == nil {
		return fmt.Errorf("ecsign: nil private key")
	}
	if key.Curve != elliptic.P256() {
		return fmt.Errorf("ecsign: only P-256 keys are supported")
	}
	n := key.Curve.Params().N
	if key.D.Sign() <= 0 || key.D.Cmp(n) >= 0 {
		return fmt.Errorf("ecsign: private scalar out of range")
	}
	return nil
}

// signDigest runs ECDSA over P-256. extra is the RFC 6979 k' input; nil
// yields the fully deterministic variant.
func signDigest(digest []byte, key *eckey.PrivateKey, extra []byte) (*big.Int, *big.Int, error) {
	n := key.Curve.Params().N
	e := bits2int(digest, n.BitLen())
	nonces := newNonceGenerator(n, key.D, digest, extra)

	for {
		k := nonces.next()

		x, err := baseMultX(k)
		if err != nil {
			return nil, nil, err
		}
		r := new(big.Int).Mod(x, n)
		if r.Sign() == 0 {
			nonces.reseed()
			continue
		}

		kInv := new(big.Int).ModInverse(k, n)
		s := new(big.Int).Mul(r, key.D)
		s.Add(s, e)
		s.Mul(s, kInv)
		s.Mod(s, n)
		if s.Sign() == 0 {
			nonces.reseed()
			continue
		}
		return r, s, nil
	}
}

// baseMultX returns the affine x coordinate of k*G
func baseMultX(k *big.Int) (*big.Int, error) {
	point, err := basePoint(k)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(point[1:33]), nil
}

// basePoint returns the uncompressed encoding 0x04 || X || Y of k*G
func basePoint(k *big.Int) ([]byte, error) {
	priv, err := ecdh.P256().NewPrivateKey(k.FillBytes(make([]byte, 32)))
	if err != nil {
		return nil, fmt.Errorf("ecsign: scalar multiplication: %w", err)
	}
	return priv.PublicKey().Bytes(), nil
}

// PublicKey derives the public key for verification
func PublicKey(key *eckey.PrivateKey) (*ecdsa.PublicKey, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	point, err := basePoint(key.D)
	if err != nil {
		return nil, err
	}
	return &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(point[1:33]),
		Y:     new(big.Int).SetBytes(point[33:65]),
	}, nil
}
