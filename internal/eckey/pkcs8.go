// Package eckey parses PKCS8-wrapped SEC1 EC private keys into their raw
// scalar without going through crypto/x509.
package eckey

import (
	"bufio"
	"crypto/elliptic"
	"encoding/asn1"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ralt/provsign/internal/models"
	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

var (
	oidPublicKeyECDSA = asn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1}
	oidNamedCurveP256 = asn1.ObjectIdentifier{1, 2, 840, 10045, 3, 1, 7}
)

// ParseReason classifies a key parse failure
type ParseReason int

const (
	InvalidEncoding ParseReason = iota
	InvalidStructure
	UnsupportedCurve
	InvalidScalar
)

// String returns the string representation of ParseReason
func (r ParseReason) String() string {
	switch r {
	case InvalidEncoding:
		return "InvalidEncoding"
	case InvalidStructure:
		return "InvalidStructure"
	case UnsupportedCurve:
		return "UnsupportedCurve"
	case InvalidScalar:
		return "InvalidScalar"
	default:
		return "Unknown"
	}
}

// KeyParseError is returned for any malformed PEM or DER input.
type KeyParseError struct {
	Reason ParseReason
	Err    error
}

func (e *KeyParseError) Error() string {
	return fmt.Sprintf("key parse (%s): %v", e.Reason, e.Err)
}

func (e *KeyParseError) Unwrap() error {
	return e.Err
}

// Kind classifies the error for models.KindOf
func (e *KeyParseError) Kind() models.ErrorType {
	return models.ErrKeyParse
}

// IsReason reports whether err is a KeyParseError with the given reason
func IsReason(err error, reason ParseReason) bool {
	var kpe *KeyParseError
	return errors.As(err, &kpe) && kpe.Reason == reason
}

func parseErr(reason ParseReason, format string, args ...any) error {
	return &KeyParseError{Reason: reason, Err: fmt.Errorf(format, args...)}
}

// PrivateKey is the raw private scalar of an EC key. Callers are expected
// to Zero it as soon as the signing operation completes.
type PrivateKey struct {
	Curve elliptic.Curve
	D     *big.Int
}

// Zero overwrites the scalar in place
func (k *PrivateKey) Zero() {
	if k == nil || k.D == nil {
		return
	}
	words := k.D.Bits()
	for i := range words {
		words[i] = 0
	}
	k.D.SetInt64(0)
}

// DecodePEM strips the BEGIN/END framing lines and base64-decodes the body.
// Headers of the form "Key: value" are not accepted.
func DecodePEM(pemText string) ([]byte, error) {
	var body strings.Builder
	sawBegin, sawEnd := false, false

	sc := bufio.NewScanner(strings.NewReader(pemText))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "-----BEGIN"):
			if sawBegin {
				return nil, parseErr(InvalidEncoding, "multiple PEM blocks")
			}
			sawBegin = true
		case strings.HasPrefix(line, "-----END"):
			sawEnd = true
		default:
			if !sawBegin || sawEnd {
				return nil, parseErr(InvalidEncoding, "data outside PEM block")
			}
			body.WriteString(line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, parseErr(InvalidEncoding, "read PEM: %w", err)
	}
	if !sawBegin || !sawEnd {
		return nil, parseErr(InvalidEncoding, "missing PEM framing")
	}

	der, err := base64.StdEncoding.DecodeString(body.String())
	if err != nil {
		return nil, parseErr(InvalidEncoding, "base64: %w", err)
	}
	if len(der) == 0 {
		return nil, parseErr(InvalidEncoding, "empty PEM body")
	}
	return der, nil
}

// ParsePKCS8PEM parses a PEM encoded PKCS8 PrivateKeyInfo holding a P-256 key.
func ParsePKCS8PEM(pemText string) (*PrivateKey, error) {
	der, err := DecodePEM(pemText)
	if err != nil {
		return nil, err
	}
	return ParsePKCS8(der)
}

// ParsePKCS8 parses a DER PrivateKeyInfo:
//
//	SEQUENCE { version INTEGER, algorithm AlgorithmIdentifier, privateKey OCTET STRING }
func ParsePKCS8(der []byte) (*PrivateKey, error) {
	input := cryptobyte.String(der)

	var info cryptobyte.String
	if !input.ReadASN1(&info, cbasn1.SEQUENCE) {
		return nil, parseErr(InvalidStructure, "PrivateKeyInfo is not a SEQUENCE")
	}
	if !input.Empty() {
		return nil, parseErr(InvalidStructure, "trailing data after PrivateKeyInfo")
	}

	var version int64
	if !info.ReadASN1Integer(&version) {
		return nil, parseErr(InvalidStructure, "missing version")
	}
	if version != 0 && version != 1 {
		return nil, parseErr(InvalidStructure, "unsupported PKCS8 version %d", version)
	}

	var algorithm cryptobyte.String
	if !info.ReadASN1(&algorithm, cbasn1.SEQUENCE) {
		return nil, parseErr(InvalidStructure, "missing algorithm identifier")
	}
	var privateKey cryptobyte.String
	if !info.ReadASN1(&privateKey, cbasn1.OCTET_STRING) {
		return nil, parseErr(InvalidStructure, "missing private key octet string")
	}

	curve, err := parseAlgorithm(algorithm)
	if err != nil {
		return nil, err
	}

	d, err := parseSEC1(privateKey, curve)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{Curve: curve, D: d}, nil
}

func parseAlgorithm(algorithm cryptobyte.String) (elliptic.Curve, error) {
	var oid asn1.ObjectIdentifier
	if !algorithm.ReadASN1ObjectIdentifier(&oid) {
		return nil, parseErr(InvalidStructure, "malformed algorithm OID")
	}
	if !oid.Equal(oidPublicKeyECDSA) {
		return nil, parseErr(UnsupportedCurve, "algorithm %s is not id-ecPublicKey", oid)
	}
	var curveOID asn1.ObjectIdentifier
	if !algorithm.ReadASN1ObjectIdentifier(&curveOID) {
		return nil, parseErr(UnsupportedCurve, "missing named curve parameter")
	}
	if !curveOID.Equal(oidNamedCurveP256) {
		return nil, parseErr(UnsupportedCurve, "named curve %s is not P-256", curveOID)
	}
	return elliptic.P256(), nil
}

// parseSEC1 reads ECPrivateKey:
//
//	SEQUENCE { version INTEGER, privateKey OCTET STRING, [0] parameters OPTIONAL, [1] publicKey OPTIONAL }
func parseSEC1(der cryptobyte.String, curve elliptic.Curve) (*big.Int, error) {
	var key cryptobyte.String
	if !der.ReadASN1(&key, cbasn1.SEQUENCE) {
		return nil, parseErr(InvalidStructure, "ECPrivateKey is not a SEQUENCE")
	}
	if !der.Empty() {
		return nil, parseErr(InvalidStructure, "trailing data after ECPrivateKey")
	}

	var version int64
	if !key.ReadASN1Integer(&version) || version != 1 {
		return nil, parseErr(InvalidStructure, "ECPrivateKey version must be 1")
	}
	var scalar cryptobyte.String
	if !key.ReadASN1(&scalar, cbasn1.OCTET_STRING) {
		return nil, parseErr(InvalidStructure, "missing private key scalar")
	}

	// When the inner key names a curve it has to agree with the outer one.
	paramsTag := cbasn1.Tag(0).Constructed().ContextSpecific()
	var params cryptobyte.String
	var hasParams bool
	if !key.ReadOptionalASN1(&params, &hasParams, paramsTag) {
		return nil, parseErr(InvalidStructure, "malformed ECPrivateKey parameters")
	}
	if hasParams {
		var curveOID asn1.ObjectIdentifier
		if !params.ReadASN1ObjectIdentifier(&curveOID) || !curveOID.Equal(oidNamedCurveP256) {
			return nil, parseErr(UnsupportedCurve, "ECPrivateKey parameters do not name P-256")
		}
	}

	n := curve.Params().N
	byteLen := (n.BitLen() + 7) / 8
	if len(scalar) == 0 || len(scalar) > byteLen {
		return nil, parseErr(InvalidScalar, "scalar length %d out of range", len(scalar))
	}
	d := new(big.Int).SetBytes(scalar)
	if d.Sign() == 0 || d.Cmp(n) >= 0 {
		return nil, parseErr(InvalidScalar, "scalar outside [1, n-1]")
	}
	return d, nil
}
