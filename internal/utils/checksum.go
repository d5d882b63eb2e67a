package utils

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"
)

// Checksum is a digest of an asset along with the algorithm that produced it
type Checksum struct {
	Algorithm string
	Sum       []byte
	Size      int64
}

// Hex returns the digest as lowercase hex
func (c *Checksum) Hex() string {
	return hex.EncodeToString(c.Sum)
}

func newHash(alg string) (hash.Hash, string, error) {
	switch strings.ToLower(alg) {
	case "", "sha256":
		return sha256.New(), "sha256", nil
	case "sha384":
		return sha512.New384(), "sha384", nil
	case "sha512":
		return sha512.New(), "sha512", nil
	default:
		return nil, "", fmt.Errorf("unsupported hash algorithm %q", alg)
	}
}

// CalculateChecksum digests data. An empty algorithm means sha256.
func CalculateChecksum(data []byte, alg string) (*Checksum, error) {
	h, name, err := newHash(alg)
	if err != nil {
		return nil, err
	}
	h.Write(data)
	return &Checksum{Algorithm: name, Sum: h.Sum(nil), Size: int64(len(data))}, nil
}

// CalculateFileChecksum streams a file through the digest
func CalculateFileChecksum(path, alg string) (*Checksum, error) {
	h, name, err := newHash(alg)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	n, err := io.Copy(h, f)
	if err != nil {
		return nil, err
	}
	return &Checksum{Algorithm: name, Sum: h.Sum(nil), Size: n}, nil
}
