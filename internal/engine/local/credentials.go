package local

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ralt/provsign/internal/engine"
)

// claimSigner is a credential resolved to something that can sign a claim
type claimSigner struct {
	alg    string
	chain  [][]byte
	tsaURL string
	sign   func(ctx context.Context, claim []byte) ([]byte, error)
}

// resolve turns a credential into a claimSigner
func (e *Engine) resolve(ctx context.Context, cred *engine.Credential) (*claimSigner, error) {
	if cred == nil {
		return nil, invalid("no credential")
	}

	if cred.Kind == engine.CredentialRemote {
		return e.remoteSigner(ctx, cred)
	}

	chain, err := parseChain(cred.CertificateChainPEM)
	if err != nil {
		return nil, err
	}
	cs := &claimSigner{alg: strings.ToLower(cred.Algorithm), chain: chain, tsaURL: cred.TSAURL}

	switch cred.Kind {
	case engine.CredentialPEM:
		key, err := ParsePrivateKeyPEM([]byte(cred.PrivateKeyPEM))
		if err != nil {
			return nil, err
		}
		cs.sign = keySigner(key, cs.alg)
	case engine.CredentialKeystore:
		if e.keystore == nil {
			return nil, fmt.Errorf("%w: no keystore configured", engine.ErrUnavailable)
		}
		key, err := e.keystore.Signer(cred.KeyAlias)
		if err != nil {
			return nil, err
		}
		cs.sign = keySigner(key, cs.alg)
	case engine.CredentialHardware:
		if e.hardware == nil {
			return nil, fmt.Errorf("%w: no hardware provider", engine.ErrUnavailable)
		}
		if cred.RequireUserAuthentication {
			if err := e.hardware.Authenticate(ctx, cred.KeyAlias); err != nil {
				return nil, err
			}
		}
		key, err := e.hardware.Signer(ctx, cred.KeyAlias)
		if err != nil {
			return nil, err
		}
		cs.alg = "es256"
		cs.sign = keySigner(key, cs.alg)
	case engine.CredentialCallback:
		if cred.Sign == nil {
			return nil, invalid("callback credential without callback")
		}
		cs.sign = cred.Sign
	default:
		return nil, invalid("credential kind %s", cred.Kind)
	}
	return cs, nil
}

// parseChain returns the DER of each CERTIFICATE block, leaf first
func parseChain(chainPEM string) ([][]byte, error) {
	var chain [][]byte
	rest := []byte(chainPEM)
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		if _, err := x509.ParseCertificate(block.Bytes); err != nil {
			return nil, invalid("certificate %d: %v", len(chain), err)
		}
		chain = append(chain, block.Bytes)
	}
	if len(chain) == 0 {
		return nil, invalid("certificate chain holds no certificates")
	}
	return chain, nil
}

// ParsePrivateKeyPEM accepts PKCS8, SEC1 and PKCS1 private keys
func ParsePrivateKeyPEM(data []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, invalid("private key is not PEM")
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, invalid("unsupported private key type %T", key)
		}
		return signer, nil
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	return nil, invalid("unrecognised private key in %s block", block.Type)
}

func digestFor(alg string) (crypto.Hash, error) {
	switch alg {
	case "es256", "ps256":
		return crypto.SHA256, nil
	case "es384", "ps384":
		return crypto.SHA384, nil
	case "es512", "ps512":
		return crypto.SHA512, nil
	case "ed25519":
		return crypto.Hash(0), nil
	default:
		return 0, invalid("unsupported algorithm %q", alg)
	}
}

func digest(h crypto.Hash, data []byte) []byte {
	switch h {
	case crypto.SHA256:
		sum := sha256.Sum256(data)
		return sum[:]
	case crypto.SHA384:
		sum := sha512.Sum384(data)
		return sum[:]
	case crypto.SHA512:
		sum := sha512.Sum512(data)
		return sum[:]
	default:
		return data
	}
}

// checkKeyType ensures the key can produce alg signatures
func checkKeyType(pub crypto.PublicKey, alg string) error {
	switch k := pub.(type) {
	case *ecdsa.PublicKey:
		want := map[string]elliptic.Curve{"es256": elliptic.P256(), "es384": elliptic.P384(), "es512": elliptic.P521()}[alg]
		if want == nil || k.Curve != want {
			return invalid("%s key cannot sign %s", k.Curve.Params().Name, alg)
		}
	case *rsa.PublicKey:
		if !strings.HasPrefix(alg, "ps") {
			return invalid("RSA key cannot sign %s", alg)
		}
	case ed25519.PublicKey:
		if alg != "ed25519" {
			return invalid("Ed25519 key cannot sign %s", alg)
		}
	default:
		return invalid("unsupported public key type %T", pub)
	}
	return nil
}

func keySigner(key crypto.Signer, alg string) func(context.Context, []byte) ([]byte, error) {
	return func(_ context.Context, data []byte) ([]byte, error) {
		h, err := digestFor(alg)
		if err != nil {
			return nil, err
		}
		if err := checkKeyType(key.Public(), alg); err != nil {
			return nil, err
		}
		var opts crypto.SignerOpts = h
		if strings.HasPrefix(alg, "ps") {
			opts = &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: h}
		}
		return key.Sign(rand.Reader, digest(h, data), opts)
	}
}

// VerifySignature checks sig over data with the public key of leaf
func VerifySignature(leaf *x509.Certificate, alg string, data, sig []byte) error {
	h, err := digestFor(alg)
	if err != nil {
		return err
	}
	if err := checkKeyType(leaf.PublicKey, alg); err != nil {
		return err
	}
	switch k := leaf.PublicKey.(type) {
	case *ecdsa.PublicKey:
		if !ecdsa.VerifyASN1(k, digest(h, data), sig) {
			return errors.New("ecdsa signature mismatch")
		}
	case *rsa.PublicKey:
		opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: h}
		if err := rsa.VerifyPSS(k, h, digest(h, data), sig, opts); err != nil {
			return fmt.Errorf("rsa-pss signature mismatch: %w", err)
		}
	case ed25519.PublicKey:
		if !ed25519.Verify(k, data, sig) {
			return errors.New("ed25519 signature mismatch")
		}
	}
	return nil
}

// KeyStore hands out signing keys by alias
type KeyStore interface {
	Signer(alias string) (crypto.Signer, error)
}

// DirKeyStore reads <Dir>/<alias>.pem
type DirKeyStore struct {
	Dir string
}

func (d DirKeyStore) Signer(alias string) (crypto.Signer, error) {
	if alias == "" || strings.ContainsAny(alias, `/\`) || alias == "." || alias == ".." {
		return nil, invalid("invalid key alias %q", alias)
	}
	data, err := os.ReadFile(filepath.Join(d.Dir, alias+".pem"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: no key with alias %q", engine.ErrUnavailable, alias)
		}
		return nil, fmt.Errorf("failed to read key %s: %w", alias, err)
	}
	return ParsePrivateKeyPEM(data)
}

// HardwareProvider is a source of non-exportable P-256 keys
type HardwareProvider interface {
	Available(ctx context.Context) (bool, error)
	Authenticate(ctx context.Context, alias string) error
	Signer(ctx context.Context, alias string) (crypto.Signer, error)
}

// SoftHardware simulates a secure element with file-backed P-256 keys.
// Keys are generated on first use and never leave the provider.
type SoftHardware struct {
	keyDir string

	// Authenticator, when set, gates keys that require user presence
	Authenticator func(ctx context.Context, alias string) error

	mu   sync.Mutex
	keys map[string]*ecdsa.PrivateKey
}

// NewSoftHardware creates the key directory if needed
func NewSoftHardware(keyDir string) (*SoftHardware, error) {
	if err := os.MkdirAll(keyDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create key dir: %w", err)
	}
	return &SoftHardware{keyDir: keyDir, keys: make(map[string]*ecdsa.PrivateKey)}, nil
}

func (h *SoftHardware) Available(ctx context.Context) (bool, error) {
	info, err := os.Stat(h.keyDir)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

func (h *SoftHardware) Authenticate(ctx context.Context, alias string) error {
	if h.Authenticator == nil {
		return fmt.Errorf("%w: user authentication required for %q but no authenticator is set", engine.ErrUnavailable, alias)
	}
	return h.Authenticator(ctx, alias)
}

func (h *SoftHardware) Signer(ctx context.Context, alias string) (crypto.Signer, error) {
	if alias == "" || strings.ContainsAny(alias, `/\`) || alias == "." || alias == ".." {
		return nil, invalid("invalid key alias %q", alias)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if key, ok := h.keys[alias]; ok {
		return key, nil
	}

	path := filepath.Join(h.keyDir, alias+".key")
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		key, err := ParsePrivateKeyPEM(data)
		if err != nil {
			return nil, err
		}
		ec, ok := key.(*ecdsa.PrivateKey)
		if !ok || ec.Curve != elliptic.P256() {
			return nil, invalid("hardware key %q is not P-256", alias)
		}
		h.keys[alias] = ec
		return ec, nil
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read hardware key: %w", err)
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate hardware key: %w", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), 0600); err != nil {
		return nil, fmt.Errorf("failed to save hardware key: %w", err)
	}
	h.keys[alias] = key
	return key, nil
}
