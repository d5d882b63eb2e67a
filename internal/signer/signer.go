package signer

import (
	"fmt"
	"strings"

	"github.com/ralt/provsign/internal/engine"
	"github.com/ralt/provsign/internal/models"
)

// Algorithm names a claim signature algorithm
type Algorithm string

const (
	ES256   Algorithm = "es256"
	ES384   Algorithm = "es384"
	ES512   Algorithm = "es512"
	PS256   Algorithm = "ps256"
	PS384   Algorithm = "ps384"
	PS512   Algorithm = "ps512"
	Ed25519 Algorithm = "ed25519"
)

// ParseAlgorithm validates an algorithm name
func ParseAlgorithm(s string) (Algorithm, error) {
	a := Algorithm(strings.ToLower(strings.TrimSpace(s)))
	switch a {
	case ES256, ES384, ES512, PS256, PS384, PS512, Ed25519:
		return a, nil
	default:
		return "", fmt.Errorf("unsupported signing algorithm %q", s)
	}
}

// Signer is the signing configuration handed to a builder. It is one of
// PEMSigner, KeystoreSigner, HardwareSigner, RemoteSigner or CallbackSigner.
type Signer interface {
	// Mode returns the credential kind this signer resolves to
	Mode() engine.CredentialKind

	// Validate checks that the signer carries the credentials it needs
	Validate() error
}

// PEMSigner signs with a private key held in memory as PEM
type PEMSigner struct {
	Algorithm           Algorithm
	CertificateChainPEM string
	PrivateKeyPEM       string
	TSAURL              string
}

// KeystoreSigner signs with a key held in the platform keystore
type KeystoreSigner struct {
	Algorithm           Algorithm
	KeyAlias            string
	CertificateChainPEM string
}

// HardwareSigner signs with a hardware-backed P-256 key
type HardwareSigner struct {
	KeyAlias                  string
	CertificateChainPEM       string
	RequireUserAuthentication bool
}

// RemoteSigner delegates to a remote signing service
type RemoteSigner struct {
	ConfigurationURL string
	BearerToken      string
}

// CallbackSigner hands the bytes to sign to a user function
type CallbackSigner struct {
	Algorithm           Algorithm
	CertificateChainPEM string
	Callback            engine.SignFunc
}

func (PEMSigner) Mode() engine.CredentialKind      { return engine.CredentialPEM }
func (KeystoreSigner) Mode() engine.CredentialKind { return engine.CredentialKeystore }
func (HardwareSigner) Mode() engine.CredentialKind { return engine.CredentialHardware }
func (RemoteSigner) Mode() engine.CredentialKind   { return engine.CredentialRemote }
func (CallbackSigner) Mode() engine.CredentialKind { return engine.CredentialCallback }

func unavailable(format string, args ...any) error {
	return models.NewError(models.ErrSignerUnavailable, "", fmt.Errorf(format, args...))
}

func (s PEMSigner) Validate() error {
	if _, err := ParseAlgorithm(string(s.Algorithm)); err != nil {
		return models.NewError(models.ErrInvalidConfig, "", err)
	}
	if strings.TrimSpace(s.PrivateKeyPEM) == "" {
		return unavailable("pem signer: no private key configured")
	}
	if strings.TrimSpace(s.CertificateChainPEM) == "" {
		return unavailable("pem signer: no certificate chain configured")
	}
	return nil
}

func (s KeystoreSigner) Validate() error {
	if _, err := ParseAlgorithm(string(s.Algorithm)); err != nil {
		return models.NewError(models.ErrInvalidConfig, "", err)
	}
	if s.KeyAlias == "" {
		return unavailable("keystore signer: no key alias configured")
	}
	if strings.TrimSpace(s.CertificateChainPEM) == "" {
		return unavailable("keystore signer: no certificate chain configured")
	}
	return nil
}

func (s HardwareSigner) Validate() error {
	if s.KeyAlias == "" {
		return unavailable("hardware signer: no key alias configured")
	}
	if strings.TrimSpace(s.CertificateChainPEM) == "" {
		return unavailable("hardware signer: no certificate chain configured")
	}
	return nil
}

func (s RemoteSigner) Validate() error {
	if s.ConfigurationURL == "" {
		return unavailable("remote signer: no configuration URL")
	}
	if !strings.HasPrefix(s.ConfigurationURL, "http://") && !strings.HasPrefix(s.ConfigurationURL, "https://") {
		return models.NewError(models.ErrInvalidConfig, "", fmt.Errorf("remote signer: unsupported URL %q", s.ConfigurationURL))
	}
	return nil
}

func (s CallbackSigner) Validate() error {
	if _, err := ParseAlgorithm(string(s.Algorithm)); err != nil {
		return models.NewError(models.ErrInvalidConfig, "", err)
	}
	if s.Callback == nil {
		return unavailable("callback signer: no callback configured")
	}
	if strings.TrimSpace(s.CertificateChainPEM) == "" {
		return unavailable("callback signer: no certificate chain configured")
	}
	return nil
}
