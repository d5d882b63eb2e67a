// Package engine defines the boundary to the manifest engine that owns
// builder state. Every call may fail with an opaque engine error.
package engine

import (
	"context"
	"errors"
)

// Handle names a builder owned by the engine
type Handle string

// CredentialKind selects how the engine obtains the claim signature
type CredentialKind int

const (
	CredentialPEM CredentialKind = iota
	CredentialKeystore
	CredentialHardware
	CredentialRemote
	CredentialCallback
)

// String returns the string representation of CredentialKind
func (k CredentialKind) String() string {
	switch k {
	case CredentialPEM:
		return "pem"
	case CredentialKeystore:
		return "keystore"
	case CredentialHardware:
		return "hardware"
	case CredentialRemote:
		return "remote"
	case CredentialCallback:
		return "callback"
	default:
		return "unknown"
	}
}

// SignFunc signs the bytes the engine hands it and returns the raw signature
type SignFunc func(ctx context.Context, data []byte) ([]byte, error)

// Credential is the material passed to Sign. Only the fields relevant to
// Kind are set.
type Credential struct {
	Kind                CredentialKind
	Algorithm           string
	CertificateChainPEM string

	PrivateKeyPEM string
	TSAURL        string

	KeyAlias                  string
	RequireUserAuthentication bool

	ConfigurationURL string
	BearerToken      string

	Sign SignFunc
}

// SignOutput is what the engine returns from Sign
type SignOutput struct {
	SignedData    []byte
	ManifestBytes []byte
	ManifestSize  int
}

// Engine is the set of builder operations the engine exposes
type Engine interface {
	CreateBuilder(ctx context.Context, manifestJSON string) (Handle, error)
	SetIntent(ctx context.Context, h Handle, intent, sourceType string) error
	SetNoEmbed(ctx context.Context, h Handle) error
	SetRemoteURL(ctx context.Context, h Handle, url string) error
	AddAction(ctx context.Context, h Handle, actionJSON string) error
	Sign(ctx context.Context, h Handle, source []byte, mimeType string, cred *Credential) (*SignOutput, error)
	// ToArchive accepts a nil credential, producing an unsigned archive.
	ToArchive(ctx context.Context, h Handle, cred *Credential) ([]byte, error)
	Dispose(ctx context.Context, h Handle) error
}

// CapabilityProber is optionally implemented by engines that can report
// whether hardware-backed signing is present.
type CapabilityProber interface {
	HardwareSigningAvailable(ctx context.Context) (bool, error)
}

// Common engine errors
var (
	ErrUnknownHandle = errors.New("engine: unknown builder handle")
	ErrInvalidInput  = errors.New("engine: invalid input")
	ErrUnavailable   = errors.New("engine: capability unavailable")
)
