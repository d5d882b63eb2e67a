package signer

import (
	"context"
	"fmt"

	"github.com/ralt/provsign/internal/engine"
	"github.com/ralt/provsign/internal/models"
	"github.com/sirupsen/logrus"
)

// Resolve turns a Signer into the credential the engine's sign call takes.
// Pass-through variants are copied as is; a CallbackSigner contributes its
// callback.
func Resolve(s Signer) (*engine.Credential, error) {
	if s == nil {
		return nil, unavailable("no signer configured")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}

	switch v := s.(type) {
	case PEMSigner:
		return &engine.Credential{
			Kind:                engine.CredentialPEM,
			Algorithm:           string(v.Algorithm),
			CertificateChainPEM: v.CertificateChainPEM,
			PrivateKeyPEM:       v.PrivateKeyPEM,
			TSAURL:              v.TSAURL,
		}, nil
	case KeystoreSigner:
		return &engine.Credential{
			Kind:                engine.CredentialKeystore,
			Algorithm:           string(v.Algorithm),
			KeyAlias:            v.KeyAlias,
			CertificateChainPEM: v.CertificateChainPEM,
		}, nil
	case HardwareSigner:
		return &engine.Credential{
			Kind:                      engine.CredentialHardware,
			Algorithm:                 string(ES256),
			KeyAlias:                  v.KeyAlias,
			CertificateChainPEM:       v.CertificateChainPEM,
			RequireUserAuthentication: v.RequireUserAuthentication,
		}, nil
	case RemoteSigner:
		return &engine.Credential{
			Kind:             engine.CredentialRemote,
			ConfigurationURL: v.ConfigurationURL,
			BearerToken:      v.BearerToken,
		}, nil
	case CallbackSigner:
		return &engine.Credential{
			Kind:                engine.CredentialCallback,
			Algorithm:           string(v.Algorithm),
			CertificateChainPEM: v.CertificateChainPEM,
			Sign:                v.Callback,
		}, nil
	default:
		return nil, models.NewError(models.ErrInvalidConfig, "", fmt.Errorf("unknown signer type %T", s))
	}
}

// HardwareAvailable reports whether eng can sign with hardware-backed keys.
// Engines without a probe and probe failures both report false.
func HardwareAvailable(ctx context.Context, eng engine.Engine) bool {
	prober, ok := eng.(engine.CapabilityProber)
	if !ok {
		return false
	}
	available, err := prober.HardwareSigningAvailable(ctx)
	if err != nil {
		logrus.WithError(err).Debug("Hardware signing probe failed")
		return false
	}
	return available
}
