package signer

import (
	"fmt"
	"os"
	"strings"

	"github.com/ralt/provsign/internal/models"
)

// FromConfig builds the Signer selected by cfg, reading key and certificate
// files from disk.
func FromConfig(cfg *models.SignerConfig) (Signer, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		return nil, unavailable("no signing mode configured")
	}

	if mode == "remote" {
		return RemoteSigner{
			ConfigurationURL: cfg.ConfigurationURL,
			BearerToken:      cfg.BearerToken,
		}, nil
	}

	chain, err := readOptional(cfg.CertificateChainPath)
	if err != nil {
		return nil, err
	}

	algorithm := Algorithm(strings.ToLower(cfg.Algorithm))
	if algorithm == "" {
		algorithm = ES256
	}

	switch mode {
	case "pem":
		key, err := readOptional(cfg.PrivateKeyPath)
		if err != nil {
			return nil, err
		}
		return PEMSigner{
			Algorithm:           algorithm,
			CertificateChainPEM: chain,
			PrivateKeyPEM:       key,
			TSAURL:              cfg.TSAURL,
		}, nil
	case "keystore":
		return KeystoreSigner{
			Algorithm:           algorithm,
			KeyAlias:            cfg.KeyAlias,
			CertificateChainPEM: chain,
		}, nil
	case "hardware":
		return HardwareSigner{
			KeyAlias:                  cfg.KeyAlias,
			CertificateChainPEM:       chain,
			RequireUserAuthentication: cfg.RequireUserAuthentication,
		}, nil
	case "callback":
		if algorithm != ES256 {
			return nil, models.NewError(models.ErrInvalidConfig, "", fmt.Errorf("callback signer only supports %s", ES256))
		}
		key, err := readOptional(cfg.PrivateKeyPath)
		if err != nil {
			return nil, err
		}
		if key == "" {
			return nil, unavailable("callback signer: no private key configured")
		}
		return NewLocalCallbackSigner(chain, key), nil
	default:
		return nil, models.NewError(models.ErrInvalidConfig, "", fmt.Errorf("unknown signing mode %q", cfg.Mode))
	}
}

func readOptional(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", models.NewError(models.ErrFileOp, "", fmt.Errorf("failed to read %s: %w", path, err))
	}
	return string(data), nil
}
