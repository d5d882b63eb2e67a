package signer

import (
	"context"

	"github.com/ralt/provsign/internal/eckey"
	"github.com/ralt/provsign/internal/ecsign"
	"github.com/ralt/provsign/internal/engine"
)

// LocalECDSACallback returns a SignFunc that signs with an ES256 PKCS8 key
// without handing the key to the engine. The key is parsed on every call
// and wiped before the call returns.
func LocalECDSACallback(privateKeyPEM string) engine.SignFunc {
	return func(ctx context.Context, data []byte) ([]byte, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key, err := eckey.ParsePKCS8PEM(privateKeyPEM)
		if err != nil {
			return nil, err
		}
		defer key.Zero()
		return ecsign.Sign(data, key)
	}
}

// NewLocalCallbackSigner builds a CallbackSigner around LocalECDSACallback
func NewLocalCallbackSigner(certificateChainPEM, privateKeyPEM string) CallbackSigner {
	return CallbackSigner{
		Algorithm:           ES256,
		CertificateChainPEM: certificateChainPEM,
		Callback:            LocalECDSACallback(privateKeyPEM),
	}
}
