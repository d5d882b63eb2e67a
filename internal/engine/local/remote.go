package local

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ralt/provsign/internal/engine"
	"github.com/sirupsen/logrus"
)

// remoteConfig is served at the credential's configuration URL
type remoteConfig struct {
	Algorithm        string `json:"alg"`
	SigningURL       string `json:"signing_url"`
	TimestampURL     string `json:"timestamp_url,omitempty"`
	CertificateChain string `json:"certificate_chain"`
}

const maxRemoteResponse = 1 << 20

func (e *Engine) remoteSigner(ctx context.Context, cred *engine.Credential) (*claimSigner, error) {
	var cfg remoteConfig
	body, err := e.remoteCall(ctx, http.MethodGet, cred.ConfigurationURL, cred.BearerToken, nil)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, &cfg); err != nil {
		return nil, fmt.Errorf("%w: remote signer configuration: %v", engine.ErrUnavailable, err)
	}
	if cfg.SigningURL == "" {
		return nil, fmt.Errorf("%w: remote signer configuration has no signing_url", engine.ErrUnavailable)
	}
	alg := strings.ToLower(cfg.Algorithm)
	if _, err := digestFor(alg); err != nil {
		return nil, err
	}
	chain, err := parseChain(cfg.CertificateChain)
	if err != nil {
		return nil, err
	}

	e.log.WithFields(logrus.Fields{
		"alg":         alg,
		"signing_url": cfg.SigningURL,
	}).Debug("Remote signer configured")

	token := cred.BearerToken
	return &claimSigner{
		alg:    alg,
		chain:  chain,
		tsaURL: cfg.TimestampURL,
		sign: func(ctx context.Context, claim []byte) ([]byte, error) {
			return e.remoteCall(ctx, http.MethodPost, cfg.SigningURL, token, claim)
		},
	}, nil
}

func (e *Engine) remoteCall(ctx context.Context, method, url, token string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, invalid("remote signer request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: remote signer: %v", engine.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteResponse))
	if err != nil {
		return nil, fmt.Errorf("failed to read remote signer response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: remote signer %s %s returned %s", engine.ErrUnavailable, method, url, resp.Status)
	}
	return data, nil
}
