package local

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
	"github.com/ralt/provsign/internal/engine"
	"github.com/ralt/provsign/internal/models"
	"github.com/ralt/provsign/internal/utils"
	"github.com/sirupsen/logrus"
)

const (
	// StoreFormat identifies the manifest store layout
	StoreFormat = "provsign.manifest/v1"

	actionsLabel  = "c2pa.actions"
	createdAction = "c2pa.created"
)

// trailerMagic ends every asset carrying an embedded store:
// asset || store || "PSGN" || uint32 big-endian len(store)
var trailerMagic = []byte("PSGN")

const trailerSize = 8

// ErrNoManifest is returned when an asset carries no embedded store
var ErrNoManifest = errors.New("asset carries no embedded manifest")

// AssetHash binds a claim to the bytes it was signed over
type AssetHash struct {
	Algorithm string `json:"alg"`
	Hash      string `json:"hash"`
	Size      int64  `json:"size"`
}

// Claim is the signed part of a manifest
type Claim struct {
	InstanceID         string                      `json:"instanceID"`
	Title              string                      `json:"dc:title,omitempty"`
	Format             string                      `json:"dc:format"`
	ClaimGenerator     string                      `json:"claim_generator,omitempty"`
	ClaimGeneratorInfo []models.ClaimGeneratorInfo `json:"claim_generator_info,omitempty"`
	Intent             string                      `json:"intent,omitempty"`
	Assertions         []models.Assertion          `json:"assertions"`
	AssetHash          AssetHash                   `json:"asset_hash"`
	RemoteManifestURL  string                      `json:"remote_manifest_url,omitempty"`
	Embedded           bool                        `json:"embedded"`
	SignatureAlgorithm string                      `json:"alg"`
	Created            string                      `json:"created"`
}

// Signature carries the claim signature and the signing certificates
type Signature struct {
	Algorithm        string   `json:"alg"`
	Value            []byte   `json:"sig"`
	CertificateChain [][]byte `json:"x5chain"`
	TSAURL           string   `json:"tsa_url,omitempty"`
}

// Store is the serialised manifest: the canonical claim bytes and the
// signature over them.
type Store struct {
	Format    string          `json:"format"`
	Claim     json.RawMessage `json:"claim"`
	Signature Signature       `json:"signature"`
}

// buildActions merges definition and builder actions. A create intent
// implies a leading c2pa.created action when none is given.
func buildActions(st *builderState) ([]json.RawMessage, error) {
	var actions []json.RawMessage
	created := false
	for _, a := range st.definition.Actions {
		data, err := json.Marshal(a)
		if err != nil {
			return nil, err
		}
		created = created || a.Action == createdAction
		actions = append(actions, data)
	}
	for _, raw := range st.actions {
		var a models.ActionConfig
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, invalid("action: %v", err)
		}
		created = created || a.Action == createdAction
		actions = append(actions, raw)
	}

	if st.intent == string(models.IntentCreate) && !created {
		sourceType := st.sourceType
		if sourceType == "" {
			sourceType = st.definition.SourceType.URI()
		}
		if sourceType == "" {
			return nil, invalid("create intent requires a digital source type")
		}
		data, err := json.Marshal(models.ActionConfig{Action: createdAction, DigitalSourceType: sourceType})
		if err != nil {
			return nil, err
		}
		actions = append([]json.RawMessage{data}, actions...)
	}
	return actions, nil
}

func (e *Engine) buildClaim(st *builderState, source []byte, mimeType, alg string) ([]byte, error) {
	assertions := append([]models.Assertion(nil), st.definition.Assertions...)
	actions, err := buildActions(st)
	if err != nil {
		return nil, err
	}
	if len(actions) > 0 {
		data, err := json.Marshal(map[string][]json.RawMessage{"actions": actions})
		if err != nil {
			return nil, err
		}
		assertions = append(assertions, models.Assertion{Label: actionsLabel, Data: data})
	}

	sum, err := utils.CalculateChecksum(source, e.assetHash)
	if err != nil {
		return nil, invalid("%v", err)
	}

	format := mimeType
	if format == "" {
		format = st.definition.Format
	}
	claim := Claim{
		InstanceID:         "xmp:iid:" + uuid.New().String(),
		Title:              st.definition.Title,
		Format:             format,
		ClaimGenerator:     st.definition.ClaimGenerator,
		ClaimGeneratorInfo: st.definition.ClaimGeneratorInfo,
		Intent:             st.intent,
		Assertions:         assertions,
		AssetHash:          AssetHash{Algorithm: sum.Algorithm, Hash: sum.Hex(), Size: sum.Size},
		RemoteManifestURL:  st.remoteURL,
		Embedded:           !st.noEmbed,
		SignatureAlgorithm: alg,
		Created:            e.now().UTC().Format(time.RFC3339),
	}
	if claim.Assertions == nil {
		claim.Assertions = []models.Assertion{}
	}

	data, err := json.Marshal(claim)
	if err != nil {
		return nil, err
	}
	return jcs.Transform(data)
}

// Sign builds, signs and, unless no-embed is set, embeds the manifest
func (e *Engine) Sign(ctx context.Context, h engine.Handle, source []byte, mimeType string, cred *engine.Credential) (*engine.SignOutput, error) {
	st, err := e.snapshot(h)
	if err != nil {
		return nil, err
	}
	if mimeType == "" && st.definition.Format == "" {
		return nil, invalid("asset format is unknown")
	}

	cs, err := e.resolve(ctx, cred)
	if err != nil {
		return nil, err
	}
	claim, err := e.buildClaim(st, source, mimeType, cs.alg)
	if err != nil {
		return nil, err
	}

	sig, err := cs.sign(ctx, claim)
	if err != nil {
		return nil, fmt.Errorf("claim signature: %w", err)
	}
	if len(sig) == 0 {
		return nil, fmt.Errorf("claim signature is empty")
	}

	store, err := encodeStore(Store{
		Format: StoreFormat,
		Claim:  claim,
		Signature: Signature{
			Algorithm:        cs.alg,
			Value:            sig,
			CertificateChain: cs.chain,
			TSAURL:           cs.tsaURL,
		},
	})
	if err != nil {
		return nil, err
	}

	signed := append([]byte(nil), source...)
	if !st.noEmbed {
		signed = Embed(source, store)
	}

	e.log.WithFields(logrus.Fields{
		"handle":   h,
		"alg":      cs.alg,
		"embedded": !st.noEmbed,
		"size":     len(store),
	}).Debug("Manifest signed")

	return &engine.SignOutput{
		SignedData:    signed,
		ManifestBytes: store,
		ManifestSize:  len(store),
	}, nil
}

// encodeStore serialises s without HTML escaping so the embedded claim
// stays byte-identical to the signed one.
func encodeStore(s Store) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Embed appends store and its trailer to asset
func Embed(asset, store []byte) []byte {
	out := make([]byte, 0, len(asset)+len(store)+trailerSize)
	out = append(out, asset...)
	out = append(out, store...)
	out = append(out, trailerMagic...)
	return binary.BigEndian.AppendUint32(out, uint32(len(store)))
}

// Extract splits a signed asset into the original bytes and the store
func Extract(signed []byte) (asset, store []byte, err error) {
	if len(signed) < trailerSize {
		return nil, nil, ErrNoManifest
	}
	trailer := signed[len(signed)-trailerSize:]
	if !bytes.Equal(trailer[:4], trailerMagic) {
		return nil, nil, ErrNoManifest
	}
	n := int(binary.BigEndian.Uint32(trailer[4:]))
	if n > len(signed)-trailerSize {
		return nil, nil, fmt.Errorf("embedded manifest length %d exceeds asset", n)
	}
	end := len(signed) - trailerSize
	return signed[:end-n], signed[end-n : end], nil
}

// Verified is a store whose signature and asset binding checked out
type Verified struct {
	Claim Claim
	Store Store
	Leaf  *x509.Certificate
}

// Verify checks a store against the asset bytes it claims to describe
func Verify(asset, storeBytes []byte) (*Verified, error) {
	var store Store
	if err := json.Unmarshal(storeBytes, &store); err != nil {
		return nil, fmt.Errorf("failed to parse manifest store: %w", err)
	}
	if store.Format != StoreFormat {
		return nil, fmt.Errorf("unknown manifest store format %q", store.Format)
	}
	if len(store.Signature.CertificateChain) == 0 {
		return nil, fmt.Errorf("manifest store has no certificates")
	}
	leaf, err := x509.ParseCertificate(store.Signature.CertificateChain[0])
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing certificate: %w", err)
	}
	if err := VerifySignature(leaf, store.Signature.Algorithm, store.Claim, store.Signature.Value); err != nil {
		return nil, err
	}

	var claim Claim
	if err := json.Unmarshal(store.Claim, &claim); err != nil {
		return nil, fmt.Errorf("failed to parse claim: %w", err)
	}
	if claim.SignatureAlgorithm != store.Signature.Algorithm {
		return nil, fmt.Errorf("claim algorithm %q does not match signature %q", claim.SignatureAlgorithm, store.Signature.Algorithm)
	}
	sum, err := utils.CalculateChecksum(asset, claim.AssetHash.Algorithm)
	if err != nil {
		return nil, err
	}
	if sum.Hex() != claim.AssetHash.Hash || sum.Size != claim.AssetHash.Size {
		return nil, fmt.Errorf("asset hash mismatch")
	}
	return &Verified{Claim: claim, Store: store, Leaf: leaf}, nil
}
