package local

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/ralt/provsign/internal/eckey"
	"github.com/ralt/provsign/internal/ecsign"
	"github.com/ralt/provsign/internal/engine"
	"github.com/ralt/provsign/internal/models"
	"github.com/ralt/provsign/internal/utils"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testManifest = `{"title":"photo.jpg","claim_generator":"provsign-test/1.0","claim_generator_info":[{"name":"provsign","version":"1.2.3"}]}`

var asset = []byte("\xff\xd8\xff\xe0 fake jpeg body")

func newTestEngine(opts ...Option) *Engine {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return New(append([]Option{WithLogger(logger), WithClock(fixedClock)}, opts...)...)
}

func pemCredential(t *testing.T) *engine.Credential {
	t.Helper()
	key := generateP256(t)
	return &engine.Credential{
		Kind:                engine.CredentialPEM,
		Algorithm:           "es256",
		CertificateChainPEM: certPEM(t, key),
		PrivateKeyPEM:       keyPEM(t, key),
	}
}

func decodeClaim(t *testing.T, store []byte) Claim {
	t.Helper()
	var s Store
	require.NoError(t, json.Unmarshal(store, &s))
	var c Claim
	require.NoError(t, json.Unmarshal(s.Claim, &c))
	return c
}

func TestCreateBuilderRejectsNonObject(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	for _, in := range []string{"", "[]", "null", `"x"`, "{"} {
		_, err := e.CreateBuilder(ctx, in)
		assert.ErrorIs(t, err, engine.ErrInvalidInput, "input %q", in)
	}
	assert.Equal(t, 0, e.Live())
}

func TestCreateBuilderRejectsBadGeneratorVersion(t *testing.T) {
	e := newTestEngine()
	_, err := e.CreateBuilder(context.Background(), `{"claim_generator_info":[{"name":"x","version":"not-semver"}]}`)
	assert.ErrorIs(t, err, engine.ErrInvalidInput)
}

func TestUnknownHandle(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	assert.ErrorIs(t, e.SetNoEmbed(ctx, "nope"), engine.ErrUnknownHandle)
	assert.ErrorIs(t, e.Dispose(ctx, "nope"), engine.ErrUnknownHandle)
	_, err := e.Sign(ctx, "nope", asset, "image/jpeg", pemCredential(t))
	assert.ErrorIs(t, err, engine.ErrUnknownHandle)
	_, err = e.ToArchive(ctx, "nope", nil)
	assert.ErrorIs(t, err, engine.ErrUnknownHandle)
}

func TestDisposeReleasesHandle(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	h, err := e.CreateBuilder(ctx, testManifest)
	require.NoError(t, err)
	assert.Equal(t, 1, e.Live())

	require.NoError(t, e.Dispose(ctx, h))
	assert.Equal(t, 0, e.Live())
	assert.ErrorIs(t, e.Dispose(ctx, h), engine.ErrUnknownHandle)
}

func TestSignEmbedsVerifiableManifest(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	h, err := e.CreateBuilder(ctx, testManifest)
	require.NoError(t, err)
	require.NoError(t, e.SetIntent(ctx, h, "create", models.SourceDigitalCapture.URI()))
	require.NoError(t, e.AddAction(ctx, h, `{"action":"c2pa.color_adjustments"}`))

	out, err := e.Sign(ctx, h, asset, "image/jpeg", pemCredential(t))
	require.NoError(t, err)
	assert.Equal(t, len(out.ManifestBytes), out.ManifestSize)

	original, store, err := Extract(out.SignedData)
	require.NoError(t, err)
	assert.Equal(t, asset, original)
	assert.Equal(t, out.ManifestBytes, store)

	verified, err := Verify(original, store)
	require.NoError(t, err)

	claim := verified.Claim
	assert.Equal(t, "photo.jpg", claim.Title)
	assert.Equal(t, "image/jpeg", claim.Format)
	assert.Equal(t, "create", claim.Intent)
	assert.Equal(t, "es256", claim.SignatureAlgorithm)
	assert.Equal(t, "2025-01-02T03:04:05Z", claim.Created)
	assert.True(t, claim.Embedded)
	assert.Regexp(t, `^xmp:iid:[0-9a-f-]{36}$`, claim.InstanceID)

	require.Len(t, claim.Assertions, 1)
	assert.Equal(t, "c2pa.actions", claim.Assertions[0].Label)
	var actions struct {
		Actions []models.ActionConfig `json:"actions"`
	}
	require.NoError(t, json.Unmarshal(claim.Assertions[0].Data, &actions))
	require.Len(t, actions.Actions, 2)
	assert.Equal(t, "c2pa.created", actions.Actions[0].Action)
	assert.Equal(t, models.SourceDigitalCapture.URI(), actions.Actions[0].DigitalSourceType)
	assert.Equal(t, "c2pa.color_adjustments", actions.Actions[1].Action)
}

func TestVerifyDetectsTampering(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	h, err := e.CreateBuilder(ctx, testManifest)
	require.NoError(t, err)
	out, err := e.Sign(ctx, h, asset, "image/jpeg", pemCredential(t))
	require.NoError(t, err)

	tampered := append([]byte(nil), asset...)
	tampered[len(tampered)-1] ^= 0x01
	_, err = Verify(tampered, out.ManifestBytes)
	assert.ErrorContains(t, err, "asset hash mismatch")

	var store Store
	require.NoError(t, json.Unmarshal(out.ManifestBytes, &store))
	store.Signature.Value[len(store.Signature.Value)-1] ^= 0x01
	forged, err := json.Marshal(store)
	require.NoError(t, err)
	_, err = Verify(asset, forged)
	assert.Error(t, err)
}

func TestSignNoEmbedReturnsSourceUnchanged(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	h, err := e.CreateBuilder(ctx, testManifest)
	require.NoError(t, err)
	require.NoError(t, e.SetNoEmbed(ctx, h))
	require.NoError(t, e.SetRemoteURL(ctx, h, "https://example.com/manifests/1"))

	out, err := e.Sign(ctx, h, asset, "image/jpeg", pemCredential(t))
	require.NoError(t, err)
	assert.Equal(t, asset, out.SignedData)

	_, _, err = Extract(out.SignedData)
	assert.ErrorIs(t, err, ErrNoManifest)

	claim := decodeClaim(t, out.ManifestBytes)
	assert.False(t, claim.Embedded)
	assert.Equal(t, "https://example.com/manifests/1", claim.RemoteManifestURL)
}

func TestCreateIntentNeedsSourceType(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	h, err := e.CreateBuilder(ctx, testManifest)
	require.NoError(t, err)
	require.NoError(t, e.SetIntent(ctx, h, "create", ""))

	_, err = e.Sign(ctx, h, asset, "image/jpeg", pemCredential(t))
	assert.ErrorIs(t, err, engine.ErrInvalidInput)

	h2, err := e.CreateBuilder(ctx, `{"source_type":"digitalArt"}`)
	require.NoError(t, err)
	require.NoError(t, e.SetIntent(ctx, h2, "create", ""))
	_, err = e.Sign(ctx, h2, asset, "image/png", pemCredential(t))
	assert.NoError(t, err)
}

func TestSetterValidation(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	h, err := e.CreateBuilder(ctx, testManifest)
	require.NoError(t, err)

	assert.ErrorIs(t, e.SetIntent(ctx, h, "destroy", ""), engine.ErrInvalidInput)
	assert.ErrorIs(t, e.SetRemoteURL(ctx, h, "ftp://example.com"), engine.ErrInvalidInput)
	assert.ErrorIs(t, e.AddAction(ctx, h, `{"softwareAgent":"x"}`), engine.ErrInvalidInput)
	assert.ErrorIs(t, e.AddAction(ctx, h, `not json`), engine.ErrInvalidInput)
}

func TestSignRejectsAlgorithmKeyMismatch(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	h, err := e.CreateBuilder(ctx, testManifest)
	require.NoError(t, err)
	cred := pemCredential(t)
	cred.Algorithm = "es384"

	_, err = e.Sign(ctx, h, asset, "image/jpeg", cred)
	assert.ErrorIs(t, err, engine.ErrInvalidInput)
}

func TestSignRejectsMissingChain(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	h, err := e.CreateBuilder(ctx, testManifest)
	require.NoError(t, err)
	cred := pemCredential(t)
	cred.CertificateChainPEM = "-----BEGIN GARBAGE-----\nAA==\n-----END GARBAGE-----\n"

	_, err = e.Sign(ctx, h, asset, "image/jpeg", cred)
	assert.ErrorIs(t, err, engine.ErrInvalidInput)
}

func TestSignWithCallback(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	key := generateP256(t)
	pemKey := keyPEM(t, key)
	var seen []byte
	cred := &engine.Credential{
		Kind:                engine.CredentialCallback,
		Algorithm:           "es256",
		CertificateChainPEM: certPEM(t, key),
		Sign: func(ctx context.Context, data []byte) ([]byte, error) {
			seen = data
			k, err := eckey.ParsePKCS8PEM(pemKey)
			if err != nil {
				return nil, err
			}
			defer k.Zero()
			return ecsign.Sign(data, k)
		},
	}

	h, err := e.CreateBuilder(ctx, testManifest)
	require.NoError(t, err)
	out, err := e.Sign(ctx, h, asset, "image/jpeg", cred)
	require.NoError(t, err)

	verified, err := Verify(asset, out.ManifestBytes)
	require.NoError(t, err)
	assert.Equal(t, []byte(verified.Store.Claim), seen)
}

func TestSignWithKeystore(t *testing.T) {
	dir := t.TempDir()
	key := generateP256(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "studio.pem"), []byte(keyPEM(t, key)), 0600))

	e := newTestEngine(WithKeyStore(DirKeyStore{Dir: dir}))
	ctx := context.Background()
	h, err := e.CreateBuilder(ctx, testManifest)
	require.NoError(t, err)

	cred := &engine.Credential{
		Kind:                engine.CredentialKeystore,
		Algorithm:           "es256",
		KeyAlias:            "studio",
		CertificateChainPEM: certPEM(t, key),
	}
	out, err := e.Sign(ctx, h, asset, "image/jpeg", cred)
	require.NoError(t, err)
	_, err = Verify(asset, out.ManifestBytes)
	assert.NoError(t, err)

	cred.KeyAlias = "missing"
	_, err = e.Sign(ctx, h, asset, "image/jpeg", cred)
	assert.ErrorIs(t, err, engine.ErrUnavailable)

	cred.KeyAlias = "../studio"
	_, err = e.Sign(ctx, h, asset, "image/jpeg", cred)
	assert.ErrorIs(t, err, engine.ErrInvalidInput)
}

func TestSignWithoutKeystoreIsUnavailable(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	h, err := e.CreateBuilder(ctx, testManifest)
	require.NoError(t, err)

	_, err = e.Sign(ctx, h, asset, "image/jpeg", &engine.Credential{
		Kind:                engine.CredentialKeystore,
		Algorithm:           "es256",
		KeyAlias:            "studio",
		CertificateChainPEM: pemCredential(t).CertificateChainPEM,
	})
	assert.ErrorIs(t, err, engine.ErrUnavailable)
}

func TestSignWithSoftHardware(t *testing.T) {
	hw, err := NewSoftHardware(filepath.Join(t.TempDir(), "se"))
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := hw.Available(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	key, err := hw.Signer(ctx, "device")
	require.NoError(t, err)
	again, err := hw.Signer(ctx, "device")
	require.NoError(t, err)
	assert.Same(t, key, again)

	e := newTestEngine(WithHardware(hw))
	available, err := e.HardwareSigningAvailable(ctx)
	require.NoError(t, err)
	assert.True(t, available)

	h, err := e.CreateBuilder(ctx, testManifest)
	require.NoError(t, err)
	cred := &engine.Credential{
		Kind:                      engine.CredentialHardware,
		KeyAlias:                  "device",
		CertificateChainPEM:       certPEM(t, key),
		RequireUserAuthentication: true,
	}

	_, err = e.Sign(ctx, h, asset, "image/jpeg", cred)
	assert.ErrorIs(t, err, engine.ErrUnavailable)

	var prompted string
	hw.Authenticator = func(ctx context.Context, alias string) error {
		prompted = alias
		return nil
	}
	out, err := e.Sign(ctx, h, asset, "image/jpeg", cred)
	require.NoError(t, err)
	assert.Equal(t, "device", prompted)

	verified, err := Verify(asset, out.ManifestBytes)
	require.NoError(t, err)
	assert.Equal(t, "es256", verified.Claim.SignatureAlgorithm)

	reloaded, err := NewSoftHardware(hw.keyDir)
	require.NoError(t, err)
	persisted, err := reloaded.Signer(ctx, "device")
	require.NoError(t, err)
	assert.True(t, key.Public().(*ecdsa.PublicKey).Equal(persisted.Public()))
}

func TestHardwareUnavailableWithoutProvider(t *testing.T) {
	e := newTestEngine()
	ok, err := e.HardwareSigningAvailable(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSignWithRemoteSigner(t *testing.T) {
	key := generateP256(t)
	chain := certPEM(t, key)
	pemKey := keyPEM(t, key)

	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer s3cret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/config":
			_ = json.NewEncoder(w).Encode(remoteConfig{
				Algorithm:        "ES256",
				SigningURL:       srv.URL + "/sign",
				TimestampURL:     "http://tsa.example.com",
				CertificateChain: chain,
			})
		case "/sign":
			body, _ := io.ReadAll(r.Body)
			k, err := eckey.ParsePKCS8PEM(pemKey)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			sig, err := ecsign.Sign(body, k)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			_, _ = w.Write(sig)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	e := newTestEngine(WithHTTPClient(srv.Client()))
	ctx := context.Background()
	h, err := e.CreateBuilder(ctx, testManifest)
	require.NoError(t, err)

	cred := &engine.Credential{Kind: engine.CredentialRemote, ConfigurationURL: srv.URL + "/config", BearerToken: "s3cret"}
	out, err := e.Sign(ctx, h, asset, "image/jpeg", cred)
	require.NoError(t, err)

	verified, err := Verify(asset, out.ManifestBytes)
	require.NoError(t, err)
	assert.Equal(t, "es256", verified.Store.Signature.Algorithm)
	assert.Equal(t, "http://tsa.example.com", verified.Store.Signature.TSAURL)

	cred.BearerToken = "wrong"
	_, err = e.Sign(ctx, h, asset, "image/jpeg", cred)
	assert.ErrorIs(t, err, engine.ErrUnavailable)
}

func TestParsePrivateKeyPEMFormats(t *testing.T) {
	key := generateP256(t)

	sec1, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	signer, err := ParsePrivateKeyPEM(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: sec1}))
	require.NoError(t, err)
	assert.True(t, key.PublicKey.Equal(signer.Public()))

	signer, err = ParsePrivateKeyPEM([]byte(keyPEM(t, key)))
	require.NoError(t, err)
	assert.True(t, key.PublicKey.Equal(signer.Public()))

	_, err = ParsePrivateKeyPEM([]byte("not pem"))
	assert.ErrorIs(t, err, engine.ErrInvalidInput)
}

func TestArchiveRoundTrip(t *testing.T) {
	ctx := context.Background()
	for _, c := range []utils.Compression{utils.CompressionNone, utils.CompressionGzip, utils.CompressionZstd, utils.CompressionXZ} {
		t.Run(string(c), func(t *testing.T) {
			e := newTestEngine(WithCompression(c))
			h, err := e.CreateBuilder(ctx, testManifest)
			require.NoError(t, err)
			require.NoError(t, e.SetIntent(ctx, h, "edit", ""))
			require.NoError(t, e.SetNoEmbed(ctx, h))
			require.NoError(t, e.AddAction(ctx, h, `{"action":"c2pa.cropped"}`))

			archive, err := e.ToArchive(ctx, h, nil)
			require.NoError(t, err)

			ws, err := ReadArchive(archive)
			require.NoError(t, err)
			assert.JSONEq(t, testManifest, string(ws.Definition))
			assert.Equal(t, "edit", ws.Intent)
			assert.True(t, ws.NoEmbed)
			require.Len(t, ws.Actions, 1)
			assert.JSONEq(t, `{"action":"c2pa.cropped"}`, string(ws.Actions[0]))

			restored, err := e.FromArchive(ctx, archive)
			require.NoError(t, err)
			assert.NotEqual(t, h, restored)

			out, err := e.Sign(ctx, restored, asset, "image/jpeg", pemCredential(t))
			require.NoError(t, err)
			assert.Equal(t, asset, out.SignedData)
			assert.Equal(t, "edit", decodeClaim(t, out.ManifestBytes).Intent)
		})
	}
}

func TestReadArchiveRejectsGarbage(t *testing.T) {
	for _, in := range [][]byte{nil, []byte("PSAR"), []byte("nope"), []byte("PSAR\x04zstd garbage"), []byte("PSAR\x09")} {
		_, err := ReadArchive(in)
		assert.ErrorIs(t, err, engine.ErrInvalidInput)
	}
}

func TestExtractRejectsOversizedLength(t *testing.T) {
	signed := append([]byte("abc"), 'P', 'S', 'G', 'N', 0, 0, 1, 0)
	_, _, err := Extract(signed)
	assert.ErrorContains(t, err, "exceeds asset")

	_, _, err = Extract([]byte("short"))
	assert.ErrorIs(t, err, ErrNoManifest)
}

func TestEmbedExtractRoundTrip(t *testing.T) {
	store := []byte(`{"format":"x"}`)
	original, got, err := Extract(Embed(asset, store))
	require.NoError(t, err)
	assert.Equal(t, asset, original)
	assert.Equal(t, store, got)
}

func TestSignVerifyRoundTripsSpecialCharacters(t *testing.T) {
	tests := []struct {
		name      string
		title     string
		remoteURL string
		agent     string
	}{
		{"ampersand", "Tom & Jerry", "", ""},
		{"angle brackets", "<b>bold</b> > plain", "", ""},
		{"unicode", "Café ☕ 東京, Zürich", "", ""},
		{"quotes and escapes", `say "hi" \ bye`, "", ""},
		{"query url", "photo.jpg", "https://cdn.example.com/m?id=1&sig=a<b>", ""},
		{"action agent", "photo.jpg", "", "Editor <Pro> & Co"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine()
			ctx := context.Background()

			manifest, err := json.Marshal(map[string]string{"title": tt.title})
			require.NoError(t, err)
			h, err := e.CreateBuilder(ctx, string(manifest))
			require.NoError(t, err)
			defer func() { _ = e.Dispose(ctx, h) }()

			if tt.remoteURL != "" {
				require.NoError(t, e.SetRemoteURL(ctx, h, tt.remoteURL))
			}
			if tt.agent != "" {
				action, err := models.ActionConfig{Action: "c2pa.edited", SoftwareAgent: tt.agent}.JSON()
				require.NoError(t, err)
				require.NoError(t, e.AddAction(ctx, h, action))
			}

			out, err := e.Sign(ctx, h, asset, "image/jpeg", pemCredential(t))
			require.NoError(t, err)

			original, store, err := Extract(out.SignedData)
			require.NoError(t, err)
			verified, err := Verify(original, store)
			require.NoError(t, err)

			assert.Equal(t, tt.title, verified.Claim.Title)
			assert.Equal(t, tt.remoteURL, verified.Claim.RemoteManifestURL)
			if tt.agent != "" {
				require.Len(t, verified.Claim.Assertions, 1)
				assert.Contains(t, string(verified.Claim.Assertions[0].Data), tt.agent)
			}
		})
	}
}
