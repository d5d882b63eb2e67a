package app

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ralt/provsign/internal/engine/local"
	"github.com/ralt/provsign/internal/models"
	"github.com/ralt/provsign/internal/signer"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jpeg = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}

func writeCredentials(t *testing.T, dir string) (keyPath, chainPath string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	keyPath = filepath.Join(dir, "signer.key")
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), 0600))

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(42),
		Subject:      pkix.Name{CommonName: "Newsroom Camera"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	cert, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	chainPath = filepath.Join(dir, "chain.pem")
	require.NoError(t, os.WriteFile(chainPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert}), 0644))
	return keyPath, chainPath
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testConfig(t *testing.T, mode string) *models.Config {
	t.Helper()
	dir := t.TempDir()
	keyPath, chainPath := writeCredentials(t, dir)

	input := filepath.Join(dir, "in")
	require.NoError(t, os.MkdirAll(input, 0755))

	return &models.Config{
		InputDir:  input,
		OutputDir: filepath.Join(dir, "out"),
		Workers:   2,
		Manifest: models.ManifestConfig{
			ClaimGenerator: "provsign-test",
			Intent:         "create",
			SourceType:     string(models.SourceDigitalCapture),
			Actions:        []models.ActionConfig{{Action: "c2pa.published"}},
		},
		Signer: models.SignerConfig{
			Mode:                 mode,
			Algorithm:            "es256",
			CertificateChainPath: chainPath,
			PrivateKeyPath:       keyPath,
		},
	}
}

func newTestApp(t *testing.T, cfg *models.Config) *App {
	t.Helper()
	a, err := New(cfg, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestSignAssetEmbedsManifest(t *testing.T) {
	for _, mode := range []string{"pem", "callback"} {
		t.Run(mode, func(t *testing.T) {
			cfg := testConfig(t, mode)
			a := newTestApp(t, cfg)

			path := filepath.Join(cfg.InputDir, "sub", "photo.jpg")
			require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
			require.NoError(t, os.WriteFile(path, jpeg, 0644))

			s, err := a.Signer()
			require.NoError(t, err)
			def, err := a.Definition()
			require.NoError(t, err)

			res, err := a.SignAsset(context.Background(), def, path, s)
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(cfg.OutputDir, "sub", "photo.jpg"), res.Output)
			assert.Equal(t, "image/jpeg", res.MediaType)
			assert.Empty(t, res.Sidecar)
			assert.Equal(t, 0, a.Engine.Live())

			v, err := a.Verify(res.Output)
			require.NoError(t, err)
			assert.Equal(t, "photo.jpg", v.Claim.Title)
			assert.Equal(t, "create", v.Claim.Intent)
			assert.Contains(t, v.Signer, "Newsroom Camera")
		})
	}
}

func TestSignAssetNoEmbedWritesSidecar(t *testing.T) {
	cfg := testConfig(t, "pem")
	cfg.Manifest.NoEmbed = true
	cfg.Manifest.RemoteManifestURL = "https://example.com/m/1"
	a := newTestApp(t, cfg)

	path := filepath.Join(cfg.InputDir, "photo.jpg")
	require.NoError(t, os.WriteFile(path, jpeg, 0644))

	results, err := a.SignAll(context.Background(), []string{path}, mustSigner(t, a))
	require.NoError(t, err)
	require.Len(t, results, 1)

	out, err := os.ReadFile(results[0].Output)
	require.NoError(t, err)
	assert.Equal(t, jpeg, out)
	assert.FileExists(t, results[0].Sidecar)

	v, err := a.Verify(results[0].Output)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/m/1", v.Claim.RemoteManifestURL)
}

func mustSigner(t *testing.T, a *App) signer.Signer {
	t.Helper()
	s, err := a.Signer()
	require.NoError(t, err)
	return s
}

func TestSignAllContinuesPastFailures(t *testing.T) {
	cfg := testConfig(t, "pem")
	a := newTestApp(t, cfg)

	good := []string{"a.jpg", "b.jpg", "c.jpg"}
	var paths []string
	for _, name := range good {
		p := filepath.Join(cfg.InputDir, name)
		require.NoError(t, os.WriteFile(p, jpeg, 0644))
		paths = append(paths, p)
	}
	bad := filepath.Join(cfg.InputDir, "notes.txt")
	require.NoError(t, os.WriteFile(bad, []byte("plain text"), 0644))
	paths = append(paths, bad)

	s, err := a.Signer()
	require.NoError(t, err)
	results, err := a.SignAll(context.Background(), paths, s)
	require.Error(t, err)
	assert.Equal(t, models.ErrInvalidConfig, models.KindOf(err))

	require.Len(t, results, 4)
	for _, r := range results[:3] {
		assert.NoError(t, r.Err)
		assert.FileExists(t, r.Output)
	}
	assert.Error(t, results[3].Err)
	assert.Equal(t, 0, a.Engine.Live())
}

func TestSignAssetWithoutSignerDisposesBuilder(t *testing.T) {
	cfg := testConfig(t, "pem")
	a := newTestApp(t, cfg)

	path := filepath.Join(cfg.InputDir, "photo.jpg")
	require.NoError(t, os.WriteFile(path, jpeg, 0644))
	def, err := a.Definition()
	require.NoError(t, err)

	_, err = a.SignAsset(context.Background(), def, path, nil)
	assert.True(t, models.IsType(err, models.ErrSignerUnavailable))
	assert.Equal(t, 0, a.Engine.Live())
}

func TestDefinitionFromYAML(t *testing.T) {
	cfg := testConfig(t, "pem")
	defPath := filepath.Join(t.TempDir(), "manifest.yaml")
	require.NoError(t, os.WriteFile(defPath, []byte(`
title: Launch photo
claim_generator_info:
  - name: provsign
    version: 0.4.0
assertions:
  - label: stds.schema-org.CreativeWork
    data:
      author:
        - name: Jane Doe
`), 0644))
	cfg.Manifest.DefinitionPath = defPath
	cfg.Manifest.Title = ""
	a := newTestApp(t, cfg)

	def, err := a.Definition()
	require.NoError(t, err)
	assert.Equal(t, "Launch photo", def.Title)
	assert.Equal(t, "provsign-test", def.ClaimGenerator)
	require.Len(t, def.Assertions, 1)
	assert.JSONEq(t, `{"author":[{"name":"Jane Doe"}]}`, string(def.Assertions[0].Data))
}

func TestDefinitionRejectsBadVersion(t *testing.T) {
	cfg := testConfig(t, "pem")
	defPath := filepath.Join(t.TempDir(), "manifest.json")
	require.NoError(t, os.WriteFile(defPath, []byte(`{"claim_generator_info":[{"name":"x","version":"one"}]}`), 0644))
	cfg.Manifest.DefinitionPath = defPath
	a := newTestApp(t, cfg)

	_, err := a.Definition()
	assert.True(t, models.IsType(err, models.ErrInvalidConfig))
}

func TestNewRejectsBadEngineConfig(t *testing.T) {
	cfg := testConfig(t, "pem")
	cfg.Engine.ArchiveCompression = "lz4"
	_, err := New(cfg, quietLogger())
	assert.True(t, models.IsType(err, models.ErrInvalidConfig))

	cfg.Engine.ArchiveCompression = ""
	cfg.Engine.AssetHash = "md5"
	_, err = New(cfg, quietLogger())
	assert.True(t, models.IsType(err, models.ErrInvalidConfig))
}

func TestProbe(t *testing.T) {
	cfg := testConfig(t, "pem")
	assert.False(t, newTestApp(t, cfg).Probe(context.Background()))

	cfg.Engine.HardwareDir = filepath.Join(t.TempDir(), "se")
	assert.True(t, newTestApp(t, cfg).Probe(context.Background()))
}

func TestArchiveWithDetachedSignature(t *testing.T) {
	cfg := testConfig(t, "pem")
	cfg.Manifest.Intent = "edit"

	entity, err := openpgp.NewEntity("Archive Bot", "", "archive@example.com", nil)
	require.NoError(t, err)
	var keyBuf bytes.Buffer
	w, err := armor.Encode(&keyBuf, openpgp.PrivateKeyType, nil)
	require.NoError(t, err)
	require.NoError(t, entity.SerializePrivate(w, nil))
	require.NoError(t, w.Close())
	cfg.GPGKeyPath = filepath.Join(t.TempDir(), "archive.asc")
	require.NoError(t, os.WriteFile(cfg.GPGKeyPath, keyBuf.Bytes(), 0600))

	a := newTestApp(t, cfg)
	out := filepath.Join(cfg.OutputDir, "manifest.psar")
	res, err := a.Archive(context.Background(), out)
	require.NoError(t, err)
	assert.Equal(t, 0, a.Engine.Live())

	archive, err := os.ReadFile(res.Archive)
	require.NoError(t, err)
	ws, err := local.ReadArchive(archive)
	require.NoError(t, err)
	assert.Equal(t, "edit", ws.Intent)
	require.Len(t, ws.Actions, 1)

	pub, err := os.ReadFile(res.PublicKey)
	require.NoError(t, err)
	keyring, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(pub))
	require.NoError(t, err)

	sig, err := os.ReadFile(res.Signature)
	require.NoError(t, err)
	signerEntity, err := openpgp.CheckArmoredDetachedSignature(keyring, bytes.NewReader(archive), bytes.NewReader(sig), nil)
	require.NoError(t, err)
	assert.Equal(t, entity.PrimaryKey.KeyId, signerEntity.PrimaryKey.KeyId)
}

func TestSignAssetIntentValidatedByBuilder(t *testing.T) {
	cfg := testConfig(t, "pem")
	cfg.Manifest.Intent = "Create"
	a := newTestApp(t, cfg)

	path := filepath.Join(cfg.InputDir, "photo.jpg")
	require.NoError(t, os.WriteFile(path, jpeg, 0644))
	def, err := a.Definition()
	require.NoError(t, err)

	res, err := a.SignAsset(context.Background(), def, path, mustSigner(t, a))
	require.NoError(t, err)
	v, err := a.Verify(res.Output)
	require.NoError(t, err)
	assert.Equal(t, "create", v.Claim.Intent)

	a.Config.Manifest.Intent = "publish"
	_, err = a.SignAsset(context.Background(), def, path, mustSigner(t, a))
	require.Error(t, err)
	assert.Equal(t, models.ErrInvalidConfig, models.KindOf(err))
	assert.Equal(t, 0, a.Engine.Live())
}
