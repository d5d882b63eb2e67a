// Package app holds the process context shared by the CLI commands: the
// configuration, the engine and the logger.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ralt/provsign/internal/builder"
	"github.com/ralt/provsign/internal/engine/local"
	"github.com/ralt/provsign/internal/models"
	"github.com/ralt/provsign/internal/signer"
	"github.com/ralt/provsign/internal/utils"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// SidecarSuffix is appended to an asset path for its detached manifest
const SidecarSuffix = ".c2pa.json"

// App is the explicit process context
type App struct {
	Config *models.Config
	Engine *local.Engine
	Log    logrus.FieldLogger
}

// New builds the engine described by cfg.Engine
func New(cfg *models.Config, log logrus.FieldLogger) (*App, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	compression, err := utils.ParseCompression(cfg.Engine.ArchiveCompression)
	if err != nil {
		return nil, models.NewError(models.ErrInvalidConfig, "", err)
	}
	if _, err := utils.CalculateChecksum(nil, cfg.Engine.AssetHash); err != nil {
		return nil, models.NewError(models.ErrInvalidConfig, "", err)
	}
	timeout := cfg.Engine.RemoteTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	opts := []local.Option{
		local.WithLogger(log),
		local.WithCompression(compression),
		local.WithAssetHash(cfg.Engine.AssetHash),
		local.WithHTTPClient(&http.Client{Timeout: timeout}),
	}
	if cfg.Engine.KeystoreDir != "" {
		opts = append(opts, local.WithKeyStore(local.DirKeyStore{Dir: cfg.Engine.KeystoreDir}))
	}
	if cfg.Engine.HardwareDir != "" {
		hw, err := local.NewSoftHardware(cfg.Engine.HardwareDir)
		if err != nil {
			return nil, models.NewError(models.ErrFileOp, "", err)
		}
		opts = append(opts, local.WithHardware(hw))
	}

	return &App{Config: cfg, Engine: local.New(opts...), Log: log}, nil
}

// Close reports builders that were never disposed
func (a *App) Close() error {
	if n := a.Engine.Live(); n > 0 {
		a.Log.WithField("builders", n).Warn("Engine still holds undisposed builders")
	}
	return nil
}

// Definition loads the manifest definition file, JSON or YAML, and applies
// the title and claim generator overrides.
func (a *App) Definition() (models.ManifestDefinition, error) {
	mc := a.Config.Manifest
	var def models.ManifestDefinition

	if mc.DefinitionPath != "" {
		data, err := os.ReadFile(mc.DefinitionPath)
		if err != nil {
			return def, models.NewError(models.ErrFileOp, "", fmt.Errorf("read manifest definition: %w", err))
		}
		switch strings.ToLower(filepath.Ext(mc.DefinitionPath)) {
		case ".yaml", ".yml":
			err = decodeYAMLDefinition(data, &def)
		default:
			err = json.Unmarshal(data, &def)
		}
		if err != nil {
			return def, models.NewError(models.ErrInvalidConfig, "", fmt.Errorf("parse manifest definition %s: %w", mc.DefinitionPath, err))
		}
	}

	if mc.Title != "" {
		def = def.WithTitle(mc.Title)
	}
	if mc.ClaimGenerator != "" {
		def.ClaimGenerator = mc.ClaimGenerator
	}
	if mc.SourceType != "" && def.SourceType == "" {
		def.SourceType = models.DigitalSourceType(mc.SourceType)
	}
	if err := def.Validate(); err != nil {
		return def, models.NewError(models.ErrInvalidConfig, "", err)
	}
	return def, nil
}

// decodeYAMLDefinition goes through a generic document so assertion data
// keeps arbitrary shape before it is re-encoded as JSON.
func decodeYAMLDefinition(data []byte, def *models.ManifestDefinition) error {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, def)
}

// Signer builds the configured signer
func (a *App) Signer() (signer.Signer, error) {
	return signer.FromConfig(&a.Config.Signer)
}

// newBuilder creates a builder and queues the configured mutators
func (a *App) newBuilder(ctx context.Context, def models.ManifestDefinition, title string) (*builder.Builder, error) {
	mc := a.Config.Manifest
	if title != "" && def.Title == "" {
		def = def.WithTitle(title)
	}

	b, err := builder.FromDefinition(ctx, a.Engine, def, builder.WithLogger(a.Log))
	if err != nil {
		return nil, err
	}

	if err := a.applyMutators(b, mc); err != nil {
		_ = b.Dispose(ctx)
		return nil, err
	}
	return b, nil
}

func (a *App) applyMutators(b *builder.Builder, mc models.ManifestConfig) error {
	if mc.Intent != "" {
		if err := b.SetIntent(models.Intent(mc.Intent), models.DigitalSourceType(mc.SourceType)); err != nil {
			return err
		}
	}
	for _, action := range mc.Actions {
		if err := b.AddAction(action); err != nil {
			return err
		}
	}
	if mc.NoEmbed {
		if err := b.SetNoEmbed(); err != nil {
			return err
		}
	}
	if mc.RemoteManifestURL != "" {
		if err := b.SetRemoteURL(mc.RemoteManifestURL); err != nil {
			return err
		}
	}
	return nil
}

// Probe reports whether the engine can sign with hardware-backed keys
func (a *App) Probe(ctx context.Context) bool {
	return signer.HardwareAvailable(ctx, a.Engine)
}

// SignAll signs every asset with at most Config.Workers in flight. All
// assets are attempted; the first error is returned.
func (a *App) SignAll(ctx context.Context, assets []string, s signer.Signer) ([]AssetResult, error) {
	def, err := a.Definition()
	if err != nil {
		return nil, err
	}

	workers := a.Config.Workers
	if workers <= 0 {
		workers = 1
	}

	results := make([]AssetResult, len(assets))
	g := new(errgroup.Group)
	g.SetLimit(workers)
	for i, path := range assets {
		i, path := i, path
		g.Go(func() error {
			res, err := a.SignAsset(ctx, def, path, s)
			if err != nil {
				a.Log.WithError(err).WithField("asset", path).Error("Signing failed")
				results[i] = AssetResult{Input: path, Err: err}
				return fmt.Errorf("%s: %w", path, err)
			}
			results[i] = *res
			return nil
		})
	}
	return results, g.Wait()
}
