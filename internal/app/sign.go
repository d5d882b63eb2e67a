package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ralt/provsign/internal/engine/local"
	"github.com/ralt/provsign/internal/models"
	"github.com/ralt/provsign/internal/scanner"
	"github.com/ralt/provsign/internal/signer"
	"github.com/ralt/provsign/internal/utils"
	"github.com/sirupsen/logrus"
)

// AssetResult describes the outcome for one asset
type AssetResult struct {
	Input        string
	Output       string
	Sidecar      string
	MediaType    string
	ManifestSize int
	Err          error
}

// SignAsset signs one file and writes the result under Config.OutputDir.
// The builder is disposed before returning, on success or failure.
func (a *App) SignAsset(ctx context.Context, def models.ManifestDefinition, path string, s signer.Signer) (res *AssetResult, err error) {
	mediaType, err := scanner.DetectMediaType(path)
	if err != nil {
		return nil, models.NewError(models.ErrFileOp, "", fmt.Errorf("detect media type: %w", err))
	}
	if mediaType == scanner.TypeUnknown {
		return nil, models.NewError(models.ErrInvalidConfig, "", fmt.Errorf("%s: unsupported media type", path))
	}

	source, err := os.ReadFile(path)
	if err != nil {
		return nil, models.NewError(models.ErrFileOp, "", fmt.Errorf("read asset: %w", err))
	}

	b, err := a.newBuilder(ctx, def, filepath.Base(path))
	if err != nil {
		return nil, err
	}
	defer func() {
		if derr := b.Dispose(ctx); derr != nil && err == nil {
			err = derr
			res = nil
		}
	}()

	signed, err := b.Sign(ctx, source, mediaType.MIME(), s)
	if err != nil {
		return nil, err
	}

	res = &AssetResult{
		Input:        path,
		Output:       utils.OutputPath(a.Config.InputDir, a.Config.OutputDir, path),
		MediaType:    mediaType.MIME(),
		ManifestSize: signed.ManifestSize,
	}
	if err := utils.WriteFile(res.Output, signed.SignedData, 0644); err != nil {
		return nil, models.NewError(models.ErrFileOp, "", fmt.Errorf("write signed asset: %w", err))
	}
	if a.Config.Manifest.NoEmbed && len(signed.ManifestBytes) > 0 {
		res.Sidecar = res.Output + SidecarSuffix
		if err := utils.WriteFile(res.Sidecar, signed.ManifestBytes, 0644); err != nil {
			return nil, models.NewError(models.ErrFileOp, "", fmt.Errorf("write manifest sidecar: %w", err))
		}
	}

	a.Log.WithFields(logrus.Fields{
		"asset":         path,
		"output":        res.Output,
		"media_type":    res.MediaType,
		"manifest_size": res.ManifestSize,
	}).Info("Asset signed")
	return res, nil
}

// Verification is the outcome of checking one signed asset
type Verification struct {
	Path   string
	Claim  local.Claim
	Signer string
}

// Verify checks the manifest of a signed asset. Assets signed without
// embedding are checked against their sidecar.
func (a *App) Verify(path string) (*Verification, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, models.NewError(models.ErrFileOp, "", fmt.Errorf("read asset: %w", err))
	}

	asset, store, err := local.Extract(data)
	if errors.Is(err, local.ErrNoManifest) {
		store, err = os.ReadFile(path + SidecarSuffix)
		if err != nil {
			return nil, models.NewError(models.ErrFileOp, "", fmt.Errorf("%s has no embedded manifest and no sidecar: %w", path, err))
		}
		asset = data
	} else if err != nil {
		return nil, models.NewError(models.ErrInvalidConfig, "", err)
	}

	verified, err := local.Verify(asset, store)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &Verification{
		Path:   path,
		Claim:  verified.Claim,
		Signer: verified.Leaf.Subject.String(),
	}, nil
}
