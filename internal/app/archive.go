package app

import (
	"context"
	"fmt"

	"github.com/ralt/provsign/internal/models"
	"github.com/ralt/provsign/internal/signer"
	"github.com/ralt/provsign/internal/utils"
	"github.com/sirupsen/logrus"
)

// ArchiveResult lists the files Archive wrote
type ArchiveResult struct {
	Archive   string
	Signature string
	PublicKey string
}

// Archive exports the configured manifest as an unsigned archive at path.
// With a GPG key configured, an armored detached signature is written
// next to it as <path>.asc and the public key as <path>.pub.asc.
func (a *App) Archive(ctx context.Context, path string) (res *ArchiveResult, err error) {
	def, err := a.Definition()
	if err != nil {
		return nil, err
	}

	b, err := a.newBuilder(ctx, def, "")
	if err != nil {
		return nil, err
	}
	defer func() {
		if derr := b.Dispose(ctx); derr != nil && err == nil {
			err = derr
			res = nil
		}
	}()

	archive, err := b.ToArchive(ctx)
	if err != nil {
		return nil, err
	}
	if err := utils.WriteFile(path, archive, 0644); err != nil {
		return nil, models.NewError(models.ErrFileOp, "", fmt.Errorf("write archive: %w", err))
	}
	res = &ArchiveResult{Archive: path}

	if a.Config.GPGKeyPath != "" {
		attestor, err := signer.NewArchiveAttestor(a.Config.GPGKeyPath, a.Config.GPGPassphrase)
		if err != nil {
			return nil, models.NewError(models.ErrSignerUnavailable, "", fmt.Errorf("failed to initialize GPG signer: %w", err))
		}
		sig, err := attestor.SignDetached(archive)
		if err != nil {
			return nil, models.NewError(models.ErrSignerUnavailable, "", err)
		}
		pub, err := attestor.PublicKey()
		if err != nil {
			return nil, models.NewError(models.ErrSignerUnavailable, "", err)
		}

		res.Signature = path + ".asc"
		res.PublicKey = path + ".pub.asc"
		if err := utils.WriteFile(res.Signature, sig, 0644); err != nil {
			return nil, models.NewError(models.ErrFileOp, "", err)
		}
		if err := utils.WriteFile(res.PublicKey, pub, 0644); err != nil {
			return nil, models.NewError(models.ErrFileOp, "", err)
		}
	}

	a.Log.WithFields(logrus.Fields{
		"archive": path,
		"size":    len(archive),
		"signed":  res.Signature != "",
	}).Info("Manifest archived")
	return res, nil
}
