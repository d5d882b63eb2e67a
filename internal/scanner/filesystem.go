package scanner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// FileSystemScanner implements Scanner interface for filesystem scanning
type FileSystemScanner struct {
	// SkipSuffixes are file name suffixes ignored while walking, such as
	// sidecar manifests written next to assets
	SkipSuffixes []string
}

// NewFileSystemScanner creates a new filesystem scanner
func NewFileSystemScanner(skip ...string) *FileSystemScanner {
	return &FileSystemScanner{SkipSuffixes: skip}
}

// Scan recursively scans a directory for media assets
func (s *FileSystemScanner) Scan(ctx context.Context, dir string) ([]ScannedAsset, error) {
	var assets []ScannedAsset

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if info.IsDir() {
			return nil
		}
		for _, suffix := range s.SkipSuffixes {
			if strings.HasSuffix(path, suffix) {
				return nil
			}
		}

		mediaType, err := s.DetectType(path)
		if err != nil {
			logrus.Warnf("Failed to detect type for %s: %v", path, err)
			return nil
		}

		if mediaType == TypeUnknown {
			return nil
		}

		logrus.Debugf("Found %s asset: %s", mediaType, path)

		assets = append(assets, ScannedAsset{
			Path: path,
			Type: mediaType,
			Size: info.Size(),
		})

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to scan directory: %w", err)
	}

	logrus.Infof("Found %d assets in %s", len(assets), dir)
	return assets, nil
}

// DetectType determines the media type of a file
func (s *FileSystemScanner) DetectType(path string) (MediaType, error) {
	return DetectMediaType(path)
}
