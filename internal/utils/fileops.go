package utils

import (
	"os"
	"path/filepath"
	"strings"
)

// WriteFile writes data to a file, creating directories as needed
func WriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	// Written through a sibling temp file and renamed into place
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), perm); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// OutputPath maps an input asset to its location under outputDir,
// keeping the path relative to inputDir when the asset lives there.
func OutputPath(inputDir, outputDir, asset string) string {
	rel := filepath.Base(asset)
	if inputDir != "" {
		if r, err := filepath.Rel(inputDir, asset); err == nil && !strings.HasPrefix(r, "..") {
			rel = r
		}
	}
	return filepath.Join(outputDir, rel)
}
