package artifact

import (
	"archive/zip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rahulmehra-dev/convoy/pkg/models"
)

// Sentinel errors for reading bundles on the worker side.
var (
	ErrBundleNotFound = errors.New("artifact bundle not found")
	ErrManifestBroken = errors.New("artifact manifest missing or unreadable")
	ErrUnitMissing    = errors.New("unit missing from bundle")
)

// ReadManifest opens a bundle and returns its manifest without extracting
// any units.
func ReadManifest(bundlePath string) (*models.Manifest, error) {
	zr, err := zip.OpenReader(bundlePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrBundleNotFound, bundlePath)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrManifestBroken, bundlePath, err)
	}
	defer zr.Close()

	return manifestFrom(&zr.Reader)
}

// Extract writes the named unit from the bundle into destDir and returns
// the extracted path. The file is written executable so process executors
// can invoke it directly.
func Extract(bundlePath, unitName, destDir string) (string, error) {
	zr, err := zip.OpenReader(bundlePath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrBundleNotFound, bundlePath)
		}
		return "", fmt.Errorf("open bundle %s: %w", bundlePath, err)
	}
	defer zr.Close()

	want := unitDir + "/" + unitName
	for _, f := range zr.File {
		if f.Name != want {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("open unit %s: %w", unitName, err)
		}
		defer rc.Close()

		if err := os.MkdirAll(destDir, 0o755); err != nil {
			return "", fmt.Errorf("create extract dir: %w", err)
		}
		dest := filepath.Join(destDir, unitName)
		out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o755)
		if err != nil {
			return "", fmt.Errorf("create %s: %w", dest, err)
		}
		defer out.Close()

		if _, err := io.Copy(out, rc); err != nil {
			return "", fmt.Errorf("extract unit %s: %w", unitName, err)
		}
		return dest, nil
	}

	return "", fmt.Errorf("%w: %q in %s", ErrUnitMissing, unitName, bundlePath)
}

func manifestFrom(zr *zip.Reader) (*models.Manifest, error) {
	for _, f := range zr.File {
		if f.Name != models.ManifestName {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrManifestBroken, err)
		}
		defer rc.Close()

		var m models.Manifest
		if err := json.NewDecoder(rc).Decode(&m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrManifestBroken, err)
		}
		return &m, nil
	}
	return nil, ErrManifestBroken
}
