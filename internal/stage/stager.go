// Package stage copies job artifacts and datasets into the shared data
// volume before submission. The volume has no locking discipline: staging
// is idempotent and last-write-wins, matching the dataset model.
package stage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrStaging covers unwritable destinations and missing sources.
var ErrStaging = errors.New("staging failed")

// ArtifactDir is the sub-directory of the volume root that holds staged
// bundles.
const ArtifactDir = "artifacts"

const (
	maxRetries      = 3
	initialInterval = 200 * time.Millisecond
)

// Result reports where the artifact and datasets landed inside the volume.
type Result struct {
	ArtifactPath string
	DatasetPaths []string
}

// Stage copies the artifact bundle and every dataset path into destRoot,
// preserving relative structure. Transient I/O failures are retried a
// bounded number of times with exponential backoff; missing sources fail
// immediately. Re-staging overwrites prior copies.
func Stage(ctx context.Context, artifactPath string, datasetPaths []string, destRoot string) (*Result, error) {
	if destRoot == "" {
		return nil, fmt.Errorf("%w: empty destination root", ErrStaging)
	}
	if err := os.MkdirAll(destRoot, 0o755); err != nil {
		return nil, fmt.Errorf("%w: destination not writable: %v", ErrStaging, err)
	}

	res := &Result{}

	if artifactPath != "" {
		dest := filepath.Join(destRoot, ArtifactDir, filepath.Base(artifactPath))
		if err := copyWithRetry(ctx, artifactPath, dest); err != nil {
			return nil, err
		}
		res.ArtifactPath = dest
	}

	for _, src := range datasetPaths {
		dest := filepath.Join(destRoot, relativize(src))
		if err := copyTree(ctx, src, dest); err != nil {
			return nil, err
		}
		res.DatasetPaths = append(res.DatasetPaths, dest)
	}

	return res, nil
}

// relativize maps a source path to its sub-path under the volume root,
// keeping the relative structure identical across every mount.
func relativize(src string) string {
	clean := filepath.Clean(src)
	clean = strings.TrimPrefix(clean, string(filepath.Separator))
	parts := strings.Split(clean, string(filepath.Separator))
	kept := parts[:0]
	for _, p := range parts {
		if p == ".." || p == "." {
			continue
		}
		kept = append(kept, p)
	}
	return filepath.Join(kept...)
}

// copyTree stages a file or a whole directory rooted at src.
func copyTree(ctx context.Context, src, dest string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("%w: source missing: %s", ErrStaging, src)
	}

	if !info.IsDir() {
		return copyWithRetry(ctx, src, dest)
	}

	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("%w: walk %s: %v", ErrStaging, path, err)
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStaging, err)
		}
		return copyWithRetry(ctx, path, filepath.Join(dest, rel))
	})
}

// copyWithRetry copies one file, retrying transient failures. A missing
// source is permanent and surfaces without retry.
func copyWithRetry(ctx context.Context, src, dest string) error {
	op := func() error {
		if _, err := os.Stat(src); err != nil {
			return backoff.Permanent(fmt.Errorf("%w: source missing: %s", ErrStaging, src))
		}
		if err := copyFile(src, dest); err != nil {
			return fmt.Errorf("%w: copy %s: %v", ErrStaging, src, err)
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialInterval
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, maxRetries), ctx))
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	// Write to a unique temp name then rename, so concurrent readers on
	// the shared volume never observe a torn file.
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".stage-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(info.Mode().Perm()); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}
