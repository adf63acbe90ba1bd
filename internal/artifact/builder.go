package artifact

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rahulmehra-dev/convoy/pkg/models"
)

// Sentinel errors for artifact builds. All are fatal and surfaced before
// staging.
var (
	ErrNoSourceUnits      = errors.New("no source units given")
	ErrUnresolvedUnit     = errors.New("source unit not resolvable")
	ErrDuplicateUnit      = errors.New("duplicate source unit name")
	ErrEntryPointNotFound = errors.New("entry point not found in source units")
)

const unitDir = "units"

// Build packages the given source units into a single deployable bundle at
// outPath and returns its manifest. The entry point's unit segment must
// match the base name of one of the source units. The bundle is the only
// side effect; re-building to the same path overwrites.
func Build(entryPoint string, sourceUnits []string, outPath string) (*models.Manifest, error) {
	if entryPoint == "" {
		return nil, fmt.Errorf("%w: empty entry point", ErrEntryPointNotFound)
	}
	if len(sourceUnits) == 0 {
		return nil, ErrNoSourceUnits
	}

	units := make([]models.Unit, 0, len(sourceUnits))
	seen := make(map[string]string)
	for _, src := range sourceUnits {
		info, err := os.Stat(src)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrUnresolvedUnit, src)
		}
		if !info.Mode().IsRegular() {
			return nil, fmt.Errorf("%w: %s is not a regular file", ErrUnresolvedUnit, src)
		}

		name := UnitName(src)
		if prev, ok := seen[name]; ok {
			return nil, fmt.Errorf("%w: %s and %s both map to %q", ErrDuplicateUnit, prev, src, name)
		}
		seen[name] = src

		units = append(units, models.Unit{Name: name, Path: src, Size: info.Size()})
	}

	// Deterministic bundle layout regardless of argument order.
	sort.Slice(units, func(i, j int) bool { return units[i].Name < units[j].Name })

	entryUnit, _ := SplitEntryPoint(entryPoint)
	if _, ok := seen[entryUnit]; !ok {
		return nil, fmt.Errorf("%w: %q (unit %q)", ErrEntryPointNotFound, entryPoint, entryUnit)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	out, err := os.Create(outPath)
	if err != nil {
		return nil, fmt.Errorf("create bundle: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)

	for i := range units {
		sum, err := addUnit(zw, &units[i])
		if err != nil {
			return nil, err
		}
		units[i].SHA256 = sum
	}

	manifest := &models.Manifest{
		ArtifactID: uuid.New(),
		EntryPoint: entryPoint,
		Units:      units,
		BuiltAt:    time.Now().UTC(),
	}

	mw, err := zw.Create(models.ManifestName)
	if err != nil {
		return nil, fmt.Errorf("create manifest entry: %w", err)
	}
	enc := json.NewEncoder(mw)
	enc.SetIndent("", "  ")
	if err := enc.Encode(manifest); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize bundle: %w", err)
	}
	return manifest, nil
}

func addUnit(zw *zip.Writer, unit *models.Unit) (string, error) {
	f, err := os.Open(unit.Path)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrUnresolvedUnit, unit.Path)
	}
	defer f.Close()

	w, err := zw.Create(unitDir + "/" + unit.Name)
	if err != nil {
		return "", fmt.Errorf("create bundle entry %s: %w", unit.Name, err)
	}

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(w, h), f); err != nil {
		return "", fmt.Errorf("copy unit %s: %w", unit.Name, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// UnitName derives a unit name from a source file path: the base name
// without extension.
func UnitName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// SplitEntryPoint splits "unit.symbol" into its unit and symbol parts.
// A bare "unit" has an empty symbol.
func SplitEntryPoint(entryPoint string) (unit, symbol string) {
	if i := strings.Index(entryPoint, "."); i >= 0 {
		return entryPoint[:i], entryPoint[i+1:]
	}
	return entryPoint, ""
}
