package models

import (
	"time"

	"github.com/google/uuid"
)

// ManifestName is the path of the manifest inside an artifact bundle.
const ManifestName = "manifest.json"

// Manifest names the entry point and contents of a job artifact bundle.
// It is written once at build time and immutable afterwards.
type Manifest struct {
	ArtifactID uuid.UUID `json:"artifact_id"`
	EntryPoint string    `json:"entry_point"`
	Units      []Unit    `json:"units"`
	BuiltAt    time.Time `json:"built_at"`
}

// Unit is one source unit packaged into an artifact.
type Unit struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// FindUnit returns the unit with the given name, if present.
func (m *Manifest) FindUnit(name string) (Unit, bool) {
	for _, u := range m.Units {
		if u.Name == name {
			return u, true
		}
	}
	return Unit{}, false
}
