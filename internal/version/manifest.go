package version

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xiaot623/gogo/runhook/internal/domain"
)

// ManifestFormat is the only manifest layout understood.
const ManifestFormat = 1

// Manifest is the JSON document uploaded next to each version archive.
type Manifest struct {
	Version   int                `json:"version"`
	Files     []domain.FileEntry `json:"files"`
	CreatedAt string             `json:"createdAt"`
}

// NewManifest builds a manifest for files stamped with now.
func NewManifest(files []domain.FileEntry, now time.Time) Manifest {
	return Manifest{
		Version:   ManifestFormat,
		Files:     Normalize(files),
		CreatedAt: now.UTC().Format(time.RFC3339),
	}
}

// DecodeManifest parses a manifest blob.
func DecodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	if m.Version != ManifestFormat {
		return nil, fmt.Errorf("unsupported manifest version %d", m.Version)
	}
	return &m, nil
}
