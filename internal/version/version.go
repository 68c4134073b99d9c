// Package version derives content-addressed storage version ids from file
// manifests and merges incremental change sets against a base manifest.
package version

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"path"
	"sort"

	"github.com/xiaot623/gogo/runhook/internal/domain"
)

const (
	ArchiveBlob  = "archive.tar.gz"
	ManifestBlob = "manifest.json"
)

// Normalize resolves duplicate paths last-write-wins and sorts by path.
// The result is never nil.
func Normalize(files []domain.FileEntry) []domain.FileEntry {
	latest := make(map[string]domain.FileEntry, len(files))
	for _, f := range files {
		latest[f.Path] = f
	}
	out := make([]domain.FileEntry, 0, len(latest))
	for _, f := range latest {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// ComputeVersionID hashes storageID followed by the canonical JSON of the
// normalized file list. The same file set always yields the same id,
// whatever order it was submitted in.
func ComputeVersionID(storageID string, files []domain.FileEntry) string {
	normalized := Normalize(files)
	// Marshalling a slice of flat structs cannot fail.
	encoded, _ := json.Marshal(normalized)

	h := sha256.New()
	h.Write([]byte(storageID))
	h.Write(encoded)
	return hex.EncodeToString(h.Sum(nil))
}

// MergeIncremental applies current and deleted on top of base. Entries of
// base whose path is deleted or overridden by current are dropped, then
// current is appended.
func MergeIncremental(base, current []domain.FileEntry, deleted map[string]struct{}) []domain.FileEntry {
	overridden := make(map[string]struct{}, len(current))
	for _, f := range current {
		overridden[f.Path] = struct{}{}
	}

	merged := make([]domain.FileEntry, 0, len(base)+len(current))
	for _, f := range base {
		if _, ok := deleted[f.Path]; ok {
			continue
		}
		if _, ok := overridden[f.Path]; ok {
			continue
		}
		merged = append(merged, f)
	}
	return append(merged, current...)
}

// Totals returns the summed size and count of a normalized file set.
func Totals(files []domain.FileEntry) (size int64, count int) {
	for _, f := range files {
		size += f.Size
	}
	return size, len(files)
}

// Prefix is the object-store prefix holding one version's blobs.
func Prefix(ownerID string, storageType domain.StorageType, name, versionID string) string {
	return path.Join(ownerID, string(storageType), name, versionID)
}

// ObjectKey is the object-store key of one blob of a version.
func ObjectKey(ownerID string, storageType domain.StorageType, name, versionID, blob string) string {
	return path.Join(Prefix(ownerID, storageType, name, versionID), blob)
}
