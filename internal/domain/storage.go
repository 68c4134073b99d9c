package domain

import "time"

// Storage is a named, typed container scoped to an owner.
type Storage struct {
	StorageID     string      `json:"storage_id"`
	OwnerID       string      `json:"owner_id"`
	Name          string      `json:"name"`
	Type          StorageType `json:"type"`
	HeadVersionID string      `json:"head_version_id,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// StorageVersion is an immutable content-addressed version of a storage.
type StorageVersion struct {
	VersionID string    `json:"version_id"`
	StorageID string    `json:"storage_id"`
	ObjectKey string    `json:"object_key"`
	Size      int64     `json:"size"`
	FileCount int       `json:"file_count"`
	Message   string    `json:"message,omitempty"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// FileEntry is one file of a manifest, the atomic unit of version hashing.
type FileEntry struct {
	Path string `json:"path"`
	Hash string `json:"hash"`
	Size int64  `json:"size"`
}
