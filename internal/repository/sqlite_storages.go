package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/xiaot623/gogo/runhook/internal/domain"
)

// GetStorage retrieves a storage by owner, name and type.
func (s *SQLiteStore) GetStorage(ctx context.Context, ownerID, name string, storageType domain.StorageType) (*domain.Storage, error) {
	var st domain.Storage
	var head sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT storage_id, owner_id, name, type, head_version_id, created_at, updated_at FROM storages WHERE owner_id = ? AND name = ? AND type = ?`,
		ownerID, name, storageType).Scan(&st.StorageID, &st.OwnerID, &st.Name, &st.Type, &head, &st.CreatedAt, &st.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	st.HeadVersionID = head.String
	return &st, nil
}

// GetOrCreateStorage inserts the storage unless one with the same owner,
// name and type exists, and returns the stored row.
func (s *SQLiteStore) GetOrCreateStorage(ctx context.Context, storage *domain.Storage) (*domain.Storage, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO storages (storage_id, owner_id, name, type, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (owner_id, name, type) DO NOTHING`,
		storage.StorageID, storage.OwnerID, storage.Name, storage.Type, storage.CreatedAt, storage.CreatedAt)
	if err != nil {
		return nil, err
	}
	return s.GetStorage(ctx, storage.OwnerID, storage.Name, storage.Type)
}

// UpdateStorageHead points the storage at a version.
func (s *SQLiteStore) UpdateStorageHead(ctx context.Context, storageID, versionID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE storages SET head_version_id = ?, updated_at = ? WHERE storage_id = ?`,
		versionID, at, storageID)
	return err
}

// GetStorageVersion retrieves a version of a storage.
func (s *SQLiteStore) GetStorageVersion(ctx context.Context, storageID, versionID string) (*domain.StorageVersion, error) {
	var v domain.StorageVersion
	var message sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT version_id, storage_id, object_key, size, file_count, message, created_by, created_at FROM storage_versions WHERE storage_id = ? AND version_id = ?`,
		storageID, versionID).Scan(&v.VersionID, &v.StorageID, &v.ObjectKey, &v.Size, &v.FileCount, &message, &v.CreatedBy, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	v.Message = message.String
	return &v, nil
}

// CreateStorageVersion inserts a version if absent.
func (s *SQLiteStore) CreateStorageVersion(ctx context.Context, v *domain.StorageVersion) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO storage_versions (version_id, storage_id, object_key, size, file_count, message, created_by, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (version_id) DO NOTHING`,
		v.VersionID, v.StorageID, v.ObjectKey, v.Size, v.FileCount, nullString(v.Message), v.CreatedBy, v.CreatedAt)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
