package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xiaot623/gogo/runhook/internal/domain"
	"github.com/xiaot623/gogo/runhook/internal/version"
)

const (
	contentTypeArchive  = "application/gzip"
	contentTypeManifest = "application/json"
)

// PrepareStorage resolves the version id of a file set and returns an
// upload plan unless identical content is already stored.
func (s *Service) PrepareStorage(ctx context.Context, ownerID string, req *domain.PrepareStorageRequest) (*domain.PrepareStorageResponse, error) {
	ctx, span := s.tel.Tracer.Start(ctx, "runhook.storage.prepare",
		trace.WithAttributes(attribute.String("storage.name", req.StorageName), attribute.String("storage.type", string(req.StorageType))))
	defer span.End()

	name, err := validateStorageRef(ownerID, req.StorageName, req.StorageType)
	if err != nil {
		return nil, err
	}
	if err := validateFiles(req.Files); err != nil {
		return nil, err
	}
	if s.objects == nil {
		return nil, domain.NewDependencyError("object store is not configured", nil)
	}

	storage, err := s.store.GetOrCreateStorage(ctx, &domain.Storage{
		StorageID: "sto_" + uuid.New().String(),
		OwnerID:   ownerID,
		Name:      name,
		Type:      req.StorageType,
		CreatedAt: s.now(),
	})
	if err != nil {
		return nil, domain.NewDependencyError("failed to load storage", err)
	}

	files := req.Files
	if req.BaseVersion != "" && req.Changes != nil {
		base, err := s.loadManifest(ctx, storage, req.BaseVersion)
		if err != nil {
			// The submitted list is treated as the complete file set.
			s.logger.Warn("incremental prepare fell back to full upload",
				"storage_id", storage.StorageID, "base_version", req.BaseVersion, "err", err)
			s.tel.IncrementalFallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("storage.type", string(storage.Type))))
		} else {
			files = version.MergeIncremental(base, req.Files, pathSet(req.Changes.Deleted))
		}
	}

	versionID := version.ComputeVersionID(storage.StorageID, files)
	span.SetAttributes(attribute.String("storage.version_id", versionID))

	if !req.Force {
		existing, err := s.versionStored(ctx, storage, versionID)
		if err != nil {
			return nil, err
		}
		if existing {
			s.logger.Debug("storage version deduplicated", "storage_id", storage.StorageID, "version_id", versionID)
			return &domain.PrepareStorageResponse{VersionID: versionID, Existing: true}, nil
		}
	}

	archiveKey := version.ObjectKey(ownerID, storage.Type, storage.Name, versionID, version.ArchiveBlob)
	manifestKey := version.ObjectKey(ownerID, storage.Type, storage.Name, versionID, version.ManifestBlob)
	archiveURL, err := s.objects.PresignPut(ctx, archiveKey, contentTypeArchive)
	if err != nil {
		return nil, domain.NewDependencyError("failed to presign archive upload", err)
	}
	manifestURL, err := s.objects.PresignPut(ctx, manifestKey, contentTypeManifest)
	if err != nil {
		return nil, domain.NewDependencyError("failed to presign manifest upload", err)
	}

	return &domain.PrepareStorageResponse{
		VersionID: versionID,
		Existing:  false,
		Uploads: &domain.UploadPlan{
			Archive:  domain.UploadTarget{Key: archiveKey, PresignedURL: archiveURL},
			Manifest: domain.UploadTarget{Key: manifestKey, PresignedURL: manifestURL},
		},
	}, nil
}

// CommitStorage records an uploaded version and moves the storage HEAD to it.
func (s *Service) CommitStorage(ctx context.Context, ownerID string, req *domain.CommitStorageRequest) (*domain.CommitStorageResponse, error) {
	name, err := validateStorageRef(ownerID, req.StorageName, req.StorageType)
	if err != nil {
		return nil, err
	}
	if err := validateFiles(req.Files); err != nil {
		return nil, err
	}
	if req.VersionID == "" {
		return nil, domain.NewValidationError("versionId is required")
	}
	if s.objects == nil {
		return nil, domain.NewDependencyError("object store is not configured", nil)
	}

	storage, err := s.store.GetStorage(ctx, ownerID, name, req.StorageType)
	if err != nil {
		return nil, domain.NewDependencyError("failed to load storage", err)
	}
	if storage == nil {
		return nil, domain.NewNotFoundError("storage %s/%s not found", req.StorageType, name)
	}

	existing, err := s.store.GetStorageVersion(ctx, storage.StorageID, req.VersionID)
	if err != nil {
		return nil, domain.NewDependencyError("failed to load storage version", err)
	}
	if existing == nil {
		files, err := s.committedFiles(ctx, storage, req)
		if err != nil {
			return nil, err
		}
		size, count := version.Totals(files)
		createdBy := ownerID
		if req.RunID != "" {
			createdBy = req.RunID
		}
		if _, err := s.store.CreateStorageVersion(ctx, &domain.StorageVersion{
			VersionID: req.VersionID,
			StorageID: storage.StorageID,
			ObjectKey: version.Prefix(ownerID, storage.Type, storage.Name, req.VersionID),
			Size:      size,
			FileCount: count,
			Message:   req.Message,
			CreatedBy: createdBy,
			CreatedAt: s.now(),
		}); err != nil {
			return nil, domain.NewDependencyError("failed to store storage version", err)
		}
	}

	if err := s.store.UpdateStorageHead(ctx, storage.StorageID, req.VersionID, s.now()); err != nil {
		return nil, domain.NewDependencyError("failed to update storage head", err)
	}
	s.logger.Info("storage committed", "storage_id", storage.StorageID, "version_id", req.VersionID, "run_id", req.RunID)

	return &domain.CommitStorageResponse{Success: true, VersionID: req.VersionID, StorageName: storage.Name}, nil
}

// GetStorage returns a storage and its HEAD version.
func (s *Service) GetStorage(ctx context.Context, ownerID, name string, storageType domain.StorageType) (*domain.StorageResponse, error) {
	name, err := validateStorageRef(ownerID, name, storageType)
	if err != nil {
		return nil, err
	}
	storage, err := s.store.GetStorage(ctx, ownerID, name, storageType)
	if err != nil {
		return nil, domain.NewDependencyError("failed to load storage", err)
	}
	if storage == nil {
		return nil, domain.NewNotFoundError("storage %s/%s not found", storageType, name)
	}
	resp := &domain.StorageResponse{Storage: storage}
	if storage.HeadVersionID != "" {
		head, err := s.store.GetStorageVersion(ctx, storage.StorageID, storage.HeadVersionID)
		if err != nil {
			return nil, domain.NewDependencyError("failed to load head version", err)
		}
		resp.Head = head
	}
	return resp, nil
}

// committedFiles returns the file set of an uploaded but unrecorded
// version, checked against its id.
func (s *Service) committedFiles(ctx context.Context, storage *domain.Storage, req *domain.CommitStorageRequest) ([]domain.FileEntry, error) {
	stored, err := s.blobsStored(ctx, storage, req.VersionID)
	if err != nil {
		return nil, err
	}
	if !stored {
		return nil, domain.NewValidationError("version %s has not been uploaded", req.VersionID)
	}

	if len(req.Files) > 0 && version.ComputeVersionID(storage.StorageID, req.Files) == req.VersionID {
		return version.Normalize(req.Files), nil
	}
	// Incremental uploads only carry the changed files; the manifest holds
	// the full set.
	data, err := s.objects.Get(ctx, version.ObjectKey(storage.OwnerID, storage.Type, storage.Name, req.VersionID, version.ManifestBlob))
	if err != nil {
		return nil, domain.NewDependencyError("failed to read manifest", err)
	}
	manifest, err := version.DecodeManifest(data)
	if err != nil {
		return nil, domain.NewValidationError("invalid manifest: %v", err)
	}
	if version.ComputeVersionID(storage.StorageID, manifest.Files) != req.VersionID {
		return nil, domain.NewValidationError("manifest does not match version %s", req.VersionID)
	}
	return version.Normalize(manifest.Files), nil
}

// loadManifest reads the file list of a recorded version.
func (s *Service) loadManifest(ctx context.Context, storage *domain.Storage, versionID string) ([]domain.FileEntry, error) {
	v, err := s.store.GetStorageVersion(ctx, storage.StorageID, versionID)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, fmt.Errorf("base version %s not found", versionID)
	}
	data, err := s.objects.Get(ctx, version.ObjectKey(storage.OwnerID, storage.Type, storage.Name, versionID, version.ManifestBlob))
	if err != nil {
		return nil, err
	}
	manifest, err := version.DecodeManifest(data)
	if err != nil {
		return nil, err
	}
	return manifest.Files, nil
}

// versionStored reports whether the version is recorded and both of its
// blobs are present. A recorded version with missing blobs is treated as
// absent so it gets uploaded again.
func (s *Service) versionStored(ctx context.Context, storage *domain.Storage, versionID string) (bool, error) {
	v, err := s.store.GetStorageVersion(ctx, storage.StorageID, versionID)
	if err != nil {
		return false, domain.NewDependencyError("failed to load storage version", err)
	}
	if v == nil {
		return false, nil
	}
	return s.blobsStored(ctx, storage, versionID)
}

func (s *Service) blobsStored(ctx context.Context, storage *domain.Storage, versionID string) (bool, error) {
	for _, blob := range []string{version.ArchiveBlob, version.ManifestBlob} {
		ok, err := s.objects.Exists(ctx, version.ObjectKey(storage.OwnerID, storage.Type, storage.Name, versionID, blob))
		if err != nil {
			return false, domain.NewDependencyError("failed to check object store", err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// validateStorageRef checks every segment that ends up in an object key.
func validateStorageRef(ownerID, name string, storageType domain.StorageType) (string, error) {
	if !validKeySegment(ownerID) {
		return "", domain.NewValidationError("invalid owner id")
	}
	if !storageType.Valid() {
		return "", domain.NewValidationError("storageType must be %q or %q", domain.StorageTypeVolume, domain.StorageTypeArtifact)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", domain.NewValidationError("storageName is required")
	}
	if !validKeySegment(name) {
		return "", domain.NewValidationError("storageName must not contain path separators")
	}
	return name, nil
}

func validKeySegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.Contains(s, "/")
}

// validateFiles rejects paths that would not survive the JSON encoding the
// version id is computed from.
func validateFiles(files []domain.FileEntry) error {
	for i, f := range files {
		if strings.TrimSpace(f.Path) == "" {
			return domain.NewValidationError("files[%d].path is required", i)
		}
		if !utf8.ValidString(f.Path) {
			return domain.NewValidationError("files[%d].path must be valid UTF-8", i)
		}
	}
	return nil
}

func pathSet(paths []string) map[string]struct{} {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}
	return set
}
