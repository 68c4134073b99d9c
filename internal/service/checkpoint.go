package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/xiaot623/gogo/runhook/internal/domain"
	"github.com/xiaot623/gogo/runhook/internal/repository"
)

// CreateCheckpoint stores the snapshot a worker takes before exiting
// successfully. A run has at most one checkpoint.
func (s *Service) CreateCheckpoint(ctx context.Context, ownerID string, req *domain.CheckpointRequest) (*domain.CheckpointResponse, error) {
	if strings.TrimSpace(req.SessionID) == "" {
		return nil, domain.NewValidationError("sessionId is required")
	}
	if req.ArtifactSnapshot == nil || req.ArtifactSnapshot.VersionID == "" {
		return nil, domain.NewValidationError("artifactSnapshot.versionId is required")
	}

	run, err := s.loadOwnedRun(ctx, ownerID, req.RunID)
	if err != nil {
		return nil, err
	}
	if run.Status.IsTerminal() {
		return nil, domain.NewConflictError("run %s already finished", run.RunID)
	}

	cp := &domain.Checkpoint{
		CheckpointID:     "ckpt_" + uuid.New().String(),
		RunID:            run.RunID,
		SessionID:        req.SessionID,
		ArtifactSnapshot: *req.ArtifactSnapshot,
		VolumeVersions:   req.VolumeVersions,
		CreatedAt:        s.now(),
	}
	if err := s.store.CreateCheckpoint(ctx, cp); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, domain.NewConflictError("run %s already has a checkpoint", run.RunID)
		}
		return nil, domain.NewDependencyError("failed to store checkpoint", err)
	}

	if err := s.recordEvent(ctx, run.RunID, domain.EventTypeCheckpoint, map[string]string{
		"checkpoint_id": cp.CheckpointID,
		"version_id":    cp.ArtifactSnapshot.VersionID,
	}); err != nil {
		s.logger.Warn("failed to record checkpoint event", "run_id", run.RunID, "err", err)
	}
	return &domain.CheckpointResponse{CheckpointID: cp.CheckpointID}, nil
}
