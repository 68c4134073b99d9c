package service

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/xiaot623/gogo/runhook/internal/domain"
)

// CreateRun records a dispatched run and issues the token its sandbox
// authenticates with.
func (s *Service) CreateRun(ctx context.Context, ownerID string, req *domain.CreateRunRequest) (*domain.CreateRunResponse, error) {
	if ownerID == "" {
		return nil, domain.NewAuthError("owner is required")
	}

	run := &domain.Run{
		RunID:         "run_" + uuid.New().String(),
		OwnerID:       ownerID,
		Status:        domain.RunStatusPending,
		SandboxHandle: req.SandboxHandle,
		StartedAt:     s.now(),
	}
	if len(req.Secrets) > 0 {
		plaintext, err := json.Marshal(req.Secrets)
		if err != nil {
			return nil, domain.NewValidationError("invalid secrets: %v", err)
		}
		if run.Secrets, err = s.secrets.Encrypt(plaintext); err != nil {
			return nil, domain.NewInternalError("failed to encrypt run secrets", err)
		}
	}

	if err := s.store.CreateRun(ctx, run); err != nil {
		return nil, domain.NewDependencyError("failed to create run", err)
	}
	if err := s.recordEvent(ctx, run.RunID, domain.EventTypeRunCreated, map[string]string{"sandbox_handle": run.SandboxHandle}); err != nil {
		s.logger.Warn("failed to record run_created event", "run_id", run.RunID, "err", err)
	}

	token, err := s.tokens.Issue(run.RunID, ownerID)
	if err != nil {
		return nil, domain.NewInternalError("failed to issue sandbox token", err)
	}

	s.logger.Info("run created", "run_id", run.RunID, "owner_id", ownerID)
	return &domain.CreateRunResponse{Run: run, SandboxToken: token}, nil
}

// GetRun returns a run owned by ownerID.
func (s *Service) GetRun(ctx context.Context, ownerID, runID string) (*domain.Run, error) {
	return s.loadOwnedRun(ctx, ownerID, runID)
}

// GetRunEvents returns the event log of a run, signals included.
func (s *Service) GetRunEvents(ctx context.Context, ownerID, runID string, afterTs int64, types []string, limit int) ([]domain.Event, error) {
	if _, err := s.loadOwnedRun(ctx, ownerID, runID); err != nil {
		return nil, err
	}
	events, err := s.store.GetEvents(ctx, runID, afterTs, types, limit)
	if err != nil {
		return nil, domain.NewDependencyError("failed to load events", err)
	}
	if events == nil {
		events = []domain.Event{}
	}
	return events, nil
}

// Heartbeat marks the worker alive. The first heartbeat moves a pending
// run to running; finished runs are left untouched.
func (s *Service) Heartbeat(ctx context.Context, ownerID, runID string) error {
	run, err := s.loadOwnedRun(ctx, ownerID, runID)
	if err != nil {
		return err
	}
	if run.Status.IsTerminal() {
		return nil
	}
	if _, err := s.store.TouchRunHeartbeat(ctx, runID, s.now()); err != nil {
		return domain.NewDependencyError("failed to record heartbeat", err)
	}
	if run.Status == domain.RunStatusPending {
		if err := s.recordEvent(ctx, runID, domain.EventTypeRunStarted, map[string]string{}); err != nil {
			s.logger.Warn("failed to record run_started event", "run_id", runID, "err", err)
		}
	}
	return nil
}
