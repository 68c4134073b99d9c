package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xiaot623/gogo/runhook/internal/domain"
)

const defaultTeardownTimeout = 30 * time.Second

// outcome is the terminal decision for a run.
type outcome struct {
	status domain.RunStatus
	errMsg string
	result *domain.ResultSignal
	// err is returned to the caller after the failure has been persisted.
	err error
}

// Complete finalizes a run after its worker exited. Completing an already
// terminal run returns the stored status without side effects.
func (s *Service) Complete(ctx context.Context, req *domain.CompleteRequest) (res *domain.CompleteResult, err error) {
	ctx, span := s.tel.Tracer.Start(ctx, "runhook.complete",
		trace.WithAttributes(attribute.String("run.id", req.RunID)))
	defer span.End()

	if req.ExitCode == nil {
		return nil, domain.NewValidationError("exitCode is required")
	}
	run, err := s.loadOwnedRun(ctx, req.OwnerID, req.RunID)
	if err != nil {
		return nil, err
	}
	if run.Status.IsTerminal() {
		return &domain.CompleteResult{Success: true, Status: run.Status}, nil
	}

	var (
		out        outcome
		written    bool
		dispatched bool
	)
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		cause := fmt.Errorf("panic while completing run: %v", r)
		span.SetStatus(codes.Error, cause.Error())
		s.abort(ctx, run, cause)
		// A stored terminal status short-circuits every retry, so this is the
		// only chance to notify the registrations.
		if written && !dispatched {
			s.guard(run.RunID, "callback dispatch", func() { s.dispatch(ctx, run.RunID, out) })
		}
		res, err = nil, domain.NewInternalError("failed to complete run", cause)
	}()

	out = s.decide(ctx, run, *req.ExitCode, req.Error)
	span.SetAttributes(attribute.String("run.status", string(out.status)))

	won, err := s.store.UpdateRunTerminal(ctx, run.RunID, out.status, out.errMsg, s.now())
	if err != nil {
		s.abort(ctx, run, err)
		span.SetStatus(codes.Error, err.Error())
		return nil, domain.NewInternalError("failed to persist run status", err)
	}
	if !won {
		// Another completion got there first.
		current, err := s.store.GetRun(ctx, run.RunID)
		if err != nil || current == nil {
			return nil, domain.NewDependencyError("failed to reload run", err)
		}
		return &domain.CompleteResult{Success: true, Status: current.Status}, nil
	}
	written = true

	if out.result != nil {
		s.emitSignal(ctx, run.RunID, domain.EventTypeSignalResult, out.result)
		_ = s.recordEvent(ctx, run.RunID, domain.EventTypeRunCompleted, map[string]string{"checkpoint_id": out.result.CheckpointID})
	} else {
		s.emitSignal(ctx, run.RunID, domain.EventTypeSignalError, domain.ErrorSignal{Message: out.errMsg, ExitCode: *req.ExitCode})
		_ = s.recordEvent(ctx, run.RunID, domain.EventTypeRunFailed, map[string]string{"error": out.errMsg})
	}

	s.teardown(ctx, run)

	dispatched = true
	s.dispatch(ctx, run.RunID, out)

	s.logger.Info("run finalized", "run_id", run.RunID, "status", out.status)
	if out.err != nil {
		span.SetStatus(codes.Error, out.err.Error())
		return nil, out.err
	}
	return &domain.CompleteResult{Success: true, Status: out.status}, nil
}

// dispatch notifies the run's registrations, awaiting them unless detached.
func (s *Service) dispatch(ctx context.Context, runID string, out outcome) {
	if s.config.CallbackDetach {
		// Results land on the registrations.
		s.DispatchAll(context.WithoutCancel(ctx), runID, out.status, out.errMsg, out.result)
		return
	}
	s.DispatchAll(ctx, runID, out.status, out.errMsg, out.result).Wait()
}

// decide maps the exit code and checkpoint to a terminal outcome. A zero
// exit only counts as success when the run recorded a checkpoint.
func (s *Service) decide(ctx context.Context, run *domain.Run, exitCode int, errMsg string) outcome {
	if exitCode != 0 {
		if errMsg == "" {
			errMsg = fmt.Sprintf("exited with code %d", exitCode)
		}
		return outcome{status: domain.RunStatusFailed, errMsg: errMsg}
	}

	cp, err := s.store.GetCheckpointByRun(ctx, run.RunID)
	if err != nil {
		msg := "failed to read checkpoint"
		return outcome{
			status: domain.RunStatusFailed,
			errMsg: msg,
			err:    domain.NewDependencyError(msg, err),
		}
	}
	if cp == nil {
		msg := fmt.Sprintf("checkpoint not found for run %s", run.RunID)
		return outcome{
			status: domain.RunStatusFailed,
			errMsg: msg,
			err:    domain.NewNotFoundError("%s", msg),
		}
	}
	return outcome{
		status: domain.RunStatusCompleted,
		result: &domain.ResultSignal{
			SessionID:        cp.SessionID,
			ArtifactSnapshot: cp.ArtifactSnapshot,
			VolumeVersions:   cp.VolumeVersions,
			CheckpointID:     cp.CheckpointID,
		},
	}
}

// teardown terminates the run's sandbox. Errors are logged only.
func (s *Service) teardown(ctx context.Context, run *domain.Run) {
	if s.sandbox == nil || run.SandboxHandle == "" {
		return
	}
	timeout := s.config.SandboxTeardownTimeout()
	if timeout <= 0 {
		timeout = defaultTeardownTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload := map[string]string{"sandbox_handle": run.SandboxHandle}
	if err := s.sandbox.Terminate(ctx, run.SandboxHandle); err != nil {
		s.logger.Warn("sandbox teardown failed", "run_id", run.RunID, "sandbox", run.SandboxHandle, "err", err)
		payload["error"] = err.Error()
	}
	if err := s.recordEvent(ctx, run.RunID, domain.EventTypeSandboxTeardown, payload); err != nil {
		s.logger.Debug("failed to record teardown event", "run_id", run.RunID, "err", err)
	}
}

// abort is the best-effort cleanup after an unexpected failure.
func (s *Service) abort(ctx context.Context, run *domain.Run, cause error) {
	s.logger.Error("run completion failed", "run_id", run.RunID, "err", cause)
	s.guard(run.RunID, "error signal", func() {
		s.emitSignal(ctx, run.RunID, domain.EventTypeSignalError, domain.ErrorSignal{Message: "internal error while completing run", ExitCode: -1})
	})
	s.guard(run.RunID, "sandbox teardown", func() { s.teardown(ctx, run) })
}

// guard runs fn, logging a panic instead of propagating it.
func (s *Service) guard(runID, step string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("recovered panic", "run_id", runID, "step", step, "panic", r)
		}
	}()
	fn()
}
