// Package store defines the persistence interface of the run-completion
// pipeline and its SQLite implementation.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/xiaot623/gogo/runhook/internal/domain"
)

// ErrConflict is returned when an insert violates a uniqueness constraint.
var ErrConflict = errors.New("conflict")

// Store defines the interface for data persistence. Getters return
// (nil, nil) when the row does not exist.
type Store interface {
	// Run operations
	CreateRun(ctx context.Context, run *domain.Run) error
	GetRun(ctx context.Context, runID string) (*domain.Run, error)
	// UpdateRunTerminal moves a non-terminal run to a terminal status and
	// reports whether this call performed the transition.
	UpdateRunTerminal(ctx context.Context, runID string, status domain.RunStatus, errMsg string, at time.Time) (bool, error)
	// TouchRunHeartbeat records liveness and promotes pending runs to running.
	TouchRunHeartbeat(ctx context.Context, runID string, at time.Time) (bool, error)

	// Checkpoint operations
	CreateCheckpoint(ctx context.Context, checkpoint *domain.Checkpoint) error
	GetCheckpointByRun(ctx context.Context, runID string) (*domain.Checkpoint, error)

	// Event operations
	CreateEvent(ctx context.Context, event *domain.Event) error
	GetEvents(ctx context.Context, runID string, afterTs int64, types []string, limit int) ([]domain.Event, error)

	// Callback operations
	CreateCallback(ctx context.Context, cb *domain.CallbackRegistration) error
	GetCallback(ctx context.Context, callbackID string) (*domain.CallbackRegistration, error)
	ListCallbacksByRun(ctx context.Context, runID string) ([]domain.CallbackRegistration, error)
	MarkCallbackAttempt(ctx context.Context, callbackID string, at time.Time) error
	MarkCallbackDelivered(ctx context.Context, callbackID string, at time.Time) error
	MarkCallbackFailed(ctx context.Context, callbackID string, errMsg string) error

	// Storage operations
	GetStorage(ctx context.Context, ownerID, name string, storageType domain.StorageType) (*domain.Storage, error)
	GetOrCreateStorage(ctx context.Context, storage *domain.Storage) (*domain.Storage, error)
	UpdateStorageHead(ctx context.Context, storageID, versionID string, at time.Time) error
	GetStorageVersion(ctx context.Context, storageID, versionID string) (*domain.StorageVersion, error)
	// CreateStorageVersion inserts the version if absent and reports whether
	// a row was written. Existing versions are never modified.
	CreateStorageVersion(ctx context.Context, v *domain.StorageVersion) (bool, error)

	// Lifecycle
	Close() error
}
