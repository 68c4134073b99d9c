// Package domain defines the core domain models for the run-completion pipeline.
package domain

// RunStatus represents the status of a run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// IsTerminal reports whether the status is absorbing.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// EventType represents the type of an event in a run's log.
type EventType string

const (
	EventTypeRunCreated      EventType = "run_created"
	EventTypeRunStarted      EventType = "run_started"
	EventTypeCheckpoint      EventType = "checkpoint_created"
	EventTypeSignalResult    EventType = "result"
	EventTypeSignalError     EventType = "error"
	EventTypeRunCompleted    EventType = "run_completed"
	EventTypeRunFailed       EventType = "run_failed"
	EventTypeSandboxTeardown EventType = "sandbox_teardown"
)

// CallbackStatus represents the delivery status of a callback registration.
type CallbackStatus string

const (
	CallbackStatusPending   CallbackStatus = "pending"
	CallbackStatusDelivered CallbackStatus = "delivered"
	CallbackStatusFailed    CallbackStatus = "failed"
)

// StorageType is the kind of a storage container.
type StorageType string

const (
	StorageTypeVolume   StorageType = "volume"
	StorageTypeArtifact StorageType = "artifact"
)

// Valid reports whether t is a recognized storage type.
func (t StorageType) Valid() bool {
	switch t {
	case StorageTypeVolume, StorageTypeArtifact:
		return true
	}
	return false
}
