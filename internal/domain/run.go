package domain

import (
	"encoding/json"
	"time"
)

// Run represents one execution attempt of an agent inside a sandbox.
type Run struct {
	RunID           string     `json:"run_id"`
	OwnerID         string     `json:"owner_id"`
	Status          RunStatus  `json:"status"`
	SandboxHandle   string     `json:"sandbox_handle,omitempty"`
	Secrets         string     `json:"-"` // age ciphertext, base64
	Error           string     `json:"error,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	LastHeartbeatAt *time.Time `json:"last_heartbeat_at,omitempty"`
}

// ArtifactSnapshot references the artifact storage version a checkpoint points to.
type ArtifactSnapshot struct {
	Driver    string `json:"driver"`
	VersionID string `json:"versionId"`
}

// Checkpoint is the snapshot a worker records just before a successful exit.
type Checkpoint struct {
	CheckpointID     string            `json:"checkpoint_id"`
	RunID            string            `json:"run_id"`
	SessionID        string            `json:"session_id"`
	ArtifactSnapshot ArtifactSnapshot  `json:"artifact_snapshot"`
	VolumeVersions   map[string]string `json:"volume_versions,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
}

// Event represents an entry in a run's event log. Signals are events too.
type Event struct {
	EventID string          `json:"event_id"`
	RunID   string          `json:"run_id"`
	Ts      int64           `json:"ts"` // Unix milliseconds
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ResultSignal is emitted when a run completes with a checkpoint.
type ResultSignal struct {
	SessionID        string            `json:"sessionId"`
	ArtifactSnapshot ArtifactSnapshot  `json:"artifactSnapshot"`
	VolumeVersions   map[string]string `json:"volumeVersions,omitempty"`
	CheckpointID     string            `json:"checkpointId"`
}

// ErrorSignal is emitted when a run fails.
type ErrorSignal struct {
	Message  string `json:"message"`
	ExitCode int    `json:"exitCode"`
}
