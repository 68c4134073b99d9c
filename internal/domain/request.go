package domain

import "encoding/json"

// CompleteRequest is sent by the sandbox worker when it exits.
type CompleteRequest struct {
	RunID    string `json:"runId"`
	OwnerID  string `json:"-"`
	ExitCode *int   `json:"exitCode"`
	Error    string `json:"error,omitempty"`
}

// CompleteResult is the terminal status reported back to the worker.
type CompleteResult struct {
	Success bool      `json:"success"`
	Status  RunStatus `json:"status"`
}

// CheckpointRequest is sent by the worker after a successful snapshot.
type CheckpointRequest struct {
	RunID            string            `json:"runId"`
	SessionID        string            `json:"sessionId"`
	ArtifactSnapshot *ArtifactSnapshot `json:"artifactSnapshot"`
	VolumeVersions   map[string]string `json:"volumeVersions,omitempty"`
}

// CheckpointResponse identifies a stored checkpoint.
type CheckpointResponse struct {
	CheckpointID string `json:"checkpointId"`
}

// HeartbeatRequest marks the worker alive.
type HeartbeatRequest struct {
	RunID string `json:"runId"`
}

// FileChanges describes an incremental snapshot relative to a base version.
type FileChanges struct {
	Added    []string `json:"added,omitempty"`
	Modified []string `json:"modified,omitempty"`
	Deleted  []string `json:"deleted,omitempty"`
}

// PrepareStorageRequest asks for a version id and, if needed, an upload plan.
type PrepareStorageRequest struct {
	StorageName string       `json:"storageName"`
	StorageType StorageType  `json:"storageType"`
	Files       []FileEntry  `json:"files"`
	Force       bool         `json:"force,omitempty"`
	BaseVersion string       `json:"baseVersion,omitempty"`
	Changes     *FileChanges `json:"changes,omitempty"`
	RunID       string       `json:"runId,omitempty"`
}

// UploadTarget is a presigned PUT destination.
type UploadTarget struct {
	Key          string `json:"key"`
	PresignedURL string `json:"presignedUrl"`
}

// UploadPlan holds the presigned targets for the archive and manifest blobs.
type UploadPlan struct {
	Archive  UploadTarget `json:"archive"`
	Manifest UploadTarget `json:"manifest"`
}

// PrepareStorageResponse is the result of version resolution.
type PrepareStorageResponse struct {
	VersionID string      `json:"versionId"`
	Existing  bool        `json:"existing"`
	Uploads   *UploadPlan `json:"uploads,omitempty"`
}

// CommitStorageRequest records an uploaded version and moves the storage HEAD.
type CommitStorageRequest struct {
	StorageName string      `json:"storageName"`
	StorageType StorageType `json:"storageType"`
	VersionID   string      `json:"versionId"`
	Files       []FileEntry `json:"files"`
	RunID       string      `json:"runId,omitempty"`
	Message     string      `json:"message,omitempty"`
}

// CommitStorageResponse confirms a commit.
type CommitStorageResponse struct {
	Success     bool   `json:"success"`
	VersionID   string `json:"versionId"`
	StorageName string `json:"storageName"`
}

// StorageResponse describes a storage and its current head.
type StorageResponse struct {
	Storage *Storage        `json:"storage"`
	Head    *StorageVersion `json:"head,omitempty"`
}

// CreateRunRequest creates a run row at dispatch time.
type CreateRunRequest struct {
	SandboxHandle string            `json:"sandboxHandle,omitempty"`
	Secrets       map[string]string `json:"secrets,omitempty"`
}

// CreateRunResponse returns the new run and the token its sandbox uses.
type CreateRunResponse struct {
	Run          *Run   `json:"run"`
	SandboxToken string `json:"sandboxToken"`
}

// RegisterCallbackRequest subscribes a destination to a run's outcome.
type RegisterCallbackRequest struct {
	URL     string          `json:"url"`
	Secret  string          `json:"secret"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RegisterCallbackResponse identifies a new registration.
type RegisterCallbackResponse struct {
	CallbackID string `json:"callbackId"`
}

// ErrorBody is the error envelope returned by the HTTP API.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the human message and the machine code.
type ErrorDetail struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}
