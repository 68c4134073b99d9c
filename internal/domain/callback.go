package domain

import (
	"encoding/json"
	"time"
)

// CallbackRegistration is a subscription requesting signed notification of
// a run's outcome.
type CallbackRegistration struct {
	CallbackID    string          `json:"callback_id"`
	RunID         string          `json:"run_id"`
	URL           string          `json:"url"`
	Secret        string          `json:"-"` // age ciphertext, base64
	Payload       json.RawMessage `json:"payload,omitempty"`
	Status        CallbackStatus  `json:"status"`
	Attempts      int             `json:"attempts"`
	LastAttemptAt *time.Time      `json:"last_attempt_at,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
	DeliveredAt   *time.Time      `json:"delivered_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// CallbackBody is the JSON body POSTed to a callback destination.
type CallbackBody struct {
	RunID   string          `json:"runId"`
	Status  RunStatus       `json:"status"`
	Result  *ResultSignal   `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// DispatchResult is the outcome of a single delivery attempt.
type DispatchResult struct {
	CallbackID string `json:"callbackId"`
	Success    bool   `json:"success"`
	StatusCode int    `json:"statusCode,omitempty"`
	Error      string `json:"error,omitempty"`
}
