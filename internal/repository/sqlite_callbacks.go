package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/xiaot623/gogo/runhook/internal/domain"
)

const callbackColumns = `callback_id, run_id, url, secret, payload, status, attempts, last_attempt_at, last_error, delivered_at, created_at`

// CreateCallback stores a new callback registration.
func (s *SQLiteStore) CreateCallback(ctx context.Context, cb *domain.CallbackRegistration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO callbacks (callback_id, run_id, url, secret, payload, status, attempts, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		cb.CallbackID, cb.RunID, cb.URL, cb.Secret, nullStringBytes(cb.Payload), cb.Status, cb.Attempts, cb.CreatedAt)
	return err
}

// GetCallback retrieves a callback registration by ID.
func (s *SQLiteStore) GetCallback(ctx context.Context, callbackID string) (*domain.CallbackRegistration, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+callbackColumns+` FROM callbacks WHERE callback_id = ?`, callbackID)
	cb, err := scanCallback(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return cb, nil
}

// ListCallbacksByRun lists the registrations of a run in creation order.
func (s *SQLiteStore) ListCallbacksByRun(ctx context.Context, runID string) ([]domain.CallbackRegistration, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+callbackColumns+` FROM callbacks WHERE run_id = ? ORDER BY created_at ASC, rowid ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.CallbackRegistration
	for rows.Next() {
		cb, err := scanCallback(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cb)
	}
	return out, rows.Err()
}

// MarkCallbackAttempt records that a delivery is about to be attempted.
func (s *SQLiteStore) MarkCallbackAttempt(ctx context.Context, callbackID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE callbacks SET attempts = attempts + 1, last_attempt_at = ? WHERE callback_id = ?`,
		at, callbackID)
	return err
}

// MarkCallbackDelivered records a successful delivery.
func (s *SQLiteStore) MarkCallbackDelivered(ctx context.Context, callbackID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE callbacks SET status = ?, delivered_at = ?, last_error = NULL WHERE callback_id = ?`,
		domain.CallbackStatusDelivered, at, callbackID)
	return err
}

// MarkCallbackFailed records a failed delivery.
func (s *SQLiteStore) MarkCallbackFailed(ctx context.Context, callbackID string, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE callbacks SET status = ?, last_error = ? WHERE callback_id = ?`,
		domain.CallbackStatusFailed, errMsg, callbackID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCallback(row rowScanner) (*domain.CallbackRegistration, error) {
	var cb domain.CallbackRegistration
	var payload, lastError sql.NullString
	var lastAttemptAt, deliveredAt sql.NullTime
	if err := row.Scan(&cb.CallbackID, &cb.RunID, &cb.URL, &cb.Secret, &payload, &cb.Status, &cb.Attempts,
		&lastAttemptAt, &lastError, &deliveredAt, &cb.CreatedAt); err != nil {
		return nil, err
	}
	if payload.Valid {
		cb.Payload = json.RawMessage(payload.String)
	}
	cb.LastError = lastError.String
	if lastAttemptAt.Valid {
		cb.LastAttemptAt = &lastAttemptAt.Time
	}
	if deliveredAt.Valid {
		cb.DeliveredAt = &deliveredAt.Time
	}
	return &cb, nil
}
