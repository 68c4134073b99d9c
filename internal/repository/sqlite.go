package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/xiaot623/gogo/runhook/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			status TEXT NOT NULL,
			sandbox_handle TEXT,
			secrets TEXT,
			error TEXT,
			started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			completed_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_owner ON runs(owner_id, started_at)`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			checkpoint_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL UNIQUE,
			session_id TEXT NOT NULL,
			artifact_snapshot TEXT NOT NULL,
			volume_versions TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			event_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			type TEXT NOT NULL,
			payload TEXT,
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id, ts)`,
		`CREATE TABLE IF NOT EXISTS callbacks (
			callback_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			url TEXT NOT NULL,
			secret TEXT NOT NULL,
			payload TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			attempts INTEGER NOT NULL DEFAULT 0,
			last_attempt_at DATETIME,
			last_error TEXT,
			delivered_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_callbacks_run ON callbacks(run_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS storages (
			storage_id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			head_version_id TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (owner_id, name, type)
		)`,
		`CREATE TABLE IF NOT EXISTS storage_versions (
			version_id TEXT PRIMARY KEY,
			storage_id TEXT NOT NULL,
			object_key TEXT NOT NULL,
			size INTEGER NOT NULL DEFAULT 0,
			file_count INTEGER NOT NULL DEFAULT 0,
			message TEXT,
			created_by TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (storage_id) REFERENCES storages(storage_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_storage_versions_storage ON storage_versions(storage_id, created_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	// Add new columns for existing DBs (SQLite has limited ALTER TABLE support).
	if err := s.ensureColumn("runs", "last_heartbeat_at", "ALTER TABLE runs ADD COLUMN last_heartbeat_at DATETIME"); err != nil {
		return err
	}

	return nil
}

func (s *SQLiteStore) ensureColumn(tableName, columnName, ddl string) error {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dfltValue sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		if name == columnName {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	_, err = s.db.Exec(ddl)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateRun creates a new run.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *domain.Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, owner_id, status, sandbox_handle, secrets, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		run.RunID, run.OwnerID, run.Status, nullString(run.SandboxHandle), nullString(run.Secrets), run.StartedAt)
	return err
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	var run domain.Run
	var handle, secrets, errMsg sql.NullString
	var completedAt, heartbeatAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, owner_id, status, sandbox_handle, secrets, error, started_at, completed_at, last_heartbeat_at FROM runs WHERE run_id = ?`,
		runID).Scan(&run.RunID, &run.OwnerID, &run.Status, &handle, &secrets, &errMsg, &run.StartedAt, &completedAt, &heartbeatAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	run.SandboxHandle = handle.String
	run.Secrets = secrets.String
	run.Error = errMsg.String
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	if heartbeatAt.Valid {
		run.LastHeartbeatAt = &heartbeatAt.Time
	}
	return &run, nil
}

// UpdateRunTerminal moves a run to a terminal status unless it already is terminal.
func (s *SQLiteStore) UpdateRunTerminal(ctx context.Context, runID string, status domain.RunStatus, errMsg string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, completed_at = ? WHERE run_id = ? AND status NOT IN (?, ?)`,
		status, nullString(errMsg), at, runID, domain.RunStatusCompleted, domain.RunStatusFailed)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// TouchRunHeartbeat records a heartbeat on a non-terminal run.
func (s *SQLiteStore) TouchRunHeartbeat(ctx context.Context, runID string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET last_heartbeat_at = ?, status = CASE WHEN status = ? THEN ? ELSE status END
		 WHERE run_id = ? AND status NOT IN (?, ?)`,
		at, domain.RunStatusPending, domain.RunStatusRunning, runID, domain.RunStatusCompleted, domain.RunStatusFailed)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// CreateCheckpoint stores the single checkpoint of a run.
func (s *SQLiteStore) CreateCheckpoint(ctx context.Context, cp *domain.Checkpoint) error {
	snapshot, err := json.Marshal(cp.ArtifactSnapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal artifact snapshot: %w", err)
	}
	var volumes []byte
	if len(cp.VolumeVersions) > 0 {
		if volumes, err = json.Marshal(cp.VolumeVersions); err != nil {
			return fmt.Errorf("failed to marshal volume versions: %w", err)
		}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (checkpoint_id, run_id, session_id, artifact_snapshot, volume_versions, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		cp.CheckpointID, cp.RunID, cp.SessionID, string(snapshot), nullStringBytes(volumes), cp.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// GetCheckpointByRun retrieves the checkpoint of a run.
func (s *SQLiteStore) GetCheckpointByRun(ctx context.Context, runID string) (*domain.Checkpoint, error) {
	var cp domain.Checkpoint
	var snapshot string
	var volumes sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT checkpoint_id, run_id, session_id, artifact_snapshot, volume_versions, created_at FROM checkpoints WHERE run_id = ?`,
		runID).Scan(&cp.CheckpointID, &cp.RunID, &cp.SessionID, &snapshot, &volumes, &cp.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(snapshot), &cp.ArtifactSnapshot); err != nil {
		return nil, fmt.Errorf("failed to decode artifact snapshot: %w", err)
	}
	if volumes.Valid {
		if err := json.Unmarshal([]byte(volumes.String), &cp.VolumeVersions); err != nil {
			return nil, fmt.Errorf("failed to decode volume versions: %w", err)
		}
	}
	return &cp, nil
}

// CreateEvent creates a new event.
func (s *SQLiteStore) CreateEvent(ctx context.Context, event *domain.Event) error {
	payload := ""
	if event.Payload != nil {
		payload = string(event.Payload)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (event_id, run_id, ts, type, payload) VALUES (?, ?, ?, ?, ?)`,
		event.EventID, event.RunID, event.Ts, event.Type, payload)
	return err
}

// GetEvents retrieves events for a run.
func (s *SQLiteStore) GetEvents(ctx context.Context, runID string, afterTs int64, types []string, limit int) ([]domain.Event, error) {
	query := `SELECT event_id, run_id, ts, type, payload FROM events WHERE run_id = ?`
	args := []interface{}{runID}

	if afterTs > 0 {
		query += ` AND ts > ?`
		args = append(args, afterTs)
	}

	if len(types) > 0 {
		placeholders := make([]string, len(types))
		for i, t := range types {
			placeholders[i] = "?"
			args = append(args, t)
		}
		query += ` AND type IN (` + strings.Join(placeholders, ",") + `)`
	}

	query += ` ORDER BY ts ASC, rowid ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var e domain.Event
		var payload sql.NullString
		if err := rows.Scan(&e.EventID, &e.RunID, &e.Ts, &e.Type, &payload); err != nil {
			return nil, err
		}
		if payload.Valid && payload.String != "" {
			e.Payload = json.RawMessage(payload.String)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullStringBytes(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
