package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

//go:embed schema/sqlite.sql
var sqliteSchema string

const instanceColumns = "id, name, ws_url, api_url, is_enabled, last_connected_at, last_disconnected_at, reconnect_attempts"

const executionColumns = "id, instance_id, platform_job_id, prompt_id, status, progress_percent, " +
	"current_node, error_message, submitted_at, started_at, completed_at, cancelled_at"

// SQLiteStore implements Store on an embedded SQLite database.
type SQLiteStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewSQLiteStore wraps an open database. Call Migrate before first use.
func NewSQLiteStore(db *sqlx.DB) *SQLiteStore {
	return &SQLiteStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Migrate creates the tables if they do not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("apply sqlite schema: %w", err)
	}
	return nil
}

// ListInstances returns every instance ordered by id.
func (s *SQLiteStore) ListInstances(ctx context.Context) ([]Instance, error) {
	var out []Instance
	q := "SELECT " + instanceColumns + " FROM remote_instances ORDER BY id"
	if err := s.db.SelectContext(ctx, &out, q); err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	return out, nil
}

// ListEnabledInstances returns enabled instances ordered by id.
func (s *SQLiteStore) ListEnabledInstances(ctx context.Context) ([]Instance, error) {
	var out []Instance
	q := "SELECT " + instanceColumns + " FROM remote_instances WHERE is_enabled = 1 ORDER BY id"
	if err := s.db.SelectContext(ctx, &out, q); err != nil {
		return nil, fmt.Errorf("list enabled instances: %w", err)
	}
	return out, nil
}

// CreateInstance registers an instance.
func (s *SQLiteStore) CreateInstance(ctx context.Context, in NewInstance) (*Instance, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO remote_instances (name, ws_url, api_url, is_enabled) VALUES (?, ?, ?, ?)",
		in.Name, in.WSURL, in.APIURL, in.Enabled)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("create instance: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create instance: %w", err)
	}

	var inst Instance
	q := "SELECT " + instanceColumns + " FROM remote_instances WHERE id = ?"
	if err := s.db.GetContext(ctx, &inst, q, id); err != nil {
		return nil, fmt.Errorf("read created instance: %w", err)
	}
	return &inst, nil
}

// RecordConnection stamps last_connected_at and resets the reconnect counter.
func (s *SQLiteStore) RecordConnection(ctx context.Context, instanceID int64) error {
	return s.execOne(ctx, "record connection",
		"UPDATE remote_instances SET last_connected_at = ?, reconnect_attempts = 0 WHERE id = ?",
		s.now(), instanceID)
}

// RecordDisconnection stamps last_disconnected_at.
func (s *SQLiteStore) RecordDisconnection(ctx context.Context, instanceID int64) error {
	return s.execOne(ctx, "record disconnection",
		"UPDATE remote_instances SET last_disconnected_at = ? WHERE id = ?",
		s.now(), instanceID)
}

// IncrementReconnectAttempts bumps the reconnect counter.
func (s *SQLiteStore) IncrementReconnectAttempts(ctx context.Context, instanceID int64) error {
	return s.execOne(ctx, "increment reconnect attempts",
		"UPDATE remote_instances SET reconnect_attempts = reconnect_attempts + 1 WHERE id = ?",
		instanceID)
}

// CreateExecution records a running execution.
func (s *SQLiteStore) CreateExecution(ctx context.Context, in NewExecution) (*Execution, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO remote_executions (instance_id, platform_job_id, prompt_id, status, submitted_at) VALUES (?, ?, ?, ?, ?)",
		in.InstanceID, in.PlatformJobID, in.PromptID, StatusRunning, s.now())
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		if isForeignKeyViolation(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("create execution: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}

	var e Execution
	q := "SELECT " + executionColumns + " FROM remote_executions WHERE id = ?"
	if err := s.db.GetContext(ctx, &e, q, id); err != nil {
		return nil, fmt.Errorf("read created execution: %w", err)
	}
	return &e, nil
}

// FindExecutionByPlatformJobID returns the execution with the highest id for the job.
func (s *SQLiteStore) FindExecutionByPlatformJobID(ctx context.Context, platformJobID int64) (*Execution, error) {
	var e Execution
	q := "SELECT " + executionColumns + " FROM remote_executions WHERE platform_job_id = ? ORDER BY id DESC LIMIT 1"
	if err := s.db.GetContext(ctx, &e, q, platformJobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find execution by job: %w", err)
	}
	return &e, nil
}

// FindExecutionByPromptID looks up an execution by the remote's prompt id.
func (s *SQLiteStore) FindExecutionByPromptID(ctx context.Context, instanceID int64, promptID string) (*Execution, error) {
	var e Execution
	q := "SELECT " + executionColumns + " FROM remote_executions WHERE instance_id = ? AND prompt_id = ?"
	if err := s.db.GetContext(ctx, &e, q, instanceID, promptID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find execution by prompt: %w", err)
	}
	return &e, nil
}

// MarkExecutionStarted records the start time of a running execution.
func (s *SQLiteStore) MarkExecutionStarted(ctx context.Context, id int64) error {
	return s.execRunning(ctx, "mark execution started",
		"UPDATE remote_executions SET started_at = COALESCE(started_at, ?) WHERE id = ? AND status = 'running'",
		id, s.now(), id)
}

// UpdateExecutionNode records the node currently executing.
func (s *SQLiteStore) UpdateExecutionNode(ctx context.Context, id int64, node string) error {
	return s.execRunning(ctx, "update execution node",
		"UPDATE remote_executions SET current_node = ? WHERE id = ? AND status = 'running'",
		id, node, id)
}

// UpdateExecutionProgress records progress and, if given, the current node.
func (s *SQLiteStore) UpdateExecutionProgress(ctx context.Context, id int64, percent int16, node string) error {
	return s.execRunning(ctx, "update execution progress",
		"UPDATE remote_executions SET progress_percent = ?, current_node = COALESCE(NULLIF(?, ''), current_node) "+
			"WHERE id = ? AND status = 'running'",
		id, percent, node, id)
}

// MarkExecutionCompleted finishes a running execution at 100%.
func (s *SQLiteStore) MarkExecutionCompleted(ctx context.Context, id int64) error {
	return s.execRunning(ctx, "mark execution completed",
		"UPDATE remote_executions SET status = 'completed', progress_percent = 100, completed_at = ? "+
			"WHERE id = ? AND status = 'running'",
		id, s.now(), id)
}

// MarkExecutionFailed fails a running execution with message.
func (s *SQLiteStore) MarkExecutionFailed(ctx context.Context, id int64, message string) error {
	return s.execRunning(ctx, "mark execution failed",
		"UPDATE remote_executions SET status = 'failed', error_message = ?, completed_at = ? "+
			"WHERE id = ? AND status = 'running'",
		id, message, s.now(), id)
}

// MarkExecutionCancelled cancels an execution whatever its status.
func (s *SQLiteStore) MarkExecutionCancelled(ctx context.Context, id int64) error {
	now := s.now()
	return s.execOne(ctx, "mark execution cancelled",
		"UPDATE remote_executions SET status = 'cancelled', cancelled_at = ?, completed_at = COALESCE(completed_at, ?) "+
			"WHERE id = ?",
		now, now, id)
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// execOne runs an update that must match exactly one row.
func (s *SQLiteStore) execOne(ctx context.Context, op, q string, args ...any) error {
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// execRunning runs an update guarded by status = 'running'. No match is only
// an error when the execution does not exist at all.
func (s *SQLiteStore) execRunning(ctx context.Context, op, q string, id int64, args ...any) error {
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n > 0 {
		return nil
	}

	var exists int
	err = s.db.GetContext(ctx, &exists, "SELECT 1 FROM remote_executions WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// isUniqueViolation checks if the error is a SQLite UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
