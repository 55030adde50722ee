package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema/postgres.sql
var postgresSchema string

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an open pool. The store owns the pool and closes it
// in Close.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("apply postgres schema: %w", err)
	}
	return nil
}

// ListInstances returns every instance ordered by id.
func (s *PostgresStore) ListInstances(ctx context.Context) ([]Instance, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+instanceColumns+" FROM remote_instances ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[Instance])
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	return out, nil
}

// ListEnabledInstances returns enabled instances ordered by id.
func (s *PostgresStore) ListEnabledInstances(ctx context.Context) ([]Instance, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+instanceColumns+" FROM remote_instances WHERE is_enabled ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list enabled instances: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[Instance])
	if err != nil {
		return nil, fmt.Errorf("list enabled instances: %w", err)
	}
	return out, nil
}

// CreateInstance registers an instance.
func (s *PostgresStore) CreateInstance(ctx context.Context, in NewInstance) (*Instance, error) {
	rows, err := s.pool.Query(ctx,
		"INSERT INTO remote_instances (name, ws_url, api_url, is_enabled) VALUES ($1, $2, $3, $4) RETURNING "+instanceColumns,
		in.Name, in.WSURL, in.APIURL, in.Enabled)
	if err != nil {
		return nil, fmt.Errorf("create instance: %w", err)
	}
	inst, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[Instance])
	if err != nil {
		if pgErrCode(err) == pgUniqueViolation {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("create instance: %w", err)
	}
	return inst, nil
}

// RecordConnection stamps last_connected_at and resets the reconnect counter.
func (s *PostgresStore) RecordConnection(ctx context.Context, instanceID int64) error {
	return s.execOne(ctx, "record connection",
		"UPDATE remote_instances SET last_connected_at = NOW(), reconnect_attempts = 0 WHERE id = $1",
		instanceID)
}

// RecordDisconnection stamps last_disconnected_at.
func (s *PostgresStore) RecordDisconnection(ctx context.Context, instanceID int64) error {
	return s.execOne(ctx, "record disconnection",
		"UPDATE remote_instances SET last_disconnected_at = NOW() WHERE id = $1",
		instanceID)
}

// IncrementReconnectAttempts bumps the reconnect counter.
func (s *PostgresStore) IncrementReconnectAttempts(ctx context.Context, instanceID int64) error {
	return s.execOne(ctx, "increment reconnect attempts",
		"UPDATE remote_instances SET reconnect_attempts = reconnect_attempts + 1 WHERE id = $1",
		instanceID)
}

// CreateExecution records a running execution.
func (s *PostgresStore) CreateExecution(ctx context.Context, in NewExecution) (*Execution, error) {
	rows, err := s.pool.Query(ctx,
		"INSERT INTO remote_executions (instance_id, platform_job_id, prompt_id, status) "+
			"VALUES ($1, $2, $3, 'running') RETURNING "+executionColumns,
		in.InstanceID, in.PlatformJobID, in.PromptID)
	if err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}
	e, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[Execution])
	if err != nil {
		switch pgErrCode(err) {
		case pgUniqueViolation:
			return nil, ErrDuplicate
		case pgForeignKeyViolation:
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("create execution: %w", err)
	}
	return e, nil
}

// FindExecutionByPlatformJobID returns the execution with the highest id for the job.
func (s *PostgresStore) FindExecutionByPlatformJobID(ctx context.Context, platformJobID int64) (*Execution, error) {
	return s.findExecution(ctx, "find execution by job",
		"SELECT "+executionColumns+" FROM remote_executions WHERE platform_job_id = $1 ORDER BY id DESC LIMIT 1",
		platformJobID)
}

// FindExecutionByPromptID looks up an execution by the remote's prompt id.
func (s *PostgresStore) FindExecutionByPromptID(ctx context.Context, instanceID int64, promptID string) (*Execution, error) {
	return s.findExecution(ctx, "find execution by prompt",
		"SELECT "+executionColumns+" FROM remote_executions WHERE instance_id = $1 AND prompt_id = $2",
		instanceID, promptID)
}

func (s *PostgresStore) findExecution(ctx context.Context, op, q string, args ...any) (*Execution, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	e, err := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[Execution])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return e, nil
}

// MarkExecutionStarted records the start time of a running execution.
func (s *PostgresStore) MarkExecutionStarted(ctx context.Context, id int64) error {
	return s.execRunning(ctx, "mark execution started",
		"UPDATE remote_executions SET started_at = COALESCE(started_at, NOW()) WHERE id = $1 AND status = 'running'",
		id)
}

// UpdateExecutionNode records the node currently executing.
func (s *PostgresStore) UpdateExecutionNode(ctx context.Context, id int64, node string) error {
	return s.execRunning(ctx, "update execution node",
		"UPDATE remote_executions SET current_node = $2 WHERE id = $1 AND status = 'running'",
		id, node)
}

// UpdateExecutionProgress records progress and, if given, the current node.
func (s *PostgresStore) UpdateExecutionProgress(ctx context.Context, id int64, percent int16, node string) error {
	return s.execRunning(ctx, "update execution progress",
		"UPDATE remote_executions SET progress_percent = $2, current_node = COALESCE(NULLIF($3, ''), current_node) "+
			"WHERE id = $1 AND status = 'running'",
		id, percent, node)
}

// MarkExecutionCompleted finishes a running execution at 100%.
func (s *PostgresStore) MarkExecutionCompleted(ctx context.Context, id int64) error {
	return s.execRunning(ctx, "mark execution completed",
		"UPDATE remote_executions SET status = 'completed', progress_percent = 100, completed_at = NOW() "+
			"WHERE id = $1 AND status = 'running'",
		id)
}

// MarkExecutionFailed fails a running execution with message.
func (s *PostgresStore) MarkExecutionFailed(ctx context.Context, id int64, message string) error {
	return s.execRunning(ctx, "mark execution failed",
		"UPDATE remote_executions SET status = 'failed', error_message = $2, completed_at = NOW() "+
			"WHERE id = $1 AND status = 'running'",
		id, message)
}

// MarkExecutionCancelled cancels an execution whatever its status.
func (s *PostgresStore) MarkExecutionCancelled(ctx context.Context, id int64) error {
	return s.execOne(ctx, "mark execution cancelled",
		"UPDATE remote_executions SET status = 'cancelled', cancelled_at = NOW(), completed_at = COALESCE(completed_at, NOW()) "+
			"WHERE id = $1",
		id)
}

// Ping verifies the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) execOne(ctx context.Context, op, q string, args ...any) error {
	tag, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) execRunning(ctx context.Context, op, q string, id int64, args ...any) error {
	tag, err := s.pool.Exec(ctx, q, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	err = s.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM remote_executions WHERE id = $1)", id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !exists {
		return ErrNotFound
	}
	return nil
}

func pgErrCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
