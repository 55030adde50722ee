// Package store persists remote instances and the executions submitted to them.
//
// Three implementations share the Store interface: PostgresStore for
// production, SQLiteStore for single-node deployments and MemoryStore for
// tests and throwaway runs. Execution mutations are keyed by execution id and
// only apply while the execution is running, so a late frame from the remote
// can never move a finished execution back.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a unique key is already taken.
var ErrDuplicate = errors.New("already exists")

// ExecutionStatus is the lifecycle state of an execution.
type ExecutionStatus string

// Execution statuses. Executions are created running.
const (
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
	StatusCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether no further transitions are expected.
func (s ExecutionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Instance is a configured remote execution service.
type Instance struct {
	ID                 int64      `db:"id"`
	Name               string     `db:"name"`
	WSURL              string     `db:"ws_url"`
	APIURL             string     `db:"api_url"`
	Enabled            bool       `db:"is_enabled"`
	LastConnectedAt    *time.Time `db:"last_connected_at"`
	LastDisconnectedAt *time.Time `db:"last_disconnected_at"`
	ReconnectAttempts  int        `db:"reconnect_attempts"`
}

// NewInstance holds the fields needed to register an instance.
type NewInstance struct {
	Name    string
	WSURL   string
	APIURL  string
	Enabled bool
}

// Execution tracks one prompt submitted to a remote on behalf of a platform job.
type Execution struct {
	ID              int64           `db:"id"`
	InstanceID      int64           `db:"instance_id"`
	PlatformJobID   int64           `db:"platform_job_id"`
	PromptID        string          `db:"prompt_id"`
	Status          ExecutionStatus `db:"status"`
	ProgressPercent int16           `db:"progress_percent"`
	CurrentNode     *string         `db:"current_node"`
	ErrorMessage    *string         `db:"error_message"`
	SubmittedAt     time.Time       `db:"submitted_at"`
	StartedAt       *time.Time      `db:"started_at"`
	CompletedAt     *time.Time      `db:"completed_at"`
	CancelledAt     *time.Time      `db:"cancelled_at"`
}

// NewExecution holds the fields recorded after a successful submission.
type NewExecution struct {
	InstanceID    int64
	PlatformJobID int64
	PromptID      string
}

// Store is the persistence boundary used by the connection manager.
type Store interface {
	// Instances
	ListInstances(ctx context.Context) ([]Instance, error)
	ListEnabledInstances(ctx context.Context) ([]Instance, error)
	CreateInstance(ctx context.Context, in NewInstance) (*Instance, error)
	RecordConnection(ctx context.Context, instanceID int64) error
	RecordDisconnection(ctx context.Context, instanceID int64) error
	IncrementReconnectAttempts(ctx context.Context, instanceID int64) error

	// Executions
	CreateExecution(ctx context.Context, in NewExecution) (*Execution, error)
	// FindExecutionByPlatformJobID returns the most recent execution for the job.
	FindExecutionByPlatformJobID(ctx context.Context, platformJobID int64) (*Execution, error)
	FindExecutionByPromptID(ctx context.Context, instanceID int64, promptID string) (*Execution, error)
	MarkExecutionStarted(ctx context.Context, id int64) error
	UpdateExecutionNode(ctx context.Context, id int64, node string) error
	// UpdateExecutionProgress sets the percentage and, when node is non-empty,
	// the current node.
	UpdateExecutionProgress(ctx context.Context, id int64, percent int16, node string) error
	MarkExecutionCompleted(ctx context.Context, id int64) error
	MarkExecutionFailed(ctx context.Context, id int64, message string) error
	// MarkExecutionCancelled applies regardless of the current status.
	MarkExecutionCancelled(ctx context.Context, id int64) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
