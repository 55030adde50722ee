package connection

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no frame or pong)")
	ErrAlreadyClosed   = errors.New("already closed")

	ErrInstanceNotFound  = errors.New("instance not found")
	ErrExecutionNotFound = errors.New("execution not found")
	ErrSubmitFailed      = errors.New("submit failed")
	ErrCancelFailed      = errors.New("cancel failed")
	ErrDatabase          = errors.New("database error")
)

// Frame is one data frame read from the WebSocket.
type Frame struct {
	Type       int       // websocket.TextMessage or websocket.BinaryMessage
	Data       []byte    // Raw frame payload
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // Full WebSocket URL including clientId
	APIKey           string        // Optional bearer token
	HandshakeTimeout time.Duration // Dial handshake deadline
	PingInterval     time.Duration // How often a keepalive ping is sent
	PingTimeout      time.Duration // Max time without a frame or pong before the connection is stale
	WriteTimeout     time.Duration // Write deadline for sends and control frames
	BufferSize       int           // Frame channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     15 * time.Second,
		PingTimeout:      45 * time.Second,
		WriteTimeout:     10 * time.Second,
		BufferSize:       256,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	APIKey          string          // Bearer token for HTTP and WebSocket requests
	HTTPTimeout     time.Duration   // Per-request timeout of the shared HTTP client
	MaxRetries      int             // Retries for idempotent HTTP calls
	Client          ClientConfig    // WebSocket settings; URL is filled per instance
	Reconnect       ReconnectConfig // Backoff policy
	EventCapacity   int             // Event bus ring size
	ShutdownTimeout time.Duration   // Wait per supervisor during Shutdown
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		HTTPTimeout:     30 * time.Second,
		MaxRetries:      3,
		Client:          DefaultClientConfig(),
		Reconnect:       DefaultReconnectConfig(),
		EventCapacity:   256,
		ShutdownTimeout: 5 * time.Second,
	}
}

// State is the lifecycle state of a supervised connection.
type State int32

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnected
	StateCancelled
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ManagerStats provides statistics about the connection manager.
type ManagerStats struct {
	Managed   int             `json:"managed"`
	Connected int             `json:"connected"`
	Instances []InstanceStats `json:"instances"`
}

// InstanceStats describes one supervised instance.
type InstanceStats struct {
	InstanceID int64  `json:"instance_id"`
	Name       string `json:"name"`
	State      string `json:"state"`
	Attempts   int    `json:"reconnect_attempts"`
}
