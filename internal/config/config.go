package config

import "time"

// Config is the root configuration for the connection manager.
type Config struct {
	Store     StoreConfig      `yaml:"store"`
	Remote    RemoteConfig     `yaml:"remote"`
	Reconnect ReconnectConfig  `yaml:"reconnect"`
	Events    EventsConfig     `yaml:"events"`
	Shutdown  ShutdownConfig   `yaml:"shutdown"`
	Logging   LoggingConfig    `yaml:"logging"`
	HTTP      HTTPConfig       `yaml:"http"`
	Instances []InstanceConfig `yaml:"instances"`
}

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// StoreConfig selects where instances and executions are persisted.
type StoreConfig struct {
	Driver     string   `yaml:"driver"`
	SQLitePath string   `yaml:"sqlite_path"`
	Postgres   DBConfig `yaml:"postgres"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// RemoteConfig holds settings shared by every remote instance client.
type RemoteConfig struct {
	APIKey           string        `yaml:"api_key"` // Optional bearer token sent on HTTP and WebSocket requests
	HTTPTimeout      time.Duration `yaml:"http_timeout"`
	MaxRetries       int           `yaml:"max_retries"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	ReadTimeout      time.Duration `yaml:"read_timeout"` // No frame or pong for this long marks the connection stale
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	FrameBuffer      int           `yaml:"frame_buffer"`
}

// ReconnectConfig holds the exponential backoff policy.
type ReconnectConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
}

// EventsConfig holds event bus settings.
type EventsConfig struct {
	Capacity int `yaml:"capacity"`
}

// ShutdownConfig holds graceful shutdown settings.
type ShutdownConfig struct {
	TaskTimeout time.Duration `yaml:"task_timeout"` // Per supervisor
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // auto, text, json
}

// HTTPConfig holds the ops HTTP server settings.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// InstanceConfig seeds a remote instance into an empty store. Used with the
// memory and sqlite drivers; postgres deployments manage instances elsewhere.
type InstanceConfig struct {
	Name     string `yaml:"name"`
	WSURL    string `yaml:"ws_url"`
	APIURL   string `yaml:"api_url"`
	Disabled bool   `yaml:"disabled"`
}
