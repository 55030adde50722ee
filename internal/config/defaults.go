package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultStoreDriver       = DriverSQLite
	DefaultSQLitePath        = "connmgr.db"
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultMaxConns          = 10
	DefaultMinConns          = 2
	DefaultHTTPTimeout       = 30 * time.Second
	DefaultMaxRetries        = 3
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultPingInterval      = 15 * time.Second
	DefaultReadTimeout       = 45 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultFrameBuffer       = 256
	DefaultReconnectInitial  = 1 * time.Second
	DefaultReconnectMax      = 30 * time.Second
	DefaultReconnectMultiple = 2.0
	DefaultEventsCapacity    = 256
	DefaultShutdownTimeout   = 5 * time.Second
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
	DefaultHTTPAddr          = ":8089"
)

func (c *Config) applyDefaults() {
	// Store defaults
	if c.Store.Driver == "" {
		c.Store.Driver = DefaultStoreDriver
	}
	if c.Store.Driver == DriverSQLite && c.Store.SQLitePath == "" {
		c.Store.SQLitePath = DefaultSQLitePath
	}
	if c.Store.Driver == DriverPostgres {
		applyDBDefaults(&c.Store.Postgres)
	}

	// Remote defaults
	if c.Remote.HTTPTimeout == 0 {
		c.Remote.HTTPTimeout = DefaultHTTPTimeout
	}
	if c.Remote.MaxRetries == 0 {
		c.Remote.MaxRetries = DefaultMaxRetries
	}
	if c.Remote.HandshakeTimeout == 0 {
		c.Remote.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Remote.PingInterval == 0 {
		c.Remote.PingInterval = DefaultPingInterval
	}
	if c.Remote.ReadTimeout == 0 {
		c.Remote.ReadTimeout = DefaultReadTimeout
	}
	if c.Remote.WriteTimeout == 0 {
		c.Remote.WriteTimeout = DefaultWriteTimeout
	}
	if c.Remote.FrameBuffer == 0 {
		c.Remote.FrameBuffer = DefaultFrameBuffer
	}

	// Reconnect defaults
	if c.Reconnect.InitialDelay == 0 {
		c.Reconnect.InitialDelay = DefaultReconnectInitial
	}
	if c.Reconnect.MaxDelay == 0 {
		c.Reconnect.MaxDelay = DefaultReconnectMax
	}
	if c.Reconnect.Multiplier == 0 {
		c.Reconnect.Multiplier = DefaultReconnectMultiple
	}

	if c.Events.Capacity == 0 {
		c.Events.Capacity = DefaultEventsCapacity
	}
	if c.Shutdown.TaskTimeout == 0 {
		c.Shutdown.TaskTimeout = DefaultShutdownTimeout
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}

	if c.HTTP.Addr == "" {
		c.HTTP.Addr = DefaultHTTPAddr
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
