package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverPostgres:
		if err := c.Store.Postgres.validate("store.postgres"); err != nil {
			return err
		}
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			return errors.New("store.sqlite_path is required")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("store.driver must be one of postgres, sqlite, memory, got %q", c.Store.Driver)
	}

	if c.Remote.HTTPTimeout < 0 {
		return errors.New("remote.http_timeout must be >= 0")
	}
	if c.Remote.MaxRetries < 0 {
		return errors.New("remote.max_retries must be >= 0")
	}
	if c.Remote.PingInterval <= 0 {
		return errors.New("remote.ping_interval must be > 0")
	}
	if c.Remote.ReadTimeout <= c.Remote.PingInterval {
		return fmt.Errorf("remote.read_timeout (%v) must exceed remote.ping_interval (%v)", c.Remote.ReadTimeout, c.Remote.PingInterval)
	}
	if c.Remote.FrameBuffer < 1 {
		return errors.New("remote.frame_buffer must be >= 1")
	}

	if c.Reconnect.InitialDelay <= 0 {
		return errors.New("reconnect.initial_delay must be > 0")
	}
	if c.Reconnect.MaxDelay < c.Reconnect.InitialDelay {
		return fmt.Errorf("reconnect.max_delay (%v) cannot be less than initial_delay (%v)", c.Reconnect.MaxDelay, c.Reconnect.InitialDelay)
	}
	if c.Reconnect.Multiplier < 1 {
		return fmt.Errorf("reconnect.multiplier must be >= 1, got %v", c.Reconnect.Multiplier)
	}

	if c.Events.Capacity < 1 {
		return errors.New("events.capacity must be >= 1")
	}
	if c.Shutdown.TaskTimeout <= 0 {
		return errors.New("shutdown.task_timeout must be > 0")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "auto", "text", "json":
	default:
		return fmt.Errorf("logging.format must be one of auto, text, json, got %q", c.Logging.Format)
	}

	for i, inst := range c.Instances {
		prefix := fmt.Sprintf("instances[%d]", i)
		if inst.Name == "" {
			return fmt.Errorf("%s.name is required", prefix)
		}
		if inst.WSURL == "" {
			return fmt.Errorf("%s.ws_url is required", prefix)
		}
		if inst.APIURL == "" {
			return fmt.Errorf("%s.api_url is required", prefix)
		}
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
