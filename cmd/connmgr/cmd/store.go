package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nmoagit/x121-sub001/internal/config"
	"github.com/nmoagit/x121-sub001/internal/connection"
	"github.com/nmoagit/x121-sub001/internal/database"
	"github.com/nmoagit/x121-sub001/internal/store"
)

// openStore connects to the configured driver. The caller owns Close.
func openStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		logger.Info("connecting to database",
			"host", cfg.Postgres.Host,
			"port", cfg.Postgres.Port,
			"database", cfg.Postgres.Name,
		)
		pool, err := database.Connect(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return store.NewPostgresStore(pool), nil

	case config.DriverSQLite:
		logger.Info("opening database", "path", cfg.SQLitePath)
		db, err := database.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return store.NewSQLiteStore(db), nil

	case config.DriverMemory:
		logger.Warn("using in-memory store, executions are lost on exit")
		return store.NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// seedInstances registers configured instances that the store does not
// know yet. Existing names are left untouched.
func seedInstances(ctx context.Context, st store.Store, instances []config.InstanceConfig, logger *slog.Logger) error {
	for _, ic := range instances {
		inst, err := st.CreateInstance(ctx, store.NewInstance{
			Name:    ic.Name,
			WSURL:   ic.WSURL,
			APIURL:  ic.APIURL,
			Enabled: !ic.Disabled,
		})
		if errors.Is(err, store.ErrDuplicate) {
			logger.Debug("instance already registered", "name", ic.Name)
			continue
		}
		if err != nil {
			return fmt.Errorf("seed instance %s: %w", ic.Name, err)
		}
		logger.Info("instance registered", "instance_id", inst.ID, "name", inst.Name)
	}
	return nil
}

// managerConfig maps file configuration onto the connection manager.
func managerConfig(cfg *config.Config) connection.ManagerConfig {
	return connection.ManagerConfig{
		APIKey:      cfg.Remote.APIKey,
		HTTPTimeout: cfg.Remote.HTTPTimeout,
		MaxRetries:  cfg.Remote.MaxRetries,
		Client: connection.ClientConfig{
			HandshakeTimeout: cfg.Remote.HandshakeTimeout,
			PingInterval:     cfg.Remote.PingInterval,
			PingTimeout:      cfg.Remote.ReadTimeout,
			WriteTimeout:     cfg.Remote.WriteTimeout,
			BufferSize:       cfg.Remote.FrameBuffer,
		},
		Reconnect: connection.ReconnectConfig{
			InitialDelay: cfg.Reconnect.InitialDelay,
			Multiplier:   cfg.Reconnect.Multiplier,
			MaxDelay:     cfg.Reconnect.MaxDelay,
		},
		EventCapacity:   cfg.Events.Capacity,
		ShutdownTimeout: cfg.Shutdown.TaskTimeout,
	}
}
