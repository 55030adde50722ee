package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/nmoagit/x121-sub001/internal/connection"
	"github.com/nmoagit/x121-sub001/internal/httpapi"
	"github.com/nmoagit/x121-sub001/internal/logging"
	"github.com/nmoagit/x121-sub001/internal/version"
)

const httpShutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the connection manager and its ops HTTP server",
	Long: `Connect to every enabled instance in the store and keep the connections
alive until SIGINT or SIGTERM. Instances listed in the config file are
registered first if the store does not know them yet.

Examples:
  # In-memory store, instances from the config file
  connmgr serve --config connmgr.yaml

  # Override the ops listen address
  connmgr serve --config connmgr.yaml --addr :9090`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "ops HTTP listen address (default :8089)")
	serveCmd.Flags().String("store", "", "store driver (postgres, sqlite, memory)")
	serveCmd.Flags().String("sqlite-path", "", "SQLite database path")

	_ = viper.BindPFlag("http.addr", serveCmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("store.driver", serveCmd.Flags().Lookup("store"))
	_ = viper.BindPFlag("store.sqlite_path", serveCmd.Flags().Lookup("sqlite-path"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	logger.Info("starting connmgr",
		"version", version.Version,
		"commit", version.Commit,
		"store", cfg.Store.Driver,
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}
	if err := seedInstances(ctx, st, cfg.Instances, logger); err != nil {
		return err
	}

	mgr := connection.NewManager(st, managerConfig(cfg), logger)
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("start manager: %w", err)
	}

	srv := httpapi.New(cfg.HTTP.Addr, mgr, st, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.ListenAndServe)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")
		return shutdownAll(context.WithoutCancel(gctx), mgr, srv, httpShutdownTimeout)
	})

	logger.Info("connmgr running",
		"instances", len(mgr.ConnectedInstanceIDs()),
		"health_url", "http://"+hostPort(cfg.HTTP.Addr)+"/health",
	)

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("connmgr stopped")
	return nil
}

type managerShutdowner interface {
	Shutdown(ctx context.Context)
}

type serverShutdowner interface {
	Shutdown(ctx context.Context) error
}

// shutdownAll stops the manager first so subscribers see the final
// disconnect events, then the HTTP server. The manager's wait is bounded per
// supervisor by its ShutdownTimeout; the HTTP server gets a fresh
// httpTimeout once the manager returns.
func shutdownAll(ctx context.Context, mgr managerShutdowner, srv serverShutdowner, httpTimeout time.Duration) error {
	mgr.Shutdown(ctx)

	httpCtx, cancel := context.WithTimeout(ctx, httpTimeout)
	defer cancel()
	return srv.Shutdown(httpCtx)
}

// hostPort fills in localhost for listen addresses without a host.
func hostPort(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "localhost" + addr
	}
	return addr
}
