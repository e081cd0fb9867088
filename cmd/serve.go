package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/wxdash/wxdashd/internal/api"
	"github.com/wxdash/wxdashd/internal/config"
	"github.com/wxdash/wxdashd/internal/hub"
	"github.com/wxdash/wxdashd/internal/provider"
	"github.com/wxdash/wxdashd/internal/store"
)

var (
	listenAddr    string
	storageDriver string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the wxdashd daemon (default command)",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "HTTP listen address (overrides config)")
	serveCmd.Flags().StringVar(&storageDriver, "storage-driver", "", "storage driver (overrides config)")
	rootCmd.AddCommand(serveCmd)

	// Make serve the default command.
	rootCmd.RunE = runServe
}

func runServe(cmd *cobra.Command, args []string) error {
	setupLogging()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	// Apply flag overrides.
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}
	if storageDriver != "" {
		cfg.Storage.Driver = storageDriver
	}

	slog.Info("starting wxdashd",
		"listen_addr", cfg.ListenAddr,
		"storage_driver", cfg.Storage.Driver,
	)

	// Open store.
	var s store.Store
	switch cfg.Storage.Driver {
	case "sqlite":
		s, err = store.NewSQLiteStore(cfg.DSN())
	case "postgres":
		s, err = store.NewPostgresStore(cfg.DSN())
	default:
		return fmt.Errorf("unknown storage driver: %s", cfg.Storage.Driver)
	}
	if err != nil {
		return err
	}
	defer s.Close() //nolint:errcheck

	if cfg.Storage.Driver == "postgres" {
		slog.Info("database ready", "driver", cfg.Storage.Driver, "dsn", redactDSN(cfg.DSN()))
	} else {
		slog.Info("database ready", "driver", cfg.Storage.Driver, "path", cfg.Storage.SQLite.Path)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Weather provider client.
	weather := provider.NewClient(provider.Config{
		APIKey:  cfg.Provider.APIKey,
		BaseURL: cfg.Provider.BaseURL,
		Timeout: cfg.Provider.Timeout(),
	})

	// Broadcast hub for live updates.
	liveHub := hub.New(slog.Default())

	// Create API server.
	srv := api.NewServer(s, weather, liveHub, cfg.CORSOrigin, slog.Default())
	srv.SetVersion(Version)
	srv.SetStorageDriver(cfg.Storage.Driver)

	slog.Info("wxdashd ready", "addr", cfg.ListenAddr)

	// Start hub and server using errgroup.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return liveHub.Run(gctx) })
	g.Go(func() error { return srv.ListenAndServe(gctx, cfg.ListenAddr) })

	waitErr := g.Wait()
	if waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		slog.Error("wxdashd exited with error", "error", waitErr)
	}

	// Always run graceful cleanup, even on error.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	_ = s.Close()

	slog.Info("wxdashd shutdown complete")
	if waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		return waitErr
	}
	return nil
}

func setupLogging() {
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}

	if logFormat == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// redactDSN masks the password in a PostgreSQL DSN for safe display.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return dsn
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}
