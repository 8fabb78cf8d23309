package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/3leaps/batchlens/internal/observability"
	"github.com/3leaps/batchlens/internal/server"
	"github.com/3leaps/batchlens/internal/server/handlers"
	"github.com/3leaps/batchlens/pkg/jobregistry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start the batchlens HTTP API.

Routes:
  GET  /health, /health/live, /health/ready, /health/startup
  GET  /version
  GET  /api/jobs[?match=<glob>]
  GET  /api/jobs/{job_id}
  POST /api/jobs            (rejected with 403 in readonly mode)
  GET  /api/workers
  GET  /api/partition?chunks=N[&start=S&end=E]

The server stops gracefully on SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "", "Bind address (default from config: localhost)")
	serveCmd.Flags().Int("port", 0, "Listen port (default from config: 8080)")
}

// serveOverrides maps serve's --host/--port onto server config. Commands
// without those flags contribute nothing.
func serveOverrides(cmd *cobra.Command) map[string]any {
	flags := cmd.Flags()
	srv := map[string]any{}
	if f := flags.Lookup("host"); f != nil && f.Changed {
		srv["host"] = f.Value.String()
	}
	if f := flags.Lookup("port"); f != nil && f.Changed {
		if port, err := flags.GetInt("port"); err == nil {
			srv["port"] = port
		}
	}
	if len(srv) == 0 {
		return nil
	}
	return map[string]any{"server": srv}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadedConfig()
	if err != nil {
		return err
	}
	name := binaryName()

	if err := observability.InitServerLogger(name, cfg.Logging.Level, cfg.Logging.Profile); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to initialize server logger", err)
	}
	logger := observability.ServerLogger
	defer observability.Sync()

	shutdownTracing, err := observability.InitTracing(cfg.Tracing.Exporter, name, os.Stdout)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to initialize tracing", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn("Trace exporter shutdown failed", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := openBackend(ctx, cfg, jobregistry.OriginHTTP, logger)
	if err != nil {
		return commandError("Failed to open backend", err)
	}
	defer func() { _ = b.Close() }()

	health := handlers.InitHealthManager(versionInfo.Version)
	health.RegisterChecker("store", handlers.HealthCheckerFunc(b.Service.Ping))

	opts := []server.Option{
		server.WithTracker(b.Service),
		server.WithVersion(handlers.VersionInfo{
			Name:      name,
			Version:   versionInfo.Version,
			Commit:    versionInfo.Commit,
			BuildDate: versionInfo.BuildDate,
			Backend:   b.Kind,
			ReadOnly:  b.Service.ReadOnly(),
		}),
		server.WithLogger(logger),
		server.WithTracerProvider(otel.GetTracerProvider()),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout),
	}
	if cfg.RateLimit.Enabled {
		opts = append(opts, server.WithRateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
	}
	srv := server.New(cfg.Server.Host, cfg.Server.Port, opts...)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	logger.Info("batchlens API ready",
		zap.String("addr", srv.Addr()),
		zap.String("backend", b.Kind),
		zap.Bool("readonly", b.Service.ReadOnly()),
		zap.Bool("ratelimit", cfg.RateLimit.Enabled),
		zap.String("tracing", cfg.Tracing.Exporter))

	select {
	case err := <-errCh:
		if err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Server failed", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
		return exitError(foundry.ExitSignalInt, "Shutdown incomplete", err)
	}
	return <-errCh
}

func binaryName() string {
	if id := GetAppIdentity(); id != nil && id.BinaryName != "" {
		return id.BinaryName
	}
	return "batchlens"
}
