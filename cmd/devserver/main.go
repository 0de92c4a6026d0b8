// Command devserver runs a content OData service for local development.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	odata "github.com/nlstn/go-odata-content"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "devserver",
		Short:        "Content OData development server",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate the config file and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(configPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config ok: %s database, listening on %s\n", cfg.Database.Driver, cfg.Listen)
			return nil
		},
	})
	return root
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

func openDatabase(cfg DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Driver, err)
	}
	if cfg.Driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// NewService builds the service described by cfg with the demo schema and
// operations registered.
func NewService(cfg Config, logger *slog.Logger) (*odata.Service, *prometheus.Registry, error) {
	db, err := openDatabase(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	service, err := odata.NewServiceWithConfig(db, odata.ServiceConfig{
		ServiceRoot:       cfg.Service.Root,
		ExpansionLimit:    cfg.Service.ExpansionLimit,
		MaxExpandDepth:    cfg.Service.MaxExpandDepth,
		InvocationTimeout: cfg.Service.InvocationTimeout,
		DebugErrors:       cfg.Service.DebugErrors,
		RootType:          "Folder",
		BlobURL:           cfg.Service.BlobURL,
		Settings:          cfg.Service.Settings,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := service.SetLogger(logger); err != nil {
		return nil, nil, err
	}

	var registry *prometheus.Registry
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		exporter, err := promexporter.New(promexporter.WithRegisterer(registry))
		if err != nil {
			return nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
		}
		provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
		if err := service.SetObservability(odata.ObservabilityConfig{
			MeterProvider:      provider,
			ServiceName:        "odata-content-devserver",
			EnableServerTiming: cfg.Metrics.ServerTiming,
		}); err != nil {
			return nil, nil, err
		}
	}

	if err := registerSchema(service); err != nil {
		return nil, nil, err
	}
	if err := registerOperations(service); err != nil {
		return nil, nil, err
	}
	if err := service.SetPreRequestHook(identityHook); err != nil {
		return nil, nil, err
	}
	if cfg.Seed {
		if err := seed(odata.WithSystem(context.Background()), service); err != nil {
			return nil, nil, fmt.Errorf("seed: %w", err)
		}
	}
	return service, registry, nil
}

func serve(ctx context.Context, cfg Config) error {
	logger := newLogger(cfg.LogLevel)
	service, registry, err := NewService(cfg, logger)
	if err != nil {
		return err
	}
	defer service.Close()

	mux := http.NewServeMux()
	mux.Handle(service.ServiceRoot(), service)
	mux.Handle(service.ServiceRoot()+"/", service)
	if registry != nil {
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Development server listening",
			"addr", cfg.Listen,
			"service_root", service.ServiceRoot(),
			"database", cfg.Database.Driver)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
