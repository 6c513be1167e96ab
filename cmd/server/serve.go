package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"research-analyzer/internal/api"
	"research-analyzer/internal/arxiv"
	"research-analyzer/internal/catalog"
	"research-analyzer/internal/config"
	"research-analyzer/internal/history"
	"research-analyzer/internal/logging"
	"research-analyzer/internal/platform"
	"research-analyzer/internal/research"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the research API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Debug, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync()

	cat, err := loadCatalog(cfg)
	if err != nil {
		return err
	}
	if err := cat.ValidateEngine(cfg.Engine); err != nil {
		logger.Warn("default engine is not in the catalog", zap.String("engine", cfg.Engine))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := research.MustNewMetrics(registry)

	client := platform.NewHTTPClient(cfg.BaseURL, cfg.APIKey, cfg.RequestTimeout)
	driver := research.NewDriver(client, research.DriverConfig{
		MaxRetries:        cfg.MaxRetries,
		BaseDelay:         cfg.RetryDelay,
		PollInterval:      cfg.PollInterval,
		PollMaxAttempts:   cfg.PollMaxAttempts,
		HeartbeatInterval: research.DefaultDriverConfig().HeartbeatInterval,
		AcademicSearchURL: cfg.ArxivServiceURL,
	}, logger, metrics)

	deps := api.Dependencies{Gatherer: registry, Logger: logger}
	var recorder research.Recorder
	if cfg.HistoryEnabled() {
		store, err := history.NewStore(cfg.HistoryDBPath)
		if err != nil {
			return fmt.Errorf("failed to open history: %w", err)
		}
		defer store.Close()
		recorder = store
		deps.History = store
	} else {
		logger.Info("run history disabled")
	}
	if cfg.ArxivServiceURL != "" {
		deps.Academic = arxiv.NewClient(cfg.ArxivServiceURL, 10*time.Second)
	} else {
		logger.Warn("ARXIV_SERVICE_URL not set, academic search disabled")
	}

	deps.Research = research.NewService(cat, driver, research.ServiceConfig{
		DefaultEngine: cfg.Engine,
		PoolSize:      cfg.WorkerPoolSize,
		StreamTimeout: cfg.StreamTimeout,
	}, recorder, metrics, logger)

	// Create server
	srv := api.NewServer(cfg, deps)
	router := api.NewRouter(srv)

	return listenAndServe(ctx, &http.Server{
		Addr:        cfg.Addr(),
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		// Disabled for streaming responses
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}, logger)
}

func loadCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	if cfg.CatalogFile == "" {
		return catalog.Default(), nil
	}
	return catalog.Load(cfg.CatalogFile)
}

// listenAndServe runs server until SIGINT or SIGTERM, then shuts it down
// gracefully.
func listenAndServe(ctx context.Context, server *http.Server, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
