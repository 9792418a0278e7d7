package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/UnknownOlympus/cartograph/internal/audit"
	"github.com/UnknownOlympus/cartograph/internal/cache"
	"github.com/UnknownOlympus/cartograph/internal/config"
	"github.com/UnknownOlympus/cartograph/internal/geocoding"
	"github.com/UnknownOlympus/cartograph/internal/metrics"
	"github.com/UnknownOlympus/cartograph/internal/repository"
	"github.com/UnknownOlympus/cartograph/internal/service"
	"github.com/UnknownOlympus/cartograph/internal/throttle"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// Constants for different environment types.
const (
	envLocal = "local"
	envDev   = "development"
	envProd  = "production"
)

// Pinger reports whether the database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// main is the entry point of the application.
func main() {
	v := config.NewViper()

	rootCmd := &cobra.Command{
		Use:   "cartograph",
		Short: "Backfill coordinates for stored addresses",
		Long: "Geocodes every address record without coordinates, writes the coordinates back " +
			"and appends the addresses it could not resolve to an audit CSV.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return run(cmd.Context(), cfg)
		},
	}

	if err := config.BindFlags(v, rootCmd.Flags()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// Create a context that will be canceled when an interrupt signal is received.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// run performs one backfill over the configured table.
func run(ctx context.Context, cfg *config.Config) error {
	logger := setupLogger(cfg.Env)

	// Create a separate registry for metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.NewMetrics(reg)

	// Initialize the database connection.
	dtb, err := repository.NewDatabase(
		cfg.Database.Host, cfg.Database.Port, cfg.Database.User, cfg.Database.Password, cfg.Database.Name,
	)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to connect to DB", "error", err)
		return err
	}
	defer dtb.Close()

	repo := repository.NewRepository(dtb, logger, cfg.Table)

	providerConfig := geocoding.ProviderConfig{
		Type:      geocoding.ProviderType(cfg.ProviderType),
		APIKey:    cfg.APIKey,
		RateLimit: rateLimit(cfg.MinDelay),
		Email:     cfg.ContactEmail,
		UserAgent: cfg.UserAgent,
		Logger:    logger,
	}

	provider, err := geocoding.NewProvider(providerConfig)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to create geocoding provider", "error", err)
		return err
	}
	logger.InfoContext(ctx, "Geocoding provider initialized", "type", cfg.ProviderType)

	client := geocoding.NewClient(provider, throttle.New(cfg.MinDelay),
		geocoding.WithMaxTries(cfg.MaxTries),
		geocoding.WithLogger(logger),
		geocoding.WithMetrics(appMetrics, cfg.ProviderType),
	)

	sink, err := audit.NewCSVSink(cfg.AuditFile)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to open audit file", "error", err)
		return err
	}
	defer func() {
		if errClose := sink.Close(); errClose != nil {
			logger.ErrorContext(ctx, "Failed to close audit file", "error", errClose)
		}
	}()

	backfill := service.NewBackfillService(logger, repo, client, sink, appMetrics, service.Options{
		BatchSize: cfg.BatchSize,
		Workers:   cfg.Workers,
		Cache:     cache.New(),
	})

	if cfg.Port > 0 {
		// Serve health and metrics while the run is in progress.
		go startMonitoringServer(ctx, logger, reg, dtb, cfg.Port)
	}

	logger.InfoContext(ctx, "Backfill started. Press Ctrl+C to stop.")

	counters, runErr := backfill.Run(ctx)

	// The summary is printed even for interrupted or failed runs.
	summaryCtx := context.WithoutCancel(ctx)
	logger.InfoContext(summaryCtx, "Backfill finished",
		"updated", counters.Updated,
		"no_result", counters.NoResult,
		"failed", counters.Failed,
		"audit_file", sink.Path())
	fmt.Fprintf(os.Stderr, "updated: %d, no result: %d, failed: %d, audit file: %s\n",
		counters.Updated, counters.NoResult, counters.Failed, sink.Path())

	if runErr != nil {
		logger.ErrorContext(summaryCtx, "Backfill stopped early", "error", runErr)
		return runErr
	}

	return nil
}

// rateLimit converts the throttle spacing into whole requests per second for providers
// with their own client-side quota. 0 leaves the provider default.
func rateLimit(minDelay time.Duration) int {
	if minDelay <= 0 {
		return 0
	}
	return max(1, int(time.Second/minDelay))
}

// newMonitoringMux builds the health check and metrics handlers.
func newMonitoringMux(ctx context.Context, log *slog.Logger, reg *prometheus.Registry, dtb Pinger) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(writer http.ResponseWriter, req *http.Request) {
		log.DebugContext(ctx, "Performing health checks...")
		status, body := http.StatusOK, "OK"
		if err := dtb.Ping(req.Context()); err != nil {
			status, body = http.StatusServiceUnavailable, "DB ping failed"
		}
		writer.WriteHeader(status)
		_, err := writer.Write([]byte(body))
		if err != nil {
			log.ErrorContext(ctx, "failed to write reply", "error", err)
		}

		log.DebugContext(ctx, "Health checks completed", "status", status)
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return mux
}

// startMonitoringServer serves /healthz and /metrics on port until ctx is done.
func startMonitoringServer(
	ctx context.Context,
	log *slog.Logger,
	reg *prometheus.Registry,
	dtb Pinger,
	port int,
) {
	log.InfoContext(ctx, "Starting monitoring server", "port", port)
	readTimeout := 5
	writeTimeout := 10
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      newMonitoringMux(ctx, log, reg, dtb),
		ReadTimeout:  time.Duration(readTimeout) * time.Second,
		WriteTimeout: time.Duration(writeTimeout) * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Duration(readTimeout)*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.ErrorContext(ctx, "Monitoring server failed", "error", err)
	}
}

// setupLogger initializes and returns a logger based on the environment provided.
func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
				Level:     slog.LevelDebug,
				AddSource: true,
			}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
				Level: slog.LevelInfo,
			}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
				Level:       slog.LevelWarn,
				ReplaceAttr: dropTime,
			}),
		)
	default:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
				Level:       slog.LevelError,
				ReplaceAttr: dropTime,
			}),
		)

		log.Error(
			"The env parameter was not specified or was invalid. Logging will be minimal, by default.",
			slog.String("available_envs", "local, development, production"))
	}

	return log
}

func dropTime(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey {
		return slog.Attr{}
	}
	return a
}
