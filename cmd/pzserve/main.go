package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dusted-go/logging/prettylog"
	"github.com/urfave/cli/v2"

	"github.com/pzserve/pzserve/internal/config"
	"github.com/pzserve/pzserve/internal/httpserver"
	"github.com/pzserve/pzserve/internal/metrics"
)

func main() {
	app := &cli.App{
		Name:  "pzserve",
		Usage: "serve static files and proxy API traffic to a backend on one port",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "static-dir",
				Usage:   "path to static files directory (e.g. 'dist/')",
				EnvVars: []string{"PZSERVE_STATIC_DIR"},
			},
			&cli.StringFlag{
				Name:    "api",
				Usage:   "backend API address or URL (e.g. '127.0.0.1:8081')",
				EnvVars: []string{"PZSERVE_API"},
			},
			&cli.StringFlag{
				Name:    "api-path",
				Usage:   "API path prefix (default: '" + config.DefaultAPIPathPrefix + "')",
				EnvVars: []string{"PZSERVE_API_PATH"},
			},
			&cli.StringFlag{
				Name:    "bind",
				Usage:   "server bind address (default: '" + config.DefaultBindAddr + "')",
				EnvVars: []string{"PZSERVE_BIND"},
			},
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to a YAML config file",
				EnvVars: []string{"PZSERVE_CONFIG"},
			},
			&cli.DurationFlag{
				Name:    "upstream-timeout",
				Usage:   "timeout for backend calls (0 disables)",
				EnvVars: []string{"PZSERVE_UPSTREAM_TIMEOUT"},
			},
			&cli.StringFlag{
				Name:    "metrics-addr",
				Usage:   "bind address for the /metrics and /healthz listener (disabled when empty)",
				EnvVars: []string{"PZSERVE_METRICS_ADDR"},
			},
			&cli.BoolFlag{
				Name:    "log-json",
				Usage:   "emit JSON logs instead of the pretty development format",
				EnvVars: []string{"PZSERVE_LOG_JSON"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "log level: debug, info, warn, error",
				Value:   "info",
				EnvVars: []string{"PZSERVE_LOG_LEVEL"},
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "pzserve: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(config.Options{
		ConfigFile:      c.String("config"),
		StaticDir:       c.String("static-dir"),
		API:             c.String("api"),
		APIPath:         c.String("api-path"),
		Bind:            c.String("bind"),
		MetricsAddr:     c.String("metrics-addr"),
		UpstreamTimeout: c.Duration("upstream-timeout"),
	})
	if err != nil {
		return err
	}

	logger := newLogger(c.Bool("log-json"), c.String("log-level"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	srv := httpserver.New(cfg, logger, m)

	httpSrv := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		metricsSrv = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metricsHandler(m),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("metrics listener starting", "addr", cfg.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", "error", err)
			}
		}()
	}

	logger.Info("serving static files", "dir", cfg.StaticRoot)
	logger.Info("proxying API traffic", "prefix", cfg.APIPathPrefix+"/*", "upstream", cfg.APIBaseURL+cfg.APIPathPrefix+"/")
	logger.Info("server running", "addr", "http://"+cfg.BindAddr)

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics shutdown failed", "error", err)
		}
	}

	logger.Info("pzserve stopped")
	return nil
}

func metricsHandler(m *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	return mux
}

func newLogger(jsonOutput bool, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(level)}
	if jsonOutput {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(prettylog.NewHandler(opts))
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
