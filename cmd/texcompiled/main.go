package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/p-arndt/texcompile/internal/api"
	"github.com/p-arndt/texcompile/internal/clock"
	"github.com/p-arndt/texcompile/internal/config"
	"github.com/p-arndt/texcompile/internal/docker"
	"github.com/p-arndt/texcompile/internal/metastore"
	"github.com/p-arndt/texcompile/internal/reaper"
	"github.com/p-arndt/texcompile/internal/render"
	"github.com/p-arndt/texcompile/internal/sandbox"
	"github.com/p-arndt/texcompile/internal/session"
	"github.com/p-arndt/texcompile/internal/taskqueue"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("texcompiled", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	cfgPath := fs.String("config", "", "path to texcompile.yaml")
	logLevelStr := fs.String("log-level", "", "log level: debug, info, warn, error (default from TEXCOMPILE_LOG or info)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	logLevel := slog.LevelInfo
	if v := *logLevelStr; v != "" {
		logLevel = parseLogLevel(v, logLevel)
	} else if v := os.Getenv("TEXCOMPILE_LOG"); v != "" {
		logLevel = parseLogLevel(v, logLevel)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))

	path := *cfgPath
	if path == "" {
		for _, p := range []string{"texcompile.yaml", "/etc/texcompile/texcompile.yaml"} {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		logger.Error("load config", "error", err)
		return 1
	}
	logger.Debug("config loaded", "config_path", path, "working_directory", cfg.WorkingDirectory, "listen", cfg.Listen, "metastore_backend", cfg.MetastoreBackend)

	root, err := sandbox.New(cfg.WorkingDirectory)
	if err != nil {
		logger.Error("open working directory", "error", err)
		return 1
	}

	var store metastore.Store
	switch cfg.MetastoreBackend {
	case "sqlite":
		store, err = metastore.NewSQLite(cfg.SQLitePath)
	default:
		store, err = metastore.NewRedis(cfg.RedisURL)
	}
	if err != nil {
		logger.Error("open metastore", "error", err, "backend", cfg.MetastoreBackend)
		return 1
	}
	defer store.Close()

	mgr := session.NewManager(root, cfg.InstanceKey, cfg.SessionTTLSec, store, clock.Real{}, cfg.AllowedCompilers)

	runner, closeRunner, err := buildRunner(cfg, logger)
	if err != nil {
		logger.Error("build command runner", "error", err)
		return 1
	}
	if closeRunner != nil {
		defer closeRunner()
	}

	renderer := render.NewRenderer(mgr, runner, time.Duration(cfg.RenderExecTimeoutSec)*time.Second)

	workers := cfg.TaskQueueWorkers
	queue := taskqueue.New(workers, 0, logger)
	defer queue.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rpr := reaper.New(mgr, clock.Real{}, time.Duration(cfg.ClearExpiredIntervalSec)*time.Second, logger)
	go rpr.Run(ctx)

	srv := api.NewServer(mgr, renderer, queue, clock.Real{}, logger)

	httpServer := &http.Server{
		Addr:         cfg.Listen,
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		<-sigCh
		logger.Info("shutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", "addr", cfg.Listen)
	fmt.Fprintf(os.Stderr, "\n  texcompiled ready\n  API: http://%s/api\n\n", cfg.Listen)

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		return 1
	}
	return 0
}

// buildRunner picks the local or sandboxed command backend per
// sandbox.enabled (RENDER_SANDBOX_ENABLED), returning an optional cleanup func for backends
// that hold a live connection (the Docker client).
func buildRunner(cfg *config.Config, logger *slog.Logger) (render.CommandRunner, func(), error) {
	if !cfg.Sandbox.Enabled {
		return render.LocalRunner{}, nil, nil
	}

	dc, err := docker.New()
	if err != nil {
		return nil, nil, fmt.Errorf("connect to docker: %w", err)
	}
	if err := dc.Ping(context.Background()); err != nil {
		return nil, nil, fmt.Errorf("ping docker: %w", err)
	}
	logger.Info("render sandbox enabled", "image", cfg.Sandbox.Image)

	runner := &render.ContainerRunner{
		Client: dc,
		Image:  cfg.Sandbox.Image,
		Limits: docker.Limits{
			CPULimit:    cfg.Defaults.CPULimit,
			MemLimitMB:  cfg.Defaults.MemLimitMB,
			PidsLimit:   cfg.Defaults.PidsLimit,
			NetworkMode: cfg.Defaults.NetworkMode,
		},
	}
	return runner, func() { dc.Close() }, nil
}

func parseLogLevel(v string, fallback slog.Level) slog.Level {
	switch v {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return fallback
	}
}
