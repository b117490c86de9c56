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

	"github.com/MimeLyc/storyclip/internal/config"
	"github.com/MimeLyc/storyclip/internal/httpapi"
	"github.com/MimeLyc/storyclip/internal/jobs"
	"github.com/MimeLyc/storyclip/internal/media"
	"github.com/MimeLyc/storyclip/internal/metrics"
	"github.com/MimeLyc/storyclip/internal/persistence"
	"github.com/MimeLyc/storyclip/internal/pipeline"
	"github.com/MimeLyc/storyclip/internal/probe"
	"github.com/MimeLyc/storyclip/pkg/icron"
	"github.com/MimeLyc/storyclip/pkg/log"
	"github.com/joho/godotenv"
)

const shutdownTimeout = 15 * time.Second

type workerPool interface {
	Start(exec jobs.Executor)
	Stop()
}

type cronEngine interface {
	Start()
	Stop() context.Context
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

type app struct {
	store  *persistence.SQLiteStore
	queue  *jobs.Queue
	exec   *pipeline.Executor
	cron   *icron.Runner
	server *httpapi.Server
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("Failed to load .env: %v", err)
	}

	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}
	log.InitLogger(log.ParseLevel(cfg.LogLevel))
	if cfg.LogFile != "" {
		fileLogger, err := log.NewFileLogger(cfg.LogFile, log.ParseLevel(cfg.LogLevel))
		if err != nil {
			log.Fatal("Failed to open log file: %v", err)
		}
		defer fileLogger.Close()
		log.SetGlobal(fileLogger.Logger)
	}

	a, err := build(cfg)
	if err != nil {
		log.Fatal("Failed to initialize: %v", err)
	}
	defer func() {
		if err := a.store.Close(); err != nil {
			log.Error("Failed to close store: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runWithComponents(ctx, cfg, a.queue, a.exec.Execute, a.cron, a.server); err != nil {
		log.Error("Server stopped with error: %v", err)
		os.Exit(1)
	}
}

func build(cfg *config.Config) (*app, error) {
	store, err := persistence.NewSQLiteStore(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}

	m := metrics.New()
	tools := media.Tools{YtDlp: cfg.Tools.YtDlp, FFmpeg: cfg.Tools.FFmpeg, FFprobe: cfg.Tools.FFprobe}
	ytdlp := media.NewYtDlp(cfg.Tools.YtDlp)
	ffmpeg := media.NewFfmpeg(cfg.Tools.FFmpeg, cfg.Tools.FFprobe)

	prober := probe.NewProber(nil, ytdlp)
	if cfg.YouTube.Enabled() {
		prober = probe.NewProber(probe.NewYouTubeClient(cfg.YouTube.APIKey, cfg.YouTube.APIURL, cfg.YouTube.Timeout), ytdlp)
	}

	exec := pipeline.NewExecutor(store, ytdlp, ffmpeg, tools, prober, pipeline.Config{
		MaxSegmentSec:    cfg.Pipeline.MaxSegmentSec,
		OutputDir:        cfg.Storage.OutputDir,
		ScratchRoot:      cfg.Storage.ScratchDir,
		ProgressInterval: cfg.Pipeline.ProgressInterval,
		Profile:          cfg.Pipeline.Profile,
	}, pipeline.WithMetrics(m))

	queue := jobs.NewQueue(cfg.Queue.Workers, store, jobs.WithRetries(cfg.Queue.MaxRetries, cfg.Queue.RetryDelay))

	runner := icron.NewRunner()
	err = runner.Add("scratch-sweep", cfg.Sweep.Cron, func() {
		removed, err := pipeline.SweepScratch(cfg.Storage.ScratchDir, cfg.Sweep.MaxAge)
		if err != nil {
			log.Error("Scratch sweep failed: %v", err)
			return
		}
		m.ScratchRemoved(removed)
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	server := httpapi.NewServer(jobs.NewResolver(store, queue), store,
		httpapi.WithAdmin(cfg.HTTP.AdminToken, cfg.Storage.OutputDir),
		httpapi.WithTools(tools),
		httpapi.WithMetrics(m),
		httpapi.WithSweepSchedule(cfg.Sweep.Cron),
	)

	return &app{
		store:  store,
		queue:  queue,
		exec:   exec,
		cron:   runner,
		server: server,
	}, nil
}

// runWithComponents blocks until ctx is cancelled or the HTTP server fails,
// then shuts everything down in reverse order.
func runWithComponents(ctx context.Context, cfg *config.Config, queue workerPool, exec jobs.Executor, cronEngine cronEngine, httpSrv httpServer) error {
	queue.Start(exec)
	cronEngine.Start()

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening on %s", cfg.HTTP.Addr)
		err := httpSrv.ListenAndServe(cfg.HTTP.Addr)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Shutting down")
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP shutdown failed: %v", err)
	}
	select {
	case <-cronEngine.Stop().Done():
	case <-shutdownCtx.Done():
		log.Warn("Cron tasks still running at shutdown")
	}
	queue.Stop()
	return runErr
}
