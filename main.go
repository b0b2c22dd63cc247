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
	_ "time/tzdata"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sadopc/platelog/internal/cache"
	"github.com/sadopc/platelog/internal/config"
	"github.com/sadopc/platelog/internal/daylog"
	"github.com/sadopc/platelog/internal/logger"
	"github.com/sadopc/platelog/internal/metrics"
	"github.com/sadopc/platelog/internal/remote"
	"github.com/sadopc/platelog/internal/store"
	"github.com/sadopc/platelog/internal/tui"
	"github.com/sadopc/platelog/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(".env")
	if err != nil {
		return err
	}

	level, _ := logger.ParseLevel(cfg.LogLevel)
	logFile, err := logger.OpenFile(cfg.LogFile)
	if err != nil {
		return err
	}
	defer logFile.Close()
	log := logger.SetupDefault(logFile, level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Settings, streak state and (by default) the day cache.
	db, err := store.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	logStore, closeLogStore, err := openLogStore(cfg, log)
	if err != nil {
		return err
	}
	defer closeLogStore()

	var dayCache daylog.Cache = db
	var purger worker.Purger = db
	if cfg.Cache == config.CacheRedis {
		rc, err := cache.NewRedisCache(ctx, cfg.RedisURL, cfg.CacheTTL)
		if err != nil {
			return err
		}
		defer rc.Close()
		dayCache, purger = rc, nil
	}

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metrics.SetupMetricsRoute(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server stopped", slog.String("error", err.Error()))
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			srv.Shutdown(sctx)
		}()
	}

	session := daylog.NewSession(ctx, cfg.UserID, logStore, dayCache, db, daylog.Options{
		Calendar:    daylog.Calendar{Location: cfg.Location},
		CacheTTL:    cfg.CacheTTL,
		MaxScanDays: cfg.StreakScanDays,
		Workers:     cfg.MutationWorkers,
		Logger:      log,
		Metrics:     collector,
	})

	sched := worker.NewScheduler(cfg.Location, log)
	var purge *worker.PurgeJob
	if purger != nil {
		purge = worker.NewPurgeJob(purger, cfg.CacheTTL, log, collector)
	}
	if err := worker.Register(sched, session, purge); err != nil {
		return err
	}
	sched.Start()

	log.Info("starting platelog",
		slog.String("user_id", cfg.UserID),
		slog.Bool("remote", cfg.UsesRemote()),
		slog.String("cache", cfg.Cache),
	)

	p := tea.NewProgram(tui.NewApp(session, db), tea.WithAltScreen(), tea.WithContext(ctx))
	_, runErr := p.Run()
	if errors.Is(runErr, tea.ErrProgramKilled) {
		runErr = nil
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := sched.Stop(sctx); err != nil {
		log.Warn("scheduler did not stop cleanly", slog.String("error", err.Error()))
	}
	if err := session.Close(sctx); err != nil {
		log.Warn("pending mutations not flushed", slog.String("error", err.Error()))
	}
	return runErr
}

// openLogStore returns the hosted log store when configured and a local
// SQLite one otherwise.
func openLogStore(cfg *config.Config, log *slog.Logger) (daylog.LogStore, func(), error) {
	if cfg.UsesRemote() {
		client, err := remote.New(remote.Config{
			URL:    cfg.RemoteURL,
			APIKey: cfg.RemoteAPIKey,
			RPS:    cfg.RemoteRPS,
			Logger: log,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("remote log store: %w", err)
		}
		return client, func() {}, nil
	}

	s, err := store.New(cfg.LogDBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log database: %w", err)
	}
	return s, func() { s.Close() }, nil
}
