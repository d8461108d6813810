package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/MimeLyc/transcription-service/internal/config"
	"github.com/MimeLyc/transcription-service/internal/engine"
	"github.com/MimeLyc/transcription-service/internal/httpapi"
	"github.com/MimeLyc/transcription-service/internal/jobs"
	"github.com/MimeLyc/transcription-service/internal/persistence"
	"github.com/MimeLyc/transcription-service/internal/queue"
	"github.com/MimeLyc/transcription-service/internal/service"
	"github.com/MimeLyc/transcription-service/internal/sweeper"
	"github.com/MimeLyc/transcription-service/pkg/log"
)

type scheduler interface {
	Schedule(ctx context.Context) error
}

type cronEngine interface {
	Start()
	Stop() context.Context
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

type queueWorker interface {
	Start() error
	Shutdown()
}

type poolStopper interface {
	Stop(ctx context.Context) error
}

// components are the long-running parts of one process. Nil fields are
// not run in the configured mode.
type components struct {
	scheduler scheduler
	cron      cronEngine
	http      httpServer
	worker    queueWorker
	pool      poolStopper
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatal("Failed to load .env: %v", err)
	}

	var opts []config.Option
	if path := config.RuntimeSettingsFilePath(); path != "" {
		settings, err := config.LoadRuntimeSettingsFile(path)
		if err != nil {
			log.Fatal("Failed to load settings file %s: %v", path, err)
		}
		opts = append(opts, config.WithRuntimeSettings(settings))
	}

	cfg, err := config.NewFromEnv(opts...)
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}
	log.InitLogger(log.ParseLevel(cfg.Log.Level), cfg.Log.Format)
	log.Info("Starting transcription service: mode=%s store=%s dispatch=%s", cfg.Mode, cfg.Storage.Backend, cfg.Dispatch.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	comps, cleanup, err := buildComponents(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to initialize: %v", err)
	}
	defer cleanup()

	if err := runWithComponents(ctx, cfg, comps); err != nil {
		log.Error("Service stopped with error: %v", err)
		cleanup()
		os.Exit(1)
	}
	log.Info("Service stopped")
}

func buildComponents(ctx context.Context, cfg *config.Config) (components, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
		closers = nil
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return components{}, cleanup, err
	}
	closers = append(closers, closeStore)

	eng := engine.New(engine.Config{
		Command: cfg.Engine.Command,
		Script:  cfg.Engine.Script,
		Model:   cfg.Engine.Model,
	}).WithStderrSink(engineLogWriter{})
	runner := service.NewRunner(store, eng)

	var comps components
	var dispatcher service.Dispatcher
	switch cfg.Dispatch.Backend {
	case config.DispatchAsynq:
		if cfg.Mode != config.ModeWorker {
			client := queue.NewClient(cfg.Redis, cfg.Dispatch)
			closers = append(closers, func() { _ = client.Close() })
			dispatcher = client
		}
		if cfg.Mode != config.ModeAPI {
			comps.worker = queue.NewWorker(cfg.Redis, cfg.Dispatch, runner.Run)
		}
	default:
		pool := jobs.NewPool(cfg.Dispatch.WorkerCount)
		pool.Start(runner.Run)
		comps.pool = pool
		dispatcher = pool
	}

	// API-only processes do not run the engine themselves.
	var checker service.EngineChecker = eng
	if cfg.Mode == config.ModeAPI {
		checker = nil
	}
	svc := service.New(store, dispatcher, checker)

	if cfg.Mode != config.ModeAPI {
		if err := svc.CheckEngine(); err != nil {
			log.Warn("%v | advice: %s", err, service.Advice(err))
		}
	}
	if cfg.Mode == config.ModeAll {
		if _, err := svc.RecoverInterrupted(ctx); err != nil {
			log.Warn("Failed to recover interrupted jobs: %v", err)
		}
	}

	c := cron.New()
	comps.cron = c
	if cfg.Mode != config.ModeWorker {
		comps.http = httpapi.NewServer(svc, cfg.Storage.UploadDir,
			httpapi.WithUI(cfg.HTTP.PublicDir, cfg.HTTP.UIEnabled),
			httpapi.WithMaxUploadBytes(cfg.HTTP.MaxUploadBytes()),
			httpapi.WithCORS(cfg.HTTP.CORSOrigins),
			httpapi.WithLogger(log.Zerolog()),
		)
		if cfg.Sweep.Enabled() {
			comps.scheduler = sweeper.New(cfg.Storage.UploadDir, cfg.Sweep.MaxAge, cfg.Sweep.CronExpr, c)
		}
	}

	return comps, cleanup, nil
}

func openStore(ctx context.Context, cfg *config.Config) (jobs.Store, func(), error) {
	noop := func() {}
	switch cfg.Storage.Backend {
	case config.StoreMemory:
		return persistence.NewMemoryStore(), noop, nil
	case config.StoreSQLite:
		if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
			return nil, noop, fmt.Errorf("create data dir: %w", err)
		}
		store, err := persistence.NewSQLiteStore(cfg.Storage.DBPath())
		if err != nil {
			return nil, noop, err
		}
		return store, func() { _ = store.Close() }, nil
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, noop, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
		return persistence.NewRedisStore(client, cfg.Redis.Namespace), func() { _ = client.Close() }, nil
	default:
		store, err := persistence.NewFileStore(cfg.Storage.RecordsDir())
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil
	}
}

func runWithComponents(ctx context.Context, cfg *config.Config, comps components) error {
	if comps.scheduler != nil && comps.cron != nil {
		if err := comps.scheduler.Schedule(ctx); err != nil {
			return fmt.Errorf("schedule upload sweep: %w", err)
		}
		comps.cron.Start()
		defer func() { <-comps.cron.Stop().Done() }()
	}

	if comps.worker != nil {
		if err := comps.worker.Start(); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if comps.http != nil {
		g.Go(func() error {
			log.Info("HTTP server listening on %s", cfg.HTTP.Addr)
			if err := comps.http.ListenAndServe(cfg.HTTP.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		timeout := cfg.HTTP.ShutdownTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		var errs []error
		if comps.http != nil {
			if err := comps.http.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("http shutdown: %w", err))
			}
		}
		if comps.worker != nil {
			comps.worker.Shutdown()
		}
		if comps.pool != nil {
			if err := comps.pool.Stop(shutdownCtx); err != nil {
				log.Warn("Running jobs did not finish before shutdown: %v", err)
			}
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}

// engineLogWriter forwards engine stderr to the debug log.
type engineLogWriter struct{}

func (engineLogWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			log.Debug("engine: %s", line)
		}
	}
	return len(p), nil
}
