package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tinoosan/fetchq/internal/config"
	"github.com/tinoosan/fetchq/internal/downloader/httpfetch"
	"github.com/tinoosan/fetchq/internal/events"
	"github.com/tinoosan/fetchq/internal/extract"
	"github.com/tinoosan/fetchq/internal/logging"
	"github.com/tinoosan/fetchq/internal/metrics"
	"github.com/tinoosan/fetchq/internal/repo"
	"github.com/tinoosan/fetchq/internal/router"
	"github.com/tinoosan/fetchq/internal/scheduler"
	"github.com/tinoosan/fetchq/internal/service"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fetchq:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	l, logCloser, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logCloser.Close() }()
	slog.SetDefault(l)

	metrics.Register()

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore.Close(); err != nil {
			l.Error("close store", "err", err)
		}
	}()
	l.Info("store ready", "backend", cfg.Store)

	fetcher := httpfetch.New(nil, cfg.Fetcher())
	fetcher.SetLogger(l)

	hub := events.NewHub()
	sched := scheduler.New(cfg.Scheduler(), fetcher, store, hub, l)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = sched.Load(ctx)
	cancel()
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}
	sched.Run()

	allow, err := cfg.AllowList()
	if err != nil {
		return err
	}
	mgr := service.NewManager(service.Options{Root: cfg.Root, Allow: &allow}, sched, hub, l)

	if cfg.Queue.AutoStart {
		if err := mgr.Start(context.Background()); err != nil {
			return fmt.Errorf("start queue: %w", err)
		}
	}

	if cfg.APIToken == "" {
		l.Warn("FETCHQ_API_TOKEN is not set; every /v1 request will be rejected")
	}
	ex := extract.NewRegistry(extract.NewDirect(allow, &http.Client{Timeout: 15 * time.Second}, l))

	var ready repo.Pinger
	if p, ok := store.(repo.Pinger); ok {
		ready = p
	}

	server := &http.Server{
		Addr: cfg.Listen,
		Handler: router.New(l, router.Deps{
			Queue:     mgr,
			Extractor: ex,
			Ready:     ready,
			Token:     cfg.APIToken,
		}),
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		l.Info("starting fetchq API", "addr", server.Addr, "root", cfg.Root, "workers", cfg.Queue.MaxConcurrency)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-sigCtx.Done():
		l.Info("received terminate, graceful shutdown")
	case err := <-serveErr:
		if err != nil {
			l.Error("server error", "err", err)
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		l.Error("http shutdown", "err", err)
	}
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		l.Warn("queue shutdown", "err", err)
	}
	l.Info("stopped")
	return nil
}

// openStore builds the configured task repository.
func openStore(cfg config.Config) (repo.TaskRepo, io.Closer, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return repo.NewInMemoryTaskRepo(), closerFunc(func() error { return nil }), nil
	case config.StoreSQLite:
		r, err := repo.NewSQLiteRepo(cfg.DataDir)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return r, r, nil
	case config.StorePostgres:
		params := cfg.PostgresParams()
		r, err := repo.NewPostgresRepo(params.DSN())
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres store: %w", err)
		}
		return r, r, nil
	}
	return nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
