// Command stageflowd serves the tourist feedback use cases over HTTP.
//
// Configuration is read from the YAML file named by STAGEFLOW_CONFIG, or
// the built-in defaults when it is unset. Prometheus metrics are exposed
// on the configured metrics path.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vnykmshr/stageflow/internal/config"
	"github.com/vnykmshr/stageflow/internal/feedback"
	"github.com/vnykmshr/stageflow/internal/httpapi"
	"github.com/vnykmshr/stageflow/pkg/caching/flightcache"
	"github.com/vnykmshr/stageflow/pkg/common/clock"
	"github.com/vnykmshr/stageflow/pkg/logging"
	"github.com/vnykmshr/stageflow/pkg/scheduling/scheduler"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "stageflowd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}

	logger, syncLog, err := cfg.Log.NewLogger()
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = syncLog() }()

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	deps := config.Deps{
		Clock:   clock.System{},
		Logger:  logger,
		Metrics: cfg.Metrics.NewRegistry(promRegistry),
	}

	if client := cfg.Gateway.Quota.NewClient(); client != nil {
		deps.QuotaClient = client
		defer func() { _ = client.Close() }()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, cleanup, err := buildService(ctx, cfg, deps)
	if err != nil {
		return err
	}
	defer cleanup()

	sched := scheduler.NewWithConfig(scheduler.Config{
		TaskTimeout: cfg.Server.ShutdownTimeout,
		Logger:      logger,
		OnError: func(id string, err error) {
			logger.Warn("scheduled task failed", logging.Fields{"task": id, "error": err.Error()})
		},
	})
	if cfg.Cache.Sweep != "" {
		for _, c := range svc.Caches() {
			if err := flightcache.ScheduleSweep(sched, cfg.Cache.Sweep, c); err != nil {
				return fmt.Errorf("schedule sweep of %s: %w", c.Name(), err)
			}
		}
	}
	if err := sched.Start(); err != nil {
		return err
	}

	mux := http.NewServeMux()
	httpapi.NewServer(svc, httpapi.Config{
		RequestTimeout: cfg.Server.RequestTimeout,
		RetryAfter:     cfg.Gateway.BreakerCooldown,
		Logger:         logger,
	}).RegisterRoutes(mux)
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", logging.Fields{
			"addr":           cfg.Server.Addr,
			"cache_provider": cfg.Cache.Provider,
			"store":          cfg.Store.Backend,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		<-sched.Stop()
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)

	select {
	case <-sched.Stop():
	case <-shutdownCtx.Done():
		logger.Warn("scheduled tasks still running at shutdown", nil)
	}
	return err
}

// buildService wires the feedback service from cfg. cleanup releases the
// cache provider and record store.
func buildService(ctx context.Context, cfg config.Config, deps config.Deps) (*feedback.Service, func(), error) {
	cacheProvider, err := cfg.Cache.NewProvider(ctx, deps)
	if err != nil {
		return nil, nil, fmt.Errorf("cache provider: %w", err)
	}
	records, recordsCloser, err := cfg.Store.NewRecords()
	if err != nil {
		_ = cacheProvider.Close(ctx)
		return nil, nil, fmt.Errorf("record store: %w", err)
	}
	cleanup := func() {
		_ = cacheProvider.Close(context.Background())
		_ = recordsCloser.Close()
	}

	fail := func(err error) (*feedback.Service, func(), error) {
		cleanup()
		return nil, nil, err
	}

	dirGW, err := cfg.Gateway.NewGateway("directory", deps)
	if err != nil {
		return fail(err)
	}
	storeGW, err := cfg.Gateway.NewGateway("records", deps)
	if err != nil {
		return fail(err)
	}
	sites, err := config.NewCache[feedback.Site](cfg.Cache, "sites", cacheProvider, deps)
	if err != nil {
		return fail(err)
	}
	visited, err := config.NewCache[[]feedback.VisitedSite](cfg.Cache, "visited", cacheProvider, deps)
	if err != nil {
		return fail(err)
	}

	svc, err := feedback.NewService(feedback.Config{
		Auth:               cfg.Feedback.NewAuth(),
		Directory:          cfg.Feedback.NewDirectory(),
		Records:            records,
		DirectoryGateway:   dirGW,
		StoreGateway:       storeGW,
		Sites:              sites,
		Visited:            visited,
		MaxParallelLookups: cfg.Feedback.MaxParallelLookups,
		AllowStale:         cfg.Cache.AllowStale,
		Clock:              deps.Clock,
		Logger:             deps.Logger,
		Metrics:            deps.Metrics,
	})
	if err != nil {
		return fail(err)
	}
	return svc, cleanup, nil
}
