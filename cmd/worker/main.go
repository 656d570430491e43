// Shopfront - Offline Resilience Layer for Web Storefronts
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shopfront

// Package main is the entry point for the Shopfront offline worker.
//
// The worker fronts a web storefront's origin server and keeps the
// storefront usable across network loss:
//
//  1. Configuration: layered via Koanf v2 (defaults, config file, env)
//  2. Storage: one Badger database shared by the cart queue and the two
//     generation-tagged response caches
//  3. Install/activate: precache the critical asset list, then sweep
//     cache generations that are no longer current
//  4. Messaging: WebSocket hub for attached foregrounds, command bus,
//     and the dispatcher that applies commands to the queue and caches
//  5. Synchronizer: drains the cart queue to the remote endpoint with
//     at-least-once delivery, on a schedule and on explicit triggers
//  6. Edge: chi router serving intercepted requests cache-first with
//     stale-while-revalidate, plus /ws, /healthz, and /metrics
//
// Everything long-running is supervised by a suture tree; SIGINT and
// SIGTERM trigger a graceful, bounded shutdown.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/shopfront/internal/cache"
	"github.com/tomtom215/shopfront/internal/config"
	"github.com/tomtom215/shopfront/internal/interceptor"
	"github.com/tomtom215/shopfront/internal/logging"
	"github.com/tomtom215/shopfront/internal/messenger"
	"github.com/tomtom215/shopfront/internal/queue"
	"github.com/tomtom215/shopfront/internal/supervisor"
	"github.com/tomtom215/shopfront/internal/supervisor/services"
	"github.com/tomtom215/shopfront/internal/syncer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Str("addr", cfg.Server.Addr()).
		Str("upstream", cfg.Upstream.URL).
		Str("cache_generation", cfg.Cache.Generation).
		Msg("shopfront worker starting")

	if err := run(cfg); err != nil && !errors.Is(err, context.Canceled) {
		logging.Fatal().Err(err).Msg("worker exited with error")
	}
	logging.Info().Msg("worker stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// One Badger instance backs the durable cart queue and both response
	// caches, under distinct key prefixes.
	db, err := badger.Open(badger.DefaultOptions(cfg.Storage.Path).WithLogger(nil))
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("closing storage")
		}
	}()

	store := queue.NewStore(db)
	upstream := interceptor.NewUpstreamClient(cfg.Upstream.URL, cfg.Upstream.FetchTimeout)

	caches, err := cache.NewManager(db, upstream, cfg.Cache.PrecacheName(), cfg.Cache.RuntimeName())
	if err != nil {
		return err
	}

	// Install then activate: fill the precache (individual failures are
	// skipped), then sweep every generation that is no longer current.
	caches.Precache(ctx, cfg.Cache.PrecacheURLs)
	if err := caches.EvictStale(ctx); err != nil {
		logging.Warn().Err(err).Msg("stale cache sweep failed")
	}

	bus, err := messenger.NewBus(cfg.Messaging)
	if err != nil {
		return err
	}
	defer bus.Close()

	hub := messenger.NewHub()
	sync := syncer.New(store, cfg.Sync.APIBaseURL, cfg.Sync.Timeout, hub)
	// The dispatcher subscribes here, before the router exposes /ws, so
	// commands cannot slip past an unsubscribed bus during startup.
	dispatcher, err := messenger.NewDispatcher(bus, store, sync, caches)
	if err != nil {
		return err
	}
	scheduler := syncer.NewScheduler(sync, cfg.Sync.Interval, cfg.Sync.ProbeInterval)

	ic := interceptor.New(caches, upstream, cfg.Cache.AppShellPath,
		cfg.Cache.RevalidatePerSecond, cfg.Cache.RevalidateBurst)
	wsHandler := messenger.NewWSHandler(hub, bus, cfg.Server.CORSOrigins)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      newRouter(cfg, ic, wsHandler),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}

	tree, err := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		return err
	}
	tree.AddDataService(services.NewStorageGCService(db, 0))
	tree.AddMessagingService(hub)
	tree.AddMessagingService(dispatcher)
	tree.AddMessagingService(scheduler)
	tree.AddEdgeService(services.NewHTTPServerService(server, 10*time.Second))

	logging.Info().Msg("supervisor tree starting")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("shutdown signal received")
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
			for _, svc := range report {
				logging.Warn().Str("service", svc.Name).Msg("service did not stop in time")
			}
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// newRouter assembles the edge: operational endpoints first, then the
// interceptor as the catch-all fronting the storefront origin.
func newRouter(cfg *config.Config, ic *interceptor.Interceptor, wsHandler *messenger.WSHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", handleHealthz)
	r.Handle("/metrics", promhttp.Handler())
	r.With(httprate.LimitByIP(cfg.Server.WSRateLimit, time.Minute)).
		Get("/ws", wsHandler.ServeHTTP)

	r.Handle("/*", ic)
	return r
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
