package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/routecore/routecore/internal/api"
	"github.com/routecore/routecore/internal/auth"
	"github.com/routecore/routecore/internal/cdr"
	"github.com/routecore/routecore/internal/config"
	"github.com/routecore/routecore/internal/database"
	"github.com/routecore/routecore/internal/metrics"
	"github.com/routecore/routecore/internal/routing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging.
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	slog.Info("starting routecore",
		"http_port", cfg.HTTPPort,
		"data_dir", cfg.DataDir,
	)

	// Open database and run migrations.
	db, err := database.Open(cfg.DataDir)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	tenants := database.NewTenantRepository(db)
	domains := database.NewDomainRepository(db)
	ipbxes := database.NewIPBXRepository(db)
	carriers := database.NewCarrierRepository(db)
	trunks := database.NewCarrierTrunkRepository(db)
	rules := database.NewRoutingRuleRepository(db)
	dids := database.NewDIDRepository(db)
	cdrs := database.NewCDRRepository(db)

	// Application context for background work.
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	// Build the routing index from persisted rules and DIDs.
	index := routing.NewIndex(tenants, rules, dids, logger)
	if err := index.ReloadAll(appCtx); err != nil {
		slog.Error("failed to build routing index", "error", err)
		os.Exit(1)
	}

	resolver := routing.NewResolver(index, trunks, ipbxes, logger)
	matcher := auth.NewMatcher(ipbxes, trunks, logger)

	// Optional Postgres mirror for call detail records.
	var archive cdr.Archiver
	if cfg.PGDSN != "" {
		pg, err := cdr.NewPGArchive(appCtx, cfg.PGDSN, logger)
		if err != nil {
			slog.Error("failed to connect cdr archive", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		archive = pg
		slog.Info("cdr archive enabled")
	}
	recorder := cdr.NewRecorder(cdrs, archive, logger)

	jwtSecret, err := cfg.JWTSecretBytes()
	if err != nil {
		slog.Error("failed to load jwt secret", "error", err)
		os.Exit(1)
	}

	// Prometheus registry with process/runtime collectors plus our own.
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.NewCollector(resolver, matcher, recorder, tenants, cdrs, time.Now()),
	)

	server := api.NewServer(api.Deps{
		Config:   cfg,
		Logger:   logger,
		Tenants:  tenants,
		Domains:  domains,
		IPBXes:   ipbxes,
		Carriers: carriers,
		Trunks:   trunks,
		Rules:    rules,
		DIDs:     dids,
		CDRs:     cdrs,

		Matcher:  matcher,
		Resolver: resolver,
		Index:    index,
		Recorder: recorder,

		JWTSecret:      jwtSecret,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})
	defer server.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      server,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt or server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	// Graceful shutdown with timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("routecore stopped")
}
