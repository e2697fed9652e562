package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/expiry"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/review"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/worker"
)

const shutdownGrace = 10 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API, async worker and expiry scanner",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides KESTREL_PORT)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort > 0 {
		cfg.Server.Port = servePort
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"tenants", len(cfg.Compliance.Tenants),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Rule Engine
	engine, err := rules.NewEngine(cfg.Compliance.MaxConcurrentRules)
	if err != nil {
		return fmt.Errorf("failed to initialize rule engine: %w", err)
	}
	defer engine.Close()

	if err := loadRulesFromDatabase(ctx, repo, engine); err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	processor := review.NewProcessor(engine, m)
	processor.StrictTrades = cfg.Compliance.StrictTrades

	checks := review.NewService(repo, cacheImpl, busImpl, processor)
	if cfg.Compliance.CheckCacheTTL > 0 {
		checks.CacheTTL = cfg.Compliance.CheckCacheTTL
	}

	expirySvc := expiry.NewService(repo, cacheImpl, busImpl, m)

	// Async worker and expiry scanner run per tenant
	var asyncWorker *worker.Worker
	if len(cfg.Compliance.Tenants) > 0 {
		asyncWorker = worker.NewWorker(busImpl, checks, m)
		if err := asyncWorker.Start(worker.Config{TenantIDs: cfg.Compliance.Tenants}); err != nil {
			return fmt.Errorf("failed to start async worker: %w", err)
		}
		slog.Info("async worker started", "tenant_count", len(cfg.Compliance.Tenants))

		if cfg.Compliance.ExpiryScanInterval > 0 {
			go expirySvc.Run(ctx, cfg.Compliance.Tenants, cfg.Compliance.ExpiryWindowDays, cfg.Compliance.ExpiryScanInterval)
			slog.Info("expiry scanner started", "interval", cfg.Compliance.ExpiryScanInterval)
		}
	} else {
		slog.Info("no KESTREL_TENANTS configured - async worker and expiry scanner disabled")
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Repo:       repo,
		Cache:      cacheImpl,
		Bus:        busImpl,
		Engine:     engine,
		Checks:     checks,
		Expiry:     expirySvc,
		Compliance: cfg.Compliance,
		Tracing:    cfg.Tracing,
	}, reg, Version)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)
	printBanner(cmd, cfg, Version)

	var serveErr error
	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case serveErr = <-errCh:
		slog.Error("server failed", "error", serveErr)
	}

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
	return serveErr
}

// loadRulesFromDatabase loads global program rules into the engine.
// Rules are configured via POST /rules; there are no built-in defaults.
func loadRulesFromDatabase(ctx context.Context, repo domain.Repository, engine *rules.Engine) error {
	dbRules, err := repo.ListProgramRules(ctx, domain.GlobalTenant)
	if err != nil {
		slog.Warn("failed to list rules from database", "error", err)
		return nil
	}

	if len(dbRules) > 0 {
		slog.Info("loading rules from database", "count", len(dbRules))
		return engine.LoadRules(dbRules)
	}

	slog.Info("no program rules in database - configure via POST /rules API")
	return nil
}

func printBanner(cmd *cobra.Command, cfg *domain.Config, version string) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  KESTREL  insurance compliance engine")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Version:  %s\n", version)
	fmt.Fprintf(out, "  Tier:     %s\n", cfg.Tier)
	fmt.Fprintf(out, "  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  Endpoints:")
	fmt.Fprintln(out, "    POST /compliance/validate   - Validate an inline certificate")
	fmt.Fprintln(out, "    GET  /requirements          - Compose requirements for trades")
	fmt.Fprintln(out, "    POST /trade-coverage        - Check GL trade exclusions")
	fmt.Fprintln(out, "    POST /cois                  - Submit a certificate")
	fmt.Fprintln(out, "    POST /cois/{id}/check       - Check a stored certificate")
	fmt.Fprintln(out, "    GET  /cois/expiring         - List expiring policies")
	fmt.Fprintln(out, "    GET  /rules                 - List program rules")
	fmt.Fprintln(out, "    POST /rules                 - Create a program rule")
	fmt.Fprintln(out, "    GET  /health                - Health check")
	fmt.Fprintln(out, "    GET  /metrics               - Prometheus metrics")
	fmt.Fprintln(out)
}
