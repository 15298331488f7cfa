package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/worker"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const shutdownTimeout = 10 * time.Second

var (
	serveTenants []string
	serveWorkers int
)

// serveCmd runs the HTTP API together with the async run worker
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the async run worker",
	Long: `Serve starts the HTTP API, opens the run repository, the report cache
and the event bus, and consumes run requests published on
kestrel.run.requested for the configured tenants.

Extract paths in run requests are resolved inside --input-dir (input.dir)
and may not leave it.

The community tier uses SQLite, an in-memory cache and in-process
channels; the pro tier (tier: pro) uses PostgreSQL, Redis and NATS.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, cmd.OutOrStdout())
	},
}

func init() {
	defaults := domain.DefaultConfig()
	serveCmd.Flags().String("host", defaults.Server.Host, "listen host")
	serveCmd.Flags().Int("port", defaults.Server.Port, "listen port")
	serveCmd.Flags().String("input-dir", defaults.Input.Dir, "directory that request extract paths resolve in (default: working directory)")
	serveCmd.Flags().StringSliceVar(&serveTenants, "tenants", nil, "tenants whose async run requests are consumed (default: "+worker.DefaultTenantID+")")
	serveCmd.Flags().IntVar(&serveWorkers, "workers", 5, "concurrent async runs")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("input.dir", serveCmd.Flags().Lookup("input-dir"))

	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, cfg *domain.Config, out io.Writer) error {
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	if cfg.Tracing.Enabled {
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
	}

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	table, err := ruleTable(cfg.Scoring.RulesFile)
	if err != nil {
		return err
	}
	engine, err := rules.NewEngine()
	if err != nil {
		return fmt.Errorf("failed to initialize rule engine: %w", err)
	}
	if _, err := rules.SeedRepository(ctx, repo, table); err != nil {
		return err
	}
	count, err := rules.SyncFromRepository(ctx, repo, engine, table)
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	slog.Info("rule engine initialized", "rules_count", count)

	processor, err := pipeline.NewProcessor(engine, cfg.Scoring)
	if err != nil {
		return err
	}
	inputDir := cfg.Input.Dir
	if inputDir == "" {
		inputDir = "."
	}
	runner := worker.NewRunner(processor, repo, cacheImpl, busImpl, cfg.Cache.RunTTL).WithInputDir(inputDir)
	slog.Info("run requests confined to input directory", "input_dir", inputDir)

	asyncWorker := worker.NewWorker(busImpl, runner)
	if err := asyncWorker.Start(worker.Config{TenantIDs: serveTenants, WorkerCount: serveWorkers}); err != nil {
		return fmt.Errorf("failed to start async worker: %w", err)
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Repo:          repo,
		Cache:         cacheImpl,
		Bus:           busImpl,
		Engine:        engine,
		Runner:        runner,
		FallbackRules: table,
		RunTTL:        cfg.Cache.RunTTL,
	}, Version)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("kestrel is ready", "host", cfg.Server.Host, "port", cfg.Server.Port)
	printBanner(out, cfg)

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case err := <-errCh:
		if err != nil {
			_ = asyncWorker.Stop()
			return fmt.Errorf("server failed: %w", err)
		}
	}

	if err := asyncWorker.Stop(); err != nil {
		slog.Error("failed to stop async worker", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
	return nil
}

func printBanner(w io.Writer, cfg *domain.Config) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  ═══════════════════════════════════════════")
	fmt.Fprintln(w, "    KESTREL  claim anomaly & customer risk")
	fmt.Fprintln(w, "  ═══════════════════════════════════════════")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Version:  %s\n", Version)
	fmt.Fprintf(w, "  Tier:     %s\n", cfg.Tier)
	fmt.Fprintf(w, "  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  Endpoints:")
	fmt.Fprintln(w, "    POST   /runs                  - Score extracts synchronously")
	fmt.Fprintln(w, "    POST   /runs/async            - Queue a run on the event bus")
	fmt.Fprintln(w, "    GET    /runs                  - List runs")
	fmt.Fprintln(w, "    GET    /runs/{id}             - Get a run")
	fmt.Fprintln(w, "    GET    /runs/{id}/claims      - Claim anomaly report")
	fmt.Fprintln(w, "    GET    /runs/{id}/customers   - Customer segmentation report")
	fmt.Fprintln(w, "    GET    /rules                 - List reason rules")
	fmt.Fprintln(w, "    POST   /rules                 - Store a reason rule")
	fmt.Fprintln(w, "    DELETE /rules/{id}            - Delete a reason rule")
	fmt.Fprintln(w, "    POST   /rules/reload          - Reload rules from the store")
	fmt.Fprintln(w, "    GET    /health                - Health check")
	fmt.Fprintln(w, "    GET    /ready                 - Readiness check")
	fmt.Fprintln(w)
}
