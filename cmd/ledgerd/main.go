// Command ledgerd serves the tenant ledger over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"tenant-ledger/pkg/api"
	"tenant-ledger/pkg/cache"
	"tenant-ledger/pkg/cache/memory"
	"tenant-ledger/pkg/cache/redis"
	"tenant-ledger/pkg/chain"
	"tenant-ledger/pkg/config"
	"tenant-ledger/pkg/directory"
	"tenant-ledger/pkg/events"
	"tenant-ledger/pkg/fx"
	"tenant-ledger/pkg/ledger"
	"tenant-ledger/pkg/logging"
	"tenant-ledger/pkg/metrics"
	metricsmem "tenant-ledger/pkg/metrics/memory"
	promMetrics "tenant-ledger/pkg/metrics/prometheus"
	"tenant-ledger/pkg/resilience"
	"tenant-ledger/pkg/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", os.Getenv("LEDGER_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	logging.SetGlobal(logger)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("ledgerd failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Metrics: Prometheus for scraping, an in-memory snapshot for /metrics/json
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promCollector := promMetrics.NewPrometheusCollector("ledger")
	if err := promCollector.Register(registry); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	snapshot := metricsmem.NewMemoryCollector()
	mc := metrics.Fanout{promCollector, snapshot}

	repo, err := store.Open(cfg.Store)
	if err != nil {
		return err
	}
	defer repo.Close()
	logger.Info("store opened", zap.String("driver", cfg.Store.Driver))

	rates, err := buildResolver(cfg.FX, mc, logger)
	if err != nil {
		return err
	}
	defer rates.Close()

	dir := directory.New(uint(len(cfg.Directory))+10000, 0.01)
	for _, e := range cfg.Directory {
		if err := dir.Register(ctx, e); err != nil {
			return fmt.Errorf("seed directory %s/%s/%s: %w", e.Tenant, e.Kind, e.ID, err)
		}
	}

	publisher := events.NewAsyncPublisherWithMetrics(events.NewLogSink(logger), cfg.Events, mc)
	defer publisher.Close()

	l, err := ledger.New(repo, ledger.NewStaticTenants(cfg.Tenants...), rates, cfg.Ledger,
		ledger.WithLogger(logger),
		ledger.WithMetrics(mc),
		ledger.WithSink(publisher),
		ledger.WithClassifier(dir),
	)
	if err != nil {
		return err
	}

	server := api.NewServer(l, api.ServerConfig{
		Address:      cfg.Server.Address,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	},
		api.WithLogger(logger),
		api.WithDirectory(dir),
		api.WithMetricsHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})),
		api.WithMetricsSnapshot(func() any { return snapshot.Snapshot() }),
	)
	if err := server.Start(); err != nil {
		return err
	}
	logger.Info("ledgerd started",
		zap.String("address", cfg.Server.Address),
		zap.Int("tenants", len(cfg.Tenants)),
		zap.String("fx_provider", cfg.FX.Provider),
	)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("error stopping server", zap.Error(err))
	}
	if err := publisher.Flush(cfg.Server.ShutdownTimeout); err != nil {
		logger.Warn("events not flushed", zap.Error(err))
	}
	return nil
}

// buildResolver stacks the rate provider behind a circuit breaker and the
// L1 memory / L2 redis cache chain.
func buildResolver(cfg config.FXConfig, mc metrics.MetricsCollector, logger *logging.Logger) (*chain.Chain, error) {
	var (
		origin fx.Resolver
		source string
	)
	switch cfg.Provider {
	case config.ProviderStatic:
		static, err := fx.NewStaticResolverFromTable(config.ProviderStatic, cfg.Static)
		if err != nil {
			return nil, fmt.Errorf("static rates: %w", err)
		}
		origin, source = static, config.ProviderStatic
	default:
		origin, source = fx.NewHTTPResolver(cfg.HTTP), cfg.HTTP.Source
	}
	guarded := resilience.NewResilientResolverWithMetrics(source, origin, cfg.Breaker, mc)

	layers := []cache.Layer{memory.NewMemoryCache(cfg.Memory)}
	if cfg.RedisEnabled {
		l2, err := redis.NewRedisCache(cfg.Redis)
		if err != nil {
			// The ledger works without L2, just with more provider calls
			logger.Warn("redis rate cache unavailable", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		} else {
			layers = append(layers, l2)
		}
	}

	c, err := chain.NewWithMetrics(guarded, cfg.Cache, mc, layers)
	if err != nil {
		return nil, fmt.Errorf("rate cache chain: %w", err)
	}
	logger.Info("fx resolver ready", zap.String("source", source), zap.Stringer("chain", c))
	return c, nil
}
