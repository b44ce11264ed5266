package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hsl-congestion-recorder/internal/config"
	"hsl-congestion-recorder/internal/metrics"
	"hsl-congestion-recorder/internal/recorder"
	"hsl-congestion-recorder/internal/routing"
	"hsl-congestion-recorder/internal/store"
	"hsl-congestion-recorder/internal/subscriber"
)

func main() {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("starting congestion recorder",
		"nats_subject", cfg.NATSSubject,
		"routing_api", cfg.RoutingAPIURL,
		"cache_enabled", cfg.RedisAddr != "",
		"log_level", cfg.LogLevel.String(),
	)

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Error("db open error", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := store.Ping(ctx, db); err != nil {
		logger.Error("db ping error", "error", err)
		os.Exit(1)
	}
	if err := store.EnsureSchema(ctx, db); err != nil {
		logger.Error("schema error", "error", err)
		os.Exit(1)
	}

	// Metrics setup
	mcol := metrics.NewCollector()
	if cfg.MetricsAddr != "" {
		srv := mcol.Serve(cfg.MetricsAddr)
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}
	rm := &recorderMetrics{c: mcol}

	// Routing API client, optionally fronted by the Redis match cache
	var matcher routing.TripMatcher = routing.NewClient(cfg.RoutingAPIURL, rm)
	if cfg.RedisAddr != "" {
		cache, err := routing.NewRedisMatchCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.FuzzyTripCacheTTL, logger)
		if err != nil {
			logger.Error("redis error", "error", err)
			os.Exit(1)
		}
		defer cache.Close()
		matcher = routing.NewCachingMatcher(matcher, cache, rm)
	}

	dispatcher := recorder.NewDispatcher(
		routing.NewRoutePatternResolver(matcher),
		routing.NewTripResolver(matcher),
		store.NewRepository(db),
		cfg.Location,
		logger,
		mcol,
	)

	sub, err := subscriber.NewSubscriber(cfg.NATSURL, cfg.NATSSubject, dispatcher, logger, rm)
	if err != nil {
		logger.Error("nats error", "error", err)
		os.Exit(1)
	}
	defer sub.Close()
	if err := sub.Start(ctx); err != nil {
		logger.Error("subscribe error", "error", err)
		os.Exit(1)
	}

	// Block until context cancelled
	<-ctx.Done()
	logger.Info("shutdown complete")
}

// recorderMetrics adapts the Collector to the component metrics interfaces.
type recorderMetrics struct{ c *metrics.Collector }

func (m *recorderMetrics) FuzzyTripObserve(d time.Duration) { m.c.ObserveFuzzyTrip(d) }
func (m *recorderMetrics) CacheHitInc()                     { m.c.CacheHits.Inc() }
func (m *recorderMetrics) CacheMissInc()                    { m.c.CacheMisses.Inc() }
func (m *recorderMetrics) NATSSetConnected(connected bool) {
	if connected {
		m.c.NATSConnected.Set(1)
	} else {
		m.c.NATSConnected.Set(0)
	}
}
