package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"hedgeline/config"
	"hedgeline/core/events"
	"hedgeline/integrations/webhooks"
	nativeoracle "hedgeline/native/oracle"
	"hedgeline/observability/logging"
	telemetry "hedgeline/observability/otel"
	"hedgeline/services/perpd/adapters"
	"hedgeline/services/perpd/app"
	"hedgeline/services/perpd/bus"
	perpdconfig "hedgeline/services/perpd/config"
	"hedgeline/services/perpd/keeper"
	"hedgeline/services/perpd/oracle"
	"hedgeline/services/perpd/server"
	"hedgeline/services/perpd/storage"
	kvstore "hedgeline/storage"
)

const sampleRetention = 7 * 24 * time.Hour

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/perpd/config.yaml", "path to perpd configuration file")
	flag.Parse()

	cfg, err := perpdconfig.Load(cfgPath)
	if err != nil {
		log.Fatalf("perpd: load config: %v", err)
	}

	env := strings.TrimSpace(os.Getenv("HEDGELINE_ENV"))
	if env == "" {
		env = cfg.Environment
	}
	logger, logCloser := logging.SetupWithOptions("perpd", env, logging.Options{
		Level: logging.ParseLevel(cfg.LogLevel),
		File:  logging.FileOptions{Path: cfg.LogFile, MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 30, Compress: true},
	})
	defer logCloser.Close()

	shutdownTelemetry, err := initTelemetry(env, cfg)
	if err != nil {
		log.Fatalf("perpd: init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	if err := run(cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("perpd exited", "error", err)
		os.Exit(1)
	}
}

func initTelemetry(env string, cfg perpdconfig.Config) (func(context.Context) error, error) {
	endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	ratio := 0.0
	if value := strings.TrimSpace(os.Getenv("OTEL_TRACES_SAMPLER_ARG")); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			ratio = parsed
		}
	}
	enabled := endpoint != ""
	return telemetry.Init(context.Background(), telemetry.Config{
		ServiceName:    "perpd",
		ServiceVersion: version,
		Environment:    env,
		Endpoint:       endpoint,
		Insecure:       insecure,
		Headers:        telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:        enabled,
		Traces:         enabled,
		SampleRatio:    ratio,
		Attributes:     telemetryAttributes(cfg),
	})
}

// telemetryAttributes tags exported spans and metrics with the deployment's
// oracle feeds, state backend and keeper identity.
func telemetryAttributes(cfg perpdconfig.Config) map[string]string {
	attrs := map[string]string{
		"listen":         cfg.ListenAddress,
		"state.backend":  cfg.State.Backend,
		"oracle.primary": cfg.Oracle.Primary.Name,
		"keeper.enabled": strconv.FormatBool(cfg.Keeper.Enabled),
	}
	if cfg.Oracle.Secondary != nil {
		attrs["oracle.secondary"] = cfg.Oracle.Secondary.Name
	}
	if cfg.Keeper.Enabled {
		attrs["keeper.address"] = cfg.Keeper.Address
	}
	return attrs
}

func run(cfg perpdconfig.Config, logger *slog.Logger) error {
	protocol, err := config.Load(cfg.ParamsFile)
	if err != nil {
		return fmt.Errorf("load protocol params: %w", err)
	}

	dsn, err := storage.ResolveDSN(cfg.Database)
	if err != nil {
		return fmt.Errorf("resolve storage DSN: %w", err)
	}
	store, err := storage.Open(dsn)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	state, err := kvstore.Open(cfg.State.Backend, cfg.State.Path)
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	defer state.Close()

	feeds, primary, secondary, err := buildFeeds(cfg.Oracle)
	if err != nil {
		return err
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := server.NewHub()
	emitters := events.Multi{hub, bus.MetricsEmitter{}}
	if url := strings.TrimSpace(cfg.NATS.URL); url != "" {
		nc, err := bus.Connect(url, "perpd")
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer nc.Drain()
		emitters = append(emitters, bus.NewNATSEmitter(nc, cfg.NATS.SubjectPrefix, logger))
		logger.Info("publishing events to nats", logging.MaskField("url", url), "prefix", cfg.NATS.SubjectPrefix)
	}

	if url := strings.TrimSpace(cfg.Webhook.URL); url != "" {
		dispatcher, err := webhooks.NewDispatcher(url, []byte(cfg.Webhook.Secret),
			webhooks.WithTopics(cfg.Webhook.Events...),
			webhooks.WithLogger(logger.With("component", "webhooks")),
		)
		if err != nil {
			return fmt.Errorf("webhooks: %w", err)
		}
		defer dispatcher.Close()
		emitters = append(emitters, dispatcher)
		logger.Info("forwarding events to webhook", logging.MaskField("url", url), "events", cfg.Webhook.Events)
	}

	stocks, err := parseOptionalInt("pool.stocks_users", cfg.Pool.StocksUsers)
	if err != nil {
		return err
	}
	balance, err := parseOptionalInt("pool.balance", cfg.Pool.Balance)
	if err != nil {
		return err
	}
	stack, err := app.Build(app.Options{
		Protocol:     protocol,
		DB:           state,
		Primary:      primary,
		Secondary:    secondary,
		Emitter:      emitters,
		StocksUsers:  stocks,
		PoolBalance:  balance,
		EstimatedAPR: cfg.Pool.EstimatedAPR,
	})
	if err != nil {
		return fmt.Errorf("build ledger: %w", err)
	}

	mgr, err := oracle.New(store, stack.Oracle, feeds, cfg.Oracle.Interval.Duration, cfg.Oracle.MaxAge.Duration, oracle.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("oracle manager: %w", err)
	}
	// warm the caches so the first requests have a rate
	if err := mgr.Tick(rootCtx); err != nil {
		logger.Warn("initial oracle tick failed", "error", err)
	}

	auth, err := server.NewAuthenticator(server.AuthConfig{
		HMACSecret: cfg.Auth.Secret,
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
		ClockSkew:  cfg.Auth.ClockSkew.Duration,
	}, logger)
	if err != nil {
		return fmt.Errorf("configure auth: %w", err)
	}
	srv, err := server.New(server.Config{ListenAddress: cfg.ListenAddress}, server.Dependencies{
		Stack:   stack,
		Auth:    auth,
		Limiter: server.NewRateLimiter(server.RateLimit{RequestsPerMinute: cfg.RateLimit.RequestsPerMinute, Burst: cfg.RateLimit.Burst}),
		Hub:     hub,
		History: store,
		Oracle:  mgr,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}

	go func() {
		if err := mgr.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("oracle manager exited", "error", err)
			stop()
		}
	}()

	if cfg.Keeper.Enabled {
		k, err := keeper.New(keeper.Config{
			Address:   ethcommon.HexToAddress(cfg.Keeper.Address),
			Interval:  cfg.Keeper.Interval.Duration,
			BatchSize: cfg.Keeper.BatchSize,
		}, stack.Engine, stack.Fees, stack.Oracle, store, logger)
		if err != nil {
			return fmt.Errorf("keeper: %w", err)
		}
		go func() {
			if err := k.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("keeper exited", "error", err)
				stop()
			}
		}()
	}

	go pruneSamples(rootCtx, store, logger)

	return srv.Run(rootCtx)
}

// buildFeeds pairs each upstream feed with the cache the ledger reads from.
func buildFeeds(cfg perpdconfig.OracleConfig) ([]oracle.Feed, nativeoracle.Source, nativeoracle.Source, error) {
	registry := adapters.NewRegistry()
	specs := []perpdconfig.Feed{cfg.Primary}
	if cfg.Secondary != nil {
		specs = append(specs, *cfg.Secondary)
	}
	feeds := make([]oracle.Feed, 0, len(specs))
	for _, spec := range specs {
		upstream, err := registry.Build(spec.Name, spec.Type, spec.Endpoint, spec.Field, spec.Rate)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("build feed %s: %w", spec.Name, err)
		}
		cache := nativeoracle.NewCachedSource(upstream.Name(), cfg.MaxAge.Duration)
		feeds = append(feeds, oracle.Feed{Upstream: upstream, Cache: cache})
	}
	var secondary nativeoracle.Source
	if len(feeds) > 1 {
		secondary = feeds[1].Cache
	}
	return feeds, feeds[0].Cache, secondary, nil
}

func parseOptionalInt(field, raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%s must be a non-negative integer", field)
	}
	return v, nil
}

func pruneSamples(ctx context.Context, store *storage.Storage, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.PruneSamples(ctx, time.Now().Add(-sampleRetention))
			if err != nil {
				logger.Warn("prune oracle samples", "error", err)
				continue
			}
			if removed > 0 {
				logger.Info("pruned oracle samples", "rows", removed)
			}
		}
	}
}
