package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"solana-token-feed/internal/cache"
	"solana-token-feed/internal/config"
	"solana-token-feed/internal/domain"
	"solana-token-feed/internal/enrichment"
	"solana-token-feed/internal/feed"
	"solana-token-feed/internal/ingestion"
	"solana-token-feed/internal/logging"
	"solana-token-feed/internal/observability"
	"solana-token-feed/internal/publish"
	"solana-token-feed/internal/ratelimit"
	"solana-token-feed/internal/resolver"
	"solana-token-feed/internal/solana"
	"solana-token-feed/internal/state"
	"solana-token-feed/internal/storage"
	chstore "solana-token-feed/internal/storage/clickhouse"
	"solana-token-feed/internal/storage/memory"
	"solana-token-feed/internal/storage/migrations"
	pgstore "solana-token-feed/internal/storage/postgres"
)

const (
	shutdownTimeout  = 30 * time.Second
	healthTimeout    = 2 * time.Second
	forwarderBuffer  = 1024
	postgresMaxConns = 8
	metricsNamespace = "solana_token_feed"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "feed: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load(args)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Encoding)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(metricsNamespace, reg)

	limiter := ratelimit.New(limiterConfig(cfg.RateLimit), logger, metrics)
	rpc := solana.NewHTTPClient(cfg.RPCEndpoint(), solana.WithMetrics(metrics))

	wsCfg := solana.DefaultWSConfig()
	wsCfg.ReconnectDelay = cfg.WS.ReconnectDelay
	wsCfg.MaxReconnectDelay = cfg.WS.MaxReconnectDelay
	wsCfg.MaxReconnectAttempts = cfg.WS.MaxReconnectAttempts
	wsCfg.PingInterval = cfg.WS.PingInterval
	wsCfg.Logger = logger
	wsCfg.Metrics = metrics
	ws, err := solana.NewWSClient(ctx, cfg.WSEndpoint(), &wsCfg)
	if err != nil {
		return fmt.Errorf("connect websocket: %w", err)
	}
	defer ws.Close()

	res := resolver.New(resolver.Config{
		CacheTTL:    cfg.Resolver.CacheTTL,
		EnhancedURL: cfg.Solana.EnhancedURL,
		BatchWindow: cfg.Resolver.BatchWindow,
		BatchSize:   cfg.Resolver.BatchSize,
	}, rpc, limiter, logger, metrics)
	defer res.Close()

	tiered := cache.NewTiered(cache.TieredConfig{
		MetadataTTL:    cfg.Cache.MetadataTTL,
		PriceTTL:       cfg.Cache.PriceTTL,
		VolumeTTL:      cfg.Cache.VolumeTTL,
		MarketDataTTL:  cfg.Cache.MarketDataTTL,
		PriceChangeTTL: cfg.Cache.PriceChangeTTL,
		SnapshotTTL:    cfg.Cache.SnapshotTTL,
		MaxEntries:     cache.DefaultTieredConfig().MaxEntries,
	})

	storeCfg := state.DefaultConfig()
	storeCfg.Debounce = cfg.State.Debounce
	storeCfg.NewThreshold = cfg.State.NewThreshold
	storeCfg.TrendingTrades5m = cfg.State.TrendingTrades5m
	store := state.New(storeCfg, logger, metrics)
	defer store.Close()

	enricher := enrichment.New(enrichment.Config{
		BaseURL: cfg.Enrichment.DexScreenerURL,
		Workers: cfg.Enrichment.Workers,
	}, rpc, limiter, tiered, store, logger, metrics)
	defer enricher.Close()

	svc := feed.New(store, enricher, logger)

	sinks, err := openSinks(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer sinks.close(logger)

	eventBuffers := make([]ingestion.EventWriter, 0, len(sinks.events))
	var closers []func()
	for name, sink := range sinks.events {
		b := storage.NewBuffer(storage.BufferConfig{Name: name}, sink.WriteEvents, logger, metrics)
		eventBuffers = append(eventBuffers, b)
		closers = append(closers, b.Close)
	}
	tokenBuffers := make([]*storage.Buffer[domain.TokenRecord], 0, len(sinks.tokens))
	for name, sink := range sinks.tokens {
		b := storage.NewBuffer(storage.BufferConfig{Name: name}, sink.UpsertTokens, logger, metrics)
		tokenBuffers = append(tokenBuffers, b)
		closers = append(closers, b.Close)
	}
	// Buffers flush their remainder before the sinks close.
	defer func() {
		for _, c := range closers {
			c()
		}
	}()

	runner := ingestion.NewRunner(ingestion.Config{
		ResolveDelay: cfg.Pipeline.ResolveDelay,
		Workers:      cfg.Pipeline.Workers,
		QueueSize:    cfg.Pipeline.QueueSize,
	}, ingestion.Options{
		Subscriber: ingestion.NewSubscriber(ws, cfg.Solana.Programs, 0, logger, metrics),
		Resolver:   res,
		Enricher:   enricher,
		Store:      store,
		Sinks:      eventBuffers,
		Sweepers: map[string]ingestion.Sweeper{
			"resolver": res.Sweep,
			"tiered":   tiered.Sweep,
			"tokens":   store.Sweep,
		},
		Logger:  logger,
		Metrics: metrics,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runner.Run(gctx)
	})

	if len(tokenBuffers) > 0 {
		updates, unsubscribe := svc.Subscribe(forwarderBuffer)
		g.Go(func() error {
			<-gctx.Done()
			unsubscribe()
			return nil
		})
		g.Go(func() error {
			for rec := range updates {
				for _, b := range tokenBuffers {
					b.Add(rec)
				}
			}
			return nil
		})
	}

	if cfg.Server.MetricsAddr != "" {
		srv := observability.NewServer(cfg.Server.MetricsAddr, observability.NewRouter(reg, sinks.health))
		g.Go(func() error {
			logger.Info("serving metrics", zap.String("addr", cfg.Server.MetricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	logger.Info("feed started",
		zap.Strings("programs", cfg.Solana.Programs),
		zap.Int("event_sinks", len(eventBuffers)),
		zap.Int("token_sinks", len(tokenBuffers)))

	err = g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		logger.Info("shutting down")
		return nil
	}
	if errors.Is(err, solana.ErrAuthentication) {
		logger.Error("websocket authentication rejected, check SOLANA_API_KEY", zap.Error(err))
	}
	return err
}

func limiterConfig(c config.RateLimitConfig) ratelimit.Config {
	service := func(maxRequests int) ratelimit.ServiceConfig {
		return ratelimit.ServiceConfig{
			MaxRequests:      maxRequests,
			Window:           c.Window,
			BreakerThreshold: c.BreakerThreshold,
			CoolDown:         c.CoolDown,
		}
	}
	return ratelimit.Config{
		Services: map[string]ratelimit.ServiceConfig{
			ratelimit.ServiceRPC:         service(c.RPCRequests),
			ratelimit.ServiceEnhanced:    service(c.EnhancedRequests),
			ratelimit.ServiceDexScreener: service(c.DexRequests),
			ratelimit.ServiceMetadata:    service(c.RPCRequests),
		},
		Default: service(c.RPCRequests),
	}
}

// sinkSet holds the optional write-behind destinations.
type sinkSet struct {
	tokens  map[string]storage.TokenSink
	events  map[string]storage.EventSink
	health  map[string]observability.HealthFunc
	closers []func() error
}

func (s *sinkSet) close(logger *zap.Logger) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			logger.Warn("close sink", zap.Error(err))
		}
	}
}

func checkWith(check func(ctx context.Context) error) observability.HealthFunc {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
		defer cancel()
		return check(ctx)
	}
}

func openSinks(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*sinkSet, error) {
	s := &sinkSet{
		tokens: make(map[string]storage.TokenSink),
		events: make(map[string]storage.EventSink),
		health: make(map[string]observability.HealthFunc),
	}
	fail := func(err error) (*sinkSet, error) {
		s.close(logger)
		return nil, err
	}

	if cfg.Storage.UseMemory {
		s.tokens["memory_tokens"] = memory.NewTokenStore()
		s.events["memory_events"] = memory.NewEventStore()
		logger.Info("using in-memory sinks")
	} else {
		if cfg.Storage.PostgresDSN != "" {
			pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN, postgresMaxConns)
			if err != nil {
				return fail(fmt.Errorf("connect postgres: %w", err))
			}
			s.closers = append(s.closers, func() error {
				pool.Close()
				return nil
			})
			if err := migrations.RunPostgresMigrations(ctx, pool, logger); err != nil {
				return fail(fmt.Errorf("postgres migrations: %w", err))
			}
			s.tokens["postgres"] = pgstore.NewTokenStore(pool)
			s.health["postgres"] = checkWith(pool.Healthy)
		}
		if cfg.Storage.ClickhouseDSN != "" {
			conn, err := migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickhouseDSN, logger)
			if err != nil {
				return fail(fmt.Errorf("clickhouse migrations: %w", err))
			}
			s.closers = append(s.closers, conn.Close)
			s.events["clickhouse"] = chstore.NewEventStore(conn)
			s.health["clickhouse"] = checkWith(conn.Healthy)
		}
	}

	if cfg.Redis.Addr != "" {
		client, err := publish.NewRedisClient(ctx, publish.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, logger)
		if err != nil {
			return fail(err)
		}
		s.closers = append(s.closers, client.Close)
		s.tokens["redis"] = publish.NewRedisBroadcaster(client, cfg.Redis.Channel, logger)
		s.health["redis"] = checkWith(func(ctx context.Context) error { return client.Ping(ctx).Err() })
	}

	if cfg.Kafka.Brokers != "" {
		sink, err := publish.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic, publish.NewKafkaConfig())
		if err != nil {
			return fail(fmt.Errorf("connect kafka: %w", err))
		}
		s.closers = append(s.closers, sink.Close)
		s.events["kafka"] = sink
	}
	return s, nil
}
