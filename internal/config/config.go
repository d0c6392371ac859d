// Package config loads process configuration from an optional .env file,
// the environment and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"solana-token-feed/internal/discovery"
)

type Config struct {
	Solana     SolanaConfig
	WS         WSConfig
	Resolver   ResolverConfig
	Enrichment EnrichmentConfig
	RateLimit  RateLimitConfig
	Cache      CacheConfig
	State      StateConfig
	Pipeline   PipelineConfig
	Storage    StorageConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Server     ServerConfig
	Log        LogConfig
}

type SolanaConfig struct {
	RPCURL string
	WSURL  string
	APIKey string
	// EnhancedURL enables batched enhanced-transaction resolution when set.
	EnhancedURL string
	Programs    []string
}

type WSConfig struct {
	ReconnectDelay       time.Duration
	MaxReconnectDelay    time.Duration
	MaxReconnectAttempts int
	PingInterval         time.Duration
}

type ResolverConfig struct {
	CacheTTL    time.Duration
	BatchWindow time.Duration
	BatchSize   int
}

type EnrichmentConfig struct {
	DexScreenerURL string
	Workers        int
}

type RateLimitConfig struct {
	RPCRequests      int
	EnhancedRequests int
	DexRequests      int
	Window           time.Duration
	BreakerThreshold int
	CoolDown         time.Duration
}

type CacheConfig struct {
	MetadataTTL    time.Duration
	PriceTTL       time.Duration
	VolumeTTL      time.Duration
	MarketDataTTL  time.Duration
	PriceChangeTTL time.Duration
	SnapshotTTL    time.Duration
}

type StateConfig struct {
	Debounce         time.Duration
	NewThreshold     time.Duration
	TrendingTrades5m int64
}

type PipelineConfig struct {
	ResolveDelay time.Duration
	Workers      int
	QueueSize    int
}

type StorageConfig struct {
	PostgresDSN   string
	ClickhouseDSN string
	// UseMemory replaces the database sinks with in-memory ones.
	UseMemory bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

type KafkaConfig struct {
	Brokers string
	Topic   string
}

type ServerConfig struct {
	MetricsAddr string
}

type LogConfig struct {
	Level    string
	Encoding string
}

// Load reads .env (if present), the environment and then args, which
// override both. It returns an error for unparseable flags or an invalid
// result.
func Load(args []string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := fromEnv()

	fset := flag.NewFlagSet("feed", flag.ContinueOnError)
	programs := fset.String("programs", strings.Join(cfg.Solana.Programs, ","), "Comma-separated program IDs or aliases (pumpfun, pumpswap, raydium, raydium-cpmm, meteora)")
	fset.StringVar(&cfg.Solana.RPCURL, "rpc-endpoint", cfg.Solana.RPCURL, "Solana RPC HTTP endpoint")
	fset.StringVar(&cfg.Solana.WSURL, "ws-endpoint", cfg.Solana.WSURL, "Solana WebSocket endpoint")
	fset.StringVar(&cfg.Solana.EnhancedURL, "enhanced-endpoint", cfg.Solana.EnhancedURL, "Enhanced transactions endpoint (empty to use RPC only)")
	fset.StringVar(&cfg.Enrichment.DexScreenerURL, "dexscreener-url", cfg.Enrichment.DexScreenerURL, "DexScreener API base URL")
	fset.DurationVar(&cfg.Pipeline.ResolveDelay, "resolve-delay", cfg.Pipeline.ResolveDelay, "Delay before resolving a candidate transaction")
	fset.IntVar(&cfg.Pipeline.Workers, "workers", cfg.Pipeline.Workers, "Resolution worker pool size")
	fset.StringVar(&cfg.Storage.PostgresDSN, "postgres-dsn", cfg.Storage.PostgresDSN, "PostgreSQL connection string (empty to disable)")
	fset.StringVar(&cfg.Storage.ClickhouseDSN, "clickhouse-dsn", cfg.Storage.ClickhouseDSN, "ClickHouse connection string (empty to disable)")
	fset.BoolVar(&cfg.Storage.UseMemory, "use-memory", cfg.Storage.UseMemory, "Use in-memory sinks instead of databases")
	fset.StringVar(&cfg.Redis.Addr, "redis-addr", cfg.Redis.Addr, "Redis address for token broadcasts (empty to disable)")
	fset.StringVar(&cfg.Kafka.Brokers, "kafka-brokers", cfg.Kafka.Brokers, "Comma-separated Kafka brokers for chain events (empty to disable)")
	fset.StringVar(&cfg.Server.MetricsAddr, "metrics-addr", cfg.Server.MetricsAddr, "Metrics and health HTTP address (empty to disable)")
	fset.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "Log level: debug, info, warn, error")
	fset.StringVar(&cfg.Log.Encoding, "log-encoding", cfg.Log.Encoding, "Log encoding: json, console")
	if err := fset.Parse(args); err != nil {
		return nil, err
	}
	cfg.Solana.Programs = discovery.ResolvePrograms(splitList(*programs))
	if len(cfg.Solana.Programs) == 0 {
		cfg.Solana.Programs = discovery.DefaultPrograms()
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromEnv() *Config {
	return &Config{
		Solana: SolanaConfig{
			RPCURL:      getEnv("SOLANA_RPC_URL", ""),
			WSURL:       getEnv("SOLANA_WS_URL", ""),
			APIKey:      getEnv("SOLANA_API_KEY", ""),
			EnhancedURL: getEnv("SOLANA_ENHANCED_URL", ""),
			Programs:    splitList(getEnv("PROGRAMS", "")),
		},
		WS: WSConfig{
			ReconnectDelay:       getEnvDuration("WS_RECONNECT_DELAY", time.Second),
			MaxReconnectDelay:    getEnvDuration("WS_MAX_RECONNECT_DELAY", 30*time.Second),
			MaxReconnectAttempts: getEnvInt("WS_MAX_RECONNECT_ATTEMPTS", 10),
			PingInterval:         getEnvDuration("WS_PING_INTERVAL", 30*time.Second),
		},
		Resolver: ResolverConfig{
			CacheTTL:    getEnvDuration("RESOLVER_CACHE_TTL", 10*time.Minute),
			BatchWindow: getEnvDuration("RESOLVER_BATCH_WINDOW", 200*time.Millisecond),
			BatchSize:   getEnvInt("RESOLVER_BATCH_SIZE", 100),
		},
		Enrichment: EnrichmentConfig{
			DexScreenerURL: getEnv("DEXSCREENER_URL", "https://api.dexscreener.com/latest/dex"),
			Workers:        getEnvInt("ENRICHMENT_WORKERS", 8),
		},
		RateLimit: RateLimitConfig{
			RPCRequests:      getEnvInt("RATE_LIMIT_RPC", 10),
			EnhancedRequests: getEnvInt("RATE_LIMIT_ENHANCED", 5),
			DexRequests:      getEnvInt("RATE_LIMIT_DEXSCREENER", 5),
			Window:           getEnvDuration("RATE_LIMIT_WINDOW", time.Second),
			BreakerThreshold: getEnvInt("BREAKER_THRESHOLD", 5),
			CoolDown:         getEnvDuration("BREAKER_COOL_DOWN", 30*time.Second),
		},
		Cache: CacheConfig{
			MetadataTTL:    getEnvDuration("CACHE_METADATA_TTL", time.Hour),
			PriceTTL:       getEnvDuration("CACHE_PRICE_TTL", time.Minute),
			VolumeTTL:      getEnvDuration("CACHE_VOLUME_TTL", 5*time.Minute),
			MarketDataTTL:  getEnvDuration("CACHE_MARKET_DATA_TTL", 2*time.Minute),
			PriceChangeTTL: getEnvDuration("CACHE_PRICE_CHANGE_TTL", time.Minute),
			SnapshotTTL:    getEnvDuration("CACHE_SNAPSHOT_TTL", 30*time.Second),
		},
		State: StateConfig{
			Debounce:         getEnvDuration("STATE_DEBOUNCE", 750*time.Millisecond),
			NewThreshold:     getEnvDuration("STATE_NEW_THRESHOLD", 30*time.Minute),
			TrendingTrades5m: int64(getEnvInt("STATE_TRENDING_TRADES_5M", 20)),
		},
		Pipeline: PipelineConfig{
			ResolveDelay: getEnvDuration("RESOLVE_DELAY", 400*time.Millisecond),
			Workers:      getEnvInt("PIPELINE_WORKERS", 16),
			QueueSize:    getEnvInt("PIPELINE_QUEUE_SIZE", 4096),
		},
		Storage: StorageConfig{
			PostgresDSN:   getEnv("POSTGRES_DSN", ""),
			ClickhouseDSN: getEnv("CLICKHOUSE_DSN", ""),
			UseMemory:     getEnvBool("USE_MEMORY", false),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			Channel:  getEnv("REDIS_CHANNEL", "solana-token-feed:tokens"),
		},
		Kafka: KafkaConfig{
			Brokers: getEnv("KAFKA_BROKERS", ""),
			Topic:   getEnv("KAFKA_TOPIC", "solana-token-feed.events"),
		},
		Server: ServerConfig{
			MetricsAddr: getEnv("METRICS_ADDR", ":9090"),
		},
		Log: LogConfig{
			Level:    getEnv("LOG_LEVEL", "info"),
			Encoding: getEnv("LOG_ENCODING", "json"),
		},
	}
}

func (c *Config) validate() error {
	if c.Solana.RPCURL == "" {
		return fmt.Errorf("SOLANA_RPC_URL (--rpc-endpoint) is required")
	}
	if c.Solana.WSURL == "" {
		return fmt.Errorf("SOLANA_WS_URL (--ws-endpoint) is required")
	}
	for name, raw := range map[string]string{"rpc": c.Solana.RPCURL, "ws": c.Solana.WSURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return fmt.Errorf("invalid %s endpoint %q", name, raw)
		}
	}
	if c.Pipeline.Workers <= 0 || c.Enrichment.Workers <= 0 {
		return fmt.Errorf("worker counts must be positive")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
	}
	switch c.Log.Encoding {
	case "json", "console":
	default:
		return fmt.Errorf("unknown log encoding %q", c.Log.Encoding)
	}
	return nil
}

// RPCEndpoint returns the RPC URL with the API key applied.
func (c *Config) RPCEndpoint() string {
	return withAPIKey(c.Solana.RPCURL, c.Solana.APIKey)
}

// WSEndpoint returns the WebSocket URL with the API key applied.
func (c *Config) WSEndpoint() string {
	return withAPIKey(c.Solana.WSURL, c.Solana.APIKey)
}

// withAPIKey adds key as the api-key query parameter unless raw already has one.
func withAPIKey(raw, key string) string {
	if key == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if q.Get("api-key") != "" {
		return raw
	}
	q.Set("api-key", key)
	u.RawQuery = q.Encode()
	return u.String()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
