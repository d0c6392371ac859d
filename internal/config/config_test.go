package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-token-feed/internal/discovery"
)

func setRequired(t *testing.T) {
	t.Setenv("SOLANA_RPC_URL", "https://rpc.example.com")
	t.Setenv("SOLANA_WS_URL", "wss://rpc.example.com")
	t.Setenv("PROGRAMS", "")
	t.Setenv("SOLANA_API_KEY", "")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "https://rpc.example.com", cfg.Solana.RPCURL)
	assert.Equal(t, discovery.DefaultPrograms(), cfg.Solana.Programs)
	assert.Equal(t, 400*time.Millisecond, cfg.Pipeline.ResolveDelay)
	assert.Equal(t, 16, cfg.Pipeline.Workers)
	assert.Equal(t, 10*time.Minute, cfg.Resolver.CacheTTL)
	assert.Equal(t, 200*time.Millisecond, cfg.Resolver.BatchWindow)
	assert.Equal(t, 100, cfg.Resolver.BatchSize)
	assert.Equal(t, 10, cfg.WS.MaxReconnectAttempts)
	assert.Equal(t, 750*time.Millisecond, cfg.State.Debounce)
	assert.Equal(t, 30*time.Minute, cfg.State.NewThreshold)
	assert.Equal(t, time.Hour, cfg.Cache.MetadataTTL)
	assert.Equal(t, ":9090", cfg.Server.MetricsAddr)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Encoding)
	assert.Empty(t, cfg.Storage.PostgresDSN)
	assert.False(t, cfg.Storage.UseMemory)
}

func TestLoad_EnvOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("RESOLVE_DELAY", "1s")
	t.Setenv("PIPELINE_WORKERS", "4")
	t.Setenv("USE_MEMORY", "true")
	t.Setenv("PROGRAMS", "pumpfun, raydium")
	t.Setenv("RESOLVER_BATCH_SIZE", "not-a-number")

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, time.Second, cfg.Pipeline.ResolveDelay)
	assert.Equal(t, 4, cfg.Pipeline.Workers)
	assert.True(t, cfg.Storage.UseMemory)
	assert.Equal(t, []string{discovery.PumpFun, discovery.RaydiumAMMV4}, cfg.Solana.Programs)
	assert.Equal(t, 100, cfg.Resolver.BatchSize, "unparseable values fall back to defaults")
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	setRequired(t)
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load([]string{
		"--log-level", "debug",
		"--ws-endpoint", "wss://other.example.com",
		"--programs", discovery.MeteoraDLMM,
		"--workers", "2",
	})
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "wss://other.example.com", cfg.Solana.WSURL)
	assert.Equal(t, []string{discovery.MeteoraDLMM}, cfg.Solana.Programs)
	assert.Equal(t, 2, cfg.Pipeline.Workers)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		args []string
	}{
		{name: "missing rpc", env: map[string]string{"SOLANA_RPC_URL": ""}},
		{name: "missing ws", env: map[string]string{"SOLANA_WS_URL": ""}},
		{name: "bad endpoint", args: []string{"--rpc-endpoint", "not a url"}},
		{name: "bad encoding", args: []string{"--log-encoding", "xml"}},
		{name: "zero workers", args: []string{"--workers", "0"}},
		{name: "unknown flag", args: []string{"--nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(tt.args)
			assert.Error(t, err)
		})
	}
}

func TestEndpointsWithAPIKey(t *testing.T) {
	setRequired(t)
	t.Setenv("SOLANA_API_KEY", "secret")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "https://rpc.example.com?api-key=secret", cfg.RPCEndpoint())
	assert.Equal(t, "wss://rpc.example.com?api-key=secret", cfg.WSEndpoint())

	assert.Equal(t, "https://x.io/?api-key=mine", withAPIKey("https://x.io/?api-key=mine", "secret"))
	assert.Equal(t, "https://x.io/", withAPIKey("https://x.io/", ""))
}
