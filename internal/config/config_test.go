package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnykmshr/stageflow/pkg/caching/provider"
	sferrors "github.com/vnykmshr/stageflow/pkg/common/errors"
	"github.com/vnykmshr/stageflow/pkg/persistence/store"
	"github.com/vnykmshr/stageflow/pkg/resilience/gateway"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stageflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, gateway.DefaultPolicy(), cfg.Gateway.Policy)
	assert.Equal(t, provider.KindMemory, cfg.Cache.Provider)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeFile(t, `
server:
  addr: ":9090"
log:
  backend: logrus
  level: debug
cache:
  provider: ristretto
  codec: cbor
  ttl: 30s
  sweep: "*/10 * * * * *"
gateway:
  policy:
    max_attempts: 5
    timeout: 500ms
    backoff:
      initial: 50ms
      multiplier: 1.5
  fault_probability: 0.1
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout, "unset fields keep defaults")
	assert.Equal(t, LogLogrus, cfg.Log.Backend)
	assert.Equal(t, "cbor", cfg.Cache.Codec)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL)
	assert.Equal(t, 5, cfg.Gateway.Policy.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Gateway.Policy.Timeout)
	assert.Equal(t, 1.5, cfg.Gateway.Policy.Backoff.Multiplier)
	assert.Equal(t, 0.1, cfg.Gateway.FaultProbability)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown provider", "cache:\n  provider: memcached\n"},
		{"unknown codec", "cache:\n  codec: gob\n"},
		{"bad cron", "cache:\n  sweep: \"every minute\"\n"},
		{"bad store", "store:\n  backend: postgres\n"},
		{"zero attempts", "gateway:\n  policy:\n    max_attempts: 0\n"},
		{"fault probability", "gateway:\n  fault_probability: 2\n"},
		{"redis without addrs", "store:\n  backend: redis\n  redis:\n    addrs: []\n"},
		{"unsorted buckets", "metrics:\n  latency_buckets: [0.5, 0.1]\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.body))
			require.Error(t, err)
		})
	}
}

func TestValidationErrorsMatchSentinel(t *testing.T) {
	_, err := Load(writeFile(t, "log:\n  backend: stdout\n"))
	assert.True(t, errors.Is(err, sferrors.ErrInvalidConfiguration))
}

func TestLoadMalformedYAML(t *testing.T) {
	_, err := Load(writeFile(t, "server: [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse")
}

func TestFromEnv(t *testing.T) {
	t.Setenv(EnvPath, "")
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	t.Setenv(EnvPath, writeFile(t, "server:\n  addr: \":7070\"\n"))
	cfg, err = FromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)

	t.Setenv(EnvPath, filepath.Join(t.TempDir(), "missing.yaml"))
	_, err = FromEnv()
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestBuildComponents(t *testing.T) {
	cfg := Default()
	ctx := context.Background()

	for _, kind := range []string{provider.KindMemory, provider.KindRistretto, provider.KindBigcache} {
		cfg.Cache.Provider = kind
		p, err := cfg.Cache.NewProvider(ctx, Deps{})
		require.NoError(t, err, kind)
		require.NoError(t, p.Close(ctx))
	}

	cfg.Cache.Provider = "memcached"
	_, err := cfg.Cache.NewProvider(ctx, Deps{})
	var unknown *provider.UnknownKindError
	assert.ErrorAs(t, err, &unknown)

	cache, err := NewCache[string](Default().Cache, "names", provider.NewMemory(nil), Deps{})
	require.NoError(t, err)
	assert.Equal(t, "names", cache.Name())

	records, closer, err := cfg.Store.NewRecords()
	require.NoError(t, err)
	assert.IsType(t, &store.Memory{}, records)
	assert.NoError(t, closer.Close())

	g, err := cfg.Gateway.NewGateway("sites", Deps{})
	require.NoError(t, err)
	assert.Equal(t, "sites", g.Name())

	for _, backend := range []string{LogZap, LogLogrus} {
		logger, sync, err := Log{Backend: backend, Level: "warn"}.NewLogger()
		require.NoError(t, err)
		logger.Info("ignored", nil)
		_ = sync()
	}
	_, _, err = Log{Backend: LogZap, Level: "loud"}.NewLogger()
	assert.Error(t, err)

	reg := Metrics{Enabled: true, Namespace: "test", LatencyBuckets: []float64{0.01, 0.1, 1}}.NewRegistry(prometheus.NewRegistry())
	assert.NotNil(t, reg)
	assert.Nil(t, Metrics{}.NewRegistry(prometheus.NewRegistry()))
}

func TestFeedbackSection(t *testing.T) {
	cfg, err := Load(writeFile(t, `
feedback:
  actors: [T1]
  tourists:
    - id: T1
      name: Ada
  sites:
    - id: S1
      name: Colosseum
      city: Rome
`))
	require.NoError(t, err)
	ctx := context.Background()

	auth := cfg.Feedback.NewAuth()
	assert.True(t, auth.IsAuthorized(ctx, "T1"))
	assert.False(t, auth.IsAuthorized(ctx, "T2"))

	site, err := cfg.Feedback.NewDirectory().Site(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, "Rome", site.City)

	open := Feedback{}.NewAuth()
	assert.True(t, open.IsAuthorized(ctx, "anyone"))
	assert.False(t, open.IsAuthorized(ctx, ""))
}

func TestQuotaRequiresRedis(t *testing.T) {
	_, err := Load(writeFile(t, "gateway:\n  quota:\n    enabled: true\n    redis:\n      addrs: []\n"))
	require.Error(t, err)

	cfg, err := Load(writeFile(t, "gateway:\n  rate_limit: 5\n  quota:\n    enabled: true\n    rate: 20\n"))
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Gateway.Quota.Burst)
	assert.Nil(t, Quota{}.NewClient())
}
