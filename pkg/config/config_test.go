package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())

	assert.Equal(t, 8080, c.Server.Port)
	require.NotNil(t, c.Server.CORS)
	assert.True(t, *c.Server.CORS)
	assert.Equal(t, []string{"order_flow", "liquidity", "volume_price"}, c.Detectors.Enabled)
	assert.Equal(t, 2, c.Aggregator.ConfirmationThreshold)
	assert.Equal(t, 15*time.Minute, c.Cooldown.Base)
	assert.Equal(t, 0.9, c.Latency.ComponentWeights["network"])
	assert.Equal(t, "signals.decisions", c.Kafka.Topics.Decisions)
	assert.False(t, c.Kafka.Enabled)
	assert.Equal(t, []string{"trades"}, c.Pipeline.Unthrottled)
}

func TestManagedThresholds(t *testing.T) {
	c := Default()
	got := c.ManagedThresholds()

	assert.Equal(t, map[string]float64{
		"order_flow":             0.6,
		"liquidity":              c.Detectors.Liquidity.RateThreshold,
		"volume_price":           2.0,
		"confirmation_threshold": 2,
		"max_signal_age_seconds": 10,
	}, got)
	assert.NotContains(t, got, "max_slippage")
}

func TestParseUnthrottledStreams(t *testing.T) {
	c, err := Parse([]byte("pipeline:\n  unthrottled: []\n"))
	require.NoError(t, err)
	assert.Empty(t, c.Pipeline.Unthrottled)

	_, err = Parse([]byte("pipeline:\n  unthrottled: [ticks]\n"))
	assert.Error(t, err)
}

func TestParseOverridesDefaults(t *testing.T) {
	c, err := Parse([]byte(`
environment: production
detectors:
  enabled: [order_flow, liquidity]
  order_flow:
    window: 45s
aggregator:
  confirmation_threshold: 3
gate:
  majors: [BTCUSDT]
`))
	require.NoError(t, err)

	assert.Equal(t, "production", c.Environment)
	assert.Equal(t, []string{"order_flow", "liquidity"}, c.Detectors.Enabled)
	assert.Equal(t, 45*time.Second, c.Detectors.OrderFlow.Window)
	assert.Equal(t, 1000, c.Detectors.OrderFlow.MaxTrades)
	assert.Equal(t, 3, c.Aggregator.ConfirmationThreshold)
	assert.Equal(t, []string{"BTCUSDT"}, c.Gate.Majors)
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown detector":       "detectors:\n  enabled: [momentum]\n",
		"no detectors":           "detectors:\n  enabled: []\n",
		"kafka without brokers":  "kafka:\n  enabled: true\n",
		"feed without url":       "feed:\n  enabled: true\n",
		"cooldown min above max": "cooldown:\n  min: 2h\n  max: 1h\n",
		"regime not increasing":  "regime:\n  calm: 0.06\n",
		"latency not increasing": "latency:\n  medium_ms: 300\n",
		"bad log level":          "log:\n  level: verbose\n",
		"malformed yaml":         "server: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadWithEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: info\n"), 0o600))

	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("REDIS_ADDR", "cache:6380")
	t.Setenv("SYMBOLS", "BTCUSDT,SOLUSDT")
	t.Setenv("LOG_LEVEL", "debug")

	c, err := LoadWithEnv(path)
	require.NoError(t, err)
	assert.True(t, c.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
	assert.True(t, c.Redis.Enabled)
	assert.Equal(t, "cache", c.Redis.Host)
	assert.Equal(t, 6380, c.Redis.Port)
	assert.Equal(t, []string{"BTCUSDT", "SOLUSDT"}, c.Feed.Symbols)
	assert.Equal(t, "debug", c.Log.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
