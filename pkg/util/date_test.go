package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseDurationDefault(t *testing.T) {
	assert.Equal(t, 15*time.Minute, ParseDurationDefault("15m", time.Hour))
	assert.Equal(t, 90*time.Second, ParseDurationDefault("90", time.Hour))
	assert.Equal(t, 1500*time.Millisecond, ParseDurationDefault("1.5", time.Hour))
	assert.Equal(t, time.Hour, ParseDurationDefault("", time.Hour))
	assert.Equal(t, time.Hour, ParseDurationDefault("-5m", time.Hour))
	assert.Equal(t, time.Hour, ParseDurationDefault("soon", time.Hour))
}

func TestParseIntDefaultAndSymbol(t *testing.T) {
	assert.Equal(t, 7, ParseIntDefault("7", 1))
	assert.Equal(t, 1, ParseIntDefault("x", 1))
	assert.Equal(t, 1, ParseIntDefault("", 1))
	assert.Equal(t, "BTCUSDT", NormalizeSymbol(" btcusdt "))
}
