package logger

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorDeduplicates(t *testing.T) {
	l := Nop()
	c := l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 10})
	defer l.RemoveCollector()

	for i := 0; i < 3; i++ {
		l.Error("sink write failed", String("sink", "clickhouse"), Error(errors.New("timeout")))
	}
	l.Warn("dropped out-of-order sample", String("symbol", "SOL"))

	errs := c.Recent("error", 0)
	require.Len(t, errs, 1)
	assert.Equal(t, 3, errs[0].Count)
	assert.Equal(t, "timeout", errs[0].Fields["error"])

	assert.Len(t, c.Recent("", 0), 2)
}

func TestCollectorRetainsFlushed(t *testing.T) {
	l := Nop()
	c := l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 2, Retain: 2})
	defer l.RemoveCollector()

	l.Error("a")
	l.Error("b") // reaches the threshold and flushes
	l.Error("c")
	l.Error("d") // flushes again, retention trims to 2

	got := c.Recent("error", 0)
	require.Len(t, got, 2)
	assert.ElementsMatch(t, []string{"c", "d"}, []string{got[0].Message, got[1].Message})
}

func TestWithCarriesCollector(t *testing.T) {
	l := Nop()
	c := l.AddCollector(&CollectionConfig{TimeInterval: time.Hour})
	defer l.RemoveCollector()

	child := l.With(String("component", "gate"))
	child.Error("veto failed")

	assert.Len(t, c.Recent("error", 5), 1)
}

func TestErrorFieldNil(t *testing.T) {
	k, v := Error(nil).GetKeyValue()
	assert.Equal(t, "error", k)
	assert.Nil(t, v)
}
