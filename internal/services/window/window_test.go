package window

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"SignalGate/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func price(sec int, p float64) models.PriceSample {
	return models.PriceSample{Symbol: "SOL", Price: p, Timestamp: t0.Add(time.Duration(sec) * time.Second)}
}

func TestSlidingPrunesByAge(t *testing.T) {
	w := NewSliding[models.PriceSample](30*time.Second, 0)
	w.Add(price(0, 1))
	w.Add(price(10, 2))
	w.Add(price(45, 3))

	require.Equal(t, 1, w.Len())
	last, ok := w.Last()
	require.True(t, ok)
	assert.Equal(t, 3.0, last.Price)
}

func TestSlidingKeepsBoundary(t *testing.T) {
	w := NewSliding[models.PriceSample](30*time.Second, 0)
	w.Add(price(0, 1))
	w.Add(price(30, 2))

	assert.Equal(t, 2, w.Len())
}

func TestSlidingPrunesByCount(t *testing.T) {
	w := NewSliding[models.PriceSample](time.Hour, 3)
	for i := 0; i < 5; i++ {
		w.Add(price(i, float64(i)))
	}

	snap := w.Snapshot(t0.Add(5 * time.Second))
	require.Len(t, snap, 3)
	assert.Equal(t, 2.0, snap[0].Price)
	assert.Equal(t, 4.0, snap[2].Price)
}

func TestSnapshotFiltersByNow(t *testing.T) {
	w := NewSliding[models.PriceSample](30*time.Second, 0)
	w.Add(price(0, 1))
	w.Add(price(20, 2))

	snap := w.Snapshot(t0.Add(40 * time.Second))
	require.Len(t, snap, 1)
	assert.Equal(t, 2.0, snap[0].Price)

	// snapshot is a copy
	snap[0].Price = 99
	again := w.Snapshot(t0.Add(40 * time.Second))
	assert.Equal(t, 2.0, again[0].Price)
}

func TestStoreUnknownSymbolIsEmpty(t *testing.T) {
	s := NewStore[models.PriceSample](time.Minute, 10)

	assert.Empty(t, s.Snapshot("NOPE", t0))
	assert.Equal(t, 0, s.Len("NOPE"))
	_, ok := s.Last("NOPE")
	assert.False(t, ok)
}

func TestStoreIsolatesSymbols(t *testing.T) {
	s := NewStore[models.PriceSample](time.Minute, 10)
	s.Add("A", price(0, 1))
	s.Add("B", price(0, 2))
	s.Add("B", price(1, 3))

	assert.Equal(t, 1, s.Len("A"))
	assert.Equal(t, 2, s.Len("B"))
	assert.Equal(t, []string{"A", "B"}, s.Symbols())

	s.Clear("B")
	assert.Equal(t, 0, s.Len("B"))
	s.Clear("")
	assert.Empty(t, s.Symbols())
}

func TestStoreConcurrentWritersPerSymbol(t *testing.T) {
	s := NewStore[models.PriceSample](time.Hour, 0)
	const symbols, samples = 8, 200

	var wg sync.WaitGroup
	for i := 0; i < symbols; i++ {
		sym := fmt.Sprintf("S%d", i)
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < samples; j++ {
				p := price(j, float64(j))
				p.Symbol = sym
				s.Add(sym, p)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < samples; j++ {
				s.Snapshot(sym, t0.Add(time.Duration(j)*time.Second))
				s.Len(sym)
			}
		}()
	}
	wg.Wait()

	require.Len(t, s.Symbols(), symbols)
	for i := 0; i < symbols; i++ {
		sym := fmt.Sprintf("S%d", i)
		assert.Equal(t, samples, s.Len(sym), sym)
		last, ok := s.Last(sym)
		require.True(t, ok)
		assert.Equal(t, sym, last.Symbol)
		assert.Equal(t, float64(samples-1), last.Price)
	}
}

func TestGuardRejectsOlderPerKey(t *testing.T) {
	g := NewGuard[string]()

	require.NoError(t, g.Admit("trades", t0.Add(2*time.Second)))
	require.NoError(t, g.Admit("trades", t0.Add(2*time.Second)))
	require.NoError(t, g.Admit("prices", t0))

	err := g.Admit("trades", t0.Add(time.Second))
	assert.ErrorIs(t, err, ErrOutOfOrder)

	require.NoError(t, g.Admit("trades", t0.Add(3*time.Second)))
}
