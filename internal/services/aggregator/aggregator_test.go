package aggregator

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"SignalGate/internal/domain/models"
	"SignalGate/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

func at(sec int) time.Time { return t0.Add(time.Duration(sec) * time.Second) }

func raw(algo string, ev models.Direction, conf float64, ts time.Time) models.RawSignal {
	return models.RawSignal{
		ID:         algo + string(ev),
		Symbol:     "SOL",
		Direction:  ev,
		Event:      ev,
		Algorithm:  algo,
		Confidence: conf,
		Weight:     1,
		Timestamp:  ts,
	}
}

func newAgg() *Aggregator { return New(config.Default().Aggregator, nil) }

func TestTwoAlgorithmsConfirm(t *testing.T) {
	a := newAgg()

	_, ok := a.Add(raw(models.AlgorithmOrderFlow, models.DirectionBuy, 0.8, at(0)), at(0))
	require.False(t, ok)

	c, ok := a.Add(raw(models.AlgorithmLiquidity, models.DirectionIncrease, 0.7, at(0)), at(0))
	require.True(t, ok)
	assert.Equal(t, models.DirectionBuy, c.Direction)
	assert.InDelta(t, 0.85, c.Strength, 1e-9)
	assert.Equal(t, []string{"liquidity", "order_flow"}, c.Algorithms)
	assert.Equal(t, 2, c.SignalCount)

	// a third agreeing signal inside the cooldown does not emit again
	_, ok = a.Add(raw(models.AlgorithmVolumePrice, models.DirectionBreakout, 0.9, at(1)), at(1))
	assert.False(t, ok)

	st := a.Stats()
	assert.Equal(t, int64(1), st.Combined)
	assert.Equal(t, int64(1), st.Suppressed)
	assert.Len(t, a.RecentCombined(10), 1)
}

func TestDuplicateAlgorithmDoesNotConfirm(t *testing.T) {
	a := newAgg()
	a.Add(raw(models.AlgorithmOrderFlow, models.DirectionBuy, 0.9, at(0)), at(0))
	_, ok := a.Add(raw(models.AlgorithmOrderFlow, models.DirectionBuy, 0.9, at(5)), at(5))
	assert.False(t, ok)
	assert.Greater(t, a.Strength("SOL", models.DirectionBuy, at(5)), 0.0)
}

func TestOpposingDirectionsDoNotConfirm(t *testing.T) {
	a := newAgg()
	a.Add(raw(models.AlgorithmOrderFlow, models.DirectionBuy, 0.9, at(0)), at(0))
	_, ok := a.Add(raw(models.AlgorithmLiquidity, models.DirectionDecrease, 0.9, at(1)), at(1))
	assert.False(t, ok)
}

func TestRawEventGrouping(t *testing.T) {
	cfg := config.Default().Aggregator
	cfg.RawEventGrouping = true
	a := New(cfg, nil)

	a.Add(raw(models.AlgorithmOrderFlow, models.DirectionBuy, 0.9, at(0)), at(0))
	_, ok := a.Add(raw(models.AlgorithmLiquidity, models.DirectionIncrease, 0.9, at(0)), at(0))
	assert.False(t, ok)
}

func TestConfirmationWindowExpires(t *testing.T) {
	a := newAgg()
	a.Add(raw(models.AlgorithmOrderFlow, models.DirectionBuy, 0.9, at(0)), at(0))
	_, ok := a.Add(raw(models.AlgorithmLiquidity, models.DirectionIncrease, 0.9, at(31)), at(31))
	assert.False(t, ok)
}

func TestStrengthDecayAndWeights(t *testing.T) {
	a := newAgg()
	a.Add(raw(models.AlgorithmOrderFlow, models.DirectionBuy, 1.0, at(0)), at(0))
	c, ok := a.Add(raw(models.AlgorithmVolumePrice, models.DirectionBreakout, 0.5, at(15)), at(15))
	require.True(t, ok)

	// order_flow: weight 1.0 x decay 0.5; volume_price: weight 0.8 x decay 1.0
	want := (1.0*0.5+0.5*0.8)/(0.5+0.8) + 0.1
	assert.InDelta(t, want, c.Strength, 1e-9)
}

func TestStrengthCapped(t *testing.T) {
	a := newAgg()
	a.Add(raw(models.AlgorithmOrderFlow, models.DirectionSell, 1.0, at(0)), at(0))
	a.Add(raw(models.AlgorithmLiquidity, models.DirectionDecrease, 1.0, at(0)), at(0))
	assert.Equal(t, 1.0, a.RecentCombined(1)[0].Strength)
}

func TestCooldownElapses(t *testing.T) {
	a := newAgg()
	a.Add(raw(models.AlgorithmOrderFlow, models.DirectionBuy, 0.8, at(0)), at(0))
	_, ok := a.Add(raw(models.AlgorithmLiquidity, models.DirectionIncrease, 0.8, at(0)), at(0))
	require.True(t, ok)
	assert.True(t, a.InCooldown("SOL", at(299)))

	a.CleanupExpired(at(300))
	assert.False(t, a.InCooldown("SOL", at(300)))
	assert.Equal(t, 0, a.Stats().Cooldowns)

	a.Add(raw(models.AlgorithmOrderFlow, models.DirectionBuy, 0.8, at(300)), at(300))
	_, ok = a.Add(raw(models.AlgorithmLiquidity, models.DirectionIncrease, 0.8, at(301)), at(301))
	assert.True(t, ok)
}

func TestConcurrentAddsEmitOnce(t *testing.T) {
	a := newAgg()
	algos := []string{models.AlgorithmOrderFlow, models.AlgorithmLiquidity, models.AlgorithmVolumePrice}

	var emitted int32
	var wg sync.WaitGroup
	for i := 0; i < 60; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, ok := a.Add(raw(algos[i%3], models.DirectionBuy, 0.8, at(0)), at(1)); ok {
				atomic.AddInt32(&emitted, 1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), emitted)
	assert.Equal(t, int64(1), a.Stats().Combined)
}

func TestUpdateWeightsAndClear(t *testing.T) {
	a := newAgg()
	a.UpdateWeights(map[string]float64{models.AlgorithmOrderFlow: 0})

	a.Add(raw(models.AlgorithmOrderFlow, models.DirectionBuy, 1.0, at(0)), at(0))
	c, ok := a.Add(raw(models.AlgorithmLiquidity, models.DirectionBuy, 0.4, at(0)), at(0))
	require.True(t, ok)
	assert.InDelta(t, 0.5, c.Strength, 1e-9)

	a.Clear("SOL")
	assert.False(t, a.InCooldown("SOL", at(1)))
	assert.Equal(t, 0, a.Stats().ActiveSymbols)
}

type fixedAdjuster map[string]float64

func (f fixedAdjuster) Adjusted(name string, base float64) float64 {
	if scale, ok := f[name]; ok {
		return base / scale
	}
	return base
}

func TestLoosenedThresholdConfirmsSingleAlgorithm(t *testing.T) {
	a := New(config.Default().Aggregator, nil, WithAdjuster(fixedAdjuster{ConfirmationKey: 2}))

	c, ok := a.Add(raw(models.AlgorithmOrderFlow, models.DirectionBuy, 0.8, at(0)), at(0))
	require.True(t, ok)
	assert.Equal(t, []string{"order_flow"}, c.Algorithms)

	st := a.Stats()
	assert.Equal(t, 2, st.Threshold)
	assert.Equal(t, 1, st.Effective)
}

func TestLoosenedThresholdRoundsUpAndNeverDropsBelowOne(t *testing.T) {
	cfg := config.Default().Aggregator
	cfg.ConfirmationThreshold = 3
	a := New(cfg, nil, WithAdjuster(fixedAdjuster{ConfirmationKey: 1.2}))
	assert.Equal(t, 3, a.Stats().Effective, "3/1.2 = 2.5 rounds up")

	a = New(cfg, nil, WithAdjuster(fixedAdjuster{ConfirmationKey: 10}))
	assert.Equal(t, 1, a.Stats().Effective)

	a = New(cfg, nil, WithAdjuster(fixedAdjuster{"order_flow": 2}))
	assert.Equal(t, 3, a.Stats().Effective, "other names leave it alone")
}

func TestSymbolsConfirmIndependently(t *testing.T) {
	a := newAgg()
	symbols := []string{"SOL", "ETH", "BTC", "ARB", "OP", "JUP"}

	var wg sync.WaitGroup
	results := make([]int32, len(symbols))
	for i, sym := range symbols {
		for _, algo := range []string{models.AlgorithmOrderFlow, models.AlgorithmLiquidity} {
			wg.Add(1)
			go func(i int, sym, algo string) {
				defer wg.Done()
				sig := raw(algo, models.DirectionBuy, 0.8, at(0))
				sig.Symbol = sym
				if _, ok := a.Add(sig, at(0)); ok {
					atomic.AddInt32(&results[i], 1)
				}
			}(i, sym, algo)
		}
	}
	wg.Wait()

	for i, sym := range symbols {
		assert.Equal(t, int32(1), results[i], sym)
		assert.True(t, a.InCooldown(sym, at(1)), sym)
	}
	st := a.Stats()
	assert.Equal(t, int64(len(symbols)), st.Combined)
	assert.Equal(t, int64(len(symbols)), st.ByDirection[models.DirectionBuy])
	assert.Len(t, a.RecentCombined(0), len(symbols))
}
