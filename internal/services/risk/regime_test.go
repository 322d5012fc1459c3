package risk

import (
	"testing"

	"SignalGate/internal/domain/models"
	"SignalGate/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegime() *RegimeFilter {
	return NewRegimeFilter(config.Default().Regime, nil)
}

// choppy alternates between 100 and 100.01, about 7% annualized.
func choppy(i int) float64 {
	if i%2 == 0 {
		return 100
	}
	return 100.01
}

func TestRegimeStartsNormal(t *testing.T) {
	f := newRegime()
	assert.Equal(t, models.RegimeNormal, f.Current())

	// too few prices never classifies
	for i := 0; i < 5; i++ {
		_, changed := f.AddPrice(models.PriceSample{Symbol: "BTC", Price: 100, Timestamp: at(i)})
		assert.False(t, changed)
	}
	assert.Equal(t, models.RegimeNormal, f.Current())
}

func TestRegimeFlipsAfterPersistence(t *testing.T) {
	f := newRegime()

	var change models.RegimeChange
	flippedAt := -1
	for i := 0; i < 15; i++ {
		c, changed := f.AddPrice(models.PriceSample{Symbol: "BTC", Price: choppy(i), Timestamp: at(i)})
		if changed {
			change = c
			flippedAt = i
			break
		}
	}
	// first classification at the 10th price, committed on the 3rd consecutive one
	require.Equal(t, 11, flippedAt)
	assert.Equal(t, models.RegimeNormal, change.From)
	assert.Equal(t, models.RegimeVolatile, change.To)
	assert.InDelta(t, 0.0725, change.BTCVolatility, 0.001)
	assert.Equal(t, models.RegimeVolatile, f.Current())
	assert.Len(t, f.RecentChanges(10), 1)

	vol, ok := f.Volatility("BTC", at(11))
	require.True(t, ok)
	assert.Equal(t, models.RegimeVolatile, f.Classify(vol))
}

func TestRegimeAltcoinsIgnored(t *testing.T) {
	f := newRegime()
	for i := 0; i < 20; i++ {
		_, changed := f.AddPrice(models.PriceSample{Symbol: "DOGE", Price: choppy(i) * 1000, Timestamp: at(i)})
		assert.False(t, changed)
	}
	_, ok := f.Volatility("DOGE", at(19))
	assert.True(t, ok)
	assert.Equal(t, models.RegimeNormal, f.Current())
}

func TestRegimeHysteresisResets(t *testing.T) {
	f := newRegime()

	f.mu.Lock()
	defer f.mu.Unlock()
	_, changed := f.observeLocked(models.RegimeVolatile, at(0))
	assert.False(t, changed)
	_, changed = f.observeLocked(models.RegimeVolatile, at(1))
	assert.False(t, changed)
	// seeing the committed regime again resets the pending count
	_, changed = f.observeLocked(models.RegimeNormal, at(2))
	assert.False(t, changed)
	assert.Equal(t, 0, f.confirms)

	_, changed = f.observeLocked(models.RegimeVolatile, at(3))
	assert.False(t, changed)
	_, changed = f.observeLocked(models.RegimeHighlyVolatile, at(4))
	assert.False(t, changed)
	assert.Equal(t, 1, f.confirms)
	f.observeLocked(models.RegimeHighlyVolatile, at(5))
	c, changed := f.observeLocked(models.RegimeHighlyVolatile, at(6))
	assert.True(t, changed)
	assert.Equal(t, models.RegimeHighlyVolatile, c.To)
}

func TestShouldFilterSignal(t *testing.T) {
	f := newRegime()

	filtered, _ := f.ShouldFilterSignal("DOGE", true)
	assert.False(t, filtered)

	f.mu.Lock()
	f.current = models.RegimeVolatile
	f.mu.Unlock()

	filtered, reason := f.ShouldFilterSignal("DOGE", true)
	assert.True(t, filtered)
	assert.Contains(t, reason, "VOLATILE")

	filtered, _ = f.ShouldFilterSignal("BTC", false)
	assert.False(t, filtered)

	st := f.Status()
	assert.Equal(t, int64(3), st.SignalsChecked)
	assert.Equal(t, int64(1), st.SignalsFiltered)
	assert.Equal(t, 0.7, st.Rule.PositionSizeMultiplier)
}

func TestSetThresholds(t *testing.T) {
	f := newRegime()
	require.Error(t, f.SetThresholds(0.05, 0.02, 0.1))
	require.NoError(t, f.SetThresholds(0.1, 0.2, 0.3))
	assert.Equal(t, models.RegimeCalm, f.Classify(0.0725))
	assert.Equal(t, models.RegimeHighlyVolatile, f.Classify(0.3))
}

func TestRuleFor(t *testing.T) {
	assert.Equal(t, 0.5, RuleFor(models.RegimeHighlyVolatile).PositionSizeMultiplier)
	assert.Equal(t, 2.0, RuleFor(models.RegimeHighlyVolatile).RiskMultiplier)
	assert.Equal(t, RuleFor(models.RegimeNormal), RuleFor(models.Regime("UNKNOWN")))
}
