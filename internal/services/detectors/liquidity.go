package detectors

import (
	"math"
	"sync"
	"time"

	"SignalGate/internal/domain/models"
	"SignalGate/internal/services/features"
	"SignalGate/internal/services/window"
	"SignalGate/pkg/config"
)

// Default smoothing spans for the liquidity derivatives.
const (
	DefaultRateSpan         = 5
	DefaultAccelerationSpan = 3
)

// LiquidityMetrics are the smoothed derivatives of a liquidity series.
// Rate is in percent per second, acceleration in percent per second squared.
type LiquidityMetrics struct {
	Rate         float64
	Acceleration float64
	Latest       float64
	Points       int
}

// Liquidity detects rapid inflow or outflow of pool liquidity.
type Liquidity struct {
	mu       sync.RWMutex
	cfg      config.LiquidityConfig
	readings *window.Store[models.LiquiditySnapshot]
	track    *tracker
}

// NewLiquidity creates a liquidity event detector.
func NewLiquidity(cfg config.LiquidityConfig, historySize int, opts ...Option) *Liquidity {
	if cfg.RateSpan < 1 {
		cfg.RateSpan = DefaultRateSpan
	}
	if cfg.AccelerationSpan < 1 {
		cfg.AccelerationSpan = DefaultAccelerationSpan
	}
	return &Liquidity{
		cfg:      cfg,
		readings: window.NewStore[models.LiquiditySnapshot](cfg.Window, cfg.MaxReadings),
		track:    newTracker(models.AlgorithmLiquidity, cfg.Cooldown, historySize, opts...),
	}
}

func (d *Liquidity) Name() string { return models.AlgorithmLiquidity }

// AddLiquidity buffers a liquidity reading.
func (d *Liquidity) AddLiquidity(s models.LiquiditySnapshot) {
	d.readings.Add(s.Symbol, s)
}

// Metrics computes the smoothed rate and acceleration for the symbol's window.
func (d *Liquidity) Metrics(symbol string, now time.Time) LiquidityMetrics {
	d.mu.RLock()
	rateSpan, accSpan := d.cfg.RateSpan, d.cfg.AccelerationSpan
	d.mu.RUnlock()

	pts := d.readings.Snapshot(symbol, now)
	m := LiquidityMetrics{Points: len(pts)}
	if len(pts) == 0 {
		return m
	}
	m.Latest = pts[len(pts)-1].TotalLiquidity
	if len(pts) < 2 {
		return m
	}

	rates := make([]float64, 0, len(pts)-1)
	gaps := make([]float64, 0, len(pts)-1)
	for i := 1; i < len(pts); i++ {
		dt := pts[i].Timestamp.Sub(pts[i-1].Timestamp).Seconds()
		prev := pts[i-1].TotalLiquidity
		var r float64
		if dt > 0 && prev > 0 {
			r = (pts[i].TotalLiquidity - prev) / prev * 100 / dt
		}
		rates = append(rates, features.Finite(r))
		gaps = append(gaps, dt)
	}
	m.Rate = features.EWMA(rates, rateSpan)

	if len(pts) >= 3 {
		acc := make([]float64, 0, len(rates)-1)
		for i := 1; i < len(rates); i++ {
			var a float64
			if gaps[i] > 0 {
				a = (rates[i] - rates[i-1]) / gaps[i]
			}
			acc = append(acc, features.Finite(a))
		}
		m.Acceleration = features.EWMA(acc, accSpan)
	}
	return m
}

// Check fires LIQUIDITY_INCREASE or LIQUIDITY_DECREASE when the rate or acceleration crosses
// its threshold and the pool is deep enough.
func (d *Liquidity) Check(symbol string, now time.Time) (models.RawSignal, bool) {
	if d.track.begin(symbol, now) {
		return models.RawSignal{}, false
	}

	d.mu.RLock()
	cfg := d.cfg
	d.mu.RUnlock()

	m := d.Metrics(symbol, now)
	if m.Points < 2 || m.Latest < cfg.MinLiquidity {
		return models.RawSignal{}, false
	}

	rateLevel := d.track.threshold(cfg.RateThreshold)
	accLevel := d.track.threshold(cfg.AccelerationThreshold)
	rateHit := math.Abs(m.Rate) >= rateLevel
	accHit := math.Abs(m.Acceleration) >= accLevel
	if !rateHit && !accHit {
		return models.RawSignal{}, false
	}

	trigger := m.Acceleration
	if rateHit {
		trigger = m.Rate
	}
	dir := models.DirectionIncrease
	if trigger < 0 {
		dir = models.DirectionDecrease
	}

	strength := math.Max(math.Abs(m.Rate)/rateLevel, math.Abs(m.Acceleration)/accLevel)
	confidence := math.Max(0.5, math.Min(1, strength/2))

	return d.track.fire(symbol, dir, confidence, now, map[string]float64{
		"rate":         m.Rate,
		"acceleration": m.Acceleration,
		"liquidity":    m.Latest,
	}), true
}

// UpdateParameters swaps thresholds, spans and cooldown.
func (d *Liquidity) UpdateParameters(cfg config.LiquidityConfig) {
	if cfg.RateSpan < 1 {
		cfg.RateSpan = DefaultRateSpan
	}
	if cfg.AccelerationSpan < 1 {
		cfg.AccelerationSpan = DefaultAccelerationSpan
	}
	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()
	d.readings.SetSpan(cfg.Window)
	d.track.setCooldown(cfg.Cooldown)
}

func (d *Liquidity) Stats() Stats { return d.track.snapshot(len(d.readings.Symbols())) }

func (d *Liquidity) Recent(symbol string, limit int) []models.RawSignal {
	return d.track.recent(symbol, limit)
}

func (d *Liquidity) Clear(symbol string) {
	d.readings.Clear(symbol)
	d.track.clear(symbol)
}
