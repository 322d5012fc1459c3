package detectors

import (
	"math"
	"sort"
	"sync"
	"time"

	"SignalGate/internal/domain/models"
	"SignalGate/internal/services/features"
	"SignalGate/internal/services/window"
	"SignalGate/pkg/config"
)

// Default blend of the recent-window correlation with the full-window correlation.
const (
	DefaultRecentPoints = 10
	DefaultRecentWeight = 0.7
)

// minVolumePoints is the number of volume samples needed for a half-over-half ratio.
const minVolumePoints = 10

// minStabilityPrices is the number of prices needed for a stability estimate.
const minStabilityPrices = 5

// VolumePriceMetrics are the statistics classified by the volume-price detector.
type VolumePriceMetrics struct {
	Correlation    float64
	VolumeIncrease float64
	PriceStability float64
	Aligned        int
}

// VolumePrice detects accumulation, distribution and breakout patterns from the
// relationship between price returns and volume changes.
type VolumePrice struct {
	mu      sync.RWMutex
	cfg     config.VolumePriceConfig
	prices  *window.Store[models.PriceSample]
	volumes *window.Store[models.VolumeSample]
	track   *tracker
}

// NewVolumePrice creates a volume-price correlation detector.
func NewVolumePrice(cfg config.VolumePriceConfig, historySize int, opts ...Option) *VolumePrice {
	if cfg.RecentPoints < 2 {
		cfg.RecentPoints = DefaultRecentPoints
	}
	return &VolumePrice{
		cfg:     cfg,
		prices:  window.NewStore[models.PriceSample](cfg.Window, cfg.MaxSamples),
		volumes: window.NewStore[models.VolumeSample](cfg.Window, cfg.MaxSamples),
		track:   newTracker(models.AlgorithmVolumePrice, cfg.Cooldown, historySize, opts...),
	}
}

func (d *VolumePrice) Name() string { return models.AlgorithmVolumePrice }

func (d *VolumePrice) AddPrice(p models.PriceSample) { d.prices.Add(p.Symbol, p) }

func (d *VolumePrice) AddVolume(v models.VolumeSample) { d.volumes.Add(v.Symbol, v) }

type alignedPoint struct {
	price  float64
	volume float64
}

// align pairs every price with the nearest volume sample inside the tolerance.
func align(prices []models.PriceSample, volumes []models.VolumeSample, tol time.Duration) []alignedPoint {
	if len(prices) == 0 || len(volumes) == 0 {
		return nil
	}
	out := make([]alignedPoint, 0, len(prices))
	for _, p := range prices {
		i := sort.Search(len(volumes), func(i int) bool { return !volumes[i].Timestamp.Before(p.Timestamp) })
		best, bestGap := -1, time.Duration(math.MaxInt64)
		for _, j := range []int{i - 1, i} {
			if j < 0 || j >= len(volumes) {
				continue
			}
			gap := volumes[j].Timestamp.Sub(p.Timestamp)
			if gap < 0 {
				gap = -gap
			}
			if gap < bestGap {
				best, bestGap = j, gap
			}
		}
		if best >= 0 && bestGap <= tol {
			out = append(out, alignedPoint{price: p.Price, volume: volumes[best].Volume})
		}
	}
	return out
}

// correlation computes Pearson(price returns, log-volume deltas) over aligned points.
func correlation(pts []alignedPoint) float64 {
	if len(pts) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(pts)-1)
	deltas := make([]float64, 0, len(pts)-1)
	for i := 1; i < len(pts); i++ {
		var r float64
		if pts[i-1].price != 0 {
			r = (pts[i].price - pts[i-1].price) / pts[i-1].price
		}
		returns = append(returns, features.Finite(r))
		deltas = append(deltas, features.Finite(math.Log(pts[i].volume+1)-math.Log(pts[i-1].volume+1)))
	}
	return features.Pearson(returns, deltas)
}

// Metrics computes correlation, volume increase and price stability for the symbol.
func (d *VolumePrice) Metrics(symbol string, now time.Time) VolumePriceMetrics {
	d.mu.RLock()
	cfg := d.cfg
	d.mu.RUnlock()

	prices := d.prices.Snapshot(symbol, now)
	volumes := d.volumes.Snapshot(symbol, now)
	m := VolumePriceMetrics{VolumeIncrease: 1, PriceStability: 1}

	pts := align(prices, volumes, cfg.AlignTolerance)
	m.Aligned = len(pts)
	if len(pts) >= cfg.MinAligned {
		global := correlation(pts)
		m.Correlation = global
		if len(pts) >= cfg.RecentPoints {
			recent := correlation(pts[len(pts)-cfg.RecentPoints:])
			m.Correlation = cfg.RecentWeight*recent + (1-cfg.RecentWeight)*global
		}
	}

	if len(volumes) >= minVolumePoints {
		vals := make([]float64, len(volumes))
		for i, v := range volumes {
			vals[i] = v.Volume
		}
		mid := len(vals) / 2
		early, late := features.Mean(vals[:mid]), features.Mean(vals[mid:])
		if early > 0 {
			m.VolumeIncrease = late / early
		}
	}

	if len(prices) >= minStabilityPrices {
		vals := make([]float64, len(prices))
		for i, p := range prices {
			vals[i] = p.Price
		}
		m.PriceStability = features.StdDev(features.PctChanges(vals))
	}
	return m
}

// Check classifies the window and fires at most one of ACCUMULATION, DISTRIBUTION or BREAKOUT.
func (d *VolumePrice) Check(symbol string, now time.Time) (models.RawSignal, bool) {
	if d.track.begin(symbol, now) {
		return models.RawSignal{}, false
	}

	d.mu.RLock()
	cfg := d.cfg
	d.mu.RUnlock()

	m := d.Metrics(symbol, now)
	if m.Aligned < cfg.MinAligned {
		return models.RawSignal{}, false
	}

	cfg.VolumeMultiplier = d.track.threshold(cfg.VolumeMultiplier)
	dir, ok := classify(m, cfg)
	if !ok {
		return models.RawSignal{}, false
	}

	volTerm := math.Min(1, m.VolumeIncrease/(2*cfg.VolumeMultiplier))
	patternTerm := math.Abs(m.Correlation)
	if dir == models.DirectionAccumulation {
		patternTerm = 1 - math.Min(1, m.PriceStability/cfg.PriceStability)
	}
	return d.track.fire(symbol, dir, 0.5*volTerm+0.5*patternTerm, now, map[string]float64{
		"correlation":     m.Correlation,
		"volume_increase": m.VolumeIncrease,
		"price_stability": m.PriceStability,
	}), true
}

func classify(m VolumePriceMetrics, cfg config.VolumePriceConfig) (models.Direction, bool) {
	if m.VolumeIncrease < cfg.VolumeMultiplier {
		return "", false
	}
	stable := m.PriceStability <= cfg.PriceStability
	switch {
	case stable && math.Abs(m.Correlation) <= cfg.CorrelationThreshold:
		return models.DirectionAccumulation, true
	case stable && m.Correlation < -cfg.CorrelationThreshold:
		return models.DirectionDistribution, true
	case m.Correlation > cfg.CorrelationThreshold:
		return models.DirectionBreakout, true
	}
	return "", false
}

// UpdateParameters swaps thresholds, blend settings and cooldown.
func (d *VolumePrice) UpdateParameters(cfg config.VolumePriceConfig) {
	if cfg.RecentPoints < 2 {
		cfg.RecentPoints = DefaultRecentPoints
	}
	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()
	d.prices.SetSpan(cfg.Window)
	d.volumes.SetSpan(cfg.Window)
	d.track.setCooldown(cfg.Cooldown)
}

func (d *VolumePrice) Stats() Stats { return d.track.snapshot(len(d.prices.Symbols())) }

func (d *VolumePrice) Recent(symbol string, limit int) []models.RawSignal {
	return d.track.recent(symbol, limit)
}

func (d *VolumePrice) Clear(symbol string) {
	d.prices.Clear(symbol)
	d.volumes.Clear(symbol)
	d.track.clear(symbol)
}
