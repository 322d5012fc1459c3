package risk

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"SignalGate/internal/domain/models"
	"SignalGate/internal/services/features"
	"SignalGate/pkg/config"
	"SignalGate/pkg/logger"
)

// Managed threshold names. Detector trigger levels are managed under the detector name.
const (
	ThresholdMaxSignalAge = "max_signal_age_seconds"
	ThresholdConfirmation = "confirmation_threshold"
)

// ceilings are thresholds that veto above their value; they loosen by growing.
// Every other managed threshold is a trigger level that loosens by shrinking.
var ceilings = map[string]bool{ThresholdMaxSignalAge: true}

// ErrNoLatencyData is returned for a component without samples.
var ErrNoLatencyData = errors.New("no latency data")

// Latency factor levels by P95 bucket.
const (
	factorLow      = 1.0
	factorMedium   = 1.2
	factorHigh     = 1.5
	factorCritical = 2.0
)

// trendPoints is the size of each half compared by the trend check.
const trendPoints = 5

// trendRise is the ratio of recent to earlier mean latency that counts as a worsening trend.
const trendRise = 1.2

type latencyRing struct {
	buf  []float64
	next int
	full bool
}

func (r *latencyRing) add(v float64) {
	r.buf[r.next] = v
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

// values returns the samples oldest first.
func (r *latencyRing) values() []float64 {
	if !r.full {
		return append([]float64(nil), r.buf[:r.next]...)
	}
	out := make([]float64, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}

// LatencyManager tracks per-component latency and loosens the managed thresholds by the
// weighted adjustment factor.
type LatencyManager struct {
	mu          sync.Mutex
	cfg         config.LatencyConfig
	log         *logger.Logger
	rings       map[string]*latencyRing
	base        map[string]float64
	current     map[string]float64
	overall     float64
	scale       float64
	total       int64
	adjustments int64
}

// NewLatencyManager creates a latency compensation manager.
func NewLatencyManager(cfg config.LatencyConfig, log *logger.Logger) *LatencyManager {
	if log == nil {
		log = logger.Nop()
	}
	m := &LatencyManager{
		cfg:     cfg,
		log:     log,
		rings:   make(map[string]*latencyRing),
		base:    make(map[string]float64, len(cfg.BaseThresholds)),
		current: make(map[string]float64, len(cfg.BaseThresholds)),
		overall: 1.0,
		scale:   1.0,
	}
	for k, v := range cfg.BaseThresholds {
		m.base[k] = v
		m.current[k] = v
	}
	return m
}

// Record adds a latency sample and re-evaluates the overall factor. It returns the new factor.
func (m *LatencyManager) Record(component string, latencyMs float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rings[component]
	if !ok {
		r = &latencyRing{buf: make([]float64, m.cfg.BufferSize)}
		m.rings[component] = r
	}
	r.add(latencyMs)
	m.total++

	m.evaluateLocked()
	return m.overall
}

// Factor returns the adjustment factor of one component.
func (m *LatencyManager) Factor(component string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.componentFactorLocked(component)
}

// OverallFactor returns the last weighted factor.
func (m *LatencyManager) OverallFactor() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.overall
}

// CurrentThreshold returns the latency-adjusted value of a managed threshold.
func (m *LatencyManager) CurrentThreshold(name string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.current[name]
	return v, ok
}

// Adjusted loosens base by the applied factor when name is managed: ceilings are multiplied,
// trigger levels are divided. Unmanaged names and a factor within tolerance return base.
func (m *LatencyManager) Adjusted(name string, base float64) float64 {
	m.mu.Lock()
	_, managed := m.base[name]
	scale := m.scale
	m.mu.Unlock()
	return loosen(name, base, scale, managed)
}

func loosen(name string, base, scale float64, managed bool) float64 {
	if !managed || scale == 1 || scale <= 0 {
		return base
	}
	if ceilings[name] {
		return base * scale
	}
	return base / scale
}

// Stats returns the statistics of one component.
func (m *LatencyManager) Stats(component string) (models.LatencyStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statsLocked(component)
}

// Bottlenecks lists components whose P95 exceeds thresholdMs, sorted by name.
func (m *LatencyManager) Bottlenecks(thresholdMs float64) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bottlenecksLocked(thresholdMs)
}

// Report summarises every component and the threshold state.
func (m *LatencyManager) Report() models.LatencyReportSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	rep := models.LatencyReportSummary{
		OverallFactor:     m.overall,
		Components:        make(map[string]models.LatencyStats, len(m.rings)),
		Bottlenecks:       m.bottlenecksLocked(m.cfg.BottleneckMs),
		BaseThresholds:    copyMap(m.base),
		CurrentThresholds: copyMap(m.current),
		Adjustments:       m.adjustments,
	}
	for c := range m.rings {
		if st, err := m.statsLocked(c); err == nil {
			rep.Components[c] = st
		}
	}
	return rep
}

// ResetThresholds restores every managed threshold to its base value.
func (m *LatencyManager) ResetThresholds() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = copyMap(m.base)
	m.scale = 1.0
	m.log.Info("reset thresholds to base values")
}

// UpdateBaseThresholds merges new base values and re-applies the current factor.
func (m *LatencyManager) UpdateBaseThresholds(values map[string]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range values {
		m.base[k] = v
	}
	m.applyLocked(m.overall)
	m.log.Info("updated base thresholds", logger.Any("thresholds", values))
}

// Clear drops the samples of one component, or of all components when empty.
func (m *LatencyManager) Clear(component string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if component == "" {
		m.rings = make(map[string]*latencyRing)
		m.total = 0
		m.adjustments = 0
		m.overall = 1.0
		m.scale = 1.0
		m.current = copyMap(m.base)
		return
	}
	delete(m.rings, component)
	m.evaluateLocked()
}

func (m *LatencyManager) evaluateLocked() {
	var num, den float64
	for c, w := range m.cfg.ComponentWeights {
		if _, ok := m.rings[c]; !ok {
			continue
		}
		num += m.componentFactorLocked(c) * w
		den += w
	}
	overall := 1.0
	if den > 0 {
		overall = num / den
	}
	if overall != m.overall {
		m.log.Debug("latency factor changed", logger.Float64("from", m.overall), logger.Float64("to", overall))
	}
	m.overall = overall
	m.applyLocked(overall)
}

// applyLocked loosens every managed threshold by factor when it deviates beyond the tolerance,
// otherwise restores the base values.
func (m *LatencyManager) applyLocked(factor float64) {
	scale := 1.0
	if math.Abs(factor-1) > m.cfg.ApplyTolerance {
		scale = factor
	}
	m.scale = scale
	changed := false
	for k, b := range m.base {
		v := loosen(k, b, scale, true)
		if m.current[k] != v {
			changed = true
		}
		m.current[k] = v
	}
	if changed && scale != 1 {
		m.adjustments++
		m.log.Info("applied threshold adjustment", logger.Float64("factor", factor))
	}
}

func (m *LatencyManager) componentFactorLocked(component string) float64 {
	r, ok := m.rings[component]
	if !ok {
		return factorLow
	}
	all := r.values()
	if len(all) == 0 {
		return factorLow
	}
	recent := all
	if len(recent) > m.cfg.PercentileWindow {
		recent = recent[len(recent)-m.cfg.PercentileWindow:]
	}

	p95 := features.Percentile(recent, 95)
	factor := factorCritical
	switch {
	case p95 < m.cfg.LowMs:
		factor = factorLow
	case p95 < m.cfg.MediumMs:
		factor = factorMedium
	case p95 < m.cfg.HighMs:
		factor = factorHigh
	}

	if len(recent) >= 2*trendPoints {
		last := features.Mean(recent[len(recent)-trendPoints:])
		prior := features.Mean(recent[len(recent)-2*trendPoints : len(recent)-trendPoints])
		if last > prior*trendRise {
			factor *= m.cfg.TrendFactor
		}
	}
	return factor
}

func (m *LatencyManager) statsLocked(component string) (models.LatencyStats, error) {
	r, ok := m.rings[component]
	if !ok {
		return models.LatencyStats{}, fmt.Errorf("%w for component %s", ErrNoLatencyData, component)
	}
	v := r.values()
	if len(v) == 0 {
		return models.LatencyStats{}, fmt.Errorf("%w for component %s", ErrNoLatencyData, component)
	}
	lo, hi := features.MinMax(v)
	return models.LatencyStats{
		Component: component,
		Count:     len(v),
		Avg:       features.Mean(v),
		Median:    features.Percentile(v, 50),
		P95:       features.Percentile(v, 95),
		P99:       features.Percentile(v, 99),
		Min:       lo,
		Max:       hi,
		StdDev:    features.StdDev(v),
		Factor:    m.componentFactorLocked(component),
	}, nil
}

func (m *LatencyManager) bottlenecksLocked(thresholdMs float64) []string {
	var out []string
	for c, r := range m.rings {
		v := r.values()
		if len(v) == 0 {
			continue
		}
		if p95 := features.Percentile(v, 95); p95 > thresholdMs {
			out = append(out, fmt.Sprintf("%s (P95: %.2fms)", c, p95))
		}
	}
	sort.Strings(out)
	return out
}

func copyMap(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// MaxSignalAge returns the latency-adjusted maximum age of a combined signal at gate time.
func (m *LatencyManager) MaxSignalAge() time.Duration {
	v, ok := m.CurrentThreshold(ThresholdMaxSignalAge)
	if !ok {
		return 0
	}
	return time.Duration(v * float64(time.Second))
}
