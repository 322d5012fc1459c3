// Package detectors implements the rolling-window statistical detectors that emit raw signals.
package detectors

import (
	"sync"
	"time"

	"SignalGate/internal/domain/models"
	drepo "SignalGate/internal/domain/repository"

	"github.com/google/uuid"
)

// Detector is the common surface of every registered detector.
type Detector interface {
	Name() string
	Check(symbol string, now time.Time) (models.RawSignal, bool)
	Stats() Stats
	Recent(symbol string, limit int) []models.RawSignal
	Clear(symbol string)
}

// TradeConsumer accepts trade events.
type TradeConsumer interface {
	AddTrade(models.TradeEvent)
}

// LiquidityConsumer accepts liquidity snapshots.
type LiquidityConsumer interface {
	AddLiquidity(models.LiquiditySnapshot)
}

// PriceVolumeConsumer accepts price and volume samples.
type PriceVolumeConsumer interface {
	AddPrice(models.PriceSample)
	AddVolume(models.VolumeSample)
}

// Stats are counters shared by all detectors.
type Stats struct {
	Algorithm   string                     `json:"algorithm"`
	Checks      int64                      `json:"checks"`
	Signals     int64                      `json:"signals"`
	Suppressed  int64                      `json:"suppressed_by_cooldown"`
	ByDirection map[models.Direction]int64 `json:"by_direction"`
	LastSignal  map[string]time.Time       `json:"last_signal"`
	Symbols     int                        `json:"symbols"`
}

// Option configures a detector.
type Option func(*tracker)

// WithAdjuster loosens the detector's trigger levels through adj, keyed by detector name.
func WithAdjuster(adj drepo.ThresholdAdjuster) Option {
	return func(t *tracker) { t.adj = adj }
}

// tracker holds per-symbol cooldowns, recent history and stats for one detector.
type tracker struct {
	mu         sync.Mutex
	algorithm  string
	cooldown   time.Duration
	historyCap int
	adj        drepo.ThresholdAdjuster
	last       map[string]time.Time
	history    map[string][]models.RawSignal
	stats      Stats
}

func newTracker(algorithm string, cooldown time.Duration, historyCap int, opts ...Option) *tracker {
	if historyCap <= 0 {
		historyCap = 1000
	}
	t := &tracker{
		algorithm:  algorithm,
		cooldown:   cooldown,
		historyCap: historyCap,
		last:       make(map[string]time.Time),
		history:    make(map[string][]models.RawSignal),
		stats:      Stats{Algorithm: algorithm, ByDirection: make(map[models.Direction]int64)},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// threshold returns the trigger level in effect for base.
func (t *tracker) threshold(base float64) float64 {
	if t.adj == nil {
		return base
	}
	return t.adj.Adjusted(t.algorithm, base)
}

// begin counts a check and reports whether the symbol is still cooling down.
func (t *tracker) begin(symbol string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.Checks++
	last, ok := t.last[symbol]
	if ok && now.Sub(last) < t.cooldown {
		t.stats.Suppressed++
		return true
	}
	return false
}

// fire builds the raw signal, starts the cooldown and records it.
func (t *tracker) fire(symbol string, event models.Direction, confidence float64, now time.Time, metrics map[string]float64) models.RawSignal {
	sig := models.RawSignal{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		Direction:  event,
		Event:      event,
		Algorithm:  t.algorithm,
		Confidence: clamp01(confidence),
		Weight:     1.0,
		Timestamp:  now,
		Metrics:    metrics,
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.last[symbol] = now
	h := append(t.history[symbol], sig)
	if len(h) > t.historyCap {
		h = h[len(h)-t.historyCap:]
	}
	t.history[symbol] = h
	t.stats.Signals++
	t.stats.ByDirection[event]++
	return sig
}

func (t *tracker) recent(symbol string, limit int) []models.RawSignal {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.history[symbol]
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	return append([]models.RawSignal(nil), h...)
}

func (t *tracker) snapshot(symbols int) Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.stats
	s.Symbols = symbols
	s.ByDirection = make(map[models.Direction]int64, len(t.stats.ByDirection))
	for k, v := range t.stats.ByDirection {
		s.ByDirection[k] = v
	}
	s.LastSignal = make(map[string]time.Time, len(t.last))
	for k, v := range t.last {
		s.LastSignal[k] = v
	}
	return s
}

func (t *tracker) setCooldown(d time.Duration) {
	t.mu.Lock()
	t.cooldown = d
	t.mu.Unlock()
}

func (t *tracker) clear(symbol string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if symbol == "" {
		t.last = make(map[string]time.Time)
		t.history = make(map[string][]models.RawSignal)
		return
	}
	delete(t.last, symbol)
	delete(t.history, symbol)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
