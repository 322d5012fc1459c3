// Package risk holds the risk modules consulted before a combined signal becomes a decision.
package risk

import (
	"sort"
	"sync"
	"time"

	"SignalGate/internal/domain/models"
	"SignalGate/pkg/config"
	"SignalGate/pkg/logger"
)

// successFactors maps a minimum success rate to the cooldown multiplier applied at or above it.
var successFactors = []struct {
	rate   float64
	factor float64
}{
	{0.8, 0.7},
	{0.6, 0.85},
	{0.4, 1.0},
	{0.2, 1.5},
	{0, 2.0},
}

// SuccessRate summarises the recent outcomes of one symbol.
type SuccessRate struct {
	Rate      float64   `json:"success_rate"`
	AvgProfit float64   `json:"avg_profit"`
	Signals   int       `json:"total_signals"`
	Updated   time.Time `json:"last_updated"`
}

// CooldownStats are the cooldown manager counters.
type CooldownStats struct {
	TotalSet        int64         `json:"total_cooldowns_set"`
	Active          int           `json:"active_cooldowns"`
	Blocked         int64         `json:"signals_blocked"`
	Violations      int64         `json:"cooldown_violations"`
	Base            time.Duration `json:"default_cooldown"`
	Dynamic         bool          `json:"dynamic_adjustment"`
	CustomSymbols   int           `json:"symbols_with_custom_cooldowns"`
	SymbolsWithHist int           `json:"symbols_with_history"`
}

// CooldownManager blocks repeat signals on a symbol for a period derived from its recent success rate.
type CooldownManager struct {
	mu        sync.Mutex
	cfg       config.CooldownConfig
	log       *logger.Logger
	active    map[string]models.CooldownEntry
	overrides map[string]time.Duration
	history   map[string][]models.SignalOutcome
	rates     map[string]SuccessRate
	stats     CooldownStats
}

// NewCooldownManager creates a cooldown manager.
func NewCooldownManager(cfg config.CooldownConfig, log *logger.Logger) *CooldownManager {
	if log == nil {
		log = logger.Nop()
	}
	m := &CooldownManager{
		cfg:       cfg,
		log:       log,
		active:    make(map[string]models.CooldownEntry),
		overrides: make(map[string]time.Duration),
		history:   make(map[string][]models.SignalOutcome),
		rates:     make(map[string]SuccessRate),
	}
	for symbol, d := range cfg.SymbolOverrides {
		m.overrides[symbol] = m.clamp(d)
	}
	return m
}

// SetCooldown starts a cooldown for symbol. A zero duration selects the dynamic duration.
func (m *CooldownManager) SetCooldown(symbol string, d time.Duration, now time.Time) models.CooldownEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setLocked(symbol, d, now)
}

// TryAcquire starts a cooldown unless one is already active and reports whether it did.
func (m *CooldownManager) TryAcquire(symbol string, now time.Time) (models.CooldownEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.activeLocked(symbol, now); ok {
		m.stats.Blocked++
		return e, false
	}
	return m.setLocked(symbol, 0, now), true
}

// Restore installs an entry obtained from another replica if it is still live and later
// than the local one.
func (m *CooldownManager) Restore(e models.CooldownEntry, now time.Time) {
	if !now.Before(e.ExpiresAt) {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.active[e.Symbol]; ok && !cur.ExpiresAt.Before(e.ExpiresAt) {
		return
	}
	m.active[e.Symbol] = e
}

// IsInCooldown reports whether the symbol is blocked at now; expired entries are removed.
func (m *CooldownManager) IsInCooldown(symbol string, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.activeLocked(symbol, now); ok {
		m.stats.Blocked++
		return true
	}
	return false
}

// Remaining returns the time left on the symbol's cooldown.
func (m *CooldownManager) Remaining(symbol string, now time.Time) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.activeLocked(symbol, now)
	if !ok {
		return 0, false
	}
	return e.ExpiresAt.Sub(now), true
}

// Duration returns the cooldown that SetCooldown would apply to symbol now.
func (m *CooldownManager) Duration(symbol string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.durationLocked(symbol)
}

// RecordSignalResult appends an outcome used by the dynamic duration.
func (m *CooldownManager) RecordSignalResult(symbol string, success bool, profit float64, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := append(m.history[symbol], models.SignalOutcome{Success: success, Profit: profit, At: now})
	if max := m.cfg.OutcomeWindow * 3; len(h) > max {
		h = h[len(h)-max:]
	}
	m.history[symbol] = h

	recent := m.recentLocked(symbol)
	var wins int
	var profitSum float64
	var profitN int
	for _, o := range recent {
		if o.Success {
			wins++
		}
		if o.Profit != 0 {
			profitSum += o.Profit
			profitN++
		}
	}
	r := SuccessRate{Rate: float64(wins) / float64(len(recent)), Signals: len(recent), Updated: now}
	if profitN > 0 {
		r.AvgProfit = profitSum / float64(profitN)
	}
	m.rates[symbol] = r
	m.log.Debug("recorded signal result",
		logger.String("symbol", symbol),
		logger.Bool("success", success),
		logger.Float64("profit", profit))
}

// SuccessRate returns the latest success summary for symbol.
func (m *CooldownManager) SuccessRate(symbol string) (SuccessRate, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rates[symbol]
	return r, ok
}

// SetSymbolBase overrides the base duration for one symbol, clamped to [min, max].
func (m *CooldownManager) SetSymbolBase(symbol string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[symbol] = m.clamp(d)
	m.log.Info("set custom cooldown", logger.String("symbol", symbol), logger.Duration("base_ms", m.overrides[symbol]))
}

func (m *CooldownManager) RemoveSymbolBase(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.overrides, symbol)
}

// ForceRemove drops an active cooldown and counts it as a violation.
func (m *CooldownManager) ForceRemove(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[symbol]; !ok {
		return false
	}
	delete(m.active, symbol)
	m.stats.Violations++
	m.log.Warn("force removed cooldown", logger.String("symbol", symbol))
	return true
}

// ActiveCooldowns lists live entries sorted by expiry.
func (m *CooldownManager) ActiveCooldowns(now time.Time) []models.CooldownEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.CooldownEntry, 0, len(m.active))
	for _, e := range m.active {
		if now.Before(e.ExpiresAt) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out
}

// CleanupExpired removes elapsed entries.
func (m *CooldownManager) CleanupExpired(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for symbol, e := range m.active {
		if !now.Before(e.ExpiresAt) {
			delete(m.active, symbol)
			n++
		}
	}
	return n
}

// ClearAll removes every active cooldown.
func (m *CooldownManager) ClearAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.Violations += int64(len(m.active))
	m.active = make(map[string]models.CooldownEntry)
	m.log.Warn("cleared all active cooldowns")
}

// ClearHistory drops outcomes for symbol, or all outcomes when symbol is empty.
func (m *CooldownManager) ClearHistory(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if symbol == "" {
		m.history = make(map[string][]models.SignalOutcome)
		m.rates = make(map[string]SuccessRate)
		return
	}
	delete(m.history, symbol)
	delete(m.rates, symbol)
}

func (m *CooldownManager) Stats() CooldownStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.Active = len(m.active)
	s.Base = m.cfg.Base
	s.Dynamic = !m.cfg.StaticDuration
	s.CustomSymbols = len(m.overrides)
	s.SymbolsWithHist = len(m.history)
	return s
}

func (m *CooldownManager) setLocked(symbol string, d time.Duration, now time.Time) models.CooldownEntry {
	if d <= 0 {
		d = m.durationLocked(symbol)
	}
	e := models.CooldownEntry{Symbol: symbol, SetAt: now, ExpiresAt: now.Add(d), Duration: d}
	m.active[symbol] = e
	m.stats.TotalSet++
	m.log.Info("set cooldown",
		logger.String("symbol", symbol),
		logger.Duration("duration_ms", d),
		logger.String("expires_at", e.ExpiresAt.Format(time.RFC3339)))
	return e
}

func (m *CooldownManager) activeLocked(symbol string, now time.Time) (models.CooldownEntry, bool) {
	e, ok := m.active[symbol]
	if !ok {
		return models.CooldownEntry{}, false
	}
	if !now.Before(e.ExpiresAt) {
		delete(m.active, symbol)
		return models.CooldownEntry{}, false
	}
	return e, true
}

func (m *CooldownManager) recentLocked(symbol string) []models.SignalOutcome {
	h := m.history[symbol]
	if len(h) > m.cfg.OutcomeWindow {
		h = h[len(h)-m.cfg.OutcomeWindow:]
	}
	return h
}

// durationLocked scales the base by the success-rate factor, truncated to whole minutes
// and clamped to [min, max].
func (m *CooldownManager) durationLocked(symbol string) time.Duration {
	base := m.cfg.Base
	if o, ok := m.overrides[symbol]; ok {
		base = o
	}
	if m.cfg.StaticDuration {
		return base
	}
	recent := m.recentLocked(symbol)
	if len(recent) == 0 {
		return base
	}

	wins := 0
	for _, o := range recent {
		if o.Success {
			wins++
		}
	}
	rate := float64(wins) / float64(len(recent))
	factor := successFactors[len(successFactors)-1].factor
	for _, f := range successFactors {
		if rate >= f.rate {
			factor = f.factor
			break
		}
	}
	minutes := int(base.Minutes() * factor)
	return m.clamp(time.Duration(minutes) * time.Minute)
}

func (m *CooldownManager) clamp(d time.Duration) time.Duration {
	if d < m.cfg.Min {
		return m.cfg.Min
	}
	if d > m.cfg.Max {
		return m.cfg.Max
	}
	return d
}
