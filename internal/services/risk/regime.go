package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"SignalGate/internal/domain/models"
	"SignalGate/internal/services/features"
	"SignalGate/internal/services/window"
	"SignalGate/pkg/config"
	"SignalGate/pkg/logger"
)

// regimeRules is the filtering and sizing policy of each regime.
var regimeRules = map[models.Regime]models.RegimeRule{
	models.RegimeCalm:           {FilterAltcoins: false, PositionSizeMultiplier: 1.0, RiskMultiplier: 1.0},
	models.RegimeNormal:         {FilterAltcoins: false, PositionSizeMultiplier: 1.0, RiskMultiplier: 1.0},
	models.RegimeVolatile:       {FilterAltcoins: true, PositionSizeMultiplier: 0.7, RiskMultiplier: 1.5},
	models.RegimeHighlyVolatile: {FilterAltcoins: true, PositionSizeMultiplier: 0.5, RiskMultiplier: 2.0},
}

// RegimeFilter classifies market volatility from BTC and ETH prices and filters altcoin
// signals in volatile markets. A new regime is committed only after it has been observed
// on Persistence consecutive evaluations.
type RegimeFilter struct {
	mu       sync.Mutex
	cfg      config.RegimeConfig
	log      *logger.Logger
	prices   *window.Store[models.PriceSample]
	majors   map[string]bool
	current  models.Regime
	pending  models.Regime
	confirms int
	btcVol   float64
	ethVol   float64
	history  []models.RegimeChange
	checked  int64
	filtered int64
}

// NewRegimeFilter creates a regime filter starting in NORMAL.
func NewRegimeFilter(cfg config.RegimeConfig, log *logger.Logger) *RegimeFilter {
	if log == nil {
		log = logger.Nop()
	}
	f := &RegimeFilter{
		cfg:     cfg,
		log:     log,
		prices:  window.NewStore[models.PriceSample](cfg.Window, cfg.MaxPrices),
		majors:  make(map[string]bool),
		current: models.RegimeNormal,
	}
	for _, s := range cfg.BTCSymbols {
		f.majors[s] = true
	}
	for _, s := range cfg.ETHSymbols {
		f.majors[s] = true
	}
	return f
}

// AddPrice records a price; BTC and ETH prices trigger a regime evaluation.
// It returns the committed change, if any.
func (f *RegimeFilter) AddPrice(p models.PriceSample) (models.RegimeChange, bool) {
	f.prices.Add(p.Symbol, p)
	if !f.majors[p.Symbol] {
		return models.RegimeChange{}, false
	}

	f.mu.Lock()
	btcSyms, ethSyms := f.cfg.BTCSymbols, f.cfg.ETHSymbols
	f.mu.Unlock()

	btc, btcOK := f.maxVolatility(btcSyms, p.Timestamp)
	eth, ethOK := f.maxVolatility(ethSyms, p.Timestamp)
	if !btcOK && !ethOK {
		return models.RegimeChange{}, false
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.btcVol, f.ethVol = btc, eth
	return f.observeLocked(f.classifyLocked(math.Max(btc, eth)), p.Timestamp)
}

// Volatility returns the annualized volatility of symbol at now and whether enough data exists.
func (f *RegimeFilter) Volatility(symbol string, now time.Time) (float64, bool) {
	f.mu.Lock()
	minPrices, minReturns := f.cfg.MinPrices, f.cfg.MinReturns
	f.mu.Unlock()

	snap := f.prices.Snapshot(symbol, now)
	if len(snap) < minPrices {
		return 0, false
	}
	var returns []float64
	for i := 1; i < len(snap); i++ {
		prev, cur := snap[i-1].Price, snap[i].Price
		if prev > 0 && cur > 0 {
			returns = append(returns, math.Log(cur/prev))
		}
	}
	if len(returns) < minReturns {
		return 0, false
	}
	return features.AnnualizedVolatility(returns, features.MinutesPerYear), true
}

// Classify buckets a volatility into a regime.
func (f *RegimeFilter) Classify(vol float64) models.Regime {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.classifyLocked(vol)
}

// Current returns the committed regime.
func (f *RegimeFilter) Current() models.Regime {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// ShouldFilterSignal reports whether a signal must be vetoed in the current regime.
func (f *RegimeFilter) ShouldFilterSignal(symbol string, isAltcoin bool) (bool, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checked++
	rule := regimeRules[f.current]
	if isAltcoin && rule.FilterAltcoins {
		f.filtered++
		reason := fmt.Sprintf("altcoin signals filtered in %s market", f.current)
		f.log.Debug("filtered signal", logger.String("symbol", symbol), logger.String("reason", reason))
		return true, reason
	}
	return false, "signal passed regime filter"
}

// Rule returns the policy of the current regime.
func (f *RegimeFilter) Rule() (models.Regime, models.RegimeRule) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, regimeRules[f.current]
}

// RuleFor returns the policy of the given regime.
func RuleFor(r models.Regime) models.RegimeRule {
	if rule, ok := regimeRules[r]; ok {
		return rule
	}
	return regimeRules[models.RegimeNormal]
}

// RecentChanges returns up to limit committed transitions, oldest first.
func (f *RegimeFilter) RecentChanges(limit int) []models.RegimeChange {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := f.history
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	return append([]models.RegimeChange(nil), h...)
}

// Status returns a snapshot of the filter state.
func (f *RegimeFilter) Status() models.RegimeStatus {
	symbols := f.prices.Symbols()
	f.mu.Lock()
	defer f.mu.Unlock()
	st := models.RegimeStatus{
		Current:         f.current,
		Pending:         f.pending,
		Confirmations:   f.confirms,
		Persistence:     f.cfg.Persistence,
		BTCVolatility:   f.btcVol,
		ETHVolatility:   f.ethVol,
		TrackedSymbols:  symbols,
		SignalsChecked:  f.checked,
		SignalsFiltered: f.filtered,
		Rule:            regimeRules[f.current],
		Thresholds: map[models.Regime]float64{
			models.RegimeCalm:     f.cfg.Calm,
			models.RegimeNormal:   f.cfg.Normal,
			models.RegimeVolatile: f.cfg.Volatile,
		},
		RegimeChanges: len(f.history),
	}
	if n := len(f.history); n > 0 {
		last := f.history[n-1]
		st.LastRegimeChange = &last
	}
	return st
}

// SetThresholds replaces the bucket upper bounds; they must be strictly increasing.
func (f *RegimeFilter) SetThresholds(calm, normal, volatile float64) error {
	if !(0 < calm && calm < normal && normal < volatile) {
		return fmt.Errorf("regime thresholds must be increasing: calm=%v normal=%v volatile=%v", calm, normal, volatile)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg.Calm, f.cfg.Normal, f.cfg.Volatile = calm, normal, volatile
	f.log.Info("updated volatility thresholds",
		logger.Float64("calm", calm), logger.Float64("normal", normal), logger.Float64("volatile", volatile))
	return nil
}

// Clear drops the prices of symbol, or resets everything to NORMAL when symbol is empty.
func (f *RegimeFilter) Clear(symbol string) {
	f.prices.Clear(symbol)
	if symbol != "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = models.RegimeNormal
	f.pending = ""
	f.confirms = 0
	f.history = nil
	f.btcVol, f.ethVol = 0, 0
}

func (f *RegimeFilter) maxVolatility(symbols []string, now time.Time) (float64, bool) {
	var best float64
	var any bool
	for _, s := range symbols {
		if v, ok := f.Volatility(s, now); ok {
			best = math.Max(best, v)
			any = true
		}
	}
	return best, any
}

func (f *RegimeFilter) classifyLocked(vol float64) models.Regime {
	switch {
	case vol < f.cfg.Calm:
		return models.RegimeCalm
	case vol < f.cfg.Normal:
		return models.RegimeNormal
	case vol < f.cfg.Volatile:
		return models.RegimeVolatile
	default:
		return models.RegimeHighlyVolatile
	}
}

// observeLocked applies one evaluation to the hysteresis state.
func (f *RegimeFilter) observeLocked(candidate models.Regime, now time.Time) (models.RegimeChange, bool) {
	if candidate == f.current {
		f.pending = ""
		f.confirms = 0
		return models.RegimeChange{}, false
	}
	if candidate == f.pending {
		f.confirms++
	} else {
		f.pending = candidate
		f.confirms = 1
	}
	if f.confirms < f.cfg.Persistence {
		return models.RegimeChange{}, false
	}

	change := models.RegimeChange{
		At:            now,
		From:          f.current,
		To:            candidate,
		BTCVolatility: f.btcVol,
		ETHVolatility: f.ethVol,
	}
	f.current = candidate
	f.pending = ""
	f.confirms = 0
	f.history = append(f.history, change)
	if len(f.history) > f.cfg.HistorySize {
		f.history = f.history[len(f.history)-f.cfg.HistorySize:]
	}
	f.log.Info("market regime changed",
		logger.String("from", string(change.From)),
		logger.String("to", string(change.To)),
		logger.Float64("btc_volatility", change.BTCVolatility),
		logger.Float64("eth_volatility", change.ETHVolatility))
	return change, true
}
