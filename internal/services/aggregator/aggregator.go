// Package aggregator cross-confirms raw detector signals into combined signals.
package aggregator

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"SignalGate/internal/domain/models"
	drepo "SignalGate/internal/domain/repository"
	"SignalGate/pkg/config"
	"SignalGate/pkg/logger"

	"github.com/google/uuid"
)

const (
	// DefaultWeight applies to algorithms without a configured weight.
	DefaultWeight = 1.0

	// ConfirmationKey names the confirmation threshold for a ThresholdAdjuster.
	ConfirmationKey = "confirmation_threshold"
)

// Stats are the aggregator counters.
type Stats struct {
	RawReceived   int64                      `json:"raw_received"`
	Suppressed    int64                      `json:"suppressed_by_cooldown"`
	Combined      int64                      `json:"total_combined_signals"`
	ByAlgorithm   map[string]int64           `json:"algorithm_contributions"`
	ByDirection   map[models.Direction]int64 `json:"signal_type_counts"`
	ActiveSymbols int                        `json:"active_symbols"`
	Cooldowns     int                        `json:"active_cooldowns"`
	Threshold     int                        `json:"confirmation_threshold"`
	Effective     int                        `json:"effective_confirmation_threshold"`
	Window        time.Duration              `json:"signal_window"`
}

// symbolState is everything the aggregator keeps for one symbol. Its mutex is the only lock
// held while a signal for that symbol is confirmed.
type symbolState struct {
	mu          sync.Mutex
	recent      []models.RawSignal
	cooldown    time.Time
	history     []models.CombinedSignal
	byAlgorithm map[string]int64
	byDirection map[models.Direction]int64
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithAdjuster loosens the confirmation threshold through adj.
func WithAdjuster(adj drepo.ThresholdAdjuster) Option {
	return func(a *Aggregator) { a.adj = adj }
}

// Aggregator buffers raw signals per symbol and emits one combined signal once enough
// distinct algorithms agree on a direction.
type Aggregator struct {
	mu      sync.RWMutex
	cfg     config.AggregatorConfig
	symbols map[string]*symbolState

	log *logger.Logger
	adj drepo.ThresholdAdjuster

	received   atomic.Int64
	suppressed atomic.Int64
	combined   atomic.Int64
}

// New creates an aggregator.
func New(cfg config.AggregatorConfig, log *logger.Logger, opts ...Option) *Aggregator {
	if log == nil {
		log = logger.Nop()
	}
	weights := make(map[string]float64, len(cfg.Weights))
	for k, v := range cfg.Weights {
		weights[k] = v
	}
	cfg.Weights = weights
	a := &Aggregator{
		cfg:     cfg,
		log:     log,
		symbols: make(map[string]*symbolState),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Add records a raw signal and returns the combined signal when it completes a confirmation.
// The cooldown check and set happen under the symbol's lock, so a symbol emits at most once
// per cooldown.
func (a *Aggregator) Add(sig models.RawSignal, now time.Time) (models.CombinedSignal, bool) {
	cfg := a.config()
	st := a.state(sig.Symbol)
	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.cooldown.IsZero() {
		if now.Before(st.cooldown) {
			a.suppressed.Add(1)
			a.log.Debug("symbol in aggregator cooldown, ignoring signal",
				logger.String("symbol", sig.Symbol),
				logger.String("algorithm", sig.Algorithm))
			return models.CombinedSignal{}, false
		}
		st.cooldown = time.Time{}
	}

	sig.Direction = groupingDirection(cfg, sig)
	sig.Weight = weight(cfg, sig.Algorithm)
	st.recent = append(st.recent, sig)
	st.prune(cfg.Window, now)
	a.received.Add(1)
	st.byAlgorithm[sig.Algorithm]++

	threshold := a.effectiveThreshold(cfg.ConfirmationThreshold)
	matching := st.matching(sig.Direction)
	algos := distinctAlgorithms(matching)
	if len(matching) < threshold || len(algos) < threshold {
		return models.CombinedSignal{}, false
	}

	combined := models.CombinedSignal{
		ID:          uuid.NewString(),
		Symbol:      sig.Symbol,
		Direction:   sig.Direction,
		Strength:    strength(cfg, matching, now),
		Algorithms:  algos,
		SignalCount: len(matching),
		Timestamp:   now,
	}
	st.cooldown = now.Add(cfg.Cooldown)

	st.history = append(st.history, combined)
	if cfg.HistorySize > 0 && len(st.history) > cfg.HistorySize {
		st.history = st.history[len(st.history)-cfg.HistorySize:]
	}
	a.combined.Add(1)
	st.byDirection[combined.Direction]++

	a.log.Info("combined signal generated",
		logger.String("symbol", combined.Symbol),
		logger.String("direction", string(combined.Direction)),
		logger.Float64("strength", combined.Strength),
		logger.Int("threshold", threshold),
		logger.Strings("algorithms", combined.Algorithms))
	return combined, true
}

// Strength returns the current combined strength of buffered signals for symbol and direction,
// or 0 when none are buffered.
func (a *Aggregator) Strength(symbol string, direction models.Direction, now time.Time) float64 {
	cfg := a.config()
	st := a.lookup(symbol)
	if st == nil {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.prune(cfg.Window, now)
	return strength(cfg, st.matching(direction), now)
}

// InCooldown reports whether the symbol is suppressed at now.
func (a *Aggregator) InCooldown(symbol string, now time.Time) bool {
	st := a.lookup(symbol)
	if st == nil {
		return false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return !st.cooldown.IsZero() && now.Before(st.cooldown)
}

// RecentCombined returns up to limit most recent combined signals across all symbols,
// oldest first.
func (a *Aggregator) RecentCombined(limit int) []models.CombinedSignal {
	var out []models.CombinedSignal
	for _, st := range a.all() {
		st.mu.Lock()
		out = append(out, st.history...)
		st.mu.Unlock()
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })

	if limit <= 0 {
		limit = a.config().HistorySize
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// CleanupExpired drops raw signals outside the window and elapsed cooldowns.
func (a *Aggregator) CleanupExpired(now time.Time) {
	cfg := a.config()
	expired := 0
	for _, st := range a.all() {
		st.mu.Lock()
		st.prune(cfg.Window, now)
		if !st.cooldown.IsZero() && !now.Before(st.cooldown) {
			st.cooldown = time.Time{}
			expired++
		}
		st.mu.Unlock()
	}
	if expired > 0 {
		a.log.Debug("cleaned up expired cooldowns", logger.Int("count", expired))
	}
}

// UpdateWeights merges the given algorithm weights into the current set.
func (a *Aggregator) UpdateWeights(weights map[string]float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	merged := make(map[string]float64, len(a.cfg.Weights)+len(weights))
	for k, v := range a.cfg.Weights {
		merged[k] = v
	}
	for k, v := range weights {
		merged[k] = v
	}
	a.cfg.Weights = merged
	a.log.Info("updated algorithm weights", logger.Any("weights", merged))
}

// UpdateParameters replaces threshold, window and cooldown; weights are kept.
func (a *Aggregator) UpdateParameters(cfg config.AggregatorConfig) {
	a.mu.Lock()
	defer a.mu.Unlock()
	weights := a.cfg.Weights
	a.cfg = cfg
	a.cfg.Weights = weights
}

// Clear drops buffered signals and cooldowns for symbol, or everything when symbol is empty.
func (a *Aggregator) Clear(symbol string) {
	if symbol == "" {
		a.mu.Lock()
		a.symbols = make(map[string]*symbolState)
		a.mu.Unlock()
		return
	}
	st := a.lookup(symbol)
	if st == nil {
		return
	}
	st.mu.Lock()
	st.recent = nil
	st.cooldown = time.Time{}
	st.mu.Unlock()
}

func (a *Aggregator) Stats() Stats {
	cfg := a.config()
	s := Stats{
		RawReceived: a.received.Load(),
		Suppressed:  a.suppressed.Load(),
		Combined:    a.combined.Load(),
		ByAlgorithm: make(map[string]int64),
		ByDirection: make(map[models.Direction]int64),
		Threshold:   cfg.ConfirmationThreshold,
		Effective:   a.effectiveThreshold(cfg.ConfirmationThreshold),
		Window:      cfg.Window,
	}
	for _, st := range a.all() {
		st.mu.Lock()
		for k, v := range st.byAlgorithm {
			s.ByAlgorithm[k] += v
		}
		for k, v := range st.byDirection {
			s.ByDirection[k] += v
		}
		if len(st.recent) > 0 {
			s.ActiveSymbols++
		}
		if !st.cooldown.IsZero() {
			s.Cooldowns++
		}
		st.mu.Unlock()
	}
	return s
}

// effectiveThreshold is the confirmation count in effect, never below one.
func (a *Aggregator) effectiveThreshold(base int) int {
	if a.adj == nil {
		return base
	}
	n := int(math.Ceil(a.adj.Adjusted(ConfirmationKey, float64(base)) - 1e-9))
	if n < 1 {
		return 1
	}
	return n
}

func (a *Aggregator) config() config.AggregatorConfig {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

func (a *Aggregator) lookup(symbol string) *symbolState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.symbols[symbol]
}

func (a *Aggregator) state(symbol string) *symbolState {
	if st := a.lookup(symbol); st != nil {
		return st
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.symbols[symbol]
	if !ok {
		st = &symbolState{
			byAlgorithm: make(map[string]int64),
			byDirection: make(map[models.Direction]int64),
		}
		a.symbols[symbol] = st
	}
	return st
}

func (a *Aggregator) all() []*symbolState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*symbolState, 0, len(a.symbols))
	for _, st := range a.symbols {
		out = append(out, st)
	}
	return out
}

// prune keeps signals strictly newer than now - window.
func (st *symbolState) prune(window time.Duration, now time.Time) {
	cutoff := now.Add(-window)
	kept := st.recent[:0]
	for _, s := range st.recent {
		if s.Timestamp.After(cutoff) {
			kept = append(kept, s)
		}
	}
	st.recent = kept
}

func (st *symbolState) matching(direction models.Direction) []models.RawSignal {
	var out []models.RawSignal
	for _, s := range st.recent {
		if s.Direction == direction {
			out = append(out, s)
		}
	}
	return out
}

// groupingDirection is the trade bias of the event, or the raw event label when raw event
// grouping is configured.
func groupingDirection(cfg config.AggregatorConfig, sig models.RawSignal) models.Direction {
	if sig.Event == "" {
		return sig.Direction
	}
	if cfg.RawEventGrouping {
		return sig.Event
	}
	return sig.Event.Bias()
}

func weight(cfg config.AggregatorConfig, algorithm string) float64 {
	if w, ok := cfg.Weights[algorithm]; ok {
		return w
	}
	return DefaultWeight
}

// strength is the decayed, weighted mean confidence plus a diversity bonus, capped at 1.
func strength(cfg config.AggregatorConfig, signals []models.RawSignal, now time.Time) float64 {
	if len(signals) == 0 {
		return 0
	}
	span := cfg.Window.Seconds()
	var num, den float64
	for _, s := range signals {
		decay := cfg.MinDecayWeight
		if span > 0 {
			decay = math.Max(cfg.MinDecayWeight, 1-now.Sub(s.Timestamp).Seconds()/span)
		}
		w := s.Weight * decay
		num += s.Confidence * w
		den += w
	}
	if den == 0 {
		return 0
	}
	bonus := math.Min(cfg.DiversityCap, float64(len(distinctAlgorithms(signals))-1)*cfg.DiversityStep)
	return math.Min(1, num/den+bonus)
}

func distinctAlgorithms(signals []models.RawSignal) []string {
	seen := make(map[string]struct{}, len(signals))
	out := make([]string, 0, len(signals))
	for _, s := range signals {
		if _, ok := seen[s.Algorithm]; ok {
			continue
		}
		seen[s.Algorithm] = struct{}{}
		out = append(out, s.Algorithm)
	}
	sort.Strings(out)
	return out
}
