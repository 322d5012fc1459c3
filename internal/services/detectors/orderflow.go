package detectors

import (
	"math"
	"sync"
	"time"

	"SignalGate/internal/domain/models"
	"SignalGate/internal/services/window"
	"SignalGate/pkg/config"
)

// OrderFlow detects buy/sell pressure imbalance over a time-decayed trade window.
type OrderFlow struct {
	mu     sync.RWMutex
	cfg    config.OrderFlowConfig
	trades *window.Store[models.TradeEvent]
	track  *tracker
}

// NewOrderFlow creates an order-flow imbalance detector.
func NewOrderFlow(cfg config.OrderFlowConfig, historySize int, opts ...Option) *OrderFlow {
	return &OrderFlow{
		cfg:    cfg,
		trades: window.NewStore[models.TradeEvent](cfg.Window, cfg.MaxTrades),
		track:  newTracker(models.AlgorithmOrderFlow, cfg.Cooldown, historySize, opts...),
	}
}

func (d *OrderFlow) Name() string { return models.AlgorithmOrderFlow }

// AddTrade buffers a trade for its symbol.
func (d *OrderFlow) AddTrade(t models.TradeEvent) {
	d.trades.Add(t.Symbol, t)
}

// Imbalance returns the decayed imbalance in [-1,1] and the raw window volume.
func (d *OrderFlow) Imbalance(symbol string, now time.Time) (float64, float64) {
	d.mu.RLock()
	cfg := d.cfg
	d.mu.RUnlock()

	trades := d.trades.Snapshot(symbol, now)
	if len(trades) == 0 {
		return 0, 0
	}

	span := cfg.Window.Seconds()
	var buy, sell, total float64
	for _, t := range trades {
		age := now.Sub(t.Timestamp).Seconds()
		w := math.Max(cfg.MinDecayWeight, 1-age/span)
		switch t.Side {
		case models.SideBuy:
			buy += t.Amount * w
		case models.SideSell:
			sell += t.Amount * w
		}
		total += t.Amount
	}
	if buy+sell == 0 {
		return 0, total
	}
	imb := (buy - sell) / (buy + sell)
	return math.Max(-1, math.Min(1, imb)), total
}

// Check evaluates the symbol's window and fires BUY or SELL on a strong imbalance.
func (d *OrderFlow) Check(symbol string, now time.Time) (models.RawSignal, bool) {
	if d.track.begin(symbol, now) {
		return models.RawSignal{}, false
	}
	if d.trades.Len(symbol) == 0 {
		return models.RawSignal{}, false
	}

	d.mu.RLock()
	threshold, minVolume := d.cfg.ImbalanceThreshold, d.cfg.MinVolume
	d.mu.RUnlock()

	threshold = d.track.threshold(threshold)
	imb, volume := d.Imbalance(symbol, now)
	if math.Abs(imb) < threshold || volume < minVolume {
		return models.RawSignal{}, false
	}

	dir := models.DirectionBuy
	if imb < 0 {
		dir = models.DirectionSell
	}
	return d.track.fire(symbol, dir, math.Abs(imb), now, map[string]float64{
		"imbalance": imb,
		"volume":    volume,
		"threshold": threshold,
	}), true
}

// UpdateParameters swaps thresholds and cooldown; window length applies to future pruning.
func (d *OrderFlow) UpdateParameters(cfg config.OrderFlowConfig) {
	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()
	d.trades.SetSpan(cfg.Window)
	d.track.setCooldown(cfg.Cooldown)
}

func (d *OrderFlow) Stats() Stats { return d.track.snapshot(len(d.trades.Symbols())) }

func (d *OrderFlow) Recent(symbol string, limit int) []models.RawSignal {
	return d.track.recent(symbol, limit)
}

func (d *OrderFlow) Clear(symbol string) {
	d.trades.Clear(symbol)
	d.track.clear(symbol)
}
