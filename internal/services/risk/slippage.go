package risk

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"SignalGate/internal/domain/models"
	"SignalGate/pkg/config"
	"SignalGate/pkg/logger"
)

// ErrInvalidTradeSize is returned for non-positive trade sizes.
var ErrInvalidTradeSize = errors.New("trade size must be positive")

// partialFillTolerance is the unfilled remainder below which a fill counts as complete.
const partialFillTolerance = 0.001

// optimalSlippageSlack is added to the target slippage during the optimal size search.
const optimalSlippageSlack = 0.001

// optimalConvergence stops the optimal size search once the bracket is this narrow relative to its top.
const optimalConvergence = 0.01

// SlippageStats are the slippage analyzer counters.
type SlippageStats struct {
	Calculations     int64   `json:"total_analyses"`
	Cancellations    int64   `json:"signals_canceled"`
	CancellationRate float64 `json:"cancellation_rate"`
	AvgSlippage      float64 `json:"avg_slippage"`
	MaxSlippage      float64 `json:"max_slippage_threshold"`
	MinProfit        float64 `json:"min_profit_threshold"`
	FeeRate          float64 `json:"transaction_fee_rate"`
}

// SlippageAnalyzer estimates execution slippage by walking order-book depth.
type SlippageAnalyzer struct {
	mu    sync.Mutex
	cfg   config.SlippageConfig
	log   *logger.Logger
	stats SlippageStats
}

// NewSlippageAnalyzer creates a slippage analyzer.
func NewSlippageAnalyzer(cfg config.SlippageConfig, log *logger.Logger) *SlippageAnalyzer {
	if log == nil {
		log = logger.Nop()
	}
	return &SlippageAnalyzer{cfg: cfg, log: log}
}

// CalculateSlippage walks the asks for a buy of size quote currency, or the bids for a sell
// of size base quantity, and returns the VWAP-based estimate.
func (a *SlippageAnalyzer) CalculateSlippage(book *models.OrderBookSnapshot, size float64, side models.Side) (models.SlippageEstimate, error) {
	est, err := a.estimate(book, size, side)
	if err != nil || est.InsufficientLiquidity() {
		return est, err
	}

	a.mu.Lock()
	a.stats.Calculations++
	n := float64(a.stats.Calculations)
	a.stats.AvgSlippage = (a.stats.AvgSlippage*(n-1) + est.Slippage) / n
	a.mu.Unlock()

	a.log.Debug("slippage analysis",
		logger.String("side", string(side)),
		logger.Float64("size", size),
		logger.Float64("slippage", est.Slippage),
		logger.Float64("total_cost", est.TotalCost))
	return est, nil
}

func (a *SlippageAnalyzer) estimate(book *models.OrderBookSnapshot, size float64, side models.Side) (models.SlippageEstimate, error) {
	if size <= 0 || math.IsNaN(size) {
		return models.SlippageEstimate{}, ErrInvalidTradeSize
	}
	if book == nil {
		return models.SlippageEstimate{}, fmt.Errorf("%w: nil order book", models.ErrInvalidSample)
	}

	var levels []models.OrderBookLevel
	switch side {
	case models.SideBuy:
		levels = book.Asks
	case models.SideSell:
		levels = book.Bids
	default:
		return models.SlippageEstimate{}, fmt.Errorf("%w: unknown side %q", models.ErrInvalidSample, side)
	}

	a.mu.Lock()
	fee := a.cfg.FeeRate
	a.mu.Unlock()

	est := models.SlippageEstimate{
		Status:        models.SlippageInsufficientLiquidity,
		Side:          side,
		RequestedSize: size,
		PartialFill:   true,
	}
	if len(levels) == 0 {
		return est, nil
	}

	remaining := size
	var cost, qty float64
	for _, lvl := range levels {
		if remaining <= 0 {
			break
		}
		if lvl.Price <= 0 || lvl.Quantity <= 0 {
			continue
		}
		var fillQty, fillValue float64
		if side == models.SideBuy {
			fillValue = math.Min(remaining, lvl.Price*lvl.Quantity)
			fillQty = fillValue / lvl.Price
			remaining -= fillValue
		} else {
			fillQty = math.Min(remaining, lvl.Quantity)
			fillValue = fillQty * lvl.Price
			remaining -= fillQty
		}
		cost += fillValue
		qty += fillQty
		est.LevelsConsumed++
	}
	if qty == 0 {
		return est, nil
	}

	best := levels[0].Price
	vwap := cost / qty
	slip := (vwap - best) / best
	if side == models.SideSell {
		slip = (best - vwap) / best
	}
	slip = math.Max(0, slip)

	est.Status = models.SlippageOK
	est.FilledQuantity = qty
	est.FilledCost = cost
	est.ExecutionPrice = vwap
	est.BestPrice = best
	est.Slippage = slip
	est.TotalCost = slip + fee
	est.PartialFill = remaining > partialFillTolerance
	return est, nil
}

// ShouldCancelSignal vetoes a signal whose slippage exceeds the configured maximum or whose
// predicted profit does not cover slippage and fees by the minimum margin.
func (a *SlippageAnalyzer) ShouldCancelSignal(slippage, predictedProfit float64) (bool, string) {
	a.mu.Lock()
	max := a.cfg.MaxSlippage
	a.mu.Unlock()
	return a.ShouldCancelWithLimit(slippage, predictedProfit, max)
}

// ShouldCancelWithLimit is ShouldCancelSignal with an explicit slippage ceiling.
func (a *SlippageAnalyzer) ShouldCancelWithLimit(slippage, predictedProfit, maxSlippage float64) (bool, string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if slippage > maxSlippage {
		a.cancelLocked()
		reason := fmt.Sprintf("slippage %.4f exceeds threshold %.4f", slippage, maxSlippage)
		a.log.Info("signal canceled", logger.String("reason", reason))
		return true, reason
	}
	net := predictedProfit - (slippage + a.cfg.FeeRate)
	if net < a.cfg.MinProfit {
		a.cancelLocked()
		reason := fmt.Sprintf("net profit %.4f below minimum %.4f", net, a.cfg.MinProfit)
		a.log.Info("signal canceled", logger.String("reason", reason))
		return true, reason
	}
	return false, ""
}

// GetOptimalTradeSize binary-searches the largest quote-currency size whose slippage stays
// within maxSlippage. It returns 0 when the book cannot absorb the minimum size.
func (a *SlippageAnalyzer) GetOptimalTradeSize(book *models.OrderBookSnapshot, side models.Side, maxSlippage float64) float64 {
	if book == nil || maxSlippage <= 0 {
		return 0
	}
	a.mu.Lock()
	cfg := a.cfg
	a.mu.Unlock()

	levels := book.Asks
	if side == models.SideSell {
		levels = book.Bids
	}
	if len(levels) == 0 {
		return 0
	}

	lo := cfg.MinTradeSizeUSD
	hi := depthLiquidity(levels, cfg.DepthLevels) * 0.5
	if hi < lo {
		return 0
	}

	best := lo
	for i := 0; i < cfg.MaxIterations; i++ {
		mid := (lo + hi) / 2
		est, err := a.estimate(book, QuantityFor(book, side, mid), side)
		switch {
		case err != nil || est.InsufficientLiquidity():
			hi = mid
		case est.Slippage <= maxSlippage+optimalSlippageSlack:
			best = mid
			lo = mid
		default:
			hi = mid
		}
		if (hi-lo)/hi < optimalConvergence {
			break
		}
	}
	a.log.Debug("optimal trade size", logger.Float64("max_slippage", maxSlippage), logger.Float64("size_usd", best))
	return best
}

// AnalyzeMarketImpact estimates slippage for each quote-currency size.
func (a *SlippageAnalyzer) AnalyzeMarketImpact(book *models.OrderBookSnapshot, side models.Side, sizes []float64) []models.MarketImpact {
	a.mu.Lock()
	max := a.cfg.MaxSlippage
	a.mu.Unlock()

	out := make([]models.MarketImpact, 0, len(sizes))
	for _, size := range sizes {
		est, err := a.estimate(book, QuantityFor(book, side, size), side)
		mi := models.MarketImpact{Size: size}
		if err == nil && !est.InsufficientLiquidity() {
			mi.Slippage = est.Slippage
			mi.TotalCost = est.TotalCost
			mi.PartialFill = est.PartialFill
			mi.Feasible = !est.PartialFill && est.Slippage <= max
		}
		out = append(out, mi)
	}
	return out
}

// UpdateParameters replaces the thresholds and fee.
func (a *SlippageAnalyzer) UpdateParameters(cfg config.SlippageConfig) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg = cfg
}

func (a *SlippageAnalyzer) Stats() SlippageStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.stats
	if s.Calculations > 0 {
		s.CancellationRate = float64(s.Cancellations) / float64(s.Calculations)
	}
	s.MaxSlippage = a.cfg.MaxSlippage
	s.MinProfit = a.cfg.MinProfit
	s.FeeRate = a.cfg.FeeRate
	return s
}

func (a *SlippageAnalyzer) cancelLocked() {
	a.stats.Cancellations++
}

// QuantityFor converts a quote-currency size into the unit CalculateSlippage expects for side:
// unchanged for buys, base quantity at the best bid for sells.
func QuantityFor(book *models.OrderBookSnapshot, side models.Side, usd float64) float64 {
	if side != models.SideSell {
		return usd
	}
	bid := book.BestBid()
	if bid <= 0 {
		return usd
	}
	return usd / bid
}

func depthLiquidity(levels []models.OrderBookLevel, depth int) float64 {
	if depth > 0 && len(levels) > depth {
		levels = levels[:depth]
	}
	var total float64
	for _, l := range levels {
		total += l.Price * l.Quantity
	}
	return total
}
