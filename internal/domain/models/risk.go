package models

import "time"

// Regime is the discretized market volatility state.
type Regime string

const (
	RegimeCalm           Regime = "CALM"
	RegimeNormal         Regime = "NORMAL"
	RegimeVolatile       Regime = "VOLATILE"
	RegimeHighlyVolatile Regime = "HIGHLY_VOLATILE"
)

// RegimeRule is the filtering and sizing policy for one regime.
type RegimeRule struct {
	FilterAltcoins         bool    `json:"filter_altcoins"`
	PositionSizeMultiplier float64 `json:"position_size_multiplier"`
	RiskMultiplier         float64 `json:"risk_multiplier"`
}

// RegimeChange records a committed regime transition.
type RegimeChange struct {
	At            time.Time `json:"at"`
	From          Regime    `json:"from"`
	To            Regime    `json:"to"`
	BTCVolatility float64   `json:"btc_volatility"`
	ETHVolatility float64   `json:"eth_volatility"`
}

// RegimeStatus is a read-only view of the regime filter.
type RegimeStatus struct {
	Current          Regime             `json:"current"`
	Pending          Regime             `json:"pending,omitempty"`
	Confirmations    int                `json:"confirmations"`
	Persistence      int                `json:"persistence"`
	BTCVolatility    float64            `json:"btc_volatility"`
	ETHVolatility    float64            `json:"eth_volatility"`
	TrackedSymbols   []string           `json:"tracked_symbols"`
	SignalsChecked   int64              `json:"signals_checked"`
	SignalsFiltered  int64              `json:"signals_filtered"`
	Rule             RegimeRule         `json:"rule"`
	Thresholds       map[Regime]float64 `json:"thresholds"`
	RegimeChanges    int                `json:"regime_changes"`
	LastRegimeChange *RegimeChange      `json:"last_regime_change,omitempty"`
}

// CooldownEntry is an active per-symbol cooldown.
type CooldownEntry struct {
	Symbol    string        `json:"symbol"`
	SetAt     time.Time     `json:"set_at"`
	ExpiresAt time.Time     `json:"expires_at"`
	Duration  time.Duration `json:"duration"`
}

// SignalOutcome is one recorded result of an executed signal.
type SignalOutcome struct {
	Success bool      `json:"success"`
	Profit  float64   `json:"profit"`
	At      time.Time `json:"at"`
}

// SlippageStatus distinguishes a computed estimate from an empty book.
type SlippageStatus string

const (
	SlippageOK                    SlippageStatus = "OK"
	SlippageInsufficientLiquidity SlippageStatus = "INSUFFICIENT_LIQUIDITY"
)

// SlippageEstimate is the result of walking an order book for a trade size.
// RequestedSize is in quote currency for buys and in base quantity for sells.
type SlippageEstimate struct {
	Status         SlippageStatus `json:"status"`
	Side           Side           `json:"side"`
	RequestedSize  float64        `json:"requested_size"`
	FilledQuantity float64        `json:"filled_quantity"`
	FilledCost     float64        `json:"filled_cost"`
	ExecutionPrice float64        `json:"execution_price"`
	BestPrice      float64        `json:"best_price"`
	Slippage       float64        `json:"slippage"`
	TotalCost      float64        `json:"total_cost"`
	LevelsConsumed int            `json:"levels_consumed"`
	PartialFill    bool           `json:"partial_fill"`
}

// InsufficientLiquidity reports whether the book could not fill anything.
func (s SlippageEstimate) InsufficientLiquidity() bool {
	return s.Status == SlippageInsufficientLiquidity
}

// MarketImpact is the slippage estimate for one candidate size.
type MarketImpact struct {
	Size        float64 `json:"size"`
	Slippage    float64 `json:"slippage"`
	TotalCost   float64 `json:"total_cost"`
	PartialFill bool    `json:"partial_fill"`
	Feasible    bool    `json:"feasible"`
}

// LatencyStats summarises the samples of one component.
type LatencyStats struct {
	Component string  `json:"component"`
	Count     int     `json:"count"`
	Avg       float64 `json:"avg_ms"`
	Median    float64 `json:"median_ms"`
	P95       float64 `json:"p95_ms"`
	P99       float64 `json:"p99_ms"`
	Min       float64 `json:"min_ms"`
	Max       float64 `json:"max_ms"`
	StdDev    float64 `json:"std_ms"`
	Factor    float64 `json:"adjustment_factor"`
}

// LatencyReportSummary is the full latency compensation state.
type LatencyReportSummary struct {
	OverallFactor     float64                 `json:"overall_factor"`
	Components        map[string]LatencyStats `json:"components"`
	Bottlenecks       []string                `json:"bottlenecks"`
	BaseThresholds    map[string]float64      `json:"base_thresholds"`
	CurrentThresholds map[string]float64      `json:"current_thresholds"`
	Adjustments       int64                   `json:"adjustments"`
}
