package models

import "time"

// Direction is the label a raw or combined signal carries.
type Direction string

const (
	DirectionBuy          Direction = "BUY"
	DirectionSell         Direction = "SELL"
	DirectionIncrease     Direction = "LIQUIDITY_INCREASE"
	DirectionDecrease     Direction = "LIQUIDITY_DECREASE"
	DirectionAccumulation Direction = "ACCUMULATION"
	DirectionDistribution Direction = "DISTRIBUTION"
	DirectionBreakout     Direction = "BREAKOUT"
)

// Bias maps a detector event onto the trade direction it implies.
func (d Direction) Bias() Direction {
	switch d {
	case DirectionBuy, DirectionIncrease, DirectionAccumulation, DirectionBreakout:
		return DirectionBuy
	case DirectionSell, DirectionDecrease, DirectionDistribution:
		return DirectionSell
	default:
		return d
	}
}

// Side returns the order-book side an execution in this direction consumes.
func (d Direction) Side() Side {
	if d.Bias() == DirectionSell {
		return SideSell
	}
	return SideBuy
}

// Algorithm names used for registry lookup and aggregator weights.
const (
	AlgorithmOrderFlow   = "order_flow"
	AlgorithmLiquidity   = "liquidity"
	AlgorithmVolumePrice = "volume_price"
)

// RawSignal is a single detector firing.
type RawSignal struct {
	ID         string             `json:"id"`
	Symbol     string             `json:"symbol"`
	Direction  Direction          `json:"direction"`
	Event      Direction          `json:"event"`
	Algorithm  string             `json:"algorithm"`
	Confidence float64            `json:"confidence"`
	Weight     float64            `json:"weight"`
	Timestamp  time.Time          `json:"timestamp"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
}

// CombinedSignal is a cross-confirmed signal emitted by the aggregator.
type CombinedSignal struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol"`
	Direction   Direction `json:"direction"`
	Strength    float64   `json:"strength"`
	Algorithms  []string  `json:"algorithms"`
	SignalCount int       `json:"signal_count"`
	Timestamp   time.Time `json:"timestamp"`
}

// Gate names a decision stage that can veto a combined signal.
type Gate string

const (
	GateNone      Gate = ""
	GateCooldown  Gate = "cooldown"
	GateRegime    Gate = "regime"
	GateLatency   Gate = "latency"
	GateLiquidity Gate = "liquidity"
	GateSlippage  Gate = "slippage"
	GateLock      Gate = "lock"
)

// Decision is the final verdict for a combined signal.
type Decision struct {
	ID             string    `json:"id"`
	SignalID       string    `json:"signal_id"`
	Symbol         string    `json:"symbol"`
	Execute        bool      `json:"execute"`
	Direction      Direction `json:"direction"`
	Strength       float64   `json:"strength"`
	SizeMultiplier float64   `json:"size_multiplier"`
	TradeSizeUSD   float64   `json:"trade_size_usd"`
	Slippage       float64   `json:"slippage"`
	Regime         Regime    `json:"regime"`
	VetoedBy       Gate      `json:"vetoed_by,omitempty"`
	Reason         string    `json:"reason"`
	Timestamp      time.Time `json:"timestamp"`
}
