package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidSample is wrapped by every sample validation failure.
var ErrInvalidSample = errors.New("invalid sample")

// Side is the aggressor side of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Stream identifies an inbound sample stream.
type Stream string

const (
	StreamTrades    Stream = "trades"
	StreamLiquidity Stream = "liquidity"
	StreamPrices    Stream = "prices"
	StreamVolumes   Stream = "volumes"
	StreamOrderBook Stream = "orderbook"
	StreamLatency   Stream = "latency"
)

// Timestamped is implemented by every windowed sample.
type Timestamped interface {
	At() time.Time
}

// TradeEvent is a single executed trade.
type TradeEvent struct {
	Symbol    string    `json:"symbol" validate:"required"`
	Side      Side      `json:"side" validate:"required,oneof=buy sell"`
	Amount    float64   `json:"amount" validate:"gt=0"`
	Price     float64   `json:"price" validate:"gt=0"`
	Timestamp time.Time `json:"timestamp" validate:"required"`
}

func (t TradeEvent) At() time.Time { return t.Timestamp }

// LiquiditySnapshot is the total pool liquidity at a point in time.
type LiquiditySnapshot struct {
	Symbol         string    `json:"symbol" validate:"required"`
	TotalLiquidity float64   `json:"total_liquidity" validate:"gte=0"`
	Timestamp      time.Time `json:"timestamp" validate:"required"`
}

func (l LiquiditySnapshot) At() time.Time { return l.Timestamp }

// PriceSample is a mid or last price observation.
type PriceSample struct {
	Symbol    string    `json:"symbol" validate:"required"`
	Price     float64   `json:"price" validate:"gt=0"`
	Timestamp time.Time `json:"timestamp" validate:"required"`
}

func (p PriceSample) At() time.Time { return p.Timestamp }

// VolumeSample is a traded volume observation.
type VolumeSample struct {
	Symbol    string    `json:"symbol" validate:"required"`
	Volume    float64   `json:"volume" validate:"gte=0"`
	Timestamp time.Time `json:"timestamp" validate:"required"`
}

func (v VolumeSample) At() time.Time { return v.Timestamp }

// OrderBookLevel is one price level; it marshals as a [price, quantity] pair.
type OrderBookLevel struct {
	Price    float64 `json:"price" validate:"gt=0"`
	Quantity float64 `json:"quantity" validate:"gte=0"`
}

// OrderBookSnapshot holds bids sorted descending and asks sorted ascending.
type OrderBookSnapshot struct {
	Symbol    string           `json:"symbol" validate:"required"`
	Bids      []OrderBookLevel `json:"bids" validate:"dive"`
	Asks      []OrderBookLevel `json:"asks" validate:"dive"`
	Timestamp time.Time        `json:"timestamp"`
}

func (b OrderBookSnapshot) At() time.Time { return b.Timestamp }

// BestBid returns the top bid price, or 0 when there are no bids.
func (b *OrderBookSnapshot) BestBid() float64 {
	if b == nil || len(b.Bids) == 0 {
		return 0
	}
	return b.Bids[0].Price
}

// BestAsk returns the top ask price, or 0 when there are no asks.
func (b *OrderBookSnapshot) BestAsk() float64 {
	if b == nil || len(b.Asks) == 0 {
		return 0
	}
	return b.Asks[0].Price
}

// CheckOrdering verifies level ordering and that the spread is not crossed.
func (b *OrderBookSnapshot) CheckOrdering() error {
	for i := 1; i < len(b.Bids); i++ {
		if b.Bids[i].Price > b.Bids[i-1].Price {
			return fmt.Errorf("%w: bids not descending at level %d", ErrInvalidSample, i)
		}
	}
	for i := 1; i < len(b.Asks); i++ {
		if b.Asks[i].Price < b.Asks[i-1].Price {
			return fmt.Errorf("%w: asks not ascending at level %d", ErrInvalidSample, i)
		}
	}
	if len(b.Bids) > 0 && len(b.Asks) > 0 && b.BestBid() >= b.BestAsk() {
		return fmt.Errorf("%w: crossed spread bid=%v ask=%v", ErrInvalidSample, b.BestBid(), b.BestAsk())
	}
	return nil
}

// LatencyReport is one latency observation of a pipeline component.
type LatencyReport struct {
	Component string    `json:"component" validate:"required"`
	LatencyMs float64   `json:"latency_ms" validate:"gte=0"`
	Timestamp time.Time `json:"timestamp"`
}

func (l LatencyReport) At() time.Time { return l.Timestamp }

// Envelope carries exactly one sample of the named stream.
type Envelope struct {
	Stream    Stream             `json:"stream"`
	Trade     *TradeEvent        `json:"trade,omitempty"`
	Liquidity *LiquiditySnapshot `json:"liquidity,omitempty"`
	Price     *PriceSample       `json:"price,omitempty"`
	Volume    *VolumeSample      `json:"volume,omitempty"`
	Book      *OrderBookSnapshot `json:"book,omitempty"`
	Latency   *LatencyReport     `json:"latency,omitempty"`
}

// Key returns the partition key of the carried sample: the symbol, or the component for latency.
func (e Envelope) Key() string {
	switch {
	case e.Trade != nil:
		return e.Trade.Symbol
	case e.Liquidity != nil:
		return e.Liquidity.Symbol
	case e.Price != nil:
		return e.Price.Symbol
	case e.Volume != nil:
		return e.Volume.Symbol
	case e.Book != nil:
		return e.Book.Symbol
	case e.Latency != nil:
		return e.Latency.Component
	}
	return ""
}

// Sample returns the carried sample, or nil when the envelope is empty.
func (e Envelope) Sample() interface{} {
	switch {
	case e.Trade != nil:
		return e.Trade
	case e.Liquidity != nil:
		return e.Liquidity
	case e.Price != nil:
		return e.Price
	case e.Volume != nil:
		return e.Volume
	case e.Book != nil:
		return e.Book
	case e.Latency != nil:
		return e.Latency
	}
	return nil
}

// Check verifies that the envelope carries exactly one sample and that it matches Stream.
func (e Envelope) Check() error {
	var stream Stream
	n := 0
	if e.Trade != nil {
		stream, n = StreamTrades, n+1
	}
	if e.Liquidity != nil {
		stream, n = StreamLiquidity, n+1
	}
	if e.Price != nil {
		stream, n = StreamPrices, n+1
	}
	if e.Volume != nil {
		stream, n = StreamVolumes, n+1
	}
	if e.Book != nil {
		stream, n = StreamOrderBook, n+1
	}
	if e.Latency != nil {
		stream, n = StreamLatency, n+1
	}
	switch {
	case n == 0:
		return fmt.Errorf("%w: envelope without sample", ErrInvalidSample)
	case n > 1:
		return fmt.Errorf("%w: envelope carries %d samples", ErrInvalidSample, n)
	case e.Stream != stream:
		return fmt.Errorf("%w: stream %q carries a %s sample", ErrInvalidSample, e.Stream, stream)
	}
	return nil
}
