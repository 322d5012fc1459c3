package models

// Requests of the status API. Query structs bind with the query tag; bodies bind as JSON.

// RecentSignalsQuery selects recent decisions.
type RecentSignalsQuery struct {
	Symbol string `query:"symbol" json:"symbol"`
	Since  string `query:"since" json:"since" default:"1h"`
	Limit  int    `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=1000"`
}

// HistoryQuery limits a history listing.
type HistoryQuery struct {
	Limit int `query:"limit" json:"limit" default:"50" validate:"gte=1,lte=1000"`
}

// SignalResultRequest reports the outcome of an executed signal.
type SignalResultRequest struct {
	Success *bool   `json:"success" validate:"required"`
	Profit  float64 `json:"profit"`
}

// SlippageEstimateRequest asks for the slippage of one trade against a supplied book.
// Size is quote currency for buys and base quantity for sells. ImpactSizes, in quote
// currency, adds a market impact table.
type SlippageEstimateRequest struct {
	Symbol      string           `json:"symbol" validate:"required"`
	Side        Side             `json:"side" validate:"required,oneof=buy sell"`
	Size        float64          `json:"size" validate:"gt=0"`
	Bids        []OrderBookLevel `json:"bids" validate:"dive"`
	Asks        []OrderBookLevel `json:"asks" validate:"dive"`
	ImpactSizes []float64        `json:"impact_sizes" validate:"omitempty,max=20,dive,gt=0"`
}

// Book returns the request's levels as a snapshot.
func (r SlippageEstimateRequest) Book() *OrderBookSnapshot {
	return &OrderBookSnapshot{Symbol: r.Symbol, Bids: r.Bids, Asks: r.Asks}
}

// SlippageOptimalRequest asks for the largest quote size within MaxSlippage.
type SlippageOptimalRequest struct {
	Symbol      string           `json:"symbol" validate:"required"`
	Side        Side             `json:"side" validate:"required,oneof=buy sell"`
	MaxSlippage float64          `json:"max_slippage" default:"0.02" validate:"gt=0,lte=1"`
	Bids        []OrderBookLevel `json:"bids" validate:"dive"`
	Asks        []OrderBookLevel `json:"asks" validate:"dive"`
}

// Book returns the request's levels as a snapshot.
func (r SlippageOptimalRequest) Book() *OrderBookSnapshot {
	return &OrderBookSnapshot{Symbol: r.Symbol, Bids: r.Bids, Asks: r.Asks}
}
