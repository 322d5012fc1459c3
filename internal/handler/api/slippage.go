package api

import (
	"errors"

	"SignalGate/internal/domain/models"
	xhttp "SignalGate/pkg/http"

	"github.com/labstack/echo/v4"
)

// SlippageEstimateView is an estimate with an optional market impact table.
type SlippageEstimateView struct {
	models.SlippageEstimate
	Impact []models.MarketImpact `json:"impact,omitempty"`
}

// OptimalSizeView is the largest quote size within the slippage ceiling; zero when the
// book cannot absorb the minimum trade size.
type OptimalSizeView struct {
	Symbol      string      `json:"symbol"`
	Side        models.Side `json:"side"`
	MaxSlippage float64     `json:"max_slippage"`
	SizeUSD     float64     `json:"size_usd"`
}

func (h *StatusHandler) SlippageEstimate(c echo.Context) error {
	req := &models.SlippageEstimateRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	book := req.Book()
	if err := book.CheckOrdering(); err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("%v", err))
	}

	est, err := h.d.Slippage.CalculateSlippage(book, req.Size, req.Side)
	if errors.Is(err, models.ErrInvalidSample) {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("%v", err))
	}
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	if est.InsufficientLiquidity() {
		return xhttp.AppErrorResponse(c,
			xhttp.UnprocessableErrorf("insufficient liquidity on the %s side", req.Side).
				WithParam("status", est.Status))
	}

	view := SlippageEstimateView{SlippageEstimate: est}
	if len(req.ImpactSizes) > 0 {
		view.Impact = h.d.Slippage.AnalyzeMarketImpact(book, req.Side, req.ImpactSizes)
	}
	return xhttp.SuccessResponse(c, view)
}

func (h *StatusHandler) SlippageOptimal(c echo.Context) error {
	req := &models.SlippageOptimalRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	book := req.Book()
	if err := book.CheckOrdering(); err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("%v", err))
	}
	return xhttp.SuccessResponse(c, OptimalSizeView{
		Symbol:      req.Symbol,
		Side:        req.Side,
		MaxSlippage: req.MaxSlippage,
		SizeUSD:     h.d.Slippage.GetOptimalTradeSize(book, req.Side, req.MaxSlippage),
	})
}
