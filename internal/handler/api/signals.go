package api

import (
	"sort"
	"time"

	"SignalGate/internal/domain/models"
	"SignalGate/internal/services/aggregator"
	"SignalGate/internal/services/detectors"
	"SignalGate/internal/services/risk"
	xhttp "SignalGate/pkg/http"
	xlogger "SignalGate/pkg/logger"
	"SignalGate/pkg/util"

	"github.com/labstack/echo/v4"
)

// recentCombinedLimit bounds the combined signals returned with the stats.
const recentCombinedLimit = 20

// SignalStatsView collects the counters of every pipeline stage.
type SignalStatsView struct {
	Symbols        []string                `json:"symbols"`
	Detectors      []detectors.Stats       `json:"detectors"`
	Aggregator     aggregator.Stats        `json:"aggregator"`
	RecentCombined []models.CombinedSignal `json:"recent_combined"`
	Slippage       risk.SlippageStats      `json:"slippage"`
	LatencyFactor  float64                 `json:"latency_factor"`
	Regime         models.Regime           `json:"regime"`
}

// RecentSignals lists recent decisions, newest first.
func (h *StatusHandler) RecentSignals(c echo.Context) error {
	req := &models.RecentSignalsQuery{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	since := util.ParseDurationDefault(req.Since, time.Hour)
	symbol := util.NormalizeSymbol(req.Symbol)

	decisions, err := h.d.Recorder.RecentDecisions(c.Request().Context(), symbol, since, req.Limit)
	if err != nil {
		h.logger.Error("recent decisions", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalErrorf("recent decisions").WithError(err))
	}
	if decisions == nil {
		decisions = []models.Decision{}
	}
	return xhttp.ListResponse(c, decisions, int64(len(decisions)))
}

func (h *StatusHandler) SignalStats(c echo.Context) error {
	view := SignalStatsView{
		Symbols:        []string{},
		Aggregator:     h.d.Aggregator.Stats(),
		RecentCombined: h.d.Aggregator.RecentCombined(recentCombinedLimit),
		Slippage:       h.d.Slippage.Stats(),
		LatencyFactor:  h.d.Latency.OverallFactor(),
		Regime:         h.d.Regime.Current(),
	}
	if h.d.Engine != nil {
		view.Symbols = h.d.Engine.Symbols()
		sort.Strings(view.Symbols)
	}
	if h.d.Detectors != nil {
		for _, d := range h.d.Detectors.All {
			view.Detectors = append(view.Detectors, d.Stats())
		}
	}
	return xhttp.SuccessResponse(c, view)
}
