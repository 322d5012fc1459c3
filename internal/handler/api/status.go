package api

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"SignalGate/internal/domain/models"
	drepo "SignalGate/internal/domain/repository"
	"SignalGate/internal/service/ratelimit"
	"SignalGate/internal/services/aggregator"
	"SignalGate/internal/services/detectors"
	"SignalGate/internal/services/risk"
	"SignalGate/internal/usecase"
	xhttp "SignalGate/pkg/http"
	xlogger "SignalGate/pkg/logger"
	"SignalGate/pkg/util"

	"github.com/labstack/echo/v4"
)

// HealthCheck reports the health of one dependency.
type HealthCheck func(ctx context.Context) error

// Deps are the components the status API reads from. Optional ones may be nil.
type Deps struct {
	Regime     *risk.RegimeFilter
	Latency    *risk.LatencyManager
	Cooldowns  *risk.CooldownManager
	Slippage   *risk.SlippageAnalyzer
	Aggregator *aggregator.Aggregator
	Detectors  *detectors.Set
	Recorder   *usecase.SignalRecorder
	Engine     *usecase.Engine
	Mirror     drepo.CooldownMirror
	Checks     map[string]HealthCheck
	Limiter    *ratelimit.Limiter
	Clock      func() time.Time
}

// StatusHandler serves the read-mostly status API.
type StatusHandler struct {
	d      Deps
	logger *xlogger.Logger
}

func NewStatusHandler(logger *xlogger.Logger, deps Deps) *StatusHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &StatusHandler{d: deps, logger: logger}
}

func (h *StatusHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api/v1")
	g.GET("/regime", h.Regime)
	g.GET("/regime/history", h.RegimeHistory)
	g.GET("/latency", h.LatencyReport)
	g.GET("/latency/:component", h.LatencyComponent)
	g.GET("/cooldowns", h.Cooldowns)
	g.GET("/cooldowns/:symbol", h.Cooldown)
	g.POST("/cooldowns/:symbol/result", h.CooldownResult)
	g.DELETE("/cooldowns/:symbol", h.ClearCooldown)
	g.GET("/signals/recent", h.RecentSignals)
	g.GET("/signals/stats", h.SignalStats)
	g.POST("/slippage/estimate", h.SlippageEstimate, h.throttle)
	g.POST("/slippage/optimal", h.SlippageOptimal, h.throttle)
	g.GET("/logs/errors", h.ErrorLogs)
}

// throttle limits expensive endpoints per client address.
func (h *StatusHandler) throttle(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if h.d.Limiter != nil && !h.d.Limiter.Allow(c.RealIP()+":"+c.Path()) {
			return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError())
		}
		return next(c)
	}
}

// Health runs every dependency check and answers 503 when any fails.
func (h *StatusHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.d.Checks))
	for name := range h.d.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	result := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.d.Checks[name](ctx); err != nil {
			status = http.StatusServiceUnavailable
			result[name] = err.Error()
			h.logger.Warn("health check failed", xlogger.String("check", name), xlogger.Error(err))
			continue
		}
		result[name] = "ok"
	}
	return xhttp.DataResponse(c, status, result)
}

func (h *StatusHandler) Regime(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.d.Regime.Status())
}

func (h *StatusHandler) RegimeHistory(c echo.Context) error {
	req := &models.HistoryQuery{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	changes := h.d.Regime.RecentChanges(req.Limit)
	return xhttp.ListResponse(c, changes, int64(len(changes)))
}

func (h *StatusHandler) LatencyReport(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.d.Latency.Report())
}

func (h *StatusHandler) LatencyComponent(c echo.Context) error {
	component := c.Param("component")
	stats, err := h.d.Latency.Stats(component)
	if errors.Is(err, risk.ErrNoLatencyData) {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no latency data for %s", component))
	}
	if err != nil {
		h.logger.Error("latency stats", xlogger.String("component", component), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, stats)
}

// ErrorLogs lists the deduplicated error logs kept by the log collector.
func (h *StatusHandler) ErrorLogs(c echo.Context) error {
	req := &models.HistoryQuery{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	entries := []xlogger.AggregatedLogEntry{}
	if col := h.logger.Collector(); col != nil {
		entries = col.Recent("error", req.Limit)
	}
	return xhttp.ListResponse(c, entries, int64(len(entries)))
}

func symbolParam(c echo.Context) string {
	return util.NormalizeSymbol(c.Param("symbol"))
}
