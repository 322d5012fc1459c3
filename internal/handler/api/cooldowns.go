package api

import (
	"time"

	"SignalGate/internal/domain/models"
	"SignalGate/internal/services/risk"
	xhttp "SignalGate/pkg/http"
	xlogger "SignalGate/pkg/logger"

	"github.com/labstack/echo/v4"
)

// CooldownView is the state of one symbol's cooldown.
type CooldownView struct {
	Symbol      string            `json:"symbol"`
	Active      bool              `json:"active"`
	Remaining   time.Duration     `json:"remaining"`
	NextPeriod  time.Duration     `json:"next_period"`
	SuccessRate *risk.SuccessRate `json:"success_rate,omitempty"`
}

// CooldownsView lists live cooldowns with the manager counters.
type CooldownsView struct {
	Active []models.CooldownEntry `json:"active"`
	Stats  risk.CooldownStats     `json:"stats"`
}

func (h *StatusHandler) Cooldowns(c echo.Context) error {
	return xhttp.SuccessResponse(c, CooldownsView{
		Active: h.d.Cooldowns.ActiveCooldowns(h.d.Clock()),
		Stats:  h.d.Cooldowns.Stats(),
	})
}

func (h *StatusHandler) Cooldown(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.cooldownView(symbolParam(c)))
}

// CooldownResult feeds the outcome of an executed signal into the dynamic cooldown.
func (h *StatusHandler) CooldownResult(c echo.Context) error {
	symbol := symbolParam(c)
	req := &models.SignalResultRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	h.d.Cooldowns.RecordSignalResult(symbol, *req.Success, req.Profit, h.d.Clock())
	h.logger.Info("signal result recorded",
		xlogger.String("symbol", symbol),
		xlogger.Bool("success", *req.Success),
		xlogger.Float64("profit", req.Profit))
	return xhttp.SuccessResponse(c, h.cooldownView(symbol))
}

// ClearCooldown lifts the cooldown locally and in the shared mirror.
func (h *StatusHandler) ClearCooldown(c echo.Context) error {
	symbol := symbolParam(c)
	removed := h.d.Cooldowns.ForceRemove(symbol)
	if h.d.Mirror != nil {
		if err := h.d.Mirror.Delete(c.Request().Context(), symbol); err != nil {
			h.logger.Error("delete mirrored cooldown", xlogger.String("symbol", symbol), xlogger.Error(err))
			return xhttp.AppErrorResponse(c, xhttp.UnavailableErrorf("cooldown mirror: %v", err))
		}
	}
	if !removed {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no active cooldown for %s", symbol))
	}
	return xhttp.SuccessResponse(c, h.cooldownView(symbol))
}

func (h *StatusHandler) cooldownView(symbol string) CooldownView {
	now := h.d.Clock()
	v := CooldownView{Symbol: symbol, NextPeriod: h.d.Cooldowns.Duration(symbol)}
	v.Remaining, v.Active = h.d.Cooldowns.Remaining(symbol, now)
	if sr, ok := h.d.Cooldowns.SuccessRate(symbol); ok {
		v.SuccessRate = &sr
	}
	return v
}
