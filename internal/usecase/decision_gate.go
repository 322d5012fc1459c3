package usecase

import (
	"context"
	"fmt"
	"time"

	"SignalGate/internal/domain/models"
	drepo "SignalGate/internal/domain/repository"
	"SignalGate/internal/services/risk"
	"SignalGate/pkg/config"
	"SignalGate/pkg/logger"
	"SignalGate/pkg/metrics"

	"github.com/google/uuid"
)

// DecisionGate runs a combined signal through the risk modules and produces the final decision.
type DecisionGate struct {
	cfg       config.GateConfig
	cooldowns *risk.CooldownManager
	regime    *risk.RegimeFilter
	latency   *risk.LatencyManager
	slippage  *risk.SlippageAnalyzer
	mirror    drepo.CooldownMirror
	lock      drepo.EmissionLock
	metrics   drepo.Metrics
	log       *logger.Logger
	majors    map[string]bool
}

// GateOption configures optional collaborators of the gate.
type GateOption func(*DecisionGate)

// WithCooldownMirror shares cooldowns with other replicas.
func WithCooldownMirror(m drepo.CooldownMirror) GateOption {
	return func(g *DecisionGate) { g.mirror = m }
}

// WithEmissionLock claims a cross-replica lock before emitting.
func WithEmissionLock(l drepo.EmissionLock) GateOption {
	return func(g *DecisionGate) { g.lock = l }
}

// WithGateMetrics sets the metrics sink.
func WithGateMetrics(m drepo.Metrics) GateOption {
	return func(g *DecisionGate) { g.metrics = m }
}

// NewDecisionGate creates a decision gate over the shared risk modules.
func NewDecisionGate(
	cfg config.GateConfig,
	cooldowns *risk.CooldownManager,
	regime *risk.RegimeFilter,
	latency *risk.LatencyManager,
	slippage *risk.SlippageAnalyzer,
	log *logger.Logger,
	opts ...GateOption,
) *DecisionGate {
	if log == nil {
		log = logger.Nop()
	}
	g := &DecisionGate{
		cfg:       cfg,
		cooldowns: cooldowns,
		regime:    regime,
		latency:   latency,
		slippage:  slippage,
		metrics:   metrics.Nop{},
		log:       log,
		majors:    make(map[string]bool, len(cfg.Majors)),
	}
	for _, s := range cfg.Majors {
		g.majors[s] = true
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// IsAltcoin reports whether the symbol is outside the configured majors.
func (g *DecisionGate) IsAltcoin(symbol string) bool { return !g.majors[symbol] }

// Evaluate applies cooldown, regime, signal age and slippage gates in that order. The book may
// be nil, which vetoes on liquidity. now is the decision time.
func (g *DecisionGate) Evaluate(ctx context.Context, sig models.CombinedSignal, book *models.OrderBookSnapshot, now time.Time) models.Decision {
	regime, rule := g.regime.Rule()
	d := models.Decision{
		ID:        uuid.NewString(),
		SignalID:  sig.ID,
		Symbol:    sig.Symbol,
		Direction: sig.Direction,
		Strength:  sig.Strength,
		Regime:    regime,
		Timestamp: now,
	}

	if g.inCooldown(ctx, sig.Symbol, now) {
		left, _ := g.cooldowns.Remaining(sig.Symbol, now)
		return g.veto(d, models.GateCooldown, fmt.Sprintf("symbol in cooldown for %s", left.Round(time.Second)))
	}

	if filtered, reason := g.regime.ShouldFilterSignal(sig.Symbol, g.IsAltcoin(sig.Symbol)); filtered {
		return g.veto(d, models.GateRegime, reason)
	}

	if maxAge := g.latency.MaxSignalAge(); maxAge > 0 {
		if age := now.Sub(sig.Timestamp); age > maxAge {
			return g.veto(d, models.GateLatency, fmt.Sprintf("signal age %s exceeds %s", age.Round(time.Millisecond), maxAge))
		}
	}

	if book == nil {
		return g.veto(d, models.GateLiquidity, "no order book for symbol")
	}
	side := sig.Direction.Side()
	est, err := g.slippage.CalculateSlippage(book, risk.QuantityFor(book, side, g.cfg.TradeSizeUSD), side)
	if err != nil {
		g.metrics.RecordError("slippage")
		return g.veto(d, models.GateLiquidity, err.Error())
	}
	if est.InsufficientLiquidity() {
		return g.veto(d, models.GateLiquidity, "insufficient liquidity")
	}
	d.Slippage = est.Slippage
	g.metrics.RecordSlippage(sig.Symbol, est.Slippage)

	predicted := sig.Strength * g.cfg.ExpectedMove
	if cancel, reason := g.slippage.ShouldCancelSignal(est.Slippage, predicted); cancel {
		return g.veto(d, models.GateSlippage, reason)
	}

	if g.lock != nil {
		claimed, err := g.lock.Claim(ctx, sig.Symbol, g.cfg.ClaimTTL)
		switch {
		case err != nil:
			g.metrics.RecordError("emission_lock")
			g.log.Warn("emission lock unavailable", logger.String("symbol", sig.Symbol), logger.Error(err))
		case !claimed:
			return g.veto(d, models.GateLock, "emission claimed by another instance")
		}
	}

	entry, acquired := g.cooldowns.TryAcquire(sig.Symbol, now)
	if !acquired {
		return g.veto(d, models.GateCooldown, "cooldown acquired concurrently")
	}
	if g.mirror != nil {
		if err := g.mirror.Save(ctx, entry); err != nil {
			g.metrics.RecordError("cooldown_mirror")
			g.log.Warn("mirror cooldown", logger.String("symbol", sig.Symbol), logger.Error(err))
		}
	}

	d.Execute = true
	d.SizeMultiplier = rule.PositionSizeMultiplier * rule.RiskMultiplier
	d.TradeSizeUSD = g.cfg.TradeSizeUSD * d.SizeMultiplier
	d.Reason = "all gates passed"
	g.metrics.RecordDecision(true, models.GateNone)
	g.log.Info("decision",
		logger.String("symbol", d.Symbol),
		logger.String("direction", string(d.Direction)),
		logger.Float64("strength", d.Strength),
		logger.Float64("size_multiplier", d.SizeMultiplier),
		logger.Float64("slippage", d.Slippage),
		logger.String("regime", string(d.Regime)))
	return d
}

func (g *DecisionGate) inCooldown(ctx context.Context, symbol string, now time.Time) bool {
	if g.cooldowns.IsInCooldown(symbol, now) {
		return true
	}
	if g.mirror == nil {
		return false
	}
	e, ok, err := g.mirror.Load(ctx, symbol)
	if err != nil {
		g.metrics.RecordError("cooldown_mirror")
		g.log.Warn("load mirrored cooldown", logger.String("symbol", symbol), logger.Error(err))
		return false
	}
	if !ok {
		return false
	}
	g.cooldowns.Restore(e, now)
	return g.cooldowns.IsInCooldown(symbol, now)
}

func (g *DecisionGate) veto(d models.Decision, gate models.Gate, reason string) models.Decision {
	d.Execute = false
	d.VetoedBy = gate
	d.Reason = reason
	g.metrics.RecordDecision(false, gate)
	g.log.Debug("decision vetoed",
		logger.String("symbol", d.Symbol),
		logger.String("gate", string(gate)),
		logger.String("reason", reason))
	return d
}
