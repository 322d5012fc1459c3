package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"SignalGate/internal/domain/models"
	drepo "SignalGate/internal/domain/repository"
	"SignalGate/internal/services/aggregator"
	"SignalGate/internal/services/detectors"
	"SignalGate/internal/services/risk"
	"SignalGate/internal/services/window"
	"SignalGate/pkg/logger"
	"SignalGate/pkg/metrics"
)

// ErrQueueFull is returned when a symbol worker cannot accept more samples.
var ErrQueueFull = errors.New("symbol queue full")

// ErrEngineStopped is returned for samples submitted after Stop.
var ErrEngineStopped = errors.New("engine stopped")

// SignalSink receives everything the engine emits.
type SignalSink interface {
	RecordSignal(ctx context.Context, s *models.CombinedSignal) error
	RecordDecision(ctx context.Context, d *models.Decision) error
}

// Engine runs one worker goroutine per symbol. Each worker applies its symbol's samples in
// arrival order, runs the detectors, feeds the aggregator and gates combined signals.
type Engine struct {
	detectors *detectors.Set
	agg       *aggregator.Aggregator
	gate      *DecisionGate
	regime    *risk.RegimeFilter
	latency   *risk.LatencyManager
	sink      SignalSink
	metrics   drepo.Metrics
	log       *logger.Logger
	queueSize int
	clock     func() time.Time

	cleanupEvery time.Duration
	cooldowns    *risk.CooldownManager

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	workers map[string]*symbolWorker
	wg      sync.WaitGroup
	stopped bool
}

// EngineOption configures the engine.
type EngineOption func(*Engine)

// WithQueueSize sets the per-symbol queue capacity.
func WithQueueSize(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.queueSize = n
		}
	}
}

// WithClock sets the clock used for decision time.
func WithClock(fn func() time.Time) EngineOption {
	return func(e *Engine) { e.clock = fn }
}

// WithEngineMetrics sets the metrics sink.
func WithEngineMetrics(m drepo.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithCleanup drops expired aggregator state and cooldowns every interval.
func WithCleanup(interval time.Duration, cooldowns *risk.CooldownManager) EngineOption {
	return func(e *Engine) {
		e.cleanupEvery = interval
		e.cooldowns = cooldowns
	}
}

// NewEngine creates an engine. Call Start before submitting samples.
func NewEngine(
	set *detectors.Set,
	agg *aggregator.Aggregator,
	gate *DecisionGate,
	regime *risk.RegimeFilter,
	latency *risk.LatencyManager,
	sink SignalSink,
	log *logger.Logger,
	opts ...EngineOption,
) *Engine {
	if log == nil {
		log = logger.Nop()
	}
	e := &Engine{
		detectors: set,
		agg:       agg,
		gate:      gate,
		regime:    regime,
		latency:   latency,
		sink:      sink,
		metrics:   metrics.Nop{},
		log:       log,
		queueSize: 1024,
		clock:     time.Now,
		workers:   make(map[string]*symbolWorker),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start binds the worker lifetime to ctx.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx != nil {
		return
	}
	e.ctx, e.cancel = context.WithCancel(ctx)
	if e.cleanupEvery > 0 {
		e.wg.Add(1)
		go e.cleanup(e.ctx)
	}
}

func (e *Engine) cleanup(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cleanupEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := e.clock()
			e.agg.CleanupExpired(now)
			if e.cooldowns != nil {
				if n := e.cooldowns.CleanupExpired(now); n > 0 {
					e.log.Debug("removed expired cooldowns", logger.Int("count", n))
				}
			}
		}
	}
}

// Stop cancels every worker and waits for them to exit.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	if e.cancel != nil {
		e.cancel()
	}
	e.mu.Unlock()
	e.wg.Wait()
}

// Process routes one sample. Latency reports are applied inline; everything else is queued
// on the worker of its symbol. It never blocks.
func (e *Engine) Process(ctx context.Context, env models.Envelope) error {
	if err := env.Check(); err != nil {
		e.metrics.RecordDropped(env.Stream, "malformed")
		return err
	}
	key := env.Key()
	if key == "" {
		e.metrics.RecordDropped(env.Stream, "empty")
		return fmt.Errorf("%w: sample without symbol", models.ErrInvalidSample)
	}
	e.metrics.RecordSample(env.Stream, key)

	if env.Latency != nil {
		f := e.latency.Record(env.Latency.Component, env.Latency.LatencyMs)
		e.metrics.RecordLatencyFactor(f)
		return nil
	}

	w, err := e.worker(key)
	if err != nil {
		return err
	}
	select {
	case w.in <- env:
		return nil
	default:
		e.metrics.RecordDropped(env.Stream, "queue_full")
		return ErrQueueFull
	}
}

// Symbols lists symbols with a running worker.
func (e *Engine) Symbols() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.workers))
	for s := range e.workers {
		out = append(out, s)
	}
	return out
}

func (e *Engine) worker(symbol string) (*symbolWorker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped || e.ctx == nil {
		return nil, ErrEngineStopped
	}
	w, ok := e.workers[symbol]
	if ok {
		return w, nil
	}
	w = &symbolWorker{
		symbol: symbol,
		engine: e,
		in:     make(chan models.Envelope, e.queueSize),
		order:  window.NewGuard[models.Stream](),
	}
	e.workers[symbol] = w
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		w.run(e.ctx)
	}()
	e.log.Debug("started symbol worker", logger.String("symbol", symbol))
	return w, nil
}

// symbolWorker owns the ordering state and latest order book of one symbol.
type symbolWorker struct {
	symbol string
	engine *Engine
	in     chan models.Envelope
	order  *window.Guard[models.Stream]
	book   *models.OrderBookSnapshot
}

func (w *symbolWorker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-w.in:
			w.apply(ctx, env)
		}
	}
}

func (w *symbolWorker) apply(ctx context.Context, env models.Envelope) {
	e := w.engine
	ts, ok := sampleTime(env)
	if !ok {
		e.metrics.RecordDropped(env.Stream, "empty")
		return
	}
	if err := w.order.Admit(env.Stream, ts); err != nil {
		e.metrics.RecordDropped(env.Stream, "out_of_order")
		e.log.Warn("dropped sample",
			logger.String("symbol", w.symbol),
			logger.String("stream", string(env.Stream)),
			logger.Error(err))
		return
	}

	switch {
	case env.Trade != nil:
		for _, c := range e.detectors.Trades {
			c.AddTrade(*env.Trade)
		}
	case env.Liquidity != nil:
		for _, c := range e.detectors.Liquidity {
			c.AddLiquidity(*env.Liquidity)
		}
	case env.Price != nil:
		if change, changed := e.regime.AddPrice(*env.Price); changed {
			e.metrics.RecordRegime(change.To)
		}
		for _, c := range e.detectors.PriceVol {
			c.AddPrice(*env.Price)
		}
	case env.Volume != nil:
		for _, c := range e.detectors.PriceVol {
			c.AddVolume(*env.Volume)
		}
	case env.Book != nil:
		if err := env.Book.CheckOrdering(); err != nil {
			e.metrics.RecordDropped(env.Stream, "invalid_book")
			e.log.Warn("dropped order book", logger.String("symbol", w.symbol), logger.Error(err))
			return
		}
		w.book = env.Book
		return
	}

	for _, d := range e.detectors.Consumers(env.Stream) {
		sig, fired := d.Check(w.symbol, ts)
		if !fired {
			continue
		}
		e.metrics.RecordRawSignal(sig.Algorithm, sig.Event)
		combined, ok := e.agg.Add(sig, ts)
		if !ok {
			continue
		}
		w.emit(ctx, combined)
	}
}

func (w *symbolWorker) emit(ctx context.Context, c models.CombinedSignal) {
	e := w.engine
	e.metrics.RecordCombined(c.Direction)
	if err := e.sink.RecordSignal(ctx, &c); err != nil {
		e.metrics.RecordError("record_signal")
		e.log.Error("record combined signal", logger.String("symbol", w.symbol), logger.Error(err))
	}

	start := time.Now()
	d := e.gate.Evaluate(ctx, c, w.book, e.clock())
	e.metrics.RecordLatency("decision_gate", time.Since(start).Seconds())

	if err := e.sink.RecordDecision(ctx, &d); err != nil {
		e.metrics.RecordError("record_decision")
		e.log.Error("record decision", logger.String("symbol", w.symbol), logger.Error(err))
	}
}

func sampleTime(env models.Envelope) (time.Time, bool) {
	s, ok := env.Sample().(models.Timestamped)
	if !ok {
		return time.Time{}, false
	}
	return s.At(), true
}
