package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"SignalGate/internal/domain/models"
	"SignalGate/internal/services/aggregator"
	"SignalGate/internal/services/detectors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu        sync.Mutex
	signals   []models.CombinedSignal
	decisions []models.Decision
}

func (s *captureSink) RecordSignal(_ context.Context, c *models.CombinedSignal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals = append(s.signals, *c)
	return nil
}

func (s *captureSink) RecordDecision(_ context.Context, d *models.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, *d)
	return nil
}

func (s *captureSink) snapshot() ([]models.CombinedSignal, []models.Decision) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.CombinedSignal(nil), s.signals...), append([]models.Decision(nil), s.decisions...)
}

func newTestEngine(t *testing.T, sink SignalSink, opts ...EngineOption) (*Engine, gateDeps) {
	t.Helper()
	d := newGateDeps()
	set, err := detectors.Build(d.cfg.Detectors)
	require.NoError(t, err)
	agg := aggregator.New(d.cfg.Aggregator, nil)
	e := NewEngine(set, agg, d.gate(), d.regime, d.latency, sink, nil, opts...)
	e.Start(context.Background())
	t.Cleanup(e.Stop)
	return e, d
}

func tradeEnv(symbol string, side models.Side, amount float64, ts time.Time) models.Envelope {
	return models.Envelope{Stream: models.StreamTrades, Trade: &models.TradeEvent{
		Symbol: symbol, Side: side, Amount: amount, Price: 150, Timestamp: ts,
	}}
}

func liquidityEnv(symbol string, total float64, ts time.Time) models.Envelope {
	return models.Envelope{Stream: models.StreamLiquidity, Liquidity: &models.LiquiditySnapshot{
		Symbol: symbol, TotalLiquidity: total, Timestamp: ts,
	}}
}

func TestEngineOrderFlowAndLiquidityProduceDecision(t *testing.T) {
	sink := &captureSink{}
	e, _ := newTestEngine(t, sink, WithClock(func() time.Time { return at(45) }))
	ctx := context.Background()

	book := deepBook("SOL")
	book.Timestamp = at(0)
	require.NoError(t, e.Process(ctx, models.Envelope{Stream: models.StreamOrderBook, Book: book}))
	require.NoError(t, e.Process(ctx, liquidityEnv("SOL", 1_000_000, at(0))))
	require.NoError(t, e.Process(ctx, liquidityEnv("SOL", 1_100_000, at(30))))
	for i := 0; i < 10; i++ {
		require.NoError(t, e.Process(ctx, tradeEnv("SOL", models.SideBuy, 150, at(31+i))))
	}

	require.Eventually(t, func() bool {
		_, decs := sink.snapshot()
		return len(decs) == 1
	}, 2*time.Second, 10*time.Millisecond)

	sigs, decs := sink.snapshot()
	require.Len(t, sigs, 1)
	assert.Equal(t, models.DirectionBuy, sigs[0].Direction)
	assert.Equal(t, []string{models.AlgorithmLiquidity, models.AlgorithmOrderFlow}, sigs[0].Algorithms)

	dec := decs[0]
	assert.True(t, dec.Execute, dec.Reason)
	assert.Equal(t, sigs[0].ID, dec.SignalID)
	assert.Equal(t, at(45), dec.Timestamp)
	assert.Equal(t, []string{"SOL"}, e.Symbols())
}

func TestEngineWithoutBookVetoesOnLiquidity(t *testing.T) {
	sink := &captureSink{}
	e, _ := newTestEngine(t, sink, WithClock(func() time.Time { return at(45) }))
	ctx := context.Background()

	require.NoError(t, e.Process(ctx, liquidityEnv("SOL", 1_000_000, at(0))))
	require.NoError(t, e.Process(ctx, liquidityEnv("SOL", 1_100_000, at(30))))
	for i := 0; i < 10; i++ {
		require.NoError(t, e.Process(ctx, tradeEnv("SOL", models.SideBuy, 150, at(31+i))))
	}

	require.Eventually(t, func() bool {
		_, decs := sink.snapshot()
		return len(decs) == 1
	}, 2*time.Second, 10*time.Millisecond)
	_, decs := sink.snapshot()
	assert.False(t, decs[0].Execute)
	assert.Equal(t, models.GateLiquidity, decs[0].VetoedBy)
}

func TestEngineDropsOutOfOrderSamples(t *testing.T) {
	sink := &captureSink{}
	e, _ := newTestEngine(t, sink)
	ctx := context.Background()

	// the late reading would complete a decrease; dropped, no signal fires
	require.NoError(t, e.Process(ctx, liquidityEnv("SOL", 1_000_000, at(30))))
	require.NoError(t, e.Process(ctx, liquidityEnv("SOL", 500_000, at(0))))
	for i := 0; i < 10; i++ {
		require.NoError(t, e.Process(ctx, tradeEnv("SOL", models.SideSell, 150, at(31+i))))
	}

	time.Sleep(100 * time.Millisecond)
	sigs, decs := sink.snapshot()
	assert.Empty(t, sigs)
	assert.Empty(t, decs)

	liq, ok := e.detectors.Find(models.AlgorithmLiquidity)
	require.True(t, ok)
	assert.Zero(t, liq.Stats().Signals)
}

func TestEngineAppliesLatencyInline(t *testing.T) {
	e, d := newTestEngine(t, &captureSink{})
	for i := 0; i < 10; i++ {
		require.NoError(t, e.Process(context.Background(), models.Envelope{
			Stream:  models.StreamLatency,
			Latency: &models.LatencyReport{Component: "network", LatencyMs: 400},
		}))
	}
	assert.InDelta(t, 2.0, d.latency.OverallFactor(), 1e-9)
	assert.Empty(t, e.Symbols())
}

func TestEngineRejectsMalformedAndStopped(t *testing.T) {
	e, _ := newTestEngine(t, &captureSink{})
	ctx := context.Background()

	err := e.Process(ctx, models.Envelope{Stream: models.StreamTrades})
	assert.ErrorIs(t, err, models.ErrInvalidSample)

	err = e.Process(ctx, models.Envelope{Stream: models.StreamPrices, Trade: &models.TradeEvent{Symbol: "SOL"}})
	assert.ErrorIs(t, err, models.ErrInvalidSample)

	e.Stop()
	err = e.Process(ctx, tradeEnv("SOL", models.SideBuy, 1, at(0)))
	assert.ErrorIs(t, err, ErrEngineStopped)
}

func TestEngineQueueFull(t *testing.T) {
	d := newGateDeps()
	set, err := detectors.Build(d.cfg.Detectors)
	require.NoError(t, err)
	e := NewEngine(set, aggregator.New(d.cfg.Aggregator, nil), d.gate(), d.regime, d.latency, &captureSink{}, nil, WithQueueSize(1))

	// a cancelled engine context leaves the worker unable to drain
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e.Start(ctx)
	defer e.Stop()

	var full bool
	for i := 0; i < 50 && !full; i++ {
		full = e.Process(context.Background(), tradeEnv("SOL", models.SideBuy, 1, at(i))) == ErrQueueFull
	}
	assert.True(t, full)
}

func TestEngineCleanupDropsExpiredCooldowns(t *testing.T) {
	d := newGateDeps()
	set, err := detectors.Build(d.cfg.Detectors)
	require.NoError(t, err)
	agg := aggregator.New(d.cfg.Aggregator, nil)

	d.cooldowns.SetCooldown("SOL", 5*time.Minute, at(0))
	d.cooldowns.SetCooldown("ETH", 5*time.Minute, at(900))

	e := NewEngine(set, agg, d.gate(), d.regime, d.latency, &captureSink{}, nil,
		WithClock(func() time.Time { return at(1000) }),
		WithCleanup(5*time.Millisecond, d.cooldowns))
	e.Start(context.Background())
	t.Cleanup(e.Stop)

	require.Eventually(t, func() bool {
		return len(d.cooldowns.ActiveCooldowns(at(0))) == 1
	}, time.Second, 5*time.Millisecond)
	active := d.cooldowns.ActiveCooldowns(at(900))
	require.Len(t, active, 1)
	assert.Equal(t, "ETH", active[0].Symbol)
}
