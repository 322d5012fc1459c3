package middleware

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"SignalGate/internal/domain/models"
	"SignalGate/pkg/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProc struct {
	calls atomic.Int64
	fail  atomic.Bool
	mu    sync.Mutex
	seen  []models.Envelope
}

func (p *countingProc) Process(_ context.Context, env models.Envelope) error {
	p.calls.Add(1)
	if p.fail.Load() {
		return errors.New("engine unavailable")
	}
	p.mu.Lock()
	p.seen = append(p.seen, env)
	p.mu.Unlock()
	return nil
}

func (p *countingProc) delivered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.seen)
}

var ts = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

func priceEnv(symbol string, price float64) models.Envelope {
	return models.Envelope{Stream: models.StreamPrices, Price: &models.PriceSample{Symbol: symbol, Price: price, Timestamp: ts}}
}

func TestPipelineRejectsInvalidSamples(t *testing.T) {
	proc := &countingProc{}
	p := NewRealtimePipeline(proc, metrics.Nop{})
	ctx := context.Background()

	assert.ErrorIs(t, p.Process(ctx, priceEnv("BTC", -1)), models.ErrInvalidSample)
	assert.ErrorIs(t, p.Process(ctx, models.Envelope{Stream: models.StreamPrices}), models.ErrInvalidSample)

	crossed := models.Envelope{Stream: models.StreamOrderBook, Book: &models.OrderBookSnapshot{
		Symbol: "SOL",
		Bids:   []models.OrderBookLevel{{Price: 151, Quantity: 1}},
		Asks:   []models.OrderBookLevel{{Price: 150, Quantity: 1}},
	}}
	assert.ErrorIs(t, p.Process(ctx, crossed), models.ErrInvalidSample)

	require.NoError(t, p.Process(ctx, priceEnv("BTC", 65000)))
	assert.Equal(t, int64(1), proc.calls.Load())
}

func TestPipelineThrottlesPerSymbol(t *testing.T) {
	proc := &countingProc{}
	p := NewRealtimePipeline(proc, metrics.Nop{}, WithMaxRPS(1, 2))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, p.Process(ctx, priceEnv("BTC", 65000)))
	}
	require.NoError(t, p.Process(ctx, priceEnv("ETH", 3000)))
	assert.Equal(t, 3, proc.delivered(), "burst of two for BTC plus one ETH")
}

func TestPipelineUnthrottledStreamKeepsEveryTrade(t *testing.T) {
	proc := &countingProc{}
	p := NewRealtimePipeline(proc, metrics.Nop{}, WithMaxRPS(1, 1), WithUnthrottled(models.StreamTrades))
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		trade := models.Envelope{Stream: models.StreamTrades, Trade: &models.TradeEvent{
			Symbol: "SOL", Side: models.SideBuy, Amount: 5, Price: 150, Timestamp: ts,
		}}
		require.NoError(t, p.Process(ctx, trade))
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, p.Process(ctx, priceEnv("SOL", 150)))
	}
	assert.Equal(t, 11, proc.delivered(), "all trades plus one price")
}

func TestPipelineBuffersAndFlushes(t *testing.T) {
	proc := &countingProc{}
	proc.fail.Store(true)
	p := NewRealtimePipeline(proc, metrics.Nop{}, WithBufferSize(4))

	err := p.Process(context.Background(), priceEnv("BTC", 65000))
	require.Error(t, err)
	assert.Equal(t, 1, p.Buffered())

	proc.fail.Store(false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	require.Eventually(t, func() bool { return proc.delivered() == 1 }, time.Second, 10*time.Millisecond)
	assert.Zero(t, p.Buffered())
}

func TestPipelineTransform(t *testing.T) {
	proc := &countingProc{}
	upper := func(env models.Envelope) models.Envelope {
		if env.Price != nil && env.Price.Symbol == "btc" {
			env.Price.Symbol = "BTC"
		}
		return env
	}
	p := NewRealtimePipeline(proc, metrics.Nop{}, WithTransform(upper))

	require.NoError(t, p.Process(context.Background(), priceEnv("btc", 65000)))
	require.Equal(t, 1, proc.delivered())
	assert.Equal(t, "BTC", proc.seen[0].Key())
}
