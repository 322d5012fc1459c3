package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"SignalGate/internal/domain/models"
	domrepo "SignalGate/internal/domain/repository"
	mid "SignalGate/internal/middleware"
	pkgkafka "SignalGate/pkg/kafka"
)

// ComponentDataAcquisition is the latency component fed with ingest lag.
const ComponentDataAcquisition = "data_acquisition"

// LatencyObserver receives component latency readings.
type LatencyObserver interface {
	Record(component string, latencyMs float64) float64
}

// KafkaSamplesHandler decodes one inbound sample topic and forwards samples to the pipeline.
type KafkaSamplesHandler struct {
	topic   string
	stream  models.Stream
	next    mid.Proc
	metrics domrepo.Metrics
	lag     LatencyObserver
}

// NewKafkaSamplesHandler creates a handler. lag may be nil; when set, the delay between
// sample time and receipt is reported as data acquisition latency.
func NewKafkaSamplesHandler(topic string, stream models.Stream, next mid.Proc, metrics domrepo.Metrics, lag LatencyObserver) *KafkaSamplesHandler {
	return &KafkaSamplesHandler{topic: topic, stream: stream, next: next, metrics: metrics, lag: lag}
}

func (h *KafkaSamplesHandler) Topic() string { return h.topic }

// Handle decodes the message body as the handler's sample type. Malformed messages are
// counted and dropped without an error so they are not retried.
func (h *KafkaSamplesHandler) Handle(ctx context.Context, b []byte) error {
	env, err := DecodeSample(h.stream, b)
	if err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		h.metrics.RecordDropped(h.stream, "malformed")
		return nil
	}

	if ts, ok := sampleTime(env); ok && !ts.IsZero() {
		lag := time.Since(ts)
		h.metrics.RecordLatency("ingest_e2e_seconds", lag.Seconds())
		if h.lag != nil && lag >= 0 {
			h.lag.Record(ComponentDataAcquisition, float64(lag)/float64(time.Millisecond))
		}
	}

	start := time.Now()
	err = h.next.Process(ctx, env)
	h.metrics.RecordLatency("consumer_process_seconds", time.Since(start).Seconds())
	if err != nil {
		h.metrics.RecordError("consumer_process")
		if errors.Is(err, models.ErrInvalidSample) {
			return nil
		}
		// the pipeline has buffered the sample; only cancellation is worth a retry
		return ctx.Err()
	}
	return nil
}

// DecodeSample unmarshals a JSON body into the envelope of the given stream.
func DecodeSample(stream models.Stream, b []byte) (models.Envelope, error) {
	env := models.Envelope{Stream: stream}
	var target interface{}
	switch stream {
	case models.StreamTrades:
		env.Trade = &models.TradeEvent{}
		target = env.Trade
	case models.StreamLiquidity:
		env.Liquidity = &models.LiquiditySnapshot{}
		target = env.Liquidity
	case models.StreamPrices:
		env.Price = &models.PriceSample{}
		target = env.Price
	case models.StreamVolumes:
		env.Volume = &models.VolumeSample{}
		target = env.Volume
	case models.StreamOrderBook:
		env.Book = &models.OrderBookSnapshot{}
		target = env.Book
	case models.StreamLatency:
		env.Latency = &models.LatencyReport{}
		target = env.Latency
	default:
		return models.Envelope{}, fmt.Errorf("%w: unknown stream %q", models.ErrInvalidSample, stream)
	}
	if err := json.Unmarshal(b, target); err != nil {
		return models.Envelope{}, fmt.Errorf("%w: %v", models.ErrInvalidSample, err)
	}
	return env, nil
}

var _ pkgkafka.MessageHandler = (*KafkaSamplesHandler)(nil)
