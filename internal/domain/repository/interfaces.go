package repository

import (
	"context"
	"time"

	"SignalGate/internal/domain/models"
)

// SampleFeed is a live market stream that yields typed samples.
type SampleFeed interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan models.Envelope, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// DecisionPublisher forwards combined signals and decisions downstream.
type DecisionPublisher interface {
	PublishSignal(ctx context.Context, s *models.CombinedSignal) error
	PublishDecision(ctx context.Context, d *models.Decision) error
	Close() error
}

// SignalStore persists combined signals and decisions for later analysis.
type SignalStore interface {
	Init(ctx context.Context) error
	StoreSignals(ctx context.Context, signals []*models.CombinedSignal) error
	StoreDecisions(ctx context.Context, decisions []*models.Decision) error
	RecentDecisions(ctx context.Context, symbol string, from, to time.Time, limit int) ([]*models.Decision, error)
	Health(ctx context.Context) error
	Close() error
}

// EmissionLock claims the right to emit a decision for a symbol across replicas.
type EmissionLock interface {
	Claim(ctx context.Context, symbol string, ttl time.Duration) (bool, error)
}

// CooldownMirror shares cooldown state with other replicas.
type CooldownMirror interface {
	Save(ctx context.Context, e models.CooldownEntry) error
	Load(ctx context.Context, symbol string) (models.CooldownEntry, bool, error)
	Delete(ctx context.Context, symbol string) error
}

// ThresholdAdjuster loosens a named sensitivity threshold while latency is degraded.
// Names it does not manage return base unchanged.
type ThresholdAdjuster interface {
	Adjusted(name string, base float64) float64
}

type Metrics interface {
	RecordSample(stream models.Stream, symbol string)
	RecordDropped(stream models.Stream, reason string)
	RecordRawSignal(algorithm string, event models.Direction)
	RecordCombined(direction models.Direction)
	RecordDecision(execute bool, gate models.Gate)
	RecordRegime(regime models.Regime)
	RecordLatencyFactor(factor float64)
	RecordSlippage(symbol string, slippage float64)
	RecordMessageSent(backend, symbol string)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
