package repository

import (
	"context"
	"time"

	"SignalGate/internal/domain/models"
	"SignalGate/internal/domain/repository"
	"SignalGate/pkg/breaker"
)

// BreakerPublisher guards a DecisionPublisher with a circuit breaker.
type BreakerPublisher struct {
	next repository.DecisionPublisher
	cb   *breaker.Breaker
}

// NewBreakerPublisher wraps next.
func NewBreakerPublisher(next repository.DecisionPublisher, cb *breaker.Breaker) *BreakerPublisher {
	return &BreakerPublisher{next: next, cb: cb}
}

func (p *BreakerPublisher) PublishSignal(ctx context.Context, s *models.CombinedSignal) error {
	return p.cb.Do(func() error { return p.next.PublishSignal(ctx, s) })
}

func (p *BreakerPublisher) PublishDecision(ctx context.Context, d *models.Decision) error {
	return p.cb.Do(func() error { return p.next.PublishDecision(ctx, d) })
}

func (p *BreakerPublisher) Close() error { return p.next.Close() }

// BreakerStore guards the write and query paths of a SignalStore with a circuit breaker.
type BreakerStore struct {
	next repository.SignalStore
	cb   *breaker.Breaker
}

// NewBreakerStore wraps next.
func NewBreakerStore(next repository.SignalStore, cb *breaker.Breaker) *BreakerStore {
	return &BreakerStore{next: next, cb: cb}
}

func (s *BreakerStore) Init(ctx context.Context) error { return s.next.Init(ctx) }

func (s *BreakerStore) StoreSignals(ctx context.Context, signals []*models.CombinedSignal) error {
	return s.cb.Do(func() error { return s.next.StoreSignals(ctx, signals) })
}

func (s *BreakerStore) StoreDecisions(ctx context.Context, decisions []*models.Decision) error {
	return s.cb.Do(func() error { return s.next.StoreDecisions(ctx, decisions) })
}

func (s *BreakerStore) RecentDecisions(ctx context.Context, symbol string, from, to time.Time, limit int) ([]*models.Decision, error) {
	var out []*models.Decision
	err := s.cb.Do(func() error {
		var err error
		out, err = s.next.RecentDecisions(ctx, symbol, from, to, limit)
		return err
	})
	return out, err
}

func (s *BreakerStore) Health(ctx context.Context) error { return s.next.Health(ctx) }

func (s *BreakerStore) Close() error { return s.next.Close() }

var (
	_ repository.DecisionPublisher = (*BreakerPublisher)(nil)
	_ repository.SignalStore       = (*BreakerStore)(nil)
)
