package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"SignalGate/internal/domain/models"
	drepo "SignalGate/internal/domain/repository"
	"SignalGate/pkg/logger"
	"SignalGate/pkg/metrics"
)

// recentDecisionCap bounds the in-memory decision history.
const recentDecisionCap = 500

// SignalRecorder publishes combined signals and decisions as they happen and writes them to the
// signal store in batches. Either backend may be nil.
type SignalRecorder struct {
	pub     drepo.DecisionPublisher
	store   drepo.SignalStore
	metrics drepo.Metrics
	log     *logger.Logger
	batchSz int
	batchTO time.Duration

	mu        sync.Mutex
	signals   []*models.CombinedSignal
	decisions []*models.Decision
	recent    []models.Decision
}

// NewSignalRecorder creates a new SignalRecorder instance.
func NewSignalRecorder(
	pub drepo.DecisionPublisher,
	store drepo.SignalStore,
	m drepo.Metrics,
	log *logger.Logger,
	batchSz int,
	batchTO time.Duration,
) *SignalRecorder {
	if log == nil {
		log = logger.Nop()
	}
	if m == nil {
		m = metrics.Nop{}
	}
	if batchSz <= 0 {
		batchSz = 100
	}
	return &SignalRecorder{
		pub:     pub,
		store:   store,
		metrics: m,
		log:     log,
		batchSz: batchSz,
		batchTO: batchTO,
	}
}

// RecordSignal publishes a combined signal and queues it for storage.
func (r *SignalRecorder) RecordSignal(ctx context.Context, s *models.CombinedSignal) error {
	if s == nil {
		return fmt.Errorf("combined signal is nil")
	}
	var err error
	if r.pub != nil {
		start := time.Now()
		if err = r.pub.PublishSignal(ctx, s); err != nil {
			r.metrics.RecordError("publish_signal")
			err = fmt.Errorf("publish signal: %w", err)
		} else {
			r.metrics.RecordMessageSent("kafka", s.Symbol)
			r.metrics.RecordLatency("publish_signal", time.Since(start).Seconds())
		}
	}

	if r.store == nil {
		return err
	}
	r.mu.Lock()
	r.signals = append(r.signals, s)
	full := len(r.signals) >= r.batchSz
	r.mu.Unlock()
	if full {
		if ferr := r.Flush(ctx); ferr != nil && err == nil {
			err = ferr
		}
	}
	return err
}

// RecordDecision publishes a decision, keeps it in the recent history and queues it for storage.
func (r *SignalRecorder) RecordDecision(ctx context.Context, d *models.Decision) error {
	if d == nil {
		return fmt.Errorf("decision is nil")
	}
	var err error
	if r.pub != nil {
		start := time.Now()
		if err = r.pub.PublishDecision(ctx, d); err != nil {
			r.metrics.RecordError("publish_decision")
			err = fmt.Errorf("publish decision: %w", err)
		} else {
			r.metrics.RecordMessageSent("kafka", d.Symbol)
			r.metrics.RecordLatency("publish_decision", time.Since(start).Seconds())
		}
	}

	r.mu.Lock()
	r.recent = append(r.recent, *d)
	if len(r.recent) > recentDecisionCap {
		r.recent = r.recent[len(r.recent)-recentDecisionCap:]
	}
	full := false
	if r.store != nil {
		r.decisions = append(r.decisions, d)
		full = len(r.decisions) >= r.batchSz
	}
	r.mu.Unlock()
	if full {
		if ferr := r.Flush(ctx); ferr != nil && err == nil {
			err = ferr
		}
	}
	return err
}

// Flush writes the queued signals and decisions to the store.
func (r *SignalRecorder) Flush(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	r.mu.Lock()
	signals, decisions := r.signals, r.decisions
	r.signals, r.decisions = nil, nil
	r.mu.Unlock()

	if len(signals) == 0 && len(decisions) == 0 {
		return nil
	}
	start := time.Now()
	if len(signals) > 0 {
		if err := r.store.StoreSignals(ctx, signals); err != nil {
			r.metrics.RecordError("store_signals")
			return fmt.Errorf("store signals batch: %w", err)
		}
		for _, s := range signals {
			r.metrics.RecordMessageSent("clickhouse", s.Symbol)
		}
	}
	if len(decisions) > 0 {
		if err := r.store.StoreDecisions(ctx, decisions); err != nil {
			r.metrics.RecordError("store_decisions")
			return fmt.Errorf("store decisions batch: %w", err)
		}
		for _, d := range decisions {
			r.metrics.RecordMessageSent("clickhouse", d.Symbol)
		}
	}
	r.metrics.RecordLatency("store_batch", time.Since(start).Seconds())
	return nil
}

// Run flushes on every batch timeout until ctx is done, then flushes once more.
func (r *SignalRecorder) Run(ctx context.Context) {
	if r.store == nil || r.batchTO <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(r.batchTO)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := r.Flush(flushCtx); err != nil {
				r.log.Error("final flush", logger.Error(err))
			}
			cancel()
			return
		case <-ticker.C:
			if err := r.Flush(ctx); err != nil {
				r.log.Warn("periodic flush", logger.Error(err))
			}
		}
	}
}

// RecentDecisions returns up to limit decisions, newest first. An empty symbol matches all.
// The store is consulted when configured; the in-memory history answers otherwise.
func (r *SignalRecorder) RecentDecisions(ctx context.Context, symbol string, since time.Duration, limit int) ([]models.Decision, error) {
	if r.store != nil {
		to := time.Now()
		rows, err := r.store.RecentDecisions(ctx, symbol, to.Add(-since), to, limit)
		if err == nil {
			out := make([]models.Decision, 0, len(rows))
			for _, d := range rows {
				out = append(out, *d)
			}
			return out, nil
		}
		r.log.Warn("query recent decisions, falling back to memory", logger.Error(err))
	}

	var cutoff time.Time
	if since > 0 {
		cutoff = time.Now().Add(-since)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Decision
	for i := len(r.recent) - 1; i >= 0; i-- {
		d := r.recent[i]
		if symbol != "" && d.Symbol != symbol {
			continue
		}
		if d.Timestamp.Before(cutoff) {
			break
		}
		out = append(out, d)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Close flushes pending rows and closes the backends.
func (r *SignalRecorder) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Flush(ctx); err != nil {
		r.log.Error("flush on close", logger.Error(err))
	}
	if r.pub != nil {
		_ = r.pub.Close()
	}
	if r.store != nil {
		_ = r.store.Close()
	}
}
