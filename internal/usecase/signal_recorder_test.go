package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"SignalGate/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memPublisher struct {
	mu        sync.Mutex
	signals   int
	decisions int
	err       error
	closed    bool
}

func (p *memPublisher) PublishSignal(context.Context, *models.CombinedSignal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.signals++
	return nil
}

func (p *memPublisher) PublishDecision(context.Context, *models.Decision) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.decisions++
	return nil
}

func (p *memPublisher) Close() error {
	p.closed = true
	return nil
}

type memStore struct {
	mu        sync.Mutex
	batches   int
	signals   []*models.CombinedSignal
	decisions []*models.Decision
	queryErr  error
	closed    bool
}

func (s *memStore) Init(context.Context) error { return nil }

func (s *memStore) StoreSignals(_ context.Context, sigs []*models.CombinedSignal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches++
	s.signals = append(s.signals, sigs...)
	return nil
}

func (s *memStore) StoreDecisions(_ context.Context, decs []*models.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches++
	s.decisions = append(s.decisions, decs...)
	return nil
}

func (s *memStore) RecentDecisions(_ context.Context, symbol string, _, _ time.Time, limit int) ([]*models.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	var out []*models.Decision
	for i := len(s.decisions) - 1; i >= 0 && len(out) < limit; i-- {
		if symbol == "" || s.decisions[i].Symbol == symbol {
			out = append(out, s.decisions[i])
		}
	}
	return out, nil
}

func (s *memStore) Health(context.Context) error { return nil }

func (s *memStore) Close() error {
	s.closed = true
	return nil
}

func TestRecorderBatchesIntoStore(t *testing.T) {
	pub := &memPublisher{}
	store := &memStore{}
	r := NewSignalRecorder(pub, store, nil, nil, 2, time.Minute)
	ctx := context.Background()

	require.NoError(t, r.RecordSignal(ctx, &models.CombinedSignal{ID: "a", Symbol: "SOL"}))
	assert.Empty(t, store.signals, "below batch size")
	require.NoError(t, r.RecordSignal(ctx, &models.CombinedSignal{ID: "b", Symbol: "ETH"}))
	assert.Len(t, store.signals, 2)

	require.NoError(t, r.RecordDecision(ctx, &models.Decision{ID: "d1", Symbol: "SOL"}))
	require.NoError(t, r.Flush(ctx))
	assert.Len(t, store.decisions, 1)
	assert.Equal(t, 2, pub.signals)
	assert.Equal(t, 1, pub.decisions)

	r.Close()
	assert.True(t, pub.closed)
	assert.True(t, store.closed)
}

func TestRecorderPublishErrorStillQueues(t *testing.T) {
	pub := &memPublisher{err: errors.New("broker down")}
	store := &memStore{}
	r := NewSignalRecorder(pub, store, nil, nil, 10, time.Minute)

	err := r.RecordDecision(context.Background(), &models.Decision{ID: "d1", Symbol: "SOL"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish decision")

	require.NoError(t, r.Flush(context.Background()))
	assert.Len(t, store.decisions, 1)

	assert.Error(t, r.RecordSignal(context.Background(), nil))
}

func TestRecorderRecentDecisionsFromMemory(t *testing.T) {
	r := NewSignalRecorder(nil, nil, nil, nil, 10, 0)
	ctx := context.Background()
	now := time.Now()
	for i, sym := range []string{"SOL", "ETH", "SOL", "SOL"} {
		require.NoError(t, r.RecordDecision(ctx, &models.Decision{
			ID:        string(rune('a' + i)),
			Symbol:    sym,
			Timestamp: now.Add(time.Duration(i) * time.Second),
		}))
	}

	out, err := r.RecentDecisions(ctx, "SOL", time.Hour, 2)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "d", out[0].ID)
	assert.Equal(t, "c", out[1].ID)

	all, err := r.RecentDecisions(ctx, "", 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestRecorderRecentDecisionsPrefersStore(t *testing.T) {
	store := &memStore{}
	r := NewSignalRecorder(nil, store, nil, nil, 1, 0)
	ctx := context.Background()
	require.NoError(t, r.RecordDecision(ctx, &models.Decision{ID: "stored", Symbol: "SOL"}))

	out, err := r.RecentDecisions(ctx, "SOL", time.Hour, 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "stored", out[0].ID)

	store.queryErr = errors.New("clickhouse down")
	out, err = r.RecentDecisions(ctx, "SOL", time.Hour, 10)
	require.NoError(t, err)
	assert.Len(t, out, 1, "memory fallback")
}

func TestRecorderRunFlushesOnTick(t *testing.T) {
	store := &memStore{}
	r := NewSignalRecorder(nil, store, nil, nil, 100, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	require.NoError(t, r.RecordSignal(context.Background(), &models.CombinedSignal{ID: "a", Symbol: "SOL"}))
	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.signals) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
