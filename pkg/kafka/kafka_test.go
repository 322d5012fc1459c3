package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *memWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *memWriter) Close() error { return nil }

func TestProducerEncodesAndKeys(t *testing.T) {
	w := &memWriter{}
	p := NewProducerWithWriter(w, "gzip", prometheus.NewRegistry())

	require.NoError(t, p.Publish(context.Background(), "signals.decisions", []byte("SOL"), map[string]any{"execute": true}))
	require.NoError(t, p.PublishBatch(context.Background(), "signals.combined", []Message{
		{Key: []byte("ETH"), Value: "raw"},
		{Key: []byte("BTC"), Value: []byte(`{"a":1}`)},
	}))
	require.Len(t, w.msgs, 3)

	assert.Equal(t, "signals.decisions", w.msgs[0].Topic)
	assert.Equal(t, []byte("SOL"), w.msgs[0].Key)
	var body map[string]bool
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &body))
	assert.True(t, body["execute"])
	assert.Equal(t, "raw", string(w.msgs[1].Value))

	w.err = errors.New("broker down")
	assert.Error(t, p.Publish(context.Background(), "t", nil, "x"))
	assert.NoError(t, p.PublishBatch(context.Background(), "t", nil))
}

func TestPublishMessageIsUnkeyed(t *testing.T) {
	w := &memWriter{}
	p := NewProducerWithWriter(w, "none", prometheus.NewRegistry())

	require.NoError(t, p.PublishMessage(context.Background(), "ops.logs", []map[string]int{{"count": 3}}))
	require.Len(t, w.msgs, 1)
	assert.Nil(t, w.msgs[0].Key)
	assert.JSONEq(t, `[{"count":3}]`, string(w.msgs[0].Value))
}

func TestNewProducerRequiresBrokers(t *testing.T) {
	_, err := NewProducer(WithProducerRegisterer(prometheus.NewRegistry()))
	assert.Error(t, err)
}

func TestWorkerForIsStable(t *testing.T) {
	a := WorkerFor([]byte("SOL"), 8)
	for i := 0; i < 10; i++ {
		assert.Equal(t, a, WorkerFor([]byte("SOL"), 8))
	}
	assert.Less(t, a, 8)
	assert.Equal(t, 0, WorkerFor([]byte("SOL"), 1))
}

func TestBackoffWithJitterBounds(t *testing.T) {
	for attempt := 1; attempt < 10; attempt++ {
		d := backoffWithJitter(50*time.Millisecond, 2*time.Second, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 2*time.Second)
	}
}

func TestHookChain(t *testing.T) {
	var order []string
	first := HookFuncs{
		Before: func(ctx context.Context, _ string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
			order = append(order, "before1")
			return ctx, km, append(data, '!'), nil
		},
		After: func(context.Context, string, kafka.Message, []byte, error) { order = append(order, "after1") },
	}
	second := HookFuncs{
		After: func(context.Context, string, kafka.Message, []byte, error) { order = append(order, "after2") },
	}
	chain := NewHookChain(TraceHook{}, first, nil, second)

	km := kafka.Message{Headers: []kafka.Header{{Key: "trace_id", Value: []byte("abc")}}}
	ctx, _, data, err := chain.BeforeHandle(context.Background(), "t", km, []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, "hi!", string(data))
	assert.Equal(t, "abc", TraceID(ctx))

	chain.AfterHandle(ctx, "t", km, data, nil)
	assert.Equal(t, []string{"before1", "after2", "after1"}, order)

	panicky := HookFuncs{Before: func(context.Context, string, kafka.Message, []byte) (context.Context, kafka.Message, []byte, error) {
		panic("boom")
	}}
	_, _, _, err = NewHookChain(panicky).BeforeHandle(context.Background(), "t", km, nil)
	var he *HookError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, "ERR_PANIC", he.Code)
}
