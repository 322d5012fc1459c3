package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"SignalGate/internal/domain/models"
	domrepo "SignalGate/internal/domain/repository"
	"SignalGate/internal/service/ratelimit"

	"github.com/go-playground/validator/v10"
)

// Proc is the minimal processor interface the pipeline needs.
type Proc interface {
	Process(ctx context.Context, env models.Envelope) error
}

// RealtimePipeline sits between the sample sources and the engine.
// It validates, throttles per symbol and stream, and buffers when downstream is unavailable.
type RealtimePipeline struct {
	proc     Proc
	metrics  domrepo.Metrics
	validate *validator.Validate
	limiter  *ratelimit.Limiter
	maxRPS   float64
	burst    int
	bufSize  int
	bufCh    chan models.Envelope
	exempt   map[models.Stream]bool
	stopCh   chan struct{}
	started  bool
	mu       sync.Mutex
	// format transform hook (optional)
	transform func(models.Envelope) models.Envelope
}

type PipelineOption func(*RealtimePipeline)

// WithMaxRPS sets the sustained samples per second per symbol and stream, and the burst.
func WithMaxRPS(rps float64, burst int) PipelineOption {
	return func(p *RealtimePipeline) {
		p.maxRPS = rps
		if burst > 0 {
			p.burst = burst
		}
	}
}

// WithBufferSize sets the temporary buffer size when downstream is unavailable.
func WithBufferSize(n int) PipelineOption {
	return func(p *RealtimePipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithUnthrottled exempts streams from the per-symbol rate limit.
func WithUnthrottled(streams ...models.Stream) PipelineOption {
	return func(p *RealtimePipeline) {
		for _, s := range streams {
			p.exempt[s] = true
		}
	}
}

// WithTransform sets a transformation hook applied before validation.
func WithTransform(fn func(models.Envelope) models.Envelope) PipelineOption {
	return func(p *RealtimePipeline) { p.transform = fn }
}

// NewRealtimePipeline creates a new pipeline.
func NewRealtimePipeline(proc Proc, metrics domrepo.Metrics, opts ...PipelineOption) *RealtimePipeline {
	p := &RealtimePipeline{
		proc:     proc,
		metrics:  metrics,
		validate: validator.New(),
		maxRPS:   200,
		burst:    400,
		bufSize:  1000,
		stopCh:   make(chan struct{}),
		exempt:   make(map[models.Stream]bool),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan models.Envelope, p.bufSize)
	p.limiter = ratelimit.New(p.maxRPS, p.burst)
	return p
}

// Start launches background flushing of buffered samples.
func (p *RealtimePipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go func() {
		backoff := 50 * time.Millisecond
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case env := <-p.bufCh:
				if err := p.proc.Process(ctx, env); err != nil {
					// exponential backoff with cap
					if backoff < 2*time.Second {
						backoff *= 2
					}
					p.metrics.RecordError("pipeline_flush")
					time.Sleep(backoff)
					// requeue if space; drop otherwise
					select {
					case p.bufCh <- env:
					default:
						p.metrics.RecordDropped(env.Stream, "buffer_full")
					}
				} else {
					backoff = 50 * time.Millisecond
				}
			}
		}
	}()
}

// Stop stops the background flushing.
func (p *RealtimePipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()
	close(p.stopCh)
}

// Buffered returns the number of samples waiting for downstream.
func (p *RealtimePipeline) Buffered() int { return len(p.bufCh) }

// Process validates, throttles, and forwards a sample downstream, buffering on errors.
// Invalid samples are rejected with an error wrapping models.ErrInvalidSample.
func (p *RealtimePipeline) Process(ctx context.Context, env models.Envelope) error {
	start := time.Now()
	if p.transform != nil {
		env = p.transform(env)
	}
	if err := p.check(env); err != nil {
		p.metrics.RecordDropped(env.Stream, "invalid")
		return err
	}
	if !p.exempt[env.Stream] && !p.limiter.AllowAt(string(env.Stream)+":"+env.Key(), start) {
		p.metrics.RecordDropped(env.Stream, "throttled")
		return nil
	}

	if err := p.proc.Process(ctx, env); err != nil {
		p.metrics.RecordError("pipeline_process")
		// buffer non-blocking
		select {
		case p.bufCh <- env:
			p.metrics.RecordLatency("pipeline_buffer_depth", float64(len(p.bufCh)))
		default:
			p.metrics.RecordDropped(env.Stream, "buffer_full")
		}
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
	return nil
}

func (p *RealtimePipeline) check(env models.Envelope) error {
	if err := env.Check(); err != nil {
		return err
	}
	if err := p.validate.Struct(env.Sample()); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidSample, err)
	}
	if env.Book != nil {
		return env.Book.CheckOrdering()
	}
	return nil
}
