package usecase

import (
	"context"
	"errors"

	"SignalGate/internal/domain/models"
	drepo "SignalGate/internal/domain/repository"
	mid "SignalGate/internal/middleware"
	"SignalGate/pkg/logger"
)

var errFeedClosed = errors.New("feed closed")

// SampleCollector reads samples from a live feed and pushes them through the pipeline.
type SampleCollector struct {
	feed    drepo.SampleFeed
	pipe    *mid.RealtimePipeline
	metrics drepo.Metrics
	log     *logger.Logger
}

// NewSampleCollector creates a new SampleCollector instance.
func NewSampleCollector(feed drepo.SampleFeed, pipe *mid.RealtimePipeline, metrics drepo.Metrics, log *logger.Logger) *SampleCollector {
	if log == nil {
		log = logger.Nop()
	}
	return &SampleCollector{feed: feed, pipe: pipe, metrics: metrics, log: log}
}

// IsConnected returns true if the feed is connected.
func (c *SampleCollector) IsConnected() bool {
	return c.feed.IsConnected()
}

// Start connects, subscribes and consumes the feed until ctx is done. A read failure
// triggers a reconnect and a fresh read loop.
func (c *SampleCollector) Start(ctx context.Context) error {
	if err := c.feed.Connect(ctx); err != nil {
		return err
	}
	if err := c.feed.Subscribe(ctx); err != nil {
		return err
	}
	go c.run(ctx)
	return nil
}

func (c *SampleCollector) run(ctx context.Context) {
	for {
		envCh, errCh := c.feed.Read(ctx)
		err := c.consume(ctx, envCh, errCh)
		if ctx.Err() != nil {
			return
		}
		c.metrics.RecordError("stream")
		c.log.Warn("feed interrupted, reconnecting", logger.Error(err))
		for {
			rerr := c.feed.Reconnect(ctx)
			if rerr == nil {
				break
			}
			c.log.Error("feed reconnect failed", logger.Error(rerr))
			if ctx.Err() != nil {
				return
			}
		}
	}
}

// consume forwards samples until the feed reports an error or both channels close.
func (c *SampleCollector) consume(ctx context.Context, envCh <-chan models.Envelope, errCh <-chan error) error {
	for envCh != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return err
			}
		case env, ok := <-envCh:
			if !ok {
				envCh = nil
				continue
			}
			if err := c.pipe.Process(ctx, env); err != nil {
				c.log.Debug("sample not processed",
					logger.String("stream", string(env.Stream)),
					logger.String("key", env.Key()),
					logger.Error(err))
			}
		}
	}
	return errFeedClosed
}

// Shutdown closes the feed.
func (c *SampleCollector) Shutdown(ctx context.Context) error {
	return c.feed.Close()
}
