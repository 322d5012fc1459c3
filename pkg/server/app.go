package server

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	mid "SignalGate/internal/middleware"
	"SignalGate/internal/usecase"
	"SignalGate/pkg/config"
	xhttp "SignalGate/pkg/http"
	pkgkafka "SignalGate/pkg/kafka"
	applogger "SignalGate/pkg/logger"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	engine     *usecase.Engine
	pipeline   *mid.RealtimePipeline
	recorder   *usecase.SignalRecorder
	httpServer *xhttp.Server
	collector  *usecase.SampleCollector
	consumer   *pkgkafka.Consumer
	handlers   []pkgkafka.MessageHandler
	closers    []namedCloser
}

type namedCloser struct {
	name string
	c    io.Closer
}

// Option attaches optional components to the App.
type Option func(*App)

// WithCollector runs a live feed collector.
func WithCollector(c *usecase.SampleCollector) Option {
	return func(a *App) { a.collector = c }
}

// WithConsumer runs a Kafka consumer with the given topic handlers.
func WithConsumer(c *pkgkafka.Consumer, handlers ...pkgkafka.MessageHandler) Option {
	return func(a *App) {
		a.consumer = c
		a.handlers = handlers
	}
}

// WithCloser closes c on shutdown, after every producer of work has stopped.
// Closers run in registration order.
func WithCloser(name string, c io.Closer) Option {
	return func(a *App) {
		if c != nil {
			a.closers = append(a.closers, namedCloser{name: name, c: c})
		}
	}
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	engine *usecase.Engine,
	pipeline *mid.RealtimePipeline,
	recorder *usecase.SignalRecorder,
	httpServer *xhttp.Server,
	opts ...Option,
) *App {
	if log == nil {
		log = applogger.Nop()
	}
	a := &App{
		cfg:        cfg,
		log:        log,
		engine:     engine,
		pipeline:   pipeline,
		recorder:   recorder,
		httpServer: httpServer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Run starts the application and blocks until ctx is done or an interrupt arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.engine.Start(runCtx)
	a.pipeline.Start(runCtx)
	recorderDone := make(chan struct{})
	go func() {
		defer close(recorderDone)
		a.recorder.Run(runCtx)
	}()

	if a.collector != nil {
		if err := a.collector.Start(runCtx); err != nil {
			a.log.Error("collector start error", applogger.Error(err))
			cancel()
			<-recorderDone
			return err
		}
		a.log.Info("collector started", applogger.Strings("symbols", a.cfg.Feed.Symbols))
	}

	if a.consumer != nil && len(a.handlers) > 0 {
		topics := make([]string, 0, len(a.handlers))
		for _, h := range a.handlers {
			a.consumer.RegisterHandler(h)
			topics = append(topics, h.Topic())
		}
		if err := a.consumer.Start(); err != nil {
			a.log.Error("kafka consumer start error", applogger.Error(err))
			cancel()
			<-recorderDone
			return err
		}
		a.log.Info("kafka consumer started", applogger.Strings("topics", topics))
	}

	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		cancel()
		<-recorderDone
		return err
	}

	<-ctx.Done()
	a.log.Info("shutdown signal received")
	return a.shutdown(cancel, recorderDone)
}

// shutdown stops the producers of work first, then the engine, then the sinks.
func (a *App) shutdown(cancel context.CancelFunc, recorderDone <-chan struct{}) error {
	ctx, done := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer done()

	a.log.Info("shutting down...")

	if a.collector != nil {
		if err := a.collector.Shutdown(ctx); err != nil {
			a.log.Warn("collector stop error", applogger.Error(err))
		}
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}
	if err := a.httpServer.Stop(ctx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}

	a.pipeline.Stop()
	a.engine.Stop()

	// The recorder flushes once more when its context ends.
	cancel()
	select {
	case <-recorderDone:
	case <-ctx.Done():
		a.log.Warn("recorder did not finish before the shutdown timeout")
	}
	a.recorder.Close()

	for _, nc := range a.closers {
		if err := nc.c.Close(); err != nil {
			a.log.Warn("close error", applogger.String("component", nc.name), applogger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
	return nil
}

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg != nil && a.cfg.Server.ShutdownTimeout > 0 {
		return a.cfg.Server.ShutdownTimeout
	}
	return 15 * time.Second
}
