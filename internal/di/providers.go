package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"SignalGate/internal/domain/models"
	"SignalGate/internal/domain/repository"
	"SignalGate/internal/handler/api"
	mid "SignalGate/internal/middleware"
	internalrepo "SignalGate/internal/repository"
	"SignalGate/internal/service/marketfeed"
	"SignalGate/internal/service/ratelimit"
	"SignalGate/internal/services/aggregator"
	"SignalGate/internal/services/detectors"
	"SignalGate/internal/services/risk"
	"SignalGate/internal/usecase"
	"SignalGate/pkg/breaker"
	"SignalGate/pkg/cache"
	pkgch "SignalGate/pkg/clickhouse"
	"SignalGate/pkg/config"
	xhttp "SignalGate/pkg/http"
	pkgkafka "SignalGate/pkg/kafka"
	"SignalGate/pkg/logger"
	"SignalGate/pkg/metrics"
	"SignalGate/pkg/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/segmentio/kafka-go"
)

// cleanupInterval is how often expired aggregator state and cooldowns are dropped.
const cleanupInterval = time.Minute

// ProvideLogger creates the application logger with its error log collector attached, so
// every component logger derived from it feeds the collector. Collected batches go to Kafka
// when a producer exists.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	cc := &logger.CollectionConfig{TimeInterval: 30 * time.Second}
	if producer != nil {
		cc.Publisher = producer
		cc.Topic = cfg.Kafka.Topics.Logs
	}
	l.AddCollector(cc)
	return l.With(logger.String("env", cfg.Environment)), nil
}

// ProvideRegistry creates the registry every component registers its metrics with.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(reg *prometheus.Registry) repository.Metrics {
	return metrics.New(reg)
}

// ProvideClickHouseClient creates a ClickHouse client, or nil when ClickHouse is disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(context.Background(),
		pkgch.WithAddr(cfg.ClickHouse.Host, cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideSignalStore creates the ClickHouse signal store behind a circuit breaker and
// initialises its schema. It returns nil without a client.
func ProvideSignalStore(client *pkgch.Client, cfg *config.Config, l *logger.Logger) (repository.SignalStore, error) {
	if client == nil {
		return nil, nil
	}
	store := internalrepo.NewClickHouseSignalStore(client)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return internalrepo.NewBreakerStore(store, breaker.New("clickhouse", breakerSettings(cfg), l)), nil
}

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config, reg *prometheus.Registry) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatch(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
		pkgkafka.WithProducerRegisterer(reg),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideDecisionPublisher creates the Kafka publisher behind a circuit breaker, or nil
// without a producer.
func ProvideDecisionPublisher(producer *pkgkafka.Producer, cfg *config.Config, l *logger.Logger) repository.DecisionPublisher {
	if producer == nil {
		return nil
	}
	pub := internalrepo.NewKafkaDecisionPublisher(producer, cfg.Kafka.Topics.Signals, cfg.Kafka.Topics.Decisions)
	return internalrepo.NewBreakerPublisher(pub, breaker.New("kafka", breakerSettings(cfg), l))
}

func breakerSettings(cfg *config.Config) breaker.Settings {
	b := cfg.Sink.Breaker
	return breaker.Settings{
		MaxRequests:         b.MaxRequests,
		Interval:            b.Interval,
		Timeout:             b.Timeout,
		ConsecutiveFailures: b.ConsecutiveFailures,
	}
}

// ProvideCache creates the shared Redis cache, or a process-local cache when Redis is disabled.
func ProvideCache(cfg *config.Config) (cache.Service, error) {
	if !cfg.Redis.Enabled {
		return cache.NewMemoryCache(cache.WithMemoryMaxSize(10000), cache.WithMemoryCleanup(time.Minute)), nil
	}
	c, err := cache.NewRedisCache(context.Background(),
		cache.WithRedisAddr(cfg.Redis.Host, cfg.Redis.Port),
		cache.WithRedisAuth(cfg.Redis.Password, cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, 2, 0),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return c, nil
}

// ProvideCooldownLedger shares cooldowns and emission claims through the cache.
func ProvideCooldownLedger(c cache.Service) *internalrepo.CacheCooldownLedger {
	return internalrepo.NewCacheCooldownLedger(c, time.Now)
}

func ProvideCooldownManager(cfg *config.Config, l *logger.Logger) *risk.CooldownManager {
	return risk.NewCooldownManager(cfg.Cooldown, l.With(logger.String("component", "cooldown")))
}

func ProvideRegimeFilter(cfg *config.Config, l *logger.Logger) *risk.RegimeFilter {
	return risk.NewRegimeFilter(cfg.Regime, l.With(logger.String("component", "regime")))
}

// ProvideLatencyManager manages the detector, aggregator and signal-age thresholds.
func ProvideLatencyManager(cfg *config.Config, l *logger.Logger) *risk.LatencyManager {
	lc := cfg.Latency
	lc.BaseThresholds = cfg.ManagedThresholds()
	return risk.NewLatencyManager(lc, l.With(logger.String("component", "latency")))
}

func ProvideSlippageAnalyzer(cfg *config.Config, l *logger.Logger) *risk.SlippageAnalyzer {
	return risk.NewSlippageAnalyzer(cfg.Slippage, l.With(logger.String("component", "slippage")))
}

// ProvideDetectors builds the enabled detectors from the static registry.
func ProvideDetectors(cfg *config.Config, latency *risk.LatencyManager) (*detectors.Set, error) {
	return detectors.Build(cfg.Detectors, detectors.WithAdjuster(latency))
}

func ProvideAggregator(cfg *config.Config, latency *risk.LatencyManager, l *logger.Logger) *aggregator.Aggregator {
	return aggregator.New(cfg.Aggregator, l.With(logger.String("component", "aggregator")),
		aggregator.WithAdjuster(latency))
}

// ProvideDecisionGate wires the risk modules and the shared cooldown ledger into the gate.
func ProvideDecisionGate(
	cfg *config.Config,
	cooldowns *risk.CooldownManager,
	regime *risk.RegimeFilter,
	latency *risk.LatencyManager,
	slippage *risk.SlippageAnalyzer,
	ledger *internalrepo.CacheCooldownLedger,
	m repository.Metrics,
	l *logger.Logger,
) *usecase.DecisionGate {
	return usecase.NewDecisionGate(cfg.Gate, cooldowns, regime, latency, slippage,
		l.With(logger.String("component", "gate")),
		usecase.WithCooldownMirror(ledger),
		usecase.WithEmissionLock(ledger),
		usecase.WithGateMetrics(m),
	)
}

func ProvideSignalRecorder(
	pub repository.DecisionPublisher,
	store repository.SignalStore,
	m repository.Metrics,
	l *logger.Logger,
	cfg *config.Config,
) *usecase.SignalRecorder {
	return usecase.NewSignalRecorder(pub, store, m, l.With(logger.String("component", "recorder")),
		cfg.Sink.BatchSize, cfg.Sink.BatchTimeout)
}

func ProvideEngine(
	cfg *config.Config,
	set *detectors.Set,
	agg *aggregator.Aggregator,
	gate *usecase.DecisionGate,
	regime *risk.RegimeFilter,
	latency *risk.LatencyManager,
	cooldowns *risk.CooldownManager,
	recorder *usecase.SignalRecorder,
	m repository.Metrics,
	l *logger.Logger,
) *usecase.Engine {
	return usecase.NewEngine(set, agg, gate, regime, latency, recorder,
		l.With(logger.String("component", "engine")),
		usecase.WithQueueSize(cfg.Pipeline.WorkerQueue),
		usecase.WithEngineMetrics(m),
		usecase.WithCleanup(cleanupInterval, cooldowns),
	)
}

// ProvidePipeline puts validation and per-symbol throttling in front of the engine.
func ProvidePipeline(engine *usecase.Engine, m repository.Metrics, cfg *config.Config) *mid.RealtimePipeline {
	exempt := make([]models.Stream, 0, len(cfg.Pipeline.Unthrottled))
	for _, s := range cfg.Pipeline.Unthrottled {
		exempt = append(exempt, models.Stream(s))
	}
	return mid.NewRealtimePipeline(engine, m,
		mid.WithMaxRPS(cfg.Pipeline.MaxRPS, cfg.Pipeline.Burst),
		mid.WithBufferSize(cfg.Pipeline.BufferSize),
		mid.WithUnthrottled(exempt...),
	)
}

// ProvideSampleHandlers creates one handler per inbound sample topic.
func ProvideSampleHandlers(
	cfg *config.Config,
	pipe *mid.RealtimePipeline,
	m repository.Metrics,
	latency *risk.LatencyManager,
) []pkgkafka.MessageHandler {
	t := cfg.Kafka.Topics
	topics := []struct {
		topic  string
		stream models.Stream
	}{
		{t.Trades, models.StreamTrades},
		{t.Liquidity, models.StreamLiquidity},
		{t.Prices, models.StreamPrices},
		{t.Volumes, models.StreamVolumes},
		{t.OrderBooks, models.StreamOrderBook},
		{t.Latency, models.StreamLatency},
	}
	out := make([]pkgkafka.MessageHandler, 0, len(topics))
	for _, tp := range topics {
		if tp.topic == "" {
			continue
		}
		out = append(out, usecase.NewKafkaSamplesHandler(tp.topic, tp.stream, pipe, m, latency))
	}
	return out
}

// ProvideKafkaConsumer creates the sample consumer, or nil when Kafka is disabled.
func ProvideKafkaConsumer(cfg *config.Config, reg *prometheus.Registry, l *logger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	cl := l.With(logger.String("component", "kafka_consumer"))
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(cl),
		pkgkafka.WithConsumerRegisterer(reg),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.NewHookChain(
		pkgkafka.TraceHook{},
		pkgkafka.HookFuncs{Err: func(ctx context.Context, topic string, km kafka.Message, _ []byte, err error) {
			cl.Warn("sample handling failed",
				logger.String("topic", topic),
				logger.String("key", string(km.Key)),
				logger.Int64("offset", km.Offset),
				logger.String("trace_id", pkgkafka.TraceID(ctx)),
				logger.Error(err))
		}},
	))
	return consumer, nil
}

// ProvideSampleCollector creates the websocket collector, or nil when the feed is disabled.
func ProvideSampleCollector(cfg *config.Config, pipe *mid.RealtimePipeline, m repository.Metrics, l *logger.Logger) *usecase.SampleCollector {
	if !cfg.Feed.Enabled {
		return nil
	}
	fl := l.With(logger.String("component", "feed"))
	feed := marketfeed.New(cfg.Feed.URL, cfg.Feed.Symbols, cfg.Feed.ReconnectDelay, cfg.Feed.PingInterval, fl)
	return usecase.NewSampleCollector(feed, pipe, m, fl)
}

var errFeedDisconnected = errors.New("feed disconnected")

// ProvideStatusHandler exposes the pipeline state over HTTP.
func ProvideStatusHandler(
	cfg *config.Config,
	l *logger.Logger,
	regime *risk.RegimeFilter,
	latency *risk.LatencyManager,
	cooldowns *risk.CooldownManager,
	slippage *risk.SlippageAnalyzer,
	agg *aggregator.Aggregator,
	set *detectors.Set,
	recorder *usecase.SignalRecorder,
	engine *usecase.Engine,
	ledger *internalrepo.CacheCooldownLedger,
	c cache.Service,
	store repository.SignalStore,
	collector *usecase.SampleCollector,
) *api.StatusHandler {
	checks := map[string]api.HealthCheck{"cache": c.Ping}
	if store != nil {
		checks["clickhouse"] = store.Health
	}
	if collector != nil {
		checks["feed"] = func(context.Context) error {
			if !collector.IsConnected() {
				return errFeedDisconnected
			}
			return nil
		}
	}
	return api.NewStatusHandler(l.With(logger.String("component", "api")), api.Deps{
		Regime:     regime,
		Latency:    latency,
		Cooldowns:  cooldowns,
		Slippage:   slippage,
		Aggregator: agg,
		Detectors:  set,
		Recorder:   recorder,
		Engine:     engine,
		Mirror:     ledger,
		Checks:     checks,
		Limiter:    ratelimit.New(cfg.Server.APIRPS, cfg.Server.APIBurst),
	})
}

func ProvideHTTPServer(cfg *config.Config, reg *prometheus.Registry, l *logger.Logger, h *api.StatusHandler) *xhttp.Server {
	return xhttp.NewServer([]xhttp.ServerOption{
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithCORS(cfg.Server.CORS == nil || *cfg.Server.CORS),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithSlowRequest(cfg.Server.SlowRequest),
		xhttp.WithMetrics(reg, reg),
		xhttp.WithLogger(l.With(logger.String("component", "http"))),
	}, h)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *logger.Logger,
	engine *usecase.Engine,
	pipe *mid.RealtimePipeline,
	recorder *usecase.SignalRecorder,
	httpServer *xhttp.Server,
	collector *usecase.SampleCollector,
	consumer *pkgkafka.Consumer,
	handlers []pkgkafka.MessageHandler,
	c cache.Service,
) *server.App {
	opts := []server.Option{server.WithCloser("cache", c)}
	if collector != nil {
		opts = append(opts, server.WithCollector(collector))
	}
	if consumer != nil {
		opts = append(opts, server.WithConsumer(consumer, handlers...))
	}
	return server.New(cfg, l, engine, pipe, recorder, httpServer, opts...)
}
