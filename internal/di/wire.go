//go:build wireinject
// +build wireinject

package di

import (
	"SignalGate/pkg/config"
	"SignalGate/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Observability
		ProvideRegistry,
		ProvideMetrics,
		ProvideLogger,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,
		ProvideCache,

		// Repositories
		ProvideSignalStore,
		ProvideDecisionPublisher,
		ProvideCooldownLedger,

		// Signal and risk services
		ProvideDetectors,
		ProvideAggregator,
		ProvideCooldownManager,
		ProvideRegimeFilter,
		ProvideLatencyManager,
		ProvideSlippageAnalyzer,

		// Use cases
		ProvideDecisionGate,
		ProvideSignalRecorder,
		ProvideEngine,
		ProvidePipeline,
		ProvideSampleHandlers,
		ProvideSampleCollector,

		// HTTP
		ProvideStatusHandler,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
