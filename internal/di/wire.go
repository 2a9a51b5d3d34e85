//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"CrashPilot/pkg/config"
	"CrashPilot/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,
		ProvideEventBus,

		// Infrastructure clients
		ProvideStorage,
		ProvideRedisClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,
		ProvideCache,

		// Persistence
		ProvideBetRecorder,
		ProvideBetQueueConsumer,

		// Domain services
		ProvideRedisFeed,
		ProvidePredictor,
		ProvideAnalyzer,

		// Fan-out
		ProvideHub,
		ProvideEventPipeline,

		// Use cases
		ProvideSourceCoordinator,
		ProvideBotManager,

		// HTTP
		ProvideRateLimiter,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return nil, nil, nil
}
