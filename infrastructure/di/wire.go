//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"github.com/Cix-16/opencti/application/ports"
	"github.com/Cix-16/opencti/infrastructure/config"
	"github.com/Cix-16/opencti/pkg/observability"
)

// SuperSet is the main provider set containing all providers
var SuperSet = wire.NewSet(
	ProvideLogger,
	ProvideAWSConfig,
	ProvideDynamoDBClient,
	ProvideEventBridgeClient,
	ProvideCloudWatchClient,
	ProvideSchemaRegistry,
	ProvideDomainConfig,
	ProvideClock,
	ProvideGraphDriver,
	ProvideRepository,
	ProvideTTLStore,
	ProvidePubSub,
	ProvideTopicPublisher,
	ProvideMetrics,
	wire.Bind(new(ports.Metrics), new(*observability.Metrics)),
	ProvideTracer,
	ProvideNotificationBus,
	ProvideEditContextCoordinator,
	ProvideServiceRegistry,
	ProvideWorkspaceService,
	ProvideCommandBus,
	ProvideQueryBus,
	ProvideErrorHandler,
	ProvideRateLimiter,
	ProvideJWTValidator,
	ProvideWebSocketServer,
	ProvideRouterConfig,
	ProvideRouter,
	wire.Struct(new(Container), "*"),
)

// InitializeContainer creates a fully wired container
func InitializeContainer(ctx context.Context, cfg *config.Config) (*Container, func(), error) {
	wire.Build(SuperSet)
	return nil, nil, nil // Wire will replace this
}
