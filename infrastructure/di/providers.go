package di

import (
	"context"
	"fmt"
	"time"

	"github.com/Cix-16/opencti/application/commands/bus"
	commandhandlers "github.com/Cix-16/opencti/application/commands/handlers"
	"github.com/Cix-16/opencti/application/ports"
	querybus "github.com/Cix-16/opencti/application/queries/bus"
	queryhandlers "github.com/Cix-16/opencti/application/queries/handlers"
	"github.com/Cix-16/opencti/application/services"
	domainconfig "github.com/Cix-16/opencti/domain/config"
	"github.com/Cix-16/opencti/infrastructure/config"
	badgerkv "github.com/Cix-16/opencti/infrastructure/kv/badger"
	memkv "github.com/Cix-16/opencti/infrastructure/kv/memory"
	"github.com/Cix-16/opencti/infrastructure/messaging"
	"github.com/Cix-16/opencti/infrastructure/messaging/eventbridge"
	membus "github.com/Cix-16/opencti/infrastructure/messaging/memory"
	"github.com/Cix-16/opencti/infrastructure/persistence/dynamodb"
	"github.com/Cix-16/opencti/infrastructure/persistence/graph"
	memgraph "github.com/Cix-16/opencti/infrastructure/persistence/memory"
	"github.com/Cix-16/opencti/infrastructure/persistence/neo4j"
	"github.com/Cix-16/opencti/infrastructure/persistence/schema"
	"github.com/Cix-16/opencti/interfaces/http/rest"
	"github.com/Cix-16/opencti/interfaces/http/rest/middleware"
	"github.com/Cix-16/opencti/interfaces/websocket"
	"github.com/Cix-16/opencti/pkg/auth"
	"github.com/Cix-16/opencti/pkg/errors"
	"github.com/Cix-16/opencti/pkg/graphdb"
	"github.com/Cix-16/opencti/pkg/observability"
	"github.com/Cix-16/opencti/pkg/utils"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscloudwatch "github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awseventbridge "github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	pubSubQueueSize = 256
	janitorInterval = 30 * time.Second
	devJWTSecret    = "opencti-development-secret"
)

// ProvideLogger creates a new logger instance
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.IsProduction() {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	if cfg.LogLevel != "" {
		level, err := zapcore.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.LogLevel, err)
		}
		zapCfg.Level = zap.NewAtomicLevelAt(level)
	}

	return zapCfg.Build()
}

// ProvideAWSConfig creates AWS configuration
func ProvideAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.AWSRegion),
	)
}

// ProvideDynamoDBClient creates a DynamoDB client
func ProvideDynamoDBClient(awsCfg aws.Config) *awsdynamodb.Client {
	return awsdynamodb.NewFromConfig(awsCfg)
}

// ProvideEventBridgeClient creates an EventBridge client
func ProvideEventBridgeClient(awsCfg aws.Config) *awseventbridge.Client {
	return awseventbridge.NewFromConfig(awsCfg)
}

// ProvideCloudWatchClient creates a CloudWatch client
func ProvideCloudWatchClient(awsCfg aws.Config) *awscloudwatch.Client {
	return awscloudwatch.NewFromConfig(awsCfg)
}

// ProvideSchemaRegistry returns the entity schemas known to this deployment.
func ProvideSchemaRegistry() *domainconfig.SchemaRegistry {
	return domainconfig.DefaultSchemaRegistry()
}

// ProvideDomainConfig loads the per-environment domain rules. An explicit
// EDIT_CONTEXT_TTL wins over the environment default.
func ProvideDomainConfig(cfg *config.Config) (*domainconfig.DomainConfig, error) {
	domainCfg := domainconfig.LoadDomainConfig(cfg.Environment)
	if cfg.EditContextTTL > 0 {
		domainCfg.EditContextTTL = cfg.EditContextTTL
	}
	if err := domainCfg.Validate(); err != nil {
		return nil, err
	}
	return domainCfg, nil
}

// ProvideClock returns the wall clock
func ProvideClock() utils.Clock {
	return utils.SystemClock{}
}

// ProvideGraphDriver connects the configured graph backend and makes sure
// its constraints and indexes exist.
func ProvideGraphDriver(ctx context.Context, cfg *config.Config, registry *domainconfig.SchemaRegistry, logger *zap.Logger) (graphdb.Driver, func(), error) {
	var driver graphdb.Driver
	switch cfg.GraphBackend {
	case config.GraphBackendNeo4j:
		d, err := neo4j.NewDriver(neo4j.Config{
			URI:            cfg.Neo4jURI,
			Username:       cfg.Neo4jUsername,
			Password:       cfg.Neo4jPassword,
			Database:       cfg.Neo4jDatabase,
			AcquireTimeout: cfg.TransactionTimeout,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := d.VerifyConnectivity(ctx); err != nil {
			_ = d.Close(ctx)
			return nil, nil, fmt.Errorf("neo4j unreachable: %w", err)
		}
		driver = d
	default:
		logger.Warn("Using in-memory graph store")
		driver = memgraph.NewGraphStore()
	}

	cleanup := func() {
		if err := driver.Close(context.Background()); err != nil {
			logger.Error("Failed to close graph driver", zap.Error(err))
		}
	}

	if err := schema.EnsureSchema(ctx, driver, registry, logger); err != nil {
		cleanup()
		return nil, nil, err
	}
	return driver, cleanup, nil
}

// ProvideRepository creates the entity repository
func ProvideRepository(
	driver graphdb.Driver,
	registry *domainconfig.SchemaRegistry,
	domainCfg *domainconfig.DomainConfig,
	clock utils.Clock,
	cfg *config.Config,
	logger *zap.Logger,
) ports.EntityRepository {
	return graph.NewRepository(driver, registry, domainCfg, clock, cfg.TransactionTimeout, logger)
}

// ProvideTTLStore creates the edit-context store of the configured backend.
func ProvideTTLStore(cfg *config.Config, client *awsdynamodb.Client, clock utils.Clock, logger *zap.Logger) (ports.TTLStore, func(), error) {
	switch cfg.EditContextBackend {
	case config.KVBackendDynamoDB:
		return dynamodb.NewTTLStore(client, cfg.EditContextTable, clock, logger), func() {}, nil
	case config.KVBackendBadger:
		// Without a path the database lives in memory only.
		store, err := badgerkv.Open(badgerkv.Config{
			Path:       cfg.BadgerPath,
			InMemory:   cfg.BadgerPath == "",
			GCInterval: 5 * time.Minute,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Error("Failed to close badger store", zap.Error(err))
			}
		}, nil
	default:
		store := memkv.NewTTLStore(clock, janitorInterval)
		return store, func() { _ = store.Close() }, nil
	}
}

// ProvidePubSub creates the in-process topic bus websocket clients listen on.
func ProvidePubSub(logger *zap.Logger) (*membus.PubSub, func()) {
	ps := membus.NewPubSub(pubSubQueueSize, logger)
	return ps, func() { _ = ps.Close() }
}

// ProvideTopicPublisher returns the publisher notifications go out through.
// With EventBridge, notifications are also delivered to local subscribers.
func ProvideTopicPublisher(cfg *config.Config, pubsub *membus.PubSub, client *awseventbridge.Client, logger *zap.Logger) ports.TopicPublisher {
	if cfg.BusTransport == config.BusTransportEventBridge {
		return messaging.NewTee(pubsub, eventbridge.NewPublisher(client, cfg.EventBusName, logger))
	}
	return pubsub
}

// ProvideMetrics creates the metrics recorder. It is a no-op when metrics
// are disabled.
func ProvideMetrics(client *awscloudwatch.Client, cfg *config.Config, logger *zap.Logger) *observability.Metrics {
	if !cfg.EnableMetrics {
		return observability.NewMetrics(cfg.MetricsNamespace, nil, logger)
	}
	return observability.NewMetrics(cfg.MetricsNamespace, client, logger)
}

// ProvideTracer creates the X-Ray tracer
func ProvideTracer(cfg *config.Config) *observability.Tracer {
	return observability.NewTracer("opencti", cfg.EnableTracing)
}

// ProvideNotificationBus creates the notification bus
func ProvideNotificationBus(
	registry *domainconfig.SchemaRegistry,
	publisher ports.TopicPublisher,
	clock utils.Clock,
	metrics ports.Metrics,
	logger *zap.Logger,
) *services.NotificationBus {
	return services.NewNotificationBus(services.TopicRegistry(registry.TopicRegistry()), publisher, clock, logger).
		WithMetrics(metrics)
}

// ProvideEditContextCoordinator creates the edit-context coordinator
func ProvideEditContextCoordinator(store ports.TTLStore, domainCfg *domainconfig.DomainConfig, clock utils.Clock, logger *zap.Logger) *services.EditContextCoordinator {
	return services.NewEditContextCoordinator(store, domainCfg, clock, logger)
}

// ProvideServiceRegistry creates one façade per entity type
func ProvideServiceRegistry(
	registry *domainconfig.SchemaRegistry,
	repo ports.EntityRepository,
	contexts *services.EditContextCoordinator,
	notifications *services.NotificationBus,
	domainCfg *domainconfig.DomainConfig,
	tracer *observability.Tracer,
	logger *zap.Logger,
) *services.ServiceRegistry {
	return services.NewServiceRegistry(registry, repo, contexts, notifications, domainCfg, tracer, logger)
}

// ProvideWorkspaceService creates the workspace operations
func ProvideWorkspaceService(registry *services.ServiceRegistry) (*services.WorkspaceService, error) {
	domain, err := registry.Get(domainconfig.TypeWorkspace)
	if err != nil {
		return nil, err
	}
	return services.NewWorkspaceService(domain)
}

// ProvideCommandBus creates and configures the command bus
func ProvideCommandBus(registry *services.ServiceRegistry, metrics ports.Metrics, logger *zap.Logger) (*bus.CommandBus, error) {
	commandBus := bus.NewCommandBus(
		bus.LoggingMiddleware(logger),
		bus.MetricsMiddleware(metrics),
	)

	if err := commandhandlers.NewEntityCommandHandler(registry, logger).Register(commandBus); err != nil {
		return nil, fmt.Errorf("failed to register entity command handlers: %w", err)
	}

	return commandBus, nil
}

// ProvideQueryBus creates and configures the query bus
func ProvideQueryBus(registry *services.ServiceRegistry, workspaces *services.WorkspaceService, metrics ports.Metrics) (*querybus.QueryBus, error) {
	queryBus := querybus.NewQueryBus(querybus.MetricsMiddleware(metrics))

	if err := queryhandlers.NewEntityQueryHandler(registry, workspaces).Register(queryBus); err != nil {
		return nil, fmt.Errorf("failed to register entity query handlers: %w", err)
	}

	return queryBus, nil
}

// ProvideErrorHandler creates the HTTP error handler
func ProvideErrorHandler(cfg *config.Config, logger *zap.Logger) *errors.ErrorHandler {
	return errors.NewErrorHandler(logger, cfg.IsDevelopment())
}

// ProvideRateLimiter returns the per-user request limiter. Lambda instances
// share their counters through DynamoDB.
func ProvideRateLimiter(cfg *config.Config, client *awsdynamodb.Client, clock utils.Clock) auth.RateLimiter {
	if cfg.IsLambda && cfg.EditContextBackend == config.KVBackendDynamoDB {
		return auth.NewKeyedRateLimiter(
			auth.NewDistributedRateLimiter(client, cfg.EditContextTable, cfg.RateLimitPerMinute, time.Minute, clock),
			"user",
		)
	}
	return auth.NewUserRateLimiter(cfg.RateLimitPerMinute)
}

// ProvideJWTValidator creates the token validator
func ProvideJWTValidator(cfg *config.Config, logger *zap.Logger) (*auth.JWTValidator, error) {
	secret := cfg.JWTSecret
	if secret == "" && !cfg.IsProduction() {
		logger.Warn("JWT_SECRET not set, using the development secret")
		secret = devJWTSecret
	}
	return auth.NewJWTValidator(auth.JWTConfig{
		SigningMethod: "HS256",
		SecretKey:     secret,
		Issuer:        cfg.JWTIssuer,
	})
}

// ProvideWebSocketServer creates the subscription endpoint for every
// registered topic.
func ProvideWebSocketServer(
	cfg *config.Config,
	registry *domainconfig.SchemaRegistry,
	pubsub *membus.PubSub,
	errHandler *errors.ErrorHandler,
	logger *zap.Logger,
) *websocket.Server {
	var topics []string
	for _, t := range registry.TopicRegistry() {
		topics = append(topics, t.Added, t.Edit)
	}

	wsCfg := websocket.DefaultServerConfig()
	wsCfg.AllowedOrigins = cfg.CORSAllowedOrigins
	return websocket.NewServer(pubsub, topics, wsCfg, errHandler, logger)
}

// ProvideRouterConfig selects the authentication of the API. Behind API
// Gateway the authorizer has already validated the token.
func ProvideRouterConfig(
	cfg *config.Config,
	validator *auth.JWTValidator,
	limiter auth.RateLimiter,
	subscriptions *websocket.Server,
	errHandler *errors.ErrorHandler,
	logger *zap.Logger,
) rest.RouterConfig {
	opts := middleware.AuthOptions{
		Limiter:           limiter,
		RequestsPerMinute: cfg.RateLimitPerMinute,
		Errors:            errHandler,
		Logger:            logger,
	}

	routerCfg := rest.RouterConfig{
		Authenticate:   middleware.Authenticate(validator, opts),
		AllowedOrigins: cfg.CORSAllowedOrigins,
	}
	if cfg.IsLambda {
		routerCfg.Authenticate = middleware.AuthenticateForLambda(opts)
		return routerCfg
	}
	routerCfg.Subscriptions = subscriptions
	return routerCfg
}

// ProvideRouter creates the HTTP router
func ProvideRouter(
	commandBus *bus.CommandBus,
	queryBus *querybus.QueryBus,
	routerCfg rest.RouterConfig,
	errHandler *errors.ErrorHandler,
	logger *zap.Logger,
) *rest.Router {
	return rest.NewRouter(commandBus, queryBus, routerCfg, errHandler, logger)
}
