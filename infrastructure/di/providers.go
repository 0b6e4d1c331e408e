package di

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awseventbridge "github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"go.uber.org/zap"

	"github.com/emmanuelquintana/christmas/application/flight"
	"github.com/emmanuelquintana/christmas/application/ports"
	"github.com/emmanuelquintana/christmas/application/scene"
	"github.com/emmanuelquintana/christmas/infrastructure/config"
	"github.com/emmanuelquintana/christmas/infrastructure/messaging/eventbridge"
	"github.com/emmanuelquintana/christmas/infrastructure/persistence"
	"github.com/emmanuelquintana/christmas/infrastructure/persistence/dynamodb"
	"github.com/emmanuelquintana/christmas/infrastructure/persistence/memory"
	"github.com/emmanuelquintana/christmas/infrastructure/persistence/realtime"
	"github.com/emmanuelquintana/christmas/infrastructure/persistence/supabase"
	"github.com/emmanuelquintana/christmas/interfaces/http/rest"
	"github.com/emmanuelquintana/christmas/interfaces/http/rest/handlers"
	"github.com/emmanuelquintana/christmas/pkg/errors"
	"github.com/emmanuelquintana/christmas/pkg/observability"
)

// ServiceName names the service in metrics and traces.
const ServiceName = "wishsky"

// BuildVersion is the release reported by /version.
type BuildVersion string

// ProvideLogLevel creates the level shared by the logger and config reloads.
func ProvideLogLevel(cfg *config.Config) zap.AtomicLevel {
	return zap.NewAtomicLevelAt(cfg.Level())
}

// ProvideLogger creates a logger
func ProvideLogger(cfg *config.Config, level zap.AtomicLevel) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.IsProduction() {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = level

	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("service", ServiceName)), nil
}

// ProvideErrorHandler creates the HTTP error handler. Development builds
// echo error causes.
func ProvideErrorHandler(cfg *config.Config, logger *zap.Logger) *errors.ErrorHandler {
	return errors.NewErrorHandler(logger, cfg.IsDevelopment())
}

// ProvideMetrics creates the Prometheus collector
func ProvideMetrics() *observability.Collector {
	return observability.NewCollector(ServiceName)
}

// ProvideTracing initializes tracing; an empty endpoint disables export.
func ProvideTracing(ctx context.Context, cfg *config.Config) (*observability.TracerProvider, error) {
	return observability.InitTracing(ctx, ServiceName, cfg.Environment, cfg.OTLPEndpoint)
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

// ProvideWishStore selects the configured backend and wraps it, innermost
// first, in the circuit breaker, tracing and metrics decorators.
func ProvideWishStore(
	cfg *config.Config,
	client *awsdynamodb.Client,
	metrics *observability.Collector,
	tracing *observability.TracerProvider,
	logger *zap.Logger,
) (ports.WishStore, error) {
	var base ports.WishStore
	switch cfg.Store {
	case "memory":
		base = memory.NewWishStore()
	case "supabase":
		store, err := supabase.NewWishStore(cfg.SupabaseURL, cfg.SupabaseKey, cfg.Table, logger)
		if err != nil {
			return nil, err
		}
		base = store
	case "dynamodb":
		base = dynamodb.NewWishStore(client, cfg.DynamoDBTable, logger)
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}

	logger.Info("Wish store selected", zap.String("store", cfg.Store))

	breaker := persistence.BreakerConfig{
		Name:             cfg.Store,
		MaxRequests:      cfg.Breaker.MaxRequests,
		Interval:         cfg.Breaker.Interval,
		Timeout:          cfg.Breaker.Timeout,
		FailureThreshold: cfg.Breaker.FailureRatio,
		MinRequests:      cfg.Breaker.MinRequests,
	}

	var store ports.WishStore = persistence.NewBreakerStore(base, breaker, logger, metrics)
	store = persistence.NewTracingStore(store, tracing.Tracer())
	store = persistence.NewMetricsStore(store, metrics)
	return store, nil
}

// ProvideBroker creates the realtime insert broker
func ProvideBroker(logger *zap.Logger, metrics *observability.Collector) *realtime.Broker {
	return realtime.NewBroker(realtime.DefaultBuffer, logger, metrics)
}

// ProvideEventPublisher creates the EventBridge publisher, or nil when no
// bus is configured.
func ProvideEventPublisher(cfg *config.Config, client *awseventbridge.Client, logger *zap.Logger) ports.EventPublisher {
	if cfg.EventBus == "" {
		return nil
	}
	return eventbridge.NewPublisher(client, cfg.EventBus, logger)
}

// ProvideRepository creates the wish repository
func ProvideRepository(
	cfg *config.Config,
	store ports.WishStore,
	broker *realtime.Broker,
	publisher ports.EventPublisher,
	logger *zap.Logger,
) *persistence.RealtimeRepository {
	return persistence.NewRealtimeRepository(store, broker, publisher, cfg.MaxWishes, logger)
}

// ProvideSceneFactory creates orchestrators for live sessions.
func ProvideSceneFactory(
	cfg *config.Config,
	repo *persistence.RealtimeRepository,
	metrics *observability.Collector,
	logger *zap.Logger,
) handlers.SceneFactory {
	return func(username string, reducedMotion bool) *scene.Orchestrator {
		return scene.NewOrchestrator(repo, logger, SceneOptions(cfg, username, reducedMotion, metrics))
	}
}

// SceneOptions maps configuration onto orchestrator options. metrics may be nil.
func SceneOptions(cfg *config.Config, username string, reducedMotion bool, metrics scene.Metrics) scene.Options {
	flightCfg := flight.DefaultConfig()
	flightCfg.Duration = cfg.FlightDuration
	flightCfg.FadeIn = cfg.FadeDuration
	flightCfg.FadeOut = cfg.FadeDuration
	flightCfg.ReducedMotion = reducedMotion

	return scene.Options{
		Username:   username,
		Capacity:   cfg.MaxWishes,
		FetchLimit: cfg.MaxWishes,
		Flight:     flightCfg,
		FrameRate:  cfg.FrameRate,
		Metrics:    metrics,
	}
}

// ProvideRouter creates the HTTP router with websockets enabled
func ProvideRouter(
	cfg *config.Config,
	version BuildVersion,
	repo *persistence.RealtimeRepository,
	newScene handlers.SceneFactory,
	metrics *observability.Collector,
	logger *zap.Logger,
	errorHandler *errors.ErrorHandler,
) *rest.Router {
	return rest.NewRouter(repo, newScene, metrics, logger, errorHandler, rest.Options{
		Version:        string(version),
		AllowedOrigins: cfg.AllowedOrigins,
		PublicURL:      cfg.PublicURL,
		Profile:        cfg.Profile,
		Realtime:       true,
	})
}
