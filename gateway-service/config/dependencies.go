package config

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/orderflow/fulfillment-system/gateway-service/application"
	"github.com/orderflow/fulfillment-system/gateway-service/handlers"
	"github.com/orderflow/fulfillment-system/shared/analytics"
	"github.com/orderflow/fulfillment-system/shared/events"
	"github.com/orderflow/fulfillment-system/shared/idempotency"
	sharedinfra "github.com/orderflow/fulfillment-system/shared/infrastructure"
	"github.com/orderflow/fulfillment-system/shared/monitoring"
	"github.com/orderflow/fulfillment-system/shared/retry"
	"github.com/orderflow/fulfillment-system/shared/telemetry"
)

type Dependencies struct {
	Logger *zap.Logger

	// Infrastructure
	Bus   events.Bus
	Redis *redis.Client

	// Saga
	Orchestrator *application.OrderSagaOrchestrator
	CreateOrder  *application.CreateOrderUseCase

	// HTTP Handlers
	OrderHandlers *handlers.OrderHandlers

	// Telemetry
	Telemetry         *telemetry.Telemetry
	telemetryShutdown func()
}

func BuildDependencies(ctx context.Context, config *Config) (*Dependencies, error) {
	deps := &Dependencies{}

	logger, err := buildLogger(config.Env)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	deps.Logger = logger

	// Telemetry is optional; without an OTLP endpoint the no-op providers
	// from the SDK are used.
	tel, shutdown, err := telemetry.InitTelemetry(ctx,
		telemetry.GatewayServiceConfig.WithOTLPEndpoint(config.Telemetry.OTLPEndpoint))
	if err != nil {
		return nil, fmt.Errorf("failed to init telemetry: %w", err)
	}
	deps.Telemetry = tel
	deps.telemetryShutdown = shutdown

	bus, err := buildBus(config, logger)
	if err != nil {
		return nil, err
	}
	deps.Bus = bus

	dedup, err := buildIdempotencyStore(ctx, config, deps)
	if err != nil {
		return nil, err
	}

	retryPolicy := retry.New(config.Retry.MaxAttempts, config.Retry.BaseDelay, config.Retry.MaxDelay, logger)
	monitor := monitoring.NewBusMonitor(bus, retryPolicy.MaxAttempts, logger)
	analyticsPublisher := analytics.NewPublisher(bus, logger)

	deps.Orchestrator = application.NewOrderSagaOrchestrator(
		bus, retryPolicy, analyticsPublisher, monitor, dedup, logger)
	if err := deps.Orchestrator.RegisterEventHandlers(); err != nil {
		return nil, fmt.Errorf("failed to register saga handlers: %w", err)
	}

	deps.CreateOrder = application.NewCreateOrderUseCase(deps.Orchestrator, logger)
	deps.OrderHandlers = handlers.NewOrderHandlers(deps.CreateOrder, deps.Orchestrator)

	return deps, nil
}

func buildLogger(env string) (*zap.Logger, error) {
	if env == "local" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func buildBus(config *Config, logger *zap.Logger) (events.Bus, error) {
	switch config.Bus.Driver {
	case "kafka":
		connectRetry := retry.Default(logger)
		return sharedinfra.NewKafkaBus(config.Bus.KafkaBrokers, config.Bus.KafkaGroupID, connectRetry, logger), nil
	case "snssqs":
		return sharedinfra.NewSNSSQSBus(config.Bus.SNSTopicArns, config.Bus.SQSQueueURL, logger), nil
	case "memory", "":
		return events.NewMemoryBus(logger), nil
	default:
		return nil, fmt.Errorf("unknown bus driver: %s", config.Bus.Driver)
	}
}

func buildIdempotencyStore(ctx context.Context, config *Config, deps *Dependencies) (idempotency.Store, error) {
	if !config.Redis.Enabled {
		return idempotency.NewMemoryStore(config.Redis.TTL), nil
	}

	client := redis.NewClient(&redis.Options{Addr: config.Redis.Addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	deps.Redis = client

	return idempotency.NewRedisStore(client, config.Redis.TTL), nil
}

// Close closes all dependencies
func (d *Dependencies) Close() error {
	var errs []error

	if d.Bus != nil {
		if err := d.Bus.Disconnect(context.Background()); err != nil {
			errs = append(errs, fmt.Errorf("failed to disconnect bus: %w", err))
		}
	}

	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
	}

	if d.telemetryShutdown != nil {
		d.telemetryShutdown()
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing dependencies: %v", errs)
	}

	return nil
}
