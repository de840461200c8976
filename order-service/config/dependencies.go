package config

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/orderflow/fulfillment-system/order-service/application"
	"github.com/orderflow/fulfillment-system/shared/events"
	"github.com/orderflow/fulfillment-system/shared/idempotency"
	sharedinfra "github.com/orderflow/fulfillment-system/shared/infrastructure"
	"github.com/orderflow/fulfillment-system/shared/retry"
)

type Dependencies struct {
	Logger *zap.Logger
	Bus    events.Bus
	Redis  *redis.Client

	OrderService *application.OrderService
}

func BuildDependencies(ctx context.Context, config *Config) (*Dependencies, error) {
	deps := &Dependencies{}

	logger, err := buildLogger(config.Env)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	deps.Logger = logger

	bus, err := buildBus(config, logger)
	if err != nil {
		return nil, err
	}
	deps.Bus = bus

	dedup, err := buildIdempotencyStore(ctx, config, deps)
	if err != nil {
		return nil, err
	}

	deps.OrderService = application.NewOrderService(bus, dedup, logger)
	if err := deps.OrderService.RegisterEventHandlers(); err != nil {
		return nil, fmt.Errorf("failed to register order handlers: %w", err)
	}

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
		return sharedinfra.NewKafkaBus(config.Bus.KafkaBrokers, config.Bus.KafkaGroupID, retry.Default(logger), logger), nil
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
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing dependencies: %v", errs)
	}
	return nil
}
