package config

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/orderflow/fulfillment-system/analytics-service/application"
	"github.com/orderflow/fulfillment-system/shared/events"
	sharedinfra "github.com/orderflow/fulfillment-system/shared/infrastructure"
	"github.com/orderflow/fulfillment-system/shared/retry"
)

type Dependencies struct {
	Logger *zap.Logger
	Bus    events.Bus
	DB     *sqlx.DB

	Collector *application.Collector
}

func BuildDependencies(_ context.Context, config *Config) (*Dependencies, error) {
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

	store, err := buildStore(config, deps)
	if err != nil {
		return nil, err
	}

	deps.Collector = application.NewCollector(bus, store, logger)
	if err := deps.Collector.RegisterEventHandlers(); err != nil {
		return nil, fmt.Errorf("failed to register analytics handlers: %w", err)
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

func buildStore(config *Config, deps *Dependencies) (application.Store, error) {
	if !config.Database.Enabled {
		return application.NewMemoryStore(), nil
	}

	db, err := sqlx.Connect("postgres", config.GetDatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := db.Exec(sharedinfra.AnalyticsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure analytics schema: %w", err)
	}
	deps.DB = db

	return sharedinfra.NewPostgresAnalyticsStore(db), nil
}

// Close closes all dependencies
func (d *Dependencies) Close() error {
	var errs []error

	if d.Bus != nil {
		if err := d.Bus.Disconnect(context.Background()); err != nil {
			errs = append(errs, fmt.Errorf("failed to disconnect bus: %w", err))
		}
	}
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
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
