package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

type Config struct {
	ServiceName string   `mapstructure:"service_name"`
	Env         string   `mapstructure:"env"`
	Port        string   `mapstructure:"port"`
	Bus         Bus      `mapstructure:"bus"`
	Database    Database `mapstructure:"database"`
}

type Bus struct {
	Driver       string            `mapstructure:"driver"`
	KafkaBrokers []string          `mapstructure:"kafka_brokers"`
	KafkaGroupID string            `mapstructure:"kafka_group_id"`
	SNSTopicArns map[string]string `mapstructure:"sns_topic_arns"`
	SQSQueueURL  string            `mapstructure:"sqs_queue_url"`
}

// Database configures the analytics audit store. With Enabled false the
// service keeps milestones in memory, which is enough for local runs.
type Database struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

func ReadConfig() (*Config, error) {
	viper.SetConfigName(getConfigName())
	viper.SetConfigType("json")
	viper.AddConfigPath(getEnv("CONFIG_DIR", "."))

	viper.AutomaticEnv()
	viper.SetEnvPrefix("ANALYTICS")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

func getConfigName() string {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		return "local"
	}
	return env
}

func setDefaults() {
	viper.SetDefault("service_name", "analytics-service")
	viper.SetDefault("env", getEnv("ENV", "local"))
	viper.SetDefault("port", getEnv("PORT", "8084"))

	viper.SetDefault("bus.driver", getEnv("BUS_DRIVER", "memory"))
	viper.SetDefault("bus.kafka_brokers", []string{getEnv("KAFKA_BROKER", "localhost:9092")})
	viper.SetDefault("bus.kafka_group_id", "analytics-service")
	viper.SetDefault("bus.sqs_queue_url", getEnv("SQS_QUEUE_URL", ""))

	viper.SetDefault("database.enabled", false)
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "password")
	viper.SetDefault("database.database", "fulfillment_analytics")
	viper.SetDefault("database.ssl_mode", "disable")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetDatabaseURL constructs the database URL from config
func (c *Config) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.SSLMode,
	)
}
