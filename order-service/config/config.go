package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	ServiceName string `mapstructure:"service_name"`
	Env         string `mapstructure:"env"`
	Port        string `mapstructure:"port"`
	Bus         Bus    `mapstructure:"bus"`
	Redis       Redis  `mapstructure:"redis"`
}

type Bus struct {
	Driver       string            `mapstructure:"driver"`
	KafkaBrokers []string          `mapstructure:"kafka_brokers"`
	KafkaGroupID string            `mapstructure:"kafka_group_id"`
	SNSTopicArns map[string]string `mapstructure:"sns_topic_arns"`
	SQSQueueURL  string            `mapstructure:"sqs_queue_url"`
}

type Redis struct {
	Enabled bool          `mapstructure:"enabled"`
	Addr    string        `mapstructure:"addr"`
	TTL     time.Duration `mapstructure:"ttl"`
}

func ReadConfig() (*Config, error) {
	viper.SetConfigName(getConfigName())
	viper.SetConfigType("json")
	viper.AddConfigPath(getEnv("CONFIG_DIR", "."))

	viper.AutomaticEnv()
	viper.SetEnvPrefix("ORDER")

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
	viper.SetDefault("service_name", "order-service")
	viper.SetDefault("env", getEnv("ENV", "local"))
	viper.SetDefault("port", getEnv("PORT", "8081"))

	viper.SetDefault("bus.driver", getEnv("BUS_DRIVER", "memory"))
	viper.SetDefault("bus.kafka_brokers", []string{getEnv("KAFKA_BROKER", "localhost:9092")})
	viper.SetDefault("bus.kafka_group_id", "order-service")
	viper.SetDefault("bus.sqs_queue_url", getEnv("SQS_QUEUE_URL", ""))

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.addr", getEnv("REDIS_ADDR", "localhost:6379"))
	viper.SetDefault("redis.ttl", 24*time.Hour)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
