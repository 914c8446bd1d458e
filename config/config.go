package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Storeflow StoreflowConfig `yaml:"storeflow"`
	Server    ServerConfig    `yaml:"server"`
	Intake    IntakeConfig    `yaml:"intake"`
	Usage     UsageConfig     `yaml:"usage"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type StoreflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ServerConfig struct {
	Address         string        `yaml:"address"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type IntakeConfig struct {
	MaxQueryWorkers  int              `yaml:"max_query_workers"`
	QueriesPerSecond int              `yaml:"queries_per_second"`
	BatchRetry       BatchRetryConfig `yaml:"batch_retry"`
}

// BatchRetryConfig bounds the drain loop that re-submits unprocessed
// batch-write items.
type BatchRetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

type UsageConfig struct {
	DefaultRangeDays int `yaml:"default_range_days"`
}

type StorageConfig struct {
	DynamoDB DynamoDBConfig `yaml:"dynamodb"`
}

type DynamoDBConfig struct {
	Region          string       `yaml:"region"`
	Endpoint        string       `yaml:"endpoint"`
	AccessKeyID     string       `yaml:"access_key_id"`
	SecretAccessKey string       `yaml:"secret_access_key"`
	Tables          TablesConfig `yaml:"tables"`
}

type TablesConfig struct {
	Orders          string `yaml:"orders"`
	OrderIDIndex    string `yaml:"order_id_index"`
	SeqStats        string `yaml:"seq_stats"`
	DailyStats      string `yaml:"daily_stats"`
	StoreDailyStats string `yaml:"store_daily_stats"`
}

type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	Output    string `yaml:"output"`
	MaxAge    int    `yaml:"max_age"`
	Namespace string `yaml:"namespace"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Server: ServerConfig{
			Address:         ":8080",
			ShutdownTimeout: 5 * time.Second,
		},
		Intake: IntakeConfig{
			MaxQueryWorkers: 8,
			BatchRetry: BatchRetryConfig{
				MaxAttempts: 5,
				BaseDelay:   100 * time.Millisecond,
				MaxDelay:    2 * time.Second,
			},
		},
		Usage: UsageConfig{
			DefaultRangeDays: 30,
		},
		Storage: StorageConfig{
			DynamoDB: DynamoDBConfig{
				Tables: TablesConfig{
					Orders:          "orders",
					OrderIDIndex:    "order_id-index",
					SeqStats:        "seq_stats",
					DailyStats:      "daily_stats",
					StoreDailyStats: "store_daily_stats",
				},
			},
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override storage settings from environment variables if available
	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
		config.Storage.DynamoDB.AccessKeyID = strings.TrimSpace(v)
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		config.Storage.DynamoDB.SecretAccessKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		config.Storage.DynamoDB.Region = strings.TrimSpace(v)
	}
	if v := os.Getenv("DYNAMODB_ENDPOINT"); v != "" {
		config.Storage.DynamoDB.Endpoint = strings.TrimSpace(v)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Storeflow.Name == "" {
		return fmt.Errorf("storeflow.name is required")
	}

	if cfg.Storeflow.Version == "" {
		return fmt.Errorf("storeflow.version is required")
	}

	if cfg.Intake.MaxQueryWorkers <= 0 {
		return fmt.Errorf("intake.max_query_workers must be greater than 0")
	}
	if cfg.Intake.QueriesPerSecond < 0 {
		return fmt.Errorf("intake.queries_per_second must not be negative")
	}
	if cfg.Intake.BatchRetry.MaxAttempts <= 0 {
		return fmt.Errorf("intake.batch_retry.max_attempts must be greater than 0")
	}
	if cfg.Intake.BatchRetry.BaseDelay <= 0 {
		return fmt.Errorf("intake.batch_retry.base_delay must be greater than 0")
	}
	if cfg.Intake.BatchRetry.MaxDelay < cfg.Intake.BatchRetry.BaseDelay {
		return fmt.Errorf("intake.batch_retry.max_delay must not be less than base_delay")
	}

	if cfg.Usage.DefaultRangeDays <= 0 {
		return fmt.Errorf("usage.default_range_days must be greater than 0")
	}

	if cfg.Storage.DynamoDB.Region == "" && cfg.Storage.DynamoDB.Endpoint == "" {
		return fmt.Errorf("storage.dynamodb.region or storage.dynamodb.endpoint is required")
	}

	tables := cfg.Storage.DynamoDB.Tables
	for name, value := range map[string]string{
		"orders":            tables.Orders,
		"order_id_index":    tables.OrderIDIndex,
		"seq_stats":         tables.SeqStats,
		"daily_stats":       tables.DailyStats,
		"store_daily_stats": tables.StoreDailyStats,
	} {
		if value == "" {
			return fmt.Errorf("storage.dynamodb.tables.%s is required", name)
		}
	}

	return nil
}
