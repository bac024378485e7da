package main

import (
	"fmt"
	"os"
	"time"

	"rexe/internal/common/cache"
	"rexe/internal/common/db"
	"rexe/internal/common/mq"
	"rexe/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const defaultShutdownTimeout = 10 * time.Second

// IngestConfig holds the consume loop settings.
type IngestConfig struct {
	PollWait       time.Duration `yaml:"pollWait"`
	MaxAttempts    int           `yaml:"maxAttempts"`
	RetryBaseDelay time.Duration `yaml:"retryBaseDelay"`
	RetryMaxDelay  time.Duration `yaml:"retryMaxDelay"`
	CompletionTTL  time.Duration `yaml:"completionTTL"`
	MetricsAddr    string        `yaml:"metricsAddr"`
}

// AppConfig holds ingestor configuration.
type AppConfig struct {
	Logger logger.Config     `yaml:"logger"`
	Redis  cache.RedisConfig `yaml:"redis"`
	MySQL  db.MySQLConfig    `yaml:"mysql"`
	Kafka  mq.KafkaConfig    `yaml:"kafka"`
	Ingest IngestConfig      `yaml:"ingest"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	cfg := AppConfig{Redis: *cache.DefaultRedisConfig(), MySQL: *db.DefaultMySQLConfig()}
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.MySQL.DSN == "" {
		return nil, fmt.Errorf("mysql dsn is required")
	}
	if cfg.Ingest.PollWait == 0 {
		cfg.Ingest.PollWait = 10 * time.Second
	}
	if cfg.Ingest.MaxAttempts == 0 {
		cfg.Ingest.MaxAttempts = 2
	}
	if cfg.Ingest.CompletionTTL == 0 {
		cfg.Ingest.CompletionTTL = 10 * time.Minute
	}
	if cfg.Kafka.VisibilityTimeout == 0 {
		cfg.Kafka.VisibilityTimeout = 30 * time.Second
	}
	if cfg.Kafka.RetentionWindow == 0 {
		cfg.Kafka.RetentionWindow = time.Hour
	}
	return &cfg, nil
}
