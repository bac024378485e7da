package main

import (
	"fmt"
	"os"
	"time"

	"rexe/internal/common/cache"
	"rexe/internal/common/mq"
	"rexe/internal/common/storage"
	"rexe/internal/execute/sandbox/engine"
	"rexe/internal/execute/sandbox/profile"
	"rexe/internal/execute/sandbox/runner"
	"rexe/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const defaultShutdownTimeout = 10 * time.Second

// WorkerConfig holds the consume loop settings.
type WorkerConfig struct {
	Language string        `yaml:"language"`
	PollWait time.Duration `yaml:"pollWait"`
	// MaxAttempts is the number of tries per logical cycle before it is abandoned.
	MaxAttempts    int           `yaml:"maxAttempts"`
	RetryBaseDelay time.Duration `yaml:"retryBaseDelay"`
	RetryMaxDelay  time.Duration `yaml:"retryMaxDelay"`
	// MetricsAddr exposes /metrics when set.
	MetricsAddr string `yaml:"metricsAddr"`
}

// AppConfig holds worker configuration.
type AppConfig struct {
	Logger    logger.Config          `yaml:"logger"`
	Redis     cache.RedisConfig      `yaml:"redis"`
	MinIO     storage.MinIOConfig    `yaml:"minio"`
	Kafka     mq.KafkaConfig         `yaml:"kafka"`
	Worker    WorkerConfig           `yaml:"worker"`
	Runner    runner.Config          `yaml:"runner"`
	Engine    engine.Config          `yaml:"engine"`
	Languages []profile.LanguageSpec `yaml:"languages"`
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
	cfg := AppConfig{Redis: *cache.DefaultRedisConfig()}
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = "rexe"
	}
	if cfg.Worker.PollWait == 0 {
		cfg.Worker.PollWait = 10 * time.Second
	}
	if cfg.Worker.MaxAttempts == 0 {
		cfg.Worker.MaxAttempts = 2
	}
	if cfg.Kafka.VisibilityTimeout == 0 {
		cfg.Kafka.VisibilityTimeout = 2 * time.Minute
	}
	if cfg.Kafka.RetentionWindow == 0 {
		cfg.Kafka.RetentionWindow = time.Hour
	}
	if cfg.Kafka.DedupWindow == 0 {
		cfg.Kafka.DedupWindow = 5 * time.Minute
	}
	if cfg.Kafka.MaxInFlight == 0 {
		cfg.Kafka.MaxInFlight = 1
	}
	if len(cfg.Languages) == 0 {
		cfg.Languages = profile.DefaultLanguages()
	}
	return &cfg, nil
}
