package main

import (
	"fmt"
	"os"
	"time"

	"rexe/internal/common/cache"
	"rexe/internal/common/db"
	"rexe/internal/common/mq"
	"rexe/internal/common/storage"
	"rexe/internal/gateway/middleware"
	"rexe/internal/gateway/service"
	"rexe/internal/submit/controller"
	submitService "rexe/internal/submit/service"
	"rexe/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8080"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// SubmissionConfig holds the submit path settings.
type SubmissionConfig struct {
	MaxCodeBytes  int                         `yaml:"maxCodeBytes"`
	Retention     time.Duration               `yaml:"retention"`
	CookieSecret  string                      `yaml:"cookieSecret"`
	Limits        submitService.LimitConfig   `yaml:"limits"`
	Timeouts      submitService.TimeoutConfig `yaml:"timeouts"`
	CompletionTTL time.Duration               `yaml:"completionTTL"`
	HTTP          controller.Config           `yaml:"http"`
}

// AuthConfig holds token verification and revocation settings.
type AuthConfig struct {
	JWT               service.AuthConfig `yaml:"jwt"`
	BlacklistLocalTTL time.Duration      `yaml:"blacklistLocalTTL"`
	BlacklistLocalMax int                `yaml:"blacklistLocalMax"`
	RedisTimeout      time.Duration      `yaml:"redisTimeout"`
}

// RateLimitConfig guards the run endpoint.
type RateLimitConfig struct {
	Run middleware.RateLimitPolicy `yaml:"run"`
}

// AppConfig holds gateway configuration.
type AppConfig struct {
	Server     ServerConfig          `yaml:"server"`
	Logger     logger.Config         `yaml:"logger"`
	Redis      cache.RedisConfig     `yaml:"redis"`
	MySQL      db.MySQLConfig        `yaml:"mysql"`
	MinIO      storage.MinIOConfig   `yaml:"minio"`
	Kafka      mq.KafkaConfig        `yaml:"kafka"`
	Auth       AuthConfig            `yaml:"auth"`
	CORS       middleware.CORSConfig `yaml:"cors"`
	RateLimit  RateLimitConfig       `yaml:"rateLimit"`
	Submission SubmissionConfig      `yaml:"submission"`
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
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}

	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if cfg.MySQL.DSN == "" {
		return nil, fmt.Errorf("mysql dsn is required")
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = "rexe"
	}
	if cfg.Auth.JWT.Secret == "" {
		return nil, fmt.Errorf("auth jwt secret is required")
	}
	if cfg.Auth.JWT.Issuer == "" {
		cfg.Auth.JWT.Issuer = "rexe"
	}
	if cfg.Auth.BlacklistLocalTTL == 0 {
		cfg.Auth.BlacklistLocalTTL = time.Minute
	}
	if cfg.Auth.BlacklistLocalMax == 0 {
		cfg.Auth.BlacklistLocalMax = 4096
	}
	if cfg.Auth.RedisTimeout == 0 {
		cfg.Auth.RedisTimeout = time.Second
	}

	if cfg.Submission.CookieSecret == "" {
		return nil, fmt.Errorf("submission cookieSecret is required")
	}
	if cfg.Submission.Retention == 0 {
		cfg.Submission.Retention = time.Hour
	}
	if cfg.Submission.Limits == (submitService.LimitConfig{}) {
		cfg.Submission.Limits = submitService.DefaultLimitConfig()
	}
	if cfg.Submission.CompletionTTL == 0 {
		cfg.Submission.CompletionTTL = 10 * time.Minute
	}
	if cfg.Submission.Timeouts.DB == 0 {
		cfg.Submission.Timeouts.DB = 3 * time.Second
	}
	if cfg.Submission.Timeouts.Cache == 0 {
		cfg.Submission.Timeouts.Cache = time.Second
	}
	if cfg.Submission.Timeouts.MQ == 0 {
		cfg.Submission.Timeouts.MQ = 3 * time.Second
	}
	if cfg.Submission.Timeouts.Storage == 0 {
		cfg.Submission.Timeouts.Storage = 5 * time.Second
	}
	if cfg.Submission.HTTP.WatchInterval == 0 {
		cfg.Submission.HTTP.WatchInterval = time.Second
	}

	if cfg.RateLimit.Run.Window == 0 {
		cfg.RateLimit.Run.Window = time.Minute
	}
	if cfg.RateLimit.Run.UserMax == 0 {
		cfg.RateLimit.Run.UserMax = 30
	}
	if cfg.RateLimit.Run.IPMax == 0 {
		cfg.RateLimit.Run.IPMax = 120
	}

	if cfg.Kafka.RetentionWindow == 0 {
		cfg.Kafka.RetentionWindow = cfg.Submission.Retention
	}
	if cfg.Kafka.DedupWindow == 0 {
		cfg.Kafka.DedupWindow = 5 * time.Minute
	}
	return &cfg, nil
}
