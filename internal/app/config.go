package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vladislavdragonenkov/storefront-oms/internal/auth"
	"github.com/vladislavdragonenkov/storefront-oms/internal/messaging/kafka"
)

const (
	// StorageDriverMemory хранит всё в памяти процесса.
	StorageDriverMemory = "memory"
	// StorageDriverPostgres использует PostgreSQL.
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска приложения.
// Все поля скалярные, поэтому конфигурации можно сравнивать через ==.
type Config struct {
	HTTPAddr    string `yaml:"http_addr"`
	GRPCAddr    string `yaml:"grpc_addr"`
	MetricsAddr string `yaml:"metrics_addr"`

	StorageDriver       string `yaml:"storage_driver"`
	PostgresDSN         string `yaml:"postgres_dsn"`
	PostgresAutoMigrate bool   `yaml:"postgres_auto_migrate"`

	// RedisAddr пустой: отозванные токены хранятся в памяти процесса.
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	JWTSecret string        `yaml:"jwt_secret"`
	JWTIssuer string        `yaml:"jwt_issuer"`
	JWTTTL    time.Duration `yaml:"jwt_ttl"`

	// KafkaBrokers - список через запятую; пустой отключает публикацию outbox.
	KafkaBrokers  string `yaml:"kafka_brokers"`
	KafkaTopic    string `yaml:"kafka_topic"`
	KafkaDLQTopic string `yaml:"kafka_dlq_topic"`
	KafkaClientID string `yaml:"kafka_client_id"`

	OutboxPollInterval time.Duration `yaml:"outbox_poll_interval"`
	OutboxBatchSize    int           `yaml:"outbox_batch_size"`
	OutboxMaxAttempts  int           `yaml:"outbox_max_attempts"`
	OutboxRetryDelay   time.Duration `yaml:"outbox_retry_delay"`
	// OutboxMaxPending - порог backlog, выше которого /healthz сообщает degraded. 0 отключает проверку.
	OutboxMaxPending int `yaml:"outbox_max_pending"`
	// OutboxRetention - сколько хранятся доставленные сообщения. 0 отключает очистку outbox.
	OutboxRetention time.Duration `yaml:"outbox_retention"`

	IdempotencyTTL              time.Duration `yaml:"idempotency_ttl"`
	IdempotencyCleanupInterval  time.Duration `yaml:"idempotency_cleanup_interval"`
	IdempotencyCleanupBatchSize int           `yaml:"idempotency_cleanup_batch_size"`

	// ConflictRetryAttempts - сколько раз сервис повторяет операцию при транзакционном конфликте.
	ConflictRetryAttempts int `yaml:"conflict_retry_attempts"`

	// CORSOrigins - разрешённые origin через запятую.
	CORSOrigins string `yaml:"cors_origins"`
}

// DefaultConfig возвращает настройки для локального запуска.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:                    ":8080",
		GRPCAddr:                    ":50051",
		MetricsAddr:                 ":9090",
		StorageDriver:               StorageDriverMemory,
		PostgresAutoMigrate:         true,
		JWTIssuer:                   auth.DefaultIssuer,
		JWTTTL:                      auth.DefaultTTL,
		KafkaTopic:                  kafka.TopicOrderEvents,
		KafkaDLQTopic:               kafka.TopicDeadLetterQueue,
		KafkaClientID:               "storefront-oms",
		OutboxPollInterval:          time.Second,
		OutboxBatchSize:             100,
		OutboxMaxAttempts:           3,
		OutboxRetryDelay:            50 * time.Millisecond,
		OutboxMaxPending:            1000,
		OutboxRetention:             72 * time.Hour,
		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,
		ConflictRetryAttempts:       3,
		CORSOrigins:                 "*",
	}
}

// LoadConfigFile накладывает YAML-файл поверх base.
// Ключи, отсутствующие в файле, сохраняют значения из base.
func LoadConfigFile(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read config file: %w", err)
	}
	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return base, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек перед запуском.
func (c Config) Validate() error {
	var errs []error
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("postgres dsn is required for postgres storage driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		errs = append(errs, auth.ErrSecretRequired)
	}
	if c.HTTPAddr == "" || c.GRPCAddr == "" || c.MetricsAddr == "" {
		errs = append(errs, errors.New("http, grpc and metrics addresses are required"))
	}
	return errors.Join(errs...)
}

// KafkaBrokerList разбирает KafkaBrokers.
func (c Config) KafkaBrokerList() []string {
	return splitList(c.KafkaBrokers)
}

// CORSOriginList разбирает CORSOrigins.
func (c Config) CORSOriginList() []string {
	return splitList(c.CORSOrigins)
}

func splitList(raw string) []string {
	chunks := strings.Split(raw, ",")
	out := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		if item := strings.TrimSpace(chunk); item != "" {
			out = append(out, item)
		}
	}
	return out
}
