package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront-oms/internal/app"
	"github.com/vladislavdragonenkov/storefront-oms/internal/version"
)

const (
	envConfigFile = "OMS_CONFIG_FILE"
	envLogLevel   = "OMS_LOG_LEVEL"
	envLogFormat  = "OMS_LOG_FORMAT"

	envHTTPAddr    = "OMS_HTTP_ADDR"
	envGRPCAddr    = "OMS_GRPC_ADDR"
	envMetricsAddr = "OMS_METRICS_ADDR"

	envStorageDriver       = "OMS_STORAGE_DRIVER"
	envPostgresDSN         = "OMS_POSTGRES_DSN"
	envPostgresAutoMigrate = "OMS_POSTGRES_AUTO_MIGRATE"

	envRedisAddr     = "OMS_REDIS_ADDR"
	envRedisPassword = "OMS_REDIS_PASSWORD"
	envRedisDB       = "OMS_REDIS_DB"

	envJWTSecret = "OMS_JWT_SECRET"
	envJWTIssuer = "OMS_JWT_ISSUER"
	envJWTTTL    = "OMS_JWT_TTL"

	envKafkaBrokers  = "OMS_KAFKA_BROKERS"
	envKafkaTopic    = "OMS_KAFKA_TOPIC"
	envKafkaDLQTopic = "OMS_KAFKA_DLQ_TOPIC"
	envKafkaClientID = "OMS_KAFKA_CLIENT_ID"

	envOutboxPollInterval = "OMS_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize    = "OMS_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts  = "OMS_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay   = "OMS_OUTBOX_RETRY_DELAY"
	envOutboxMaxPending   = "OMS_OUTBOX_MAX_PENDING"
	envOutboxRetention    = "OMS_OUTBOX_RETENTION"

	envIdempotencyTTL              = "OMS_IDEMPOTENCY_TTL"
	envIdempotencyCleanupInterval  = "OMS_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "OMS_IDEMPOTENCY_CLEANUP_BATCH_SIZE"

	envConflictRetryAttempts = "OMS_CONFLICT_RETRY_ATTEMPTS"
	envCORSOrigins           = "OMS_CORS_ORIGINS"
)

type envLookup func(key string) (string, bool)

func positiveInt(v int) bool { return v > 0 }

func nonNegativeInt(v int) bool { return v >= 0 }

func positiveDuration(v time.Duration) bool { return v > 0 }

func nonNegativeDuration(v time.Duration) bool { return v >= 0 }

// readConfigFromEnv собирает конфигурацию: значения по умолчанию,
// затем YAML из OMS_CONFIG_FILE, затем переменные окружения.
// Некорректные значения не применяются и возвращаются как предупреждения.
func readConfigFromEnv(lookup envLookup) (app.Config, []error) {
	cfg := app.DefaultConfig()
	r := &envReader{lookup: lookup}

	if path, ok := r.value(envConfigFile); ok {
		loaded, err := app.LoadConfigFile(path, cfg)
		if err != nil {
			r.warn(envConfigFile, err)
		} else {
			cfg = loaded
		}
	}

	r.str(envHTTPAddr, &cfg.HTTPAddr)
	r.str(envGRPCAddr, &cfg.GRPCAddr)
	r.str(envMetricsAddr, &cfg.MetricsAddr)

	if driver, ok := r.value(envStorageDriver); ok {
		cfg.StorageDriver = strings.ToLower(driver)
	}
	r.str(envPostgresDSN, &cfg.PostgresDSN)
	r.boolean(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)

	r.str(envRedisAddr, &cfg.RedisAddr)
	r.str(envRedisPassword, &cfg.RedisPassword)
	r.integer(envRedisDB, &cfg.RedisDB, nonNegativeInt, "must be >= 0")

	r.str(envJWTSecret, &cfg.JWTSecret)
	r.str(envJWTIssuer, &cfg.JWTIssuer)
	r.duration(envJWTTTL, &cfg.JWTTTL, positiveDuration, "must be > 0")

	r.str(envKafkaBrokers, &cfg.KafkaBrokers)
	r.str(envKafkaTopic, &cfg.KafkaTopic)
	r.str(envKafkaDLQTopic, &cfg.KafkaDLQTopic)
	r.str(envKafkaClientID, &cfg.KafkaClientID)

	r.duration(envOutboxPollInterval, &cfg.OutboxPollInterval, positiveDuration, "must be > 0")
	r.integer(envOutboxBatchSize, &cfg.OutboxBatchSize, positiveInt, "must be > 0")
	r.integer(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts, positiveInt, "must be > 0")
	r.duration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegativeDuration, "must be >= 0")
	r.integer(envOutboxMaxPending, &cfg.OutboxMaxPending, nonNegativeInt, "must be >= 0")
	r.duration(envOutboxRetention, &cfg.OutboxRetention, nonNegativeDuration, "must be >= 0")

	r.duration(envIdempotencyTTL, &cfg.IdempotencyTTL, positiveDuration, "must be > 0")
	r.duration(envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positiveDuration, "must be > 0")
	r.integer(envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize, positiveInt, "must be > 0")

	r.integer(envConflictRetryAttempts, &cfg.ConflictRetryAttempts, positiveInt, "must be > 0")
	r.str(envCORSOrigins, &cfg.CORSOrigins)

	return cfg, r.warnings
}

type envReader struct {
	lookup   envLookup
	warnings []error
}

func (r *envReader) value(key string) (string, bool) {
	raw, ok := r.lookup(key)
	if !ok {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	return raw, raw != ""
}

func (r *envReader) warn(key string, err error) {
	r.warnings = append(r.warnings, fmt.Errorf("%s: %w", key, err))
}

func (r *envReader) str(key string, dst *string) {
	if v, ok := r.value(key); ok {
		*dst = v
	}
}

func (r *envReader) boolean(key string, dst *bool) {
	v, ok := r.value(key)
	if !ok {
		return
	}
	parsed, err := parseBool(v)
	if err != nil {
		r.warn(key, err)
		return
	}
	*dst = parsed
}

func (r *envReader) integer(key string, dst *int, valid func(int) bool, rule string) {
	v, ok := r.value(key)
	if !ok {
		return
	}
	parsed, err := parseInt(v, valid, rule)
	if err != nil {
		r.warn(key, err)
		return
	}
	*dst = parsed
}

func (r *envReader) duration(key string, dst *time.Duration, valid func(time.Duration) bool, rule string) {
	v, ok := r.value(key)
	if !ok {
		return
	}
	parsed, err := parseDuration(v, valid, rule)
	if err != nil {
		r.warn(key, err)
		return
	}
	*dst = parsed
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid int value %q: %w", raw, err)
	}
	if valid != nil && !valid(value) {
		return 0, fmt.Errorf("invalid int value %d: %s", value, rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration value %q: %w", raw, err)
	}
	if valid != nil && !valid(value) {
		return 0, fmt.Errorf("invalid duration value %s: %s", value, rule)
	}
	return value, nil
}

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(lookup envLookup) {
	if format, _ := lookup(envLogFormat); strings.EqualFold(strings.TrimSpace(format), "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	level := log.InfoLevel
	if raw, ok := lookup(envLogLevel); ok && strings.TrimSpace(raw) != "" {
		parsed, err := log.ParseLevel(strings.TrimSpace(raw))
		if err != nil {
			log.WithError(err).Warn("unknown log level, using info")
		} else {
			level = parsed
		}
	}
	log.SetLevel(level)
}

func main() {
	setupLogger(os.LookupEnv)
	cfg, warnings := readConfigFromEnv(os.LookupEnv)
	for _, warning := range warnings {
		log.WithError(warning).Warn("ignoring invalid configuration value")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"http_addr":      cfg.HTTPAddr,
		"grpc_addr":      cfg.GRPCAddr,
		"metrics_addr":   cfg.MetricsAddr,
		"storage_driver": cfg.StorageDriver,
		"kafka_enabled":  cfg.KafkaBrokers != "",
		"redis_enabled":  cfg.RedisAddr != "",
		"build":          version.String(),
	}).Info("запускаем OrderService")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("OrderService остановлен")
}
