package app

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront-oms/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/storefront-oms/internal/health"
	"github.com/vladislavdragonenkov/storefront-oms/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront-oms/internal/storage/postgres"
	redisstore "github.com/vladislavdragonenkov/storefront-oms/internal/storage/redis"
)

// runtimeDependencies - хранилища, выбранные по конфигурации.
type runtimeDependencies struct {
	orderStore      domain.OrderStore
	products        domain.ProductRepository
	outboxRepo      domain.OutboxRepository
	timelineRepo    domain.TimelineRepository
	idempotencyRepo domain.IdempotencyRepository
	revocations     domain.TokenRevocationStore

	storageChecker    healthcheck.Checker
	revocationChecker healthcheck.Checker

	closers []func() error
}

func (d *runtimeDependencies) close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

// initRuntimeDependencies открывает хранилище заказов и хранилище отозванных токенов.
// При ошибке уже открытые подключения закрываются.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	deps := &runtimeDependencies{}

	switch cfg.StorageDriver {
	case StorageDriverMemory:
		products := memory.NewProductRepository()
		outbox := memory.NewOutboxRepository()
		deps.orderStore = memory.NewOrderStore(products, outbox)
		deps.products = products
		deps.outboxRepo = outbox
		deps.timelineRepo = memory.NewTimelineRepository()
		deps.idempotencyRepo = memory.NewIdempotencyRepository()
		deps.storageChecker = healthcheck.NewFuncChecker("storage", func(context.Context) error { return nil })
		logger.Info("using in-memory storage")
	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, errors.New("postgres dsn is required for postgres storage driver")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		deps.closers = append(deps.closers, store.Close)

		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = deps.close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
		}
		deps.orderStore = postgres.NewOrderStore(store)
		deps.products = postgres.NewProductRepository(store)
		deps.outboxRepo = postgres.NewOutboxRepository(store)
		deps.timelineRepo = postgres.NewTimelineRepository(store)
		deps.idempotencyRepo = postgres.NewIdempotencyRepository(store)
		deps.storageChecker = healthcheck.NewPingChecker("postgres", store, true)
		logger.WithField("auto_migrate", cfg.PostgresAutoMigrate).Info("using postgres storage")
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}

	if cfg.RedisAddr == "" {
		deps.revocations = memory.NewRevocationStore()
		return deps, nil
	}

	revocations, err := redisstore.Open(ctx, redisstore.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		_ = deps.close()
		return nil, err
	}
	deps.closers = append(deps.closers, revocations.Close)
	deps.revocations = revocations
	// Без Redis logout перестаёт работать, но заказы обслуживаются.
	deps.revocationChecker = healthcheck.NewPingChecker("redis", revocations, false)
	logger.WithField("addr", cfg.RedisAddr).Info("using redis token revocation store")

	return deps, nil
}
