package app

import (
	"context"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	healthcheck "github.com/vladislavdragonenkov/storefront-oms/internal/health"
	"github.com/vladislavdragonenkov/storefront-oms/internal/service/idempotency"
)

func TestInitRuntimeDependencies_Memory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	deps, err := initRuntimeDependencies(ctx, Config{StorageDriver: StorageDriverMemory}, log.WithField("test", "memory-storage"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, deps.close()) })

	require.NotNil(t, deps.orderStore)
	require.NotNil(t, deps.products)
	require.NotNil(t, deps.timelineRepo)
	require.NotNil(t, deps.idempotencyRepo)
	require.Nil(t, deps.revocationChecker, "redis checker is registered only with redis")
	require.Equal(t, healthcheck.StatusHealthy, deps.storageChecker.Check(ctx).Status)

	// Cleanup worker подхватывает эти хранилища через приведение к Sweeper.
	require.Implements(t, (*idempotency.Sweeper)(nil), deps.outboxRepo)
	require.Implements(t, (*idempotency.Sweeper)(nil), deps.revocations)
}

func TestInitRuntimeDependencies_Errors(t *testing.T) {
	t.Parallel()

	for name, cfg := range map[string]Config{
		"postgres without dsn": {StorageDriver: StorageDriverPostgres},
		"unsupported driver":   {StorageDriver: "sqlite"},
		"unreachable redis":    {StorageDriver: StorageDriverMemory, RedisAddr: "127.0.0.1:1"},
	} {
		t.Run(name, func(t *testing.T) {
			deps, err := initRuntimeDependencies(context.Background(), cfg, log.WithField("test", name))
			require.Error(t, err)
			require.Nil(t, deps)
		})
	}
}

func TestRuntimeDependencies_CloseInReverseOrder(t *testing.T) {
	var closed []string
	deps := &runtimeDependencies{closers: []func() error{
		func() error { closed = append(closed, "postgres"); return nil },
		func() error { closed = append(closed, "redis"); return context.DeadlineExceeded },
	}}

	require.ErrorIs(t, deps.close(), context.DeadlineExceeded)
	require.Equal(t, []string{"redis", "postgres"}, closed)
	require.NoError(t, deps.close())
}
