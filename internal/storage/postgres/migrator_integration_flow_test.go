package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func requireMigrationStatus(t *testing.T, store *Store, wantVersion int64, wantCount int) {
	t.Helper()

	version, count, err := store.MigrationStatus(context.Background())
	require.NoError(t, err)
	require.Equal(t, wantVersion, version, "version")
	require.Equal(t, wantCount, count, "applied")
}

func TestMigrator_UpDownRoundTrip(t *testing.T) {
	store := rawStore(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	require.NoError(t, store.MigrateDown(ctx, 100))
	requireMigrationStatus(t, store, 0, 0)

	pending, err := store.PendingMigrations(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"0001_orders", "0002_outbox_timeline_idempotency"}, pending)

	require.NoError(t, store.MigrateUp(ctx, 1))
	requireMigrationStatus(t, store, 1, 1)

	require.NoError(t, store.MigrateUp(ctx, 0))
	requireMigrationStatus(t, store, 2, 2)

	// Повторный up ничего не применяет.
	require.NoError(t, store.MigrateUp(ctx, 0))
	requireMigrationStatus(t, store, 2, 2)

	pending, err = store.PendingMigrations(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)

	// steps=0 для down откатывает одну миграцию.
	require.NoError(t, store.MigrateDown(ctx, 0))
	requireMigrationStatus(t, store, 1, 1)

	require.NoError(t, store.MigrateDown(ctx, 5))
	requireMigrationStatus(t, store, 0, 0)
	require.NoError(t, store.MigrateDown(ctx, 1))

	require.NoError(t, store.EnsureSchema(ctx))
	requireMigrationStatus(t, store, 2, 2)
}

func TestMigrator_Guards(t *testing.T) {
	var nilStore *Store
	ctx := context.Background()

	require.ErrorIs(t, nilStore.MigrateUp(ctx, 0), errStoreNotInitialized)
	require.ErrorIs(t, nilStore.MigrateDown(ctx, 1), errStoreNotInitialized)
	_, _, err := nilStore.MigrationStatus(ctx)
	require.ErrorIs(t, err, errStoreNotInitialized)
	_, err = nilStore.PendingMigrations(ctx)
	require.ErrorIs(t, err, errStoreNotInitialized)

	store := rawStore(t)
	require.ErrorContains(t, store.migrate(ctx, migrationDirection("sideways"), 0), "unsupported migration direction")
}
