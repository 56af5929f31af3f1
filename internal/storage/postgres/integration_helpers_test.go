package postgres

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

// Порядок важен: дочерние таблицы перед родительскими.
var integrationTables = []string{
	"idempotency_keys",
	"outbox_messages",
	"timeline_events",
	"order_items",
	"orders",
	"products",
}

func integrationDSN() string {
	for _, key := range []string{"OMS_POSTGRES_TEST_DSN", "OMS_POSTGRES_DSN"} {
		if dsn := strings.TrimSpace(os.Getenv(key)); dsn != "" {
			return dsn
		}
	}
	return ""
}

// rawStore открывает базу без миграций. Тест пропускается, если база недоступна.
func rawStore(t *testing.T) *Store {
	t.Helper()

	dsn := integrationDSN()
	if dsn == "" {
		t.Skip("OMS_POSTGRES_TEST_DSN is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	store, err := Open(ctx, dsn)
	if err != nil {
		t.Skipf("postgres is not available: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

// migratedStore возвращает базу с актуальной схемой и пустыми таблицами.
func migratedStore(t *testing.T) *Store {
	t.Helper()

	store := rawStore(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if _, err := store.DB().ExecContext(ctx, "TRUNCATE TABLE "+strings.Join(integrationTables, ", ")+" CASCADE"); err != nil {
		t.Fatalf("reset tables: %v", err)
	}
	return store
}
