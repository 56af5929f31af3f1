package postgres

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront-oms/internal/domain"
	"github.com/vladislavdragonenkov/storefront-oms/internal/service/aggregate"
)

func seedProduct(t *testing.T, store *Store, name string, priceMinor int64) domain.Product {
	t.Helper()

	product, err := NewProductRepository(store).Create(context.Background(), domain.Product{Name: name, PriceMinor: priceMinor})
	require.NoError(t, err)
	return product
}

func TestOrderStore_PostgresLifecycle(t *testing.T) {
	store := migratedStore(t)
	engine := aggregate.NewEngine(NewOrderStore(store))
	ctx := context.Background()

	productA := seedProduct(t, store, "product-a", 1000)
	productB := seedProduct(t, store, "product-b", 500)

	order, err := engine.CreateOrder(ctx, domain.CreateOrderInput{Description: "pg", ClientID: "client-pg"})
	require.NoError(t, err)
	require.NotNil(t, order.Items)

	itemA, err := engine.AddItem(ctx, order.ID, productA.ID, 2)
	require.NoError(t, err)
	itemB, err := engine.AddItem(ctx, order.ID, productB.ID, 1)
	require.NoError(t, err)

	got, err := engine.FindByID(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2500), got.PriceTotalMinor)
	require.Len(t, got.Items, 2)

	got, err = engine.RemoveItem(ctx, order.ID, itemB.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2000), got.PriceTotalMinor)

	got, err = engine.Discount(ctx, order.ID, 500)
	require.NoError(t, err)
	require.Equal(t, int64(1500), got.PriceTotalMinor)

	_, err = engine.CompleteOrder(ctx, order.ID)
	require.ErrorIs(t, err, domain.ErrOrderNotFinished)

	_, err = engine.CompleteOrderItem(ctx, itemA.ID)
	require.NoError(t, err)

	completed, err := engine.CompleteOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusCompleted, completed.Status)
	require.NotNil(t, completed.FinishedAt)
	require.Empty(t, completed.ValidateInvariants())

	_, err = engine.AddItem(ctx, order.ID, productA.ID, 1)
	require.ErrorIs(t, err, domain.ErrOrderCompleted)

	pending, err := NewOutboxRepository(store).PullPending(ctx, 100)
	require.NoError(t, err)
	require.Len(t, pending, 7)
	require.Equal(t, domain.EventOrderCreated, pending[0].EventType)
	require.Equal(t, domain.EventOrderCompleted, pending[len(pending)-1].EventType)
}

func TestOrderStore_PostgresMissingRows(t *testing.T) {
	store := migratedStore(t)
	engine := aggregate.NewEngine(NewOrderStore(store))
	ctx := context.Background()

	_, err := engine.AddItem(ctx, "missing-order", "missing-product", 1)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	order, err := engine.CreateOrder(ctx, domain.CreateOrderInput{ClientID: "client-pg"})
	require.NoError(t, err)

	_, err = engine.AddItem(ctx, order.ID, "missing-product", 1)
	require.ErrorIs(t, err, domain.ErrProductNotFound)

	_, err = engine.CompleteOrderItem(ctx, "missing-item")
	require.ErrorIs(t, err, domain.ErrItemNotFound)

	require.ErrorIs(t, engine.Delete(ctx, "missing-order"), domain.ErrOrderNotFound)
}

func TestOrderStore_PostgresRollbackOnError(t *testing.T) {
	store := migratedStore(t)
	orders := NewOrderStore(store)
	engine := aggregate.NewEngine(orders)
	ctx := context.Background()

	product := seedProduct(t, store, "product-rollback", 700)
	order, err := engine.CreateOrder(ctx, domain.CreateOrderInput{ClientID: "client-pg"})
	require.NoError(t, err)

	err = orders.InTx(ctx, func(tx domain.OrderTx) error {
		item, err := domain.NewOrderItem("rollback-item", order.ID, product, 3, order.CreatedAt)
		if err != nil {
			return err
		}
		if err := tx.CreateItem(item); err != nil {
			return err
		}
		return domain.ErrInvalidState
	})
	require.ErrorIs(t, err, domain.ErrInvalidState)

	got, err := engine.FindByID(ctx, order.ID)
	require.NoError(t, err)
	require.Empty(t, got.Items)
	require.Zero(t, got.PriceTotalMinor)
}

func TestOrderStore_PostgresConcurrentAddItemKeepsTotal(t *testing.T) {
	store := migratedStore(t)
	engine := aggregate.NewEngine(NewOrderStore(store))
	ctx := context.Background()

	product := seedProduct(t, store, "product-concurrent", 100)
	order, err := engine.CreateOrder(ctx, domain.CreateOrderInput{ClientID: "client-pg"})
	require.NoError(t, err)

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				_, err := engine.AddItem(ctx, order.ID, product.ID, 1)
				if domain.IsConflict(err) {
					continue
				}
				errs <- err
				return
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := engine.FindByID(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, workers)
	require.Equal(t, int64(workers*100), got.PriceTotalMinor)
}

func TestOrderStore_PostgresListsStayConsistentUnderWrites(t *testing.T) {
	store := migratedStore(t)
	engine := aggregate.NewEngine(NewOrderStore(store))
	ctx := context.Background()

	product := seedProduct(t, store, "product-list", 250)
	orderIDs := make([]string, 3)
	for i := range orderIDs {
		order, err := engine.CreateOrder(ctx, domain.CreateOrderInput{ClientID: "client-list"})
		require.NoError(t, err)
		orderIDs[i] = order.ID
	}

	const writes = 30
	done := make(chan struct{})
	writeErrs := make(chan error, 1)
	go func() {
		defer close(done)
		for i := range writes {
			_, err := engine.AddItem(ctx, orderIDs[i%len(orderIDs)], product.ID, 1)
			if err != nil && !domain.IsConflict(err) {
				writeErrs <- err
				return
			}
		}
	}()

	reads := 0
	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
		}

		all, err := engine.FindAll(ctx)
		if domain.IsConflict(err) {
			continue
		}
		require.NoError(t, err)
		byClient, err := engine.FindByClientID(ctx, "client-list")
		if domain.IsConflict(err) {
			continue
		}
		require.NoError(t, err)

		for _, order := range append(all, byClient...) {
			require.Empty(t, order.ValidateInvariants(), "order %s read with mismatched total", order.ID)
		}
		reads++
	}
	close(writeErrs)
	require.NoError(t, <-writeErrs)
	require.Positive(t, reads)
}

func TestOrderStore_PostgresCompleteItemOnce(t *testing.T) {
	store := migratedStore(t)
	engine := aggregate.NewEngine(NewOrderStore(store))
	ctx := context.Background()

	product := seedProduct(t, store, "product-finish", 100)
	order, err := engine.CreateOrder(ctx, domain.CreateOrderInput{ClientID: "client-pg"})
	require.NoError(t, err)
	item, err := engine.AddItem(ctx, order.ID, product.ID, 1)
	require.NoError(t, err)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				_, err := engine.CompleteOrderItem(ctx, item.ID)
				if domain.IsConflict(err) {
					continue
				}
				errs <- err
				return
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	pending, err := NewOutboxRepository(store).PullPending(ctx, 100)
	require.NoError(t, err)
	finished := 0
	for _, msg := range pending {
		if msg.EventType == domain.EventOrderItemFinished {
			finished++
		}
	}
	require.Equal(t, 1, finished)
}
