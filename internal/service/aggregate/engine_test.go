package aggregate_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront-oms/internal/domain"
	"github.com/vladislavdragonenkov/storefront-oms/internal/service/aggregate"
	"github.com/vladislavdragonenkov/storefront-oms/internal/storage/memory"
)

type fixture struct {
	engine   *aggregate.Engine
	store    *memory.OrderStore
	products *memory.ProductRepository
	outbox   *memory.OutboxRepository
	productA domain.Product
	productB domain.Product
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	products := memory.NewProductRepository()
	outbox := memory.NewOutboxRepository()
	store := memory.NewOrderStore(products, outbox)

	a, err := products.Create(context.Background(), domain.Product{Name: "A", PriceMinor: 1000})
	require.NoError(t, err)
	b, err := products.Create(context.Background(), domain.Product{Name: "B", PriceMinor: 500})
	require.NoError(t, err)

	logger := log.New()
	logger.SetLevel(log.WarnLevel)

	return &fixture{
		engine:   aggregate.NewEngine(store, aggregate.WithLogger(logger.WithField("component", "test"))),
		store:    store,
		products: products,
		outbox:   outbox,
		productA: a,
		productB: b,
	}
}

func (f *fixture) createOrder(t *testing.T) domain.Order {
	t.Helper()
	order, err := f.engine.CreateOrder(context.Background(), domain.CreateOrderInput{
		Description: "test",
		Status:      domain.OrderStatusOpen,
		ClientID:    "client-1",
	})
	require.NoError(t, err)
	return order
}

func requireConsistent(t *testing.T, order domain.Order) {
	t.Helper()
	require.Empty(t, order.ValidateInvariants())
}

func TestEngine_CreateOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order := f.createOrder(t)
	require.NotEmpty(t, order.ID)
	require.Equal(t, domain.OrderStatusOpen, order.Status)
	require.Zero(t, order.PriceTotalMinor)
	require.Empty(t, order.Items)
	require.Nil(t, order.FinishedAt)

	_, err := f.engine.CreateOrder(ctx, domain.CreateOrderInput{Description: "x"})
	require.ErrorIs(t, err, domain.ErrClientIDRequired)
	require.True(t, domain.IsValidation(err))

	pending := f.outbox.AllPending()
	require.Len(t, pending, 1)
	require.Equal(t, domain.EventOrderCreated, pending[0].EventType)
}

func TestEngine_TotalScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(t)

	itemA, err := f.engine.AddItem(ctx, order.ID, f.productA.ID, 2)
	require.NoError(t, err)
	require.Equal(t, int64(2000), itemA.PriceTotalMinor)

	got, err := f.engine.FindByID(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2000), got.PriceTotalMinor)

	itemB, err := f.engine.AddItem(ctx, order.ID, f.productB.ID, 1)
	require.NoError(t, err)

	got, err = f.engine.FindByID(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2500), got.PriceTotalMinor)
	require.Len(t, got.Items, 2)
	require.Equal(t, itemA.ID, got.Items[0].ID)
	requireConsistent(t, got)

	afterRemove, err := f.engine.RemoveItem(ctx, order.ID, itemB.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2000), afterRemove.PriceTotalMinor)
	require.Len(t, afterRemove.Items, 1)

	discounted, err := f.engine.Discount(ctx, order.ID, 500)
	require.NoError(t, err)
	require.Equal(t, int64(1500), discounted.PriceTotalMinor)
	requireConsistent(t, discounted)

	// скидка переживает последующие изменения состава заказа
	_, err = f.engine.AddItem(ctx, order.ID, f.productB.ID, 2)
	require.NoError(t, err)
	got, err = f.engine.FindByID(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2500), got.PriceTotalMinor)
	requireConsistent(t, got)
}

func TestEngine_PriceSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(t)

	item, err := f.engine.AddItem(ctx, order.ID, f.productA.ID, 1)
	require.NoError(t, err)

	require.NoError(t, f.products.SetPrice(f.productA.ID, 9999))

	got, err := f.engine.FindByID(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, item.PricePerUnitMinor, got.Items[0].PricePerUnitMinor)
	require.Equal(t, int64(1000), got.PriceTotalMinor)
}

func TestEngine_AddItemErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(t)

	_, err := f.engine.AddItem(ctx, "missing", f.productA.ID, 1)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	_, err = f.engine.AddItem(ctx, order.ID, "missing", 1)
	require.ErrorIs(t, err, domain.ErrProductNotFound)

	_, err = f.engine.AddItem(ctx, order.ID, f.productA.ID, 0)
	require.ErrorIs(t, err, domain.ErrInvalidQuantity)

	_, err = f.engine.AddItem(ctx, order.ID, f.productA.ID, -3)
	require.True(t, domain.IsValidation(err))

	// неудачная попытка не оставляет следов
	got, err := f.engine.FindByID(ctx, order.ID)
	require.NoError(t, err)
	require.Empty(t, got.Items)
	require.Zero(t, got.PriceTotalMinor)
	require.Len(t, f.outbox.AllPending(), 1)
}

func TestEngine_RemoveItemErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(t)
	other := f.createOrder(t)

	foreign, err := f.engine.AddItem(ctx, other.ID, f.productA.ID, 1)
	require.NoError(t, err)

	_, err = f.engine.RemoveItem(ctx, order.ID, foreign.ID)
	require.ErrorIs(t, err, domain.ErrItemNotFound)

	_, err = f.engine.RemoveItem(ctx, order.ID, "missing")
	require.ErrorIs(t, err, domain.ErrItemNotFound)

	_, err = f.engine.RemoveItem(ctx, "missing", foreign.ID)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	got, err := f.engine.FindByID(ctx, other.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
}

func TestEngine_Discount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(t)

	_, err := f.engine.Discount(ctx, "missing", 100)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	_, err = f.engine.Discount(ctx, order.ID, -1)
	require.ErrorIs(t, err, domain.ErrInvalidDiscount)

	// скидка больше итога не проверяется и уводит итог в минус
	got, err := f.engine.Discount(ctx, order.ID, 300)
	require.NoError(t, err)
	require.Equal(t, int64(-300), got.PriceTotalMinor)
	require.Equal(t, int64(300), got.DiscountMinor)
}

func TestEngine_RejectsAmountOverflow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(t)

	pricey, err := f.products.Create(ctx, domain.Product{Name: "pricey", PriceMinor: 10_000_000_000})
	require.NoError(t, err)
	_, err = f.engine.AddItem(ctx, order.ID, pricey.ID, 1_000_000_000)
	require.ErrorIs(t, err, domain.ErrAmountOutOfRange)

	half, err := f.products.Create(ctx, domain.Product{Name: "half", PriceMinor: math.MaxInt64/2 + 1})
	require.NoError(t, err)
	_, err = f.engine.AddItem(ctx, order.ID, half.ID, 1)
	require.NoError(t, err)
	_, err = f.engine.AddItem(ctx, order.ID, half.ID, 1)
	require.ErrorIs(t, err, domain.ErrAmountOutOfRange)

	got, err := f.engine.FindByID(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	require.Equal(t, half.PriceMinor, got.PriceTotalMinor)
	requireConsistent(t, got)

	other := f.createOrder(t)
	_, err = f.engine.Discount(ctx, other.ID, math.MaxInt64)
	require.NoError(t, err)
	_, err = f.engine.Discount(ctx, other.ID, 1)
	require.ErrorIs(t, err, domain.ErrAmountOutOfRange)

	got, err = f.engine.FindByID(ctx, other.ID)
	require.NoError(t, err)
	require.Equal(t, int64(math.MaxInt64), got.DiscountMinor)
	requireConsistent(t, got)
}

func TestEngine_CompleteOrderRequiresFinishedItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(t)

	item, err := f.engine.AddItem(ctx, order.ID, f.productA.ID, 1)
	require.NoError(t, err)

	_, err = f.engine.CompleteOrder(ctx, order.ID)
	require.ErrorIs(t, err, domain.ErrOrderNotFinished)
	require.True(t, domain.IsInvalidState(err))

	got, err := f.engine.FindByID(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusOpen, got.Status)
	require.Nil(t, got.FinishedAt)

	finished, err := f.engine.CompleteOrderItem(ctx, item.ID)
	require.NoError(t, err)
	require.NotNil(t, finished.FinishedAt)
	require.Equal(t, domain.ItemStatusFinished, finished.Status)

	again, err := f.engine.CompleteOrderItem(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, finished.FinishedAt.UnixNano(), again.FinishedAt.UnixNano())

	completed, err := f.engine.CompleteOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusCompleted, completed.Status)
	require.NotNil(t, completed.FinishedAt)
	requireConsistent(t, completed)

	_, err = f.engine.CompleteOrderItem(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrItemNotFound)
}

func TestEngine_CompletedOrderIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(t)

	item, err := f.engine.AddItem(ctx, order.ID, f.productA.ID, 1)
	require.NoError(t, err)
	_, err = f.engine.CompleteOrderItem(ctx, item.ID)
	require.NoError(t, err)
	completed, err := f.engine.CompleteOrder(ctx, order.ID)
	require.NoError(t, err)

	_, err = f.engine.AddItem(ctx, order.ID, f.productB.ID, 1)
	require.ErrorIs(t, err, domain.ErrOrderCompleted)
	_, err = f.engine.RemoveItem(ctx, order.ID, item.ID)
	require.ErrorIs(t, err, domain.ErrOrderCompleted)
	_, err = f.engine.Discount(ctx, order.ID, 100)
	require.ErrorIs(t, err, domain.ErrOrderCompleted)
	_, err = f.engine.UpdateDescription(ctx, order.ID, "late")
	require.ErrorIs(t, err, domain.ErrOrderCompleted)
	_, err = f.engine.CompleteOrder(ctx, order.ID)
	require.ErrorIs(t, err, domain.ErrOrderCompleted)

	got, err := f.engine.FindByID(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, completed.PriceTotalMinor, got.PriceTotalMinor)
	require.Len(t, got.Items, 1)
	require.Equal(t, "test", got.Description)
}

func TestEngine_ReadsAreStable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(t)

	_, err := f.engine.AddItem(ctx, order.ID, f.productA.ID, 3)
	require.NoError(t, err)

	first, err := f.engine.FindByID(ctx, order.ID)
	require.NoError(t, err)
	second, err := f.engine.FindByID(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestEngine_FindAllAndByClient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mine := f.createOrder(t)
	_, err := f.engine.AddItem(ctx, mine.ID, f.productA.ID, 1)
	require.NoError(t, err)
	_, err = f.engine.CreateOrder(ctx, domain.CreateOrderInput{ClientID: "client-2"})
	require.NoError(t, err)

	all, err := f.engine.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	byClient, err := f.engine.FindByClientID(ctx, "client-1")
	require.NoError(t, err)
	require.Len(t, byClient, 1)
	require.Len(t, byClient[0].Items, 1)

	_, err = f.engine.FindByClientID(ctx, " ")
	require.ErrorIs(t, err, domain.ErrClientIDRequired)
}

func TestEngine_UpdateAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(t)

	_, err := f.engine.AddItem(ctx, order.ID, f.productA.ID, 1)
	require.NoError(t, err)

	updated, err := f.engine.UpdateDescription(ctx, order.ID, "renamed")
	require.NoError(t, err)
	require.Equal(t, "renamed", updated.Description)
	require.Equal(t, int64(1000), updated.PriceTotalMinor)

	require.NoError(t, f.engine.Delete(ctx, order.ID))
	_, err = f.engine.FindByID(ctx, order.ID)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
	require.ErrorIs(t, f.engine.Delete(ctx, order.ID), domain.ErrOrderNotFound)
}

func TestEngine_EventsEnqueuedPerMutation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(t)

	item, err := f.engine.AddItem(ctx, order.ID, f.productA.ID, 1)
	require.NoError(t, err)
	_, err = f.engine.Discount(ctx, order.ID, 10)
	require.NoError(t, err)
	_, err = f.engine.CompleteOrderItem(ctx, item.ID)
	require.NoError(t, err)
	_, err = f.engine.CompleteOrder(ctx, order.ID)
	require.NoError(t, err)

	var types []string
	for _, msg := range f.outbox.AllPending() {
		require.Equal(t, order.ID, msg.AggregateID)
		types = append(types, msg.EventType)
	}
	require.Equal(t, []string{
		domain.EventOrderCreated,
		domain.EventOrderItemAdded,
		domain.EventOrderDiscounted,
		domain.EventOrderItemFinished,
		domain.EventOrderCompleted,
	}, types)
}

// failingStore оборачивает хранилище и ломает UpdateOrderTotal.
type failingStore struct {
	inner domain.OrderStore
	err   error
}

func (s *failingStore) InTx(ctx context.Context, fn func(tx domain.OrderTx) error) error {
	return s.inner.InTx(ctx, func(tx domain.OrderTx) error {
		return fn(&failingTx{OrderTx: tx, err: s.err})
	})
}

type failingTx struct {
	domain.OrderTx
	err error
}

func (tx *failingTx) UpdateOrderTotal(string, int64, int64, time.Time) error {
	return tx.err
}

// staleItemStore отдаёт позицию из GetItem без отметки о завершении,
// как если бы её завершила параллельная транзакция.
type staleItemStore struct {
	inner domain.OrderStore
}

func (s *staleItemStore) InTx(ctx context.Context, fn func(tx domain.OrderTx) error) error {
	return s.inner.InTx(ctx, func(tx domain.OrderTx) error {
		return fn(&staleItemTx{OrderTx: tx})
	})
}

type staleItemTx struct {
	domain.OrderTx
}

func (tx *staleItemTx) GetItem(id string) (domain.OrderItem, error) {
	item, err := tx.OrderTx.GetItem(id)
	item.Status = domain.ItemStatusPending
	item.FinishedAt = nil
	return item, err
}

func TestEngine_CompleteOrderItemUsesLockedState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(t)

	item, err := f.engine.AddItem(ctx, order.ID, f.productA.ID, 1)
	require.NoError(t, err)
	finished, err := f.engine.CompleteOrderItem(ctx, item.ID)
	require.NoError(t, err)
	events := len(f.outbox.AllPending())

	stale := aggregate.NewEngine(&staleItemStore{inner: f.store}, aggregate.WithClock(func() time.Time {
		return finished.FinishedAt.Add(time.Hour)
	}))
	again, err := stale.CompleteOrderItem(ctx, item.ID)
	require.NoError(t, err)
	require.True(t, again.Finished())
	require.True(t, again.FinishedAt.Equal(*finished.FinishedAt), "finished_at must not be overwritten")
	require.Len(t, f.outbox.AllPending(), events, "repeat completion must not emit events")
}

func TestEngine_AddItemRollsBackOnStoreFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(t)

	boom := errors.New("disk full")
	broken := aggregate.NewEngine(&failingStore{inner: f.store, err: boom})

	_, err := broken.AddItem(ctx, order.ID, f.productA.ID, 2)
	require.ErrorIs(t, err, boom)

	got, err := f.engine.FindByID(ctx, order.ID)
	require.NoError(t, err)
	require.Empty(t, got.Items)
	require.Zero(t, got.PriceTotalMinor)
	require.Len(t, f.outbox.AllPending(), 1)
}

func TestEngine_ConcurrentAddItemKeepsTotalConsistent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(t)

	const workers = 32
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			productID := f.productA.ID
			if i%2 == 0 {
				productID = f.productB.ID
			}
			if _, err := f.engine.AddItem(ctx, order.ID, productID, int32(i%3+1)); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := f.engine.FindByID(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, workers)
	itemsTotal, err := got.ItemsTotal()
	require.NoError(t, err)
	require.Equal(t, itemsTotal, got.PriceTotalMinor)
	requireConsistent(t, got)
}
