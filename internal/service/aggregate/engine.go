// Package aggregate поддерживает инварианты агрегата заказа: итог выводится
// из позиций, завершённый заказ неизменяем, завершение возможно только
// после завершения всех позиций. Каждая операция выполняется в одной
// транзакции OrderStore.
package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront-oms/internal/domain"
)

// Engine - ядро жизненного цикла заказа.
type Engine struct {
	store  domain.OrderStore
	logger *log.Entry
	now    func() time.Time
	newID  func() string
}

// Option настраивает Engine.
type Option func(*Engine)

// WithLogger задаёт logger движка.
func WithLogger(logger *log.Entry) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator подменяет генератор идентификаторов.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) {
		if newID != nil {
			e.newID = newID
		}
	}
}

// NewEngine создаёт движок поверх хранилища заказов.
func NewEngine(store domain.OrderStore, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		logger: log.NewEntry(log.StandardLogger()).WithField("component", "order-aggregate"),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateOrder создаёт открытый заказ без позиций и с нулевым итогом.
func (e *Engine) CreateOrder(ctx context.Context, in domain.CreateOrderInput) (domain.Order, error) {
	in.ClientID = strings.TrimSpace(in.ClientID)
	if err := in.Validate(); err != nil {
		return domain.Order{}, err
	}

	now := e.now()
	order := domain.Order{
		ID:          e.newID(),
		Description: in.Description,
		ClientID:    in.ClientID,
		Status:      in.Status,
		CreatedAt:   now,
		UpdatedAt:   now,
		Items:       []domain.OrderItem{},
	}

	err := e.store.InTx(ctx, func(tx domain.OrderTx) error {
		if err := tx.CreateOrder(order); err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		return e.emit(tx, domain.EventOrderCreated, order, nil, now)
	})
	if err != nil {
		return domain.Order{}, err
	}

	e.logger.WithFields(log.Fields{"order_id": order.ID, "client_id": order.ClientID}).Debug("order created")
	return order, nil
}

// AddItem добавляет позицию по текущей цене товара и пересчитывает итог.
func (e *Engine) AddItem(ctx context.Context, orderID, productID string, quantity int32) (domain.OrderItem, error) {
	switch {
	case orderID == "":
		return domain.OrderItem{}, domain.ErrOrderIDRequired
	case productID == "":
		return domain.OrderItem{}, domain.ErrProductIDRequired
	case quantity <= 0:
		return domain.OrderItem{}, domain.ErrInvalidQuantity
	}

	var item domain.OrderItem
	err := e.store.InTx(ctx, func(tx domain.OrderTx) error {
		order, err := tx.GetOrderByID(orderID)
		if err != nil {
			return err
		}
		product, err := tx.GetProduct(productID)
		if err != nil {
			return err
		}
		if err := order.EnsureMutable(); err != nil {
			return err
		}

		now := e.now()
		item, err = domain.NewOrderItem(e.newID(), order.ID, product, quantity, now)
		if err != nil {
			return err
		}
		if err := tx.CreateItem(item); err != nil {
			return fmt.Errorf("create item: %w", err)
		}
		if err := e.recompute(tx, &order, now); err != nil {
			return err
		}
		return e.emit(tx, domain.EventOrderItemAdded, order, &item, now)
	})
	if err != nil {
		return domain.OrderItem{}, err
	}

	e.logger.WithFields(log.Fields{
		"order_id":   orderID,
		"item_id":    item.ID,
		"product_id": productID,
		"quantity":   quantity,
	}).Debug("item added")
	return item, nil
}

// RemoveItem удаляет позицию заказа и пересчитывает итог по оставшимся.
func (e *Engine) RemoveItem(ctx context.Context, orderID, itemID string) (domain.Order, error) {
	if orderID == "" {
		return domain.Order{}, domain.ErrOrderIDRequired
	}
	if itemID == "" {
		return domain.Order{}, domain.ErrItemIDRequired
	}

	var order domain.Order
	err := e.store.InTx(ctx, func(tx domain.OrderTx) error {
		var err error
		order, err = tx.GetOrderByID(orderID)
		if err != nil {
			return err
		}
		item, err := tx.GetItem(itemID)
		if err != nil {
			return err
		}
		if item.OrderID != order.ID {
			return domain.ErrItemNotFound
		}
		if err := order.EnsureMutable(); err != nil {
			return err
		}

		now := e.now()
		if err := tx.DeleteItem(item.ID); err != nil {
			return fmt.Errorf("delete item: %w", err)
		}
		if err := e.recompute(tx, &order, now); err != nil {
			return err
		}
		return e.emit(tx, domain.EventOrderItemRemoved, order, &item, now)
	})
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// Discount уменьшает итог заказа на amount. Скидка копится на заказе
// и не распределяется по позициям; итог может уйти в минус.
func (e *Engine) Discount(ctx context.Context, orderID string, amountMinor int64) (domain.Order, error) {
	if orderID == "" {
		return domain.Order{}, domain.ErrOrderIDRequired
	}
	if amountMinor < 0 {
		return domain.Order{}, domain.ErrInvalidDiscount
	}

	var order domain.Order
	err := e.store.InTx(ctx, func(tx domain.OrderTx) error {
		var err error
		order, err = tx.GetOrderByID(orderID)
		if err != nil {
			return err
		}
		if err := order.EnsureMutable(); err != nil {
			return err
		}

		if err := order.ApplyDiscount(amountMinor); err != nil {
			return err
		}
		now := e.now()
		if err := e.recompute(tx, &order, now); err != nil {
			return err
		}
		return e.emitEvent(tx, domain.EventOrderDiscounted, order, now, func(ev *domain.OrderEvent) {
			ev.AmountMinor = amountMinor
		})
	})
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// CompleteOrderItem отмечает позицию завершённой. Повторный вызов для уже
// завершённой позиции ничего не меняет.
func (e *Engine) CompleteOrderItem(ctx context.Context, itemID string) (domain.OrderItem, error) {
	if itemID == "" {
		return domain.OrderItem{}, domain.ErrItemIDRequired
	}

	var item domain.OrderItem
	err := e.store.InTx(ctx, func(tx domain.OrderTx) error {
		located, err := tx.GetItem(itemID)
		if err != nil {
			return err
		}
		// Блокируем заказ и перечитываем позицию уже под блокировкой:
		// конкурирующее завершение могло закоммититься между чтениями.
		order, err := e.load(tx, located.OrderID)
		if err != nil {
			return err
		}
		var ok bool
		if item, ok = order.FindItem(itemID); !ok {
			return domain.ErrItemNotFound
		}
		if item.Finished() {
			return nil
		}

		now := e.now()
		if err := tx.FinishItem(item.ID, now); err != nil {
			return fmt.Errorf("finish item: %w", err)
		}
		item.Status = domain.ItemStatusFinished
		item.FinishedAt = &now
		return e.emit(tx, domain.EventOrderItemFinished, order, &item, now)
	})
	if err != nil {
		return domain.OrderItem{}, err
	}
	return item, nil
}

// CompleteOrder переводит заказ в COMPLETED, если все позиции завершены.
func (e *Engine) CompleteOrder(ctx context.Context, orderID string) (domain.Order, error) {
	if orderID == "" {
		return domain.Order{}, domain.ErrOrderIDRequired
	}

	var order domain.Order
	err := e.store.InTx(ctx, func(tx domain.OrderTx) error {
		var err error
		order, err = e.load(tx, orderID)
		if err != nil {
			return err
		}
		if err := order.EnsureMutable(); err != nil {
			return err
		}
		if !order.AllItemsFinished() {
			return domain.ErrOrderNotFinished
		}

		now := e.now()
		if err := tx.UpdateOrderStatus(order.ID, domain.OrderStatusCompleted, &now, now); err != nil {
			return fmt.Errorf("update order status: %w", err)
		}
		order.Status = domain.OrderStatusCompleted
		order.FinishedAt = &now
		order.UpdatedAt = now
		return e.emit(tx, domain.EventOrderCompleted, order, nil, now)
	})
	if err != nil {
		return domain.Order{}, err
	}

	e.logger.WithFields(log.Fields{
		"order_id":          order.ID,
		"price_total_minor": order.PriceTotalMinor,
	}).Info("order completed")
	return order, nil
}

// UpdateDescription меняет описание открытого заказа. Итог и статус через
// этот путь не меняются.
func (e *Engine) UpdateDescription(ctx context.Context, orderID, description string) (domain.Order, error) {
	if orderID == "" {
		return domain.Order{}, domain.ErrOrderIDRequired
	}
	if len([]rune(description)) > domain.MaxDescriptionLength {
		return domain.Order{}, domain.ErrDescriptionTooLong
	}

	var order domain.Order
	err := e.store.InTx(ctx, func(tx domain.OrderTx) error {
		var err error
		order, err = e.load(tx, orderID)
		if err != nil {
			return err
		}
		if err := order.EnsureMutable(); err != nil {
			return err
		}

		now := e.now()
		if err := tx.UpdateOrderDescription(order.ID, description, now); err != nil {
			return fmt.Errorf("update description: %w", err)
		}
		order.Description = description
		order.UpdatedAt = now
		return e.emit(tx, domain.EventOrderUpdated, order, nil, now)
	})
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// Delete удаляет заказ вместе с позициями.
func (e *Engine) Delete(ctx context.Context, orderID string) error {
	if orderID == "" {
		return domain.ErrOrderIDRequired
	}

	return e.store.InTx(ctx, func(tx domain.OrderTx) error {
		order, err := tx.GetOrderByID(orderID)
		if err != nil {
			return err
		}
		if err := tx.DeleteOrder(order.ID); err != nil {
			return fmt.Errorf("delete order: %w", err)
		}
		return e.emit(tx, domain.EventOrderDeleted, order, nil, e.now())
	})
}

// FindByID возвращает заказ вместе с позициями.
func (e *Engine) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if orderID == "" {
		return domain.Order{}, domain.ErrOrderIDRequired
	}

	var order domain.Order
	err := e.store.InTx(ctx, func(tx domain.OrderTx) error {
		var err error
		order, err = e.load(tx, orderID)
		return err
	})
	return order, err
}

// FindAll возвращает все заказы с позициями.
func (e *Engine) FindAll(ctx context.Context) ([]domain.Order, error) {
	var orders []domain.Order
	err := e.store.InTx(ctx, func(tx domain.OrderTx) error {
		list, err := tx.ListOrders()
		if err != nil {
			return fmt.Errorf("list orders: %w", err)
		}
		orders, err = attachItems(tx, list)
		return err
	})
	return orders, err
}

// FindByClientID возвращает заказы клиента с позициями.
func (e *Engine) FindByClientID(ctx context.Context, clientID string) ([]domain.Order, error) {
	if strings.TrimSpace(clientID) == "" {
		return nil, domain.ErrClientIDRequired
	}

	var orders []domain.Order
	err := e.store.InTx(ctx, func(tx domain.OrderTx) error {
		list, err := tx.ListOrdersByClient(clientID)
		if err != nil {
			return fmt.Errorf("list client orders: %w", err)
		}
		orders, err = attachItems(tx, list)
		return err
	})
	return orders, err
}

func (e *Engine) load(tx domain.OrderTx, orderID string) (domain.Order, error) {
	order, err := tx.GetOrderByID(orderID)
	if err != nil {
		return domain.Order{}, err
	}
	items, err := tx.ListItemsByOrder(order.ID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("list items: %w", err)
	}
	order.Items = items
	return order, nil
}

// recompute перечитывает позиции заказа и сохраняет итог, выведенный из них.
func (e *Engine) recompute(tx domain.OrderTx, order *domain.Order, now time.Time) error {
	items, err := tx.ListItemsByOrder(order.ID)
	if err != nil {
		return fmt.Errorf("list items: %w", err)
	}
	order.Items = items
	if _, err := order.Recalculate(); err != nil {
		return err
	}
	order.UpdatedAt = now

	if err := tx.UpdateOrderTotal(order.ID, order.PriceTotalMinor, order.DiscountMinor, now); err != nil {
		return fmt.Errorf("update order total: %w", err)
	}
	return nil
}

func (e *Engine) emit(tx domain.OrderTx, eventType string, order domain.Order, item *domain.OrderItem, now time.Time) error {
	return e.emitEvent(tx, eventType, order, now, func(ev *domain.OrderEvent) {
		if item == nil {
			return
		}
		ev.ItemID = item.ID
		ev.ProductID = item.ProductID
		ev.Quantity = item.Quantity
		ev.AmountMinor = item.PriceTotalMinor
	})
}

func (e *Engine) emitEvent(tx domain.OrderTx, eventType string, order domain.Order, now time.Time, fill func(*domain.OrderEvent)) error {
	event := domain.OrderEvent{
		OrderID:         order.ID,
		ClientID:        order.ClientID,
		Status:          int(order.Status),
		PriceTotalMinor: order.PriceTotalMinor,
		DiscountMinor:   order.DiscountMinor,
		OccurredAt:      now,
	}
	if fill != nil {
		fill(&event)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	if err := tx.EnqueueOutbox(domain.OutboxMessage{
		ID:            e.newID(),
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   order.ID,
		EventType:     eventType,
		Payload:       payload,
		CreatedAt:     now,
	}); err != nil {
		return fmt.Errorf("enqueue %s event: %w", eventType, err)
	}
	return nil
}

func attachItems(tx domain.OrderTx, orders []domain.Order) ([]domain.Order, error) {
	result := make([]domain.Order, 0, len(orders))
	for _, order := range orders {
		items, err := tx.ListItemsByOrder(order.ID)
		if err != nil {
			return nil, fmt.Errorf("list items of %s: %w", order.ID, err)
		}
		order.Items = items
		result = append(result, order)
	}
	return result, nil
}
