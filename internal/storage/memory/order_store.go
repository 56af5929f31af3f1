package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront-oms/internal/domain"
)

// OrderStore - in-memory реализация OrderStore для разработки и тестов.
// Транзакции сериализуются одним мьютексом; откат выполняется по журналу
// обратных операций, поэтому наблюдатель никогда не видит частичный результат.
type OrderStore struct {
	mu       sync.Mutex
	orders   map[string]domain.Order
	items    map[string]domain.OrderItem
	products *ProductRepository
	outbox   *OutboxRepository
}

// NewOrderStore создаёт хранилище заказов. products и outbox могут быть nil:
// тогда поиск товара возвращает ErrProductNotFound, а события outbox отбрасываются.
func NewOrderStore(products *ProductRepository, outbox *OutboxRepository) *OrderStore {
	return &OrderStore{
		orders:   make(map[string]domain.Order),
		items:    make(map[string]domain.OrderItem),
		products: products,
		outbox:   outbox,
	}
}

// InTx выполняет fn под эксклюзивной блокировкой хранилища.
func (s *OrderStore) InTx(ctx context.Context, fn func(tx domain.OrderTx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &orderTx{store: s}
	defer func() {
		if p := recover(); p != nil {
			tx.rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	if err := ctx.Err(); err != nil {
		tx.rollback()
		return err
	}

	if s.outbox != nil {
		for _, msg := range tx.pending {
			if _, err := s.outbox.Enqueue(ctx, msg); err != nil {
				tx.rollback()
				return err
			}
		}
	}
	return nil
}

type orderTx struct {
	store   *OrderStore
	undo    []func()
	pending []domain.OutboxMessage
}

func (tx *orderTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
	tx.pending = nil
}

// saveOrder запоминает предыдущее состояние заказа для отката.
func (tx *orderTx) saveOrder(id string) {
	prev, existed := tx.store.orders[id]
	tx.undo = append(tx.undo, func() {
		if existed {
			tx.store.orders[id] = prev
		} else {
			delete(tx.store.orders, id)
		}
	})
}

func (tx *orderTx) saveItem(id string) {
	prev, existed := tx.store.items[id]
	tx.undo = append(tx.undo, func() {
		if existed {
			tx.store.items[id] = prev
		} else {
			delete(tx.store.items, id)
		}
	})
}

func (tx *orderTx) CreateOrder(order domain.Order) error {
	if _, exists := tx.store.orders[order.ID]; exists {
		return domain.ErrTxConflict
	}
	tx.saveOrder(order.ID)
	order.Items = nil
	tx.store.orders[order.ID] = order
	return nil
}

func (tx *orderTx) GetOrderByID(id string) (domain.Order, error) {
	order, ok := tx.store.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

func (tx *orderTx) ListOrders() ([]domain.Order, error) {
	return tx.listOrders(func(domain.Order) bool { return true }), nil
}

func (tx *orderTx) ListOrdersByClient(clientID string) ([]domain.Order, error) {
	return tx.listOrders(func(o domain.Order) bool { return o.ClientID == clientID }), nil
}

func (tx *orderTx) listOrders(match func(domain.Order) bool) []domain.Order {
	result := make([]domain.Order, 0, len(tx.store.orders))
	for _, order := range tx.store.orders {
		if match(order) {
			result = append(result, cloneOrder(order))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

func (tx *orderTx) UpdateOrderTotal(id string, priceTotalMinor, discountMinor int64, updatedAt time.Time) error {
	return tx.updateOrder(id, func(o *domain.Order) {
		o.PriceTotalMinor = priceTotalMinor
		o.DiscountMinor = discountMinor
		o.UpdatedAt = updatedAt
	})
}

func (tx *orderTx) UpdateOrderStatus(id string, status domain.OrderStatus, finishedAt *time.Time, updatedAt time.Time) error {
	return tx.updateOrder(id, func(o *domain.Order) {
		o.Status = status
		o.FinishedAt = cloneTime(finishedAt)
		o.UpdatedAt = updatedAt
	})
}

func (tx *orderTx) UpdateOrderDescription(id, description string, updatedAt time.Time) error {
	return tx.updateOrder(id, func(o *domain.Order) {
		o.Description = description
		o.UpdatedAt = updatedAt
	})
}

func (tx *orderTx) updateOrder(id string, mut func(o *domain.Order)) error {
	order, ok := tx.store.orders[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	tx.saveOrder(id)
	mut(&order)
	tx.store.orders[id] = order
	return nil
}

func (tx *orderTx) DeleteOrder(id string) error {
	if _, ok := tx.store.orders[id]; !ok {
		return domain.ErrOrderNotFound
	}
	for itemID, item := range tx.store.items {
		if item.OrderID != id {
			continue
		}
		tx.saveItem(itemID)
		delete(tx.store.items, itemID)
	}
	tx.saveOrder(id)
	delete(tx.store.orders, id)
	return nil
}

func (tx *orderTx) CreateItem(item domain.OrderItem) error {
	if _, ok := tx.store.orders[item.OrderID]; !ok {
		return domain.ErrOrderNotFound
	}
	if _, exists := tx.store.items[item.ID]; exists {
		return domain.ErrTxConflict
	}
	tx.saveItem(item.ID)
	tx.store.items[item.ID] = cloneItem(item)
	return nil
}

func (tx *orderTx) GetItem(id string) (domain.OrderItem, error) {
	item, ok := tx.store.items[id]
	if !ok {
		return domain.OrderItem{}, domain.ErrItemNotFound
	}
	return cloneItem(item), nil
}

func (tx *orderTx) DeleteItem(id string) error {
	if _, ok := tx.store.items[id]; !ok {
		return domain.ErrItemNotFound
	}
	tx.saveItem(id)
	delete(tx.store.items, id)
	return nil
}

func (tx *orderTx) FinishItem(id string, finishedAt time.Time) error {
	item, ok := tx.store.items[id]
	if !ok {
		return domain.ErrItemNotFound
	}
	tx.saveItem(id)
	item.Status = domain.ItemStatusFinished
	item.FinishedAt = &finishedAt
	tx.store.items[id] = item
	return nil
}

func (tx *orderTx) ListItemsByOrder(orderID string) ([]domain.OrderItem, error) {
	result := make([]domain.OrderItem, 0)
	for _, item := range tx.store.items {
		if item.OrderID == orderID {
			result = append(result, cloneItem(item))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (tx *orderTx) GetProduct(id string) (domain.Product, error) {
	if tx.store.products == nil {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return tx.store.products.get(id)
}

func (tx *orderTx) EnqueueOutbox(msg domain.OutboxMessage) error {
	msg.Payload = append([]byte(nil), msg.Payload...)
	tx.pending = append(tx.pending, msg)
	return nil
}

func cloneOrder(src domain.Order) domain.Order {
	dst := src
	dst.FinishedAt = cloneTime(src.FinishedAt)
	dst.Items = nil
	return dst
}

func cloneItem(src domain.OrderItem) domain.OrderItem {
	dst := src
	dst.FinishedAt = cloneTime(src.FinishedAt)
	return dst
}

func cloneTime(src *time.Time) *time.Time {
	if src == nil {
		return nil
	}
	t := *src
	return &t
}

var _ domain.OrderStore = (*OrderStore)(nil)
