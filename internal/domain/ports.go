package domain

import (
	"context"
	"time"
)

// OrderStore - хранилище агрегата заказа. Каждая операция ядра выполняется
// целиком внутри одного InTx: либо фиксируется всё, либо ничего.
type OrderStore interface {
	// InTx открывает транзакцию, вызывает fn и фиксирует её, если fn вернул nil.
	// Любая ошибка fn или хранилища откатывает все изменения.
	InTx(ctx context.Context, fn func(tx OrderTx) error) error
}

// OrderTx - операции хранилища, доступные внутри транзакции.
type OrderTx interface {
	CreateOrder(order Order) error
	// GetOrderByID возвращает заказ без позиций и блокирует его до конца транзакции.
	GetOrderByID(id string) (Order, error)
	ListOrders() ([]Order, error)
	ListOrdersByClient(clientID string) ([]Order, error)
	UpdateOrderTotal(id string, priceTotalMinor, discountMinor int64, updatedAt time.Time) error
	UpdateOrderStatus(id string, status OrderStatus, finishedAt *time.Time, updatedAt time.Time) error
	UpdateOrderDescription(id, description string, updatedAt time.Time) error
	// DeleteOrder удаляет заказ вместе с его позициями.
	DeleteOrder(id string) error

	CreateItem(item OrderItem) error
	GetItem(id string) (OrderItem, error)
	DeleteItem(id string) error
	FinishItem(id string, finishedAt time.Time) error
	// ListItemsByOrder возвращает позиции в порядке создания.
	ListItemsByOrder(orderID string) ([]OrderItem, error)

	// GetProduct читает товар в том же снимке, что и заказ.
	GetProduct(id string) (Product, error)
	// EnqueueOutbox сохраняет событие в outbox в рамках той же транзакции.
	EnqueueOutbox(msg OutboxMessage) error
}

// ProductCatalog - каталог товаров только для чтения.
type ProductCatalog interface {
	GetProduct(ctx context.Context, id string) (Product, error)
	List(ctx context.Context) ([]Product, error)
}

// ProductRepository управляет каталогом товаров.
type ProductRepository interface {
	ProductCatalog
	// Create сохраняет товар; имя уникально.
	Create(ctx context.Context, product Product) (Product, error)
	GetByName(ctx context.Context, name string) (Product, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository - очередь событий для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// TokenRevocationStore хранит отозванные токены до истечения их срока жизни.
type TokenRevocationStore interface {
	// Revoke помечает jti отозванным до момента expiresAt.
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
