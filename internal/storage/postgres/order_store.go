package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront-oms/internal/domain"
)

const orderColumns = `id, description, client_id, status, price_total_minor, discount_minor, created_at, updated_at, finished_at`

const itemColumns = `id, order_id, product_id, quantity, price_per_unit_minor, price_total_minor, status, created_at, finished_at`

// OrderStore - PostgreSQL-реализация OrderStore. Операции над одним
// заказом сериализуются блокировкой строки заказа (SELECT ... FOR UPDATE),
// итог пересчитывается по позициям внутри той же транзакции. Списки берут
// FOR SHARE на строки заказов: пока транзакция чтения не завершена, позиции
// и итог прочитанных заказов не меняются.
type OrderStore struct {
	db        *sql.DB
	txTimeout time.Duration
}

// NewOrderStore создаёт хранилище заказов поверх подключения.
func NewOrderStore(store *Store) *OrderStore {
	return &OrderStore{db: store.DB(), txTimeout: opTimeout}
}

// InTx открывает транзакцию READ COMMITTED и фиксирует её, если fn не вернул ошибку.
func (s *OrderStore) InTx(ctx context.Context, fn func(tx domain.OrderTx) error) (err error) {
	ctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return classify("begin tx", err)
	}
	defer func() {
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if err = fn(&orderTx{ctx: ctx, tx: sqlTx}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return classify("commit tx", err)
	}
	return nil
}

type orderTx struct {
	ctx context.Context
	tx  *sql.Tx
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order      domain.Order
		status     int16
		finishedAt sql.NullTime
	)
	if err := row.Scan(
		&order.ID,
		&order.Description,
		&order.ClientID,
		&status,
		&order.PriceTotalMinor,
		&order.DiscountMinor,
		&order.CreatedAt,
		&order.UpdatedAt,
		&finishedAt,
	); err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	if finishedAt.Valid {
		t := finishedAt.Time.UTC()
		order.FinishedAt = &t
	}
	return order, nil
}

func scanItem(row rowScanner) (domain.OrderItem, error) {
	var (
		item       domain.OrderItem
		status     int16
		finishedAt sql.NullTime
	)
	if err := row.Scan(
		&item.ID,
		&item.OrderID,
		&item.ProductID,
		&item.Quantity,
		&item.PricePerUnitMinor,
		&item.PriceTotalMinor,
		&status,
		&item.CreatedAt,
		&finishedAt,
	); err != nil {
		return domain.OrderItem{}, err
	}
	item.Status = domain.ItemStatus(status)
	item.CreatedAt = item.CreatedAt.UTC()
	if finishedAt.Valid {
		t := finishedAt.Time.UTC()
		item.FinishedAt = &t
	}
	return item, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func (t *orderTx) CreateOrder(order domain.Order) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`,
		order.ID, order.Description, order.ClientID, int16(order.Status),
		order.PriceTotalMinor, order.DiscountMinor, order.CreatedAt, order.UpdatedAt,
		nullTime(order.FinishedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert order %s: %w", order.ID, domain.ErrTxConflict)
		}
		return classify("insert order", err)
	}
	return nil
}

func (t *orderTx) GetOrderByID(id string) (domain.Order, error) {
	order, err := scanOrder(t.tx.QueryRowContext(t.ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, classify("get order", err)
	}
	return order, nil
}

func (t *orderTx) ListOrders() ([]domain.Order, error) {
	return t.queryOrders(`
		SELECT ` + orderColumns + `
		FROM orders
		ORDER BY created_at, id
		FOR SHARE
	`)
}

func (t *orderTx) ListOrdersByClient(clientID string) ([]domain.Order, error) {
	return t.queryOrders(`
		SELECT `+orderColumns+`
		FROM orders
		WHERE client_id = $1
		ORDER BY created_at, id
		FOR SHARE
	`, clientID)
}

func (t *orderTx) queryOrders(query string, args ...any) ([]domain.Order, error) {
	rows, err := t.tx.QueryContext(t.ctx, query, args...)
	if err != nil {
		return nil, classify("list orders", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate orders", err)
	}
	return orders, nil
}

func (t *orderTx) UpdateOrderTotal(id string, priceTotalMinor, discountMinor int64, updatedAt time.Time) error {
	return t.execOne("update order total", domain.ErrOrderNotFound, `
		UPDATE orders
		SET price_total_minor = $2, discount_minor = $3, updated_at = $4
		WHERE id = $1
	`, id, priceTotalMinor, discountMinor, updatedAt)
}

func (t *orderTx) UpdateOrderStatus(id string, status domain.OrderStatus, finishedAt *time.Time, updatedAt time.Time) error {
	return t.execOne("update order status", domain.ErrOrderNotFound, `
		UPDATE orders
		SET status = $2, finished_at = $3, updated_at = $4
		WHERE id = $1
	`, id, int16(status), nullTime(finishedAt), updatedAt)
}

func (t *orderTx) UpdateOrderDescription(id, description string, updatedAt time.Time) error {
	return t.execOne("update order description", domain.ErrOrderNotFound, `
		UPDATE orders
		SET description = $2, updated_at = $3
		WHERE id = $1
	`, id, description, updatedAt)
}

// DeleteOrder полагается на ON DELETE CASCADE для позиций.
func (t *orderTx) DeleteOrder(id string) error {
	return t.execOne("delete order", domain.ErrOrderNotFound, `DELETE FROM orders WHERE id = $1`, id)
}

func (t *orderTx) CreateItem(item domain.OrderItem) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO order_items (`+itemColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`,
		item.ID, item.OrderID, item.ProductID, item.Quantity, item.PricePerUnitMinor,
		item.PriceTotalMinor, int16(item.Status), item.CreatedAt, nullTime(item.FinishedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert order item %s: %w", item.ID, domain.ErrTxConflict)
		}
		return classify("insert order item", err)
	}
	return nil
}

func (t *orderTx) GetItem(id string) (domain.OrderItem, error) {
	item, err := scanItem(t.tx.QueryRowContext(t.ctx, `
		SELECT `+itemColumns+`
		FROM order_items
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.OrderItem{}, domain.ErrItemNotFound
		}
		return domain.OrderItem{}, classify("get order item", err)
	}
	return item, nil
}

func (t *orderTx) DeleteItem(id string) error {
	return t.execOne("delete order item", domain.ErrItemNotFound, `DELETE FROM order_items WHERE id = $1`, id)
}

func (t *orderTx) FinishItem(id string, finishedAt time.Time) error {
	return t.execOne("finish order item", domain.ErrItemNotFound, `
		UPDATE order_items
		SET status = $2, finished_at = $3
		WHERE id = $1
	`, id, int16(domain.ItemStatusFinished), finishedAt)
}

func (t *orderTx) ListItemsByOrder(orderID string) ([]domain.OrderItem, error) {
	rows, err := t.tx.QueryContext(t.ctx, `
		SELECT `+itemColumns+`
		FROM order_items
		WHERE order_id = $1
		ORDER BY created_at, id
	`, orderID)
	if err != nil {
		return nil, classify("list order items", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate order items", err)
	}
	return items, nil
}

func (t *orderTx) GetProduct(id string) (domain.Product, error) {
	product, err := scanProduct(t.tx.QueryRowContext(t.ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, classify("get product", err)
	}
	return product, nil
}

func (t *orderTx) EnqueueOutbox(msg domain.OutboxMessage) error {
	if err := insertOutbox(t.ctx, t.tx, msg); err != nil {
		return classify("enqueue outbox message", err)
	}
	return nil
}

func (t *orderTx) execOne(op string, notFound error, query string, args ...any) error {
	res, err := t.tx.ExecContext(t.ctx, query, args...)
	if err != nil {
		return classify(op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if affected == 0 {
		return notFound
	}
	return nil
}

var _ domain.OrderStore = (*OrderStore)(nil)
