package domain

import (
	"fmt"
	"math"
	"time"
	"unicode/utf8"
)

// MaxDescriptionLength ограничивает длину описания заказа в символах.
const MaxDescriptionLength = 1024

// OrderStatus описывает стадию жизненного цикла заказа.
// Числовые значения совпадают с хранимыми в базе и в API.
type OrderStatus int

const (
	// OrderStatusOpen - заказ открыт, позиции можно добавлять и удалять.
	OrderStatusOpen OrderStatus = 0
	// OrderStatusInProgress зарезервирован схемой, ни одна операция в него не переводит.
	OrderStatusInProgress OrderStatus = 1
	// OrderStatusCompleted - терминальное состояние, заказ неизменяем.
	OrderStatusCompleted OrderStatus = 2
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusOpen, OrderStatusInProgress, OrderStatusCompleted:
		return true
	default:
		return false
	}
}

// IsTerminal сообщает, что из статуса нет переходов.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted
}

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusOpen:
		return "open"
	case OrderStatusInProgress:
		return "in_progress"
	case OrderStatusCompleted:
		return "completed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ItemStatus отслеживает выполнение отдельной позиции.
type ItemStatus int

const (
	ItemStatusPending  ItemStatus = 0
	ItemStatusFinished ItemStatus = 1
)

func (s ItemStatus) String() string {
	if s == ItemStatusFinished {
		return "finished"
	}
	return "pending"
}

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	ID        string
	OrderID   string
	ProductID string
	// Quantity - количество единиц товара, всегда больше нуля.
	Quantity int32
	// PricePerUnitMinor - цена товара на момент добавления позиции.
	// Повторно из каталога не читается: история заказа отражает уплаченную цену.
	PricePerUnitMinor int64
	// PriceTotalMinor = Quantity * PricePerUnitMinor, неизменяем после создания.
	PriceTotalMinor int64
	Status          ItemStatus
	CreatedAt       time.Time
	FinishedAt      *time.Time
}

// NewOrderItem рассчитывает стоимость позиции по снимку цены товара.
func NewOrderItem(id, orderID string, product Product, quantity int32, now time.Time) (OrderItem, error) {
	if quantity <= 0 {
		return OrderItem{}, ErrInvalidQuantity
	}
	if product.PriceMinor < 0 {
		return OrderItem{}, ErrInvalidPrice
	}
	total, err := mulAmount(product.PriceMinor, quantity)
	if err != nil {
		return OrderItem{}, err
	}
	return OrderItem{
		ID:                id,
		OrderID:           orderID,
		ProductID:         product.ID,
		Quantity:          quantity,
		PricePerUnitMinor: product.PriceMinor,
		PriceTotalMinor:   total,
		Status:            ItemStatusPending,
		CreatedAt:         now,
	}, nil
}

// mulAmount умножает неотрицательную цену на количество без переполнения.
func mulAmount(price int64, quantity int32) (int64, error) {
	if quantity > 0 && price > math.MaxInt64/int64(quantity) {
		return 0, ErrAmountOutOfRange
	}
	return price * int64(quantity), nil
}

func addAmount(a, b int64) (int64, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, ErrAmountOutOfRange
	}
	return a + b, nil
}

// Finished сообщает, отмечена ли позиция завершённой.
func (i OrderItem) Finished() bool {
	return i.FinishedAt != nil
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID          string
	Description string
	ClientID    string
	Status      OrderStatus
	// PriceTotalMinor всегда равен сумме позиций минус накопленная скидка.
	PriceTotalMinor int64
	// DiscountMinor - суммарная скидка, применённая к заказу.
	DiscountMinor int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
	FinishedAt    *time.Time
	Items         []OrderItem
}

// ItemsTotal суммирует стоимость живых позиций.
func (o *Order) ItemsTotal() (int64, error) {
	var sum int64
	for _, item := range o.Items {
		var err error
		if sum, err = addAmount(sum, item.PriceTotalMinor); err != nil {
			return 0, err
		}
	}
	return sum, nil
}

// Recalculate пересчитывает итог заказа по позициям. Инкремент не используется:
// итог выводится из текущего набора позиций внутри транзакции. При
// переполнении итог не меняется.
func (o *Order) Recalculate() (int64, error) {
	items, err := o.ItemsTotal()
	if err != nil {
		return o.PriceTotalMinor, err
	}
	total, err := addAmount(items, -o.DiscountMinor)
	if err != nil {
		return o.PriceTotalMinor, err
	}
	o.PriceTotalMinor = total
	return total, nil
}

// ApplyDiscount добавляет amount к накопленной скидке. Итог нужно
// пересчитать отдельно.
func (o *Order) ApplyDiscount(amount int64) error {
	if amount < 0 {
		return ErrInvalidDiscount
	}
	discount, err := addAmount(o.DiscountMinor, amount)
	if err != nil {
		return err
	}
	o.DiscountMinor = discount
	return nil
}

// AllItemsFinished сообщает, что все позиции заказа завершены.
func (o *Order) AllItemsFinished() bool {
	for _, item := range o.Items {
		if !item.Finished() {
			return false
		}
	}
	return true
}

// FindItem возвращает позицию заказа по идентификатору.
func (o *Order) FindItem(itemID string) (OrderItem, bool) {
	for _, item := range o.Items {
		if item.ID == itemID {
			return item, true
		}
	}
	return OrderItem{}, false
}

// EnsureMutable отклоняет изменения завершённого заказа.
func (o *Order) EnsureMutable() error {
	if o.Status.IsTerminal() {
		return ErrOrderCompleted
	}
	return nil
}

// ValidateInvariants проверяет инварианты агрегата и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.ClientID == "" {
		errs = append(errs, ErrClientIDRequired)
	}
	if !o.Status.Valid() {
		errs = append(errs, ErrInvalidStatus)
	}
	if utf8.RuneCountInString(o.Description) > MaxDescriptionLength {
		errs = append(errs, ErrDescriptionTooLong)
	}

	for _, item := range o.Items {
		if item.OrderID != "" && item.OrderID != o.ID {
			errs = append(errs, fmt.Errorf("item %s belongs to order %s", item.ID, item.OrderID))
		}
		if item.Quantity <= 0 {
			errs = append(errs, ErrInvalidQuantity)
		}
		if want, err := mulAmount(item.PricePerUnitMinor, item.Quantity); err != nil || want != item.PriceTotalMinor {
			errs = append(errs, fmt.Errorf("item %s total does not match quantity * price", item.ID))
		}
	}
	if o.DiscountMinor < 0 {
		errs = append(errs, ErrInvalidDiscount)
	}

	items, err := o.ItemsTotal()
	if err != nil {
		errs = append(errs, err)
	} else if want, err := addAmount(items, -o.DiscountMinor); err != nil || want != o.PriceTotalMinor {
		errs = append(errs, fmt.Errorf("order total %d does not match items %d minus discount %d", o.PriceTotalMinor, items, o.DiscountMinor))
	}

	if o.Status == OrderStatusCompleted {
		if o.FinishedAt == nil {
			errs = append(errs, fmt.Errorf("completed order %s has no finished_at", o.ID))
		}
		if !o.AllItemsFinished() {
			errs = append(errs, ErrOrderNotFinished)
		}
	} else if o.FinishedAt != nil {
		errs = append(errs, fmt.Errorf("order %s has finished_at but status %s", o.ID, o.Status))
	}

	return errs
}

// CreateOrderInput - проверенные входные данные для создания заказа.
type CreateOrderInput struct {
	Description string
	Status      OrderStatus
	ClientID    string
}

// Validate повторяет проверки внешнего валидатора на границе ядра.
func (in CreateOrderInput) Validate() error {
	if in.ClientID == "" {
		return ErrClientIDRequired
	}
	if !in.Status.Valid() {
		return ErrInvalidStatus
	}
	if in.Status == OrderStatusCompleted {
		return ErrStatusNotAllowed
	}
	if utf8.RuneCountInString(in.Description) > MaxDescriptionLength {
		return ErrDescriptionTooLong
	}
	return nil
}
