package domain

import (
	"strings"
	"time"
)

// Product - позиция каталога. Заказ ссылается на товар только для чтения
// цены на момент добавления позиции.
type Product struct {
	ID          string
	Name        string
	Description string
	// PriceMinor - текущая цена за единицу в минимальных денежных единицах.
	PriceMinor int64
	CreatedAt  time.Time
}

// Validate проверяет товар перед сохранением.
func (p Product) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return ErrProductNameRequired
	}
	if p.PriceMinor < 0 {
		return ErrInvalidPrice
	}
	return nil
}
