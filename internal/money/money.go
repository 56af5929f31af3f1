// Package money переводит десятичные суммы API в минимальные единицы
// (копейки, центы) и обратно.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront-oms/internal/domain"
)

// Scale - число знаков после запятой у минимальной единицы.
const Scale = 2

var minorFactor = decimal.New(1, Scale)

// ErrInvalidAmount - сумма не разбирается или точнее минимальной единицы.
var ErrInvalidAmount = fmt.Errorf("%w: invalid amount", domain.ErrValidation)

// Parse разбирает строку вида "10.50" в минимальные единицы.
func Parse(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	return FromDecimal(d)
}

// FromDecimal переводит decimal в минимальные единицы без округления.
func FromDecimal(d decimal.Decimal) (int64, error) {
	minor := d.Mul(minorFactor)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidAmount, d.String(), Scale)
	}
	if !minor.BigInt().IsInt64() {
		return 0, fmt.Errorf("%w: %s is out of range", ErrInvalidAmount, d.String())
	}
	return minor.IntPart(), nil
}

// ToDecimal возвращает сумму в основных единицах.
func ToDecimal(minor int64) decimal.Decimal {
	return decimal.New(minor, -Scale)
}

// Format печатает сумму с двумя знаками после запятой.
func Format(minor int64) string {
	return ToDecimal(minor).StringFixed(Scale)
}
