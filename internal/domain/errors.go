package domain

import (
	"errors"
	"fmt"
)

// Классы ошибок. Конкретные ошибки ниже оборачивают один из них,
// транспортные слои переводят класс в код ответа.
var (
	// ErrNotFound - заказ, позиция или товар не существуют.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState - операция нарушает жизненный цикл заказа.
	ErrInvalidState = errors.New("invalid state")
	// ErrValidation - структурно некорректный ввод, дошедший до ядра.
	ErrValidation = errors.New("validation failed")
	// ErrConflict - транзакционный конфликт хранилища, операцию можно повторить.
	ErrConflict = errors.New("conflict")
	// ErrUnauthorized - вызывающий не идентифицирован или не имеет доступа.
	ErrUnauthorized = errors.New("unauthorized")
)

var (
	// ErrOrderNotFound возвращается, если заказ не найден в хранилище.
	ErrOrderNotFound = fmt.Errorf("order %w", ErrNotFound)
	// ErrItemNotFound - позиция отсутствует или принадлежит другому заказу.
	ErrItemNotFound = fmt.Errorf("order item %w", ErrNotFound)
	// ErrProductNotFound - товар по идентификатору не найден.
	ErrProductNotFound = fmt.Errorf("product %w", ErrNotFound)

	// ErrOrderCompleted - заказ завершён и больше не изменяется.
	ErrOrderCompleted = fmt.Errorf("%w: order is completed", ErrInvalidState)
	// ErrOrderNotFinished - у заказа есть незавершённые позиции.
	ErrOrderNotFinished = fmt.Errorf("%w: order not finished", ErrInvalidState)

	// Ошибка отсутствующего идентификатора клиента.
	ErrClientIDRequired = fmt.Errorf("%w: client_id is required", ErrValidation)
	// Ошибка отсутствующего идентификатора заказа.
	ErrOrderIDRequired = fmt.Errorf("%w: order_id is required", ErrValidation)
	// Ошибка отсутствующего идентификатора позиции.
	ErrItemIDRequired = fmt.Errorf("%w: item_id is required", ErrValidation)
	// Ошибка отсутствующего идентификатора товара.
	ErrProductIDRequired = fmt.Errorf("%w: product_id is required", ErrValidation)
	// Ошибка при некорректном количестве товара (<= 0).
	ErrInvalidQuantity = fmt.Errorf("%w: quantity must be greater than zero", ErrValidation)
	// Ошибка отрицательной скидки.
	ErrInvalidDiscount = fmt.Errorf("%w: discount must be non-negative", ErrValidation)
	// Ошибка неизвестного статуса заказа.
	ErrInvalidStatus = fmt.Errorf("%w: unknown order status", ErrValidation)
	// Заказ нельзя создать сразу в завершённом состоянии.
	ErrStatusNotAllowed = fmt.Errorf("%w: order cannot be created as completed", ErrValidation)
	// Слишком длинное описание заказа.
	ErrDescriptionTooLong = fmt.Errorf("%w: description is too long", ErrValidation)
	// Отрицательная цена товара.
	ErrInvalidPrice = fmt.Errorf("%w: price must be non-negative", ErrValidation)
	// ErrAmountOutOfRange - сумма не помещается в int64 минимальных единиц.
	ErrAmountOutOfRange = fmt.Errorf("%w: amount is out of range", ErrValidation)
	// Пустое имя товара.
	ErrProductNameRequired = fmt.Errorf("%w: product name is required", ErrValidation)

	// ErrTxConflict - сериализационный конфликт или дедлок в хранилище.
	ErrTxConflict = fmt.Errorf("%w: transaction serialization failure", ErrConflict)

	// ErrMissingIdentity - запрос пришёл без проверенной идентичности.
	ErrMissingIdentity = fmt.Errorf("%w: caller identity is missing", ErrUnauthorized)
	// ErrForbidden - идентичность не совпадает с владельцем ресурса.
	ErrForbidden = fmt.Errorf("%w: access to another client's orders", ErrUnauthorized)
	// ErrTokenRevoked - токен отозван через logout.
	ErrTokenRevoked = fmt.Errorf("%w: token revoked", ErrUnauthorized)
)

var (
	// ErrProductNameTaken - товар с таким именем уже существует. Повтор не поможет,
	// поэтому ошибка не относится к классу ErrConflict.
	ErrProductNameTaken = errors.New("product name already exists")
	// ErrIdempotencyKeyRequired - пустой idempotency-key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired - не передан хэш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyNotFound - запись по ключу отсутствует.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
	// ErrIdempotencyKeyAlreadyExists - запрос с этим ключом уже обрабатывается или завершён.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch - ключ переиспользован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrOutboxPublish - ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// IsNotFound проверяет, относится ли ошибка к классу "не найдено".
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvalidState проверяет нарушение жизненного цикла заказа.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

// IsValidation проверяет ошибку валидации входных данных.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsConflict проверяет, можно ли повторить операцию после конфликта.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsUnauthorized проверяет отказ в доступе.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsIdempotencyConflict проверяет конфликт по idempotency-key.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
