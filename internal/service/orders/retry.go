package orders

import (
	"context"
	"time"

	"github.com/vladislavdragonenkov/storefront-oms/internal/domain"
)

// RetryConfig конфигурация повторов при транзакционных конфликтах.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  20 * time.Millisecond,
		MaxDelay:      500 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func (c RetryConfig) normalize() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay < 0 {
		c.InitialDelay = 0
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = c.InitialDelay
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = 1
	}
	return c
}

// retryOnConflict повторяет fn, пока она возвращает ErrConflict, не более
// MaxAttempts раз. Остальные ошибки возвращаются сразу. Каждая попытка
// выполняется в отдельной транзакции.
func retryOnConflict[T any](
	ctx context.Context,
	cfg RetryConfig,
	onRetry func(attempt int, delay time.Duration, err error),
	fn func() (T, error),
) (T, error) {
	cfg = cfg.normalize()
	delay := cfg.InitialDelay

	var (
		result T
		err    error
	)
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result, err = fn()
		if err == nil || !domain.IsConflict(err) || attempt == cfg.MaxAttempts {
			return result, err
		}

		if onRetry != nil {
			onRetry(attempt, delay, err)
		}
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				var zero T
				return zero, ctx.Err()
			case <-timer.C:
			}
		}

		// Экспоненциальная задержка с ограничением
		delay = time.Duration(float64(delay) * cfg.BackoffFactor)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return result, err
}
