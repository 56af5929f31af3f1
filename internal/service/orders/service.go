// Package orders - сервисный слой над агрегатом заказа: проверяет
// идентичность вызывающего, повторяет операции после транзакционных
// конфликтов и ведёт таймлайн заказа.
package orders

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront-oms/internal/domain"
	"github.com/vladislavdragonenkov/storefront-oms/internal/metrics"
)

// Engine - операции агрегата заказа, которые оркестрирует сервис.
type Engine interface {
	CreateOrder(ctx context.Context, in domain.CreateOrderInput) (domain.Order, error)
	AddItem(ctx context.Context, orderID, productID string, quantity int32) (domain.OrderItem, error)
	RemoveItem(ctx context.Context, orderID, itemID string) (domain.Order, error)
	Discount(ctx context.Context, orderID string, amountMinor int64) (domain.Order, error)
	CompleteOrderItem(ctx context.Context, itemID string) (domain.OrderItem, error)
	CompleteOrder(ctx context.Context, orderID string) (domain.Order, error)
	UpdateDescription(ctx context.Context, orderID, description string) (domain.Order, error)
	Delete(ctx context.Context, orderID string) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindAll(ctx context.Context) ([]domain.Order, error)
	FindByClientID(ctx context.Context, clientID string) ([]domain.Order, error)
}

// Операции для метрик и логов.
const (
	OpCreateOrder       = "create_order"
	OpAddItem           = "add_item"
	OpRemoveItem        = "remove_item"
	OpDiscount          = "discount"
	OpCompleteOrderItem = "complete_order_item"
	OpCompleteOrder     = "complete_order"
	OpUpdateDescription = "update_description"
	OpDelete            = "delete_order"
	OpFindByID          = "find_by_id"
	OpFindAll           = "find_all"
	OpFindByClientID    = "find_by_client_id"
	OpTimeline          = "timeline"
)

// Service - точка входа для транспортных слоёв.
type Service struct {
	engine   Engine
	timeline domain.TimelineRepository
	metrics  *metrics.OrderMetrics
	retry    RetryConfig
	logger   *log.Entry
}

// Option настраивает Service.
type Option func(*Service)

// WithTimeline включает запись событий в таймлайн заказа.
func WithTimeline(repo domain.TimelineRepository) Option {
	return func(s *Service) { s.timeline = repo }
}

// WithMetrics задаёт метрики операций.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithRetryConfig задаёт политику повторов при конфликтах.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(s *Service) { s.retry = cfg }
}

// WithLogger задаёт logger сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService создаёт сервис заказов.
func NewService(engine Engine, opts ...Option) *Service {
	s := &Service{
		engine: engine,
		retry:  DefaultRetryConfig(),
		logger: log.NewEntry(log.StandardLogger()).WithField("component", "order-service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateOrder создаёт заказ. Без явного clientId заказ привязывается
// к вызывающему; создать заказ для другого клиента может только admin.
func (s *Service) CreateOrder(ctx context.Context, in domain.CreateOrderInput) (domain.Order, error) {
	return execute(ctx, s, OpCreateOrder, func(caller domain.Caller) (domain.Order, error) {
		if in.ClientID == "" {
			in.ClientID = caller.ClientID
		}
		if !caller.CanAccess(in.ClientID) {
			return domain.Order{}, domain.ErrForbidden
		}

		order, err := s.engine.CreateOrder(ctx, in)
		if err != nil {
			return domain.Order{}, err
		}
		s.appendTimeline(ctx, order.ID, domain.TimelineOrderCreated, "order created", caller)
		return order, nil
	})
}

// AddItem добавляет позицию в заказ.
func (s *Service) AddItem(ctx context.Context, orderID, productID string, quantity int32) (domain.OrderItem, error) {
	return execute(ctx, s, OpAddItem, func(caller domain.Caller) (domain.OrderItem, error) {
		item, err := s.engine.AddItem(ctx, orderID, productID, quantity)
		if err != nil {
			return domain.OrderItem{}, err
		}
		s.appendTimeline(ctx, orderID, domain.TimelineItemAdded, "item "+item.ID+" added", caller)
		return item, nil
	})
}

// RemoveItem удаляет позицию из заказа.
func (s *Service) RemoveItem(ctx context.Context, orderID, itemID string) (domain.Order, error) {
	return execute(ctx, s, OpRemoveItem, func(caller domain.Caller) (domain.Order, error) {
		order, err := s.engine.RemoveItem(ctx, orderID, itemID)
		if err != nil {
			return domain.Order{}, err
		}
		s.appendTimeline(ctx, orderID, domain.TimelineItemRemoved, "item "+itemID+" removed", caller)
		return order, nil
	})
}

// Discount применяет скидку к итогу заказа.
func (s *Service) Discount(ctx context.Context, orderID string, amountMinor int64) (domain.Order, error) {
	return execute(ctx, s, OpDiscount, func(caller domain.Caller) (domain.Order, error) {
		order, err := s.engine.Discount(ctx, orderID, amountMinor)
		if err != nil {
			return domain.Order{}, err
		}
		s.appendTimeline(ctx, orderID, domain.TimelineOrderDiscounted, "discount applied", caller)
		return order, nil
	})
}

// CompleteOrderItem отмечает позицию завершённой.
func (s *Service) CompleteOrderItem(ctx context.Context, itemID string) (domain.OrderItem, error) {
	return execute(ctx, s, OpCompleteOrderItem, func(caller domain.Caller) (domain.OrderItem, error) {
		item, err := s.engine.CompleteOrderItem(ctx, itemID)
		if err != nil {
			return domain.OrderItem{}, err
		}
		s.appendTimeline(ctx, item.OrderID, domain.TimelineItemFinished, "item "+item.ID+" finished", caller)
		return item, nil
	})
}

// CompleteOrder завершает заказ.
func (s *Service) CompleteOrder(ctx context.Context, orderID string) (domain.Order, error) {
	return execute(ctx, s, OpCompleteOrder, func(caller domain.Caller) (domain.Order, error) {
		order, err := s.engine.CompleteOrder(ctx, orderID)
		if err != nil {
			if domain.IsInvalidState(err) {
				s.appendTimeline(ctx, orderID, domain.TimelineOperationRejected, err.Error(), caller)
			}
			return domain.Order{}, err
		}
		s.metrics.RecordCompleted(order.PriceTotalMinor)
		s.appendTimeline(ctx, orderID, domain.TimelineOrderCompleted, "order completed", caller)
		return order, nil
	})
}

// UpdateDescription меняет описание заказа.
func (s *Service) UpdateDescription(ctx context.Context, orderID, description string) (domain.Order, error) {
	return execute(ctx, s, OpUpdateDescription, func(caller domain.Caller) (domain.Order, error) {
		order, err := s.engine.UpdateDescription(ctx, orderID, description)
		if err != nil {
			return domain.Order{}, err
		}
		s.appendTimeline(ctx, orderID, domain.TimelineOrderUpdated, "description updated", caller)
		return order, nil
	})
}

// Delete удаляет заказ.
func (s *Service) Delete(ctx context.Context, orderID string) error {
	_, err := execute(ctx, s, OpDelete, func(caller domain.Caller) (struct{}, error) {
		if err := s.engine.Delete(ctx, orderID); err != nil {
			return struct{}{}, err
		}
		s.appendTimeline(ctx, orderID, domain.TimelineOrderDeleted, "order deleted", caller)
		return struct{}{}, nil
	})
	return err
}

// FindByID возвращает заказ с позициями.
func (s *Service) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	return execute(ctx, s, OpFindByID, func(domain.Caller) (domain.Order, error) {
		return s.engine.FindByID(ctx, orderID)
	})
}

// FindAll возвращает все заказы.
func (s *Service) FindAll(ctx context.Context) ([]domain.Order, error) {
	return execute(ctx, s, OpFindAll, func(domain.Caller) ([]domain.Order, error) {
		return s.engine.FindAll(ctx)
	})
}

// FindByClientID возвращает заказы клиента. Клиент видит только свои заказы.
func (s *Service) FindByClientID(ctx context.Context, clientID string) ([]domain.Order, error) {
	return execute(ctx, s, OpFindByClientID, func(caller domain.Caller) ([]domain.Order, error) {
		if !caller.CanAccess(clientID) {
			return nil, domain.ErrForbidden
		}
		return s.engine.FindByClientID(ctx, clientID)
	})
}

// Timeline возвращает историю заказа.
func (s *Service) Timeline(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	return execute(ctx, s, OpTimeline, func(domain.Caller) ([]domain.TimelineEvent, error) {
		if _, err := s.engine.FindByID(ctx, orderID); err != nil {
			return nil, err
		}
		if s.timeline == nil {
			return []domain.TimelineEvent{}, nil
		}
		return s.timeline.List(ctx, orderID)
	})
}

// execute проверяет идентичность до обращения к хранилищу, повторяет
// операцию после конфликтов и снимает метрики.
func execute[T any](ctx context.Context, s *Service, operation string, fn func(caller domain.Caller) (T, error)) (T, error) {
	start := time.Now()

	caller, ok := domain.CallerFromContext(ctx)
	if !ok {
		s.metrics.ObserveOperation(operation, metrics.ResultUnauthorized, time.Since(start))
		var zero T
		return zero, domain.ErrMissingIdentity
	}

	logger := s.logger.WithFields(log.Fields{"operation": operation, "client_id": caller.ClientID})
	result, err := retryOnConflict(ctx, s.retry, func(attempt int, delay time.Duration, err error) {
		s.metrics.RecordConflictRetry(operation)
		logger.WithError(err).WithFields(log.Fields{
			"attempt": attempt,
			"delay":   delay,
		}).Warn("transaction conflict, retrying")
	}, func() (T, error) {
		return fn(caller)
	})

	label := resultLabel(err)
	s.metrics.ObserveOperation(operation, label, time.Since(start))
	if err != nil && label == metrics.ResultError {
		logger.WithError(err).Error("order operation failed")
	}
	return result, err
}

func (s *Service) appendTimeline(ctx context.Context, orderID, eventType, reason string, caller domain.Caller) {
	if s.timeline == nil || orderID == "" {
		return
	}
	err := s.timeline.Append(ctx, domain.TimelineEvent{
		OrderID:  orderID,
		Type:     eventType,
		Reason:   reason,
		Actor:    caller.ClientID,
		Occurred: time.Now().UTC(),
	})
	if err != nil {
		s.logger.WithError(err).WithField("order_id", orderID).Warn("failed to append timeline event")
		return
	}
	s.metrics.RecordTimelineEvent()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case domain.IsNotFound(err):
		return metrics.ResultNotFound
	case domain.IsInvalidState(err):
		return metrics.ResultInvalidState
	case domain.IsValidation(err):
		return metrics.ResultValidation
	case domain.IsConflict(err):
		return metrics.ResultConflict
	case domain.IsUnauthorized(err):
		return metrics.ResultUnauthorized
	default:
		return metrics.ResultError
	}
}
