package grpcsvc

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/storefront-oms/internal/domain"
	"github.com/vladislavdragonenkov/storefront-oms/internal/money"
	omsv1 "github.com/vladislavdragonenkov/storefront-oms/proto/oms/v1"
)

// OrderUseCases - операции сервиса заказов, доступные через gRPC.
type OrderUseCases interface {
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
	Timeline(ctx context.Context, orderID string) ([]domain.TimelineEvent, error)
}

// OrderService реализует gRPC API поверх сервиса заказов.
type OrderService struct {
	omsv1.UnimplementedOrderServiceServer

	orders   OrderUseCases
	idemRepo domain.IdempotencyRepository
	logger   *log.Entry
}

// NewOrderService конструирует сервис с зависимостями.
// idemRepo может быть nil, тогда повторные запросы не дедуплицируются.
func NewOrderService(orders OrderUseCases, idemRepo domain.IdempotencyRepository, logger *log.Entry) *OrderService {
	if logger == nil {
		logger = log.New().WithField("component", "grpc-order-service")
	}
	return &OrderService{
		orders:   orders,
		idemRepo: idemRepo,
		logger:   logger,
	}
}

// CreateOrder создаёт заказ. Поддерживает idempotency-key.
func (s *OrderService) CreateOrder(ctx context.Context, req *omsv1.CreateOrderRequest) (*omsv1.CreateOrderResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	return withIdempotency(s, ctx, omsv1.OrderService_CreateOrder_FullMethodName, req,
		func() *omsv1.CreateOrderResponse { return &omsv1.CreateOrderResponse{} },
		func(ctx context.Context) (*omsv1.CreateOrderResponse, error) {
			order, err := s.orders.CreateOrder(ctx, domain.CreateOrderInput{
				Description: req.Description,
				ClientID:    strings.TrimSpace(req.ClientId),
				Status:      domain.OrderStatus(req.Status),
			})
			if err != nil {
				return nil, s.statusError("CreateOrder", err)
			}
			return &omsv1.CreateOrderResponse{Order: toProtoOrder(order)}, nil
		},
	)
}

// GetOrder возвращает заказ с позициями.
func (s *OrderService) GetOrder(ctx context.Context, req *omsv1.GetOrderRequest) (*omsv1.GetOrderResponse, error) {
	if req.GetOrderId() == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}
	order, err := s.orders.FindByID(ctx, req.OrderId)
	if err != nil {
		return nil, s.statusError("GetOrder", err)
	}
	return &omsv1.GetOrderResponse{Order: toProtoOrder(order)}, nil
}

// ListOrders возвращает все заказы либо заказы одного клиента.
func (s *OrderService) ListOrders(ctx context.Context, req *omsv1.ListOrdersRequest) (*omsv1.ListOrdersResponse, error) {
	var (
		orders []domain.Order
		err    error
	)
	if clientID := strings.TrimSpace(req.GetClientId()); clientID != "" {
		orders, err = s.orders.FindByClientID(ctx, clientID)
	} else {
		orders, err = s.orders.FindAll(ctx)
	}
	if err != nil {
		return nil, s.statusError("ListOrders", err)
	}

	resp := &omsv1.ListOrdersResponse{Orders: make([]*omsv1.Order, 0, len(orders))}
	for _, order := range orders {
		resp.Orders = append(resp.Orders, toProtoOrder(order))
	}
	return resp, nil
}

// AddItem добавляет позицию. Поддерживает idempotency-key.
func (s *OrderService) AddItem(ctx context.Context, req *omsv1.AddItemRequest) (*omsv1.AddItemResponse, error) {
	if req == nil || req.OrderId == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}
	return withIdempotency(s, ctx, omsv1.OrderService_AddItem_FullMethodName, req,
		func() *omsv1.AddItemResponse { return &omsv1.AddItemResponse{} },
		func(ctx context.Context) (*omsv1.AddItemResponse, error) {
			item, err := s.orders.AddItem(ctx, req.OrderId, req.ProductId, req.Quantity)
			if err != nil {
				return nil, s.statusError("AddItem", err)
			}
			return &omsv1.AddItemResponse{Item: toProtoItem(item)}, nil
		},
	)
}

// RemoveItem удаляет позицию и возвращает пересчитанный заказ.
func (s *OrderService) RemoveItem(ctx context.Context, req *omsv1.RemoveItemRequest) (*omsv1.RemoveItemResponse, error) {
	if req == nil || req.OrderId == "" || req.ItemId == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id and item_id are required")
	}
	order, err := s.orders.RemoveItem(ctx, req.OrderId, req.ItemId)
	if err != nil {
		return nil, s.statusError("RemoveItem", err)
	}
	return &omsv1.RemoveItemResponse{Order: toProtoOrder(order)}, nil
}

// ApplyDiscount применяет скидку. Сумма передаётся десятичной строкой.
func (s *OrderService) ApplyDiscount(ctx context.Context, req *omsv1.ApplyDiscountRequest) (*omsv1.ApplyDiscountResponse, error) {
	if req == nil || req.OrderId == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}
	amountMinor, err := money.Parse(req.Amount)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return withIdempotency(s, ctx, omsv1.OrderService_ApplyDiscount_FullMethodName, req,
		func() *omsv1.ApplyDiscountResponse { return &omsv1.ApplyDiscountResponse{} },
		func(ctx context.Context) (*omsv1.ApplyDiscountResponse, error) {
			order, err := s.orders.Discount(ctx, req.OrderId, amountMinor)
			if err != nil {
				return nil, s.statusError("ApplyDiscount", err)
			}
			return &omsv1.ApplyDiscountResponse{Order: toProtoOrder(order)}, nil
		},
	)
}

// CompleteItem отмечает позицию завершённой.
func (s *OrderService) CompleteItem(ctx context.Context, req *omsv1.CompleteItemRequest) (*omsv1.CompleteItemResponse, error) {
	if req == nil || req.ItemId == "" {
		return nil, status.Error(codes.InvalidArgument, "item_id is required")
	}
	return withIdempotency(s, ctx, omsv1.OrderService_CompleteItem_FullMethodName, req,
		func() *omsv1.CompleteItemResponse { return &omsv1.CompleteItemResponse{} },
		func(ctx context.Context) (*omsv1.CompleteItemResponse, error) {
			item, err := s.orders.CompleteOrderItem(ctx, req.ItemId)
			if err != nil {
				return nil, s.statusError("CompleteItem", err)
			}
			return &omsv1.CompleteItemResponse{Item: toProtoItem(item)}, nil
		},
	)
}

// CompleteOrder завершает заказ, если все позиции завершены.
func (s *OrderService) CompleteOrder(ctx context.Context, req *omsv1.CompleteOrderRequest) (*omsv1.CompleteOrderResponse, error) {
	if req == nil || req.OrderId == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}
	return withIdempotency(s, ctx, omsv1.OrderService_CompleteOrder_FullMethodName, req,
		func() *omsv1.CompleteOrderResponse { return &omsv1.CompleteOrderResponse{} },
		func(ctx context.Context) (*omsv1.CompleteOrderResponse, error) {
			order, err := s.orders.CompleteOrder(ctx, req.OrderId)
			if err != nil {
				return nil, s.statusError("CompleteOrder", err)
			}
			return &omsv1.CompleteOrderResponse{Order: toProtoOrder(order)}, nil
		},
	)
}

// UpdateDescription меняет описание открытого заказа.
func (s *OrderService) UpdateDescription(ctx context.Context, req *omsv1.UpdateDescriptionRequest) (*omsv1.UpdateDescriptionResponse, error) {
	if req == nil || req.OrderId == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}
	order, err := s.orders.UpdateDescription(ctx, req.OrderId, req.Description)
	if err != nil {
		return nil, s.statusError("UpdateDescription", err)
	}
	return &omsv1.UpdateDescriptionResponse{Order: toProtoOrder(order)}, nil
}

// DeleteOrder удаляет заказ вместе с позициями.
func (s *OrderService) DeleteOrder(ctx context.Context, req *omsv1.DeleteOrderRequest) (*omsv1.DeleteOrderResponse, error) {
	if req == nil || req.OrderId == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}
	if err := s.orders.Delete(ctx, req.OrderId); err != nil {
		return nil, s.statusError("DeleteOrder", err)
	}
	return &omsv1.DeleteOrderResponse{}, nil
}

// GetTimeline возвращает журнал событий заказа.
func (s *OrderService) GetTimeline(ctx context.Context, req *omsv1.GetTimelineRequest) (*omsv1.GetTimelineResponse, error) {
	if req == nil || req.OrderId == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}
	events, err := s.orders.Timeline(ctx, req.OrderId)
	if err != nil {
		return nil, s.statusError("GetTimeline", err)
	}
	resp := &omsv1.GetTimelineResponse{Events: make([]*omsv1.TimelineEvent, 0, len(events))}
	for _, event := range events {
		resp.Events = append(resp.Events, &omsv1.TimelineEvent{
			Type:     event.Type,
			Reason:   event.Reason,
			Actor:    event.Actor,
			UnixTime: event.Occurred.Unix(),
		})
	}
	return resp, nil
}

func (s *OrderService) statusError(method string, err error) error {
	st := statusFromError(err)
	if st.Code() == codes.Internal {
		s.logger.WithError(err).WithField("method", method).Error("order operation failed")
	}
	return st.Err()
}

func toProtoMoney(minor int64) *omsv1.Money {
	return &omsv1.Money{AmountMinor: minor, Amount: money.Format(minor)}
}

func toProtoItem(item domain.OrderItem) *omsv1.OrderItem {
	out := &omsv1.OrderItem{
		Id:           item.ID,
		OrderId:      item.OrderID,
		ProductId:    item.ProductID,
		Quantity:     item.Quantity,
		PricePerUnit: toProtoMoney(item.PricePerUnitMinor),
		PriceTotal:   toProtoMoney(item.PriceTotalMinor),
		Finished:     item.Finished(),
		CreatedUnix:  item.CreatedAt.Unix(),
	}
	if item.FinishedAt != nil {
		out.FinishedUnix = item.FinishedAt.Unix()
	}
	return out
}

func toProtoOrder(order domain.Order) *omsv1.Order {
	items := make([]*omsv1.OrderItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, toProtoItem(item))
	}
	out := &omsv1.Order{
		Id:          order.ID,
		Description: order.Description,
		ClientId:    order.ClientID,
		Status:      omsv1.OrderStatus(order.Status),
		PriceTotal:  toProtoMoney(order.PriceTotalMinor),
		Discount:    toProtoMoney(order.DiscountMinor),
		Items:       items,
		CreatedUnix: order.CreatedAt.Unix(),
		UpdatedUnix: order.UpdatedAt.Unix(),
	}
	if order.FinishedAt != nil {
		out.FinishedUnix = order.FinishedAt.Unix()
	}
	return out
}
