package omsv1

// OrderStatus повторяет числовые значения статуса заказа (enum oms.v1.OrderStatus).
type OrderStatus int32

const (
	OrderStatusOpen       OrderStatus = 0
	OrderStatusInProgress OrderStatus = 1
	OrderStatusCompleted  OrderStatus = 2
)

// Money - сумма в минимальных единицах и её десятичное представление.
type Money struct {
	AmountMinor int64  `protobuf:"varint,1,opt,name=amount_minor,proto3" json:"amount_minor,omitempty"`
	Amount      string `protobuf:"bytes,2,opt,name=amount,proto3" json:"amount,omitempty"`
}

type OrderItem struct {
	Id           string `protobuf:"bytes,1,opt,name=id,proto3" json:"id,omitempty"`
	OrderId      string `protobuf:"bytes,2,opt,name=order_id,proto3" json:"order_id,omitempty"`
	ProductId    string `protobuf:"bytes,3,opt,name=product_id,proto3" json:"product_id,omitempty"`
	Quantity     int32  `protobuf:"varint,4,opt,name=quantity,proto3" json:"quantity,omitempty"`
	PricePerUnit *Money `protobuf:"bytes,5,opt,name=price_per_unit,proto3" json:"price_per_unit,omitempty"`
	PriceTotal   *Money `protobuf:"bytes,6,opt,name=price_total,proto3" json:"price_total,omitempty"`
	Finished     bool   `protobuf:"varint,7,opt,name=finished,proto3" json:"finished,omitempty"`
	CreatedUnix  int64  `protobuf:"varint,8,opt,name=created_unix,proto3" json:"created_unix,omitempty"`
	FinishedUnix int64  `protobuf:"varint,9,opt,name=finished_unix,proto3" json:"finished_unix,omitempty"`
}

type Order struct {
	Id           string       `protobuf:"bytes,1,opt,name=id,proto3" json:"id,omitempty"`
	Description  string       `protobuf:"bytes,2,opt,name=description,proto3" json:"description,omitempty"`
	ClientId     string       `protobuf:"bytes,3,opt,name=client_id,proto3" json:"client_id,omitempty"`
	Status       OrderStatus  `protobuf:"varint,4,opt,name=status,proto3,enum=oms.v1.OrderStatus" json:"status,omitempty"`
	PriceTotal   *Money       `protobuf:"bytes,5,opt,name=price_total,proto3" json:"price_total,omitempty"`
	Discount     *Money       `protobuf:"bytes,6,opt,name=discount,proto3" json:"discount,omitempty"`
	Items        []*OrderItem `protobuf:"bytes,7,rep,name=items,proto3" json:"items,omitempty"`
	CreatedUnix  int64        `protobuf:"varint,8,opt,name=created_unix,proto3" json:"created_unix,omitempty"`
	UpdatedUnix  int64        `protobuf:"varint,9,opt,name=updated_unix,proto3" json:"updated_unix,omitempty"`
	FinishedUnix int64        `protobuf:"varint,10,opt,name=finished_unix,proto3" json:"finished_unix,omitempty"`
}

type TimelineEvent struct {
	Type     string `protobuf:"bytes,1,opt,name=type,proto3" json:"type,omitempty"`
	Reason   string `protobuf:"bytes,2,opt,name=reason,proto3" json:"reason,omitempty"`
	Actor    string `protobuf:"bytes,3,opt,name=actor,proto3" json:"actor,omitempty"`
	UnixTime int64  `protobuf:"varint,4,opt,name=unix_time,proto3" json:"unix_time,omitempty"`
}

type CreateOrderRequest struct {
	Description string      `protobuf:"bytes,1,opt,name=description,proto3" json:"description,omitempty"`
	Status      OrderStatus `protobuf:"varint,2,opt,name=status,proto3,enum=oms.v1.OrderStatus" json:"status,omitempty"`
	// ClientId можно не указывать: заказ привязывается к вызывающему.
	ClientId string `protobuf:"bytes,3,opt,name=client_id,proto3" json:"client_id,omitempty"`
}

type CreateOrderResponse struct {
	Order *Order `protobuf:"bytes,1,opt,name=order,proto3" json:"order,omitempty"`
}

type GetOrderRequest struct {
	OrderId string `protobuf:"bytes,1,opt,name=order_id,proto3" json:"order_id,omitempty"`
}

type GetOrderResponse struct {
	Order *Order `protobuf:"bytes,1,opt,name=order,proto3" json:"order,omitempty"`
}

// ListOrdersRequest с пустым ClientId возвращает все заказы.
type ListOrdersRequest struct {
	ClientId string `protobuf:"bytes,1,opt,name=client_id,proto3" json:"client_id,omitempty"`
}

type ListOrdersResponse struct {
	Orders []*Order `protobuf:"bytes,1,rep,name=orders,proto3" json:"orders,omitempty"`
}

type AddItemRequest struct {
	OrderId   string `protobuf:"bytes,1,opt,name=order_id,proto3" json:"order_id,omitempty"`
	ProductId string `protobuf:"bytes,2,opt,name=product_id,proto3" json:"product_id,omitempty"`
	Quantity  int32  `protobuf:"varint,3,opt,name=quantity,proto3" json:"quantity,omitempty"`
}

type AddItemResponse struct {
	Item *OrderItem `protobuf:"bytes,1,opt,name=item,proto3" json:"item,omitempty"`
}

type RemoveItemRequest struct {
	OrderId string `protobuf:"bytes,1,opt,name=order_id,proto3" json:"order_id,omitempty"`
	ItemId  string `protobuf:"bytes,2,opt,name=item_id,proto3" json:"item_id,omitempty"`
}

type RemoveItemResponse struct {
	Order *Order `protobuf:"bytes,1,opt,name=order,proto3" json:"order,omitempty"`
}

// ApplyDiscountRequest - сумма скидки в десятичном виде, например "5.00".
type ApplyDiscountRequest struct {
	OrderId string `protobuf:"bytes,1,opt,name=order_id,proto3" json:"order_id,omitempty"`
	Amount  string `protobuf:"bytes,2,opt,name=amount,proto3" json:"amount,omitempty"`
}

type ApplyDiscountResponse struct {
	Order *Order `protobuf:"bytes,1,opt,name=order,proto3" json:"order,omitempty"`
}

type CompleteItemRequest struct {
	ItemId string `protobuf:"bytes,1,opt,name=item_id,proto3" json:"item_id,omitempty"`
}

type CompleteItemResponse struct {
	Item *OrderItem `protobuf:"bytes,1,opt,name=item,proto3" json:"item,omitempty"`
}

type CompleteOrderRequest struct {
	OrderId string `protobuf:"bytes,1,opt,name=order_id,proto3" json:"order_id,omitempty"`
}

type CompleteOrderResponse struct {
	Order *Order `protobuf:"bytes,1,opt,name=order,proto3" json:"order,omitempty"`
}

type UpdateDescriptionRequest struct {
	OrderId     string `protobuf:"bytes,1,opt,name=order_id,proto3" json:"order_id,omitempty"`
	Description string `protobuf:"bytes,2,opt,name=description,proto3" json:"description,omitempty"`
}

type UpdateDescriptionResponse struct {
	Order *Order `protobuf:"bytes,1,opt,name=order,proto3" json:"order,omitempty"`
}

type DeleteOrderRequest struct {
	OrderId string `protobuf:"bytes,1,opt,name=order_id,proto3" json:"order_id,omitempty"`
}

type DeleteOrderResponse struct{}

type GetTimelineRequest struct {
	OrderId string `protobuf:"bytes,1,opt,name=order_id,proto3" json:"order_id,omitempty"`
}

type GetTimelineResponse struct {
	Events []*TimelineEvent `protobuf:"bytes,1,rep,name=events,proto3" json:"events,omitempty"`
}

// messageTypes - все сообщения файла в порядке объявления в order_service.proto.
var messageTypes = []any{
	(*Money)(nil),
	(*OrderItem)(nil),
	(*Order)(nil),
	(*TimelineEvent)(nil),
	(*CreateOrderRequest)(nil),
	(*CreateOrderResponse)(nil),
	(*GetOrderRequest)(nil),
	(*GetOrderResponse)(nil),
	(*ListOrdersRequest)(nil),
	(*ListOrdersResponse)(nil),
	(*AddItemRequest)(nil),
	(*AddItemResponse)(nil),
	(*RemoveItemRequest)(nil),
	(*RemoveItemResponse)(nil),
	(*ApplyDiscountRequest)(nil),
	(*ApplyDiscountResponse)(nil),
	(*CompleteItemRequest)(nil),
	(*CompleteItemResponse)(nil),
	(*CompleteOrderRequest)(nil),
	(*CompleteOrderResponse)(nil),
	(*UpdateDescriptionRequest)(nil),
	(*UpdateDescriptionResponse)(nil),
	(*DeleteOrderRequest)(nil),
	(*DeleteOrderResponse)(nil),
	(*GetTimelineRequest)(nil),
	(*GetTimelineResponse)(nil),
}

func (x *GetOrderRequest) GetOrderId() string {
	if x != nil {
		return x.OrderId
	}
	return ""
}

func (x *ListOrdersRequest) GetClientId() string {
	if x != nil {
		return x.ClientId
	}
	return ""
}

func (x *CreateOrderResponse) GetOrder() *Order {
	if x != nil {
		return x.Order
	}
	return nil
}

func (x *GetOrderResponse) GetOrder() *Order {
	if x != nil {
		return x.Order
	}
	return nil
}

func (x *Order) GetId() string {
	if x != nil {
		return x.Id
	}
	return ""
}

func (x *Order) GetPriceTotal() *Money {
	if x != nil {
		return x.PriceTotal
	}
	return nil
}

func (x *Order) GetItems() []*OrderItem {
	if x != nil {
		return x.Items
	}
	return nil
}

func (x *Money) GetAmountMinor() int64 {
	if x != nil {
		return x.AmountMinor
	}
	return 0
}
