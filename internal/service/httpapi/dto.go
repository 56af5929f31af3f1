package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront-oms/internal/domain"
	"github.com/vladislavdragonenkov/storefront-oms/internal/money"
)

const maxBodyBytes = 1 << 20

type createOrderRequest struct {
	Description string `json:"description"`
	Status      *int   `json:"status"`
	ClientID    string `json:"clientId"`
}

type updateOrderRequest struct {
	Description string `json:"description"`
}

type addItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int32  `json:"quantity"`
}

type removeItemRequest struct {
	ItemID string `json:"itemId"`
}

// discountRequest принимает сумму и числом, и строкой: 5, 5.5 или "5.50".
type discountRequest struct {
	Discount *decimal.Decimal `json:"discount"`
}

type itemResponse struct {
	ID           string     `json:"id"`
	OrderID      string     `json:"orderId"`
	ProductID    string     `json:"productId"`
	Quantity     int32      `json:"quantity"`
	PricePerUnit string     `json:"pricePerUnit"`
	PriceTotal   string     `json:"priceTotal"`
	Status       int        `json:"status"`
	CreatedAt    time.Time  `json:"createdAt"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
}

type orderResponse struct {
	ID          string         `json:"id"`
	Description string         `json:"description"`
	ClientID    string         `json:"clientId"`
	Status      int            `json:"status"`
	StatusName  string         `json:"statusName"`
	PriceTotal  string         `json:"priceTotal"`
	Discount    string         `json:"discount"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
	FinishedAt  *time.Time     `json:"finishedAt,omitempty"`
	OrderItems  []itemResponse `json:"orderItems"`
}

type productResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Price       string    `json:"price"`
	CreatedAt   time.Time `json:"createdAt"`
}

type timelineEventResponse struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Actor    string    `json:"actor,omitempty"`
	Occurred time.Time `json:"occurred"`
}

func toItemResponse(item domain.OrderItem) itemResponse {
	return itemResponse{
		ID:           item.ID,
		OrderID:      item.OrderID,
		ProductID:    item.ProductID,
		Quantity:     item.Quantity,
		PricePerUnit: money.Format(item.PricePerUnitMinor),
		PriceTotal:   money.Format(item.PriceTotalMinor),
		Status:       int(item.Status),
		CreatedAt:    item.CreatedAt,
		FinishedAt:   item.FinishedAt,
	}
}

func toOrderResponse(order domain.Order) orderResponse {
	items := make([]itemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, toItemResponse(item))
	}
	return orderResponse{
		ID:          order.ID,
		Description: order.Description,
		ClientID:    order.ClientID,
		Status:      int(order.Status),
		StatusName:  order.Status.String(),
		PriceTotal:  money.Format(order.PriceTotalMinor),
		Discount:    money.Format(order.DiscountMinor),
		CreatedAt:   order.CreatedAt,
		UpdatedAt:   order.UpdatedAt,
		FinishedAt:  order.FinishedAt,
		OrderItems:  items,
	}
}

func toOrderResponses(orders []domain.Order) []orderResponse {
	out := make([]orderResponse, 0, len(orders))
	for _, order := range orders {
		out = append(out, toOrderResponse(order))
	}
	return out
}

func toProductResponse(p domain.Product) productResponse {
	return productResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Price:       money.Format(p.PriceMinor),
		CreatedAt:   p.CreatedAt,
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && err != io.EOF {
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return nil
}
