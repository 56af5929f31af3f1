package httpapi

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/storefront-oms/internal/domain"
	"github.com/vladislavdragonenkov/storefront-oms/internal/money"
)

func (h *handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	in := domain.CreateOrderInput{
		Description: req.Description,
		ClientID:    req.ClientID,
	}
	if req.Status != nil {
		in.Status = domain.OrderStatus(*req.Status)
	}

	order, err := h.orders.CreateOrder(r.Context(), in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(order))
}

func (h *handler) listOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.FindAll(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponses(orders))
}

func (h *handler) listClientOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.FindByClientID(r.Context(), chi.URLParam(r, "clientId"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponses(orders))
}

func (h *handler) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.FindByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *handler) updateOrder(w http.ResponseWriter, r *http.Request) {
	var req updateOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	order, err := h.orders.UpdateDescription(r.Context(), chi.URLParam(r, "id"), req.Description)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *handler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.orders.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Order removed"})
}

// addItem отвечает заказом целиком, как и исходный API.
func (h *handler) addItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	orderID := chi.URLParam(r, "id")
	if _, err := h.orders.AddItem(r.Context(), orderID, req.ProductID, req.Quantity); err != nil {
		writeError(w, h.logger, err)
		return
	}
	order, err := h.orders.FindByID(r.Context(), orderID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *handler) removeItem(w http.ResponseWriter, r *http.Request) {
	var req removeItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if _, err := h.orders.RemoveItem(r.Context(), chi.URLParam(r, "id"), req.ItemID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Item removed"})
}

func (h *handler) discount(w http.ResponseWriter, r *http.Request) {
	var req discountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if req.Discount == nil {
		writeError(w, h.logger, fmt.Errorf("%w: discount is required", domain.ErrValidation))
		return
	}
	amountMinor, err := money.FromDecimal(*req.Discount)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	order, err := h.orders.Discount(r.Context(), chi.URLParam(r, "id"), amountMinor)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *handler) completeItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.orders.CompleteOrderItem(r.Context(), chi.URLParam(r, "itemId"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(item))
}

func (h *handler) completeOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.CompleteOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *handler) timeline(w http.ResponseWriter, r *http.Request) {
	events, err := h.orders.Timeline(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	out := make([]timelineEventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, timelineEventResponse{Type: e.Type, Reason: e.Reason, Actor: e.Actor, Occurred: e.Occurred})
	}
	writeJSON(w, http.StatusOK, out)
}
