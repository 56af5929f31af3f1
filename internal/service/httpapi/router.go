// Package httpapi - REST-интерфейс сервиса заказов поверх chi.
// Все маршруты /api, кроме /api/version, требуют bearer-токен.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront-oms/internal/domain"
)

// OrderService - операции над заказами, которые вызывает HTTP-слой.
type OrderService interface {
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

// TokenAuthority проверяет и отзывает токены доступа.
type TokenAuthority interface {
	Verify(ctx context.Context, raw string) (domain.Caller, error)
	Revoke(ctx context.Context, raw string) error
}

// Options - зависимости роутера.
type Options struct {
	Orders      OrderService
	Products    domain.ProductCatalog
	Tokens      TokenAuthority
	Idempotency domain.IdempotencyRepository
	// IdempotencyTTL - сколько хранится ответ по ключу, по умолчанию 24h.
	IdempotencyTTL time.Duration
	CORSOrigins    []string
	Logger         *log.Entry
}

type handler struct {
	orders   OrderService
	products domain.ProductCatalog
	tokens   TokenAuthority
	idem     domain.IdempotencyRepository
	idemTTL  time.Duration
	logger   *log.Entry
}

// NewRouter собирает chi-роутер со всеми маршрутами API.
func NewRouter(opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	logger = logger.WithField("component", "http-api")

	ttl := opts.IdempotencyTTL
	if ttl <= 0 {
		ttl = domain.DefaultIdempotencyTTL
	}

	h := &handler{
		orders:   opts.Orders,
		products: opts.Products,
		tokens:   opts.Tokens,
		idem:     opts.Idempotency,
		idemTTL:  ttl,
		logger:   logger,
	}

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", IdempotencyKeyHeader},
		ExposedHeaders: []string{ReplayedHeader, "Retry-After"},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/version", h.versionInfo)

		r.Group(func(r chi.Router) {
			r.Use(h.authenticate)

			r.Post("/auth/logout", h.logout)

			r.Get("/products", h.listProducts)
			r.Get("/products/{id}", h.getProduct)

			r.Route("/orders", func(r chi.Router) {
				r.With(h.idempotent).Post("/", h.createOrder)
				r.Get("/", h.listOrders)
				r.Get("/client/{clientId}", h.listClientOrders)
				r.Put("/itens/{id}", h.addItem)
				r.With(h.idempotent).Post("/items/{itemId}/complete", h.completeItem)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.getOrder)
					r.Put("/", h.updateOrder)
					r.Delete("/", h.deleteOrder)
					r.With(h.idempotent).Post("/items", h.addItem)
					r.Delete("/items", h.removeItem)
					r.With(h.idempotent).Post("/discount", h.discount)
					r.With(h.idempotent).Post("/complete", h.completeOrder)
					r.Get("/timeline", h.timeline)
				})
			})
		})
	})

	return r
}
