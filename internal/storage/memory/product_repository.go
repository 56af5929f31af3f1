package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront-oms/internal/domain"
)

// ProductRepository - in-memory каталог товаров.
type ProductRepository struct {
	mu     sync.RWMutex
	byID   map[string]domain.Product
	byName map[string]string
}

// NewProductRepository создаёт пустой каталог.
func NewProductRepository() *ProductRepository {
	return &ProductRepository{
		byID:   make(map[string]domain.Product),
		byName: make(map[string]string),
	}
}

// Create сохраняет товар, если имя ещё не занято.
func (r *ProductRepository) Create(_ context.Context, product domain.Product) (domain.Product, error) {
	product.Name = strings.TrimSpace(product.Name)
	if err := product.Validate(); err != nil {
		return domain.Product{}, err
	}
	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byName[product.Name]; taken {
		return domain.Product{}, domain.ErrProductNameTaken
	}
	if _, exists := r.byID[product.ID]; exists {
		return domain.Product{}, domain.ErrTxConflict
	}
	r.byID[product.ID] = product
	r.byName[product.Name] = product.ID
	return product, nil
}

func (r *ProductRepository) GetProduct(_ context.Context, id string) (domain.Product, error) {
	return r.get(id)
}

func (r *ProductRepository) GetByName(_ context.Context, name string) (domain.Product, error) {
	r.mu.RLock()
	id, ok := r.byName[strings.TrimSpace(name)]
	r.mu.RUnlock()
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return r.get(id)
}

// List возвращает товары, отсортированные по имени.
func (r *ProductRepository) List(_ context.Context) ([]domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Product, 0, len(r.byID))
	for _, product := range r.byID {
		result = append(result, product)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// SetPrice меняет текущую цену товара. Уже созданные позиции заказов не затрагиваются.
func (r *ProductRepository) SetPrice(id string, priceMinor int64) error {
	if priceMinor < 0 {
		return domain.ErrInvalidPrice
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	product, ok := r.byID[id]
	if !ok {
		return domain.ErrProductNotFound
	}
	product.PriceMinor = priceMinor
	r.byID[id] = product
	return nil
}

func (r *ProductRepository) get(id string) (domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	product, ok := r.byID[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

var _ domain.ProductRepository = (*ProductRepository)(nil)
