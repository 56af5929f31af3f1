package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront-oms/internal/domain"
)

// timelineRepository хранит историю заказов в памяти. События одного
// заказа лежат отсортированными по времени, равные сохраняют порядок записи.
type timelineRepository struct {
	mu      sync.RWMutex
	byOrder map[string][]domain.TimelineEvent
	now     func() time.Time
}

// NewTimelineRepository создаёт in-memory реализацию TimelineRepository.
func NewTimelineRepository() domain.TimelineRepository {
	return &timelineRepository{
		byOrder: make(map[string][]domain.TimelineEvent),
		now:     time.Now,
	}
}

func (r *timelineRepository) Append(_ context.Context, event domain.TimelineEvent) error {
	event, err := event.Normalize(r.now())
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	events := r.byOrder[event.OrderID]
	// Позиция после всех событий с временем не позже нового.
	pos := len(events)
	for pos > 0 && events[pos-1].Occurred.After(event.Occurred) {
		pos--
	}
	r.byOrder[event.OrderID] = slices.Insert(events, pos, event)
	return nil
}

func (r *timelineRepository) List(_ context.Context, orderID string) ([]domain.TimelineEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	events := slices.Clone(r.byOrder[orderID])
	if events == nil {
		events = []domain.TimelineEvent{}
	}
	return events, nil
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
