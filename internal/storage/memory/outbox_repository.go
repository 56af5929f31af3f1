package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront-oms/internal/domain"
)

const defaultPullLimit = 100

type finishedMessage struct {
	sent bool
	at   time.Time
}

// OutboxRepository держит outbox в памяти: очередь pending в порядке
// постановки и итоговый статус доставленных или отброшенных сообщений.
type OutboxRepository struct {
	mu       sync.Mutex
	pending  []domain.OutboxMessage
	finished map[string]finishedMessage
	now      func() time.Time
}

// NewOutboxRepository создаёт пустой in-memory outbox.
func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{
		finished: make(map[string]finishedMessage),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue ставит сообщение в конец очереди, выдавая ID и CreatedAt при их отсутствии.
func (r *OutboxRepository) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Payload = slices.Clone(msg.Payload)

	r.mu.Lock()
	defer r.mu.Unlock()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = r.now()
	}
	r.pending = append(r.pending, msg)
	return msg, nil
}

// PullPending возвращает голову очереди, не больше limit сообщений.
func (r *OutboxRepository) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultPullLimit
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.pending[:min(limit, len(r.pending))]), nil
}

// Stats возвращает размер очереди и время создания её головы.
func (r *OutboxRepository) Stats(_ context.Context) (domain.OutboxStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := domain.OutboxStats{PendingCount: len(r.pending)}
	if len(r.pending) > 0 {
		stats.OldestPendingAt = r.pending[0].CreatedAt
	}
	return stats, nil
}

func (r *OutboxRepository) MarkSent(_ context.Context, id string) error {
	return r.finish(id, true)
}

func (r *OutboxRepository) MarkFailed(_ context.Context, id string) error {
	return r.finish(id, false)
}

// AllPending возвращает копию всей очереди.
func (r *OutboxRepository) AllPending() []domain.OutboxMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.pending)
}

func (r *OutboxRepository) finish(id string, sent bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := slices.IndexFunc(r.pending, func(msg domain.OutboxMessage) bool { return msg.ID == id })
	if idx >= 0 {
		r.pending = slices.Delete(r.pending, idx, idx+1)
	} else if _, done := r.finished[id]; !done {
		return domain.ErrOutboxPublish
	}
	r.finished[id] = finishedMessage{sent: sent, at: r.now()}
	return nil
}

// DeleteExpired забывает не больше limit доставленных сообщений, помеченных
// sent не позже before. Failed остаются для разбора.
func (r *OutboxRepository) DeleteExpired(_ context.Context, before time.Time, limit int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	deleted := 0
	for id, msg := range r.finished {
		if limit > 0 && deleted >= limit {
			break
		}
		if msg.sent && !msg.at.After(before) {
			delete(r.finished, id)
			deleted++
		}
	}
	return deleted, nil
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
