package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront-oms/internal/domain"
)

const timelineColumns = `order_id, type, reason, actor, occurred`

// timelineRepository пишет историю заказа в timeline_events. Таблица не
// ссылается на orders, поэтому события удалённого заказа остаются доступны.
type timelineRepository struct {
	db *sql.DB
}

// NewTimelineRepository создаёт PostgreSQL-реализацию TimelineRepository.
func NewTimelineRepository(store *Store) domain.TimelineRepository {
	return &timelineRepository{db: store.DB()}
}

func (r *timelineRepository) Append(ctx context.Context, event domain.TimelineEvent) error {
	event, err := event.Normalize(time.Now())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO timeline_events (`+timelineColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		event.OrderID, event.Type, event.Reason, event.Actor, event.Occurred,
	)
	if err != nil {
		return fmt.Errorf("append timeline event %s for order %s: %w", event.Type, event.OrderID, err)
	}
	return nil
}

func (r *timelineRepository) List(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	// id сохраняет порядок записи для событий с одинаковым временем.
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+timelineColumns+` FROM timeline_events WHERE order_id = $1 ORDER BY occurred, id`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("list timeline for order %s: %w", orderID, err)
	}
	defer rows.Close()

	events := []domain.TimelineEvent{}
	for rows.Next() {
		event, err := scanTimelineEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timeline events: %w", err)
	}
	return events, nil
}

func scanTimelineEvent(row rowScanner) (domain.TimelineEvent, error) {
	var event domain.TimelineEvent
	if err := row.Scan(&event.OrderID, &event.Type, &event.Reason, &event.Actor, &event.Occurred); err != nil {
		return domain.TimelineEvent{}, fmt.Errorf("scan timeline event: %w", err)
	}
	event.Occurred = event.Occurred.UTC()
	return event, nil
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
