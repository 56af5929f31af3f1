package domain

import (
	"fmt"
	"strings"
	"time"
)

// Типы событий таймлайна заказа.
const (
	TimelineOrderCreated      = "order_created"
	TimelineItemAdded         = "item_added"
	TimelineItemRemoved       = "item_removed"
	TimelineOrderDiscounted   = "order_discounted"
	TimelineItemFinished      = "item_finished"
	TimelineOrderCompleted    = "order_completed"
	TimelineOrderUpdated      = "order_updated"
	TimelineOrderDeleted      = "order_deleted"
	TimelineOperationRejected = "operation_rejected"
)

// ErrInvalidTimelineEvent - событие без заказа или без типа.
var ErrInvalidTimelineEvent = fmt.Errorf("%w: timeline event requires order id and type", ErrValidation)

// TimelineEvent описывает событие в жизненном цикле заказа. Таймлайн не
// ссылается на заказ внешним ключом и переживает его удаление.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Actor    string
	Occurred time.Time
}

// Normalize проверяет событие перед записью. Пустое время заменяется на now,
// время приводится к UTC.
func (e TimelineEvent) Normalize(now time.Time) (TimelineEvent, error) {
	e.OrderID = strings.TrimSpace(e.OrderID)
	e.Type = strings.TrimSpace(e.Type)
	if e.OrderID == "" || e.Type == "" {
		return TimelineEvent{}, ErrInvalidTimelineEvent
	}
	if e.Occurred.IsZero() {
		e.Occurred = now
	}
	e.Occurred = e.Occurred.UTC()
	return e, nil
}
