package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront-oms/internal/domain"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "oms.order.events"
	TopicDeadLetterQueue = "oms.dlq"
)

// Заголовки сообщений.
const (
	HeaderEventType     = "x-event-type"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderAttempts      = "x-attempts"
)

// Envelope - формат сообщения в топике событий заказа.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
	PublishedAt   time.Time       `json:"published_at"`
}

// DeadLetter - сообщение, которое outbox не смог доставить.
// Хранит исходный конверт целиком, чтобы его можно было переиграть.
type DeadLetter struct {
	OriginalTopic string    `json:"original_topic"`
	Envelope      Envelope  `json:"envelope"`
	Error         string    `json:"error"`
	Attempts      int       `json:"attempts"`
	FailedAt      time.Time `json:"failed_at"`
}

// NewEnvelope упаковывает outbox-сообщение для публикации.
func NewEnvelope(msg domain.OutboxMessage, publishedAt time.Time) Envelope {
	return Envelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		CreatedAt:     msg.CreatedAt,
		PublishedAt:   publishedAt,
	}
}

// Key возвращает ключ партиционирования: все события заказа идут в одну партицию.
func (e Envelope) Key() string {
	if e.AggregateID != "" {
		return e.AggregateID
	}
	return e.ID
}

// OrderEvent декодирует полезную нагрузку события заказа.
func (e Envelope) OrderEvent() (domain.OrderEvent, error) {
	var event domain.OrderEvent
	if e.AggregateType != domain.AggregateTypeOrder {
		return event, fmt.Errorf("unexpected aggregate type %q", e.AggregateType)
	}
	if err := json.Unmarshal(e.Payload, &event); err != nil {
		return event, fmt.Errorf("failed to unmarshal order event: %w", err)
	}
	return event, nil
}

// ParseEnvelope разбирает сообщение топика событий.
func ParseEnvelope(value []byte) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(value, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	if envelope.ID == "" || envelope.EventType == "" {
		return Envelope{}, fmt.Errorf("envelope is missing id or event_type")
	}
	return envelope, nil
}

// ParseDeadLetter разбирает сообщение из DLQ.
func ParseDeadLetter(value []byte) (DeadLetter, error) {
	var letter DeadLetter
	if err := json.Unmarshal(value, &letter); err != nil {
		return DeadLetter{}, fmt.Errorf("failed to unmarshal dead letter: %w", err)
	}
	if letter.Envelope.ID == "" || len(letter.Envelope.Payload) == 0 {
		return DeadLetter{}, fmt.Errorf("dead letter does not contain original envelope")
	}
	return letter, nil
}
