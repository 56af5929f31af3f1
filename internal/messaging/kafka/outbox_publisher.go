package kafka

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/vladislavdragonenkov/storefront-oms/internal/domain"
)

var errPublisherNotInitialized = errors.New("kafka outbox publisher is not initialized")

// OutboxTopicPublisher публикует outbox-сообщения в заданный Kafka topic.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
	dlqTopic string
	now      func() time.Time
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
// Пустые topic и dlqTopic заменяются значениями по умолчанию.
func NewOutboxPublisher(producer *Producer, topic, dlqTopic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	if dlqTopic == "" {
		dlqTopic = TopicDeadLetterQueue
	}
	return &OutboxTopicPublisher{
		producer: producer,
		topic:    topic,
		dlqTopic: dlqTopic,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Publish отправляет событие в топик заказов с ключом по заказу.
func (p *OutboxTopicPublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errPublisherNotInitialized
	}
	envelope := NewEnvelope(event, p.now())
	return p.producer.PublishEvent(ctx, p.topic, envelope.Key(), envelope, map[string]string{
		HeaderEventType: event.EventType,
	})
}

// PublishDeadLetter отправляет недоставленное событие в DLQ.
func (p *OutboxTopicPublisher) PublishDeadLetter(ctx context.Context, event domain.OutboxMessage, cause error, attempts int) error {
	if p == nil || p.producer == nil {
		return errPublisherNotInitialized
	}
	letter := DeadLetter{
		OriginalTopic: p.topic,
		Envelope:      NewEnvelope(event, time.Time{}),
		Attempts:      attempts,
		FailedAt:      p.now(),
	}
	if cause != nil {
		letter.Error = cause.Error()
	}
	return p.producer.PublishEvent(ctx, p.dlqTopic, letter.Envelope.Key(), letter, map[string]string{
		HeaderEventType:     event.EventType,
		HeaderOriginalTopic: p.topic,
		HeaderErrorMessage:  letter.Error,
		HeaderAttempts:      strconv.Itoa(attempts),
	})
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
