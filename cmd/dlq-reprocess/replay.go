package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront-oms/internal/messaging/kafka"
)

type replayMessage struct {
	topic    string
	key      string
	envelope kafka.Envelope
	attempts int
}

type summary struct {
	scanned  int
	replayed int
	skipped  int
}

func (s *summary) add(other summary) {
	s.scanned += other.scanned
	s.replayed += other.replayed
	s.skipped += other.skipped
}

// replayer читает DLQ по партициям в порядке возрастания номера и
// останавливается, когда просмотрено opts.limit сообщений.
type replayer struct {
	opts     options
	offsets  offsetClient
	consumer partitionSource
	producer replayPublisher
	logger   *log.Entry

	// seen отсекает повторные dead letter одного и того же outbox-сообщения.
	seen map[string]bool
}

func (r *replayer) run(ctx context.Context) (summary, error) {
	var total summary
	if r.offsets == nil || r.consumer == nil {
		return total, errors.New("kafka client and consumer are required")
	}
	if r.opts.execute && r.producer == nil {
		return total, errors.New("producer is required in execute mode")
	}
	if r.logger == nil {
		r.logger = log.WithField("component", "dlq-replay")
	}
	r.seen = make(map[string]bool)

	partitions, err := r.offsets.Partitions(r.opts.sourceTopic)
	if err != nil {
		return total, fmt.Errorf("list partitions of %s: %w", r.opts.sourceTopic, err)
	}
	slices.Sort(partitions)

	for _, partition := range partitions {
		budget := r.opts.limit - total.scanned
		if budget <= 0 {
			break
		}
		got, err := r.replayPartition(ctx, partition, budget)
		total.add(got)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// replayPartition обрабатывает не больше budget сообщений, записанных в
// партицию до старта. Партиция заканчивается на верхней границе или после
// idleTimeout без сообщений.
func (r *replayer) replayPartition(ctx context.Context, partition int32, budget int) (summary, error) {
	var got summary

	oldest, err := r.offsets.GetOffset(r.opts.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return got, fmt.Errorf("oldest offset of partition %d: %w", partition, err)
	}
	end, err := r.offsets.GetOffset(r.opts.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return got, fmt.Errorf("newest offset of partition %d: %w", partition, err)
	}
	if end <= oldest {
		return got, nil
	}

	start := oldest
	if r.opts.fromNewest {
		start = max(end-int64(budget), oldest)
	}

	pc, err := r.consumer.ConsumePartition(r.opts.sourceTopic, partition, start)
	if err != nil {
		return got, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idle := time.NewTimer(r.opts.idleTimeout)
	defer idle.Stop()

	for got.scanned < budget {
		select {
		case <-ctx.Done():
			return got, ctx.Err()
		case <-idle.C:
			return got, nil
		case cerr := <-pc.Errors():
			if cerr != nil {
				return got, fmt.Errorf("partition %d: %w", partition, cerr)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil || msg.Offset >= end {
				return got, nil
			}
			idle.Reset(r.opts.idleTimeout)

			got.scanned++
			replayed, err := r.handle(ctx, msg)
			if err != nil {
				return got, err
			}
			if replayed {
				got.replayed++
			} else {
				got.skipped++
			}
			if msg.Offset+1 >= end {
				return got, nil
			}
		}
	}
	return got, nil
}

// handle возвращает true, если сообщение опубликовано или, в dry-run, было бы опубликовано.
func (r *replayer) handle(ctx context.Context, msg *sarama.ConsumerMessage) (bool, error) {
	logger := r.logger.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})

	replay, err := decodeDeadLetter(msg, r.opts.targetTopic)
	if err != nil {
		logger.WithError(err).Warn("skip unreadable dead letter")
		return false, nil
	}
	if !r.opts.wants(replay.envelope.EventType) {
		return false, nil
	}
	if id := replay.envelope.ID; id != "" {
		if r.seen[id] {
			logger.WithField("outbox_id", id).Debug("skip duplicate dead letter")
			return false, nil
		}
		r.seen[id] = true
	}

	logger = logger.WithFields(log.Fields{
		"target_topic": replay.topic,
		"key":          replay.key,
		"event_type":   replay.envelope.EventType,
		"attempts":     replay.attempts,
	})
	if !r.opts.execute {
		logger.Info("dlq replay candidate")
		return true, nil
	}
	if err := publishReplay(ctx, r.producer, replay); err != nil {
		return false, fmt.Errorf("replay offset %d of partition %d: %w", msg.Offset, msg.Partition, err)
	}
	logger.Debug("dead letter replayed")
	return true, nil
}

func publishReplay(ctx context.Context, producer replayPublisher, msg replayMessage) error {
	if producer == nil {
		return errors.New("producer is nil")
	}
	envelope := msg.envelope
	envelope.PublishedAt = time.Now().UTC()
	return producer.PublishEvent(ctx, msg.topic, msg.key, envelope, map[string]string{
		kafka.HeaderEventType: envelope.EventType,
	})
}

// decodeDeadLetter восстанавливает исходный конверт. Топик берётся из тела
// dead letter, затем из заголовка x-original-topic, затем fallbackTopic.
func decodeDeadLetter(msg *sarama.ConsumerMessage, fallbackTopic string) (replayMessage, error) {
	letter, err := kafka.ParseDeadLetter(msg.Value)
	if err != nil {
		return replayMessage{}, err
	}

	topic := strings.TrimSpace(letter.OriginalTopic)
	if topic == "" {
		topic = header(msg, kafka.HeaderOriginalTopic)
	}
	if topic == "" {
		topic = fallbackTopic
	}
	return replayMessage{
		topic:    topic,
		key:      letter.Envelope.Key(),
		envelope: letter.Envelope,
		attempts: letter.Attempts,
	}, nil
}

func header(msg *sarama.ConsumerMessage, name string) string {
	for _, h := range msg.Headers {
		if h != nil && string(h.Key) == name {
			return strings.TrimSpace(string(h.Value))
		}
	}
	return ""
}
