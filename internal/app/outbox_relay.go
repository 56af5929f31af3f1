package app

import (
	"context"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront-oms/internal/domain"
	"github.com/vladislavdragonenkov/storefront-oms/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront-oms/internal/service/outbox"
)

// dialKafka открывает sync producer; в тестах подменяется на sarama/mocks.
var dialKafka = func(brokers []string, clientID string) (sarama.SyncProducer, error) {
	return sarama.NewSyncProducer(brokers, kafka.NewSaramaConfig(clientID))
}

// outboxRelay связывает outbox worker с Kafka producer и владеет подключением.
type outboxRelay struct {
	producer *kafka.Producer
	worker   *outbox.Worker
	logger   *log.Entry
}

// newOutboxRelay возвращает nil без ошибки, если брокеры не заданы:
// события тогда копятся в outbox до следующего запуска с Kafka.
func newOutboxRelay(cfg Config, repo domain.OutboxRepository, logger *log.Entry) (*outboxRelay, error) {
	brokers := cfg.KafkaBrokerList()
	if len(brokers) == 0 {
		logger.Warn("kafka is not configured, outbox events stay pending")
		return nil, nil
	}

	logger = logger.WithField("brokers", brokers)
	syncProducer, err := dialKafka(brokers, cfg.KafkaClientID)
	if err != nil {
		return nil, err
	}
	producer := kafka.NewProducerFromSync(syncProducer, logger.WithField("component", "kafka-producer"))
	publisher := kafka.NewOutboxPublisher(producer, cfg.KafkaTopic, cfg.KafkaDLQTopic)

	logger.Info("kafka producer initialized")
	return &outboxRelay{
		producer: producer,
		logger:   logger,
		worker: outbox.NewWorker(repo, publisher,
			outbox.WithLogger(logger.WithField("worker", "outbox")),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
			outbox.WithDLQPublisher(publisher),
		),
	}, nil
}

func (r *outboxRelay) Run(ctx context.Context) error {
	return r.worker.Run(ctx)
}

func (r *outboxRelay) Close() {
	if err := r.producer.Close(); err != nil {
		r.logger.WithError(err).Warn("failed to close kafka producer")
		return
	}
	r.logger.Info("kafka producer closed")
}
