package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/storefront-oms/internal/messaging/kafka"
)

// offsetClient - часть sarama.Client для чтения границ партиций.
type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
}

type partitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error)
}

// replayPublisher - часть kafka.Producer, нужная для повторной публикации.
type replayPublisher interface {
	PublishEvent(ctx context.Context, topic, key string, event any, headers map[string]string) error
}

// saramaSource сужает sarama.PartitionConsumer до partitionConsumer.
type saramaSource struct {
	consumer sarama.Consumer
}

func (s saramaSource) ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error) {
	return s.consumer.ConsumePartition(topic, partition, offset)
}

// connection держит всё, что replay открывает в Kafka. producer есть только в режиме execute.
type connection struct {
	offsets  offsetClient
	consumer partitionSource
	producer replayPublisher
	closers  []func() error
}

func (c *connection) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i]())
	}
	c.closers = nil
	return errors.Join(errs...)
}

var connect = func(opts options) (*connection, error) {
	cfg := kafka.NewSaramaConfig(clientID)
	cfg.Consumer.Return.Errors = true

	client, err := sarama.NewClient(opts.brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	conn := &connection{offsets: client, closers: []func() error{client.Close}}

	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	conn.consumer = saramaSource{consumer: consumer}
	conn.closers = append(conn.closers, consumer.Close)

	if opts.execute {
		producer, err := kafka.NewProducer(opts.brokers, clientID)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		conn.producer = producer
		conn.closers = append(conn.closers, producer.Close)
	}
	return conn, nil
}
