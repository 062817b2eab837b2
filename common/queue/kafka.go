package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/koicert/registry/common/logger"
	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaQueue publishes and consumes through Kafka
// One producer client is shared; every Subscribe gets its own consumer-group client.
type KafkaQueue struct {
	brokers  []string
	group    string
	producer *kgo.Client
	log      *logger.Logger

	mu        sync.Mutex
	consumers []*kgo.Client
	closed    bool
}

// NewKafkaQueue connects a producer to brokers
func NewKafkaQueue(brokers []string, group string, log *logger.Logger) (*KafkaQueue, error) {
	if len(brokers) == 0 {
		return nil, errors.New("at least one kafka broker is required")
	}

	producer, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	log.Info("kafka producer created", "brokers", brokers)

	return &KafkaQueue{
		brokers:  brokers,
		group:    group,
		producer: producer,
		log:      log,
	}, nil
}

// Publish writes a keyed record and waits for the broker ack
func (q *KafkaQueue) Publish(ctx context.Context, topic string, key string, message []byte) error {
	record := &kgo.Record{
		Topic: topic,
		Key:   []byte(key),
		Value: message,
	}

	if err := q.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		q.log.Error("kafka produce failed", "topic", topic, "key", key, "error", err)
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	q.log.Debug("kafka produce", "topic", topic, "key", key, "partition", record.Partition, "offset", record.Offset)
	return nil
}

// Subscribe joins the consumer group for topic and polls until ctx is done
func (q *KafkaQueue) Subscribe(ctx context.Context, topic string, handler MessageHandler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return errors.New("kafka queue closed")
	}

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(q.brokers...),
		kgo.ConsumerGroup(q.group),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
	)
	if err != nil {
		return fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	q.consumers = append(q.consumers, consumer)

	q.log.Info("subscribing to topic", "topic", topic, "group", q.group)

	go q.poll(ctx, consumer, topic, handler)
	return nil
}

func (q *KafkaQueue) poll(ctx context.Context, consumer *kgo.Client, topic string, handler MessageHandler) {
	for {
		fetches := consumer.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			q.log.Info("subscription stopped", "topic", topic)
			return
		}

		fetches.EachError(func(t string, p int32, err error) {
			q.log.Warn("kafka fetch error", "topic", t, "partition", p, "error", err)
		})

		fetches.EachRecord(func(r *kgo.Record) {
			if err := handler(ctx, string(r.Key), r.Value); err != nil {
				q.log.Error("message handler error", "topic", r.Topic, "key", string(r.Key), "offset", r.Offset, "error", err)
			}
		})
	}
}

// Close flushes the producer and leaves all consumer groups
func (q *KafkaQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true

	for _, c := range q.consumers {
		c.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := q.producer.Flush(ctx)
	q.producer.Close()

	if err != nil {
		return fmt.Errorf("failed to flush kafka producer: %w", err)
	}
	return nil
}
