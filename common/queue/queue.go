package queue

import (
	"context"
	"sync"

	"github.com/koicert/registry/common/logger"
)

// Queue interface for message passing
type Queue interface {
	Publish(ctx context.Context, topic string, key string, message []byte) error
	Subscribe(ctx context.Context, topic string, handler MessageHandler) error
	Close() error
}

// MessageHandler processes messages
type MessageHandler func(ctx context.Context, key string, value []byte) error

// MemoryQueue is an in-process queue for single-instance deployments and tests
type MemoryQueue struct {
	topics map[string]chan *Message
	closed bool
	mu     sync.RWMutex
	log    *logger.Logger
}

// Message represents a queue message
type Message struct {
	Topic string
	Key   string
	Value []byte
}

// NewMemoryQueue creates a new in-memory queue
func NewMemoryQueue(log *logger.Logger) *MemoryQueue {
	return &MemoryQueue{
		topics: make(map[string]chan *Message),
		log:    log,
	}
}

// topicLocked returns the channel for topic. Caller holds q.mu.
func (q *MemoryQueue) topicLocked(topic string) chan *Message {
	ch, exists := q.topics[topic]
	if !exists {
		ch = make(chan *Message, 1000) // Buffered channel
		q.topics[topic] = ch
	}
	return ch
}

// Publish publishes a message to a topic
func (q *MemoryQueue) Publish(ctx context.Context, topic string, key string, message []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}

	ch := q.topicLocked(topic)

	msg := &Message{
		Topic: topic,
		Key:   key,
		Value: message,
	}

	select {
	case ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		// Channel full, subscribers resync on their next event for the key
		q.log.Warn("queue full, dropping message", "topic", topic, "key", key)
		return nil
	}
}

// Subscribe subscribes to a topic and processes messages until ctx is done
func (q *MemoryQueue) Subscribe(ctx context.Context, topic string, handler MessageHandler) error {
	q.mu.Lock()
	ch := q.topicLocked(topic)
	q.mu.Unlock()

	q.log.Info("subscribing to topic", "topic", topic)

	go func() {
		for {
			select {
			case <-ctx.Done():
				q.log.Info("subscription cancelled", "topic", topic)
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if err := handler(ctx, msg.Key, msg.Value); err != nil {
					q.log.Error("message handler error", "topic", topic, "key", msg.Key, "error", err)
				}
			}
		}
	}()

	return nil
}

// Close closes the queue
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true

	for topic, ch := range q.topics {
		close(ch)
		q.log.Debug("closed topic", "topic", topic)
	}

	return nil
}
