package main

import (
	"context"
	"encoding/json"

	"github.com/tidwall/gjson"

	"github.com/koicert/registry/common/logger"
	"github.com/koicert/registry/common/models"
	"github.com/koicert/registry/common/queue"
)

// EventSubscriber forwards registry events from the events topic to the hub
type EventSubscriber struct {
	queue queue.Queue
	topic string
	hub   *Hub
	log   *logger.Logger
}

// NewEventSubscriber creates a new EventSubscriber instance
func NewEventSubscriber(q queue.Queue, topic string, hub *Hub, log *logger.Logger) *EventSubscriber {
	return &EventSubscriber{
		queue: q,
		topic: topic,
		hub:   hub,
		log:   log,
	}
}

// Start subscribes to the events topic until ctx is done
func (s *EventSubscriber) Start(ctx context.Context) error {
	s.log.Info("event subscriber started", "topic", s.topic)
	return s.queue.Subscribe(ctx, s.topic, s.Handle)
}

// Handle routes one event by its record id, falling back to the message key
func (s *EventSubscriber) Handle(ctx context.Context, key string, value []byte) error {
	if !gjson.ValidBytes(value) {
		s.log.Warn("dropping malformed registry event", "key", key, "size", len(value))
		return nil
	}

	var event models.RegistryEvent
	if err := json.Unmarshal(value, &event); err != nil {
		s.log.Warn("dropping undecodable registry event", "key", key, "error", err)
		return nil
	}
	if event.RecordID == "" {
		event.RecordID = key
	}
	if event.RecordID == "" {
		s.log.Warn("dropping registry event without record id",
			"kind", gjson.GetBytes(value, "kind").String())
		return nil
	}

	s.log.Debug("received registry event",
		"record_id", event.RecordID,
		"kind", event.Kind,
		"sequence", event.Sequence,
	)

	return s.hub.Broadcast(ctx, event)
}
