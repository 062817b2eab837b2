package service

import (
	"context"
	"encoding/json"

	"github.com/koicert/registry/common/logger"
	"github.com/koicert/registry/common/models"
	"github.com/koicert/registry/common/queue"
)

type refresher interface {
	Sequence(id string) (int, bool)
	Refresh(ctx context.Context, id string) error
}

// ProjectionSyncer keeps the projection in step with commits made by other
// registry instances. Ids this instance has not loaded are skipped; they are
// read from the ledger on first access anyway.
type ProjectionSyncer struct {
	queue    queue.Queue
	topic    string
	registry refresher
	log      *logger.Logger
}

// NewProjectionSyncer creates a syncer for events published on topic
func NewProjectionSyncer(q queue.Queue, topic string, registry refresher, log *logger.Logger) *ProjectionSyncer {
	return &ProjectionSyncer{
		queue:    q,
		topic:    topic,
		registry: registry,
		log:      log,
	}
}

// Start subscribes to the events topic until ctx is done
func (s *ProjectionSyncer) Start(ctx context.Context) error {
	s.log.Info("projection sync started", "topic", s.topic)
	return s.queue.Subscribe(ctx, s.topic, s.Handle)
}

// Handle applies one registry event
func (s *ProjectionSyncer) Handle(ctx context.Context, key string, value []byte) error {
	var event models.RegistryEvent
	if err := json.Unmarshal(value, &event); err != nil {
		s.log.Warn("dropping malformed registry event", "key", key, "error", err)
		return nil
	}
	if event.RecordID == "" {
		event.RecordID = key
	}

	local, tracked := s.registry.Sequence(event.RecordID)
	if !tracked || local >= event.Sequence {
		return nil
	}

	s.log.Debug("projection behind event, refreshing",
		"record_id", event.RecordID,
		"sequence", event.Sequence,
		"local", local,
	)

	if err := s.registry.Refresh(ctx, event.RecordID); err != nil {
		s.log.Warn("projection refresh failed", "record_id", event.RecordID, "error", err)
		return err
	}
	return nil
}
