package ledger

import (
	"context"
	"encoding/json"

	"github.com/koicert/registry/common/logger"
	"github.com/koicert/registry/common/queue"
)

// Publishing decorates a Ledger and emits a RegistryEvent after every confirmed commit
// Publish failures are logged and never turn a confirmed commit into an error.
type Publishing struct {
	Ledger
	queue queue.Queue
	topic string
	log   *logger.Logger
}

// NewPublishing wraps inner so confirmations are published to topic
func NewPublishing(inner Ledger, q queue.Queue, topic string, log *logger.Logger) *Publishing {
	return &Publishing{
		Ledger: inner,
		queue:  q,
		topic:  topic,
		log:    log,
	}
}

// MintCertificate commits and publishes koi_minted
func (p *Publishing) MintCertificate(ctx context.Context, call MintCall) (Receipt, error) {
	receipt, err := p.Ledger.MintCertificate(ctx, call)
	return p.publish(ctx, receipt, err)
}

// TransferOwnership commits and publishes ownership_transferred
func (p *Publishing) TransferOwnership(ctx context.Context, call TransferCall) (Receipt, error) {
	receipt, err := p.Ledger.TransferOwnership(ctx, call)
	return p.publish(ctx, receipt, err)
}

// UpdateKoiStats commits and publishes koi_updated
func (p *Publishing) UpdateKoiStats(ctx context.Context, call UpdateCall) (Receipt, error) {
	receipt, err := p.Ledger.UpdateKoiStats(ctx, call)
	return p.publish(ctx, receipt, err)
}

func (p *Publishing) publish(ctx context.Context, receipt Receipt, err error) (Receipt, error) {
	if err != nil {
		return receipt, err
	}

	payload, mErr := json.Marshal(receipt.ToEvent())
	if mErr != nil {
		p.log.Error("failed to encode registry event", "record_id", receipt.RecordID, "error", mErr)
		return receipt, nil
	}

	// The commit is final; do not let the caller's cancellation drop the event
	if pErr := p.queue.Publish(context.WithoutCancel(ctx), p.topic, receipt.RecordID, payload); pErr != nil {
		p.log.Warn("failed to publish registry event",
			"record_id", receipt.RecordID,
			"event", receipt.Event,
			"tx_hash", receipt.TxHash,
			"error", pErr)
	}

	return receipt, nil
}
