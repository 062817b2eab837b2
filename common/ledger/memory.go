package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koicert/registry/common/models"
	"github.com/koicert/registry/common/sentinel"
)

// MemoryLedger is an in-process ledger for development and tests
// Mutations are serialized by a single mutex, so confirmation order is call order.
type MemoryLedger struct {
	mu      sync.Mutex
	records map[string]models.KoiRecord
	history map[string][]models.HistoryEntry

	now         func() time.Time
	unavailable atomic.Bool
}

// MemoryOption configures a MemoryLedger
type MemoryOption func(*MemoryLedger)

// WithClock overrides the ledger clock
func WithClock(now func() time.Time) MemoryOption {
	return func(l *MemoryLedger) {
		l.now = now
	}
}

// NewMemoryLedger creates an empty in-memory ledger
func NewMemoryLedger(opts ...MemoryOption) *MemoryLedger {
	l := &MemoryLedger{
		records: make(map[string]models.KoiRecord),
		history: make(map[string][]models.HistoryEntry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetUnavailable makes every call fail with ErrLedgerUnreachable before touching state
func (l *MemoryLedger) SetUnavailable(down bool) {
	l.unavailable.Store(down)
}

func (l *MemoryLedger) reachable(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", sentinel.ErrLedgerUnreachable, err)
	}
	if l.unavailable.Load() {
		return fmt.Errorf("%w: memory ledger offline", sentinel.ErrLedgerUnreachable)
	}
	return nil
}

// MintCertificate creates a record and its mint entry
func (l *MemoryLedger) MintCertificate(ctx context.Context, call MintCall) (Receipt, error) {
	if err := l.reachable(ctx); err != nil {
		return Receipt{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.records[call.ID]; exists {
		return Receipt{}, Rejected(fmt.Errorf("%w: %s", sentinel.ErrDuplicateID, call.ID))
	}

	rec, entry, err := ApplyMint(call, NextTimestamp(l.now(), time.Time{}))
	if err != nil {
		return Receipt{}, err
	}

	return l.commit(models.EventKoiMinted, rec, entry)
}

// TransferOwnership moves a record to a new owner if the caller owns it
func (l *MemoryLedger) TransferOwnership(ctx context.Context, call TransferCall) (Receipt, error) {
	if err := l.reachable(ctx); err != nil {
		return Receipt{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, last, err := l.current(call.ID)
	if err != nil {
		return Receipt{}, err
	}

	next, entry, err := ApplyTransfer(rec, call, NextTimestamp(l.now(), last.CommittedAt))
	if err != nil {
		return Receipt{}, err
	}

	return l.commit(models.EventOwnershipTransferred, next, entry)
}

// UpdateKoiStats changes attributes and documents if the caller owns the record
func (l *MemoryLedger) UpdateKoiStats(ctx context.Context, call UpdateCall) (Receipt, error) {
	if err := l.reachable(ctx); err != nil {
		return Receipt{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, last, err := l.current(call.ID)
	if err != nil {
		return Receipt{}, err
	}

	next, entry, err := ApplyUpdate(rec, last, call, NextTimestamp(l.now(), last.CommittedAt))
	if err != nil {
		return Receipt{}, err
	}

	return l.commit(models.EventKoiUpdated, next, entry)
}

// GetKoi returns the record tuple
func (l *MemoryLedger) GetKoi(ctx context.Context, id string) (json.RawMessage, error) {
	if err := l.reachable(ctx); err != nil {
		return nil, err
	}

	l.mu.Lock()
	rec, ok := l.records[id]
	l.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", sentinel.ErrRecordNotFound, id)
	}
	return EncodeRecord(rec)
}

// GetKoiHistory returns the history tuples oldest first, empty for unknown ids
func (l *MemoryLedger) GetKoiHistory(ctx context.Context, id string) (json.RawMessage, error) {
	if err := l.reachable(ctx); err != nil {
		return nil, err
	}

	l.mu.Lock()
	entries := append([]models.HistoryEntry(nil), l.history[id]...)
	l.mu.Unlock()

	return EncodeHistory(entries)
}

// current returns the record and newest entry. Caller holds l.mu.
func (l *MemoryLedger) current(id string) (models.KoiRecord, models.HistoryEntry, error) {
	rec, ok := l.records[id]
	if !ok {
		return models.KoiRecord{}, models.HistoryEntry{}, fmt.Errorf("%w: %s", sentinel.ErrRecordNotFound, id)
	}
	entries := l.history[id]
	return rec, entries[len(entries)-1], nil
}

// commit stores the new state and builds its receipt. Caller holds l.mu.
func (l *MemoryLedger) commit(kind models.EventKind, rec models.KoiRecord, entry models.HistoryEntry) (Receipt, error) {
	receipt, err := NewReceipt(kind, rec, entry, len(l.history[rec.ID])+1)
	if err != nil {
		return Receipt{}, err
	}

	l.records[rec.ID] = rec
	l.history[rec.ID] = append(l.history[rec.ID], entry)
	return receipt, nil
}
