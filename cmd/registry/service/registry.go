package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"golang.org/x/sync/errgroup"

	"github.com/koicert/registry/common/ledger"
	"github.com/koicert/registry/common/lock"
	"github.com/koicert/registry/common/logger"
	"github.com/koicert/registry/common/metrics"
	"github.com/koicert/registry/common/models"
	"github.com/koicert/registry/common/sentinel"
	"github.com/koicert/registry/common/validation"
)

// MintRequest creates a new certificate owned by Principal
type MintRequest struct {
	Principal       string
	ID              string
	Attributes      models.Attributes
	PhotoURL        string
	CertificateURLs []string
	ContestURLs     []string
	IssuerName      string
	FatherID        string
	MotherID        string
}

// TransferRequest hands a record to NewOwner
// AttributePatch is an RFC 7386 merge patch over the current attributes.
type TransferRequest struct {
	Principal      string
	ID             string
	NewOwner       string
	NewOwnerName   string
	AttributePatch json.RawMessage
	PhotoURL       string
	Note           string
}

// UpdateRequest changes attributes and appends documents, owner unchanged
type UpdateRequest struct {
	Principal      string
	ID             string
	AttributePatch json.RawMessage
	PhotoURL       string
	CertificateURL string
	ContestURL     string
	Note           string
}

// Commit is a confirmed mutation: the record as of the receipt plus the receipt
type Commit struct {
	Record  models.KoiRecord
	Receipt ledger.Receipt
}

// Registry is the current-state projection of the ledger
// It is the only writer of the history trail and lineage index. Mutations on
// one id are serialized through the locker; different ids never contend.
type Registry struct {
	ledger    ledger.Ledger
	locker    lock.Locker
	trail     HistoryTrail
	lineage   *LineageIndex
	guard     *OwnershipGuard
	validator *validation.AttributeValidator
	metrics   *metrics.Metrics
	log       *logger.Logger

	pedigreeDepth int

	mu      sync.RWMutex
	records map[string]models.KoiRecord
}

// Option configures a Registry
type Option func(*Registry)

// WithLocker replaces the in-process locker, e.g. with a Redis locker
func WithLocker(l lock.Locker) Option {
	return func(r *Registry) {
		r.locker = l
	}
}

// WithHistoryTrail replaces the in-memory history trail
func WithHistoryTrail(t HistoryTrail) Option {
	return func(r *Registry) {
		r.trail = t
	}
}

// WithValidator adds configurable attribute rules
func WithValidator(v *validation.AttributeValidator) Option {
	return func(r *Registry) {
		r.validator = v
	}
}

// WithMetrics records ledger latency and resyncs
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithPedigreeDepth sets the default pedigree depth
func WithPedigreeDepth(depth int) Option {
	return func(r *Registry) {
		if depth > 0 {
			r.pedigreeDepth = min(depth, MaxPedigreeDepth)
		}
	}
}

// NewRegistry creates an empty projection over l
func NewRegistry(l ledger.Ledger, log *logger.Logger, opts ...Option) *Registry {
	r := &Registry{
		ledger:        l,
		locker:        lock.NewMemoryLocker(),
		trail:         NewMemoryTrail(),
		lineage:       NewLineageIndex(),
		log:           log,
		pedigreeDepth: DefaultPedigreeDepth,
		records:       make(map[string]models.KoiRecord),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.guard = NewOwnershipGuard(r)
	return r
}

// Guard returns the ownership guard bound to this registry
func (r *Registry) Guard() *OwnershipGuard {
	return r.guard
}

// Mint creates a record and its mint entry
func (r *Registry) Mint(ctx context.Context, req MintRequest) (*Commit, error) {
	switch {
	case strings.TrimSpace(req.ID) == "":
		return nil, fmt.Errorf("%w: id is required", sentinel.ErrInvalidInput)
	case strings.TrimSpace(req.Principal) == "":
		return nil, fmt.Errorf("%w: principal is required", sentinel.ErrInvalidInput)
	case strings.TrimSpace(req.PhotoURL) == "":
		return nil, fmt.Errorf("%w: photo is required", sentinel.ErrInvalidInput)
	}
	if err := r.validate(req.Attributes); err != nil {
		return nil, err
	}

	unlock, err := r.lockRecord(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, exists := r.lookup(req.ID); exists {
		return nil, fmt.Errorf("%w: %s", sentinel.ErrDuplicateID, req.ID)
	}

	call := ledger.MintCall{
		Caller:          req.Principal,
		ID:              req.ID,
		Attributes:      req.Attributes,
		PhotoURL:        req.PhotoURL,
		CertificateURLs: req.CertificateURLs,
		ContestURLs:     req.ContestURLs,
		IssuerName:      req.IssuerName,
		FatherID:        req.FatherID,
		MotherID:        req.MotherID,
	}

	receipt, err := r.submit(ctx, "mint", func(ctx context.Context) (ledger.Receipt, error) {
		return r.ledger.MintCertificate(ctx, call)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to mint %s: %w", req.ID, err)
	}

	return r.applyConfirmed(ctx, receipt)
}

// Transfer hands the record to a new owner if the principal owns it
func (r *Registry) Transfer(ctx context.Context, req TransferRequest) (*Commit, error) {
	switch {
	case strings.TrimSpace(req.ID) == "":
		return nil, fmt.Errorf("%w: id is required", sentinel.ErrInvalidInput)
	case strings.TrimSpace(req.NewOwner) == "":
		return nil, fmt.Errorf("%w: new owner is required", sentinel.ErrInvalidInput)
	case strings.TrimSpace(req.Note) == "":
		return nil, fmt.Errorf("%w: note is required", sentinel.ErrInvalidInput)
	}

	unlock, err := r.lockRecord(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := r.authorized(ctx, req.ID, req.Principal)
	if err != nil {
		return nil, err
	}

	attrs, err := mergeAttributes(current.Attributes, req.AttributePatch)
	if err != nil {
		return nil, err
	}
	if err := r.validate(attrs); err != nil {
		return nil, err
	}

	call := ledger.TransferCall{
		Caller:       req.Principal,
		ID:           req.ID,
		NewOwner:     req.NewOwner,
		NewOwnerName: req.NewOwnerName,
		Attributes:   attrs,
		PhotoURL:     req.PhotoURL,
		Note:         req.Note,
	}

	receipt, err := r.submit(ctx, "transfer", func(ctx context.Context) (ledger.Receipt, error) {
		return r.ledger.TransferOwnership(ctx, call)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to transfer %s: %w", req.ID, err)
	}

	return r.applyConfirmed(ctx, receipt)
}

// Update changes attributes and appends documents if the principal owns the record
func (r *Registry) Update(ctx context.Context, req UpdateRequest) (*Commit, error) {
	switch {
	case strings.TrimSpace(req.ID) == "":
		return nil, fmt.Errorf("%w: id is required", sentinel.ErrInvalidInput)
	case strings.TrimSpace(req.Note) == "":
		return nil, fmt.Errorf("%w: note is required", sentinel.ErrInvalidInput)
	}

	unlock, err := r.lockRecord(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := r.authorized(ctx, req.ID, req.Principal)
	if err != nil {
		return nil, err
	}

	attrs, err := mergeAttributes(current.Attributes, req.AttributePatch)
	if err != nil {
		return nil, err
	}
	if err := r.validate(attrs); err != nil {
		return nil, err
	}

	call := ledger.UpdateCall{
		Caller:            req.Principal,
		ID:                req.ID,
		Attributes:        attrs,
		PhotoURL:          req.PhotoURL,
		AddCertificateURL: req.CertificateURL,
		AddContestURL:     req.ContestURL,
		Note:              req.Note,
	}

	receipt, err := r.submit(ctx, "update", func(ctx context.Context) (ledger.Receipt, error) {
		return r.ledger.UpdateKoiStats(ctx, call)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update %s: %w", req.ID, err)
	}

	return r.applyConfirmed(ctx, receipt)
}

// Get returns the current record, loading it from the ledger on a miss
func (r *Registry) Get(ctx context.Context, id string) (models.KoiRecord, error) {
	if rec, ok := r.lookup(id); ok {
		return rec, nil
	}

	if err := r.load(ctx, id); err != nil {
		return models.KoiRecord{}, err
	}

	rec, ok := r.lookup(id)
	if !ok {
		return models.KoiRecord{}, fmt.Errorf("%w: %s", sentinel.ErrRecordNotFound, id)
	}
	return rec, nil
}

// GetHistory returns id's entries newest first
// The sequence is a snapshot: ranging over it twice yields the same entries.
// Unknown ids yield an empty sequence.
func (r *Registry) GetHistory(ctx context.Context, id string) (iter.Seq[models.HistoryEntry], error) {
	if r.trail.Len(id) == 0 {
		if _, err := r.Get(ctx, id); err != nil && !errors.Is(err, sentinel.ErrRecordNotFound) {
			return nil, err
		}
	}

	snapshot := r.trail.ReadAll(id)
	return func(yield func(models.HistoryEntry) bool) {
		for i := len(snapshot) - 1; i >= 0; i-- {
			if !yield(snapshot[i]) {
				return
			}
		}
	}, nil
}

// Lineage returns the parents recorded for id at mint
func (r *Registry) Lineage(ctx context.Context, id string) (models.Lineage, error) {
	if l, ok := r.lineage.Resolve(id); ok {
		return l, nil
	}

	if _, err := r.Get(ctx, id); err != nil {
		return models.Lineage{}, err
	}

	l, _ := r.lineage.Resolve(id)
	return l, nil
}

// Sequence returns how many entries the projection holds for id and whether id is tracked
func (r *Registry) Sequence(id string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.records[id]
	return r.trail.Len(id), ok
}

// Refresh re-reads id from the ledger and appends confirmed entries the
// projection has not seen yet
func (r *Registry) Refresh(ctx context.Context, id string) error {
	if err := r.load(ctx, id); err != nil {
		return err
	}
	r.metrics.IncrementResync()
	return nil
}

func (r *Registry) lookup(id string) (models.KoiRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return models.KoiRecord{}, false
	}
	return rec.Clone(), true
}

func (r *Registry) lockRecord(ctx context.Context, id string) (func(), error) {
	unlock, err := r.locker.Lock(ctx, "koi:"+id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", sentinel.ErrRecordBusy, id, err)
	}
	return unlock, nil
}

// authorized runs the ownership check and returns the current record. Caller holds the id lock.
func (r *Registry) authorized(ctx context.Context, id, principal string) (models.KoiRecord, error) {
	decision, err := r.guard.Authorize(ctx, id, principal)
	if err != nil {
		return models.KoiRecord{}, err
	}
	if err := decision.Err(); err != nil {
		return models.KoiRecord{}, fmt.Errorf("%w: %s", err, id)
	}

	rec, ok := r.lookup(id)
	if !ok {
		return models.KoiRecord{}, fmt.Errorf("%w: %s", sentinel.ErrRecordNotFound, id)
	}
	return rec, nil
}

func (r *Registry) validate(attrs models.Attributes) error {
	if r.validator == nil {
		if attrs.SizeCm < 0 {
			return fmt.Errorf("%w: size_cm must be >= 0, got %d", sentinel.ErrInvalidInput, attrs.SizeCm)
		}
		return nil
	}
	return r.validator.Validate(attrs)
}

// submit runs one ledger commit. An unclassified failure after the deadline
// may still confirm, so it is reported as ErrOutcomeUnknown.
func (r *Registry) submit(ctx context.Context, call string, fn func(context.Context) (ledger.Receipt, error)) (ledger.Receipt, error) {
	start := time.Now()
	receipt, err := fn(ctx)

	result := "confirmed"
	if err != nil {
		result = sentinel.Code(err)
		if result == "internal" && ctx.Err() != nil {
			err = fmt.Errorf("%w: %w", sentinel.ErrOutcomeUnknown, err)
			result = sentinel.Code(err)
		}
	}
	r.metrics.ObserveLedgerSubmit(call, result, start)

	return receipt, err
}

// applyConfirmed folds a receipt into the projection
// The receipt is appended when it is the next entry, ignored when a sync got
// there first, and triggers a resync when entries are missing in between.
func (r *Registry) applyConfirmed(ctx context.Context, receipt ledger.Receipt) (*Commit, error) {
	log := r.log.WithRecordID(receipt.RecordID)

	rec, entry, err := decodeReceipt(receipt)
	if err != nil {
		log.Warn("confirmed receipt could not be decoded, resyncing", "tx_hash", receipt.TxHash, "error", err)
		if syncErr := r.Refresh(ctx, receipt.RecordID); syncErr != nil {
			return nil, fmt.Errorf("%w: %s confirmed as %s but projection is stale: %w",
				sentinel.ErrOutcomeUnknown, receipt.RecordID, receipt.TxHash, errors.Join(err, syncErr))
		}
		current, getErr := r.Get(ctx, receipt.RecordID)
		if getErr != nil {
			return nil, fmt.Errorf("%w: %w", sentinel.ErrOutcomeUnknown, getErr)
		}
		return &Commit{Record: current, Receipt: receipt}, nil
	}

	r.mu.Lock()
	local := r.trail.Len(receipt.RecordID)
	switch {
	case receipt.Sequence == local+1:
		r.appendLocked(rec, entry, receipt.Event == models.EventKoiMinted)
		r.mu.Unlock()
	case receipt.Sequence <= local:
		r.mu.Unlock()
		log.Debug("receipt already applied", "sequence", receipt.Sequence, "local", local)
	default:
		r.mu.Unlock()
		log.Info("projection behind ledger, resyncing", "sequence", receipt.Sequence, "local", local)
		if err := r.Refresh(ctx, receipt.RecordID); err != nil {
			log.Warn("resync after confirmation failed", "error", err)
		}
	}

	log.Info("mutation confirmed",
		"event", receipt.Event,
		"tx_hash", receipt.TxHash,
		"sequence", receipt.Sequence,
	)

	return &Commit{Record: rec, Receipt: receipt}, nil
}

// appendLocked stores rec and entry. Caller holds r.mu.
func (r *Registry) appendLocked(rec models.KoiRecord, entry models.HistoryEntry, minted bool) {
	r.records[rec.ID] = rec.Clone()
	if err := r.trail.Append(rec.ID, entry); err != nil {
		r.log.Error("history append failed", "record_id", rec.ID, "error", err)
	}
	if minted {
		r.recordLineage(rec)
	}
}

func (r *Registry) recordLineage(rec models.KoiRecord) {
	if _, ok := r.lineage.Resolve(rec.ID); ok {
		return
	}
	if err := r.lineage.RecordLineage(rec.ID, rec.FatherID, rec.MotherID); err != nil {
		r.log.Warn("lineage already recorded", "record_id", rec.ID, "error", err)
	}
}

// load reads the record and its history concurrently and merges the tail
// the projection is missing
func (r *Registry) load(ctx context.Context, id string) error {
	var recordRaw, historyRaw json.RawMessage

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		raw, err := r.ledger.GetKoi(gctx, id)
		if err != nil {
			return err
		}
		recordRaw = raw
		return nil
	})
	g.Go(func() error {
		raw, err := r.ledger.GetKoiHistory(gctx, id)
		if err != nil {
			return err
		}
		historyRaw = raw
		return nil
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to load %s from ledger: %w", id, err)
	}

	rec, err := ledger.DecodeRecord(recordRaw)
	if err != nil {
		return fmt.Errorf("failed to decode record %s: %w", id, err)
	}
	entries, err := ledger.DecodeHistory(historyRaw)
	if err != nil {
		return fmt.Errorf("failed to decode history of %s: %w", id, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	local := r.trail.Len(id)
	_, known := r.records[id]

	if len(entries) > local || !known {
		r.records[id] = rec
	}
	for _, entry := range entries[min(local, len(entries)):] {
		if err := r.trail.Append(id, entry); err != nil {
			return fmt.Errorf("failed to append history of %s: %w", id, err)
		}
	}
	r.recordLineage(rec)

	if added := len(entries) - local; added > 0 {
		r.log.Debug("projection loaded from ledger", "record_id", id, "entries_added", added)
	}
	return nil
}

func decodeReceipt(receipt ledger.Receipt) (models.KoiRecord, models.HistoryEntry, error) {
	rec, err := ledger.DecodeRecord(receipt.Record)
	if err != nil {
		return models.KoiRecord{}, models.HistoryEntry{}, err
	}
	entry, err := ledger.DecodeEntry(receipt.Entry)
	if err != nil {
		return models.KoiRecord{}, models.HistoryEntry{}, err
	}
	if rec.ID != receipt.RecordID {
		return models.KoiRecord{}, models.HistoryEntry{}, fmt.Errorf("receipt for %s carries record %s", receipt.RecordID, rec.ID)
	}
	return rec, entry, nil
}

// mergeAttributes applies an RFC 7386 merge patch to attrs
// Unknown attribute names are rejected; null resets a field to its zero value.
func mergeAttributes(attrs models.Attributes, patch json.RawMessage) (models.Attributes, error) {
	if len(bytes.TrimSpace(patch)) == 0 {
		return attrs, nil
	}

	original, err := json.Marshal(attrs)
	if err != nil {
		return attrs, fmt.Errorf("failed to encode attributes: %w", err)
	}

	merged, err := jsonpatch.MergePatch(original, patch)
	if err != nil {
		return attrs, fmt.Errorf("%w: attribute patch: %v", sentinel.ErrInvalidInput, err)
	}

	var out models.Attributes
	dec := json.NewDecoder(bytes.NewReader(merged))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return attrs, fmt.Errorf("%w: attribute patch: %v", sentinel.ErrInvalidInput, err)
	}
	return out, nil
}
