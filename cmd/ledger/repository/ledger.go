package repository

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/koicert/registry/common/db"
	"github.com/koicert/registry/common/ledger"
	"github.com/koicert/registry/common/models"
	"github.com/koicert/registry/common/sentinel"
)

//go:embed schema.sql
var schema string

// PostgresLedger persists certificates and their history in Postgres
// Every commit runs in one transaction holding the record row lock, so commits
// to one record are serialized and history sequences have no gaps.
type PostgresLedger struct {
	db  *db.DB
	now func() time.Time
}

// NewPostgresLedger creates a new ledger repository
func NewPostgresLedger(database *db.DB) *PostgresLedger {
	return &PostgresLedger{
		db:  database,
		now: time.Now,
	}
}

// EnsureSchema creates the ledger tables if missing
func EnsureSchema(ctx context.Context, database *db.DB) error {
	if _, err := database.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create ledger schema: %w", err)
	}
	return nil
}

// MintCertificate inserts a new record and its mint entry
func (l *PostgresLedger) MintCertificate(ctx context.Context, call ledger.MintCall) (ledger.Receipt, error) {
	var receipt ledger.Receipt

	err := l.db.InTx(ctx, func(tx pgx.Tx) error {
		rec, entry, err := ledger.ApplyMint(call, ledger.NextTimestamp(l.now(), time.Time{}))
		if err != nil {
			return err
		}

		doc, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to encode record: %w", err)
		}

		query := `
			INSERT INTO koi_record (id, owner, record, sequence, minted_at, updated_at)
			VALUES ($1, $2, $3, 1, $4, $4)
			ON CONFLICT (id) DO NOTHING
		`

		tag, err := tx.Exec(ctx, query, rec.ID, rec.CurrentOwnerPrincipal, doc, rec.MintedAt)
		if err != nil {
			return fmt.Errorf("failed to insert record: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ledger.Rejected(fmt.Errorf("%w: %s", sentinel.ErrDuplicateID, call.ID))
		}

		receipt, err = appendEntry(ctx, tx, models.EventKoiMinted, rec, entry, 1)
		return err
	})

	return receipt, l.classify(err)
}

// TransferOwnership moves a record to a new owner if the caller owns it
func (l *PostgresLedger) TransferOwnership(ctx context.Context, call ledger.TransferCall) (ledger.Receipt, error) {
	return l.mutate(ctx, call.ID, models.EventOwnershipTransferred, func(rec models.KoiRecord, last models.HistoryEntry) (models.KoiRecord, models.HistoryEntry, error) {
		return ledger.ApplyTransfer(rec, call, ledger.NextTimestamp(l.now(), last.CommittedAt))
	})
}

// UpdateKoiStats changes attributes and documents if the caller owns the record
func (l *PostgresLedger) UpdateKoiStats(ctx context.Context, call ledger.UpdateCall) (ledger.Receipt, error) {
	return l.mutate(ctx, call.ID, models.EventKoiUpdated, func(rec models.KoiRecord, last models.HistoryEntry) (models.KoiRecord, models.HistoryEntry, error) {
		return ledger.ApplyUpdate(rec, last, call, ledger.NextTimestamp(l.now(), last.CommittedAt))
	})
}

type transition func(rec models.KoiRecord, last models.HistoryEntry) (models.KoiRecord, models.HistoryEntry, error)

// mutate locks the record, applies fn and appends the resulting entry
func (l *PostgresLedger) mutate(ctx context.Context, id string, kind models.EventKind, fn transition) (ledger.Receipt, error) {
	var receipt ledger.Receipt

	err := l.db.InTx(ctx, func(tx pgx.Tx) error {
		var (
			doc      []byte
			sequence int
		)
		err := tx.QueryRow(ctx, `SELECT record, sequence FROM koi_record WHERE id = $1 FOR UPDATE`, id).Scan(&doc, &sequence)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", sentinel.ErrRecordNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("failed to lock record: %w", err)
		}

		var rec models.KoiRecord
		if err := json.Unmarshal(doc, &rec); err != nil {
			return fmt.Errorf("failed to decode record %s: %w", id, err)
		}

		var entryDoc []byte
		query := `SELECT entry FROM koi_history WHERE record_id = $1 AND sequence = $2`
		if err := tx.QueryRow(ctx, query, id, sequence).Scan(&entryDoc); err != nil {
			return fmt.Errorf("failed to read newest entry: %w", err)
		}

		var last models.HistoryEntry
		if err := json.Unmarshal(entryDoc, &last); err != nil {
			return fmt.Errorf("failed to decode entry %s/%d: %w", id, sequence, err)
		}

		next, entry, err := fn(rec, last)
		if err != nil {
			return err
		}

		nextDoc, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to encode record: %w", err)
		}

		update := `
			UPDATE koi_record
			SET owner = $2, record = $3, sequence = $4, updated_at = GREATEST(updated_at, $5)
			WHERE id = $1
		`
		if _, err := tx.Exec(ctx, update, id, next.CurrentOwnerPrincipal, nextDoc, sequence+1, entry.CommittedAt); err != nil {
			return fmt.Errorf("failed to update record: %w", err)
		}

		receipt, err = appendEntry(ctx, tx, kind, next, entry, sequence+1)
		return err
	})

	return receipt, l.classify(err)
}

func appendEntry(ctx context.Context, tx pgx.Tx, kind models.EventKind, rec models.KoiRecord, entry models.HistoryEntry, sequence int) (ledger.Receipt, error) {
	receipt, err := ledger.NewReceipt(kind, rec, entry, sequence)
	if err != nil {
		return ledger.Receipt{}, err
	}

	doc, err := json.Marshal(entry)
	if err != nil {
		return ledger.Receipt{}, fmt.Errorf("failed to encode entry: %w", err)
	}

	query := `
		INSERT INTO koi_history (record_id, sequence, tx_hash, event, entry, committed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := tx.Exec(ctx, query, rec.ID, sequence, receipt.TxHash, string(kind), doc, entry.CommittedAt); err != nil {
		return ledger.Receipt{}, fmt.Errorf("failed to append history: %w", err)
	}

	return receipt, nil
}

// GetKoi returns the record tuple
func (l *PostgresLedger) GetKoi(ctx context.Context, id string) (json.RawMessage, error) {
	var doc []byte
	err := l.db.QueryRow(ctx, `SELECT record FROM koi_record WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", sentinel.ErrRecordNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get record: %v", sentinel.ErrLedgerUnreachable, err)
	}

	var rec models.KoiRecord
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode record %s: %w", id, err)
	}
	return ledger.EncodeRecord(rec)
}

// GetKoiHistory returns the history tuples oldest first, empty for unknown ids
func (l *PostgresLedger) GetKoiHistory(ctx context.Context, id string) (json.RawMessage, error) {
	query := `
		SELECT entry
		FROM koi_history
		WHERE record_id = $1
		ORDER BY sequence ASC
	`

	rows, err := l.db.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get history: %v", sentinel.ErrLedgerUnreachable, err)
	}
	defer rows.Close()

	var entries []models.HistoryEntry
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}

		var entry models.HistoryEntry
		if err := json.Unmarshal(doc, &entry); err != nil {
			return nil, fmt.Errorf("failed to decode entry of %s: %w", id, err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: error iterating history: %v", sentinel.ErrLedgerUnreachable, err)
	}

	return ledger.EncodeHistory(entries)
}

// classify keeps ledger verdicts and marks failures that never reached the
// database as unreachable. Anything else may have committed.
func (l *PostgresLedger) classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrLedgerRejected), errors.Is(err, sentinel.ErrRecordNotFound):
		return err
	case pgconn.SafeToRetry(err):
		return fmt.Errorf("%w: %v", sentinel.ErrLedgerUnreachable, err)
	default:
		return err
	}
}
