package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/koicert/registry/common/models"
	"github.com/koicert/registry/common/sentinel"
)

// State transitions shared by every ledger implementation. Callers load the
// current record and newest entry, apply, then persist the result atomically.

// NextTimestamp returns the commit time for a new entry
// Times have second precision and never go backwards for one record.
func NextTimestamp(now, last time.Time) time.Time {
	at := now.UTC().Truncate(time.Second)
	if at.Before(last) {
		return last
	}
	return at
}

// ApplyMint builds the new record and its mint entry
func ApplyMint(call MintCall, at time.Time) (models.KoiRecord, models.HistoryEntry, error) {
	if err := call.Validate(); err != nil {
		return models.KoiRecord{}, models.HistoryEntry{}, Rejected(err)
	}

	rec := models.KoiRecord{
		ID:                    call.ID,
		Attributes:            call.Attributes,
		PhotoURL:              call.PhotoURL,
		CertificateURLs:       compactURLs(call.CertificateURLs),
		ContestURLs:           compactURLs(call.ContestURLs),
		IssuerPrincipal:       call.Caller,
		CurrentOwnerPrincipal: call.Caller,
		FatherID:              call.FatherID,
		MotherID:              call.MotherID,
		MintedAt:              at,
	}

	entry := models.HistoryEntry{
		OwnerPrincipal:   call.Caller,
		OwnerDisplayName: call.IssuerName,
		Note:             models.MintNote,
		SizeCm:           call.Attributes.SizeCm,
		AgeLabel:         call.Attributes.AgeLabel,
		PhotoURL:         call.PhotoURL,
		CommittedAt:      at,
	}

	return rec, entry, nil
}

// ApplyTransfer moves rec to the call's new owner
func ApplyTransfer(rec models.KoiRecord, call TransferCall, at time.Time) (models.KoiRecord, models.HistoryEntry, error) {
	if err := call.Validate(); err != nil {
		return rec, models.HistoryEntry{}, Rejected(err)
	}
	if !SamePrincipal(call.Caller, rec.CurrentOwnerPrincipal) {
		return rec, models.HistoryEntry{}, Rejected(fmt.Errorf("%w: %s does not own %s", sentinel.ErrNotAuthorized, call.Caller, rec.ID))
	}

	next := rec.Clone()
	next.Attributes = call.Attributes
	if call.PhotoURL != "" {
		next.PhotoURL = call.PhotoURL
	}
	next.CurrentOwnerPrincipal = call.NewOwner

	entry := models.HistoryEntry{
		OwnerPrincipal:   call.NewOwner,
		OwnerDisplayName: call.NewOwnerName,
		Note:             call.Note,
		SizeCm:           next.SizeCm,
		AgeLabel:         next.AgeLabel,
		PhotoURL:         next.PhotoURL,
		CommittedAt:      at,
	}

	return next, entry, nil
}

// ApplyUpdate changes attributes and appends documents, keeping the owner
// last is the newest history entry, its display name carries over.
func ApplyUpdate(rec models.KoiRecord, last models.HistoryEntry, call UpdateCall, at time.Time) (models.KoiRecord, models.HistoryEntry, error) {
	if err := call.Validate(); err != nil {
		return rec, models.HistoryEntry{}, Rejected(err)
	}
	if !SamePrincipal(call.Caller, rec.CurrentOwnerPrincipal) {
		return rec, models.HistoryEntry{}, Rejected(fmt.Errorf("%w: %s does not own %s", sentinel.ErrNotAuthorized, call.Caller, rec.ID))
	}

	next := rec.Clone()
	next.Attributes = call.Attributes
	if call.PhotoURL != "" {
		next.PhotoURL = call.PhotoURL
	}
	if !isPlaceholderURL(call.AddCertificateURL) {
		next.CertificateURLs = append(next.CertificateURLs, call.AddCertificateURL)
	}
	if !isPlaceholderURL(call.AddContestURL) {
		next.ContestURLs = append(next.ContestURLs, call.AddContestURL)
	}

	entry := models.HistoryEntry{
		OwnerPrincipal:   next.CurrentOwnerPrincipal,
		OwnerDisplayName: last.OwnerDisplayName,
		Note:             call.Note,
		SizeCm:           next.SizeCm,
		AgeLabel:         next.AgeLabel,
		PhotoURL:         next.PhotoURL,
		CommittedAt:      at,
	}

	return next, entry, nil
}

// NewReceipt encodes the confirmed state into a receipt
func NewReceipt(kind models.EventKind, rec models.KoiRecord, entry models.HistoryEntry, sequence int) (Receipt, error) {
	recordTuple, err := EncodeRecord(rec)
	if err != nil {
		return Receipt{}, err
	}
	entryTuple, err := EncodeEntry(entry)
	if err != nil {
		return Receipt{}, err
	}

	return Receipt{
		TxHash:      TxHash(rec.ID, sequence, entryTuple),
		Event:       kind,
		RecordID:    rec.ID,
		Sequence:    sequence,
		ConfirmedAt: entry.CommittedAt,
		Record:      recordTuple,
		Entry:       entryTuple,
	}, nil
}

// TxHash derives the transaction hash of the sequence-th entry of id
func TxHash(id string, sequence int, entryTuple []byte) string {
	h := sha256.New()
	h.Write([]byte(id))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(sequence)))
	h.Write([]byte{0})
	h.Write(entryTuple)
	return "0x" + hex.EncodeToString(h.Sum(nil))
}
