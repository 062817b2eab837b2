package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/koicert/registry/common/models"
)

// ErrMalformedTuple is returned when ledger data does not match the tuple layout
var ErrMalformedTuple = errors.New("malformed ledger tuple")

// Record tuple positions
const (
	recID = iota
	recVariety
	recBreeder
	recGender
	recAge
	recSize
	recCondition
	recPhotoURL
	recCertURLs
	recContestURLs
	recTimestamp
	recIssuer
	recOwner
	recFatherID
	recMotherID

	recordArity
)

// History tuple positions
const (
	histOwner = iota
	histOwnerName
	histNote
	histSize
	histAge
	histPhotoURL
	histTimestamp

	historyArity
)

// EncodeRecord renders rec as a 15-position record tuple
func EncodeRecord(rec models.KoiRecord) (json.RawMessage, error) {
	if rec.SizeCm < 0 {
		return nil, fmt.Errorf("failed to encode record %s: negative size", rec.ID)
	}

	tuple := make([]interface{}, recordArity)
	tuple[recID] = rec.ID
	tuple[recVariety] = rec.Variety
	tuple[recBreeder] = rec.BreederName
	tuple[recGender] = rec.Gender
	tuple[recAge] = rec.AgeLabel
	tuple[recSize] = strconv.FormatInt(rec.SizeCm, 10)
	tuple[recCondition] = rec.ConditionNote
	tuple[recPhotoURL] = rec.PhotoURL
	tuple[recCertURLs] = nonNil(rec.CertificateURLs)
	tuple[recContestURLs] = nonNil(rec.ContestURLs)
	tuple[recTimestamp] = strconv.FormatInt(rec.MintedAt.Unix(), 10)
	tuple[recIssuer] = rec.IssuerPrincipal
	tuple[recOwner] = rec.CurrentOwnerPrincipal
	tuple[recFatherID] = rec.FatherID
	tuple[recMotherID] = rec.MotherID

	return json.Marshal(tuple)
}

// DecodeRecord parses a record tuple strictly
// Placeholder URLs left by older mints are dropped from the URL lists.
func DecodeRecord(raw json.RawMessage) (models.KoiRecord, error) {
	fields, err := splitTuple(raw, recordArity)
	if err != nil {
		return models.KoiRecord{}, fmt.Errorf("record: %w", err)
	}

	var rec models.KoiRecord
	d := decoder{fields: fields}

	rec.ID = d.str(recID)
	rec.Variety = d.str(recVariety)
	rec.BreederName = d.str(recBreeder)
	rec.Gender = d.str(recGender)
	rec.AgeLabel = d.str(recAge)
	rec.SizeCm = d.unsigned(recSize)
	rec.ConditionNote = d.str(recCondition)
	rec.PhotoURL = d.str(recPhotoURL)
	rec.CertificateURLs = d.urls(recCertURLs)
	rec.ContestURLs = d.urls(recContestURLs)
	rec.MintedAt = d.timestamp(recTimestamp)
	rec.IssuerPrincipal = d.str(recIssuer)
	rec.CurrentOwnerPrincipal = d.str(recOwner)
	rec.FatherID = d.str(recFatherID)
	rec.MotherID = d.str(recMotherID)

	if d.err != nil {
		return models.KoiRecord{}, fmt.Errorf("record: %w", d.err)
	}
	if rec.ID == "" {
		return models.KoiRecord{}, fmt.Errorf("record: %w: empty id", ErrMalformedTuple)
	}

	return rec, nil
}

// EncodeEntry renders entry as a 7-position history tuple
func EncodeEntry(entry models.HistoryEntry) (json.RawMessage, error) {
	if entry.SizeCm < 0 {
		return nil, fmt.Errorf("failed to encode history entry: negative size")
	}

	tuple := make([]interface{}, historyArity)
	tuple[histOwner] = entry.OwnerPrincipal
	tuple[histOwnerName] = entry.OwnerDisplayName
	tuple[histNote] = entry.Note
	tuple[histSize] = strconv.FormatInt(entry.SizeCm, 10)
	tuple[histAge] = entry.AgeLabel
	tuple[histPhotoURL] = entry.PhotoURL
	tuple[histTimestamp] = strconv.FormatInt(entry.CommittedAt.Unix(), 10)

	return json.Marshal(tuple)
}

// DecodeEntry parses one history tuple strictly
func DecodeEntry(raw json.RawMessage) (models.HistoryEntry, error) {
	fields, err := splitTuple(raw, historyArity)
	if err != nil {
		return models.HistoryEntry{}, fmt.Errorf("history entry: %w", err)
	}

	var entry models.HistoryEntry
	d := decoder{fields: fields}

	entry.OwnerPrincipal = d.str(histOwner)
	entry.OwnerDisplayName = d.str(histOwnerName)
	entry.Note = d.str(histNote)
	entry.SizeCm = d.unsigned(histSize)
	entry.AgeLabel = d.str(histAge)
	entry.PhotoURL = d.str(histPhotoURL)
	entry.CommittedAt = d.timestamp(histTimestamp)

	if d.err != nil {
		return models.HistoryEntry{}, fmt.Errorf("history entry: %w", d.err)
	}

	return entry, nil
}

// EncodeHistory renders entries, oldest first, as an array of history tuples
func EncodeHistory(entries []models.HistoryEntry) (json.RawMessage, error) {
	tuples := make([]json.RawMessage, 0, len(entries))
	for i, e := range entries {
		t, err := EncodeEntry(e)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		tuples = append(tuples, t)
	}
	return json.Marshal(tuples)
}

// DecodeHistory parses an array of history tuples, preserving order
func DecodeHistory(raw json.RawMessage) ([]models.HistoryEntry, error) {
	if isNull(raw) {
		return nil, nil
	}

	var tuples []json.RawMessage
	if err := json.Unmarshal(raw, &tuples); err != nil {
		return nil, fmt.Errorf("history: %w: %v", ErrMalformedTuple, err)
	}

	entries := make([]models.HistoryEntry, 0, len(tuples))
	for i, t := range tuples {
		e, err := DecodeEntry(t)
		if err != nil {
			return nil, fmt.Errorf("history[%d]: %w", i, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func splitTuple(raw json.RawMessage, arity int) ([]json.RawMessage, error) {
	if isNull(raw) {
		return nil, fmt.Errorf("%w: null", ErrMalformedTuple)
	}

	var fields []json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTuple, err)
	}
	if len(fields) != arity {
		return nil, fmt.Errorf("%w: want %d positions, got %d", ErrMalformedTuple, arity, len(fields))
	}
	return fields, nil
}

// decoder keeps the first positional error so field reads stay linear
type decoder struct {
	fields []json.RawMessage
	err    error
}

func (d *decoder) fail(pos int, format string, args ...interface{}) {
	if d.err == nil {
		d.err = fmt.Errorf("%w: position %d: %s", ErrMalformedTuple, pos, fmt.Sprintf(format, args...))
	}
}

func (d *decoder) str(pos int) string {
	if d.err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(d.fields[pos], &s); err != nil || isNull(d.fields[pos]) {
		d.fail(pos, "want string, got %s", truncate(d.fields[pos]))
		return ""
	}
	return s
}

// unsigned accepts a decimal string or a plain JSON integer
func (d *decoder) unsigned(pos int) int64 {
	if d.err != nil {
		return 0
	}

	raw := bytes.TrimSpace(d.fields[pos])
	var text string
	if len(raw) > 0 && raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			d.fail(pos, "bad string")
			return 0
		}
	} else {
		text = string(raw)
	}

	n, err := strconv.ParseUint(text, 10, 64)
	if err != nil || n > math.MaxInt64 {
		d.fail(pos, "want unsigned integer, got %s", truncate(raw))
		return 0
	}
	return int64(n)
}

func (d *decoder) timestamp(pos int) time.Time {
	secs := d.unsigned(pos)
	if d.err != nil {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}

func (d *decoder) urls(pos int) []string {
	if d.err != nil {
		return nil
	}

	var list []string
	if err := json.Unmarshal(d.fields[pos], &list); err != nil || isNull(d.fields[pos]) {
		d.fail(pos, "want string array, got %s", truncate(d.fields[pos]))
		return nil
	}
	return compactURLs(list)
}

// compactURLs drops placeholder entries
func compactURLs(list []string) []string {
	var out []string
	for _, u := range list {
		if !isPlaceholderURL(u) {
			out = append(out, u)
		}
	}
	return out
}

func isPlaceholderURL(u string) bool {
	return u == "" || u == "-"
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func truncate(raw []byte) string {
	const max = 32
	if len(raw) > max {
		return string(raw[:max]) + "..."
	}
	return string(raw)
}
