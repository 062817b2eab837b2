package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/koicert/registry/common/models"
	"github.com/koicert/registry/common/sentinel"
)

// Ledger is the authoritative append-only store behind the registry
// Commit calls block until the mutation is confirmed or rejected. Reads return
// tuple-encoded data that must go through DecodeRecord/DecodeHistory.
type Ledger interface {
	MintCertificate(ctx context.Context, call MintCall) (Receipt, error)
	TransferOwnership(ctx context.Context, call TransferCall) (Receipt, error)
	UpdateKoiStats(ctx context.Context, call UpdateCall) (Receipt, error)
	GetKoi(ctx context.Context, id string) (json.RawMessage, error)
	GetKoiHistory(ctx context.Context, id string) (json.RawMessage, error)
}

// MintCall creates a new record owned by the caller
type MintCall struct {
	// Submitting principal, becomes issuer and first owner
	Caller string `json:"-"`

	ID              string            `json:"id"`
	Attributes      models.Attributes `json:"attributes"`
	PhotoURL        string            `json:"photo_url"`
	CertificateURLs []string          `json:"certificate_urls,omitempty"`
	ContestURLs     []string          `json:"contest_urls,omitempty"`
	IssuerName      string            `json:"issuer_name,omitempty"`
	FatherID        string            `json:"father_id,omitempty"`
	MotherID        string            `json:"mother_id,omitempty"`
}

// TransferCall moves a record to a new owner
// Attributes are the full post-merge attributes, PhotoURL empty keeps the current photo.
type TransferCall struct {
	Caller string `json:"-"`

	ID           string            `json:"id"`
	NewOwner     string            `json:"new_owner"`
	NewOwnerName string            `json:"new_owner_name,omitempty"`
	Attributes   models.Attributes `json:"attributes"`
	PhotoURL     string            `json:"photo_url,omitempty"`
	Note         string            `json:"note"`
}

// UpdateCall changes attributes without changing ownership
type UpdateCall struct {
	Caller string `json:"-"`

	ID                string            `json:"id"`
	Attributes        models.Attributes `json:"attributes"`
	PhotoURL          string            `json:"photo_url,omitempty"`
	AddCertificateURL string            `json:"add_certificate_url,omitempty"`
	AddContestURL     string            `json:"add_contest_url,omitempty"`
	Note              string            `json:"note"`
}

// Receipt is returned once the ledger has confirmed a mutation
type Receipt struct {
	TxHash   string           `json:"tx_hash"`
	Event    models.EventKind `json:"event"`
	RecordID string           `json:"record_id"`

	// 1-based position of Entry in the record's history
	Sequence    int       `json:"sequence"`
	ConfirmedAt time.Time `json:"confirmed_at"`

	// Record and entry tuples as of this confirmation
	Record json.RawMessage `json:"record"`
	Entry  json.RawMessage `json:"entry"`
}

// ToEvent converts the receipt into the event published for it
func (r Receipt) ToEvent() models.RegistryEvent {
	return models.RegistryEvent{
		Kind:        r.Event,
		RecordID:    r.RecordID,
		TxHash:      r.TxHash,
		Sequence:    r.Sequence,
		ConfirmedAt: r.ConfirmedAt,
	}
}

// Rejected marks reason as a refusal by the ledger itself
// Both sentinels stay visible to errors.Is.
func Rejected(reason error) error {
	return fmt.Errorf("%w: %w", sentinel.ErrLedgerRejected, reason)
}

// Validate performs the structural checks every ledger applies to a mint
func (c MintCall) Validate() error {
	switch {
	case strings.TrimSpace(c.ID) == "":
		return fmt.Errorf("%w: id is required", sentinel.ErrInvalidInput)
	case strings.TrimSpace(c.Caller) == "":
		return fmt.Errorf("%w: caller is required", sentinel.ErrInvalidInput)
	case strings.TrimSpace(c.PhotoURL) == "":
		return fmt.Errorf("%w: photo url is required", sentinel.ErrInvalidInput)
	case c.Attributes.SizeCm < 0:
		return fmt.Errorf("%w: size_cm must be >= 0", sentinel.ErrInvalidInput)
	}
	return nil
}

// Validate performs the structural checks every ledger applies to a transfer
func (c TransferCall) Validate() error {
	switch {
	case strings.TrimSpace(c.ID) == "":
		return fmt.Errorf("%w: id is required", sentinel.ErrInvalidInput)
	case strings.TrimSpace(c.NewOwner) == "":
		return fmt.Errorf("%w: new owner is required", sentinel.ErrInvalidInput)
	case strings.TrimSpace(c.Note) == "":
		return fmt.Errorf("%w: note is required", sentinel.ErrInvalidInput)
	case c.Attributes.SizeCm < 0:
		return fmt.Errorf("%w: size_cm must be >= 0", sentinel.ErrInvalidInput)
	}
	return nil
}

// Validate performs the structural checks every ledger applies to an update
func (c UpdateCall) Validate() error {
	switch {
	case strings.TrimSpace(c.ID) == "":
		return fmt.Errorf("%w: id is required", sentinel.ErrInvalidInput)
	case strings.TrimSpace(c.Note) == "":
		return fmt.Errorf("%w: note is required", sentinel.ErrInvalidInput)
	case c.Attributes.SizeCm < 0:
		return fmt.Errorf("%w: size_cm must be >= 0", sentinel.ErrInvalidInput)
	}
	return nil
}

// SamePrincipal compares principals the way wallet addresses compare
func SamePrincipal(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
