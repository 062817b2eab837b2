package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/koicert/registry/common/ledger"
	"github.com/koicert/registry/common/models"
	"github.com/koicert/registry/common/sentinel"
)

// Decision is the outcome of an ownership check
type Decision int

const (
	Authorized Decision = iota + 1
	NotAuthorized
	RecordNotFound
)

func (d Decision) String() string {
	switch d {
	case Authorized:
		return "authorized"
	case NotAuthorized:
		return "not_authorized"
	case RecordNotFound:
		return "record_not_found"
	default:
		return "unknown"
	}
}

// Err maps a negative decision to its sentinel, nil when authorized
func (d Decision) Err() error {
	switch d {
	case Authorized:
		return nil
	case RecordNotFound:
		return sentinel.ErrRecordNotFound
	default:
		return sentinel.ErrNotAuthorized
	}
}

type recordReader interface {
	Get(ctx context.Context, id string) (models.KoiRecord, error)
}

// OwnershipGuard checks a principal against a record's current owner
// It only reads. The ledger repeats the check when the mutation commits.
type OwnershipGuard struct {
	records recordReader
}

// NewOwnershipGuard creates a guard reading owners from records
func NewOwnershipGuard(records recordReader) *OwnershipGuard {
	return &OwnershipGuard{records: records}
}

// Authorize reports whether principal currently owns id
func (g *OwnershipGuard) Authorize(ctx context.Context, id, principal string) (Decision, error) {
	rec, err := g.records.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrRecordNotFound) {
			return RecordNotFound, nil
		}
		return 0, fmt.Errorf("failed to load owner of %s: %w", id, err)
	}

	if principal == "" || !ledger.SamePrincipal(principal, rec.CurrentOwnerPrincipal) {
		return NotAuthorized, nil
	}
	return Authorized, nil
}
