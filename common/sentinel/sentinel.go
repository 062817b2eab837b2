package sentinel

import "errors"

// Failure taxonomy shared by the registry, the ledger boundary and the
// asset layer. Components return these wrapped with context; callers branch
// with errors.Is.
//
// Ledger failures come in three flavours that callers must not confuse:
//   - ErrLedgerUnreachable: nothing was submitted, safe to retry
//   - ErrLedgerRejected: the ledger refused the mutation, do not retry blindly
//   - ErrOutcomeUnknown: the mutation may still confirm, re-check before retrying
var (
	ErrDuplicateID        = errors.New("duplicate id")
	ErrRecordNotFound     = errors.New("record not found")
	ErrNotAuthorized      = errors.New("not authorized")
	ErrInvalidInput       = errors.New("invalid input")
	ErrLineageAlreadySet  = errors.New("lineage already set")
	ErrRecordBusy         = errors.New("record busy")
	ErrAssetStagingFailed = errors.New("asset staging failed")
	ErrAssetNotFound      = errors.New("asset not found")
	ErrUnstageFailed      = errors.New("unstage failed")
	ErrLedgerUnreachable  = errors.New("ledger unreachable")
	ErrLedgerRejected     = errors.New("ledger rejected")
	ErrOutcomeUnknown     = errors.New("ledger outcome unknown")
)

// Code returns a stable machine-readable code for the first sentinel found in
// err's chain. Unknown errors map to "internal".
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrOutcomeUnknown):
		return "outcome_unknown"
	case errors.Is(err, ErrDuplicateID):
		return "duplicate_id"
	case errors.Is(err, ErrRecordNotFound):
		return "record_not_found"
	case errors.Is(err, ErrNotAuthorized):
		return "not_authorized"
	case errors.Is(err, ErrLineageAlreadySet):
		return "lineage_already_set"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrRecordBusy):
		return "record_busy"
	case errors.Is(err, ErrAssetNotFound):
		return "asset_not_found"
	case errors.Is(err, ErrAssetStagingFailed):
		return "asset_staging_failed"
	case errors.Is(err, ErrLedgerUnreachable):
		return "ledger_unreachable"
	case errors.Is(err, ErrLedgerRejected):
		return "ledger_rejected"
	default:
		return "internal"
	}
}

// FromCode is the inverse of Code for the codes a remote peer may send back.
func FromCode(code string) error {
	switch code {
	case "duplicate_id":
		return ErrDuplicateID
	case "record_not_found":
		return ErrRecordNotFound
	case "not_authorized":
		return ErrNotAuthorized
	case "lineage_already_set":
		return ErrLineageAlreadySet
	case "invalid_input":
		return ErrInvalidInput
	case "record_busy":
		return ErrRecordBusy
	case "ledger_unreachable", "unavailable":
		return ErrLedgerUnreachable
	case "ledger_rejected":
		return ErrLedgerRejected
	case "outcome_unknown":
		return ErrOutcomeUnknown
	default:
		return nil
	}
}
