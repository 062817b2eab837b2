package models

import (
	"slices"
	"strconv"
	"time"
)

// Attributes are the mutable physical attributes of a koi
type Attributes struct {
	Variety       string `json:"variety"`
	BreederName   string `json:"breeder"`
	Gender        string `json:"gender"`
	AgeLabel      string `json:"age"`
	ConditionNote string `json:"condition"`

	// Stored literally; 0 means "unknown" only at display time
	SizeCm int64 `json:"size_cm"`
}

// KoiRecord is the current-state projection of one certificate
type KoiRecord struct {
	// Caller-chosen, immutable once minted
	ID string `json:"id"`

	Attributes

	// Primary photo, required at mint
	PhotoURL string `json:"photo_url"`

	// Supplementary documents; both sequences only ever grow
	CertificateURLs []string `json:"certificate_urls"`
	ContestURLs     []string `json:"contest_urls"`

	IssuerPrincipal       string `json:"issuer"`
	CurrentOwnerPrincipal string `json:"current_owner"`

	// Lineage, set at mint only. Referenced ids are not required to exist.
	FatherID string `json:"father_id,omitempty"`
	MotherID string `json:"mother_id,omitempty"`

	MintedAt time.Time `json:"minted_at"`
}

// Clone returns a deep copy safe to hand out of the projection
func (r KoiRecord) Clone() KoiRecord {
	r.CertificateURLs = slices.Clone(r.CertificateURLs)
	r.ContestURLs = slices.Clone(r.ContestURLs)
	return r
}

// Lineage returns the parent references of the record
func (r KoiRecord) Lineage() Lineage {
	return Lineage{FatherID: r.FatherID, MotherID: r.MotherID}
}

// HistoryEntry is one immutable snapshot appended per confirmed mutation
type HistoryEntry struct {
	OwnerPrincipal string `json:"owner"`

	// Snapshot at commit time; later profile renames do not rewrite it
	OwnerDisplayName string `json:"owner_name"`

	Note        string    `json:"note"`
	SizeCm      int64     `json:"size_cm"`
	AgeLabel    string    `json:"age"`
	PhotoURL    string    `json:"photo_url"`
	CommittedAt time.Time `json:"committed_at"`
}

// MintNote is the note carried by the first history entry of every record
const MintNote = "mint"

// IsMint reports whether the entry is the record's mint entry
func (e HistoryEntry) IsMint() bool {
	return e.Note == MintNote
}

// Lineage holds optional parent references
type Lineage struct {
	FatherID string `json:"father_id,omitempty"`
	MotherID string `json:"mother_id,omitempty"`
}

// IsEmpty reports whether neither parent is known
func (l Lineage) IsEmpty() bool {
	return l.FatherID == "" && l.MotherID == ""
}

// SizeLabel renders a size for display, treating 0 as unknown
func SizeLabel(sizeCm int64) string {
	if sizeCm <= 0 {
		return "-"
	}
	return strconv.FormatInt(sizeCm, 10) + " cm"
}
