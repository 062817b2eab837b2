package models

import "time"

// EventKind names the ledger event emitted by a confirmed mutation
type EventKind string

const (
	EventKoiMinted            EventKind = "koi_minted"
	EventOwnershipTransferred EventKind = "ownership_transferred"
	EventKoiUpdated           EventKind = "koi_updated"
)

// RegistryEvent is published once per confirmed ledger mutation
// Keyed by RecordID on the events topic
type RegistryEvent struct {
	Kind        EventKind `json:"kind"`
	RecordID    string    `json:"record_id"`
	TxHash      string    `json:"tx_hash"`
	Sequence    int       `json:"sequence"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}
