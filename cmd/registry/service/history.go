package service

import (
	"fmt"
	"slices"
	"sync"

	"github.com/koicert/registry/common/models"
	"github.com/koicert/registry/common/sentinel"
)

// HistoryTrail is the append-only log of confirmed snapshots per record
// Entries come back in commit order; display code reverses them.
type HistoryTrail interface {
	Append(id string, entry models.HistoryEntry) error
	ReadAll(id string) []models.HistoryEntry
	Len(id string) int
}

// MemoryTrail keeps history entries in process memory
type MemoryTrail struct {
	mu      sync.RWMutex
	entries map[string][]models.HistoryEntry
}

// NewMemoryTrail creates an empty trail
func NewMemoryTrail() *MemoryTrail {
	return &MemoryTrail{
		entries: make(map[string][]models.HistoryEntry),
	}
}

// Append adds entry to id's history. Identical entries are all kept.
func (t *MemoryTrail) Append(id string, entry models.HistoryEntry) error {
	if id == "" {
		return fmt.Errorf("%w: history append without record id", sentinel.ErrInvalidInput)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries[id] = append(t.entries[id], entry)
	return nil
}

// ReadAll returns a copy of id's entries, oldest first
func (t *MemoryTrail) ReadAll(id string) []models.HistoryEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return slices.Clone(t.entries[id])
}

// Len returns the number of entries recorded for id
func (t *MemoryTrail) Len(id string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.entries[id])
}
