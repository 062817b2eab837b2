package service

import (
	"fmt"
	"sync"

	"github.com/koicert/registry/common/models"
	"github.com/koicert/registry/common/sentinel"
)

// LineageIndex stores the parent references set when a record is minted
// Lineage is immutable afterwards and referenced ids are never checked.
type LineageIndex struct {
	mu      sync.RWMutex
	parents map[string]models.Lineage
}

// NewLineageIndex creates an empty index
func NewLineageIndex() *LineageIndex {
	return &LineageIndex{
		parents: make(map[string]models.Lineage),
	}
}

// RecordLineage sets the parents of id. A second call for the same id fails
// with ErrLineageAlreadySet, even when both parents are empty.
func (x *LineageIndex) RecordLineage(id, fatherID, motherID string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if _, exists := x.parents[id]; exists {
		return fmt.Errorf("%w: %s", sentinel.ErrLineageAlreadySet, id)
	}

	x.parents[id] = models.Lineage{FatherID: fatherID, MotherID: motherID}
	return nil
}

// Resolve returns the parents of id and whether its lineage is known
func (x *LineageIndex) Resolve(id string) (models.Lineage, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	l, ok := x.parents[id]
	return l, ok
}
