package service

import (
	"context"
	"errors"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/koicert/registry/common/models"
	"github.com/koicert/registry/common/sentinel"
)

const (
	DefaultPedigreeDepth = 3
	MaxPedigreeDepth     = 8

	// parents hydrated from the ledger at once per generation
	pedigreeFetchLimit = 4
)

// PedigreeNode is one ancestor in a pedigree tree
// Known is false when the id is referenced as a parent but has no record.
type PedigreeNode struct {
	ID      string        `json:"id"`
	Known   bool          `json:"known"`
	Variety string        `json:"variety,omitempty"`
	Breeder string        `json:"breeder,omitempty"`
	Gender  string        `json:"gender,omitempty"`
	Father  *PedigreeNode `json:"father,omitempty"`
	Mother  *PedigreeNode `json:"mother,omitempty"`

	// Set when the id already appears among this node's descendants
	Cycle bool `json:"cycle,omitempty"`
}

type pedigreeItem struct {
	node *PedigreeNode
	path []string
}

// Pedigree walks lineage breadth-first from id up to depth generations
// depth <= 0 uses the configured default; larger values are capped at MaxPedigreeDepth.
// The same ancestor may appear on several branches; an id that is its own
// ancestor is marked as a cycle and not expanded.
func (r *Registry) Pedigree(ctx context.Context, id string, depth int) (*PedigreeNode, error) {
	if depth <= 0 {
		depth = r.pedigreeDepth
	}
	depth = min(depth, MaxPedigreeDepth)

	rec, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	root := nodeFor(rec)
	frontier := []pedigreeItem{{node: root, path: []string{id}}}

	for generation := 0; generation < depth && len(frontier) > 0; generation++ {
		var parents []pedigreeItem
		for _, item := range frontier {
			lineage, ok := r.lineage.Resolve(item.node.ID)
			if !ok {
				continue
			}
			if lineage.FatherID != "" {
				item.node.Father = &PedigreeNode{ID: lineage.FatherID}
				parents = append(parents, pedigreeItem{node: item.node.Father, path: item.path})
			}
			if lineage.MotherID != "" {
				item.node.Mother = &PedigreeNode{ID: lineage.MotherID}
				parents = append(parents, pedigreeItem{node: item.node.Mother, path: item.path})
			}
		}

		if err := r.hydrateParents(ctx, parents); err != nil {
			return nil, err
		}

		frontier = frontier[:0]
		for _, p := range parents {
			if slices.Contains(p.path, p.node.ID) {
				p.node.Cycle = true
				continue
			}
			if p.node.Known {
				frontier = append(frontier, pedigreeItem{
					node: p.node,
					path: append(slices.Clone(p.path), p.node.ID),
				})
			}
		}
	}

	return root, nil
}

// hydrateParents fills in the records of one generation concurrently
func (r *Registry) hydrateParents(ctx context.Context, parents []pedigreeItem) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(pedigreeFetchLimit)

	for _, p := range parents {
		g.Go(func() error {
			rec, err := r.Get(gctx, p.node.ID)
			if errors.Is(err, sentinel.ErrRecordNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			*p.node = *nodeFor(rec)
			return nil
		})
	}
	return g.Wait()
}

func nodeFor(rec models.KoiRecord) *PedigreeNode {
	return &PedigreeNode{
		ID:      rec.ID,
		Known:   true,
		Variety: rec.Variety,
		Breeder: rec.BreederName,
		Gender:  rec.Gender,
	}
}
