package indexengine

import (
	"sync"

	"github.com/otterbrix/kernel/pkg/index"
	"github.com/otterbrix/kernel/pkg/types"
)

// Registry is a per-collection index catalog: name -> Index, plus a
// column-name -> index-name map used to pick an index for a predicate.
// A table and its indices have independent lifetimes: indices can be
// created and dropped without touching row storage.
type Registry struct {
	mu       sync.RWMutex
	byName   map[string]*index.Index
	byColumn map[string][]string // column name -> index names covering it, in registration order
}

func New() *Registry {
	return &Registry{
		byName:   make(map[string]*index.Index),
		byColumn: make(map[string][]string),
	}
}

func (r *Registry) Create(name, column string, columnIndex int, unique bool) *index.Index {
	r.mu.Lock()
	defer r.mu.Unlock()
	ix := index.New(name, columnIndex, unique)
	r.byName[name] = ix
	r.byColumn[column] = append(r.byColumn[column], name)
	return ix
}

func (r *Registry) Drop(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byName, name)
	for col, names := range r.byColumn {
		kept := names[:0]
		for _, n := range names {
			if n != name {
				kept = append(kept, n)
			}
		}
		r.byColumn[col] = kept
	}
}

func (r *Registry) Get(name string) (*index.Index, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ix, ok := r.byName[name]
	return ix, ok
}

func (r *Registry) All() []*index.Index {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*index.Index, 0, len(r.byName))
	for _, ix := range r.byName {
		out = append(out, ix)
	}
	return out
}

// ForColumn returns every index keyed on column, in registration order.
func (r *Registry) ForColumn(column string) []*index.Index {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := r.byColumn[column]
	out := make([]*index.Index, 0, len(names))
	for _, n := range names {
		if ix, ok := r.byName[n]; ok {
			out = append(out, ix)
		}
	}
	return out
}

// BestForEquality picks the index serving an equality predicate on
// column: a tie between several indexes covering the same column breaks
// toward the smaller estimated output cardinality (the width of the
// equal range). Returns false when no index covers the column; the
// caller falls back to a row-group-pruned table scan.
func (r *Registry) BestForEquality(column string, value types.Comparable) (*index.Index, bool) {
	candidates := r.ForColumn(column)
	var best *index.Index
	bestEst := 0
	for _, ix := range candidates {
		est := ix.EstimateEqual(value)
		if best == nil || est < bestEst {
			best, bestEst = ix, est
		}
	}
	return best, best != nil
}
