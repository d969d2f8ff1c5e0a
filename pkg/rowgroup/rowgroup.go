package rowgroup

import (
	"sync"

	"github.com/kelindar/bitmap"
	"github.com/otterbrix/kernel/pkg/types"
)

// Capacity is the fixed number of row slots per row group. It is also the
// shift width used by the row id encoding: 2048 == 1<<11.
const Capacity = 2048

// CapacityBits is log2(Capacity), the number of low bits of a row id that
// address a slot within its row group.
const CapacityBits = 11

// RowGroup is the columnar physical storage unit: one typed Column per
// schema column plus one insert/delete id pair per row slot.
type RowGroup struct {
	mu       sync.RWMutex
	Index    int // this row group's ordinal within its table
	Columns  []*Column
	InsertID []uint64
	DeleteID []uint64
	Dead     bitmap.Bitmap // slots whose insert never committed (aborted), permanently excluded
	numRows  int
}

func New(schema *types.Schema, index int) *RowGroup {
	cols := make([]*Column, len(schema.Columns))
	for i, def := range schema.Columns {
		cols[i] = NewColumn(def, Capacity)
	}
	return &RowGroup{
		Index:    index,
		Columns:  cols,
		InsertID: make([]uint64, 0, Capacity),
		DeleteID: make([]uint64, 0, Capacity),
	}
}

func (rg *RowGroup) Full() bool {
	rg.mu.RLock()
	defer rg.mu.RUnlock()
	return rg.numRows >= Capacity
}

func (rg *RowGroup) NumRows() int {
	rg.mu.RLock()
	defer rg.mu.RUnlock()
	return rg.numRows
}

// Append inserts a new row version at the next free slot, tagging it with
// insertID (a txn id until commit, then promoted to a commit id). Returns
// the slot index within this row group.
func (rg *RowGroup) Append(values []types.LogicalValue, insertID uint64) int {
	rg.mu.Lock()
	defer rg.mu.Unlock()

	slot := rg.numRows
	for i, v := range values {
		rg.Columns[i].Append(v)
	}
	rg.InsertID = append(rg.InsertID, insertID)
	rg.DeleteID = append(rg.DeleteID, 0)
	rg.numRows++
	return slot
}

// AppendRaw inserts a row version carrying an already-known insert/delete
// id pair, used by vacuum to rebuild a packed row group without minting
// new ids for surviving rows.
func (rg *RowGroup) AppendRaw(values []types.LogicalValue, insertID, deleteID uint64) int {
	slot := rg.Append(values, insertID)
	if deleteID != 0 {
		rg.MarkDeleted(slot, deleteID)
	}
	return slot
}

// MarkDeleted rewrites the delete id for slot in place rather than
// appending a new version: a row-version's delete_id is set once and
// never moves.
func (rg *RowGroup) MarkDeleted(slot int, deleteID uint64) {
	rg.mu.Lock()
	defer rg.mu.Unlock()
	rg.DeleteID[slot] = deleteID
}

// ClearDeleted resets a tombstone, used when a transaction that deleted a
// row aborts.
func (rg *RowGroup) ClearDeleted(slot int) {
	rg.mu.Lock()
	defer rg.mu.Unlock()
	rg.DeleteID[slot] = 0
}

// PromoteInsertID rewrites the insert id in place from a txn id to its
// final commit id at commit time. The id recorded in the WAL commit
// marker must be the id visible in memory afterward, never a freshly
// minted one.
func (rg *RowGroup) PromoteInsertID(slot int, commitID uint64) {
	rg.mu.Lock()
	defer rg.mu.Unlock()
	rg.InsertID[slot] = commitID
}

func (rg *RowGroup) PromoteDeleteID(slot int, commitID uint64) {
	rg.mu.Lock()
	defer rg.mu.Unlock()
	if rg.DeleteID[slot] != 0 {
		rg.DeleteID[slot] = commitID
	}
}

// MarkDead permanently excludes slot from every future scan/lookup,
// regardless of its insert/delete ids. Used when a transaction that
// inserted this row aborts: the row's insert id already makes it
// invisible to every other transaction, but without MarkDead it would
// never be reclaimable by vacuum either.
func (rg *RowGroup) MarkDead(slot int) {
	rg.mu.Lock()
	defer rg.mu.Unlock()
	rg.Dead.Set(uint32(slot))
}

func (rg *RowGroup) IsDead(slot int) bool {
	rg.mu.RLock()
	defer rg.mu.RUnlock()
	return rg.Dead.Contains(uint32(slot))
}

// Versions returns the (insertID, deleteID) pair for slot, a torn-read-free
// snapshot under the row group's own lock.
func (rg *RowGroup) Versions(slot int) (insertID, deleteID uint64) {
	rg.mu.RLock()
	defer rg.mu.RUnlock()
	return rg.InsertID[slot], rg.DeleteID[slot]
}

// Row materializes the full logical row at slot.
func (rg *RowGroup) Row(slot int) []types.LogicalValue {
	rg.mu.RLock()
	defer rg.mu.RUnlock()
	out := make([]types.LogicalValue, len(rg.Columns))
	for i, c := range rg.Columns {
		out[i] = c.At(slot)
	}
	return out
}

// MightContain consults a column's min/max hint to decide whether this
// row group can be skipped entirely for a predicate on that column.
func (rg *RowGroup) MightContain(colIdx int, v types.LogicalValue) bool {
	rg.mu.RLock()
	defer rg.mu.RUnlock()
	if colIdx < 0 || colIdx >= len(rg.Columns) {
		return true
	}
	return rg.Columns[colIdx].MightContain(v)
}
