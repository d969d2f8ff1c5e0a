package table

import (
	"sync"

	kerrors "github.com/otterbrix/kernel/pkg/errors"
	"github.com/otterbrix/kernel/pkg/index"
	"github.com/otterbrix/kernel/pkg/indexengine"
	"github.com/otterbrix/kernel/pkg/rowgroup"
	"github.com/otterbrix/kernel/pkg/txn"
	"github.com/otterbrix/kernel/pkg/types"
)

// Table is the row store for one collection: an ordered list of row
// groups plus the index registry covering them.
type Table struct {
	mu   sync.RWMutex
	Name string

	Schema    *types.Schema
	RowGroups []*rowgroup.RowGroup
	Indices   *indexengine.Registry

	writes map[uint64]*writeSet // txn id -> row ids it touched, for commit/abort
}

type writeSet struct {
	inserted []RowID
	deleted  []RowID
}

func New(name string, schema *types.Schema) *Table {
	t := &Table{
		Name:    name,
		Schema:  schema,
		Indices: indexengine.New(),
		writes:  make(map[uint64]*writeSet),
	}
	t.RowGroups = append(t.RowGroups, rowgroup.New(schema, 0))
	return t
}

func (t *Table) Lock()    { t.mu.Lock() }
func (t *Table) Unlock()  { t.mu.Unlock() }
func (t *Table) RLock()   { t.mu.RLock() }
func (t *Table) RUnlock() { t.mu.RUnlock() }

func (t *Table) GetIndex(name string) (*index.Index, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ix, ok := t.Indices.Get(name)
	if !ok {
		return nil, &kerrors.IndexNotFoundError{Name: name}
	}
	return ix, nil
}

func (t *Table) writeSetFor(txnID uint64) *writeSet {
	ws, ok := t.writes[txnID]
	if !ok {
		ws = &writeSet{}
		t.writes[txnID] = ws
	}
	return ws
}

// Append stores a new row version tagged with insertID (the inserting
// transaction's txn id), returning its row id. Fans out to every index
// registered on this table inside the same table-store turn so table and
// index stay atomic with respect to readers. A unique-index violation
// fails the append; the row and any already-staged index entries stay
// tagged with insertID, so the caller's abort erases them.
func (t *Table) Append(values []types.LogicalValue, insertID uint64) (RowID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rg := t.RowGroups[len(t.RowGroups)-1]
	if rg.Full() {
		rg = rowgroup.New(t.Schema, len(t.RowGroups))
		t.RowGroups = append(t.RowGroups, rg)
	}
	slot := rg.Append(values, insertID)
	rid := EncodeRowID(rg.Index, slot)
	t.writeSetFor(insertID).inserted = append(t.writeSetFor(insertID).inserted, rid)

	for _, ix := range t.Indices.All() {
		if err := ix.StageInsert(insertID, values[ix.ColumnIndex], uint64(rid)); err != nil {
			return rid, err
		}
	}
	return rid, nil
}

// Delete tombstones an existing row for the deleting transaction, fanning
// out to every index the same way Append does. A row already tombstoned
// by a different transaction fails with WRITE_CONFLICT: first deleter
// wins, the loser must abort.
func (t *Table) Delete(rid RowID, deleterTxnID uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	group, slot := rid.Decode()
	if group < 0 || group >= len(t.RowGroups) {
		return kerrors.New(kerrors.OTHER_ERROR, "row id out of range")
	}
	rg := t.RowGroups[group]
	_, deleteID := rg.Versions(slot)
	if deleteID != 0 && deleteID != deleterTxnID {
		return kerrors.New(kerrors.WRITE_CONFLICT, "row already deleted by another transaction")
	}
	row := rg.Row(slot)
	rg.MarkDeleted(slot, deleterTxnID)
	t.writeSetFor(deleterTxnID).deleted = append(t.writeSetFor(deleterTxnID).deleted, rid)

	for _, ix := range t.Indices.All() {
		ix.StageDelete(deleterTxnID, row[ix.ColumnIndex], uint64(rid))
	}
	return nil
}

// Update is delete plus insert: each old row is tombstoned and a
// freshly-valued row is appended, both under the same transaction id so
// commit/abort treat them as one unit.
func (t *Table) Update(rids []RowID, newValues [][]types.LogicalValue, txnID uint64) ([]RowID, error) {
	out := make([]RowID, 0, len(rids))
	for i, rid := range rids {
		if err := t.Delete(rid, txnID); err != nil {
			return out, err
		}
		newRID, err := t.Append(newValues[i], txnID)
		if err != nil {
			return out, err
		}
		out = append(out, newRID)
	}
	return out, nil
}

// PointLookup returns the row at rid as visible to tx.
func (t *Table) PointLookup(rid RowID, tx *txn.Transaction) ([]types.LogicalValue, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	group, slot := rid.Decode()
	if group < 0 || group >= len(t.RowGroups) {
		return nil, false
	}
	rg := t.RowGroups[group]
	if rg.IsDead(slot) {
		return nil, false
	}
	insertID, deleteID := rg.Versions(slot)
	if !tx.Visible(insertID, deleteID) {
		return nil, false
	}
	return rg.Row(slot), true
}

// Scan walks every row group in order, calling fn for each row visible to
// tx. Scan stops early if fn returns false.
func (t *Table) Scan(tx *txn.Transaction, fn func(rid RowID, row []types.LogicalValue) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, rg := range t.RowGroups {
		n := rg.NumRows()
		for slot := 0; slot < n; slot++ {
			if rg.IsDead(slot) {
				continue
			}
			insertID, deleteID := rg.Versions(slot)
			if !tx.Visible(insertID, deleteID) {
				continue
			}
			if !fn(EncodeRowID(rg.Index, slot), rg.Row(slot)) {
				return
			}
		}
	}
}

// ScanPruned behaves like Scan but first consults each row group's
// min/max hint for colIdx against eqValue, skipping any row group whose
// range cannot contain it. Pass colIdx -1 to disable pruning and scan
// every row group (used when there is no equality predicate to prune
// on).
func (t *Table) ScanPruned(tx *txn.Transaction, colIdx int, eqValue *types.LogicalValue, fn func(rid RowID, row []types.LogicalValue) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, rg := range t.RowGroups {
		if colIdx >= 0 && eqValue != nil && !rg.MightContain(colIdx, *eqValue) {
			continue
		}
		n := rg.NumRows()
		for slot := 0; slot < n; slot++ {
			if rg.IsDead(slot) {
				continue
			}
			insertID, deleteID := rg.Versions(slot)
			if !tx.Visible(insertID, deleteID) {
				continue
			}
			if !fn(EncodeRowID(rg.Index, slot), rg.Row(slot)) {
				return
			}
		}
	}
}

// Commit promotes every row this transaction touched from its txn id to
// commitID, the same id recorded in the WAL commit marker, never a
// freshly minted one.
func (t *Table) Commit(txnID, commitID uint64) {
	t.mu.Lock()
	ws, ok := t.writes[txnID]
	delete(t.writes, txnID)
	t.mu.Unlock()
	if !ok {
		return
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, rid := range ws.inserted {
		group, slot := rid.Decode()
		t.RowGroups[group].PromoteInsertID(slot, commitID)
	}
	for _, rid := range ws.deleted {
		group, slot := rid.Decode()
		t.RowGroups[group].PromoteDeleteID(slot, commitID)
	}

	for _, ix := range t.Indices.All() {
		ix.Commit(txnID, commitID)
	}
}

// Abort undoes every row this transaction touched: inserted rows are
// marked permanently dead, deleted rows have their tombstone cleared.
func (t *Table) Abort(txnID uint64) {
	t.mu.Lock()
	ws, ok := t.writes[txnID]
	delete(t.writes, txnID)
	t.mu.Unlock()
	if !ok {
		return
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, rid := range ws.inserted {
		group, slot := rid.Decode()
		t.RowGroups[group].MarkDead(slot)
	}
	for _, rid := range ws.deleted {
		group, slot := rid.Decode()
		t.RowGroups[group].ClearDeleted(slot)
	}

	for _, ix := range t.Indices.All() {
		ix.Abort(txnID)
	}
}

// CreateIndex registers a new index on column and backfills it with every
// row already present in the table, so CREATE INDEX against a non-empty
// collection sees existing data immediately.
func (t *Table) CreateIndex(name, column string, unique bool) *index.Index {
	t.mu.Lock()
	defer t.mu.Unlock()

	colIdx := t.Schema.IndexOf(column)
	ix := t.Indices.Create(name, column, colIdx, unique)
	for _, rg := range t.RowGroups {
		n := rg.NumRows()
		for slot := 0; slot < n; slot++ {
			if rg.IsDead(slot) {
				continue
			}
			insertID, deleteID := rg.Versions(slot)
			row := rg.Row(slot)
			rid := EncodeRowID(rg.Index, slot)
			ix.BackfillCommitted(row[colIdx], uint64(rid), insertID, deleteID)
		}
	}
	return ix
}

// DropIndex removes a previously created index by name. Scanning against
// the dropped column falls back to a full table scan afterward.
func (t *Table) DropIndex(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Indices.Drop(name)
}

// Remap describes how row ids changed after a Vacuum pass: To holds the
// surviving rows' new ids (nil entry in To/Removed both absent means the
// row was untouched only if it is not present in either map, which never
// happens: every row appears in exactly one).
type Remap struct {
	To      map[RowID]RowID
	Removed map[RowID]bool
}

// Vacuum rebuilds every row group, dropping rows that are dead or whose
// delete id is a committed id strictly below lowestActiveStartTS (the
// oldest snapshot any active transaction could still be reading from).
func (t *Table) Vacuum(lowestActiveStartTS uint64) Remap {
	t.mu.Lock()
	defer t.mu.Unlock()

	remap := Remap{To: make(map[RowID]RowID), Removed: make(map[RowID]bool)}
	newGroups := make([]*rowgroup.RowGroup, 0, len(t.RowGroups))

	for _, rg := range t.RowGroups {
		fresh := rowgroup.New(t.Schema, len(newGroups))
		n := rg.NumRows()
		for slot := 0; slot < n; slot++ {
			oldRID := EncodeRowID(rg.Index, slot)
			if rg.IsDead(slot) {
				remap.Removed[oldRID] = true
				continue
			}
			insertID, deleteID := rg.Versions(slot)
			if deleteID != 0 && deleteID < txn.TxnBase && deleteID < lowestActiveStartTS {
				remap.Removed[oldRID] = true
				continue
			}
			newSlot := fresh.AppendRaw(rg.Row(slot), insertID, deleteID)
			remap.To[oldRID] = EncodeRowID(fresh.Index, newSlot)
		}
		if fresh.NumRows() > 0 || len(newGroups) == 0 {
			newGroups = append(newGroups, fresh)
		}
	}
	if len(newGroups) == 0 {
		newGroups = append(newGroups, rowgroup.New(t.Schema, 0))
	}
	t.RowGroups = newGroups

	to := make(map[uint64]uint64, len(remap.To))
	for from, toID := range remap.To {
		to[uint64(from)] = uint64(toID)
	}
	removed := make(map[uint64]bool, len(remap.Removed))
	for rid := range remap.Removed {
		removed[uint64(rid)] = true
	}
	for _, ix := range t.Indices.All() {
		ix.Remap(to, removed)
	}
	return remap
}
