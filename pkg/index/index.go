package index

import (
	"fmt"
	"sync"

	kerrors "github.com/otterbrix/kernel/pkg/errors"
	"github.com/otterbrix/kernel/pkg/txn"
	"github.com/otterbrix/kernel/pkg/types"
)

// defaultDegree is the B+Tree minimum degree used by every index in this
// kernel.
const defaultDegree = 32

// pendingEntry is one uncommitted mutation staged by a transaction before
// it touches the shared committed tree.
type pendingEntry struct {
	Key   types.Comparable
	RowID uint64
}

// Index is an ordered multi-map index: a committed B+Tree of (key ->
// chain of IndexEntry), plus per-transaction pending_inserts/
// pending_deletes side buffers. Staged mutations are invisible to every
// other transaction and commit cheaply by draining straight into the
// shared tree; abort deletes the transaction's entries from the two
// pending maps with no shared-structure touch at all.
type Index struct {
	Name        string
	Unique      bool
	ColumnIndex int // ordinal of the indexed column within the table schema

	tree  *Tree
	arena arena
	mu    sync.Mutex // guards arena + pending maps

	pendingInserts map[uint64][]pendingEntry
	pendingDeletes map[uint64][]pendingEntry
}

func New(name string, columnIndex int, unique bool) *Index {
	tree := NewTree(defaultDegree)
	return &Index{
		Name:           name,
		Unique:         unique,
		ColumnIndex:    columnIndex,
		tree:           tree,
		pendingInserts: make(map[uint64][]pendingEntry),
		pendingDeletes: make(map[uint64][]pendingEntry),
	}
}

// BackfillCommitted inserts a key/row pair that is already committed
// (used when CREATE INDEX runs against a non-empty table: the rows
// predate the index and carry real commit ids, not a txn id to stage).
func (ix *Index) BackfillCommitted(key types.Comparable, rowID, insertID, deleteID uint64) {
	ix.insertCommitted(key, rowID, insertID)
	if deleteID != 0 {
		ix.deleteCommitted(key, rowID, deleteID)
	}
}

// StageInsert records an uncommitted insertion. It is not visible to any
// other transaction's Search until Commit(txnID, ...) runs. For a unique
// index, a live duplicate of key (committed and not tombstoned, not
// being deleted by this same transaction, or staged by any transaction)
// fails with DuplicateKeyError.
func (ix *Index) StageInsert(txnID uint64, key types.Comparable, rowID uint64) error {
	if ix.Unique && ix.hasLiveKey(key, txnID) {
		return &kerrors.DuplicateKeyError{Key: fmt.Sprintf("%v", key)}
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.pendingInserts[txnID] = append(ix.pendingInserts[txnID], pendingEntry{Key: key, RowID: rowID})
	return nil
}

// hasLiveKey reports whether key has a committed entry that is neither
// tombstoned nor pending deletion by txnID, or a pending insert staged
// by any transaction (its own duplicate staging included).
func (ix *Index) hasLiveKey(key types.Comparable, txnID uint64) bool {
	head, inTree := ix.tree.Head(key)

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if inTree {
		ownDeletes := make(map[uint64]bool)
		for _, pe := range ix.pendingDeletes[txnID] {
			ownDeletes[pe.RowID] = true
		}
		for ref := head; ref != -1; {
			e := ix.arena.get(ref)
			if e == nil {
				break
			}
			if e.DeleteID == 0 && !ownDeletes[e.RowID] {
				return true
			}
			ref = e.Next
		}
	}
	for _, pes := range ix.pendingInserts {
		for _, pe := range pes {
			if pe.Key.Compare(key) == 0 {
				return true
			}
		}
	}
	return false
}

// StageDelete records an uncommitted deletion of a row already committed
// in the shared tree. It hides rowID from the owning transaction's own
// Search immediately, without touching the shared tree.
func (ix *Index) StageDelete(txnID uint64, key types.Comparable, rowID uint64) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.pendingDeletes[txnID] = append(ix.pendingDeletes[txnID], pendingEntry{Key: key, RowID: rowID})
}

// Commit drains txnID's staged work into the shared tree, tagging new
// entries with commitID — the same id that was written to the WAL for
// this transaction, never a freshly minted one.
func (ix *Index) Commit(txnID, commitID uint64) {
	ix.mu.Lock()
	inserts := ix.pendingInserts[txnID]
	deletes := ix.pendingDeletes[txnID]
	delete(ix.pendingInserts, txnID)
	delete(ix.pendingDeletes, txnID)
	ix.mu.Unlock()

	for _, pe := range inserts {
		ix.insertCommitted(pe.Key, pe.RowID, commitID)
	}
	for _, pe := range deletes {
		ix.deleteCommitted(pe.Key, pe.RowID, commitID)
	}
}

// Abort discards txnID's staged work without ever touching the shared
// tree.
func (ix *Index) Abort(txnID uint64) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.pendingInserts, txnID)
	delete(ix.pendingDeletes, txnID)
}

// insertCommitted appends the new entry at the tail of key's chain, so
// an equality search yields duplicate-key entries in insertion order.
func (ix *Index) insertCommitted(key types.Comparable, rowID uint64, insertID uint64) {
	ix.mu.Lock()
	ref := ix.arena.alloc(IndexEntry{RowID: rowID, InsertID: insertID, Next: -1})
	ix.mu.Unlock()

	ix.tree.Append(key, ref, func(prevTail int64) {
		ix.mu.Lock()
		ix.arena.entries[prevTail].Next = ref
		ix.mu.Unlock()
	})
}

func (ix *Index) deleteCommitted(key types.Comparable, rowID uint64, deleteID uint64) {
	head, ok := ix.tree.Head(key)
	if !ok {
		return
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for ref := head; ref != -1; {
		e := ix.arena.get(ref)
		if e == nil {
			return
		}
		if e.RowID == rowID {
			e.DeleteID = deleteID
			return
		}
		ref = e.Next
	}
}

// Dump walks every committed entry in key order, calling fn for each.
// Dump stops early if fn returns false. Pending (uncommitted) side
// buffers are not visited: a dump is a committed-state export.
func (ix *Index) Dump(fn func(key types.Comparable, e IndexEntry) bool) {
	leaf, idx := ix.tree.FindLeafLowerBound(nil)
	for leaf != nil {
		for j := idx; j < leaf.N; j++ {
			key := leaf.Keys[j]
			head := leaf.Chains[j].Head
			ix.mu.Lock()
			for ref := head; ref != -1; {
				e := ix.arena.get(ref)
				if e == nil {
					break
				}
				entry := *e
				ix.mu.Unlock()
				if !fn(key, entry) {
					leaf.RUnlock()
					return
				}
				ix.mu.Lock()
				ref = entry.Next
			}
			ix.mu.Unlock()
		}
		next := leaf.Next
		if next != nil {
			next.RLock()
		}
		leaf.RUnlock()
		leaf = next
		idx = 0
	}
}

// Search walks the committed tree plus tx's own pending inserts/deletes,
// returning every row id visible to tx under op/value, ordered per the
// key comparison for range operators; within an equal-key run, entries
// come back in insertion order.
func (ix *Index) Search(op ScanOperator, value types.Comparable, tx *txn.Transaction) []uint64 {
	out := ix.searchCommitted(op, value, tx)
	out = ix.mergePending(op, value, tx, out)
	return out
}

func (ix *Index) searchCommitted(op ScanOperator, value types.Comparable, tx *txn.Transaction) []uint64 {
	cond := conditionFor(op, value)
	var out []uint64

	startKey := cond.GetStartKey()
	leaf, idx := ix.tree.FindLeafLowerBound(startKey)
	for leaf != nil {
		for j := idx; j < leaf.N; j++ {
			key := leaf.Keys[j]
			if cond.ShouldSeek() && !cond.ShouldContinue(key) {
				leaf.RUnlock()
				return out
			}
			if cond.Matches(key) {
				head := leaf.Chains[j].Head
				ix.mu.Lock()
				for ref := head; ref != -1; {
					e := ix.arena.get(ref)
					if e == nil {
						break
					}
					if tx.Visible(e.InsertID, e.DeleteID) {
						out = append(out, e.RowID)
					}
					ref = e.Next
				}
				ix.mu.Unlock()
			}
		}
		next := leaf.Next
		if next != nil {
			next.RLock()
		}
		leaf.RUnlock()
		leaf = next
		idx = 0
	}
	return out
}

// tombstoneID is a reserved commit id always below any real watermark,
// used to permanently hide an entry whose row was physically removed by
// vacuum without needing to splice it out of its arena chain.
const tombstoneID uint64 = 1

// Remap applies the row id renumbering a table Vacuum pass produced: an
// entry whose row survived gets its RowID rewritten, one whose row was
// dropped is tombstoned in place.
func (ix *Index) Remap(to map[uint64]uint64, removed map[uint64]bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for i := range ix.arena.entries {
		e := &ix.arena.entries[i]
		if removed[e.RowID] {
			e.DeleteID = tombstoneID
			continue
		}
		if newID, ok := to[e.RowID]; ok {
			e.RowID = newID
		}
	}
}

// EstimateEqual counts the committed entries whose key equals value,
// tombstoned or not — the upper-minus-lower width of the equal range,
// used as the output-cardinality estimate when choosing between indexes
// covering the same column.
func (ix *Index) EstimateEqual(value types.Comparable) int {
	count := 0
	leaf, idx := ix.tree.FindLeafLowerBound(value)
	for leaf != nil {
		for j := idx; j < leaf.N; j++ {
			c := leaf.Keys[j].Compare(value)
			if c > 0 {
				leaf.RUnlock()
				return count
			}
			if c == 0 {
				head := leaf.Chains[j].Head
				ix.mu.Lock()
				for ref := head; ref != -1; {
					e := ix.arena.get(ref)
					if e == nil {
						break
					}
					count++
					ref = e.Next
				}
				ix.mu.Unlock()
			}
		}
		next := leaf.Next
		if next != nil {
			next.RLock()
		}
		leaf.RUnlock()
		leaf = next
		idx = 0
	}
	return count
}

func (ix *Index) mergePending(op ScanOperator, value types.Comparable, tx *txn.Transaction, out []uint64) []uint64 {
	cond := conditionFor(op, value)

	ix.mu.Lock()
	defer ix.mu.Unlock()

	deleted := make(map[uint64]bool)
	for _, pe := range ix.pendingDeletes[tx.TxnID] {
		deleted[pe.RowID] = true
	}
	if len(deleted) > 0 {
		filtered := out[:0]
		for _, id := range out {
			if !deleted[id] {
				filtered = append(filtered, id)
			}
		}
		out = filtered
	}

	for _, pe := range ix.pendingInserts[tx.TxnID] {
		if cond.Matches(pe.Key) && !deleted[pe.RowID] {
			out = append(out, pe.RowID)
		}
	}
	return out
}
