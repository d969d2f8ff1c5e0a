package index

// IndexEntry is one row-version's appearance in an index: it names the
// physical row id and carries the same (insert_id, delete_id) pair the row
// group keeps, so a committed index walk can apply the same MVCC
// visibility predicate a table scan does.
type IndexEntry struct {
	RowID    uint64
	InsertID uint64
	DeleteID uint64
	Next     int64 // index into the entry arena of the next entry sharing this key, -1 if none
}

// arena is an append-only store of IndexEntry, referenced by int64
// offsets so a leaf's chain head/tail can address a whole list of
// same-key entries, turning the tree into a genuine ordered multi-map.
type arena struct {
	entries []IndexEntry
}

func (a *arena) alloc(e IndexEntry) int64 {
	a.entries = append(a.entries, e)
	return int64(len(a.entries) - 1)
}

func (a *arena) get(ref int64) *IndexEntry {
	if ref < 0 {
		return nil
	}
	return &a.entries[ref]
}
