package dispatcher

import (
	"sort"

	"github.com/google/uuid"

	"github.com/otterbrix/kernel/pkg/table"
	"github.com/otterbrix/kernel/pkg/txn"
	"github.com/otterbrix/kernel/pkg/types"
)

// Row is one result row plus the row id it came from, so a caller that
// wants to re-resolve or later delete/update the same physical row can.
type Row struct {
	RowID  table.RowID
	Values []types.LogicalValue
}

// Cursor is a snapshot-bound row sequence: its snapshot (tx.StartTS) is
// fixed at creation by the Transaction it was built from, and it is
// unaffected by commits that land after that point. The whole result set
// is materialized up front rather than pulled lazily batch-by-batch; a
// SELECT with range-scan cardinality too large for memory would need
// pull-based batching here.
// TODO: pull row batches lazily once a spilling scan exists.
type Cursor struct {
	id      uuid.UUID
	tx      *txn.Transaction
	rows    []Row
	pos     int
	closed  bool
	onClose func()
}

func newCursor(tx *txn.Transaction, rows []Row, onClose func()) *Cursor {
	return &Cursor{id: uuid.New(), tx: tx, rows: rows, pos: -1, onClose: onClose}
}

// ID is the cursor's correlation id, stable for its lifetime, carried
// through the dispatcher's logs so a caller can line a cursor up with
// the operation that produced it.
func (c *Cursor) ID() uuid.UUID { return c.id }

// Next advances the cursor to the next row, returning false once
// exhausted.
func (c *Cursor) Next() bool {
	if c.closed || c.pos+1 >= len(c.rows) {
		return false
	}
	c.pos++
	return true
}

// Row returns the row the cursor currently sits on. Call only after a
// Next that returned true.
func (c *Cursor) Row() Row { return c.rows[c.pos] }

// Len reports the total number of rows this cursor will yield.
func (c *Cursor) Len() int { return len(c.rows) }

// Close releases the cursor's hold on its transaction's snapshot,
// potentially advancing lowest_active_start_ts for vacuum.
func (c *Cursor) Close() {
	if c.closed {
		return
	}
	c.closed = true
	if c.onClose != nil {
		c.onClose()
	}
}

// applyOrderAndLimit sorts rows by sel.OrderBy (stable, so ties keep scan
// order) and truncates to sel.Limit, both evaluated against schema's
// column ordinals.
func applyOrderAndLimit(rows []Row, sel *Select, schema *types.Schema) []Row {
	if len(sel.OrderBy) > 0 {
		keys := make([]int, len(sel.OrderBy))
		for i, k := range sel.OrderBy {
			keys[i] = schema.IndexOf(k.Column)
		}
		sort.SliceStable(rows, func(i, j int) bool {
			for n, colIdx := range keys {
				if colIdx < 0 {
					continue
				}
				c := rows[i].Values[colIdx].Compare(rows[j].Values[colIdx])
				if c == 0 {
					continue
				}
				if sel.OrderBy[n].Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}
	if sel.Limit > 0 && len(rows) > sel.Limit {
		rows = rows[:sel.Limit]
	}
	return rows
}
