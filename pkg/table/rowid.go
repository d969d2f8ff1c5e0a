package table

import "github.com/otterbrix/kernel/pkg/rowgroup"

// RowID is the global, table-wide row identifier: the high bits name a
// row group, the low CapacityBits bits name a slot within it —
// (row_group_index << 11) | slot_in_row_group.
type RowID uint64

func EncodeRowID(group, slot int) RowID {
	return RowID(uint64(group)<<rowgroup.CapacityBits | uint64(slot))
}

func (r RowID) Decode() (group, slot int) {
	return int(uint64(r) >> rowgroup.CapacityBits), int(uint64(r) & (rowgroup.Capacity - 1))
}
