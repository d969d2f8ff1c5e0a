package rowgroup

import (
	"github.com/kelindar/bitmap"
	"github.com/otterbrix/kernel/pkg/types"
)

// Column is a single typed vector backing one schema column inside a row
// group: one validity bitmap plus one physical slice per column.
type Column struct {
	Def      types.ColumnDef
	Validity bitmap.Bitmap

	bigint []int64
	double []float64
	str    []string
	bl     []bool
	boxed  []types.LogicalValue // FIXED_ARRAY / STRUCT / ENUM

	Min, Max types.LogicalValue
	hasRange bool
}

func NewColumn(def types.ColumnDef, capacity int) *Column {
	c := &Column{Def: def}
	switch def.Type {
	case types.ColumnBigint:
		c.bigint = make([]int64, 0, capacity)
	case types.ColumnDouble:
		c.double = make([]float64, 0, capacity)
	case types.ColumnString:
		c.str = make([]string, 0, capacity)
	case types.ColumnBoolean:
		c.bl = make([]bool, 0, capacity)
	default:
		c.boxed = make([]types.LogicalValue, 0, capacity)
	}
	return c
}

// Append adds v at the next slot and returns that slot's ordinal within
// the column. Callers append to every column in lockstep so ordinals line
// up across a row group's columns.
func (c *Column) Append(v types.LogicalValue) int {
	var slot int
	if v.IsNull() {
		slot = c.len()
		c.growSentinel()
		c.Validity.Remove(uint32(slot))
		return slot
	}
	switch c.Def.Type {
	case types.ColumnBigint:
		slot = len(c.bigint)
		c.bigint = append(c.bigint, v.Int)
	case types.ColumnDouble:
		slot = len(c.double)
		c.double = append(c.double, v.Float)
	case types.ColumnString:
		slot = len(c.str)
		c.str = append(c.str, v.Str)
	case types.ColumnBoolean:
		slot = len(c.bl)
		c.bl = append(c.bl, v.Bool)
	default:
		slot = len(c.boxed)
		c.boxed = append(c.boxed, v)
	}
	c.Validity.Set(uint32(slot))
	c.updateRange(v)
	return slot
}

// growSentinel appends a zero-value placeholder so positional indexing
// stays aligned when the logical value being appended is NULL.
func (c *Column) growSentinel() {
	switch c.Def.Type {
	case types.ColumnBigint:
		c.bigint = append(c.bigint, 0)
	case types.ColumnDouble:
		c.double = append(c.double, 0)
	case types.ColumnString:
		c.str = append(c.str, "")
	case types.ColumnBoolean:
		c.bl = append(c.bl, false)
	default:
		c.boxed = append(c.boxed, types.Null())
	}
}

func (c *Column) len() int {
	switch c.Def.Type {
	case types.ColumnBigint:
		return len(c.bigint)
	case types.ColumnDouble:
		return len(c.double)
	case types.ColumnString:
		return len(c.str)
	case types.ColumnBoolean:
		return len(c.bl)
	default:
		return len(c.boxed)
	}
}

// At returns the logical value stored at slot, or NULL if the validity
// bitmap says the slot is unset.
func (c *Column) At(slot int) types.LogicalValue {
	if !c.Validity.Contains(uint32(slot)) {
		return types.Null()
	}
	switch c.Def.Type {
	case types.ColumnBigint:
		return types.Bigint(c.bigint[slot])
	case types.ColumnDouble:
		return types.Double(c.double[slot])
	case types.ColumnString:
		return types.String(c.str[slot])
	case types.ColumnBoolean:
		return types.Boolean(c.bl[slot])
	default:
		return c.boxed[slot]
	}
}

func (c *Column) updateRange(v types.LogicalValue) {
	if !c.hasRange {
		c.Min, c.Max = v, v
		c.hasRange = true
		return
	}
	if v.Compare(c.Min) < 0 {
		c.Min = v
	}
	if v.Compare(c.Max) > 0 {
		c.Max = v
	}
}

// MightContain applies the column's min/max pruning hint: if v falls
// outside [Min,Max] the caller can skip scanning this row group entirely.
func (c *Column) MightContain(v types.LogicalValue) bool {
	if !c.hasRange {
		return false
	}
	return v.Compare(c.Min) >= 0 && v.Compare(c.Max) <= 0
}
