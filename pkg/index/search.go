package index

import "github.com/otterbrix/kernel/pkg/types"

// ScanOperator is the comparison an index search applies against a key.
type ScanOperator int

const (
	OpEqual ScanOperator = iota
	OpNotEqual
	OpGreaterThan
	OpGreaterOrEqual
	OpLessThan
	OpLessOrEqual
)

type condition struct {
	operator ScanOperator
	value    types.Comparable
}

func conditionFor(op ScanOperator, value types.Comparable) *condition {
	return &condition{operator: op, value: value}
}

func (c *condition) Matches(key types.Comparable) bool {
	switch c.operator {
	case OpEqual:
		return key.Compare(c.value) == 0
	case OpNotEqual:
		return key.Compare(c.value) != 0
	case OpGreaterThan:
		return key.Compare(c.value) > 0
	case OpGreaterOrEqual:
		return key.Compare(c.value) >= 0
	case OpLessThan:
		return key.Compare(c.value) < 0
	case OpLessOrEqual:
		return key.Compare(c.value) <= 0
	default:
		return false
	}
}

// GetStartKey returns the key to seek to before scanning, or nil to start
// at the first leaf (required for NE/LT/LE, which cannot narrow the lower
// bound).
func (c *condition) GetStartKey() types.Comparable {
	switch c.operator {
	case OpEqual, OpGreaterThan, OpGreaterOrEqual:
		return c.value
	default:
		return nil
	}
}

func (c *condition) ShouldSeek() bool {
	switch c.operator {
	case OpEqual, OpGreaterThan, OpGreaterOrEqual:
		return true
	default:
		return false
	}
}

// ShouldContinue reports whether a forward leaf-chain walk should go on
// past key (used only when ShouldSeek is true): OpEqual stops once key
// exceeds the value; every other operator walks to the end.
func (c *condition) ShouldContinue(key types.Comparable) bool {
	switch c.operator {
	case OpEqual:
		return key.Compare(c.value) <= 0
	default:
		return true
	}
}
