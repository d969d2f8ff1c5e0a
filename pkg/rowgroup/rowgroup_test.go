package rowgroup

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/otterbrix/kernel/pkg/types"
)

func testSchema() *types.Schema {
	return &types.Schema{Columns: []types.ColumnDef{
		{Name: "a", Type: types.ColumnBigint},
		{Name: "b", Type: types.ColumnString},
	}}
}

func TestAppendAndReadBack(t *testing.T) {
	rg := New(testSchema(), 0)

	slot := rg.Append([]types.LogicalValue{types.Bigint(42), types.String("x")}, 100)
	require.Equal(t, 0, slot)
	require.Equal(t, 1, rg.NumRows())

	row := rg.Row(slot)
	require.Equal(t, int64(42), row[0].Int)
	require.Equal(t, "x", row[1].Str)

	insertID, deleteID := rg.Versions(slot)
	require.Equal(t, uint64(100), insertID)
	require.Zero(t, deleteID)
}

func TestFullAtExactCapacity(t *testing.T) {
	rg := New(testSchema(), 0)
	for i := 0; i < Capacity; i++ {
		rg.Append([]types.LogicalValue{types.Bigint(int64(i)), types.String("v")}, 1)
	}
	require.True(t, rg.Full())
	require.Equal(t, Capacity, rg.NumRows())
}

func TestNullCellKeepsColumnsAligned(t *testing.T) {
	rg := New(testSchema(), 0)
	rg.Append([]types.LogicalValue{types.Bigint(1), types.Null()}, 1)
	rg.Append([]types.LogicalValue{types.Null(), types.String("y")}, 1)

	first := rg.Row(0)
	require.Equal(t, int64(1), first[0].Int)
	require.True(t, first[1].IsNull())

	second := rg.Row(1)
	require.True(t, second[0].IsNull())
	require.Equal(t, "y", second[1].Str)
}

func TestPromoteAndTombstoneLifecycle(t *testing.T) {
	rg := New(testSchema(), 0)
	txnID := uint64(1) << 62
	slot := rg.Append([]types.LogicalValue{types.Bigint(7), types.String("z")}, txnID)

	rg.PromoteInsertID(slot, 9)
	insertID, _ := rg.Versions(slot)
	require.Equal(t, uint64(9), insertID)

	rg.MarkDeleted(slot, txnID)
	rg.PromoteDeleteID(slot, 11)
	_, deleteID := rg.Versions(slot)
	require.Equal(t, uint64(11), deleteID)

	rg.ClearDeleted(slot)
	_, deleteID = rg.Versions(slot)
	require.Zero(t, deleteID)
}

func TestPromoteDeleteIDSkipsUndeletedSlot(t *testing.T) {
	rg := New(testSchema(), 0)
	slot := rg.Append([]types.LogicalValue{types.Bigint(1), types.String("a")}, 1)
	rg.PromoteDeleteID(slot, 5)
	_, deleteID := rg.Versions(slot)
	require.Zero(t, deleteID, "a slot never tombstoned must stay NOT_DELETED")
}

func TestMarkDeadExcludesSlot(t *testing.T) {
	rg := New(testSchema(), 0)
	slot := rg.Append([]types.LogicalValue{types.Bigint(1), types.String("a")}, 1)
	require.False(t, rg.IsDead(slot))
	rg.MarkDead(slot)
	require.True(t, rg.IsDead(slot))
}

func TestMightContainPrunesDisjointRanges(t *testing.T) {
	rg := New(testSchema(), 0)
	for i := 10; i <= 20; i++ {
		rg.Append([]types.LogicalValue{types.Bigint(int64(i)), types.String("v")}, 1)
	}

	require.True(t, rg.MightContain(0, types.Bigint(15)))
	require.True(t, rg.MightContain(0, types.Bigint(10)))
	require.True(t, rg.MightContain(0, types.Bigint(20)))
	require.False(t, rg.MightContain(0, types.Bigint(9)))
	require.False(t, rg.MightContain(0, types.Bigint(21)))

	// Out-of-range column ordinals never prune.
	require.True(t, rg.MightContain(5, types.Bigint(1)))
}

func TestEmptyRowGroupNeverMatchesHint(t *testing.T) {
	rg := New(testSchema(), 0)
	require.False(t, rg.MightContain(0, types.Bigint(1)))
}
