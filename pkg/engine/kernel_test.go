package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/otterbrix/kernel/pkg/dispatcher"
	"github.com/otterbrix/kernel/pkg/types"
)

func testSchema() *types.Schema {
	return &types.Schema{Columns: []types.ColumnDef{
		{Name: "a", Type: types.ColumnBigint},
		{Name: "b", Type: types.ColumnString},
	}}
}

func TestOpenInsertCheckpointReopenRecoversData(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	cfg := DefaultConfig()
	cfg.DataDir = dir
	cfg.WALPartitions = 2

	k, err := Open(cfg)
	require.NoError(t, err)

	_, err = k.Execute(ctx, dispatcher.CreateDatabase{Database: "db"})
	require.NoError(t, err)
	_, err = k.Execute(ctx, dispatcher.CreateCollection{Database: "db", Name: "t", Schema: testSchema(), Disk: true})
	require.NoError(t, err)
	_, err = k.Execute(ctx, dispatcher.Insert{Database: "db", Collection: "t", Rows: [][]types.LogicalValue{
		{types.Bigint(1), types.String("x")},
		{types.Bigint(2), types.String("y")},
	}})
	require.NoError(t, err)
	_, err = k.Execute(ctx, dispatcher.Checkpoint{Database: "db", Collection: "t"})
	require.NoError(t, err)
	_, err = k.Execute(ctx, dispatcher.Insert{Database: "db", Collection: "t", Rows: [][]types.LogicalValue{
		{types.Bigint(3), types.String("z")},
	}})
	require.NoError(t, err)
	require.NoError(t, k.Close())

	k2, err := Open(cfg)
	require.NoError(t, err)
	defer k2.Close()

	cur, err := k2.Execute(ctx, dispatcher.Select{Database: "db", Collection: "t"})
	require.NoError(t, err)
	require.Equal(t, 3, cur.Len())
}

func TestRestartWithoutCheckpointReplaysWAL(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.DataDir = dir
	cfg.WALPartitions = 2
	cfg.WALSyncPolicy = "every_write"

	k, err := Open(cfg)
	require.NoError(t, err)
	_, err = k.Execute(ctx, dispatcher.CreateDatabase{Database: "db"})
	require.NoError(t, err)
	_, err = k.Execute(ctx, dispatcher.CreateCollection{Database: "db", Name: "t", Schema: testSchema()})
	require.NoError(t, err)

	batch := func(lo, hi int) [][]types.LogicalValue {
		rows := make([][]types.LogicalValue, 0, hi-lo)
		for i := lo; i < hi; i++ {
			rows = append(rows, []types.LogicalValue{types.Bigint(int64(i)), types.String("v")})
		}
		return rows
	}
	_, err = k.Execute(ctx, dispatcher.Insert{Database: "db", Collection: "t", Rows: batch(0, 50)})
	require.NoError(t, err)
	_, err = k.Execute(ctx, dispatcher.Insert{Database: "db", Collection: "t", Rows: batch(50, 100)})
	require.NoError(t, err)
	require.NoError(t, k.Close())

	k2, err := Open(cfg)
	require.NoError(t, err)
	defer k2.Close()

	cur, err := k2.Execute(ctx, dispatcher.Aggregate{
		Database: "db", Collection: "t",
		Aggs: []dispatcher.AggSpec{{Func: "count", Column: "a"}},
	})
	require.NoError(t, err)
	require.True(t, cur.Next())
	require.Equal(t, int64(100), cur.Row().Values[0].Int)
}

func TestFullDMLCycleSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.DataDir = dir
	cfg.WALSyncPolicy = "every_write"

	k, err := Open(cfg)
	require.NoError(t, err)
	_, err = k.Execute(ctx, dispatcher.CreateDatabase{Database: "db"})
	require.NoError(t, err)
	_, err = k.Execute(ctx, dispatcher.CreateCollection{Database: "db", Name: "t", Schema: testSchema()})
	require.NoError(t, err)

	rows := make([][]types.LogicalValue, 0, 100)
	for i := 0; i < 100; i++ {
		rows = append(rows, []types.LogicalValue{types.Bigint(int64(i)), types.String("v")})
	}
	_, err = k.Execute(ctx, dispatcher.Insert{Database: "db", Collection: "t", Rows: rows})
	require.NoError(t, err)

	delCur, err := k.Execute(ctx, dispatcher.Delete{Database: "db", Collection: "t",
		Predicate: &dispatcher.Predicate{Column: "a", Op: dispatcher.OpGreaterThan, Value: types.Bigint(90)}})
	require.NoError(t, err)
	require.Equal(t, 9, delCur.Len())

	updCur, err := k.Execute(ctx, dispatcher.Update{Database: "db", Collection: "t",
		Predicate: &dispatcher.Predicate{Column: "a", Op: dispatcher.OpEqual, Value: types.Bigint(50)},
		Set:       map[string]types.LogicalValue{"a": types.Bigint(999)}})
	require.NoError(t, err)
	require.Equal(t, 1, updCur.Len())
	require.NoError(t, k.Close())

	k2, err := Open(cfg)
	require.NoError(t, err)
	defer k2.Close()

	countCur, err := k2.Execute(ctx, dispatcher.Aggregate{
		Database: "db", Collection: "t",
		Aggs: []dispatcher.AggSpec{{Func: "count", Column: "a"}},
	})
	require.NoError(t, err)
	require.True(t, countCur.Next())
	require.Equal(t, int64(91), countCur.Row().Values[0].Int)

	expectRows := func(value int64, want int) {
		cur, err := k2.Execute(ctx, dispatcher.Select{Database: "db", Collection: "t",
			Predicate: &dispatcher.Predicate{Column: "a", Op: dispatcher.OpEqual, Value: types.Bigint(value)}})
		require.NoError(t, err)
		require.Equal(t, want, cur.Len(), "rows with a=%d", value)
	}
	expectRows(999, 1)
	expectRows(50, 0)
	expectRows(95, 0)
}

func TestCheckpointedRowsNotDoubleAppliedOnRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.DataDir = dir
	cfg.WALSyncPolicy = "every_write"

	k, err := Open(cfg)
	require.NoError(t, err)
	_, err = k.Execute(ctx, dispatcher.CreateDatabase{Database: "db"})
	require.NoError(t, err)
	_, err = k.Execute(ctx, dispatcher.CreateCollection{Database: "db", Name: "t", Schema: testSchema(), Disk: true})
	require.NoError(t, err)

	rows := make([][]types.LogicalValue, 0, 50)
	for i := 0; i < 50; i++ {
		rows = append(rows, []types.LogicalValue{types.Bigint(int64(i)), types.String("v")})
	}
	_, err = k.Execute(ctx, dispatcher.Insert{Database: "db", Collection: "t", Rows: rows})
	require.NoError(t, err)
	_, err = k.Execute(ctx, dispatcher.Checkpoint{Database: "db", Collection: "t"})
	require.NoError(t, err)
	require.NoError(t, k.Close())

	// The WAL still holds the insert records (only whole covered segments
	// are truncated); replay must skip them because the checkpoint image
	// already contains those rows.
	k2, err := Open(cfg)
	require.NoError(t, err)
	defer k2.Close()

	cur, err := k2.Execute(ctx, dispatcher.Select{Database: "db", Collection: "t"})
	require.NoError(t, err)
	require.Equal(t, 50, cur.Len())

	spot, err := k2.Execute(ctx, dispatcher.Select{Database: "db", Collection: "t",
		Predicate: &dispatcher.Predicate{Column: "a", Op: dispatcher.OpEqual, Value: types.Bigint(0)}})
	require.NoError(t, err)
	require.Equal(t, 1, spot.Len(), "a=0 appears exactly once")
}

func TestScopedCheckpointKeepsOtherCollectionsWAL(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.DataDir = dir
	cfg.WALSyncPolicy = "every_write"
	// Tiny segments so checkpoint truncation has closed segments to act on.
	cfg.WALMaxSegmentSize = 256

	k, err := Open(cfg)
	require.NoError(t, err)
	_, err = k.Execute(ctx, dispatcher.CreateDatabase{Database: "db"})
	require.NoError(t, err)
	_, err = k.Execute(ctx, dispatcher.CreateCollection{Database: "db", Name: "ckpt", Schema: testSchema(), Disk: true})
	require.NoError(t, err)
	_, err = k.Execute(ctx, dispatcher.CreateCollection{Database: "db", Name: "walonly", Schema: testSchema(), Disk: true})
	require.NoError(t, err)

	rows := func(lo, hi int) [][]types.LogicalValue {
		out := make([][]types.LogicalValue, 0, hi-lo)
		for i := lo; i < hi; i++ {
			out = append(out, []types.LogicalValue{types.Bigint(int64(i)), types.String("v")})
		}
		return out
	}
	_, err = k.Execute(ctx, dispatcher.Insert{Database: "db", Collection: "walonly", Rows: rows(0, 30)})
	require.NoError(t, err)
	_, err = k.Execute(ctx, dispatcher.Insert{Database: "db", Collection: "ckpt", Rows: rows(0, 30)})
	require.NoError(t, err)

	// Scoped to one collection: the other's only durability is still the
	// WAL, so truncation must leave its records alone.
	_, err = k.Execute(ctx, dispatcher.Checkpoint{Database: "db", Collection: "ckpt"})
	require.NoError(t, err)
	require.NoError(t, k.Close())

	k2, err := Open(cfg)
	require.NoError(t, err)
	defer k2.Close()

	for _, coll := range []string{"ckpt", "walonly"} {
		cur, err := k2.Execute(ctx, dispatcher.Select{Database: "db", Collection: coll})
		require.NoError(t, err)
		require.Equal(t, 30, cur.Len(), "collection %s after restart", coll)
	}
}

func TestOpenWithoutAnyPriorStateStartsEmpty(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	k, err := Open(cfg)
	require.NoError(t, err)
	defer k.Close()

	_, err = k.Execute(context.Background(), dispatcher.CreateDatabase{Database: "fresh"})
	require.NoError(t, err)
}
