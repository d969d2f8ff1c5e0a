package dispatcher

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/otterbrix/kernel/pkg/actor"
	"github.com/otterbrix/kernel/pkg/catalog"
	"github.com/otterbrix/kernel/pkg/checkpoint"
	kerrors "github.com/otterbrix/kernel/pkg/errors"
	"github.com/otterbrix/kernel/pkg/txn"
	"github.com/otterbrix/kernel/pkg/types"
	"github.com/otterbrix/kernel/pkg/udf"
	"github.com/otterbrix/kernel/pkg/wal"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	opts := wal.DefaultOptions()
	opts.DirPath = t.TempDir()
	opts.Partitions = 2
	opts.SyncPolicy = wal.SyncEveryWrite
	pool, err := wal.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	actorPool, err := actor.NewPool(4)
	require.NoError(t, err)
	t.Cleanup(actorPool.Release)

	ids := txn.NewIDSpace()
	return New(
		catalog.New(),
		pool,
		ids,
		txn.NewRegistry(ids),
		udf.New(),
		actorPool,
		zap.NewNop(),
		NewMetrics(prometheus.NewRegistry()),
		t.TempDir(),
	)
}

func personSchema() *types.Schema {
	return &types.Schema{Columns: []types.ColumnDef{
		{Name: "id", Type: types.ColumnBigint},
		{Name: "name", Type: types.ColumnString},
	}}
}

func TestInsertAndSelectRoundTrip(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	_, err := d.Execute(ctx, CreateDatabase{Database: "db"})
	require.NoError(t, err)
	_, err = d.Execute(ctx, CreateCollection{Database: "db", Name: "people", Schema: personSchema()})
	require.NoError(t, err)

	_, err = d.Execute(ctx, Insert{Database: "db", Collection: "people", Rows: [][]types.LogicalValue{
		{types.Bigint(1), types.String("alice")},
		{types.Bigint(2), types.String("bob")},
		{types.Bigint(3), types.String("carol")},
	}})
	require.NoError(t, err)

	cur, err := d.Execute(ctx, Select{Database: "db", Collection: "people"})
	require.NoError(t, err)
	var names []string
	for cur.Next() {
		names = append(names, cur.Row().Values[1].Str)
	}
	require.ElementsMatch(t, []string{"alice", "bob", "carol"}, names)
}

func TestSelectWithPredicateAndOrderAndLimit(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()
	_, err := d.Execute(ctx, CreateDatabase{Database: "db"})
	require.NoError(t, err)
	_, err = d.Execute(ctx, CreateCollection{Database: "db", Name: "people", Schema: personSchema()})
	require.NoError(t, err)
	_, err = d.Execute(ctx, Insert{Database: "db", Collection: "people", Rows: [][]types.LogicalValue{
		{types.Bigint(3), types.String("carol")},
		{types.Bigint(1), types.String("alice")},
		{types.Bigint(2), types.String("bob")},
	}})
	require.NoError(t, err)

	cur, err := d.Execute(ctx, Select{
		Database: "db", Collection: "people",
		OrderBy: []SortKey{{Column: "id"}},
		Limit:   2,
	})
	require.NoError(t, err)
	var ids []int64
	for cur.Next() {
		ids = append(ids, cur.Row().Values[0].Int)
	}
	require.Equal(t, []int64{1, 2}, ids)

	cur2, err := d.Execute(ctx, Select{
		Database: "db", Collection: "people",
		Predicate: &Predicate{Column: "name", Op: OpEqual, Value: types.String("bob")},
	})
	require.NoError(t, err)
	require.True(t, cur2.Next())
	require.Equal(t, int64(2), cur2.Row().Values[0].Int)
	require.False(t, cur2.Next())
}

func TestRangePredicateWithOrderBy(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()
	_, err := d.Execute(ctx, CreateDatabase{Database: "db"})
	require.NoError(t, err)
	_, err = d.Execute(ctx, CreateCollection{Database: "db", Name: "t", Schema: personSchema()})
	require.NoError(t, err)
	_, err = d.Execute(ctx, Insert{Database: "db", Collection: "t", Rows: [][]types.LogicalValue{
		{types.Bigint(1), types.String("x")},
		{types.Bigint(2), types.String("y")},
		{types.Bigint(3), types.String("z")},
	}})
	require.NoError(t, err)

	cur, err := d.Execute(ctx, Select{
		Database: "db", Collection: "t",
		Predicate: &Predicate{Column: "id", Op: OpGreaterThan, Value: types.Bigint(1)},
		OrderBy:   []SortKey{{Column: "id"}},
	})
	require.NoError(t, err)
	require.Equal(t, 2, cur.Len())
	require.True(t, cur.Next())
	require.Equal(t, "y", cur.Row().Values[1].Str)
	require.True(t, cur.Next())
	require.Equal(t, "z", cur.Row().Values[1].Str)
}

func TestCreateIndexOnUnknownColumnFails(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()
	_, err := d.Execute(ctx, CreateDatabase{Database: "db"})
	require.NoError(t, err)
	_, err = d.Execute(ctx, CreateCollection{Database: "db", Name: "t", Schema: personSchema()})
	require.NoError(t, err)

	_, err = d.Execute(ctx, CreateIndex{Database: "db", Collection: "t", Name: "idx", Column: "nope"})
	require.Error(t, err)
	require.Equal(t, kerrors.INDEX_CREATE_FAIL, kerrors.CodeOf(err))
}

func TestUniqueIndexViolationAbortsInsert(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()
	_, err := d.Execute(ctx, CreateDatabase{Database: "db"})
	require.NoError(t, err)
	_, err = d.Execute(ctx, CreateCollection{Database: "db", Name: "t", Schema: personSchema()})
	require.NoError(t, err)
	_, err = d.Execute(ctx, CreateIndex{Database: "db", Collection: "t", Name: "idx_id", Column: "id", Unique: true})
	require.NoError(t, err)

	_, err = d.Execute(ctx, Insert{Database: "db", Collection: "t", Rows: [][]types.LogicalValue{
		{types.Bigint(1), types.String("a")},
	}})
	require.NoError(t, err)

	_, err = d.Execute(ctx, Insert{Database: "db", Collection: "t", Rows: [][]types.LogicalValue{
		{types.Bigint(2), types.String("b")},
		{types.Bigint(1), types.String("dup")},
	}})
	require.Error(t, err, "duplicate unique key rejects the whole insert")

	cur, err := d.Execute(ctx, Select{Database: "db", Collection: "t"})
	require.NoError(t, err)
	require.Equal(t, 1, cur.Len(), "the aborted batch left nothing behind")
}

func TestCreateIndexThenEqualityLookupUsesIndex(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()
	_, err := d.Execute(ctx, CreateDatabase{Database: "db"})
	require.NoError(t, err)
	_, err = d.Execute(ctx, CreateCollection{Database: "db", Name: "people", Schema: personSchema()})
	require.NoError(t, err)
	_, err = d.Execute(ctx, Insert{Database: "db", Collection: "people", Rows: [][]types.LogicalValue{
		{types.Bigint(1), types.String("alice")},
		{types.Bigint(2), types.String("bob")},
	}})
	require.NoError(t, err)

	_, err = d.Execute(ctx, CreateIndex{Database: "db", Collection: "people", Name: "idx_id", Column: "id", Unique: true})
	require.NoError(t, err)

	cur, err := d.Execute(ctx, Select{
		Database: "db", Collection: "people",
		Predicate: &Predicate{Column: "id", Op: OpEqual, Value: types.Bigint(2)},
	})
	require.NoError(t, err)
	require.True(t, cur.Next())
	require.Equal(t, "bob", cur.Row().Values[1].Str)
	require.False(t, cur.Next())
}

func TestUpdateThenDelete(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()
	_, err := d.Execute(ctx, CreateDatabase{Database: "db"})
	require.NoError(t, err)
	_, err = d.Execute(ctx, CreateCollection{Database: "db", Name: "people", Schema: personSchema()})
	require.NoError(t, err)
	_, err = d.Execute(ctx, Insert{Database: "db", Collection: "people", Rows: [][]types.LogicalValue{
		{types.Bigint(1), types.String("alice")},
		{types.Bigint(2), types.String("bob")},
	}})
	require.NoError(t, err)

	updateCur, err := d.Execute(ctx, Update{
		Database: "db", Collection: "people",
		Predicate: &Predicate{Column: "id", Op: OpEqual, Value: types.Bigint(1)},
		Set:       map[string]types.LogicalValue{"name": types.String("alicia")},
	})
	require.NoError(t, err)
	require.Equal(t, 1, updateCur.Len())

	selCur, err := d.Execute(ctx, Select{Database: "db", Collection: "people",
		Predicate: &Predicate{Column: "id", Op: OpEqual, Value: types.Bigint(1)}})
	require.NoError(t, err)
	require.True(t, selCur.Next())
	require.Equal(t, "alicia", selCur.Row().Values[1].Str)

	delCur, err := d.Execute(ctx, Delete{Database: "db", Collection: "people",
		Predicate: &Predicate{Column: "id", Op: OpEqual, Value: types.Bigint(2)}})
	require.NoError(t, err)
	require.Equal(t, 1, delCur.Len())

	remaining, err := d.Execute(ctx, Select{Database: "db", Collection: "people"})
	require.NoError(t, err)
	require.Equal(t, 1, remaining.Len())
}

func TestCheckpointWritesFileForDiskBackedCollection(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()
	_, err := d.Execute(ctx, CreateDatabase{Database: "db"})
	require.NoError(t, err)
	_, err = d.Execute(ctx, CreateCollection{Database: "db", Name: "people", Schema: personSchema(), Disk: true})
	require.NoError(t, err)
	_, err = d.Execute(ctx, Insert{Database: "db", Collection: "people", Rows: [][]types.LogicalValue{
		{types.Bigint(1), types.String("alice")},
	}})
	require.NoError(t, err)

	_, err = d.Execute(ctx, Checkpoint{Database: "db", Collection: "people"})
	require.NoError(t, err)

	require.FileExists(t, checkpoint.Path(d.collectionDir("db", "people")))
}

func TestVacuumReclaimsDeletedRows(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()
	_, err := d.Execute(ctx, CreateDatabase{Database: "db"})
	require.NoError(t, err)
	_, err = d.Execute(ctx, CreateCollection{Database: "db", Name: "people", Schema: personSchema()})
	require.NoError(t, err)
	_, err = d.Execute(ctx, Insert{Database: "db", Collection: "people", Rows: [][]types.LogicalValue{
		{types.Bigint(1), types.String("alice")},
		{types.Bigint(2), types.String("bob")},
	}})
	require.NoError(t, err)
	_, err = d.Execute(ctx, Delete{Database: "db", Collection: "people",
		Predicate: &Predicate{Column: "id", Op: OpEqual, Value: types.Bigint(1)}})
	require.NoError(t, err)

	_, err = d.Execute(ctx, Vacuum{Database: "db", Collection: "people"})
	require.NoError(t, err)

	cur, err := d.Execute(ctx, Select{Database: "db", Collection: "people"})
	require.NoError(t, err)
	require.Equal(t, 1, cur.Len())
}
