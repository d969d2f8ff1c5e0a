package recovery

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/otterbrix/kernel/pkg/catalog"
	"github.com/otterbrix/kernel/pkg/table"
	"github.com/otterbrix/kernel/pkg/txn"
	"github.com/otterbrix/kernel/pkg/types"
	"github.com/otterbrix/kernel/pkg/wal"
)

type fakeResolver struct {
	tables map[string]*table.Table
}

func newFakeResolver() *fakeResolver { return &fakeResolver{tables: make(map[string]*table.Table)} }

func (f *fakeResolver) Resolve(database, collection string) *table.Table {
	key := database + "/" + collection
	tbl, ok := f.tables[key]
	if !ok {
		tbl = table.New(collection, &types.Schema{Columns: []types.ColumnDef{{Name: "a", Type: types.ColumnBigint}}})
		f.tables[key] = tbl
	}
	return tbl
}

func encodeRow(t *testing.T, values ...types.LogicalValue) [][]byte {
	out := make([][]byte, len(values))
	for i, v := range values {
		b, err := msgpack.Marshal(v)
		require.NoError(t, err)
		out[i] = b
	}
	return out
}

func TestReplayAppliesCommittedInsertOnly(t *testing.T) {
	opts := wal.DefaultOptions()
	opts.DirPath = t.TempDir()
	opts.Partitions = 2
	opts.SyncPolicy = wal.SyncEveryWrite
	pool, err := wal.Open(opts)
	require.NoError(t, err)

	insertPayload, err := msgpack.Marshal(wal.PhysicalInsertPayload{RowID: 0, Values: encodeRow(t, types.Bigint(7))})
	require.NoError(t, err)

	committedTxn := uint64(txn.TxnBase + 1)
	rec := wal.AcquireRecord()
	rec.Kind = wal.PHYSICAL_INSERT
	rec.TxnID = committedTxn
	rec.Database = "db"
	rec.Collection = "t"
	rec.Payload = insertPayload
	_, err = pool.Append(rec)
	require.NoError(t, err)

	commitRec := wal.AcquireRecord()
	commitRec.Kind = wal.COMMIT
	commitRec.TxnID = committedTxn
	_, err = pool.Append(commitRec)
	require.NoError(t, err)

	// A second transaction that never commits: must be discarded.
	uncommittedTxn := uint64(txn.TxnBase + 2)
	insertPayload2, err := msgpack.Marshal(wal.PhysicalInsertPayload{RowID: 0, Values: encodeRow(t, types.Bigint(99))})
	require.NoError(t, err)
	rec2 := wal.AcquireRecord()
	rec2.Kind = wal.PHYSICAL_INSERT
	rec2.TxnID = uncommittedTxn
	rec2.Database = "db"
	rec2.Collection = "t"
	rec2.Payload = insertPayload2
	_, err = pool.Append(rec2)
	require.NoError(t, err)

	require.NoError(t, pool.Close())

	reopened, err := wal.Open(opts)
	require.NoError(t, err)
	defer reopened.Close()

	cat := catalog.New()
	resolver := newFakeResolver()
	ids := txn.NewIDSpace()

	result, err := Replay(reopened, cat, resolver, ids, nil, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, 1, result.RecordsApplied)

	tbl := resolver.Resolve("db", "t")
	var values []int64
	tbl.Scan(txn.Degenerate(), func(rid table.RowID, row []types.LogicalValue) bool {
		values = append(values, row[0].Int)
		return true
	})
	require.Equal(t, []int64{7}, values)
}

func TestReplayAppliesCatalogDataRecords(t *testing.T) {
	opts := wal.DefaultOptions()
	opts.DirPath = t.TempDir()
	opts.Partitions = 1
	opts.SyncPolicy = wal.SyncEveryWrite
	pool, err := wal.Open(opts)
	require.NoError(t, err)

	payload, err := msgpack.Marshal(wal.DataPayload{Op: "create_database", Args: map[string]string{"database": "db"}})
	require.NoError(t, err)
	rec := wal.AcquireRecord()
	rec.Kind = wal.DATA
	rec.TxnID = 0
	rec.Payload = payload
	_, err = pool.Append(rec)
	require.NoError(t, err)
	require.NoError(t, pool.Close())

	reopened, err := wal.Open(opts)
	require.NoError(t, err)
	defer reopened.Close()

	cat := catalog.New()
	_, err = Replay(reopened, cat, newFakeResolver(), txn.NewIDSpace(), nil, zap.NewNop())
	require.NoError(t, err)
	require.True(t, cat.HasDatabase("db"))
}
