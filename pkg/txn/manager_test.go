package txn

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIDSpaceSplitsCommitAndTxnHalves(t *testing.T) {
	ids := NewIDSpace()

	c1 := ids.NextCommitID()
	c2 := ids.NextCommitID()
	require.Equal(t, uint64(1), c1)
	require.Equal(t, uint64(2), c2)
	require.False(t, IsTxnID(c2))

	t1 := ids.NextTxnID()
	t2 := ids.NextTxnID()
	require.True(t, IsTxnID(t1))
	require.True(t, IsTxnID(t2))
	require.Greater(t, t2, t1)
}

func TestObserveAdvancesCountersMonotonically(t *testing.T) {
	ids := NewIDSpace()
	ids.ObserveCommitID(40)
	require.Equal(t, uint64(41), ids.NextCommitID())

	ids.ObserveCommitID(10) // behind the counter, must be a no-op
	require.Equal(t, uint64(42), ids.NextCommitID())

	ids.ObserveTxnID(TxnBase + 100)
	require.Equal(t, TxnBase+101, ids.NextTxnID())
}

func TestCommitWatermarkAdmitsEveryPriorCommit(t *testing.T) {
	ids := NewIDSpace()
	commitID := ids.NextCommitID()
	tx := &Transaction{TxnID: ids.NextTxnID(), StartTS: ids.CommitWatermark()}
	require.True(t, tx.Visible(commitID, 0),
		"a snapshot opened after a commit must see that commit")
}

func TestVisibilityCommittedBeforeSnapshot(t *testing.T) {
	tx := &Transaction{TxnID: TxnBase + 5, StartTS: 10}

	require.True(t, tx.Visible(9, 0), "insert committed before snapshot, not deleted")
	require.False(t, tx.Visible(10, 0), "insert at exactly start_ts is not yet visible")
	require.False(t, tx.Visible(11, 0), "insert committed after snapshot")
}

func TestVisibilityOwnWrites(t *testing.T) {
	tx := &Transaction{TxnID: TxnBase + 5, StartTS: 10}

	require.True(t, tx.Visible(tx.TxnID, 0), "own uncommitted insert is visible")
	require.False(t, tx.Visible(TxnBase+6, 0), "another txn's uncommitted insert is not")
	require.False(t, tx.Visible(tx.TxnID, tx.TxnID), "own delete hides the row immediately")
	require.False(t, tx.Visible(5, tx.TxnID), "own delete of a committed row hides it")
	require.True(t, tx.Visible(5, TxnBase+6), "another txn's uncommitted delete does not")
}

func TestVisibilityCommittedDelete(t *testing.T) {
	tx := &Transaction{TxnID: TxnBase + 5, StartTS: 10}

	require.False(t, tx.Visible(3, 7), "delete committed before snapshot hides the row")
	require.True(t, tx.Visible(3, 12), "delete committed after snapshot leaves it visible")
}

func TestDegenerateSnapshotSeesAllCommitted(t *testing.T) {
	tx := Degenerate()
	require.True(t, tx.Visible(1, 0))
	require.True(t, tx.Visible(1<<40, 0))
	require.False(t, tx.Visible(TxnBase+1, 0), "uncommitted insert stays hidden")
	require.False(t, tx.Visible(1, 2), "committed delete stays hidden")
	require.True(t, tx.Visible(1, TxnBase+9), "uncommitted delete is ignored")
}

func TestRegistryTracksLowestActiveStartTS(t *testing.T) {
	ids := NewIDSpace()
	reg := NewRegistry(ids)

	require.Equal(t, uint64(math.MaxUint64), reg.LowestActiveStartTS())

	a := reg.Begin(5)
	b := reg.Begin(3)
	c := reg.Begin(9)
	require.Equal(t, uint64(3), reg.LowestActiveStartTS())
	require.Equal(t, 3, reg.ActiveCount())

	reg.Finish(b)
	require.Equal(t, uint64(5), reg.LowestActiveStartTS())

	reg.Finish(a)
	reg.Finish(c)
	require.Equal(t, uint64(math.MaxUint64), reg.LowestActiveStartTS())
	require.Zero(t, reg.ActiveCount())
}
