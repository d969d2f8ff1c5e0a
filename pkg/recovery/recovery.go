// Package recovery replays the write-ahead log into the catalog and
// table store after a crash or clean restart, merging the W partition
// streams back into one total order by wal_id.
package recovery

import (
	"container/heap"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/otterbrix/kernel/pkg/catalog"
	kerrors "github.com/otterbrix/kernel/pkg/errors"
	"github.com/otterbrix/kernel/pkg/table"
	"github.com/otterbrix/kernel/pkg/txn"
	"github.com/otterbrix/kernel/pkg/types"
	"github.com/otterbrix/kernel/pkg/wal"
)

// TableResolver opens (creating if necessary) the in-memory Table for a
// (database, collection) pair, so recovery can apply physical records
// without depending on the full dispatcher.
type TableResolver interface {
	Resolve(database, collection string) *table.Table
}

// pendingOp is one buffered DML operation awaiting its transaction's
// COMMIT marker.
type pendingOp struct {
	rec *wal.Record
}

// walStream is one partition's records plus a read cursor, used as a
// heap element for the cross-partition wal_id merge.
type walStream struct {
	records []*wal.Record
	pos     int
}

func (s *walStream) peek() *wal.Record {
	if s.pos >= len(s.records) {
		return nil
	}
	return s.records[s.pos]
}

// streamHeap orders active streams by their next record's wal_id, giving
// a total global order across partitions.
type streamHeap []*walStream

func (h streamHeap) Len() int { return len(h) }
func (h streamHeap) Less(i, j int) bool {
	return h[i].peek().WalID < h[j].peek().WalID
}
func (h streamHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *streamHeap) Push(x interface{}) { *h = append(*h, x.(*walStream)) }
func (h *streamHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Result reports what recovery observed, so the caller can fast-forward
// its own id counters past anything replayed.
type Result struct {
	RecordsApplied int
	MaxWalID       uint64
	MaxCommitID    uint64
}

// Replay reads every partition of pool in file order, merges them into
// one global wal_id-ordered stream, and applies DATA records against cat
// immediately (rule 1), buffers DML records per txn_id (rule 2), and
// replays a txn's buffered operations once its COMMIT marker is seen
// (rule 3), discarding anything still buffered at end of log (rule 4,
// implicit abort of an in-flight transaction the crash interrupted).
//
// watermarks maps "database/collection" to the max_wal_id_included of a
// checkpoint the caller already loaded for that collection: physical
// records at or below the watermark are part of the checkpoint image and
// must not be applied a second time. Pass nil when no checkpoint was
// loaded.
func Replay(pool *wal.Pool, cat *catalog.Catalog, resolver TableResolver, ids *txn.IDSpace, watermarks map[string]uint64, logger *zap.Logger) (Result, error) {
	h := &streamHeap{}
	for i := 0; i < pool.Partitions(); i++ {
		recs, err := wal.ReadPartition(pool.Partition(i))
		if err != nil {
			return Result{}, fmt.Errorf("recovery: read partition %d: %w", i, err)
		}
		if len(recs) > 0 {
			*h = append(*h, &walStream{records: recs})
		}
	}
	heap.Init(h)

	pending := make(map[uint64][]pendingOp)
	var result Result

	for h.Len() > 0 {
		s := (*h)[0]
		rec := s.records[s.pos]
		s.pos++
		if s.peek() == nil {
			heap.Remove(h, 0)
		} else {
			heap.Fix(h, 0)
		}

		if rec.WalID > result.MaxWalID {
			result.MaxWalID = rec.WalID
		}

		switch rec.Kind {
		case wal.DATA:
			if rec.TxnID == 0 {
				if err := applyCatalog(cat, rec); err != nil {
					logger.Warn("recovery: skipping bad catalog record", zap.Error(err))
				}
				result.RecordsApplied++
				continue
			}
			pending[rec.TxnID] = append(pending[rec.TxnID], pendingOp{rec: rec})

		case wal.PHYSICAL_INSERT, wal.PHYSICAL_DELETE, wal.PHYSICAL_UPDATE:
			if covered, ok := watermarks[rec.Database+"/"+rec.Collection]; ok && rec.WalID <= covered {
				continue // already part of the loaded checkpoint image
			}
			pending[rec.TxnID] = append(pending[rec.TxnID], pendingOp{rec: rec})

		case wal.COMMIT:
			ops := pending[rec.TxnID]
			delete(pending, rec.TxnID)
			commitID := ids.NextCommitID()
			if commitID > result.MaxCommitID {
				result.MaxCommitID = commitID
			}
			touched := make(map[*table.Table]bool)
			for _, op := range ops {
				tbl, err := applyPhysical(resolver, op.rec, rec.TxnID)
				if err != nil {
					logger.Warn("recovery: skipping bad physical record", zap.Error(err))
					continue
				}
				touched[tbl] = true
				result.RecordsApplied++
			}
			for tbl := range touched {
				tbl.Commit(rec.TxnID, commitID)
			}
		}
	}

	if len(pending) > 0 {
		logger.Info("recovery: discarding uncommitted transactions at end of log",
			zap.Int("count", len(pending)))
	}
	return result, nil
}

func applyCatalog(cat *catalog.Catalog, rec *wal.Record) error {
	var payload wal.DataPayload
	if err := msgpack.Unmarshal(rec.Payload, &payload); err != nil {
		return fmt.Errorf("decode catalog payload: %w", err)
	}
	switch payload.Op {
	case "create_database":
		return ignoreAlreadyExists(cat.CreateDatabase(payload.Args["database"]))
	case "drop_database":
		return cat.DropDatabase(payload.Args["database"])
	case "create_collection":
		// Schema recreation from catalog DML is handled by the dispatcher
		// at the call site that produced this record; recovery's job is
		// only to re-run the same mutation, so the schema travels in the
		// args as a msgpack blob.
		var schema types.Schema
		if raw, ok := payload.Args["schema"]; ok {
			if err := msgpack.Unmarshal([]byte(raw), &schema); err != nil {
				return err
			}
		}
		storage := catalog.MemoryResident
		if payload.Args["storage"] == "disk" {
			storage = catalog.DiskBacked
		}
		return ignoreAlreadyExists(cat.CreateCollection(payload.Args["database"], payload.Args["collection"], &schema, storage))
	case "drop_collection":
		return cat.DropCollection(payload.Args["database"], payload.Args["collection"])
	case "create_index":
		unique := payload.Args["unique"] == "true"
		return cat.CreateIndex(payload.Args["database"], payload.Args["collection"], payload.Args["index"], payload.Args["column"], unique)
	case "drop_index":
		return cat.DropIndex(payload.Args["database"], payload.Args["collection"], payload.Args["index"])
	default:
		return fmt.Errorf("unknown catalog op %q", payload.Op)
	}
}

func ignoreAlreadyExists(err error) error {
	if err == nil {
		return nil
	}
	switch kerrors.CodeOf(err) {
	case kerrors.DATABASE_ALREADY_EXISTS, kerrors.COLLECTION_ALREADY_EXISTS:
		return nil // idempotent replay: a second CREATE for the same name is not a recovery error
	}
	return err
}

func applyPhysical(resolver TableResolver, rec *wal.Record, txnID uint64) (*table.Table, error) {
	tbl := resolver.Resolve(rec.Database, rec.Collection)
	if tbl == nil {
		return nil, fmt.Errorf("unknown collection %s/%s", rec.Database, rec.Collection)
	}

	switch rec.Kind {
	case wal.PHYSICAL_INSERT:
		var p wal.PhysicalInsertPayload
		if err := msgpack.Unmarshal(rec.Payload, &p); err != nil {
			return nil, err
		}
		row, err := decodeRow(p.Values)
		if err != nil {
			return nil, err
		}
		if _, err := tbl.Append(row, txnID); err != nil {
			return nil, err
		}
	case wal.PHYSICAL_DELETE:
		var p wal.PhysicalDeletePayload
		if err := msgpack.Unmarshal(rec.Payload, &p); err != nil {
			return nil, err
		}
		if err := tbl.Delete(table.RowID(p.RowID), txnID); err != nil {
			return nil, err
		}
	case wal.PHYSICAL_UPDATE:
		var p wal.PhysicalUpdatePayload
		if err := msgpack.Unmarshal(rec.Payload, &p); err != nil {
			return nil, err
		}
		row, err := decodeRow(p.Values)
		if err != nil {
			return nil, err
		}
		if _, err := tbl.Update([]table.RowID{table.RowID(p.OldRowID)}, [][]types.LogicalValue{row}, txnID); err != nil {
			return nil, err
		}
	}
	return tbl, nil
}

func decodeRow(values [][]byte) ([]types.LogicalValue, error) {
	row := make([]types.LogicalValue, len(values))
	for i, encoded := range values {
		if err := msgpack.Unmarshal(encoded, &row[i]); err != nil {
			return nil, fmt.Errorf("decode column %d: %w", i, err)
		}
	}
	return row, nil
}
