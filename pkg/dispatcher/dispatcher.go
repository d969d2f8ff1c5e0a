// Package dispatcher implements the execution dispatcher: an actor that
// receives a logical plan node and drives it through WAL, table store,
// and index engine, enforcing durable-then-apply and
// checkpoint-then-truncate ordering.
package dispatcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/otterbrix/kernel/pkg/actor"
	"github.com/otterbrix/kernel/pkg/catalog"
	"github.com/otterbrix/kernel/pkg/checkpoint"
	kerrors "github.com/otterbrix/kernel/pkg/errors"
	"github.com/otterbrix/kernel/pkg/index"
	"github.com/otterbrix/kernel/pkg/table"
	"github.com/otterbrix/kernel/pkg/txn"
	"github.com/otterbrix/kernel/pkg/types"
	"github.com/otterbrix/kernel/pkg/udf"
	"github.com/otterbrix/kernel/pkg/wal"
)

// Dispatcher is the single actor every logical-plan operation is routed
// through. Operations on distinct collections may still run concurrently
// inside a turn (the table store's own per-table lock is the real
// concurrency boundary, per collection rather than global) but every turn
// is admitted through this one mailbox.
type Dispatcher struct {
	cat     *catalog.Catalog
	wal     *wal.Pool
	ids     *txn.IDSpace
	txns    *txn.Registry
	udfs    *udf.Registry
	logger  *zap.Logger
	metrics *Metrics
	act     *actor.Actor
	dataDir string

	mu     sync.RWMutex
	tables map[string]*table.Table

	ckptMu    sync.Mutex
	ckptWalID map[string]uint64 // disk-backed collection -> max_wal_id_included of its latest image

	walHealthy int32 // 1 = healthy; CAS'd to 0 on the first unrecoverable WAL error
}

// New builds a dispatcher. dataDir roots the on-disk layout
// (<dataDir>/<database>/<collection>/table.otbx for disk-backed
// collections); it is unused for memory-resident ones.
func New(cat *catalog.Catalog, walPool *wal.Pool, ids *txn.IDSpace, txns *txn.Registry, udfs *udf.Registry, pool *actor.Pool, logger *zap.Logger, metrics *Metrics, dataDir string) *Dispatcher {
	return &Dispatcher{
		cat:        cat,
		wal:        walPool,
		ids:        ids,
		txns:       txns,
		udfs:       udfs,
		logger:     logger,
		metrics:    metrics,
		act:        pool.NewActor(256),
		dataDir:    dataDir,
		tables:     make(map[string]*table.Table),
		ckptWalID:  make(map[string]uint64),
		walHealthy: 1,
	}
}

func tableKey(database, collection string) string { return database + "/" + collection }

// Execute admits node onto the dispatcher's single actor turn and returns
// its cursor (nil for DDL/DML operations that produce no rows) or an
// error carrying a kernel error code.
func (d *Dispatcher) Execute(ctx context.Context, node Node) (*Cursor, error) {
	start := time.Now()
	kind := kindName(node)
	var cur *Cursor
	var err error
	d.act.Ask(ctx, func(ctx context.Context) {
		cur, err = d.dispatch(ctx, node)
	})
	if d.metrics != nil {
		d.metrics.observeOp(kind, time.Since(start).Seconds(), err)
	}
	return cur, err
}

func kindName(node Node) string {
	switch node.(type) {
	case CreateDatabase:
		return "create_database"
	case DropDatabase:
		return "drop_database"
	case CreateCollection:
		return "create_collection"
	case DropCollection:
		return "drop_collection"
	case CreateIndex:
		return "create_index"
	case DropIndex:
		return "drop_index"
	case Insert:
		return "insert"
	case Delete:
		return "delete"
	case Update:
		return "update"
	case Select:
		return "select"
	case Aggregate:
		return "aggregate"
	case Join:
		return "join"
	case Checkpoint:
		return "checkpoint"
	case Vacuum:
		return "vacuum"
	default:
		return "unknown"
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, node Node) (*Cursor, error) {
	switch n := node.(type) {
	case CreateDatabase:
		return nil, d.handleCreateDatabase(n)
	case DropDatabase:
		return nil, d.handleDropDatabase(n)
	case CreateCollection:
		return nil, d.handleCreateCollection(n)
	case DropCollection:
		return nil, d.handleDropCollection(n)
	case CreateIndex:
		return nil, d.handleCreateIndex(n)
	case DropIndex:
		return nil, d.handleDropIndex(n)
	case Insert:
		return d.handleInsert(n)
	case Delete:
		return d.handleDelete(n)
	case Update:
		return d.handleUpdate(n)
	case Select:
		return d.handleSelect(n)
	case Aggregate:
		return d.handleAggregate(n)
	case Join:
		return d.handleJoin(n)
	case Checkpoint:
		return nil, d.handleCheckpoint(n)
	case Vacuum:
		return nil, d.handleVacuum(n)
	default:
		return nil, kerrors.New(kerrors.OTHER_ERROR, fmt.Sprintf("unknown plan node %T", node))
	}
}

// appendWAL writes rec and, on an I/O error the partition cannot recover
// from, flips the dispatcher into a poisoned state: the WAL partition is
// flagged unhealthy and further mutating operations are refused until
// restart. The failure is reported to Sentry once.
func (d *Dispatcher) appendWAL(rec *wal.Record) (uint64, error) {
	if atomic.LoadInt32(&d.walHealthy) == 0 {
		return 0, kerrors.New(kerrors.OTHER_ERROR, "wal partition unhealthy, refusing mutating operation")
	}
	start := time.Now()
	walID, err := d.wal.Append(rec)
	if d.metrics != nil {
		d.metrics.walAppendLatency.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if atomic.CompareAndSwapInt32(&d.walHealthy, 1, 0) {
			d.logger.Error("wal append failed, marking partition unhealthy", zap.Error(err))
			sentry.CaptureException(fmt.Errorf("wal partition unhealthy: %w", err))
		}
		return 0, kerrors.Wrap(kerrors.OTHER_ERROR, err, "wal append failed")
	}
	return walID, nil
}

// getTable resolves (database, collection) against the catalog and the
// live table map, lazily creating the table's in-memory storage if the
// catalog already knows the collection but no Table has been built yet
// (the state recovery and a fresh-process restart from a checkpoint both
// produce).
func (d *Dispatcher) getTable(database, collection string) (*table.Table, *catalog.CollectionMeta, error) {
	meta, err := d.cat.Collection(database, collection)
	if err != nil {
		return nil, nil, err
	}
	key := tableKey(database, collection)
	d.mu.RLock()
	tbl, ok := d.tables[key]
	d.mu.RUnlock()
	if ok {
		return tbl, meta, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if tbl, ok = d.tables[key]; ok {
		return tbl, meta, nil
	}
	tbl = table.New(collection, meta.Schema)
	d.tables[key] = tbl
	return tbl, meta, nil
}

// PreloadTable seeds the dispatcher's table map with tbl ahead of WAL
// replay, the hook the checkpoint-then-WAL-tail recovery order needs: a
// disk-backed collection's Table starts from its checkpoint image instead
// of empty, and replay's lazy getTable then finds it already present and
// applies only the WAL records written after that checkpoint's
// max_wal_id_included.
func (d *Dispatcher) PreloadTable(database, collection string, tbl *table.Table) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tables[tableKey(database, collection)] = tbl
}

// Resolve implements pkg/recovery.TableResolver: replay never creates
// collections out of thin air (a create_collection DATA record always
// precedes any DML against it, by wal_id order), so by the time a
// PHYSICAL_* record for (database, collection) is replayed the catalog
// entry already exists and getTable's lazy path is enough.
func (d *Dispatcher) Resolve(database, collection string) *table.Table {
	tbl, _, err := d.getTable(database, collection)
	if err != nil {
		d.logger.Warn("recovery: physical record against unknown collection",
			zap.String("database", database), zap.String("collection", collection), zap.Error(err))
		return nil
	}
	return tbl
}

func (d *Dispatcher) collectionDir(database, collection string) string {
	return filepath.Join(d.dataDir, database, collection)
}

func (d *Dispatcher) handleCreateDatabase(n CreateDatabase) error {
	rec := wal.AcquireRecord()
	defer wal.ReleaseRecord(rec)
	payload, err := msgpack.Marshal(wal.DataPayload{Op: "create_database", Args: map[string]string{"database": n.Database}})
	if err != nil {
		return kerrors.Wrap(kerrors.OTHER_ERROR, err, "encode create_database payload")
	}
	rec.Kind = wal.DATA
	rec.Database = n.Database
	rec.Payload = payload
	if _, err := d.appendWAL(rec); err != nil {
		return err
	}
	return d.cat.CreateDatabase(n.Database)
}

func (d *Dispatcher) handleDropDatabase(n DropDatabase) error {
	rec := wal.AcquireRecord()
	defer wal.ReleaseRecord(rec)
	payload, err := msgpack.Marshal(wal.DataPayload{Op: "drop_database", Args: map[string]string{"database": n.Database}})
	if err != nil {
		return kerrors.Wrap(kerrors.OTHER_ERROR, err, "encode drop_database payload")
	}
	rec.Kind = wal.DATA
	rec.Database = n.Database
	rec.Payload = payload
	if _, err := d.appendWAL(rec); err != nil {
		return err
	}
	if err := d.cat.DropDatabase(n.Database); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	prefix := n.Database + "/"
	for key := range d.tables {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(d.tables, key)
		}
	}
	return nil
}

func (d *Dispatcher) handleCreateCollection(n CreateCollection) error {
	storage := catalog.MemoryResident
	if n.Disk {
		storage = catalog.DiskBacked
	}
	schemaBytes, err := msgpack.Marshal(n.Schema)
	if err != nil {
		return kerrors.Wrap(kerrors.OTHER_ERROR, err, "encode schema")
	}
	args := map[string]string{"database": n.Database, "collection": n.Name, "schema": string(schemaBytes)}
	if n.Disk {
		args["storage"] = "disk"
	}
	payload, err := msgpack.Marshal(wal.DataPayload{Op: "create_collection", Args: args})
	if err != nil {
		return kerrors.Wrap(kerrors.OTHER_ERROR, err, "encode create_collection payload")
	}
	rec := wal.AcquireRecord()
	defer wal.ReleaseRecord(rec)
	rec.Kind = wal.DATA
	rec.Database = n.Database
	rec.Collection = n.Name
	rec.Payload = payload
	if _, err := d.appendWAL(rec); err != nil {
		return err
	}
	if err := d.cat.CreateCollection(n.Database, n.Name, n.Schema, storage); err != nil {
		return err
	}
	if n.Defaults != nil {
		if meta, err := d.cat.Collection(n.Database, n.Name); err == nil {
			meta.Defaults = n.Defaults
		}
	}
	d.mu.Lock()
	d.tables[tableKey(n.Database, n.Name)] = table.New(n.Name, n.Schema)
	d.mu.Unlock()
	return nil
}

func (d *Dispatcher) handleDropCollection(n DropCollection) error {
	payload, err := msgpack.Marshal(wal.DataPayload{Op: "drop_collection", Args: map[string]string{"database": n.Database, "collection": n.Name}})
	if err != nil {
		return kerrors.Wrap(kerrors.OTHER_ERROR, err, "encode drop_collection payload")
	}
	rec := wal.AcquireRecord()
	defer wal.ReleaseRecord(rec)
	rec.Kind = wal.DATA
	rec.Database = n.Database
	rec.Collection = n.Name
	rec.Payload = payload
	if _, err := d.appendWAL(rec); err != nil {
		return err
	}
	if err := d.cat.DropCollection(n.Database, n.Name); err != nil {
		return err
	}
	d.mu.Lock()
	delete(d.tables, tableKey(n.Database, n.Name))
	d.mu.Unlock()
	return nil
}

func (d *Dispatcher) handleCreateIndex(n CreateIndex) error {
	meta, err := d.cat.Collection(n.Database, n.Collection)
	if err != nil {
		return err
	}
	if meta.Schema.IndexOf(n.Column) < 0 {
		return kerrors.New(kerrors.INDEX_CREATE_FAIL, "unknown column "+n.Column)
	}
	uniqueStr := "false"
	if n.Unique {
		uniqueStr = "true"
	}
	payload, err := msgpack.Marshal(wal.DataPayload{Op: "create_index", Args: map[string]string{
		"database": n.Database, "collection": n.Collection, "index": n.Name, "column": n.Column, "unique": uniqueStr,
	}})
	if err != nil {
		return kerrors.Wrap(kerrors.OTHER_ERROR, err, "encode create_index payload")
	}
	rec := wal.AcquireRecord()
	defer wal.ReleaseRecord(rec)
	rec.Kind = wal.DATA
	rec.Database = n.Database
	rec.Collection = n.Collection
	rec.Payload = payload
	if _, err := d.appendWAL(rec); err != nil {
		return err
	}
	if err := d.cat.CreateIndex(n.Database, n.Collection, n.Name, n.Column, n.Unique); err != nil {
		return err
	}
	tbl, _, err := d.getTable(n.Database, n.Collection)
	if err != nil {
		return err
	}
	tbl.CreateIndex(n.Name, n.Column, n.Unique)
	return nil
}

func (d *Dispatcher) handleDropIndex(n DropIndex) error {
	payload, err := msgpack.Marshal(wal.DataPayload{Op: "drop_index", Args: map[string]string{
		"database": n.Database, "collection": n.Collection, "index": n.Name,
	}})
	if err != nil {
		return kerrors.Wrap(kerrors.OTHER_ERROR, err, "encode drop_index payload")
	}
	rec := wal.AcquireRecord()
	defer wal.ReleaseRecord(rec)
	rec.Kind = wal.DATA
	rec.Database = n.Database
	rec.Collection = n.Collection
	rec.Payload = payload
	if _, err := d.appendWAL(rec); err != nil {
		return err
	}
	if err := d.cat.DropIndex(n.Database, n.Collection, n.Name); err != nil {
		return err
	}
	tbl, _, err := d.getTable(n.Database, n.Collection)
	if err != nil {
		return err
	}
	tbl.DropIndex(n.Name)
	return nil
}

func encodeValues(values []types.LogicalValue) ([][]byte, error) {
	out := make([][]byte, len(values))
	for i, v := range values {
		b, err := msgpack.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode column %d: %w", i, err)
		}
		out[i] = b
	}
	return out, nil
}

func (d *Dispatcher) beginTxn() *txn.Transaction {
	tx := d.txns.Begin(d.ids.CommitWatermark())
	if d.metrics != nil {
		d.metrics.setActiveTxns(d.txns.ActiveCount())
	}
	return tx
}

func (d *Dispatcher) finishTxn(tx *txn.Transaction) {
	d.txns.Finish(tx)
	if d.metrics != nil {
		d.metrics.setActiveTxns(d.txns.ActiveCount())
	}
}

// commitTxn writes the COMMIT marker (strictly after every DATA and
// PHYSICAL_* record of tx) and promotes tx's writes in tbl to the minted
// commit id.
func (d *Dispatcher) commitTxn(tbl *table.Table, tx *txn.Transaction) (uint64, error) {
	commitID := d.ids.NextCommitID()
	payload, err := msgpack.Marshal(wal.CommitPayload{CommitID: commitID})
	if err != nil {
		d.finishTxn(tx)
		return 0, kerrors.Wrap(kerrors.OTHER_ERROR, err, "encode commit payload")
	}
	rec := wal.AcquireRecord()
	defer wal.ReleaseRecord(rec)
	rec.Kind = wal.COMMIT
	rec.TxnID = tx.TxnID
	rec.CommitID = commitID
	rec.Payload = payload
	if _, err := d.appendWAL(rec); err != nil {
		d.abortTxn(tbl, tx)
		return 0, err
	}
	tbl.Commit(tx.TxnID, commitID)
	d.finishTxn(tx)
	return commitID, nil
}

func (d *Dispatcher) abortTxn(tbl *table.Table, tx *txn.Transaction) {
	tbl.Abort(tx.TxnID)
	d.finishTxn(tx)
}

func (d *Dispatcher) handleInsert(n Insert) (*Cursor, error) {
	tbl, _, err := d.getTable(n.Database, n.Collection)
	if err != nil {
		return nil, err
	}
	tx := d.beginTxn()
	rows := make([]Row, 0, len(n.Rows))
	for _, values := range n.Rows {
		encoded, err := encodeValues(values)
		if err != nil {
			d.abortTxn(tbl, tx)
			return nil, kerrors.Wrap(kerrors.OTHER_ERROR, err, "encode insert row")
		}
		payload, err := msgpack.Marshal(wal.PhysicalInsertPayload{Values: encoded})
		if err != nil {
			d.abortTxn(tbl, tx)
			return nil, kerrors.Wrap(kerrors.OTHER_ERROR, err, "encode insert payload")
		}
		rec := wal.AcquireRecord()
		rec.Kind = wal.PHYSICAL_INSERT
		rec.TxnID = tx.TxnID
		rec.Database = n.Database
		rec.Collection = n.Collection
		rec.Payload = payload
		if _, err := d.appendWAL(rec); err != nil {
			wal.ReleaseRecord(rec)
			d.abortTxn(tbl, tx)
			return nil, err
		}
		wal.ReleaseRecord(rec)
		rid, err := tbl.Append(values, tx.TxnID)
		if err != nil {
			d.abortTxn(tbl, tx)
			return nil, err
		}
		rows = append(rows, Row{RowID: rid, Values: values})
	}
	if _, err := d.commitTxn(tbl, tx); err != nil {
		return nil, err
	}
	return newCursor(tx, rows, nil), nil
}

func (d *Dispatcher) handleDelete(n Delete) (*Cursor, error) {
	tbl, meta, err := d.getTable(n.Database, n.Collection)
	if err != nil {
		return nil, err
	}
	tx := d.beginTxn()
	matched := d.scanMatching(tbl, meta, tx, n.Predicate)
	if n.Limit > 0 && len(matched) > n.Limit {
		matched = matched[:n.Limit]
	}
	for _, r := range matched {
		payload, err := msgpack.Marshal(wal.PhysicalDeletePayload{RowID: uint64(r.RowID)})
		if err != nil {
			d.abortTxn(tbl, tx)
			return nil, kerrors.Wrap(kerrors.OTHER_ERROR, err, "encode delete payload")
		}
		rec := wal.AcquireRecord()
		rec.Kind = wal.PHYSICAL_DELETE
		rec.TxnID = tx.TxnID
		rec.Database = n.Database
		rec.Collection = n.Collection
		rec.Payload = payload
		if _, err := d.appendWAL(rec); err != nil {
			wal.ReleaseRecord(rec)
			d.abortTxn(tbl, tx)
			return nil, err
		}
		wal.ReleaseRecord(rec)
		if err := tbl.Delete(r.RowID, tx.TxnID); err != nil {
			d.abortTxn(tbl, tx)
			return nil, err
		}
	}
	if _, err := d.commitTxn(tbl, tx); err != nil {
		return nil, err
	}
	return newCursor(tx, matched, nil), nil
}

func (d *Dispatcher) handleUpdate(n Update) (*Cursor, error) {
	tbl, meta, err := d.getTable(n.Database, n.Collection)
	if err != nil {
		return nil, err
	}
	tx := d.beginTxn()
	matched := d.scanMatching(tbl, meta, tx, n.Predicate)
	if n.Limit > 0 && len(matched) > n.Limit {
		matched = matched[:n.Limit]
	}
	result := make([]Row, 0, len(matched))
	for _, r := range matched {
		newValues := make([]types.LogicalValue, len(r.Values))
		copy(newValues, r.Values)
		for col, v := range n.Set {
			if idx := meta.Schema.IndexOf(col); idx >= 0 {
				newValues[idx] = v
			}
		}
		encoded, err := encodeValues(newValues)
		if err != nil {
			d.abortTxn(tbl, tx)
			return nil, kerrors.Wrap(kerrors.OTHER_ERROR, err, "encode update row")
		}
		// NewRowID travels as 0: recovery recomputes it deterministically
		// from the same delete+append sequence rather than trusting a
		// value minted before the in-memory apply that produces it.
		payload, err := msgpack.Marshal(wal.PhysicalUpdatePayload{OldRowID: uint64(r.RowID), Values: encoded})
		if err != nil {
			d.abortTxn(tbl, tx)
			return nil, kerrors.Wrap(kerrors.OTHER_ERROR, err, "encode update payload")
		}
		rec := wal.AcquireRecord()
		rec.Kind = wal.PHYSICAL_UPDATE
		rec.TxnID = tx.TxnID
		rec.Database = n.Database
		rec.Collection = n.Collection
		rec.Payload = payload
		if _, err := d.appendWAL(rec); err != nil {
			wal.ReleaseRecord(rec)
			d.abortTxn(tbl, tx)
			return nil, err
		}
		wal.ReleaseRecord(rec)
		newRids, err := tbl.Update([]table.RowID{r.RowID}, [][]types.LogicalValue{newValues}, tx.TxnID)
		if err != nil {
			d.abortTxn(tbl, tx)
			return nil, err
		}
		result = append(result, Row{RowID: newRids[0], Values: newValues})
	}
	if _, err := d.commitTxn(tbl, tx); err != nil {
		return nil, err
	}
	return newCursor(tx, result, nil), nil
}

func (d *Dispatcher) handleSelect(n Select) (*Cursor, error) {
	tbl, meta, err := d.getTable(n.Database, n.Collection)
	if err != nil {
		return nil, err
	}
	tx := d.beginTxn()
	rows := d.scanMatching(tbl, meta, tx, n.Predicate)
	rows = applyOrderAndLimit(rows, &n, meta.Schema)
	return newCursor(tx, rows, func() { d.finishTxn(tx) }), nil
}

// RecordCheckpointWatermark notes that a durable image of (database,
// collection) covering everything up to walID exists on disk. Startup
// seeds this from the loaded checkpoint footers; handleCheckpoint from
// the images it writes. Truncation safety derives from these marks.
func (d *Dispatcher) RecordCheckpointWatermark(database, collection string, walID uint64) {
	d.ckptMu.Lock()
	defer d.ckptMu.Unlock()
	d.ckptWalID[tableKey(database, collection)] = walID
}

// handleCheckpoint writes a fresh durable image for every disk-backed
// collection in scope, then truncates the WAL once for the whole batch.
// The truncation watermark is the minimum max_wal_id_included over ALL
// disk-backed collections in the catalog, not just the batch: a
// collection with no image yet pins the watermark at zero, so a scoped
// CHECKPOINT can never drop WAL records another collection still needs,
// and a crash between two collections' writes leaves every record the
// unwritten one depends on in place.
func (d *Dispatcher) handleCheckpoint(n Checkpoint) error {
	collections, err := d.collectionsFor(n.Database, n.Collection)
	if err != nil {
		return err
	}
	touched := false
	for _, meta := range collections {
		if meta.Storage != catalog.DiskBacked {
			continue
		}
		tbl, _, err := d.getTable(meta.Database, meta.Name)
		if err != nil {
			return err
		}
		start := time.Now()
		maxWalID := d.wal.LastWalID()
		dir := d.collectionDir(meta.Database, meta.Name)
		if err := checkpoint.Write(dir, tbl, maxWalID); err != nil {
			return kerrors.Wrap(kerrors.OTHER_ERROR, err, "checkpoint write")
		}
		for name := range meta.Indexes {
			ix, err := tbl.GetIndex(name)
			if err != nil {
				continue
			}
			if err := checkpoint.WriteIndex(dir, name, ix); err != nil {
				d.logger.Warn("checkpoint: index mirror write failed",
					zap.String("index", name), zap.Error(err))
			}
		}
		d.RecordCheckpointWatermark(meta.Database, meta.Name, maxWalID)
		touched = true
		if d.metrics != nil {
			d.metrics.checkpointDuration.Observe(time.Since(start).Seconds())
		}
	}
	if !touched {
		return nil
	}

	safe, ok := d.truncationWatermark()
	if !ok {
		return nil
	}
	if err := d.wal.TruncateBefore(safe); err != nil {
		d.logger.Warn("checkpoint: wal truncation failed", zap.Error(err))
	}
	return nil
}

// truncationWatermark returns min(max_wal_id_included) over every
// disk-backed collection in the catalog, or false when any of them has
// no durable image yet (its WAL records must all be kept).
func (d *Dispatcher) truncationWatermark() (uint64, bool) {
	d.ckptMu.Lock()
	defer d.ckptMu.Unlock()

	var safe uint64
	first := true
	for _, database := range d.cat.DatabaseNames() {
		metas, err := d.cat.Collections(database)
		if err != nil {
			continue
		}
		for _, meta := range metas {
			if meta.Storage != catalog.DiskBacked {
				continue
			}
			walID, ok := d.ckptWalID[tableKey(meta.Database, meta.Name)]
			if !ok {
				return 0, false
			}
			if first || walID < safe {
				safe = walID
				first = false
			}
		}
	}
	if first {
		return 0, false
	}
	return safe, true
}

func (d *Dispatcher) handleVacuum(n Vacuum) error {
	collections, err := d.collectionsFor(n.Database, n.Collection)
	if err != nil {
		return err
	}
	watermark := d.txns.LowestActiveStartTS()
	for _, meta := range collections {
		tbl, _, err := d.getTable(meta.Database, meta.Name)
		if err != nil {
			return err
		}
		tbl.Vacuum(watermark)
	}
	return nil
}

// collectionsFor expands a (database, collection) target: both empty
// means every collection of every database, collection empty means every
// collection of that database.
func (d *Dispatcher) collectionsFor(database, collection string) ([]*catalog.CollectionMeta, error) {
	if collection != "" {
		meta, err := d.cat.Collection(database, collection)
		if err != nil {
			return nil, err
		}
		return []*catalog.CollectionMeta{meta}, nil
	}
	if database != "" {
		return d.cat.Collections(database)
	}
	var out []*catalog.CollectionMeta
	for _, db := range d.cat.DatabaseNames() {
		metas, err := d.cat.Collections(db)
		if err != nil {
			continue
		}
		out = append(out, metas...)
	}
	return out, nil
}

func toScanOperator(op Operator) index.ScanOperator {
	switch op {
	case OpEqual:
		return index.OpEqual
	case OpNotEqual:
		return index.OpNotEqual
	case OpLessThan:
		return index.OpLessThan
	case OpLessOrEqual:
		return index.OpLessOrEqual
	case OpGreaterThan:
		return index.OpGreaterThan
	case OpGreaterOrEqual:
		return index.OpGreaterOrEqual
	default:
		return index.OpEqual
	}
}

func matchesPredicate(op Operator, actual, want types.LogicalValue) bool {
	c := actual.Compare(want)
	switch op {
	case OpEqual:
		return c == 0
	case OpNotEqual:
		return c != 0
	case OpLessThan:
		return c < 0
	case OpLessOrEqual:
		return c <= 0
	case OpGreaterThan:
		return c > 0
	case OpGreaterOrEqual:
		return c >= 0
	default:
		return false
	}
}

// scanMatching evaluates pred against tbl as visible to tx, preferring an
// index registered on the predicate's column and falling back to a
// row-group-pruned full scan.
func (d *Dispatcher) scanMatching(tbl *table.Table, meta *catalog.CollectionMeta, tx *txn.Transaction, pred *Predicate) []Row {
	if pred == nil {
		var rows []Row
		tbl.Scan(tx, func(rid table.RowID, row []types.LogicalValue) bool {
			rows = append(rows, Row{RowID: rid, Values: row})
			return true
		})
		return rows
	}

	if ix, ok := d.indexFor(tbl, pred); ok {
		ids := ix.Search(toScanOperator(pred.Op), pred.Value, tx)
		rows := make([]Row, 0, len(ids))
		for _, id := range ids {
			rid := table.RowID(id)
			if values, ok := tbl.PointLookup(rid, tx); ok {
				rows = append(rows, Row{RowID: rid, Values: values})
			}
		}
		return rows
	}

	colIdx := meta.Schema.IndexOf(pred.Column)
	var eqValue *types.LogicalValue
	pruneCol := -1
	if pred.Op == OpEqual && colIdx >= 0 {
		v := pred.Value
		eqValue = &v
		pruneCol = colIdx
	}
	var rows []Row
	tbl.ScanPruned(tx, pruneCol, eqValue, func(rid table.RowID, row []types.LogicalValue) bool {
		if colIdx >= 0 && !matchesPredicate(pred.Op, row[colIdx], pred.Value) {
			return true
		}
		rows = append(rows, Row{RowID: rid, Values: row})
		return true
	})
	return rows
}

// indexFor resolves the predicate to an index on the live table's
// registry: an equality predicate picks the covering index with the
// smallest estimated output cardinality, any other operator takes the
// first index registered on the column.
func (d *Dispatcher) indexFor(tbl *table.Table, pred *Predicate) (*index.Index, bool) {
	if pred.Op == OpEqual {
		return tbl.Indices.BestForEquality(pred.Column, pred.Value)
	}
	candidates := tbl.Indices.ForColumn(pred.Column)
	if len(candidates) == 0 {
		return nil, false
	}
	return candidates[0], true
}
