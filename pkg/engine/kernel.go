package engine

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/otterbrix/kernel/pkg/actor"
	"github.com/otterbrix/kernel/pkg/catalog"
	"github.com/otterbrix/kernel/pkg/checkpoint"
	"github.com/otterbrix/kernel/pkg/dispatcher"
	"github.com/otterbrix/kernel/pkg/recovery"
	"github.com/otterbrix/kernel/pkg/txn"
	"github.com/otterbrix/kernel/pkg/types"
	"github.com/otterbrix/kernel/pkg/udf"
	"github.com/otterbrix/kernel/pkg/wal"
)

// Kernel is the single embeddable entry point a caller constructs once
// per process: it owns the WAL pool, catalog, transaction/id bookkeeping,
// and the dispatcher every logical-plan node is routed through.
type Kernel struct {
	cfg     Config
	cat     *catalog.Catalog
	wal     *wal.Pool
	ids     *txn.IDSpace
	txns    *txn.Registry
	udfs    *udf.Registry
	actors  *actor.Pool
	Metrics *dispatcher.Metrics
	Logger  *zap.Logger
	Disp    *dispatcher.Dispatcher
}

// Open builds a Kernel rooted at cfg.DataDir: opens (or creates) the WAL
// partitions under <data_dir>/wal, loads every on-disk checkpoint found
// under <data_dir>/<database>/<collection>/table.otbx, then replays the
// WAL on top so each collection ends up at the state of its last
// checkpoint plus every mutation recorded after it.
func Open(cfg Config) (*Kernel, error) {
	logger, err := newLogger(cfg.LogDebug)
	if err != nil {
		return nil, err
	}
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN}); err != nil {
			logger.Warn("sentry init failed, continuing without crash reporting", zap.Error(err))
		}
	}

	walOpts := wal.DefaultOptions()
	walOpts.DirPath = filepath.Join(cfg.DataDir, "wal")
	if cfg.WALPartitions > 0 {
		walOpts.Partitions = cfg.WALPartitions
	}
	if cfg.WALMaxSegmentSize > 0 {
		walOpts.MaxSegmentSize = cfg.WALMaxSegmentSize
	}
	walOpts.SyncPolicy = parseSyncPolicy(cfg.WALSyncPolicy)

	pool, err := wal.Open(walOpts)
	if err != nil {
		return nil, err
	}

	cat := catalog.New()
	ids := txn.NewIDSpace()
	txns := txn.NewRegistry(ids)
	udfs := udf.New()

	poolSize := cfg.ActorPoolSize
	if poolSize <= 0 {
		poolSize = 1
	}
	actorPool, err := actor.NewPool(poolSize)
	if err != nil {
		pool.Close()
		return nil, err
	}

	metrics := dispatcher.NewMetrics(prometheusRegistry())
	disp := dispatcher.New(cat, pool, ids, txns, udfs, actorPool, logger, metrics, cfg.DataDir)

	watermarks, err := preloadCheckpoints(logger, cfg.DataDir, cat, disp, ids)
	if err != nil {
		logger.Warn("checkpoint preload failed, continuing from WAL alone", zap.Error(err))
	}

	result, err := recovery.Replay(pool, cat, disp, ids, watermarks, logger)
	if err != nil {
		actorPool.Release()
		pool.Close()
		return nil, err
	}
	pool.ObserveWalID(result.MaxWalID)
	ids.ObserveCommitID(result.MaxCommitID)
	logger.Info("recovery complete",
		zap.Int("records_applied", result.RecordsApplied),
		zap.Uint64("max_wal_id", result.MaxWalID),
		zap.Uint64("max_commit_id", result.MaxCommitID))

	rebuildIndexes(cat, disp)

	return &Kernel{
		cfg:     cfg,
		cat:     cat,
		wal:     pool,
		ids:     ids,
		txns:    txns,
		udfs:    udfs,
		actors:  actorPool,
		Metrics: metrics,
		Logger:  logger,
		Disp:    disp,
	}, nil
}

// Execute runs node through the dispatcher, the single logical-plan
// entrypoint.
func (k *Kernel) Execute(ctx context.Context, node dispatcher.Node) (*dispatcher.Cursor, error) {
	return k.Disp.Execute(ctx, node)
}

// Collection returns the catalog's metadata for (database, name), so a
// front end (the CLI's bind step, a future SQL planner) can resolve a
// schema and its defaults before building an Insert plan node.
func (k *Kernel) Collection(database, name string) (*catalog.CollectionMeta, error) {
	return k.cat.Collection(database, name)
}

// BindRow expands a partial-column insert into a full schema-width row,
// delegating to the catalog's NOT NULL/DEFAULT binding step.
func (k *Kernel) BindRow(meta *catalog.CollectionMeta, cols []string, values []types.LogicalValue) ([]types.LogicalValue, error) {
	return k.cat.BindRow(meta, cols, values)
}

// UDFs exposes the function registry so a caller building its own
// expression evaluator on top of this kernel can register or look up
// kernels without reaching into the dispatcher.
func (k *Kernel) UDFs() *udf.Registry { return k.udfs }

// Close flushes and closes the WAL pool, releases the actor pool, and
// flushes any pending Sentry events.
func (k *Kernel) Close() error {
	k.actors.Release()
	err := k.wal.Close()
	if k.cfg.SentryDSN != "" {
		sentry.Flush(2 * time.Second)
	}
	return err
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func parseSyncPolicy(name string) wal.SyncPolicy {
	switch name {
	case "every_write":
		return wal.SyncEveryWrite
	case "batch":
		return wal.SyncBatch
	default:
		return wal.SyncInterval
	}
}

// preloadCheckpoints walks <dataDir>/<database>/<collection>/table.otbx
// files. Catalog metadata is not durable independent of the WAL, so the
// checkpoint's own embedded schema is the only source of truth available
// before replay runs; it re-registers the collection as disk-backed ahead
// of recovery.Replay reconstructing everything else. Returns each loaded
// collection's max_wal_id_included so replay can skip the records the
// checkpoint image already covers.
func preloadCheckpoints(logger *zap.Logger, dataDir string, cat *catalog.Catalog, disp *dispatcher.Dispatcher, ids *txn.IDSpace) (map[string]uint64, error) {
	watermarks := make(map[string]uint64)
	databases, err := os.ReadDir(dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return watermarks, nil
		}
		return watermarks, err
	}
	for _, dbEntry := range databases {
		if !dbEntry.IsDir() || dbEntry.Name() == "wal" {
			continue
		}
		database := dbEntry.Name()
		collections, err := os.ReadDir(filepath.Join(dataDir, database))
		if err != nil {
			continue
		}
		for _, collEntry := range collections {
			if !collEntry.IsDir() {
				continue
			}
			collection := collEntry.Name()
			dir := filepath.Join(dataDir, database, collection)
			tbl, maxWalID, ok := checkpoint.Load(logger, dir)
			if !ok {
				continue
			}
			_ = cat.CreateDatabase(database) // idempotent: already exists from an earlier collection
			if err := cat.CreateCollection(database, collection, tbl.Schema, catalog.DiskBacked); err != nil {
				logger.Warn("checkpoint preload: catalog registration failed",
					zap.String("database", database), zap.String("collection", collection), zap.Error(err))
				continue
			}
			disp.PreloadTable(database, collection, tbl)
			disp.RecordCheckpointWatermark(database, collection, maxWalID)
			watermarks[database+"/"+collection] = maxWalID

			// Commit ids embedded in the image must never be reissued to
			// new transactions after this restart.
			for _, rg := range tbl.RowGroups {
				n := rg.NumRows()
				for slot := 0; slot < n; slot++ {
					insertID, deleteID := rg.Versions(slot)
					if insertID < txn.TxnBase {
						ids.ObserveCommitID(insertID)
					}
					if deleteID != 0 && deleteID < txn.TxnBase {
						ids.ObserveCommitID(deleteID)
					}
				}
			}
		}
	}
	return watermarks, nil
}

// rebuildIndexes re-derives every index's in-memory B+Tree structure from
// catalog metadata after replay: recovery.Replay only reapplies the
// catalog-level CREATE INDEX record (name/column/unique bookkeeping), not
// the table-level backfill, so any index not already present on its
// table is built here exactly as table.CreateIndex would at first
// creation.
func rebuildIndexes(cat *catalog.Catalog, disp *dispatcher.Dispatcher) {
	databases := cat.DatabaseNames()
	for _, database := range databases {
		collections, err := cat.Collections(database)
		if err != nil {
			continue
		}
		for _, meta := range collections {
			tbl := disp.Resolve(database, meta.Name)
			if tbl == nil {
				continue
			}
			for _, im := range meta.Indexes {
				if _, err := tbl.GetIndex(im.Name); err == nil {
					continue
				}
				tbl.CreateIndex(im.Name, im.Column, im.Unique)
			}
		}
	}
}
