// Package catalog holds the kernel's database/collection/index metadata.
// Catalog and table storage are independent collaborators the dispatcher
// coordinates rather than one engine owning both.
package catalog

import (
	"sync"

	kerrors "github.com/otterbrix/kernel/pkg/errors"
	"github.com/otterbrix/kernel/pkg/types"
)

// StorageKind distinguishes a memory-resident collection (WAL-only
// durability) from a disk-backed one (WAL + checkpoint file).
type StorageKind int

const (
	MemoryResident StorageKind = iota
	DiskBacked
)

// IndexKind enumerates the supported index shapes. Only SINGLE_FIELD is
// implemented; the type exists so catalog metadata round-trips cleanly
// if more kinds are added later.
type IndexKind int

const (
	SingleField IndexKind = iota
)

// IndexMeta describes one index's catalog entry.
type IndexMeta struct {
	Name    string
	Column  string
	Unique  bool
	Kind    IndexKind
}

// CollectionMeta is the catalog's record of one collection: its schema,
// storage kind, and the indexes declared over it. Index membership here
// is catalog bookkeeping; the live index structures themselves belong to
// the table's indexengine.Registry.
type CollectionMeta struct {
	Database string
	Name     string
	Schema   *types.Schema
	Storage  StorageKind
	Indexes  map[string]*IndexMeta
	Defaults map[string]types.LogicalValue
}

// Catalog is the in-memory database -> collection -> metadata map, guarded
// by a single read-write lock; schema changes hold the write lock briefly.
type Catalog struct {
	mu   sync.RWMutex
	dbs  map[string]map[string]*CollectionMeta
}

func New() *Catalog {
	return &Catalog{dbs: make(map[string]map[string]*CollectionMeta)}
}

func (c *Catalog) CreateDatabase(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.dbs[name]; ok {
		return kerrors.New(kerrors.DATABASE_ALREADY_EXISTS, name)
	}
	c.dbs[name] = make(map[string]*CollectionMeta)
	return nil
}

func (c *Catalog) DropDatabase(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.dbs[name]; !ok {
		return kerrors.New(kerrors.DATABASE_NOT_EXISTS, name)
	}
	delete(c.dbs, name)
	return nil
}

// DatabaseNames returns every known database name, for callers (recovery
// bootstrapping, admin tooling) that need to walk the whole catalog.
func (c *Catalog) DatabaseNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.dbs))
	for name := range c.dbs {
		names = append(names, name)
	}
	return names
}

func (c *Catalog) HasDatabase(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.dbs[name]
	return ok
}

func (c *Catalog) CreateCollection(database, name string, schema *types.Schema, storage StorageKind) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	db, ok := c.dbs[database]
	if !ok {
		return kerrors.New(kerrors.DATABASE_NOT_EXISTS, database)
	}
	if _, ok := db[name]; ok {
		return kerrors.New(kerrors.COLLECTION_ALREADY_EXISTS, name)
	}
	db[name] = &CollectionMeta{
		Database: database,
		Name:     name,
		Schema:   schema,
		Storage:  storage,
		Indexes:  make(map[string]*IndexMeta),
		Defaults: make(map[string]types.LogicalValue),
	}
	return nil
}

func (c *Catalog) DropCollection(database, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	db, ok := c.dbs[database]
	if !ok {
		return kerrors.New(kerrors.DATABASE_NOT_EXISTS, database)
	}
	if _, ok := db[name]; !ok {
		return kerrors.New(kerrors.COLLECTION_NOT_EXISTS, name)
	}
	delete(db, name)
	return nil
}

func (c *Catalog) Collection(database, name string) (*CollectionMeta, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	db, ok := c.dbs[database]
	if !ok {
		return nil, kerrors.New(kerrors.DATABASE_NOT_EXISTS, database)
	}
	meta, ok := db[name]
	if !ok {
		return nil, kerrors.New(kerrors.COLLECTION_NOT_EXISTS, name)
	}
	return meta, nil
}

func (c *Catalog) Collections(database string) ([]*CollectionMeta, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	db, ok := c.dbs[database]
	if !ok {
		return nil, kerrors.New(kerrors.DATABASE_NOT_EXISTS, database)
	}
	out := make([]*CollectionMeta, 0, len(db))
	for _, m := range db {
		out = append(out, m)
	}
	return out, nil
}

// BindRow expands a partial-column INSERT (values given for cols, in
// that order) into a full schema-width row: a column omitted from cols or
// explicitly given NULL falls back to meta.Defaults, and a still-NULL
// non-nullable column rejects the row rather than silently storing NULL.
func (c *Catalog) BindRow(meta *CollectionMeta, cols []string, values []types.LogicalValue) ([]types.LogicalValue, error) {
	if len(cols) != len(values) {
		return nil, kerrors.New(kerrors.OTHER_ERROR, "column list and value list length mismatch")
	}
	row := make([]types.LogicalValue, len(meta.Schema.Columns))
	for i := range row {
		row[i] = types.Null()
	}
	for i, col := range cols {
		idx := meta.Schema.IndexOf(col)
		if idx < 0 {
			return nil, kerrors.New(kerrors.OTHER_ERROR, "unknown column "+col)
		}
		row[idx] = values[i]
	}
	for idx, def := range meta.Schema.Columns {
		if !row[idx].IsNull() {
			continue
		}
		if dv, ok := meta.Defaults[def.Name]; ok {
			row[idx] = dv
			continue
		}
		if !def.Nullable {
			return nil, kerrors.New(kerrors.OTHER_ERROR, "NOT NULL violation on column "+def.Name)
		}
	}
	return row, nil
}

func (c *Catalog) CreateIndex(database, collection, indexName, column string, unique bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	db, ok := c.dbs[database]
	if !ok {
		return kerrors.New(kerrors.DATABASE_NOT_EXISTS, database)
	}
	meta, ok := db[collection]
	if !ok {
		return kerrors.New(kerrors.COLLECTION_NOT_EXISTS, collection)
	}
	if _, ok := meta.Indexes[indexName]; ok {
		return kerrors.New(kerrors.INDEX_CREATE_FAIL, indexName+" already exists")
	}
	meta.Indexes[indexName] = &IndexMeta{Name: indexName, Column: column, Unique: unique, Kind: SingleField}
	return nil
}

func (c *Catalog) DropIndex(database, collection, indexName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	db, ok := c.dbs[database]
	if !ok {
		return kerrors.New(kerrors.DATABASE_NOT_EXISTS, database)
	}
	meta, ok := db[collection]
	if !ok {
		return kerrors.New(kerrors.COLLECTION_NOT_EXISTS, collection)
	}
	delete(meta.Indexes, indexName)
	return nil
}
