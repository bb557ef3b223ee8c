// Package catalog holds table and database definitions: name, schema, the
// per-worker tile partitioning, and per-column statistics. A table is a
// schema plus a handle to its stored rows, with ownership expressed as a
// per-worker tile list rather than a KV range.
package catalog

import (
	"sync"
	"sync/atomic"

	"github.com/pingcap/errors"

	"github.com/pingcap/tunadb/lock"
	"github.com/pingcap/tunadb/statistics"
	"github.com/pingcap/tunadb/tile"
	"github.com/pingcap/tunadb/typesys"
)

// Table is a name, schema, a per-worker tile partition, and statistics.
// Tile ownership is stable across queries until an explicit rebalance
// (nothing in the operator set triggers one).
type Table struct {
	mu     sync.RWMutex
	name   string
	schema typesys.Schema
	tiles  map[int][]*tile.Tile // worker_id -> ordered tile list
	stats  *statistics.TableStats
}

// NewTable returns an empty table over schema.
func NewTable(name string, schema typesys.Schema) *Table {
	return &Table{
		name:   name,
		schema: schema,
		tiles:  make(map[int][]*tile.Tile),
		stats:  statistics.NewTableStats(schema),
	}
}

// Name returns the table's name.
func (t *Table) Name() string { return t.name }

// Schema returns the table's schema.
func (t *Table) Schema() typesys.Schema { return t.schema }

// Stats returns the table's statistics, refreshed by update-statistics.
func (t *Table) Stats() *statistics.TableStats { return t.stats }

// AppendTile adds tl to worker's owned tile list. All tiles must share the
// table schema.
func (t *Table) AppendTile(worker int, tl *tile.Tile) error {
	if !tl.Schema().EqualIgnoringOrder(t.schema) {
		return errors.Errorf("catalog: tile schema mismatch for table %q", t.name)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tiles[worker] = append(t.tiles[worker], tl)
	return nil
}

// TilesForWorker returns the ordered tile list owned by worker.
func (t *Table) TilesForWorker(worker int) []*tile.Tile {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]*tile.Tile(nil), t.tiles[worker]...)
}

// Owners returns the set of worker ids that own at least one tile,
// in ascending order.
func (t *Table) Owners(numWorkers int) []int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var owners []int
	for w := 0; w < numWorkers; w++ {
		if len(t.tiles[w]) > 0 {
			owners = append(owners, w)
		}
	}
	return owners
}

// RowCount returns the total live row count across every owned tile.
func (t *Table) RowCount() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var n int64
	for _, list := range t.tiles {
		for _, tl := range list {
			n += int64(tl.Size())
		}
	}
	return n
}

// Database is a named collection of tables, indexed with an optimistic
// lock rather than a plain RWMutex. The catalog is a flat name index
// rather than a B-link-tree (DESIGN.md documents that structural
// omission), but the synchronisation discipline is the same one index
// nodes would use: writers take writeMu (serialising the rare Create/Drop
// path) and swap in a fresh immutable map snapshot under the optimistic
// lock; readers never block.
type Database struct {
	writeMu sync.Mutex
	index   lock.OptimisticLock
	tables  atomic.Value // map[string]*Table, replaced wholesale on write
}

// NewDatabase returns an empty database.
func NewDatabase() *Database {
	db := &Database{}
	db.tables.Store(map[string]*Table{})
	return db
}

func (db *Database) snapshot() map[string]*Table {
	return db.tables.Load().(map[string]*Table)
}

// withWriteLock runs mutate against a copy of the current table map,
// bumping the optimistic lock's version around the swap so any reader
// mid-ReadValid/IsValid observes the change and retries.
func (db *Database) withWriteLock(mutate func(next map[string]*Table) error) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	cur := db.snapshot()
	next := make(map[string]*Table, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	if err := mutate(next); err != nil {
		return err
	}
	db.index.Lock()
	db.tables.Store(next)
	db.index.Unlock()
	return nil
}

// Create registers a new table, failing if one with the same name exists.
func (db *Database) Create(name string, schema typesys.Schema) (*Table, error) {
	var t *Table
	err := db.withWriteLock(func(next map[string]*Table) error {
		if _, ok := next[name]; ok {
			return errors.Errorf("catalog: table %q already exists", name)
		}
		t = NewTable(name, schema)
		next[name] = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Lookup returns the table named name, or an error if it does not exist.
// Read-validate-retry over an immutable snapshot: Lookup never blocks on a
// concurrent writer.
func (db *Database) Lookup(name string) (*Table, error) {
	for {
		v := db.index.ReadValid()
		m := db.snapshot()
		t, ok := m[name]
		if db.index.IsValid(v) {
			if !ok {
				return nil, errors.Errorf("catalog: no such table %q", name)
			}
			return t, nil
		}
	}
}

// Drop removes a table, returning an error if it does not exist.
func (db *Database) Drop(name string) error {
	return db.withWriteLock(func(next map[string]*Table) error {
		if _, ok := next[name]; !ok {
			return errors.Errorf("catalog: no such table %q", name)
		}
		delete(next, name)
		return nil
	})
}

// Names returns every table name, used by the Show operator.
func (db *Database) Names() []string {
	for {
		v := db.index.ReadValid()
		m := db.snapshot()
		names := make([]string, 0, len(m))
		for n := range m {
			names = append(names, n)
		}
		if db.index.IsValid(v) {
			return names
		}
	}
}
