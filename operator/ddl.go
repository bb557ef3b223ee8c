package operator

import (
	"sync"

	"github.com/pingcap/tunadb/catalog"
	"github.com/pingcap/tunadb/dataflow"
	"github.com/pingcap/tunadb/mem"
	"github.com/pingcap/tunadb/typesys"
)

// Create registers a new table in the database, a nullary node that does its
// work directly in InitialTokens and emits nothing.
type Create struct {
	DB     *catalog.Database
	Name   string
	Schema typesys.Schema

	mu  sync.Mutex
	err error
}

// NewCreate returns a ready-to-drive create node.
func NewCreate(db *catalog.Database, name string, schema typesys.Schema) *Create {
	return &Create{DB: db, Name: name, Schema: schema}
}

func (c *Create) Arity() int                                               { return 0 }
func (c *Create) Consume(int, *dataflow.Emitter, int, dataflow.Token) error { return nil }
func (c *Create) RequiresOwnerWorker() bool                                 { return true }

func (c *Create) InitialTokens(int) []dataflow.Token {
	_, err := c.DB.Create(c.Name, c.Schema)
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	return nil
}

// Err returns the table-already-exists error, if any.
func (c *Create) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// describeSchema is the output relation every metadata operator in this
// file emits rows against: a single text column per row.
func describeSchema(cols ...string) typesys.Schema {
	out := make([]typesys.Column, len(cols))
	for i, c := range cols {
		out[i] = typesys.Column{Term: c, Type: typesys.Char(64)}
	}
	return typesys.NewSchema(out...)
}

// Describe emits one row per column of Table: its name and a rendered type
// string.
type Describe struct {
	Table      *catalog.Table
	Allocator  *mem.TileAllocator
	Worker     int
	OutSchema  typesys.Schema
}

// NewDescribe returns a ready-to-drive describe node.
func NewDescribe(table *catalog.Table, alloc *mem.TileAllocator, worker int) *Describe {
	return &Describe{Table: table, Allocator: alloc, Worker: worker, OutSchema: describeSchema("column", "type")}
}

func (d *Describe) Arity() int                                               { return 0 }
func (d *Describe) Consume(int, *dataflow.Emitter, int, dataflow.Token) error { return nil }
func (d *Describe) RequiresOwnerWorker() bool                                 { return true }

func (d *Describe) InitialTokens(int) []dataflow.Token {
	var toks []dataflow.Token
	w := newTileWriter(d.OutSchema, d.Allocator, d.Worker, func(tok dataflow.Token) { toks = append(toks, tok) })
	for _, col := range d.Table.Schema().Columns {
		view := w.nextRow()
		writeDatum(view, 0, typesys.NewChar(64, col.Term))
		writeDatum(view, 1, typesys.NewChar(64, col.Type.String()))
	}
	w.flush()
	return toks
}

// ShowTables emits one row per table name in the database.
type ShowTables struct {
	DB        *catalog.Database
	Allocator *mem.TileAllocator
	Worker    int
	OutSchema typesys.Schema
}

// NewShowTables returns a ready-to-drive show-tables node.
func NewShowTables(db *catalog.Database, alloc *mem.TileAllocator, worker int) *ShowTables {
	return &ShowTables{DB: db, Allocator: alloc, Worker: worker, OutSchema: describeSchema("table")}
}

func (s *ShowTables) Arity() int                                               { return 0 }
func (s *ShowTables) Consume(int, *dataflow.Emitter, int, dataflow.Token) error { return nil }
func (s *ShowTables) RequiresOwnerWorker() bool                                 { return true }

func (s *ShowTables) InitialTokens(int) []dataflow.Token {
	var toks []dataflow.Token
	w := newTileWriter(s.OutSchema, s.Allocator, s.Worker, func(tok dataflow.Token) { toks = append(toks, tok) })
	for _, name := range s.DB.Names() {
		view := w.nextRow()
		writeDatum(view, 0, typesys.NewChar(64, name))
	}
	w.flush()
	return toks
}
