package operator

import (
	"bufio"
	"os"
	"strings"
	"sync"

	"github.com/pingcap/errors"

	"github.com/pingcap/tunadb/dataflow"
	"github.com/pingcap/tunadb/mem"
	"github.com/pingcap/tunadb/typesys"
)

// Copy reads a delimited file line-by-line on the driver worker, parses each
// field as its column's type, and appends rows to a chain of freshly-allocated
// tiles. Built directly on bufio/os: line-delimited file parsing needs no
// library beyond the cast logic typesys already carries (see DESIGN.md).
type Copy struct {
	Path       string
	Schema     typesys.Schema
	Delimiter  string
	DriverWorker int
	Allocators map[int]*mem.TileAllocator

	mu   sync.Mutex
	err  error
}

// NewCopy returns a ready-to-drive copy node. delimiter defaults to a
// comma when empty.
func NewCopy(path string, schema typesys.Schema, delimiter string, driverWorker int, allocs map[int]*mem.TileAllocator) *Copy {
	if delimiter == "" {
		delimiter = ","
	}
	return &Copy{Path: path, Schema: schema, Delimiter: delimiter, DriverWorker: driverWorker, Allocators: allocs}
}

func (c *Copy) Arity() int                  { return 0 }
func (c *Copy) Consume(int, *dataflow.Emitter, int, dataflow.Token) error { return nil }
func (c *Copy) RequiresOwnerWorker() bool   { return true }

// Err returns any error encountered while reading Path, valid once the engine
// has drained InitialTokens.
func (c *Copy) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Copy) InitialTokens(int) []dataflow.Token {
	f, err := os.Open(c.Path)
	if err != nil {
		c.setErr(errors.Annotate(err, "copy"))
		return nil
	}
	defer f.Close()

	var toks []dataflow.Token
	w := newTileWriter(c.Schema, c.Allocators[c.DriverWorker], c.DriverWorker, func(tok dataflow.Token) {
		toks = append(toks, tok)
	})

	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if line == "" {
			continue // a trailing blank line must not produce a trailing empty tile
		}
		fields := strings.Split(line, c.Delimiter)
		if len(fields) != c.Schema.Len() {
			c.setErr(errors.Errorf("copy: line %d: expected %d fields, got %d", lineNo, c.Schema.Len(), len(fields)))
			continue
		}
		view := w.nextRow()
		for ci, col := range c.Schema.Columns {
			d, err := parseField(fields[ci], col.Type)
			if err != nil {
				c.setErr(errors.Annotatef(err, "copy: line %d column %d", lineNo, ci))
				continue
			}
			writeDatum(view, ci, d)
		}
	}
	if err := sc.Err(); err != nil {
		c.setErr(errors.Annotate(err, "copy"))
	}
	w.flush()
	return toks
}

func (c *Copy) setErr(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
}

// parseField converts one raw field into a Datum of typ, empty string and the
// literal "NULL" both meaning SQL NULL.
func parseField(raw string, typ typesys.Type) (typesys.Datum, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.EqualFold(trimmed, "NULL") {
		return typesys.NullDatum(typ), nil
	}
	src := typesys.Datum{Type: typesys.Char(uint16(len(trimmed))), Bytes: []byte(trimmed)}
	return typesys.Cast(src, typ)
}
