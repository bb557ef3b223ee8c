package typesys

// CacheLine is the alignment granularity used for PAX column offsets.
const CacheLine = 64

// Column is one (Term, Type, is_nullable, is_primary_key) entry in a Schema.
type Column struct {
	Term         string
	Type         Type
	Nullable     bool
	PrimaryKey   bool
}

// Schema is an ordered sequence of columns.
type Schema struct {
	Columns []Column
}

// NewSchema builds a Schema from the given columns, in order.
func NewSchema(cols ...Column) Schema {
	return Schema{Columns: append([]Column(nil), cols...)}
}

// Len returns the number of columns.
func (s Schema) Len() int { return len(s.Columns) }

// RowSize is the sum of the per-type widths of every column.
func (s Schema) RowSize() int {
	n := 0
	for _, c := range s.Columns {
		n += c.Type.Size()
	}
	return n
}

// IndexOf returns the column index for term, or -1 if absent.
func (s Schema) IndexOf(term string) int {
	for i, c := range s.Columns {
		if c.Term == term {
			return i
		}
	}
	return -1
}

// alignUp rounds n up to the next multiple of align.
func alignUp(n, align int) int {
	if n%align == 0 {
		return n
	}
	return n + (align - n%align)
}

// PaxOffset returns the byte offset of column i relative to the tile header's
// end, for a tile holding up to capacity tuples.
func (s Schema) PaxOffset(i, capacity int) int {
	off := 0
	for j := 0; j < i; j++ {
		off += s.ColumnBlockSize(j, capacity)
	}
	return off
}

// ColumnBlockSize is the cache-line-aligned size of column i's block for
// capacity tuples: the value array followed by the column's null bitmap
// (one bit per row).
func (s Schema) ColumnBlockSize(i, capacity int) int {
	return alignUp(capacity*s.Columns[i].Type.Size()+(capacity+7)/8, CacheLine)
}

// ValidityOffset returns the byte offset of column i's null bitmap relative
// to the tile header's end. The bitmap trails the value array inside the
// same aligned block; bit r set means row r holds NULL.
func (s Schema) ValidityOffset(i, capacity int) int {
	return s.PaxOffset(i, capacity) + capacity*s.Columns[i].Type.Size()
}

// PayloadSize is the sum of every column's aligned block size for capacity
// tuples — the tile body size excluding the header.
func (s Schema) PayloadSize(capacity int) int {
	n := 0
	for i := range s.Columns {
		n += s.ColumnBlockSize(i, capacity)
	}
	return n
}

// EqualIgnoringOrder reports whether s and o contain the same columns,
// possibly reordered — used by catalog.Table.AppendTile to accept tiles.
func (s Schema) EqualIgnoringOrder(o Schema) bool {
	if len(s.Columns) != len(o.Columns) {
		return false
	}
	seen := make([]bool, len(o.Columns))
	for _, c := range s.Columns {
		found := false
		for j, oc := range o.Columns {
			if !seen[j] && c.Term == oc.Term && c.Type.Equal(oc.Type) {
				seen[j] = true
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
