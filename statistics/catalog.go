package statistics

import (
	"sync"

	"github.com/pingcap/tunadb/typesys"
)

// columnStats is the per-column entry in a TableStats: a selected
// histogram variant (nil until update_statistics builds one) and an
// approximate distinct count.
type columnStats struct {
	mu        sync.RWMutex
	histogram Histogram
	distinct  uint64
}

// TableStats holds per-table row count and per-column statistics.
// update_statistics overwrites the row count and each column's entry in
// place. Each column's histogram and distinct count are updated together
// under that column's lock; a reader during planning can still see some
// columns updated and others not yet.
type TableStats struct {
	mu       sync.RWMutex
	rowCount int64
	columns  []*columnStats
}

// NewTableStats returns empty statistics for schema (one empty entry per
// column; update_statistics populates them).
func NewTableStats(schema typesys.Schema) *TableStats {
	cols := make([]*columnStats, len(schema.Columns))
	for i := range cols {
		cols[i] = &columnStats{}
	}
	return &TableStats{columns: cols}
}

// RowCount returns the table's row count as of the last update_statistics
// pass, or 0 if it has never run (catalog.Table.RowCount is the live value).
func (s *TableStats) RowCount() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rowCount
}

// SetRowCount is called by update_statistics once its scan completes.
func (s *TableStats) SetRowCount(n int64) {
	s.mu.Lock()
	s.rowCount = n
	s.mu.Unlock()
}

// SetColumnHistogram installs the histogram and distinct count for column
// i, replacing any prior statistics.
func (s *TableStats) SetColumnHistogram(i int, h Histogram, distinct uint64) {
	c := s.columns[i]
	c.mu.Lock()
	c.histogram = h
	c.distinct = distinct
	c.mu.Unlock()
}

// Histogram returns column i's histogram, or nil if update_statistics has
// never run for this table.
func (s *TableStats) Histogram(i int) Histogram {
	c := s.columns[i]
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.histogram
}

// Distinct returns column i's approximate distinct count (0 if never computed).
func (s *TableStats) Distinct(i int) uint64 {
	c := s.columns[i]
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.distinct
}
