package operator

import (
	"sync"

	"github.com/pingcap/tunadb/catalog"
	"github.com/pingcap/tunadb/dataflow"
	"github.com/pingcap/tunadb/statistics"
)

// UpdateStatistics drives a full scan to rebuild per-column histograms and
// distinct counts. It sits downstream of a Scan in the dataflow graph,
// accumulates one statistics.ColumnBuilder per column under a mutex (every
// worker's Consume contributes), and swaps the finished statistics.TableStats
// in once the build edge finalises.
type UpdateStatistics struct {
	Table *catalog.Table

	mu       sync.Mutex
	builders []*statistics.ColumnBuilder
	rowCount int64
}

// NewUpdateStatistics returns a ready-to-consume update-statistics node,
// with one fresh statistics.ColumnBuilder per column of table.
func NewUpdateStatistics(table *catalog.Table) *UpdateStatistics {
	cols := table.Schema().Columns
	builders := make([]*statistics.ColumnBuilder, len(cols))
	for i, c := range cols {
		builders[i] = statistics.NewColumnBuilder(c.Type.Kind)
	}
	return &UpdateStatistics{Table: table, builders: builders}
}

func (u *UpdateStatistics) Arity() int                       { return 1 }
func (u *UpdateStatistics) InitialTokens(int) []dataflow.Token { return nil }
func (u *UpdateStatistics) RequiresOwnerWorker() bool        { return false }

func (u *UpdateStatistics) Consume(worker int, em *dataflow.Emitter, _ int, tok dataflow.Token) error {
	t := tok.Set.Tile
	u.mu.Lock()
	defer u.mu.Unlock()
	for i := 0; i < t.Size(); i++ {
		if !tok.Set.Alive(i) {
			continue
		}
		u.rowCount++
		for ci, b := range u.builders {
			d, err := readDatum(t, ci, i, t.Schema().Columns[ci].Type)
			if err != nil {
				return err
			}
			b.Observe(d)
		}
	}
	return nil
}

// OnBuildComplete implements dataflow.BuildAware, swapping the rebuilt
// histograms and row count into the table's statistics.TableStats.
func (u *UpdateStatistics) OnBuildComplete(worker int, em *dataflow.Emitter) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	stats := u.Table.Stats()
	stats.SetRowCount(u.rowCount)
	for ci, b := range u.builders {
		hist, distinct := b.Finish()
		stats.SetColumnHistogram(ci, hist, distinct)
	}
	return nil
}
