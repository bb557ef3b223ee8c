package persist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pingcap/tunadb/catalog"
	"github.com/pingcap/tunadb/statistics"
	"github.com/pingcap/tunadb/tile"
	"github.com/pingcap/tunadb/typesys"
)

func buildTable(t *testing.T) *catalog.Database {
	t.Helper()
	db := catalog.NewDatabase()
	schema := typesys.NewSchema(
		typesys.Column{Term: "id", Type: typesys.Int32(), PrimaryKey: true},
		typesys.Column{Term: "name", Type: typesys.Char(8)},
	)
	tbl, err := db.Create("orders", schema)
	if err != nil {
		t.Fatal(err)
	}
	tl := tile.New(schema)
	for i := 0; i < 3; i++ {
		v, _ := tl.Allocate()
		v.SetInt32(0, int32(i))
		if i == 1 {
			v.SetNull(1)
		} else {
			v.SetChar(1, []byte("row"))
		}
	}
	if err := tbl.AppendTile(0, tl); err != nil {
		t.Fatal(err)
	}

	builder := statistics.NewEquiDepthBuilder()
	builder.Observe(0)
	builder.Observe(1)
	builder.Observe(2)
	tbl.Stats().SetColumnHistogram(0, builder.Build(), 3)

	single := statistics.NewSingletonHistogram()
	single.Observe(42)
	single.Observe(42)
	tbl.Stats().SetColumnHistogram(1, single, 1)
	tbl.Stats().SetRowCount(3)
	return db
}

func TestSaveRestoreRoundTrip(t *testing.T) {
	db := buildTable(t)
	path := filepath.Join(t.TempDir(), "snapshot.db")

	if err := Save(db, path, 1); err != nil {
		t.Fatalf("Save: %v", err)
	}

	restored := catalog.NewDatabase()
	if err := Restore(restored, path, 1); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	tbl, err := restored.Lookup("orders")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if tbl.Schema().Len() != 2 {
		t.Fatalf("schema length = %d, want 2", tbl.Schema().Len())
	}
	if got := tbl.RowCount(); got != 3 {
		t.Fatalf("row count = %d, want 3", got)
	}

	h := tbl.Stats().Histogram(0)
	if h == nil {
		t.Fatal("missing histogram for column 0")
	}
	if got := h.ApproxEquals(1); got <= 0 {
		t.Fatalf("ApproxEquals(1) = %v, want > 0", got)
	}
	if got := tbl.Stats().Distinct(1); got != 1 {
		t.Fatalf("distinct(1) = %d, want 1", got)
	}

	tiles := tbl.TilesForWorker(0)
	if len(tiles) != 1 || tiles[0].Size() != 3 {
		t.Fatalf("unexpected restored tiles: %+v", tiles)
	}
	if !tiles[0].View(1).IsNull(1) {
		t.Fatal("stored NULL did not survive the round trip")
	}
	if tiles[0].View(0).IsNull(1) || tiles[0].View(2).IsNull(1) {
		t.Fatal("non-NULL rows came back NULL")
	}
}

func TestRestoreEmptyFileIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.db")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	db := catalog.NewDatabase()
	if err := Restore(db, path, 1); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if len(db.Names()) != 0 {
		t.Fatalf("expected empty database, got %v", db.Names())
	}
}
