package persist

import (
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/gofrs/flock"
	"github.com/pingcap/errors"
	"go.uber.org/zap"

	"github.com/pingcap/tunadb/catalog"
	"github.com/pingcap/tunadb/errkind"
	"github.com/pingcap/tunadb/logutil"
	"github.com/pingcap/tunadb/statistics"
	"github.com/pingcap/tunadb/tile"
	"github.com/pingcap/tunadb/typesys"
)

// Save writes every table in db to path in the format, holding an exclusive
// advisory lock on path for the duration of the write. numWorkers bounds the
// per-table tile enumeration, mirroring how catalog.Table.Owners is already
// used elsewhere in the module.
func Save(db *catalog.Database, path string, numWorkers int) error {
	lk := flock.New(path + ".lock")
	if err := lk.Lock(); err != nil {
		return errkind.IO(err, "persist: locking %s", path)
	}
	defer lk.Unlock()

	names := db.Names()
	buf := appendUint64(nil, uint64(len(names)))
	for _, name := range names {
		t, err := db.Lookup(name)
		if err != nil {
			return errkind.IO(err, "persist: table %q vanished during save", name)
		}
		buf = appendTable(buf, t, numWorkers)
	}

	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return errkind.IO(err, "persist: writing %s", path)
	}
	logutil.L().Info("persist: saved database", zap.String("path", path), zap.Int("tables", len(names)))
	return nil
}

func appendTable(buf []byte, t *catalog.Table, numWorkers int) []byte {
	schema := t.Schema()
	stats := t.Stats()

	buf = appendString(buf, t.Name())
	buf = appendUint64(buf, uint64(schema.Len()))
	for i, c := range schema.Columns {
		buf = appendString(buf, c.Term)
		buf = putType(buf, c.Type)
		buf = append(buf, boolByte(c.Nullable), boolByte(c.PrimaryKey))
		buf = putHistogram(buf, stats.Histogram(i), c.Type)
		buf = appendUint64(buf, stats.Distinct(i))
	}

	buf = appendUint64(buf, uint64(t.RowCount()))

	var tiles []*tile.Tile
	for w := 0; w < numWorkers; w++ {
		tiles = append(tiles, t.TilesForWorker(w)...)
	}
	buf = appendUint64(buf, uint64(len(tiles)))
	for _, tl := range tiles {
		buf = appendUint32(buf, uint32(tl.Size()))
		// Full aligned column blocks, value array and null bitmap included,
		// so validity round-trips with the values.
		for col := range schema.Columns {
			buf = append(buf, tl.ColumnBlockCapacityBytes(col)...)
		}
	}
	return buf
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// Restore reads path (as written by Save) into db, distributing each table's
// persisted tiles round-robin across numWorkers via catalog.Table.AppendTile,
// and rebuilding per-column histograms/distinct counts from the persisted
// payload. Restore read-only mmaps path rather than reading it into a heap
// buffer.
func Restore(db *catalog.Database, path string, numWorkers int) error {
	f, err := os.Open(path)
	if err != nil {
		return errkind.IO(err, "persist: opening %s", path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return errkind.IO(err, "persist: stat %s", path)
	}
	if info.Size() == 0 {
		return nil
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return errkind.IO(err, "persist: mmap %s", path)
	}
	defer m.Unmap()

	r := &reader{buf: []byte(m)}
	numTables := r.uint64()
	for i := uint64(0); i < numTables && r.err == nil; i++ {
		if err := restoreTable(db, r, numWorkers); err != nil {
			return err
		}
	}
	if r.err != nil {
		return r.err
	}
	logutil.L().Info("persist: restored database", zap.String("path", path), zap.Uint64("tables", numTables))
	return nil
}

func restoreTable(db *catalog.Database, r *reader, numWorkers int) error {
	name := r.string()
	numCols := r.uint64()
	cols := make([]typesys.Column, numCols)
	histograms := make([]statistics.Histogram, numCols)
	distinct := make([]uint64, numCols)

	for i := uint64(0); i < numCols; i++ {
		term := r.string()
		typ := r.typ()
		nullable := r.uint8() != 0
		pk := r.uint8() != 0
		cols[i] = typesys.Column{Term: term, Type: typ, Nullable: nullable, PrimaryKey: pk}

		if r.uint8() != 0 { // has_histogram
			kind := r.uint8()
			if kind == histEquiDepth {
				histograms[i] = r.equiDepth()
			} else {
				histograms[i] = r.singleton()
			}
		}
		distinct[i] = r.uint64()
	}

	if r.err != nil {
		return r.err
	}

	schema := typesys.NewSchema(cols...)
	_ = r.uint64() // row_count: informational, recomputed live from reattached tiles

	t, err := db.Create(name, schema)
	if err != nil {
		return errkind.IO(err, "persist: recreating table %q", name)
	}
	for i := uint64(0); i < numCols; i++ {
		if histograms[i] != nil || distinct[i] > 0 {
			t.Stats().SetColumnHistogram(int(i), histograms[i], distinct[i])
		}
	}

	numTiles := r.uint64()
	for i := uint64(0); i < numTiles && r.err == nil; i++ {
		recordCount := r.uint32()
		tl := tile.New(schema)
		_, granted := tl.Bulk(int(recordCount))
		if granted != int(recordCount) {
			return errkind.IO(errors.New("persist: tile exceeds capacity"), "persist: tile exceeds capacity")
		}
		for col := range schema.Columns {
			n := schema.ColumnBlockSize(col, tile.Capacity)
			src := r.bytes(n)
			copy(tl.ColumnBlockCapacityBytes(col), src)
		}
		if r.err != nil {
			return r.err
		}
		worker := int(i) % numWorkers
		if numWorkers <= 0 {
			worker = 0
		}
		if err := t.AppendTile(worker, tl); err != nil {
			return errkind.IO(err, "persist: reattaching tile to %q", name)
		}
	}
	return r.err
}
