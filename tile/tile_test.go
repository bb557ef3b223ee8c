package tile

import (
	"testing"

	"github.com/pingcap/tunadb/typesys"
)

func schemaAB() typesys.Schema {
	return typesys.NewSchema(
		typesys.Column{Term: "a", Type: typesys.Int32()},
		typesys.Column{Term: "b", Type: typesys.Int64()},
	)
}

func TestAllocateFailsWhenFull(t *testing.T) {
	tl := New(schemaAB())
	for i := 0; i < Capacity; i++ {
		if _, ok := tl.Allocate(); !ok {
			t.Fatalf("Allocate() failed at row %d, want success", i)
		}
	}
	if !tl.Full() {
		t.Fatal("expected tile to report Full() after Capacity allocations")
	}
	if _, ok := tl.Allocate(); ok {
		t.Fatal("Allocate() on full tile should fail")
	}
}

func TestBulkGrantsMinOfRequestedAndRemaining(t *testing.T) {
	tl := New(schemaAB())
	start, granted := tl.Bulk(300)
	if start != 0 || granted != Capacity {
		t.Fatalf("Bulk(300) = (%d, %d), want (0, %d)", start, granted, Capacity)
	}
	if !tl.Full() {
		t.Fatal("expected tile full after bulk-allocating Capacity rows")
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	tl := New(schemaAB())
	v, _ := tl.Allocate()
	v.SetInt32(0, 7)
	v.SetInt64(1, 9000)

	rv := tl.View(0)
	if rv.Int32(0) != 7 {
		t.Fatalf("Int32(0) = %d, want 7", rv.Int32(0))
	}
	if rv.Int64(1) != 9000 {
		t.Fatalf("Int64(1) = %d, want 9000", rv.Int64(1))
	}
}

func TestCopyIntoPreservesValues(t *testing.T) {
	src := New(schemaAB())
	for i := 0; i < 5; i++ {
		v, _ := src.Allocate()
		v.SetInt32(0, int32(i))
		v.SetInt64(1, int64(i*100))
	}

	dst := New(schemaAB())
	CopyInto(dst, src)

	if dst.Size() != 5 {
		t.Fatalf("dst.Size() = %d, want 5", dst.Size())
	}
	for i := 0; i < 5; i++ {
		rv := dst.View(i)
		if rv.Int32(0) != int32(i) {
			t.Fatalf("row %d col a = %d, want %d", i, rv.Int32(0), i)
		}
		if rv.Int64(1) != int64(i*100) {
			t.Fatalf("row %d col b = %d, want %d", i, rv.Int64(1), i*100)
		}
	}
}

func TestCharRoundTripWithNulPadding(t *testing.T) {
	s := typesys.NewSchema(typesys.Column{Term: "name", Type: typesys.Char(8)})
	tl := New(s)
	v, _ := tl.Allocate()
	v.SetChar(0, []byte("hi"))

	got := tl.View(0).Char(0)
	if len(got) != 8 {
		t.Fatalf("Char() length = %d, want 8", len(got))
	}
	if string(got[:2]) != "hi" {
		t.Fatalf("Char() prefix = %q, want hi", got[:2])
	}
	for _, b := range got[2:] {
		if b != 0 {
			t.Fatal("expected nul padding after value")
		}
	}
}

func TestNullBitmapRoundTrip(t *testing.T) {
	tl := New(schemaAB())
	for i := 0; i < 10; i++ {
		v, _ := tl.Allocate()
		if i%3 == 0 {
			v.SetNull(0)
		} else {
			v.SetInt32(0, int32(i))
		}
		v.SetInt64(1, int64(i))
	}
	for i := 0; i < 10; i++ {
		v := tl.View(i)
		if got, want := v.IsNull(0), i%3 == 0; got != want {
			t.Fatalf("row %d col a: IsNull = %v, want %v", i, got, want)
		}
		if v.IsNull(1) {
			t.Fatalf("row %d col b should not be NULL", i)
		}
	}
}

func TestWriteClearsPriorNull(t *testing.T) {
	tl := New(schemaAB())
	v, _ := tl.Allocate()
	v.SetNull(0)
	if !tl.View(0).IsNull(0) {
		t.Fatal("SetNull should mark the cell NULL")
	}
	v.SetInt32(0, 9)
	if tl.View(0).IsNull(0) {
		t.Fatal("a value write should clear the null bit")
	}
}

func TestCopyIntoPreservesNulls(t *testing.T) {
	src := New(schemaAB())
	for i := 0; i < 3; i++ {
		v, _ := src.Allocate()
		if i == 1 {
			v.SetNull(0)
		} else {
			v.SetInt32(0, int32(i))
		}
		v.SetInt64(1, int64(i))
	}

	dst := New(schemaAB())
	// Offset dst by one row so the copied bits land bit-shifted.
	dv, _ := dst.Allocate()
	dv.SetInt32(0, 100)
	dv.SetInt64(1, 100)
	CopyInto(dst, src)

	if dst.View(1).IsNull(0) || !dst.View(2).IsNull(0) || dst.View(3).IsNull(0) {
		t.Fatal("null bits did not follow their rows through CopyInto")
	}
}

func TestViewIndexOutOfBoundsPanics(t *testing.T) {
	tl := New(schemaAB())
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for out-of-bounds View")
		}
	}()
	tl.View(0)
}
