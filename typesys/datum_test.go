package typesys

import "testing"

func TestRowSizeIsSumOfTypeSizes(t *testing.T) {
	s := NewSchema(
		Column{Term: "a", Type: Int32()},
		Column{Term: "b", Type: Int64()},
		Column{Term: "c", Type: Char(10)},
	)
	want := 4 + 8 + 10
	if got := s.RowSize(); got != want {
		t.Fatalf("RowSize() = %d, want %d", got, want)
	}
}

func TestPaxOffsetsAlignedAndFitWithinTile(t *testing.T) {
	// Universal invariant: pax_offset(i) + aligned(T*type_size(i), 64) <=
	// tile_size(s).
	const capacity = 256
	s := NewSchema(
		Column{Term: "a", Type: Int32()},
		Column{Term: "b", Type: Int64()},
		Column{Term: "c", Type: Char(20)},
	)
	tileSize := s.PayloadSize(capacity)
	for i := range s.Columns {
		off := s.PaxOffset(i, capacity)
		if off%CacheLine != 0 {
			t.Fatalf("column %d offset %d not cache-line aligned", i, off)
		}
		if off+s.ColumnBlockSize(i, capacity) > tileSize {
			t.Fatalf("column %d block exceeds tile payload size", i)
		}
	}
}

func TestEqualIgnoringOrder(t *testing.T) {
	a := NewSchema(Column{Term: "a", Type: Int32()}, Column{Term: "b", Type: Int64()})
	b := NewSchema(Column{Term: "b", Type: Int64()}, Column{Term: "a", Type: Int32()})
	if !a.EqualIgnoringOrder(b) {
		t.Fatal("expected schemas to be equal ignoring order")
	}
	c := NewSchema(Column{Term: "a", Type: Int32()}, Column{Term: "b", Type: Int32()})
	if a.EqualIgnoringOrder(c) {
		t.Fatal("schemas with differing types should not compare equal")
	}
}

func TestCastNumericRoundTrip(t *testing.T) {
	d := NewInt32(42)
	got, err := Cast(d, Int64())
	if err != nil {
		t.Fatal(err)
	}
	if got.I64 != 42 {
		t.Fatalf("I64 = %d, want 42", got.I64)
	}
}

func TestCastOverflowRaisesCastError(t *testing.T) {
	d := NewInt64(1 << 40)
	_, err := Cast(d, Int32())
	if err == nil {
		t.Fatal("expected overflow to raise an error")
	}
	var ce *CastError
	if !asCastError(err, &ce) {
		t.Fatalf("expected *CastError, got %T", err)
	}
}

func asCastError(err error, out **CastError) bool {
	ce, ok := err.(*CastError)
	if ok {
		*out = ce
	}
	return ok
}

func TestCastDecimalRescale(t *testing.T) {
	d := NewDecimal(10, 2, 1234) // 12.34
	got, err := Cast(d, Decimal(10, 4))
	if err != nil {
		t.Fatal(err)
	}
	if got.I64 != 123400 {
		t.Fatalf("rescaled = %d, want 123400", got.I64)
	}
	if got.String() != "12.3400" {
		t.Fatalf("String() = %s, want 12.3400", got.String())
	}
}

func TestCastCharToDateParsesISO(t *testing.T) {
	d := NewChar(10, "2024-03-05")
	got, err := Cast(d, Date())
	if err != nil {
		t.Fatal(err)
	}
	if got.String() != "2024-03-05" {
		t.Fatalf("String() = %s, want 2024-03-05", got.String())
	}
}

func TestNullPropagatesThroughCast(t *testing.T) {
	d := NullDatum(Int32())
	got, err := Cast(d, Int64())
	if err != nil {
		t.Fatal(err)
	}
	if !got.Null {
		t.Fatal("expected cast of NULL to remain NULL")
	}
}

func TestCompareAsSingleWord(t *testing.T) {
	if !Char(8).CompareAsSingleWord() {
		t.Fatal("CHAR(8) should compare as a single word")
	}
	if Char(9).CompareAsSingleWord() {
		t.Fatal("CHAR(9) should not compare as a single word")
	}
}
