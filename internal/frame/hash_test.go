package frame

import (
	"testing"
)

func TestContentHash_Deterministic(t *testing.T) {
	mk := func() *Table {
		return MustNew(
			NewNumber("age", []float64{31, nan, 40}),
			NewText("city", []string{"Brno", "", "Praha"}, []bool{false, true, false}),
		)
	}

	h1 := ContentHash(mk())
	h2 := ContentHash(mk())
	if h1 != h2 {
		t.Fatalf("hash not deterministic: %q vs %q", h1, h2)
	}
	if len(h1) != IdentityLen {
		t.Fatalf("hash length=%d want %d", len(h1), IdentityLen)
	}
}

func TestContentHash_Sensitivity(t *testing.T) {
	base := MustNew(NewText("k", []string{"a", "b"}, nil))

	tests := []struct {
		name  string
		other *Table
	}{
		{name: "cell_changed", other: MustNew(NewText("k", []string{"a", "c"}, nil))},
		{name: "missing_vs_empty", other: MustNew(NewText("k", []string{"a", ""}, []bool{false, true}))},
		{name: "renamed", other: MustNew(NewText("j", []string{"a", "b"}, nil))},
		{name: "row_order", other: MustNew(NewText("k", []string{"b", "a"}, nil))},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if ContentHash(base) == ContentHash(tc.other) {
				t.Fatalf("expected different hashes")
			}
		})
	}

	emptyStr := MustNew(NewText("k", []string{"a", ""}, nil))
	missing := MustNew(NewText("k", []string{"a", ""}, []bool{false, true}))
	if ContentHash(emptyStr) == ContentHash(missing) {
		t.Fatalf("missing and empty string hash equal")
	}
}

func TestColumnKeyIgnoresName(t *testing.T) {
	a := NewNumber("a", []float64{1, 2, nan})
	b := NewNumber("b", []float64{1, 2, nan})
	c := NewNumber("c", []float64{1, 2, 3})
	if ColumnKey(a) != ColumnKey(b) {
		t.Fatalf("identical cells produced different keys")
	}
	if ColumnKey(a) == ColumnKey(c) {
		t.Fatalf("different cells produced equal keys")
	}
}

func TestRowKeyTreatsMissingAsEqual(t *testing.T) {
	tb := MustNew(
		NewNumber("x", []float64{1, 1, 2}),
		NewText("y", []string{"", "", "q"}, []bool{true, true, false}),
	)
	if RowKey(tb, 0) != RowKey(tb, 1) {
		t.Fatalf("rows 0 and 1 should be duplicates")
	}
	if RowKey(tb, 0) == RowKey(tb, 2) {
		t.Fatalf("rows 0 and 2 should differ")
	}
}

func TestKeysKeepCellBoundaries(t *testing.T) {
	tb := MustNew(
		NewText("a", []string{"x\x1fy", "x"}, nil),
		NewText("b", []string{"z", "y\x1fz"}, nil),
	)
	if RowKey(tb, 0) == RowKey(tb, 1) {
		t.Fatalf("distinct rows share a key")
	}

	tests := []struct {
		name string
		a, b *Column
	}{
		{
			name: "separator_inside_cell",
			a:    NewText("a", []string{"p\x1fq", "r"}, nil),
			b:    NewText("b", []string{"p", "q\x1fr"}, nil),
		},
		{
			name: "nul_text_vs_missing",
			a:    NewText("a", []string{"\x00", "r"}, nil),
			b:    NewText("b", []string{"", "r"}, []bool{true, false}),
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if ColumnKey(tc.a) == ColumnKey(tc.b) {
				t.Fatalf("distinct columns share a key")
			}
			if ContentHash(MustNew(tc.a.Rename("k"))) == ContentHash(MustNew(tc.b.Rename("k"))) {
				t.Fatalf("distinct tables share a content hash")
			}
		})
	}

	h1 := ContentHash(MustNew(NewText("a\x1fb", []string{"1"}, nil), NewText("c", []string{"2"}, nil)))
	h2 := ContentHash(MustNew(NewText("a", []string{"1"}, nil), NewText("b\x1fc", []string{"2"}, nil)))
	if h1 == h2 {
		t.Fatalf("separator in a column name shifted the header")
	}
}
