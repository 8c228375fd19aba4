// Package frame implements the in-memory table used by every pipeline stage.
//
// A Table is an ordered set of equally sized, named columns. Columns are
// immutable once built: every operation that changes data returns a new
// Column or Table and leaves the receiver untouched. Actions can therefore
// treat the table they receive as owned without copying it first, and no
// stage ever observes a partially mutated table belonging to another stage.
//
// Missing cells:
//   - Number and Bool columns store float64 cells; NaN marks a missing cell.
//     ±Inf are regular values.
//   - Text columns store strings plus a null mask; "" is a value, not missing.
package frame

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Kind is the storage class of a column.
type Kind uint8

const (
	Number Kind = iota
	Bool
	Text
)

func (k Kind) String() string {
	switch k {
	case Number:
		return "number"
	case Bool:
		return "bool"
	case Text:
		return "text"
	default:
		return "unknown"
	}
}

// Column is a named, typed, immutable sequence of cells.
type Column struct {
	name  string
	kind  Kind
	nums  []float64
	strs  []string
	null  []bool
	marks map[string]struct{}
}

// NewNumber builds a Number column. NaN cells are missing. vals is copied.
func NewNumber(name string, vals []float64) *Column {
	return &Column{name: name, kind: Number, nums: append([]float64(nil), vals...)}
}

// NewBool builds a Bool column from 0/1 cells. NaN cells are missing.
func NewBool(name string, vals []float64) *Column {
	return &Column{name: name, kind: Bool, nums: append([]float64(nil), vals...)}
}

// NewText builds a Text column. null may be nil when no cell is missing;
// otherwise it must have the same length as vals.
func NewText(name string, vals []string, null []bool) *Column {
	c := &Column{name: name, kind: Text, strs: append([]string(nil), vals...)}
	c.null = make([]bool, len(vals))
	copy(c.null, null)
	return c
}

func (c *Column) Name() string { return c.name }
func (c *Column) Kind() Kind   { return c.kind }

// Len returns the number of cells.
func (c *Column) Len() int {
	if c.kind == Text {
		return len(c.strs)
	}
	return len(c.nums)
}

// IsNumeric reports whether the column holds numbers, counting booleans as
// numeric the way dataframe libraries do.
func (c *Column) IsNumeric() bool { return c.kind == Number || c.kind == Bool }

// IsNumber reports whether the column is a plain Number column. Statistical
// detectors select on this rather than IsNumeric so booleans are excluded.
func (c *Column) IsNumber() bool { return c.kind == Number }

// IsMissing reports whether cell i is missing.
func (c *Column) IsMissing(i int) bool {
	if c.kind == Text {
		return c.null[i]
	}
	return math.IsNaN(c.nums[i])
}

// Float returns cell i of a Number or Bool column (NaN when missing).
// It panics for Text columns.
func (c *Column) Float(i int) float64 {
	if c.kind == Text {
		panic(fmt.Sprintf("frame: Float on text column %q", c.name))
	}
	return c.nums[i]
}

// Str returns cell i of a Text column ("" when missing).
// For other kinds it returns Format(i).
func (c *Column) Str(i int) string {
	if c.kind != Text {
		return c.Format(i)
	}
	if c.null[i] {
		return ""
	}
	return c.strs[i]
}

// Value returns cell i as nil, float64, bool or string.
func (c *Column) Value(i int) any {
	if c.IsMissing(i) {
		return nil
	}
	switch c.kind {
	case Bool:
		return c.nums[i] != 0
	case Text:
		return c.strs[i]
	default:
		return c.nums[i]
	}
}

// Format renders cell i the way it is written to a cleaned CSV file.
// Missing cells render as "".
func (c *Column) Format(i int) string {
	if c.IsMissing(i) {
		return ""
	}
	switch c.kind {
	case Text:
		return c.strs[i]
	case Bool:
		if c.nums[i] != 0 {
			return "True"
		}
		return "False"
	default:
		return FormatFloat(c.nums[i], c.Dtype() == "int64")
	}
}

// FormatFloat renders v without exponent noise. Integral values keep a
// trailing ".0" unless asInt is set.
func FormatFloat(v float64, asInt bool) string {
	switch {
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	case math.IsNaN(v):
		return ""
	}
	if asInt && v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatInt(int64(v), 10)
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if v == math.Trunc(v) && !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

// Dtype reports a dataframe-style dtype label: int64, float64, bool or object.
// A Number column is int64 only when it has no missing cells and every cell
// is integral.
func (c *Column) Dtype() string {
	switch c.kind {
	case Bool:
		return "bool"
	case Text:
		return "object"
	}
	for _, v := range c.nums {
		if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
			return "float64"
		}
	}
	return "int64"
}

// IntegerLike reports whether every non-missing cell of a numeric column is
// integral. Text columns are never integer-like.
func (c *Column) IntegerLike() bool {
	if c.kind == Text {
		return false
	}
	for _, v := range c.nums {
		if math.IsNaN(v) {
			continue
		}
		if math.IsInf(v, 0) || v != math.Trunc(v) {
			return false
		}
	}
	return true
}

// MissingCount returns the number of missing cells.
func (c *Column) MissingCount() int {
	n := 0
	for i := 0; i < c.Len(); i++ {
		if c.IsMissing(i) {
			n++
		}
	}
	return n
}

// MissingRatio returns MissingCount / Len, or 0 for an empty column.
func (c *Column) MissingRatio() float64 {
	if c.Len() == 0 {
		return 0
	}
	return float64(c.MissingCount()) / float64(c.Len())
}

// Floats returns a copy of the non-missing cells of a numeric column.
// Text columns return nil.
func (c *Column) Floats() []float64 {
	if c.kind == Text {
		return nil
	}
	out := make([]float64, 0, len(c.nums))
	for _, v := range c.nums {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

// RawFloats returns a copy of every cell of a numeric column, NaN included.
func (c *Column) RawFloats() []float64 {
	return append([]float64(nil), c.nums...)
}

// RawStrings returns copies of the cells and null mask of a Text column.
func (c *Column) RawStrings() ([]string, []bool) {
	return append([]string(nil), c.strs...), append([]bool(nil), c.null...)
}

// NonMissingStrings returns the non-missing cells rendered as strings.
func (c *Column) NonMissingStrings() []string {
	out := make([]string, 0, c.Len())
	for i := 0; i < c.Len(); i++ {
		if !c.IsMissing(i) {
			out = append(out, c.Format(i))
		}
	}
	return out
}

// Count is one entry of ValueCounts.
type Count struct {
	Key   string
	Value any
	N     int
}

// ValueCounts counts non-missing values. The result is ordered by count
// descending; ties keep first-appearance order.
func (c *Column) ValueCounts() []Count {
	idx := map[string]int{}
	var out []Count
	for i := 0; i < c.Len(); i++ {
		if c.IsMissing(i) {
			continue
		}
		k := c.cellKey(i)
		if j, ok := idx[k]; ok {
			out[j].N++
			continue
		}
		idx[k] = len(out)
		out = append(out, Count{Key: c.Format(i), Value: c.Value(i), N: 1})
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].N > out[b].N })
	return out
}

// NUnique counts distinct values. With dropNA false a missing cell counts as
// one extra distinct value when present.
func (c *Column) NUnique(dropNA bool) int {
	seen := map[string]struct{}{}
	missing := false
	for i := 0; i < c.Len(); i++ {
		if c.IsMissing(i) {
			missing = true
			continue
		}
		seen[c.cellKey(i)] = struct{}{}
	}
	n := len(seen)
	if missing && !dropNA {
		n++
	}
	return n
}

func (c *Column) cellKey(i int) string {
	if c.kind == Text {
		return c.strs[i]
	}
	v := c.nums[i]
	if v == 0 {
		v = 0 // fold -0
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// HasMark reports whether a transform tagged this column.
func (c *Column) HasMark(mark string) bool {
	_, ok := c.marks[mark]
	return ok
}

// Marks returns the column's marks in sorted order.
func (c *Column) Marks() []string {
	out := make([]string, 0, len(c.marks))
	for m := range c.marks {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// WithMark returns a copy of c carrying mark.
func (c *Column) WithMark(mark string) *Column {
	out := c.clone()
	if out.marks == nil {
		out.marks = map[string]struct{}{}
	}
	out.marks[mark] = struct{}{}
	return out
}

// WithFloats returns a copy of a numeric column with its cells replaced.
// Name, kind and marks carry over.
func (c *Column) WithFloats(vals []float64) *Column {
	if c.kind == Text {
		panic(fmt.Sprintf("frame: WithFloats on text column %q", c.name))
	}
	out := c.cloneMeta()
	out.nums = append([]float64(nil), vals...)
	return out
}

// AsNumber returns a copy of the column as a Number column. Bool cells keep
// their 0/1 values.
func (c *Column) AsNumber(vals []float64) *Column {
	out := c.cloneMeta()
	out.kind = Number
	out.strs, out.null = nil, nil
	out.nums = append([]float64(nil), vals...)
	return out
}

// WithStrings returns a copy of a Text column with its cells replaced.
func (c *Column) WithStrings(vals []string, null []bool) *Column {
	if c.kind != Text {
		panic(fmt.Sprintf("frame: WithStrings on %s column %q", c.kind, c.name))
	}
	out := c.cloneMeta()
	out.strs = append([]string(nil), vals...)
	out.null = make([]bool, len(vals))
	copy(out.null, null)
	return out
}

// Rename returns a copy of c under a new name.
func (c *Column) Rename(name string) *Column {
	out := c.clone()
	out.name = name
	return out
}

func (c *Column) take(rows []int) *Column {
	out := c.cloneMeta()
	if c.kind == Text {
		out.strs = make([]string, len(rows))
		out.null = make([]bool, len(rows))
		for j, i := range rows {
			out.strs[j] = c.strs[i]
			out.null[j] = c.null[i]
		}
		return out
	}
	out.nums = make([]float64, len(rows))
	for j, i := range rows {
		out.nums[j] = c.nums[i]
	}
	return out
}

func (c *Column) clone() *Column {
	out := c.cloneMeta()
	out.nums = append([]float64(nil), c.nums...)
	out.strs = append([]string(nil), c.strs...)
	out.null = append([]bool(nil), c.null...)
	return out
}

func (c *Column) cloneMeta() *Column {
	out := &Column{name: c.name, kind: c.kind}
	if len(c.marks) > 0 {
		out.marks = make(map[string]struct{}, len(c.marks))
		for m := range c.marks {
			out.marks[m] = struct{}{}
		}
	}
	return out
}

// Table is an ordered collection of equally sized columns with unique names.
type Table struct {
	cols  []*Column
	index map[string]int
	rows  int
}

// New assembles a table.
//
// Errors:
//   - columns of different lengths
//   - duplicate or empty column names
func New(cols ...*Column) (*Table, error) {
	t := &Table{index: make(map[string]int, len(cols))}
	for i, c := range cols {
		if c == nil {
			return nil, fmt.Errorf("frame: column %d is nil", i)
		}
		if c.name == "" {
			return nil, fmt.Errorf("frame: column %d has empty name", i)
		}
		if _, dup := t.index[c.name]; dup {
			return nil, fmt.Errorf("frame: duplicate column %q", c.name)
		}
		if i == 0 {
			t.rows = c.Len()
		} else if c.Len() != t.rows {
			return nil, fmt.Errorf("frame: column %q has %d rows, want %d", c.name, c.Len(), t.rows)
		}
		t.index[c.name] = i
		t.cols = append(t.cols, c)
	}
	return t, nil
}

// MustNew is New for statically known inputs; it panics on error.
func MustNew(cols ...*Column) *Table {
	t, err := New(cols...)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Table) NumRows() int { return t.rows }
func (t *Table) NumCols() int { return len(t.cols) }

// Names returns the column names in table order.
func (t *Table) Names() []string {
	out := make([]string, len(t.cols))
	for i, c := range t.cols {
		out[i] = c.name
	}
	return out
}

// Columns returns the columns in table order. The slice is a copy; the
// columns themselves are immutable.
func (t *Table) Columns() []*Column {
	return append([]*Column(nil), t.cols...)
}

// Column looks a column up by name.
func (t *Table) Column(name string) (*Column, bool) {
	i, ok := t.index[name]
	if !ok {
		return nil, false
	}
	return t.cols[i], true
}

// Has reports whether the table holds a column called name.
func (t *Table) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Clone returns an independent table value. Columns are shared because they
// are immutable.
func (t *Table) Clone() *Table {
	out := &Table{cols: append([]*Column(nil), t.cols...), index: make(map[string]int, len(t.index)), rows: t.rows}
	for k, v := range t.index {
		out.index[k] = v
	}
	return out
}

// WithColumn returns a table where the same-named column is replaced in
// place, or c is appended when absent. It panics when c has the wrong length
// for a non-empty table.
func (t *Table) WithColumn(c *Column) *Table {
	if len(t.cols) > 0 && c.Len() != t.rows {
		panic(fmt.Sprintf("frame: column %q has %d rows, want %d", c.name, c.Len(), t.rows))
	}
	out := t.Clone()
	if i, ok := out.index[c.name]; ok {
		out.cols[i] = c
		return out
	}
	if len(out.cols) == 0 {
		out.rows = c.Len()
	}
	out.index[c.name] = len(out.cols)
	out.cols = append(out.cols, c)
	return out
}

// Drop returns a table without the named column. Dropping an absent column
// returns an equal table.
func (t *Table) Drop(name string) *Table {
	i, ok := t.index[name]
	if !ok {
		return t.Clone()
	}
	cols := make([]*Column, 0, len(t.cols)-1)
	cols = append(cols, t.cols[:i]...)
	cols = append(cols, t.cols[i+1:]...)
	out := &Table{cols: cols, index: make(map[string]int, len(cols)), rows: t.rows}
	for j, c := range cols {
		out.index[c.name] = j
	}
	return out
}

// Rows returns a table holding only the given row positions, in order.
func (t *Table) Rows(keep []int) *Table {
	out := &Table{cols: make([]*Column, len(t.cols)), index: make(map[string]int, len(t.cols)), rows: len(keep)}
	for i, c := range t.cols {
		out.cols[i] = c.take(keep)
		out.index[c.name] = i
	}
	return out
}
