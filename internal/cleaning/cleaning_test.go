package cleaning

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"testing"

	"tabprep/internal/diagnostics"
	"tabprep/internal/frame"
	"tabprep/internal/stats"
)

var nan = math.NaN()

type auditEvent struct {
	step    string
	details map[string]any
}

type memRecorder struct{ events []auditEvent }

func (m *memRecorder) Record(_ context.Context, _ string, step string, details map[string]any) {
	m.events = append(m.events, auditEvent{step: step, details: details})
}

func seq(n int, f func(i int) float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = f(i)
	}
	return out
}

// richTable exercises every action: skew, negatives, missing cells,
// infinities, a duplicate row, rare and high-cardinality text.
func richTable() *frame.Table {
	const n = 300
	skewed := seq(n, func(i int) float64 { return math.Exp(float64(i%60) / 8) })
	skewed[3] = math.Inf(1)
	skewed[7] = nan
	age := seq(n, func(i int) float64 { return float64(i%70) - 3 })
	age[10] = nan
	flags := seq(n, func(i int) float64 { return float64(i % 2) })
	flags[5] = nan

	cats := make([]string, n)
	ids := make([]string, n)
	null := make([]bool, n)
	for i := range cats {
		cats[i] = fmt.Sprintf(" Cat%d ", i%12)
		if i%100 == 0 {
			cats[i] = fmt.Sprintf("Rare%d", i)
		}
		ids[i] = fmt.Sprintf("id-%d", i%150)
	}
	null[4] = true
	// Row 1 duplicates row 0 in every column.
	skewed[1], age[1], flags[1], cats[1], ids[1] = skewed[0], age[0], flags[0], cats[0], ids[0]

	return frame.MustNew(
		frame.NewNumber("skewed", skewed),
		frame.NewNumber("age", age),
		frame.NewBool("flag", flags),
		frame.NewText("cat", cats, null),
		frame.NewText("ident", ids, nil),
	)
}

func fullRegistry() Registry {
	opts := DefaultOptions()
	opts.Extended = true
	opts.NormalizeText = true
	opts.FillTextMissing = true
	return NewRegistry(opts)
}

func marksOf(t *frame.Table) map[string][]string {
	out := map[string][]string{}
	for _, c := range t.Columns() {
		out[c.Name()] = c.Marks()
	}
	return out
}

func TestEveryActionIsIdempotent(t *testing.T) {
	base := richTable()
	for _, variant := range []struct {
		name string
		reg  Registry
	}{
		{name: "canonical", reg: NewRegistry(DefaultOptions())},
		{name: "full", reg: fullRegistry()},
	} {
		for _, name := range variant.reg.Names() {
			act := variant.reg[name]
			for _, col := range append(base.Names(), "") {
				t.Run(variant.name+"/"+name+"/"+col, func(t *testing.T) {
					once, err := act(base, col)
					if err != nil {
						t.Fatalf("first apply err=%v", err)
					}
					twice, err := act(once, col)
					if err != nil {
						t.Fatalf("second apply err=%v", err)
					}
					if frame.ContentHash(once) != frame.ContentHash(twice) {
						t.Fatalf("second application changed the table")
					}
					if !reflect.DeepEqual(marksOf(once), marksOf(twice)) {
						t.Fatalf("marks changed: %v -> %v", marksOf(once), marksOf(twice))
					}
				})
			}
		}
	}
}

func TestActionsTolerateMissingColumn(t *testing.T) {
	base := richTable()
	want := frame.ContentHash(base)
	for name, act := range fullRegistry() {
		if name == DropDuplicateRows {
			continue
		}
		out, err := act(base, "no_such_column")
		if err != nil {
			t.Fatalf("%s err=%v", name, err)
		}
		if frame.ContentHash(out) != want {
			t.Fatalf("%s changed the table for an absent column", name)
		}
	}
}

func TestActionsDoNotMutateInput(t *testing.T) {
	base := richTable()
	want := frame.ContentHash(base)
	for name, act := range fullRegistry() {
		for _, col := range base.Names() {
			if _, err := act(base, col); err != nil {
				t.Fatalf("%s(%s) err=%v", name, col, err)
			}
		}
	}
	if frame.ContentHash(base) != want {
		t.Fatalf("input table mutated")
	}
}

func TestExtensionActionsOnlyWhenEnabled(t *testing.T) {
	if _, ok := NewRegistry(DefaultOptions())[GroupRareCategories]; ok {
		t.Fatalf("group_rare_categories registered without Extended")
	}
	if _, ok := fullRegistry()[ReduceCardinality]; !ok {
		t.Fatalf("reduce_cardinality missing with Extended")
	}
}

func TestDropDuplicateRowsKeepsFirst(t *testing.T) {
	tb := frame.MustNew(
		frame.NewNumber("a", []float64{1, 2, 1, nan, nan}),
		frame.NewText("b", []string{"x", "y", "x", "", ""}, []bool{false, false, false, true, true}),
	)
	out, _ := dropDuplicateRows(tb, "")
	if out.NumRows() != 3 {
		t.Fatalf("rows=%d want 3", out.NumRows())
	}
	a, _ := out.Column("a")
	if a.Float(0) != 1 || a.Float(1) != 2 || !a.IsMissing(2) {
		t.Fatalf("order not preserved")
	}
}

func TestImputeNumericMedian(t *testing.T) {
	tb := frame.MustNew(
		frame.NewNumber("x", []float64{1, nan, 3, 10}),
		frame.NewNumber("empty", []float64{nan, nan, nan, nan}),
		frame.NewBool("b", []float64{1, 1, nan, 0}),
	)
	reg := NewRegistry(DefaultOptions())

	out, _ := reg[ImputeNumericMedian](tb, "x")
	x, _ := out.Column("x")
	if x.Float(1) != 3 {
		t.Fatalf("filled=%v want 3", x.Float(1))
	}

	out, _ = reg[ImputeNumericMedian](tb, "empty")
	e, _ := out.Column("empty")
	if e.MissingCount() != 4 {
		t.Fatalf("all-missing column should stay missing")
	}

	out, _ = reg[ImputeNumericMedian](tb, "b")
	b, _ := out.Column("b")
	if b.Kind() != frame.Bool || b.Float(2) != 1 {
		t.Fatalf("bool fill kind=%v value=%v", b.Kind(), b.Float(2))
	}
}

func TestCanonicalTextActionsAreNoOps(t *testing.T) {
	tb := frame.MustNew(frame.NewText("s", []string{" A ", ""}, []bool{false, true}))
	reg := NewRegistry(DefaultOptions())
	for _, name := range []string{ImputeTextMissing, NormalizeEncoding} {
		out, _ := reg[name](tb, "s")
		if frame.ContentHash(out) != frame.ContentHash(tb) {
			t.Fatalf("%s changed the table in the canonical configuration", name)
		}
	}

	out, _ := fullRegistry()[NormalizeEncoding](tb, "s")
	s, _ := out.Column("s")
	if s.Str(0) != "a" || !s.IsMissing(1) {
		t.Fatalf("normalized=%q missing=%v", s.Str(0), s.IsMissing(1))
	}
	out, _ = fullRegistry()[ImputeTextMissing](tb, "s")
	s, _ = out.Column("s")
	if s.MissingCount() != 0 || s.Str(1) != "" {
		t.Fatalf("text fill failed")
	}
}

func TestNormalizeEncodingSkipsLongText(t *testing.T) {
	long := "The Quick Brown Fox Jumps Over The Lazy Dog And Keeps Running Far Away"
	tb := frame.MustNew(frame.NewText("s", []string{long, long}, nil))
	out, _ := fullRegistry()[NormalizeEncoding](tb, "s")
	s, _ := out.Column("s")
	if s.Str(0) != long {
		t.Fatalf("long text was normalized: %q", s.Str(0))
	}
}

func TestApplyPowerTransform(t *testing.T) {
	xs := seq(200, func(i int) float64 { return math.Exp(float64(i) / 25) })
	xs[0] = math.Inf(1)
	xs[1] = nan
	tb := frame.MustNew(frame.NewNumber("x", xs))
	before := stats.Skew(xs[2:])

	out, err := applyPowerTransform(tb, "x")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	c, _ := out.Column("x")
	got := c.RawFloats()
	if c.MissingCount() != 0 || !c.HasMark(MarkPowerTransformed) {
		t.Fatalf("missing=%d marks=%v", c.MissingCount(), c.Marks())
	}
	if m := stats.Mean(got); math.Abs(m) > 1e-9 {
		t.Fatalf("mean=%v want 0", m)
	}
	if s := stats.PopStdDev(got); math.Abs(s-1) > 1e-9 {
		t.Fatalf("std=%v want 1", s)
	}
	if after := stats.Skew(got); math.Abs(after) >= math.Abs(before) {
		t.Fatalf("skew not reduced: before=%v after=%v", before, after)
	}
}

func TestApplyPowerTransformConstantColumn(t *testing.T) {
	tb := frame.MustNew(frame.NewNumber("x", []float64{4, 4, nan, math.Inf(-1)}))
	out, _ := applyPowerTransform(tb, "x")
	c, _ := out.Column("x")
	if !reflect.DeepEqual(c.RawFloats(), []float64{4, 4, 4, 4}) {
		t.Fatalf("got=%v want filled constant", c.RawFloats())
	}
}

func TestYeoJohnson(t *testing.T) {
	tests := []struct {
		v, lambda, want float64
	}{
		{v: 3, lambda: 1, want: 3},
		{v: -3, lambda: 1, want: -3},
		{v: math.E - 1, lambda: 0, want: 1},
		{v: 1 - math.E, lambda: 2, want: -1},
		{v: 3, lambda: 2, want: 7.5},
	}
	for _, tc := range tests {
		if got := yeoJohnson(tc.v, tc.lambda); math.Abs(got-tc.want) > 1e-12 {
			t.Fatalf("yeoJohnson(%v, %v)=%v want %v", tc.v, tc.lambda, got, tc.want)
		}
	}
}

func TestClipOutliers(t *testing.T) {
	xs := seq(100, func(i int) float64 { return float64(i % 5) })
	xs[0] = 1000
	tb := frame.MustNew(frame.NewNumber("x", xs))
	mean, std := stats.Mean(xs), stats.StdDev(xs)

	out, _ := NewRegistry(DefaultOptions())[ClipOutliers](tb, "x")
	c, _ := out.Column("x")
	if got, want := c.Float(0), mean+5*std; math.Abs(got-want) > 1e-9 {
		t.Fatalf("clipped=%v want %v", got, want)
	}
	if c.Float(1) != 1 {
		t.Fatalf("inlier changed: %v", c.Float(1))
	}
}

func TestClipZeroAfterImpossibleAge(t *testing.T) {
	tb := frame.MustNew(frame.NewNumber("Age", []float64{30, -5, 40}))
	rep := diagnostics.Run(context.Background(), tb, "")
	steps := StepsFromDiagnostics(rep)

	want := Step{Column: "Age", Action: ClipZero}
	found := false
	for _, s := range steps {
		if s == want {
			found = true
		}
	}
	if !found {
		t.Fatalf("steps=%v missing %v", steps, want)
	}

	out, _, err := NewEngine(nil).Execute(context.Background(), tb, "ds", []Step{want})
	if err != nil {
		t.Fatalf("Execute err=%v", err)
	}
	c, _ := out.Column("Age")
	if c.Float(1) != 0 {
		t.Fatalf("age=%v want 0", c.Float(1))
	}
}

func TestGroupRareAndReduceCardinality(t *testing.T) {
	vals := make([]string, 1000)
	for i := range vals {
		vals[i] = fmt.Sprintf("c%d", i%10)
	}
	vals[0] = "lonely"
	tb := frame.MustNew(frame.NewText("k", vals, nil))
	out, _ := fullRegistry()[GroupRareCategories](tb, "k")
	c, _ := out.Column("k")
	if c.Str(0) != "other" || c.Str(1) != "c1" {
		t.Fatalf("got %q %q", c.Str(0), c.Str(1))
	}

	wide := make([]string, 300)
	for i := range wide {
		wide[i] = fmt.Sprintf("v%d", i%150)
	}
	tb = frame.MustNew(frame.NewText("w", wide, nil))
	out, _ = fullRegistry()[ReduceCardinality](tb, "w")
	c, _ = out.Column("w")
	if n := c.NUnique(true); n != 101 {
		t.Fatalf("nunique=%d want 101", n)
	}
	if !c.HasMark(MarkCardinalityReduced) {
		t.Fatalf("column not marked")
	}
}

func missingTable(missing int) *frame.Table {
	xs := seq(1000, func(i int) float64 { return float64(i % 17) })
	for i := 0; i < missing; i++ {
		xs[i*1000/missing] = nan
	}
	return frame.MustNew(frame.NewNumber("m", xs), frame.NewNumber("full", seq(1000, func(i int) float64 { return float64(i % 9) })))
}

func TestPreCleanThresholds(t *testing.T) {
	tests := []struct {
		name    string
		missing int
		want    []Step
	}{
		{name: "450_of_1000_drops", missing: 450, want: []Step{{Column: "m", Action: DropFeature}}},
		{name: "400_of_1000_drops", missing: 400, want: []Step{{Column: "m", Action: DropFeature}}},
		{name: "100_of_1000_imputes", missing: 100, want: []Step{{Column: "m", Action: ImputeNumericMedian}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := PreClean(missingTable(tc.missing)); !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("got=%v want=%v", got, tc.want)
			}
		})
	}
}

func TestPreCleanSkewAndText(t *testing.T) {
	skewed := seq(100, func(i int) float64 { return 1 })
	skewed[0] = 500
	tb := frame.MustNew(
		frame.NewText("t", []string{"a", ""}, []bool{false, true}),
		frame.NewNumber("s", []float64{1, 1}),
	)
	if got := PreClean(tb); len(got) != 1 || got[0].Action != DropFeature {
		t.Fatalf("got=%v", got)
	}

	tb = frame.MustNew(frame.NewNumber("s", skewed))
	want := []Step{{Column: "s", Action: ApplyPowerTransform}}
	if got := PreClean(tb); !reflect.DeepEqual(got, want) {
		t.Fatalf("got=%v want=%v", got, want)
	}
}

func TestExecuteSkipsColumnRemovedEarlier(t *testing.T) {
	tb := frame.MustNew(frame.NewNumber("a", []float64{1, nan}), frame.NewNumber("b", []float64{1, 2}))
	rec := &memRecorder{}
	steps := []Step{
		{Column: "a", Action: DropFeature},
		{Column: "a", Action: ImputeNumericMedian},
		{Column: "b", Action: ClipZero},
	}
	out, outcomes, err := NewEngine(nil, WithRecorder(rec)).Execute(context.Background(), tb, "ds", steps)
	if err != nil {
		t.Fatalf("Execute err=%v", err)
	}
	if out.Has("a") || !out.Has("b") {
		t.Fatalf("columns=%v", out.Names())
	}
	gotStatus := []Status{outcomes[0].Status, outcomes[1].Status, outcomes[2].Status}
	if !reflect.DeepEqual(gotStatus, []Status{Applied, Skipped, Applied}) {
		t.Fatalf("statuses=%v", gotStatus)
	}
	if rec.events[1].step != AuditSkipped || rec.events[1].details["reason"] != SkipColumnMissing {
		t.Fatalf("skip event=%+v", rec.events[1])
	}
}

func TestExecuteUnknownActionIsFatal(t *testing.T) {
	tb := frame.MustNew(frame.NewNumber("a", []float64{1}))
	_, _, err := NewEngine(nil).Execute(context.Background(), tb, "ds", []Step{{Column: "a", Action: "make_it_better"}})
	if !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("err=%v want ErrUnknownAction", err)
	}
}

func TestExecuteRecordsFailuresAndContinues(t *testing.T) {
	reg := NewRegistry(DefaultOptions())
	reg["explode"] = func(*frame.Table, string) (*frame.Table, error) { panic("kaboom") }
	reg["refuse"] = func(*frame.Table, string) (*frame.Table, error) { return nil, errors.New("refused") }

	tb := frame.MustNew(frame.NewNumber("a", []float64{-1, 2}))
	rec := &memRecorder{}
	out, outcomes, err := NewEngine(reg, WithRecorder(rec)).Execute(context.Background(), tb, "ds", []Step{
		{Column: "a", Action: "explode"},
		{Column: "a", Action: "refuse"},
		{Column: "a", Action: ClipZero},
	})
	if err != nil {
		t.Fatalf("Execute err=%v", err)
	}
	if outcomes[0].Status != Failed || outcomes[1].Status != Failed || outcomes[2].Status != Applied {
		t.Fatalf("outcomes=%+v", outcomes)
	}
	if rec.events[1].step != AuditFailed || rec.events[1].details["error"] != "refused" {
		t.Fatalf("failure event=%+v", rec.events[1])
	}
	c, _ := out.Column("a")
	if c.Float(0) != 0 {
		t.Fatalf("later step did not run on passed-through table")
	}
}

func TestExecuteStopsWhenCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tb := frame.MustNew(frame.NewNumber("a", []float64{1}))
	_, outcomes, err := NewEngine(nil).Execute(ctx, tb, "ds", []Step{{Column: "a", Action: DropFeature}})
	if !errors.Is(err, context.Canceled) || len(outcomes) != 0 {
		t.Fatalf("err=%v outcomes=%v", err, outcomes)
	}
}

func TestFinalSweepLeavesNoMissing(t *testing.T) {
	tb := frame.MustNew(
		frame.NewNumber("n", []float64{1, nan, 5}),
		frame.NewNumber("allnan", []float64{nan, nan, nan}),
		frame.NewBool("b", []float64{nan, 0, 0}),
		frame.NewText("t", []string{"", "x", ""}, []bool{true, false, true}),
	)
	out := FinalSweep(tb)
	for _, c := range out.Columns() {
		if c.MissingCount() != 0 {
			t.Fatalf("column %s still has %d missing", c.Name(), c.MissingCount())
		}
	}
	n, _ := out.Column("n")
	z, _ := out.Column("allnan")
	if n.Float(1) != 3 || z.Float(0) != 0 {
		t.Fatalf("fills n=%v allnan=%v", n.Float(1), z.Float(0))
	}
	if tb.Columns()[0].MissingCount() != 1 {
		t.Fatalf("input mutated")
	}
}

func TestPostClean(t *testing.T) {
	tb := frame.MustNew(
		frame.NewNumber("a", []float64{1, 2, 3, 4}),
		frame.NewNumber("b", []float64{2, 2, 2, 2}),
		frame.NewText("t", []string{"x", "", "y", "z"}, []bool{false, true, false, false}),
	)
	rep := PostClean(tb)
	if rep.NFeatures != 3 || math.Abs(rep.RemainingMissing-0.25/3) > 1e-12 {
		t.Fatalf("rep=%+v", rep)
	}
	if rep.MeanVariance == nil || math.Abs(*rep.MeanVariance-5.0/6.0) > 1e-12 {
		t.Fatalf("mean variance=%v", rep.MeanVariance)
	}

	onlyText := PostClean(frame.MustNew(frame.NewText("t", []string{"x"}, nil)))
	if onlyText.MeanVariance != nil || onlyText.Details()["mean_variance"] != nil {
		t.Fatalf("mean variance should be nil without number columns")
	}
}
