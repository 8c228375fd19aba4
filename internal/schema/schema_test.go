package schema

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"tabprep/internal/frame"
	"tabprep/internal/storage"
	_ "tabprep/internal/storage/jsonl"
)

func TestDeterministicRules(t *testing.T) {
	tests := []struct {
		name string
		p    Profile
		role Role
		conf float64
	}{
		{name: "datetime", p: Profile{DatetimeRatio: 0.95, NUnique: 500, UniqueRatio: 1}, role: Datetime, conf: 0.95},
		{name: "identifier", p: Profile{NUnique: 1000, UniqueRatio: 1, IsNumeric: true, IsIntegerLike: true}, role: Identifier, conf: 0.9},
		{name: "few_unique_not_identifier", p: Profile{NUnique: 20, UniqueRatio: 1, IsNumeric: true, IsIntegerLike: true}, role: NumericDiscrete, conf: 0.8},
		{name: "discrete", p: Profile{NUnique: 29, UniqueRatio: 0.1, IsNumeric: true, IsIntegerLike: true}, role: NumericDiscrete, conf: 0.8},
		{name: "continuous_many_ints", p: Profile{NUnique: 30, UniqueRatio: 0.1, IsNumeric: true, IsIntegerLike: true}, role: NumericContinuous, conf: 0.85},
		{name: "continuous", p: Profile{NUnique: 5, UniqueRatio: 0.1, IsNumeric: true}, role: NumericContinuous, conf: 0.85},
		{name: "freeform", p: Profile{NUnique: 101, UniqueRatio: 0.6}, role: TextFreeform, conf: 0.7},
		{name: "nominal", p: Profile{NUnique: 50, UniqueRatio: 0.05}, role: CategoricalNominal, conf: 0.7},
		{name: "unknown", p: Profile{NUnique: 80, UniqueRatio: 0.1}, role: Unknown, conf: 0.3},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			role, conf := Deterministic(tc.p)
			if role != tc.role || conf != tc.conf {
				t.Fatalf("got=%s/%v want=%s/%v", role, conf, tc.role, tc.conf)
			}
		})
	}
}

func TestAmbiguityGate(t *testing.T) {
	tests := []struct {
		role Role
		conf float64
		want bool
	}{
		{Datetime, 0.95, false},
		{NumericContinuous, 0.85, false},
		{NumericDiscrete, 0.8, true},
		{CategoricalNominal, 0.99, true},
		{TextFreeform, 0.7, true},
		{Identifier, 0.79, true},
	}
	for _, tc := range tests {
		if got := Ambiguous(tc.role, tc.conf); got != tc.want {
			t.Fatalf("Ambiguous(%s, %v)=%v want %v", tc.role, tc.conf, got, tc.want)
		}
	}
}

func TestArbitrateRequiresStrictlyHigherConfidence(t *testing.T) {
	if r, c := Arbitrate(CategoricalNominal, 0.7, CategoricalOrdinal, 0.7); r != CategoricalNominal || c != 0.7 {
		t.Fatalf("tie went to resolver: %s/%v", r, c)
	}
	if r, c := Arbitrate(CategoricalNominal, 0.7, CategoricalOrdinal, 0.71); r != CategoricalOrdinal || c != 0.71 {
		t.Fatalf("got=%s/%v", r, c)
	}
	if r, _ := Arbitrate(Unknown, 0.3, "", 0.9); r != Unknown {
		t.Fatalf("empty role won")
	}
}

func TestProfileColumn(t *testing.T) {
	nan := math.NaN()

	p := ProfileColumn(frame.NewNumber("x", []float64{1, 2, 2, nan}))
	if p.NUnique != 2 || p.N != 4 || p.UniqueRatio != 0.5 || p.MissingRatio != 0.25 {
		t.Fatalf("counts=%+v", p)
	}
	if !p.IsNumeric || !p.IsIntegerLike || p.Dtype != "float64" {
		t.Fatalf("kind=%+v", p)
	}
	if p.Mean == nil || math.Abs(*p.Mean-5.0/3.0) > 1e-12 || p.Std == nil {
		t.Fatalf("mean=%v std=%v", p.Mean, p.Std)
	}
	if p.Min != 1.0 || p.Max != 2.0 {
		t.Fatalf("range=%v..%v", p.Min, p.Max)
	}
	if !reflect.DeepEqual(p.Sample, []string{"1.0", "2.0"}) {
		t.Fatalf("sample=%v", p.Sample)
	}

	single := ProfileColumn(frame.NewNumber("one", []float64{3, 3, nan}))
	if single.Mean == nil || single.Std != nil {
		t.Fatalf("single-valued mean=%v std=%v", single.Mean, single.Std)
	}
	empty := ProfileColumn(frame.NewNumber("none", []float64{nan, nan}))
	if empty.Mean != nil || empty.Min != nil || empty.DatetimeRatio != 0 || len(empty.Sample) != 0 {
		t.Fatalf("all-missing profile=%+v", empty)
	}

	txt := ProfileColumn(frame.NewText("city", []string{"b", "a", "c"}, nil))
	if txt.IsNumeric || txt.Min != "a" || txt.Max != "c" || txt.Mean != nil {
		t.Fatalf("text profile=%+v", txt)
	}
}

func TestProfileSampleKeepsFirstTenDistinct(t *testing.T) {
	vals := make([]string, 30)
	for i := range vals {
		vals[i] = fmt.Sprintf("v%d", i%15)
	}
	p := ProfileColumn(frame.NewText("v", vals, nil))
	if len(p.Sample) != 10 || p.Sample[0] != "v0" || p.Sample[9] != "v9" {
		t.Fatalf("sample=%v", p.Sample)
	}
}

func TestDatetimeRatio(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want float64
	}{
		{name: "iso", in: []string{"2024-01-02", "2024-02-03"}, want: 1},
		{name: "slashes_and_dashes", in: []string{"01/02/2024", "01-02-2024", "junk", "2024-1-2"}, want: 0.5},
		{name: "timestamp_not_full_match", in: []string{"2024-01-02 10:00:00"}, want: 0},
		{name: "empty", in: nil, want: 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := datetimeRatio(tc.in); got != tc.want {
				t.Fatalf("got=%v want=%v", got, tc.want)
			}
		})
	}

	long := make([]string, 1000)
	for i := range long {
		long[i] = "x"
		if i < 250 {
			long[i] = "2024-01-01"
		}
	}
	if got := datetimeRatio(long); got != 0.5 {
		t.Fatalf("ratio over first 500=%v want 0.5", got)
	}
}

func sampleTable() *frame.Table {
	n := 200
	ids := make([]float64, n)
	grade := make([]float64, n)
	city := make([]string, n)
	label := make([]string, n)
	for i := 0; i < n; i++ {
		ids[i] = float64(i + 1)
		grade[i] = float64(i % 5)
		city[i] = []string{"paris", "lyon", "nice"}[i%3]
		label[i] = []string{"yes", "no"}[i%2]
	}
	return frame.MustNew(
		frame.NewNumber("id", ids),
		frame.NewNumber("grade", grade),
		frame.NewText("city", city, nil),
		frame.NewText("label", label, nil),
	)
}

func TestInferUserDeclarationsWin(t *testing.T) {
	res, err := New().Infer(context.Background(), sampleTable(), []string{"grade"}, "label")
	if err != nil {
		t.Fatalf("Infer err=%v", err)
	}
	want := map[string]Role{"id": Identifier, "grade": CategoricalNominal, "city": CategoricalNominal, "label": Target}
	for name, role := range want {
		c, ok := res.Columns.Get(name)
		if !ok || c.Role != role {
			t.Fatalf("%s role=%s want %s", name, c.Role, role)
		}
	}
	if c, _ := res.Columns.Get("grade"); c.Confidence != 0.99 || c.Source != SourceUser {
		t.Fatalf("grade=%+v", c)
	}
	if c, _ := res.Columns.Get("label"); c.Confidence != 1.0 {
		t.Fatalf("label=%+v", c)
	}
	if res.NRows != 200 || res.NColumns != 4 || res.Target == nil || *res.Target != "label" {
		t.Fatalf("result=%+v", res)
	}
}

func TestInferFailingResolverKeepsDeterministicConfidence(t *testing.T) {
	// Fallback answers (current, 0.5), which never beats the 0.7 rule.
	res, err := New(WithResolver(Fallback)).Infer(context.Background(), sampleTable(), nil, "")
	if err != nil {
		t.Fatalf("Infer err=%v", err)
	}
	c, _ := res.Columns.Get("city")
	if c.Role != CategoricalNominal || c.Confidence != 0.7 || c.Source != SourceRules {
		t.Fatalf("city=%+v", c)
	}
}

func TestInferResolverOnlyForAmbiguousColumns(t *testing.T) {
	var asked []string
	r := ResolverFunc(func(_ context.Context, column string, _ Profile, current Role) (Role, float64) {
		asked = append(asked, column)
		if column == "grade" {
			return CategoricalOrdinal, 0.9
		}
		return current, 0.6
	})
	res, err := New(WithResolver(r)).Infer(context.Background(), sampleTable(), nil, "")
	if err != nil {
		t.Fatalf("Infer err=%v", err)
	}
	if !reflect.DeepEqual(asked, []string{"grade", "city", "label"}) {
		t.Fatalf("asked=%v", asked)
	}
	if c, _ := res.Columns.Get("grade"); c.Role != CategoricalOrdinal || c.Confidence != 0.9 || c.Source != SourceResolver {
		t.Fatalf("grade=%+v", c)
	}
	if c, _ := res.Columns.Get("city"); c.Confidence != 0.7 {
		t.Fatalf("city=%+v", c)
	}
}

func TestInferUnknownColumns(t *testing.T) {
	_, err := New().Infer(context.Background(), sampleTable(), []string{"zip", "city", "age"}, "")
	if !errors.Is(err, ErrUnknownColumn) || !strings.Contains(err.Error(), "age, zip") {
		t.Fatalf("err=%v", err)
	}
	_, err = New().Infer(context.Background(), sampleTable(), nil, "price")
	if !errors.Is(err, ErrUnknownColumn) {
		t.Fatalf("err=%v want ErrUnknownColumn", err)
	}
}

func TestColumnsMarshalInTableOrder(t *testing.T) {
	res, err := New().Infer(context.Background(), sampleTable(), nil, "label")
	if err != nil {
		t.Fatalf("Infer err=%v", err)
	}
	b, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("Marshal err=%v", err)
	}
	s := string(b)
	order := []string{`"id":`, `"grade":`, `"city":`, `"label":{"role":"target"`}
	last := -1
	for _, k := range order {
		i := strings.Index(s, k)
		if i <= last {
			t.Fatalf("key %s out of order in %s", k, s)
		}
		last = i
	}
}

func TestRunInferencePersistsRecords(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "people.csv")
	if err := os.WriteFile(csvPath, []byte("name,kind\nann,a\nbob,b\ncid,a\n"), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	ctx := context.Background()
	st, err := storage.New(ctx, storage.Config{Kind: "jsonl", DSN: dir})
	if err != nil {
		t.Fatalf("storage.New err=%v", err)
	}
	defer st.Close()

	res, err := New(WithStore(st)).RunInference(ctx, csvPath, []string{"kind"}, "")
	if err != nil {
		t.Fatalf("RunInference err=%v", err)
	}
	if res.NRows != 3 {
		t.Fatalf("rows=%d", res.NRows)
	}

	recs, err := st.Latest(ctx, storage.KindClassification, 5)
	if err != nil || len(recs) != 1 {
		t.Fatalf("classification records=%d err=%v", len(recs), err)
	}
	var class struct {
		DatasetFileName string                     `json:"dataset_file_name"`
		TargetColumn    *string                    `json:"target_column"`
		FeatureMapping  map[string]json.RawMessage `json:"feature_mapping"`
	}
	if err := json.Unmarshal(recs[0].Payload, &class); err != nil {
		t.Fatalf("Unmarshal err=%v", err)
	}
	if class.DatasetFileName != "people.csv" || class.TargetColumn != nil {
		t.Fatalf("record=%+v", class)
	}
	if got := string(class.FeatureMapping["kind"]); got != `{"role":"categorical_nominal","confidence":0.99}` {
		t.Fatalf("kind mapping=%s", got)
	}

	inputs, err := st.Latest(ctx, storage.KindUserInputs, 5)
	if err != nil || len(inputs) != 1 {
		t.Fatalf("user input records=%d err=%v", len(inputs), err)
	}
	if !strings.Contains(string(inputs[0].Payload), `"categorical_columns":["kind"]`) {
		t.Fatalf("user inputs=%s", inputs[0].Payload)
	}
}
