package metadata

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"
	"testing"

	"tabprep/internal/diagnostics"
	"tabprep/internal/frame"
)

func seq(n int, f func(i int) float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = f(i)
	}
	return out
}

func churnTable() *frame.Table {
	n := 100
	day := make([]string, n)
	plan := make([]string, n)
	churn := make([]string, n)
	for i := 0; i < n; i++ {
		day[i] = fmt.Sprintf("2024-03-%02d", i%28+1)
		plan[i] = []string{"basic", "pro"}[i%2]
		churn[i] = "no"
		if i%4 == 0 {
			churn[i] = "yes"
		}
	}
	return frame.MustNew(
		frame.NewNumber("customer_id", seq(n, func(i int) float64 { return float64(1000 + i) })),
		frame.NewText("signup", day, nil),
		frame.NewText("plan", plan, nil),
		frame.NewNumber("tier", seq(n, func(i int) float64 { return float64(i % 3) })),
		frame.NewNumber("spend", seq(n, func(i int) float64 { return float64(i/2) * 1.5 })),
		frame.NewNumber("country", seq(n, func(int) float64 { return 1 })),
		frame.NewText("Churn", churn, nil),
	)
}

func TestFeatureRoles(t *testing.T) {
	r := FeatureRoles(churnTable(), "")
	want := Roles{
		Target:      "Churn",
		Numeric:     []string{"spend"},
		Categorical: []string{"plan", "tier"},
		Datetime:    []string{"signup"},
		ID:          []string{"customer_id"},
		Constant:    []string{"country"},
	}
	if !reflect.DeepEqual(r, want) {
		t.Fatalf("got=%+v\nwant=%+v", r, want)
	}
}

func TestGenerateSupervised(t *testing.T) {
	md := Generate(churnTable(), "abc12345", "")
	if md.LearningType != Supervised || *md.TargetColumn != "Churn" || *md.TargetType != BinaryClassification {
		t.Fatalf("target=%v type=%v learning=%s", md.TargetColumn, md.TargetType, md.LearningType)
	}
	if !reflect.DeepEqual(md.ClassDistribution, map[string]float64{"no": 0.75, "yes": 0.25}) {
		t.Fatalf("distribution=%v", md.ClassDistribution)
	}
	if len(md.FeatureColumns) != 6 || md.NFeatures != 7 || md.NRows != 100 {
		t.Fatalf("features=%v n=%d rows=%d", md.FeatureColumns, md.NFeatures, md.NRows)
	}
	if md.MaxFeatureCorrelation == nil || *md.MaxFeatureCorrelation < 0.9 {
		t.Fatalf("max corr=%v", md.MaxFeatureCorrelation)
	}
	if md.SchemaVersion != SchemaVersion || md.DatasetID != "abc12345" {
		t.Fatalf("version=%d id=%s", md.SchemaVersion, md.DatasetID)
	}
}

func TestGenerateUnsupervised(t *testing.T) {
	tb := frame.MustNew(frame.NewNumber("a", []float64{1, 2, 3}))
	md := Generate(tb, "x", "")
	if md.LearningType != Unsupervised || md.TargetColumn != nil || md.TargetType != nil || md.ClassDistribution != nil {
		t.Fatalf("md=%+v", md)
	}
	if md.MaxFeatureCorrelation != nil {
		t.Fatalf("max corr with one column=%v", *md.MaxFeatureCorrelation)
	}

	b, err := json.Marshal(md)
	if err != nil {
		t.Fatalf("Marshal err=%v", err)
	}
	for _, want := range []string{`"target_column":null`, `"class_distribution":null`, `"leakage_candidates":[]`, `"auto_fixes_applied":[]`, `"schema_version":1`} {
		if !strings.Contains(string(b), want) {
			t.Fatalf("json missing %s: %s", want, b)
		}
	}
	if !strings.HasPrefix(string(b), `{"dataset_id":"x"`) {
		t.Fatalf("dataset_id should lead: %s", b)
	}
}

func TestTargetTypeAndLeakage(t *testing.T) {
	n := 200
	price := seq(n, func(i int) float64 { return float64(i) * 10 })
	tb := frame.MustNew(
		frame.NewNumber("sqft", seq(n, func(i int) float64 { return float64(i)*2 + 1 })),
		frame.NewNumber("noise", seq(n, func(i int) float64 { return math.Sin(float64(i)) })),
		frame.NewNumber("price", price),
	)
	md := Generate(tb, "", "")
	if *md.TargetColumn != "price" || *md.TargetType != Regression || md.ClassDistribution != nil {
		t.Fatalf("target=%v type=%v", *md.TargetColumn, *md.TargetType)
	}
	if !reflect.DeepEqual(md.LeakageCandidates, []string{"sqft"}) {
		t.Fatalf("leakage=%v", md.LeakageCandidates)
	}

	// A user target overrides the conventional name.
	md = Generate(tb, "", "noise")
	if *md.TargetColumn != "noise" {
		t.Fatalf("target=%v", *md.TargetColumn)
	}
	// An absent user target falls back to the lookup.
	md = Generate(tb, "", "absent")
	if *md.TargetColumn != "price" {
		t.Fatalf("target=%v", *md.TargetColumn)
	}
}

func TestMulticlassSmallNumericTarget(t *testing.T) {
	tb := frame.MustNew(
		frame.NewNumber("x", seq(30, func(i int) float64 { return float64(i) })),
		frame.NewNumber("label", seq(30, func(i int) float64 { return float64(i % 3) })),
	)
	md := Generate(tb, "", "")
	if *md.TargetType != MulticlassClassification || len(md.ClassDistribution) != 3 {
		t.Fatalf("type=%v dist=%v", *md.TargetType, md.ClassDistribution)
	}
}

func TestComplexityScore(t *testing.T) {
	nan := math.NaN()
	tb := frame.MustNew(
		frame.NewNumber("a", []float64{1, 2, 3, 4}),
		frame.NewNumber("b", []float64{2, 4, 6, 8}),
		frame.NewNumber("c", []float64{nan, nan, 1, 2}),
	)
	// missing = (0 + 0 + 0.5) / 3; redundancy: col b -> 1, col c -> (1+1)/2 = 1;
	// dimensionality = 3/4.
	want := 0.4*(0.5/3) + 0.3*1 + 0.3*0.75
	if got := Generate(tb, "", "").DatasetComplexityScore; math.Abs(got-want) > 1e-9 {
		t.Fatalf("score=%v want=%v", got, want)
	}

	wide := make([]*frame.Column, 10)
	for i := range wide {
		wide[i] = frame.NewNumber(fmt.Sprintf("c%d", i), []float64{float64(i), float64(i * i)})
	}
	if got := Generate(frame.MustNew(wide...), "", "").DatasetComplexityScore; got != 1 {
		t.Fatalf("wide score=%v want clipped 1", got)
	}
}

func TestAttach(t *testing.T) {
	md := Generate(frame.MustNew(frame.NewNumber("a", []float64{1})), "", "")
	md.Attach(diagnostics.Report{PolicyRequired: []diagnostics.Result{diagnostics.Policy("p", "a", nil, diagnostics.High)}})
	if len(md.PolicyDecisions) != 1 || md.AutoFixesApplied == nil || md.Informational == nil {
		t.Fatalf("attach=%+v", md)
	}
}
