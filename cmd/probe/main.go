// Command probe profiles a dataset file and prints the rule-based role of
// every column.
//
// It is the quick, offline counterpart of "tabprep schema": nothing is
// written to a record store and no LLM is consulted, so ambiguous columns
// keep their deterministic role.
//
// Output modes
//
//   - Default mode: prints JSON (load report, profiles and roles) to stdout.
//   - Report mode (-report): prints one aligned text line per column and
//     suppresses JSON output.
//
// Large inputs can be sampled with -rows, which keeps only the first N rows
// after loading.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"tabprep/internal/frame"
	"tabprep/internal/loader"
	"tabprep/internal/schema"
)

// columnRole is one profiled column with its deterministic role.
type columnRole struct {
	schema.Profile
	Role       schema.Role `json:"role"`
	Confidence float64     `json:"confidence"`
	Ambiguous  bool        `json:"ambiguous"`
}

type output struct {
	File    string        `json:"file"`
	Load    loader.Report `json:"load"`
	Sampled bool          `json:"sampled"`
	Target  string        `json:"target,omitempty"`
	Columns []columnRole  `json:"columns"`
}

func main() {
	var (
		// flagPath is the local dataset file (csv, tsv, txt, xlsx, json,
		// jsonl, zip or html).
		flagPath = flag.String("path", "", "Path of the dataset file")

		// flagRows keeps only the first N rows. 0 profiles everything.
		flagRows = flag.Int("rows", 0, "Profile only the first N rows (0 = all)")

		// flagTarget marks the target column; it is reported with the
		// target role instead of a rule-based one.
		flagTarget = flag.String("target", "", "Target column name")

		flagPretty  = flag.Bool("pretty", true, "Pretty-print JSON output")
		flagReport  = flag.Bool("report", false, "Print a text column report (suppresses JSON output)")
		flagTimeout = flag.Duration("timeout", 2*time.Minute, "Load timeout")
	)
	flag.Parse()

	if *flagPath == "" {
		fmt.Fprintln(os.Stderr, "missing -path")
		flag.Usage()
		os.Exit(2)
	}
	if *flagRows < 0 {
		fmt.Fprintln(os.Stderr, "-rows must be >= 0")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *flagTimeout)
	defer cancel()

	t, rep, err := loader.New().Load(ctx, *flagPath)
	if err != nil {
		log.Fatalf("probe: %v", err)
	}
	if *flagTarget != "" && !t.Has(*flagTarget) {
		log.Fatalf("probe: target column %q not found", *flagTarget)
	}

	out := output{File: *flagPath, Load: rep, Target: *flagTarget}
	if *flagRows > 0 && *flagRows < t.NumRows() {
		t = head(t, *flagRows)
		out.Sampled = true
	}
	out.Columns = profile(t, *flagTarget)

	if *flagReport {
		if err := writeReport(os.Stdout, out); err != nil {
			log.Fatalf("probe: write report: %v", err)
		}
		return
	}

	enc := json.NewEncoder(os.Stdout)
	if *flagPretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(out); err != nil {
		log.Fatalf("probe: encode: %v", err)
	}
}

func head(t *frame.Table, n int) *frame.Table {
	keep := make([]int, n)
	for i := range keep {
		keep[i] = i
	}
	return t.Rows(keep)
}

func profile(t *frame.Table, target string) []columnRole {
	profiles := schema.ProfileTable(t)
	out := make([]columnRole, 0, len(profiles))
	for _, p := range profiles {
		cr := columnRole{Profile: p}
		if p.Name == target {
			cr.Role, cr.Confidence = schema.Target, schema.TargetConfidence
		} else {
			cr.Role, cr.Confidence = schema.Deterministic(p)
			cr.Ambiguous = schema.Ambiguous(cr.Role, cr.Confidence)
		}
		out = append(out, cr)
	}
	return out
}

func writeReport(w io.Writer, out output) error {
	fmt.Fprintf(w, "column report: %s (%s, %d rows x %d columns)\n",
		out.File, out.Load.Format, out.Load.Rows, out.Load.Columns)
	if out.Sampled && len(out.Columns) > 0 {
		fmt.Fprintf(w, "sampled: first %d rows\n", out.Columns[0].N)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "COLUMN\tDTYPE\tROLE\tCONF\tUNIQUE\tMISSING\tAMBIGUOUS")
	for _, c := range out.Columns {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%d\t%.3f\t%t\n",
			c.Name, c.Dtype, c.Role, c.Confidence, c.NUnique, c.MissingRatio, c.Ambiguous)
	}
	return tw.Flush()
}
