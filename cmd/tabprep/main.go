// Command tabprep diagnoses, cleans and profiles tabular datasets.
//
// Subcommands:
//
//   - clean:       run the full cleaning pipeline on one file
//   - schema:      infer column roles and store the classification
//   - diagnose:    print the diagnostics report without changing anything
//   - fingerprint: assess the latest stored metadata records
//
// Settings come from ./tabprep.yaml (or -config), a .env file and
// TABPREP_* environment variables; persistent flags override them.
package main

import "tabprep/internal/cli"

func main() {
	cli.Execute()
}
