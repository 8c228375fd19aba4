package loader

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"tabprep/internal/frame"
)

// rawCell is one parsed cell before kind inference.
type rawCell struct {
	s  string
	ok bool // false means missing
}

// rawTable is a header plus rows aligned to it.
type rawTable struct {
	headers []string
	rows    [][]rawCell
}

// naTokens are the cell texts read as missing, matching what dataframe
// readers treat as NA by default.
var naTokens = map[string]struct{}{
	"": {}, "#N/A": {}, "#N/A N/A": {}, "#NA": {}, "-1.#IND": {}, "-1.#QNAN": {},
	"-NaN": {}, "-nan": {}, "1.#IND": {}, "1.#QNAN": {}, "<NA>": {}, "N/A": {},
	"NA": {}, "NULL": {}, "NaN": {}, "None": {}, "n/a": {}, "nan": {}, "null": {},
}

func textCell(s string) rawCell {
	if _, na := naTokens[strings.TrimSpace(s)]; na {
		return rawCell{}
	}
	return rawCell{s: s, ok: true}
}

// dropEmptyColumns removes columns whose cells are all missing.
func dropEmptyColumns(rt rawTable) (rawTable, []string) {
	keep := make([]int, 0, len(rt.headers))
	var dropped []string
	for j, h := range rt.headers {
		empty := true
		for _, row := range rt.rows {
			if row[j].ok {
				empty = false
				break
			}
		}
		if empty && len(rt.rows) > 0 {
			dropped = append(dropped, strings.TrimSpace(h))
			continue
		}
		keep = append(keep, j)
	}
	if len(dropped) == 0 {
		return rt, nil
	}

	out := rawTable{headers: make([]string, len(keep)), rows: make([][]rawCell, len(rt.rows))}
	for i, j := range keep {
		out.headers[i] = rt.headers[j]
	}
	for r, row := range rt.rows {
		nr := make([]rawCell, len(keep))
		for i, j := range keep {
			nr[i] = row[j]
		}
		out.rows[r] = nr
	}
	return out, dropped
}

// normalizeHeaders trims names, names blank headers "Unnamed: i" and
// suffixes repeats with ".1", ".2", ...
func normalizeHeaders(in []string) []string {
	out := make([]string, len(in))
	seen := make(map[string]int, len(in))
	for i, h := range in {
		h = strings.TrimSpace(h)
		if h == "" {
			h = fmt.Sprintf("Unnamed: %d", i)
		}
		if n, dup := seen[h]; dup {
			base := h
			for {
				n++
				h = fmt.Sprintf("%s.%d", base, n)
				if _, taken := seen[h]; !taken {
					break
				}
			}
			seen[base] = n
		}
		seen[h] = 0
		out[i] = h
	}
	return out
}

// buildTable infers a kind per column and assembles the frame.
//
// A column is Number when every present cell parses as a float, Bool when
// every present cell is true/false (any case), Text otherwise. A column
// without any present cell is Number (all missing).
func buildTable(rt rawTable) (*frame.Table, error) {
	headers := normalizeHeaders(rt.headers)
	cols := make([]*frame.Column, len(headers))
	for j, name := range headers {
		cells := make([]rawCell, len(rt.rows))
		for r, row := range rt.rows {
			if j < len(row) {
				cells[r] = row[j]
			}
		}
		cols[j] = inferColumn(name, cells)
	}
	return frame.New(cols...)
}

func inferColumn(name string, cells []rawCell) *frame.Column {
	if nums, ok := parseNumbers(cells); ok {
		return frame.NewNumber(name, nums)
	}
	if bools, ok := parseBools(cells); ok {
		return frame.NewBool(name, bools)
	}
	vals := make([]string, len(cells))
	null := make([]bool, len(cells))
	for i, c := range cells {
		vals[i] = c.s
		null[i] = !c.ok
	}
	return frame.NewText(name, vals, null)
}

func parseNumbers(cells []rawCell) ([]float64, bool) {
	out := make([]float64, len(cells))
	for i, c := range cells {
		if !c.ok {
			out[i] = math.NaN()
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(c.s), 64)
		if err != nil || math.IsNaN(v) {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

func parseBools(cells []rawCell) ([]float64, bool) {
	out := make([]float64, len(cells))
	for i, c := range cells {
		if !c.ok {
			out[i] = math.NaN()
			continue
		}
		switch strings.ToLower(strings.TrimSpace(c.s)) {
		case "true":
			out[i] = 1
		case "false":
			out[i] = 0
		default:
			return nil, false
		}
	}
	return out, true
}
