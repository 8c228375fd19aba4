package loader

import (
	"bufio"
	"encoding/csv"
	"errors"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// sniffLines is how many non-empty lines the delimiter sniffer looks at.
const sniffLines = 10

var delimiterCandidates = []rune{',', ';', '\t', '|'}

// decodeText strips a UTF-8 BOM and falls back to Latin-1 when data is not
// valid UTF-8.
func decodeText(data []byte) (string, bool) {
	data = []byte(strings.TrimPrefix(string(data), "\uFEFF"))
	if utf8.Valid(data) {
		return string(data), false
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return strings.ToValidUTF8(string(data), "\uFFFD"), false
	}
	return string(out), true
}

// sniffDelimiter picks the candidate that splits the first lines into the
// same number of fields most often, preferring more fields. Quoted sections
// are ignored. Defaults to ','.
func sniffDelimiter(text string) rune {
	var lines []string
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() && len(lines) < sniffLines {
		if strings.TrimSpace(sc.Text()) != "" {
			lines = append(lines, sc.Text())
		}
	}
	if len(lines) == 0 {
		return ','
	}

	best, bestScore := ',', 0
	for _, d := range delimiterCandidates {
		counts := map[int]int{}
		for _, l := range lines {
			counts[countUnquoted(l, d)]++
		}
		// The modal field count across lines, ignoring lines without the
		// delimiter.
		mode, freq := 0, 0
		for n, f := range counts {
			if n > 0 && (f > freq || (f == freq && n > mode)) {
				mode, freq = n, f
			}
		}
		if mode == 0 {
			continue
		}
		score := freq*1000 + mode
		if score > bestScore {
			best, bestScore = d, score
		}
	}
	return best
}

func countUnquoted(line string, d rune) int {
	n := 0
	inQuote := false
	for _, r := range line {
		switch {
		case r == '"':
			inQuote = !inQuote
		case r == d && !inQuote:
			n++
		}
	}
	return n
}

// readDelimited parses delimited text. The first record is the header.
// Records whose field count differs from the header are skipped and
// counted.
func readDelimited(text string, delim rune) (rawTable, int, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.Comma = delim
	r.FieldsPerRecord = -1 // we validate manually
	r.LazyQuotes = true

	headers, err := r.Read()
	if errors.Is(err, io.EOF) {
		return rawTable{}, 0, nil
	}
	if err != nil {
		return rawTable{}, 0, err
	}
	headers = append([]string(nil), headers...)

	var (
		rows    [][]rawCell
		skipped int
	)
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				skipped++
				continue
			}
			return rawTable{}, skipped, err
		}
		if len(rec) != len(headers) {
			skipped++
			continue
		}
		row := make([]rawCell, len(rec))
		for i, v := range rec {
			row[i] = textCell(v)
		}
		rows = append(rows, row)
	}
	return rawTable{headers: headers, rows: rows}, skipped, nil
}
