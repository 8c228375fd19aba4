package loader

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// readHTML reads the first <table> of a document. Header cells come from
// <thead> when present, otherwise from the first row. Cells are read as
// trimmed text; rows with a different cell count than the header are padded
// or truncated.
func readHTML(r io.Reader) (rawTable, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return rawTable{}, fmt.Errorf("parse html: %w", err)
	}
	table := doc.Find("table").First()
	if table.Length() == 0 {
		return rawTable{}, ErrNoTable
	}

	var trs []*goquery.Selection
	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		// Skip rows of nested tables.
		if tr.Closest("table").IsSelection(table) {
			trs = append(trs, tr)
		}
	})
	if len(trs) == 0 {
		return rawTable{}, ErrNoTable
	}

	cellsOf := func(tr *goquery.Selection) []string {
		var out []string
		tr.ChildrenFiltered("th, td").Each(func(_ int, c *goquery.Selection) {
			out = append(out, strings.TrimSpace(c.Text()))
		})
		return out
	}

	headers := cellsOf(trs[0])
	rt := rawTable{headers: headers}
	for _, tr := range trs[1:] {
		cells := cellsOf(tr)
		if len(cells) == 0 {
			continue
		}
		row := make([]rawCell, len(headers))
		for j := range row {
			if j < len(cells) {
				row[j] = textCell(cells[j])
			}
		}
		rt.rows = append(rt.rows, row)
	}
	return rt, nil
}
