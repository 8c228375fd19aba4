package loader

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// readXLSX reads the first sheet. The first row is the header; short rows
// are padded with missing cells.
func readXLSX(r io.Reader) (rawTable, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return rawTable{}, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return rawTable{}, ErrNoTable
	}
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return rawTable{}, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return rawTable{}, nil
	}

	rt := rawTable{headers: append([]string(nil), rows[0]...)}
	for _, rec := range rows[1:] {
		if len(rec) > len(rt.headers) {
			rec = rec[:len(rt.headers)]
		}
		row := make([]rawCell, len(rt.headers))
		empty := true
		for j, v := range rec {
			row[j] = textCell(v)
			if row[j].ok {
				empty = false
			}
		}
		if empty {
			continue
		}
		rt.rows = append(rt.rows, row)
	}
	return rt, nil
}
