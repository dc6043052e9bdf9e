package ranking

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// OpenDocument parses raw XLSX bytes into a Document with typed cells.
func OpenDocument(data []byte) (*Document, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, eris.Wrap(err, "ranking: open xlsx")
	}

	sheets := make([]*Sheet, 0, len(f.Sheets))
	for _, xs := range f.Sheets {
		sheet := &Sheet{Name: xs.Name, Rows: make([][]Cell, 0, len(xs.Rows))}
		for _, row := range xs.Rows {
			cells := make([]Cell, len(row.Cells))
			for i, c := range row.Cells {
				cells[i] = convertCell(c)
			}
			sheet.Rows = append(sheet.Rows, cells)
		}
		sheets = append(sheets, sheet)
	}

	return NewDocument(sheets...), nil
}

// convertCell maps a tealeg cell onto the parser's typed Cell. Numeric
// cells carrying a date number format become time cells so date headers
// normalize the same way regardless of how the export typed them.
func convertCell(c *xlsx.Cell) Cell {
	switch c.Type() {
	case xlsx.CellTypeNumeric, xlsx.CellTypeDate:
		if c.IsTime() {
			if t, err := c.GetTime(false); err == nil {
				return TimeCell(t)
			}
		}
		if f, err := c.Float(); err == nil {
			return NumberCell(f)
		}
		return StringCell(c.String())
	default:
		s := c.String()
		if s == "" {
			return EmptyCell()
		}
		return StringCell(s)
	}
}
