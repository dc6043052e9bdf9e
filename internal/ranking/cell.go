// Package ranking reconciles the Organic and Sponsored sheets of a
// ScaleInsights keyword-ranking workbook into keyword profiles and per-day
// rank records. The package is pure: it performs no I/O beyond reading the
// workbook handed to it and holds no state between invocations.
package ranking

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// MaxTrackedRank is the highest rank position the portal displays. Anything
// parsed beyond it is reported as out-of-range rather than as a literal rank.
const MaxTrackedRank = 306

// CellKind discriminates the value held by a Cell.
type CellKind int

const (
	KindEmpty CellKind = iota
	KindString
	KindNumber
	KindTime
)

// Cell is one spreadsheet cell. Workbook cells arrive as strings, numbers,
// datetimes, or nothing at all, and every consumer in this package has to
// cope with any of them in any column.
type Cell struct {
	Kind CellKind
	Str  string
	Num  float64
	Time time.Time
}

// EmptyCell returns a cell holding no value.
func EmptyCell() Cell { return Cell{Kind: KindEmpty} }

// StringCell returns a cell holding a string value.
func StringCell(s string) Cell { return Cell{Kind: KindString, Str: s} }

// NumberCell returns a cell holding a numeric value.
func NumberCell(f float64) Cell { return Cell{Kind: KindNumber, Num: f} }

// TimeCell returns a cell holding a datetime value.
func TimeCell(t time.Time) Cell { return Cell{Kind: KindTime, Time: t} }

// IsEmpty reports whether the cell holds no usable value. NaN numbers count
// as empty: they are how blank numeric cells surface.
func (c Cell) IsEmpty() bool {
	switch c.Kind {
	case KindEmpty:
		return true
	case KindNumber:
		return math.IsNaN(c.Num)
	case KindString:
		return c.Str == ""
	default:
		return false
	}
}

// String renders the cell the way the portal would have printed it. Numbers
// that are whole render without a fractional part so an ASIN column read as
// numeric does not grow a spurious ".0".
func (c Cell) String() string {
	switch c.Kind {
	case KindString:
		return strings.TrimSpace(c.Str)
	case KindNumber:
		if math.IsNaN(c.Num) {
			return ""
		}
		if c.Num == math.Trunc(c.Num) && math.Abs(c.Num) < 1e15 {
			return strconv.FormatInt(int64(c.Num), 10)
		}
		return strconv.FormatFloat(c.Num, 'f', -1, 64)
	case KindTime:
		return c.Time.Format("2006-01-02 15:04:05")
	default:
		return ""
	}
}

// ParseRank classifies one rank cell.
//
// It returns (nil, false) for no data (empty, NaN, or unparseable text),
// (nil, true) for an explicit saturation marker ("97+") or a parsed value
// outside [1, MaxTrackedRank], and (&rank, false) for a plausible rank.
// It never fails: free-text artifacts occasionally appear in rank columns
// and must read as no-data, not as an error.
func ParseRank(c Cell) (*int, bool) {
	if c.IsEmpty() {
		return nil, false
	}

	s := c.String()
	if s == "" {
		return nil, false
	}

	if strings.HasSuffix(s, "+") {
		return nil, true
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, false
	}

	rank := int(f)
	if rank >= 1 && rank <= MaxTrackedRank {
		return &rank, false
	}
	return nil, true
}

// cellString reads a cell as a trimmed string, empty when absent.
func cellString(row []Cell, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx].String()
}

// cellFloat reads a cell as a float, nil when absent or unparseable.
func cellFloat(row []Cell, idx int) *float64 {
	if idx < 0 || idx >= len(row) {
		return nil
	}
	c := row[idx]
	if c.IsEmpty() {
		return nil
	}
	if c.Kind == KindNumber {
		f := c.Num
		return &f
	}
	f, err := strconv.ParseFloat(c.String(), 64)
	if err != nil {
		return nil
	}
	return &f
}

// cellInt reads a cell as an int, nil when absent or unparseable. Values
// that arrive as floats of integers are accepted.
func cellInt(row []Cell, idx int) *int {
	f := cellFloat(row, idx)
	if f == nil {
		return nil
	}
	n := int(*f)
	return &n
}
