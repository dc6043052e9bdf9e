package ranking

import (
	"strings"

	"github.com/rotisserie/eris"
)

// FixedColumns is the documented fixed layout preceding the per-day rank
// columns in every ScaleInsights export. Position in this slice doubles as
// the fallback column index when a metric header is missing.
var FixedColumns = []string{
	"ASIN", "SKU", "Title", "Keyword", "Tracked",
	"Sales", "ACOS", "Conversion", "Spent", "Orders",
	"Units", "Clicks", "Query Volume", "Conversion Delta",
	"Market Conversion", "Asin Conversion", "Purchase Share",
}

// requiredColumns are the identity fields every downstream record depends
// on; a sheet missing any of them is unusable.
const requiredColumns = 5 // ASIN, SKU, Title, Keyword, Tracked

// ColumnIndex maps a canonical column name (fixed field or YYYY-MM-DD date)
// to its zero-based position in a data row.
type ColumnIndex map[string]int

// col returns the position for name, falling back to the documented fixed
// layout position when the header did not carry the column.
func (idx ColumnIndex) col(name string, fallback int) int {
	if i, ok := idx[name]; ok {
		return i
	}
	return fallback
}

// ResolveSchema builds a ColumnIndex from a header row plus the detected
// date columns. It fails when any identity column is missing; metric
// columns degrade to positional fallbacks at read time instead.
//
// Date columns whose canonical string is not itself a header key (a
// datetime-typed header renders with a time-of-day suffix) are re-resolved
// through the original header value from colMap.
func ResolveSchema(header []Cell, dates []string, colMap map[string]Cell) (ColumnIndex, error) {
	idx := make(ColumnIndex, len(header)+len(dates))
	for i, cell := range header {
		idx[cell.String()] = i
	}

	var missing []string
	for _, name := range FixedColumns[:requiredColumns] {
		if _, ok := idx[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, eris.Errorf("ranking: missing required columns: %s", strings.Join(missing, ", "))
	}

	for _, date := range dates {
		if _, ok := idx[date]; ok {
			continue
		}
		if original, ok := colMap[date]; ok {
			if i, ok := idx[original.String()]; ok {
				idx[date] = i
			}
		}
	}

	return idx, nil
}
