package ranking

import "regexp"

const canonicalDateLayout = "2006-01-02"

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// DetectDateColumns identifies date columns in a header row.
//
// A header cell counts as a date column when it is a literal YYYY-MM-DD
// string, a datetime-typed cell, or a string of at least ten characters
// whose prefix is YYYY-MM-DD (the "2025-12-31 00:00:00" export format).
// The returned list preserves header order; colMap maps each canonical date
// string back to the original header cell, which the schema resolver needs
// when the canonical string itself is not a header key.
func DetectDateColumns(header []Cell) (dates []string, colMap map[string]Cell) {
	colMap = make(map[string]Cell)

	for _, cell := range header {
		var canonical string

		s := cell.String()
		switch {
		case datePattern.MatchString(s):
			canonical = s
		case cell.Kind == KindTime:
			canonical = cell.Time.Format(canonicalDateLayout)
		case len(s) >= 10 && datePattern.MatchString(s[:10]):
			canonical = s[:10]
		default:
			continue // fixed field, not a date
		}

		dates = append(dates, canonical)
		colMap[canonical] = cell
	}

	return dates, colMap
}
