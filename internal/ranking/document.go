package ranking

// Sheet names the parser understands.
const (
	SheetOrganic   = "Organic"
	SheetSponsored = "Sponsored"
)

// Sheet is one tab of a workbook as row-major typed cells. Row 0 is the
// header; the remaining rows are data.
type Sheet struct {
	Name string
	Rows [][]Cell
}

// Header returns the header row, nil for an empty sheet.
func (s *Sheet) Header() []Cell {
	if s == nil || len(s.Rows) == 0 {
		return nil
	}
	return s.Rows[0]
}

// DataRows returns every row after the header.
func (s *Sheet) DataRows() [][]Cell {
	if s == nil || len(s.Rows) < 2 {
		return nil
	}
	return s.Rows[1:]
}

// Document is a parsed workbook keyed by sheet name.
type Document struct {
	sheets map[string]*Sheet
	names  []string
}

// NewDocument assembles a Document from sheets. Tests build documents
// directly; production code goes through OpenDocument.
func NewDocument(sheets ...*Sheet) *Document {
	d := &Document{sheets: make(map[string]*Sheet, len(sheets))}
	for _, s := range sheets {
		if s == nil {
			continue
		}
		if _, ok := d.sheets[s.Name]; !ok {
			d.names = append(d.names, s.Name)
		}
		d.sheets[s.Name] = s
	}
	return d
}

// Sheet looks up a sheet by name.
func (d *Document) Sheet(name string) (*Sheet, bool) {
	s, ok := d.sheets[name]
	return s, ok
}

// SheetNames returns the sheet names in workbook order.
func (d *Document) SheetNames() []string {
	return d.names
}
