package ranking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedHeader() []Cell {
	cells := make([]Cell, 0, len(FixedColumns))
	for _, name := range FixedColumns {
		cells = append(cells, StringCell(name))
	}
	return cells
}

func TestResolveSchema_IndexesFixedAndDateColumns(t *testing.T) {
	header := append(fixedHeader(), StringCell("2025-01-05"))
	dates, colMap := DetectDateColumns(header)

	idx, err := ResolveSchema(header, dates, colMap)
	require.NoError(t, err)

	assert.Equal(t, 0, idx["ASIN"])
	assert.Equal(t, 3, idx["Keyword"])
	assert.Equal(t, 16, idx["Purchase Share"])
	assert.Equal(t, 17, idx["2025-01-05"])
}

func TestResolveSchema_MissingIdentityColumn(t *testing.T) {
	header := []Cell{StringCell("ASIN"), StringCell("SKU"), StringCell("Title"), StringCell("2025-01-05")}
	dates, colMap := DetectDateColumns(header)

	_, err := ResolveSchema(header, dates, colMap)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Keyword")
	assert.Contains(t, err.Error(), "Tracked")
}

func TestResolveSchema_TimeHeaderResolvesThroughOriginal(t *testing.T) {
	// A datetime-typed header cell renders with a time-of-day suffix, so the
	// canonical date string is not a header key until re-resolved.
	day := time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)
	header := append(fixedHeader(), TimeCell(day))
	dates, colMap := DetectDateColumns(header)
	require.Equal(t, []string{"2025-01-05"}, dates)

	idx, err := ResolveSchema(header, dates, colMap)
	require.NoError(t, err)
	assert.Equal(t, len(FixedColumns), idx["2025-01-05"])
}

func TestColumnIndex_PositionalFallback(t *testing.T) {
	idx := ColumnIndex{"ASIN": 2}
	assert.Equal(t, 2, idx.col("ASIN", 0))
	assert.Equal(t, 8, idx.col("Spent", 8))
}
