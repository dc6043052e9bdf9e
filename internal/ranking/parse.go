package ranking

import (
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/rankings-cli/internal/model"
)

// Stats summarizes one parse for the import log and run summary.
type Stats struct {
	KeywordsParsed   int    `json:"keywords_parsed"`
	KeywordsKept     int    `json:"keywords_kept"`
	KeywordsFiltered int    `json:"keywords_filtered"`
	RankEntries      int    `json:"rank_entries"`
	OrganicRanks     int    `json:"organic_ranks"`
	SponsoredRanks   int    `json:"sponsored_ranks"`
	DateRangeStart   string `json:"date_range_start"`
	DateRangeEnd     string `json:"date_range_end"`
	DateCount        int    `json:"date_count"`
}

// Result is the complete output of one parse. Keywords are sorted by
// normalized (ASIN, keyword) so identical input always yields identical
// output.
type Result struct {
	Keywords []model.KeywordProfile
	Ranks    map[model.RankKey]*model.DailyRank
	Dates    []string // canonical date strings, ascending
	Stats    Stats
}

// Parse reconciles a workbook's Organic and Sponsored sheets.
//
// Either sheet may be absent but not both. Keyword identity merges with the
// Sponsored sheet folded first and the Organic sheet overwriting whole
// records, so when a term appears in both the Organic row wins outright.
// Rank facets are independent fields, so that merge runs Organic first then
// Sponsored purely by convention — order cannot change the outcome there.
// Both orderings are deliberate; do not "normalize" them to match.
//
// Structural problems (no recognized sheet, empty primary sheet, missing
// identity columns, no date columns) fail the whole parse with no partial
// output. Cell-level junk never does: bad numerics read as absent and rows
// without an ASIN or keyword are skipped.
func Parse(doc *Document, marketplaceID, importID string) (*Result, error) {
	log := zap.L().With(zap.String("component", "ranking.parse"))

	organic, _ := doc.Sheet(SheetOrganic)
	sponsored, _ := doc.Sheet(SheetSponsored)
	if organic == nil && sponsored == nil {
		return nil, eris.Errorf("ranking: workbook has no %q or %q sheet (found: %s)",
			SheetOrganic, SheetSponsored, strings.Join(doc.SheetNames(), ", "))
	}

	// Organic is the primary sheet for schema purposes when present.
	primary := organic
	if primary == nil || len(primary.Rows) == 0 {
		primary = sponsored
	}
	if primary == nil || len(primary.Rows) < 2 {
		return nil, eris.New("ranking: primary sheet is empty or has no data rows")
	}

	header := primary.Header()
	dates, colMap := DetectDateColumns(header)
	if len(dates) == 0 {
		return nil, eris.New("ranking: no date columns found in header")
	}

	idx, err := ResolveSchema(header, dates, colMap)
	if err != nil {
		return nil, err
	}

	sortedDates := append([]string(nil), dates...)
	sort.Strings(sortedDates)

	log.Info("detected date columns",
		zap.Int("count", len(sortedDates)),
		zap.String("from", sortedDates[0]),
		zap.String("to", sortedDates[len(sortedDates)-1]),
	)

	profiles := extractKeywords(organic, sponsored, idx, sortedDates, marketplaceID, importID)

	kept := make([]model.KeywordProfile, 0, len(profiles))
	keptKeys := make(map[model.TermKey]bool, len(profiles))
	for _, p := range profiles {
		if p.Retained() {
			kept = append(kept, p)
			keptKeys[p.Key()] = true
		}
	}
	filtered := len(profiles) - len(kept)

	log.Info("extracted keywords",
		zap.Int("parsed", len(profiles)),
		zap.Int("kept", len(kept)),
		zap.Int("filtered", filtered),
	)

	ranks, organicCount, sponsoredCount := mergeRanks(organic, sponsored, idx, sortedDates)

	// Rank records were built retention-agnostically; drop the ones whose
	// term did not survive the keyword filter.
	prefilter := len(ranks)
	for key := range ranks {
		if !keptKeys[key.TermKey()] {
			delete(ranks, key)
		}
	}
	if dropped := prefilter - len(ranks); dropped > 0 {
		log.Info("filtered rank entries for skipped keywords", zap.Int("dropped", dropped))
	}

	return &Result{
		Keywords: kept,
		Ranks:    ranks,
		Dates:    sortedDates,
		Stats: Stats{
			KeywordsParsed:   len(profiles),
			KeywordsKept:     len(kept),
			KeywordsFiltered: filtered,
			RankEntries:      len(ranks),
			OrganicRanks:     organicCount,
			SponsoredRanks:   sponsoredCount,
			DateRangeStart:   sortedDates[0],
			DateRangeEnd:     sortedDates[len(sortedDates)-1],
			DateCount:        len(sortedDates),
		},
	}, nil
}

// extractKeywords folds both sheets into one profile per normalized
// (ASIN, keyword) pair. The Sponsored sheet goes first and only fills gaps;
// the Organic sheet then overwrites unconditionally, so Organic data wins
// whole-record whenever both sheets carry the pair.
func extractKeywords(organic, sponsored *Sheet, idx ColumnIndex, sortedDates []string, marketplaceID, importID string) []model.KeywordProfile {
	byKey := make(map[model.TermKey]model.KeywordProfile)
	var order []model.TermKey

	passes := []struct {
		sheet   *Sheet
		organic bool
	}{
		{sponsored, false},
		{organic, true},
	}

	now := time.Now().UTC()

	for _, pass := range passes {
		for _, row := range pass.sheet.DataRows() {
			asin := cellString(row, idx.col("ASIN", 0))
			keyword := cellString(row, idx.col("Keyword", 3))
			if asin == "" || keyword == "" {
				continue // unaddressable row
			}

			key := model.NewTermKey(asin, keyword)
			if _, exists := byKey[key]; exists {
				if !pass.organic {
					continue
				}
			} else {
				order = append(order, key)
			}

			byKey[key] = model.KeywordProfile{
				MarketplaceID: marketplaceID,
				ASIN:          asin,
				Keyword:       keyword,
				SKU:           optionalString(cellString(row, idx.col("SKU", 1))),
				Title:         optionalString(truncate(cellString(row, idx.col("Title", 2)), model.TitleMaxLen)),
				Tracked:       strings.EqualFold(cellString(row, idx.col("Tracked", 4)), "yes"),

				Sales:            cellFloat(row, idx.col("Sales", 5)),
				ACOS:             cellFloat(row, idx.col("ACOS", 6)),
				Conversion:       cellFloat(row, idx.col("Conversion", 7)),
				Spent:            cellFloat(row, idx.col("Spent", 8)),
				Orders:           cellInt(row, idx.col("Orders", 9)),
				Units:            cellInt(row, idx.col("Units", 10)),
				Clicks:           cellInt(row, idx.col("Clicks", 11)),
				QueryVolume:      cellInt(row, idx.col("Query Volume", 12)),
				ConversionDelta:  cellFloat(row, idx.col("Conversion Delta", 13)),
				MarketConversion: cellFloat(row, idx.col("Market Conversion", 14)),
				AsinConversion:   cellFloat(row, idx.col("Asin Conversion", 15)),
				PurchaseShare:    cellFloat(row, idx.col("Purchase Share", 16)),

				PeriodStart: sortedDates[0],
				PeriodEnd:   sortedDates[len(sortedDates)-1],
				ImportID:    importID,
				UpdatedAt:   now,
			}
		}
	}

	sort.Slice(order, func(i, j int) bool {
		if order[i].ASIN != order[j].ASIN {
			return order[i].ASIN < order[j].ASIN
		}
		return order[i].Keyword < order[j].Keyword
	})

	profiles := make([]model.KeywordProfile, 0, len(order))
	for _, key := range order {
		profiles = append(profiles, byKey[key])
	}
	return profiles
}

// mergeRanks builds one DailyRank per (term, date) seen in either sheet.
// A record materializes only when a cell classified as a rank or an
// explicit out-of-range marker; cells empty in both sheets produce nothing.
// Duplicate rows for the same term overwrite their facet last-write-wins.
func mergeRanks(organic, sponsored *Sheet, idx ColumnIndex, sortedDates []string) (map[model.RankKey]*model.DailyRank, int, int) {
	ranks := make(map[model.RankKey]*model.DailyRank)
	var organicCount, sponsoredCount int

	passes := []struct {
		sheet   *Sheet
		organic bool
	}{
		{organic, true},
		{sponsored, false},
	}

	for _, pass := range passes {
		for _, row := range pass.sheet.DataRows() {
			asin := cellString(row, idx.col("ASIN", 0))
			keyword := cellString(row, idx.col("Keyword", 3))
			if asin == "" || keyword == "" {
				continue
			}

			for _, date := range sortedDates {
				dateIdx, ok := idx[date]
				if !ok || dateIdx >= len(row) {
					continue
				}

				rank, outOfRange := ParseRank(row[dateIdx])
				if rank == nil && !outOfRange {
					continue // truly empty cell
				}

				key := model.NewRankKey(asin, keyword, date)
				rec, exists := ranks[key]
				if !exists {
					rec = &model.DailyRank{ASIN: asin, Keyword: keyword, Date: date}
					ranks[key] = rec
				}

				if pass.organic {
					rec.OrganicRank = rank
					rec.OrganicOutOfRange = outOfRange
					organicCount++
				} else {
					rec.SponsoredRank = rank
					rec.SponsoredOutOfRange = outOfRange
					sponsoredCount++
				}
			}
		}
	}

	return ranks, organicCount, sponsoredCount
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
