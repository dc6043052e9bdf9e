package model

// RankKey identifies one merged rank observation: a normalized term pair on
// a canonical calendar date (YYYY-MM-DD).
type RankKey struct {
	ASIN    string
	Keyword string
	Date    string
}

// NewRankKey builds a normalized RankKey.
func NewRankKey(asin, keyword, date string) RankKey {
	tk := NewTermKey(asin, keyword)
	return RankKey{ASIN: tk.ASIN, Keyword: tk.Keyword, Date: date}
}

// TermKey returns the (ASIN, keyword) portion of the key.
func (k RankKey) TermKey() TermKey {
	return TermKey{ASIN: k.ASIN, Keyword: k.Keyword}
}

// DailyRank is one row for the si_daily_ranks upsert. The organic and
// sponsored facets are independent: either sheet may contribute its half,
// and a record exists as soon as one sheet produced a rank or an explicit
// out-of-range marker for the day.
//
// A nil rank with OutOfRange true means the portal reported the term beyond
// its tracked window (e.g. "97+"); a nil rank with OutOfRange false means
// that facet simply has no data.
type DailyRank struct {
	KeywordID string // filled in after the keyword upsert
	Date      string

	OrganicRank         *int
	OrganicOutOfRange   bool
	SponsoredRank       *int
	SponsoredOutOfRange bool

	// Denormalized identity for downstream joins.
	MarketplaceID string
	ASIN          string
	Keyword       string
	ImportID      string
}
