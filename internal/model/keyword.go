// Package model defines the domain records produced by the ranking parser
// and persisted by the store.
package model

import (
	"strings"
	"time"
)

// TitleMaxLen is the storage limit for product titles in si_keywords.
const TitleMaxLen = 500

// TermKey identifies a (product, search term) pair across both workbook
// sheets. ASIN is upper-cased and the keyword lower-cased so the same pair
// compares equal regardless of how the portal cased it.
type TermKey struct {
	ASIN    string
	Keyword string
}

// NewTermKey builds a normalized TermKey from raw cell values.
func NewTermKey(asin, keyword string) TermKey {
	return TermKey{
		ASIN:    strings.ToUpper(strings.TrimSpace(asin)),
		Keyword: strings.ToLower(strings.TrimSpace(keyword)),
	}
}

// KeywordProfile is one row for the si_keywords upsert: the identity of a
// tracked search term plus its performance metrics for the pulled period.
// Metric fields are pointers because the workbook frequently leaves them
// blank and the store must distinguish absent from zero.
type KeywordProfile struct {
	MarketplaceID string
	ASIN          string
	Keyword       string
	SKU           *string
	Title         *string
	Tracked       bool

	Sales            *float64
	ACOS             *float64
	Conversion       *float64
	Spent            *float64
	Orders           *int
	Units            *int
	Clicks           *int
	QueryVolume      *int
	ConversionDelta  *float64
	MarketConversion *float64
	AsinConversion   *float64
	PurchaseShare    *float64

	PeriodStart string
	PeriodEnd   string
	ImportID    string
	UpdatedAt   time.Time
}

// Key returns the normalized dedup key for this profile.
func (k *KeywordProfile) Key() TermKey {
	return NewTermKey(k.ASIN, k.Keyword)
}

// Retained reports whether this keyword is worth persisting: either the
// operator tracks it explicitly, or money was spent advertising against it.
func (k *KeywordProfile) Retained() bool {
	return k.Tracked || (k.Spent != nil && *k.Spent > 0)
}
