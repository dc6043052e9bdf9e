// Package store persists keyword profiles, daily ranks, and import records.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/rankings-cli/internal/model"
)

// Import statuses.
const (
	ImportStatusRunning  = "running"
	ImportStatusComplete = "complete"
	ImportStatusFailed   = "failed"
)

// ImportRecord tracks one market pull through the data_imports table.
type ImportRecord struct {
	ID            string     `json:"id"`
	MarketplaceID string     `json:"marketplace_id"`
	MarketCode    string     `json:"market_code"`
	Status        string     `json:"status"`
	FileSize      int64      `json:"file_size"`
	KeywordsTotal int        `json:"keywords_total"`
	RanksTotal    int        `json:"ranks_total"`
	Error         string     `json:"error,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// ImportFilter specifies criteria for listing import records.
type ImportFilter struct {
	MarketCode string `json:"market_code,omitempty"`
	Status     string `json:"status,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

// Store defines the persistence interface for the rankings pipeline.
type Store interface {
	// Imports
	CreateImport(ctx context.Context, marketplaceID, marketCode string, fileSize int64) (*ImportRecord, error)
	CompleteImport(ctx context.Context, importID string, keywords, ranks int) error
	FailImport(ctx context.Context, importID string, cause error) error
	ListImports(ctx context.Context, filter ImportFilter) ([]ImportRecord, error)

	// Keywords and ranks
	UpsertKeywords(ctx context.Context, keywords []model.KeywordProfile) (int64, error)
	FetchKeywordIDs(ctx context.Context, marketplaceID string) (map[model.TermKey]string, error)
	UpsertRanks(ctx context.Context, ranks []model.DailyRank) (int64, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// Open creates a Store for the configured driver.
func Open(ctx context.Context, driver, databaseURL, sqlitePath string) (Store, error) {
	switch driver {
	case "postgres":
		if databaseURL == "" {
			return nil, eris.New("store: database_url is required for the postgres driver")
		}
		return NewPostgres(ctx, databaseURL, nil)
	case "sqlite":
		return NewSQLite(sqlitePath)
	default:
		return nil, eris.Errorf("store: unknown driver %q (valid: postgres, sqlite)", driver)
	}
}

// Upsert batch sizes. Keyword rows are wide, rank rows are narrow.
const (
	keywordBatchSize = 500
	rankBatchSize    = 2000
)

// keywordColumns is the column order used by both backends for si_keywords.
var keywordColumns = []string{
	"id", "marketplace_id", "child_asin", "keyword", "sku", "title", "tracked",
	"sales", "acos", "conversion", "spent", "orders", "units", "clicks",
	"query_volume", "conversion_delta", "market_conversion", "asin_conversion",
	"purchase_share", "period_start", "period_end", "import_id", "updated_at",
}

// rankColumns is the column order used by both backends for si_daily_ranks.
var rankColumns = []string{
	"keyword_id", "rank_date", "organic_rank", "organic_out_of_range",
	"sponsored_rank", "sponsored_out_of_range", "import_id", "updated_at",
}

func keywordRow(id string, k model.KeywordProfile, now time.Time) []any {
	return []any{
		id, k.MarketplaceID, k.ASIN, k.Keyword, k.SKU, k.Title, k.Tracked,
		k.Sales, k.ACOS, k.Conversion, k.Spent, k.Orders, k.Units, k.Clicks,
		k.QueryVolume, k.ConversionDelta, k.MarketConversion, k.AsinConversion,
		k.PurchaseShare, k.PeriodStart, k.PeriodEnd, k.ImportID, now,
	}
}

func rankRow(keywordID string, r model.DailyRank, now time.Time) []any {
	return []any{
		keywordID, r.Date, r.OrganicRank, r.OrganicOutOfRange,
		r.SponsoredRank, r.SponsoredOutOfRange, r.ImportID, now,
	}
}
