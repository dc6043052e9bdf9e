// Package pull orchestrates a rankings run: login, per-market download,
// reconciliation, and persistence, with per-market fault isolation.
package pull

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/rankings-cli/internal/alert"
	"github.com/sells-group/rankings-cli/internal/market"
	"github.com/sells-group/rankings-cli/internal/model"
	"github.com/sells-group/rankings-cli/internal/ranking"
	"github.com/sells-group/rankings-cli/internal/store"
)

// Downloader is the portal surface the runner needs.
type Downloader interface {
	Login(ctx context.Context) error
	DownloadRankings(ctx context.Context, countryCode, fromDate, toDate string) ([]byte, error)
}

// Notifier receives run events. *alert.Alerter satisfies it.
type Notifier interface {
	LoginFailure(ctx context.Context, cause error)
	MarketFailure(ctx context.Context, code string, cause error)
	Summary(ctx context.Context, outcomes []alert.MarketOutcome, totalKeywords, totalRanks int, duration time.Duration)
}

// MarketResult is the outcome of one market's pull.
type MarketResult struct {
	Code     string
	Failed   bool
	Keywords int
	Ranks    int
	Skipped  int // rank entries dropped for lack of a keyword row
	Err      error
}

// RunSummary aggregates a whole run.
type RunSummary struct {
	Results       []MarketResult
	TotalKeywords int
	TotalRanks    int
	Duration      time.Duration
}

// FailedCount returns how many markets failed.
func (s *RunSummary) FailedCount() int {
	n := 0
	for _, r := range s.Results {
		if r.Failed {
			n++
		}
	}
	return n
}

// Runner executes pull runs.
type Runner struct {
	portal  Downloader
	store   store.Store
	alerter Notifier

	// InterMarketDelay spaces consecutive market downloads to stay under
	// the portal's radar. No delay before the first market.
	InterMarketDelay time.Duration

	// DryRun downloads and validates but skips all writes.
	DryRun bool

	printer *message.Printer
}

// NewRunner wires a Runner. The store may be nil only when DryRun is set.
func NewRunner(portal Downloader, st store.Store, alerter Notifier) *Runner {
	return &Runner{
		portal:  portal,
		store:   st,
		alerter: alerter,
		printer: message.NewPrinter(language.English),
	}
}

// Run logs in once and processes the given markets in order. A market
// failure alerts and moves on; a login failure aborts everything. The
// returned error is non-nil when any market failed.
func (r *Runner) Run(ctx context.Context, markets []market.Market, fromDate, toDate string) (*RunSummary, error) {
	start := time.Now()

	zap.L().Info("starting rankings pull",
		zap.Int("markets", len(markets)),
		zap.String("from", fromDate),
		zap.String("to", toDate),
		zap.Bool("dry_run", r.DryRun),
	)

	if err := r.portal.Login(ctx); err != nil {
		r.alerter.LoginFailure(ctx, err)
		return nil, eris.Wrap(err, "pull: portal login")
	}

	summary := &RunSummary{}
	for i, m := range markets {
		if i > 0 && r.InterMarketDelay > 0 {
			zap.L().Info("waiting before next market", zap.Duration("delay", r.InterMarketDelay))
			select {
			case <-ctx.Done():
				return summary, eris.Wrap(ctx.Err(), "pull: cancelled")
			case <-time.After(r.InterMarketDelay):
			}
		}

		res := r.runMarket(ctx, m, fromDate, toDate)
		summary.Results = append(summary.Results, res)

		if res.Failed {
			r.alerter.MarketFailure(ctx, m.Code, res.Err)
			continue
		}
		summary.TotalKeywords += res.Keywords
		summary.TotalRanks += res.Ranks
	}

	summary.Duration = time.Since(start)

	outcomes := make([]alert.MarketOutcome, 0, len(summary.Results))
	for _, res := range summary.Results {
		o := alert.MarketOutcome{Code: res.Code, Failed: res.Failed, Keywords: res.Keywords, Ranks: res.Ranks}
		if res.Err != nil {
			o.Err = res.Err.Error()
		}
		outcomes = append(outcomes, o)
	}
	r.alerter.Summary(ctx, outcomes, summary.TotalKeywords, summary.TotalRanks, summary.Duration)

	if failed := summary.FailedCount(); failed > 0 {
		return summary, eris.Errorf("pull: %d of %d markets failed", failed, len(markets))
	}
	return summary, nil
}

func (r *Runner) runMarket(ctx context.Context, m market.Market, fromDate, toDate string) MarketResult {
	res := MarketResult{Code: m.Code}
	fail := func(err error) MarketResult {
		res.Failed = true
		res.Err = err
		zap.L().Error("market pull failed", zap.String("market", m.Code), zap.Error(err))
		return res
	}

	zap.L().Info("pulling market", zap.String("market", m.Code))

	data, err := r.portal.DownloadRankings(ctx, m.PortalCode, fromDate, toDate)
	if err != nil {
		return fail(eris.Wrapf(err, "download %s", m.Code))
	}

	// Anything under the per-market floor is an HTML error page the portal
	// served with a 200, not a workbook.
	if int64(len(data)) < m.MinFileSize {
		return fail(eris.Errorf(
			"download %s: file too small: %s bytes (minimum %s), likely an error page",
			m.Code, r.printer.Sprintf("%d", len(data)), r.printer.Sprintf("%d", m.MinFileSize)))
	}
	zap.L().Info("downloaded workbook",
		zap.String("market", m.Code),
		zap.String("bytes", r.printer.Sprintf("%d", len(data))),
	)

	if r.DryRun {
		zap.L().Info("dry run, skipping database writes", zap.String("market", m.Code))
		return res
	}

	imp, err := r.store.CreateImport(ctx, m.MarketplaceID, m.Code, int64(len(data)))
	if err != nil {
		return fail(eris.Wrapf(err, "create import for %s", m.Code))
	}

	keywords, ranks, skipped, err := r.ingest(ctx, m, imp.ID, data)
	if err != nil {
		if ferr := r.store.FailImport(ctx, imp.ID, err); ferr != nil {
			zap.L().Warn("mark import failed", zap.String("import_id", imp.ID), zap.Error(ferr))
		}
		return fail(err)
	}

	if err := r.store.CompleteImport(ctx, imp.ID, keywords, ranks); err != nil {
		return fail(eris.Wrapf(err, "complete import for %s", m.Code))
	}

	res.Keywords = keywords
	res.Ranks = ranks
	res.Skipped = skipped
	return res
}

// ingest parses the workbook and writes keywords then ranks. Ranks need the
// keyword row ids, so the keyword upsert lands first and the id map is read
// back before rank rows are built.
func (r *Runner) ingest(ctx context.Context, m market.Market, importID string, data []byte) (keywords, ranks, skipped int, err error) {
	doc, err := ranking.OpenDocument(data)
	if err != nil {
		return 0, 0, 0, eris.Wrapf(err, "open workbook for %s", m.Code)
	}

	result, err := ranking.Parse(doc, m.MarketplaceID, importID)
	if err != nil {
		return 0, 0, 0, eris.Wrapf(err, "parse workbook for %s", m.Code)
	}

	zap.L().Info("parsed workbook",
		zap.String("market", m.Code),
		zap.Int("keywords_kept", result.Stats.KeywordsKept),
		zap.Int("keywords_filtered", result.Stats.KeywordsFiltered),
		zap.Int("rank_entries", result.Stats.RankEntries),
		zap.Int("dates", result.Stats.DateCount),
		zap.String("date_start", result.Stats.DateRangeStart),
		zap.String("date_end", result.Stats.DateRangeEnd),
	)

	kwCount, err := r.store.UpsertKeywords(ctx, result.Keywords)
	if err != nil {
		return 0, 0, 0, eris.Wrapf(err, "upsert keywords for %s", m.Code)
	}

	ids, err := r.store.FetchKeywordIDs(ctx, m.MarketplaceID)
	if err != nil {
		return 0, 0, 0, eris.Wrapf(err, "fetch keyword ids for %s", m.Code)
	}

	rankRows, skipped := resolveRanks(result.Ranks, ids)
	for i := range rankRows {
		rankRows[i].MarketplaceID = m.MarketplaceID
		rankRows[i].ImportID = importID
	}
	if skipped > 0 {
		zap.L().Warn("skipped rank entries without keyword rows",
			zap.String("market", m.Code),
			zap.Int("skipped", skipped),
		)
	}

	rankCount, err := r.store.UpsertRanks(ctx, rankRows)
	if err != nil {
		return 0, 0, 0, eris.Wrapf(err, "upsert ranks for %s", m.Code)
	}

	return int(kwCount), int(rankCount), skipped, nil
}

// resolveRanks attaches keyword row ids to parsed rank records, dropping
// entries whose term has no row. Output order is deterministic.
func resolveRanks(parsed map[model.RankKey]*model.DailyRank, ids map[model.TermKey]string) ([]model.DailyRank, int) {
	keys := make([]model.RankKey, 0, len(parsed))
	for k := range parsed {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.ASIN != b.ASIN {
			return a.ASIN < b.ASIN
		}
		if a.Keyword != b.Keyword {
			return a.Keyword < b.Keyword
		}
		return a.Date < b.Date
	})

	rows := make([]model.DailyRank, 0, len(keys))
	skipped := 0
	for _, k := range keys {
		id, ok := ids[k.TermKey()]
		if !ok {
			skipped++
			continue
		}
		row := *parsed[k]
		row.KeywordID = id
		rows = append(rows, row)
	}
	return rows, skipped
}
