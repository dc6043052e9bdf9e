package pull

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/rankings-cli/internal/alert"
	"github.com/sells-group/rankings-cli/internal/market"
	"github.com/sells-group/rankings-cli/internal/model"
	"github.com/sells-group/rankings-cli/internal/ranking"
	"github.com/sells-group/rankings-cli/internal/store"
)

// fakePortal serves canned workbook bytes per country code.
type fakePortal struct {
	loginErr    error
	logins      int
	workbooks   map[string][]byte
	downloadErr map[string]error
}

func (f *fakePortal) Login(context.Context) error {
	f.logins++
	return f.loginErr
}

func (f *fakePortal) DownloadRankings(_ context.Context, code, _, _ string) ([]byte, error) {
	if err := f.downloadErr[code]; err != nil {
		return nil, err
	}
	return f.workbooks[code], nil
}

// fakeStore is an in-memory Store for runner tests.
type fakeStore struct {
	imports   map[string]*store.ImportRecord
	keywords  []model.KeywordProfile
	ids       map[model.TermKey]string
	ranks     []model.DailyRank
	upsertErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		imports: map[string]*store.ImportRecord{},
		ids:     map[model.TermKey]string{},
	}
}

func (s *fakeStore) CreateImport(_ context.Context, marketplaceID, marketCode string, fileSize int64) (*store.ImportRecord, error) {
	rec := &store.ImportRecord{
		ID: uuid.New().String(), MarketplaceID: marketplaceID, MarketCode: marketCode,
		Status: store.ImportStatusRunning, FileSize: fileSize, StartedAt: time.Now().UTC(),
	}
	s.imports[rec.ID] = rec
	return rec, nil
}

func (s *fakeStore) CompleteImport(_ context.Context, id string, keywords, ranks int) error {
	rec := s.imports[id]
	rec.Status = store.ImportStatusComplete
	rec.KeywordsTotal = keywords
	rec.RanksTotal = ranks
	return nil
}

func (s *fakeStore) FailImport(_ context.Context, id string, cause error) error {
	rec := s.imports[id]
	rec.Status = store.ImportStatusFailed
	rec.Error = cause.Error()
	return nil
}

func (s *fakeStore) ListImports(context.Context, store.ImportFilter) ([]store.ImportRecord, error) {
	return nil, nil
}

func (s *fakeStore) UpsertKeywords(_ context.Context, keywords []model.KeywordProfile) (int64, error) {
	if s.upsertErr != nil {
		return 0, s.upsertErr
	}
	s.keywords = append(s.keywords, keywords...)
	for _, k := range keywords {
		key := k.Key()
		if _, ok := s.ids[key]; !ok {
			s.ids[key] = uuid.New().String()
		}
	}
	return int64(len(keywords)), nil
}

func (s *fakeStore) FetchKeywordIDs(context.Context, string) (map[model.TermKey]string, error) {
	return s.ids, nil
}

func (s *fakeStore) UpsertRanks(_ context.Context, ranks []model.DailyRank) (int64, error) {
	s.ranks = append(s.ranks, ranks...)
	return int64(len(ranks)), nil
}

func (s *fakeStore) Ping(context.Context) error    { return nil }
func (s *fakeStore) Migrate(context.Context) error { return nil }
func (s *fakeStore) Close() error                  { return nil }

// fakeNotifier records alert calls.
type fakeNotifier struct {
	loginFailures  int
	marketFailures []string
	summaries      int
	lastOutcomes   []alert.MarketOutcome
}

func (n *fakeNotifier) LoginFailure(context.Context, error) { n.loginFailures++ }

func (n *fakeNotifier) MarketFailure(_ context.Context, code string, _ error) {
	n.marketFailures = append(n.marketFailures, code)
}

func (n *fakeNotifier) Summary(_ context.Context, outcomes []alert.MarketOutcome, _, _ int, _ time.Duration) {
	n.summaries++
	n.lastOutcomes = outcomes
}

// testWorkbook builds a small organic-sheet workbook with one tracked keyword.
func testWorkbook(t *testing.T, asin, keyword string) []byte {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(ranking.SheetOrganic)
	require.NoError(t, err)

	header := sheet.AddRow()
	for _, name := range ranking.FixedColumns {
		header.AddCell().SetString(name)
	}
	header.AddCell().SetString("2025-01-05")

	row := sheet.AddRow()
	row.AddCell().SetString(asin)
	row.AddCell().SetString("SKU-1")
	row.AddCell().SetString("Widget")
	row.AddCell().SetString(keyword)
	row.AddCell().SetString("Yes")
	for i := 0; i < 12; i++ {
		row.AddCell().SetFloat(1)
	}
	row.AddCell().SetString("7")

	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}

func testMarkets(minSize int64) []market.Market {
	return []market.Market{
		{Code: "US", MarketplaceID: "mkt-us", PortalCode: "US", MinFileSize: minSize},
		{Code: "DE", MarketplaceID: "mkt-de", PortalCode: "DE", MinFileSize: minSize},
	}
}

func TestRunner_Run_Success(t *testing.T) {
	portal := &fakePortal{workbooks: map[string][]byte{
		"US": testWorkbook(t, "A1", "garden widget"),
		"DE": testWorkbook(t, "B2", "garten widget"),
	}}
	st := newFakeStore()
	notifier := &fakeNotifier{}

	r := NewRunner(portal, st, notifier)
	summary, err := r.Run(context.Background(), testMarkets(10), "2025-01-01", "2025-01-07")
	require.NoError(t, err)

	assert.Equal(t, 1, portal.logins)
	assert.Equal(t, 0, summary.FailedCount())
	assert.Equal(t, 2, summary.TotalKeywords)
	assert.Equal(t, 2, summary.TotalRanks)
	assert.Len(t, st.keywords, 2)
	assert.Len(t, st.ranks, 2)
	assert.NotEmpty(t, st.ranks[0].KeywordID)
	assert.NotEmpty(t, st.ranks[0].ImportID)

	// Both imports completed.
	for _, imp := range st.imports {
		assert.Equal(t, store.ImportStatusComplete, imp.Status)
	}
	assert.Empty(t, notifier.marketFailures)
	assert.Equal(t, 1, notifier.summaries)
}

func TestRunner_Run_LoginFailureAborts(t *testing.T) {
	portal := &fakePortal{loginErr: errors.New("invalid credentials")}
	notifier := &fakeNotifier{}

	r := NewRunner(portal, newFakeStore(), notifier)
	_, err := r.Run(context.Background(), testMarkets(10), "2025-01-01", "2025-01-07")
	require.Error(t, err)
	assert.Equal(t, 1, notifier.loginFailures)
	assert.Equal(t, 0, notifier.summaries)
}

func TestRunner_Run_MarketFailureIsolated(t *testing.T) {
	portal := &fakePortal{
		workbooks:   map[string][]byte{"DE": testWorkbook(t, "B2", "garten widget")},
		downloadErr: map[string]error{"US": errors.New("HTTP 503")},
	}
	st := newFakeStore()
	notifier := &fakeNotifier{}

	r := NewRunner(portal, st, notifier)
	summary, err := r.Run(context.Background(), testMarkets(10), "2025-01-01", "2025-01-07")

	// US failed but DE still landed.
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 markets failed")
	assert.Equal(t, []string{"US"}, notifier.marketFailures)
	assert.Equal(t, 1, summary.FailedCount())
	assert.Equal(t, 1, summary.TotalKeywords)
	assert.Len(t, st.keywords, 1)
}

func TestRunner_Run_FileTooSmall(t *testing.T) {
	portal := &fakePortal{workbooks: map[string][]byte{
		"US": []byte("<html>error page</html>"),
	}}
	st := newFakeStore()
	notifier := &fakeNotifier{}

	r := NewRunner(portal, st, notifier)
	markets := []market.Market{{Code: "US", MarketplaceID: "mkt-us", PortalCode: "US", MinFileSize: 10 * 1024}}
	_, err := r.Run(context.Background(), markets, "2025-01-01", "2025-01-07")

	require.Error(t, err)
	require.Len(t, notifier.lastOutcomes, 1)
	assert.Contains(t, notifier.lastOutcomes[0].Err, "file too small")
	// No import record: the size gate fires before any write.
	assert.Empty(t, st.imports)
}

func TestRunner_Run_DryRunSkipsWrites(t *testing.T) {
	portal := &fakePortal{workbooks: map[string][]byte{
		"US": testWorkbook(t, "A1", "garden widget"),
		"DE": testWorkbook(t, "B2", "garten widget"),
	}}
	st := newFakeStore()
	notifier := &fakeNotifier{}

	r := NewRunner(portal, st, notifier)
	r.DryRun = true
	summary, err := r.Run(context.Background(), testMarkets(10), "2025-01-01", "2025-01-07")
	require.NoError(t, err)

	assert.Equal(t, 0, summary.FailedCount())
	assert.Empty(t, st.imports)
	assert.Empty(t, st.keywords)
	assert.Empty(t, st.ranks)
}

func TestRunner_Run_ImportMarkedFailedOnIngestError(t *testing.T) {
	portal := &fakePortal{workbooks: map[string][]byte{
		"US": testWorkbook(t, "A1", "garden widget"),
	}}
	st := newFakeStore()
	st.upsertErr = errors.New("deadlock detected")
	notifier := &fakeNotifier{}

	r := NewRunner(portal, st, notifier)
	markets := testMarkets(10)[:1]
	_, err := r.Run(context.Background(), markets, "2025-01-01", "2025-01-07")
	require.Error(t, err)

	require.Len(t, st.imports, 1)
	for _, imp := range st.imports {
		assert.Equal(t, store.ImportStatusFailed, imp.Status)
		assert.Contains(t, imp.Error, "deadlock")
	}
}

func TestResolveRanks(t *testing.T) {
	rank := 4
	parsed := map[model.RankKey]*model.DailyRank{
		model.NewRankKey("A1", "kw", "2025-01-02"): {ASIN: "A1", Keyword: "kw", Date: "2025-01-02", OrganicRank: &rank},
		model.NewRankKey("A1", "kw", "2025-01-01"): {ASIN: "A1", Keyword: "kw", Date: "2025-01-01"},
		model.NewRankKey("ZZ", "gone", "2025-01-01"): {ASIN: "ZZ", Keyword: "gone", Date: "2025-01-01"},
	}
	ids := map[model.TermKey]string{
		model.NewTermKey("A1", "kw"): "kid-1",
	}

	rows, skipped := resolveRanks(parsed, ids)
	require.Len(t, rows, 2)
	assert.Equal(t, 1, skipped)
	// Deterministic order: by asin, keyword, date.
	assert.Equal(t, "2025-01-01", rows[0].Date)
	assert.Equal(t, "2025-01-02", rows[1].Date)
	assert.Equal(t, "kid-1", rows[0].KeywordID)
}
