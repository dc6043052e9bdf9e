package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/rankings-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Used for local
// development and one-off backfills where a Postgres instance is overkill.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS si_keywords (
	id                TEXT PRIMARY KEY,
	marketplace_id    TEXT NOT NULL,
	child_asin        TEXT NOT NULL,
	keyword           TEXT NOT NULL,
	sku               TEXT,
	title             TEXT,
	tracked           INTEGER NOT NULL DEFAULT 0,
	sales             REAL,
	acos              REAL,
	conversion        REAL,
	spent             REAL,
	orders            INTEGER,
	units             INTEGER,
	clicks            INTEGER,
	query_volume      INTEGER,
	conversion_delta  REAL,
	market_conversion REAL,
	asin_conversion   REAL,
	purchase_share    REAL,
	period_start      TEXT,
	period_end        TEXT,
	import_id         TEXT,
	updated_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (marketplace_id, child_asin, keyword)
);

CREATE INDEX IF NOT EXISTS idx_si_keywords_marketplace ON si_keywords(marketplace_id);

CREATE TABLE IF NOT EXISTS si_daily_ranks (
	keyword_id             TEXT NOT NULL REFERENCES si_keywords(id),
	rank_date              TEXT NOT NULL,
	organic_rank           INTEGER,
	organic_out_of_range   INTEGER NOT NULL DEFAULT 0,
	sponsored_rank         INTEGER,
	sponsored_out_of_range INTEGER NOT NULL DEFAULT 0,
	import_id              TEXT,
	updated_at             DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (keyword_id, rank_date)
);

CREATE INDEX IF NOT EXISTS idx_si_daily_ranks_date ON si_daily_ranks(rank_date);

CREATE TABLE IF NOT EXISTS data_imports (
	id             TEXT PRIMARY KEY,
	marketplace_id TEXT NOT NULL,
	market_code    TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'running',
	file_size      INTEGER NOT NULL DEFAULT 0,
	keywords_total INTEGER NOT NULL DEFAULT 0,
	ranks_total    INTEGER NOT NULL DEFAULT 0,
	error          TEXT,
	started_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at   DATETIME
);

CREATE INDEX IF NOT EXISTS idx_data_imports_market ON data_imports(market_code, started_at DESC);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateImport(ctx context.Context, marketplaceID, marketCode string, fileSize int64) (*ImportRecord, error) {
	rec := &ImportRecord{
		ID:            uuid.New().String(),
		MarketplaceID: marketplaceID,
		MarketCode:    marketCode,
		Status:        ImportStatusRunning,
		FileSize:      fileSize,
		StartedAt:     time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO data_imports (id, marketplace_id, market_code, status, file_size, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.MarketplaceID, rec.MarketCode, rec.Status, rec.FileSize, rec.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: create import for %s", marketCode)
	}
	return rec, nil
}

func (s *SQLiteStore) CompleteImport(ctx context.Context, importID string, keywords, ranks int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE data_imports SET status = ?, keywords_total = ?, ranks_total = ?, completed_at = ? WHERE id = ?`,
		ImportStatusComplete, keywords, ranks, time.Now().UTC(), importID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete import %s", importID)
	}
	return checkRowsAffected(res, "import", importID)
}

func (s *SQLiteStore) FailImport(ctx context.Context, importID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE data_imports SET status = ?, error = ?, completed_at = ? WHERE id = ?`,
		ImportStatusFailed, msg, time.Now().UTC(), importID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail import %s", importID)
	}
	return checkRowsAffected(res, "import", importID)
}

func (s *SQLiteStore) ListImports(ctx context.Context, filter ImportFilter) ([]ImportRecord, error) {
	query := `SELECT id, marketplace_id, market_code, status, file_size, keywords_total, ranks_total, error, started_at, completed_at
	          FROM data_imports WHERE 1=1`
	args := []any{}

	if filter.MarketCode != "" {
		query += ` AND market_code = ?`
		args = append(args, filter.MarketCode)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list imports")
	}
	defer rows.Close()

	var records []ImportRecord
	for rows.Next() {
		var rec ImportRecord
		var errMsg sql.NullString
		var completed sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.MarketplaceID, &rec.MarketCode, &rec.Status,
			&rec.FileSize, &rec.KeywordsTotal, &rec.RanksTotal, &errMsg,
			&rec.StartedAt, &completed); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan import")
		}
		if errMsg.Valid {
			rec.Error = errMsg.String
		}
		if completed.Valid {
			t := completed.Time
			rec.CompletedAt = &t
		}
		records = append(records, rec)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: list imports iterate")
}

func (s *SQLiteStore) UpsertKeywords(ctx context.Context, keywords []model.KeywordProfile) (int64, error) {
	if len(keywords) == 0 {
		return 0, nil
	}

	var sets []string
	for _, c := range keywordColumns {
		switch c {
		case "id", "marketplace_id", "child_asin", "keyword":
		default:
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
		}
	}

	query := fmt.Sprintf(
		`INSERT INTO si_keywords (%s) VALUES (%s)
		 ON CONFLICT (marketplace_id, child_asin, keyword) DO UPDATE SET %s`,
		strings.Join(keywordColumns, ", "), placeholderList(len(keywordColumns)), strings.Join(sets, ", "),
	)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert keywords begin")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert keywords prepare")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	var total int64
	for _, k := range keywords {
		res, err := stmt.ExecContext(ctx, keywordRow(uuid.New().String(), k, now)...)
		if err != nil {
			return total, eris.Wrapf(err, "sqlite: upsert keyword %s/%s", k.ASIN, k.Keyword)
		}
		n, _ := res.RowsAffected()
		total += n
	}

	if err := tx.Commit(); err != nil {
		return total, eris.Wrap(err, "sqlite: upsert keywords commit")
	}
	return total, nil
}

func (s *SQLiteStore) FetchKeywordIDs(ctx context.Context, marketplaceID string) (map[model.TermKey]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, child_asin, keyword FROM si_keywords WHERE marketplace_id = ?`,
		marketplaceID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: fetch keyword ids")
	}
	defer rows.Close()

	ids := make(map[model.TermKey]string)
	for rows.Next() {
		var id, asin, keyword string
		if err := rows.Scan(&id, &asin, &keyword); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan keyword id")
		}
		ids[model.NewTermKey(asin, keyword)] = id
	}
	return ids, eris.Wrap(rows.Err(), "sqlite: fetch keyword ids iterate")
}

func (s *SQLiteStore) UpsertRanks(ctx context.Context, ranks []model.DailyRank) (int64, error) {
	if len(ranks) == 0 {
		return 0, nil
	}

	query := fmt.Sprintf(
		`INSERT INTO si_daily_ranks (%s) VALUES (%s)
		 ON CONFLICT (keyword_id, rank_date) DO UPDATE SET
		   organic_rank = excluded.organic_rank,
		   organic_out_of_range = excluded.organic_out_of_range,
		   sponsored_rank = excluded.sponsored_rank,
		   sponsored_out_of_range = excluded.sponsored_out_of_range,
		   import_id = excluded.import_id,
		   updated_at = excluded.updated_at`,
		strings.Join(rankColumns, ", "), placeholderList(len(rankColumns)),
	)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert ranks begin")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert ranks prepare")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	var total int64
	for _, r := range ranks {
		res, err := stmt.ExecContext(ctx, rankRow(r.KeywordID, r, now)...)
		if err != nil {
			return total, eris.Wrapf(err, "sqlite: upsert rank %s@%s", r.KeywordID, r.Date)
		}
		n, _ := res.RowsAffected()
		total += n
	}

	if err := tx.Commit(); err != nil {
		return total, eris.Wrap(err, "sqlite: upsert ranks commit")
	}
	return total, nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "sqlite: rows affected for %s %s", entity, id)
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func placeholderList(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
