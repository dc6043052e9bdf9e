package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/rankings-cli/internal/db"
	"github.com/sells-group/rankings-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS si_keywords (
	id                TEXT PRIMARY KEY,
	marketplace_id    TEXT NOT NULL,
	child_asin        TEXT NOT NULL,
	keyword           TEXT NOT NULL,
	sku               TEXT,
	title             TEXT,
	tracked           BOOLEAN NOT NULL DEFAULT false,
	sales             DOUBLE PRECISION,
	acos              DOUBLE PRECISION,
	conversion        DOUBLE PRECISION,
	spent             DOUBLE PRECISION,
	orders            INTEGER,
	units             INTEGER,
	clicks            INTEGER,
	query_volume      INTEGER,
	conversion_delta  DOUBLE PRECISION,
	market_conversion DOUBLE PRECISION,
	asin_conversion   DOUBLE PRECISION,
	purchase_share    DOUBLE PRECISION,
	period_start      DATE,
	period_end        DATE,
	import_id         TEXT,
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (marketplace_id, child_asin, keyword)
);

CREATE INDEX IF NOT EXISTS idx_si_keywords_marketplace ON si_keywords(marketplace_id);
CREATE INDEX IF NOT EXISTS idx_si_keywords_tracked ON si_keywords(marketplace_id, tracked);

CREATE TABLE IF NOT EXISTS si_daily_ranks (
	keyword_id             TEXT NOT NULL REFERENCES si_keywords(id),
	rank_date              DATE NOT NULL,
	organic_rank           INTEGER,
	organic_out_of_range   BOOLEAN NOT NULL DEFAULT false,
	sponsored_rank         INTEGER,
	sponsored_out_of_range BOOLEAN NOT NULL DEFAULT false,
	import_id              TEXT,
	updated_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (keyword_id, rank_date)
);

CREATE INDEX IF NOT EXISTS idx_si_daily_ranks_date ON si_daily_ranks(rank_date);

CREATE TABLE IF NOT EXISTS data_imports (
	id             TEXT PRIMARY KEY,
	marketplace_id TEXT NOT NULL,
	market_code    TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'running',
	file_size      BIGINT NOT NULL DEFAULT 0,
	keywords_total INTEGER NOT NULL DEFAULT 0,
	ranks_total    INTEGER NOT NULL DEFAULT 0,
	error          TEXT,
	started_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at   TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_data_imports_market ON data_imports(market_code, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_data_imports_status ON data_imports(status);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateImport(ctx context.Context, marketplaceID, marketCode string, fileSize int64) (*ImportRecord, error) {
	rec := &ImportRecord{
		ID:            uuid.New().String(),
		MarketplaceID: marketplaceID,
		MarketCode:    marketCode,
		Status:        ImportStatusRunning,
		FileSize:      fileSize,
		StartedAt:     time.Now().UTC(),
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO data_imports (id, marketplace_id, market_code, status, file_size, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.MarketplaceID, rec.MarketCode, rec.Status, rec.FileSize, rec.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: create import for %s", marketCode)
	}
	return rec, nil
}

func (s *PostgresStore) CompleteImport(ctx context.Context, importID string, keywords, ranks int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE data_imports
		 SET status = $1, keywords_total = $2, ranks_total = $3, completed_at = $4
		 WHERE id = $5`,
		ImportStatusComplete, keywords, ranks, time.Now().UTC(), importID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete import %s", importID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("import not found: %s", importID)
	}
	return nil
}

func (s *PostgresStore) FailImport(ctx context.Context, importID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE data_imports SET status = $1, error = $2, completed_at = $3 WHERE id = $4`,
		ImportStatusFailed, msg, time.Now().UTC(), importID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail import %s", importID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("import not found: %s", importID)
	}
	return nil
}

func (s *PostgresStore) ListImports(ctx context.Context, filter ImportFilter) ([]ImportRecord, error) {
	query := `SELECT id, marketplace_id, market_code, status, file_size, keywords_total, ranks_total, error, started_at, completed_at
	          FROM data_imports WHERE true`
	args := []any{}
	argIdx := 1

	if filter.MarketCode != "" {
		query += fmt.Sprintf(` AND market_code = $%d`, argIdx)
		args = append(args, filter.MarketCode)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, filter.Status)
		argIdx++
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list imports")
	}
	defer rows.Close()

	var records []ImportRecord
	for rows.Next() {
		var rec ImportRecord
		var errMsg *string
		if err := rows.Scan(&rec.ID, &rec.MarketplaceID, &rec.MarketCode, &rec.Status,
			&rec.FileSize, &rec.KeywordsTotal, &rec.RanksTotal, &errMsg,
			&rec.StartedAt, &rec.CompletedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan import")
		}
		if errMsg != nil {
			rec.Error = *errMsg
		}
		records = append(records, rec)
	}
	return records, eris.Wrap(rows.Err(), "postgres: list imports iterate")
}

// UpsertKeywords writes keyword profiles in batches, keyed on
// (marketplace_id, child_asin, keyword). Row ids survive conflicts so daily
// ranks keep pointing at the same keyword across imports.
func (s *PostgresStore) UpsertKeywords(ctx context.Context, keywords []model.KeywordProfile) (int64, error) {
	if len(keywords) == 0 {
		return 0, nil
	}

	updateCols := make([]string, 0, len(keywordColumns)-4)
	for _, c := range keywordColumns {
		switch c {
		case "id", "marketplace_id", "child_asin", "keyword":
		default:
			updateCols = append(updateCols, c)
		}
	}

	now := time.Now().UTC()
	var total int64
	for start := 0; start < len(keywords); start += keywordBatchSize {
		end := min(start+keywordBatchSize, len(keywords))

		batch := make([][]any, 0, end-start)
		for _, k := range keywords[start:end] {
			batch = append(batch, keywordRow(uuid.New().String(), k, now))
		}

		n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
			Table:        "si_keywords",
			Columns:      keywordColumns,
			ConflictKeys: []string{"marketplace_id", "child_asin", "keyword"},
			UpdateCols:   updateCols,
		}, batch)
		if err != nil {
			return total, eris.Wrapf(err, "postgres: upsert keywords batch at %d", start)
		}
		total += n
	}

	zap.L().Debug("upserted keywords", zap.Int("count", len(keywords)), zap.Int64("affected", total))
	return total, nil
}

// FetchKeywordIDs returns the id for every keyword row in a marketplace,
// keyed by normalized (asin, keyword). Paged so large markets do not hold
// one giant result set open.
func (s *PostgresStore) FetchKeywordIDs(ctx context.Context, marketplaceID string) (map[model.TermKey]string, error) {
	const pageSize = 1000

	ids := make(map[model.TermKey]string)
	for offset := 0; ; offset += pageSize {
		rows, err := s.pool.Query(ctx,
			`SELECT id, child_asin, keyword FROM si_keywords
			 WHERE marketplace_id = $1
			 ORDER BY child_asin, keyword
			 LIMIT $2 OFFSET $3`,
			marketplaceID, pageSize, offset,
		)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: fetch keyword ids")
		}

		count := 0
		for rows.Next() {
			var id, asin, keyword string
			if err := rows.Scan(&id, &asin, &keyword); err != nil {
				rows.Close()
				return nil, eris.Wrap(err, "postgres: scan keyword id")
			}
			ids[model.NewTermKey(asin, keyword)] = id
			count++
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, eris.Wrap(err, "postgres: fetch keyword ids iterate")
		}
		if count < pageSize {
			break
		}
	}
	return ids, nil
}

// UpsertRanks writes daily rank rows in batches, keyed on (keyword_id, rank_date).
func (s *PostgresStore) UpsertRanks(ctx context.Context, ranks []model.DailyRank) (int64, error) {
	if len(ranks) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	var total int64
	for start := 0; start < len(ranks); start += rankBatchSize {
		end := min(start+rankBatchSize, len(ranks))

		batch := make([][]any, 0, end-start)
		for _, r := range ranks[start:end] {
			batch = append(batch, rankRow(r.KeywordID, r, now))
		}

		n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
			Table:        "si_daily_ranks",
			Columns:      rankColumns,
			ConflictKeys: []string{"keyword_id", "rank_date"},
		}, batch)
		if err != nil {
			return total, eris.Wrapf(err, "postgres: upsert ranks batch at %d", start)
		}
		total += n
	}

	zap.L().Debug("upserted ranks", zap.Int("count", len(ranks)), zap.Int64("affected", total))
	return total, nil
}
