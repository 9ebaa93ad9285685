package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/raaihank/pii-sentinel/internal/config"
)

// maxRowsPerStatement keeps bind parameters well under the Postgres limit
const maxRowsPerStatement = 1000

const schema = `
	CREATE TABLE IF NOT EXISTS redacted_records (
		run_id             UUID        NOT NULL,
		record_id          TEXT        NOT NULL,
		redacted_data_json TEXT        NOT NULL,
		is_pii             BOOLEAN     NOT NULL,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (run_id, record_id)
	);
	CREATE INDEX IF NOT EXISTS idx_redacted_records_is_pii ON redacted_records (is_pii);`

// Store persists redacted records in PostgreSQL
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewStore connects to the database and makes sure the table exists
func NewStore(cfg config.StoreConfig, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	store := &Store{
		db:     db,
		logger: logger,
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	logger.Info("Record store initialized successfully",
		zap.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns))

	return store, nil
}

// initialize pings the database and applies the schema
func (s *Store) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	s.logger.Info("Database schema ready")
	return nil
}

// SaveBatch upserts rows; a record written twice in one run keeps the last
// version
func (s *Store) SaveBatch(ctx context.Context, rows []Row) (*SaveResult, error) {
	result := &SaveResult{}
	if len(rows) == 0 {
		return result, nil
	}

	rows = dedupeRows(rows)

	start := time.Now()
	for offset := 0; offset < len(rows); offset += maxRowsPerStatement {
		end := offset + maxRowsPerStatement
		if end > len(rows) {
			end = len(rows)
		}

		query, args := buildUpsert(rows[offset:end])
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			s.logger.Error("Batch upsert failed", zap.Error(err), zap.Int("rows", end-offset))
			return result, fmt.Errorf("batch upsert failed: %w", err)
		}

		written, err := res.RowsAffected()
		if err != nil {
			s.logger.Warn("Could not get rows affected", zap.Error(err))
			written = int64(end - offset)
		}
		result.Written += written
	}
	result.Duration = time.Since(start)

	s.logger.Debug("Batch upsert completed",
		zap.Int64("written", result.Written),
		zap.Duration("duration", result.Duration))

	return result, nil
}

// GetStats returns totals across all runs
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	query := `
		SELECT
			COUNT(*) AS total,
			COUNT(CASE WHEN is_pii THEN 1 END) AS pii,
			COUNT(DISTINCT run_id) AS runs,
			MAX(created_at) AS last_write
		FROM redacted_records`

	if err := s.db.GetContext(ctx, stats, query); err != nil {
		return nil, fmt.Errorf("failed to get record stats: %w", err)
	}

	return stats, nil
}

// RecentRuns returns per-run totals, newest first
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunStats, error) {
	query := `
		SELECT
			run_id::text AS run_id,
			COUNT(*) AS total,
			COUNT(CASE WHEN is_pii THEN 1 END) AS pii,
			MIN(created_at) AS started_at
		FROM redacted_records
		GROUP BY run_id
		ORDER BY started_at DESC
		LIMIT $1`

	var runs []RunStats
	if err := s.db.SelectContext(ctx, &runs, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	return runs, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// dedupeRows keeps the last row per (run_id, record_id); Postgres rejects an
// upsert that touches the same key twice
func dedupeRows(rows []Row) []Row {
	type key struct{ run, record string }
	index := make(map[key]int, len(rows))
	out := make([]Row, 0, len(rows))

	for _, row := range rows {
		k := key{row.RunID, row.RecordID}
		if i, ok := index[k]; ok {
			out[i] = row
			continue
		}
		index[k] = len(out)
		out = append(out, row)
	}
	return out
}

// buildUpsert renders a multi-row upsert for rows
func buildUpsert(rows []Row) (string, []interface{}) {
	valueStrings := make([]string, 0, len(rows))
	valueArgs := make([]interface{}, 0, len(rows)*4)

	for i, row := range rows {
		valueStrings = append(valueStrings, fmt.Sprintf("($%d, $%d, $%d, $%d)", i*4+1, i*4+2, i*4+3, i*4+4))
		valueArgs = append(valueArgs,
			row.RunID,
			row.RecordID,
			row.RedactedDataJSON,
			row.IsPII,
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO redacted_records (run_id, record_id, redacted_data_json, is_pii)
		VALUES %s
		ON CONFLICT (run_id, record_id) DO UPDATE
		SET redacted_data_json = EXCLUDED.redacted_data_json,
			is_pii = EXCLUDED.is_pii,
			created_at = NOW()`,
		strings.Join(valueStrings, ","))

	return query, valueArgs
}

// maskDatabaseURL masks the password in a database URL for logging
func maskDatabaseURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}

	userPart := url[:at]
	colon := strings.LastIndex(userPart, ":")
	// the scheme separator is not a password separator
	if colon < strings.Index(userPart, "://")+3 {
		return url
	}

	return userPart[:colon+1] + "***" + url[at:]
}
