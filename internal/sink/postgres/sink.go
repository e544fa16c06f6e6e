// Package postgres provides a Postgres-backed RecordSink.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rfpscout/rfpscout/internal/pipeline"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for record rows.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// Sink writes validated records and their scores into Postgres. Records are
// keyed by ID so re-processing the same page updates the existing row. Dead
// letters land in a sibling table named <table>_dead_letter.
type Sink struct {
	pool      pgxPool
	table     string
	deadTable string
}

// New creates a Postgres-backed Sink using the provided config.
//
// Expected schema:
//
//	CREATE TABLE records (
//	    id TEXT PRIMARY KEY,
//	    schema_version TEXT NOT NULL,
//	    title TEXT NOT NULL,
//	    source_url TEXT NOT NULL,
//	    agency TEXT,
//	    deadline_date TIMESTAMPTZ,
//	    overall_score DOUBLE PRECISION,
//	    high_priority BOOLEAN NOT NULL DEFAULT FALSE,
//	    unscored BOOLEAN NOT NULL DEFAULT FALSE,
//	    record JSONB NOT NULL,
//	    score JSONB NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
//	CREATE TABLE records_dead_letter (
//	    id BIGSERIAL PRIMARY KEY,
//	    record_id TEXT NOT NULL,
//	    record JSONB NOT NULL,
//	    score JSONB NOT NULL,
//	    cause TEXT NOT NULL,
//	    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
func New(ctx context.Context, cfg Config) (*Sink, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	return NewWithPool(pool, cfg.Table)
}

// NewWithPool wires a Sink onto an existing pool, for tests.
func NewWithPool(pool pgxPool, table string) (*Sink, error) {
	if table == "" {
		table = "records"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Sink{pool: pool, table: table, deadTable: table + "_dead_letter"}, nil
}

// Close shuts down the connection pool.
func (s *Sink) Close() {
	s.pool.Close()
}

// Upsert inserts or updates the row for the record's ID.
func (s *Sink) Upsert(ctx context.Context, record pipeline.ValidatedRecord, score pipeline.ScoreResult) error {
	recordJSON, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	scoreJSON, err := json.Marshal(score)
	if err != nil {
		return fmt.Errorf("marshal score: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, schema_version, title, source_url, agency, deadline_date,
			overall_score, high_priority, unscored, record, score, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (id) DO UPDATE SET
			schema_version = EXCLUDED.schema_version,
			title = EXCLUDED.title,
			source_url = EXCLUDED.source_url,
			agency = EXCLUDED.agency,
			deadline_date = EXCLUDED.deadline_date,
			overall_score = EXCLUDED.overall_score,
			high_priority = EXCLUDED.high_priority,
			unscored = EXCLUDED.unscored,
			record = EXCLUDED.record,
			score = EXCLUDED.score,
			updated_at = NOW();
	`, s.table)

	_, err = s.pool.Exec(ctx, query,
		record.ID,
		record.SchemaVersion,
		record.Title,
		record.SourceURL,
		record.Agency,
		record.DeadlineDate,
		score.Overall,
		score.HighPriority,
		score.Unscored,
		recordJSON,
		scoreJSON,
	)
	if err != nil {
		return fmt.Errorf("upsert record %s: %w", record.ID, err)
	}
	return nil
}

// DeadLetter appends the record to the dead-letter table for later replay.
func (s *Sink) DeadLetter(ctx context.Context, record pipeline.ValidatedRecord, score pipeline.ScoreResult, cause string) error {
	recordJSON, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	scoreJSON, err := json.Marshal(score)
	if err != nil {
		return fmt.Errorf("marshal score: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (record_id, record, score, cause, created_at)
		VALUES ($1, $2, $3, $4, NOW());
	`, s.deadTable)

	if _, err := s.pool.Exec(ctx, query, record.ID, recordJSON, scoreJSON, cause); err != nil {
		return fmt.Errorf("dead-letter record %s: %w", record.ID, err)
	}
	return nil
}

// List returns persisted records, best-scored first, unscored last.
func (s *Sink) List(ctx context.Context, highPriorityOnly bool, limit int) ([]pipeline.ValidatedRecord, []pipeline.ScoreResult, error) {
	if limit <= 0 {
		limit = 100
	}
	filter := ""
	if highPriorityOnly {
		filter = "WHERE high_priority"
	}
	query := fmt.Sprintf(`
		SELECT record, score FROM %s %s
		ORDER BY overall_score DESC NULLS LAST, id
		LIMIT $1;
	`, s.table, filter)

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var (
		records []pipeline.ValidatedRecord
		scores  []pipeline.ScoreResult
	)
	for rows.Next() {
		var recordJSON, scoreJSON []byte
		if err := rows.Scan(&recordJSON, &scoreJSON); err != nil {
			return nil, nil, fmt.Errorf("scan record row: %w", err)
		}
		var record pipeline.ValidatedRecord
		if err := json.Unmarshal(recordJSON, &record); err != nil {
			return nil, nil, fmt.Errorf("unmarshal record: %w", err)
		}
		var score pipeline.ScoreResult
		if err := json.Unmarshal(scoreJSON, &score); err != nil {
			return nil, nil, fmt.Errorf("unmarshal score: %w", err)
		}
		records = append(records, record)
		scores = append(scores, score)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate record rows: %w", err)
	}
	return records, scores, nil
}
