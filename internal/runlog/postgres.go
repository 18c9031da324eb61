package runlog

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/blacktide/blacktide/internal/intel"
)

// PostgresStore implements Store using PostgreSQL. The table is owned by
// the external storage layer; this store only appends and reads.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed run-log store.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Append(ctx context.Context, rec intel.RunLogRecord) error {
	query := `
		INSERT INTO collection_runs (source, started_at, finished_at, status, result_count, error)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.pool.Exec(ctx, query,
		rec.Source, rec.StartedAt, rec.FinishedAt, string(rec.Status), rec.ResultCount, rec.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to append run record: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListBySource(ctx context.Context, source string, since time.Time) ([]intel.RunLogRecord, error) {
	query := `
		SELECT source, started_at, finished_at, status, result_count, COALESCE(error, '')
		FROM collection_runs
		WHERE source = $1 AND started_at >= $2
		ORDER BY started_at DESC
	`
	rows, err := s.pool.Query(ctx, query, source, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list run records: %w", err)
	}
	defer rows.Close()

	var out []intel.RunLogRecord
	for rows.Next() {
		var rec intel.RunLogRecord
		var status string
		if err := rows.Scan(&rec.Source, &rec.StartedAt, &rec.FinishedAt, &status, &rec.ResultCount, &rec.Error); err != nil {
			return nil, fmt.Errorf("failed to scan run record: %w", err)
		}
		rec.Status = intel.RunStatus(status)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read run records: %w", err)
	}
	return out, nil
}

// Ping checks database connectivity, for health checks.
func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PostgresStore) Close() { s.pool.Close() }
