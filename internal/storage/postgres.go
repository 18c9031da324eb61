package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/blacktide/blacktide/internal/intel"
)

// PostgresStore upserts detection entries into an existing table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

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

func (s *PostgresStore) Persist(ctx context.Context, entries []intel.DetectionEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	query := `
		INSERT INTO detections (ip, source, detection_date, threat_type, country, confidence)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (ip, source) DO UPDATE SET
			detection_date = EXCLUDED.detection_date,
			threat_type = EXCLUDED.threat_type,
			country = EXCLUDED.country,
			confidence = EXCLUDED.confidence
	`
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(query, e.IP, e.Source, e.DetectionDate, e.ThreatType, e.Country, string(e.Confidence))
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	inserted := 0
	for range entries {
		if _, err := br.Exec(); err != nil {
			return inserted, fmt.Errorf("failed to upsert detection: %w", err)
		}
		inserted++
	}
	return inserted, nil
}

func (s *PostgresStore) Recent(ctx context.Context, since time.Time) ([]intel.DetectionEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ip, source, detection_date, threat_type, country, confidence
		FROM detections
		WHERE detection_date >= $1
		ORDER BY ip
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer rows.Close()

	var out []intel.DetectionEntry
	for rows.Next() {
		var e intel.DetectionEntry
		var confidence string
		if err := rows.Scan(&e.IP, &e.Source, &e.DetectionDate, &e.ThreatType, &e.Country, &confidence); err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		e.Confidence = intel.Confidence(confidence)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Ping checks database connectivity, for health checks.
func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PostgresStore) Close() { s.pool.Close() }
