package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dunamismax/pixelthrift/internal/domain"
	_ "github.com/lib/pq"
)

const savingsSchemaSQL = `
CREATE TABLE IF NOT EXISTS savings_log (
	id BIGSERIAL PRIMARY KEY,
	origin_host TEXT NOT NULL,
	format TEXT NOT NULL,
	input_bytes BIGINT NOT NULL,
	output_bytes BIGINT NOT NULL,
	bytes_saved BIGINT NOT NULL,
	pixel_count BIGINT NOT NULL,
	compute_time_ms BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`

type PostgresSavingsStore struct {
	db *sql.DB
}

func NewPostgresSavingsStore(ctx context.Context, dsn string) (*PostgresSavingsStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PostgresSavingsStore{db: db}
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresSavingsStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, savingsSchemaSQL); err != nil {
		return fmt.Errorf("ensure savings schema: %w", err)
	}
	return nil
}

func (s *PostgresSavingsStore) Close() error {
	return s.db.Close()
}

func (s *PostgresSavingsStore) Record(ctx context.Context, entry domain.SavingsLog) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO savings_log (origin_host, format, input_bytes, output_bytes, bytes_saved, pixel_count, compute_time_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.OriginHost,
		entry.Format,
		entry.InputBytes,
		entry.OutputBytes,
		entry.BytesSaved,
		entry.PixelCount,
		entry.ComputeTimeMS,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert savings log: %w", err)
	}
	return nil
}
