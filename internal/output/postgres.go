package output

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tidewatch/chronocrawl/internal/models"
)

// PostgresWriter upserts records into the watches table, keyed by URL.
type PostgresWriter struct {
	pool *pgxpool.Pool
}

const watchesSchema = `
	CREATE TABLE IF NOT EXISTS watches (
		url            TEXT PRIMARY KEY,
		brand          TEXT NOT NULL,
		name           TEXT NOT NULL,
		price          TEXT,
		description    TEXT,
		specifications JSONB,
		run_id         TEXT,
		scraped_at     TIMESTAMPTZ NOT NULL
	)`

func NewPostgresWriter(ctx context.Context, dsn string) (*PostgresWriter, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, watchesSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	return &PostgresWriter{pool: pool}, nil
}

func (w *PostgresWriter) Write(ctx context.Context, record *models.WatchRecord) error {
	query := `
		INSERT INTO watches (url, brand, name, price, description, specifications, run_id, scraped_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (url) DO UPDATE SET
			brand = EXCLUDED.brand,
			name = EXCLUDED.name,
			price = EXCLUDED.price,
			description = EXCLUDED.description,
			specifications = EXCLUDED.specifications,
			run_id = EXCLUDED.run_id,
			scraped_at = EXCLUDED.scraped_at`

	_, err := w.pool.Exec(ctx, query,
		record.URL,
		record.Brand,
		record.Name,
		record.Price,
		record.Description,
		record.Specifications,
		record.RunID,
		record.ScrapedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert watch %s: %w", record.URL, err)
	}

	return nil
}

func (w *PostgresWriter) Close(_ context.Context) error {
	w.pool.Close()
	return nil
}
