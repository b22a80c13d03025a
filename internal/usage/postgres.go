package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresRecorder persists usage records to a usage_records table.
type PostgresRecorder struct {
	db *sql.DB
}

// Open connects to Postgres and verifies the connection.
func Open(databaseURL string) (*PostgresRecorder, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &PostgresRecorder{db: db}, nil
}

func (p *PostgresRecorder) Record(ctx context.Context, rec Record) error {
	query := `
		INSERT INTO usage_records (
			request_id, model, prompt_tokens, completion_tokens,
			finish_reason, streamed, latency_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := p.db.ExecContext(ctx, query,
		rec.RequestID,
		rec.Model,
		rec.PromptTokens,
		rec.CompletionTokens,
		rec.FinishReason,
		rec.Streamed,
		rec.LatencyMs,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting usage record: %w", err)
	}
	return nil
}

// DB exposes the underlying handle for health checks.
func (p *PostgresRecorder) DB() *sql.DB {
	return p.db
}

func (p *PostgresRecorder) Close() error {
	return p.db.Close()
}
