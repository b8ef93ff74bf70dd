package database

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is applied at startup. The creation store is append-only, so the
// only DDL beyond table creation is a pair of read-path indexes.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	email      TEXT NOT NULL DEFAULT '',
	plan       TEXT NOT NULL DEFAULT 'free',
	free_usage INT  NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS creations (
	id         BIGSERIAL PRIMARY KEY,
	user_id    TEXT NOT NULL,
	prompt     TEXT NOT NULL,
	content    TEXT NOT NULL,
	type       TEXT NOT NULL,
	publish    BOOLEAN NOT NULL DEFAULT FALSE,
	likes      TEXT[] NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_creations_user ON creations (user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_creations_published ON creations (created_at DESC) WHERE publish;
`

// Client holds the database connection pool
type Client struct {
	Pool *pgxpool.Pool
}

// NewClient creates a new database client and applies the schema
func NewClient(ctx context.Context, databaseURL string) (*Client, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	cfg.MaxConns = 10
	cfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed opening connection to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed creating schema resources: %w", err)
	}

	log.Println("✅ Database connected and schema applied")

	return &Client{Pool: pool}, nil
}

// Close closes the database connection
func (c *Client) Close() {
	c.Pool.Close()
}

// Ping checks if the database is reachable
func (c *Client) Ping(ctx context.Context) error {
	return c.Pool.Ping(ctx)
}
