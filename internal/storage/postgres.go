// internal/storage/postgres.go
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// postgres stores the tree in a single nodes table keyed by path.
type postgres struct {
	db *pgxpool.Pool // Connection pool to PostgreSQL database
}

// NewPostgres creates a new PostgreSQL storage implementation.
// It establishes a connection pool to the database and initializes the schema.
// Parameters:
//   - dsn: Database connection string in PostgreSQL format
//
// Returns:
//   - Store: Implementation of the storage interface
//   - error: Any error that occurred during initialization
func NewPostgres(dsn string) (Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid database DSN: %w", err)
	}

	// Connection pool settings
	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = time.Minute * 30
	config.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &postgres{db: pool}, nil
}

// initSchema creates the nodes table and its indexes if they don't already exist.
func initSchema(ctx context.Context, db *pgxpool.Pool) error {
	schema := `
		CREATE TABLE IF NOT EXISTS nodes (
		    path TEXT PRIMARY KEY,                   -- Escaped tree path
		    value JSONB NOT NULL,                    -- Node document
		    version BIGINT NOT NULL,                 -- From node_version_seq on every write
		    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_nodes_path_pattern ON nodes (path text_pattern_ops);

		-- Shared by every path so a re-created node never repeats a version
		CREATE SEQUENCE IF NOT EXISTS node_version_seq;
		SELECT setval('node_version_seq', GREATEST(
		    (SELECT COALESCE(MAX(version), 0) FROM nodes),
		    (SELECT last_value FROM node_version_seq)
		) + 1, false);
	`
	_, err := db.Exec(ctx, schema)
	return err
}

func (p *postgres) Close() error {
	p.db.Close()
	return nil
}

func (p *postgres) Ping(ctx context.Context) error {
	return p.db.Ping(ctx)
}

func (p *postgres) Get(ctx context.Context, path string) (Node, error) {
	n := Node{Path: path}
	err := p.db.QueryRow(ctx,
		`SELECT value, version, updated_at FROM nodes WHERE path = $1`, path,
	).Scan(&n.Value, &n.Version, &n.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Node{}, ErrNotFound
		}
		return Node{}, fmt.Errorf("get %s: %w", path, err)
	}
	return n, nil
}

func (p *postgres) Put(ctx context.Context, path string, value json.RawMessage, expectedVersion int64) (Node, error) {
	n := Node{Path: path, Value: value}

	if expectedVersion == 0 {
		err := p.db.QueryRow(ctx, `
			INSERT INTO nodes (path, value, version, updated_at)
			VALUES ($1, $2, nextval('node_version_seq'), NOW())
			ON CONFLICT (path) DO NOTHING
			RETURNING version, updated_at`,
			path, []byte(value),
		).Scan(&n.Version, &n.UpdatedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return Node{}, ErrConflict
			}
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return Node{}, ErrConflict
			}
			return Node{}, fmt.Errorf("create %s: %w", path, err)
		}
		return n, nil
	}

	err := p.db.QueryRow(ctx, `
		UPDATE nodes SET value = $2, version = nextval('node_version_seq'), updated_at = NOW()
		WHERE path = $1 AND version = $3
		RETURNING version, updated_at`,
		path, []byte(value), expectedVersion,
	).Scan(&n.Version, &n.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Node{}, ErrVersionMismatch
		}
		return Node{}, fmt.Errorf("update %s: %w", path, err)
	}
	return n, nil
}

func (p *postgres) Delete(ctx context.Context, path string) error {
	tag, err := p.db.Exec(ctx, `DELETE FROM nodes WHERE path = $1`, path)
	if err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *postgres) DeletePrefix(ctx context.Context, prefix string) error {
	pfx := childPrefix(prefix)
	if pfx == "" {
		return nil
	}
	if _, err := p.db.Exec(ctx, `DELETE FROM nodes WHERE starts_with(path, $1)`, pfx); err != nil {
		return fmt.Errorf("delete prefix %s: %w", pfx, err)
	}
	return nil
}

func (p *postgres) List(ctx context.Context, prefix string) ([]Node, error) {
	rows, err := p.db.Query(ctx, `
		SELECT path, value, version, updated_at FROM nodes
		WHERE starts_with(path, $1)
		ORDER BY path`,
		childPrefix(prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	return collectNodes(rows)
}

func (p *postgres) ListWhere(ctx context.Context, prefix, field, value string) ([]Node, error) {
	rows, err := p.db.Query(ctx, `
		SELECT path, value, version, updated_at FROM nodes
		WHERE starts_with(path, $1) AND value->>$2 = $3
		ORDER BY path`,
		childPrefix(prefix), field, value,
	)
	if err != nil {
		return nil, fmt.Errorf("list %s where %s: %w", prefix, field, err)
	}
	return collectNodes(rows)
}

func collectNodes(rows pgx.Rows) ([]Node, error) {
	defer rows.Close()

	out := make([]Node, 0)
	for rows.Next() {
		var n Node
		if err := rows.Scan(&n.Path, &n.Value, &n.Version, &n.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
