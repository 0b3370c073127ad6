// internal/storage/sqlite.go
package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// goose keeps its dialect and base filesystem in package state.
var gooseMu sync.Mutex

// sqlite stores the tree in a single-file database for single-node deployments.
type sqlite struct {
	db *sqlx.DB
}

type nodeRow struct {
	Path      string `db:"path"`
	Value     string `db:"value"`
	Version   int64  `db:"version"`
	UpdatedAt int64  `db:"updated_at"`
}

func (r nodeRow) node() Node {
	return Node{
		Path:      r.Path,
		Value:     json.RawMessage(r.Value),
		Version:   r.Version,
		UpdatedAt: time.UnixMilli(r.UpdatedAt).UTC(),
	}
}

// NewSQLite opens (creating if needed) the database file at path and applies migrations.
func NewSQLite(path string) (Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sqlx.Connect("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, err
	}

	slog.Info("database connected", "driver", "sqlite", "path", path)
	return &sqlite{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	dir, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to get migrations directory: %w", err)
	}
	goose.SetBaseFS(dir)
	goose.SetLogger(goose.NopLogger())

	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (s *sqlite) Close() error {
	return s.db.Close()
}

func (s *sqlite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlite) Get(ctx context.Context, path string) (Node, error) {
	var row nodeRow
	err := s.db.GetContext(ctx, &row,
		`SELECT path, value, version, updated_at FROM nodes WHERE path = ?`, path)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Node{}, ErrNotFound
		}
		return Node{}, fmt.Errorf("get %s: %w", path, err)
	}
	return row.node(), nil
}

func (s *sqlite) Put(ctx context.Context, path string, value json.RawMessage, expectedVersion int64) (Node, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Node{}, fmt.Errorf("put %s: %w", path, err)
	}
	defer tx.Rollback()

	var version int64
	if err := tx.GetContext(ctx, &version,
		`UPDATE version_clock SET value = value + 1 WHERE id = 1 RETURNING value`); err != nil {
		return Node{}, fmt.Errorf("put %s: next version: %w", path, err)
	}

	row := nodeRow{Path: path, Value: string(value), Version: version, UpdatedAt: time.Now().UTC().UnixMilli()}
	var res sql.Result
	if expectedVersion == 0 {
		res, err = tx.NamedExecContext(ctx, `
			INSERT INTO nodes (path, value, version, updated_at)
			VALUES (:path, :value, :version, :updated_at)
			ON CONFLICT (path) DO NOTHING`, row)
	} else {
		res, err = tx.ExecContext(ctx, `
			UPDATE nodes SET value = ?, version = ?, updated_at = ?
			WHERE path = ? AND version = ?`,
			row.Value, row.Version, row.UpdatedAt, path, expectedVersion)
	}
	if err != nil {
		return Node{}, fmt.Errorf("put %s: %w", path, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return Node{}, err
	}
	if n == 0 {
		if expectedVersion == 0 {
			return Node{}, ErrConflict
		}
		return Node{}, ErrVersionMismatch
	}
	if err := tx.Commit(); err != nil {
		return Node{}, fmt.Errorf("put %s: commit: %w", path, err)
	}
	return row.node(), nil
}

func (s *sqlite) Delete(ctx context.Context, path string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM nodes WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlite) DeletePrefix(ctx context.Context, prefix string) error {
	p := childPrefix(prefix)
	if p == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM nodes WHERE substr(path, 1, ?) = ?`, len(p), p)
	if err != nil {
		return fmt.Errorf("delete prefix %s: %w", p, err)
	}
	return nil
}

func (s *sqlite) List(ctx context.Context, prefix string) ([]Node, error) {
	p := childPrefix(prefix)
	var rows []nodeRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT path, value, version, updated_at FROM nodes
		WHERE substr(path, 1, ?) = ?
		ORDER BY path`, len(p), p)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	return toNodes(rows), nil
}

func (s *sqlite) ListWhere(ctx context.Context, prefix, field, value string) ([]Node, error) {
	p := childPrefix(prefix)
	var rows []nodeRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT path, value, version, updated_at FROM nodes
		WHERE substr(path, 1, ?) = ? AND json_extract(value, '$.' || ?) = ?
		ORDER BY path`, len(p), p, field, value)
	if err != nil {
		return nil, fmt.Errorf("list %s where %s: %w", prefix, field, err)
	}
	return toNodes(rows), nil
}

func toNodes(rows []nodeRow) []Node {
	out := make([]Node, len(rows))
	for i, r := range rows {
		out[i] = r.node()
	}
	return out
}
