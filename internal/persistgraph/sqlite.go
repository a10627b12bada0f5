// File: internal/persistgraph/sqlite.go
// Brief: Local SQLite ObjectStore for runs without a bucket.

package persistgraph

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const SQLiteRelPath = ".stackctl/state.sqlite"

type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLiteStore opens (or creates) the state database under root.
func OpenSQLiteStore(root string) (*SQLiteStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		root = "."
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(absRoot, SQLiteRelPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &SQLiteStore{db: db, path: path}
	if err := s.initSchema(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA foreign_keys=ON;`,
		`PRAGMA busy_timeout=5000;`,
		`
CREATE TABLE IF NOT EXISTS stackctl_objects (
  bucket TEXT NOT NULL,
  key TEXT NOT NULL,
  body BLOB NOT NULL,
  content_type TEXT NOT NULL,
  updated_at_ns INTEGER NOT NULL,
  PRIMARY KEY (bucket, key)
);`,
		`
CREATE TABLE IF NOT EXISTS stackctl_object_tags (
  bucket TEXT NOT NULL,
  key TEXT NOT NULL,
  tag TEXT NOT NULL,
  value TEXT NOT NULL,
  PRIMARY KEY (bucket, key, tag),
  FOREIGN KEY (bucket, key) REFERENCES stackctl_objects(bucket, key) ON DELETE CASCADE
);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init sqlite schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) GetObject(ctx context.Context, loc Location) ([]byte, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM stackctl_objects WHERE bucket = ? AND key = ?`,
		loc.Bucket, loc.Key).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get %s: %w", loc, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", loc, err)
	}
	return body, nil
}

func (s *SQLiteStore) PutObject(ctx context.Context, loc Location, body []byte, opts PutOptions) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO stackctl_objects (bucket, key, body, content_type, updated_at_ns)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(bucket, key) DO UPDATE SET
  body = excluded.body,
  content_type = excluded.content_type,
  updated_at_ns = excluded.updated_at_ns`,
			loc.Bucket, loc.Key, body, opts.ContentType, time.Now().UnixNano()); err != nil {
			return err
		}
		return replaceTags(ctx, tx, loc, opts.Tags)
	})
}

func (s *SQLiteStore) DeleteObject(ctx context.Context, loc Location) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM stackctl_objects WHERE bucket = ? AND key = ?`, loc.Bucket, loc.Key)
	if err != nil {
		return fmt.Errorf("delete %s: %w", loc, err)
	}
	return nil
}

func (s *SQLiteStore) GetTags(ctx context.Context, loc Location) (map[string]string, error) {
	if err := s.exists(ctx, loc); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT tag, value FROM stackctl_object_tags WHERE bucket = ? AND key = ?`, loc.Bucket, loc.Key)
	if err != nil {
		return nil, fmt.Errorf("get tags %s: %w", loc, err)
	}
	defer rows.Close()
	tags := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		tags[k] = v
	}
	return tags, rows.Err()
}

func (s *SQLiteStore) PutTags(ctx context.Context, loc Location, tags map[string]string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := existsTx(ctx, tx, loc); err != nil {
			return err
		}
		return replaceTags(ctx, tx, loc, tags)
	})
}

func (s *SQLiteStore) DeleteTags(ctx context.Context, loc Location) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := existsTx(ctx, tx, loc); err != nil {
			return err
		}
		return replaceTags(ctx, tx, loc, nil)
	})
}

func (s *SQLiteStore) exists(ctx context.Context, loc Location) error {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM stackctl_objects WHERE bucket = ? AND key = ?`, loc.Bucket, loc.Key).Scan(&n)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", loc, ErrNotFound)
	}
	return nil
}

func existsTx(ctx context.Context, tx *sql.Tx, loc Location) error {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM stackctl_objects WHERE bucket = ? AND key = ?`, loc.Bucket, loc.Key).Scan(&n)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", loc, ErrNotFound)
	}
	return nil
}

func replaceTags(ctx context.Context, tx *sql.Tx, loc Location, tags map[string]string) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM stackctl_object_tags WHERE bucket = ? AND key = ?`, loc.Bucket, loc.Key); err != nil {
		return err
	}
	for k, v := range tags {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO stackctl_object_tags (bucket, key, tag, value) VALUES (?, ?, ?, ?)`,
			loc.Bucket, loc.Key, k, v); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
