package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
    tenant_id   TEXT NOT NULL,
    collection  TEXT NOT NULL,
    id          TEXT NOT NULL,
    data        TEXT NOT NULL,
    created_at  TEXT NOT NULL,
    updated_at  TEXT NOT NULL,
    seq         INTEGER PRIMARY KEY AUTOINCREMENT,
    UNIQUE (tenant_id, collection, id)
);
CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents (tenant_id, collection);
`

// SQLiteStore is a single-file Store for single-node installs. Tenants share
// one table, separated by the tenant_id column.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path. Use
// ":memory:" for a throwaway store.
func OpenSQLite(path string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// sqlite serializes writers; a single connection avoids SQLITE_BUSY under
	// the bulk committer's fan-out and keeps ":memory:" databases shared.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec(sqliteSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	return &SQLiteStore{db: conn}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func scanSQLiteDoc(row interface{ Scan(...any) error }) (*Document, error) {
	var d Document
	var data, created, updated string
	if err := row.Scan(&d.ID, &d.Collection, &data, &created, &updated); err != nil {
		return nil, err
	}
	d.Data = []byte(data)
	d.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	d.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return &d, nil
}

func (s *SQLiteStore) List(ctx context.Context, collection string) ([]*Document, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, collection, data, created_at, updated_at
		FROM documents WHERE tenant_id = ? AND collection = ? ORDER BY seq`, tenantOf(ctx), collection)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	defer rows.Close()

	var out []*Document
	for rows.Next() {
		d, err := scanSQLiteDoc(rows)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", collection, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}

	d, err := scanSQLiteDoc(s.db.QueryRowContext(ctx, `SELECT id, collection, data, created_at, updated_at
		FROM documents WHERE tenant_id = ? AND collection = ? AND id = ?`, tenantOf(ctx), collection, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return d, nil
}

func (s *SQLiteStore) Create(ctx context.Context, collection string, data map[string]any) (string, error) {
	if err := checkCollection(collection); err != nil {
		return "", err
	}
	body, err := encodeData(data)
	if err != nil {
		return "", err
	}

	id := uuid.New().String()
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(ctx, `INSERT INTO documents (tenant_id, collection, id, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`, tenantOf(ctx), collection, id, string(body), now, now); err != nil {
		return "", fmt.Errorf("create %s: %w", collection, err)
	}
	return id, nil
}

func (s *SQLiteStore) Update(ctx context.Context, collection, id string, patch map[string]any) error {
	if err := checkCollection(collection); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT data FROM documents WHERE tenant_id = ? AND collection = ? AND id = ?`,
		tenantOf(ctx), collection, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}

	body, err := mergeData([]byte(current), patch)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE documents SET data = ?, updated_at = ?
		WHERE tenant_id = ? AND collection = ? AND id = ?`,
		string(body), time.Now().UTC().Format(time.RFC3339Nano), tenantOf(ctx), collection, id); err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	return tx.Commit()
}

// Append reads and rewrites the body in one transaction; the store holds a
// single connection, so transactions never interleave.
func (s *SQLiteStore) Append(ctx context.Context, collection, id, field string, values ...string) error {
	if err := checkCollection(collection); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT data FROM documents WHERE tenant_id = ? AND collection = ? AND id = ?`,
		tenantOf(ctx), collection, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("append to %s/%s: %w", collection, id, err)
	}

	body, err := appendData([]byte(current), field, values)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE documents SET data = ?, updated_at = ?
		WHERE tenant_id = ? AND collection = ? AND id = ?`,
		string(body), time.Now().UTC().Format(time.RFC3339Nano), tenantOf(ctx), collection, id); err != nil {
		return fmt.Errorf("append to %s/%s: %w", collection, id, err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Delete(ctx context.Context, collection, id string) error {
	if err := checkCollection(collection); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE tenant_id = ? AND collection = ? AND id = ?`,
		tenantOf(ctx), collection, id)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Invalidate is a no-op: reads always hit the database file.
func (s *SQLiteStore) Invalidate(context.Context, string) error { return nil }
