package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/occuhealth/occuhealth/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// PGStore keeps every collection of a tenant in the documents table of the
// tenant's schema. Each call runs in its own short transaction unless the
// context already carries one (db.WithTx), so concurrent callers never
// share a connection.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) run(ctx context.Context, fn func(q queryable) error) error {
	if tx := db.TxFromContext(ctx); tx != nil {
		return fn(tx)
	}
	return db.InTenantTx(ctx, s.pool, tenantOf(ctx), func(tx pgx.Tx) error {
		return fn(tx)
	})
}

const docCols = `id::text, collection, data, created_at, updated_at`

func scanDoc(row pgx.Row) (*Document, error) {
	var d Document
	var data []byte
	if err := row.Scan(&d.ID, &d.Collection, &data, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.Data = data
	return &d, nil
}

func (s *PGStore) List(ctx context.Context, collection string) ([]*Document, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}

	var out []*Document
	err := s.run(ctx, func(q queryable) error {
		rows, err := q.Query(ctx, `SELECT `+docCols+` FROM documents
			WHERE collection = $1 ORDER BY created_at, id`, collection)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			d, err := scanDoc(rows)
			if err != nil {
				return err
			}
			out = append(out, d)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	return out, nil
}

func (s *PGStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	var d *Document
	err := s.run(ctx, func(q queryable) error {
		var err error
		d, err = scanDoc(q.QueryRow(ctx, `SELECT `+docCols+` FROM documents
			WHERE collection = $1 AND id = $2`, collection, id))
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return d, nil
}

func (s *PGStore) Create(ctx context.Context, collection string, data map[string]any) (string, error) {
	if err := checkCollection(collection); err != nil {
		return "", err
	}
	body, err := encodeData(data)
	if err != nil {
		return "", err
	}

	id := uuid.New().String()
	err = s.run(ctx, func(q queryable) error {
		_, err := q.Exec(ctx, `INSERT INTO documents (id, collection, data)
			VALUES ($1, $2, $3::jsonb)`, id, collection, string(body))
		return err
	})
	if err != nil {
		return "", fmt.Errorf("create %s: %w", collection, err)
	}
	return id, nil
}

// Update merges patch into the stored body with the jsonb || operator, so
// keys absent from patch keep their stored value.
func (s *PGStore) Update(ctx context.Context, collection, id string, patch map[string]any) error {
	if err := checkCollection(collection); err != nil {
		return err
	}
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	body, err := encodeData(patch)
	if err != nil {
		return err
	}

	var affected int64
	err = s.run(ctx, func(q queryable) error {
		tag, err := q.Exec(ctx, `UPDATE documents SET data = data || $3::jsonb, updated_at = NOW()
			WHERE collection = $1 AND id = $2`, collection, id, string(body))
		affected = tag.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Append extends the list in a single UPDATE, which holds the row lock for
// the whole read-modify-write.
func (s *PGStore) Append(ctx context.Context, collection, id, field string, values ...string) error {
	if err := checkCollection(collection); err != nil {
		return err
	}
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	added, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode values: %w", err)
	}

	var affected int64
	err = s.run(ctx, func(q queryable) error {
		tag, err := q.Exec(ctx, `UPDATE documents SET data = jsonb_set(data, ARRAY[$3::text],
				CASE jsonb_typeof(data->$3)
					WHEN 'array' THEN data->$3
					WHEN 'string' THEN COALESCE((SELECT jsonb_agg(btrim(p)) FROM unnest(string_to_array(data->>$3, ',')) AS p
						WHERE btrim(p) <> ''), '[]'::jsonb)
					ELSE '[]'::jsonb
				END || $4::jsonb, true),
			updated_at = NOW()
			WHERE collection = $1 AND id = $2`, collection, id, field, string(added))
		affected = tag.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("append to %s/%s: %w", collection, id, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) Delete(ctx context.Context, collection, id string) error {
	if err := checkCollection(collection); err != nil {
		return err
	}
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}

	var affected int64
	err := s.run(ctx, func(q queryable) error {
		tag, err := q.Exec(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id)
		affected = tag.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Invalidate is a no-op: reads always hit the database.
func (s *PGStore) Invalidate(context.Context, string) error { return nil }

func (s *PGStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
