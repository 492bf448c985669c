// Package docstore persists entity records as JSON documents grouped in
// tenant-scoped collections. The tenant is always taken from the context
// (see db.TenantFromContext).
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/occuhealth/occuhealth/internal/platform/db"
)

var (
	ErrNotFound          = errors.New("document not found")
	ErrInvalidCollection = errors.New("invalid collection name")
)

var collectionPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// Meta is the identity and timestamps the store assigns to a document.
// Domain models embed it so decoded documents carry their id.
type Meta struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SetMeta overwrites the embedded metadata.
func (m *Meta) SetMeta(v Meta) { *m = v }

// Document is a stored record. Data never contains the meta keys.
type Document struct {
	Meta
	Collection string          `json:"collection"`
	Data       json.RawMessage `json:"data"`
}

// Fields decodes the document body into a generic map. Numbers decode as
// float64 and timestamps stay RFC 3339 strings.
func (d *Document) Fields() (map[string]any, error) {
	fields := make(map[string]any)
	if len(d.Data) == 0 {
		return fields, nil
	}
	if err := json.Unmarshal(d.Data, &fields); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", d.ID, err)
	}
	return fields, nil
}

// Decode unmarshals the body into v and, when v embeds Meta, fills it.
func (d *Document) Decode(v any) error {
	if len(d.Data) > 0 {
		if err := json.Unmarshal(d.Data, v); err != nil {
			return fmt.Errorf("decode document %s: %w", d.ID, err)
		}
	}
	if ms, ok := v.(interface{ SetMeta(Meta) }); ok {
		ms.SetMeta(d.Meta)
	}
	return nil
}

// Store is the persistence collaborator used by CRUD handlers and bulk
// imports. List is the "get collection" call; Invalidate drops any cached
// view of a collection so the next List refetches it. Append adds values to
// a list field in one atomic step, so concurrent appends never lose each
// other.
type Store interface {
	List(ctx context.Context, collection string) ([]*Document, error)
	Get(ctx context.Context, collection, id string) (*Document, error)
	Create(ctx context.Context, collection string, data map[string]any) (string, error)
	Update(ctx context.Context, collection, id string, patch map[string]any) error
	Append(ctx context.Context, collection, id, field string, values ...string) error
	Delete(ctx context.Context, collection, id string) error
	Invalidate(ctx context.Context, collection string) error
}

func checkCollection(collection string) error {
	if !collectionPattern.MatchString(collection) {
		return fmt.Errorf("%w: %q", ErrInvalidCollection, collection)
	}
	return nil
}

// tenantOf returns the context tenant, falling back to "default" for
// callers outside an HTTP request (CLI, tests).
func tenantOf(ctx context.Context) string {
	if tid := db.TenantFromContext(ctx); tid != "" {
		return tid
	}
	return "default"
}

// encodeData marshals a record body, dropping the keys owned by Meta.
func encodeData(data map[string]any) ([]byte, error) {
	body := make(map[string]any, len(data))
	for k, v := range data {
		switch k {
		case "id", "createdAt", "updatedAt":
			continue
		}
		body[k] = v
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return b, nil
}

// appendData appends values to the list stored at field. A missing or null
// field starts a new list; a comma-joined string is split first.
func appendData(current json.RawMessage, field string, values []string) ([]byte, error) {
	body := make(map[string]any)
	if len(current) > 0 {
		if err := json.Unmarshal(current, &body); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
	}
	var list []any
	switch v := body[field].(type) {
	case []any:
		list = v
	case string:
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				list = append(list, part)
			}
		}
	}
	for _, v := range values {
		list = append(list, v)
	}
	body[field] = list
	return encodeData(body)
}

// mergeData applies patch on top of the stored body (shallow, key by key).
func mergeData(current json.RawMessage, patch map[string]any) ([]byte, error) {
	merged := make(map[string]any)
	if len(current) > 0 {
		if err := json.Unmarshal(current, &merged); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
	}
	for k, v := range patch {
		merged[k] = v
	}
	return encodeData(merged)
}
