// Package records serves the CRUD screens shared by every occupational
// health collection: filtered listing, validated create and update, delete,
// and file attachments stored in list fields.
package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/occuhealth/occuhealth/internal/importer"
	"github.com/occuhealth/occuhealth/internal/platform/blobstore"
	"github.com/occuhealth/occuhealth/internal/platform/db"
	"github.com/occuhealth/occuhealth/internal/platform/docstore"
	"github.com/occuhealth/occuhealth/internal/platform/websocket"
)

var (
	ErrNotFound           = errors.New("record not found")
	ErrValidation         = errors.New("validation failed")
	ErrAttachmentField    = errors.New("field does not accept attachments")
	ErrAttachmentsOffline = errors.New("attachments are not configured")
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(msgs, "; "))
}

// Definition describes one collection exposed over HTTP.
type Definition struct {
	// Route is the path segment under /api/v1.
	Route  string
	Entity importer.Entity
	// Filters are the fields accepted as equality query parameters.
	Filters []string
	// Attachments are the list fields that accept uploaded files.
	Attachments []string
}

func (d Definition) acceptsAttachments(field string) bool {
	for _, f := range d.Attachments {
		if f == field {
			return true
		}
	}
	return false
}

// Deps are the collaborators shared by every record service.
type Deps struct {
	Hub      importer.Broadcaster
	Uploader *blobstore.Uploader
	Logger   zerolog.Logger
}

// Service implements CRUD for records of type T, a struct embedding
// docstore.Meta.
type Service[T any] struct {
	def      Definition
	store    docstore.Store
	hub      importer.Broadcaster
	uploader *blobstore.Uploader
	logger   zerolog.Logger
	onCreate []func(context.Context, *T)
}

func NewService[T any](def Definition, store docstore.Store, deps Deps) *Service[T] {
	return &Service[T]{
		def:      def,
		store:    store,
		hub:      deps.Hub,
		uploader: deps.Uploader,
		logger:   deps.Logger.With().Str("collection", def.Entity.Collection).Logger(),
	}
}

func (s *Service[T]) Definition() Definition { return s.def }

// OnCreate registers fn to run after a record is created.
func (s *Service[T]) OnCreate(fn func(ctx context.Context, rec *T)) {
	s.onCreate = append(s.onCreate, fn)
}

func (s *Service[T]) collection() string { return s.def.Entity.Collection }

// List returns one page of records matching every filter (case-insensitive
// equality), newest first, plus the number of matches.
func (s *Service[T]) List(ctx context.Context, filters map[string]string, limit, offset int) ([]*T, int, error) {
	docs, err := s.store.List(ctx, s.collection())
	if err != nil {
		return nil, 0, err
	}

	matched := make([]*docstore.Document, 0, len(docs))
	for _, doc := range docs {
		ok, err := matches(doc, filters)
		if err != nil {
			return nil, 0, err
		}
		if ok {
			matched = append(matched, doc)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}

	out := make([]*T, 0, end-offset)
	for _, doc := range matched[offset:end] {
		rec := new(T)
		if err := doc.Decode(rec); err != nil {
			return nil, 0, err
		}
		out = append(out, rec)
	}
	return out, total, nil
}

func matches(doc *docstore.Document, filters map[string]string) (bool, error) {
	if len(filters) == 0 {
		return true, nil
	}
	fields, err := doc.Fields()
	if err != nil {
		return false, err
	}
	for name, want := range filters {
		v := fields[name]
		got := ""
		if v != nil {
			got = fmt.Sprint(v)
		}
		if !strings.EqualFold(strings.TrimSpace(got), strings.TrimSpace(want)) {
			return false, nil
		}
	}
	return true, nil
}

func (s *Service[T]) Get(ctx context.Context, id string) (*T, error) {
	doc, err := s.store.Get(ctx, s.collection(), id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	rec := new(T)
	if err := doc.Decode(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Create validates rec, stores it and returns the stored version.
func (s *Service[T]) Create(ctx context.Context, rec *T) (*T, error) {
	if err := validate.Struct(rec); err != nil {
		return nil, validationError(err)
	}
	data, err := toMap(rec)
	if err != nil {
		return nil, err
	}
	id, err := s.store.Create(ctx, s.collection(), data)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", s.def.Entity.Name, err)
	}
	created, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.changed(ctx, websocket.EventRecordCreated, id)
	for _, fn := range s.onCreate {
		fn(ctx, created)
	}
	return created, nil
}

// Update merges the JSON object body onto the stored record. Fields absent
// from body keep their stored values.
func (s *Service[T]) Update(ctx context.Context, id string, body []byte) (*T, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := validate.Struct(rec); err != nil {
		return nil, validationError(err)
	}
	data, err := toMap(rec)
	if err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, s.collection(), id, data); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("update %s %s: %w", s.def.Entity.Name, id, err)
	}
	updated, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.changed(ctx, websocket.EventRecordUpdated, id)
	return updated, nil
}

func (s *Service[T]) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, s.collection(), id); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("delete %s %s: %w", s.def.Entity.Name, id, err)
	}
	s.changed(ctx, websocket.EventRecordDeleted, id)
	return nil
}

// Attach uploads content under <collection>/<id> and appends its download
// URL to field. It returns the updated record and the URL.
func (s *Service[T]) Attach(ctx context.Context, id, field, fileName, contentType string, content io.Reader, createdBy string) (*T, string, error) {
	if s.uploader == nil {
		return nil, "", ErrAttachmentsOffline
	}
	if !s.def.acceptsAttachments(field) {
		return nil, "", fmt.Errorf("%w: %s", ErrAttachmentField, field)
	}

	if _, err := s.store.Get(ctx, s.collection(), id); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, "", fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, "", err
	}

	url, att, err := s.uploader.Upload(ctx, fileName, contentType, s.collection()+"/"+id, createdBy, content)
	if err != nil {
		return nil, "", err
	}

	if err := s.store.Append(ctx, s.collection(), id, field, url); err != nil {
		if rmErr := s.uploader.Remove(context.WithoutCancel(ctx), att.ID); rmErr != nil {
			s.logger.Warn().Err(rmErr).Str("attachment_id", att.ID).Msg("orphaned attachment not removed")
		}
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, "", fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, "", fmt.Errorf("attach to %s %s: %w", s.def.Entity.Name, id, err)
	}

	s.logger.Info().Str("record_id", id).Str("field", field).Str("file", fileName).Msg("attachment stored")
	s.changed(ctx, websocket.EventRecordUpdated, id)

	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	return rec, url, nil
}

// changed drops the cached collection and tells clients to refetch it.
func (s *Service[T]) changed(ctx context.Context, eventType, id string) {
	if err := s.store.Invalidate(context.WithoutCancel(ctx), s.collection()); err != nil {
		s.logger.Warn().Err(err).Msg("collection invalidation failed")
	}
	if s.hub == nil {
		return
	}
	tenant := db.TenantFromContext(ctx)
	if tenant == "" {
		tenant = "default"
	}
	s.hub.Notify(tenant, websocket.Event{Type: eventType, Collection: s.collection(), RecordID: id})
	s.hub.CollectionChanged(tenant, s.collection())
}

// toMap converts a model to the document body the store persists.
func toMap(rec any) (map[string]any, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	data := make(map[string]any)
	if err := json.Unmarshal(b, &data); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return data, nil
}
