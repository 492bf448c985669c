package records

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/occuhealth/occuhealth/internal/importer"
	"github.com/occuhealth/occuhealth/internal/platform/blobstore"
	"github.com/occuhealth/occuhealth/internal/platform/db"
	"github.com/occuhealth/occuhealth/internal/platform/docstore"
	"github.com/occuhealth/occuhealth/internal/platform/websocket"
)

type visit struct {
	docstore.Meta
	Identificacion string     `json:"identificacion" validate:"required"`
	Fecha          *time.Time `json:"fecha"`
	Dias           float64    `json:"dias" validate:"gte=0"`
	Cerrada        bool       `json:"cerrada"`
	Soportes       []string   `json:"soportes"`
	Motivo         string     `json:"motivo,omitempty"`
	EmployeeID     string     `json:"employeeId,omitempty"`
	Nombre         string     `json:"nombre,omitempty"`
}

func visitDefinition() Definition {
	return Definition{
		Route: "visits",
		Entity: importer.Entity{
			Name:       "visit",
			Collection: "visits",
			Schema: importer.Schema{
				{Name: "identificacion", Kind: importer.KindString},
				{Name: "fecha", Kind: importer.KindDate},
				{Name: "dias", Kind: importer.KindNumber},
				{Name: "cerrada", Kind: importer.KindBoolean},
				{Name: "soportes", Kind: importer.KindStringList},
				{Name: "motivo", Kind: importer.KindString},
			},
			Key: importer.IdentificationDateKey("identificacion", "fecha"),
			Lookup: &importer.Lookup{
				Collection:  "employees",
				SourceField: "identificacion",
				MatchField:  "identificacion",
				LinkField:   "employeeId",
				Overlay:     map[string]string{"nombre": "nombre"},
				OnMissing:   importer.BlankLink,
			},
		},
		Filters:     []string{"identificacion", "cerrada"},
		Attachments: []string{"soportes"},
	}
}

type recordingHub struct {
	mu      sync.Mutex
	events  []websocket.Event
	changed []string
}

func (h *recordingHub) Notify(tenant string, ev websocket.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

func (h *recordingHub) CollectionChanged(tenant, collection string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.changed = append(h.changed, tenant+"/"+collection)
}

type countingStore struct {
	*docstore.MemoryStore
	mu          sync.Mutex
	invalidated int
}

func (s *countingStore) Invalidate(ctx context.Context, collection string) error {
	s.mu.Lock()
	s.invalidated++
	s.mu.Unlock()
	return s.MemoryStore.Invalidate(ctx, collection)
}

type fixture struct {
	svc   *Service[visit]
	store *countingStore
	hub   *recordingHub
	blobs *blobstore.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: &countingStore{MemoryStore: docstore.NewMemoryStore()},
		hub:   &recordingHub{},
		blobs: blobstore.NewMemoryStore(),
	}
	f.svc = NewService[visit](visitDefinition(), f.store, Deps{
		Hub:      f.hub,
		Uploader: blobstore.NewUploader(f.blobs, "https://sst.example.com/api/v1/attachments"),
		Logger:   zerolog.Nop(),
	})
	return f
}

func tenantCtx() context.Context {
	return db.WithTenant(context.Background(), "acme")
}

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestService_CreateAndGet(t *testing.T) {
	f := newFixture(t)
	ctx := tenantCtx()

	created, err := f.svc.Create(ctx, &visit{Identificacion: "1001", Fecha: date(2024, 3, 15), Dias: 3})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID == "" || created.CreatedAt.IsZero() {
		t.Fatalf("expected stored metadata, got %+v", created.Meta)
	}

	got, err := f.svc.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Identificacion != "1001" || got.Dias != 3 || !got.Fecha.Equal(*date(2024, 3, 15)) {
		t.Errorf("unexpected record: %+v", got)
	}

	if f.store.invalidated != 1 {
		t.Errorf("expected one invalidation, got %d", f.store.invalidated)
	}
	if len(f.hub.events) != 1 || f.hub.events[0].Type != websocket.EventRecordCreated || f.hub.events[0].RecordID != created.ID {
		t.Errorf("unexpected events: %+v", f.hub.events)
	}
	if len(f.hub.changed) != 1 || f.hub.changed[0] != "acme/visits" {
		t.Errorf("unexpected collection notifications: %v", f.hub.changed)
	}
}

func TestService_CreateValidates(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Create(tenantCtx(), &visit{Dias: -1})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	for _, field := range []string{"identificacion", "dias"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("expected %q in %q", field, err.Error())
		}
	}
	if f.store.invalidated != 0 {
		t.Error("rejected record must not invalidate the collection")
	}
}

func TestService_OnCreate(t *testing.T) {
	f := newFixture(t)
	var seen []string
	f.svc.OnCreate(func(_ context.Context, rec *visit) { seen = append(seen, rec.ID) })

	created, err := f.svc.Create(tenantCtx(), &visit{Identificacion: "1001"})
	if err != nil {
		t.Fatal(err)
	}
	if len(seen) != 1 || seen[0] != created.ID {
		t.Errorf("hook saw %v, want [%s]", seen, created.ID)
	}
}

func TestService_ListFiltersAndPages(t *testing.T) {
	f := newFixture(t)
	ctx := tenantCtx()
	for _, v := range []visit{
		{Identificacion: "1001", Cerrada: true},
		{Identificacion: "1001"},
		{Identificacion: "1002"},
	} {
		v := v
		if _, err := f.svc.Create(ctx, &v); err != nil {
			t.Fatal(err)
		}
	}

	items, total, err := f.svc.List(ctx, map[string]string{"identificacion": "1001"}, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || len(items) != 2 {
		t.Fatalf("expected 2 matches, got total=%d len=%d", total, len(items))
	}

	items, total, _ = f.svc.List(ctx, map[string]string{"identificacion": "1001", "cerrada": "TRUE"}, 10, 0)
	if total != 1 || !items[0].Cerrada {
		t.Errorf("expected the closed visit, got %+v", items)
	}

	items, total, _ = f.svc.List(ctx, nil, 2, 2)
	if total != 3 || len(items) != 1 {
		t.Errorf("expected last page of one, got total=%d len=%d", total, len(items))
	}

	items, _, _ = f.svc.List(ctx, nil, 2, 10)
	if len(items) != 0 {
		t.Errorf("expected empty page past the end, got %d", len(items))
	}

	other, total, _ := f.svc.List(db.WithTenant(context.Background(), "globex"), nil, 10, 0)
	if total != 0 || len(other) != 0 {
		t.Errorf("records leaked across tenants: %d", total)
	}
}

func TestService_UpdateMergesBody(t *testing.T) {
	f := newFixture(t)
	ctx := tenantCtx()
	created, _ := f.svc.Create(ctx, &visit{Identificacion: "1001", Dias: 2, Motivo: "control"})

	updated, err := f.svc.Update(ctx, created.ID, []byte(`{"dias": 5}`))
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Dias != 5 || updated.Identificacion != "1001" || updated.Motivo != "control" {
		t.Errorf("unexpected record after update: %+v", updated)
	}
	if updated.ID != created.ID {
		t.Errorf("id changed: %s -> %s", created.ID, updated.ID)
	}

	if _, err := f.svc.Update(ctx, created.ID, []byte(`{"identificacion": ""}`)); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
	if _, err := f.svc.Update(ctx, created.ID, []byte(`[1,2]`)); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for non-object body, got %v", err)
	}
	if _, err := f.svc.Update(ctx, "missing", []byte(`{}`)); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestService_Delete(t *testing.T) {
	f := newFixture(t)
	ctx := tenantCtx()
	created, _ := f.svc.Create(ctx, &visit{Identificacion: "1001"})

	if err := f.svc.Delete(ctx, created.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := f.svc.Get(ctx, created.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := f.svc.Delete(ctx, created.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
	last := f.hub.events[len(f.hub.events)-1]
	if last.Type != websocket.EventRecordDeleted {
		t.Errorf("expected delete event, got %s", last.Type)
	}
}

func TestService_AttachAppendsURL(t *testing.T) {
	f := newFixture(t)
	ctx := tenantCtx()
	created, _ := f.svc.Create(ctx, &visit{Identificacion: "1001", Soportes: []string{"https://old/link"}})

	rec, url, err := f.svc.Attach(ctx, created.ID, "soportes", "incapacidad.pdf", "", strings.NewReader("%PDF-1.4"), "user-1")
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if !strings.HasPrefix(url, "https://sst.example.com/api/v1/attachments/") {
		t.Errorf("unexpected url %q", url)
	}
	if len(rec.Soportes) != 2 || rec.Soportes[0] != "https://old/link" || rec.Soportes[1] != url {
		t.Errorf("unexpected soportes: %v", rec.Soportes)
	}

	stored, err := f.blobs.List(ctx, "visits/"+created.ID)
	if err != nil || len(stored) != 1 {
		t.Fatalf("expected one stored blob, got %d (%v)", len(stored), err)
	}
	if stored[0].ContentType != "application/pdf" || stored[0].CreatedBy != "user-1" {
		t.Errorf("unexpected attachment metadata: %+v", stored[0])
	}
}

func TestService_ConcurrentAttachKeepsEveryURL(t *testing.T) {
	f := newFixture(t)
	ctx := tenantCtx()
	created, _ := f.svc.Create(ctx, &visit{Identificacion: "1001"})

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := f.svc.Attach(ctx, created.ID, "soportes", "soporte.pdf", "", strings.NewReader("%PDF-1.4"), ""); err != nil {
				t.Errorf("Attach: %v", err)
			}
		}()
	}
	wg.Wait()

	rec, err := f.svc.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(rec.Soportes) != n {
		t.Errorf("expected %d urls, got %d", n, len(rec.Soportes))
	}
}

type failingAppendStore struct {
	*docstore.MemoryStore
}

func (failingAppendStore) Append(context.Context, string, string, string, ...string) error {
	return errors.New("disk full")
}

func TestService_AttachRemovesBlobWhenRecordUpdateFails(t *testing.T) {
	ctx := tenantCtx()
	store := failingAppendStore{MemoryStore: docstore.NewMemoryStore()}
	blobs := blobstore.NewMemoryStore()
	svc := NewService[visit](visitDefinition(), store, Deps{
		Uploader: blobstore.NewUploader(blobs, "https://sst.example.com/api/v1/attachments"),
		Logger:   zerolog.Nop(),
	})
	created, err := svc.Create(ctx, &visit{Identificacion: "1001"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, _, err := svc.Attach(ctx, created.ID, "soportes", "a.pdf", "", strings.NewReader("%PDF-1.4"), ""); err == nil {
		t.Fatal("expected Attach to fail")
	}
	stored, err := blobs.List(ctx, "visits/"+created.ID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(stored) != 0 {
		t.Errorf("expected the uploaded blob removed, found %d", len(stored))
	}
}

func TestService_AttachErrors(t *testing.T) {
	f := newFixture(t)
	ctx := tenantCtx()
	created, _ := f.svc.Create(ctx, &visit{Identificacion: "1001"})

	if _, _, err := f.svc.Attach(ctx, created.ID, "motivo", "a.pdf", "", strings.NewReader("x"), ""); !errors.Is(err, ErrAttachmentField) {
		t.Errorf("expected ErrAttachmentField, got %v", err)
	}
	if _, _, err := f.svc.Attach(ctx, "missing", "soportes", "a.pdf", "", strings.NewReader("x"), ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, _, err := f.svc.Attach(ctx, created.ID, "soportes", "a.exe", "application/x-msdownload", strings.NewReader("x"), ""); !errors.Is(err, blobstore.ErrInvalidContentType) {
		t.Errorf("expected ErrInvalidContentType, got %v", err)
	}

	bare := NewService[visit](visitDefinition(), docstore.NewMemoryStore(), Deps{Logger: zerolog.Nop()})
	if _, _, err := bare.Attach(ctx, created.ID, "soportes", "a.pdf", "", strings.NewReader("x"), ""); !errors.Is(err, ErrAttachmentsOffline) {
		t.Errorf("expected ErrAttachmentsOffline, got %v", err)
	}
}

func TestSchemaMismatches(t *testing.T) {
	if got := SchemaMismatches(visitDefinition(), visit{}); len(got) != 0 {
		t.Fatalf("expected no mismatches, got %v", got)
	}

	def := visitDefinition()
	def.Entity.Schema = append(def.Entity.Schema,
		importer.Field{Name: "dias2", Kind: importer.KindNumber},
	)
	def.Entity.Schema[2].Kind = importer.KindDate
	def.Filters = append(def.Filters, "sede")
	def.Attachments = append(def.Attachments, "motivo")

	got := SchemaMismatches(def, &visit{})
	want := []string{`"dias2"`, `"dias" is date`, `filter "sede"`, `attachment field "motivo"`}
	if len(got) != len(want) {
		t.Fatalf("expected %d mismatches, got %v", len(want), got)
	}
	joined := strings.Join(got, "\n")
	for _, w := range want {
		if !strings.Contains(joined, w) {
			t.Errorf("expected mismatch containing %s in:\n%s", w, joined)
		}
	}
}
