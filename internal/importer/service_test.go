package importer

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/occuhealth/occuhealth/internal/platform/db"
	"github.com/occuhealth/occuhealth/internal/platform/docstore"
	"github.com/occuhealth/occuhealth/internal/platform/events"
	"github.com/occuhealth/occuhealth/internal/platform/notification"
	"github.com/occuhealth/occuhealth/internal/platform/websocket"
)

type recordingHub struct {
	mu      sync.Mutex
	changed []string
	events  []websocket.Event
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

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

type recordingSender struct {
	mu       sync.Mutex
	subjects []string
}

func (s *recordingSender) SendEmail(_ context.Context, to, subject, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subjects = append(s.subjects, subject)
	return nil
}

// invalidationSpy counts Invalidate calls per collection.
type invalidationSpy struct {
	docstore.Store
	mu          sync.Mutex
	invalidated map[string]int
}

func (s *invalidationSpy) Invalidate(ctx context.Context, collection string) error {
	s.mu.Lock()
	s.invalidated[collection]++
	s.mu.Unlock()
	return s.Store.Invalidate(ctx, collection)
}

type fixture struct {
	svc       *Service
	store     *invalidationSpy
	mem       docstore.Store
	hub       *recordingHub
	publisher *recordingPublisher
	sender    *recordingSender
	ctx       context.Context
}

func newFixture(t *testing.T, inner docstore.Store, cfg Config) *fixture {
	t.Helper()
	reg, err := NewRegistry(absenceEntity(SkipRow))
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{
		store:     &invalidationSpy{Store: inner, invalidated: map[string]int{}},
		mem:       inner,
		hub:       &recordingHub{},
		publisher: &recordingPublisher{},
		sender:    &recordingSender{},
		ctx:       db.WithTenant(context.Background(), "acme"),
	}
	if cfg.NotifyRecipients == nil {
		cfg.NotifyRecipients = []string{"sst@acme.test"}
	}
	mailer := notification.NewManager(f.sender, notification.NewTemplateEngine(), zerolog.Nop())
	f.svc = NewService(reg, f.store, NewMemoryPendingStore(), cfg, zerolog.Nop(),
		WithBroadcaster(f.hub), WithPublisher(f.publisher), WithMailer(mailer))

	seed := inner
	if fs, ok := inner.(*flakyStore); ok {
		seed = fs.MemoryStore
	}
	for _, emp := range []map[string]any{
		{"identificacion": "1001", "nombre": "Ana Ruiz"},
		{"identificacion": "1002", "nombre": "Luis Gómez"},
	} {
		if _, err := seed.Create(f.ctx, "employees", emp); err != nil {
			t.Fatal(err)
		}
	}
	return f
}

func (f *fixture) upload(t *testing.T, csv string) (*Summary, error) {
	t.Helper()
	return f.svc.Upload(f.ctx, "absence", "ausentismo.csv", strings.NewReader(csv), "user-1")
}

func (f *fixture) absences(t *testing.T) []map[string]any {
	t.Helper()
	docs, err := f.mem.List(f.ctx, "absences")
	if err != nil {
		t.Fatal(err)
	}
	out := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		fields, _ := d.Fields()
		out = append(out, fields)
	}
	return out
}

const firstUpload = "\ufeffidentificacion;fechaInicio;dias;diagnosticos\n" +
	"1001;15/03/2024;3;A01\n" +
	"1002;2024-04-01;2;\n"

const secondUpload = "identificacion;fechaInicio;dias\n" +
	"1001;15/03/2024;5\n" +
	"1002;01/04/2024;7\n" +
	"1001;20/05/2024;1\n"

func TestUpload_NoDuplicatesCommitsImmediately(t *testing.T) {
	f := newFixture(t, docstore.NewMemoryStore(), Config{})

	sum, err := f.upload(t, firstUpload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.Status != StatusCommitted || sum.Created != 2 || sum.Updated != 0 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if sum.ImportID == "" {
		t.Error("expected an import id")
	}

	got := f.absences(t)
	if len(got) != 2 {
		t.Fatalf("expected 2 absences, got %d", len(got))
	}
	if got[0]["employeeId"] == "" || got[0]["nombre"] != "Ana Ruiz" {
		t.Errorf("expected employee link and overlay, got %v", got[0])
	}
	if got[1]["estado"] != "abierta" {
		t.Errorf("expected default estado, got %v", got[1]["estado"])
	}

	if n := f.store.invalidated["absences"]; n != 1 {
		t.Errorf("expected one invalidation of absences, got %d", n)
	}
	if len(f.store.invalidated) != 1 {
		t.Errorf("only the imported collection may be invalidated: %v", f.store.invalidated)
	}
	if len(f.hub.changed) != 1 || f.hub.changed[0] != "acme/absences" {
		t.Errorf("unexpected change notifications: %v", f.hub.changed)
	}
	if len(f.publisher.events) != 1 || f.publisher.events[0].Subject != "absence" || f.publisher.events[0].TenantID != "acme" {
		t.Errorf("unexpected published events: %+v", f.publisher.events)
	}
	if len(f.sender.subjects) != 1 || !strings.Contains(f.sender.subjects[0], "committed") {
		t.Errorf("expected a summary email, got %v", f.sender.subjects)
	}
}

func TestUpload_DuplicatesAwaitDecisionThenConfirm(t *testing.T) {
	f := newFixture(t, docstore.NewMemoryStore(), Config{})
	if _, err := f.upload(t, firstUpload); err != nil {
		t.Fatal(err)
	}

	sum, err := f.upload(t, secondUpload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.Status != StatusAwaitingDecision {
		t.Fatalf("expected awaiting decision, got %s", sum.Status)
	}
	if sum.Duplicates != 2 || sum.NewRecords != 1 {
		t.Fatalf("expected 2 duplicates and 1 new, got %+v", sum)
	}
	if sum.ExpiresAt == nil {
		t.Error("expected expiry on a pending import")
	}
	if got := len(f.absences(t)); got != 2 {
		t.Fatalf("nothing may be written before the decision, got %d records", got)
	}
	if f.store.invalidated["absences"] != 1 {
		t.Errorf("a pending upload must not invalidate the collection")
	}

	res, err := f.svc.Resolve(f.ctx, "absence", sum.ImportID, DecisionConfirm)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != StatusCommitted || res.Created != 1 || res.Updated != 2 || res.Decision != DecisionConfirm {
		t.Fatalf("unexpected summary: %+v", res)
	}

	got := f.absences(t)
	if len(got) != 3 {
		t.Fatalf("expected 3 absences, got %d", len(got))
	}
	if got[0]["dias"] != 5.0 || got[1]["dias"] != 7.0 {
		t.Errorf("expected duplicates updated in place, got %v / %v", got[0]["dias"], got[1]["dias"])
	}
	if diag, _ := got[0]["diagnosticos"].([]any); len(diag) != 1 || diag[0] != "A01" {
		t.Errorf("fields not in the second file must be kept, got %v", got[0]["diagnosticos"])
	}
}

func TestResolve_DenyWritesOnlyNewRecords(t *testing.T) {
	f := newFixture(t, docstore.NewMemoryStore(), Config{})
	f.upload(t, firstUpload)
	sum, _ := f.upload(t, secondUpload)

	res, err := f.svc.Resolve(f.ctx, "absence", sum.ImportID, DecisionDeny)
	if err != nil {
		t.Fatal(err)
	}
	if res.Created != 1 || res.Updated != 0 {
		t.Errorf("unexpected summary: %+v", res)
	}
	got := f.absences(t)
	if len(got) != 3 || got[0]["dias"] != 3.0 {
		t.Errorf("existing records must be untouched: %v", got)
	}
}

func TestResolve_CancelPolicies(t *testing.T) {
	tests := []struct {
		policy      CancelPolicy
		wantRecords int
		wantStatus  string
	}{
		{CancelAsDeny, 3, StatusCommitted},
		{CancelDiscards, 2, StatusDiscarded},
	}
	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			f := newFixture(t, docstore.NewMemoryStore(), Config{CancelPolicy: tt.policy})
			f.upload(t, firstUpload)
			sum, _ := f.upload(t, secondUpload)

			res, err := f.svc.Resolve(f.ctx, "absence", sum.ImportID, DecisionCancel)
			if err != nil {
				t.Fatal(err)
			}
			if res.Status != tt.wantStatus {
				t.Errorf("expected %s, got %s", tt.wantStatus, res.Status)
			}
			if got := len(f.absences(t)); got != tt.wantRecords {
				t.Errorf("expected %d records, got %d", tt.wantRecords, got)
			}
		})
	}
}

func TestResolve_OnlyOnce(t *testing.T) {
	f := newFixture(t, docstore.NewMemoryStore(), Config{})
	f.upload(t, firstUpload)
	sum, _ := f.upload(t, secondUpload)

	if _, err := f.svc.Resolve(f.ctx, "absence", sum.ImportID, DecisionDeny); err != nil {
		t.Fatal(err)
	}
	_, err := f.svc.Resolve(f.ctx, "absence", sum.ImportID, DecisionConfirm)
	if !errors.Is(err, ErrPendingNotFound) {
		t.Fatalf("expected ErrPendingNotFound, got %v", err)
	}
	if got := len(f.absences(t)); got != 3 {
		t.Errorf("second decision must not write, got %d records", got)
	}
}

func TestResolve_ExpiredImportCommitsNothing(t *testing.T) {
	f := newFixture(t, docstore.NewMemoryStore(), Config{PendingTTL: time.Minute})
	f.upload(t, firstUpload)
	sum, _ := f.upload(t, secondUpload)

	f.svc.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err := f.svc.Resolve(f.ctx, "absence", sum.ImportID, DecisionConfirm)
	if !errors.Is(err, ErrPendingNotFound) {
		t.Fatalf("expected ErrPendingNotFound, got %v", err)
	}
	if got := len(f.absences(t)); got != 2 {
		t.Errorf("expired import must not write, got %d records", got)
	}
}

func TestResolve_OtherTenantCannotSeePending(t *testing.T) {
	f := newFixture(t, docstore.NewMemoryStore(), Config{})
	f.upload(t, firstUpload)
	sum, _ := f.upload(t, secondUpload)

	other := db.WithTenant(context.Background(), "globex")
	if _, err := f.svc.Pending(other, "absence", sum.ImportID); !errors.Is(err, ErrPendingNotFound) {
		t.Errorf("expected ErrPendingNotFound across tenants, got %v", err)
	}
	p, err := f.svc.Pending(f.ctx, "absence", sum.ImportID)
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Classification.Duplicates) != 2 {
		t.Errorf("expected 2 duplicates, got %d", len(p.Classification.Duplicates))
	}
	if _, ok := p.Classification.Duplicates[0].Fields["fechaInicio"].(time.Time); !ok {
		t.Errorf("expected dates restored on pending records")
	}
}

func TestUpload_SkippedRowsAreCounted(t *testing.T) {
	f := newFixture(t, docstore.NewMemoryStore(), Config{})
	csv := "identificacion;fechaInicio;dias\n" +
		"1001;15/03/2024;1\n" +
		"9999;15/03/2024;1\n" +
		"1002;no es fecha;1\n"

	sum, err := f.upload(t, csv)
	if err != nil {
		t.Fatal(err)
	}
	if sum.RowsRead != 3 || sum.RowsSkipped != 2 || sum.Created != 1 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	rows := map[int]bool{}
	for _, sk := range sum.Skips {
		rows[sk.Row] = true
	}
	if !rows[3] || !rows[4] {
		t.Errorf("expected rows 3 and 4 skipped, got %v", sum.Skips)
	}
}

func TestUpload_NothingToImport(t *testing.T) {
	f := newFixture(t, docstore.NewMemoryStore(), Config{})
	sum, err := f.upload(t, "identificacion;fechaInicio\n9999;01/01/2024\n")
	if !errors.Is(err, ErrNothingToImport) {
		t.Fatalf("expected ErrNothingToImport, got %v", err)
	}
	if sum == nil || sum.Status != StatusEmpty || sum.RowsSkipped != 1 {
		t.Errorf("unexpected summary: %+v", sum)
	}
	if len(f.store.invalidated) != 0 {
		t.Errorf("nothing to import must not invalidate")
	}
}

func TestUpload_ParseErrors(t *testing.T) {
	f := newFixture(t, docstore.NewMemoryStore(), Config{})
	for name, csv := range map[string]string{
		"empty":          "",
		"foreign header": "nombre;apellido\nx;y\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.upload(t, csv)
			if !errors.Is(err, ErrParse) {
				t.Errorf("expected ErrParse, got %v", err)
			}
		})
	}
	if got := len(f.absences(t)); got != 0 {
		t.Errorf("parse errors must not write, got %d", got)
	}
}

func TestUpload_UnknownEntity(t *testing.T) {
	f := newFixture(t, docstore.NewMemoryStore(), Config{})
	_, err := f.svc.Upload(f.ctx, "nope", "x.csv", strings.NewReader(firstUpload), "")
	if !errors.Is(err, ErrUnknownEntity) {
		t.Fatalf("expected ErrUnknownEntity, got %v", err)
	}
}

func TestUpload_CommitFailureStillRefreshes(t *testing.T) {
	f := newFixture(t, newFlakyStore("1002"), Config{})

	sum, err := f.upload(t, firstUpload)
	if !errors.Is(err, ErrCommitFailed) {
		t.Fatalf("expected ErrCommitFailed, got %v", err)
	}
	if sum.Status != StatusFailed || sum.Failed != 1 {
		t.Errorf("unexpected summary: %+v", sum)
	}
	if f.store.invalidated["absences"] != 1 || len(f.hub.changed) != 1 {
		t.Errorf("a failed commit must still refresh the collection")
	}
	if len(f.publisher.events) != 0 {
		t.Errorf("failed imports must not be published")
	}
	if len(f.sender.subjects) != 1 || !strings.Contains(f.sender.subjects[0], "errores") {
		t.Errorf("expected a failure email, got %v", f.sender.subjects)
	}
}

func TestExport_ReimportsAsDuplicates(t *testing.T) {
	f := newFixture(t, docstore.NewMemoryStore(), Config{})
	if _, err := f.upload(t, firstUpload); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := f.svc.Export(f.ctx, &buf, "absence", FormatCSV); err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("\ufeffidentificacion;fechaInicio;dias;prorroga;diagnosticos;estado")) {
		t.Fatalf("unexpected export header: %q", buf.String())
	}

	sum, err := f.svc.Upload(f.ctx, "absence", "export.csv", &buf, "")
	if err != nil {
		t.Fatal(err)
	}
	if sum.Duplicates != 2 || sum.NewRecords != 0 {
		t.Errorf("expected every exported row to match, got %+v", sum)
	}
}

func TestWriteTemplate(t *testing.T) {
	f := newFixture(t, docstore.NewMemoryStore(), Config{})
	var buf bytes.Buffer
	if err := f.svc.WriteTemplate(&buf, "absence", FormatCSV); err != nil {
		t.Fatal(err)
	}
	want := "\ufeffidentificacion;fechaInicio;dias;prorroga;diagnosticos;estado\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
	if err := f.svc.WriteTemplate(&buf, "nope", FormatCSV); !errors.Is(err, ErrUnknownEntity) {
		t.Errorf("expected ErrUnknownEntity, got %v", err)
	}
}
