package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/occuhealth/occuhealth/internal/platform/db"
	"github.com/occuhealth/occuhealth/internal/platform/docstore"
	"github.com/occuhealth/occuhealth/internal/platform/events"
	"github.com/occuhealth/occuhealth/internal/platform/metrics"
	"github.com/occuhealth/occuhealth/internal/platform/notification"
	"github.com/occuhealth/occuhealth/internal/platform/websocket"
)

// ErrNothingToImport is returned when an upload yields no record at all.
var ErrNothingToImport = errors.New("nothing to import")

// Import statuses reported in a Summary.
const (
	StatusCommitted        = "committed"
	StatusAwaitingDecision = "awaiting_decision"
	StatusDiscarded        = "discarded"
	StatusFailed           = "failed"
	StatusEmpty            = "empty"
)

// Summary reports what an upload or a decision did.
type Summary struct {
	ImportID    string     `json:"importId,omitempty"`
	Entity      string     `json:"entity"`
	FileName    string     `json:"fileName"`
	Status      string     `json:"status"`
	Decision    Decision   `json:"decision,omitempty"`
	RowsRead    int        `json:"rowsRead"`
	RowsSkipped int        `json:"rowsSkipped"`
	NewRecords  int        `json:"newRecords"`
	Duplicates  int        `json:"duplicates"`
	Created     int        `json:"created"`
	Updated     int        `json:"updated"`
	Failed      int        `json:"failed"`
	Skips       []*RowSkip `json:"skips,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

// Broadcaster tells connected clients that a collection changed.
type Broadcaster interface {
	Notify(tenant string, event websocket.Event)
	CollectionChanged(tenant, collection string)
}

// Config tunes the import pipeline.
type Config struct {
	PendingTTL       time.Duration
	CancelPolicy     CancelPolicy
	Concurrency      int
	Location         *time.Location
	NotifyRecipients []string
}

// Service runs the upload pipeline: parse, map, classify, then commit or
// park the upload until the user decides about duplicates.
type Service struct {
	registry  *Registry
	store     docstore.Store
	pending   PendingStore
	cfg       Config
	logger    zerolog.Logger
	hub       Broadcaster
	publisher events.Publisher
	mailer    *notification.Manager
	now       func() time.Time
}

type Option func(*Service)

func WithBroadcaster(b Broadcaster) Option { return func(s *Service) { s.hub = b } }

func WithPublisher(p events.Publisher) Option { return func(s *Service) { s.publisher = p } }

func WithMailer(m *notification.Manager) Option { return func(s *Service) { s.mailer = m } }

func NewService(registry *Registry, store docstore.Store, pending PendingStore, cfg Config, logger zerolog.Logger, opts ...Option) *Service {
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = 30 * time.Minute
	}
	if cfg.CancelPolicy == "" {
		cfg.CancelPolicy = CancelAsDeny
	}
	s := &Service{
		registry:  registry,
		store:     store,
		pending:   pending,
		cfg:       cfg,
		logger:    logger.With().Str("component", "importer").Logger(),
		publisher: events.NopPublisher{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the entities the service imports.
func (s *Service) Registry() *Registry { return s.registry }

func tenantOf(ctx context.Context) string {
	if t := db.TenantFromContext(ctx); t != "" {
		return t
	}
	return "default"
}

// Upload imports a file into entityName. Without duplicates the new records
// are committed at once; otherwise the classification is parked as a
// pending import and the summary carries its id.
func (s *Service) Upload(ctx context.Context, entityName, fileName string, r io.Reader, uploadedBy string) (*Summary, error) {
	entity, err := s.registry.Get(entityName)
	if err != nil {
		return nil, err
	}
	tenant := tenantOf(ctx)
	log := s.logger.With().Str("tenant_id", tenant).Str("entity", entity.Name).Str("file", fileName).Logger()

	start := s.now()
	table, err := ReadTable(fileName, r)
	if err != nil {
		metrics.RecordImport(tenant, entity.Name, StatusFailed)
		return nil, err
	}
	if !headerMatches(table.Header, entity.Schema) {
		metrics.RecordImport(tenant, entity.Name, StatusFailed)
		return nil, fmt.Errorf("%w: no column matches the %s template", ErrParse, entity.Name)
	}

	var index LookupIndex
	if lk := entity.Lookup; lk != nil {
		docs, err := s.store.List(ctx, lk.Collection)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", lk.Collection, err)
		}
		if index, err = BuildLookupIndex(docs, lk.MatchField); err != nil {
			return nil, err
		}
	}

	mapper := NewMapper(entity, index, DateCoercer{Location: s.cfg.Location})
	mapped, skips := mapper.MapAll(table.Rows)
	metrics.ObservePhase(entity.Name, "map", s.now().Sub(start).Seconds())

	classifyStart := s.now()
	existing, err := s.existing(ctx, entity)
	if err != nil {
		return nil, err
	}
	cls := Classify(mapped, existing, entity.Key)
	for _, row := range cls.SkippedRows {
		skips = append(skips, &RowSkip{Row: row, Reason: "natural key is incomplete"})
	}
	for _, sk := range skips {
		log.Debug().Int("row", sk.Row).Str("reason", sk.Reason).Msg("row skipped")
	}
	metrics.ObservePhase(entity.Name, "classify", s.now().Sub(classifyStart).Seconds())
	metrics.RecordRows(entity.Name, len(cls.NewRecords)+len(cls.Duplicates), len(skips))

	sum := &Summary{
		Entity:      entity.Name,
		FileName:    fileName,
		RowsRead:    len(table.Rows),
		RowsSkipped: len(skips),
		NewRecords:  len(cls.NewRecords),
		Duplicates:  len(cls.Duplicates),
		Skips:       skips,
	}

	switch cls.Plan() {
	case ActionNothing:
		sum.Status = StatusEmpty
		metrics.RecordImport(tenant, entity.Name, StatusEmpty)
		return sum, ErrNothingToImport

	case ActionCommitNew:
		sum.ImportID = uuid.NewString()
		return sum, s.commit(ctx, entity, sum, cls.NewRecords, nil)
	}

	now := s.now().UTC()
	p := &PendingImport{
		ID:             uuid.NewString(),
		Tenant:         tenant,
		Entity:         entity.Name,
		FileName:       fileName,
		UploadedBy:     uploadedBy,
		RowsRead:       sum.RowsRead,
		RowsSkipped:    sum.RowsSkipped,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.cfg.PendingTTL),
		Classification: cls,
	}
	if err := s.pending.Save(ctx, p); err != nil {
		return nil, err
	}
	s.trackPending()
	metrics.RecordImport(tenant, entity.Name, StatusAwaitingDecision)

	sum.ImportID = p.ID
	sum.Status = StatusAwaitingDecision
	sum.ExpiresAt = &p.ExpiresAt
	if s.hub != nil {
		s.hub.Notify(tenant, websocket.Event{Type: websocket.EventImportPending, Collection: entity.Collection, ImportID: p.ID})
	}
	log.Info().Str("import_id", p.ID).Int("new", sum.NewRecords).Int("duplicates", sum.Duplicates).Msg("import awaiting decision")
	return sum, nil
}

// Resolve applies the user's decision to a pending import. An expired or
// already resolved import yields ErrPendingNotFound and nothing is written.
func (s *Service) Resolve(ctx context.Context, entityName, importID string, d Decision) (*Summary, error) {
	entity, err := s.registry.Get(entityName)
	if err != nil {
		return nil, err
	}
	tenant := tenantOf(ctx)

	p, err := s.pending.Take(ctx, tenant, entity.Name, importID)
	if err != nil {
		return nil, err
	}
	s.trackPending()
	if !p.ExpiresAt.IsZero() && s.now().After(p.ExpiresAt) {
		return nil, ErrPendingNotFound
	}
	p.normalize(entity.Schema)

	sum := &Summary{
		ImportID:    p.ID,
		Entity:      entity.Name,
		FileName:    p.FileName,
		Decision:    d,
		RowsRead:    p.RowsRead,
		RowsSkipped: p.RowsSkipped,
		NewRecords:  len(p.Classification.NewRecords),
		Duplicates:  len(p.Classification.Duplicates),
	}

	records, dups := p.Classification.Resolve(d, s.cfg.CancelPolicy)
	if len(records) == 0 && len(dups) == 0 {
		sum.Status = StatusDiscarded
		metrics.RecordImport(tenant, entity.Name, StatusDiscarded)
		s.logger.Info().Str("tenant_id", tenant).Str("entity", entity.Name).Str("import_id", p.ID).
			Str("decision", string(d)).Msg("pending import discarded")
		return sum, nil
	}
	return sum, s.commit(ctx, entity, sum, records, dups)
}

// Pending returns a pending import with its field types restored.
func (s *Service) Pending(ctx context.Context, entityName, importID string) (*PendingImport, error) {
	entity, err := s.registry.Get(entityName)
	if err != nil {
		return nil, err
	}
	p, err := s.pending.Get(ctx, tenantOf(ctx), entity.Name, importID)
	if err != nil {
		return nil, err
	}
	p.normalize(entity.Schema)
	return p, nil
}

// WriteTemplate writes an empty file with the entity's columns.
func (s *Service) WriteTemplate(w io.Writer, entityName string, f Format) error {
	entity, err := s.registry.Get(entityName)
	if err != nil {
		return err
	}
	return WriteTable(w, f, entity.Name, entity.Schema.Names(), nil)
}

// Export writes the whole collection in the import layout, so the file can
// be edited and uploaded again.
func (s *Service) Export(ctx context.Context, w io.Writer, entityName string, f Format) error {
	entity, err := s.registry.Get(entityName)
	if err != nil {
		return err
	}
	existing, err := s.existing(ctx, entity)
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(existing))
	for _, e := range existing {
		rows = append(rows, ExportRow(entity.Schema, e.Fields, s.cfg.Location))
	}
	return WriteTable(w, f, entity.Name, entity.Schema.Names(), rows)
}

func (s *Service) existing(ctx context.Context, entity Entity) ([]ExistingRecord, error) {
	docs, err := s.store.List(ctx, entity.Collection)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", entity.Collection, err)
	}
	out := make([]ExistingRecord, 0, len(docs))
	for _, d := range docs {
		fields, err := d.Fields()
		if err != nil {
			return nil, err
		}
		out = append(out, ExistingRecord{ID: d.ID, Fields: entity.Schema.Normalize(fields)})
	}
	return out, nil
}

// commit writes the records, then invalidates and announces the collection
// whether or not every write succeeded.
func (s *Service) commit(ctx context.Context, entity Entity, sum *Summary, records []*MappedRecord, dups []*Duplicate) error {
	tenant := tenantOf(ctx)
	log := s.logger.With().Str("tenant_id", tenant).Str("entity", entity.Name).Str("import_id", sum.ImportID).Logger()

	start := s.now()
	err := NewCommitter(s.store, entity.Collection, s.cfg.Concurrency, s.logger).Commit(ctx, records, dups)
	metrics.ObservePhase(entity.Name, "commit", s.now().Sub(start).Seconds())

	bg := context.WithoutCancel(ctx)
	if invErr := s.store.Invalidate(bg, entity.Collection); invErr != nil {
		log.Warn().Err(invErr).Msg("collection invalidation failed")
	}
	if s.hub != nil {
		s.hub.CollectionChanged(tenant, entity.Collection)
	}

	if err != nil {
		var ce *CommitError
		if errors.As(err, &ce) {
			sum.Failed = ce.Failed
		}
		sum.Status = StatusFailed
		metrics.RecordImport(tenant, entity.Name, StatusFailed)
		metrics.RecordWrites(entity.Name, 0, 0, sum.Failed)
		log.Error().Err(err).Int("failed", sum.Failed).Msg("import commit failed")
		s.mail(bg, notification.TemplateImportFailed, map[string]string{
			"entity": entity.Name,
			"file":   sum.FileName,
			"error":  err.Error(),
		})
		return err
	}

	sum.Created = len(records)
	sum.Updated = len(dups)
	sum.Status = StatusCommitted
	metrics.RecordImport(tenant, entity.Name, StatusCommitted)
	metrics.RecordWrites(entity.Name, sum.Created, sum.Updated, 0)
	log.Info().Int("created", sum.Created).Int("updated", sum.Updated).Msg("import committed")

	if s.hub != nil {
		s.hub.Notify(tenant, websocket.Event{Type: websocket.EventImportCommitted, Collection: entity.Collection, ImportID: sum.ImportID})
	}
	ev := events.Event{
		Type:       events.TypeImportCommitted,
		TenantID:   tenant,
		Subject:    entity.Name,
		OccurredAt: s.now().UTC(),
		Data: map[string]any{
			"importId": sum.ImportID,
			"file":     sum.FileName,
			"created":  sum.Created,
			"updated":  sum.Updated,
			"decision": string(sum.Decision),
		},
	}
	if pubErr := s.publisher.Publish(bg, ev); pubErr != nil {
		log.Warn().Err(pubErr).Msg("import event not published")
	}

	decision := string(sum.Decision)
	if decision == "" {
		decision = "-"
	}
	s.mail(bg, notification.TemplateImportSummary, map[string]string{
		"entity":       entity.Name,
		"status":       sum.Status,
		"file":         sum.FileName,
		"rows_read":    strconv.Itoa(sum.RowsRead),
		"rows_skipped": strconv.Itoa(sum.RowsSkipped),
		"created":      strconv.Itoa(sum.Created),
		"updated":      strconv.Itoa(sum.Updated),
		"decision":     decision,
	})
	return nil
}

func (s *Service) mail(ctx context.Context, template string, data map[string]string) {
	if s.mailer == nil || len(s.cfg.NotifyRecipients) == 0 {
		return
	}
	if err := s.mailer.Notify(ctx, template, data, s.cfg.NotifyRecipients...); err != nil {
		s.logger.Warn().Err(err).Str("template", template).Msg("import notification failed")
	}
}

// trackPending refreshes the pending gauge for stores that can count.
func (s *Service) trackPending() {
	if c, ok := s.pending.(interface{ Len() int }); ok {
		metrics.PendingImports.Set(float64(c.Len()))
	}
}

func headerMatches(header []string, schema Schema) bool {
	for _, h := range header {
		if _, ok := schema.Kind(h); ok {
			return true
		}
	}
	return false
}
