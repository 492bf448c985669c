package importer

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/occuhealth/occuhealth/internal/platform/docstore"
)

// ErrRowSkipped marks rows dropped by the leniency policy: a failed foreign
// lookup or a missing natural key.
var ErrRowSkipped = errors.New("row skipped")

// RawRow is one parsed line: column name -> cell (string, float64 or nil).
type RawRow map[string]any

// MappedRecord is a row coerced to its entity's field types. It has no id.
// Provided lists the fields the row actually supplied (plus lookup links),
// which is what a duplicate update sends.
type MappedRecord struct {
	Row      int            `json:"row"`
	Fields   map[string]any `json:"fields"`
	Provided []string       `json:"provided"`
}

// Patch returns the subset of fields supplied by the row.
func (r *MappedRecord) Patch() map[string]any {
	patch := make(map[string]any, len(r.Provided))
	for _, name := range r.Provided {
		patch[name] = r.Fields[name]
	}
	return patch
}

// RowSkip describes a dropped row.
type RowSkip struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

func (e *RowSkip) Error() string {
	return fmt.Sprintf("row %d skipped: %s", e.Row, e.Reason)
}

func (e *RowSkip) Is(target error) bool { return target == ErrRowSkipped }

// LookupTarget is an indexed record of the lookup collection.
type LookupTarget struct {
	ID     string
	Fields map[string]any
}

// LookupIndex maps a match value (identification) to its target record.
type LookupIndex map[string]LookupTarget

// BuildLookupIndex indexes docs by matchField. The first document wins when
// two share a value.
func BuildLookupIndex(docs []*docstore.Document, matchField string) (LookupIndex, error) {
	index := make(LookupIndex, len(docs))
	for _, d := range docs {
		fields, err := d.Fields()
		if err != nil {
			return nil, err
		}
		key := identification(fields[matchField])
		if key == "" {
			continue
		}
		if _, seen := index[key]; !seen {
			index[key] = LookupTarget{ID: d.ID, Fields: fields}
		}
	}
	return index, nil
}

// Mapper turns raw rows into MappedRecords for one entity.
type Mapper struct {
	entity Entity
	index  LookupIndex
	dates  DateCoercer
}

// NewMapper builds a mapper. index may be nil when the entity has no lookup.
func NewMapper(entity Entity, index LookupIndex, dates DateCoercer) *Mapper {
	return &Mapper{entity: entity, index: index, dates: dates}
}

// MapAll maps every row, numbering them by file line (the header is line 1).
func (m *Mapper) MapAll(rows []RawRow) ([]*MappedRecord, []*RowSkip) {
	records := make([]*MappedRecord, 0, len(rows))
	var skips []*RowSkip
	for i, row := range rows {
		rec, err := m.Map(row)
		line := i + 2
		if err != nil {
			var skip *RowSkip
			if errors.As(err, &skip) {
				skip.Row = line
				skips = append(skips, skip)
			}
			continue
		}
		rec.Row = line
		records = append(records, rec)
	}
	return records, skips
}

// Map coerces every schema field present in row and resolves the entity's
// lookup. Blank or absent cells keep the entity default.
func (m *Mapper) Map(row RawRow) (*MappedRecord, error) {
	rec := &MappedRecord{Fields: m.defaults()}

	for _, f := range m.entity.Schema {
		raw, ok := row[f.Name]
		if !ok || isBlank(raw) {
			continue
		}
		rec.Fields[f.Name] = m.coerce(f.Kind, raw)
		rec.Provided = append(rec.Provided, f.Name)
	}

	if lk := m.entity.Lookup; lk != nil {
		if err := m.resolve(lk, rec); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

func (m *Mapper) resolve(lk *Lookup, rec *MappedRecord) error {
	key := identification(rec.Fields[lk.SourceField])
	target, found := m.index[key]
	if !found {
		if lk.OnMissing != BlankLink {
			return &RowSkip{Reason: fmt.Sprintf("%s %q not found in %s", lk.SourceField, key, lk.Collection)}
		}
		rec.Fields[lk.LinkField] = ""
		return nil
	}

	rec.Fields[lk.LinkField] = target.ID
	rec.Provided = append(rec.Provided, lk.LinkField)
	for from, to := range lk.Overlay {
		if v, ok := target.Fields[from]; ok && v != nil {
			rec.Fields[to] = v
			rec.Provided = appendUnique(rec.Provided, to)
		}
	}
	return nil
}

// defaults copies the entity defaults and fills every undeclared schema
// field with its kind's zero value, so no field is ever left unset.
func (m *Mapper) defaults() map[string]any {
	fields := make(map[string]any, len(m.entity.Schema)+4)
	for _, f := range m.entity.Schema {
		fields[f.Name] = zeroValue(f.Kind)
	}
	for k, v := range m.entity.Defaults {
		if list, ok := v.([]string); ok {
			v = append([]string{}, list...)
		}
		fields[k] = v
	}
	return fields
}

func zeroValue(kind FieldKind) any {
	switch kind {
	case KindNumber:
		return 0.0
	case KindBoolean:
		return false
	case KindStringList:
		return []string{}
	case KindDate:
		return nil
	default:
		return ""
	}
}

func (m *Mapper) coerce(kind FieldKind, raw any) any {
	switch kind {
	case KindDate:
		if t, ok := m.dates.Coerce(raw); ok {
			return t
		}
		return nil
	case KindNumber:
		return coerceNumber(raw)
	case KindBoolean:
		return coerceBoolean(raw)
	case KindStringList:
		return coerceStringList(raw)
	default:
		return cellString(raw)
	}
}

func coerceNumber(raw any) float64 {
	switch v := raw.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	s := strings.Replace(strings.TrimSpace(cellString(raw)), ",", ".", 1)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func coerceBoolean(raw any) bool {
	switch strings.ToLower(strings.TrimSpace(cellString(raw))) {
	case "si", "sí", "yes", "true", "1":
		return true
	}
	return false
}

func coerceStringList(raw any) []string {
	s := cellString(raw)
	out := []string{}
	if strings.TrimSpace(s) == "" {
		return out
	}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func cellString(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case time.Time:
		return v.Format("02/01/2006")
	default:
		return fmt.Sprint(v)
	}
}

func isBlank(raw any) bool {
	switch v := raw.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	}
	return false
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
