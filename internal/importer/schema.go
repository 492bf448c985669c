package importer

import (
	"fmt"
	"strings"
	"time"
)

// FieldKind selects how a raw cell is coerced.
type FieldKind int

const (
	KindString FieldKind = iota
	KindDate
	KindNumber
	KindBoolean
	KindStringList
)

func (k FieldKind) String() string {
	switch k {
	case KindDate:
		return "date"
	case KindNumber:
		return "number"
	case KindBoolean:
		return "boolean"
	case KindStringList:
		return "stringList"
	default:
		return "string"
	}
}

// Field declares one column of an entity.
type Field struct {
	Name string
	Kind FieldKind
}

// Schema is the ordered list of importable fields of an entity. Its order is
// the column order of templates and exports.
type Schema []Field

// Names returns the field names in declaration order.
func (s Schema) Names() []string {
	out := make([]string, len(s))
	for i, f := range s {
		out[i] = f.Name
	}
	return out
}

// Kind returns the declared kind of name.
func (s Schema) Kind(name string) (FieldKind, bool) {
	for _, f := range s {
		if f.Name == name {
			return f.Kind, true
		}
	}
	return KindString, false
}

// Normalize converts stored values back to their semantic types: RFC 3339
// strings in date fields become time.Time and JSON arrays in list fields
// become []string. Unknown keys are left untouched.
func (s Schema) Normalize(fields map[string]any) map[string]any {
	for _, f := range s {
		v, ok := fields[f.Name]
		if !ok || v == nil {
			continue
		}
		switch f.Kind {
		case KindDate:
			if str, ok := v.(string); ok {
				if t, err := time.Parse(time.RFC3339Nano, str); err == nil {
					fields[f.Name] = t
				} else if t, ok := CoerceDate(str); ok {
					fields[f.Name] = t
				} else {
					fields[f.Name] = nil
				}
			}
		case KindStringList:
			if items, ok := v.([]any); ok {
				list := make([]string, 0, len(items))
				for _, item := range items {
					list = append(list, fmt.Sprint(item))
				}
				fields[f.Name] = list
			}
		}
	}
	return fields
}

// Key is a natural key: an identification string plus, for most entities,
// a discriminating date. Dates compare by millisecond timestamp.
type Key struct {
	Identification string
	Millis         int64
	HasDate        bool
}

func (k Key) String() string {
	if !k.HasDate {
		return k.Identification
	}
	return k.Identification + "@" + time.UnixMilli(k.Millis).UTC().Format("2006-01-02")
}

// KeyFunc computes the natural key of a record; ok is false when any part
// of the key is missing.
type KeyFunc func(fields map[string]any) (Key, bool)

// IdentificationKey keys records on the identification field alone.
func IdentificationKey(idField string) KeyFunc {
	return func(fields map[string]any) (Key, bool) {
		id := identification(fields[idField])
		if id == "" {
			return Key{}, false
		}
		return Key{Identification: id}, true
	}
}

// IdentificationDateKey keys records on identification plus a date field.
func IdentificationDateKey(idField, dateField string) KeyFunc {
	return func(fields map[string]any) (Key, bool) {
		id := identification(fields[idField])
		if id == "" {
			return Key{}, false
		}
		t, ok := fields[dateField].(time.Time)
		if !ok || t.IsZero() {
			return Key{}, false
		}
		return Key{Identification: id, Millis: t.UnixMilli(), HasDate: true}, true
	}
}

func identification(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(id)
	case float64:
		return strings.TrimSpace(fmt.Sprintf("%.0f", id))
	default:
		return strings.TrimSpace(fmt.Sprint(id))
	}
}

// MissingPolicy decides what happens to a row whose foreign lookup fails.
// The zero value is not a policy; every lookup must pick one.
type MissingPolicy int

const (
	// SkipRow drops the row.
	SkipRow MissingPolicy = iota + 1
	// BlankLink keeps the row with an empty link field.
	BlankLink
)

func (p MissingPolicy) String() string {
	switch p {
	case SkipRow:
		return "skip-row"
	case BlankLink:
		return "blank-link"
	}
	return "unset"
}

// Lookup resolves a row against another collection (the employee roster).
// SourceField is matched against the target's MatchField; on a hit the
// target id is written to LinkField and Overlay copies target fields
// (target name -> record name).
type Lookup struct {
	Collection  string
	SourceField string
	MatchField  string
	LinkField   string
	Overlay     map[string]string
	OnMissing   MissingPolicy
}

// Entity is everything the pipeline needs to import one collection.
type Entity struct {
	Name       string
	Collection string
	Schema     Schema
	Defaults   map[string]any
	Key        KeyFunc
	Lookup     *Lookup
}
