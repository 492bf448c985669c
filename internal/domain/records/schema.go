package records

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/occuhealth/occuhealth/internal/importer"
)

var timeType = reflect.TypeOf(time.Time{})

// SchemaMismatches compares def against the model struct: every schema
// field must map to a json-tagged struct field of a matching Go type, and
// every filter and attachment field must exist. It returns one message per
// problem; nil means the definition and model agree.
func SchemaMismatches(def Definition, model any) []string {
	t := reflect.TypeOf(model)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return []string{fmt.Sprintf("model %s is not a struct", t)}
	}
	fields := jsonFields(t)

	var out []string
	for _, f := range def.Entity.Schema {
		ft, ok := fields[f.Name]
		if !ok {
			out = append(out, fmt.Sprintf("schema field %q has no struct field", f.Name))
			continue
		}
		if !kindMatches(f.Kind, ft) {
			out = append(out, fmt.Sprintf("schema field %q is %s but struct field is %s", f.Name, f.Kind, ft))
		}
	}
	for _, name := range def.Filters {
		if _, ok := fields[name]; !ok {
			out = append(out, fmt.Sprintf("filter %q has no struct field", name))
		}
	}
	for _, name := range def.Attachments {
		if kind, ok := def.Entity.Schema.Kind(name); !ok || kind != importer.KindStringList {
			out = append(out, fmt.Sprintf("attachment field %q is not a stringList schema field", name))
		}
	}
	if lk := def.Entity.Lookup; lk != nil {
		if _, ok := fields[lk.LinkField]; !ok {
			out = append(out, fmt.Sprintf("link field %q has no struct field", lk.LinkField))
		}
		for _, dst := range lk.Overlay {
			if _, ok := fields[dst]; !ok {
				out = append(out, fmt.Sprintf("overlay field %q has no struct field", dst))
			}
		}
	}
	return out
}

// jsonFields maps json names to field types, descending into embedded
// structs the way encoding/json does.
func jsonFields(t reflect.Type) map[string]reflect.Type {
	out := make(map[string]reflect.Type)
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		name, _, _ := strings.Cut(tag, ",")
		if f.Anonymous && name == "" && f.Type.Kind() == reflect.Struct {
			for k, v := range jsonFields(f.Type) {
				out[k] = v
			}
			continue
		}
		if !f.IsExported() || name == "-" {
			continue
		}
		if name == "" {
			name = f.Name
		}
		out[name] = f.Type
	}
	return out
}

func kindMatches(kind importer.FieldKind, t reflect.Type) bool {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch kind {
	case importer.KindDate:
		return t == timeType
	case importer.KindNumber:
		switch t.Kind() {
		case reflect.Float64, reflect.Float32, reflect.Int, reflect.Int64:
			return true
		}
		return false
	case importer.KindBoolean:
		return t.Kind() == reflect.Bool
	case importer.KindStringList:
		return t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.String
	default:
		return t.Kind() == reflect.String
	}
}
