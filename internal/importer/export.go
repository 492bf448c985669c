package importer

import (
	"strconv"
	"strings"
	"time"
)

// ExportRow renders normalized fields in schema order using the same
// conventions the reader accepts: dd/MM/yyyy dates, SI/NO booleans and
// comma-joined lists. Dates are written as wall-clock time in loc (UTC when
// nil), the zone a DateCoercer with the same location reads them back in.
func ExportRow(schema Schema, fields map[string]any, loc *time.Location) []string {
	if loc == nil {
		loc = time.UTC
	}
	out := make([]string, len(schema))
	for i, f := range schema {
		out[i] = formatCell(f.Kind, fields[f.Name], loc)
	}
	return out
}

func formatCell(kind FieldKind, v any, loc *time.Location) string {
	if v == nil {
		return ""
	}
	switch kind {
	case KindDate:
		t, ok := v.(time.Time)
		if !ok || t.IsZero() {
			return ""
		}
		t = t.In(loc)
		if t.Hour() != 0 || t.Minute() != 0 {
			return t.Format("02/01/2006 15:04")
		}
		return t.Format("02/01/2006")
	case KindBoolean:
		if b, ok := v.(bool); ok && b {
			return "SI"
		}
		return "NO"
	case KindNumber:
		if f, ok := v.(float64); ok {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
	case KindStringList:
		if list, ok := v.([]string); ok {
			return strings.Join(list, ", ")
		}
	}
	return cellString(v)
}
