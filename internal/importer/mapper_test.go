package importer

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/occuhealth/occuhealth/internal/platform/docstore"
)

func absenceEntity(policy MissingPolicy) Entity {
	return Entity{
		Name:       "absence",
		Collection: "absences",
		Schema: Schema{
			{Name: "identificacion", Kind: KindString},
			{Name: "fechaInicio", Kind: KindDate},
			{Name: "dias", Kind: KindNumber},
			{Name: "prorroga", Kind: KindBoolean},
			{Name: "diagnosticos", Kind: KindStringList},
			{Name: "estado", Kind: KindString},
		},
		Defaults: map[string]any{
			"estado":       "abierta",
			"diagnosticos": []string{"sin dx"},
		},
		Key: IdentificationDateKey("identificacion", "fechaInicio"),
		Lookup: &Lookup{
			Collection:  "employees",
			SourceField: "identificacion",
			MatchField:  "identificacion",
			LinkField:   "employeeId",
			Overlay:     map[string]string{"nombre": "nombre"},
			OnMissing:   policy,
		},
	}
}

func employeeIndex() LookupIndex {
	return LookupIndex{
		"1001": {ID: "emp-1", Fields: map[string]any{"identificacion": "1001", "nombre": "Ana Ruiz"}},
	}
}

func TestMapper_CoercesEachKind(t *testing.T) {
	m := NewMapper(absenceEntity(SkipRow), employeeIndex(), DateCoercer{})

	rec, err := m.Map(RawRow{
		"identificacion": " 1001 ",
		"fechaInicio":    "15/03/2024",
		"dias":           "2,5",
		"prorroga":       "SI",
		"diagnosticos":   "A01, B02 ,,",
		"ignorada":       "x",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	if got := rec.Fields["fechaInicio"].(time.Time); !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	if rec.Fields["dias"] != 2.5 {
		t.Errorf("expected 2.5, got %v", rec.Fields["dias"])
	}
	if rec.Fields["prorroga"] != true {
		t.Errorf("expected prorroga true, got %v", rec.Fields["prorroga"])
	}
	if got := rec.Fields["diagnosticos"].([]string); !reflect.DeepEqual(got, []string{"A01", "B02"}) {
		t.Errorf("unexpected list: %#v", got)
	}
	if rec.Fields["identificacion"] != " 1001 " {
		t.Errorf("string cells must be kept verbatim, got %q", rec.Fields["identificacion"])
	}
	if _, ok := rec.Fields["ignorada"]; ok {
		t.Error("unknown columns must be ignored")
	}
	if rec.Fields["employeeId"] != "emp-1" || rec.Fields["nombre"] != "Ana Ruiz" {
		t.Errorf("lookup not applied: %v", rec.Fields)
	}
}

func TestMapper_BlankCellsKeepDefaults(t *testing.T) {
	entity := absenceEntity(SkipRow)
	m := NewMapper(entity, employeeIndex(), DateCoercer{})

	rec, err := m.Map(RawRow{"identificacion": "1001", "fechaInicio": "01/02/2024", "estado": "  "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Fields["estado"] != "abierta" {
		t.Errorf("expected default estado, got %v", rec.Fields["estado"])
	}
	if rec.Fields["dias"] != 0.0 {
		t.Errorf("expected zero dias, got %v", rec.Fields["dias"])
	}

	// Defaults must be copied, not shared.
	rec.Fields["diagnosticos"] = append(rec.Fields["diagnosticos"].([]string), "mutated")
	if got := entity.Defaults["diagnosticos"].([]string); len(got) != 1 {
		t.Errorf("entity defaults were mutated: %v", got)
	}
}

func TestMapper_UnparseableDateIsNull(t *testing.T) {
	m := NewMapper(absenceEntity(BlankLink), nil, DateCoercer{})
	rec, err := m.Map(RawRow{"identificacion": "1001", "fechaInicio": "no aplica"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Fields["fechaInicio"] != nil {
		t.Errorf("expected nil date, got %v", rec.Fields["fechaInicio"])
	}
}

func TestMapper_MissingEmployeeSkipsRow(t *testing.T) {
	m := NewMapper(absenceEntity(SkipRow), employeeIndex(), DateCoercer{})
	_, err := m.Map(RawRow{"identificacion": "9999", "fechaInicio": "01/02/2024"})
	if !errors.Is(err, ErrRowSkipped) {
		t.Fatalf("expected ErrRowSkipped, got %v", err)
	}
}

func TestMapper_MissingEmployeeBlankLink(t *testing.T) {
	m := NewMapper(absenceEntity(BlankLink), employeeIndex(), DateCoercer{})
	rec, err := m.Map(RawRow{"identificacion": "9999", "fechaInicio": "01/02/2024"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Fields["employeeId"] != "" {
		t.Errorf("expected blank link, got %v", rec.Fields["employeeId"])
	}
	for _, p := range rec.Provided {
		if p == "employeeId" {
			t.Error("blank link must not be part of the update patch")
		}
	}
}

func TestMapper_MapAllNumbersLines(t *testing.T) {
	m := NewMapper(absenceEntity(SkipRow), employeeIndex(), DateCoercer{})
	records, skips := m.MapAll([]RawRow{
		{"identificacion": "1001", "fechaInicio": "01/02/2024"},
		{"identificacion": "2002", "fechaInicio": "01/02/2024"},
		{"identificacion": "1001", "fechaInicio": "02/02/2024"},
	})
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Row != 2 || records[1].Row != 4 {
		t.Errorf("unexpected rows %d, %d", records[0].Row, records[1].Row)
	}
	if len(skips) != 1 || skips[0].Row != 3 {
		t.Errorf("expected line 3 skipped, got %v", skips)
	}
}

func TestMappedRecord_Patch(t *testing.T) {
	m := NewMapper(absenceEntity(SkipRow), employeeIndex(), DateCoercer{})
	rec, err := m.Map(RawRow{"identificacion": "1001", "fechaInicio": "01/02/2024", "dias": "3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	patch := rec.Patch()
	for _, k := range []string{"identificacion", "fechaInicio", "dias", "employeeId", "nombre"} {
		if _, ok := patch[k]; !ok {
			t.Errorf("expected %s in patch", k)
		}
	}
	if _, ok := patch["estado"]; ok {
		t.Error("defaults must not overwrite existing values on update")
	}
}

func TestCoerceBoolean(t *testing.T) {
	for _, v := range []any{"SI", "sí", "Yes", "TRUE", "1", 1.0} {
		if !coerceBoolean(v) {
			t.Errorf("expected %v to be true", v)
		}
	}
	for _, v := range []any{"no", "", "2", "verdadero", 0.0} {
		if coerceBoolean(v) {
			t.Errorf("expected %v to be false", v)
		}
	}
}

func TestCoerceNumber(t *testing.T) {
	cases := map[any]float64{
		"3,5":   3.5,
		" 12 ":  12,
		"abc":   0,
		7.25:    7.25,
		"1,2,3": 0,
	}
	for in, want := range cases {
		if got := coerceNumber(in); got != want {
			t.Errorf("coerceNumber(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestBuildLookupIndex(t *testing.T) {
	docs := []*docstore.Document{
		{Meta: docstore.Meta{ID: "a"}, Data: json.RawMessage(`{"identificacion":"1001"}`)},
		{Meta: docstore.Meta{ID: "b"}, Data: json.RawMessage(`{"identificacion":"1001"}`)},
		{Meta: docstore.Meta{ID: "c"}, Data: json.RawMessage(`{"identificacion":2002}`)},
		{Meta: docstore.Meta{ID: "d"}, Data: json.RawMessage(`{"nombre":"sin id"}`)},
	}
	index, err := BuildLookupIndex(docs, "identificacion")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(index) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(index))
	}
	if index["1001"].ID != "a" {
		t.Errorf("expected first document to win, got %s", index["1001"].ID)
	}
	if index["2002"].ID != "c" {
		t.Errorf("expected numeric identification to be indexed, got %v", index["2002"])
	}
}
