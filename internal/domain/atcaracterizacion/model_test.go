package atcaracterizacion

import (
	"reflect"
	"testing"

	"github.com/occuhealth/occuhealth/internal/domain/employee"
	"github.com/occuhealth/occuhealth/internal/domain/records"
	"github.com/occuhealth/occuhealth/internal/importer"
)

func TestDefinition_MatchesModel(t *testing.T) {
	if m := records.SchemaMismatches(Definition(), AtCaracterizacion{}); len(m) != 0 {
		t.Fatalf("definition and model disagree: %v", m)
	}
	if _, err := importer.NewRegistry(employee.Entity(), Entity()); err != nil {
		t.Fatalf("entity rejected: %v", err)
	}
}

func TestEntity_MissingEmployeeKeepsRow(t *testing.T) {
	m := importer.NewMapper(Entity(), importer.LookupIndex{}, importer.DateCoercer{})
	rec, err := m.Map(importer.RawRow{
		"identificacion":   "C-77",
		"fechaAccidente":   "2024-02-10",
		"causasInmediatas": "acto inseguro, piso húmedo,",
	})
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if rec.Fields[employee.LinkField] != "" {
		t.Errorf("expected blank link, got %v", rec.Fields[employee.LinkField])
	}
	want := []string{"acto inseguro", "piso húmedo"}
	if got := rec.Fields["causasInmediatas"]; !reflect.DeepEqual(got, want) {
		t.Errorf("causasInmediatas = %v, want %v", got, want)
	}
	if got := rec.Fields["causasBasicas"]; !reflect.DeepEqual(got, []string{}) {
		t.Errorf("causasBasicas default = %#v", got)
	}
}

func TestEntity_KeyNeedsAccidentDate(t *testing.T) {
	if _, ok := Entity().Key(map[string]any{"identificacion": "1001", "fechaAccidente": nil}); ok {
		t.Error("a record without accident date must not have a key")
	}
}
