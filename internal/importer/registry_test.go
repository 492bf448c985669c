package importer

import (
	"errors"
	"testing"
)

func TestNewRegistry_Validates(t *testing.T) {
	valid := absenceEntity(SkipRow)

	tests := map[string]func(e *Entity){
		"no name":                      func(e *Entity) { e.Name = "" },
		"no collection":                func(e *Entity) { e.Collection = "" },
		"empty schema":                 func(e *Entity) { e.Schema = nil },
		"no key":                       func(e *Entity) { e.Key = nil },
		"duplicate field":              func(e *Entity) { e.Schema = append(e.Schema, Field{Name: "dias"}) },
		"lookup source outside schema": func(e *Entity) { e.Lookup.SourceField = "cedula" },
		"incomplete lookup":            func(e *Entity) { e.Lookup.LinkField = "" },
		"lookup without policy":        func(e *Entity) { e.Lookup.OnMissing = 0 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			e := absenceEntity(SkipRow)
			mutate(&e)
			if _, err := NewRegistry(e); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	if _, err := NewRegistry(valid, valid); err == nil {
		t.Error("expected error for duplicate registration")
	}
}

func TestRegistry_GetAndAll(t *testing.T) {
	emp := Entity{
		Name:       "employee",
		Collection: "employees",
		Schema:     Schema{{Name: "identificacion"}, {Name: "nombre"}},
		Key:        IdentificationKey("identificacion"),
	}
	r, err := NewRegistry(absenceEntity(BlankLink), emp)
	if err != nil {
		t.Fatal(err)
	}

	got, err := r.Get("employee")
	if err != nil || got.Collection != "employees" {
		t.Errorf("Get(employee) = %+v, %v", got, err)
	}
	if _, err := r.Get("patients"); !errors.Is(err, ErrUnknownEntity) {
		t.Errorf("expected ErrUnknownEntity, got %v", err)
	}

	all := r.All()
	if len(all) != 2 || all[0].Name != "absence" || all[1].Name != "employee" {
		t.Errorf("expected entities sorted by name, got %v", []string{all[0].Name, all[1].Name})
	}
}
