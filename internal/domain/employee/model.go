// Package employee is the worker roster. Every other occupational health
// record links to an employee by identification.
package employee

import (
	"time"

	"github.com/occuhealth/occuhealth/internal/domain/records"
	"github.com/occuhealth/occuhealth/internal/importer"
	"github.com/occuhealth/occuhealth/internal/platform/docstore"
)

const (
	Name       = "employee"
	Collection = "employees"
)

// LinkField is the field dependent records store the employee id in.
const LinkField = "employeeId"

type Employee struct {
	docstore.Meta
	Identificacion  string     `json:"identificacion" validate:"required,max=20"`
	TipoDocumento   string     `json:"tipoDocumento,omitempty" validate:"omitempty,oneof=CC CE TI PA PPT"`
	Nombre          string     `json:"nombre" validate:"required"`
	Cargo           string     `json:"cargo,omitempty"`
	CentroCosto     string     `json:"centroCosto,omitempty"`
	Area            string     `json:"area,omitempty"`
	Sede            string     `json:"sede,omitempty"`
	FechaNacimiento *time.Time `json:"fechaNacimiento"`
	FechaIngreso    *time.Time `json:"fechaIngreso"`
	FechaRetiro     *time.Time `json:"fechaRetiro"`
	Genero          string     `json:"genero,omitempty"`
	EPS             string     `json:"eps,omitempty"`
	ARL             string     `json:"arl,omitempty"`
	Correo          string     `json:"correo,omitempty" validate:"omitempty,email"`
	Telefono        string     `json:"telefono,omitempty"`
	Activo          bool       `json:"activo"`
}

func Entity() importer.Entity {
	return importer.Entity{
		Name:       Name,
		Collection: Collection,
		Schema: importer.Schema{
			{Name: "identificacion", Kind: importer.KindString},
			{Name: "tipoDocumento", Kind: importer.KindString},
			{Name: "nombre", Kind: importer.KindString},
			{Name: "cargo", Kind: importer.KindString},
			{Name: "centroCosto", Kind: importer.KindString},
			{Name: "area", Kind: importer.KindString},
			{Name: "sede", Kind: importer.KindString},
			{Name: "fechaNacimiento", Kind: importer.KindDate},
			{Name: "fechaIngreso", Kind: importer.KindDate},
			{Name: "fechaRetiro", Kind: importer.KindDate},
			{Name: "genero", Kind: importer.KindString},
			{Name: "eps", Kind: importer.KindString},
			{Name: "arl", Kind: importer.KindString},
			{Name: "correo", Kind: importer.KindString},
			{Name: "telefono", Kind: importer.KindString},
			{Name: "activo", Kind: importer.KindBoolean},
		},
		Defaults: map[string]any{
			"tipoDocumento": "CC",
			"activo":        true,
		},
		// The roster is the lookup target, so identification alone is the key.
		Key: importer.IdentificationKey("identificacion"),
	}
}

// Lookup links a dependent record to the roster by identification and
// copies the worker's name, position and cost center onto it.
func Lookup(onMissing importer.MissingPolicy) *importer.Lookup {
	return &importer.Lookup{
		Collection:  Collection,
		SourceField: "identificacion",
		MatchField:  "identificacion",
		LinkField:   LinkField,
		Overlay: map[string]string{
			"nombre":      "nombre",
			"cargo":       "cargo",
			"centroCosto": "centroCosto",
		},
		OnMissing: onMissing,
	}
}

func Definition() records.Definition {
	return records.Definition{
		Route:   Collection,
		Entity:  Entity(),
		Filters: []string{"identificacion", "cargo", "centroCosto", "area", "sede", "activo"},
	}
}

func NewService(store docstore.Store, deps records.Deps) *records.Service[Employee] {
	return records.NewService[Employee](Definition(), store, deps)
}
