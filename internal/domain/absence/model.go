// Package absence records work absences (medical leave, incapacities) and
// their supporting documents.
package absence

import (
	"time"

	"github.com/occuhealth/occuhealth/internal/domain/employee"
	"github.com/occuhealth/occuhealth/internal/domain/records"
	"github.com/occuhealth/occuhealth/internal/importer"
	"github.com/occuhealth/occuhealth/internal/platform/docstore"
)

const (
	Name       = "absence"
	Collection = "absences"
)

type Absence struct {
	docstore.Meta
	Identificacion string     `json:"identificacion" validate:"required"`
	EmployeeID     string     `json:"employeeId,omitempty"`
	Nombre         string     `json:"nombre,omitempty"`
	Cargo          string     `json:"cargo,omitempty"`
	CentroCosto    string     `json:"centroCosto,omitempty"`
	FechaInicio    *time.Time `json:"fechaInicio" validate:"required"`
	FechaFin       *time.Time `json:"fechaFin"`
	Dias           float64    `json:"dias" validate:"gte=0"`
	Tipo           string     `json:"tipo,omitempty"`
	Diagnostico    string     `json:"diagnostico,omitempty"`
	CodigoCIE10    string     `json:"codigoCie10,omitempty" validate:"omitempty,max=8"`
	Prorroga       bool       `json:"prorroga"`
	Entidad        string     `json:"entidad,omitempty"`
	Observaciones  string     `json:"observaciones,omitempty"`
	Soportes       []string   `json:"soportes"`
}

func Entity() importer.Entity {
	return importer.Entity{
		Name:       Name,
		Collection: Collection,
		Schema: importer.Schema{
			{Name: "identificacion", Kind: importer.KindString},
			{Name: "fechaInicio", Kind: importer.KindDate},
			{Name: "fechaFin", Kind: importer.KindDate},
			{Name: "dias", Kind: importer.KindNumber},
			{Name: "tipo", Kind: importer.KindString},
			{Name: "diagnostico", Kind: importer.KindString},
			{Name: "codigoCie10", Kind: importer.KindString},
			{Name: "prorroga", Kind: importer.KindBoolean},
			{Name: "entidad", Kind: importer.KindString},
			{Name: "observaciones", Kind: importer.KindString},
			{Name: "soportes", Kind: importer.KindStringList},
		},
		Defaults: map[string]any{
			"tipo":     "enfermedad general",
			"prorroga": false,
			"soportes": []string{},
		},
		Key: importer.IdentificationDateKey("identificacion", "fechaInicio"),
		// An absence for someone outside the roster is not imported.
		Lookup: employee.Lookup(importer.SkipRow),
	}
}

func Definition() records.Definition {
	return records.Definition{
		Route:       Collection,
		Entity:      Entity(),
		Filters:     []string{"identificacion", employee.LinkField, "tipo", "centroCosto", "prorroga"},
		Attachments: []string{"soportes"},
	}
}

func NewService(store docstore.Store, deps records.Deps) *records.Service[Absence] {
	return records.NewService[Absence](Definition(), store, deps)
}
