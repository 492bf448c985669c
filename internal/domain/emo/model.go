// Package emo stores occupational medical examinations (EMO): admission,
// periodic, post-incapacity and exit exams with their fitness concept.
package emo

import (
	"time"

	"github.com/occuhealth/occuhealth/internal/domain/employee"
	"github.com/occuhealth/occuhealth/internal/domain/records"
	"github.com/occuhealth/occuhealth/internal/importer"
	"github.com/occuhealth/occuhealth/internal/platform/docstore"
)

const (
	Name       = "emo"
	Collection = "emos"
)

type Emo struct {
	docstore.Meta
	Identificacion      string     `json:"identificacion" validate:"required"`
	EmployeeID          string     `json:"employeeId,omitempty"`
	Nombre              string     `json:"nombre,omitempty"`
	Cargo               string     `json:"cargo,omitempty"`
	CentroCosto         string     `json:"centroCosto,omitempty"`
	FechaExamen         *time.Time `json:"fechaExamen" validate:"required"`
	TipoExamen          string     `json:"tipoExamen,omitempty" validate:"omitempty,oneof=ingreso periodico postincapacidad reintegro retiro"`
	Concepto            string     `json:"concepto,omitempty"`
	Restricciones       []string   `json:"restricciones"`
	Recomendaciones     string     `json:"recomendaciones,omitempty"`
	Proveedor           string     `json:"proveedor,omitempty"`
	Medico              string     `json:"medico,omitempty"`
	ProximoExamen       *time.Time `json:"proximoExamen"`
	RequiereSeguimiento bool       `json:"requiereSeguimiento"`
	Certificados        []string   `json:"certificados"`
}

func Entity() importer.Entity {
	return importer.Entity{
		Name:       Name,
		Collection: Collection,
		Schema: importer.Schema{
			{Name: "identificacion", Kind: importer.KindString},
			{Name: "fechaExamen", Kind: importer.KindDate},
			{Name: "tipoExamen", Kind: importer.KindString},
			{Name: "concepto", Kind: importer.KindString},
			{Name: "restricciones", Kind: importer.KindStringList},
			{Name: "recomendaciones", Kind: importer.KindString},
			{Name: "proveedor", Kind: importer.KindString},
			{Name: "medico", Kind: importer.KindString},
			{Name: "proximoExamen", Kind: importer.KindDate},
			{Name: "requiereSeguimiento", Kind: importer.KindBoolean},
			{Name: "certificados", Kind: importer.KindStringList},
		},
		Defaults: map[string]any{
			"tipoExamen":          "periodico",
			"restricciones":       []string{},
			"requiereSeguimiento": false,
			"certificados":        []string{},
		},
		Key: importer.IdentificationDateKey("identificacion", "fechaExamen"),
		// Exam providers report candidates before they join the roster.
		Lookup: employee.Lookup(importer.BlankLink),
	}
}

func Definition() records.Definition {
	return records.Definition{
		Route:       Collection,
		Entity:      Entity(),
		Filters:     []string{"identificacion", employee.LinkField, "tipoExamen", "concepto", "requiereSeguimiento"},
		Attachments: []string{"certificados"},
	}
}

func NewService(store docstore.Store, deps records.Deps) *records.Service[Emo] {
	return records.NewService[Emo](Definition(), store, deps)
}
