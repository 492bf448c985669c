// Package attracking follows workplace accidents and incidents from the
// event through the ARL report and the investigation.
package attracking

import (
	"time"

	"github.com/occuhealth/occuhealth/internal/domain/employee"
	"github.com/occuhealth/occuhealth/internal/domain/records"
	"github.com/occuhealth/occuhealth/internal/importer"
	"github.com/occuhealth/occuhealth/internal/platform/docstore"
)

const (
	Name       = "attracking"
	Collection = "at-tracking"
)

type ATTracking struct {
	docstore.Meta
	Identificacion     string     `json:"identificacion" validate:"required"`
	EmployeeID         string     `json:"employeeId,omitempty"`
	Nombre             string     `json:"nombre,omitempty"`
	Cargo              string     `json:"cargo,omitempty"`
	CentroCosto        string     `json:"centroCosto,omitempty"`
	FechaEvento        *time.Time `json:"fechaEvento" validate:"required"`
	TipoEvento         string     `json:"tipoEvento,omitempty" validate:"omitempty,oneof=accidente incidente enfermedad"`
	Descripcion        string     `json:"descripcion,omitempty"`
	Lugar              string     `json:"lugar,omitempty"`
	ParteCuerpo        string     `json:"parteCuerpo,omitempty"`
	DiasIncapacidad    float64    `json:"diasIncapacidad" validate:"gte=0"`
	ReportadoARL       bool       `json:"reportadoArl"`
	FechaReporte       *time.Time `json:"fechaReporte"`
	Investigado        bool       `json:"investigado"`
	FechaInvestigacion *time.Time `json:"fechaInvestigacion"`
	Estado             string     `json:"estado,omitempty" validate:"omitempty,oneof=abierto seguimiento cerrado"`
	Evidencias         []string   `json:"evidencias"`
}

func Entity() importer.Entity {
	return importer.Entity{
		Name:       Name,
		Collection: Collection,
		Schema: importer.Schema{
			{Name: "identificacion", Kind: importer.KindString},
			{Name: "fechaEvento", Kind: importer.KindDate},
			{Name: "tipoEvento", Kind: importer.KindString},
			{Name: "descripcion", Kind: importer.KindString},
			{Name: "lugar", Kind: importer.KindString},
			{Name: "parteCuerpo", Kind: importer.KindString},
			{Name: "diasIncapacidad", Kind: importer.KindNumber},
			{Name: "reportadoArl", Kind: importer.KindBoolean},
			{Name: "fechaReporte", Kind: importer.KindDate},
			{Name: "investigado", Kind: importer.KindBoolean},
			{Name: "fechaInvestigacion", Kind: importer.KindDate},
			{Name: "estado", Kind: importer.KindString},
			{Name: "evidencias", Kind: importer.KindStringList},
		},
		Defaults: map[string]any{
			"tipoEvento":   "accidente",
			"estado":       "abierto",
			"reportadoArl": false,
			"investigado":  false,
			"evidencias":   []string{},
		},
		Key:    importer.IdentificationDateKey("identificacion", "fechaEvento"),
		Lookup: employee.Lookup(importer.SkipRow),
	}
}

func Definition() records.Definition {
	return records.Definition{
		Route:       Collection,
		Entity:      Entity(),
		Filters:     []string{"identificacion", employee.LinkField, "tipoEvento", "estado", "reportadoArl"},
		Attachments: []string{"evidencias"},
	}
}

func NewService(store docstore.Store, deps records.Deps) *records.Service[ATTracking] {
	return records.NewService[ATTracking](Definition(), store, deps)
}
