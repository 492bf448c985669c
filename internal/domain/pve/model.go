// Package pve tracks enrollment of workers in epidemiological surveillance
// programs (PVE): psychosocial, musculoskeletal, hearing and so on.
package pve

import (
	"time"

	"github.com/occuhealth/occuhealth/internal/domain/employee"
	"github.com/occuhealth/occuhealth/internal/domain/records"
	"github.com/occuhealth/occuhealth/internal/importer"
	"github.com/occuhealth/occuhealth/internal/platform/docstore"
)

const (
	Name       = "pve"
	Collection = "pve"
)

type PVE struct {
	docstore.Meta
	Identificacion     string     `json:"identificacion" validate:"required"`
	EmployeeID         string     `json:"employeeId,omitempty"`
	Nombre             string     `json:"nombre,omitempty"`
	Cargo              string     `json:"cargo,omitempty"`
	CentroCosto        string     `json:"centroCosto,omitempty"`
	FechaIngreso       *time.Time `json:"fechaIngreso" validate:"required"`
	Programa           string     `json:"programa" validate:"required"`
	NivelRiesgo        string     `json:"nivelRiesgo,omitempty" validate:"omitempty,oneof=bajo medio alto"`
	FactoresRiesgo     []string   `json:"factoresRiesgo"`
	Intervenciones     []string   `json:"intervenciones"`
	ProximoSeguimiento *time.Time `json:"proximoSeguimiento"`
	FechaEgreso        *time.Time `json:"fechaEgreso"`
	MotivoEgreso       string     `json:"motivoEgreso,omitempty"`
	Activo             bool       `json:"activo"`
	Observaciones      string     `json:"observaciones,omitempty"`
	Soportes           []string   `json:"soportes"`
}

func Entity() importer.Entity {
	return importer.Entity{
		Name:       Name,
		Collection: Collection,
		Schema: importer.Schema{
			{Name: "identificacion", Kind: importer.KindString},
			{Name: "fechaIngreso", Kind: importer.KindDate},
			{Name: "programa", Kind: importer.KindString},
			{Name: "nivelRiesgo", Kind: importer.KindString},
			{Name: "factoresRiesgo", Kind: importer.KindStringList},
			{Name: "intervenciones", Kind: importer.KindStringList},
			{Name: "proximoSeguimiento", Kind: importer.KindDate},
			{Name: "fechaEgreso", Kind: importer.KindDate},
			{Name: "motivoEgreso", Kind: importer.KindString},
			{Name: "activo", Kind: importer.KindBoolean},
			{Name: "observaciones", Kind: importer.KindString},
			{Name: "soportes", Kind: importer.KindStringList},
		},
		Defaults: map[string]any{
			"programa":       "psicosocial",
			"factoresRiesgo": []string{},
			"intervenciones": []string{},
			"activo":         true,
			"soportes":       []string{},
		},
		Key:    importer.IdentificationDateKey("identificacion", "fechaIngreso"),
		Lookup: employee.Lookup(importer.BlankLink),
	}
}

func Definition() records.Definition {
	return records.Definition{
		Route:       Collection,
		Entity:      Entity(),
		Filters:     []string{"identificacion", employee.LinkField, "programa", "nivelRiesgo", "activo"},
		Attachments: []string{"soportes"},
	}
}

func NewService(store docstore.Store, deps records.Deps) *records.Service[PVE] {
	return records.NewService[PVE](Definition(), store, deps)
}
