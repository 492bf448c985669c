// Package atcaracterizacion characterizes workplace accidents (mechanism,
// agent, injury, causes) for the annual accident analysis.
package atcaracterizacion

import (
	"time"

	"github.com/occuhealth/occuhealth/internal/domain/employee"
	"github.com/occuhealth/occuhealth/internal/domain/records"
	"github.com/occuhealth/occuhealth/internal/importer"
	"github.com/occuhealth/occuhealth/internal/platform/docstore"
)

const (
	Name       = "atcaracterizacion"
	Collection = "at-caracterizacion"
)

type AtCaracterizacion struct {
	docstore.Meta
	Identificacion   string     `json:"identificacion" validate:"required"`
	EmployeeID       string     `json:"employeeId,omitempty"`
	Nombre           string     `json:"nombre,omitempty"`
	Cargo            string     `json:"cargo,omitempty"`
	CentroCosto      string     `json:"centroCosto,omitempty"`
	FechaAccidente   *time.Time `json:"fechaAccidente" validate:"required"`
	Jornada          string     `json:"jornada,omitempty"`
	Mecanismo        string     `json:"mecanismo,omitempty"`
	Agente           string     `json:"agente,omitempty"`
	TipoLesion       string     `json:"tipoLesion,omitempty"`
	ParteCuerpo      string     `json:"parteCuerpo,omitempty"`
	CausasInmediatas []string   `json:"causasInmediatas"`
	CausasBasicas    []string   `json:"causasBasicas"`
	Severidad        string     `json:"severidad,omitempty" validate:"omitempty,oneof=leve moderado grave mortal"`
	DiasPerdidos     float64    `json:"diasPerdidos" validate:"gte=0"`
	Mortal           bool       `json:"mortal"`
	PlanAccion       string     `json:"planAccion,omitempty"`
	Responsable      string     `json:"responsable,omitempty"`
	Anexos           []string   `json:"anexos"`
}

func Entity() importer.Entity {
	return importer.Entity{
		Name:       Name,
		Collection: Collection,
		Schema: importer.Schema{
			{Name: "identificacion", Kind: importer.KindString},
			{Name: "fechaAccidente", Kind: importer.KindDate},
			{Name: "jornada", Kind: importer.KindString},
			{Name: "mecanismo", Kind: importer.KindString},
			{Name: "agente", Kind: importer.KindString},
			{Name: "tipoLesion", Kind: importer.KindString},
			{Name: "parteCuerpo", Kind: importer.KindString},
			{Name: "causasInmediatas", Kind: importer.KindStringList},
			{Name: "causasBasicas", Kind: importer.KindStringList},
			{Name: "severidad", Kind: importer.KindString},
			{Name: "diasPerdidos", Kind: importer.KindNumber},
			{Name: "mortal", Kind: importer.KindBoolean},
			{Name: "planAccion", Kind: importer.KindString},
			{Name: "responsable", Kind: importer.KindString},
			{Name: "anexos", Kind: importer.KindStringList},
		},
		Defaults: map[string]any{
			"causasInmediatas": []string{},
			"causasBasicas":    []string{},
			"mortal":           false,
			"anexos":           []string{},
		},
		Key: importer.IdentificationDateKey("identificacion", "fechaAccidente"),
		// Characterizations of contractors are kept without a roster link.
		Lookup: employee.Lookup(importer.BlankLink),
	}
}

func Definition() records.Definition {
	return records.Definition{
		Route:       Collection,
		Entity:      Entity(),
		Filters:     []string{"identificacion", employee.LinkField, "severidad", "mecanismo", "mortal"},
		Attachments: []string{"anexos"},
	}
}

func NewService(store docstore.Store, deps records.Deps) *records.Service[AtCaracterizacion] {
	return records.NewService[AtCaracterizacion](Definition(), store, deps)
}
