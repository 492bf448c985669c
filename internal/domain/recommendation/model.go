// Package recommendation stores medical recommendations issued for a worker
// (restrictions, workplace adjustments) and their validity period.
package recommendation

import (
	"time"

	"github.com/occuhealth/occuhealth/internal/domain/employee"
	"github.com/occuhealth/occuhealth/internal/domain/records"
	"github.com/occuhealth/occuhealth/internal/importer"
	"github.com/occuhealth/occuhealth/internal/platform/docstore"
)

const (
	Name       = "recommendation"
	Collection = "medical-recommendations"
)

type MedicalRecommendation struct {
	docstore.Meta
	Identificacion  string     `json:"identificacion" validate:"required"`
	EmployeeID      string     `json:"employeeId,omitempty"`
	Nombre          string     `json:"nombre,omitempty"`
	Cargo           string     `json:"cargo,omitempty"`
	CentroCosto     string     `json:"centroCosto,omitempty"`
	FechaInicio     *time.Time `json:"fechaInicio" validate:"required"`
	FechaFin        *time.Time `json:"fechaFin"`
	Tipo            string     `json:"tipo,omitempty" validate:"omitempty,oneof=temporal permanente"`
	Origen          string     `json:"origen,omitempty" validate:"omitempty,oneof=comun laboral"`
	Recomendaciones []string   `json:"recomendaciones" validate:"min=1,dive,required"`
	EmitidaPor      string     `json:"emitidaPor,omitempty"`
	Vigente         bool       `json:"vigente"`
	Seguimientos    float64    `json:"seguimientos" validate:"gte=0"`
	Observaciones   string     `json:"observaciones,omitempty"`
	Soportes        []string   `json:"soportes"`
}

func Entity() importer.Entity {
	return importer.Entity{
		Name:       Name,
		Collection: Collection,
		Schema: importer.Schema{
			{Name: "identificacion", Kind: importer.KindString},
			{Name: "fechaInicio", Kind: importer.KindDate},
			{Name: "fechaFin", Kind: importer.KindDate},
			{Name: "tipo", Kind: importer.KindString},
			{Name: "origen", Kind: importer.KindString},
			{Name: "recomendaciones", Kind: importer.KindStringList},
			{Name: "emitidaPor", Kind: importer.KindString},
			{Name: "vigente", Kind: importer.KindBoolean},
			{Name: "seguimientos", Kind: importer.KindNumber},
			{Name: "observaciones", Kind: importer.KindString},
			{Name: "soportes", Kind: importer.KindStringList},
		},
		Defaults: map[string]any{
			"tipo":            "temporal",
			"origen":          "comun",
			"recomendaciones": []string{},
			"vigente":         true,
			"soportes":        []string{},
		},
		Key:    importer.IdentificationDateKey("identificacion", "fechaInicio"),
		Lookup: employee.Lookup(importer.SkipRow),
	}
}

func Definition() records.Definition {
	return records.Definition{
		Route:       Collection,
		Entity:      Entity(),
		Filters:     []string{"identificacion", employee.LinkField, "tipo", "origen", "vigente"},
		Attachments: []string{"soportes"},
	}
}

// NewService returns the recommendation service. When notifier is non-nil
// every created recommendation is announced by email.
func NewService(store docstore.Store, deps records.Deps, notifier *Notifier) *records.Service[MedicalRecommendation] {
	svc := records.NewService[MedicalRecommendation](Definition(), store, deps)
	if notifier != nil {
		svc.OnCreate(notifier.Created)
	}
	return svc
}
