package recommendation

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/occuhealth/occuhealth/internal/platform/notification"
)

const dateLayout = "02/01/2006"

// Notifier emails the occupational health team when a recommendation is
// registered.
type Notifier struct {
	mailer     *notification.Manager
	recipients []string
	logger     zerolog.Logger
}

func NewNotifier(mailer *notification.Manager, recipients []string, logger zerolog.Logger) *Notifier {
	return &Notifier{mailer: mailer, recipients: recipients, logger: logger}
}

// Created sends the recommendation-created email. Delivery failures are
// logged; the record is already stored.
func (n *Notifier) Created(ctx context.Context, rec *MedicalRecommendation) {
	if n.mailer == nil || len(n.recipients) == 0 {
		return
	}
	nombre := rec.Nombre
	if nombre == "" {
		nombre = rec.Identificacion
	}
	data := map[string]string{
		"nombre":          nombre,
		"identificacion":  rec.Identificacion,
		"fecha_inicio":    "-",
		"fecha_fin":       "indefinida",
		"recomendaciones": strings.Join(rec.Recomendaciones, "; "),
	}
	if rec.FechaInicio != nil {
		data["fecha_inicio"] = rec.FechaInicio.Format(dateLayout)
	}
	if rec.FechaFin != nil {
		data["fecha_fin"] = rec.FechaFin.Format(dateLayout)
	}
	if err := n.mailer.Notify(context.WithoutCancel(ctx), notification.TemplateRecommendationCreated, data, n.recipients...); err != nil {
		n.logger.Warn().Err(err).Str("record_id", rec.ID).Msg("recommendation notification failed")
	}
}
