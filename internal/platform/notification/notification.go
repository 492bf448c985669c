// Package notification sends templated email notifications: bulk upload
// summaries for occupational health staff and new medical recommendation
// alerts.
package notification

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/smtp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/occuhealth/occuhealth/internal/platform/metrics"
)

// Built-in template ids.
const (
	TemplateImportSummary         = "import-summary"
	TemplateImportFailed          = "import-failed"
	TemplateRecommendationCreated = "recommendation-created"
)

// EmailSender delivers a single message.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// Template is a subject/body pair with {{key}} placeholders.
type Template struct {
	ID      string
	Subject string
	Body    string
}

// TemplateEngine renders registered templates.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]Template
}

func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]Template)}
	for _, t := range []Template{
		{
			ID:      TemplateImportSummary,
			Subject: "Carga masiva de {{entity}}: {{status}}",
			Body: "Archivo: {{file}}\nFilas leídas: {{rows_read}}\nFilas omitidas: {{rows_skipped}}\n" +
				"Registros creados: {{created}}\nRegistros actualizados: {{updated}}\nDecisión: {{decision}}\n",
		},
		{
			ID:      TemplateImportFailed,
			Subject: "Carga masiva de {{entity}} con errores",
			Body:    "Archivo: {{file}}\nLa carga terminó con errores: {{error}}\nVerifique los registros de {{entity}}.\n",
		},
		{
			ID:      TemplateRecommendationCreated,
			Subject: "Nueva recomendación médica para {{nombre}}",
			Body: "Se registró una recomendación médica.\nTrabajador: {{nombre}} ({{identificacion}})\n" +
				"Vigencia: {{fecha_inicio}} a {{fecha_fin}}\nRecomendaciones: {{recomendaciones}}\n",
		},
	} {
		e.templates[t.ID] = t
	}
	return e
}

// Register adds or replaces a template.
func (e *TemplateEngine) Register(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = t
}

// Render replaces {{key}} placeholders with data. Unknown placeholders are
// left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	pairs := make([]string, 0, len(data)*2)
	for k, v := range data {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	r := strings.NewReplacer(pairs...)
	return r.Replace(t.Subject), r.Replace(t.Body), nil
}

// SMTPConfig configures SMTPSender.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender sends plain-text UTF-8 mail through an SMTP relay.
type SMTPSender struct {
	cfg  SMTPConfig
	auth smtp.Auth
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTPSender{cfg: cfg, auth: auth, send: smtp.SendMail}
}

func (s *SMTPSender) SendEmail(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	addr := s.cfg.Host + ":" + strconv.Itoa(s.cfg.Port)
	return s.send(addr, s.auth, s.cfg.From, []string{to}, buildMessage(s.cfg.From, to, subject, body))
}

func buildMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n")
	b.WriteString("Date: " + time.Now().UTC().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}

// LogSender writes messages to the log instead of sending them. It is used
// when no SMTP relay is configured.
type LogSender struct {
	Logger zerolog.Logger
}

func (s LogSender) SendEmail(_ context.Context, to, subject, body string) error {
	s.Logger.Info().Str("to", to).Str("subject", subject).Int("body_bytes", len(body)).Msg("email notification (not sent)")
	return nil
}

// Delivery records one sent or failed message.
type Delivery struct {
	ID         string    `json:"id"`
	TemplateID string    `json:"templateId"`
	Recipient  string    `json:"recipient"`
	Subject    string    `json:"subject"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	SentAt     time.Time `json:"sentAt"`
}

const historySize = 200

// Manager renders templates and fans a message out to its recipients.
type Manager struct {
	sender    EmailSender
	templates *TemplateEngine
	logger    zerolog.Logger

	mu      sync.Mutex
	history []Delivery
}

func NewManager(sender EmailSender, templates *TemplateEngine, logger zerolog.Logger) *Manager {
	return &Manager{sender: sender, templates: templates, logger: logger}
}

// Notify renders templateID and sends it to every recipient. Every recipient
// is attempted; the returned error joins the individual failures.
func (m *Manager) Notify(ctx context.Context, templateID string, data map[string]string, recipients ...string) error {
	if len(recipients) == 0 {
		return nil
	}
	subject, body, err := m.templates.Render(templateID, data)
	if err != nil {
		return err
	}

	var errs []error
	for _, to := range recipients {
		d := Delivery{
			ID:         uuid.New().String(),
			TemplateID: templateID,
			Recipient:  to,
			Subject:    subject,
			Status:     "sent",
			SentAt:     time.Now().UTC(),
		}
		if err := m.sender.SendEmail(ctx, to, subject, body); err != nil {
			d.Status = "failed"
			d.Error = err.Error()
			errs = append(errs, fmt.Errorf("send to %s: %w", to, err))
			m.logger.Warn().Err(err).Str("template", templateID).Str("to", to).Msg("notification failed")
		}
		metrics.NotificationsSent.WithLabelValues(templateID, d.Status).Inc()
		m.record(d)
	}
	return errors.Join(errs...)
}

func (m *Manager) record(d Delivery) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, d)
	if len(m.history) > historySize {
		m.history = m.history[len(m.history)-historySize:]
	}
}

// History returns the most recent deliveries, newest last.
func (m *Manager) History() []Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Delivery(nil), m.history...)
}
