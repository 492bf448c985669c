package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/occuhealth/occuhealth/internal/platform/auth"
	"github.com/occuhealth/occuhealth/internal/platform/db"
	"github.com/occuhealth/occuhealth/internal/platform/docstore"
)

const apiPrefix = "/api/v1/"

// AuditEntry describes one access to worker health data.
type AuditEntry struct {
	TenantID   string
	UserID     string
	UserRoles  []string
	Collection string
	RecordID   string
	EmployeeID string
	Action     string // read, create, update, delete, import, decide, export, upload
	IPAddress  string
	UserAgent  string
	Path       string
	Method     string
	Timestamp  time.Time
	RequestID  string
	StatusCode int
}

// AuditRecorder persists audit entries in addition to the structured log.
type AuditRecorder interface {
	RecordAccess(ctx context.Context, entry AuditEntry) error
}

type AuditRecorderFunc func(ctx context.Context, entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(ctx context.Context, entry AuditEntry) error {
	return f(ctx, entry)
}

// DocumentRecorder appends audit entries to a tenant-scoped collection.
type DocumentRecorder struct {
	Store      docstore.Store
	Collection string
}

func (r *DocumentRecorder) RecordAccess(ctx context.Context, entry AuditEntry) error {
	collection := r.Collection
	if collection == "" {
		collection = "audit_log"
	}
	_, err := r.Store.Create(ctx, collection, map[string]any{
		"userId":     entry.UserID,
		"roles":      entry.UserRoles,
		"collection": entry.Collection,
		"recordId":   entry.RecordID,
		"employeeId": entry.EmployeeID,
		"action":     entry.Action,
		"method":     entry.Method,
		"path":       entry.Path,
		"ip":         entry.IPAddress,
		"status":     entry.StatusCode,
		"requestId":  entry.RequestID,
		"at":         entry.Timestamp,
	})
	return err
}

// Audit logs every /api/v1/ request after the handler ran. Recorder failures
// are logged and never change the response.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path
			if !strings.HasPrefix(path, apiPrefix) {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}

			ctx := req.Context()
			collection, recordID := splitAPIPath(path)
			entry := AuditEntry{
				TenantID:   db.TenantFromContext(ctx),
				UserID:     auth.UserIDFromContext(ctx),
				UserRoles:  auth.RolesFromContext(ctx),
				Collection: collection,
				RecordID:   recordID,
				EmployeeID: c.QueryParam("employeeId"),
				Action:     auditAction(req.Method, path),
				IPAddress:  c.RealIP(),
				UserAgent:  req.UserAgent(),
				Path:       path,
				Method:     req.Method,
				Timestamp:  time.Now().UTC(),
				StatusCode: status,
			}
			entry.RequestID, _ = c.Get("request_id").(string)

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(context.WithoutCancel(ctx), entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "audit").
				Str("request_id", entry.RequestID).
				Str("tenant_id", entry.TenantID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("collection", entry.Collection).
				Str("record_id", entry.RecordID).
				Str("employee_id", entry.EmployeeID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("data_access")

			return err
		}
	}
}

// splitAPIPath returns the collection and record id of an /api/v1/ path.
// Import routes report the entity being imported as the collection.
//
//	/api/v1/absences            -> absences, ""
//	/api/v1/absences/abc        -> absences, abc
//	/api/v1/imports/absences    -> absences, ""
//	/api/v1/imports/absences/pending/p1/decision -> absences, p1
func splitAPIPath(path string) (collection, id string) {
	segs := strings.Split(strings.Trim(strings.TrimPrefix(path, apiPrefix), "/"), "/")
	if len(segs) == 0 || segs[0] == "" {
		return "unknown", ""
	}
	if segs[0] == "imports" {
		if len(segs) < 2 {
			return "imports", ""
		}
		if len(segs) >= 4 && segs[2] == "pending" {
			return segs[1], segs[3]
		}
		return segs[1], ""
	}
	if len(segs) >= 2 {
		return segs[0], segs[1]
	}
	return segs[0], ""
}

func auditAction(method, path string) string {
	if strings.HasPrefix(path, apiPrefix+"imports/") {
		switch {
		case strings.HasSuffix(path, "/decision"):
			return "decide"
		case strings.HasSuffix(path, "/export"):
			return "export"
		case method == http.MethodPost:
			return "import"
		}
		return "read"
	}
	if method == http.MethodPost && (strings.HasPrefix(path, apiPrefix+"attachments") || strings.HasSuffix(path, "/attachments")) {
		return "upload"
	}
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}
