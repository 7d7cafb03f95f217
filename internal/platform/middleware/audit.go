package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/chartlock/internal/platform/auth"
	"github.com/ehr/chartlock/internal/platform/guard"
)

const apiPrefix = "/api/v1/"

// AuditEntry describes one attempted mutation of a regulated record,
// whether or not it was allowed.
type AuditEntry struct {
	Timestamp  time.Time
	RequestID  string
	ActorID    string
	ActorName  string
	ActorRoles []string
	Kind       guard.Kind
	RecordID   string
	Action     string // create, update, delete, archive
	Method     string
	Path       string
	IPAddress  string
	StatusCode int
	Outcome    string // ok, rejected, failed
}

// AuditRecorder persists audit entries. Logging happens regardless.
type AuditRecorder interface {
	RecordMutation(entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordMutation(entry AuditEntry) error {
	return f(entry)
}

// Audit emits one record_mutation event for every write to a regulated
// record collection under /api/v1. Reads are not audited here.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			action := mutationAction(req.Method, req.URL.Path)
			if action == "" {
				return next(c)
			}
			kind, ok := regulatedKind(req.URL.Path)
			if !ok {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			actor, _ := auth.ActorFromContext(req.Context())
			entry := AuditEntry{
				Timestamp:  time.Now().UTC(),
				RequestID:  RequestIDFromContext(c),
				ActorID:    actor.ID,
				ActorName:  actor.Name,
				ActorRoles: actor.Roles,
				Kind:       kind,
				RecordID:   c.Param("id"),
				Action:     action,
				Method:     req.Method,
				Path:       req.URL.Path,
				IPAddress:  c.RealIP(),
				StatusCode: status,
				Outcome:    outcome(status),
			}

			for _, rec := range recorders {
				if rec == nil {
					continue
				}
				if recErr := rec.RecordMutation(entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record audit entry")
				}
			}

			evt := logger.Info()
			if entry.Outcome == "rejected" {
				evt = logger.Warn()
			}
			evt.
				Str("type", "record_mutation").
				Str("request_id", entry.RequestID).
				Str("actor_id", entry.ActorID).
				Str("actor", entry.ActorName).
				Strs("actor_roles", entry.ActorRoles).
				Str("kind", string(entry.Kind)).
				Str("record_id", entry.RecordID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Str("outcome", entry.Outcome).
				Msg("record_mutation")

			return err
		}
	}
}

func mutationAction(method, path string) string {
	switch method {
	case http.MethodPost:
		if strings.HasSuffix(strings.TrimRight(path, "/"), "/archive") {
			return "archive"
		}
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return ""
	}
}

// regulatedKind maps /api/v1/<collection>/... to a record kind.
func regulatedKind(path string) (guard.Kind, bool) {
	if !strings.HasPrefix(path, apiPrefix) {
		return "", false
	}
	collection, _, _ := strings.Cut(strings.TrimPrefix(path, apiPrefix), "/")
	kind, err := guard.ParseKind(collection)
	if err != nil {
		return "", false
	}
	return kind, true
}

func outcome(status int) string {
	switch {
	case status >= 500:
		return "failed"
	case status >= 400:
		return "rejected"
	default:
		return "ok"
	}
}
