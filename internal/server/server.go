package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"transcriptdesk/internal/engine"
	"transcriptdesk/internal/engine/auth"
	"transcriptdesk/internal/repo"
	"transcriptdesk/internal/sequence"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Webhook  WebhookConfig
	Log      logrus.FieldLogger
}

func (c Config) logger() logrus.FieldLogger {
	if c.Log != nil {
		return c.Log
	}
	return logrus.StandardLogger()
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"already_assigned"`
	Message string         `json:"message" example:"already assigned: item 1f0c"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"retryable\":true}"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the transcriptdesk API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Request schema failures are the client's fault, not a state conflict.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	log := cfg.logger()
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(log))
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo, log))
	hcfg := huma.DefaultConfig("Transcriptdesk API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group, cfg.Engine)
	registerItems(group, cfg.Engine)
	registerAssignment(group, cfg.Engine)
	registerPayments(group, cfg.Engine)
	registerWarnings(group, cfg.Engine)
	registerActors(group, cfg.Engine)
	registerPaymentWebhook(group, cfg.Engine, cfg.Webhook)
	registerDevAuth(group, cfg.Engine, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

type logKey struct{}

// requestLogger logs every request and hands handlers a logger already
// carrying the request id.
func requestLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			entry := log.WithField("request_id", middleware.GetReqID(r.Context()))
			ctx := context.WithValue(r.Context(), logKey{}, logrus.FieldLogger(entry))
			next.ServeHTTP(ww, r.WithContext(ctx))
			entry.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   ww.Status(),
				"duration": time.Since(start).String(),
			}).Debug("request")
		})
	}
}

func loggerFrom(ctx context.Context) logrus.FieldLogger {
	if l, ok := ctx.Value(logKey{}).(logrus.FieldLogger); ok {
		return l
	}
	return logrus.StandardLogger()
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps engine outcomes onto HTTP statuses. Anything unmapped is
// logged and answered with a bare internal_error.
func handleError(ctx context.Context, err error) huma.StatusError {
	if err == nil {
		return nil
	}
	msg := err.Error()
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", msg, map[string]any{"capability": fe.Capability})
	}
	var lc *engine.LockConflictError
	if errors.As(err, &lc) {
		return newAPIError(http.StatusConflict, "lock_conflict", msg, map[string]any{"item_ids": lc.ItemIDs})
	}
	var it *engine.InvalidTransitionError
	if errors.As(err, &it) {
		return newAPIError(http.StatusUnprocessableEntity, "invalid_transition", msg, map[string]any{"from": it.From, "event": it.Event})
	}
	switch {
	case errors.Is(err, engine.ErrAlreadyAssigned):
		return newAPIError(http.StatusConflict, "already_assigned", msg, nil)
	case errors.Is(err, engine.ErrConcurrentLockConflict):
		return newAPIError(http.StatusConflict, "lock_conflict", msg, nil)
	case errors.Is(err, engine.ErrUnknownIntent):
		return newAPIError(http.StatusNotFound, "unknown_intent", msg, map[string]any{"retryable": true})
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case errors.Is(err, engine.ErrInvalidTransition):
		return newAPIError(http.StatusUnprocessableEntity, "invalid_transition", msg, nil)
	case errors.Is(err, engine.ErrNothingToLock):
		return newAPIError(http.StatusUnprocessableEntity, "nothing_to_lock", msg, nil)
	case errors.Is(err, engine.ErrItemLocked):
		return newAPIError(http.StatusUnprocessableEntity, "item_locked", msg, nil)
	case errors.Is(err, engine.ErrInactiveActor):
		return newAPIError(http.StatusUnprocessableEntity, "inactive_actor", msg, nil)
	case errors.Is(err, engine.ErrNotWithdrawable):
		return newAPIError(http.StatusUnprocessableEntity, "not_withdrawable", msg, nil)
	case errors.Is(err, engine.ErrNotOwner):
		return newAPIError(http.StatusForbidden, "not_owner", msg, nil)
	case errors.Is(err, engine.ErrInvalidInput):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	case errors.Is(err, sequence.ErrIdentifierUnavailable):
		return newAPIError(http.StatusServiceUnavailable, "identifier_unavailable", msg, map[string]any{"retryable": true})
	default:
		loggerFrom(ctx).WithError(err).Error("request failed")
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusServiceUnavailable:
		return "unavailable"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// isStaff reports whether a role works on other people's items.
func isStaff(e engine.Engine, role string) bool {
	return e.Policy.Can(role, auth.SelfAssign) || e.Policy.Can(role, auth.AssignOthers)
}

type breakerState interface {
	State() string
}

func registerHealth(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body HealthResponse `json:"body"`
	}, error) {
		out := HealthResponse{Status: "ok"}
		if b, ok := e.Counter.(breakerState); ok {
			out.Counter = b.State()
			if out.Counter != "closed" {
				out.Status = "degraded"
			}
		}
		return &struct {
			Body HealthResponse `json:"body"`
		}{Body: out}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: invalid cursor", engine.ErrInvalidInput)
	}
	return parts[0], parts[1], nil
}

func composeCursor(ts, id string) string {
	if ts == "" || id == "" {
		return ""
	}
	return ts + "|" + id
}
