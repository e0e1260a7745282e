package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/flowmetric/telemetry-engine/pkg/apperrors"
	"github.com/flowmetric/telemetry-engine/pkg/models"
	"github.com/flowmetric/telemetry-engine/pkg/services"
)

// AdminHandler exposes the privileged operator surface: raw listings,
// aggregated statistics, the audit trail, and the retention trigger. Every
// route must be mounted behind the privileged middleware; the services below
// deny unclassified callers regardless.
type AdminHandler struct {
	telemetry services.TelemetryService
	stats     services.StatsService
	audit     services.AuditService
	retention services.RetentionService
	logger    *zap.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(
	telemetry services.TelemetryService,
	stats services.StatsService,
	auditSvc services.AuditService,
	retention services.RetentionService,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		telemetry: telemetry,
		stats:     stats,
		audit:     auditSvc,
		retention: retention,
		logger:    logger,
	}
}

// RegisterRoutes registers the admin routes on the given mux. requirePrivileged
// rejects callers without the operator role before the handler runs.
func (h *AdminHandler) RegisterRoutes(mux *http.ServeMux, requirePrivileged func(http.HandlerFunc) http.HandlerFunc) {
	mux.HandleFunc("GET /api/admin/stats", requirePrivileged(h.Stats))
	mux.HandleFunc("GET /api/admin/stats/events", requirePrivileged(h.EventStats))
	mux.HandleFunc("GET /api/admin/stats/workflows", requirePrivileged(h.WorkflowStats))
	mux.HandleFunc("GET /api/admin/stats/activity", requirePrivileged(h.DailyActivity))
	mux.HandleFunc("GET /api/admin/events", requirePrivileged(h.ListEvents))
	mux.HandleFunc("GET /api/admin/workflows", requirePrivileged(h.ListWorkflows))
	mux.HandleFunc("GET /api/admin/audit", requirePrivileged(h.ListAudit))
	mux.HandleFunc("POST /api/admin/cleanup", requirePrivileged(h.Cleanup))
}

// Stats handles GET /api/admin/stats. Optional start/end query parameters
// (RFC 3339) bound the window; both default to the trailing window.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	start, end, err := parseWindow(r)
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_parameter", err.Error())
		return
	}

	summary, err := h.stats.Summary(r.Context(), start, end)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.respond(w, summary)
}

// EventStats handles GET /api/admin/stats/events.
func (h *AdminHandler) EventStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.EventStats(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.respond(w, map[string]any{"events": stats})
}

// WorkflowStats handles GET /api/admin/stats/workflows.
func (h *AdminHandler) WorkflowStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.WorkflowStats(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.respond(w, map[string]any{"complexity": stats})
}

// DailyActivity handles GET /api/admin/stats/activity.
func (h *AdminHandler) DailyActivity(w http.ResponseWriter, r *http.Request) {
	series, err := h.stats.DailyActivity(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.respond(w, map[string]any{"activity": series})
}

// ListEvents handles GET /api/admin/events with optional user_id, event,
// start, end and limit query parameters.
func (h *AdminHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	start, end, err := parseWindow(r)
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_parameter", err.Error())
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_parameter", err.Error())
		return
	}

	filter := models.EventFilter{
		UserID: r.URL.Query().Get("user_id"),
		Event:  r.URL.Query().Get("event"),
		Start:  start,
		End:    end,
		Limit:  limit,
	}

	events, err := h.telemetry.ListEvents(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.respond(w, map[string]any{"events": events, "count": len(events)})
}

// ListWorkflows handles GET /api/admin/workflows with optional user_id,
// complexity, start, end and limit query parameters.
func (h *AdminHandler) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	start, end, err := parseWindow(r)
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_parameter", err.Error())
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_parameter", err.Error())
		return
	}

	filter := models.WorkflowFilter{
		UserID: r.URL.Query().Get("user_id"),
		Start:  start,
		End:    end,
		Limit:  limit,
	}
	if raw := r.URL.Query().Get("complexity"); raw != "" {
		complexity, err := models.ParseComplexity(raw)
		if err != nil {
			_ = ErrorResponse(w, http.StatusBadRequest, "invalid_parameter", err.Error())
			return
		}
		filter.Complexity = complexity
	}

	workflows, err := h.telemetry.ListWorkflows(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.respond(w, map[string]any{"workflows": workflows, "count": len(workflows)})
}

// ListAudit handles GET /api/admin/audit with optional operation, table,
// user_role, start, end and limit query parameters.
func (h *AdminHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	start, end, err := parseWindow(r)
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_parameter", err.Error())
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_parameter", err.Error())
		return
	}

	filter := models.AuditFilter{
		Operation: r.URL.Query().Get("operation"),
		TableName: r.URL.Query().Get("table"),
		UserRole:  r.URL.Query().Get("user_role"),
		Start:     start,
		End:       end,
		Limit:     limit,
	}

	entries, err := h.audit.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.respond(w, map[string]any{"entries": entries, "count": len(entries)})
}

// Cleanup handles POST /api/admin/cleanup: it runs the retention reaper
// immediately rather than waiting for the scheduled run.
func (h *AdminHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.retention.Cleanup(r.Context(), time.Now())
	if err != nil {
		// Deletions committed before the failure are reported with the error.
		h.logger.Error("Retention cleanup failed part-way",
			zap.Int64("rows_deleted", deleted),
			zap.Error(err))
		_ = WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error":        "storage_unavailable",
			"message":      "Cleanup did not complete",
			"rows_deleted": deleted,
		})
		return
	}
	h.respond(w, map[string]any{"rows_deleted": deleted})
}

func (h *AdminHandler) respond(w http.ResponseWriter, data any) {
	if err := WriteJSON(w, http.StatusOK, data); err != nil {
		h.logger.Error("Failed to encode admin response", zap.Error(err))
	}
}

// writeError maps the service error taxonomy to HTTP status codes.
func (h *AdminHandler) writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, apperrors.ErrPermissionDenied) {
		_ = ErrorResponse(w, http.StatusForbidden, "forbidden", "Operation not permitted")
		return
	}
	if errors.Is(err, apperrors.ErrStorage) {
		h.logger.Error("Admin operation failed", zap.Error(err))
		_ = ErrorResponse(w, http.StatusServiceUnavailable, "storage_unavailable", "Please retry later")
		return
	}
	h.logger.Error("Unexpected admin error", zap.Error(err))
	_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Internal server error")
}

// parseWindow reads the optional RFC 3339 start/end query parameters.
func parseWindow(r *http.Request) (start, end time.Time, err error) {
	if raw := r.URL.Query().Get("start"); raw != "" {
		start, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("start must be an RFC 3339 timestamp")
		}
	}
	if raw := r.URL.Query().Get("end"); raw != "" {
		end, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("end must be an RFC 3339 timestamp")
		}
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return time.Time{}, time.Time{}, errors.New("end must not precede start")
	}
	return start, end, nil
}

// parseLimit reads the optional limit query parameter.
func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	return limit, nil
}
