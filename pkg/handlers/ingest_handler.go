package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/flowmetric/telemetry-engine/pkg/apperrors"
	"github.com/flowmetric/telemetry-engine/pkg/models"
	"github.com/flowmetric/telemetry-engine/pkg/services"
	"github.com/flowmetric/telemetry-engine/pkg/validation"
)

// IngestHandler accepts anonymous telemetry submissions. It is strictly
// write-only: nothing it returns reveals stored data, only the outcome of the
// caller's own submission.
type IngestHandler struct {
	telemetry services.TelemetryService
	logger    *zap.Logger
}

// NewIngestHandler creates a new IngestHandler.
func NewIngestHandler(telemetry services.TelemetryService, logger *zap.Logger) *IngestHandler {
	return &IngestHandler{telemetry: telemetry, logger: logger}
}

// RegisterRoutes registers the ingestion routes on the given mux. classify
// binds a principal to the request before the handler runs.
func (h *IngestHandler) RegisterRoutes(mux *http.ServeMux, classify func(http.HandlerFunc) http.HandlerFunc) {
	mux.HandleFunc("POST /api/telemetry/events", classify(h.SubmitEvent))
	mux.HandleFunc("POST /api/telemetry/workflows", classify(h.SubmitWorkflow))
}

// submitEventRequest is the wire shape of an event submission. Properties
// stays raw until its object shape is checked.
type submitEventRequest struct {
	UserID     string          `json:"user_id"`
	Event      string          `json:"event"`
	Properties json.RawMessage `json:"properties"`
}

type submitEventResponse struct {
	ID uuid.UUID `json:"id"`
}

// SubmitEvent handles POST /api/telemetry/events.
func (h *IngestHandler) SubmitEvent(w http.ResponseWriter, r *http.Request) {
	var req submitEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_json", "Request body must be valid JSON")
		return
	}

	// A non-object properties value decodes to nil and fails validation below.
	properties, _ := validation.DecodeObject(req.Properties)
	event := &models.TelemetryEvent{
		UserID:     req.UserID,
		Event:      req.Event,
		Properties: properties,
	}

	id, err := h.telemetry.InsertEvent(r.Context(), event)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := WriteJSON(w, http.StatusCreated, submitEventResponse{ID: id}); err != nil {
		h.logger.Error("Failed to encode event response", zap.Error(err))
	}
}

// submitWorkflowRequest is the wire shape of a workflow summary submission.
type submitWorkflowRequest struct {
	UserID            string          `json:"user_id"`
	WorkflowHash      string          `json:"workflow_hash"`
	NodeCount         int             `json:"node_count"`
	NodeTypes         []string        `json:"node_types"`
	HasTrigger        bool            `json:"has_trigger"`
	HasWebhook        bool            `json:"has_webhook"`
	Complexity        string          `json:"complexity"`
	SanitizedWorkflow json.RawMessage `json:"sanitized_workflow"`
}

type submitWorkflowResponse struct {
	ID        *uuid.UUID `json:"id"`
	Duplicate bool       `json:"duplicate"`
}

// SubmitWorkflow handles POST /api/telemetry/workflows. Resubmitting a
// workflow the user already reported is not an error: the response carries
// duplicate=true and a null id.
func (h *IngestHandler) SubmitWorkflow(w http.ResponseWriter, r *http.Request) {
	var req submitWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_json", "Request body must be valid JSON")
		return
	}

	sanitized, _ := validation.DecodeObject(req.SanitizedWorkflow)
	workflow := &models.WorkflowTelemetry{
		UserID:            req.UserID,
		WorkflowHash:      req.WorkflowHash,
		NodeCount:         req.NodeCount,
		NodeTypes:         req.NodeTypes,
		HasTrigger:        req.HasTrigger,
		HasWebhook:        req.HasWebhook,
		Complexity:        models.Complexity(req.Complexity),
		SanitizedWorkflow: sanitized,
	}

	id, stored, err := h.telemetry.InsertWorkflow(r.Context(), workflow)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if !stored {
		if err := WriteJSON(w, http.StatusOK, submitWorkflowResponse{Duplicate: true}); err != nil {
			h.logger.Error("Failed to encode workflow response", zap.Error(err))
		}
		return
	}
	if err := WriteJSON(w, http.StatusCreated, submitWorkflowResponse{ID: &id}); err != nil {
		h.logger.Error("Failed to encode workflow response", zap.Error(err))
	}
}

// validationErrorBody is the 400 payload listing every violation found.
type validationErrorBody struct {
	Error      string                `json:"error"`
	Message    string                `json:"message"`
	Violations []apperrors.Violation `json:"violations"`
}

// writeError maps the service error taxonomy to HTTP status codes.
func (h *IngestHandler) writeError(w http.ResponseWriter, err error) {
	if ve, ok := apperrors.AsValidation(err); ok {
		_ = WriteJSON(w, http.StatusBadRequest, validationErrorBody{
			Error:      "validation_failed",
			Message:    "Submission rejected",
			Violations: ve.Violations,
		})
		return
	}
	if errors.Is(err, apperrors.ErrPermissionDenied) {
		_ = ErrorResponse(w, http.StatusForbidden, "forbidden", "Operation not permitted")
		return
	}
	if errors.Is(err, apperrors.ErrStorage) {
		h.logger.Error("Telemetry submission failed", zap.Error(err))
		_ = ErrorResponse(w, http.StatusServiceUnavailable, "storage_unavailable", "Please retry later")
		return
	}
	h.logger.Error("Unexpected ingestion error", zap.Error(err))
	_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Internal server error")
}
