package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/flowmetric/telemetry-engine/pkg/apperrors"
	"github.com/flowmetric/telemetry-engine/pkg/models"
	"github.com/flowmetric/telemetry-engine/pkg/validation"
)

// mockTelemetryService lets handler tests script service outcomes.
type mockTelemetryService struct {
	eventID       uuid.UUID
	eventErr      error
	gotEvent      *models.TelemetryEvent
	workflowID    uuid.UUID
	stored        bool
	workflowErr   error
	gotWorkflow   *models.WorkflowTelemetry
	listEvents    []*models.TelemetryEvent
	listWorkflows []*models.WorkflowTelemetry
	listErr       error
	gotFilter     models.EventFilter
	gotWFFilter   models.WorkflowFilter
}

func (m *mockTelemetryService) InsertEvent(_ context.Context, event *models.TelemetryEvent) (uuid.UUID, error) {
	m.gotEvent = event
	if m.eventErr != nil {
		return uuid.Nil, m.eventErr
	}
	// Mirror the service contract: validate first, then persist.
	if err := validation.ValidateEvent(event); err != nil {
		return uuid.Nil, err
	}
	return m.eventID, nil
}

func (m *mockTelemetryService) InsertWorkflow(_ context.Context, workflow *models.WorkflowTelemetry) (uuid.UUID, bool, error) {
	m.gotWorkflow = workflow
	if m.workflowErr != nil {
		return uuid.Nil, false, m.workflowErr
	}
	if err := validation.ValidateWorkflow(workflow); err != nil {
		return uuid.Nil, false, err
	}
	if !m.stored {
		return uuid.Nil, false, nil
	}
	return m.workflowID, true, nil
}

func (m *mockTelemetryService) ListEvents(_ context.Context, filter models.EventFilter) ([]*models.TelemetryEvent, error) {
	m.gotFilter = filter
	return m.listEvents, m.listErr
}

func (m *mockTelemetryService) ListWorkflows(_ context.Context, filter models.WorkflowFilter) ([]*models.WorkflowTelemetry, error) {
	m.gotWFFilter = filter
	return m.listWorkflows, m.listErr
}

func postJSON(t *testing.T, handler http.HandlerFunc, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func validEventBody() string {
	return `{
		"user_id": "` + strings.Repeat("a", 32) + `",
		"event": "workflow_executed",
		"properties": {"duration_ms": 120}
	}`
}

func validWorkflowBody() string {
	return `{
		"user_id": "` + strings.Repeat("b", 32) + `",
		"workflow_hash": "` + strings.Repeat("cd", 32) + `",
		"node_count": 4,
		"node_types": ["http", "transform"],
		"has_trigger": true,
		"has_webhook": false,
		"complexity": "medium",
		"sanitized_workflow": {"nodes": []}
	}`
}

func TestSubmitEvent_Created(t *testing.T) {
	svc := &mockTelemetryService{eventID: uuid.New()}
	h := NewIngestHandler(svc, zap.NewNop())

	rec := postJSON(t, h.SubmitEvent, "/api/telemetry/events", validEventBody())

	assert.Equal(t, http.StatusCreated, rec.Code)
	var resp submitEventResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, svc.eventID, resp.ID)

	require.NotNil(t, svc.gotEvent)
	assert.Equal(t, "workflow_executed", svc.gotEvent.Event)
	assert.Equal(t, float64(120), svc.gotEvent.Properties["duration_ms"])
}

func TestSubmitEvent_MalformedJSON(t *testing.T) {
	h := NewIngestHandler(&mockTelemetryService{}, zap.NewNop())

	rec := postJSON(t, h.SubmitEvent, "/api/telemetry/events", `{"user_id": `)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitEvent_ValidationViolationsListed(t *testing.T) {
	h := NewIngestHandler(&mockTelemetryService{}, zap.NewNop())

	rec := postJSON(t, h.SubmitEvent, "/api/telemetry/events",
		`{"user_id": "short", "event": "", "properties": [1,2]}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp validationErrorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "validation_failed", resp.Error)

	fields := make([]string, len(resp.Violations))
	for i, v := range resp.Violations {
		fields[i] = v.Field
	}
	assert.ElementsMatch(t, []string{"user_id", "event", "properties"}, fields)
}

func TestSubmitEvent_NonObjectPropertiesRejected(t *testing.T) {
	tests := []struct {
		name       string
		properties string
	}{
		{"null", "null"},
		{"array", "[1,2]"},
		{"scalar", `"str"`},
		{"absent", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewIngestHandler(&mockTelemetryService{}, zap.NewNop())
			body := `{"user_id": "` + strings.Repeat("a", 32) + `", "event": "e"`
			if tt.properties != "" {
				body += `, "properties": ` + tt.properties
			}
			body += `}`

			rec := postJSON(t, h.SubmitEvent, "/api/telemetry/events", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestSubmitEvent_StorageUnavailable(t *testing.T) {
	svc := &mockTelemetryService{eventErr: apperrors.Storage(assert.AnError)}
	h := NewIngestHandler(svc, zap.NewNop())

	rec := postJSON(t, h.SubmitEvent, "/api/telemetry/events", validEventBody())
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSubmitEvent_PermissionDenied(t *testing.T) {
	svc := &mockTelemetryService{eventErr: apperrors.ErrPermissionDenied}
	h := NewIngestHandler(svc, zap.NewNop())

	rec := postJSON(t, h.SubmitEvent, "/api/telemetry/events", validEventBody())
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSubmitWorkflow_Created(t *testing.T) {
	svc := &mockTelemetryService{workflowID: uuid.New(), stored: true}
	h := NewIngestHandler(svc, zap.NewNop())

	rec := postJSON(t, h.SubmitWorkflow, "/api/telemetry/workflows", validWorkflowBody())

	assert.Equal(t, http.StatusCreated, rec.Code)
	var resp submitWorkflowResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotNil(t, resp.ID)
	assert.Equal(t, svc.workflowID, *resp.ID)
	assert.False(t, resp.Duplicate)

	require.NotNil(t, svc.gotWorkflow)
	assert.Equal(t, models.ComplexityMedium, svc.gotWorkflow.Complexity)
	assert.True(t, svc.gotWorkflow.HasTrigger)
}

func TestSubmitWorkflow_DuplicateIsSuccess(t *testing.T) {
	svc := &mockTelemetryService{stored: false}
	h := NewIngestHandler(svc, zap.NewNop())

	rec := postJSON(t, h.SubmitWorkflow, "/api/telemetry/workflows", validWorkflowBody())

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp submitWorkflowResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Nil(t, resp.ID)
	assert.True(t, resp.Duplicate)
}

func TestSubmitWorkflow_ValidationFailure(t *testing.T) {
	h := NewIngestHandler(&mockTelemetryService{}, zap.NewNop())

	rec := postJSON(t, h.SubmitWorkflow, "/api/telemetry/workflows",
		`{"user_id": "`+strings.Repeat("b", 32)+`", "workflow_hash": "tooshort", "node_count": 0}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp validationErrorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.NotEmpty(t, resp.Violations)
}
