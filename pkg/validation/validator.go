// Package validation holds the pure, side-effect-free checks run on every
// telemetry record before it reaches storage. No storage dependency: every
// rule is testable on the model alone.
package validation

import (
	"encoding/json"
	"fmt"

	"github.com/flowmetric/telemetry-engine/pkg/apperrors"
	"github.com/flowmetric/telemetry-engine/pkg/models"
)

// ValidateEvent checks the structural constraints on a usage event.
// All violations are aggregated into a single *apperrors.ValidationError.
func ValidateEvent(e *models.TelemetryEvent) error {
	var ve apperrors.ValidationError

	validateUserID(&ve, e.UserID)

	if len(e.Event) == 0 {
		ve.Add("event", "must not be empty")
	} else if len(e.Event) > models.EventNameMaxLength {
		ve.Add("event", fmt.Sprintf("must be at most %d characters", models.EventNameMaxLength))
	}

	if e.Properties == nil {
		ve.Add("properties", "must be a JSON object")
	}

	return ve.OrNil()
}

// ValidateWorkflow checks the structural constraints on a sanitized workflow
// summary.
func ValidateWorkflow(w *models.WorkflowTelemetry) error {
	var ve apperrors.ValidationError

	validateUserID(&ve, w.UserID)

	if len(w.WorkflowHash) != models.WorkflowHashLength {
		ve.Add("workflow_hash", fmt.Sprintf("must be exactly %d characters", models.WorkflowHashLength))
	} else if !isHex(w.WorkflowHash) {
		ve.Add("workflow_hash", "must be hexadecimal")
	}

	if w.NodeCount <= 0 {
		ve.Add("node_count", "must be a positive integer")
	}

	if len(w.NodeTypes) == 0 {
		ve.Add("node_types", "must not be empty")
	}

	if _, err := models.ParseComplexity(string(w.Complexity)); err != nil {
		ve.Add("complexity", "must be one of simple, medium, complex")
	}

	if w.SanitizedWorkflow == nil {
		ve.Add("sanitized_workflow", "must be a JSON object")
	}

	return ve.OrNil()
}

func validateUserID(ve *apperrors.ValidationError, userID string) {
	if len(userID) < models.UserIDMinLength {
		ve.Add("user_id", fmt.Sprintf("must be at least %d characters", models.UserIDMinLength))
	} else if len(userID) > models.UserIDMaxLength {
		ve.Add("user_id", fmt.Sprintf("must be at most %d characters", models.UserIDMaxLength))
	}
}

// DecodeObject decodes raw JSON into a key-value map, accepting only
// object-shaped values. Null, arrays and scalars return ok=false so callers
// can surface the violation through the validators above (a nil map fails the
// object-shape rule).
func DecodeObject(raw json.RawMessage) (map[string]any, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, false
	}
	if m == nil { // JSON null decodes into a nil map without error
		return nil, false
	}
	return m, true
}

func isHex(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
