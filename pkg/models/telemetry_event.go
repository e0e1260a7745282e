package models

import (
	"time"

	"github.com/google/uuid"
)

// Store names for the logical tables managed by this engine.
const (
	TableEvents    = "telemetry_events"
	TableWorkflows = "telemetry_workflows"
	TableAuditLog  = "telemetry_audit_log"
)

// Bounds enforced on incoming telemetry records.
const (
	UserIDMinLength    = 16
	UserIDMaxLength    = 64
	EventNameMaxLength = 100
	WorkflowHashLength = 64
)

// TelemetryEvent is a single anonymized usage event.
// Rows are insert-only: they are never mutated and are destroyed only by the
// retention reaper once past the retention horizon.
type TelemetryEvent struct {
	ID     uuid.UUID `json:"id"`
	UserID string    `json:"user_id"` // opaque pre-hashed anonymous token
	Event  string    `json:"event"`
	// Properties is an open key-value map. It is always object-shaped:
	// never null, never an array or scalar.
	Properties map[string]any `json:"properties"`
	CreatedAt  time.Time      `json:"created_at"` // server-assigned, immutable
}

// EventFilter narrows privileged event listings.
type EventFilter struct {
	UserID string
	Event  string
	Start  time.Time
	End    time.Time
	Limit  int
}
