package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Complexity buckets a sanitized workflow by structural size.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

// ParseComplexity validates the three-value enum.
func ParseComplexity(s string) (Complexity, error) {
	switch Complexity(s) {
	case ComplexitySimple, ComplexityMedium, ComplexityComplex:
		return Complexity(s), nil
	}
	return "", fmt.Errorf("unknown complexity %q", s)
}

// WorkflowTelemetry is a sanitized workflow summary submitted by a client.
// The pair (WorkflowHash, UserID) is unique: the same user submitting the same
// workflow fingerprint twice is a no-op, not a duplicate record.
type WorkflowTelemetry struct {
	ID           uuid.UUID  `json:"id"`
	UserID       string     `json:"user_id"`
	WorkflowHash string     `json:"workflow_hash"` // 64 hex chars, content-addressed
	NodeCount    int        `json:"node_count"`
	NodeTypes    []string   `json:"node_types"`
	HasTrigger   bool       `json:"has_trigger"`
	HasWebhook   bool       `json:"has_webhook"`
	Complexity   Complexity `json:"complexity"`
	// SanitizedWorkflow is the structural snapshot, pre-scrubbed of secrets
	// and PII by the external producer. Always object-shaped.
	SanitizedWorkflow map[string]any `json:"sanitized_workflow"`
	CreatedAt         time.Time      `json:"created_at"`
}

// WorkflowFilter narrows privileged workflow listings.
type WorkflowFilter struct {
	UserID     string
	Complexity Complexity
	Start      time.Time
	End        time.Time
	Limit      int
}
