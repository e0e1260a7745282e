package models

import (
	"time"

	"github.com/google/uuid"
)

// Operation identifies the kind of storage operation being performed or audited.
const (
	OperationInsert = "INSERT"
	OperationSelect = "SELECT"
	OperationUpdate = "UPDATE"
	OperationDelete = "DELETE"
)

// AuditLogEntry records one privileged or maintenance operation for compliance.
// Entries are append-only: this engine never mutates or deletes them.
//
// Anonymous inserts into the telemetry stores are deliberately not audited.
// Auditing exists to track privileged access, not routine high-volume writes.
type AuditLogEntry struct {
	ID          uuid.UUID      `json:"id"`
	Operation   string         `json:"operation"`
	TableName   string         `json:"table_name"`
	RecordCount *int64         `json:"record_count,omitempty"` // nil when not applicable
	UserRole    string         `json:"user_role"`
	IPAddress   string         `json:"ip_address,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// AuditFilter narrows audit trail listings.
type AuditFilter struct {
	Operation string
	TableName string
	UserRole  string
	Start     time.Time
	End       time.Time
	Limit     int
}
