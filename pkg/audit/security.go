// Package audit provides security event logging for SIEM consumption.
// Security-relevant events are logged in structured JSON for easy filtering
// and integration with security information and event management systems.
//
// This channel is deliberately separate from the compliance audit log in
// storage: denied anonymous attempts and suspicious payloads are operational
// signals, not privileged activity, and must not create audit rows.
package audit

import (
	"context"

	libinjection "github.com/corazawaf/libinjection-go"
	"go.uber.org/zap"

	"github.com/flowmetric/telemetry-engine/pkg/logging"
	"github.com/flowmetric/telemetry-engine/pkg/models"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventInjectionFlagged is logged when libinjection fingerprints SQL
	// injection patterns in an ingested payload. Detection only: the payload
	// is still stored parameterized, but probing is worth surfacing.
	EventInjectionFlagged SecurityEventType = "injection_flagged"
	// EventPermissionDenied is logged when a caller presents credentials that
	// fail verification or lack the admin role.
	EventPermissionDenied SecurityEventType = "permission_denied"
)

// SecurityAuditor logs security events for SIEM consumption.
type SecurityAuditor struct {
	logger *zap.Logger
}

// NewSecurityAuditor creates a security auditor with a dedicated logger
// namespace for SIEM filtering.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	return &SecurityAuditor{logger: logger.Named("security_audit")}
}

// ScanEvent fingerprints the string payload fields of a usage event.
func (a *SecurityAuditor) ScanEvent(ctx context.Context, event *models.TelemetryEvent) {
	a.scanField(ctx, event.UserID, "event", event.Event)
	for key, value := range event.Properties {
		if s, ok := value.(string); ok {
			a.scanField(ctx, event.UserID, "properties."+key, s)
		}
	}
}

// ScanWorkflow fingerprints the string payload fields of a workflow summary.
func (a *SecurityAuditor) ScanWorkflow(ctx context.Context, workflow *models.WorkflowTelemetry) {
	for _, nodeType := range workflow.NodeTypes {
		a.scanField(ctx, workflow.UserID, "node_types", nodeType)
	}
}

func (a *SecurityAuditor) scanField(_ context.Context, userToken, field, value string) {
	isSQLi, fingerprint := libinjection.IsSQLi(value)
	if !isSQLi {
		return
	}
	a.logger.Warn("Injection pattern in telemetry payload",
		zap.String("event_type", string(EventInjectionFlagged)),
		zap.String("field", field),
		zap.String("fingerprint", string(fingerprint)),
		zap.String("user_id", logging.ShortenToken(userToken)),
		zap.String("severity", "warning"))
}

// LogPermissionDenied records a rejected privileged-surface attempt.
func (a *SecurityAuditor) LogPermissionDenied(path, remoteAddr, reason string) {
	a.logger.Warn("Privileged surface access denied",
		zap.String("event_type", string(EventPermissionDenied)),
		zap.String("path", path),
		zap.String("remote_addr", remoteAddr),
		zap.String("reason", reason),
		zap.String("severity", "warning"))
}
