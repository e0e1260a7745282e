// Package access enforces the engine's two-principal security contract at the
// storage boundary. Every repository method authorizes against this table
// before touching SQL, so no calling code path can accidentally grant read
// access to anonymous producers.
package access

import (
	"fmt"

	"github.com/flowmetric/telemetry-engine/pkg/apperrors"
	"github.com/flowmetric/telemetry-engine/pkg/models"
)

// Authorize decides whether the principal may perform op on the named store.
// The table is deny-by-default: unrecognized roles, stores and operations all
// fail closed with apperrors.ErrPermissionDenied.
func Authorize(p models.Principal, store, op string) error {
	if allowed(p.Role, store, op) {
		return nil
	}
	return fmt.Errorf("%s %s on %s as role %q: %w",
		op, "denied", store, p.Role, apperrors.ErrPermissionDenied)
}

func allowed(role models.Role, store, op string) bool {
	switch role {
	case models.RoleAnonymous:
		// Insert-only, and only into the two telemetry stores. Reads,
		// updates, deletes and anything touching the audit log are denied.
		return op == models.OperationInsert &&
			(store == models.TableEvents || store == models.TableWorkflows)

	case models.RolePrivileged:
		// Full read/write/maintenance on every store, except that audit
		// entries are append-only for everyone.
		if store == models.TableAuditLog {
			return op == models.OperationInsert || op == models.OperationSelect
		}
		return op == models.OperationInsert || op == models.OperationSelect ||
			op == models.OperationUpdate || op == models.OperationDelete

	case models.RoleSystem:
		// The reaper reads and deletes expired telemetry and appends its own
		// audit entries. Nothing else.
		switch store {
		case models.TableEvents, models.TableWorkflows:
			return op == models.OperationSelect || op == models.OperationDelete
		case models.TableAuditLog:
			return op == models.OperationInsert
		}
		return false
	}

	return false
}

// Audited reports whether an operation by this principal must produce an
// audit entry. Anonymous inserts are the expected steady state and are never
// audited; operations on the audit log itself are not re-audited. Everything
// else on the telemetry stores is.
func Audited(p models.Principal, store, op string) bool {
	if p.Role == models.RoleAnonymous {
		return false
	}
	if store == models.TableAuditLog {
		return false
	}
	return store == models.TableEvents || store == models.TableWorkflows
}
