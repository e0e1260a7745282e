// Package repositories provides data access for the telemetry stores. Every
// method authorizes the acting principal against the access policy before any
// SQL runs; the repositories are the storage boundary the security contract
// is enforced at.
package repositories

import (
	"context"
	"fmt"

	"github.com/flowmetric/telemetry-engine/pkg/access"
	"github.com/flowmetric/telemetry-engine/pkg/database"
)

// scopeReader is an authorized read handle over the scope's querier.
type scopeReader struct {
	q database.Querier
}

// requireScope fetches the principal-bound scope from the context and
// authorizes op on store. Calls without a scope fail: there is no anonymous
// default that could widen access by accident.
func requireScope(ctx context.Context, store, op string) (*database.Scope, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no principal scope in context")
	}
	if err := access.Authorize(scope.Principal, store, op); err != nil {
		return nil, err
	}
	return scope, nil
}
