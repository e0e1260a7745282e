package database

import (
	"context"
	"fmt"

	"github.com/flowmetric/telemetry-engine/pkg/models"
)

// Scope binds the acting principal to the query surface every repository call
// runs against. Repositories refuse to operate without one, which keeps the
// access-control check at the storage boundary rather than in calling code.
type Scope struct {
	Principal models.Principal
	Q         Querier
}

type scopeKey struct{}

// WithScope stores a principal-bound query scope in the context.
func WithScope(ctx context.Context, scope *Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, scope)
}

// GetScope retrieves the principal-bound query scope from the context.
// Returns nil and false if not present.
func GetScope(ctx context.Context) (*Scope, bool) {
	scope, ok := ctx.Value(scopeKey{}).(*Scope)
	return scope, ok
}

// ReadScope returns a context scoped to the pool for the given principal.
// Use for reads and other operations that do not need transactional pairing.
func (db *DB) ReadScope(ctx context.Context, p models.Principal) context.Context {
	return WithScope(ctx, &Scope{Principal: p, Q: db.Pool})
}

// WithUnitOfWork runs fn inside a single transaction scoped to the principal.
// A guarded mutation and its audit entry go through the same unit of work:
// both commit or both roll back. fn sees a context whose scope querier is the
// transaction.
func (db *DB) WithUnitOfWork(ctx context.Context, p models.Principal, fn func(ctx context.Context) error) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// No-op if the transaction already committed.
		_ = tx.Rollback(ctx)
	}()

	txCtx := WithScope(ctx, &Scope{Principal: p, Q: tx})
	if err := fn(txCtx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
