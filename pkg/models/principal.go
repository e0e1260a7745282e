package models

import "context"

// Role labels an acting principal.
type Role string

const (
	// RoleAnonymous is an unauthenticated telemetry producer: insert-only,
	// zero read.
	RoleAnonymous Role = "anonymous"
	// RolePrivileged is an authenticated operator with full read, write and
	// maintenance rights.
	RolePrivileged Role = "privileged"
	// RoleSystem is the internal maintenance principal used by the retention
	// reaper. It is never minted from a request.
	RoleSystem Role = "system"
)

// Principal is the identity attached to every storage operation.
type Principal struct {
	Role Role
	// Subject is the token subject for privileged callers, empty for
	// anonymous ones.
	Subject string
	// IPAddress is the remote address recorded in audit entries, when known.
	IPAddress string
}

// Anonymous returns the anonymous principal for the given remote address.
func Anonymous(ip string) Principal {
	return Principal{Role: RoleAnonymous, IPAddress: ip}
}

// System returns the internal maintenance principal.
func System() Principal {
	return Principal{Role: RoleSystem}
}

type principalKey struct{}

// WithPrincipal stores the acting principal in the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// GetPrincipal retrieves the acting principal from the context.
// Returns false if no principal was classified for this context.
func GetPrincipal(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
