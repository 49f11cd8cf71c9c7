// Package auth verifies bearer tokens and decides what a caller may do.
package auth

import "context"

// Role names a class of caller.
type Role string

// Known roles.
const (
	RoleCandidate Role = "candidate"
	RoleExaminer  Role = "examiner"
	RoleAdmin     Role = "admin"
)

// ParseRole validates s.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleCandidate, RoleExaminer, RoleAdmin:
		return r, nil
	}
	return "", ErrUnknownRole
}

// Principal is the authenticated caller.
type Principal struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Role  Role   `json:"role"`
}

type principalKey struct{}

// WithPrincipal attaches p to ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the caller attached by the auth middleware.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
