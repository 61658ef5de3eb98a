package principal

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
)

type Role string

const (
	RoleAdministrator Role = "administrator"
	RoleStaff         Role = "staff"
)

// ParseRole normalizes a role name. Unknown roles are rejected.
func ParseRole(value string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(value))) {
	case RoleAdministrator, "admin":
		return RoleAdministrator, true
	case RoleStaff:
		return RoleStaff, true
	default:
		return "", false
	}
}

// Principal is the authenticated actor supplied by the caller.
type Principal struct {
	ID          snowflake.ID `json:"id"`
	Role        Role         `json:"role"`
	DisplayName string       `json:"display_name"`
}

func (p Principal) IsAdministrator() bool {
	return p.Role == RoleAdministrator
}

// Owns reports whether the principal is the holder of accountID.
func (p Principal) Owns(accountID snowflake.ID) bool {
	return p.ID != 0 && p.ID == accountID
}

func (p Principal) Valid() bool {
	if p.Role != RoleAdministrator && p.Role != RoleStaff {
		return false
	}
	return p.ID != 0 || p == System()
}

// Subject is the casbin subject for the principal's role.
func (p Principal) Subject() string {
	return "role:" + string(p.Role)
}

// System is the actor used by background jobs.
func System() Principal {
	return Principal{ID: 0, Role: RoleAdministrator, DisplayName: "system"}
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the acting principal, if one was set.
func FromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok := ctx.Value(principalKey{}).(Principal)
	if !ok || !p.Valid() {
		return Principal{}, false
	}
	return p, true
}
