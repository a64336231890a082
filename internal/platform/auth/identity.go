package auth

import (
	"context"
	"strings"
)

// Role constants used throughout the API when checking authorisation boundaries.
const (
	RoleUser  = "user"
	RoleStaff = "staff"
	RoleAdmin = "admin"
)

// Team role values carried in the per-team role map.
const (
	TeamRoleMember  = "member"
	TeamRoleManager = "manager"
)

// Identity captures the authenticated principal injected by the upstream
// gateway. Token verification happens before requests reach this service;
// only the verified claims travel here.
type Identity struct {
	UID       string
	Name      string
	Phone     string
	Roles     []string
	TeamIDs   []string
	TeamRoles map[string]string
}

// HasRole reports whether the identity includes the requested role (case-insensitive).
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		return false
	}
	for _, r := range i.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the identity includes any of the provided roles.
func (i *Identity) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if i.HasRole(role) {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the identity carries the global admin role.
func (i *Identity) IsAdmin() bool {
	return i.HasRole(RoleAdmin)
}

// MemberOf reports whether the identity belongs to the given team.
func (i *Identity) MemberOf(teamID string) bool {
	if i == nil || strings.TrimSpace(teamID) == "" {
		return false
	}
	for _, id := range i.TeamIDs {
		if id == teamID {
			return true
		}
	}
	return false
}

// TeamRole returns the identity's role within the given team, or empty when
// not a member.
func (i *Identity) TeamRole(teamID string) string {
	if i == nil || i.TeamRoles == nil {
		return ""
	}
	return i.TeamRoles[teamID]
}

type contextKey string

const identityContextKey contextKey = "github.com/oiy-sale/api/internal/platform/auth/identity"

// WithIdentity stores the identity within the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext retrieves the identity previously stored in context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}
