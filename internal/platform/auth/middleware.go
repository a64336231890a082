package auth

import (
	"net/http"
	"strings"

	"github.com/oiy-sale/api/internal/platform/httpx"
)

// Headers the upstream gateway populates after verifying the caller.
const (
	HeaderUserID    = "X-User-Id"
	HeaderUserName  = "X-User-Name"
	HeaderUserPhone = "X-User-Phone"
	HeaderRoles     = "X-User-Roles"
	HeaderTeamIDs   = "X-Team-Ids"
	HeaderTeamRoles = "X-Team-Roles"
)

// Middleware extracts the gateway-injected identity headers and stores the
// Identity on the request context. Requests without identity headers pass
// through anonymously; enforcement happens in Require*.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			uid := strings.TrimSpace(r.Header.Get(HeaderUserID))
			if uid == "" {
				next.ServeHTTP(w, r)
				return
			}

			identity := &Identity{
				UID:       uid,
				Name:      strings.TrimSpace(r.Header.Get(HeaderUserName)),
				Phone:     strings.TrimSpace(r.Header.Get(HeaderUserPhone)),
				Roles:     splitCSV(r.Header.Get(HeaderRoles)),
				TeamIDs:   splitCSV(r.Header.Get(HeaderTeamIDs)),
				TeamRoles: parseTeamRoles(r.Header.Get(HeaderTeamRoles)),
			}
			if len(identity.Roles) == 0 {
				identity.Roles = []string{RoleUser}
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// RequireIdentity rejects anonymous requests with 401.
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := IdentityFromContext(r.Context()); !ok {
			httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole rejects callers missing every listed role with 403.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
				return
			}
			if !identity.HasAnyRole(roles...) {
				httpx.WriteError(r.Context(), w, httpx.NewError("forbidden", "insufficient role", http.StatusForbidden))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// parseTeamRoles parses "team_1:manager,team_2:member" pairs. Entries without
// a role default to member.
func parseTeamRoles(raw string) map[string]string {
	entries := splitCSV(raw)
	if len(entries) == 0 {
		return nil
	}
	roles := make(map[string]string, len(entries))
	for _, entry := range entries {
		parts := strings.SplitN(entry, ":", 2)
		team := strings.TrimSpace(parts[0])
		if team == "" {
			continue
		}
		role := TeamRoleMember
		if len(parts) == 2 {
			if r := strings.ToLower(strings.TrimSpace(parts[1])); r != "" {
				role = r
			}
		}
		roles[team] = role
	}
	return roles
}
