package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddlewareParsesIdentityHeaders(t *testing.T) {
	var captured *Identity
	handler := Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = IdentityFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderUserID, "usr_1")
	req.Header.Set(HeaderUserName, "Lan Pham")
	req.Header.Set(HeaderUserPhone, "0901234567")
	req.Header.Set(HeaderRoles, "staff,admin")
	req.Header.Set(HeaderTeamIDs, "team_a, team_b")
	req.Header.Set(HeaderTeamRoles, "team_a:manager,team_b")

	handler.ServeHTTP(httptest.NewRecorder(), req)

	if captured == nil {
		t.Fatal("identity not stored on context")
	}
	if captured.UID != "usr_1" || captured.Name != "Lan Pham" || captured.Phone != "0901234567" {
		t.Fatalf("unexpected identity: %+v", captured)
	}
	if !captured.HasRole("admin") || !captured.IsAdmin() {
		t.Fatalf("expected admin role, got %v", captured.Roles)
	}
	if !captured.MemberOf("team_b") {
		t.Fatalf("expected membership of team_b, got %v", captured.TeamIDs)
	}
	if got := captured.TeamRole("team_a"); got != TeamRoleManager {
		t.Fatalf("team_a role = %q, want manager", got)
	}
	if got := captured.TeamRole("team_b"); got != TeamRoleMember {
		t.Fatalf("team_b role = %q, want member", got)
	}
}

func TestMiddlewarePassesAnonymousRequests(t *testing.T) {
	var seen bool
	handler := Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = true
		if _, ok := IdentityFromContext(r.Context()); ok {
			t.Error("expected no identity for anonymous request")
		}
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !seen {
		t.Fatal("handler not invoked")
	}
}

func TestRequireIdentity(t *testing.T) {
	handler := RequireIdentity(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithIdentity(req.Context(), &Identity{UID: "usr_1"}))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("authenticated status = %d, want 204", rec.Code)
	}
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole(RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithIdentity(req.Context(), &Identity{UID: "usr_1", Roles: []string{RoleStaff}}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("staff status = %d, want 403", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithIdentity(req.Context(), &Identity{UID: "usr_2", Roles: []string{RoleAdmin}}))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("admin status = %d, want 204", rec.Code)
	}
}
