// Package api implements the HTTP surface of the tracking service.
package api

import (
	"net/http"
	"strings"
)

// Principal is the caller identity for handler-level checks.
type Principal struct {
	UserID string
	Role   string // rep, manager, admin
}

// getPrincipal extracts user and role from JWT or headers.
//   - If Authorization: Bearer is present, uses the configured verifier
//     (dev/hmac/jwks).
//   - Else falls back to X-User-Id / X-Role headers for dev.
func (s *Server) getPrincipal(r *http.Request) Principal {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") && s.Auth != nil {
		tok := strings.TrimSpace(authz[len("Bearer "):])
		if pr, err := s.Auth.Verify(tok); err == nil {
			return Principal{UserID: pr.UserID, Role: pr.Role}
		}
	}
	user := r.Header.Get("X-User-Id")
	role := strings.ToLower(r.Header.Get("X-Role"))
	if role == "" {
		role = "rep"
	}
	return Principal{UserID: user, Role: role}
}

// IsManager reports whether the principal can use team-scoped endpoints.
// Upstream gateways also gate these routes; the check here is authoritative
// regardless.
func (p Principal) IsManager() bool { return p.Role == "manager" || p.Role == "admin" }

// requireManager writes a 403 problem and returns false for non-managers.
func (s *Server) requireManager(w http.ResponseWriter, r *http.Request) (Principal, bool) {
	pr := s.getPrincipal(r)
	if !pr.IsManager() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "manager role required", r.URL.Path)
		return pr, false
	}
	return pr, true
}
