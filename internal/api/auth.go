package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/AaronLay10/SentientDialogue/internal/config"
)

// Role represents an authorization role.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
)

type authConfig struct {
	adminUser    string
	adminPass    string
	operatorUser string
	operatorPass string
	enabled      bool
}

// newAuthConfig enables auth only when admin credentials are set.
func newAuthConfig(c config.Credentials) authConfig {
	return authConfig{
		adminUser:    c.AdminUser,
		adminPass:    c.AdminPass,
		operatorUser: c.OperatorUser,
		operatorPass: c.OperatorPass,
		enabled:      c.AuthEnabled(),
	}
}

// AuthEnabled returns true if authentication is configured.
func (s *Server) AuthEnabled() bool {
	return s.auth.enabled
}

// authenticate returns the caller's role, or "" for bad credentials.
func (a authConfig) authenticate(r *http.Request) Role {
	if !a.enabled {
		return RoleAdmin
	}

	user, pass, ok := r.BasicAuth()
	if !ok {
		return ""
	}

	if a.adminUser != "" && a.adminPass != "" {
		if secureCompare(user, a.adminUser) && secureCompare(pass, a.adminPass) {
			return RoleAdmin
		}
	}
	if a.operatorUser != "" && a.operatorPass != "" {
		if secureCompare(user, a.operatorUser) && secureCompare(pass, a.operatorPass) {
			return RoleOperator
		}
	}
	return ""
}

func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func requireAuth(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="Sentient Dialogue"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}

// RequireRole wraps a handler and requires one of the specified roles.
func (s *Server) RequireRole(handler http.HandlerFunc, allowedRoles ...Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role := s.auth.authenticate(r)
		if role == "" {
			requireAuth(w)
			return
		}
		for _, allowed := range allowedRoles {
			if role == allowed {
				handler(w, r)
				return
			}
		}
		http.Error(w, "Forbidden", http.StatusForbidden)
	}
}

// RequireAnyRole wraps a handler requiring admin OR operator role.
func (s *Server) RequireAnyRole(handler http.HandlerFunc) http.HandlerFunc {
	return s.RequireRole(handler, RoleAdmin, RoleOperator)
}

// RequireAdmin wraps a handler requiring admin role only.
func (s *Server) RequireAdmin(handler http.HandlerFunc) http.HandlerFunc {
	return s.RequireRole(handler, RoleAdmin)
}
