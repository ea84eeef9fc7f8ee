package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/wirecutter/app/store"
	"github.com/umputun/wirecutter/app/users"
)

type ctxKey string

const credentialKey ctxKey = "credential"

// authMiddleware checks basic auth against the credential store and keeps the credential in context
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			s.unauthorized(w, "credentials required")
			return
		}

		cred, err := s.auth.Authenticate(r.Context(), username, password)
		if err != nil {
			if errors.Is(err, store.ErrUnauthorized) {
				log.Printf("[WARN] authentication failed for %q from %s", username, r.RemoteAddr)
				s.unauthorized(w, "invalid credentials")
				return
			}
			s.writeError(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), credentialKey, cred)))
	})
}

// requireRole rejects requests from authenticated users without the given role.
// Does nothing if authentication is disabled.
func (s *Server) requireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if s.auth == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cred, ok := credentialFrom(r.Context())
			if !ok || cred.Role != role {
				log.Printf("[WARN] user %q is not allowed to %s %s", cred.Username, r.Method, r.URL.Path)
				s.writeJSONError(w, http.StatusForbidden, store.KindUnauthorized, fmt.Sprintf("%s role required", role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Basic realm="wirecutter"`)
	s.writeJSONError(w, http.StatusUnauthorized, store.KindUnauthorized, msg)
}

// credentialFrom returns the authenticated user, if any
func credentialFrom(ctx context.Context) (users.Credential, bool) {
	cred, ok := ctx.Value(credentialKey).(users.Credential)
	return cred, ok
}
