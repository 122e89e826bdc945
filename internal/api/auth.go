package api

import (
	"net/http"

	"github.com/mattjoyce/voxbridge/internal/auth"
)

func (s *Server) secured() bool {
	return s.keys.Enabled()
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		grant, err := s.keys.Authenticate(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithGrant(r.Context(), grant)))
	})
}

// requireScope rejects authenticated callers lacking scope. It is a no-op
// when authentication is disabled.
func (s *Server) requireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.secured() {
				g, ok := auth.GrantFromContext(r.Context())
				if !ok || !g.Allows(scope) {
					s.writeError(w, http.StatusForbidden, "missing scope "+scope)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
