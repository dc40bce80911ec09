package server

import (
	"net/http"
	"strings"
)

// bearerAuth rejects any request missing "Authorization: Bearer <token>"
// matching Config.BearerToken. Skipped entirely when the token is empty, so
// a developer running oakd locally with bearer_token unset is never locked
// out -- matching the config.yaml comment describing the token as
// "generated on first run if unset" rather than mandatory.
func (s *Server) bearerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.BearerToken == "" {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token != s.config.BearerToken {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
