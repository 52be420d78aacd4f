package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/citytransit/etalearn/internal/domain"
)

// bearerAuth rejects requests without a valid bearer token matching the
// configured secret (§6: POST /v1/ride_summary is "authenticated with a
// bearer token"). The comparison runs in constant time so response
// latency can't leak how many leading bytes of a guessed token matched.
func (s *Server) bearerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Auth.BearerToken == "" {
			writeError(w, http.StatusUnauthorized, domain.CodeUnauthorized, "server has no bearer token configured")
			return
		}
		header := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			writeError(w, http.StatusUnauthorized, domain.CodeUnauthorized, "missing or invalid bearer token")
			return
		}
		got := strings.TrimPrefix(header, prefix)
		want := s.cfg.Auth.BearerToken
		if len(got) != len(want) || subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			writeError(w, http.StatusUnauthorized, domain.CodeUnauthorized, "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
