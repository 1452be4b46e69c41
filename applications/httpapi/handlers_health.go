package httpapi

import (
	"net/http"

	"github.com/evidentia/syncplatform/infrastructure/version"
)

// handleHealth answers the liveness probe; it never requires auth (§4.12:
// read methods on non-sensitive paths are always open) and is exempt from
// rate limiting per §4.10.
func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"status": "ok"}
	if s.deps.DB != nil {
		if err := s.deps.DB.PingContext(r.Context()); err != nil {
			checks["database"] = err.Error()
			writeOK(w, http.StatusServiceUnavailable, map[string]interface{}{"healthy": false, "checks": checks, "version": version.FullVersion()})
			return
		}
		checks["database"] = "ok"
	}
	writeOK(w, http.StatusOK, map[string]interface{}{"healthy": true, "checks": checks, "version": version.FullVersion()})
}
