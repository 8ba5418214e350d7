// health_handler.go -- Health check handler for GET /health.
package auth

import (
	"net/http"
)

// CheckHealth handles GET /health -- pings Postgres and Redis, returns per-dependency status.
// Returns 200 if both are healthy, 503 if either is down.
func (h *AuthHandler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	redisStatus := "ok"
	postgresStatus := "ok"

	if h.RL == nil {
		redisStatus = "disabled"
	} else if err := h.RL.CheckHealth(r.Context()); err != nil {
		logError(r, "redis health check failed", "error", err)
		redisStatus = "error"
	}
	if h.PS == nil {
		postgresStatus = "error"
	} else if err := h.PS.CheckHealth(r.Context()); err != nil {
		logError(r, "postgres health check failed", "error", err)
		postgresStatus = "error"
	}

	status, code := "healthy", http.StatusOK
	if redisStatus == "error" || postgresStatus == "error" {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}

	writeJSON(w, code, struct {
		Status           string `json:"status"`
		Version          string `json:"version"`
		Environment      string `json:"environment"`
		StoreInitialized bool   `json:"store_initialized"`
		OAuthConfigured  bool   `json:"oauth_configured"`
		Postgres         string `json:"postgres"`
		Redis            string `json:"redis"`
	}{
		Status:           status,
		Version:          h.Version,
		Environment:      h.Environment,
		StoreInitialized: h.PS != nil,
		OAuthConfigured:  h.Flow != nil,
		Postgres:         postgresStatus,
		Redis:            redisStatus,
	})
}
