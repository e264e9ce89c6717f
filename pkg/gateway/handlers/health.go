// Package handlers holds the HTTP endpoints: health probes and the
// websocket session accept path.
package handlers

import (
	"encoding/json"
	"net/http"
)

// HealthHandler is the liveness probe: the process is up.
func HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

// ReadyHandler is the readiness probe. Draining flips it so the load
// balancer stops routing new sessions during shutdown.
func ReadyHandler(draining func() bool, sessionCount func() int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if draining() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status":   "draining",
				"sessions": sessionCount(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "ready",
			"sessions": sessionCount(),
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
