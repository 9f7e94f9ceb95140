package handlers

import (
	"context"
	"net/http"
	"time"
)

// Check reports whether a dependency can serve requests.
type Check func(ctx context.Context) error

func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// StatsSource supplies the connection stats shown on /ready.
type StatsSource interface {
	Stats() map[string]interface{}
}

// ReadyHandler runs every check; any failure makes the instance unready.
func ReadyHandler(stats StatsSource, checks map[string]Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		deps := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				deps[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			deps[name] = "ok"
		}

		body := map[string]interface{}{
			"status":       "ready",
			"dependencies": deps,
			"stats":        stats.Stats(),
		}
		if status != http.StatusOK {
			body["status"] = "unavailable"
		}
		respondWithJSON(w, status, body)
	}
}
