// Package health exposes liveness and readiness checks over HTTP.
package health

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

type Checker struct {
	db          *sql.DB
	uploadsRoot string
}

func NewChecker(db *sql.DB, uploadsRoot string) *Checker {
	return &Checker{db: db, uploadsRoot: uploadsRoot}
}

type status struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Check probes the database and uploads-root writability.
func (c *Checker) Check(ctx context.Context) (bool, map[string]string) {
	checks := make(map[string]string)
	healthy := true

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.db.PingContext(ctx); err != nil {
		checks["database"] = err.Error()
		healthy = false
	} else {
		checks["database"] = "ok"
	}

	probe := filepath.Join(c.uploadsRoot, ".healthcheck")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		checks["uploads"] = err.Error()
		healthy = false
	} else {
		_ = os.Remove(probe)
		checks["uploads"] = "ok"
	}

	return healthy, checks
}

func HealthHandler(c *Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		healthy, checks := c.Check(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(status{Status: "unhealthy", Checks: checks})
			return
		}
		_ = json.NewEncoder(w).Encode(status{Status: "ok", Checks: checks})
	}
}

func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(status{Status: "ok"})
	}
}

func ReadinessHandler(c *Checker) http.HandlerFunc {
	return HealthHandler(c)
}
