package api

import (
	"context"
	"net/http"
	"time"

	"github.com/nerrad567/dronefleet-core/internal/audit"
	"github.com/nerrad567/dronefleet-core/internal/selftest"
)

// healthCheckTimeout bounds the database probe made by the health endpoint.
const healthCheckTimeout = 2 * time.Second

// Health statuses.
const (
	healthOK       = "ok"
	healthDegraded = "degraded"
)

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status   string           `json:"status"`
	Version  string           `json:"version"`
	Database *DatabaseHealth  `json:"database,omitempty"`
	Broker   *BrokerHealth    `json:"broker,omitempty"`
	SelfTest *selftest.Report `json:"selftest,omitempty"`
}

// DatabaseHealth reports connectivity and schema version.
type DatabaseHealth struct {
	Healthy           bool   `json:"healthy"`
	Error             string `json:"error,omitempty"`
	SchemaVersion     string `json:"schemaVersion,omitempty"`
	PendingMigrations int    `json:"pendingMigrations"`
}

// BrokerHealth reports the bridge connection state.
type BrokerHealth struct {
	Connected bool   `json:"connected"`
	State     string `json:"state"`
}

// handleHealth reports service health. The status is "degraded" when the
// broker is down or the last self-test failed; only a database failure
// turns the response into a 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: healthOK, Version: s.version}
	code := http.StatusOK

	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		dbHealth := &DatabaseHealth{Healthy: true}
		if err := s.db.HealthCheck(ctx); err != nil {
			dbHealth.Healthy = false
			dbHealth.Error = err.Error()
			resp.Status = healthDegraded
			code = http.StatusServiceUnavailable
		} else if status, err := s.db.MigrationStatus(ctx); err == nil {
			dbHealth.SchemaVersion = status.Current()
			dbHealth.PendingMigrations = len(status.Pending)
		}
		resp.Database = dbHealth
	}

	if s.bridge != nil {
		resp.Broker = &BrokerHealth{
			Connected: s.bridge.IsConnected(),
			State:     s.bridge.State().String(),
		}
		if !resp.Broker.Connected {
			resp.Status = healthDegraded
		}
	}

	if s.selfTest != nil {
		if report := s.selfTest.Latest(); report != nil {
			resp.SelfTest = report
			if !report.Healthy {
				resp.Status = healthDegraded
			}
		}
	}

	writeJSON(w, code, resp)
}

// handleRunSelfTest runs the dependency self-test on demand and returns the
// report. A run already in progress yields 409.
func (s *Server) handleRunSelfTest(w http.ResponseWriter, r *http.Request) {
	if s.selfTest == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "self-test not configured")
		return
	}

	report, err := s.selfTest.Run(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.auditLog(r, audit.ActionSelfTestRun, audit.EntitySystem, "", map[string]any{
		"healthy": report.Healthy,
	})
	writeJSON(w, http.StatusOK, report)
}
