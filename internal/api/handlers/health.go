package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Togather-Foundation/attend/internal/metrics"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	statusPass = "pass"
	statusWarn = "warn"
	statusFail = "fail"

	checkTimeout = 2 * time.Second
)

// HealthCheck represents the readiness status of the server.
type HealthCheck struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	GitCommit string                 `json:"git_commit"`
	Checks    map[string]CheckResult `json:"checks"`
	Timestamp string                 `json:"timestamp"`
}

// CheckResult represents the result of a single health check.
type CheckResult struct {
	Status    string                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	LatencyMs int64                  `json:"latency_ms,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// CheckFunc runs one dependency check. It receives a context bounded by
// the per-check timeout.
type CheckFunc func(ctx context.Context) CheckResult

type namedCheck struct {
	name string
	fn   CheckFunc
}

// HealthChecker runs the readiness checks registered with AddCheck.
type HealthChecker struct {
	checks    []namedCheck
	version   string
	gitCommit string
}

func NewHealthChecker(version, gitCommit string) *HealthChecker {
	return &HealthChecker{version: version, gitCommit: gitCommit}
}

func (h *HealthChecker) AddCheck(name string, fn CheckFunc) {
	h.checks = append(h.checks, namedCheck{name: name, fn: fn})
}

// Readyz reports 503 when any check fails. Warnings degrade the status
// without failing it. Each check result is mirrored in the
// health_check_status gauge.
func (h *HealthChecker) Readyz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
			return
		default:
		}

		checks := make(map[string]CheckResult, len(h.checks))
		overall, code := "healthy", http.StatusOK
		for _, c := range h.checks {
			result := runCheck(r.Context(), c.fn)
			checks[c.name] = result

			gauge := 0.0
			switch result.Status {
			case statusFail:
				overall, code = "unhealthy", http.StatusServiceUnavailable
			case statusWarn:
				gauge = 1
				if overall == "healthy" {
					overall = "degraded"
				}
			default:
				gauge = 2
			}
			metrics.HealthCheckStatus.WithLabelValues(c.name).Set(gauge)
		}

		writeJSON(w, code, HealthCheck{
			Status:    overall,
			Version:   h.version,
			GitCommit: h.gitCommit,
			Checks:    checks,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func runCheck(ctx context.Context, fn CheckFunc) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	start := time.Now()
	result := fn(ctx)
	if result.LatencyMs == 0 {
		result.LatencyMs = time.Since(start).Milliseconds()
	}
	if ctx.Err() == context.DeadlineExceeded && result.Status == statusFail {
		result.Message = fmt.Sprintf("%s (timed out after %s)", result.Message, checkTimeout)
	}
	return result
}

// Healthz is the liveness check. It never touches dependencies.
func Healthz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// Pinger is satisfied by the storage backends.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StorageCheck verifies the store answers.
func StorageCheck(store Pinger, driver string) CheckFunc {
	return func(ctx context.Context) CheckResult {
		if err := store.Ping(ctx); err != nil {
			return CheckResult{
				Status:  statusFail,
				Message: "Storage unreachable",
				Details: map[string]interface{}{"driver": driver, "error": err.Error()},
			}
		}
		return CheckResult{Status: statusPass, Message: "Storage reachable", Details: map[string]interface{}{"driver": driver}}
	}
}

// MigrationsCheck fails when the schema is missing or left dirty by an
// interrupted migration.
func MigrationsCheck(pool *pgxpool.Pool) CheckFunc {
	return func(ctx context.Context) CheckResult {
		var version int64
		var dirty bool
		err := pool.QueryRow(ctx, `SELECT version, dirty FROM schema_migrations ORDER BY version DESC LIMIT 1`).Scan(&version, &dirty)
		if err != nil {
			result := CheckResult{Status: statusFail, Message: "Failed to query migration version", Details: map[string]interface{}{"error": err.Error()}}
			if strings.Contains(err.Error(), "does not exist") {
				result.Message = "Migrations table not found"
				result.Details["remediation"] = "Run: server migrate up"
			}
			return result
		}
		if dirty {
			return CheckResult{
				Status:  statusFail,
				Message: "Database in dirty migration state - manual intervention required",
				Details: map[string]interface{}{"version": version, "dirty": true},
			}
		}
		return CheckResult{
			Status:  statusPass,
			Message: fmt.Sprintf("Migrations applied successfully (version %d)", version),
			Details: map[string]interface{}{"version": version, "dirty": false},
		}
	}
}

// JobQueueCheck reports the number of pending jobs. A missing River schema
// only warns because promotion falls back to running inline.
func JobQueueCheck(pool *pgxpool.Pool) CheckFunc {
	return func(ctx context.Context) CheckResult {
		var exists bool
		if err := pool.QueryRow(ctx, `SELECT to_regclass('river_job') IS NOT NULL`).Scan(&exists); err != nil {
			return CheckResult{Status: statusFail, Message: "Failed to check job queue table", Details: map[string]interface{}{"error": err.Error()}}
		}
		if !exists {
			return CheckResult{Status: statusWarn, Message: "River job queue table not found", Details: map[string]interface{}{"remediation": "Run: server migrate up"}}
		}
		var active int64
		if err := pool.QueryRow(ctx, `SELECT count(*) FROM river_job WHERE state = ANY($1)`, []string{"available", "running", "retryable"}).Scan(&active); err != nil {
			return CheckResult{Status: statusFail, Message: "Failed to query job queue", Details: map[string]interface{}{"error": err.Error()}}
		}
		return CheckResult{Status: statusPass, Message: "River job queue operational", Details: map[string]interface{}{"active_jobs": active}}
	}
}
