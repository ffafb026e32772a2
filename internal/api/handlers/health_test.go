package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func staticCheck(status string) CheckFunc {
	return func(context.Context) CheckResult { return CheckResult{Status: status} }
}

func readyz(t *testing.T, checker *HealthChecker) (int, HealthCheck) {
	t.Helper()
	w := httptest.NewRecorder()
	checker.Readyz().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	var response HealthCheck
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	return w.Code, response
}

func TestHealthCheck_AllHealthy(t *testing.T) {
	checker := NewHealthChecker("0.1.0", "test-commit")
	checker.AddCheck("storage", StorageCheck(pingFunc(func(context.Context) error { return nil }), "memory"))

	code, response := readyz(t, checker)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", response.Status)
	assert.Equal(t, "0.1.0", response.Version)
	assert.Equal(t, "test-commit", response.GitCommit)
	assert.NotEmpty(t, response.Timestamp)
	assert.Equal(t, "pass", response.Checks["storage"].Status)
	assert.Equal(t, "memory", response.Checks["storage"].Details["driver"])
}

func TestHealthCheck_StorageFailure(t *testing.T) {
	checker := NewHealthChecker("0.1.0", "test-commit")
	checker.AddCheck("storage", StorageCheck(pingFunc(func(context.Context) error { return errors.New("connection refused") }), "postgres"))

	code, response := readyz(t, checker)

	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", response.Status)
	assert.Equal(t, "fail", response.Checks["storage"].Status)
	assert.Equal(t, "connection refused", response.Checks["storage"].Details["error"])
}

func TestHealthCheck_Timeout(t *testing.T) {
	checker := NewHealthChecker("0.1.0", "test-commit")
	checker.AddCheck("storage", StorageCheck(pingFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}), "postgres"))

	start := time.Now()
	code, response := readyz(t, checker)

	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Less(t, time.Since(start), checkTimeout+time.Second, "checks are bounded by the per-check timeout")
	assert.Contains(t, response.Checks["storage"].Message, "timed out")
}

func TestHealthCheck_StatusDetermination(t *testing.T) {
	tests := []struct {
		name       string
		statuses   []string
		wantStatus string
		wantCode   int
	}{
		{name: "no checks", wantStatus: "healthy", wantCode: http.StatusOK},
		{name: "all pass", statuses: []string{"pass", "pass"}, wantStatus: "healthy", wantCode: http.StatusOK},
		{name: "warn degrades", statuses: []string{"pass", "warn"}, wantStatus: "degraded", wantCode: http.StatusOK},
		{name: "fail wins over warn", statuses: []string{"warn", "fail", "pass"}, wantStatus: "unhealthy", wantCode: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewHealthChecker("v", "c")
			for i, s := range tt.statuses {
				checker.AddCheck(string(rune('a'+i)), staticCheck(s))
			}
			code, response := readyz(t, checker)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantStatus, response.Status)
			assert.Len(t, response.Checks, len(tt.statuses))
		})
	}
}

func TestHealthz(t *testing.T) {
	w := httptest.NewRecorder()
	Healthz().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestHealthCheck_ShuttingDown(t *testing.T) {
	checker := NewHealthChecker("v", "c")
	checker.AddCheck("storage", func(context.Context) CheckResult {
		t.Error("checks must not run while shutting down")
		return CheckResult{}
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := httptest.NewRecorder()
	checker.Readyz().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil).WithContext(ctx))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"shutting_down"}`, w.Body.String())
}

// TestHealthCheck_MigrationStates checks clean, dirty and missing
// migration tables, plus the job queue check without a River schema.
func TestHealthCheck_MigrationStates(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping database test in short mode")
	}
	ctx := context.Background()
	pool, cleanup := setupTestDB(t, ctx)
	defer cleanup()

	_, err := pool.Exec(ctx, `DROP TABLE IF EXISTS schema_migrations`)
	require.NoError(t, err)

	result := runCheck(ctx, MigrationsCheck(pool))
	assert.Equal(t, statusFail, result.Status)
	assert.Equal(t, "Migrations table not found", result.Message)

	_, err = pool.Exec(ctx, `CREATE TABLE schema_migrations (version BIGINT PRIMARY KEY, dirty BOOLEAN NOT NULL)`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO schema_migrations (version, dirty) VALUES (1, false)`)
	require.NoError(t, err)

	result = runCheck(ctx, MigrationsCheck(pool))
	assert.Equal(t, statusPass, result.Status)
	assert.EqualValues(t, 1, result.Details["version"])

	_, err = pool.Exec(ctx, `UPDATE schema_migrations SET dirty = true`)
	require.NoError(t, err)
	result = runCheck(ctx, MigrationsCheck(pool))
	assert.Equal(t, statusFail, result.Status)

	result = runCheck(ctx, JobQueueCheck(pool))
	assert.Equal(t, statusWarn, result.Status, "a missing river_job table only warns")
}

// setupTestDB connects to DATABASE_URL when set, otherwise starts a
// throwaway container.
func setupTestDB(t *testing.T, ctx context.Context) (*pgxpool.Pool, func()) {
	t.Helper()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(ctx, dbURL)
		if err == nil && pool.Ping(ctx) == nil {
			return pool, func() { pool.Close() }
		}
		t.Logf("DATABASE_URL set but connection failed, using testcontainer")
	}

	postgresContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("attend_test"),
		tcpostgres.WithUsername("attend"),
		tcpostgres.WithPassword("attend-test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start PostgreSQL container")

	dbURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	pool, err := pgxpool.New(ctx, dbURL)
	require.NoError(t, err, "failed to connect to test database")
	require.NoError(t, pool.Ping(ctx), "failed to ping test database")

	cleanup := func() {
		pool.Close()
		if err := testcontainers.TerminateContainer(postgresContainer); err != nil {
			t.Logf("Failed to terminate PostgreSQL container: %v", err)
		}
	}
	return pool, cleanup
}
