package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	_ "github.com/mattn/go-sqlite3"
)

func newHealthDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func decodeHealth(t *testing.T, w *httptest.ResponseRecorder) HealthStatus {
	t.Helper()
	var status HealthStatus
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatalf("response body is not JSON: %v", err)
	}
	return status
}

func TestHealthChecker_Liveness(t *testing.T) {
	checker := NewHealthChecker(nil, nil)

	w := httptest.NewRecorder()
	checker.Liveness(w, httptest.NewRequest("GET", "/health/live", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q, want application/json", ct)
	}
}

func TestHealthChecker_ReadinessHealthy(t *testing.T) {
	checker := NewHealthChecker(newHealthDB(t), nil)

	w := httptest.NewRecorder()
	checker.Readiness(w, httptest.NewRequest("GET", "/health/ready", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	status := decodeHealth(t, w)
	if status.Status != StatusHealthy {
		t.Errorf("status = %q, want healthy", status.Status)
	}
	if _, ok := status.Dependencies["database"]; !ok {
		t.Error("database dependency missing from readiness report")
	}
}

func TestHealthChecker_ReadinessDatabaseDown(t *testing.T) {
	db := newHealthDB(t)
	db.Close()
	checker := NewHealthChecker(db, nil)

	w := httptest.NewRecorder()
	checker.Readiness(w, httptest.NewRequest("GET", "/health/ready", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	status := decodeHealth(t, w)
	if status.Status != StatusUnhealthy {
		t.Errorf("status = %q, want unhealthy", status.Status)
	}
	if status.Dependencies["database"].Message == "" {
		t.Error("database failure should carry a message")
	}
}

func TestHealthChecker_StateStoreHealthy(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	checker := NewHealthChecker(newHealthDB(t), client)
	status := checker.Check(context.Background())

	if status.Status != StatusHealthy {
		t.Errorf("status = %q, want healthy", status.Status)
	}
	if _, ok := status.Dependencies["state_store"]; !ok {
		t.Error("state_store dependency missing from report")
	}
}

func TestHealthChecker_StateStoreDownDegradesOnly(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	mr.Close()

	checker := NewHealthChecker(newHealthDB(t), client)

	w := httptest.NewRecorder()
	checker.Readiness(w, httptest.NewRequest("GET", "/health/ready", nil))

	// Losing redis degrades multi-node logins but must not fail readiness.
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	status := decodeHealth(t, w)
	if status.Status != StatusDegraded {
		t.Errorf("status = %q, want degraded", status.Status)
	}
	if status.Dependencies["state_store"].Status != StatusUnhealthy {
		t.Errorf("state_store status = %q, want unhealthy", status.Dependencies["state_store"].Status)
	}
}

func TestRegisterHealthRoutes(t *testing.T) {
	mux := http.NewServeMux()
	RegisterHealthRoutes(mux, NewHealthChecker(newHealthDB(t), nil))

	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
		if w.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, w.Code)
		}
	}
}
