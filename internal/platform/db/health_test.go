package db

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

type fakeStore struct {
	err      error
	triggers []TriggerStatus
}

func (f fakeStore) Ping(context.Context) error { return f.err }

func (f fakeStore) Triggers(context.Context) ([]TriggerStatus, error) { return f.triggers, nil }

func (f fakeStore) Stats() *PoolStats {
	return &PoolStats{Driver: "fake", TotalConns: 1, MaxConns: 1, Healthy: true}
}

func serveHealth(t *testing.T, store Store) (int, map[string]interface{}) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health/db", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := HealthHandler(store)(c); err != nil {
		t.Fatalf("unexpected handler error: %v", err)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return rec.Code, body
}

func TestHealthHandler_Healthy(t *testing.T) {
	code, body := serveHealth(t, fakeStore{})
	if code != http.StatusOK {
		t.Errorf("expected 200, got %d", code)
	}
	if body["status"] != "healthy" {
		t.Errorf("expected status healthy, got %v", body["status"])
	}
}

func TestHealthHandler_Unhealthy(t *testing.T) {
	code, body := serveHealth(t, fakeStore{err: errors.New("connection refused")})
	if code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", code)
	}
	if body["status"] != "unhealthy" {
		t.Errorf("expected status unhealthy, got %v", body["status"])
	}
	pool, ok := body["pool"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected pool object, got %T", body["pool"])
	}
	if pool["healthy"] != false {
		t.Errorf("expected pool.healthy false, got %v", pool["healthy"])
	}
}

func TestHealthHandler_Unprotected(t *testing.T) {
	code, body := serveHealth(t, fakeStore{triggers: []TriggerStatus{
		{Table: "nurse_notes", Protected: true},
		{Table: "vital_signs", Protected: false},
	}})
	if code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", code)
	}
	if body["status"] != "unprotected" {
		t.Errorf("expected status unprotected, got %v", body["status"])
	}
	missing, ok := body["unprotected"].([]interface{})
	if !ok || len(missing) != 1 || missing[0] != "vital_signs" {
		t.Errorf("expected [vital_signs] unprotected, got %v", body["unprotected"])
	}
}

func TestHealthHandler_SQLiteStore(t *testing.T) {
	conn, err := OpenSQLite(context.Background(), MemoryPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer conn.Close()

	code, body := serveHealth(t, SQLiteStore(conn))
	if code != http.StatusOK {
		t.Errorf("expected 200, got %d", code)
	}
	pool := body["pool"].(map[string]interface{})
	if pool["driver"] != "sqlite" {
		t.Errorf("expected driver sqlite, got %v", pool["driver"])
	}
	if pool["max_conns"] != float64(1) {
		t.Errorf("expected max_conns 1, got %v", pool["max_conns"])
	}
	triggers, ok := body["triggers"].([]interface{})
	if !ok || len(triggers) != len(RegulatedTables) {
		t.Errorf("expected %d trigger statuses, got %v", len(RegulatedTables), body["triggers"])
	}
}
