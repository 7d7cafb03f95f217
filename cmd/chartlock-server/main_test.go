package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/chartlock/internal/config"
	"github.com/ehr/chartlock/internal/domain/charting"
	"github.com/ehr/chartlock/internal/platform/auth"
	"github.com/ehr/chartlock/internal/platform/db"
	"github.com/ehr/chartlock/internal/platform/telemetry"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:             "0",
		Env:              "development",
		LogLevel:         "error",
		StoreDriver:      config.DriverSQLite,
		SQLitePath:       db.MemoryPath,
		CORSOrigins:      []string{"http://localhost:3000"},
		EditWindowHours:  24,
		EditWarningHours: 2,
		MetricsEnabled:   true,
	}
}

func openTestStore(t *testing.T, cfg *config.Config) *store {
	t.Helper()
	st, err := openStore(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(st.Close)
	return st
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{" WARN ", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	cfg := testConfig()
	cfg.StoreDriver = "mysql"
	_, err := openStore(context.Background(), cfg, zerolog.Nop())
	require.Error(t, err)
}

func TestVerifyIntegrity_AllTablesRefuseDeletes(t *testing.T) {
	cfg := testConfig()
	st := openTestStore(t, cfg)
	svc := newService(cfg, st, zerolog.Nop(), telemetry.New())

	var out bytes.Buffer
	require.NoError(t, verifyIntegrity(context.Background(), st, svc, &out))

	report := out.String()
	for _, table := range db.RegulatedTables {
		assert.Contains(t, report, table)
	}
	assert.NotContains(t, report, "FAIL")
	assert.Contains(t, report, "All regulated tables refuse physical deletes.")

	_, total, err := svc.ListAnomalies(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestVerifyIntegrity_MissingTriggerRecordsAnomaly(t *testing.T) {
	cfg := testConfig()
	st := openTestStore(t, cfg)
	svc := newService(cfg, st, zerolog.Nop(), telemetry.New())

	_, err := st.sqlite.Exec(`DROP TRIGGER prevent_delete_treatments`)
	require.NoError(t, err)

	var out bytes.Buffer
	err = verifyIntegrity(context.Background(), st, svc, &out)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errIntegrityCheckFailed))
	assert.Contains(t, out.String(), "FAIL")

	anomalies, total, err := svc.ListAnomalies(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, db.IntegrityMarker, anomalies[0].ErrorCode)
	assert.Equal(t, charting.SeverityHigh, anomalies[0].Severity)
	require.NotNil(t, anomalies[0].RecordKind)
	assert.Equal(t, "treatments", *anomalies[0].RecordKind)
}

func TestIntegrityVerifyCommand(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", filepath.Join(t.TempDir(), "hospital.db"))

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"integrity", "verify"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "All regulated tables refuse physical deletes.")
}

func TestMigrateCommand_SQLiteIsNoop(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", filepath.Join(t.TempDir(), "hospital.db"))

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"migrate", "up"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "nothing to migrate")
}

func TestRecordsStatusCommand_RejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown kind", []string{"records", "status", "--kind", "lab_result", "--id", "00000000-0000-0000-0000-000000000001"}},
		{"bad id", []string{"records", "status", "--kind", "nurse_note", "--id", "abc"}},
		{"missing flags", []string{"records", "status"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := newRootCmd()
			root.SetOut(&bytes.Buffer{})
			root.SetErr(&bytes.Buffer{})
			root.SetArgs(tt.args)
			assert.Error(t, root.Execute())
		})
	}
}

func TestServer_HealthAndMetrics(t *testing.T) {
	cfg := testConfig()
	st := openTestStore(t, cfg)
	metrics := telemetry.New()
	e := newServer(cfg, st, newService(cfg, st, zerolog.Nop(), metrics), metrics, zerolog.Nop())

	for _, path := range []string{"/health", "/health/db", "/metrics"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestServer_NoteCannotBeDeleted(t *testing.T) {
	cfg := testConfig()
	st := openTestStore(t, cfg)
	metrics := telemetry.New()
	e := newServer(cfg, st, newService(cfg, st, zerolog.Nop(), metrics), metrics, zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/nurse-notes",
		strings.NewReader(`{"patient_id":"p-1","note":"Paciente estable, sin dolor."}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(auth.DevActorHeader, "Enf. Ana Pérez")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var note charting.NurseNote
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &note))
	assert.Equal(t, "Enf. Ana Pérez", note.NurseName)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/nurse-notes/"+note.ID.String(), nil))
	require.Equal(t, http.StatusForbidden, rec.Code)

	var body charting.ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "DeletionForbidden", body.Code)
	assert.True(t, body.ArchiveAvailable)

	// the row is still there
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/nurse-notes/"+note.ID.String(), nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_WritesAreAudited(t *testing.T) {
	cfg := testConfig()
	st := openTestStore(t, cfg)
	metrics := telemetry.New()
	e := newServer(cfg, st, newService(cfg, st, zerolog.Nop(), metrics), metrics, zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/nurse-notes",
		strings.NewReader(`{"patient_id":"p-1","note":"Paciente estable."}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(auth.DevActorHeader, "Enf. Ana Pérez")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var note charting.NurseNote
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &note))

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/nurse-notes/"+note.ID.String(), nil)
	req.Header.Set(auth.DevActorHeader, "Enf. Ana Pérez")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	// reads are not audited
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/nurse-notes/"+note.ID.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	items, total, err := st.repos.Audit.List(context.Background(), "nurse_note", "", 20, 0)
	require.NoError(t, err)
	require.Equal(t, 2, total)
	byAction := map[string]*charting.AuditRecord{}
	for _, it := range items {
		byAction[it.Action] = it
	}
	require.Contains(t, byAction, "delete")
	assert.Equal(t, note.ID.String(), byAction["delete"].RecordID)
	assert.Equal(t, "rejected", byAction["delete"].Outcome)
	assert.Equal(t, http.StatusForbidden, byAction["delete"].StatusCode)
	assert.Equal(t, "Enf. Ana Pérez", byAction["delete"].ActorName)
	require.Contains(t, byAction, "create")
	assert.Equal(t, "ok", byAction["create"].Outcome)
}

func TestServer_WriteRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.WriteRateLimit, cfg.WriteRateBurst = 0.01, 1
	st := openTestStore(t, cfg)
	metrics := telemetry.New()
	e := newServer(cfg, st, newService(cfg, st, zerolog.Nop(), metrics), metrics, zerolog.Nop())

	post := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/nurse-notes",
			strings.NewReader(`{"patient_id":"p-1","note":"Control."}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(auth.DevActorHeader, "Enf. Ana Pérez")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}
	require.Equal(t, http.StatusCreated, post().Code)
	rec := post()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/nurse-notes?patient_id=p-1", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "reads are not limited")
}
