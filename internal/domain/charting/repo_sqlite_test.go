package charting

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/chartlock/internal/platform/db"
	"github.com/ehr/chartlock/internal/platform/editwindow"
	"github.com/ehr/chartlock/internal/platform/guard"
)

func openSQLiteRepos(t *testing.T) (*sql.DB, Repositories) {
	t.Helper()
	conn, err := db.OpenSQLite(context.Background(), db.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, NewSQLiteRepositories(conn)
}

func stampedNow() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

func TestSQLiteNoteRepo_CreateGetUpdate(t *testing.T) {
	ctx := context.Background()
	_, repos := openSQLiteRepos(t)
	created := stampedNow()

	n := &NurseNote{PatientID: "p-1", NoteDate: "2026-03-10", Note: "Inicial", NoteType: "Evolución",
		NurseName: "Enf. Ana Pérez", CreatedAt: &created}
	require.NoError(t, repos.Notes.Create(ctx, n))
	require.NotEqual(t, uuid.Nil, n.ID)

	got, err := repos.Notes.GetByID(ctx, n.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CreatedAt)
	assert.True(t, got.CreatedAt.Equal(created), "created_at %v != %v", got.CreatedAt, created)
	assert.Equal(t, "Enf. Ana Pérez", got.NurseName)
	assert.False(t, got.Archived)

	updated := created.Add(time.Hour)
	got.Note = "Corregida"
	got.UpdatedAt = &updated
	require.NoError(t, repos.Notes.Update(ctx, got))

	again, err := repos.Notes.GetByID(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, "Corregida", again.Note)
	assert.True(t, again.CreatedAt.Equal(created))
}

func TestSQLiteNoteRepo_UnknownID(t *testing.T) {
	ctx := context.Background()
	_, repos := openSQLiteRepos(t)

	_, err := repos.Notes.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, db.ErrNotFound)

	err = repos.Notes.Update(ctx, &NurseNote{ID: uuid.New(), Note: "x"})
	assert.ErrorIs(t, err, db.ErrNotFound)

	err = repos.Vitals.Void(ctx, uuid.New(), "Enf. Ana Pérez", stampedNow())
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestSQLiteStore_RawDeleteIsRefused(t *testing.T) {
	ctx := context.Background()
	conn, repos := openSQLiteRepos(t)
	created := stampedNow()

	v := validVitals("p-1")
	v.RecordedAt, v.RegisteredBy, v.CreatedAt = "2026-03-10T08:00:00Z", "Enf. Ana Pérez", &created
	require.NoError(t, repos.Vitals.Create(ctx, v))

	_, err := conn.ExecContext(ctx, `DELETE FROM vital_signs WHERE id = ?`, v.ID)
	assert.ErrorIs(t, db.ClassifySQLite(err), db.ErrIntegrityViolation)

	var n int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM vital_signs`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestSQLiteVitalRepo_VoidHidesFromDefaultList(t *testing.T) {
	ctx := context.Background()
	conn, repos := openSQLiteRepos(t)
	created := stampedNow()

	for i := 0; i < 2; i++ {
		v := validVitals("p-1")
		v.RecordedAt, v.RegisteredBy, v.CreatedAt = "2026-03-10T08:00:00Z", "Enf. Ana Pérez", &created
		require.NoError(t, repos.Vitals.Create(ctx, v))
	}
	items, total, err := repos.Vitals.ListByPatient(ctx, "p-1", false, 20, 0)
	require.NoError(t, err)
	require.Equal(t, 2, total)

	voidedAt := created.Add(time.Minute)
	require.NoError(t, repos.Vitals.Void(ctx, items[0].ID, "Enf. Marta", voidedAt))

	_, total, err = repos.Vitals.ListByPatient(ctx, "p-1", false, 20, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	all, total, err := repos.Vitals.ListByPatient(ctx, "p-1", true, 20, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, all, 2)

	got, err := repos.Vitals.GetByID(ctx, items[0].ID)
	require.NoError(t, err)
	assert.True(t, got.EnteredInError)
	require.NotNil(t, got.VoidedBy)
	assert.Equal(t, "Enf. Marta", *got.VoidedBy)
	require.NotNil(t, got.VoidedAt)
	assert.True(t, got.VoidedAt.Equal(voidedAt))

	_, err = conn.ExecContext(ctx, `UPDATE vital_signs SET entered_in_error = 0 WHERE id = ?`, items[0].ID)
	assert.ErrorIs(t, db.ClassifySQLite(err), db.ErrIntegrityViolation, "void must be one-way")
}

func TestSQLiteNoteRepo_Archive(t *testing.T) {
	ctx := context.Background()
	conn, repos := openSQLiteRepos(t)
	created := stampedNow()

	n := &NurseNote{PatientID: "p-1", NoteDate: "2026-03-10", Note: "Inicial", NoteType: "Evolución",
		NurseName: "Enf. Ana Pérez", CreatedAt: &created}
	require.NoError(t, repos.Notes.Create(ctx, n))
	require.NoError(t, repos.Notes.Archive(ctx, n.ID, "Enf. Ana Pérez", created.Add(time.Hour)))

	_, total, err := repos.Notes.ListByPatient(ctx, "p-1", false, 20, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, total)

	_, err = conn.ExecContext(ctx, `UPDATE nurse_notes SET archived = 0 WHERE id = ?`, n.ID)
	assert.ErrorIs(t, db.ClassifySQLite(err), db.ErrIntegrityViolation)
}

func TestSQLiteNoteRepo_ArchiveStampsAreFrozen(t *testing.T) {
	ctx := context.Background()
	conn, repos := openSQLiteRepos(t)
	created := stampedNow()
	archivedAt := created.Add(time.Hour)

	n := &NurseNote{PatientID: "p-1", NoteDate: "2026-03-10", Note: "Inicial", NoteType: "Evolución",
		NurseName: "Enf. Ana Pérez", CreatedAt: &created}
	require.NoError(t, repos.Notes.Create(ctx, n))
	require.NoError(t, repos.Notes.Archive(ctx, n.ID, "Enf. Ana Pérez", archivedAt))

	err := repos.Notes.Archive(ctx, n.ID, "Enf. Marta", archivedAt.Add(time.Hour))
	assert.ErrorIs(t, err, db.ErrIntegrityViolation)
	_, err = conn.ExecContext(ctx, `UPDATE nurse_notes SET archived_by = 'Otra' WHERE id = ?`, n.ID)
	assert.ErrorIs(t, db.ClassifySQLite(err), db.ErrIntegrityViolation)
	_, err = conn.ExecContext(ctx, `UPDATE nurse_notes SET archived_at = NULL WHERE id = ?`, n.ID)
	assert.ErrorIs(t, db.ClassifySQLite(err), db.ErrIntegrityViolation)

	got, err := repos.Notes.GetByID(ctx, n.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ArchivedBy)
	assert.Equal(t, "Enf. Ana Pérez", *got.ArchivedBy)
	assert.True(t, got.ArchivedAt.Equal(archivedAt))
}

func TestSQLiteStore_VoidedRowsAreFrozen(t *testing.T) {
	ctx := context.Background()
	conn, repos := openSQLiteRepos(t)
	created := stampedNow()
	voidedAt := created.Add(time.Minute)

	v := validVitals("p-1")
	v.RecordedAt, v.RegisteredBy, v.CreatedAt = "2026-03-10T08:00:00Z", "Enf. Ana Pérez", &created
	require.NoError(t, repos.Vitals.Create(ctx, v))
	tr := &Treatment{PatientID: "p-1", Medication: "Paracetamol", Dose: "1 g", Frequency: "c/8h",
		StartDate: "2026-03-10", AppliedBy: "Enf. Ana Pérez", LastApplication: "2026-03-10T08:00:00Z",
		Status: "Activo", CreatedAt: &created}
	require.NoError(t, repos.Treatments.Create(ctx, tr))
	np := &NonPharmaTreatment{PatientID: "p-1", TreatmentType: "Curación", TimeStart: "08:00",
		PerformedBy: "Enf. Ana Pérez", CreatedAt: &created}
	require.NoError(t, repos.NonPharma.Create(ctx, np))

	require.NoError(t, repos.Vitals.Void(ctx, v.ID, "Enf. Ana Pérez", voidedAt))
	require.NoError(t, repos.Treatments.Void(ctx, tr.ID, "Enf. Ana Pérez", voidedAt))
	require.NoError(t, repos.NonPharma.Void(ctx, np.ID, "Enf. Ana Pérez", voidedAt))

	err := repos.Vitals.Void(ctx, v.ID, "Enf. Marta", voidedAt.Add(time.Hour))
	assert.ErrorIs(t, err, db.ErrIntegrityViolation, "second void must not restamp")
	v.HeartRate = 120
	assert.ErrorIs(t, repos.Vitals.Update(ctx, v), db.ErrIntegrityViolation, "voided content is frozen")

	for table, id := range map[string]uuid.UUID{
		"vital_signs":                    v.ID,
		"treatments":                     tr.ID,
		"non_pharmacological_treatments": np.ID,
	} {
		_, err := conn.ExecContext(ctx, `UPDATE `+table+` SET voided_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
		assert.ErrorIs(t, db.ClassifySQLite(err), db.ErrIntegrityViolation, table)
		_, err = conn.ExecContext(ctx, `UPDATE `+table+` SET voided_by = 'Otra' WHERE id = ?`, id)
		assert.ErrorIs(t, db.ClassifySQLite(err), db.ErrIntegrityViolation, table)
	}

	got, err := repos.Vitals.GetByID(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, 78, got.HeartRate)
	require.NotNil(t, got.VoidedBy)
	assert.Equal(t, "Enf. Ana Pérez", *got.VoidedBy)
	assert.True(t, got.VoidedAt.Equal(voidedAt))
}

func TestSQLiteAuditRepo_AppendOnly(t *testing.T) {
	ctx := context.Background()
	conn, repos := openSQLiteRepos(t)
	at := stampedNow()
	noteID := uuid.New().String()

	for i, rec := range []*AuditRecord{
		{RecordKind: string(guard.KindNurseNote), RecordID: noteID, Action: "update", Method: "PUT", StatusCode: 200, Outcome: "ok"},
		{RecordKind: string(guard.KindNurseNote), RecordID: noteID, Action: "delete", Method: "DELETE", StatusCode: 403, Outcome: "rejected"},
		{RecordKind: string(guard.KindVitalSign), Action: "create", Method: "POST", StatusCode: 201, Outcome: "ok"},
	} {
		rec.OccurredAt = at.Add(time.Duration(i) * time.Second)
		rec.ActorName, rec.ActorRoles, rec.Path = "Enf. Ana Pérez", "nurse", "/api/v1/x"
		require.NoError(t, repos.Audit.Create(ctx, rec))
	}

	items, total, err := repos.Audit.List(ctx, string(guard.KindNurseNote), noteID, 20, 0)
	require.NoError(t, err)
	require.Equal(t, 2, total)
	assert.Equal(t, "delete", items[0].Action, "newest first")
	assert.True(t, items[0].OccurredAt.Equal(at.Add(time.Second)))
	assert.Equal(t, "rejected", items[0].Outcome)

	_, total, err = repos.Audit.List(ctx, "", "", 20, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	_, err = conn.ExecContext(ctx, `UPDATE record_audit_log SET outcome = 'ok'`)
	assert.ErrorIs(t, db.ClassifySQLite(err), db.ErrIntegrityViolation)
	_, err = conn.ExecContext(ctx, `DELETE FROM record_audit_log`)
	assert.ErrorIs(t, db.ClassifySQLite(err), db.ErrIntegrityViolation)
}

func TestSQLiteStore_IdentityColumnsAreWriteOnce(t *testing.T) {
	ctx := context.Background()
	conn, repos := openSQLiteRepos(t)
	created := stampedNow()

	tr := &Treatment{PatientID: "p-1", Medication: "Paracetamol", Dose: "1 g", Frequency: "c/8h",
		StartDate: "2026-03-10", AppliedBy: "Enf. Ana Pérez", LastApplication: "2026-03-10T08:00:00Z",
		Status: "Activo", CreatedAt: &created}
	require.NoError(t, repos.Treatments.Create(ctx, tr))

	_, err := conn.ExecContext(ctx, `UPDATE treatments SET applied_by = 'Otra' WHERE id = ?`, tr.ID)
	assert.ErrorIs(t, db.ClassifySQLite(err), db.ErrIntegrityViolation)

	tr.Dose = "500 mg"
	require.NoError(t, repos.Treatments.Update(ctx, tr), "content updates stay allowed")
}

func TestSQLiteShiftReportAndAnomalyRepos(t *testing.T) {
	ctx := context.Background()
	_, repos := openSQLiteRepos(t)
	created := stampedNow()

	for _, date := range []string{"2026-03-09", "2026-03-10", "2026-03-10"} {
		r := &ShiftReport{NurseName: "Enf. Ana Pérez", ShiftDate: date, ShiftType: "Matutino",
			ReportContent: "Sin novedades", CreatedAt: &created}
		require.NoError(t, repos.ShiftReports.Create(ctx, r))
	}
	_, total, err := repos.ShiftReports.List(ctx, "2026-03-10", 20, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	_, total, err = repos.ShiftReports.List(ctx, "", 20, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	kind := string(guard.KindVitalSign)
	require.NoError(t, repos.Anomalies.Create(ctx, &Anomaly{ErrorCode: db.IntegrityMarker, ErrorMessage: "refused",
		ErrorType: ErrorTypeIntegrity, Severity: SeverityHigh, RecordKind: &kind, Status: AnomalyStatusOpen, CreatedAt: &created}))
	items, total, err := repos.Anomalies.List(ctx, 20, 0)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, SeverityHigh, items[0].Severity)
	require.NotNil(t, items[0].RecordKind)
	assert.Equal(t, kind, *items[0].RecordKind)
}

func TestSQLiteStore_ServiceEndToEnd(t *testing.T) {
	conn, repos := openSQLiteRepos(t)
	clock := &fakeClock{now: stampedNow()}
	g := guard.New(editwindow.DefaultPolicy(), NewMetaLookup(repos), guard.WithClock(clock.Now))
	svc := NewService(repos, g, zerolog.Nop(), nil)
	ctx := nurseCtx()

	note := &NurseNote{PatientID: "p-1", Note: "Ingreso"}
	require.NoError(t, svc.CreateNote(ctx, note))
	v := validVitals("p-1")
	require.NoError(t, svc.CreateVitalSign(ctx, v))

	clock.advance(time.Hour)
	err := svc.Delete(ctx, guard.KindNurseNote, note.ID)
	rej, ok := guard.AsRejected(err)
	require.True(t, ok, "expected rejection, got %v", err)
	assert.Equal(t, guard.ReasonDeletionForbidden, rej.Reason)

	require.NoError(t, svc.Delete(ctx, guard.KindVitalSign, v.ID))
	first, err := repos.Vitals.GetByID(ctx, v.ID)
	require.NoError(t, err)

	clock.advance(time.Minute)
	require.NoError(t, svc.Delete(ctx, guard.KindVitalSign, v.ID), "deleting a voided record is a no-op")
	again, err := repos.Vitals.GetByID(ctx, v.ID)
	require.NoError(t, err)
	assert.True(t, again.VoidedAt.Equal(*first.VoidedAt))

	_, err = svc.UpdateVitalSign(ctx, v.ID, validVitals("p-1"))
	rej, ok = guard.AsRejected(err)
	require.True(t, ok, "expected rejection, got %v", err)
	assert.Equal(t, guard.ReasonEnteredInError, rej.Reason)

	clock.advance(24 * time.Hour)
	_, err = svc.UpdateNote(ctx, note.ID, &NurseNote{Note: "Tarde"})
	rej, ok = guard.AsRejected(err)
	require.True(t, ok, "expected rejection, got %v", err)
	assert.Equal(t, guard.ReasonEditWindowExpired, rej.Reason)

	// Row triggers only fire on tables that hold rows.
	for _, table := range []string{"nurse_notes", "vital_signs"} {
		_, err := conn.Exec(`DELETE FROM ` + table)
		assert.ErrorIs(t, db.ClassifySQLite(err), db.ErrIntegrityViolation, table)
	}
	var notes, vitals int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM nurse_notes`).Scan(&notes))
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM vital_signs`).Scan(&vitals))
	assert.Equal(t, 1, notes)
	assert.Equal(t, 1, vitals)
}
