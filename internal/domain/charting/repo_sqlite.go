package charting

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/chartlock/internal/platform/db"
	"github.com/ehr/chartlock/internal/platform/editwindow"
)

// sqliteTimeLayout matches what CURRENT_TIMESTAMP writes.
const sqliteTimeLayout = "2006-01-02 15:04:05"

type scanner interface {
	Scan(dest ...interface{}) error
}

// NewSQLiteRepositories returns repositories backed by the local store.
func NewSQLiteRepositories(conn *sql.DB) Repositories {
	base := sqliteBase{db: conn}
	return Repositories{
		Notes:        &nurseNoteRepoSQLite{base},
		Vitals:       &vitalSignRepoSQLite{base},
		Treatments:   &treatmentRepoSQLite{base},
		NonPharma:    &nonPharmaRepoSQLite{base},
		ShiftReports: &shiftReportRepoSQLite{base},
		Anomalies:    &anomalyRepoSQLite{base},
		Audit:        &auditRepoSQLite{base},
	}
}

type sqliteBase struct{ db *sql.DB }

func sqliteTime(t *time.Time) interface{} {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().Format(sqliteTimeLayout)
}

type nullTime struct{ raw sql.NullString }

func (n *nullTime) Scan(src interface{}) error { return n.raw.Scan(src) }

func (n *nullTime) ptr() *time.Time {
	if !n.raw.Valid {
		return nil
	}
	return editwindow.ParseTimestamp(n.raw.String)
}

// exec runs a write and reports db.ErrNotFound when no row matched.
func (b sqliteBase) exec(ctx context.Context, query string, args ...interface{}) error {
	res, err := b.db.ExecContext(ctx, query, args...)
	if err != nil {
		return db.ClassifySQLite(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return db.ClassifySQLite(err)
	}
	if n == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (b sqliteBase) count(ctx context.Context, query string, args ...interface{}) (int, error) {
	var total int
	if err := b.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, db.ClassifySQLite(err)
	}
	return total, nil
}

// =========== NurseNote Repository ===========

type nurseNoteRepoSQLite struct{ sqliteBase }

const noteCols = `id, patient_id, note_date, note, note_type, nurse_name, archived, archived_at, archived_by, created_at, updated_at`

func scanNoteSQLite(row scanner) (*NurseNote, error) {
	var n NurseNote
	var archivedAt, createdAt, updatedAt nullTime
	if err := row.Scan(&n.ID, &n.PatientID, &n.NoteDate, &n.Note, &n.NoteType, &n.NurseName,
		&n.Archived, &archivedAt, &n.ArchivedBy, &createdAt, &updatedAt); err != nil {
		return nil, db.ClassifySQLite(err)
	}
	n.ArchivedAt, n.CreatedAt, n.UpdatedAt = archivedAt.ptr(), createdAt.ptr(), updatedAt.ptr()
	return &n, nil
}

func (r *nurseNoteRepoSQLite) Create(ctx context.Context, n *NurseNote) error {
	n.ID = uuid.New()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO nurse_notes (id, patient_id, note_date, note, note_type, nurse_name, created_at)
		VALUES (?,?,?,?,?,?,?)`,
		n.ID, n.PatientID, n.NoteDate, n.Note, n.NoteType, n.NurseName, sqliteTime(n.CreatedAt))
	return db.ClassifySQLite(err)
}

func (r *nurseNoteRepoSQLite) GetByID(ctx context.Context, id uuid.UUID) (*NurseNote, error) {
	return scanNoteSQLite(r.db.QueryRowContext(ctx, `SELECT `+noteCols+` FROM nurse_notes WHERE id = ?`, id))
}

func (r *nurseNoteRepoSQLite) Update(ctx context.Context, n *NurseNote) error {
	return r.exec(ctx, `
		UPDATE nurse_notes SET note_date = ?, note = ?, note_type = ?, updated_at = ?
		WHERE id = ?`,
		n.NoteDate, n.Note, n.NoteType, sqliteTime(n.UpdatedAt), n.ID)
}

func (r *nurseNoteRepoSQLite) Archive(ctx context.Context, id uuid.UUID, by string, at time.Time) error {
	return r.exec(ctx, `
		UPDATE nurse_notes SET archived = 1, archived_at = ?, archived_by = ?, updated_at = ?
		WHERE id = ?`,
		sqliteTime(&at), by, sqliteTime(&at), id)
}

func (r *nurseNoteRepoSQLite) ListByPatient(ctx context.Context, patientID string, includeArchived bool, limit, offset int) ([]*NurseNote, int, error) {
	where := `WHERE patient_id = ? AND (? OR archived = 0)`
	total, err := r.count(ctx, `SELECT COUNT(*) FROM nurse_notes `+where, patientID, includeArchived)
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+noteCols+` FROM nurse_notes `+where+`
		ORDER BY created_at DESC LIMIT ? OFFSET ?`, patientID, includeArchived, limit, offset)
	if err != nil {
		return nil, 0, db.ClassifySQLite(err)
	}
	defer rows.Close()
	var items []*NurseNote
	for rows.Next() {
		n, err := scanNoteSQLite(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, n)
	}
	return items, total, db.ClassifySQLite(rows.Err())
}

// =========== VitalSign Repository ===========

type vitalSignRepoSQLite struct{ sqliteBase }

const vitalCols = `id, patient_id, recorded_at, temperature, blood_pressure, heart_rate, respiratory_rate,
	oxygen_saturation, registered_by, entered_in_error, voided_at, voided_by, created_at, updated_at`

func scanVitalSQLite(row scanner) (*VitalSign, error) {
	var v VitalSign
	var voidedAt, createdAt, updatedAt nullTime
	if err := row.Scan(&v.ID, &v.PatientID, &v.RecordedAt, &v.Temperature, &v.BloodPressure, &v.HeartRate,
		&v.RespiratoryRate, &v.OxygenSaturation, &v.RegisteredBy, &v.EnteredInError, &voidedAt, &v.VoidedBy,
		&createdAt, &updatedAt); err != nil {
		return nil, db.ClassifySQLite(err)
	}
	v.VoidedAt, v.CreatedAt, v.UpdatedAt = voidedAt.ptr(), createdAt.ptr(), updatedAt.ptr()
	return &v, nil
}

func (r *vitalSignRepoSQLite) Create(ctx context.Context, v *VitalSign) error {
	v.ID = uuid.New()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO vital_signs (id, patient_id, recorded_at, temperature, blood_pressure, heart_rate,
			respiratory_rate, oxygen_saturation, registered_by, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		v.ID, v.PatientID, v.RecordedAt, v.Temperature, v.BloodPressure, v.HeartRate,
		v.RespiratoryRate, v.OxygenSaturation, v.RegisteredBy, sqliteTime(v.CreatedAt))
	return db.ClassifySQLite(err)
}

func (r *vitalSignRepoSQLite) GetByID(ctx context.Context, id uuid.UUID) (*VitalSign, error) {
	return scanVitalSQLite(r.db.QueryRowContext(ctx, `SELECT `+vitalCols+` FROM vital_signs WHERE id = ?`, id))
}

func (r *vitalSignRepoSQLite) Update(ctx context.Context, v *VitalSign) error {
	return r.exec(ctx, `
		UPDATE vital_signs SET recorded_at = ?, temperature = ?, blood_pressure = ?, heart_rate = ?,
			respiratory_rate = ?, oxygen_saturation = ?, updated_at = ?
		WHERE id = ?`,
		v.RecordedAt, v.Temperature, v.BloodPressure, v.HeartRate,
		v.RespiratoryRate, v.OxygenSaturation, sqliteTime(v.UpdatedAt), v.ID)
}

func (r *vitalSignRepoSQLite) Void(ctx context.Context, id uuid.UUID, by string, at time.Time) error {
	return r.exec(ctx, `
		UPDATE vital_signs SET entered_in_error = 1, voided_at = ?, voided_by = ?, updated_at = ?
		WHERE id = ?`,
		sqliteTime(&at), by, sqliteTime(&at), id)
}

func (r *vitalSignRepoSQLite) ListByPatient(ctx context.Context, patientID string, includeVoided bool, limit, offset int) ([]*VitalSign, int, error) {
	where := `WHERE patient_id = ? AND (? OR entered_in_error = 0)`
	total, err := r.count(ctx, `SELECT COUNT(*) FROM vital_signs `+where, patientID, includeVoided)
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+vitalCols+` FROM vital_signs `+where+`
		ORDER BY recorded_at DESC, created_at DESC LIMIT ? OFFSET ?`, patientID, includeVoided, limit, offset)
	if err != nil {
		return nil, 0, db.ClassifySQLite(err)
	}
	defer rows.Close()
	var items []*VitalSign
	for rows.Next() {
		v, err := scanVitalSQLite(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, v)
	}
	return items, total, db.ClassifySQLite(rows.Err())
}

// =========== Treatment Repository ===========

type treatmentRepoSQLite struct{ sqliteBase }

const treatmentCols = `id, patient_id, medication, dose, frequency, start_date, end_date, applied_by, last_application,
	responsible_doctor, status, notes, entered_in_error, voided_at, voided_by, created_at, updated_at`

func scanTreatmentSQLite(row scanner) (*Treatment, error) {
	var t Treatment
	var voidedAt, createdAt, updatedAt nullTime
	if err := row.Scan(&t.ID, &t.PatientID, &t.Medication, &t.Dose, &t.Frequency, &t.StartDate, &t.EndDate,
		&t.AppliedBy, &t.LastApplication, &t.ResponsibleDoctor, &t.Status, &t.Notes, &t.EnteredInError,
		&voidedAt, &t.VoidedBy, &createdAt, &updatedAt); err != nil {
		return nil, db.ClassifySQLite(err)
	}
	t.VoidedAt, t.CreatedAt, t.UpdatedAt = voidedAt.ptr(), createdAt.ptr(), updatedAt.ptr()
	return &t, nil
}

func (r *treatmentRepoSQLite) Create(ctx context.Context, t *Treatment) error {
	t.ID = uuid.New()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO treatments (id, patient_id, medication, dose, frequency, start_date, end_date, applied_by,
			last_application, responsible_doctor, status, notes, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.PatientID, t.Medication, t.Dose, t.Frequency, t.StartDate, t.EndDate, t.AppliedBy,
		t.LastApplication, t.ResponsibleDoctor, t.Status, t.Notes, sqliteTime(t.CreatedAt))
	return db.ClassifySQLite(err)
}

func (r *treatmentRepoSQLite) GetByID(ctx context.Context, id uuid.UUID) (*Treatment, error) {
	return scanTreatmentSQLite(r.db.QueryRowContext(ctx, `SELECT `+treatmentCols+` FROM treatments WHERE id = ?`, id))
}

func (r *treatmentRepoSQLite) Update(ctx context.Context, t *Treatment) error {
	return r.exec(ctx, `
		UPDATE treatments SET medication = ?, dose = ?, frequency = ?, start_date = ?, end_date = ?,
			last_application = ?, responsible_doctor = ?, status = ?, notes = ?, updated_at = ?
		WHERE id = ?`,
		t.Medication, t.Dose, t.Frequency, t.StartDate, t.EndDate,
		t.LastApplication, t.ResponsibleDoctor, t.Status, t.Notes, sqliteTime(t.UpdatedAt), t.ID)
}

func (r *treatmentRepoSQLite) Void(ctx context.Context, id uuid.UUID, by string, at time.Time) error {
	return r.exec(ctx, `
		UPDATE treatments SET entered_in_error = 1, voided_at = ?, voided_by = ?, updated_at = ?
		WHERE id = ?`,
		sqliteTime(&at), by, sqliteTime(&at), id)
}

func (r *treatmentRepoSQLite) ListByPatient(ctx context.Context, patientID string, includeVoided bool, limit, offset int) ([]*Treatment, int, error) {
	where := `WHERE patient_id = ? AND (? OR entered_in_error = 0)`
	total, err := r.count(ctx, `SELECT COUNT(*) FROM treatments `+where, patientID, includeVoided)
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+treatmentCols+` FROM treatments `+where+`
		ORDER BY created_at DESC LIMIT ? OFFSET ?`, patientID, includeVoided, limit, offset)
	if err != nil {
		return nil, 0, db.ClassifySQLite(err)
	}
	defer rows.Close()
	var items []*Treatment
	for rows.Next() {
		t, err := scanTreatmentSQLite(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, db.ClassifySQLite(rows.Err())
}

// =========== NonPharmaTreatment Repository ===========

type nonPharmaRepoSQLite struct{ sqliteBase }

const nonPharmaCols = `id, patient_id, treatment_type, description, time_start, time_end, outcome, performed_by,
	entered_in_error, voided_at, voided_by, created_at, updated_at`

func scanNonPharmaSQLite(row scanner) (*NonPharmaTreatment, error) {
	var t NonPharmaTreatment
	var voidedAt, createdAt, updatedAt nullTime
	if err := row.Scan(&t.ID, &t.PatientID, &t.TreatmentType, &t.Description, &t.TimeStart, &t.TimeEnd,
		&t.Outcome, &t.PerformedBy, &t.EnteredInError, &voidedAt, &t.VoidedBy, &createdAt, &updatedAt); err != nil {
		return nil, db.ClassifySQLite(err)
	}
	t.VoidedAt, t.CreatedAt, t.UpdatedAt = voidedAt.ptr(), createdAt.ptr(), updatedAt.ptr()
	return &t, nil
}

func (r *nonPharmaRepoSQLite) Create(ctx context.Context, t *NonPharmaTreatment) error {
	t.ID = uuid.New()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO non_pharmacological_treatments (id, patient_id, treatment_type, description, time_start,
			time_end, outcome, performed_by, created_at)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		t.ID, t.PatientID, t.TreatmentType, t.Description, t.TimeStart,
		t.TimeEnd, t.Outcome, t.PerformedBy, sqliteTime(t.CreatedAt))
	return db.ClassifySQLite(err)
}

func (r *nonPharmaRepoSQLite) GetByID(ctx context.Context, id uuid.UUID) (*NonPharmaTreatment, error) {
	return scanNonPharmaSQLite(r.db.QueryRowContext(ctx,
		`SELECT `+nonPharmaCols+` FROM non_pharmacological_treatments WHERE id = ?`, id))
}

func (r *nonPharmaRepoSQLite) Update(ctx context.Context, t *NonPharmaTreatment) error {
	return r.exec(ctx, `
		UPDATE non_pharmacological_treatments SET treatment_type = ?, description = ?, time_start = ?,
			time_end = ?, outcome = ?, updated_at = ?
		WHERE id = ?`,
		t.TreatmentType, t.Description, t.TimeStart, t.TimeEnd, t.Outcome, sqliteTime(t.UpdatedAt), t.ID)
}

func (r *nonPharmaRepoSQLite) Void(ctx context.Context, id uuid.UUID, by string, at time.Time) error {
	return r.exec(ctx, `
		UPDATE non_pharmacological_treatments SET entered_in_error = 1, voided_at = ?, voided_by = ?, updated_at = ?
		WHERE id = ?`,
		sqliteTime(&at), by, sqliteTime(&at), id)
}

func (r *nonPharmaRepoSQLite) ListByPatient(ctx context.Context, patientID string, includeVoided bool, limit, offset int) ([]*NonPharmaTreatment, int, error) {
	where := `WHERE patient_id = ? AND (? OR entered_in_error = 0)`
	total, err := r.count(ctx, `SELECT COUNT(*) FROM non_pharmacological_treatments `+where, patientID, includeVoided)
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+nonPharmaCols+` FROM non_pharmacological_treatments `+where+`
		ORDER BY created_at DESC LIMIT ? OFFSET ?`, patientID, includeVoided, limit, offset)
	if err != nil {
		return nil, 0, db.ClassifySQLite(err)
	}
	defer rows.Close()
	var items []*NonPharmaTreatment
	for rows.Next() {
		t, err := scanNonPharmaSQLite(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, db.ClassifySQLite(rows.Err())
}

// =========== ShiftReport Repository ===========

type shiftReportRepoSQLite struct{ sqliteBase }

const shiftReportCols = `id, nurse_name, shift_date, shift_type, report_content, pending_items, created_at, updated_at`

func scanShiftReportSQLite(row scanner) (*ShiftReport, error) {
	var s ShiftReport
	var createdAt, updatedAt nullTime
	if err := row.Scan(&s.ID, &s.NurseName, &s.ShiftDate, &s.ShiftType, &s.ReportContent, &s.PendingItems,
		&createdAt, &updatedAt); err != nil {
		return nil, db.ClassifySQLite(err)
	}
	s.CreatedAt, s.UpdatedAt = createdAt.ptr(), updatedAt.ptr()
	return &s, nil
}

func (r *shiftReportRepoSQLite) Create(ctx context.Context, s *ShiftReport) error {
	s.ID = uuid.New()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO nurse_shift_reports (id, nurse_name, shift_date, shift_type, report_content, pending_items, created_at)
		VALUES (?,?,?,?,?,?,?)`,
		s.ID, s.NurseName, s.ShiftDate, s.ShiftType, s.ReportContent, s.PendingItems, sqliteTime(s.CreatedAt))
	return db.ClassifySQLite(err)
}

func (r *shiftReportRepoSQLite) GetByID(ctx context.Context, id uuid.UUID) (*ShiftReport, error) {
	return scanShiftReportSQLite(r.db.QueryRowContext(ctx,
		`SELECT `+shiftReportCols+` FROM nurse_shift_reports WHERE id = ?`, id))
}

func (r *shiftReportRepoSQLite) Update(ctx context.Context, s *ShiftReport) error {
	return r.exec(ctx, `
		UPDATE nurse_shift_reports SET shift_date = ?, shift_type = ?, report_content = ?, pending_items = ?,
			updated_at = ?
		WHERE id = ?`,
		s.ShiftDate, s.ShiftType, s.ReportContent, s.PendingItems, sqliteTime(s.UpdatedAt), s.ID)
}

func (r *shiftReportRepoSQLite) List(ctx context.Context, shiftDate string, limit, offset int) ([]*ShiftReport, int, error) {
	where := `WHERE (? = '' OR shift_date = ?)`
	total, err := r.count(ctx, `SELECT COUNT(*) FROM nurse_shift_reports `+where, shiftDate, shiftDate)
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+shiftReportCols+` FROM nurse_shift_reports `+where+`
		ORDER BY shift_date DESC, created_at DESC LIMIT ? OFFSET ?`, shiftDate, shiftDate, limit, offset)
	if err != nil {
		return nil, 0, db.ClassifySQLite(err)
	}
	defer rows.Close()
	var items []*ShiftReport
	for rows.Next() {
		s, err := scanShiftReportSQLite(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, db.ClassifySQLite(rows.Err())
}

// =========== Anomaly Repository ===========

type anomalyRepoSQLite struct{ sqliteBase }

const anomalyCols = `id, error_code, error_message, error_type, severity, module, record_kind, record_id,
	user_name, request_id, status, created_at`

func (r *anomalyRepoSQLite) Create(ctx context.Context, a *Anomaly) error {
	a.ID = uuid.New()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO system_errors (id, error_code, error_message, error_type, severity, module, record_kind,
			record_id, user_name, request_id, status, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.ErrorCode, a.ErrorMessage, a.ErrorType, a.Severity, a.Module, a.RecordKind,
		a.RecordID, a.UserName, a.RequestID, a.Status, sqliteTime(a.CreatedAt))
	return db.ClassifySQLite(err)
}

func (r *anomalyRepoSQLite) List(ctx context.Context, limit, offset int) ([]*Anomaly, int, error) {
	total, err := r.count(ctx, `SELECT COUNT(*) FROM system_errors`)
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+anomalyCols+` FROM system_errors
		ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, db.ClassifySQLite(err)
	}
	defer rows.Close()
	var items []*Anomaly
	for rows.Next() {
		var a Anomaly
		var createdAt nullTime
		if err := rows.Scan(&a.ID, &a.ErrorCode, &a.ErrorMessage, &a.ErrorType, &a.Severity, &a.Module,
			&a.RecordKind, &a.RecordID, &a.UserName, &a.RequestID, &a.Status, &createdAt); err != nil {
			return nil, 0, db.ClassifySQLite(err)
		}
		a.CreatedAt = createdAt.ptr()
		items = append(items, &a)
	}
	return items, total, db.ClassifySQLite(rows.Err())
}

// =========== Audit Log Repository ===========

type auditRepoSQLite struct{ sqliteBase }

const auditCols = `id, occurred_at, request_id, actor_id, actor_name, actor_roles, record_kind, record_id,
	action, method, path, ip_address, status_code, outcome`

func (r *auditRepoSQLite) Create(ctx context.Context, a *AuditRecord) error {
	a.ID = uuid.New()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO record_audit_log (`+auditCols+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, sqliteTime(&a.OccurredAt), a.RequestID, a.ActorID, a.ActorName, a.ActorRoles, a.RecordKind,
		a.RecordID, a.Action, a.Method, a.Path, a.IPAddress, a.StatusCode, a.Outcome)
	return db.ClassifySQLite(err)
}

func (r *auditRepoSQLite) List(ctx context.Context, kind, recordID string, limit, offset int) ([]*AuditRecord, int, error) {
	const where = ` WHERE (? = '' OR record_kind = ?) AND (? = '' OR record_id = ?)`
	total, err := r.count(ctx, `SELECT COUNT(*) FROM record_audit_log`+where, kind, kind, recordID, recordID)
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+auditCols+` FROM record_audit_log`+where+`
		ORDER BY occurred_at DESC LIMIT ? OFFSET ?`, kind, kind, recordID, recordID, limit, offset)
	if err != nil {
		return nil, 0, db.ClassifySQLite(err)
	}
	defer rows.Close()
	var items []*AuditRecord
	for rows.Next() {
		var a AuditRecord
		var occurredAt nullTime
		if err := rows.Scan(&a.ID, &occurredAt, &a.RequestID, &a.ActorID, &a.ActorName, &a.ActorRoles,
			&a.RecordKind, &a.RecordID, &a.Action, &a.Method, &a.Path, &a.IPAddress, &a.StatusCode,
			&a.Outcome); err != nil {
			return nil, 0, db.ClassifySQLite(err)
		}
		if t := occurredAt.ptr(); t != nil {
			a.OccurredAt = *t
		}
		items = append(items, &a)
	}
	return items, total, db.ClassifySQLite(rows.Err())
}
