package charting

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/chartlock/internal/platform/db"
)

// NewPGRepositories returns repositories backed by the Postgres store.
func NewPGRepositories(pool *pgxpool.Pool) Repositories {
	return Repositories{
		Notes:        NewNurseNoteRepoPG(pool),
		Vitals:       NewVitalSignRepoPG(pool),
		Treatments:   NewTreatmentRepoPG(pool),
		NonPharma:    NewNonPharmaTreatmentRepoPG(pool),
		ShiftReports: NewShiftReportRepoPG(pool),
		Anomalies:    NewAnomalyRepoPG(pool),
		Audit:        NewAuditRepoPG(pool),
	}
}

type pgBase struct{ pool *pgxpool.Pool }

func (b pgBase) exec(ctx context.Context, query string, args ...interface{}) error {
	tag, err := b.pool.Exec(ctx, query, args...)
	if err != nil {
		return db.ClassifyPG(err)
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (b pgBase) count(ctx context.Context, query string, args ...interface{}) (int, error) {
	var total int
	if err := b.pool.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, db.ClassifyPG(err)
	}
	return total, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// =========== NurseNote Repository ===========

type nurseNoteRepoPG struct{ pgBase }

func NewNurseNoteRepoPG(pool *pgxpool.Pool) NurseNoteRepository {
	return &nurseNoteRepoPG{pgBase{pool: pool}}
}

func scanNotePG(row pgx.Row) (*NurseNote, error) {
	var n NurseNote
	if err := row.Scan(&n.ID, &n.PatientID, &n.NoteDate, &n.Note, &n.NoteType, &n.NurseName,
		&n.Archived, &n.ArchivedAt, &n.ArchivedBy, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return nil, db.ClassifyPG(err)
	}
	n.ArchivedAt, n.CreatedAt, n.UpdatedAt = utcPtr(n.ArchivedAt), utcPtr(n.CreatedAt), utcPtr(n.UpdatedAt)
	return &n, nil
}

func (r *nurseNoteRepoPG) Create(ctx context.Context, n *NurseNote) error {
	n.ID = uuid.New()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO nurse_notes (id, patient_id, note_date, note, note_type, nurse_name, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,COALESCE($7, NOW()))`,
		n.ID, n.PatientID, n.NoteDate, n.Note, n.NoteType, n.NurseName, n.CreatedAt)
	return db.ClassifyPG(err)
}

func (r *nurseNoteRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*NurseNote, error) {
	return scanNotePG(r.pool.QueryRow(ctx, `SELECT `+noteCols+` FROM nurse_notes WHERE id = $1`, id))
}

func (r *nurseNoteRepoPG) Update(ctx context.Context, n *NurseNote) error {
	return r.exec(ctx, `
		UPDATE nurse_notes SET note_date=$2, note=$3, note_type=$4, updated_at=$5
		WHERE id = $1`,
		n.ID, n.NoteDate, n.Note, n.NoteType, n.UpdatedAt)
}

func (r *nurseNoteRepoPG) Archive(ctx context.Context, id uuid.UUID, by string, at time.Time) error {
	return r.exec(ctx, `
		UPDATE nurse_notes SET archived=TRUE, archived_at=$2, archived_by=$3, updated_at=$2
		WHERE id = $1`,
		id, at, by)
}

func (r *nurseNoteRepoPG) ListByPatient(ctx context.Context, patientID string, includeArchived bool, limit, offset int) ([]*NurseNote, int, error) {
	where := `WHERE patient_id = $1 AND ($2 OR archived = FALSE)`
	total, err := r.count(ctx, `SELECT COUNT(*) FROM nurse_notes `+where, patientID, includeArchived)
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+noteCols+` FROM nurse_notes `+where+`
		ORDER BY created_at DESC LIMIT $3 OFFSET $4`, patientID, includeArchived, limit, offset)
	if err != nil {
		return nil, 0, db.ClassifyPG(err)
	}
	defer rows.Close()
	var items []*NurseNote
	for rows.Next() {
		n, err := scanNotePG(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, n)
	}
	return items, total, db.ClassifyPG(rows.Err())
}

// =========== VitalSign Repository ===========

type vitalSignRepoPG struct{ pgBase }

func NewVitalSignRepoPG(pool *pgxpool.Pool) VitalSignRepository {
	return &vitalSignRepoPG{pgBase{pool: pool}}
}

func scanVitalPG(row pgx.Row) (*VitalSign, error) {
	var v VitalSign
	if err := row.Scan(&v.ID, &v.PatientID, &v.RecordedAt, &v.Temperature, &v.BloodPressure, &v.HeartRate,
		&v.RespiratoryRate, &v.OxygenSaturation, &v.RegisteredBy, &v.EnteredInError, &v.VoidedAt, &v.VoidedBy,
		&v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, db.ClassifyPG(err)
	}
	v.VoidedAt, v.CreatedAt, v.UpdatedAt = utcPtr(v.VoidedAt), utcPtr(v.CreatedAt), utcPtr(v.UpdatedAt)
	return &v, nil
}

func (r *vitalSignRepoPG) Create(ctx context.Context, v *VitalSign) error {
	v.ID = uuid.New()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO vital_signs (id, patient_id, recorded_at, temperature, blood_pressure, heart_rate,
			respiratory_rate, oxygen_saturation, registered_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,COALESCE($10, NOW()))`,
		v.ID, v.PatientID, v.RecordedAt, v.Temperature, v.BloodPressure, v.HeartRate,
		v.RespiratoryRate, v.OxygenSaturation, v.RegisteredBy, v.CreatedAt)
	return db.ClassifyPG(err)
}

func (r *vitalSignRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*VitalSign, error) {
	return scanVitalPG(r.pool.QueryRow(ctx, `SELECT `+vitalCols+` FROM vital_signs WHERE id = $1`, id))
}

func (r *vitalSignRepoPG) Update(ctx context.Context, v *VitalSign) error {
	return r.exec(ctx, `
		UPDATE vital_signs SET recorded_at=$2, temperature=$3, blood_pressure=$4, heart_rate=$5,
			respiratory_rate=$6, oxygen_saturation=$7, updated_at=$8
		WHERE id = $1`,
		v.ID, v.RecordedAt, v.Temperature, v.BloodPressure, v.HeartRate,
		v.RespiratoryRate, v.OxygenSaturation, v.UpdatedAt)
}

func (r *vitalSignRepoPG) Void(ctx context.Context, id uuid.UUID, by string, at time.Time) error {
	return r.exec(ctx, `
		UPDATE vital_signs SET entered_in_error=TRUE, voided_at=$2, voided_by=$3, updated_at=$2
		WHERE id = $1`,
		id, at, by)
}

func (r *vitalSignRepoPG) ListByPatient(ctx context.Context, patientID string, includeVoided bool, limit, offset int) ([]*VitalSign, int, error) {
	where := `WHERE patient_id = $1 AND ($2 OR entered_in_error = FALSE)`
	total, err := r.count(ctx, `SELECT COUNT(*) FROM vital_signs `+where, patientID, includeVoided)
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+vitalCols+` FROM vital_signs `+where+`
		ORDER BY recorded_at DESC, created_at DESC LIMIT $3 OFFSET $4`, patientID, includeVoided, limit, offset)
	if err != nil {
		return nil, 0, db.ClassifyPG(err)
	}
	defer rows.Close()
	var items []*VitalSign
	for rows.Next() {
		v, err := scanVitalPG(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, v)
	}
	return items, total, db.ClassifyPG(rows.Err())
}

// =========== Treatment Repository ===========

type treatmentRepoPG struct{ pgBase }

func NewTreatmentRepoPG(pool *pgxpool.Pool) TreatmentRepository {
	return &treatmentRepoPG{pgBase{pool: pool}}
}

func scanTreatmentPG(row pgx.Row) (*Treatment, error) {
	var t Treatment
	if err := row.Scan(&t.ID, &t.PatientID, &t.Medication, &t.Dose, &t.Frequency, &t.StartDate, &t.EndDate,
		&t.AppliedBy, &t.LastApplication, &t.ResponsibleDoctor, &t.Status, &t.Notes, &t.EnteredInError,
		&t.VoidedAt, &t.VoidedBy, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, db.ClassifyPG(err)
	}
	t.VoidedAt, t.CreatedAt, t.UpdatedAt = utcPtr(t.VoidedAt), utcPtr(t.CreatedAt), utcPtr(t.UpdatedAt)
	return &t, nil
}

func (r *treatmentRepoPG) Create(ctx context.Context, t *Treatment) error {
	t.ID = uuid.New()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO treatments (id, patient_id, medication, dose, frequency, start_date, end_date, applied_by,
			last_application, responsible_doctor, status, notes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,COALESCE($13, NOW()))`,
		t.ID, t.PatientID, t.Medication, t.Dose, t.Frequency, t.StartDate, t.EndDate, t.AppliedBy,
		t.LastApplication, t.ResponsibleDoctor, t.Status, t.Notes, t.CreatedAt)
	return db.ClassifyPG(err)
}

func (r *treatmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Treatment, error) {
	return scanTreatmentPG(r.pool.QueryRow(ctx, `SELECT `+treatmentCols+` FROM treatments WHERE id = $1`, id))
}

func (r *treatmentRepoPG) Update(ctx context.Context, t *Treatment) error {
	return r.exec(ctx, `
		UPDATE treatments SET medication=$2, dose=$3, frequency=$4, start_date=$5, end_date=$6,
			last_application=$7, responsible_doctor=$8, status=$9, notes=$10, updated_at=$11
		WHERE id = $1`,
		t.ID, t.Medication, t.Dose, t.Frequency, t.StartDate, t.EndDate,
		t.LastApplication, t.ResponsibleDoctor, t.Status, t.Notes, t.UpdatedAt)
}

func (r *treatmentRepoPG) Void(ctx context.Context, id uuid.UUID, by string, at time.Time) error {
	return r.exec(ctx, `
		UPDATE treatments SET entered_in_error=TRUE, voided_at=$2, voided_by=$3, updated_at=$2
		WHERE id = $1`,
		id, at, by)
}

func (r *treatmentRepoPG) ListByPatient(ctx context.Context, patientID string, includeVoided bool, limit, offset int) ([]*Treatment, int, error) {
	where := `WHERE patient_id = $1 AND ($2 OR entered_in_error = FALSE)`
	total, err := r.count(ctx, `SELECT COUNT(*) FROM treatments `+where, patientID, includeVoided)
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+treatmentCols+` FROM treatments `+where+`
		ORDER BY created_at DESC LIMIT $3 OFFSET $4`, patientID, includeVoided, limit, offset)
	if err != nil {
		return nil, 0, db.ClassifyPG(err)
	}
	defer rows.Close()
	var items []*Treatment
	for rows.Next() {
		t, err := scanTreatmentPG(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, db.ClassifyPG(rows.Err())
}

// =========== NonPharmaTreatment Repository ===========

type nonPharmaRepoPG struct{ pgBase }

func NewNonPharmaTreatmentRepoPG(pool *pgxpool.Pool) NonPharmaTreatmentRepository {
	return &nonPharmaRepoPG{pgBase{pool: pool}}
}

func scanNonPharmaPG(row pgx.Row) (*NonPharmaTreatment, error) {
	var t NonPharmaTreatment
	if err := row.Scan(&t.ID, &t.PatientID, &t.TreatmentType, &t.Description, &t.TimeStart, &t.TimeEnd,
		&t.Outcome, &t.PerformedBy, &t.EnteredInError, &t.VoidedAt, &t.VoidedBy, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, db.ClassifyPG(err)
	}
	t.VoidedAt, t.CreatedAt, t.UpdatedAt = utcPtr(t.VoidedAt), utcPtr(t.CreatedAt), utcPtr(t.UpdatedAt)
	return &t, nil
}

func (r *nonPharmaRepoPG) Create(ctx context.Context, t *NonPharmaTreatment) error {
	t.ID = uuid.New()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO non_pharmacological_treatments (id, patient_id, treatment_type, description, time_start,
			time_end, outcome, performed_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,COALESCE($9, NOW()))`,
		t.ID, t.PatientID, t.TreatmentType, t.Description, t.TimeStart,
		t.TimeEnd, t.Outcome, t.PerformedBy, t.CreatedAt)
	return db.ClassifyPG(err)
}

func (r *nonPharmaRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*NonPharmaTreatment, error) {
	return scanNonPharmaPG(r.pool.QueryRow(ctx,
		`SELECT `+nonPharmaCols+` FROM non_pharmacological_treatments WHERE id = $1`, id))
}

func (r *nonPharmaRepoPG) Update(ctx context.Context, t *NonPharmaTreatment) error {
	return r.exec(ctx, `
		UPDATE non_pharmacological_treatments SET treatment_type=$2, description=$3, time_start=$4,
			time_end=$5, outcome=$6, updated_at=$7
		WHERE id = $1`,
		t.ID, t.TreatmentType, t.Description, t.TimeStart, t.TimeEnd, t.Outcome, t.UpdatedAt)
}

func (r *nonPharmaRepoPG) Void(ctx context.Context, id uuid.UUID, by string, at time.Time) error {
	return r.exec(ctx, `
		UPDATE non_pharmacological_treatments SET entered_in_error=TRUE, voided_at=$2, voided_by=$3, updated_at=$2
		WHERE id = $1`,
		id, at, by)
}

func (r *nonPharmaRepoPG) ListByPatient(ctx context.Context, patientID string, includeVoided bool, limit, offset int) ([]*NonPharmaTreatment, int, error) {
	where := `WHERE patient_id = $1 AND ($2 OR entered_in_error = FALSE)`
	total, err := r.count(ctx, `SELECT COUNT(*) FROM non_pharmacological_treatments `+where, patientID, includeVoided)
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+nonPharmaCols+` FROM non_pharmacological_treatments `+where+`
		ORDER BY created_at DESC LIMIT $3 OFFSET $4`, patientID, includeVoided, limit, offset)
	if err != nil {
		return nil, 0, db.ClassifyPG(err)
	}
	defer rows.Close()
	var items []*NonPharmaTreatment
	for rows.Next() {
		t, err := scanNonPharmaPG(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, db.ClassifyPG(rows.Err())
}

// =========== ShiftReport Repository ===========

type shiftReportRepoPG struct{ pgBase }

func NewShiftReportRepoPG(pool *pgxpool.Pool) ShiftReportRepository {
	return &shiftReportRepoPG{pgBase{pool: pool}}
}

func scanShiftReportPG(row pgx.Row) (*ShiftReport, error) {
	var s ShiftReport
	if err := row.Scan(&s.ID, &s.NurseName, &s.ShiftDate, &s.ShiftType, &s.ReportContent, &s.PendingItems,
		&s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, db.ClassifyPG(err)
	}
	s.CreatedAt, s.UpdatedAt = utcPtr(s.CreatedAt), utcPtr(s.UpdatedAt)
	return &s, nil
}

func (r *shiftReportRepoPG) Create(ctx context.Context, s *ShiftReport) error {
	s.ID = uuid.New()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO nurse_shift_reports (id, nurse_name, shift_date, shift_type, report_content, pending_items, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,COALESCE($7, NOW()))`,
		s.ID, s.NurseName, s.ShiftDate, s.ShiftType, s.ReportContent, s.PendingItems, s.CreatedAt)
	return db.ClassifyPG(err)
}

func (r *shiftReportRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*ShiftReport, error) {
	return scanShiftReportPG(r.pool.QueryRow(ctx,
		`SELECT `+shiftReportCols+` FROM nurse_shift_reports WHERE id = $1`, id))
}

func (r *shiftReportRepoPG) Update(ctx context.Context, s *ShiftReport) error {
	return r.exec(ctx, `
		UPDATE nurse_shift_reports SET shift_date=$2, shift_type=$3, report_content=$4, pending_items=$5,
			updated_at=$6
		WHERE id = $1`,
		s.ID, s.ShiftDate, s.ShiftType, s.ReportContent, s.PendingItems, s.UpdatedAt)
}

func (r *shiftReportRepoPG) List(ctx context.Context, shiftDate string, limit, offset int) ([]*ShiftReport, int, error) {
	where := `WHERE ($1 = '' OR shift_date = $1)`
	total, err := r.count(ctx, `SELECT COUNT(*) FROM nurse_shift_reports `+where, shiftDate)
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+shiftReportCols+` FROM nurse_shift_reports `+where+`
		ORDER BY shift_date DESC, created_at DESC LIMIT $2 OFFSET $3`, shiftDate, limit, offset)
	if err != nil {
		return nil, 0, db.ClassifyPG(err)
	}
	defer rows.Close()
	var items []*ShiftReport
	for rows.Next() {
		s, err := scanShiftReportPG(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, db.ClassifyPG(rows.Err())
}

// =========== Anomaly Repository ===========

type anomalyRepoPG struct{ pgBase }

func NewAnomalyRepoPG(pool *pgxpool.Pool) AnomalyRepository {
	return &anomalyRepoPG{pgBase{pool: pool}}
}

func (r *anomalyRepoPG) Create(ctx context.Context, a *Anomaly) error {
	a.ID = uuid.New()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO system_errors (id, error_code, error_message, error_type, severity, module, record_kind,
			record_id, user_name, request_id, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,COALESCE($12, NOW()))`,
		a.ID, a.ErrorCode, a.ErrorMessage, a.ErrorType, a.Severity, a.Module, a.RecordKind,
		a.RecordID, a.UserName, a.RequestID, a.Status, a.CreatedAt)
	return db.ClassifyPG(err)
}

func (r *anomalyRepoPG) List(ctx context.Context, limit, offset int) ([]*Anomaly, int, error) {
	total, err := r.count(ctx, `SELECT COUNT(*) FROM system_errors`)
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+anomalyCols+` FROM system_errors
		ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, db.ClassifyPG(err)
	}
	defer rows.Close()
	var items []*Anomaly
	for rows.Next() {
		var a Anomaly
		if err := rows.Scan(&a.ID, &a.ErrorCode, &a.ErrorMessage, &a.ErrorType, &a.Severity, &a.Module,
			&a.RecordKind, &a.RecordID, &a.UserName, &a.RequestID, &a.Status, &a.CreatedAt); err != nil {
			return nil, 0, db.ClassifyPG(err)
		}
		a.CreatedAt = utcPtr(a.CreatedAt)
		items = append(items, &a)
	}
	return items, total, db.ClassifyPG(rows.Err())
}

// =========== Audit Log Repository ===========

type auditRepoPG struct{ pgBase }

func NewAuditRepoPG(pool *pgxpool.Pool) AuditRepository {
	return &auditRepoPG{pgBase{pool: pool}}
}

func (r *auditRepoPG) Create(ctx context.Context, a *AuditRecord) error {
	a.ID = uuid.New()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO record_audit_log (`+auditCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		a.ID, a.OccurredAt, a.RequestID, a.ActorID, a.ActorName, a.ActorRoles, a.RecordKind,
		a.RecordID, a.Action, a.Method, a.Path, a.IPAddress, a.StatusCode, a.Outcome)
	return db.ClassifyPG(err)
}

func (r *auditRepoPG) List(ctx context.Context, kind, recordID string, limit, offset int) ([]*AuditRecord, int, error) {
	const where = ` WHERE ($1::text = '' OR record_kind = $1) AND ($2::text = '' OR record_id = $2)`
	total, err := r.count(ctx, `SELECT COUNT(*) FROM record_audit_log`+where, kind, recordID)
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+auditCols+` FROM record_audit_log`+where+`
		ORDER BY occurred_at DESC LIMIT $3 OFFSET $4`, kind, recordID, limit, offset)
	if err != nil {
		return nil, 0, db.ClassifyPG(err)
	}
	defer rows.Close()
	var items []*AuditRecord
	for rows.Next() {
		var a AuditRecord
		if err := rows.Scan(&a.ID, &a.OccurredAt, &a.RequestID, &a.ActorID, &a.ActorName, &a.ActorRoles,
			&a.RecordKind, &a.RecordID, &a.Action, &a.Method, &a.Path, &a.IPAddress, &a.StatusCode,
			&a.Outcome); err != nil {
			return nil, 0, db.ClassifyPG(err)
		}
		a.OccurredAt = a.OccurredAt.UTC()
		items = append(items, &a)
	}
	return items, total, db.ClassifyPG(rows.Err())
}
