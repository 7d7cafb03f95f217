package charting

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repositories never remove rows. Update writes content fields only; the
// identity columns (id, created_at, author, patient) are never part of an
// UPDATE. Every method returns db.ErrNotFound for an unknown id and
// db.ErrIntegrityViolation when a compliance trigger refuses the statement.

type NurseNoteRepository interface {
	Create(ctx context.Context, n *NurseNote) error
	GetByID(ctx context.Context, id uuid.UUID) (*NurseNote, error)
	Update(ctx context.Context, n *NurseNote) error
	Archive(ctx context.Context, id uuid.UUID, by string, at time.Time) error
	ListByPatient(ctx context.Context, patientID string, includeArchived bool, limit, offset int) ([]*NurseNote, int, error)
}

type VitalSignRepository interface {
	Create(ctx context.Context, v *VitalSign) error
	GetByID(ctx context.Context, id uuid.UUID) (*VitalSign, error)
	Update(ctx context.Context, v *VitalSign) error
	Void(ctx context.Context, id uuid.UUID, by string, at time.Time) error
	ListByPatient(ctx context.Context, patientID string, includeVoided bool, limit, offset int) ([]*VitalSign, int, error)
}

type TreatmentRepository interface {
	Create(ctx context.Context, t *Treatment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Treatment, error)
	Update(ctx context.Context, t *Treatment) error
	Void(ctx context.Context, id uuid.UUID, by string, at time.Time) error
	ListByPatient(ctx context.Context, patientID string, includeVoided bool, limit, offset int) ([]*Treatment, int, error)
}

type NonPharmaTreatmentRepository interface {
	Create(ctx context.Context, t *NonPharmaTreatment) error
	GetByID(ctx context.Context, id uuid.UUID) (*NonPharmaTreatment, error)
	Update(ctx context.Context, t *NonPharmaTreatment) error
	Void(ctx context.Context, id uuid.UUID, by string, at time.Time) error
	ListByPatient(ctx context.Context, patientID string, includeVoided bool, limit, offset int) ([]*NonPharmaTreatment, int, error)
}

type ShiftReportRepository interface {
	Create(ctx context.Context, r *ShiftReport) error
	GetByID(ctx context.Context, id uuid.UUID) (*ShiftReport, error)
	Update(ctx context.Context, r *ShiftReport) error
	List(ctx context.Context, shiftDate string, limit, offset int) ([]*ShiftReport, int, error)
}

type AnomalyRepository interface {
	Create(ctx context.Context, a *Anomaly) error
	List(ctx context.Context, limit, offset int) ([]*Anomaly, int, error)
}

// AuditRepository is append-only. Empty kind or recordID filters match
// every row.
type AuditRepository interface {
	Create(ctx context.Context, r *AuditRecord) error
	List(ctx context.Context, kind, recordID string, limit, offset int) ([]*AuditRecord, int, error)
}

// Repositories bundles one store's repositories.
type Repositories struct {
	Notes        NurseNoteRepository
	Vitals       VitalSignRepository
	Treatments   TreatmentRepository
	NonPharma    NonPharmaTreatmentRepository
	ShiftReports ShiftReportRepository
	Anomalies    AnomalyRepository
	Audit        AuditRepository
}
