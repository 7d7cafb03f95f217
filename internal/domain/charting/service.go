package charting

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/chartlock/internal/platform/auth"
	"github.com/ehr/chartlock/internal/platform/db"
	"github.com/ehr/chartlock/internal/platform/editwindow"
	"github.com/ehr/chartlock/internal/platform/guard"
	"github.com/ehr/chartlock/internal/platform/middleware"
)

// auditWriteTimeout bounds an audit insert made after the response is sent.
const auditWriteTimeout = 5 * time.Second

// ErrNoActor is returned when a write arrives without an authenticated
// caller. Every record needs a named author.
var ErrNoActor = errors.New("no authenticated actor")

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// IntegrityCounter counts statements refused by the store's compliance
// triggers.
type IntegrityCounter interface {
	IntegrityViolation(kind guard.Kind)
}

type requestIDKey struct{}

// WithRequestID attaches the request id recorded on anomalies.
func WithRequestID(ctx context.Context, rid string) context.Context {
	if rid == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, rid)
}

func requestIDFrom(ctx context.Context) string {
	rid, _ := ctx.Value(requestIDKey{}).(string)
	return rid
}

type Service struct {
	repos      Repositories
	guard      *guard.Guard
	lookup     guard.MetaLookup
	logger     zerolog.Logger
	violations IntegrityCounter
}

// NewService wires the regulated record repositories behind the mutation
// guard. violations may be nil.
func NewService(repos Repositories, g *guard.Guard, logger zerolog.Logger, violations IntegrityCounter) *Service {
	return &Service{
		repos:      repos,
		guard:      g,
		lookup:     NewMetaLookup(repos),
		logger:     logger.With().Str("component", "charting").Logger(),
		violations: violations,
	}
}

// Guard returns the mutation guard the service consults.
func (s *Service) Guard() *guard.Guard { return s.guard }

func (s *Service) actor(ctx context.Context) (auth.Actor, error) {
	a, ok := auth.ActorFromContext(ctx)
	if !ok || strings.TrimSpace(a.Name) == "" {
		return auth.Actor{}, ErrNoActor
	}
	return a, nil
}

// stamp returns the guard's clock at the resolution both stores keep.
func (s *Service) stamp() time.Time {
	return s.guard.Now().UTC().Truncate(time.Second)
}

// authorize turns a refusal into a *guard.RejectedError and leaves storage
// failures as they are.
func (s *Service) authorize(ctx context.Context, kind guard.Kind, id uuid.UUID, op guard.Operation) error {
	d, err := s.guard.Authorize(ctx, kind, id, op)
	if err != nil {
		return err
	}
	return d.Err()
}

// checkStore records an integrity violation before handing err back.
func (s *Service) checkStore(ctx context.Context, kind guard.Kind, id uuid.UUID, err error) error {
	if err == nil || !errors.Is(err, db.ErrIntegrityViolation) {
		return err
	}

	actor, _ := auth.ActorFromContext(ctx)
	rid := requestIDFrom(ctx)
	s.logger.Error().Err(err).
		Str("severity", SeverityHigh).
		Str("kind", string(kind)).
		Str("record_id", id.String()).
		Str("actor", actor.Name).
		Str("request_id", rid).
		Msg("store refused a statement on a regulated record")
	if s.violations != nil {
		s.violations.IntegrityViolation(kind)
	}

	module, recordKind, recordID := "charting", string(kind), id.String()
	a := &Anomaly{
		ErrorCode:    db.IntegrityMarker,
		ErrorMessage: err.Error(),
		ErrorType:    ErrorTypeIntegrity,
		Severity:     SeverityHigh,
		Module:       &module,
		RecordKind:   &recordKind,
		RecordID:     &recordID,
		Status:       AnomalyStatusOpen,
	}
	if actor.Name != "" {
		a.UserName = &actor.Name
	}
	if rid != "" {
		a.RequestID = &rid
	}
	if rerr := s.RecordAnomaly(ctx, a); rerr != nil {
		s.logger.Warn().Err(rerr).Msg("failed to record integrity anomaly")
	}
	return err
}

// -- Nurse Notes --

func (s *Service) CreateNote(ctx context.Context, n *NurseNote) error {
	actor, err := s.actor(ctx)
	if err != nil {
		return err
	}
	if strings.TrimSpace(n.PatientID) == "" {
		return &ValidationError{Field: "patient_id", Message: "es obligatorio"}
	}
	if strings.TrimSpace(n.Note) == "" {
		return &ValidationError{Field: "note", Message: "la nota no puede estar vacía"}
	}
	now := s.stamp()
	if n.NoteDate == "" {
		n.NoteDate = now.Format("2006-01-02")
	}
	if n.NoteType == "" {
		n.NoteType = "Evolución"
	}
	n.NurseName = actor.Name
	n.CreatedAt = &now
	n.UpdatedAt = nil
	n.Archived, n.ArchivedAt, n.ArchivedBy = false, nil, nil
	if err := s.repos.Notes.Create(ctx, n); err != nil {
		return s.checkStore(ctx, guard.KindNurseNote, n.ID, err)
	}
	n.EditStatus = s.statusOf(n.CreatedAt)
	return nil
}

func (s *Service) GetNote(ctx context.Context, id uuid.UUID) (*NurseNote, error) {
	n, err := s.repos.Notes.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	n.EditStatus = s.statusOf(n.CreatedAt)
	return n, nil
}

func (s *Service) ListNotes(ctx context.Context, patientID string, includeArchived bool, limit, offset int) ([]*NurseNote, int, error) {
	if strings.TrimSpace(patientID) == "" {
		return nil, 0, &ValidationError{Field: "patient_id", Message: "es obligatorio"}
	}
	items, total, err := s.repos.Notes.ListByPatient(ctx, patientID, includeArchived, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	for _, n := range items {
		n.EditStatus = s.statusOf(n.CreatedAt)
	}
	return items, total, nil
}

// UpdateNote replaces the content of a note while its edit window is open.
func (s *Service) UpdateNote(ctx context.Context, id uuid.UUID, in *NurseNote) (*NurseNote, error) {
	if _, err := s.actor(ctx); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Note) == "" {
		return nil, &ValidationError{Field: "note", Message: "la nota no puede estar vacía"}
	}
	if err := s.authorize(ctx, guard.KindNurseNote, id, guard.OpEdit); err != nil {
		return nil, err
	}
	n, err := s.repos.Notes.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	n.Note = in.Note
	if in.NoteDate != "" {
		n.NoteDate = in.NoteDate
	}
	if in.NoteType != "" {
		n.NoteType = in.NoteType
	}
	now := s.stamp()
	n.UpdatedAt = &now
	if err := s.repos.Notes.Update(ctx, n); err != nil {
		return nil, s.checkStore(ctx, guard.KindNurseNote, id, err)
	}
	n.EditStatus = s.statusOf(n.CreatedAt)
	return n, nil
}

// ArchiveNote withdraws a note from the active chart. The note stays in the
// store. Archiving is a mutation and is only allowed inside the edit window;
// archiving an already archived note is a no-op.
func (s *Service) ArchiveNote(ctx context.Context, id uuid.UUID) (*NurseNote, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	n, err := s.repos.Notes.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !n.Archived {
		if err := s.authorize(ctx, guard.KindNurseNote, id, guard.OpArchive); err != nil {
			return nil, err
		}
		now := s.stamp()
		if err := s.repos.Notes.Archive(ctx, id, actor.Name, now); err != nil {
			return nil, s.checkStore(ctx, guard.KindNurseNote, id, err)
		}
		n.Archived, n.ArchivedAt, n.ArchivedBy, n.UpdatedAt = true, &now, &actor.Name, &now
		s.logger.Info().Str("record_id", id.String()).Str("actor", actor.Name).Msg("nurse note archived")
	}
	n.EditStatus = s.statusOf(n.CreatedAt)
	return n, nil
}

// -- Vital Signs --

func (s *Service) CreateVitalSign(ctx context.Context, v *VitalSign) error {
	actor, err := s.actor(ctx)
	if err != nil {
		return err
	}
	if strings.TrimSpace(v.PatientID) == "" {
		return &ValidationError{Field: "patient_id", Message: "es obligatorio"}
	}
	if err := ValidateVitalRanges(v); err != nil {
		return err
	}
	now := s.stamp()
	if v.RecordedAt == "" {
		v.RecordedAt = now.Format(time.RFC3339)
	}
	v.RegisteredBy = actor.Name
	v.CreatedAt = &now
	v.UpdatedAt = nil
	v.EnteredInError, v.VoidedAt, v.VoidedBy = false, nil, nil
	if err := s.repos.Vitals.Create(ctx, v); err != nil {
		return s.checkStore(ctx, guard.KindVitalSign, v.ID, err)
	}
	v.EditStatus = s.statusOf(v.CreatedAt)
	return nil
}

func (s *Service) GetVitalSign(ctx context.Context, id uuid.UUID) (*VitalSign, error) {
	v, err := s.repos.Vitals.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	v.EditStatus = s.statusOf(v.CreatedAt)
	return v, nil
}

func (s *Service) ListVitalSigns(ctx context.Context, patientID string, includeVoided bool, limit, offset int) ([]*VitalSign, int, error) {
	if strings.TrimSpace(patientID) == "" {
		return nil, 0, &ValidationError{Field: "patient_id", Message: "es obligatorio"}
	}
	items, total, err := s.repos.Vitals.ListByPatient(ctx, patientID, includeVoided, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	for _, v := range items {
		v.EditStatus = s.statusOf(v.CreatedAt)
	}
	return items, total, nil
}

func (s *Service) UpdateVitalSign(ctx context.Context, id uuid.UUID, in *VitalSign) (*VitalSign, error) {
	if _, err := s.actor(ctx); err != nil {
		return nil, err
	}
	if err := ValidateVitalRanges(in); err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, guard.KindVitalSign, id, guard.OpEdit); err != nil {
		return nil, err
	}
	v, err := s.repos.Vitals.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.RecordedAt != "" {
		v.RecordedAt = in.RecordedAt
	}
	v.Temperature = in.Temperature
	v.BloodPressure = in.BloodPressure
	v.HeartRate = in.HeartRate
	v.RespiratoryRate = in.RespiratoryRate
	v.OxygenSaturation = in.OxygenSaturation
	now := s.stamp()
	v.UpdatedAt = &now
	if err := s.repos.Vitals.Update(ctx, v); err != nil {
		return nil, s.checkStore(ctx, guard.KindVitalSign, id, err)
	}
	v.EditStatus = s.statusOf(v.CreatedAt)
	return v, nil
}

// ValidateVitalRanges refuses physiologically impossible readings.
func ValidateVitalRanges(v *VitalSign) error {
	var problems []string
	if v.Temperature < 35 || v.Temperature > 42 {
		problems = append(problems, fmt.Sprintf("Temperatura %.1f°C está FUERA DE RANGO (35-42°C)", v.Temperature))
	}
	if v.HeartRate < 40 || v.HeartRate > 200 {
		problems = append(problems, fmt.Sprintf("FC %d lpm está FUERA DE RANGO (40-200)", v.HeartRate))
	}
	if v.RespiratoryRate < 8 || v.RespiratoryRate > 60 {
		problems = append(problems, fmt.Sprintf("FR %d rpm está FUERA DE RANGO (8-60)", v.RespiratoryRate))
	}
	if sys, dia, ok := parseBloodPressure(v.BloodPressure); !ok {
		problems = append(problems, fmt.Sprintf("PA %q no tiene el formato sistólica/diastólica", v.BloodPressure))
	} else if sys < 40 || sys > 250 || dia < 20 || dia > 150 {
		problems = append(problems, fmt.Sprintf("PA %s mmHg está FUERA DE RANGO", v.BloodPressure))
	}
	if v.OxygenSaturation != nil && (*v.OxygenSaturation < 0 || *v.OxygenSaturation > 100) {
		problems = append(problems, fmt.Sprintf("SpO2 %d%% está FUERA DE RANGO (0-100)", *v.OxygenSaturation))
	}
	if len(problems) > 0 {
		return &ValidationError{Field: "vital_signs", Message: strings.Join(problems, "; ")}
	}
	return nil
}

func parseBloodPressure(raw string) (int, int, bool) {
	a, b, ok := strings.Cut(strings.TrimSpace(raw), "/")
	if !ok {
		return 0, 0, false
	}
	sys, err := strconv.Atoi(strings.TrimSpace(a))
	if err != nil {
		return 0, 0, false
	}
	dia, err := strconv.Atoi(strings.TrimSpace(b))
	if err != nil {
		return 0, 0, false
	}
	return sys, dia, true
}

// -- Treatments --

func (s *Service) CreateTreatment(ctx context.Context, t *Treatment) error {
	actor, err := s.actor(ctx)
	if err != nil {
		return err
	}
	if strings.TrimSpace(t.PatientID) == "" {
		return &ValidationError{Field: "patient_id", Message: "es obligatorio"}
	}
	if strings.TrimSpace(t.Medication) == "" {
		return &ValidationError{Field: "medication", Message: "es obligatorio"}
	}
	now := s.stamp()
	if t.StartDate == "" {
		t.StartDate = now.Format("2006-01-02")
	}
	if t.LastApplication == "" {
		t.LastApplication = now.Format(time.RFC3339)
	}
	if t.Status == "" {
		t.Status = "Activo"
	}
	t.AppliedBy = actor.Name
	t.CreatedAt = &now
	t.UpdatedAt = nil
	t.EnteredInError, t.VoidedAt, t.VoidedBy = false, nil, nil
	if err := s.repos.Treatments.Create(ctx, t); err != nil {
		return s.checkStore(ctx, guard.KindTreatment, t.ID, err)
	}
	t.EditStatus = s.statusOf(t.CreatedAt)
	return nil
}

func (s *Service) GetTreatment(ctx context.Context, id uuid.UUID) (*Treatment, error) {
	t, err := s.repos.Treatments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	t.EditStatus = s.statusOf(t.CreatedAt)
	return t, nil
}

func (s *Service) ListTreatments(ctx context.Context, patientID string, includeVoided bool, limit, offset int) ([]*Treatment, int, error) {
	if strings.TrimSpace(patientID) == "" {
		return nil, 0, &ValidationError{Field: "patient_id", Message: "es obligatorio"}
	}
	items, total, err := s.repos.Treatments.ListByPatient(ctx, patientID, includeVoided, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	for _, t := range items {
		t.EditStatus = s.statusOf(t.CreatedAt)
	}
	return items, total, nil
}

func (s *Service) UpdateTreatment(ctx context.Context, id uuid.UUID, in *Treatment) (*Treatment, error) {
	if _, err := s.actor(ctx); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Medication) == "" {
		return nil, &ValidationError{Field: "medication", Message: "es obligatorio"}
	}
	if err := s.authorize(ctx, guard.KindTreatment, id, guard.OpEdit); err != nil {
		return nil, err
	}
	t, err := s.repos.Treatments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	t.Medication, t.Dose, t.Frequency = in.Medication, in.Dose, in.Frequency
	if in.StartDate != "" {
		t.StartDate = in.StartDate
	}
	if in.LastApplication != "" {
		t.LastApplication = in.LastApplication
	}
	if in.Status != "" {
		t.Status = in.Status
	}
	t.EndDate, t.ResponsibleDoctor, t.Notes = in.EndDate, in.ResponsibleDoctor, in.Notes
	now := s.stamp()
	t.UpdatedAt = &now
	if err := s.repos.Treatments.Update(ctx, t); err != nil {
		return nil, s.checkStore(ctx, guard.KindTreatment, id, err)
	}
	t.EditStatus = s.statusOf(t.CreatedAt)
	return t, nil
}

// -- Non-pharmacological Treatments --

func (s *Service) CreateNonPharma(ctx context.Context, t *NonPharmaTreatment) error {
	actor, err := s.actor(ctx)
	if err != nil {
		return err
	}
	if strings.TrimSpace(t.PatientID) == "" {
		return &ValidationError{Field: "patient_id", Message: "es obligatorio"}
	}
	if strings.TrimSpace(t.TreatmentType) == "" {
		return &ValidationError{Field: "treatment_type", Message: "es obligatorio"}
	}
	now := s.stamp()
	if t.TimeStart == "" {
		t.TimeStart = now.Format(time.RFC3339)
	}
	t.PerformedBy = actor.Name
	t.CreatedAt = &now
	t.UpdatedAt = nil
	t.EnteredInError, t.VoidedAt, t.VoidedBy = false, nil, nil
	if err := s.repos.NonPharma.Create(ctx, t); err != nil {
		return s.checkStore(ctx, guard.KindNonPharmaTreatment, t.ID, err)
	}
	t.EditStatus = s.statusOf(t.CreatedAt)
	return nil
}

func (s *Service) GetNonPharma(ctx context.Context, id uuid.UUID) (*NonPharmaTreatment, error) {
	t, err := s.repos.NonPharma.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	t.EditStatus = s.statusOf(t.CreatedAt)
	return t, nil
}

func (s *Service) ListNonPharma(ctx context.Context, patientID string, includeVoided bool, limit, offset int) ([]*NonPharmaTreatment, int, error) {
	if strings.TrimSpace(patientID) == "" {
		return nil, 0, &ValidationError{Field: "patient_id", Message: "es obligatorio"}
	}
	items, total, err := s.repos.NonPharma.ListByPatient(ctx, patientID, includeVoided, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	for _, t := range items {
		t.EditStatus = s.statusOf(t.CreatedAt)
	}
	return items, total, nil
}

func (s *Service) UpdateNonPharma(ctx context.Context, id uuid.UUID, in *NonPharmaTreatment) (*NonPharmaTreatment, error) {
	if _, err := s.actor(ctx); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.TreatmentType) == "" {
		return nil, &ValidationError{Field: "treatment_type", Message: "es obligatorio"}
	}
	if err := s.authorize(ctx, guard.KindNonPharmaTreatment, id, guard.OpEdit); err != nil {
		return nil, err
	}
	t, err := s.repos.NonPharma.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	t.TreatmentType, t.Description = in.TreatmentType, in.Description
	if in.TimeStart != "" {
		t.TimeStart = in.TimeStart
	}
	t.TimeEnd, t.Outcome = in.TimeEnd, in.Outcome
	now := s.stamp()
	t.UpdatedAt = &now
	if err := s.repos.NonPharma.Update(ctx, t); err != nil {
		return nil, s.checkStore(ctx, guard.KindNonPharmaTreatment, id, err)
	}
	t.EditStatus = s.statusOf(t.CreatedAt)
	return t, nil
}

// -- Shift Reports --

func (s *Service) CreateShiftReport(ctx context.Context, r *ShiftReport) error {
	actor, err := s.actor(ctx)
	if err != nil {
		return err
	}
	if strings.TrimSpace(r.ReportContent) == "" {
		return &ValidationError{Field: "report_content", Message: "el reporte no puede estar vacío"}
	}
	if strings.TrimSpace(r.ShiftType) == "" {
		return &ValidationError{Field: "shift_type", Message: "es obligatorio"}
	}
	now := s.stamp()
	if r.ShiftDate == "" {
		r.ShiftDate = now.Format("2006-01-02")
	}
	r.NurseName = actor.Name
	r.CreatedAt = &now
	r.UpdatedAt = nil
	if err := s.repos.ShiftReports.Create(ctx, r); err != nil {
		return s.checkStore(ctx, guard.KindShiftReport, r.ID, err)
	}
	r.EditStatus = s.statusOf(r.CreatedAt)
	return nil
}

func (s *Service) GetShiftReport(ctx context.Context, id uuid.UUID) (*ShiftReport, error) {
	r, err := s.repos.ShiftReports.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	r.EditStatus = s.statusOf(r.CreatedAt)
	return r, nil
}

func (s *Service) ListShiftReports(ctx context.Context, shiftDate string, limit, offset int) ([]*ShiftReport, int, error) {
	items, total, err := s.repos.ShiftReports.List(ctx, shiftDate, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	for _, r := range items {
		r.EditStatus = s.statusOf(r.CreatedAt)
	}
	return items, total, nil
}

func (s *Service) UpdateShiftReport(ctx context.Context, id uuid.UUID, in *ShiftReport) (*ShiftReport, error) {
	if _, err := s.actor(ctx); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.ReportContent) == "" {
		return nil, &ValidationError{Field: "report_content", Message: "el reporte no puede estar vacío"}
	}
	if err := s.authorize(ctx, guard.KindShiftReport, id, guard.OpEdit); err != nil {
		return nil, err
	}
	r, err := s.repos.ShiftReports.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	r.ReportContent, r.PendingItems = in.ReportContent, in.PendingItems
	if in.ShiftDate != "" {
		r.ShiftDate = in.ShiftDate
	}
	if in.ShiftType != "" {
		r.ShiftType = in.ShiftType
	}
	now := s.stamp()
	r.UpdatedAt = &now
	if err := s.repos.ShiftReports.Update(ctx, r); err != nil {
		return nil, s.checkStore(ctx, guard.KindShiftReport, id, err)
	}
	r.EditStatus = s.statusOf(r.CreatedAt)
	return r, nil
}

// -- Deletion and status --

// Delete carries out an authorized deletion of a regulated record. Rows are
// never removed: the record is tagged entered-in-error and drops out of the
// default listings. Deleting a record that is already tagged is a no-op.
func (s *Service) Delete(ctx context.Context, kind guard.Kind, id uuid.UUID) error {
	actor, err := s.actor(ctx)
	if err != nil {
		return err
	}
	d, err := s.guard.Authorize(ctx, kind, id, guard.OpDelete)
	if err != nil {
		return err
	}
	if !d.Allowed {
		return d.Err()
	}
	if d.AlreadyWithdrawn {
		// the first void keeps its author and time
		return nil
	}

	now := s.stamp()
	switch kind {
	case guard.KindVitalSign:
		err = s.repos.Vitals.Void(ctx, id, actor.Name, now)
	case guard.KindTreatment:
		err = s.repos.Treatments.Void(ctx, id, actor.Name, now)
	case guard.KindNonPharmaTreatment:
		err = s.repos.NonPharma.Void(ctx, id, actor.Name, now)
	default:
		// A custom rule allowed deletion of a kind that has no void tag.
		return &guard.RejectedError{
			Reason:  guard.ReasonDeletionForbidden,
			Message: fmt.Sprintf("NOM-004: No se permite eliminar un %s.", kind.Label()),
		}
	}
	if err != nil {
		return s.checkStore(ctx, kind, id, err)
	}
	s.logger.Info().
		Str("kind", string(kind)).
		Str("record_id", id.String()).
		Str("actor", actor.Name).
		Msg("record marked entered in error")
	return nil
}

// Status reports what the caller may do with a record right now.
func (s *Service) Status(ctx context.Context, kind guard.Kind, id uuid.UUID) (*RecordStatus, error) {
	meta, err := s.lookup.LookupMeta(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	now := s.guard.Now()
	edit := s.guard.Check(*meta, guard.OpEdit, now)
	del := s.guard.Check(*meta, guard.OpDelete, now)

	st := &RecordStatus{
		Kind:             string(kind),
		ID:               id,
		AuthorName:       meta.AuthorName,
		CreatedAt:        meta.CreatedAt,
		EditStatus:       edit.Status,
		CanEdit:          edit.Allowed,
		CanDelete:        del.Allowed,
		ArchiveAvailable: del.ArchiveAvailable,
		EnteredInError:   meta.EnteredInError,
	}
	if !edit.Status.IsEditable {
		st.LockMessage = s.guard.Policy().LockMessage(edit.Status)
	}
	return st, nil
}

func (s *Service) statusOf(createdAt *time.Time) *editwindow.EditStatus {
	st := s.guard.Status(createdAt)
	return &st
}

// -- Anomalies --

// RecordAnomaly stores a compliance anomaly for follow-up.
func (s *Service) RecordAnomaly(ctx context.Context, a *Anomaly) error {
	if a.Status == "" {
		a.Status = AnomalyStatusOpen
	}
	if a.CreatedAt == nil {
		now := s.stamp()
		a.CreatedAt = &now
	}
	return s.repos.Anomalies.Create(ctx, a)
}

func (s *Service) ListAnomalies(ctx context.Context, limit, offset int) ([]*Anomaly, int, error) {
	return s.repos.Anomalies.List(ctx, limit, offset)
}

// -- Audit log --

// RecordMutation stores one audit entry; it makes the service a
// middleware.AuditRecorder.
func (s *Service) RecordMutation(e middleware.AuditEntry) error {
	if s.repos.Audit == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
	defer cancel()
	return s.repos.Audit.Create(ctx, &AuditRecord{
		OccurredAt: e.Timestamp.UTC().Truncate(time.Second),
		RequestID:  e.RequestID,
		ActorID:    e.ActorID,
		ActorName:  e.ActorName,
		ActorRoles: strings.Join(e.ActorRoles, ","),
		RecordKind: string(e.Kind),
		RecordID:   e.RecordID,
		Action:     e.Action,
		Method:     e.Method,
		Path:       e.Path,
		IPAddress:  e.IPAddress,
		StatusCode: e.StatusCode,
		Outcome:    e.Outcome,
	})
}

// ListAuditLog returns audit entries newest first. kind and recordID are
// optional filters.
func (s *Service) ListAuditLog(ctx context.Context, kind, recordID string, limit, offset int) ([]*AuditRecord, int, error) {
	if kind != "" {
		k, err := guard.ParseKind(kind)
		if err != nil {
			return nil, 0, &ValidationError{Field: "kind", Message: err.Error()}
		}
		kind = string(k)
	}
	if s.repos.Audit == nil {
		return nil, 0, nil
	}
	return s.repos.Audit.List(ctx, kind, recordID, limit, offset)
}
