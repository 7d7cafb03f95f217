package charting

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/chartlock/internal/platform/editwindow"
)

// NurseNote maps to the nurse_notes table.
type NurseNote struct {
	ID         uuid.UUID              `json:"id"`
	PatientID  string                 `json:"patient_id"`
	NoteDate   string                 `json:"note_date"`
	Note       string                 `json:"note"`
	NoteType   string                 `json:"note_type"`
	NurseName  string                 `json:"nurse_name"`
	Archived   bool                   `json:"archived"`
	ArchivedAt *time.Time             `json:"archived_at,omitempty"`
	ArchivedBy *string                `json:"archived_by,omitempty"`
	CreatedAt  *time.Time             `json:"created_at"`
	UpdatedAt  *time.Time             `json:"updated_at,omitempty"`
	EditStatus *editwindow.EditStatus `json:"edit_status,omitempty"`
}

// VitalSign maps to the vital_signs table.
type VitalSign struct {
	ID               uuid.UUID              `json:"id"`
	PatientID        string                 `json:"patient_id"`
	RecordedAt       string                 `json:"recorded_at"`
	Temperature      float64                `json:"temperature"`
	BloodPressure    string                 `json:"blood_pressure"`
	HeartRate        int                    `json:"heart_rate"`
	RespiratoryRate  int                    `json:"respiratory_rate"`
	OxygenSaturation *int                   `json:"oxygen_saturation,omitempty"`
	RegisteredBy     string                 `json:"registered_by"`
	EnteredInError   bool                   `json:"entered_in_error"`
	VoidedAt         *time.Time             `json:"voided_at,omitempty"`
	VoidedBy         *string                `json:"voided_by,omitempty"`
	CreatedAt        *time.Time             `json:"created_at"`
	UpdatedAt        *time.Time             `json:"updated_at,omitempty"`
	EditStatus       *editwindow.EditStatus `json:"edit_status,omitempty"`
}

// Treatment maps to the treatments table.
type Treatment struct {
	ID                uuid.UUID              `json:"id"`
	PatientID         string                 `json:"patient_id"`
	Medication        string                 `json:"medication"`
	Dose              string                 `json:"dose"`
	Frequency         string                 `json:"frequency"`
	StartDate         string                 `json:"start_date"`
	EndDate           *string                `json:"end_date,omitempty"`
	AppliedBy         string                 `json:"applied_by"`
	LastApplication   string                 `json:"last_application"`
	ResponsibleDoctor *string                `json:"responsible_doctor,omitempty"`
	Status            string                 `json:"status"`
	Notes             *string                `json:"notes,omitempty"`
	EnteredInError    bool                   `json:"entered_in_error"`
	VoidedAt          *time.Time             `json:"voided_at,omitempty"`
	VoidedBy          *string                `json:"voided_by,omitempty"`
	CreatedAt         *time.Time             `json:"created_at"`
	UpdatedAt         *time.Time             `json:"updated_at,omitempty"`
	EditStatus        *editwindow.EditStatus `json:"edit_status,omitempty"`
}

// NonPharmaTreatment maps to the non_pharmacological_treatments table.
type NonPharmaTreatment struct {
	ID             uuid.UUID              `json:"id"`
	PatientID      string                 `json:"patient_id"`
	TreatmentType  string                 `json:"treatment_type"`
	Description    *string                `json:"description,omitempty"`
	TimeStart      string                 `json:"time_start"`
	TimeEnd        *string                `json:"time_end,omitempty"`
	Outcome        *string                `json:"outcome,omitempty"`
	PerformedBy    string                 `json:"performed_by"`
	EnteredInError bool                   `json:"entered_in_error"`
	VoidedAt       *time.Time             `json:"voided_at,omitempty"`
	VoidedBy       *string                `json:"voided_by,omitempty"`
	CreatedAt      *time.Time             `json:"created_at"`
	UpdatedAt      *time.Time             `json:"updated_at,omitempty"`
	EditStatus     *editwindow.EditStatus `json:"edit_status,omitempty"`
}

// ShiftReport maps to the nurse_shift_reports table.
type ShiftReport struct {
	ID            uuid.UUID              `json:"id"`
	NurseName     string                 `json:"nurse_name"`
	ShiftDate     string                 `json:"shift_date"`
	ShiftType     string                 `json:"shift_type"`
	ReportContent string                 `json:"report_content"`
	PendingItems  *string                `json:"pending_items,omitempty"`
	CreatedAt     *time.Time             `json:"created_at"`
	UpdatedAt     *time.Time             `json:"updated_at,omitempty"`
	EditStatus    *editwindow.EditStatus `json:"edit_status,omitempty"`
}

// Anomaly maps to the system_errors table. Integrity violations and failed
// trigger checks are recorded here for follow-up.
type Anomaly struct {
	ID           uuid.UUID  `json:"id"`
	ErrorCode    string     `json:"error_code"`
	ErrorMessage string     `json:"error_message"`
	ErrorType    string     `json:"error_type"`
	Severity     string     `json:"severity"`
	Module       *string    `json:"module,omitempty"`
	RecordKind   *string    `json:"record_kind,omitempty"`
	RecordID     *string    `json:"record_id,omitempty"`
	UserName     *string    `json:"user_name,omitempty"`
	RequestID    *string    `json:"request_id,omitempty"`
	Status       string     `json:"status"`
	CreatedAt    *time.Time `json:"created_at"`
}

// AuditRecord is one attempted write to a regulated record, allowed or not.
type AuditRecord struct {
	ID         uuid.UUID `json:"id"`
	OccurredAt time.Time `json:"occurred_at"`
	RequestID  string    `json:"request_id,omitempty"`
	ActorID    string    `json:"actor_id,omitempty"`
	ActorName  string    `json:"actor_name,omitempty"`
	ActorRoles string    `json:"actor_roles,omitempty"`
	RecordKind string    `json:"record_kind"`
	RecordID   string    `json:"record_id,omitempty"`
	Action     string    `json:"action"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	IPAddress  string    `json:"ip_address,omitempty"`
	StatusCode int       `json:"status_code"`
	Outcome    string    `json:"outcome"`
}

const (
	SeverityHigh       = "high"
	AnomalyStatusOpen  = "Abierto"
	ErrorTypeIntegrity = "integrity_violation"
)

// RecordStatus is the edit-window view of a single record, used by the UI
// to enable or disable edit and delete controls.
type RecordStatus struct {
	Kind             string                `json:"kind"`
	ID               uuid.UUID             `json:"id"`
	AuthorName       string                `json:"author_name"`
	CreatedAt        *time.Time            `json:"created_at"`
	EditStatus       editwindow.EditStatus `json:"edit_status"`
	CanEdit          bool                  `json:"can_edit"`
	CanDelete        bool                  `json:"can_delete"`
	ArchiveAvailable bool                  `json:"archive_available"`
	EnteredInError   bool                  `json:"entered_in_error,omitempty"`
	LockMessage      string                `json:"lock_message,omitempty"`
}
