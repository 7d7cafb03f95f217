// Package editwindow decides whether a regulated clinical record may still be
// corrected. A record is editable for a fixed window after it was first
// persisted and permanently locked afterwards. Evaluation is pure: it never
// touches storage and never returns an error. A missing creation time locks
// the record; a creation time too far in the future holds it read-only until
// the clocks agree.
package editwindow

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultWindowHours  = 24
	DefaultWarningHours = 2

	// ClockSkewTolerance is how far in the future a creation time may lie
	// before it is treated as invalid instead of "just created".
	ClockSkewTolerance = 5 * time.Minute
)

// User-facing labels.
const (
	LabelLocked              = "bloqueada permanentemente"
	LabelNoCreationTime      = "Sin fecha de creación"
	LabelInvalidCreationTime = "Fecha de creación inválida"
)

// Machine-readable reasons attached to a non-editable status.
const (
	ReasonNoCreationTime = "no creation time available"
	ReasonFutureCreation = "creation time is in the future"
	ReasonWindowElapsed  = "edit window elapsed"
	ReasonMisconfigured  = "edit window not configured"
)

// Policy holds the two static knobs of the edit window. It is passed around
// by value; there is no package-level configuration.
type Policy struct {
	Window           time.Duration
	WarningThreshold time.Duration
}

// NewPolicy builds a Policy from hour values as they appear in configuration.
func NewPolicy(windowHours, warningHours float64) Policy {
	return Policy{
		Window:           hoursToDuration(windowHours),
		WarningThreshold: hoursToDuration(warningHours),
	}
}

// DefaultPolicy returns the 24h window with a 2h warning threshold.
func DefaultPolicy() Policy {
	return NewPolicy(DefaultWindowHours, DefaultWarningHours)
}

func hoursToDuration(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}

// WindowHours returns the window length in whole hours, rounded up.
func (p Policy) WindowHours() int {
	return ceilUnits(p.Window, time.Hour)
}

// EditStatus is derived on every read and never persisted. IsLocked is the
// terminal state: for a fixed policy, once a record is locked it stays locked
// at every later instant. A record can be neither editable nor locked when
// its creation time lies in the future.
type EditStatus struct {
	IsEditable       bool       `json:"is_editable"`
	IsLocked         bool       `json:"is_locked"`
	IsWarning        bool       `json:"is_warning"`
	HoursRemaining   int        `json:"hours_remaining"`
	MinutesRemaining int        `json:"minutes_remaining"`
	TimeLeftLabel    string     `json:"time_left"`
	Reason           string     `json:"reason,omitempty"`
	LocksAt          *time.Time `json:"locks_at,omitempty"`
}

// Evaluate computes the EditStatus of a record created at createdAt, as seen
// at now. The upper bound is inclusive: a record is still editable when
// exactly Window has elapsed.
func (p Policy) Evaluate(createdAt *time.Time, now time.Time) EditStatus {
	if createdAt == nil || createdAt.IsZero() {
		return EditStatus{IsLocked: true, TimeLeftLabel: LabelNoCreationTime, Reason: ReasonNoCreationTime}
	}
	if p.Window <= 0 {
		return EditStatus{IsLocked: true, TimeLeftLabel: LabelLocked, Reason: ReasonMisconfigured}
	}

	elapsed := now.Sub(*createdAt)
	if elapsed < 0 {
		if -elapsed > ClockSkewTolerance {
			return EditStatus{TimeLeftLabel: LabelInvalidCreationTime, Reason: ReasonFutureCreation}
		}
		elapsed = 0
	}

	locksAt := createdAt.Add(p.Window)
	if elapsed > p.Window {
		return EditStatus{IsLocked: true, TimeLeftLabel: LabelLocked, Reason: ReasonWindowElapsed, LocksAt: &locksAt}
	}

	remaining := p.Window - elapsed
	hours := ceilUnits(remaining, time.Hour)
	minutes := ceilUnits(remaining, time.Minute)

	return EditStatus{
		IsEditable:       true,
		IsWarning:        float64(hours) <= p.WarningThreshold.Hours(),
		HoursRemaining:   hours,
		MinutesRemaining: minutes,
		TimeLeftLabel:    timeLeftLabel(remaining, hours, minutes),
		LocksAt:          &locksAt,
	}
}

// EvaluateText is Evaluate for timestamps read back as text, as SQLite
// stores them. Unparseable input yields a locked status.
func (p Policy) EvaluateText(raw string, now time.Time) EditStatus {
	return p.Evaluate(ParseTimestamp(raw), now)
}

// LockMessage returns the alert shown when a user tries to change a record
// that is not editable. It is empty for editable records.
func (p Policy) LockMessage(st EditStatus) string {
	if st.IsEditable {
		return ""
	}
	switch st.Reason {
	case ReasonNoCreationTime:
		return "No se puede modificar: el registro no tiene una fecha de creación válida. " +
			"Por seguridad queda bloqueado (NOM-004)."
	case ReasonFutureCreation:
		return "No se puede modificar: la fecha de creación del registro es posterior a la hora actual. " +
			"Verifique el reloj del servidor (NOM-004)."
	default:
		return fmt.Sprintf("Este registro tiene más de %d horas y está bloqueado permanentemente. "+
			"El expediente clínico no puede modificarse (NOM-004).", p.WindowHours())
	}
}

func timeLeftLabel(remaining time.Duration, hours, minutes int) string {
	if remaining < time.Hour {
		return fmt.Sprintf("%dm restantes", minutes)
	}
	if hours == 1 {
		return "1 hora restante"
	}
	return fmt.Sprintf("%d horas restantes", hours)
}

// ceilUnits rounds d up to a whole number of unit. d must not be negative.
func ceilUnits(d, unit time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + unit - 1) / unit)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
}

// ParseTimestamp parses the creation-time formats found in the stores.
// Values without a zone are UTC, which is what SQLite's CURRENT_TIMESTAMP
// produces. It returns nil when raw cannot be parsed.
func ParseTimestamp(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return &t
		}
	}
	return nil
}
