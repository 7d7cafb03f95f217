// Package guard authorizes edits and deletions of regulated clinical
// records. It consults the edit-window policy and never writes anything
// itself; callers perform the store call only after an allowed decision.
package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/chartlock/internal/platform/db"
	"github.com/ehr/chartlock/internal/platform/editwindow"
)

// Operation is a mutation requested on a regulated record.
type Operation string

const (
	OpEdit    Operation = "edit"
	OpDelete  Operation = "delete"
	OpArchive Operation = "archive"
)

// Reason is the machine-readable code of a rejection.
type Reason string

const (
	ReasonEditWindowExpired    Reason = "EditWindowExpired"
	ReasonDeletionForbidden    Reason = "DeletionForbidden"
	ReasonRecordNotFound       Reason = "RecordNotFound"
	ReasonUnsupportedOperation Reason = "UnsupportedOperation"
	ReasonEnteredInError       Reason = "EnteredInError"
)

const (
	msgNotFound       = "El registro solicitado no existe. Actualice la lista e intente de nuevo."
	msgEnteredInError = "Este registro fue marcado como capturado por error y ya no puede modificarse."
	msgArchiveOnly    = "Solo las notas de enfermería pueden archivarse."
)

// RecordMeta is what the guard needs to know about a stored record.
type RecordMeta struct {
	ID         uuid.UUID
	Kind       Kind
	AuthorName string
	CreatedAt  *time.Time
	// EnteredInError is set once the record was withdrawn from the chart.
	EnteredInError bool
}

// MetaLookup fetches RecordMeta from storage. It returns db.ErrNotFound
// when no record of that kind has the id.
type MetaLookup interface {
	LookupMeta(ctx context.Context, kind Kind, id uuid.UUID) (*RecordMeta, error)
}

// Decision is the outcome of an authorization. A rejection is a value, not
// an error.
type Decision struct {
	Allowed          bool                  `json:"allowed"`
	Reason           Reason                `json:"code,omitempty"`
	Message          string                `json:"message,omitempty"`
	Status           editwindow.EditStatus `json:"edit_status"`
	ArchiveAvailable bool                  `json:"archive_available,omitempty"`
	// AlreadyWithdrawn marks an allowed delete of a record that is already
	// entered in error; there is nothing left to write.
	AlreadyWithdrawn bool `json:"already_withdrawn,omitempty"`
}

// Err returns nil for an allowed decision and a *RejectedError otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &RejectedError{Reason: d.Reason, Message: d.Message, ArchiveAvailable: d.ArchiveAvailable}
}

// RejectedError carries a policy refusal through error-returning call
// chains. Storage failures are never wrapped in it.
type RejectedError struct {
	Reason           Reason
	Message          string
	ArchiveAvailable bool
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

// AsRejected reports whether err is, or wraps, a policy rejection.
func AsRejected(err error) (*RejectedError, bool) {
	var rej *RejectedError
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

// Observer is notified of every decision the guard reaches.
type Observer func(kind Kind, op Operation, d Decision)

// Guard authorizes mutations against the edit-window policy and the
// per-kind deletion rules.
type Guard struct {
	policy    editwindow.Policy
	lookup    MetaLookup
	rules     map[Kind]DeletionRule
	now       func() time.Time
	observers []Observer
}

// Option configures a Guard.
type Option func(*Guard)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// WithRules replaces DefaultRules. Kinds missing from rules are never
// deletable.
func WithRules(rules map[Kind]DeletionRule) Option {
	return func(g *Guard) { g.rules = rules }
}

// WithObserver registers fn to receive every decision.
func WithObserver(fn Observer) Option {
	return func(g *Guard) { g.observers = append(g.observers, fn) }
}

// New creates a Guard. lookup may be nil when only Check is used.
func New(policy editwindow.Policy, lookup MetaLookup, opts ...Option) *Guard {
	g := &Guard{
		policy: policy,
		lookup: lookup,
		rules:  DefaultRules,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Policy returns the edit-window policy the guard applies.
func (g *Guard) Policy() editwindow.Policy { return g.policy }

// Now returns the guard's current time.
func (g *Guard) Now() time.Time { return g.now() }

// Status evaluates the edit window of a record at the guard's current time.
func (g *Guard) Status(createdAt *time.Time) editwindow.EditStatus {
	return g.policy.Evaluate(createdAt, g.now())
}

// Rule returns the deletion rule applied to kind.
func (g *Guard) Rule(kind Kind) DeletionRule {
	if rule, ok := g.rules[kind]; ok {
		return rule
	}
	return NeverDelete
}

// Check decides op on a record described by meta as of now. It performs no
// I/O and always returns a fully populated Decision.
func (g *Guard) Check(meta RecordMeta, op Operation, now time.Time) Decision {
	st := g.policy.Evaluate(meta.CreatedAt, now)
	d := Decision{Status: st}

	switch op {
	case OpEdit:
		if meta.EnteredInError {
			d.Reason = ReasonEnteredInError
			d.Message = msgEnteredInError
			return d
		}
		if !st.IsEditable {
			d.Reason = ReasonEditWindowExpired
			d.Message = g.policy.LockMessage(st)
			return d
		}
	case OpArchive:
		if meta.Kind != KindNurseNote {
			d.Reason = ReasonUnsupportedOperation
			d.Message = msgArchiveOnly
			return d
		}
		if !st.IsEditable {
			d.Reason = ReasonEditWindowExpired
			d.Message = g.policy.LockMessage(st)
			return d
		}
	case OpDelete:
		if g.Rule(meta.Kind) == NeverDelete {
			d.Reason = ReasonDeletionForbidden
			d.ArchiveAvailable = meta.Kind == KindNurseNote && st.IsEditable
			d.Message = deletionForbiddenMessage(meta.Kind, d.ArchiveAvailable)
			return d
		}
		if !st.IsEditable {
			d.Reason = ReasonEditWindowExpired
			d.Message = g.policy.LockMessage(st)
			return d
		}
		d.AlreadyWithdrawn = meta.EnteredInError
	default:
		d.Reason = ReasonUnsupportedOperation
		d.Message = fmt.Sprintf("Operación no permitida sobre un registro clínico: %q.", op)
		return d
	}

	d.Allowed = true
	return d
}

// Authorize looks up the record and decides op on it. Lookup failures other
// than a missing record are returned as errors so callers can tell them
// apart from policy refusals.
func (g *Guard) Authorize(ctx context.Context, kind Kind, id uuid.UUID, op Operation) (Decision, error) {
	if g.lookup == nil {
		return Decision{}, errors.New("guard: no record lookup configured")
	}
	now := g.now()

	meta, err := g.lookup.LookupMeta(ctx, kind, id)
	if errors.Is(err, db.ErrNotFound) {
		d := Decision{
			Reason:  ReasonRecordNotFound,
			Message: msgNotFound,
			Status:  g.policy.Evaluate(nil, now),
		}
		g.notify(kind, op, d)
		return d, nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("look up %s %s: %w", kind, id, err)
	}

	if meta.Kind == "" {
		meta.Kind = kind
	}
	d := g.Check(*meta, op, now)
	g.notify(kind, op, d)
	return d, nil
}

func (g *Guard) notify(kind Kind, op Operation, d Decision) {
	for _, fn := range g.observers {
		fn(kind, op, d)
	}
}

func deletionForbiddenMessage(kind Kind, archive bool) string {
	msg := fmt.Sprintf("NOM-004: No se permite eliminar un %s. El expediente clínico debe mantener su integridad completa.", kind.Label())
	if kind == KindNurseNote {
		msg = "NOM-004: No se permite eliminar una nota de enfermería. El expediente clínico debe mantener su integridad completa."
	}
	if archive {
		msg += " Puede archivar la nota para retirarla de la vista activa."
	}
	return msg
}
