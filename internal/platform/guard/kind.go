package guard

import (
	"fmt"
	"strings"
)

// Kind identifies a regulated record type.
type Kind string

const (
	KindNurseNote          Kind = "nurse_note"
	KindVitalSign          Kind = "vital_sign"
	KindTreatment          Kind = "treatment"
	KindNonPharmaTreatment Kind = "non_pharma_treatment"
	KindShiftReport        Kind = "shift_report"
)

// Kinds lists every regulated record type.
var Kinds = []Kind{
	KindNurseNote,
	KindVitalSign,
	KindTreatment,
	KindNonPharmaTreatment,
	KindShiftReport,
}

var kindAliases = map[string]Kind{
	"nurse-notes":           KindNurseNote,
	"vital-signs":           KindVitalSign,
	"treatments":            KindTreatment,
	"non-pharma-treatments": KindNonPharmaTreatment,
	"shift-reports":         KindShiftReport,
}

// ParseKind accepts either the kind value ("vital_sign") or its API
// collection name ("vital-signs").
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	if k, ok := kindAliases[s]; ok {
		return k, nil
	}
	return "", fmt.Errorf("unknown record kind %q", s)
}

// Label is the Spanish noun used in user-facing messages.
func (k Kind) Label() string {
	switch k {
	case KindNurseNote:
		return "nota de enfermería"
	case KindVitalSign:
		return "registro de signos vitales"
	case KindTreatment:
		return "tratamiento"
	case KindNonPharmaTreatment:
		return "tratamiento no farmacológico"
	case KindShiftReport:
		return "reporte de turno"
	default:
		return "registro clínico"
	}
}

// Table is the storage table holding rows of this kind.
func (k Kind) Table() string {
	switch k {
	case KindNurseNote:
		return "nurse_notes"
	case KindVitalSign:
		return "vital_signs"
	case KindTreatment:
		return "treatments"
	case KindNonPharmaTreatment:
		return "non_pharmacological_treatments"
	case KindShiftReport:
		return "nurse_shift_reports"
	default:
		return ""
	}
}

// Collection is the API path segment for this kind.
func (k Kind) Collection() string {
	for alias, kind := range kindAliases {
		if kind == k {
			return alias
		}
	}
	return ""
}

// DeletionRule says whether a kind may ever be removed from a patient's
// active chart.
type DeletionRule int

const (
	// NeverDelete refuses every delete request regardless of age.
	NeverDelete DeletionRule = iota
	// DeleteWithinWindow allows deletion while the record is still editable.
	DeleteWithinWindow
)

// DefaultRules is the deletion rule per kind. Notes and shift reports are
// narrative documents that can only be archived or corrected; measurement
// and administration entries may be withdrawn while still editable.
var DefaultRules = map[Kind]DeletionRule{
	KindNurseNote:          NeverDelete,
	KindShiftReport:        NeverDelete,
	KindVitalSign:          DeleteWithinWindow,
	KindTreatment:          DeleteWithinWindow,
	KindNonPharmaTreatment: DeleteWithinWindow,
}
