package charting

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ehr/chartlock/internal/platform/guard"
)

type metaLookup struct{ repos Repositories }

// NewMetaLookup lets the mutation guard read the author, creation time and
// withdrawal state of any regulated record.
func NewMetaLookup(repos Repositories) guard.MetaLookup {
	return &metaLookup{repos: repos}
}

func (l *metaLookup) LookupMeta(ctx context.Context, kind guard.Kind, id uuid.UUID) (*guard.RecordMeta, error) {
	meta := &guard.RecordMeta{ID: id, Kind: kind}
	switch kind {
	case guard.KindNurseNote:
		n, err := l.repos.Notes.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		meta.AuthorName, meta.CreatedAt = n.NurseName, n.CreatedAt
	case guard.KindVitalSign:
		v, err := l.repos.Vitals.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		meta.AuthorName, meta.CreatedAt = v.RegisteredBy, v.CreatedAt
		meta.EnteredInError = v.EnteredInError
	case guard.KindTreatment:
		t, err := l.repos.Treatments.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		meta.AuthorName, meta.CreatedAt = t.AppliedBy, t.CreatedAt
		meta.EnteredInError = t.EnteredInError
	case guard.KindNonPharmaTreatment:
		t, err := l.repos.NonPharma.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		meta.AuthorName, meta.CreatedAt = t.PerformedBy, t.CreatedAt
		meta.EnteredInError = t.EnteredInError
	case guard.KindShiftReport:
		r, err := l.repos.ShiftReports.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		meta.AuthorName, meta.CreatedAt = r.NurseName, r.CreatedAt
	default:
		return nil, fmt.Errorf("unknown record kind %q", kind)
	}
	return meta, nil
}
