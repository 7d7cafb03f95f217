package charting

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/chartlock/internal/platform/auth"
	"github.com/ehr/chartlock/internal/platform/db"
	"github.com/ehr/chartlock/internal/platform/guard"
	"github.com/ehr/chartlock/internal/platform/middleware"
	"github.com/ehr/chartlock/pkg/pagination"
)

const (
	codeValidation  = "ValidationFailed"
	codeNoActor     = "Unauthenticated"
	codeIntegrity   = "IntegrityViolation"
	codeUnavailable = "StorageUnavailable"

	msgIntegrity   = "La operación fue bloqueada por las reglas de integridad del expediente clínico. El incidente quedó registrado."
	msgUnavailable = "No se pudo completar la operación. Intente de nuevo en unos momentos."
	msgNotFound    = "El registro solicitado no existe."
)

// ErrorBody is the JSON error payload of every regulated endpoint.
type ErrorBody struct {
	Code             string `json:"code"`
	Message          string `json:"message"`
	ArchiveAvailable bool   `json:"archive_available,omitempty"`
}

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints: admin, physician, nurse
	readGroup := api.Group("", auth.RequireRole("admin", "physician", "nurse"))
	readGroup.GET("/nurse-notes", h.ListNotes)
	readGroup.GET("/nurse-notes/:id", h.GetNote)
	readGroup.GET("/vital-signs", h.ListVitalSigns)
	readGroup.GET("/vital-signs/:id", h.GetVitalSign)
	readGroup.GET("/treatments", h.ListTreatments)
	readGroup.GET("/treatments/:id", h.GetTreatment)
	readGroup.GET("/non-pharma-treatments", h.ListNonPharma)
	readGroup.GET("/non-pharma-treatments/:id", h.GetNonPharma)
	readGroup.GET("/shift-reports", h.ListShiftReports)
	readGroup.GET("/shift-reports/:id", h.GetShiftReport)
	for _, k := range guard.Kinds {
		readGroup.GET("/"+k.Collection()+"/:id/edit-status", h.EditStatus(k))
	}

	// Write endpoints: admin, nurse
	writeGroup := api.Group("", auth.RequireRole("admin", "nurse"))
	writeGroup.POST("/nurse-notes", h.CreateNote)
	writeGroup.PUT("/nurse-notes/:id", h.UpdateNote)
	writeGroup.POST("/nurse-notes/:id/archive", h.ArchiveNote)
	writeGroup.POST("/vital-signs", h.CreateVitalSign)
	writeGroup.PUT("/vital-signs/:id", h.UpdateVitalSign)
	writeGroup.POST("/treatments", h.CreateTreatment)
	writeGroup.PUT("/treatments/:id", h.UpdateTreatment)
	writeGroup.POST("/non-pharma-treatments", h.CreateNonPharma)
	writeGroup.PUT("/non-pharma-treatments/:id", h.UpdateNonPharma)
	writeGroup.POST("/shift-reports", h.CreateShiftReport)
	writeGroup.PUT("/shift-reports/:id", h.UpdateShiftReport)
	for _, k := range guard.Kinds {
		writeGroup.DELETE("/"+k.Collection()+"/:id", h.Delete(k))
	}

	adminGroup := api.Group("", auth.RequireRole("admin"))
	adminGroup.GET("/anomalies", h.ListAnomalies)
	adminGroup.GET("/audit-log", h.ListAuditLog)
}

func requestContext(c echo.Context) context.Context {
	return WithRequestID(c.Request().Context(), middleware.RequestIDFromContext(c))
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, ErrorBody{Code: codeValidation, Message: "identificador inválido"})
	}
	return id, nil
}

func boolParam(c echo.Context, name string) bool {
	v, _ := strconv.ParseBool(c.QueryParam(name))
	return v
}

// httpError maps service errors onto status codes. Storage details never
// reach the client.
func httpError(err error) error {
	if rej, ok := guard.AsRejected(err); ok {
		status := http.StatusConflict
		switch rej.Reason {
		case guard.ReasonDeletionForbidden:
			status = http.StatusForbidden
		case guard.ReasonRecordNotFound:
			status = http.StatusNotFound
		case guard.ReasonUnsupportedOperation:
			status = http.StatusBadRequest
		}
		return echo.NewHTTPError(status, ErrorBody{
			Code:             string(rej.Reason),
			Message:          rej.Message,
			ArchiveAvailable: rej.ArchiveAvailable,
		})
	}

	var verr *ValidationError
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he
	case errors.As(err, &verr):
		return echo.NewHTTPError(http.StatusBadRequest, ErrorBody{Code: codeValidation, Message: verr.Error()})
	case errors.Is(err, ErrNoActor):
		return echo.NewHTTPError(http.StatusUnauthorized, ErrorBody{Code: codeNoActor, Message: "se requiere un usuario autenticado"})
	case errors.Is(err, db.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, ErrorBody{Code: string(guard.ReasonRecordNotFound), Message: msgNotFound})
	case errors.Is(err, db.ErrIntegrityViolation):
		return echo.NewHTTPError(http.StatusInternalServerError, ErrorBody{Code: codeIntegrity, Message: msgIntegrity}).SetInternal(err)
	default:
		return echo.NewHTTPError(http.StatusServiceUnavailable, ErrorBody{Code: codeUnavailable, Message: msgUnavailable}).SetInternal(err)
	}
}

func bindError(err error) error {
	return echo.NewHTTPError(http.StatusBadRequest, ErrorBody{Code: codeValidation, Message: err.Error()})
}

// -- Nurse Note Handlers --

func (h *Handler) CreateNote(c echo.Context) error {
	var n NurseNote
	if err := c.Bind(&n); err != nil {
		return bindError(err)
	}
	if err := h.svc.CreateNote(requestContext(c), &n); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, n)
}

func (h *Handler) GetNote(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	n, err := h.svc.GetNote(requestContext(c), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) ListNotes(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListNotes(requestContext(c), c.QueryParam("patient_id"),
		boolParam(c, "include_archived"), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return pagination.Respond(c, pg, items, total)
}

func (h *Handler) UpdateNote(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in NurseNote
	if err := c.Bind(&in); err != nil {
		return bindError(err)
	}
	n, err := h.svc.UpdateNote(requestContext(c), id, &in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) ArchiveNote(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	n, err := h.svc.ArchiveNote(requestContext(c), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, n)
}

// -- Vital Sign Handlers --

func (h *Handler) CreateVitalSign(c echo.Context) error {
	var v VitalSign
	if err := c.Bind(&v); err != nil {
		return bindError(err)
	}
	if err := h.svc.CreateVitalSign(requestContext(c), &v); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, v)
}

func (h *Handler) GetVitalSign(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	v, err := h.svc.GetVitalSign(requestContext(c), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) ListVitalSigns(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListVitalSigns(requestContext(c), c.QueryParam("patient_id"),
		boolParam(c, "include_voided"), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return pagination.Respond(c, pg, items, total)
}

func (h *Handler) UpdateVitalSign(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in VitalSign
	if err := c.Bind(&in); err != nil {
		return bindError(err)
	}
	v, err := h.svc.UpdateVitalSign(requestContext(c), id, &in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, v)
}

// -- Treatment Handlers --

func (h *Handler) CreateTreatment(c echo.Context) error {
	var t Treatment
	if err := c.Bind(&t); err != nil {
		return bindError(err)
	}
	if err := h.svc.CreateTreatment(requestContext(c), &t); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) GetTreatment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	t, err := h.svc.GetTreatment(requestContext(c), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) ListTreatments(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListTreatments(requestContext(c), c.QueryParam("patient_id"),
		boolParam(c, "include_voided"), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return pagination.Respond(c, pg, items, total)
}

func (h *Handler) UpdateTreatment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in Treatment
	if err := c.Bind(&in); err != nil {
		return bindError(err)
	}
	t, err := h.svc.UpdateTreatment(requestContext(c), id, &in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, t)
}

// -- Non-pharmacological Treatment Handlers --

func (h *Handler) CreateNonPharma(c echo.Context) error {
	var t NonPharmaTreatment
	if err := c.Bind(&t); err != nil {
		return bindError(err)
	}
	if err := h.svc.CreateNonPharma(requestContext(c), &t); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) GetNonPharma(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	t, err := h.svc.GetNonPharma(requestContext(c), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) ListNonPharma(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListNonPharma(requestContext(c), c.QueryParam("patient_id"),
		boolParam(c, "include_voided"), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return pagination.Respond(c, pg, items, total)
}

func (h *Handler) UpdateNonPharma(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in NonPharmaTreatment
	if err := c.Bind(&in); err != nil {
		return bindError(err)
	}
	t, err := h.svc.UpdateNonPharma(requestContext(c), id, &in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, t)
}

// -- Shift Report Handlers --

func (h *Handler) CreateShiftReport(c echo.Context) error {
	var r ShiftReport
	if err := c.Bind(&r); err != nil {
		return bindError(err)
	}
	if err := h.svc.CreateShiftReport(requestContext(c), &r); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) GetShiftReport(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	r, err := h.svc.GetShiftReport(requestContext(c), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) ListShiftReports(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListShiftReports(requestContext(c), c.QueryParam("shift_date"), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return pagination.Respond(c, pg, items, total)
}

func (h *Handler) UpdateShiftReport(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in ShiftReport
	if err := c.Bind(&in); err != nil {
		return bindError(err)
	}
	r, err := h.svc.UpdateShiftReport(requestContext(c), id, &in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, r)
}

// -- Shared Handlers --

// Delete returns the DELETE handler for one record kind.
func (h *Handler) Delete(kind guard.Kind) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := parseID(c)
		if err != nil {
			return err
		}
		if err := h.svc.Delete(requestContext(c), kind, id); err != nil {
			return httpError(err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

// EditStatus returns the edit-status handler for one record kind.
func (h *Handler) EditStatus(kind guard.Kind) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := parseID(c)
		if err != nil {
			return err
		}
		st, err := h.svc.Status(requestContext(c), kind, id)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusOK, st)
	}
}

func (h *Handler) ListAnomalies(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListAnomalies(requestContext(c), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return pagination.Respond(c, pg, items, total)
}

func (h *Handler) ListAuditLog(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListAuditLog(requestContext(c), c.QueryParam("kind"), c.QueryParam("record_id"),
		pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return pagination.Respond(c, pg, items, total)
}
