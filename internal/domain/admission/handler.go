package admission

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/infisparks/medfordhrms-sub002/internal/platform/store"
	"github.com/infisparks/medfordhrms-sub002/internal/platform/sync"
	"github.com/infisparks/medfordhrms-sub002/internal/platform/telemetry"
	"github.com/infisparks/medfordhrms-sub002/pkg/pagination"
)

type Handler struct {
	svc     *Service
	metrics *telemetry.Provider
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// SetMetrics attaches an optional metrics provider.
func (h *Handler) SetMetrics(p *telemetry.Provider) { h.metrics = p }

func (h *Handler) count(name string, delta int64) {
	if h.metrics != nil {
		h.metrics.Add(name, delta)
	}
}

// fail counts store failures on mutating operations before mapping the error.
func (h *Handler) fail(err error) error {
	var se *store.StoreError
	if errors.As(err, &se) {
		h.count(telemetry.MetricStoreWriteFailures, 1)
	}
	return httpError(err)
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/admissions", h.ListAdmissions)
	api.POST("/admissions", h.Admit)
	api.POST("/admissions/search", h.SetSearch)
	api.DELETE("/admissions/search", h.ClearSearch)
	api.GET("/admissions/discharged", h.ListDischarged)
	api.POST("/admissions/:uhid/:id/discharge", h.Discharge)
	api.POST("/admissions/:uhid/:id/undo-discharge", h.UndoDischarge)
}

type listResponse struct {
	Records      []Admission    `json:"records"`
	Total        int            `json:"total"`
	Limit        int            `json:"limit"`
	Offset       int            `json:"offset"`
	DoctorCounts map[string]int `json:"doctorCounts"`
	Strategy     string         `json:"strategy"`
	Degraded     bool           `json:"degraded"`
}

func (h *Handler) list(c echo.Context) listResponse {
	p := pagination.FromContext(c)
	all := h.svc.Admissions()
	return listResponse{
		Records:      pagination.Slice(all, p),
		Total:        len(all),
		Limit:        p.Limit,
		Offset:       p.Offset,
		DoctorCounts: h.svc.DoctorCounts(),
		Strategy:     h.svc.Strategy().String(),
		Degraded:     h.svc.Degraded(),
	}
}

func (h *Handler) ListAdmissions(c echo.Context) error {
	return c.JSON(http.StatusOK, h.list(c))
}

func (h *Handler) Admit(c echo.Context) error {
	var a Admission
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out, err := h.svc.Admit(c.Request().Context(), a)
	if err != nil {
		return h.fail(err)
	}
	return c.JSON(http.StatusCreated, out)
}

type searchRequest struct {
	Token string `json:"token"`
}

func (h *Handler) SetSearch(c echo.Context) error {
	var req searchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.SetSearchToken(c.Request().Context(), req.Token); err != nil {
		return httpError(err)
	}
	h.count(telemetry.MetricStrategySwitches, 1)
	return c.JSON(http.StatusOK, h.list(c))
}

func (h *Handler) ClearSearch(c echo.Context) error {
	if err := h.svc.ClearSearch(c.Request().Context()); err != nil {
		return httpError(err)
	}
	h.count(telemetry.MetricStrategySwitches, 1)
	return c.JSON(http.StatusOK, h.list(c))
}

func (h *Handler) ListDischarged(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}
	recs, stats, warnings, err := h.svc.LoadDischarged(c.Request().Context(), limit)
	if err != nil {
		return httpError(err)
	}
	h.count(telemetry.MetricHistoricalRecords, int64(stats.Records))
	h.count(telemetry.MetricBytesTransferred, stats.Bytes)
	h.count(telemetry.MetricJoinFailures, int64(len(warnings)))
	msgs := make([]string, 0, len(warnings))
	for _, w := range warnings {
		msgs = append(msgs, w.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"records":  recs,
		"stats":    stats,
		"warnings": msgs,
	})
}

func (h *Handler) Discharge(c echo.Context) error {
	err := h.svc.Discharge(c.Request().Context(), c.Param("uhid"), c.Param("id"))
	if err != nil {
		return h.fail(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "discharged"})
}

type undoRequest struct {
	Password string `json:"password"`
}

func (h *Handler) UndoDischarge(c echo.Context) error {
	var req undoRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	err := h.svc.UndoDischarge(c.Request().Context(), c.Param("uhid"), c.Param("id"), req.Password)
	if err != nil {
		return h.fail(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "active"})
}

// httpError maps domain sentinels and store failures onto HTTP statuses.
func httpError(err error) error {
	var se *store.StoreError
	switch {
	case errors.Is(err, ErrWrongPassword):
		return echo.NewHTTPError(http.StatusForbidden, "wrong password")
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNoAdmitDate):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, sync.ErrLoadInProgress):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.As(err, &se):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
