package appointment

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/infisparks/medfordhrms-sub002/internal/platform/store"
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

func (h *Handler) fail(err error) error {
	var se *store.StoreError
	if errors.As(err, &se) {
		h.count(telemetry.MetricStoreWriteFailures, 1)
	}
	return httpError(err)
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/appointments", h.ListAppointments)
	api.GET("/appointments/doctors", h.DoctorCounts)
	api.POST("/appointments", h.Register)
	api.POST("/appointments/search", h.SetSearch)
	api.DELETE("/appointments/search", h.ClearSearch)
	api.DELETE("/appointments/:partition/:uhid/:id", h.Cancel)
}

type listResponse struct {
	Records      []Appointment  `json:"records"`
	Total        int            `json:"total"`
	Limit        int            `json:"limit"`
	Offset       int            `json:"offset"`
	DoctorCounts map[string]int `json:"doctorCounts"`
	Strategy     string         `json:"strategy"`
	Degraded     bool           `json:"degraded"`
}

func (h *Handler) list(c echo.Context) listResponse {
	p := pagination.FromContext(c)
	all := h.svc.Appointments()
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

func (h *Handler) ListAppointments(c echo.Context) error {
	return c.JSON(http.StatusOK, h.list(c))
}

// DoctorCounts returns the per-doctor appointment totals for the live list.
func (h *Handler) DoctorCounts(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"doctorCounts": h.svc.DoctorCounts(),
		"strategy":     h.svc.Strategy().String(),
	})
}

func (h *Handler) Register(c echo.Context) error {
	var a Appointment
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out, err := h.svc.Register(c.Request().Context(), a)
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

func (h *Handler) Cancel(c echo.Context) error {
	err := h.svc.Cancel(c.Request().Context(), c.Param("partition"), c.Param("uhid"), c.Param("id"))
	if err != nil {
		return h.fail(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func httpError(err error) error {
	var se *store.StoreError
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.As(err, &se):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
