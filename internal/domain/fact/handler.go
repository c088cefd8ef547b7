package fact

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/ehr/cdw/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/patients/:num/facts", h.ListByPatient)
	api.DELETE("/uploads/:id/facts", h.DeleteUpload)
	api.DELETE("/sources/:cd/facts", h.DeleteSource)
}

func (h *Handler) ListByPatient(c echo.Context) error {
	num, err := strconv.Atoi(c.Param("num"))
	if err != nil || num <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient number")
	}
	pg := pagination.FromContext(c)

	facts, total, err := h.svc.ListByPatient(c.Request().Context(), num, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(facts, total, pg))
}

func (h *Handler) DeleteUpload(c echo.Context) error {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid upload id")
	}
	counts, err := h.svc.DeleteUpload(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, counts)
}

func (h *Handler) DeleteSource(c echo.Context) error {
	cd := c.Param("cd")
	if cd == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "sourcesystem is required")
	}
	counts, err := h.svc.DeleteSource(c.Request().Context(), cd)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, counts)
}
