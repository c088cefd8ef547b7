package mapping

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type Handler struct {
	svc     *Service
	project string
}

func NewHandler(svc *Service, project string) *Handler {
	return &Handler{svc: svc, project: project}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/mappings/:kind", h.NumberFor)
	api.GET("/mappings/:kind/stats", h.Stats)
	api.POST("/mappings/:kind/refresh", h.Refresh)
}

type numberResponse struct {
	Kind    Kind   `json:"kind"`
	ID      string `json:"id"`
	Source  string `json:"source"`
	Project string `json:"project_id"`
	Key     int    `json:"key"`
	Existed bool   `json:"existed"`
}

// NumberFor looks up or assigns the surrogate key for ?id=&source=[&project=].
// With lookup=true an unknown key is reported as 404 instead of assigned.
func (h *Handler) NumberFor(c echo.Context) error {
	kind, err := ParseKind(c.Param("kind"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	project := c.QueryParam("project")
	if project == "" {
		project = h.project
	}
	id, source := c.QueryParam("id"), c.QueryParam("source")

	if c.QueryParam("lookup") == "true" {
		n, ok, err := h.svc.Lookup(kind, id, source, project)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		if !ok {
			return echo.NewHTTPError(http.StatusNotFound, "no mapping for "+id+" in "+source)
		}
		return c.JSON(http.StatusOK, numberResponse{
			Kind: kind, ID: id, Source: source, Project: project, Key: n, Existed: true,
		})
	}

	n, existed, err := h.svc.NumberFor(kind, id, source, project)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, numberResponse{
		Kind: kind, ID: id, Source: source, Project: project, Key: n, Existed: existed,
	})
}

func (h *Handler) Refresh(c echo.Context) error {
	kind, err := ParseKind(c.Param("kind"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	next, err := h.svc.Refresh(c.Request().Context(), kind, nil)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"kind": kind, "next": next})
}

func (h *Handler) Stats(c echo.Context) error {
	kind, err := ParseKind(c.Param("kind"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	stats, err := h.svc.Stats(kind)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, stats)
}
