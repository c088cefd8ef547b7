package loader

import (
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/ehr/cdw/internal/domain/fact"
	"github.com/ehr/cdw/internal/graph/fhirjson"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/facts", h.Load)
}

type converted struct {
	Resource string      `json:"resource"`
	Facts    []fact.Fact `json:"facts,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// Load accepts a resource or a Bundle. With ?dry_run=true the facts are
// returned instead of stored.
func (h *Handler) Load(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read body")
	}
	resources, err := fhirjson.Parse(body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if dry, _ := strconv.ParseBool(c.QueryParam("dry_run")); dry {
		out := make([]converted, 0, len(resources))
		for _, r := range resources {
			item := converted{Resource: r.Type + "/" + r.ID}
			facts, err := h.svc.Convert(r)
			if err != nil {
				item.Error = err.Error()
			} else {
				item.Facts = facts
			}
			out = append(out, item)
		}
		return c.JSON(http.StatusOK, map[string]interface{}{"data": out, "total": len(out)})
	}

	stats, err := h.svc.LoadResources(c.Request().Context(), resources)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, stats)
}
