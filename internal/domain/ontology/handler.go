package ontology

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/cdw/internal/graph"
	"github.com/ehr/cdw/internal/vocab"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/ontology", h.Get)
	api.GET("/ontology/children", h.Children)
	api.POST("/ontology/build", h.Build)
	api.POST("/ontology/publish", h.Publish)
}

func (h *Handler) Get(c echo.Context) error {
	res, ok := h.svc.Current()
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, ErrNotBuilt.Error())
	}
	return c.JSON(http.StatusOK, res)
}

// Build reads a metadata graph from the request body, as Turtle when the
// Content-Type is text/turtle and as N-Triples otherwise. ?root= restricts
// the build to one resource type.
func (h *Handler) Build(c echo.Context) error {
	req := c.Request()
	g, err := graph.Read(req.Body, graph.FormatForMediaType(req.Header.Get(echo.HeaderContentType)))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	var root *graph.Term
	if r := c.QueryParam("root"); r != "" {
		t := graph.IRI(vocab.FHIR + r)
		root = &t
	}

	res, err := h.svc.Build(g, root)
	if err != nil {
		if errors.Is(err, ErrEmptyMetadata) || errors.Is(err, ErrUnknownResource) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"entries":   len(res.Entries),
		"concepts":  len(res.Concepts),
		"modifiers": len(res.Modifiers),
	})
}

func (h *Handler) Publish(c echo.Context) error {
	out, err := h.svc.Publish(c.Request().Context())
	if err != nil {
		if errors.Is(err, ErrNotBuilt) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Children(c echo.Context) error {
	path := c.QueryParam("path")
	if path == "" {
		path = JoinPath(h.svc.builder.Root)
	}
	entries, err := h.svc.Children(c.Request().Context(), path)
	if err != nil {
		if errors.Is(err, ErrInvalidPath) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": entries, "total": len(entries)})
}
