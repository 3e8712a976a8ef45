package routes

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/abie0416/BiegeAI/internal/server/middleware"
	"github.com/abie0416/BiegeAI/pkg/common"
	"github.com/abie0416/BiegeAI/pkg/graph"

	"github.com/labstack/echo/v4"
)

type graphErrorResponse struct {
	Message string `json:"message"`
}

func graphError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, common.ErrGraphNotBuilt):
		return c.JSON(http.StatusNotFound, graphErrorResponse{Message: "Graph not built"})
	case errors.Is(err, graph.ErrUnknownNode):
		return c.JSON(http.StatusNotFound, graphErrorResponse{Message: err.Error()})
	default:
		return c.JSON(http.StatusInternalServerError, graphErrorResponse{Message: "Internal server error"})
	}
}

// GetStatsHandler returns statistics of the active graph.
func GetStatsHandler(c echo.Context) error {
	stats, err := c.(*middleware.AppContext).App.Knowledge.Statistics()
	if err != nil {
		return graphError(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

// GetExploreHandler samples entities and edges of the active graph. The
// sample size comes from the limit query parameter.
func GetExploreHandler(c echo.Context) error {
	limit := 10
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 1000 {
			return c.JSON(http.StatusBadRequest, graphErrorResponse{Message: "Invalid limit"})
		}
		limit = parsed
	}

	ex, err := c.(*middleware.AppContext).App.Knowledge.Explore(limit)
	if err != nil {
		return graphError(c, err)
	}
	return c.JSON(http.StatusOK, ex)
}

// GetEntityHandler lists the relationships of one entity.
func GetEntityHandler(c echo.Context) error {
	type entityResponse struct {
		Label         string        `json:"label"`
		Relationships []common.Edge `json:"relationships"`
	}

	label := c.Param("label")
	edges, err := c.(*middleware.AppContext).App.Knowledge.EntityRelationships(label)
	if err != nil {
		return graphError(c, err)
	}
	if edges == nil {
		edges = []common.Edge{}
	}
	return c.JSON(http.StatusOK, entityResponse{Label: label, Relationships: edges})
}
