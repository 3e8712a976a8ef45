package routes

import (
	"errors"
	"net/http"

	"github.com/abie0416/BiegeAI/internal/server/middleware"
	"github.com/abie0416/BiegeAI/pkg/common"
	"github.com/abie0416/BiegeAI/pkg/logger"
	"github.com/abie0416/BiegeAI/pkg/search"

	"github.com/labstack/echo/v4"
)

// DefaultK is the number of results returned when a query does not ask for
// a specific count.
const DefaultK = 5

// SearchHandler runs a hybrid search against the active graph. A missing
// graph yields a degraded, empty response rather than an error.
func SearchHandler(c echo.Context) error {
	type searchBody struct {
		Query string `json:"query" validate:"required"`
		K     int    `json:"k" validate:"omitempty,min=1,max=100"`
		Trace bool   `json:"trace"`
	}

	type tracedResponse struct {
		common.SearchResponse
		Trace search.QueryTraceSnapshot `json:"trace"`
	}

	type errorResponse struct {
		Message string `json:"message"`
	}

	data := new(searchBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Message: "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Message: "Invalid request body"})
	}
	if data.K == 0 {
		data.K = DefaultK
	}

	ctx := c.Request().Context()
	svc := c.(*middleware.AppContext).App.Knowledge
	var trace *search.QueryTrace
	var resp common.SearchResponse
	var err error
	if data.Trace {
		trace = search.NewQueryTrace()
		resp, err = svc.SearchTraced(ctx, data.Query, data.K, trace)
	} else {
		resp, err = svc.Search(ctx, data.Query, data.K)
	}
	if errors.Is(err, common.ErrInvalidConfig) {
		return c.JSON(http.StatusBadRequest, errorResponse{Message: err.Error()})
	}
	if err != nil {
		logger.Error("[Server] Search failed", "err", err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Message: "Internal server error"})
	}
	if trace != nil {
		snapshot := trace.Snapshot()
		logger.Debug("[Server] Search trace",
			"seed_nodes", len(snapshot.SeedNodes),
			"expanded_nodes", len(snapshot.ExpandedNodes),
			"used_chunks", len(snapshot.UsedChunks),
		)
		return c.JSON(http.StatusOK, tracedResponse{SearchResponse: resp, Trace: snapshot})
	}
	return c.JSON(http.StatusOK, resp)
}
