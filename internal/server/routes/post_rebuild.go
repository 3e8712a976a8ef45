package routes

import (
	"errors"
	"net/http"

	"github.com/abie0416/BiegeAI/internal/knowledge"
	"github.com/abie0416/BiegeAI/internal/queue"
	"github.com/abie0416/BiegeAI/internal/server/middleware"
	"github.com/abie0416/BiegeAI/pkg/common"
	"github.com/abie0416/BiegeAI/pkg/logger"
	"github.com/abie0416/BiegeAI/pkg/persist"

	"github.com/labstack/echo/v4"
)

// RebuildHandler rebuilds the graph in process and returns the build
// report. Only one rebuild runs at a time; concurrent requests get 409.
func RebuildHandler(c echo.Context) error {
	ctx := c.Request().Context()
	svc := c.(*middleware.AppContext).App.Knowledge

	report, err := svc.Rebuild(ctx)
	if errors.Is(err, common.ErrBuildInProgress) {
		return c.JSON(http.StatusConflict, report)
	}
	if err != nil {
		logger.Error("[Server] Rebuild failed", "err", err)
		return c.JSON(http.StatusInternalServerError, report)
	}
	return c.JSON(http.StatusOK, report)
}

// EnqueueRebuildHandler hands a rebuild request to the worker.
func EnqueueRebuildHandler(c echo.Context) error {
	type enqueueResponse struct {
		Message string `json:"message"`
	}

	ch := c.(*middleware.AppContext).App.Queue
	if ch == nil {
		return c.JSON(http.StatusServiceUnavailable, enqueueResponse{Message: "Queue not configured"})
	}
	if err := queue.EnqueueRebuild(ch, "requested via api"); err != nil {
		logger.Error("[Server] Failed to enqueue rebuild", "err", err)
		return c.JSON(http.StatusInternalServerError, enqueueResponse{Message: "Internal server error"})
	}
	return c.JSON(http.StatusAccepted, enqueueResponse{Message: "Rebuild queued"})
}

// ReloadHandler replaces the active graph with the persisted snapshot.
func ReloadHandler(c echo.Context) error {
	type reloadResponse struct {
		Message string             `json:"message"`
		Stats   *common.GraphStats `json:"stats,omitempty"`
	}

	ctx := c.Request().Context()
	stats, err := c.(*middleware.AppContext).App.Knowledge.Restore(ctx)
	switch {
	case errors.Is(err, knowledge.ErrNoBlobStore):
		return c.JSON(http.StatusBadRequest, reloadResponse{Message: "Persistence not configured"})
	case errors.Is(err, persist.ErrNotFound):
		return c.JSON(http.StatusNotFound, reloadResponse{Message: "No persisted graph"})
	case err != nil:
		logger.Error("[Server] Reload failed", "err", err)
		return c.JSON(http.StatusInternalServerError, reloadResponse{Message: "Internal server error"})
	}
	return c.JSON(http.StatusOK, reloadResponse{Message: "Graph reloaded", Stats: &stats})
}
