package server

import (
	"github.com/abie0416/BiegeAI/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	apiRoutes := e.Group("/api")

	// Search routes
	apiRoutes.POST("/search", routes.SearchHandler)

	// Graph routes
	apiRoutes.GET("/stats", routes.GetStatsHandler)
	apiRoutes.GET("/graph/explore", routes.GetExploreHandler)
	apiRoutes.GET("/graph/entities/:label", routes.GetEntityHandler)

	// Build routes
	apiRoutes.POST("/rebuild", routes.RebuildHandler)
	apiRoutes.POST("/rebuild/enqueue", routes.EnqueueRebuildHandler)
	apiRoutes.POST("/reload", routes.ReloadHandler)
}
