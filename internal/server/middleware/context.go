package middleware

import (
	"github.com/abie0416/BiegeAI/internal/knowledge"
	"github.com/abie0416/BiegeAI/internal/queue"

	"github.com/labstack/echo/v4"
)

// App holds the dependencies every handler shares. Queue is nil when no
// broker is configured.
type App struct {
	Knowledge *knowledge.Service
	Queue     queue.Channel
}

type AppContext struct {
	echo.Context
	App *App
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app}
			return next(cc)
		}
	}
}
