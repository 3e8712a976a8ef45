package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/abie0416/BiegeAI/internal/knowledge"
	"github.com/abie0416/BiegeAI/internal/queue"
	mid "github.com/abie0416/BiegeAI/internal/server/middleware"
	"github.com/abie0416/BiegeAI/internal/util"
	"github.com/abie0416/BiegeAI/pkg/logger"

	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

// New creates the echo instance serving app.
func New(app *mid.App) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &CustomValidator{validator: validator.New()}

	e.Use(mid.AppContextMiddleware(app))
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))

	RegisterRoutes(e)
	return e
}

func Init() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := knowledge.LoadConfig()
	client, err := knowledge.NewAIClient(cfg)
	if err != nil {
		logger.Fatal("Failed to create AI client", "err", err)
	}
	svc, cleanup, err := knowledge.Setup(ctx, cfg, client)
	if err != nil {
		logger.Fatal("Failed to set up knowledge service", "err", err)
	}
	defer cleanup()
	svc.Start(ctx)

	app := &mid.App{Knowledge: svc}
	if util.GetEnv("RABBITMQ_HOST") != "" {
		que := queue.Init()
		defer que.Close()
		ch, err := que.Channel()
		if err != nil {
			logger.Fatal("Failed to open channel", "err", err)
		}
		if err := queue.SetupQueues(ch, []string{queue.RebuildQueue}); err != nil {
			logger.Fatal("Failed to set up queues", "err", err)
		}
		app.Queue = ch

		subCh, err := que.Channel()
		if err != nil {
			logger.Fatal("Failed to open subscriber channel", "err", err)
		}
		rebuilt, err := queue.SubscribeTopic(subCh, queue.GraphRebuiltTopic)
		if err != nil {
			logger.Fatal("Failed to subscribe", "topic", queue.GraphRebuiltTopic, "err", err)
		}
		go func() {
			for msg := range rebuilt {
				if err := queue.ProcessRebuiltMessage(ctx, svc, msg.Body); err != nil {
					logger.Error("Failed to reload rebuilt graph", "err", err)
				}
			}
		}()
	}

	e := New(app)

	go func() {
		port := util.GetEnvString("PORT", "8080")
		logger.Info("Starting server", "port", port)
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
}
