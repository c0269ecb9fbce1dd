package api

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const uploadLimit = 64 << 20

// New builds the fiber app with middleware and every route registered.
func New(d Deps) *fiber.App {
	h := NewHandler(d)
	app := fiber.New(fiber.Config{
		AppName:               "sme-plug",
		BodyLimit:             uploadLimit,
		DisableStartupMessage: true,
		ErrorHandler:          h.errorHandler,
	})
	app.Use(recover.New())
	app.Use(requestid.New(requestid.Config{Generator: uuid.NewString}))
	app.Use(cors.New())
	app.Use(accessLog(h.log))
	RegisterRoutes(app, h)
	return app
}

// RegisterRoutes регистрирует маршруты API
func RegisterRoutes(app *fiber.App, h *Handler) {
	app.Get("/health", h.Health)
	app.Get("/models", h.ListModels)
	app.Post("/ingest", h.IngestPDF)

	api := app.Group("/api")
	api.Get("/health", h.Health)
	api.Get("/domains", h.Domains)
	api.Post("/ask-expert", h.AskExpert)
	api.Post("/ask-base", h.AskBase)
	api.Post("/ask-persona", h.AskPersona)
	api.Get("/role-rules/:role", h.RoleRules)
	api.Post("/analyze-hallucination", h.AnalyzeHallucination)
}

func requestID(c *fiber.Ctx) string {
	id, _ := c.Locals("requestid").(string)
	return id
}

// errorHandler renders fiber errors and recovered panics as JSON.
func (h *Handler) errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := msgBackendFailed
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code, msg = fe.Code, fe.Message
	} else {
		h.log.Error("unhandled error", zap.String("request_id", requestID(c)), zap.Error(err))
	}
	return errorJSON(c, code, msg)
}

func accessLog(log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		status := c.Response().StatusCode()
		if err != nil {
			var fe *fiber.Error
			status = fiber.StatusInternalServerError
			if errors.As(err, &fe) {
				status = fe.Code
			}
		}
		log.Info("request",
			zap.String("request_id", requestID(c)),
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Duration("took", time.Since(start)))
		return err
	}
}
