// Package api exposes the tracker, channel and peer services over HTTP.
package api

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/peder1981/p2p-chat/internal/errs"
	"github.com/peder1981/p2p-chat/internal/logging"
)

// Options are shared by every service app.
type Options struct {
	Logger logging.Logger
	// Metrics mounts the Prometheus handler on /metrics.
	Metrics bool
}

func (o Options) logger() logging.Logger {
	if o.Logger == nil {
		return logging.NewNopLogger()
	}
	return o.Logger
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Status  string `json:"status"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// StatusResponse acknowledges a successful command.
type StatusResponse struct {
	Status string `json:"status"`
}

func newApp(service string, opts Options) *fiber.App {
	logger := opts.logger().With("module", "api", "service", service)
	started := time.Now()

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})
	app.Use(recover.New())
	app.Use(cors.New())
	app.Use(loggerMiddleware(logger))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"service": service,
			"uptime":  time.Since(started).Round(time.Second).String(),
		})
	})
	if opts.Metrics {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	}
	return app
}

// errorHandler renders errors returned by handlers.
func errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(ErrorResponse{Status: "error", Error: "http", Message: fe.Message})
	}
	return writeError(c, err)
}

func writeError(c *fiber.Ctx, err error) error {
	kind := errs.Kind(err)
	if errs.Retryable(err) {
		c.Set(fiber.HeaderRetryAfter, "5")
	}
	return c.Status(statusCode(kind)).JSON(ErrorResponse{Status: "error", Error: kind, Message: err.Error()})
}

func statusCode(kind string) int {
	switch kind {
	case "invalid":
		return fiber.StatusBadRequest
	case "not-found":
		return fiber.StatusNotFound
	case "conflict", "not-connected":
		return fiber.StatusConflict
	case "unavailable":
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Status: "error", Error: "invalid", Message: message})
}

func loggerMiddleware(logger logging.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		logger.Debug("request",
			"method", c.Method(),
			"path", c.Path(),
			"status", c.Response().StatusCode(),
			"took", time.Since(start),
		)
		return err
	}
}
