// Package router provides the HTTP front-end conventions of workerkit over
// Fiber: per (method, path) handler registration with first-match-wins
// dispatch, a global CORS policy applied before any handler executes, panic
// recovery, request IDs and JSON request/response helpers including chunked
// streaming responses.
package router

import (
	"bufio"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"github.com/andyjessop/workerkit/logging"
)

// Options configures construction of the Fiber app.
type Options struct {
	// AppName labels the application in logs and the Fiber banner.
	AppName string

	// AllowOrigins is the CORS allow-list ("*" permits any origin).
	AllowOrigins string

	// AllowMethods lists the methods the CORS policy permits.
	AllowMethods string

	// AllowHeaders lists the request headers the CORS policy permits.
	AllowHeaders string

	// Timeouts for the underlying server.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Logger receives request lifecycle logs.
	Logger logging.Logger
}

// New builds a Fiber app carrying the baseline middleware stack: request IDs,
// panic recovery and the global CORS pre-processing policy. Handlers
// registered on the returned app are dispatched per (method, path) pair with
// first-match-wins semantics; request bodies are readable exactly once.
func New(optFns ...func(o *Options)) *fiber.App {
	opts := Options{
		AppName:      "workerkit",
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	app := fiber.New(fiber.Config{
		AppName:               opts.AppName,
		ReadTimeout:           opts.ReadTimeout,
		WriteTimeout:          opts.WriteTimeout,
		IdleTimeout:           opts.IdleTimeout,
		DisableStartupMessage: true,
	})

	// Baseline middleware. CORS runs before any handler so cross-origin
	// requests are permitted (or rejected) by the global policy alone.
	app.Use(requestid.New())
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: opts.AllowOrigins,
		AllowMethods: opts.AllowMethods,
		AllowHeaders: opts.AllowHeaders,
	}))

	logger := opts.Logger
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		logger.Info(
			"http.request",
			"method", c.Method(),
			"path", c.Path(),
			"status", c.Response().StatusCode(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", c.Locals(requestid.ConfigDefault.ContextKey),
		)
		return err
	})

	return app
}

// ErrorResponse is the structured error body returned for failed requests.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Error writes a structured error response with the given status code.
func Error(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(ErrorResponse{Error: msg})
}

// BadRequest writes a 400 response with a descriptive message. Validation
// failures (malformed bodies, schema mismatches) are recovered locally and
// surfaced this way rather than as server errors.
func BadRequest(c *fiber.Ctx, msg string) error {
	return Error(c, fiber.StatusBadRequest, msg)
}

// InternalError writes a 500 response.
func InternalError(c *fiber.Ctx, msg string) error {
	return Error(c, fiber.StatusInternalServerError, msg)
}

// DecodeJSON parses the request body into out. The body is a non-rewindable
// stream: call this at most once per request.
func DecodeJSON(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return err
	}
	return nil
}

// Stream writes an incrementally produced response. Headers promise chunked
// transfer with identity encoding, so intermediaries do not buffer or
// compress, and the first byte reaches the client before production
// completes. The writer is flushed after every chunk fn emits.
func Stream(c *fiber.Ctx, contentType string, fn func(w *bufio.Writer) error) error {
	c.Set(fiber.HeaderContentType, contentType)
	c.Set(fiber.HeaderTransferEncoding, "chunked")
	c.Set(fiber.HeaderContentEncoding, "identity")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		_ = fn(w)
	})
	return nil
}

// StreamText streams text chunks from a channel until it closes, flushing
// after each chunk. A terminal error after streaming began cannot change the
// response status; it simply ends the body.
func StreamText(c *fiber.Ctx, chunks <-chan string, errCh <-chan error) error {
	return Stream(c, "text/plain; charset=utf-8", func(w *bufio.Writer) error {
		for chunk := range chunks {
			if _, err := w.WriteString(chunk); err != nil {
				return err
			}
			if err := w.Flush(); err != nil {
				return err
			}
		}
		select {
		case err := <-errCh:
			return err
		default:
			return nil
		}
	})
}
