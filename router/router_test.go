package router

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouting_MethodAndPath(t *testing.T) {
	app := New()
	app.Get("/ping", func(c *fiber.Ctx) error {
		return c.SendString("pong")
	})
	app.Post("/ping", func(c *fiber.Ctx) error {
		return c.SendString("posted")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/ping", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "pong", string(body))

	resp, err = app.Test(httptest.NewRequest("POST", "/ping", nil))
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	assert.Equal(t, "posted", string(body))
}

func TestRouting_NotFound(t *testing.T) {
	app := New()
	resp, err := app.Test(httptest.NewRequest("GET", "/nothing", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestRouting_FirstMatchWins(t *testing.T) {
	app := New()
	app.Get("/items/:id", func(c *fiber.Ctx) error {
		return c.SendString("param:" + c.Params("id"))
	})
	app.Get("/items/special", func(c *fiber.Ctx) error {
		return c.SendString("special")
	})

	// The earlier registration matches first.
	resp, err := app.Test(httptest.NewRequest("GET", "/items/special", nil))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "param:special", string(body))
}

func TestCORS_AppliedGlobally(t *testing.T) {
	app := New(func(o *Options) { o.AllowOrigins = "https://app.example.com" })
	app.Get("/data", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	req := httptest.NewRequest("GET", "/data", nil)
	req.Header.Set("Origin", "https://app.example.com")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, "https://app.example.com", resp.Header.Get(fiber.HeaderAccessControlAllowOrigin))

	// Preflight is answered before any handler executes.
	pre := httptest.NewRequest("OPTIONS", "/data", nil)
	pre.Header.Set("Origin", "https://app.example.com")
	pre.Header.Set(fiber.HeaderAccessControlRequestMethod, "GET")
	resp, err = app.Test(pre)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
}

func TestRequestID_Assigned(t *testing.T) {
	app := New()
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Header.Get(fiber.HeaderXRequestID))
}

func TestErrorHelpers(t *testing.T) {
	app := New()
	app.Get("/bad", func(c *fiber.Ctx) error {
		return BadRequest(c, "missing field: prompt")
	})
	app.Get("/boom", func(c *fiber.Ctx) error {
		return InternalError(c, "storage unavailable")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/bad", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	var body ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "missing field: prompt", body.Error)

	resp, err = app.Test(httptest.NewRequest("GET", "/boom", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}

func TestPanicRecovery(t *testing.T) {
	app := New()
	app.Get("/panic", func(c *fiber.Ctx) error {
		panic("handler bug")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/panic", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}

func TestDecodeJSON(t *testing.T) {
	app := New()
	app.Post("/echo", func(c *fiber.Ctx) error {
		var in struct {
			Prompt string `json:"prompt"`
		}
		if err := DecodeJSON(c, &in); err != nil {
			return BadRequest(c, "invalid body")
		}
		return c.JSON(fiber.Map{"prompt": in.Prompt})
	})

	req := httptest.NewRequest("POST", "/echo", strings.NewReader(`{"prompt":"hi"}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	req = httptest.NewRequest("POST", "/echo", strings.NewReader(`not json`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestStreamText(t *testing.T) {
	app := New()
	app.Get("/stream", func(c *fiber.Ctx) error {
		chunks := make(chan string, 3)
		errCh := make(chan error, 1)
		chunks <- "hello "
		chunks <- "streaming "
		chunks <- "world"
		close(chunks)
		close(errCh)
		return StreamText(c, chunks, errCh)
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/stream", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get(fiber.HeaderContentType), "text/plain")
	assert.Equal(t, "identity", resp.Header.Get(fiber.HeaderContentEncoding))
	// net/http surfaces Transfer-Encoding on the response struct, not in Header.
	assert.Contains(t, resp.TransferEncoding, "chunked")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello streaming world", string(body))
}

func TestStream_CustomContentType(t *testing.T) {
	app := New()
	app.Get("/events", func(c *fiber.Ctx) error {
		return Stream(c, "application/x-ndjson", func(w *bufio.Writer) error {
			if _, err := w.WriteString(`{"n":1}` + "\n"); err != nil {
				return err
			}
			return w.Flush()
		})
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/events", nil))
	require.NoError(t, err)
	assert.Equal(t, "application/x-ndjson", resp.Header.Get(fiber.HeaderContentType))
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, `{"n":1}`+"\n", string(body))
}

