package workerkit

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andyjessop/workerkit/ai"
	"github.com/andyjessop/workerkit/config"
	"github.com/andyjessop/workerkit/durable"
	"github.com/andyjessop/workerkit/router"
	"github.com/andyjessop/workerkit/workflow"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(`
name: test-worker
compatibility_date: "2025-03-07"
ai:
  binding: AI
durable_objects:
  bindings:
    - name: COUNTER
      class_name: Counter
workflows:
  - binding: ORDERS
    class_name: OrderWorkflow
`))
	require.NoError(t, err)
	return cfg
}

func TestNew_RequiresModelForAIBinding(t *testing.T) {
	_, err := New(testConfig(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no model was provided")
}

func TestNew_NilConfig(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestWorker_EndToEndWiring(t *testing.T) {
	model := ai.NewMockModel("test-model")
	model.AddResponse("hello", "world")

	w, err := New(testConfig(t), func(o *Options) { o.Model = model })
	require.NoError(t, err)

	// AI binding is live.
	res, err := w.AI().GenerateText(context.Background(), ai.GenerateParams{Prompt: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "world", res.Text)

	// Durable object classes register against their configured binding.
	require.NoError(t, w.RegisterDurableObject("Counter", func(state *durable.State) durable.Object {
		return durable.ObjectFunc(func(ctx context.Context, method string, payload []byte) (any, error) {
			return state.ID(), nil
		})
	}))
	ns, err := w.DurableObject("COUNTER")
	require.NoError(t, err)
	result, err := ns.Get("abc").Call(context.Background(), "whoami", nil)
	require.NoError(t, err)
	assert.Equal(t, "abc", result)

	// Workflows register against their configured binding.
	require.NoError(t, w.RegisterWorkflow("OrderWorkflow", func(c *workflow.Context) (any, error) {
		return "processed", nil
	}))
	run, err := w.Workflows().Create(context.Background(), "ORDERS", "", nil)
	require.NoError(t, err)
	output, err := run.Wait(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `"processed"`, string(output))

	assert.NotNil(t, w.App())
	assert.Equal(t, "test-worker", w.Config().Name)
}

func TestWorker_GenerateAndStreamRoutes(t *testing.T) {
	model := ai.NewMockModel("test-model")
	model.AddResponse("hello", "hello from the model")

	w, err := New(testConfig(t), func(o *Options) { o.Model = model })
	require.NoError(t, err)

	app := w.App()
	app.Post("/generate", func(c *fiber.Ctx) error {
		var req struct {
			Prompt string `json:"prompt"`
		}
		if err := router.DecodeJSON(c, &req); err != nil {
			return router.BadRequest(c, "malformed request body")
		}
		res, err := w.AI().GenerateText(c.Context(), ai.GenerateParams{Prompt: req.Prompt})
		if err != nil {
			return router.InternalError(c, err.Error())
		}
		return c.JSON(fiber.Map{"text": res.Text})
	})
	app.Post("/stream", func(c *fiber.Ctx) error {
		var req struct {
			Prompt string `json:"prompt"`
		}
		if err := router.DecodeJSON(c, &req); err != nil {
			return router.BadRequest(c, "malformed request body")
		}
		chunks, errCh := w.AI().StreamText(c.Context(), ai.GenerateParams{Prompt: req.Prompt})
		text := make(chan string, 32)
		go func() {
			defer close(text)
			for chunk := range chunks {
				text <- chunk.Text
			}
		}()
		return router.StreamText(c, text, errCh)
	})

	post := func(path string) *http.Response {
		req := httptest.NewRequest("POST", path, strings.NewReader(`{"prompt":"hello"}`))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		return resp
	}

	resp := post("/generate")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	var body struct {
		Text string `json:"text"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "hello from the model", body.Text)

	resp = post("/stream")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "identity", resp.Header.Get(fiber.HeaderContentEncoding))
	streamed, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	// Chunk concatenation equals the synchronous result.
	assert.Equal(t, body.Text, string(streamed))
}

func TestWorker_UnknownClassRegistration(t *testing.T) {
	w, err := New(testConfig(t), func(o *Options) { o.Model = ai.NewMockModel("m") })
	require.NoError(t, err)

	assert.Error(t, w.RegisterDurableObject("NotDeclared", func(state *durable.State) durable.Object {
		return durable.ObjectFunc(func(ctx context.Context, method string, payload []byte) (any, error) {
			return nil, nil
		})
	}))
	assert.Error(t, w.RegisterWorkflow("NotDeclared", func(c *workflow.Context) (any, error) {
		return nil, nil
	}))
}

func TestWorker_DuplicateRegistration(t *testing.T) {
	w, err := New(testConfig(t), func(o *Options) { o.Model = ai.NewMockModel("m") })
	require.NoError(t, err)

	factory := func(state *durable.State) durable.Object {
		return durable.ObjectFunc(func(ctx context.Context, method string, payload []byte) (any, error) {
			return nil, nil
		})
	}
	require.NoError(t, w.RegisterDurableObject("Counter", factory))
	assert.Error(t, w.RegisterDurableObject("Counter", factory))

	h := func(c *workflow.Context) (any, error) { return nil, nil }
	require.NoError(t, w.RegisterWorkflow("OrderWorkflow", h))
	assert.Error(t, w.RegisterWorkflow("OrderWorkflow", h))
}

func TestWorker_DurableObjectUnregisteredBinding(t *testing.T) {
	w, err := New(testConfig(t), func(o *Options) { o.Model = ai.NewMockModel("m") })
	require.NoError(t, err)

	_, err = w.DurableObject("COUNTER")
	assert.Error(t, err)
}
