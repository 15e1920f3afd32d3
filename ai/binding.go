package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/andyjessop/workerkit/internal/util"
	"github.com/andyjessop/workerkit/logging"
	"github.com/andyjessop/workerkit/tool"
)

// ErrToolRoundsExceeded is returned when a generation requires more tool
// invocation rounds than the configured bound allows. The bound guarantees
// termination of the model <-> tool feedback loop.
var ErrToolRoundsExceeded = errors.New("ai: tool invocation round limit exceeded")

// SchemaError reports a structured output that violated the caller supplied
// response schema. It is recoverable: callers surface it as a validation
// failure rather than coercing or retrying silently.
type SchemaError struct {
	Raw   string // Raw model output that failed validation
	Cause error  // Decode or validation failure
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("ai: structured output violates response schema: %v", e.Cause)
}

func (e *SchemaError) Unwrap() error { return e.Cause }

// Options configures a Binding.
type Options struct {
	// MaxToolRounds bounds the number of model <-> tool feedback rounds per
	// generation. Exceeding the bound abandons the request with
	// ErrToolRoundsExceeded.
	MaxToolRounds int

	// MaxParallelTools limits concurrent tool executions within one round.
	// 0 or negative means one goroutine per call.
	MaxParallelTools int

	// Logger receives structured generation and tool execution logs.
	Logger logging.Logger
}

// Binding wraps a Model with the high-level invocation helpers an application
// reaches through its environment: synchronous generation, incremental
// streaming and schema constrained structured output.
type Binding struct {
	model Model
	opts  Options
}

// NewBinding constructs a Binding around a model with optional overrides.
func NewBinding(m Model, optFns ...func(o *Options)) *Binding {
	opts := Options{
		MaxToolRounds: 5,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Binding{model: m, opts: opts}
}

// Model returns the underlying model implementation.
func (b *Binding) Model() Model { return b.model }

// GenerateParams describe a single generation request.
type GenerateParams struct {
	// Instructions are system-level instructions prepended to the conversation.
	Instructions string

	// Prompt is appended to Messages as a user message when non-empty.
	Prompt string

	// Messages is prior conversation history, oldest first.
	Messages []Message

	// Tools are the named capabilities the model may request during this
	// generation. Tool execution errors are fed back as observations.
	Tools []tool.Tool

	// Schema optionally constrains the shape of the model's structured
	// output. Violations surface as *SchemaError.
	Schema map[string]any

	// MaxToolRounds overrides the binding's round bound when > 0.
	MaxToolRounds int
}

// GenerateResult is the terminal outcome of a generation.
type GenerateResult struct {
	Text     string         // Final assistant text
	Object   map[string]any // Decoded structured output (GenerateObject only)
	Rounds   int            // Number of tool rounds consumed
	Usage    TokenUsage     // Accumulated token usage across rounds
	Messages []Message      // Full transcript including tool turns
}

// TextChunk is one incrementally delivered fragment of a streamed generation.
type TextChunk struct {
	Text string `json:"text"`
}

// GenerateText performs a synchronous generation: the caller awaits the
// complete result. Tool calls requested by the model are executed and fed
// back until the model produces a terminal answer or the round bound is hit.
func (b *Binding) GenerateText(ctx context.Context, p GenerateParams) (*GenerateResult, error) {
	return b.run(ctx, p, nil)
}

// StreamText performs an incremental generation: text fragments are delivered
// on the returned channel as the model produces them, so callers can begin
// responding before generation completes. The chunk channel is closed when
// generation ends; a terminal failure is delivered on the error channel.
func (b *Binding) StreamText(ctx context.Context, p GenerateParams) (<-chan TextChunk, <-chan error) {
	chunks := make(chan TextChunk, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errCh)
		_, err := b.run(ctx, p, func(c TextChunk) bool {
			select {
			case <-ctx.Done():
				return false
			case chunks <- c:
				return true
			}
		})
		if err != nil {
			errCh <- err
		}
	}()

	return chunks, errCh
}

// GenerateObject performs a synchronous generation constrained by a JSON
// schema. The model's final text must decode to a JSON object satisfying the
// schema; a violation returns *SchemaError and is never silently coerced.
func (b *Binding) GenerateObject(ctx context.Context, p GenerateParams) (*GenerateResult, error) {
	if p.Schema == nil {
		return nil, fmt.Errorf("ai: GenerateObject requires a schema")
	}

	res, err := b.run(ctx, p, nil)
	if err != nil {
		return nil, err
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(res.Text), &obj); err != nil {
		return nil, &SchemaError{Raw: res.Text, Cause: fmt.Errorf("output is not a JSON object: %w", err)}
	}
	if err := util.ValidateObject(obj, p.Schema); err != nil {
		return nil, &SchemaError{Raw: res.Text, Cause: err}
	}

	res.Object = obj
	return res, nil
}

// run drives the model turn loop: each round issues one model request, relays
// partial text to emit (when streaming) and executes any requested tool calls
// before the next round. A nil emit means buffered (non-streaming) mode.
func (b *Binding) run(ctx context.Context, p GenerateParams, emit func(TextChunk) bool) (*GenerateResult, error) {
	maxRounds := b.opts.MaxToolRounds
	if p.MaxToolRounds > 0 {
		maxRounds = p.MaxToolRounds
	}

	registry := make(map[string]tool.Tool, len(p.Tools))
	defs := make([]ToolDefinition, 0, len(p.Tools))
	for _, t := range p.Tools {
		registry[t.Name()] = t
		defs = append(defs, ToolDefinition{
			Type: "function",
			Function: FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}

	messages := make([]Message, 0, len(p.Messages)+2)
	messages = append(messages, p.Messages...)
	if p.Prompt != "" {
		messages = append(messages, UserMessage(p.Prompt))
	}

	result := &GenerateResult{}

	for round := 0; ; round++ {
		req := Request{
			Instructions:   p.Instructions,
			Messages:       messages,
			Tools:          defs,
			ResponseSchema: p.Schema,
			Stream:         emit != nil,
		}

		final, err := b.drainTurn(ctx, req, emit, result)
		if err != nil {
			return nil, err
		}

		messages = append(messages, final.Message)

		calls := final.Message.FunctionCalls()
		if len(calls) == 0 {
			result.Text = final.Message.Text()
			result.Messages = messages
			return result, nil
		}

		if round >= maxRounds {
			b.opts.Logger.Error("ai.generate.rounds_exceeded", "max_rounds", maxRounds)
			return nil, ErrToolRoundsExceeded
		}
		result.Rounds++

		responses := b.executeToolCalls(ctx, registry, calls)
		messages = append(messages, Message{Role: "tool", Parts: responses})
	}
}

// drainTurn consumes one model turn, forwarding partial text chunks and
// returning the terminal response of the turn.
func (b *Binding) drainTurn(ctx context.Context, req Request, emit func(TextChunk) bool, result *GenerateResult) (*Response, error) {
	respCh, errCh := b.model.Generate(ctx, req)

	var final *Response
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case resp, ok := <-respCh:
			if !ok {
				if final == nil {
					// Channel closed without a terminal response: surface the
					// provider error if one is pending.
					select {
					case err, ok := <-errCh:
						if ok && err != nil {
							return nil, err
						}
					default:
					}
					return nil, fmt.Errorf("ai: model closed stream without a final response")
				}
				return final, nil
			}
			if resp.Usage != nil {
				result.Usage.PromptTokens += resp.Usage.PromptTokens
				result.Usage.CompletionTokens += resp.Usage.CompletionTokens
				result.Usage.TotalTokens += resp.Usage.TotalTokens
			}
			if resp.Partial {
				if emit != nil {
					if text := resp.Message.Text(); text != "" {
						if !emit(TextChunk{Text: text}) {
							return nil, ctx.Err()
						}
					}
				}
				continue
			}
			r := resp
			final = &r

		case err, ok := <-errCh:
			if ok && err != nil {
				return nil, err
			}
		}
	}
}

// executeToolCalls runs the batch of requested tool calls, possibly in
// parallel, and returns one FunctionResponsePart per call in input order.
// Individual failures become error observations rather than aborting the run.
func (b *Binding) executeToolCalls(ctx context.Context, registry map[string]tool.Tool, calls []FunctionCall) []Part {
	n := len(calls)
	parts := make([]Part, n)

	maxPar := b.opts.MaxParallelTools
	if maxPar <= 0 || maxPar > n {
		maxPar = n
	}
	sem := make(chan struct{}, maxPar)

	var wg sync.WaitGroup
	for i := range calls {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int, fc FunctionCall) {
			defer wg.Done()
			defer func() { <-sem }()
			parts[idx] = FunctionResponsePart{FunctionResponse: b.executeOne(ctx, registry, fc)}
		}(i, calls[i])
	}
	wg.Wait()

	return parts
}

// executeOne matches, validates and executes a single tool call with panic
// safety, producing the observation fed back to the model.
func (b *Binding) executeOne(ctx context.Context, registry map[string]tool.Tool, fc FunctionCall) FunctionResponse {
	resp := FunctionResponse{ID: fc.ID, Name: fc.Name}

	t, ok := registry[fc.Name]
	if !ok {
		b.opts.Logger.Warn("ai.tool.unknown", "tool", fc.Name, "fc_id", fc.ID)
		resp.Error = fmt.Sprintf("unknown tool %q", fc.Name)
		return resp
	}

	args := map[string]any{}
	if fc.Arguments != "" {
		if err := json.Unmarshal([]byte(fc.Arguments), &args); err != nil {
			resp.Error = fmt.Sprintf("malformed tool arguments: %v", err)
			return resp
		}
	}

	toolCtx := tool.NewContext(ctx, b.opts.Logger, fc.ID)

	start := time.Now()
	var (
		result any
		err    error
	)
	func() { // panic safety
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("tool panicked: %v", r)
				b.opts.Logger.Error("ai.tool.panic", "tool", fc.Name, "recover", r)
			}
		}()
		result, err = t.Call(toolCtx, args)
	}()

	b.opts.Logger.Info(
		"ai.tool.executed",
		"tool", fc.Name,
		"duration_ms", time.Since(start).Milliseconds(),
		"error", err != nil,
	)

	if err != nil {
		resp.Error = err.Error()
		return resp
	}
	resp.Response = result
	return resp
}
